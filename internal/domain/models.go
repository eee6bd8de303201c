package domain

import (
	"encoding/json"
	"time"
)

// BucketKind names one rolling aggregate window. The "last_*" kinds (and
// yesterday) are frozen snapshots taken at rollover and are never incremented
// directly.
type BucketKind string

const (
	BucketToday           BucketKind = "today"
	BucketYesterday       BucketKind = "yesterday"
	BucketThisWeek        BucketKind = "this_week"
	BucketLastWeek        BucketKind = "last_week"
	BucketThisMonth       BucketKind = "this_month"
	BucketLastMonth       BucketKind = "last_month"
	BucketRollingSixMonth BucketKind = "rolling_6_month"
	BucketThisYear        BucketKind = "this_year"
	BucketLastYear        BucketKind = "last_year"
)

// OpenBucketKinds are the kinds whose windows contain "now" and which
// transactions are applied to.
var OpenBucketKinds = []BucketKind{
	BucketToday,
	BucketThisWeek,
	BucketThisMonth,
	BucketRollingSixMonth,
	BucketThisYear,
}

// FrozenCounterpart returns the snapshot kind filled when the given open
// bucket rolls over, or "" if the kind has none (rolling_6_month shifts
// instead of freezing).
func FrozenCounterpart(kind BucketKind) BucketKind {
	switch kind {
	case BucketToday:
		return BucketYesterday
	case BucketThisWeek:
		return BucketLastWeek
	case BucketThisMonth:
		return BucketLastMonth
	case BucketThisYear:
		return BucketLastYear
	default:
		return ""
	}
}

// Bucket is a time-windowed running aggregate of sale amount and count for one
// machine. Windows are half-open [WindowStart, WindowEnd). SubAmounts and
// SubCounts are only populated for the rolling 6-month bucket: one entry per
// trailing month, oldest first, always exactly six entries.
type Bucket struct {
	Kind             BucketKind `json:"kind"`
	WindowStart      time.Time  `json:"window_start"`
	WindowEnd        time.Time  `json:"window_end"`
	AmountCents      int64      `json:"amount_cents"`
	TransactionCount int64      `json:"transaction_count"`
	SubAmounts       []int64    `json:"sub_amounts,omitempty"`
	SubCounts        []int64    `json:"sub_counts,omitempty"`
}

// Clone returns a deep copy of the bucket.
func (b Bucket) Clone() Bucket {
	out := b
	if b.SubAmounts != nil {
		out.SubAmounts = append([]int64(nil), b.SubAmounts...)
	}
	if b.SubCounts != nil {
		out.SubCounts = append([]int64(nil), b.SubCounts...)
	}
	return out
}

// Contains reports whether ts falls inside the bucket window.
func (b Bucket) Contains(ts time.Time) bool {
	return !ts.Before(b.WindowStart) && ts.Before(b.WindowEnd)
}

// TransactionRecord is a normalized settled sale, independent of the Nayax
// wire format. Amounts are integer minor units (cents) so that sums stay
// exact. A record is immutable once constructed; the transaction id is the
// unit of deduplication and aggregation.
type TransactionRecord struct {
	TransactionID   string          `json:"transaction_id"`
	MachineID       string          `json:"machine_id"`
	AmountCents     int64           `json:"amount_cents"`
	Currency        string          `json:"currency"`
	ProductName     string          `json:"product_name"`
	PaymentMethod   string          `json:"payment_method"`
	SettledAt       time.Time       `json:"settled_at"`
	SettlementCents int64           `json:"settlement_cents"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// Successful reports whether the vendor confirmed the sale completed.
// Settlement values of zero or less are failed authorizations or non-sales.
func (t TransactionRecord) Successful() bool {
	return t.SettlementCents > 0
}

// DedupEntry records that a transaction id has been processed for a machine.
type DedupEntry struct {
	MachineID     string    `json:"machine_id"`
	TransactionID string    `json:"transaction_id"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
}

// Machine is a vending machine known from discovery.
type Machine struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	SiteName     string          `json:"site_name,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	DiscoveredAt time.Time       `json:"discovered_at"`
	LastSeenAt   time.Time       `json:"last_seen_at"`
}

// MachineState is the durable per-machine processing state: the bucket set,
// the last sale, and the poll bookkeeping. The dedup entry set is persisted
// alongside it but carried separately because it only ever grows
// incrementally.
type MachineState struct {
	MachineID  string                 `json:"machine_id"`
	LastPollAt time.Time              `json:"last_poll_at"`
	LastError  string                 `json:"last_error,omitempty"`
	Suspended  bool                   `json:"suspended"`
	Buckets    map[BucketKind]*Bucket `json:"buckets"`
	LastSale   *TransactionRecord     `json:"last_sale,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// Clone returns a deep copy of the state.
func (s MachineState) Clone() MachineState {
	out := s
	if s.Buckets != nil {
		out.Buckets = make(map[BucketKind]*Bucket, len(s.Buckets))
		for kind, b := range s.Buckets {
			clone := b.Clone()
			out.Buckets[kind] = &clone
		}
	}
	if s.LastSale != nil {
		sale := *s.LastSale
		out.LastSale = &sale
	}
	return out
}

// MachineStatus is the operator-facing poll status of one machine.
type MachineStatus struct {
	MachineID  string    `json:"machine_id"`
	Name       string    `json:"name"`
	Phase      string    `json:"phase"`
	Suspended  bool      `json:"suspended"`
	LastPollAt time.Time `json:"last_poll_at"`
	LastError  string    `json:"last_error,omitempty"`
}

// MachineSnapshot is the operator-facing view of one machine's buckets.
type MachineSnapshot struct {
	MachineID   string   `json:"machine_id"`
	Name        string   `json:"name"`
	GeneratedAt string   `json:"generated_at"`
	Buckets     []Bucket `json:"buckets"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// Weekday name constants accepted by configuration.
var weekdayNames = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// ParseWeekday maps a lowercase weekday name to time.Weekday.
func ParseWeekday(name string) (time.Weekday, bool) {
	day, ok := weekdayNames[name]
	return day, ok
}
