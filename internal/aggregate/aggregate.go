// Package aggregate maintains the per-machine bucket totals: applying settled
// transactions to every open window containing them and rolling windows
// forward at boundary instants.
package aggregate

import (
	"time"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
	"github.com/alpenava/home-assistant-nayax/internal/period"
)

const rollingMonths = 6

// Book holds the bucket set for one machine. Like the dedup index it has a
// single writer (the machine's poll cycle) and needs no locking of its own.
type Book struct {
	calc    *period.Calculator
	buckets map[domain.BucketKind]*domain.Bucket
}

// NewBook creates an empty book. Buckets are created lazily on first use.
func NewBook(calc *period.Calculator) *Book {
	return &Book{calc: calc, buckets: make(map[domain.BucketKind]*domain.Bucket)}
}

// Restore rebuilds a book from persisted buckets, verbatim. Windows and
// totals are taken as stored; the next Rollover call advances anything stale.
func Restore(calc *period.Calculator, buckets map[domain.BucketKind]*domain.Bucket) *Book {
	book := NewBook(calc)
	for kind, b := range buckets {
		clone := b.Clone()
		book.buckets[kind] = &clone
	}
	return book
}

// EnsureOpen creates any missing open buckets with windows anchored at now.
// Existing buckets are left untouched, stale windows included; Rollover owns
// advancing them.
func (b *Book) EnsureOpen(now time.Time) {
	for _, kind := range domain.OpenBucketKinds {
		if _, ok := b.buckets[kind]; ok {
			continue
		}
		start, end, ok := b.calc.WindowFor(kind, now)
		if !ok {
			continue
		}
		bucket := &domain.Bucket{Kind: kind, WindowStart: start, WindowEnd: end}
		if kind == domain.BucketRollingSixMonth {
			bucket.SubAmounts = make([]int64, rollingMonths)
			bucket.SubCounts = make([]int64, rollingMonths)
		}
		b.buckets[kind] = bucket
	}
}

// Apply attributes the transaction amount to every open bucket whose window
// contains its settlement instant. A single transaction normally lands in
// several buckets at once (today, this_week, this_month, rolling, this_year).
// Transactions outside all open windows are not aggregated anywhere; the
// caller still deduplicates and notifies them. Returns the number of buckets
// updated.
func (b *Book) Apply(rec domain.TransactionRecord) int {
	applied := 0
	for _, kind := range domain.OpenBucketKinds {
		bucket, ok := b.buckets[kind]
		if !ok || !bucket.Contains(rec.SettledAt) {
			continue
		}
		if kind == domain.BucketRollingSixMonth {
			idx := b.calc.MonthIndex(rec.SettledAt) - b.calc.MonthIndex(bucket.WindowStart)
			if idx < 0 || idx >= len(bucket.SubAmounts) {
				continue
			}
			bucket.SubAmounts[idx] += rec.AmountCents
			bucket.SubCounts[idx]++
		}
		bucket.AmountCents += rec.AmountCents
		bucket.TransactionCount++
		applied++
	}
	return applied
}

// Rollover advances every open bucket whose window has ended by now. Calendar
// buckets freeze their final state into the matching snapshot kind and reset
// to zero in the new window; the rolling 6-month bucket shifts its monthly
// sub-totals instead. Returns the kinds that rolled.
func (b *Book) Rollover(now time.Time) []domain.BucketKind {
	var rolled []domain.BucketKind
	for _, kind := range domain.OpenBucketKinds {
		bucket, ok := b.buckets[kind]
		if !ok || now.Before(bucket.WindowEnd) {
			continue
		}
		if kind == domain.BucketRollingSixMonth {
			b.shiftRolling(bucket, now)
		} else {
			b.advanceCalendar(kind, bucket, now)
		}
		rolled = append(rolled, kind)
	}
	return rolled
}

// advanceCalendar freezes the outgoing window into its snapshot kind and
// resets the bucket for the window containing now. The snapshot carries real
// totals only when the outgoing window is immediately adjacent to the new
// one; after a longer gap (process down across two or more boundaries) the
// old totals belong to an earlier period and the snapshot is zeroed for the
// directly-previous window instead.
func (b *Book) advanceCalendar(kind domain.BucketKind, bucket *domain.Bucket, now time.Time) {
	newStart, newEnd, _ := b.calc.WindowFor(kind, now)

	if frozen := domain.FrozenCounterpart(kind); frozen != "" {
		snapshot := bucket.Clone()
		snapshot.Kind = frozen
		if !bucket.WindowEnd.Equal(newStart) {
			prevStart, prevEnd, _ := b.calc.WindowFor(kind, newStart.Add(-time.Nanosecond))
			snapshot = domain.Bucket{Kind: frozen, WindowStart: prevStart, WindowEnd: prevEnd}
		}
		b.buckets[frozen] = &snapshot
	}

	bucket.WindowStart = newStart
	bucket.WindowEnd = newEnd
	bucket.AmountCents = 0
	bucket.TransactionCount = 0
}

// shiftRolling slides the 6-month window forward to the one containing now,
// dropping the oldest monthly sub-totals and appending zeroed months, then
// recomputes the bucket totals as the sum of the six that remain.
func (b *Book) shiftRolling(bucket *domain.Bucket, now time.Time) {
	newStart, newEnd, _ := b.calc.WindowFor(domain.BucketRollingSixMonth, now)
	shift := b.calc.MonthIndex(newStart) - b.calc.MonthIndex(bucket.WindowStart)
	if shift <= 0 {
		return
	}

	if len(bucket.SubAmounts) != rollingMonths {
		bucket.SubAmounts = make([]int64, rollingMonths)
		bucket.SubCounts = make([]int64, rollingMonths)
	}
	if shift >= rollingMonths {
		bucket.SubAmounts = make([]int64, rollingMonths)
		bucket.SubCounts = make([]int64, rollingMonths)
	} else {
		bucket.SubAmounts = append(bucket.SubAmounts[shift:], make([]int64, shift)...)
		bucket.SubCounts = append(bucket.SubCounts[shift:], make([]int64, shift)...)
	}

	bucket.WindowStart = newStart
	bucket.WindowEnd = newEnd
	bucket.AmountCents = 0
	bucket.TransactionCount = 0
	for i := range bucket.SubAmounts {
		bucket.AmountCents += bucket.SubAmounts[i]
		bucket.TransactionCount += bucket.SubCounts[i]
	}
}

// Buckets exposes the live bucket map for persistence.
func (b *Book) Buckets() map[domain.BucketKind]*domain.Bucket {
	return b.buckets
}

// Snapshot returns deep copies of all buckets, for the operator API.
func (b *Book) Snapshot() map[domain.BucketKind]domain.Bucket {
	out := make(map[domain.BucketKind]domain.Bucket, len(b.buckets))
	for kind, bucket := range b.buckets {
		out[kind] = bucket.Clone()
	}
	return out
}

// Total returns the amount and count for one bucket kind.
func (b *Book) Total(kind domain.BucketKind) (amountCents int64, count int64) {
	bucket, ok := b.buckets[kind]
	if !ok {
		return 0, 0
	}
	return bucket.AmountCents, bucket.TransactionCount
}
