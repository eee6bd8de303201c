// Package emitter delivers one notification per newly-settled sale. Delivery
// is fire-and-forget: the engine logs failures and never retries, so a
// notification is "delivered" once Emit returns.
package emitter

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
)

// SaleEvent is the wire form of a sale notification.
type SaleEvent struct {
	EventID       string          `json:"event_id"`
	MachineID     string          `json:"machine_id"`
	MachineName   string          `json:"machine_name"`
	TransactionID string          `json:"transaction_id"`
	AmountCents   int64           `json:"amount_cents"`
	Currency      string          `json:"currency"`
	ProductName   string          `json:"product_name"`
	PaymentMethod string          `json:"payment_method"`
	SettledAt     time.Time       `json:"settled_at"`
	EmittedAt     time.Time       `json:"emitted_at"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// Emitter is the narrow contract the poll engine notifies through.
type Emitter interface {
	Emit(ctx context.Context, machine domain.Machine, rec domain.TransactionRecord, includeRaw bool) error
}

// NewSaleEvent builds the event payload for a transaction.
func NewSaleEvent(machine domain.Machine, rec domain.TransactionRecord, includeRaw bool) SaleEvent {
	event := SaleEvent{
		EventID:       uuid.NewString(),
		MachineID:     machine.ID,
		MachineName:   machine.Name,
		TransactionID: rec.TransactionID,
		AmountCents:   rec.AmountCents,
		Currency:      rec.Currency,
		ProductName:   rec.ProductName,
		PaymentMethod: rec.PaymentMethod,
		SettledAt:     rec.SettledAt,
		EmittedAt:     time.Now().UTC(),
	}
	if includeRaw {
		event.Raw = rec.Raw
	}
	return event
}

// LogEmitter writes sale events to the log. It is the fallback transport
// when Redis is not configured.
type LogEmitter struct {
	log zerolog.Logger
}

func NewLogEmitter(log zerolog.Logger) *LogEmitter {
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(_ context.Context, machine domain.Machine, rec domain.TransactionRecord, includeRaw bool) error {
	event := NewSaleEvent(machine, rec, includeRaw)
	e.log.Info().
		Str("event_id", event.EventID).
		Str("machine_id", event.MachineID).
		Str("machine_name", event.MachineName).
		Str("transaction_id", event.TransactionID).
		Int64("amount_cents", event.AmountCents).
		Str("currency", event.Currency).
		Str("product", event.ProductName).
		Msg("sale")
	return nil
}
