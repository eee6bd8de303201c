// Package postgres is the durable Repository backed by PostgreSQL via the
// pgx stdlib driver. Each SaveMachineState commits the state row, the bucket
// rows, and the dedup delta in a single serializable transaction so restart
// recovery always sees the two consistent with each other.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
	"github.com/alpenava/home-assistant-nayax/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) UpsertMachine(ctx context.Context, machine domain.Machine) error {
	if machine.LastSeenAt.IsZero() {
		machine.LastSeenAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO machines (id, name, site_name, raw, discovered_at, last_seen_at)
		VALUES ($1,$2,$3,$4,now(),$5)
		ON CONFLICT (id)
		DO UPDATE SET name = EXCLUDED.name, site_name = EXCLUDED.site_name,
			raw = EXCLUDED.raw, last_seen_at = EXCLUDED.last_seen_at
	`, machine.ID, machine.Name, machine.SiteName, nullJSON(machine.Raw), machine.LastSeenAt)
	return err
}

func (s *Store) ListMachines(ctx context.Context) ([]domain.Machine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, site_name, raw, discovered_at, last_seen_at
		FROM machines
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	machines := make([]domain.Machine, 0, 16)
	for rows.Next() {
		var m domain.Machine
		var raw []byte
		if err := rows.Scan(&m.ID, &m.Name, &m.SiteName, &raw, &m.DiscoveredAt, &m.LastSeenAt); err != nil {
			return nil, err
		}
		m.Raw = raw
		m.DiscoveredAt = m.DiscoveredAt.UTC()
		m.LastSeenAt = m.LastSeenAt.UTC()
		machines = append(machines, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return machines, nil
}

func (s *Store) LoadMachineState(ctx context.Context, machineID string) (*domain.MachineState, []domain.DedupEntry, error) {
	var state domain.MachineState
	var lastPoll sql.NullTime
	var lastSale []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT machine_id, last_poll_at, last_error, suspended, last_sale, updated_at
		FROM machine_states
		WHERE machine_id = $1
	`, machineID).Scan(&state.MachineID, &lastPoll, &state.LastError, &state.Suspended, &lastSale, &state.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, store.ErrNotFound
		}
		return nil, nil, err
	}
	if lastPoll.Valid {
		state.LastPollAt = lastPoll.Time.UTC()
	}
	state.UpdatedAt = state.UpdatedAt.UTC()
	if len(lastSale) > 0 {
		var sale domain.TransactionRecord
		if err := json.Unmarshal(lastSale, &sale); err == nil {
			state.LastSale = &sale
		}
	}

	buckets, err := s.loadBuckets(ctx, machineID)
	if err != nil {
		return nil, nil, err
	}
	state.Buckets = buckets

	entries, err := s.loadDedup(ctx, machineID)
	if err != nil {
		return nil, nil, err
	}

	return &state, entries, nil
}

func (s *Store) loadBuckets(ctx context.Context, machineID string) (map[domain.BucketKind]*domain.Bucket, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, window_start, window_end, amount_cents, transaction_count, sub_amounts, sub_counts
		FROM buckets
		WHERE machine_id = $1
	`, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make(map[domain.BucketKind]*domain.Bucket, 9)
	for rows.Next() {
		var b domain.Bucket
		var subAmounts, subCounts []byte
		if err := rows.Scan(&b.Kind, &b.WindowStart, &b.WindowEnd, &b.AmountCents, &b.TransactionCount, &subAmounts, &subCounts); err != nil {
			return nil, err
		}
		b.WindowStart = b.WindowStart.UTC()
		b.WindowEnd = b.WindowEnd.UTC()
		if len(subAmounts) > 0 {
			if err := json.Unmarshal(subAmounts, &b.SubAmounts); err != nil {
				return nil, err
			}
		}
		if len(subCounts) > 0 {
			if err := json.Unmarshal(subCounts, &b.SubCounts); err != nil {
				return nil, err
			}
		}
		bucket := b
		buckets[b.Kind] = &bucket
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return buckets, nil
}

func (s *Store) loadDedup(ctx context.Context, machineID string) ([]domain.DedupEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, first_seen_at
		FROM dedup_entries
		WHERE machine_id = $1
	`, machineID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.DedupEntry, 0, 256)
	for rows.Next() {
		entry := domain.DedupEntry{MachineID: machineID}
		if err := rows.Scan(&entry.TransactionID, &entry.FirstSeenAt); err != nil {
			return nil, err
		}
		entry.FirstSeenAt = entry.FirstSeenAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) SaveMachineState(ctx context.Context, update store.StateUpdate) error {
	state := update.State

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var lastSale []byte
	if state.LastSale != nil {
		lastSale, err = json.Marshal(state.LastSale)
		if err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO machine_states (machine_id, last_poll_at, last_error, suspended, last_sale, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (machine_id)
		DO UPDATE SET last_poll_at = EXCLUDED.last_poll_at, last_error = EXCLUDED.last_error,
			suspended = EXCLUDED.suspended, last_sale = EXCLUDED.last_sale, updated_at = now()
	`, state.MachineID, nullTime(state.LastPollAt), state.LastError, state.Suspended, nullJSON(lastSale))
	if err != nil {
		return err
	}

	for _, bucket := range state.Buckets {
		var subAmounts, subCounts []byte
		if bucket.SubAmounts != nil {
			if subAmounts, err = json.Marshal(bucket.SubAmounts); err != nil {
				return err
			}
		}
		if bucket.SubCounts != nil {
			if subCounts, err = json.Marshal(bucket.SubCounts); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO buckets (machine_id, kind, window_start, window_end, amount_cents, transaction_count, sub_amounts, sub_counts, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now())
			ON CONFLICT (machine_id, kind)
			DO UPDATE SET window_start = EXCLUDED.window_start, window_end = EXCLUDED.window_end,
				amount_cents = EXCLUDED.amount_cents, transaction_count = EXCLUDED.transaction_count,
				sub_amounts = EXCLUDED.sub_amounts, sub_counts = EXCLUDED.sub_counts, updated_at = now()
		`, state.MachineID, bucket.Kind, bucket.WindowStart, bucket.WindowEnd, bucket.AmountCents, bucket.TransactionCount, nullJSON(subAmounts), nullJSON(subCounts))
		if err != nil {
			return err
		}
	}

	for _, entry := range update.NewDedup {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dedup_entries (machine_id, transaction_id, first_seen_at)
			VALUES ($1,$2,$3)
			ON CONFLICT (machine_id, transaction_id) DO NOTHING
		`, state.MachineID, entry.TransactionID, entry.FirstSeenAt)
		if err != nil {
			return err
		}
	}

	if !update.PruneDedupBefore.IsZero() {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM dedup_entries
			WHERE machine_id = $1 AND first_seen_at < $2
		`, state.MachineID, update.PruneDedupBefore)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
