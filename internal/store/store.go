package store

import (
	"context"
	"errors"
	"time"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
)

var ErrNotFound = errors.New("not found")

// StateUpdate is the atomic per-machine persistence unit: the machine's
// state, the dedup entries first seen since the previous save, and an
// optional prune cutoff. Implementations must commit all three together so a
// crash mid-save cannot leave the bucket totals inconsistent with the dedup
// set.
type StateUpdate struct {
	State            domain.MachineState
	NewDedup         []domain.DedupEntry
	PruneDedupBefore time.Time
}

// Repository is the durable home of machine registrations, processing state,
// and dedup entries. Records are partitioned by machine id; writes for
// different machines never touch each other's rows.
type Repository interface {
	UpsertMachine(ctx context.Context, machine domain.Machine) error
	ListMachines(ctx context.Context) ([]domain.Machine, error)
	LoadMachineState(ctx context.Context, machineID string) (*domain.MachineState, []domain.DedupEntry, error)
	SaveMachineState(ctx context.Context, update StateUpdate) error
}
