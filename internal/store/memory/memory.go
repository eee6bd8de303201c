// Package memory is the in-memory Repository used by tests and by dev runs
// without DATABASE_URL. It mirrors the postgres store's semantics, including
// the all-or-nothing SaveMachineState.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
	"github.com/alpenava/home-assistant-nayax/internal/store"
)

type Store struct {
	mu       sync.RWMutex
	machines map[string]domain.Machine
	states   map[string]domain.MachineState
	dedup    map[string]map[string]time.Time
}

func New() *Store {
	return &Store{
		machines: make(map[string]domain.Machine),
		states:   make(map[string]domain.MachineState),
		dedup:    make(map[string]map[string]time.Time),
	}
}

func (s *Store) UpsertMachine(_ context.Context, machine domain.Machine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.machines[machine.ID]
	if ok {
		machine.DiscoveredAt = existing.DiscoveredAt
	} else if machine.DiscoveredAt.IsZero() {
		machine.DiscoveredAt = time.Now().UTC()
	}
	s.machines[machine.ID] = machine
	return nil
}

func (s *Store) ListMachines(_ context.Context) ([]domain.Machine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	machines := make([]domain.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		machines = append(machines, m)
	}
	sort.Slice(machines, func(i, j int) bool {
		return machines[i].ID < machines[j].ID
	})
	return machines, nil
}

func (s *Store) LoadMachineState(_ context.Context, machineID string) (*domain.MachineState, []domain.DedupEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[machineID]
	if !ok {
		return nil, nil, store.ErrNotFound
	}

	clone := state.Clone()
	entries := make([]domain.DedupEntry, 0, len(s.dedup[machineID]))
	for txID, at := range s.dedup[machineID] {
		entries = append(entries, domain.DedupEntry{
			MachineID:     machineID,
			TransactionID: txID,
			FirstSeenAt:   at,
		})
	}
	return &clone, entries, nil
}

func (s *Store) SaveMachineState(_ context.Context, update store.StateUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := update.State.Clone()
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}
	s.states[state.MachineID] = state

	entries := s.dedup[state.MachineID]
	if entries == nil {
		entries = make(map[string]time.Time)
		s.dedup[state.MachineID] = entries
	}
	for _, e := range update.NewDedup {
		if _, seen := entries[e.TransactionID]; !seen {
			entries[e.TransactionID] = e.FirstSeenAt
		}
	}
	if !update.PruneDedupBefore.IsZero() {
		for txID, at := range entries {
			if at.Before(update.PruneDedupBefore) {
				delete(entries, txID)
			}
		}
	}
	return nil
}
