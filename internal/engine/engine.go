// Package engine runs the per-machine poll cycle: fetch recent sales, filter
// out duplicates and failed authorizations, fold new sales into the period
// buckets, emit exactly one notification per sale, and roll bucket windows
// over at boundary instants.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/alpenava/home-assistant-nayax/internal/aggregate"
	"github.com/alpenava/home-assistant-nayax/internal/dedup"
	"github.com/alpenava/home-assistant-nayax/internal/domain"
	"github.com/alpenava/home-assistant-nayax/internal/emitter"
	"github.com/alpenava/home-assistant-nayax/internal/nayax"
	"github.com/alpenava/home-assistant-nayax/internal/period"
	"github.com/alpenava/home-assistant-nayax/internal/store"
	"github.com/alpenava/home-assistant-nayax/internal/xid"
)

// Poll cycle phases, surfaced through the operator API.
const (
	PhaseIdle        = "idle"
	PhaseFetching    = "fetching"
	PhaseFiltering   = "filtering"
	PhaseApplying    = "applying"
	PhaseRollingOver = "rolling_over"
	PhaseErrored     = "errored"
	PhaseSuspended   = "suspended"
)

var ErrUnknownMachine = errors.New("unknown machine")

// SalesAPI is the external vendor-API collaborator.
type SalesAPI interface {
	Machines(ctx context.Context) ([]domain.Machine, error)
	LastSales(ctx context.Context, machineID string) ([]nayax.RawSale, error)
}

// Config tunes the engine. Zero values fall back to the documented defaults.
type Config struct {
	PollInterval       time.Duration
	DiscoveryInterval  time.Duration
	DedupRetention     time.Duration
	IncludeRaw         bool
	MaxPersistFailures int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.DiscoveryInterval <= 0 {
		c.DiscoveryInterval = 5 * time.Minute
	}
	if c.DedupRetention <= 0 {
		c.DedupRetention = 430 * 24 * time.Hour
	}
	if c.MaxPersistFailures <= 0 {
		c.MaxPersistFailures = 5
	}
	return c
}

// Engine owns one runtime per discovered machine. All mutable state is scoped
// to a machine runtime; there are no process-wide singletons.
type Engine struct {
	api     SalesAPI
	repo    store.Repository
	emitter emitter.Emitter
	calc    *period.Calculator
	cfg     Config
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	machines map[string]*machineRuntime
}

// machineRuntime is the in-memory working state for one machine. Its mutex
// guarantees that at most one poll cycle runs per machine; cycles for
// different machines run concurrently.
type machineRuntime struct {
	mu sync.Mutex

	machine domain.Machine
	state   domain.MachineState
	dedup   *dedup.Index
	book    *aggregate.Book

	phase           string
	persistFailures int
	retryAt         time.Time
}

func New(api SalesAPI, repo store.Repository, em emitter.Emitter, calc *period.Calculator, cfg Config, log zerolog.Logger) *Engine {
	return &Engine{
		api:      api,
		repo:     repo,
		emitter:  em,
		calc:     calc,
		cfg:      cfg.withDefaults(),
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
		machines: make(map[string]*machineRuntime),
	}
}

// SetNow replaces the engine clock, for tests.
func (e *Engine) SetNow(now func() time.Time) {
	e.now = now
}

// Bootstrap restores runtimes for every machine already known to the
// repository, so a restart picks up persisted buckets and dedup sets before
// the first poll.
func (e *Engine) Bootstrap(ctx context.Context) error {
	machines, err := e.repo.ListMachines(ctx)
	if err != nil {
		return fmt.Errorf("list machines: %w", err)
	}
	for _, m := range machines {
		if _, err := e.ensureRuntime(ctx, m); err != nil {
			return err
		}
	}
	e.log.Info().Int("machines", len(machines)).Msg("restored machine state")
	return nil
}

// Discover fetches the machine list and registers anything new. Machines
// missing from the response keep their state and buckets; vending machines
// go offline all the time.
func (e *Engine) Discover(ctx context.Context) error {
	machines, err := e.api.Machines(ctx)
	if err != nil {
		return fmt.Errorf("discover machines: %w", err)
	}

	now := e.now()
	listed := make(map[string]bool, len(machines))
	for _, m := range machines {
		listed[m.ID] = true
		m.LastSeenAt = now
		if err := e.repo.UpsertMachine(ctx, m); err != nil {
			return fmt.Errorf("register machine %s: %w", m.ID, err)
		}
		created, err := e.ensureRuntime(ctx, m)
		if err != nil {
			return err
		}
		if created {
			e.log.Info().Str("machine_id", m.ID).Str("name", m.Name).Msg("new machine discovered")
		}
	}

	e.mu.RLock()
	for id, rt := range e.machines {
		if !listed[id] {
			e.log.Info().Str("machine_id", id).Str("name", rt.machine.Name).Msg("machine no longer listed, keeping state")
		}
	}
	e.mu.RUnlock()

	return nil
}

// ensureRuntime returns true when a runtime was newly created.
func (e *Engine) ensureRuntime(ctx context.Context, m domain.Machine) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if rt, ok := e.machines[m.ID]; ok {
		rt.mu.Lock()
		rt.machine = m
		rt.mu.Unlock()
		return false, nil
	}

	state, entries, err := e.repo.LoadMachineState(ctx, m.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("load machine state %s: %w", m.ID, err)
	}

	rt := &machineRuntime{machine: m, phase: PhaseIdle}
	if state != nil {
		rt.state = *state
		rt.book = aggregate.Restore(e.calc, state.Buckets)
	} else {
		rt.state = domain.MachineState{MachineID: m.ID}
		rt.book = aggregate.NewBook(e.calc)
	}
	rt.dedup = dedup.NewIndex(m.ID, entries)
	if rt.state.Suspended {
		rt.phase = PhaseSuspended
	}
	e.machines[m.ID] = rt
	return true, nil
}

// Run drives the shared poll and discovery tickers until ctx is cancelled,
// then waits for in-flight cycles to finish. Each machine's cycle runs to
// completion before its next tick; a tick arriving while the previous cycle
// is still running is skipped for that machine.
func (e *Engine) Run(ctx context.Context) error {
	pollTicker := time.NewTicker(e.cfg.PollInterval)
	defer pollTicker.Stop()
	discoveryTicker := time.NewTicker(e.cfg.DiscoveryInterval)
	defer discoveryTicker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case <-pollTicker.C:
			for _, rt := range e.runtimes() {
				if !rt.mu.TryLock() {
					continue
				}
				wg.Add(1)
				go func(rt *machineRuntime) {
					defer wg.Done()
					defer rt.mu.Unlock()
					if err := e.runCycle(ctx, rt); err != nil && !errors.Is(err, context.Canceled) {
						e.log.Warn().Str("machine_id", rt.machine.ID).Err(err).Msg("poll cycle failed")
					}
				}(rt)
			}
		case <-discoveryTicker.C:
			if err := e.Discover(ctx); err != nil {
				e.log.Warn().Err(err).Msg("machine discovery failed")
			}
		}
	}
}

// PollMachine runs one full poll cycle for a machine, synchronously.
func (e *Engine) PollMachine(ctx context.Context, machineID string) error {
	rt := e.runtime(machineID)
	if rt == nil {
		return fmt.Errorf("%w: %s", ErrUnknownMachine, machineID)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return e.runCycle(ctx, rt)
}

// PollAll runs one cycle for every known machine, sequentially. Used by
// tests and the first tick after startup.
func (e *Engine) PollAll(ctx context.Context) {
	for _, rt := range e.runtimes() {
		rt.mu.Lock()
		if err := e.runCycle(ctx, rt); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Warn().Str("machine_id", rt.machine.ID).Err(err).Msg("poll cycle failed")
		}
		rt.mu.Unlock()
	}
}

// runCycle executes Fetching → RollingOver → Filtering → Applying for one
// machine. The caller holds rt.mu.
func (e *Engine) runCycle(ctx context.Context, rt *machineRuntime) error {
	now := e.now()
	log := e.log.With().Str("machine_id", rt.machine.ID).Str("cycle", xid.New("cycle")).Logger()

	if rt.state.Suspended {
		e.setPhase(rt, PhaseSuspended)
		return nil
	}
	if !rt.retryAt.IsZero() && now.Before(rt.retryAt) {
		// Backing off after a persistence failure.
		return nil
	}

	// Saves run on a cancellation-immune context: once a transaction is
	// marked seen it must become durable even if shutdown started mid-batch.
	persistCtx := context.WithoutCancel(ctx)

	e.setPhase(rt, PhaseFetching)
	sales, err := e.api.LastSales(ctx, rt.machine.ID)
	if err != nil {
		if nayax.IsPermanent(err) {
			rt.state.Suspended = true
			rt.state.LastError = err.Error()
			e.setPhase(rt, PhaseSuspended)
			log.Error().Err(err).Msg("permanent fetch error, suspending machine until reconfigured")
			if perr := e.persist(persistCtx, rt, now, time.Time{}); perr != nil {
				log.Warn().Err(perr).Msg("failed to persist suspension")
			}
			return err
		}
		e.setPhase(rt, PhaseErrored)
		rt.state.LastError = err.Error()
		log.Warn().Err(err).Msg("transient fetch error, retrying next tick")
		return err
	}

	// Windows must be current before transactions are attributed: a sale
	// settled just after a boundary would otherwise be checked against the
	// closed window, missed, and then zeroed away by the rollover.
	e.setPhase(rt, PhaseRollingOver)
	rt.book.EnsureOpen(now)
	if rolled := rt.book.Rollover(now); len(rolled) > 0 {
		log.Info().Interface("buckets", rolled).Msg("bucket rollover")
	}

	e.setPhase(rt, PhaseFiltering)
	fresh := make([]domain.TransactionRecord, 0, len(sales))
	for _, sale := range sales {
		rec, err := nayax.Normalize(rt.machine.ID, sale)
		if err != nil {
			log.Warn().Err(err).Msg("skipping malformed sale record")
			continue
		}
		if !rec.Successful() {
			continue
		}
		if !rt.dedup.IsNew(rec.TransactionID) {
			continue
		}
		fresh = append(fresh, rec)
	}

	e.setPhase(rt, PhaseApplying)
	for _, rec := range fresh {
		if ctx.Err() != nil {
			// Cancelled between transactions: everything applied so far is
			// already durable, the rest waits for the next run.
			e.setPhase(rt, PhaseIdle)
			return ctx.Err()
		}
		rt.book.Apply(rec)
		rt.dedup.MarkSeen(rec.TransactionID, now)
		if rt.state.LastSale == nil || rec.SettledAt.After(rt.state.LastSale.SettledAt) {
			sale := rec
			rt.state.LastSale = &sale
		}
		// The dedup mark must be durable before the notification goes out:
		// a crash in between drops the notification but never duplicates it.
		if err := e.persist(persistCtx, rt, now, time.Time{}); err != nil {
			e.setPhase(rt, PhaseIdle)
			return err
		}
		if err := e.emitter.Emit(ctx, rt.machine, rec, e.cfg.IncludeRaw); err != nil {
			log.Warn().Str("transaction_id", rec.TransactionID).Err(err).Msg("notification failed")
		}
		log.Info().
			Str("transaction_id", rec.TransactionID).
			Int64("amount_cents", rec.AmountCents).
			Str("currency", rec.Currency).
			Str("product", rec.ProductName).
			Msg("new sale")
	}

	pruneBefore := now.Add(-e.cfg.DedupRetention)
	if pruned := rt.dedup.Prune(pruneBefore); pruned > 0 {
		log.Info().Int("pruned", pruned).Msg("pruned old dedup entries")
	}

	rt.state.LastPollAt = now
	rt.state.LastError = ""
	err = e.persist(persistCtx, rt, now, pruneBefore)
	e.setPhase(rt, PhaseIdle)
	return err
}

// persist writes the machine's state, pending dedup entries, and optional
// prune cutoff as one atomic update. Repeated failures put the machine into
// backoff and eventually suspend it: proceeding with unpersisted state would
// risk double counting after a crash.
func (e *Engine) persist(ctx context.Context, rt *machineRuntime, now time.Time, pruneBefore time.Time) error {
	rt.state.Buckets = rt.book.Buckets()
	rt.state.UpdatedAt = now
	update := store.StateUpdate{
		State:            rt.state,
		NewDedup:         rt.dedup.Pending(),
		PruneDedupBefore: pruneBefore,
	}
	if err := e.repo.SaveMachineState(ctx, update); err != nil {
		rt.persistFailures++
		backoff := e.cfg.PollInterval * time.Duration(1<<min(rt.persistFailures, 5))
		rt.retryAt = now.Add(backoff)
		if rt.persistFailures >= e.cfg.MaxPersistFailures {
			rt.state.Suspended = true
			rt.state.LastError = "persistence failing: " + err.Error()
			e.log.Error().Str("machine_id", rt.machine.ID).Err(err).Msg("halting machine after repeated persistence failures")
		}
		return fmt.Errorf("persist machine state: %w", err)
	}
	rt.persistFailures = 0
	rt.retryAt = time.Time{}
	rt.dedup.ClearPending()
	return nil
}

// Resume clears a machine's suspension after the operator fixed the cause
// (typically rejected credentials or a down database).
func (e *Engine) Resume(ctx context.Context, machineID string) error {
	rt := e.runtime(machineID)
	if rt == nil {
		return fmt.Errorf("%w: %s", ErrUnknownMachine, machineID)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.state.Suspended = false
	rt.state.LastError = ""
	rt.persistFailures = 0
	rt.retryAt = time.Time{}
	e.setPhase(rt, PhaseIdle)
	if err := e.persist(ctx, rt, e.now(), time.Time{}); err != nil {
		return err
	}
	e.log.Info().Str("machine_id", machineID).Msg("machine resumed")
	return nil
}

// Status reports every machine's poll status. Each runtime is locked
// individually, the same way Snapshot and LastSale do; its state fields are
// only ever written under rt.mu.
func (e *Engine) Status() []domain.MachineStatus {
	runtimes := e.runtimes()

	statuses := make([]domain.MachineStatus, 0, len(runtimes))
	for _, rt := range runtimes {
		rt.mu.Lock()
		statuses = append(statuses, domain.MachineStatus{
			MachineID:  rt.machine.ID,
			Name:       rt.machine.Name,
			Phase:      rt.phase,
			Suspended:  rt.state.Suspended,
			LastPollAt: rt.state.LastPollAt,
			LastError:  rt.state.LastError,
		})
		rt.mu.Unlock()
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].MachineID < statuses[j].MachineID
	})
	return statuses
}

var snapshotOrder = []domain.BucketKind{
	domain.BucketToday,
	domain.BucketYesterday,
	domain.BucketThisWeek,
	domain.BucketLastWeek,
	domain.BucketThisMonth,
	domain.BucketLastMonth,
	domain.BucketRollingSixMonth,
	domain.BucketThisYear,
	domain.BucketLastYear,
}

// Snapshot returns a machine's bucket totals.
func (e *Engine) Snapshot(machineID string) (domain.MachineSnapshot, error) {
	rt := e.runtime(machineID)
	if rt == nil {
		return domain.MachineSnapshot{}, fmt.Errorf("%w: %s", ErrUnknownMachine, machineID)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	buckets := rt.book.Snapshot()
	snapshot := domain.MachineSnapshot{
		MachineID:   machineID,
		Name:        rt.machine.Name,
		GeneratedAt: e.now().Format(time.RFC3339),
		Buckets:     make([]domain.Bucket, 0, len(buckets)),
	}
	for _, kind := range snapshotOrder {
		if b, ok := buckets[kind]; ok {
			snapshot.Buckets = append(snapshot.Buckets, b)
		}
	}
	return snapshot, nil
}

// LastSale returns a machine's most recent settled sale, or nil if none has
// been observed yet.
func (e *Engine) LastSale(machineID string) (*domain.TransactionRecord, error) {
	rt := e.runtime(machineID)
	if rt == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMachine, machineID)
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.state.LastSale == nil {
		return nil, nil
	}
	sale := *rt.state.LastSale
	return &sale, nil
}

// setPhase records the cycle phase. The caller holds rt.mu.
func (e *Engine) setPhase(rt *machineRuntime, phase string) {
	rt.phase = phase
}

func (e *Engine) runtime(machineID string) *machineRuntime {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.machines[machineID]
}

func (e *Engine) runtimes() []*machineRuntime {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*machineRuntime, 0, len(e.machines))
	for _, rt := range e.machines {
		out = append(out, rt)
	}
	return out
}
