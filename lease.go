package office2pdf

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// LeaseState tracks a lease through its life.
type LeaseState int

const (
	LeaseAbsent LeaseState = iota
	LeaseReady
	LeaseStale
)

func (s LeaseState) String() string {
	switch s {
	case LeaseReady:
		return "ready"
	case LeaseStale:
		return "stale"
	default:
		return "absent"
	}
}

// Lease is a warm engine bound to one worker and one document kind.
// Only the owning worker reads or mutates it.
type Lease struct {
	Worker WorkerKey
	Kind   DocumentKind
	Engine Engine

	state LeaseState
	uses  int
}

// State returns the lease state.
func (l *Lease) State() LeaseState {
	return l.state
}

// Uses returns how many times the current engine has been handed out.
func (l *Lease) Uses() int {
	return l.uses
}

type leaseKey struct {
	worker WorkerKey
	kind   DocumentKind
}

// LeaseStats is a snapshot of lease manager counters.
type LeaseStats struct {
	Live          int   `json:"live"`
	Created       int64 `json:"created"`
	Recreated     int64 `json:"recreated"`
	ProbeFailures int64 `json:"probe_failures"`
	InitFailures  int64 `json:"init_failures"`
	Discarded     int64 `json:"discarded"`
}

// LeaseManager owns at most one engine per (worker, kind) and keeps it warm
// across requests. Affinity is the concurrency discipline: the mutex guards
// only the map, never the engines, because a lease is only ever used by the
// worker it belongs to.
type LeaseManager struct {
	factory EngineFactory
	logger  *slog.Logger

	mu     sync.Mutex
	leases map[leaseKey]*Lease
	closed bool

	created       atomic.Int64
	recreated     atomic.Int64
	probeFailures atomic.Int64
	initFailures  atomic.Int64
	discarded     atomic.Int64
}

// NewLeaseManager creates a manager building engines with factory.
func NewLeaseManager(factory EngineFactory, logger *slog.Logger) *LeaseManager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LeaseManager{
		factory: factory,
		logger:  logger,
		leases:  make(map[leaseKey]*Lease),
	}
}

// Acquire returns the worker's lease for kind. A Ready lease whose probe
// succeeds is reused as is; anything else is shut down and replaced by a
// fresh engine. On factory failure the slot is left Absent and the next call
// retries from scratch.
func (m *LeaseManager) Acquire(worker WorkerKey, kind DocumentKind) (*Lease, error) {
	key := leaseKey{worker: worker, kind: kind}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrPoolClosed
	}
	lease := m.leases[key]
	m.mu.Unlock()

	log := m.logger.With("worker", string(worker), "kind", kind.String())

	if lease != nil && lease.state == LeaseReady {
		err := lease.Engine.Ping()
		if err == nil {
			lease.uses++
			log.Debug("acquire", "reused", true, "uses", lease.uses)
			return lease, nil
		}
		m.probeFailures.Add(1)
		log.Warn("engine probe failed", "error", err)
		lease.state = LeaseStale
	}

	replacing := lease != nil
	if replacing {
		m.discard(lease, log)
		m.mu.Lock()
		delete(m.leases, key)
		m.mu.Unlock()
	}

	engine, err := m.factory(worker, kind)
	if err != nil {
		m.initFailures.Add(1)
		if errors.Is(err, ErrEngineInit) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrEngineInit, err)
	}
	if engine == nil {
		m.initFailures.Add(1)
		return nil, fmt.Errorf("%w: factory returned no engine", ErrEngineInit)
	}

	lease = &Lease{Worker: worker, Kind: kind, Engine: engine, state: LeaseReady, uses: 1}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = engine.Quit()
		return nil, ErrPoolClosed
	}
	m.leases[key] = lease
	m.mu.Unlock()

	m.created.Add(1)
	if replacing {
		m.recreated.Add(1)
	}
	log.Info("acquire", "reused", false, "recreated", replacing)
	return lease, nil
}

// MarkStale forces the lease's engine to be replaced on the next Acquire.
func (m *LeaseManager) MarkStale(lease *Lease) {
	if lease == nil || lease.state != LeaseReady {
		return
	}
	lease.state = LeaseStale
	m.logger.Warn("lease marked stale", "worker", string(lease.Worker), "kind", lease.Kind.String())
}

// Discard shuts the lease's engine down now and frees its slot, so the next
// Acquire builds a fresh engine. A lease the manager no longer holds is left
// alone.
func (m *LeaseManager) Discard(lease *Lease) {
	if lease == nil {
		return
	}
	key := leaseKey{worker: lease.Worker, kind: lease.Kind}

	m.mu.Lock()
	if m.leases[key] != lease {
		m.mu.Unlock()
		return
	}
	delete(m.leases, key)
	m.mu.Unlock()

	m.discarded.Add(1)
	m.discard(lease, m.logger.With("worker", string(lease.Worker), "kind", lease.Kind.String()))
}

// Stats returns a snapshot of the manager counters.
func (m *LeaseManager) Stats() LeaseStats {
	m.mu.Lock()
	live := len(m.leases)
	m.mu.Unlock()

	return LeaseStats{
		Live:          live,
		Created:       m.created.Load(),
		Recreated:     m.recreated.Load(),
		ProbeFailures: m.probeFailures.Load(),
		InitFailures:  m.initFailures.Load(),
		Discarded:     m.discarded.Load(),
	}
}

// Close shuts down every live engine concurrently. Further Acquire calls fail
// with ErrPoolClosed. Returns the joined shutdown errors.
func (m *LeaseManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	leases := make([]*Lease, 0, len(m.leases))
	for _, l := range m.leases {
		leases = append(leases, l)
	}
	m.leases = make(map[leaseKey]*Lease)
	m.mu.Unlock()

	errs := make([]error, len(leases))
	var g errgroup.Group
	for i, l := range leases {
		g.Go(func() error {
			if err := l.Engine.Quit(); err != nil {
				errs[i] = fmt.Errorf("%s/%s: %w", l.Worker, l.Kind, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// discard shuts an engine down, ignoring failures.
func (m *LeaseManager) discard(lease *Lease, log *slog.Logger) {
	lease.state = LeaseAbsent
	if err := lease.Engine.Quit(); err != nil {
		log.Warn("engine shutdown failed", "error", err)
	}
}
