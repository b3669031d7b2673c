package skill

import (
	"context"
	"sync"
	"time"

	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/storage"
)

// Breaker defaults, mirroring the teacher's pattern of naming recovery
// tuning as package constants (pkg/mcp/recovery.go's MaxRetries /
// ReinitTimeout / OperationTimeout block).
const (
	DefaultFailureThreshold = 5
	DefaultOpenDuration     = 30 * time.Second
)

// breakerState is the in-memory mirror of one target's persisted
// storage.CircuitBreakerRow, guarded by its own mutex so concurrent
// safe_execute calls for the same skill don't race on the threshold
// check.
type breakerState struct {
	mu           sync.Mutex
	state        storage.CircuitState
	failureCount int
	openedAt     time.Time
}

// BreakerStore is the per-(skill, action) circuit breaker bank. It
// keeps a hot in-memory cache in front of storage.CircuitStateRepo so
// the common-case check on every safe_execute call never touches the
// database; persistence exists so breaker state survives a restart
// and is inspectable by admin tooling.
type BreakerStore struct {
	mu     sync.Mutex
	states map[string]*breakerState

	repo             *storage.CircuitStateRepo
	failureThreshold int
	openDuration     time.Duration
}

// NewBreakerStore constructs a breaker bank. repo may be nil for
// tests that don't need persistence.
func NewBreakerStore(repo *storage.CircuitStateRepo) *BreakerStore {
	return &BreakerStore{
		states:           make(map[string]*breakerState),
		repo:             repo,
		failureThreshold: DefaultFailureThreshold,
		openDuration:     DefaultOpenDuration,
	}
}

func (b *BreakerStore) get(target string) *breakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.states[target]
	if !ok {
		s = &breakerState{state: storage.CircuitClosed}
		b.states[target] = s
	}
	return s
}

// Allow reports whether a call to target may proceed, and transitions
// open → half-open once the open duration has elapsed.
func (b *BreakerStore) Allow(target string) bool {
	s := b.get(target)
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case storage.CircuitClosed, storage.CircuitHalfOpen:
		return true
	case storage.CircuitOpen:
		if time.Since(s.openedAt) >= b.openDuration {
			s.state = storage.CircuitHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets its failure count. A
// success while half-open is what proves the target has recovered.
func (b *BreakerStore) RecordSuccess(ctx context.Context, target string) {
	s := b.get(target)
	s.mu.Lock()
	s.state = storage.CircuitClosed
	s.failureCount = 0
	s.mu.Unlock()
	b.persist(ctx, target, s)
}

// RecordFailure increments the failure count and opens the breaker
// once the threshold is reached. A failure while half-open reopens
// immediately regardless of count.
func (b *BreakerStore) RecordFailure(ctx context.Context, target string) {
	s := b.get(target)
	s.mu.Lock()
	if s.state == storage.CircuitHalfOpen {
		s.state = storage.CircuitOpen
		s.openedAt = time.Now()
	} else {
		s.failureCount++
		if s.failureCount >= b.failureThreshold {
			s.state = storage.CircuitOpen
			s.openedAt = time.Now()
		}
	}
	s.mu.Unlock()
	b.persist(ctx, target, s)
}

func (b *BreakerStore) persist(ctx context.Context, target string, s *breakerState) {
	if b.repo == nil {
		return
	}
	s.mu.Lock()
	row := &storage.CircuitBreakerRow{
		Target:       target,
		State:        s.state,
		FailureCount: s.failureCount,
	}
	if !s.openedAt.IsZero() {
		opened := s.openedAt
		row.OpenedAt = &opened
	}
	s.mu.Unlock()
	_ = b.repo.Upsert(ctx, row)
}

// Hydrate loads every persisted breaker row back into the in-memory
// cache, used at startup so a restart doesn't silently reset breakers
// that were open.
func (b *BreakerStore) Hydrate(ctx context.Context) error {
	if b.repo == nil {
		return nil
	}
	rows, err := b.repo.All(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, row := range rows {
		s := &breakerState{state: row.State, failureCount: row.FailureCount}
		if row.OpenedAt != nil {
			s.openedAt = *row.OpenedAt
		}
		b.states[row.Target] = s
	}
	return nil
}

// errCircuitOpenFor wraps coreerrors.ErrCircuitOpen with the target
// name so callers can report which breaker refused the call.
func errCircuitOpenFor(target string) error {
	return &coreerrors.CircuitOpenError{Target: target}
}
