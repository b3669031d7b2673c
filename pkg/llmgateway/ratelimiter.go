package llmgateway

import (
	"context"
	"sync"
	"time"

	"github.com/ariacore/aria/pkg/storage"
)

// hourBucketLayout matches storage.ModelRateRow.DayTokenBuckets' key format.
const hourBucketLayout = "2006010215"

// modelRateState is the in-memory working set for one model's sliding-window
// counters. secondCounts is a true 60-second sliding window (request-per-
// minute, second granularity, per spec §4.2); dayTokenBuckets is the rolling
// 24h token budget, bucketed hourly so pruning is a map-key comparison
// instead of a per-token timestamp.
type modelRateState struct {
	mu sync.Mutex

	secondCounts [60]int
	bucketSecond [60]int64 // unix-second each slot was last written, for staleness checks

	dayTokenBuckets map[string]int
}

func newModelRateState() *modelRateState {
	return &modelRateState{dayTokenBuckets: make(map[string]int)}
}

// rpmCount sums every second-slot whose timestamp falls in the trailing 60s.
func (s *modelRateState) rpmCount(now time.Time) int {
	cutoff := now.Add(-60 * time.Second).Unix()
	total := 0
	for i, sec := range s.bucketSecond {
		if sec > cutoff {
			total += s.secondCounts[i]
		}
	}
	return total
}

func (s *modelRateState) recordRequest(now time.Time) {
	idx := int(now.Unix() % 60)
	if s.bucketSecond[idx] != now.Unix() {
		s.secondCounts[idx] = 0
		s.bucketSecond[idx] = now.Unix()
	}
	s.secondCounts[idx]++
}

// releaseRequest undoes a recordRequest for a call that never completed
// (e.g. cancelled before the provider responded), so it doesn't count
// against the caller's RPM budget.
func (s *modelRateState) releaseRequest(now time.Time) {
	idx := int(now.Unix() % 60)
	if s.bucketSecond[idx] == now.Unix() && s.secondCounts[idx] > 0 {
		s.secondCounts[idx]--
	}
}

func (s *modelRateState) pruneDayBuckets(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	for k := range s.dayTokenBuckets {
		t, err := time.Parse(hourBucketLayout, k)
		if err != nil || t.Before(cutoff) {
			delete(s.dayTokenBuckets, k)
		}
	}
}

func (s *modelRateState) tpdCount(now time.Time) int {
	s.pruneDayBuckets(now)
	total := 0
	for _, v := range s.dayTokenBuckets {
		total += v
	}
	return total
}

func (s *modelRateState) recordTokens(now time.Time, tokens int) {
	s.pruneDayBuckets(now)
	key := now.UTC().Format(hourBucketLayout)
	s.dayTokenBuckets[key] += tokens
}

// RateLimiter enforces the per-model RPM/TPD budgets from spec §4.2. It
// keeps a hot in-memory window per model (following the same
// cache-in-front-of-storage shape as skill.BreakerStore) and persists a
// coarse snapshot after every mutation so a restart doesn't silently reset
// a model that was near its ceiling.
type RateLimiter struct {
	mu     sync.Mutex
	states map[string]*modelRateState
	repo   *storage.ModelStateRepo // nil-safe: persistence is best-effort
}

// NewRateLimiter builds a rate limiter. repo may be nil for tests.
func NewRateLimiter(repo *storage.ModelStateRepo) *RateLimiter {
	return &RateLimiter{states: make(map[string]*modelRateState), repo: repo}
}

func (l *RateLimiter) get(ctx context.Context, modelID string) *modelRateState {
	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.states[modelID]; ok {
		return s
	}

	s := newModelRateState()
	if l.repo != nil {
		if row, err := l.repo.Get(ctx, modelID); err == nil {
			s.bucketSecond[int(row.MinuteBucket.Unix()%60)] = row.MinuteBucket.Unix()
			s.secondCounts[int(row.MinuteBucket.Unix()%60)] = row.MinuteRequestCount
			for k, v := range row.DayTokenBuckets {
				s.dayTokenBuckets[k] = v
			}
		}
	}
	l.states[modelID] = s
	return s
}

// UnderRPM reports whether modelID has headroom under maxRPM. A nil limit
// means unbounded.
func (l *RateLimiter) UnderRPM(ctx context.Context, modelID string, maxRPM *int) bool {
	if maxRPM == nil {
		return true
	}
	s := l.get(ctx, modelID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpmCount(time.Now()) < *maxRPM
}

// UnderTPD reports whether modelID has headroom under maxTPD. A nil limit
// means unbounded.
func (l *RateLimiter) UnderTPD(ctx context.Context, modelID string, maxTPD *int) bool {
	if maxTPD == nil {
		return true
	}
	s := l.get(ctx, modelID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tpdCount(time.Now()) < *maxTPD
}

// RecordRequest reserves one RPM slot for modelID, called once a model has
// been selected and a provider call is about to be made.
func (l *RateLimiter) RecordRequest(ctx context.Context, modelID string) {
	s := l.get(ctx, modelID)
	s.mu.Lock()
	s.recordRequest(time.Now())
	s.mu.Unlock()
	l.persist(ctx, modelID, s)
}

// ReleaseRequest undoes a reservation for a call that was cancelled before
// completing, implementing the pro-rata release from spec §4.2's streaming
// section.
func (l *RateLimiter) ReleaseRequest(ctx context.Context, modelID string) {
	s := l.get(ctx, modelID)
	s.mu.Lock()
	s.releaseRequest(time.Now())
	s.mu.Unlock()
	l.persist(ctx, modelID, s)
}

// RecordTokens adds to modelID's rolling 24h token budget. Called once the
// true usage is known (the UsageChunk at the end of a stream, or a
// non-streaming Completion).
func (l *RateLimiter) RecordTokens(ctx context.Context, modelID string, tokens int) {
	if tokens <= 0 {
		return
	}
	s := l.get(ctx, modelID)
	s.mu.Lock()
	s.recordTokens(time.Now(), tokens)
	s.mu.Unlock()
	l.persist(ctx, modelID, s)
}

func (l *RateLimiter) persist(ctx context.Context, modelID string, s *modelRateState) {
	if l.repo == nil {
		return
	}
	s.mu.Lock()
	now := time.Now()
	row := &storage.ModelRateRow{
		ModelID:            modelID,
		MinuteBucket:       now,
		MinuteRequestCount: s.rpmCount(now),
		DayTokenBuckets:    make(map[string]int, len(s.dayTokenBuckets)),
	}
	for k, v := range s.dayTokenBuckets {
		row.DayTokenBuckets[k] = v
	}
	s.mu.Unlock()
	_ = l.repo.Upsert(ctx, row)
}
