package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariacore/aria/pkg/agent"
	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/scheduler"
)

type fakeDelegator struct {
	mu       sync.Mutex
	calls    int
	inFlight int32
	maxSeen  int32
	hold     time.Duration
	fail     bool
}

func (f *fakeDelegator) DelegateTask(ctx context.Context, task, role, model, taskContext string, timeout time.Duration, cleanup bool) (*agent.DelegateResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	n := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		old := atomic.LoadInt32(&f.maxSeen)
		if n <= old || atomic.CompareAndSwapInt32(&f.maxSeen, old, n) {
			break
		}
	}

	if f.hold > 0 {
		time.Sleep(f.hold)
	}
	if f.fail {
		return nil, assertError{}
	}
	return &agent.DelegateResult{Status: agent.DelegateCompleted, Result: "ok"}, nil
}

type assertError struct{}

func (assertError) Error() string { return "delegate failed" }

func TestDispatchSkipsOverlappingRun(t *testing.T) {
	registry := config.NewCronRegistry(map[string]*config.CronJobConfig{
		"slow": {Schedule: "@every 1s", Skill: "agent", Action: "noop"},
	})
	del := &fakeDelegator{hold: 2500 * time.Millisecond}
	s := scheduler.New(registry, nil, del, nil, nil)
	require.NoError(t, s.LoadJobs())

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(3500 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&del.maxSeen), "overlapping fires of the same job must never run concurrently")
	del.mu.Lock()
	calls := del.calls
	del.mu.Unlock()
	assert.Less(t, calls, 6, "fires that find the previous run still in flight must be skipped, not queued")
}

func TestPutJobReplacesSchedule(t *testing.T) {
	registry := config.NewCronRegistry(nil)
	del := &fakeDelegator{}
	s := scheduler.New(registry, nil, del, nil, nil)
	require.NoError(t, s.LoadJobs())

	err := s.PutJob("heartbeat", &config.CronJobConfig{Schedule: "@every 1s", Skill: "agent", Action: "ping"})
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(1500 * time.Millisecond)

	del.mu.Lock()
	calls := del.calls
	del.mu.Unlock()
	assert.Greater(t, calls, 0)
}
