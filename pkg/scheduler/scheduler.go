// Package scheduler runs recurring tasks reliably with non-overlapping
// execution (spec §4.5): cron-dispatched jobs through the Agent Pool or
// the Skill Framework, plus the fixed-interval background task set
// (ghost prune, old-session archive scan, orphan recovery, health
// heartbeat).
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/ariacore/aria/pkg/agent"
	"github.com/ariacore/aria/pkg/config"
	"github.com/ariacore/aria/pkg/skill"
	"github.com/ariacore/aria/pkg/storage"
)

// Delegator is the narrow slice of the Agent Pool the scheduler
// dispatches cron jobs through.
type Delegator interface {
	DelegateTask(ctx context.Context, task, role string, model string, taskContext string, timeout time.Duration, cleanup bool) (*agent.DelegateResult, error)
}

// jobState tracks one cron job's in-flight/mutex/failure bookkeeping.
type jobState struct {
	mu           sync.Mutex
	running      bool
	failureCount int
}

// Scheduler owns cron dispatch and the background task set. PodID tags
// this instance's log lines so output from multiple replicas can be
// told apart.
type Scheduler struct {
	PodID string

	// OrphanScanInterval overrides the package constant for
	// RunBackground's orphan sweep. Tests shrink it; main wiring sets
	// it from QueueConfig.
	OrphanScanInterval time.Duration

	// OrphanTimeout overrides the package constant for how stale an
	// unanswered agent session must be before recovery archives it.
	OrphanTimeout time.Duration

	cronRegistry *config.CronRegistry
	cronRepo     *storage.CronJobRepo
	delegator    Delegator
	executor     *skill.Executor
	breakers     *skill.BreakerStore

	engine *cron.Cron
	mu     sync.Mutex
	states map[string]*jobState
	ids    map[string]cron.EntryID

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a Scheduler over the cron registry, persistence gateway,
// agent pool, and skill framework.
func New(cronRegistry *config.CronRegistry, cronRepo *storage.CronJobRepo, delegator Delegator, executor *skill.Executor, breakers *skill.BreakerStore) *Scheduler {
	return &Scheduler{
		PodID:              uuid.NewString()[:8],
		OrphanScanInterval: OrphanScanInterval,
		cronRegistry:       cronRegistry,
		cronRepo:     cronRepo,
		delegator:    delegator,
		executor:     executor,
		breakers:     breakers,
		engine:       cron.New(cron.WithSeconds()),
		states:       make(map[string]*jobState),
		ids:          make(map[string]cron.EntryID),
	}
}

// LoadJobs loads every job definition from the cron registry (spec §4.5:
// "Load job definitions on startup from a declarative source") and
// schedules each one. Must be called before Start.
func (s *Scheduler) LoadJobs() error {
	for name, def := range s.cronRegistry.GetAll() {
		if err := s.addJob(name, def); err != nil {
			return fmt.Errorf("schedule job %q: %w", name, err)
		}
	}
	return nil
}

func (s *Scheduler) addJob(name string, def *config.CronJobConfig) error {
	s.mu.Lock()
	s.states[name] = &jobState{}
	s.mu.Unlock()

	id, err := s.engine.AddFunc(def.Schedule, func() { s.dispatch(name, def) })
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ids[name] = id
	s.mu.Unlock()
	return nil
}

// dispatch runs one job's fire, enforcing the at-most-one-concurrent-
// instance invariant (spec §3 CronJob invariants, §8 "No two scheduler
// runs of the same job overlap"). A fire that finds the previous run
// still in flight is skipped and logged, not queued.
func (s *Scheduler) dispatch(name string, def *config.CronJobConfig) {
	s.mu.Lock()
	st := s.states[name]
	s.mu.Unlock()

	st.mu.Lock()
	if st.running {
		st.mu.Unlock()
		slog.Warn("cron job skipped: previous run still in flight", "job", name, "pod_id", s.PodID)
		return
	}
	st.running = true
	st.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			st.mu.Lock()
			st.running = false
			st.mu.Unlock()
		}()
		s.runOnce(name, def, st)
	}()
}

func (s *Scheduler) runOnce(name string, def *config.CronJobConfig, st *jobState) {
	ctx, cancel := context.WithTimeout(context.Background(), agent.DefaultDelegateTimeout)
	defer cancel()

	start := time.Now()
	var runErr error

	if s.delegator != nil && def.Skill == "agent" {
		_, runErr = s.delegator.DelegateTask(ctx, def.Action, "cron", def.Model, "", agent.DefaultDelegateTimeout, true)
	} else if s.executor != nil {
		result := s.executor.SafeExecute(ctx, def.Skill, def.Action, def.Args)
		if !result.OK {
			runErr = fmt.Errorf("%s", result.Error)
		}
	} else {
		runErr = fmt.Errorf("no dispatch target configured for job %q", name)
	}

	status := "ok"
	if runErr != nil {
		status = "error"
		st.mu.Lock()
		st.failureCount++
		count := st.failureCount
		st.mu.Unlock()
		slog.Error("cron job failed", "job", name, "pod_id", s.PodID, "error", runErr, "failure_count", count)
	} else {
		st.mu.Lock()
		st.failureCount = 0
		st.mu.Unlock()
	}

	slog.Info("cron job finished", "job", name, "pod_id", s.PodID, "status", status, "duration", time.Since(start))

	if s.cronRepo != nil {
		next := s.nextRun(name)
		if err := s.cronRepo.RecordRun(context.Background(), name, start, status, next); err != nil {
			slog.Warn("cron job run record failed", "job", name, "error", err)
		}
	}
}

func (s *Scheduler) nextRun(name string) time.Time {
	s.mu.Lock()
	id, ok := s.ids[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	for _, e := range s.engine.Entries() {
		if e.ID == id {
			return e.Next
		}
	}
	return time.Time{}
}

// Start launches the cron engine. Background tasks are started
// separately via RunBackground so callers can wire only what they need
// in tests.
func (s *Scheduler) Start(ctx context.Context) {
	_, s.cancel = context.WithCancel(ctx)
	s.engine.Start()
}

// Stop halts the cron engine and waits for any in-flight dispatch to
// finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.engine.Stop()
	<-stopCtx.Done()
	s.wg.Wait()
}

// PutJob registers or replaces a job definition at runtime (POST /cron,
// PATCH /cron/{id}), removing any previously scheduled entry first.
func (s *Scheduler) PutJob(name string, def *config.CronJobConfig) error {
	s.mu.Lock()
	if id, ok := s.ids[name]; ok {
		s.engine.Remove(id)
		delete(s.ids, name)
	}
	s.mu.Unlock()

	s.cronRegistry.Put(name, def)
	return s.addJob(name, def)
}
