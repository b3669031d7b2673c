package skill

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ariacore/aria/pkg/coreerrors"
	"github.com/ariacore/aria/pkg/storage"
)

// Default retry policy per the skill contract: 3 attempts total,
// exponential backoff starting at 200ms capped at 5s.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 200 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
)

// Executor runs safe_execute over a registry's skills: breaker check,
// retry policy, metrics, and telemetry persistence, all in one place so
// no skill implementation has to repeat it.
type Executor struct {
	registry *Registry
	breakers *BreakerStore
	invLog   *storage.SkillInvocationRepo // nil-safe: telemetry is best-effort

	callCounter metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewExecutor builds an Executor wired to otel instruments named after
// the skill framework, matching the teacher's convention of naming
// meters after the owning package.
func NewExecutor(registry *Registry, breakers *BreakerStore, invLog *storage.SkillInvocationRepo, meter metric.Meter) (*Executor, error) {
	callCounter, err := meter.Int64Counter("skill.safe_execute.calls",
		metric.WithDescription("Count of safe_execute calls by skill, action, and outcome"))
	if err != nil {
		return nil, fmt.Errorf("create call counter: %w", err)
	}
	latencyHist, err := meter.Float64Histogram("skill.safe_execute.duration_ms",
		metric.WithDescription("Latency of safe_execute calls in milliseconds"))
	if err != nil {
		return nil, fmt.Errorf("create latency histogram: %w", err)
	}

	return &Executor{
		registry:    registry,
		breakers:    breakers,
		invLog:      invLog,
		callCounter: callCounter,
		latencyHist: latencyHist,
	}, nil
}

// SafeExecute implements the skill contract's safe_execute: circuit
// check, bounded retry of transient errors, metrics, and a uniform
// Result return.
func (e *Executor) SafeExecute(ctx context.Context, skillName, action string, args map[string]any) Result {
	correlationID := uuid.NewString()
	target := skillName + ":" + action
	start := time.Now()

	s, ok := e.registry.Get(skillName)
	if !ok {
		return e.finish(ctx, target, correlationID, start, storage.OutcomeError, nil, fmt.Errorf("skill %q not registered", skillName))
	}

	if !e.breakers.Allow(target) {
		return e.finish(ctx, target, correlationID, start, storage.OutcomeCircuitOpen, nil, errCircuitOpenFor(target))
	}

	var data any
	var lastErr error

	retryPolicy := backoff.WithMaxRetries(newExponentialBackoff(), DefaultMaxAttempts-1)
	retryPolicy = backoff.WithContext(retryPolicy, ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		var callErr error
		data, callErr = s.Action(ctx, action, args)
		lastErr = callErr
		if callErr == nil {
			return nil
		}
		if coreerrors.IsTransient(callErr) {
			slog.Warn("skill call failed, retrying",
				"skill", skillName, "action", action, "attempt", attempt, "error", callErr)
			return callErr
		}
		// Non-transient: stop retrying immediately.
		return backoff.Permanent(callErr)
	}, retryPolicy)

	if err != nil {
		e.breakers.RecordFailure(ctx, target)
		outcome := storage.OutcomeError
		if kind, _ := coreerrors.Classify(lastErr); kind == coreerrors.KindTimeout {
			outcome = storage.OutcomeTimeout
		}
		return e.finish(ctx, target, correlationID, start, outcome, nil, lastErr)
	}

	e.breakers.RecordSuccess(ctx, target)
	return e.finish(ctx, target, correlationID, start, storage.OutcomeOK, data, nil)
}

func (e *Executor) finish(ctx context.Context, target, correlationID string, start time.Time, outcome storage.SkillInvocationOutcome, data any, err error) Result {
	duration := time.Since(start)

	skillName, action := splitTarget(target)
	attrs := metric.WithAttributes(
		attribute.String("skill", skillName),
		attribute.String("action", action),
		attribute.String("outcome", string(outcome)),
	)
	e.callCounter.Add(ctx, 1, attrs)
	e.latencyHist.Record(ctx, float64(duration.Milliseconds()), attrs)

	if e.invLog != nil {
		_ = e.invLog.Insert(ctx, &storage.SkillInvocation{
			Skill:         skillName,
			Action:        action,
			Duration:      duration,
			Outcome:       outcome,
			CorrelationID: correlationID,
		})
	}

	if err != nil {
		return Result{OK: false, Error: err.Error()}
	}
	return Result{OK: true, Data: data}
}

func splitTarget(target string) (skillName, action string) {
	for i := len(target) - 1; i >= 0; i-- {
		if target[i] == ':' {
			return target[:i], target[i+1:]
		}
	}
	return target, ""
}

func newExponentialBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = DefaultInitialDelay
	b.MaxInterval = DefaultMaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	return b
}
