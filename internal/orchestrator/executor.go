package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.temporal.io/sdk/log"

	"github.com/nucleus/search-export/internal/export"
	"github.com/nucleus/search-export/internal/logging"
	"github.com/nucleus/search-export/internal/metrics"
)

// Step names used for executor calls, logs and metrics.
const (
	StepDirectory     = "create_run_directory"
	StepPage          = "search_and_write_page"
	StepConsolidation = "consolidate_output_files"
	StepPublish       = "publish_artifact"
)

// Executor runs fn under policy. Implementations decide how attempts are
// scheduled; fn must be safe to call more than once.
type Executor interface {
	Execute(ctx context.Context, step string, policy export.StepPolicy, fn func(ctx context.Context) error) error
}

// RetryExecutor retries in process with exponential backoff. Each attempt
// gets its own deadline of policy.Timeout; fatal errors stop immediately.
type RetryExecutor struct {
	Logger  log.Logger
	Metrics *metrics.Metrics

	// Jitter is the randomization factor applied to each interval.
	Jitter float64
}

// NewRetryExecutor creates a RetryExecutor with the backoff library's
// default jitter.
func NewRetryExecutor(logger log.Logger, m *metrics.Metrics) *RetryExecutor {
	return &RetryExecutor{Logger: logger, Metrics: m, Jitter: backoff.DefaultRandomizationFactor}
}

func (e *RetryExecutor) Execute(ctx context.Context, step string, policy export.StepPolicy, fn func(ctx context.Context) error) error {
	logger := logging.OrDefault(e.Logger)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = policy.InitialInterval
	b.Multiplier = policy.BackoffCoefficient
	b.MaxInterval = policy.MaximumInterval
	b.RandomizationFactor = e.Jitter
	b.MaxElapsedTime = 0

	retries := policy.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := e.attempt(ctx, policy, fn)
		e.Metrics.RecordStepAttempt(step, err)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !export.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		logger.Warn("step attempt failed", "step", step, "attempt", attempt, "maxAttempts", policy.MaxAttempts, "error", err)
		return err
	}

	if err := backoff.Retry(op, bo); err != nil {
		logger.Error("step failed", "step", step, "attempts", attempt, "error", err)
		return err
	}
	return nil
}

func (e *RetryExecutor) attempt(ctx context.Context, policy export.StepPolicy, fn func(ctx context.Context) error) error {
	actx := ctx
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}
	err := fn(actx)
	if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
		if export.CodeOf(err) == "" || errors.Is(err, context.DeadlineExceeded) {
			return export.WrapError(export.CodeTransientBackend, true, fmt.Errorf("attempt timed out after %s: %w", policy.Timeout, err))
		}
	}
	return err
}
