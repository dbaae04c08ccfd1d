package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"popgenval/internal/logging"
	"popgenval/internal/model"
	"popgenval/internal/tracing"
)

// Kernel runs one replicate and returns its rows. It must not share mutable
// state with other invocations.
type Kernel func(ctx context.Context, task Task) ([]model.Row, error)

type Policy string

const (
	// FailFast stops dispatch on the first task error and returns it.
	FailFast Policy = "fail_fast"
	// Continue records failed tasks and keeps going.
	Continue Policy = "continue"
)

var ErrUnknownPolicy = errors.New("unknown failure policy")

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", FailFast:
		return FailFast, nil
	case Continue:
		return Continue, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownPolicy, s)
	}
}

// Outcome is the result of one task: Rows on success, Err otherwise.
type Outcome struct {
	Task     Task
	Rows     []model.Row
	Err      error
	Attempts int
	Elapsed  time.Duration
}

type Summary struct {
	Tasks     int           `json:"tasks"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Retries   int           `json:"retries"`
	Rows      int           `json:"rows"`
	Elapsed   time.Duration `json:"elapsed"`
}

type Pool struct {
	Workers int
	Policy  Policy
	Retry   RetryPolicy
	Logger  *slog.Logger
}

// Run executes tasks on at most Workers goroutines. Outcomes reach sink one
// at a time, in completion order, from a single collector goroutine. A sink
// error stops dispatch and is returned.
func (p Pool) Run(ctx context.Context, tasks []Task, kernel Kernel, sink func(Outcome) error) (Summary, error) {
	if kernel == nil {
		return Summary{}, errors.New("kernel is required")
	}
	policy, err := ParsePolicy(string(p.Policy))
	if err != nil {
		return Summary{}, err
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	retry := NormalizeRetryPolicy(p.Retry)
	logger := logging.OrDiscard(p.Logger)
	started := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	summary := Summary{Tasks: len(tasks)}
	outcomes := make(chan Outcome, workers)
	collected := make(chan struct{})
	var sinkErr error
	go func() {
		defer close(collected)
		for out := range outcomes {
			summary.Retries += out.Attempts - 1
			if out.Err != nil {
				summary.Failed++
				logger.Warn("task failed", "task", out.Task.Index, "scenario", out.Task.Scenario.Key(), "attempts", out.Attempts, "error", out.Err)
			} else {
				summary.Completed++
				summary.Rows += len(out.Rows)
				logger.Debug("task completed", "task", out.Task.Index, "rows", len(out.Rows), "elapsed", out.Elapsed)
			}
			if sink == nil || sinkErr != nil {
				continue
			}
			if err := sink(out); err != nil {
				sinkErr = fmt.Errorf("collect task %d: %w", out.Task.Index, err)
				cancel()
			}
		}
	}()

	for _, task := range tasks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out := runTask(gctx, task, kernel, retry)
			outcomes <- out
			if out.Err != nil && policy == FailFast {
				return fmt.Errorf("task %d (%s): %w", task.Index, task.Scenario.Key(), out.Err)
			}
			return nil
		})
	}
	waitErr := g.Wait()
	close(outcomes)
	<-collected

	summary.Skipped = summary.Tasks - summary.Completed - summary.Failed
	summary.Elapsed = time.Since(started)
	logger.Info("dispatch finished",
		"tasks", summary.Tasks,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"rows", summary.Rows,
		"elapsed", summary.Elapsed,
	)

	switch {
	case sinkErr != nil:
		return summary, sinkErr
	case waitErr != nil:
		return summary, waitErr
	}
	return summary, context.Cause(ctx)
}

func runTask(ctx context.Context, task Task, kernel Kernel, retry RetryPolicy) Outcome {
	ctx, span := tracing.StartSpan(ctx, "dispatch.task")
	span.WithAttributes(map[string]string{"scenario": task.Scenario.Key()}).
		WithInt("task.index", task.Index).
		WithInt("task.replicate", task.Replicate)

	started := time.Now()
	out := Outcome{Task: task}
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		out.Attempts = attempt
		out.Rows, out.Err = invoke(ctx, task, kernel)
		if out.Err == nil || ctx.Err() != nil || attempt == retry.MaxAttempts {
			break
		}
		if err := sleepContext(ctx, retry.Backoff(attempt)); err != nil {
			break
		}
	}
	if out.Err != nil {
		out.Rows = nil
	}
	out.Elapsed = time.Since(started)
	span.WithInt("task.attempts", out.Attempts).WithInt("task.rows", len(out.Rows))
	tracing.EndSpan(span, out.Err)
	return out
}

func invoke(ctx context.Context, task Task, kernel Kernel) (rows []model.Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kernel panic: %v", r)
		}
	}()
	return kernel(ctx, task)
}
