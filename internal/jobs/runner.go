// Package jobs runs the periodic maintenance tasks: firing recurring
// expenses, rolling budgets into their next period, and refreshing cached
// budget statistics. The runner holds no package-level state; the command
// that owns it constructs it, starts it, and stops it with the process.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mkalis/bursar/internal/common"
)

// Job is one periodic task. Run receives the tick time and returns how many
// items it processed.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context, now time.Time) (int, error)
}

// ResultPublisher receives the outcome of each job run. Satisfied by
// notify.Publisher.
type ResultPublisher interface {
	PublishJobResult(ctx context.Context, job string, processed int, runErr error) error
}

// Runner drives a fixed set of jobs, each on its own ticker.
type Runner struct {
	jobs      []Job
	publisher ResultPublisher
}

// NewRunner creates a runner for the given jobs. publisher may be nil.
func NewRunner(jobs []Job, publisher ResultPublisher) (*Runner, error) {
	if len(jobs) == 0 {
		return nil, common.NewValidationError("jobs", "at least one job is required")
	}
	for _, job := range jobs {
		if job.Name == "" || job.Run == nil {
			return nil, common.NewValidationError("jobs", "every job needs a name and a run function")
		}
		if job.Interval <= 0 {
			return nil, common.NewValidationError("jobs",
				fmt.Sprintf("job %s needs a positive interval", job.Name))
		}
	}
	return &Runner{jobs: jobs, publisher: publisher}, nil
}

// Start runs every job immediately, then on its interval, until the context
// is canceled. It blocks and returns the context's error.
func (r *Runner) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, job := range r.jobs {
		job := job
		g.Go(func() error {
			slog.Info("job started", "job", job.Name, "interval", job.Interval)

			r.runJob(ctx, job, time.Now())

			ticker := time.NewTicker(job.Interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					slog.Info("job stopped", "job", job.Name)
					return ctx.Err()
				case now := <-ticker.C:
					r.runJob(ctx, job, now)
				}
			}
		})
	}

	return g.Wait()
}

// RunOnce executes every job a single time, in order. The first failure is
// returned after the remaining jobs have still run.
func (r *Runner) RunOnce(ctx context.Context, now time.Time) error {
	var firstErr error
	for _, job := range r.jobs {
		if err := r.runJob(ctx, job, now); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// runJob executes one job, recovering panics so a bad job never takes the
// runner down.
func (r *Runner) runJob(ctx context.Context, job Job, now time.Time) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, rec)
			common.LogError(err, "job panicked", common.Fields{"job": job.Name})
		}
	}()

	started := time.Now()
	processed, err := job.Run(ctx, now)
	if err != nil {
		common.LogError(err, "job failed", common.Fields{"job": job.Name})
	} else {
		slog.Info("job finished",
			"job", job.Name,
			"processed", processed,
			"duration", time.Since(started))
	}

	if r.publisher != nil {
		if perr := r.publisher.PublishJobResult(ctx, job.Name, processed, err); perr != nil {
			common.LogError(perr, "failed to publish job result", common.Fields{"job": job.Name})
		}
	}
	return err
}
