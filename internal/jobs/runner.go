package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Func is one run of a periodic job.
type Func func(ctx context.Context) error

// Job is a named unit of periodic work.
type Job struct {
	Type     string
	Interval time.Duration
	// Timeout bounds a single run. Zero means the run shares the loop context.
	Timeout time.Duration
	Run     Func
}

// Runner executes jobs on their intervals and records every run.
type Runner struct {
	metrics *Metrics
	logger  *slog.Logger
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(metrics *Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{metrics: metrics, logger: logger}
}

// Every runs job once immediately and then every job.Interval until ctx is
// done. It blocks; start it in a goroutine.
func (r *Runner) Every(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	r.RunOnce(ctx, job)
	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx, job)
		case <-ctx.Done():
			r.logger.Info("stopping background job", "job_type", job.Type)
			return
		}
	}
}

// RunOnce executes a single run of job and returns its error.
func (r *Runner) RunOnce(ctx context.Context, job Job) error {
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := job.Run(ctx)
	r.metrics.ObserveJobDuration(job.Type, time.Since(start).Seconds())

	if err != nil {
		r.metrics.IncJobsTotal(job.Type, StatusFailure)
		r.metrics.IncJobErrors(job.Type, errorType(err))
		r.logger.ErrorContext(ctx, "background job failed",
			slog.String("job_type", job.Type),
			slog.String("error", err.Error()),
		)
		return err
	}
	r.metrics.IncJobsTotal(job.Type, StatusSuccess)
	return nil
}

func errorType(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
