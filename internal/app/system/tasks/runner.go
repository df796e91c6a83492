// internal/app/system/tasks/runner.go
package tasks

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is a background task executed on a fixed interval.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner executes registered jobs until stopped. Each job gets its own
// goroutine and runs once immediately at start, then on its interval.
type Runner struct {
	logger *zap.Logger
	jobs   []Job
	wg     sync.WaitGroup
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]struct{} // jobs currently executing
}

// New creates a task runner. Register jobs before calling Start.
func New(logger *zap.Logger) *Runner {
	return &Runner{
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Register adds a job to the runner.
func (r *Runner) Register(job Job) {
	r.jobs = append(r.jobs, job)
}

// Start launches all registered jobs. Call Stop to shut down.
func (r *Runner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	for _, job := range r.jobs {
		r.wg.Add(1)
		go r.loop(ctx, job)
	}

	r.logger.Info("background task runner started",
		zap.Int("job_count", len(r.jobs)))
}

// Stop cancels all jobs and waits for in-flight runs to finish. If ctx
// expires first it returns ctx.Err() and logs which jobs were still
// running. Pass context.Background() to wait without limit.
func (r *Runner) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("background task runner stopped gracefully")
		return nil
	case <-ctx.Done():
		r.mu.Lock()
		stillRunning := make([]string, 0, len(r.inflight))
		for name := range r.inflight {
			stillRunning = append(stillRunning, name)
		}
		r.mu.Unlock()
		r.logger.Warn("background task runner shutdown timed out",
			zap.Strings("jobs_still_running", stillRunning))
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context, job Job) {
	defer r.wg.Done()

	r.execute(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("job stopped", zap.String("job", job.Name))
			return
		case <-ticker.C:
			r.execute(ctx, job)
		}
	}
}

func (r *Runner) execute(ctx context.Context, job Job) {
	r.mu.Lock()
	r.inflight[job.Name] = struct{}{}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.inflight, job.Name)
		r.mu.Unlock()
	}()

	start := time.Now()
	r.logger.Debug("job starting", zap.String("job", job.Name))

	if err := job.Run(ctx); err != nil {
		// A cancelled context during shutdown is expected, not a failure.
		if ctx.Err() != nil {
			r.logger.Debug("job cancelled during shutdown",
				zap.String("job", job.Name),
				zap.Duration("duration", time.Since(start)))
			return
		}
		r.logger.Error("job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}

	r.logger.Debug("job completed",
		zap.String("job", job.Name),
		zap.Duration("duration", time.Since(start)))
}

// RunOnce executes the named job immediately, outside its schedule.
// Unknown names are a no-op.
func (r *Runner) RunOnce(ctx context.Context, name string) error {
	for _, job := range r.jobs {
		if job.Name == name {
			return job.Run(ctx)
		}
	}
	return nil
}
