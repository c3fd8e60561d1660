// Package maintenance runs the scheduler's periodic housekeeping:
// aging passes, starvation sweeps, burst expiry, and adaptive
// re-analysis. Tasks are registered with cron expressions (standard
// 5-field or descriptors like "@every 30s") and fired from a single
// tick loop.
package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// Func is a maintenance task body. Errors are logged, never fatal.
type Func func(ctx context.Context) error

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// task is one registered maintenance job and its next due time.
type task struct {
	name     string
	schedule cronlib.Schedule
	fn       Func
	nextRun  time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithTickInterval sets how often the runner checks for due tasks.
func WithTickInterval(d time.Duration) Option {
	return func(r *Runner) { r.tickInterval = d }
}

// Runner fires registered tasks on a tick loop. Tasks run sequentially
// on the runner goroutine; a panicking task is recovered and logged.
type Runner struct {
	logger       *slog.Logger
	tickInterval time.Duration

	mu    sync.Mutex
	tasks []*task

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(logger *slog.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		logger:       logger,
		tickInterval: 1 * time.Second,
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a task with a cron expression. The first run is the
// expression's next activation after registration.
func (r *Runner) Register(name, expr string, fn Func) error {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("fairqueue/maintenance: parse %q for task %s: %w", expr, name, err)
	}
	r.RegisterSchedule(name, schedule, fn)
	return nil
}

// RegisterSchedule adds a task with a pre-built schedule.
func (r *Runner) RegisterSchedule(name string, schedule cronlib.Schedule, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, &task{
		name:     name,
		schedule: schedule,
		fn:       fn,
		nextRun:  schedule.Next(time.Now()),
	})
}

// Start launches the tick goroutine.
func (r *Runner) Start(_ context.Context) error {
	r.wg.Add(1)
	go r.tickLoop()
	r.logger.Info("maintenance runner started",
		slog.Duration("tick_interval", r.tickInterval),
		slog.Int("tasks", len(r.tasks)),
	)
	return nil
}

// Stop signals the runner to stop and waits for the loop to finish.
func (r *Runner) Stop(_ context.Context) error {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("maintenance runner stopped")
	return nil
}

func (r *Runner) tickLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.tick(time.Now())
		}
	}
}

// tick fires every task whose next run is due and reschedules it.
func (r *Runner) tick(now time.Time) {
	r.mu.Lock()
	due := make([]*task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if !t.nextRun.After(now) {
			due = append(due, t)
			t.nextRun = t.schedule.Next(now)
		}
	}
	r.mu.Unlock()

	for _, t := range due {
		r.runTask(t)
	}
}

func (r *Runner) runTask(t *task) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("maintenance task panicked",
				slog.String("task", t.name),
				slog.Any("panic", rec),
			)
		}
	}()

	if err := t.fn(context.Background()); err != nil {
		r.logger.Error("maintenance task error",
			slog.String("task", t.name),
			slog.String("error", err.Error()),
		)
	}
}
