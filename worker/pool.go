// Package worker runs a pool of consumer goroutines that drain a
// scheduler: each worker loops Dequeue → Process with a poll interval
// backing off empty polls. The pool is optional; callers may drive
// Dequeue/Process themselves.
package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/fairqueue"
	"github.com/xraph/fairqueue/id"
	"github.com/xraph/fairqueue/scheduler"
)

// Source is the scheduler surface the pool consumes.
// *scheduler.Scheduler satisfies it.
type Source interface {
	// Dequeue returns the next item under the fairness policy, or nil
	// when every queue is empty or throttled. Never blocks.
	Dequeue(ctx context.Context) *fairqueue.Item
	// Process runs fn on the item and settles retry or dead-letter
	// bookkeeping.
	Process(ctx context.Context, it *fairqueue.Item, fn scheduler.ProcessorFunc) fairqueue.ProcessingResult
}

// Pool manages a set of concurrent worker goroutines that poll the
// source and process items through the given processor.
type Pool struct {
	source       Source
	processor    scheduler.ProcessorFunc
	concurrency  int
	pollInterval time.Duration
	workerID     id.WorkerID
	logger       *slog.Logger

	stopCh   chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
	active   map[string]context.CancelFunc
	activeMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithConcurrency sets the number of concurrent worker goroutines.
func WithConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how long a worker sleeps after an empty poll.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = logger }
}

// NewPool creates a worker pool draining source through processor.
func NewPool(source Source, processor scheduler.ProcessorFunc, opts ...PoolOption) *Pool {
	p := &Pool{
		source:       source,
		processor:    processor,
		concurrency:  10,
		pollInterval: time.Second,
		workerID:     id.NewWorkerID(),
		logger:       slog.Default(),
		stopCh:       make(chan struct{}),
		active:       make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker goroutines. It returns immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("concurrency", p.concurrency),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.dequeueLoop()
	}
	return nil
}

// Stop signals all workers to stop and waits for them to finish. If
// the context has a deadline, items still processing are cancelled
// when time runs out.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active items")
		p.cancelActive()
		p.wg.Wait()
	}
	return nil
}

// dequeueLoop is run by each worker goroutine.
func (p *Pool) dequeueLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		it := p.source.Dequeue(context.Background())
		if it == nil {
			p.sleep()
			continue
		}

		ctx, cancel := context.WithCancel(context.Background())
		p.track(it.ID.String(), cancel)

		result := p.source.Process(ctx, it, p.processor)
		if !result.Success {
			p.logger.Debug("item processing failed",
				slog.String("item_id", it.ID.String()),
				slog.String("tier", it.Tier),
				slog.String("error", result.Err.Error()),
			)
		}

		p.untrack(it.ID.String())
		cancel()
	}
}

// sleep waits one poll interval or until stop.
func (p *Pool) sleep() {
	select {
	case <-p.stopCh:
	case <-time.After(p.pollInterval):
	}
}

func (p *Pool) track(itemID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	p.active[itemID] = cancel
}

func (p *Pool) untrack(itemID string) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	delete(p.active, itemID)
}

func (p *Pool) cancelActive() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for itemID, cancel := range p.active {
		p.logger.Warn("cancelling active item", slog.String("item_id", itemID))
		cancel()
	}
}
