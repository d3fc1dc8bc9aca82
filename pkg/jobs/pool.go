package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/sireskandari/Aransite/pkg/models"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun.
var ErrPoolClosed = errors.New("worker pool is shutting down")

// Task is one scheduled generation.
type Task struct {
	ID      string
	Request models.GenerateRequest
}

// Scheduler accepts tasks for background execution without blocking.
type Scheduler interface {
	Submit(t Task) error
}

// Handler runs a single task on a pool goroutine.
type Handler func(ctx context.Context, t Task)

// Pool is a fixed set of workers draining a bounded queue.
type Pool struct {
	handler Handler
	logger  zerolog.Logger
	workers int
	onDepth func(int)

	ch     chan Task
	wg     sync.WaitGroup
	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan Task, n)
		}
	}
}

// WithDepthObserver is called with the queue length after every change.
func WithDepthObserver(fn func(int)) Option {
	return func(p *Pool) {
		p.onDepth = fn
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// NewPool starts the workers. Tasks run with a context owned by the pool,
// never the submitter's.
func NewPool(handler Handler, opts ...Option) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		handler: handler,
		logger:  zerolog.Nop(),
		workers: 2,
		ch:      make(chan Task, 64),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i + 1)
		}
	})
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	p.logger.Debug().Int("worker_id", id).Msg("worker started")

	for t := range p.ch {
		p.observeDepth()
		p.run(id, t)
	}

	p.logger.Debug().Int("worker_id", id).Msg("worker stopped")
}

func (p *Pool) run(workerID int, t Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().Int("worker_id", workerID).Str("job_id", t.ID).
				Interface("panic", r).Msg("task handler panicked")
		}
	}()
	p.handler(p.ctx, t)
}

// Submit enqueues t or fails immediately with models.ErrQueueFull or ErrPoolClosed.
func (p *Pool) Submit(t Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.ch <- t:
		p.observeDepth()
		return nil
	default:
		return models.ErrQueueFull
	}
}

// Depth is the number of queued tasks not yet picked up.
func (p *Pool) Depth() int {
	return len(p.ch)
}

// Shutdown stops accepting tasks and waits for queued and running ones to
// finish. If ctx expires first, running tasks are cancelled.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		p.wg.Wait()
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info().Msg("queue drained, shutdown complete")
		return nil
	case <-ctx.Done():
		p.cancel()
		p.logger.Warn().Msg("shutdown deadline reached, cancelling running jobs")
		<-done
		return ctx.Err()
	}
}

func (p *Pool) observeDepth() {
	if p.onDepth != nil {
		p.onDepth(len(p.ch))
	}
}
