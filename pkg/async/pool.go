package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned by Submit after Shutdown
var ErrPoolClosed = errors.New("worker pool shut down")

// SafeGo executes fn in a goroutine with a timeout and panic recovery.
// Errors and panics are logged.
func SafeGo(parent context.Context, log logrus.FieldLogger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parent, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("PANIC in background task")
			}
		}()

		if err := fn(ctx); err != nil {
			log.WithError(err).WithField("task", taskName).Warn("background task failed")
		}
	}()
}

// WorkerPool processes submitted tasks on a fixed set of workers
type WorkerPool struct {
	taskName string
	timeout  time.Duration
	log      logrus.FieldLogger

	mu     sync.RWMutex
	closed bool
	workCh chan func(context.Context) error
	errCh  chan error
	doneCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool starts workers that run tasks with the given per-task timeout
func NewWorkerPool(ctx context.Context, log logrus.FieldLogger, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		log:      log,
		workCh:   make(chan func(context.Context) error, workers*64),
		errCh:    make(chan error, workers*16),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.worker()
		}()
	}
	go func() {
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues fn. It blocks while the queue is full and fails after Shutdown.
func (p *WorkerPool) Submit(fn func(context.Context) error) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// Shutdown stops accepting work and waits up to timeout for queued tasks to drain
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.workCh)
	p.mu.Unlock()

	select {
	case <-p.doneCh:
		p.cancel()
		return nil
	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("worker pool %q shutdown timed out after %v", p.taskName, timeout)
	}
}

// Errors returns the channel receiving task errors. Errors are dropped when
// nobody drains it.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker() {
	for fn := range p.workCh {
		p.run(fn)
	}
}

func (p *WorkerPool) run(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				p.log.WithFields(logrus.Fields{
					"task":  p.taskName,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("PANIC in worker")
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn(ctx)
	}()

	if err != nil {
		select {
		case p.errCh <- err:
		default:
			p.log.WithError(err).WithField("task", p.taskName).Warn("error channel full, dropping error")
		}
	}
}
