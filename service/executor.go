package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

var ErrExecutorStopped = errors.New("executor stopped")

// Executor runs inference jobs on a bounded worker pool so request
// handlers never block on model computation. Generation can additionally
// be limited to a fixed number of concurrent callers.
type Executor struct {
	pool    *workerpool.WorkerPool
	gen     *semaphore.Weighted
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	stopped bool
}

// NewExecutor creates a pool of workers. generationSlots bounds how many
// jobs may be inside Exclusive at once; zero means no bound. A positive
// timeout is applied to every job.
func NewExecutor(workers, generationSlots int, timeout time.Duration, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		pool:    workerpool.New(max(1, workers)),
		timeout: timeout,
		logger:  logger.Named("executor"),
	}
	if generationSlots > 0 {
		e.gen = semaphore.NewWeighted(int64(generationSlots))
	}
	return e
}

// Submit runs fn on a pool worker and waits for its result or for ctx to
// end. A job abandoned by its caller keeps its worker until fn returns, so
// fn should watch ctx.
func Submit[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	e.mu.RLock()
	if e.stopped {
		e.mu.RUnlock()
		return zero, ErrExecutorStopped
	}
	executorActive.Inc()
	e.pool.Submit(func() {
		defer executorActive.Dec()
		if err := ctx.Err(); err != nil {
			done <- result{err: &GenerationError{Err: err}}
			return
		}
		val, err := protect(ctx, fn)
		done <- result{val: val, err: err}
	})
	e.mu.RUnlock()

	select {
	case r := <-done:
		return r.val, r.err
	case <-ctx.Done():
		e.logger.Warn("Inference job abandoned", zap.Error(ctx.Err()))
		return zero, &GenerationError{Err: ctx.Err()}
	}
}

// Run is Submit for jobs without a result value.
func (e *Executor) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Submit(ctx, e, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Exclusive runs fn inside the bounded generation section.
func (e *Executor) Exclusive(ctx context.Context, fn func() error) error {
	if e.gen == nil {
		return fn()
	}
	start := time.Now()
	if err := e.gen.Acquire(ctx, 1); err != nil {
		return &GenerationError{Err: err}
	}
	defer e.gen.Release(1)
	executorWaitDuration.Observe(time.Since(start).Seconds())
	return fn()
}

// Stop waits for queued jobs to finish and rejects new ones.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()
	e.pool.StopWait()
}

func (e *Executor) WaitingQueueSize() int {
	return e.pool.WaitingQueueSize()
}

func protect[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &GenerationError{Err: fmt.Errorf("inference job panicked: %v", r)}
		}
	}()
	return fn(ctx)
}
