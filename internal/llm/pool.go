package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

var ErrPoolClosed = errors.New("llm: worker pool closed")

// Pool bounds how many backend calls run at once. Callers beyond the
// bound wait for a free worker.
type Pool struct {
	sem     *semaphore.Weighted
	workers int
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (p *Pool) Workers() int { return p.workers }

// Close rejects queued and future work. Running calls are not waited for.
func (p *Pool) Close() { p.cancel() }

type outcome struct {
	resp Response
	err  error
}

// Run executes fn on a worker and waits until it returns or timeout
// elapses. The worker slot is held until fn actually returns, so an
// abandoned call still counts against the bound.
func (p *Pool) Run(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (Response, error)) (Response, error) {
	if p.ctx.Err() != nil {
		return Response{}, ErrPoolClosed
	}

	acquireCtx, cancelAcquire := context.WithCancel(ctx)
	stop := context.AfterFunc(p.ctx, cancelAcquire)
	err := p.sem.Acquire(acquireCtx, 1)
	stop()
	cancelAcquire()
	if err != nil {
		if p.ctx.Err() != nil {
			return Response{}, ErrPoolClosed
		}
		return Response{}, err
	}
	if p.ctx.Err() != nil {
		p.sem.Release(1)
		return Response{}, ErrPoolClosed
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("backend panic: %v", r)}
			}
		}()
		resp, err := fn(attemptCtx)
		done <- outcome{resp: resp, err: err}
	}()

	select {
	case o := <-done:
		return o.resp, o.err
	case <-attemptCtx.Done():
		select {
		case o := <-done:
			return o.resp, o.err
		default:
		}
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return Response{}, fmt.Errorf("attempt timed out after %s: %w", timeout, attemptCtx.Err())
		}
		return Response{}, attemptCtx.Err()
	}
}
