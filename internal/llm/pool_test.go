package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestPool_BoundsConcurrency(t *testing.T) {
	p := NewPool(2)
	defer p.Close()

	var running, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Run(context.Background(), time.Second, func(ctx context.Context) (Response, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return Response{Content: "ok"}, nil
			})
			if err != nil {
				t.Errorf("run: %v", err)
			}
		}()
	}
	wg.Wait()
	if peak > 2 {
		t.Fatalf("peak concurrency %d exceeds 2 workers", peak)
	}
}

func TestNewPool_Workers(t *testing.T) {
	if n := NewPool(3).Workers(); n != 3 {
		t.Fatalf("workers = %d, want 3", n)
	}
	if n := NewPool(0).Workers(); n != 1 {
		t.Fatalf("non-positive size must fall back to 1, got %d", n)
	}
}

func TestPool_Timeout(t *testing.T) {
	p := NewPool(1)
	defer p.Close()

	release := make(chan struct{})
	_, err := p.Run(context.Background(), 10*time.Millisecond, func(ctx context.Context) (Response, error) {
		<-release
		return Response{Content: "late"}, nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("want deadline exceeded, got %v", err)
	}

	// The abandoned call still holds the only worker.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Run(ctx, time.Second, func(ctx context.Context) (Response, error) {
		return Response{Content: "x"}, nil
	}); err == nil {
		t.Fatal("expected queued call to give up while the worker is busy")
	}
	close(release)
}

func TestPool_CloseRejectsQueuedWork(t *testing.T) {
	p := NewPool(1)

	started := make(chan struct{})
	release := make(chan struct{})
	go p.Run(context.Background(), time.Second, func(ctx context.Context) (Response, error) {
		close(started)
		<-release
		return Response{}, nil
	})
	<-started

	queued := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), time.Second, func(ctx context.Context) (Response, error) {
			return Response{Content: "should not run"}, nil
		})
		queued <- err
	}()

	time.Sleep(10 * time.Millisecond)
	p.Close()

	select {
	case err := <-queued:
		if !errors.Is(err, ErrPoolClosed) {
			t.Fatalf("want ErrPoolClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("queued call was not released by Close")
	}
	close(release)

	if _, err := p.Run(context.Background(), time.Second, nil); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("run after close: %v", err)
	}
}

func TestPool_RecoversPanic(t *testing.T) {
	p := NewPool(1)
	defer p.Close()
	_, err := p.Run(context.Background(), time.Second, func(ctx context.Context) (Response, error) {
		panic("boom")
	})
	if err == nil {
		t.Fatal("expected error from panicking backend")
	}
	if _, err := p.Run(context.Background(), time.Second, func(ctx context.Context) (Response, error) {
		return Response{Content: "ok"}, nil
	}); err != nil {
		t.Fatalf("worker not released after panic: %v", err)
	}
}
