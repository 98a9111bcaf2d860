package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wyfcoding/mcvol/metrics"
)

func TestPoolRunsAllTasksBeforeStop(t *testing.T) {
	p := NewPool(WithName("test"), WithSize(3), WithQueueSize(10), WithMetrics(metrics.NewMetrics("test")))

	var done atomic.Int32
	for range 20 {
		if err := p.Submit(context.Background(), func(context.Context) {
			time.Sleep(time.Millisecond)
			done.Add(1)
		}); err != nil {
			t.Fatal(err)
		}
	}
	p.Stop()
	if done.Load() != 20 {
		t.Errorf("completed %d tasks, want 20", done.Load())
	}

	if err := p.Submit(context.Background(), func(context.Context) {}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit after Stop err = %v", err)
	}
	p.Stop()
}

func TestPoolSubmitBlocksWhenFull(t *testing.T) {
	p := NewPool(WithSize(1), WithQueueSize(1))
	defer p.Stop()

	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.Submit(context.Background(), func(context.Context) {
		close(started)
		<-release
	})
	<-started
	if err := p.Submit(context.Background(), func(context.Context) {}); err != nil {
		t.Fatalf("queue slot should be free: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Submit(ctx, func(context.Context) {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Submit on full queue err = %v, want deadline exceeded", err)
	}
	if p.Busy() != 1 {
		t.Errorf("Busy = %d", p.Busy())
	}
	close(release)
}

func TestPoolRecoversPanic(t *testing.T) {
	var mu sync.Mutex
	var recovered []any
	p := NewPool(WithSize(1), WithPanicHandler(func(r any) {
		mu.Lock()
		recovered = append(recovered, r)
		mu.Unlock()
	}))

	var ran atomic.Bool
	_ = p.Submit(context.Background(), func(context.Context) { panic("boom") })
	_ = p.Submit(context.Background(), func(context.Context) { ran.Store(true) })
	p.Stop()

	if len(recovered) != 1 || !ran.Load() {
		t.Errorf("recovered=%v ran=%v", recovered, ran.Load())
	}
}
