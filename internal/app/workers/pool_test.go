package workers

import (
	"context"
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

func newPool(t *testing.T, limit, queue int) *Pool {
	t.Helper()
	p := New(limit, queue)
	t.Cleanup(p.Close)
	return p
}

func TestLimitIsHonoured(t *testing.T) {
	p := newPool(t, 2, 0)
	release := make(chan struct{})
	var peak, current atomic.Int32

	for i := 0; i < 6; i++ {
		p.Go(context.Background(), "task", func(context.Context) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			current.Add(-1)
		})
	}

	deadline := time.Now().Add(time.Second)
	for p.Running() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	if !p.Wait(2 * time.Second) {
		t.Fatal("pool did not drain")
	}
	if got := peak.Load(); got != 2 {
		t.Fatalf("peak concurrency = %d, want 2", got)
	}
}

func TestPanicIsContained(t *testing.T) {
	p := newPool(t, 1, 0)
	var after atomic.Bool
	p.Go(context.Background(), "boom", func(context.Context) { panic("boom") })
	p.Go(context.Background(), "after", func(context.Context) { after.Store(true) })
	if !p.Wait(time.Second) {
		t.Fatal("pool did not drain")
	}
	if p.Panics() != 1 || !after.Load() {
		t.Fatalf("panics = %d, after = %v", p.Panics(), after.Load())
	}
}

func TestWaitingTaskDroppedOnCancel(t *testing.T) {
	p := newPool(t, 1, 0)
	started := make(chan struct{})
	block := make(chan struct{})
	p.Go(context.Background(), "holder", func(context.Context) {
		close(started)
		<-block
	})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	if !p.Go(ctx, "queued", func(context.Context) { ran.Store(true) }) {
		t.Fatal("queued task refused")
	}
	cancel()
	close(block)

	if !p.Wait(time.Second) {
		t.Fatal("pool did not drain")
	}
	if ran.Load() {
		t.Fatal("cancelled task should not run")
	}
}

func TestFullQueueDropsAndBoundsGoroutines(t *testing.T) {
	p := newPool(t, 2, 4)
	block := make(chan struct{})
	started := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		p.Go(context.Background(), "holder", func(context.Context) {
			started <- struct{}{}
			<-block
		})
	}
	<-started
	<-started

	before := runtime.NumGoroutine()
	accepted := 0
	for i := 0; i < 1000; i++ {
		if p.Go(context.Background(), "storm", func(context.Context) {}) {
			accepted++
		}
	}
	if accepted != 4 || p.Dropped() != 996 {
		t.Fatalf("accepted = %d dropped = %d, want 4 and 996", accepted, p.Dropped())
	}
	if grew := runtime.NumGoroutine() - before; grew > 2 {
		t.Fatalf("goroutines grew by %d under a storm", grew)
	}

	close(block)
	if !p.Wait(time.Second) {
		t.Fatal("pool did not drain")
	}
}

func TestClosedPoolRefusesTasks(t *testing.T) {
	p := New(1, 1)
	p.Close()
	p.Close()
	if p.Go(context.Background(), "late", func(context.Context) {}) {
		t.Fatal("closed pool accepted a task")
	}
	if !p.Wait(time.Second) {
		t.Fatal("Wait blocked on a closed pool")
	}
}
