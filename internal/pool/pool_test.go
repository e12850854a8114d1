package pool

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitRunsAllTasks(t *testing.T) {
	p := New(4)
	defer p.Close()

	var count int64
	for i := 0; i < 100; i++ {
		p.Submit(func() { atomic.AddInt64(&count, 1) })
	}

	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt64(&count) != 100 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := atomic.LoadInt64(&count); got != 100 {
		t.Fatalf("count = %d, want 100", got)
	}
}

func TestExecuteAndWaitBlocksUntilDone(t *testing.T) {
	p := New(2)
	defer p.Close()

	var ran bool
	p.ExecuteAndWait(func() { ran = true })
	if !ran {
		t.Fatal("expected task to have run before ExecuteAndWait returned")
	}
}

func TestTaskGroupWaitFinishCollectsFirstError(t *testing.T) {
	p := New(4)
	defer p.Close()

	g := p.NewTaskGroup()
	wantErr := errors.New("boom")
	for i := 0; i < 10; i++ {
		i := i
		g.Go(func() error {
			if i == 3 {
				return wantErr
			}
			return nil
		})
	}

	if err := g.WaitFinish(); err != wantErr {
		t.Fatalf("WaitFinish err = %v, want %v", err, wantErr)
	}
}

func TestTaskGroupWaitFinishNoErrors(t *testing.T) {
	p := New(4)
	defer p.Close()

	g := p.NewTaskGroup()
	var count int64
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			atomic.AddInt64(&count, 1)
			return nil
		})
	}

	if err := g.WaitFinish(); err != nil {
		t.Fatalf("WaitFinish err = %v, want nil", err)
	}
	if got := atomic.LoadInt64(&count); got != 20 {
		t.Fatalf("count = %d, want 20", got)
	}
}

func TestCloseDrainsQueuedTasksBeforeReturning(t *testing.T) {
	p := New(1)
	var count int64
	for i := 0; i < 5; i++ {
		p.Submit(func() { atomic.AddInt64(&count, 1) })
	}
	p.Close()

	if got := atomic.LoadInt64(&count); got != 5 {
		t.Fatalf("count = %d, want 5 (all queued tasks drained before Close returns)", got)
	}
}
