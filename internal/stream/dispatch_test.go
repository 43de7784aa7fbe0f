package stream

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestLocalDispatcher_DispatchAfterStopReturnsError(t *testing.T) {
	d := NewLocalDispatcher(1)
	d.Start(1, func(ctx context.Context, jobID string) {})
	d.Stop()

	if err := d.Dispatch(context.Background(), "job-late"); err != errDispatcherStopped {
		t.Fatalf("expected errDispatcherStopped, got %v", err)
	}
}

func TestLocalDispatcher_StopUnderConcurrentDispatch(t *testing.T) {
	d := NewLocalDispatcher(4)
	d.Start(2, func(ctx context.Context, jobID string) {})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			// either queued before the close or rejected after it;
			// never a send on a closed channel
			_ = d.Dispatch(context.Background(), fmt.Sprintf("job-%d", n))
		}(i)
	}
	d.Stop()
	wg.Wait()

	if err := d.Dispatch(context.Background(), "job-after"); err != errDispatcherStopped {
		t.Fatalf("expected errDispatcherStopped after stop, got %v", err)
	}
}
