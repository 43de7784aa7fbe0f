package stream

import (
	"context"
	"errors"
	"log"
	"sync"
)

// Dispatcher hands a persisted pending job to an execution task. Create
// returns to its caller as soon as Dispatch does; the job runs elsewhere
// (in-process pool or queue worker).
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

var errDispatcherStopped = errors.New("dispatcher stopped")

// LocalDispatcher runs jobs on a bounded in-process worker pool, for
// single-binary deployments without RabbitMQ.
type LocalDispatcher struct {
	jobs chan string

	// mu orders Dispatch sends (read lock) against the Stop close (write
	// lock) so Stop never closes under an in-flight send.
	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewLocalDispatcher(queueDepth int) *LocalDispatcher {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &LocalDispatcher{jobs: make(chan string, queueDepth)}
}

// Start spawns the worker pool. run is the execution task body
// (Service.Execute).
func (d *LocalDispatcher) Start(workers int, run func(ctx context.Context, jobID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true

	if workers <= 0 {
		workers = 2
	}
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer d.wg.Done()
			for jobID := range d.jobs {
				run(context.Background(), jobID)
			}
		}()
	}
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, jobID string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return errDispatcherStopped
	}
	select {
	case d.jobs <- jobID:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop drains the queue and waits for in-flight jobs. Dispatch calls from
// here on return an error.
func (d *LocalDispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	d.wg.Wait()
}

// syncDispatcher runs the job inline; tests use it to make Execute
// deterministic.
type syncDispatcher struct {
	run func(ctx context.Context, jobID string)
}

func (d *syncDispatcher) Dispatch(ctx context.Context, jobID string) error {
	if d.run == nil {
		log.Printf("dispatch: no executor bound, job=%s dropped", jobID)
		return nil
	}
	d.run(ctx, jobID)
	return nil
}
