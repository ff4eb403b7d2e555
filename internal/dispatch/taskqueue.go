package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrQueueTimeout is returned by CompleteWithin when tasks are still
// running at the deadline. The queue does not cancel or retry them; the
// caller decides what a missed deadline means.
var ErrQueueTimeout = errors.New("dispatch: tasks still running at deadline")

// TaskQueue runs independent units of work on their own goroutines with an
// optional cap on concurrency. It backs both the dispatcher's message
// handling and the conductor's parallel shutdown.
type TaskQueue struct {
	slots chan struct{} // nil means unbounded

	mu      sync.Mutex
	running map[int64]string
	waiting int
	nextID  int64

	wg sync.WaitGroup
}

// NewTaskQueue creates a queue. maxActive <= 0 means unbounded.
func NewTaskQueue(maxActive int) *TaskQueue {
	q := &TaskQueue{running: make(map[int64]string)}
	if maxActive > 0 {
		q.slots = make(chan struct{}, maxActive)
	}
	return q
}

// Run schedules fn on its own goroutine. Submission never blocks: when the
// queue is at capacity the task waits for a slot on its own goroutine, not
// the caller's. The done callback, when non-nil, receives fn's error after
// it finishes.
func (q *TaskQueue) Run(ctx context.Context, name string, fn func(context.Context) error, done func(error)) {
	q.mu.Lock()
	q.nextID++
	id := q.nextID
	q.waiting++
	q.mu.Unlock()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		if q.slots != nil {
			select {
			case q.slots <- struct{}{}:
				defer func() { <-q.slots }()
			case <-ctx.Done():
				q.mu.Lock()
				q.waiting--
				q.mu.Unlock()
				if done != nil {
					done(ctx.Err())
				}
				return
			}
		}

		q.mu.Lock()
		q.waiting--
		q.running[id] = name
		q.mu.Unlock()

		err := fn(ctx)

		q.mu.Lock()
		delete(q.running, id)
		q.mu.Unlock()

		if done != nil {
			done(err)
		}
	}()
}

// Active returns the number of tasks currently executing.
func (q *TaskQueue) Active() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.running)
}

// Pending returns the number of tasks waiting for a slot.
func (q *TaskQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.waiting
}

// CompleteWithin waits for all scheduled tasks to finish, up to the given
// deadline. On timeout it returns ErrQueueTimeout annotated with the names
// of the tasks that were still running; those tasks keep running on their
// goroutines and are neither cancelled nor retried.
func (q *TaskQueue) CompleteWithin(timeout time.Duration) error {
	doneCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(doneCh)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-doneCh:
		return nil
	case <-timer.C:
		q.mu.Lock()
		names := make([]string, 0, len(q.running))
		for _, n := range q.running {
			names = append(names, n)
		}
		q.mu.Unlock()
		return fmt.Errorf("%w after %s: %s", ErrQueueTimeout, timeout, strings.Join(names, ", "))
	}
}
