package worker

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs delayed tasks on a single goroutine ordered by due time.
// Tasks must be short; long work should be handed to a Pool.
type Scheduler struct {
	mu      sync.Mutex
	queue   taskQueue
	seq     uint64
	wake    chan struct{}
	done    chan struct{}
	started bool
	stopped bool
	logger  *slog.Logger
	now     func() time.Time
}

type scheduledTask struct {
	due       time.Time
	seq       uint64
	fn        func()
	cancelled bool
	index     int
}

type taskQueue []*scheduledTask

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due.Equal(q[j].due) {
		return q[i].seq < q[j].seq
	}
	return q[i].due.Before(q[j].due)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*scheduledTask)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// NewScheduler creates a stopped scheduler
func NewScheduler() *Scheduler {
	return &Scheduler{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "scheduler"),
		now:    time.Now,
	}
}

// Schedule runs fn after delay. The returned function cancels the task if it
// has not run yet.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) (cancel func(), err error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return func() {}, ErrStopped
	}
	s.seq++
	task := &scheduledTask{due: s.now().Add(delay), seq: s.seq, fn: fn}
	heap.Push(&s.queue, task)
	s.mu.Unlock()

	s.signal()

	return func() {
		s.mu.Lock()
		task.cancelled = true
		if task.index >= 0 && task.index < len(s.queue) && s.queue[task.index] == task {
			heap.Remove(&s.queue, task.index)
		}
		s.mu.Unlock()
	}, nil
}

// Pending returns the number of tasks waiting to run
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Start launches the scheduling goroutine. It exits on ctx cancellation or Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	go s.loop(ctx)
	return nil
}

// Stop discards pending tasks and stops the goroutine
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.queue = nil
	s.mu.Unlock()

	close(s.done)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		ready, wait, due := s.next()
		if due {
			if ready != nil {
				s.execute(ready)
			}
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

// next pops the head task when it is due. Otherwise it reports how long to
// wait before the head becomes due.
func (s *Scheduler) next() (task *scheduledTask, wait time.Duration, due bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil, time.Hour, false
	}
	head := s.queue[0]
	wait = head.due.Sub(s.now())
	if wait > 0 {
		return nil, wait, false
	}
	task = heap.Pop(&s.queue).(*scheduledTask)
	if task.cancelled {
		return nil, 0, true
	}
	return task, 0, true
}

func (s *Scheduler) execute(task *scheduledTask) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled task panicked", "panic", r)
		}
	}()
	task.fn()
}
