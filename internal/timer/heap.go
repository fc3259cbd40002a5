package timer

import (
	"container/heap"
	"sync"
	"time"
)

// Task is a callback scheduled for future execution. A non-zero Interval makes it recurring.
type Task struct {
	ID       string
	RunAt    time.Time
	Interval time.Duration
	Callback func()
	index    int // index in the heap (for heap.Interface)
}

// taskHeap is a min-heap of Tasks ordered by RunAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].RunAt.Before(h[j].RunAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	n := len(*h)
	task := x.(*Task)
	task.index = n
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil // avoid memory leak
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// Scheduler runs one-shot and recurring tasks on a fixed worker pool
type Scheduler struct {
	heap     taskHeap
	mu       sync.Mutex
	wakeup   chan struct{}
	tasks    map[string]*Task // for O(1) lookup by ID
	workers  int
	work     chan func()
	workerWg sync.WaitGroup
	started  bool
	stopped  bool
	stopCh   chan struct{}
	fired    int64
}

// NewScheduler creates a scheduler with the given number of workers
func NewScheduler(workers int) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	s := &Scheduler{
		heap:    make(taskHeap, 0),
		wakeup:  make(chan struct{}, 1),
		tasks:   make(map[string]*Task),
		workers: workers,
		work:    make(chan func(), workers),
		stopCh:  make(chan struct{}),
	}
	heap.Init(&s.heap)
	return s
}

// Start starts the worker pool and the scheduler loop
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.workers; i++ {
		s.workerWg.Add(1)
		go s.worker()
	}

	go s.run()
}

// Stop stops dispatching and waits for running callbacks to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.workerWg.Wait()
}

// Schedule adds a one-shot task, replacing any task with the same ID
func (s *Scheduler) Schedule(id string, runAt time.Time, callback func()) error {
	return s.add(&Task{ID: id, RunAt: runAt, Callback: callback})
}

// ScheduleEvery adds a recurring task first run at first and then every interval
func (s *Scheduler) ScheduleEvery(id string, first time.Time, interval time.Duration, callback func()) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	return s.add(&Task{ID: id, RunAt: first, Interval: interval, Callback: callback})
}

func (s *Scheduler) add(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrSchedulerStopped
	}

	if existing, ok := s.tasks[task.ID]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.tasks, task.ID)
	}

	heap.Push(&s.heap, task)
	s.tasks[task.ID] = task

	// Wake up the loop if this is the earliest task
	if s.heap[0] == task {
		select {
		case s.wakeup <- struct{}{}:
		default:
		}
	}

	return nil
}

// Cancel removes a scheduled task
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return false
	}

	heap.Remove(&s.heap, task.index)
	delete(s.tasks, id)
	return true
}

// Next returns when the task with id runs next
func (s *Scheduler) Next(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return time.Time{}, false
	}
	return task.RunAt, true
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	for {
		s.mu.Lock()

		if s.stopped {
			s.mu.Unlock()
			return
		}

		var waitDuration time.Duration
		if s.heap.Len() == 0 {
			waitDuration = 24 * time.Hour
		} else {
			next := s.heap[0]
			waitDuration = time.Until(next.RunAt)

			if waitDuration <= 0 {
				task := heap.Pop(&s.heap).(*Task)
				delete(s.tasks, task.ID)

				if task.Interval > 0 {
					s.reschedule(task)
				}
				s.fired++
				s.mu.Unlock()

				select {
				case s.work <- task.Callback:
				case <-s.stopCh:
					return
				}
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

// reschedule pushes the following occurrence of a recurring task. Missed
// occurrences are skipped rather than run back to back.
func (s *Scheduler) reschedule(task *Task) {
	next := task.RunAt.Add(task.Interval)
	if now := time.Now(); !next.After(now) {
		next = now.Add(task.Interval)
	}

	again := &Task{
		ID:       task.ID,
		RunAt:    next,
		Interval: task.Interval,
		Callback: task.Callback,
	}
	heap.Push(&s.heap, again)
	s.tasks[again.ID] = again
}

// worker executes dispatched callbacks
func (s *Scheduler) worker() {
	defer s.workerWg.Done()

	for {
		select {
		case fn := <-s.work:
			fn()
		case <-s.stopCh:
			return
		}
	}
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		ScheduledTasks: len(s.tasks),
		Workers:        s.workers,
		Fired:          s.fired,
	}
}

// Stats contains statistics about the scheduler
type Stats struct {
	ScheduledTasks int
	Workers        int
	Fired          int64
}

var (
	ErrSchedulerStopped = &Error{"scheduler is stopped"}
	ErrInvalidInterval  = &Error{"interval must be positive"}
)

// Error represents a scheduler error
type Error struct {
	msg string
}

func (e *Error) Error() string {
	return e.msg
}
