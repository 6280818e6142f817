// Package taskqueue runs animation tasks one at a time with a fixed
// pause between them, so queued expressions and audio snippets play out
// at a watchable pace instead of all at once.
package taskqueue

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTaskDelay is the pause inserted after each task.
const DefaultTaskDelay = 3 * time.Second

// Task is a unit of queued work.
type Task func()

// Clock abstracts timing so tests can drive the queue without sleeping.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Queue executes tasks sequentially, pausing delay after each one.
type Queue struct {
	mu    sync.Mutex
	tasks []Task
	wake  chan struct{}

	delay time.Duration
	clock Clock
	log   zerolog.Logger

	done    chan struct{}
	stopped sync.Once
}

// Option configures a Queue.
type Option func(*Queue)

// WithDelay overrides the pause inserted after each task.
func WithDelay(d time.Duration) Option {
	return func(q *Queue) { q.delay = d }
}

// WithClock substitutes the timing source.
func WithClock(c Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// New creates a Queue and starts its worker.
func New(log zerolog.Logger, opts ...Option) *Queue {
	q := &Queue{
		wake:  make(chan struct{}, 1),
		delay: DefaultTaskDelay,
		clock: realClock{},
		log:   log.With().Str("component", "taskqueue").Logger(),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

// Add appends a task to the queue.
func (q *Queue) Add(t Task) {
	if t == nil {
		return
	}
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Clear drops all pending tasks. The task currently executing is not
// interrupted.
func (q *Queue) Clear() {
	q.mu.Lock()
	dropped := len(q.tasks)
	q.tasks = nil
	q.mu.Unlock()

	if dropped > 0 {
		q.log.Debug().Int("dropped", dropped).Msg("Cleared pending tasks")
	}
}

// Pending returns the number of tasks waiting to run.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Stop shuts down the worker. Pending tasks are discarded.
func (q *Queue) Stop() {
	q.stopped.Do(func() {
		close(q.done)
	})
	q.Clear()
}

func (q *Queue) run() {
	for {
		task := q.pop()
		if task == nil {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}

		q.execute(task)

		select {
		case <-q.clock.After(q.delay):
		case <-q.done:
			return
		}
	}
}

func (q *Queue) pop() Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task
}

// execute runs a task, containing any panic so one bad task cannot kill
// the worker.
func (q *Queue) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Msg("Task panicked")
		}
	}()
	task()
}
