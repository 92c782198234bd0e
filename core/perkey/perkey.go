// Package perkey provides a scheduler that serializes work per key while
// work for different keys runs concurrently.
//
// The todo application uses it to run commands against one aggregate ID one
// at a time inside a process, which keeps optimistic concurrency conflicts
// for the store to resolve only between processes.
package perkey

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrSchedulerClosed is returned when Do is called on a closed scheduler.
var ErrSchedulerClosed = errors.New("scheduler is closed")

// Option configures a Scheduler.
type Option func(*config)

type config struct {
	bufferSize int
}

// WithBufferSize sets the task buffer size per key (default: 16).
func WithBufferSize(size int) Option {
	return func(c *config) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

// Scheduler runs tasks such that for any key, tasks execute one at a time in
// submission order. A key's worker goroutine exits once its queue is empty.
type Scheduler[K comparable] struct {
	mu         sync.Mutex
	workers    map[K]*worker
	closed     bool
	wg         sync.WaitGroup
	bufferSize int
}

type worker struct {
	tasks chan *task
	// pending counts tasks admitted but not finished. Guarded by Scheduler.mu.
	pending int
}

type task struct {
	fn   func() error
	done chan error
}

func New[K comparable](opts ...Option) *Scheduler[K] {
	cfg := &config{bufferSize: 16}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Scheduler[K]{
		workers:    make(map[K]*worker),
		bufferSize: cfg.bufferSize,
	}
}

// Do schedules fn for key and blocks until it has run.
func (s *Scheduler[K]) Do(key K, fn func() error) error {
	return s.DoContext(context.Background(), key, fn)
}

// DoContext is like Do but stops waiting when ctx is done. A task that was
// already queued still runs.
func (s *Scheduler[K]) DoContext(ctx context.Context, key K, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSchedulerClosed
	}
	s.wg.Add(1)
	defer s.wg.Done()
	w := s.admitLocked(key)
	s.mu.Unlock()

	t := &task{fn: fn, done: make(chan error, 1)}

	select {
	case w.tasks <- t:
	case <-ctx.Done():
		s.finish(key, w)
		return ctx.Err()
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len returns the number of keys with queued or running work.
func (s *Scheduler[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Close stops accepting tasks and waits for callers blocked in Do.
// Queued tasks still run.
func (s *Scheduler[K]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Scheduler[K]) admitLocked(key K) *worker {
	w, ok := s.workers[key]
	if !ok {
		w = &worker{tasks: make(chan *task, s.bufferSize)}
		s.workers[key] = w
		go s.run(key, w)
	}
	w.pending++
	return w
}

// finish retires one admitted task. The worker is dropped when nothing is
// left for its key.
func (s *Scheduler[K]) finish(key K, w *worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w.pending--
	if w.pending == 0 {
		delete(s.workers, key)
		close(w.tasks)
	}
}

func (s *Scheduler[K]) run(key K, w *worker) {
	for t := range w.tasks {
		t.done <- call(t.fn)
		s.finish(key, w)
	}
}

func call(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("perkey: task panicked: %v", r)
		}
	}()
	return fn()
}
