// Package dispatch runs independent per-image jobs on a bounded pool of
// workers and hands results back as futures, which callers collect in
// submission order so that positional naming stays correct no matter which job
// finishes first.
package dispatch

import (
	"fmt"
	"runtime"
)

// Pool bounds how many tasks run at once. There is no cancellation: a task
// that never returns blocks whoever waits on it.
type Pool struct {
	slots chan struct{}
}

// New creates a pool running at most workers tasks concurrently. Zero or a
// negative count selects one worker per CPU.
func New(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Pool{slots: make(chan struct{}, workers)}
}

// Workers is the concurrency bound.
func (p *Pool) Workers() int { return cap(p.slots) }

// Future is the pending result of a submitted task.
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the task has finished.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Result blocks until the task finishes.
func (f *Future[T]) Result() (T, error) {
	<-f.done
	return f.value, f.err
}

// Submit schedules task on p. Submission never blocks; the task waits for a
// free slot. A panic inside task is reported as its error.
func Submit[T any](p *Pool, task func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		p.slots <- struct{}{}
		defer func() { <-p.slots }()
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				f.err = fmt.Errorf("dispatch: task panicked: %v", r)
			}
		}()
		f.value, f.err = task()
	}()
	return f
}

// Collect waits for futures in order and returns their values. It stops at
// the first failure in submission order; later tasks still run to completion
// but their results are dropped.
func Collect[T any](futures []*Future[T]) ([]T, error) {
	out := make([]T, len(futures))
	for i, f := range futures {
		v, err := f.Result()
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Map applies fn to every input on p and returns the results in input order.
func Map[In, Out any](p *Pool, inputs []In, fn func(In) (Out, error)) ([]Out, error) {
	futures := make([]*Future[Out], len(inputs))
	for i, in := range inputs {
		futures[i] = Submit(p, func() (Out, error) { return fn(in) })
	}
	return Collect(futures)
}
