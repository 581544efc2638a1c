// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 LuminAuth Contributors

// Package sched models the proxy's split between the primary execution
// context, which must never block, and worker contexts where synchronous I/O
// is allowed.
//
// The primary context is identified by a marker on its context.Context.
// Blocking entry points call AssertOffPrimary; a violation is a programmer
// error, fatal when debug mode is on and logged otherwise.
package sched

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samber/oops"
)

type ctxKey struct{}

// MarkPrimary tags ctx as belonging to the primary execution context.
func MarkPrimary(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, true)
}

// OffPrimary strips the primary marker, producing a context suitable for
// worker-side execution derived from a primary-context request.
func OffPrimary(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, false)
}

// OnPrimary reports whether ctx carries the primary marker.
func OnPrimary(ctx context.Context) bool {
	v, _ := ctx.Value(ctxKey{}).(bool)
	return v
}

// Guard checks the primary-context contract for blocking operations.
type Guard struct {
	debug  bool
	logger *slog.Logger
}

// NewGuard creates a Guard. With debug on, violations panic; otherwise they
// are logged and execution continues best-effort.
func NewGuard(debug bool, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{debug: debug, logger: logger}
}

// AssertOffPrimary verifies the calling context is not the primary one.
func (g *Guard) AssertOffPrimary(ctx context.Context, op string) {
	if !OnPrimary(ctx) {
		return
	}
	if g.debug {
		panic("blocking operation " + op + " invoked on the primary execution context")
	}
	g.logger.Error("blocking operation invoked on the primary execution context",
		"operation", op)
}

// Future is a single-assignment result handle. It resolves exactly once with
// either a value or an error.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// NewFuture creates an unresolved Future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// resolve completes the future. Subsequent calls are ignored so the handle
// returns exactly once.
func (f *Future[T]) resolve(val T, err error) {
	select {
	case <-f.done:
		return
	default:
	}
	f.val = val
	f.err = err
	close(f.done)
}

// Await blocks until the future resolves or ctx is cancelled. Intended for
// worker contexts and tests; primary-context callers use Then.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, oops.Code("SCHED_AWAIT_CANCELLED").Wrap(ctx.Err())
	}
}

// Then attaches a continuation invoked on a fresh goroutine once the future
// resolves. It never blocks the caller.
func (f *Future[T]) Then(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.val, f.err)
	}()
}

// Done exposes the completion channel for select loops.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Pool is a fixed-size worker pool for I/O-bound tasks.
type Pool struct {
	tasks chan func()
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool starts a pool with the given number of workers (minimum 1).
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{tasks: make(chan func(), workers*4)}
	p.wg.Add(workers)
	for range workers {
		go func() {
			defer p.wg.Done()
			for task := range p.tasks {
				task()
			}
		}()
	}
	return p
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}

// submit enqueues a raw task. Returns false if the pool is closed. It never
// blocks: when the queue is full the task overflows onto its own tracked
// goroutine.
func (p *Pool) submit(task func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- task:
	default:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			task()
		}()
	}
	return true
}

// Submit schedules fn on a worker context and returns its Future. fn receives
// a context with the primary marker stripped. A closed pool resolves the
// future immediately with an error, so the handle still returns exactly once.
func Submit[T any](p *Pool, ctx context.Context, fn func(ctx context.Context) (T, error)) *Future[T] {
	f := NewFuture[T]()
	workerCtx := OffPrimary(ctx)
	ok := p.submit(func() {
		val, err := fn(workerCtx)
		f.resolve(val, err)
	})
	if !ok {
		var zero T
		f.resolve(zero, oops.Code("SCHED_POOL_CLOSED").Errorf("worker pool is closed"))
	}
	return f
}
