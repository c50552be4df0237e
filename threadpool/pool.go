/*
 * MIT License
 *
 * Copyright (c) 2024-2026 Pulsar Authors
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package threadpool runs blocking or CPU-bound work off the event loops. Jobs
// are executed by a fixed set of worker goroutines in submission order; each
// job's outcome settles an async result owned by the submitting loop, so
// completion is observed back on that loop like any other callback.
package threadpool

import (
	"runtime"
	"sync"

	"github.com/Workiva/go-datastructures/queue"
	"go.uber.org/atomic"

	"github.com/webpet/pulsar/async"
	"github.com/webpet/pulsar/errors"
	"github.com/webpet/pulsar/eventloop"
	"github.com/webpet/pulsar/log"
)

// Task is a unit of blocking work.
type Task func() (any, error)

type job struct {
	task   Task
	result *async.Result
}

// Pool is a fixed-size worker pool backed by an unbounded FIFO task queue.
type Pool struct {
	logger  log.Logger
	tasks   *queue.Queue
	size    int
	stopped atomic.Bool
	wg      sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithPoolLogger sets the pool logger.
func WithPoolLogger(logger log.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New creates a Pool and starts its workers. A non-positive size defaults to
// the number of CPUs.
func New(size int, opts ...Option) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}

	p := &Pool{
		logger: log.DefaultLogger,
		tasks:  queue.New(int64(size)),
		size:   size,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

// Size returns the worker count.
func (p *Pool) Size() int {
	return p.size
}

// Submit enqueues a task and returns an async result owned by the given loop.
// The result resolves with the task's value, or rejects with its error; a
// panicking task rejects with a PanicError. After Stop the result is rejected
// with ErrPoolStopped.
func (p *Pool) Submit(loop *eventloop.Loop, task Task) *async.Result {
	result := async.NewResult(loop)
	if p.stopped.Load() {
		result.Reject(errors.ErrPoolStopped)
		return result
	}
	if err := p.tasks.Put(&job{task: task, result: result}); err != nil {
		result.Reject(errors.ErrPoolStopped)
	}
	return result
}

// Stop disposes the queue and waits for in-flight tasks to finish. Queued
// tasks that never ran have their results rejected with ErrPoolStopped.
func (p *Pool) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	orphans := p.tasks.Dispose()
	for _, item := range orphans {
		if j, ok := item.(*job); ok {
			j.result.Reject(errors.ErrPoolStopped)
		}
	}
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		items, err := p.tasks.Get(1)
		if err != nil {
			// queue disposed
			return
		}
		for _, item := range items {
			j, ok := item.(*job)
			if !ok {
				continue
			}
			p.execute(j)
		}
	}
}

func (p *Pool) execute(j *job) {
	value, err := p.safeRun(j.task)
	if err != nil {
		j.result.Reject(err)
		return
	}
	j.result.Resolve(value)
}

func (p *Pool) safeRun(task Task) (value any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			perr := errors.NewPanicError(recovered)
			p.logger.Errorf("threadpool task panicked: %v", perr)
			value, err = nil, perr
		}
	}()
	return task()
}
