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

// Package async implements the deferred outcome used as the universal currency
// between runtime components. A Result settles exactly once; callbacks chained
// with Then always run on the owning event loop, in registration order.
package async

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/webpet/pulsar/errors"
	"github.com/webpet/pulsar/eventloop"
)

// State is the settlement state of a Result.
type State int32

const (
	// Pending means the outcome is not yet available.
	Pending State = iota
	// Resolved means the Result settled with a value.
	Resolved
	// Rejected means the Result settled with a failure.
	Rejected
	// Cancelled means the Result was cancelled, explicitly or by timeout.
	Cancelled
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Resolved:
		return "RESOLVED"
	case Rejected:
		return "REJECTED"
	case Cancelled:
		return "CANCELLED"
	default:
		return ""
	}
}

// SuccessCallback consumes a settled value. Returning a value resolves the
// chained Result, returning an error rejects it.
type SuccessCallback func(value any) (any, error)

// FailureCallback consumes a settled failure. Returning a nil error recovers:
// the chained Result resolves with the returned value. Returning an error
// keeps the chain rejected.
type FailureCallback func(err error) (any, error)

type callback struct {
	onSuccess SuccessCallback
	onFailure FailureCallback
	child     *Result
}

// Result represents a value that is not yet available. Settlement is terminal
// and idempotent; when cancellation races resolution, the first to land wins.
// Multiple independent chains may be attached; each observes the identical
// settled value or failure.
type Result struct {
	loop *eventloop.Loop

	mu        sync.Mutex
	state     atomic.Int32
	value     any
	err       error
	callbacks []callback
	timeout   *eventloop.TimerHandle
	done      chan struct{}
}

// enforce the loop's capability contract
var _ eventloop.Awaitable = (*Result)(nil)

// NewResult creates a pending Result owned by the given loop. All chained
// callbacks will run on that loop.
func NewResult(loop *eventloop.Loop) *Result {
	return &Result{
		loop: loop,
		done: make(chan struct{}),
	}
}

// ResolvedResult creates a Result already settled with the given value.
func ResolvedResult(loop *eventloop.Loop, value any) *Result {
	r := NewResult(loop)
	r.Resolve(value)
	return r
}

// RejectedResult creates a Result already settled with the given failure.
func RejectedResult(loop *eventloop.Loop, err error) *Result {
	r := NewResult(loop)
	r.Reject(err)
	return r
}

// Loop returns the loop that owns this Result's callbacks.
func (r *Result) Loop() *eventloop.Loop {
	return r.loop
}

// State returns the current settlement state.
func (r *Result) State() State {
	return State(r.state.Load())
}

// Done is closed when the Result settles. Together with Outcome it implements
// the loop's Awaitable contract.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Outcome returns the settled value or failure. Only valid after Done closes.
func (r *Result) Outcome() (any, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value, r.err
}

// Resolve settles the Result with a value. No-op if already settled.
func (r *Result) Resolve(value any) {
	r.settle(Resolved, value, nil)
}

// Reject settles the Result with a failure. No-op if already settled.
func (r *Result) Reject(err error) {
	r.settle(Rejected, nil, err)
}

// Cancel settles the Result with ErrCancelled, propagated to every pending
// callback in the chain. No-op if already settled.
func (r *Result) Cancel() {
	r.settle(Cancelled, nil, errors.ErrCancelled)
}

// Then registers a callback pair and returns a new Result representing the
// pair's own outcome. Callbacks fire exactly once, in registration order, on
// the owning loop, never synchronously from within Then, even when the
// Result is already settled.
func (r *Result) Then(onSuccess SuccessCallback, onFailure FailureCallback) *Result {
	child := NewResult(r.loop)
	cb := callback{onSuccess: onSuccess, onFailure: onFailure, child: child}

	r.mu.Lock()
	if State(r.state.Load()) == Pending {
		r.callbacks = append(r.callbacks, cb)
		r.mu.Unlock()
		return child
	}
	r.mu.Unlock()

	r.dispatch(cb)
	return child
}

// Catch registers only a failure callback.
func (r *Result) Catch(onFailure FailureCallback) *Result {
	return r.Then(nil, onFailure)
}

// AddTimeout schedules cancellation should the Result still be pending after
// delay. Has no effect once the Result settles; a settled Result cancels the
// timer. Returns the receiver for chaining.
func (r *Result) AddTimeout(delay time.Duration) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if State(r.state.Load()) != Pending {
		return r
	}
	if r.timeout != nil {
		r.timeout.Cancel()
	}
	r.timeout = r.loop.CallLater(delay, r.Cancel)
	return r
}

// Await blocks until the Result settles or the context expires. It is meant
// for goroutines other than the owning loop's; the loop itself uses
// RunUntilComplete or Then.
func (r *Result) Await(ctx context.Context) (any, error) {
	select {
	case <-r.done:
		return r.Outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// settle transitions Pending to a terminal state. The first settlement wins;
// later calls are ignored.
func (r *Result) settle(state State, value any, err error) {
	r.mu.Lock()
	if State(r.state.Load()) != Pending {
		r.mu.Unlock()
		return
	}
	r.value = value
	r.err = err
	r.state.Store(int32(state))
	if r.timeout != nil {
		r.timeout.Cancel()
		r.timeout = nil
	}
	callbacks := r.callbacks
	r.callbacks = nil
	close(r.done)
	r.mu.Unlock()

	for _, cb := range callbacks {
		r.dispatch(cb)
	}

	// a settlement from a foreign goroutine must reach a loop blocked in
	// RunUntilComplete even when no callbacks are attached
	if len(callbacks) == 0 && !r.loop.IsLoopGoroutine() {
		r.loop.Wake()
	}
}

// dispatch schedules a callback pair on the owning loop. When the loop has
// already stopped the chain is completed inline so no caller hangs on a child
// that would otherwise never settle.
func (r *Result) dispatch(cb callback) {
	if err := r.loop.CallSoon(func() { r.fire(cb) }); err != nil {
		r.fire(cb)
	}
}

func (r *Result) fire(cb callback) {
	r.mu.Lock()
	value, err := r.value, r.err
	r.mu.Unlock()

	if err == nil {
		if cb.onSuccess == nil {
			cb.child.Resolve(value)
			return
		}
		out, cerr := safeCall(cb.onSuccess, value)
		if cerr != nil {
			cb.child.Reject(cerr)
			return
		}
		cb.child.Resolve(out)
		return
	}

	if cb.onFailure == nil {
		cb.child.Reject(err)
		return
	}
	out, cerr := safeRecover(cb.onFailure, err)
	if cerr != nil {
		cb.child.Reject(cerr)
		return
	}
	cb.child.Resolve(out)
}

func safeCall(fn SuccessCallback, value any) (out any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			out, err = nil, errors.NewPanicError(recovered)
		}
	}()
	return fn(value)
}

func safeRecover(fn FailureCallback, failure error) (out any, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			out, err = nil, errors.NewPanicError(recovered)
		}
	}()
	return fn(failure)
}
