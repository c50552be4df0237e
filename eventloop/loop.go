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

// Package eventloop implements the single-threaded cooperative scheduler that
// drives an actor: a poller for I/O readiness, a timer heap, and an
// immediate-callback queue. A loop instance is bound to exactly one goroutine
// for its lifetime; all queue mutation happens on that goroutine, cross-thread
// scheduling goes through CallSoon and the poller's wake mechanism.
package eventloop

import (
	"container/heap"
	"errors"
	"runtime"
	"sync"
	"time"

	"go.uber.org/atomic"

	perrors "github.com/webpet/pulsar/errors"
	"github.com/webpet/pulsar/internal/queue"
	"github.com/webpet/pulsar/log"
	"github.com/webpet/pulsar/poller"
)

const (
	// DefaultPollInterval bounds a poller wait when no timer is due sooner.
	DefaultPollInterval = time.Second

	// maxReadyPerTick caps immediate-callback execution per tick so a callback
	// that keeps re-enqueuing itself cannot starve I/O. Callbacks enqueued
	// past the cap defer to the next tick.
	maxReadyPerTick = 1024
)

// ErrAlreadyRunning is returned when Run is called on a loop that is running.
var ErrAlreadyRunning = errors.New("event loop is already running")

// Awaitable is the capability contract for anything the loop can wait on:
// a pending outcome that signals settlement by closing Done. Async results,
// mailbox reads, and timer waits all implement it.
type Awaitable interface {
	// Done is closed exactly once, when the outcome settles.
	Done() <-chan struct{}
	// Outcome returns the settled value or failure. Only valid after Done is
	// closed.
	Outcome() (any, error)
}

// ReadyCallback is invoked on the loop goroutine when a registered descriptor
// becomes ready.
type ReadyCallback func(ready poller.Interest)

// Loop is a single-threaded cooperative event loop.
type Loop struct {
	poller       poller.Poller
	logger       log.Logger
	ready        *queue.MPSC[func()]
	timers       timerHeap
	timerMu      sync.Mutex
	watchers     map[int]ReadyCallback
	watcherMu    sync.Mutex
	pollInterval time.Duration

	running     atomic.Bool
	stopped     atomic.Bool
	goroutineID atomic.Uint64
	timerSeq    atomic.Uint64
}

// Option configures a Loop.
type Option func(*Loop)

// WithLogger sets the loop logger.
func WithLogger(logger log.Logger) Option {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithPollInterval overrides the default poll interval.
func WithPollInterval(interval time.Duration) Option {
	return func(l *Loop) {
		l.pollInterval = interval
	}
}

// New creates a stopped Loop with the platform default poller backend.
func New(opts ...Option) (*Loop, error) {
	backend, err := poller.New()
	if err != nil {
		return nil, err
	}

	l := &Loop{
		poller:       backend,
		logger:       log.DefaultLogger,
		ready:        queue.NewMPSC[func()](),
		watchers:     make(map[int]ReadyCallback),
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Poller exposes the loop's readiness backend.
func (l *Loop) Poller() poller.Poller {
	return l.poller
}

// RunForever executes ticks until Stop is called.
func (l *Loop) RunForever() error {
	if err := l.enter(); err != nil {
		return err
	}
	defer l.exit()

	for !l.stopped.Load() {
		l.tick()
	}
	return nil
}

// RunUntilComplete executes ticks until the given Awaitable settles and
// returns its outcome. The loop remains usable afterwards.
func (l *Loop) RunUntilComplete(aw Awaitable) (any, error) {
	if err := l.enter(); err != nil {
		return nil, err
	}
	defer l.exit()

	for !l.stopped.Load() {
		select {
		case <-aw.Done():
			return aw.Outcome()
		default:
		}
		l.tick()
	}

	select {
	case <-aw.Done():
		return aw.Outcome()
	default:
		return nil, perrors.ErrLoopStopped
	}
}

// Stop requests the loop to exit after the current tick. Safe to call from
// any goroutine; idempotent.
func (l *Loop) Stop() {
	if l.stopped.CompareAndSwap(false, true) {
		_ = l.poller.Wake()
	}
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	return l.stopped.Load()
}

// Close releases the poller backend. The loop must not be running.
func (l *Loop) Close() error {
	l.stopped.Store(true)
	return l.poller.Close()
}

// CallSoon enqueues fn to run on the next loop tick, in FIFO order with every
// other immediate callback. Safe to call from any goroutine; callers off the
// loop goroutine wake the poller.
func (l *Loop) CallSoon(fn func()) error {
	if l.stopped.Load() {
		return perrors.ErrLoopStopped
	}

	l.ready.Push(fn)
	if !l.isLoopGoroutine() {
		_ = l.poller.Wake()
	}
	return nil
}

// CallLater schedules fn to run after delay and returns its handle.
func (l *Loop) CallLater(delay time.Duration, fn func()) *TimerHandle {
	return l.CallAt(time.Now().Add(delay), fn)
}

// CallAt schedules fn to run at the given deadline and returns its handle.
func (l *Loop) CallAt(deadline time.Time, fn func()) *TimerHandle {
	handle := &TimerHandle{
		when: deadline,
		seq:  l.timerSeq.Inc(),
		fn:   fn,
	}

	l.timerMu.Lock()
	heap.Push(&l.timers, handle)
	l.timerMu.Unlock()

	if !l.isLoopGoroutine() {
		_ = l.poller.Wake()
	}
	return handle
}

// RegisterFD watches a descriptor for the given interest; cb runs on the loop
// goroutine whenever the descriptor is ready.
func (l *Loop) RegisterFD(fd int, interest poller.Interest, cb ReadyCallback) error {
	if err := l.poller.Register(fd, interest); err != nil {
		return err
	}
	l.watcherMu.Lock()
	l.watchers[fd] = cb
	l.watcherMu.Unlock()

	if !l.isLoopGoroutine() {
		_ = l.poller.Wake()
	}
	return nil
}

// ModifyFD replaces the interest set of a watched descriptor.
func (l *Loop) ModifyFD(fd int, interest poller.Interest) error {
	return l.poller.Modify(fd, interest)
}

// UnregisterFD stops watching a descriptor. Call before closing the fd.
func (l *Loop) UnregisterFD(fd int) error {
	l.watcherMu.Lock()
	delete(l.watchers, fd)
	l.watcherMu.Unlock()
	return l.poller.Unregister(fd)
}

// Wake unblocks the loop if it is waiting in the poller.
func (l *Loop) Wake() {
	_ = l.poller.Wake()
}

// IsLoopGoroutine reports whether the caller runs on the loop's goroutine.
func (l *Loop) IsLoopGoroutine() bool {
	return l.isLoopGoroutine()
}

func (l *Loop) enter() error {
	if l.stopped.Load() {
		return perrors.ErrLoopStopped
	}
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	runtime.LockOSThread()
	l.goroutineID.Store(goroutineID())
	return nil
}

func (l *Loop) exit() {
	l.goroutineID.Store(0)
	l.running.Store(false)
	runtime.UnlockOSThread()
}

// tick is a single loop iteration: poll for I/O bounded by the next timer
// deadline, dispatch ready descriptors, fire due timers in deadline order,
// then drain the immediate-callback queue.
func (l *Loop) tick() {
	timeout := l.pollTimeout()

	events, err := l.poller.Wait(timeout)
	if err != nil {
		l.logger.Errorf("poller wait failed: %v", err)
		l.Stop()
		return
	}

	for _, event := range events {
		l.watcherMu.Lock()
		cb := l.watchers[event.FD]
		l.watcherMu.Unlock()
		if cb != nil {
			l.invoke(func() { cb(event.Ready) })
		}
	}

	l.fireTimers(time.Now())
	l.drainReady()
}

// pollTimeout returns min(time to next timer, poll interval); zero when
// immediate callbacks are already queued.
func (l *Loop) pollTimeout() time.Duration {
	if !l.ready.IsEmpty() {
		return 0
	}

	timeout := l.pollInterval
	l.timerMu.Lock()
	if len(l.timers) > 0 {
		until := time.Until(l.timers[0].when)
		if until < 0 {
			until = 0
		}
		if until < timeout {
			timeout = until
		}
	}
	l.timerMu.Unlock()
	return timeout
}

func (l *Loop) fireTimers(now time.Time) {
	for {
		l.timerMu.Lock()
		if len(l.timers) == 0 || l.timers[0].when.After(now) {
			l.timerMu.Unlock()
			return
		}
		handle := heap.Pop(&l.timers).(*TimerHandle)
		l.timerMu.Unlock()

		if handle.cancelled.Load() {
			continue
		}
		l.invoke(handle.fn)
	}
}

func (l *Loop) drainReady() {
	for i := 0; i < maxReadyPerTick; i++ {
		fn, ok := l.ready.Pop()
		if !ok {
			return
		}
		l.invoke(fn)
	}
}

// invoke runs a callback with panic capture so one faulty callback cannot
// take down the loop.
func (l *Loop) invoke(fn func()) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorf("loop callback panicked: %v", perrors.NewPanicError(r))
		}
	}()
	fn()
}

func (l *Loop) isLoopGoroutine() bool {
	id := l.goroutineID.Load()
	return id != 0 && id == goroutineID()
}

// goroutineID parses the current goroutine id out of the runtime stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] < '0' || buf[i] > '9' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
