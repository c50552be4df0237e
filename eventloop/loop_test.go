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

package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	perrors "github.com/webpet/pulsar/errors"
	"github.com/webpet/pulsar/log"
)

type stubAwaitable struct {
	done  chan struct{}
	value any
	err   error
}

func newStubAwaitable() *stubAwaitable {
	return &stubAwaitable{done: make(chan struct{})}
}

func (s *stubAwaitable) settle(value any, err error) {
	s.value, s.err = value, err
	close(s.done)
}

func (s *stubAwaitable) Done() <-chan struct{} { return s.done }
func (s *stubAwaitable) Outcome() (any, error) { return s.value, s.err }

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	loop, err := New(eventLoopTestOptions()...)
	require.NoError(t, err)
	return loop
}

func eventLoopTestOptions() []Option {
	return []Option{
		WithLogger(log.DiscardLogger),
		WithPollInterval(50 * time.Millisecond),
	}
}

func TestCallSoonOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := newTestLoop(t)
	var order []int
	finished := make(chan struct{})

	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, loop.CallSoon(func() {
			order = append(order, i)
		}))
	}
	require.NoError(t, loop.CallSoon(func() {
		close(finished)
		loop.Stop()
	}))

	require.NoError(t, loop.RunForever())
	<-finished
	require.NoError(t, loop.Close())

	require.Len(t, order, 10)
	for i, got := range order {
		assert.Equal(t, i, got)
	}
}

func TestCallSoonFromOtherGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := newTestLoop(t)
	ran := make(chan struct{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = loop.CallSoon(func() {
			close(ran)
			loop.Stop()
		})
	}()

	require.NoError(t, loop.RunForever())
	<-ran
	require.NoError(t, loop.Close())
}

func TestCallSoonAfterStop(t *testing.T) {
	loop := newTestLoop(t)
	loop.Stop()
	assert.ErrorIs(t, loop.CallSoon(func() {}), perrors.ErrLoopStopped)
	require.NoError(t, loop.Close())
}

func TestCallLaterOrdering(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := newTestLoop(t)
	var order []string

	loop.CallLater(30*time.Millisecond, func() { order = append(order, "third") })
	loop.CallLater(10*time.Millisecond, func() { order = append(order, "first") })
	loop.CallLater(20*time.Millisecond, func() { order = append(order, "second") })
	loop.CallLater(40*time.Millisecond, func() { loop.Stop() })

	require.NoError(t, loop.RunForever())
	require.NoError(t, loop.Close())

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestCallLaterTieBreaksByRegistration(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := newTestLoop(t)
	var order []int

	deadline := time.Now().Add(10 * time.Millisecond)
	for i := 0; i < 5; i++ {
		i := i
		loop.CallAt(deadline, func() { order = append(order, i) })
	}
	loop.CallLater(30*time.Millisecond, func() { loop.Stop() })

	require.NoError(t, loop.RunForever())
	require.NoError(t, loop.Close())

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestTimerCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := newTestLoop(t)
	fired := false

	handle := loop.CallLater(10*time.Millisecond, func() { fired = true })
	handle.Cancel()
	assert.True(t, handle.Cancelled())
	loop.CallLater(30*time.Millisecond, func() { loop.Stop() })

	require.NoError(t, loop.RunForever())
	require.NoError(t, loop.Close())
	assert.False(t, fired)
}

func TestRunUntilComplete(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := newTestLoop(t)
	aw := newStubAwaitable()
	loop.CallLater(10*time.Millisecond, func() { aw.settle("done", nil) })

	value, err := loop.RunUntilComplete(aw)
	require.NoError(t, err)
	assert.Equal(t, "done", value)
	require.NoError(t, loop.Close())
}

func TestRunAlreadyRunning(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := newTestLoop(t)
	started := make(chan struct{})
	require.NoError(t, loop.CallSoon(func() { close(started) }))

	finished := make(chan error, 1)
	go func() { finished <- loop.RunForever() }()
	<-started

	assert.ErrorIs(t, loop.RunForever(), ErrAlreadyRunning)

	loop.Stop()
	require.NoError(t, <-finished)
	require.NoError(t, loop.Close())
}

func TestIsLoopGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := newTestLoop(t)
	assert.False(t, loop.IsLoopGoroutine())

	var onLoop bool
	require.NoError(t, loop.CallSoon(func() {
		onLoop = loop.IsLoopGoroutine()
		loop.Stop()
	}))
	require.NoError(t, loop.RunForever())
	require.NoError(t, loop.Close())
	assert.True(t, onLoop)
}

func TestCallbackPanicDoesNotKillLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	loop := newTestLoop(t)
	survived := false

	require.NoError(t, loop.CallSoon(func() { panic("broken callback") }))
	require.NoError(t, loop.CallSoon(func() {
		survived = true
		loop.Stop()
	}))

	require.NoError(t, loop.RunForever())
	require.NoError(t, loop.Close())
	assert.True(t, survived)
}
