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

package actors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpet/pulsar/config"
	"github.com/webpet/pulsar/errors"
	"github.com/webpet/pulsar/log"
)

func fastRetry() MonitorOption {
	return WithRespawnRetry(3, 10*time.Millisecond, 50*time.Millisecond)
}

func TestMonitorStart(t *testing.T) {
	arbiter := newTestArbiter(t)

	monitor, err := arbiter.Supervise(testContext(t), echoDefinition(),
		WithMinWorkers(2),
		WithMonitorLogger(log.DiscardLogger),
		fastRetry())
	require.NoError(t, err)

	assert.Equal(t, 2, monitor.WorkerCount())
	assert.Equal(t, 2, arbiter.ActorCount())

	found, err := arbiter.Monitor("echo")
	require.NoError(t, err)
	assert.Same(t, monitor, found)
}

func TestMonitorLookupUnknown(t *testing.T) {
	arbiter := newTestArbiter(t)
	_, err := arbiter.Monitor("nope")
	assert.ErrorIs(t, err, errors.ErrMonitorNotFound)
}

func TestMonitorRestartAlways(t *testing.T) {
	arbiter := newTestArbiter(t)

	monitor, err := arbiter.Supervise(testContext(t), echoDefinition(),
		WithRestartPolicy(RestartAlways),
		WithMinWorkers(2),
		WithMonitorLogger(log.DiscardLogger),
		fastRetry())
	require.NoError(t, err)

	victim := monitor.Workers()[0]
	_, err = awaitResult(t, victim.Send("crash"))
	require.Error(t, err)

	// the dead worker is replaced by exactly one fresh spawn
	require.Eventually(t, func() bool {
		return monitor.WorkerCount() == 2
	}, 3*time.Second, 20*time.Millisecond)

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 2, monitor.WorkerCount())

	for _, worker := range monitor.Workers() {
		assert.NotEqual(t, victim.ID(), worker.ID())
	}
}

func TestMonitorRestartOnFailureIgnoresCleanExit(t *testing.T) {
	arbiter := newTestArbiter(t)

	monitor, err := arbiter.Supervise(testContext(t), echoDefinition(),
		WithRestartPolicy(RestartOnFailure),
		WithMinWorkers(1),
		WithMonitorLogger(log.DiscardLogger),
		fastRetry())
	require.NoError(t, err)

	worker := monitor.Workers()[0]
	require.NoError(t, worker.Stop(testContext(t)))

	// a clean exit is not a failure; nothing comes back
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, monitor.WorkerCount())
}

func TestMonitorRestartOnFailureRespawnsFault(t *testing.T) {
	arbiter := newTestArbiter(t)

	monitor, err := arbiter.Supervise(testContext(t), echoDefinition(),
		WithRestartPolicy(RestartOnFailure),
		WithMinWorkers(1),
		WithMonitorLogger(log.DiscardLogger),
		fastRetry())
	require.NoError(t, err)

	victim := monitor.Workers()[0]
	_, err = awaitResult(t, victim.Send("crash"))
	require.Error(t, err)

	// the error reply can reach the caller before the worker's mailbox
	// closes; wait for the exit before watching the pool
	select {
	case <-victim.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("crashed worker never exited")
	}

	require.Eventually(t, func() bool {
		workers := monitor.Workers()
		return len(workers) == 1 && workers[0].ID() != victim.ID()
	}, 3*time.Second, 20*time.Millisecond)
}

func TestMonitorRestartNever(t *testing.T) {
	arbiter := newTestArbiter(t)

	monitor, err := arbiter.Supervise(testContext(t), echoDefinition(),
		WithRestartPolicy(RestartNever),
		WithMinWorkers(1),
		WithMonitorLogger(log.DiscardLogger),
		fastRetry())
	require.NoError(t, err)

	victim := monitor.Workers()[0]
	_, err = awaitResult(t, victim.Send("crash"))
	require.Error(t, err)

	select {
	case <-victim.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("crashed worker never exited")
	}
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 0, monitor.WorkerCount())
}

func TestMonitorDispatch(t *testing.T) {
	arbiter := newTestArbiter(t)

	monitor, err := arbiter.Supervise(testContext(t), echoDefinition(),
		WithMinWorkers(2),
		WithMonitorLogger(log.DiscardLogger),
		fastRetry())
	require.NoError(t, err)

	value, err := awaitResult(t, monitor.Dispatch("", "echo", "spread the word"))
	require.NoError(t, err)
	assert.Equal(t, "spread the word", value)
}

func TestMonitorJobOverlap(t *testing.T) {
	arbiter := newTestArbiter(t)

	monitor, err := arbiter.Supervise(testContext(t), echoDefinition(),
		WithMinWorkers(2),
		WithMonitorLogger(log.DiscardLogger),
		fastRetry())
	require.NoError(t, err)

	first := monitor.Dispatch("nightly-sync", "slow")
	assert.Equal(t, 1, monitor.ActiveJobs())

	// the same key is refused with a rejected result while the first job is
	// in flight, and the holder keeps its key
	_, err = awaitResult(t, monitor.Dispatch("nightly-sync", "slow"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrJobOverlap)
	assert.Equal(t, 1, monitor.ActiveJobs())

	// a different key is fine
	_, err = awaitResult(t, monitor.Dispatch("weekly-report", "echo", "ok"))
	require.NoError(t, err)

	// once the first job settles its key is free again
	_, err = awaitResult(t, first)
	require.NoError(t, err)
	assert.Equal(t, 0, monitor.ActiveJobs())

	_, err = awaitResult(t, monitor.Dispatch("nightly-sync", "echo", "rerun"))
	require.NoError(t, err)
}

func TestMonitorRespawnFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Respawn.Attempts = 9
	cfg.Respawn.InitialDelay = config.Duration(25 * time.Millisecond)
	cfg.Respawn.MaxDelay = config.Duration(400 * time.Millisecond)

	arbiter, err := NewArbiter(
		WithConfig(cfg),
		WithArbiterLogger(log.DiscardLogger))
	require.NoError(t, err)
	t.Cleanup(func() { _ = arbiter.Shutdown(testContext(t)) })

	monitor, err := NewMonitor(arbiter, echoDefinition())
	require.NoError(t, err)
	assert.Equal(t, 9, monitor.retryAttempts)
	assert.Equal(t, 25*time.Millisecond, monitor.retryInitial)
	assert.Equal(t, 400*time.Millisecond, monitor.retryMax)

	// a per-monitor option still wins over the configured defaults
	tuned, err := NewMonitor(arbiter, echoDefinition(), fastRetry())
	require.NoError(t, err)
	assert.Equal(t, 3, tuned.retryAttempts)
	assert.Equal(t, 10*time.Millisecond, tuned.retryInitial)
	assert.Equal(t, 50*time.Millisecond, tuned.retryMax)
}

func TestMonitorBroadcast(t *testing.T) {
	arbiter := newTestArbiter(t)

	def := echoDefinition()
	def.Handlers["announce"] = func(ctx *Context, args []any) (any, error) {
		ctx.Notify("heard", ctx.ID())
		return nil, nil
	}

	heard := make(chan struct{}, 4)
	monitor, err := arbiter.Supervise(testContext(t), def,
		WithMinWorkers(2),
		WithMonitorLogger(log.DiscardLogger),
		WithWorkerEventHandler(func(command string, args []any) {
			if command == "heard" {
				heard <- struct{}{}
			}
		}),
		fastRetry())
	require.NoError(t, err)

	monitor.Broadcast("announce")

	for i := 0; i < 2; i++ {
		select {
		case <-heard:
		case <-time.After(2 * time.Second):
			t.Fatalf("worker %d never heard the broadcast", i)
		}
	}
}

func TestMonitorScale(t *testing.T) {
	arbiter := newTestArbiter(t)

	monitor, err := arbiter.Supervise(testContext(t), echoDefinition(),
		WithMinWorkers(1),
		WithMaxWorkers(3),
		WithMonitorLogger(log.DiscardLogger),
		fastRetry())
	require.NoError(t, err)
	require.Equal(t, 1, monitor.WorkerCount())

	require.NoError(t, monitor.Scale(testContext(t), 3))
	assert.Equal(t, 3, monitor.WorkerCount())

	// above the cap the request is clamped
	require.NoError(t, monitor.Scale(testContext(t), 10))
	assert.Equal(t, 3, monitor.WorkerCount())
}

func TestMonitorStop(t *testing.T) {
	arbiter := newTestArbiter(t)

	monitor, err := arbiter.Supervise(testContext(t), echoDefinition(),
		WithRestartPolicy(RestartAlways),
		WithMinWorkers(2),
		WithMonitorLogger(log.DiscardLogger),
		fastRetry())
	require.NoError(t, err)

	require.NoError(t, monitor.Stop(testContext(t)))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, monitor.WorkerCount())
	assert.Equal(t, 0, arbiter.ActorCount())
}
