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
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpet/pulsar/async"
	"github.com/webpet/pulsar/errors"
	"github.com/webpet/pulsar/log"
)

func newTestArbiter(t *testing.T) *Arbiter {
	t.Helper()
	arbiter, err := NewArbiter(
		WithArbiterLogger(log.DiscardLogger),
		WithHandshakeTimeout(2*time.Second),
		WithThreadPoolSize(2))
	require.NoError(t, err)
	arbiter.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = arbiter.Shutdown(ctx)
	})
	return arbiter
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func echoDefinition() *Definition {
	return &Definition{
		Name: "echo",
		Handlers: map[string]Handler{
			"echo": func(ctx *Context, args []any) (any, error) {
				if len(args) > 0 {
					return args[0], nil
				}
				return nil, nil
			},
			"fail": func(ctx *Context, args []any) (any, error) {
				return nil, stderrors.New("requested failure")
			},
			"crash": func(ctx *Context, args []any) (any, error) {
				panic("worker crash")
			},
			"slow": func(ctx *Context, args []any) (any, error) {
				deferred := async.NewResult(ctx.Loop())
				ctx.Loop().CallLater(100*time.Millisecond, func() {
					deferred.Resolve("slow done")
				})
				return deferred, nil
			},
		},
	}
}

func awaitResult(t *testing.T, r *async.Result) (any, error) {
	t.Helper()
	return r.Await(testContext(t))
}

func TestNewArbiterInvalidTimeout(t *testing.T) {
	_, err := NewArbiter(WithHandshakeTimeout(0))
	assert.ErrorIs(t, err, errors.ErrInvalidTimeout)

	_, err = NewArbiter(WithShutdownGrace(-time.Second))
	assert.ErrorIs(t, err, errors.ErrInvalidTimeout)
}

func TestSpawn(t *testing.T) {
	arbiter := newTestArbiter(t)

	handle, err := arbiter.SpawnSync(testContext(t), echoDefinition())
	require.NoError(t, err)
	require.NotNil(t, handle)

	assert.Equal(t, Running, handle.State())
	assert.Equal(t, "echo", handle.Name())
	assert.NotEmpty(t, handle.ID())

	registered, ok := arbiter.Actor(handle.ID())
	require.True(t, ok)
	assert.Same(t, handle, registered)
	assert.Equal(t, 1, arbiter.ActorCount())
}

func TestSpawnValidation(t *testing.T) {
	arbiter := newTestArbiter(t)

	_, err := arbiter.SpawnSync(testContext(t), &Definition{Name: "  "})
	require.Error(t, err)

	var spawnErr *errors.SpawnError
	assert.True(t, stderrors.As(err, &spawnErr))
}

func TestSendEcho(t *testing.T) {
	arbiter := newTestArbiter(t)
	handle, err := arbiter.SpawnSync(testContext(t), echoDefinition())
	require.NoError(t, err)

	value, err := awaitResult(t, handle.Send("echo", "hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", value)
}

func TestSendUnhandledCommand(t *testing.T) {
	arbiter := newTestArbiter(t)
	handle, err := arbiter.SpawnSync(testContext(t), echoDefinition())
	require.NoError(t, err)

	_, err = awaitResult(t, handle.Send("frobnicate"))
	require.Error(t, err)

	var remoteErr *RemoteError
	require.True(t, stderrors.As(err, &remoteErr))
	assert.Contains(t, remoteErr.Message, "unhandled command")
	// the actor survives an unknown command
	assert.Equal(t, Running, handle.State())
}

func TestSendHandlerFailure(t *testing.T) {
	arbiter := newTestArbiter(t)
	handle, err := arbiter.SpawnSync(testContext(t), echoDefinition())
	require.NoError(t, err)

	_, err = awaitResult(t, handle.Send("fail"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requested failure")
	// a plain handler error does not bring the actor down
	assert.Equal(t, Running, handle.State())
}

func TestSendDeferredReply(t *testing.T) {
	arbiter := newTestArbiter(t)
	handle, err := arbiter.SpawnSync(testContext(t), echoDefinition())
	require.NoError(t, err)

	value, err := awaitResult(t, handle.Send("slow"))
	require.NoError(t, err)
	assert.Equal(t, "slow done", value)
}

func TestPing(t *testing.T) {
	arbiter := newTestArbiter(t)
	handle, err := arbiter.SpawnSync(testContext(t), echoDefinition())
	require.NoError(t, err)

	value, err := awaitResult(t, handle.Ping())
	require.NoError(t, err)
	assert.Equal(t, "pong", value)
}

func TestHandshakeTimeout(t *testing.T) {
	arbiter := newTestArbiter(t)

	def := echoDefinition()
	def.OnStart = func(ctx *Context) error {
		time.Sleep(300 * time.Millisecond)
		return nil
	}

	_, err := arbiter.SpawnSync(testContext(t), def, WithSpawnTimeout(50*time.Millisecond))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrHandshakeTimeout)
	assert.Equal(t, 0, arbiter.ActorCount())
}

func TestOnStartFailureFailsSpawn(t *testing.T) {
	arbiter := newTestArbiter(t)

	def := echoDefinition()
	def.OnStart = func(ctx *Context) error {
		return stderrors.New("no database")
	}

	_, err := arbiter.SpawnSync(testContext(t), def)
	require.Error(t, err)

	var spawnErr *errors.SpawnError
	assert.True(t, stderrors.As(err, &spawnErr))
	assert.Equal(t, 0, arbiter.ActorCount())
}

func TestGracefulStop(t *testing.T) {
	arbiter := newTestArbiter(t)

	stopped := make(chan struct{})
	def := echoDefinition()
	def.OnStop = func(ctx *Context) error {
		close(stopped)
		return nil
	}

	handle, err := arbiter.SpawnSync(testContext(t), def)
	require.NoError(t, err)

	require.NoError(t, handle.Stop(testContext(t)))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop hook never ran")
	}

	<-handle.Done()
	assert.Equal(t, Terminated, handle.State())
	assert.NoError(t, handle.Err())
	assert.Equal(t, 0, arbiter.ActorCount())

	// a dead actor refuses further commands
	_, err = awaitResult(t, handle.Send("echo", "too late"))
	assert.ErrorIs(t, err, errors.ErrDead)
}

func TestPanicFaultsActor(t *testing.T) {
	arbiter := newTestArbiter(t)
	handle, err := arbiter.SpawnSync(testContext(t), echoDefinition())
	require.NoError(t, err)

	_, err = awaitResult(t, handle.Send("crash"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker crash")

	select {
	case <-handle.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("faulted actor never exited")
	}
	assert.Equal(t, Faulted, handle.State())
	assert.Error(t, handle.Err())
	assert.Equal(t, 0, arbiter.ActorCount())
}

func TestActorEvents(t *testing.T) {
	arbiter := newTestArbiter(t)

	def := echoDefinition()
	def.Handlers["note"] = func(ctx *Context, args []any) (any, error) {
		ctx.Notify("ack", args...)
		return nil, nil
	}

	events := make(chan string, 4)
	handle, err := arbiter.SpawnSync(testContext(t), def,
		WithEventHandler(func(command string, args []any) {
			events <- command
		}))
	require.NoError(t, err)

	handle.Tell("note", "something happened")

	select {
	case command := <-events:
		assert.Equal(t, "ack", command)
	case <-time.After(2 * time.Second):
		t.Fatal("event never surfaced")
	}
}

func TestArbiterShutdown(t *testing.T) {
	arbiter, err := NewArbiter(
		WithArbiterLogger(log.DiscardLogger),
		WithHandshakeTimeout(2*time.Second))
	require.NoError(t, err)
	arbiter.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var handles []*Handle
	for i := 0; i < 3; i++ {
		handle, serr := arbiter.SpawnSync(ctx, echoDefinition())
		require.NoError(t, serr)
		handles = append(handles, handle)
	}
	require.Equal(t, 3, arbiter.ActorCount())

	require.NoError(t, arbiter.Shutdown(ctx))
	assert.Equal(t, 0, arbiter.ActorCount())
	for _, handle := range handles {
		select {
		case <-handle.Done():
		default:
			t.Fatalf("actor %s still alive after shutdown", handle.ID())
		}
	}

	// spawning after shutdown is refused
	_, err = arbiter.SpawnSync(context.Background(), echoDefinition())
	assert.ErrorIs(t, err, errors.ErrArbiterStopped)
}
