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

// Package actors implements the supervision layer: spawned actors running on
// their own event loops, handles for talking to them, monitors that keep
// worker pools alive, and the arbiter that owns the registry. Actors share
// nothing; every interaction crosses a mailbox.
package actors

import (
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/webpet/pulsar/async"
	"github.com/webpet/pulsar/errors"
	"github.com/webpet/pulsar/eventloop"
	"github.com/webpet/pulsar/log"
	"github.com/webpet/pulsar/mailbox"
)

// actor is the child-side runtime: one goroutine, one loop, one mailbox back
// to the supervisor. All fields except lifecycle are loop-confined.
type actor struct {
	id           string
	definition   *Definition
	logger       log.Logger
	loop         *eventloop.Loop
	mbox         *mailbox.Mailbox
	pollInterval time.Duration
	lifecycle    atomic.Int32
	exitErr      error
}

// launch starts the actor goroutine over the child descriptor. Ownership of
// fd transfers to the actor.
func launch(id string, def *Definition, fd int, logger log.Logger, pollInterval time.Duration) {
	a := &actor{
		id:           id,
		definition:   def,
		logger:       logger.With("actor", def.Name, "id", id),
		pollInterval: pollInterval,
	}
	go a.run(fd)
}

func (a *actor) run(fd int) {
	opts := []eventloop.Option{eventloop.WithLogger(a.logger)}
	if a.pollInterval > 0 {
		opts = append(opts, eventloop.WithPollInterval(a.pollInterval))
	}
	loop, err := eventloop.New(opts...)
	if err != nil {
		a.logger.Errorf("actor loop setup failed: %v", err)
		_ = unix.Close(fd)
		return
	}
	a.loop = loop

	mbox, err := mailbox.New(loop, fd,
		mailbox.WithHandler(a.onMessage),
		mailbox.WithCloseHandler(a.onPeerClosed),
		mailbox.WithMailboxLogger(a.logger))
	if err != nil {
		a.logger.Errorf("actor mailbox setup failed: %v", err)
		_ = unix.Close(fd)
		_ = loop.Close()
		return
	}
	a.mbox = mbox

	_ = loop.CallSoon(a.start)
	if err := loop.RunForever(); err != nil {
		a.logger.Errorf("actor loop exited with error: %v", err)
	}
	_ = loop.Close()
}

func (a *actor) currentState() State {
	return State(a.lifecycle.Load())
}

func (a *actor) setState(s State) {
	a.lifecycle.Store(int32(s))
}

// start runs the OnStart hook and then announces readiness. The actor only
// becomes RUNNING once the supervisor acknowledges the handshake.
func (a *actor) start() {
	if hook := a.definition.OnStart; hook != nil {
		if err := a.invokeHook(hook); err != nil {
			a.logger.Errorf("actor start failed: %v", err)
			a.fault(errors.NewSpawnError(err))
			return
		}
	}

	a.mbox.SendCommand(cmdReady, a.id).Then(
		func(any) (any, error) {
			a.setState(Running)
			a.logger.Debug("actor running")
			return nil, nil
		},
		func(err error) (any, error) {
			a.fault(err)
			return nil, err
		})
}

func (a *actor) onMessage(msg *mailbox.Message) {
	switch msg.Opcode {
	case mailbox.OpCommand:
		a.handleCommand(msg)
	case mailbox.OpEvent:
		a.handleEvent(msg)
	}
}

func (a *actor) handleCommand(msg *mailbox.Message) {
	switch msg.Command {
	case cmdStop:
		a.stop(msg.AckID)
		return
	case cmdPing:
		a.mbox.Reply(msg.AckID, cmdPing, replyArgs(pongValue, nil)...)
		return
	}

	handler, ok := a.definition.Handlers[msg.Command]
	if !ok {
		a.mbox.Reply(msg.AckID, msg.Command, replyArgs(nil, errors.NewErrUnhandled(msg.Command))...)
		return
	}

	value, err, panicked := a.invokeHandler(handler, msg.Args)
	if panicked {
		// the handler broke an invariant; answer the caller then bring the
		// actor down so the supervisor can apply its restart policy
		a.mbox.Reply(msg.AckID, msg.Command, replyArgs(nil, err)...)
		a.fault(err)
		return
	}

	if deferred, ok := value.(*async.Result); ok && err == nil {
		deferred.Then(
			func(v any) (any, error) {
				a.mbox.Reply(msg.AckID, msg.Command, replyArgs(v, nil)...)
				return nil, nil
			},
			func(derr error) (any, error) {
				a.mbox.Reply(msg.AckID, msg.Command, replyArgs(nil, derr)...)
				return nil, nil
			})
		return
	}

	a.mbox.Reply(msg.AckID, msg.Command, replyArgs(value, err)...)
}

func (a *actor) handleEvent(msg *mailbox.Message) {
	handler, ok := a.definition.Handlers[msg.Command]
	if !ok {
		a.logger.Debugf("actor discarding event %s", msg.Command)
		return
	}
	if _, err, panicked := a.invokeHandler(handler, msg.Args); panicked {
		a.fault(err)
	} else if err != nil {
		a.logger.Warnf("event %s handler failed: %v", msg.Command, err)
	}
}

func (a *actor) invokeHandler(handler Handler, args []any) (value any, err error, panicked bool) {
	defer func() {
		if recovered := recover(); recovered != nil {
			value, err, panicked = nil, errors.NewPanicError(recovered), true
		}
	}()
	value, err = handler(newContext(a), args)
	return value, err, false
}

func (a *actor) invokeHook(hook Hook) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.NewPanicError(recovered)
		}
	}()
	return hook(newContext(a))
}

// stop performs a graceful shutdown. ackID is the stop command's correlation
// id, or zero when the actor is stopping on its own initiative.
func (a *actor) stop(ackID uint64) {
	state := a.currentState()
	if state == Stopping || state.Terminal() {
		return
	}
	a.setState(Stopping)

	if hook := a.definition.OnStop; hook != nil {
		if err := a.invokeHook(hook); err != nil {
			a.logger.Warnf("actor stop hook failed: %v", err)
		}
	}
	if ackID != mailbox.NoAck {
		a.mbox.Reply(ackID, cmdStop, replyArgs(nil, nil)...)
	}
	a.mbox.SendEvent(evtExit, "")
	a.finish(Terminated, nil)
}

// fault records a failure exit and tears the actor down.
func (a *actor) fault(err error) {
	if a.currentState().Terminal() {
		return
	}
	a.exitErr = err
	a.mbox.SendEvent(evtExit, err.Error())
	a.finish(Faulted, err)
}

func (a *actor) finish(state State, err error) {
	a.setState(state)
	a.exitErr = err
	a.mbox.Close()
	a.loop.Stop()
}

// onPeerClosed fires when the supervisor side of the mailbox goes away. With
// nobody left to answer to, the actor runs its stop hook and exits.
func (a *actor) onPeerClosed(err error) {
	if a.currentState().Terminal() {
		return
	}
	a.logger.Warnf("supervisor link lost: %v", err)
	a.setState(Stopping)
	if hook := a.definition.OnStop; hook != nil {
		if herr := a.invokeHook(hook); herr != nil {
			a.logger.Warnf("actor stop hook failed: %v", herr)
		}
	}
	a.setState(Terminated)
	a.loop.Stop()
}
