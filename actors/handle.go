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
	"sync"

	"go.uber.org/atomic"

	"github.com/webpet/pulsar/async"
	"github.com/webpet/pulsar/errors"
	"github.com/webpet/pulsar/log"
	"github.com/webpet/pulsar/mailbox"
)

// EventHandler receives one-way events an actor sends to its supervisor,
// on the supervisor's loop goroutine. The built-in exit event is consumed
// before user handlers see anything.
type EventHandler func(command string, args []any)

// Handle is the supervisor-side reference to a spawned actor. It is safe for
// use from any goroutine.
type Handle struct {
	id     string
	name   string
	logger log.Logger
	mbox   *mailbox.Mailbox

	lifecycle atomic.Int32

	// settled on the supervisor loop before done closes
	exitErr  error
	exitSeen bool

	done     chan struct{}
	doneOnce sync.Once

	onReady func(msg *mailbox.Message)
	onEvent EventHandler
	onExit  func(h *Handle, err error)
}

// ID returns the actor id.
func (h *Handle) ID() string {
	return h.id
}

// Name returns the actor kind name.
func (h *Handle) Name() string {
	return h.name
}

// State returns the last observed lifecycle state of the actor.
func (h *Handle) State() State {
	return State(h.lifecycle.Load())
}

// Done is closed once the actor has exited, for whatever reason.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns the exit failure. Only valid after Done is closed; nil means a
// clean exit.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.exitErr
	default:
		return nil
	}
}

// Send delivers a command to the actor and returns an async result, owned by
// the supervisor loop, settled with the handler's value or failure. A dead
// actor rejects immediately with ErrDead.
func (h *Handle) Send(command string, args ...any) *async.Result {
	if h.State().Terminal() {
		return async.RejectedResult(h.mbox.Loop(), errors.ErrDead)
	}
	return h.mbox.SendCommand(command, args...).Then(
		func(value any) (any, error) {
			return parseReply(value.(*mailbox.Message))
		}, nil)
}

// Tell delivers a one-way event to the actor. No delivery confirmation.
func (h *Handle) Tell(command string, args ...any) {
	if h.State().Terminal() {
		return
	}
	h.mbox.SendEvent(command, args...)
}

// Ping checks liveness; the result resolves with "pong".
func (h *Handle) Ping() *async.Result {
	return h.Send(cmdPing)
}

// Stop shuts the actor down gracefully, waiting until it exits or the context
// expires. On expiry the actor is killed. Idempotent.
func (h *Handle) Stop(ctx context.Context) error {
	select {
	case <-h.done:
		return nil
	default:
	}

	stopAck := h.mbox.SendCommand(cmdStop)
	if _, err := stopAck.Await(ctx); err != nil {
		h.Kill()
		return err
	}

	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		h.Kill()
		return ctx.Err()
	}
}

// Kill severs the mailbox link immediately. The actor notices the loss and
// tears itself down; no stop acknowledgement is awaited.
func (h *Handle) Kill() {
	h.runOnLoop(func() {
		h.settleExit(Terminated, errors.ErrDead)
		h.mbox.Close()
	})
}

func (h *Handle) runOnLoop(fn func()) {
	loop := h.mbox.Loop()
	if loop.IsLoopGoroutine() {
		fn()
		return
	}
	if err := loop.CallSoon(fn); err != nil {
		fn()
	}
}

// onMessage is the supervisor-side mailbox handler. Loop goroutine only.
func (h *Handle) onMessage(msg *mailbox.Message) {
	switch {
	case msg.Opcode == mailbox.OpCommand && msg.Command == cmdReady:
		if h.onReady != nil {
			h.onReady(msg)
		}
	case msg.Opcode == mailbox.OpEvent && msg.Command == evtExit:
		h.recordExit(msg)
	case msg.Opcode == mailbox.OpEvent:
		if h.onEvent != nil {
			h.onEvent(msg.Command, msg.Args)
		} else {
			h.logger.Debugf("actor %s event %s discarded", h.id, msg.Command)
		}
	default:
		h.logger.Warnf("actor %s sent unexpected %s %s", h.id, msg.Opcode, msg.Command)
	}
}

// recordExit notes the actor's own exit report. The link still closes
// afterwards; final settlement happens in onClosed.
func (h *Handle) recordExit(msg *mailbox.Message) {
	h.exitSeen = true
	reason := ""
	if len(msg.Args) > 0 {
		reason, _ = msg.Args[0].(string)
	}
	if reason != "" {
		h.exitErr = &RemoteError{Command: evtExit, Message: reason}
		h.lifecycle.Store(int32(Faulted))
		return
	}
	h.lifecycle.Store(int32(Stopping))
}

// onClosed fires when the mailbox link drops. Loop goroutine only.
func (h *Handle) onClosed(error) {
	if h.exitSeen {
		if h.exitErr != nil {
			h.settleExit(Faulted, h.exitErr)
		} else {
			h.settleExit(Terminated, nil)
		}
		return
	}
	// no exit report means the actor died without a word
	h.settleExit(Faulted, errors.ErrDead)
}

// settleExit records the terminal state exactly once and notifies watchers.
func (h *Handle) settleExit(state State, err error) {
	h.doneOnce.Do(func() {
		h.exitErr = err
		h.lifecycle.Store(int32(state))
		close(h.done)
		if h.onExit != nil {
			h.onExit(h, err)
		}
	})
}

func newHandle(id, name string, logger log.Logger) *Handle {
	return &Handle{
		id:     id,
		name:   name,
		logger: logger,
		done:   make(chan struct{}),
	}
}
