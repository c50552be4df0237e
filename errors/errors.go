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

package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshakeTimeout is returned when a spawned actor fails to send its
	// ready handshake within the spawn deadline. The spawn result is rejected
	// with this error and the partially started actor is torn down.
	ErrHandshakeTimeout = errors.New("actor handshake timed out")

	// ErrMailboxClosed indicates that the mailbox connection was closed by the
	// peer or torn down while messages were still expected.
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrProtocol indicates a malformed mailbox frame or an unknown opcode.
	// A protocol error closes the connection; it is never silently ignored.
	ErrProtocol = errors.New("mailbox protocol error")

	// ErrCancelled is the failure carried by a cancelled async result. Timeout
	// driven cancellation and explicit Cancel both reject pending callbacks
	// with this error.
	ErrCancelled = errors.New("async result cancelled")

	// ErrRestartExhausted is returned when a monitor could not restore its
	// minimum worker count after repeated respawn attempts.
	ErrRestartExhausted = errors.New("restart attempts exhausted")

	// ErrJobOverlap is returned when a spawn is requested for a job key that
	// already has a running or starting instance and overlap is not allowed.
	ErrJobOverlap = errors.New("job instance already active")

	// ErrDead indicates that the actor is no longer alive.
	ErrDead = errors.New("actor is not alive")

	// ErrUnhandled is returned when an actor receives a command it has no
	// handler for.
	ErrUnhandled = errors.New("unhandled command")

	// ErrArbiterStopped is returned when a spawn or send is attempted after the
	// arbiter began its shutdown sequence.
	ErrArbiterStopped = errors.New("arbiter is shutting down")

	// ErrLoopStopped is returned when work is scheduled on an event loop that
	// has already stopped.
	ErrLoopStopped = errors.New("event loop has stopped")

	// ErrPoolStopped is returned when a task is submitted to a stopped thread pool.
	ErrPoolStopped = errors.New("thread pool has stopped")

	// ErrMonitorNotFound is returned when a spawn names an unregistered monitor.
	ErrMonitorNotFound = errors.New("monitor is not registered")

	// ErrNoWorkers is returned when a dispatch finds the worker pool empty.
	ErrNoWorkers = errors.New("no workers available")

	// ErrInvalidTimeout is returned when a timeout value is less than or equal to zero.
	ErrInvalidTimeout = errors.New("invalid timeout")
)

// NewErrHandshakeTimeout formats an ErrHandshakeTimeout with the actor id.
func NewErrHandshakeTimeout(actorID string) error {
	return fmt.Errorf("actor=(%s) %w", actorID, ErrHandshakeTimeout)
}

// NewErrProtocol wraps a base error with ErrProtocol for additional context.
func NewErrProtocol(err error) error {
	return errors.Join(ErrProtocol, err)
}

// NewErrJobOverlap formats an ErrJobOverlap with the offending job key.
func NewErrJobOverlap(jobKey string) error {
	return fmt.Errorf("job=(%s) %w", jobKey, ErrJobOverlap)
}

// NewErrUnhandled formats an ErrUnhandled with the command name.
func NewErrUnhandled(command string) error {
	return fmt.Errorf("command=(%s) %w", command, ErrUnhandled)
}

// NewErrRestartExhausted wraps a base error with ErrRestartExhausted.
func NewErrRestartExhausted(err error) error {
	return errors.Join(ErrRestartExhausted, err)
}

// PanicError wraps a panic recovered from actor logic or a thread pool task.
// It is the worker-failure kind: the failure is captured, routed through the
// owning async result chain, and reported exactly once.
type PanicError struct {
	err error
}

// enforce compilation error
var _ error = (*PanicError)(nil)

// NewPanicError creates an instance of PanicError
func NewPanicError(recovered any) *PanicError {
	switch v := recovered.(type) {
	case error:
		return &PanicError{v}
	default:
		return &PanicError{fmt.Errorf("%v", v)}
	}
}

// Error implements the standard error interface
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.err)
}

func (e *PanicError) Unwrap() error {
	return e.err
}

// SpawnError wraps the underlying reason an actor could not be re/created.
type SpawnError struct {
	err error
}

var _ error = (*SpawnError)(nil)

// NewSpawnError returns an instance of SpawnError
func NewSpawnError(err error) *SpawnError {
	return &SpawnError{
		err: fmt.Errorf("spawn error: %w", err),
	}
}

// Error implements the standard error interface
func (s *SpawnError) Error() string {
	return s.err.Error()
}

func (s *SpawnError) Unwrap() error {
	return s.err
}
