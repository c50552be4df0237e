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

// State is the lifecycle state of an actor.
type State int32

const (
	// Starting means the actor exists but has not completed its handshake.
	Starting State = iota
	// Running means the actor completed its handshake and processes messages.
	Running
	// Stopping means a stop was requested and teardown is in progress.
	Stopping
	// Terminated means the actor exited cleanly. Terminal.
	Terminated
	// Faulted means the actor exited due to a failure. Terminal.
	Faulted
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case Stopping:
		return "STOPPING"
	case Terminated:
		return "TERMINATED"
	case Faulted:
		return "FAULTED"
	default:
		return ""
	}
}

// Terminal reports whether the state is final.
func (s State) Terminal() bool {
	return s == Terminated || s == Faulted
}

// RestartPolicy decides what a monitor does when one of its workers exits.
type RestartPolicy int

const (
	// RestartAlways respawns the worker no matter how it exited.
	RestartAlways RestartPolicy = iota
	// RestartNever lets the worker stay down.
	RestartNever
	// RestartOnFailure respawns only workers that faulted.
	RestartOnFailure
)

// String returns the string representation of the policy
func (p RestartPolicy) String() string {
	switch p {
	case RestartAlways:
		return "ALWAYS"
	case RestartNever:
		return "NEVER"
	case RestartOnFailure:
		return "ON_FAILURE"
	default:
		return ""
	}
}
