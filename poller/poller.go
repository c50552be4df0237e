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

// Package poller abstracts OS-level I/O readiness notification behind a single
// interface. The backend is swappable (epoll on Linux, poll(2) on other Unix
// systems); behavior is identical across backends.
package poller

import "time"

// Interest is the set of readiness conditions registered for a descriptor.
type Interest uint8

const (
	// Readable registers interest in read readiness.
	Readable Interest = 1 << iota
	// Writable registers interest in write readiness.
	Writable
)

// IsReadable reports whether the interest set contains Readable.
func (i Interest) IsReadable() bool { return i&Readable != 0 }

// IsWritable reports whether the interest set contains Writable.
func (i Interest) IsWritable() bool { return i&Writable != 0 }

// NoTimeout makes Wait block indefinitely until at least one event arrives or
// an external Wake is issued.
const NoTimeout time.Duration = -1

// Event is a single readiness notification returned by Wait.
type Event struct {
	// FD is the ready descriptor.
	FD int
	// Ready is the subset of the registered interest that is now ready.
	Ready Interest
}

// Poller is the contract every readiness backend implements.
//
// Registering the same descriptor with the same interest twice is idempotent:
// no error, no duplicate notification. Registering with a different interest
// replaces the previous registration. Wait with a zero timeout never blocks;
// Wait with NoTimeout blocks until an event or an external Wake.
type Poller interface {
	// Register adds a descriptor with the given interest set.
	Register(fd int, interest Interest) error
	// Modify replaces the interest set of a registered descriptor.
	Modify(fd int, interest Interest) error
	// Unregister removes a descriptor. Always unregister before closing the
	// descriptor to avoid stale notifications after fd reuse.
	Unregister(fd int) error
	// Wait blocks up to timeout for readiness events. The internal wake
	// descriptor is drained and never reported.
	Wait(timeout time.Duration) ([]Event, error)
	// Wake unblocks a concurrent Wait from any goroutine.
	Wake() error
	// Close releases the backend and its wake descriptor.
	Close() error
}

// New returns the default Poller backend for this platform.
func New() (Poller, error) {
	return newDefaultPoller()
}

// timeoutMillis converts a Wait timeout to the millisecond convention used by
// epoll_wait(2) and poll(2): negative blocks, zero polls. Sub-millisecond
// timeouts round up so a short timer wait does not degenerate into a busy loop.
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	if timeout == 0 {
		return 0
	}
	if timeout < time.Millisecond {
		return 1
	}
	return int(timeout.Milliseconds())
}
