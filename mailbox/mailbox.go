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

package mailbox

import (
	"time"

	"golang.org/x/sys/unix"

	"go.uber.org/atomic"

	"github.com/webpet/pulsar/async"
	"github.com/webpet/pulsar/errors"
	"github.com/webpet/pulsar/eventloop"
	"github.com/webpet/pulsar/log"
	"github.com/webpet/pulsar/poller"
)

const (
	readChunkSize = 64 * 1024

	// closeFlushTimeout bounds the final drain of buffered frames on a local
	// close so a slow peer cannot hold teardown hostage.
	closeFlushTimeout = 250 * time.Millisecond
)

// Handler consumes inbound COMMAND and EVENT messages, in wire order.
// RESPONSE messages are consumed internally to settle the matching command's
// async result and never reach the handler.
type Handler func(msg *Message)

// CloseHandler is notified exactly once when the connection closes
// unexpectedly: peer hang-up yields ErrMailboxClosed, a malformed frame
// yields ErrProtocol.
type CloseHandler func(err error)

// Mailbox is one endpoint of an actor-to-supervisor link, bound to the
// endpoint owner's event loop. All internal state is confined to the loop
// goroutine; the public send methods may be called from any goroutine and
// marshal onto the loop.
type Mailbox struct {
	fd     int
	loop   *eventloop.Loop
	logger log.Logger

	// loop-confined state
	decoder     *Decoder
	writeBuf    []byte
	pending     map[uint64]*async.Result
	inbox       []*Message
	recvWaiters []*async.Result
	onMessage   Handler
	onClose     CloseHandler
	closed      bool
	remoteID    string

	nextAck atomic.Uint64
}

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithHandler sets the inbound message handler.
func WithHandler(handler Handler) Option {
	return func(m *Mailbox) {
		m.onMessage = handler
	}
}

// WithCloseHandler sets the unexpected-close notification handler.
func WithCloseHandler(handler CloseHandler) Option {
	return func(m *Mailbox) {
		m.onClose = handler
	}
}

// WithMailboxLogger sets the mailbox logger.
func WithMailboxLogger(logger log.Logger) Option {
	return func(m *Mailbox) {
		m.logger = logger
	}
}

// New wraps an open descriptor into a Mailbox driven by the given loop. The
// descriptor is switched to non-blocking mode and watched for readability;
// ownership transfers to the mailbox.
func New(loop *eventloop.Loop, fd int, opts ...Option) (*Mailbox, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, err
	}

	m := &Mailbox{
		fd:      fd,
		loop:    loop,
		logger:  log.DefaultLogger,
		decoder: NewDecoder(),
		pending: make(map[uint64]*async.Result),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := loop.RegisterFD(fd, poller.Readable, m.onReady); err != nil {
		return nil, err
	}
	return m, nil
}

// Socketpair returns a connected pair of descriptors suitable for the two
// endpoints of an in-process actor-to-supervisor link.
func Socketpair() (int, int, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, 0, err
	}
	return fds[0], fds[1], nil
}

// Loop returns the loop driving this endpoint.
func (m *Mailbox) Loop() *eventloop.Loop {
	return m.loop
}

// RemoteID returns the peer actor id, if the owner recorded one.
func (m *Mailbox) RemoteID() string {
	return m.remoteID
}

// SetRemoteID records the peer actor id. Loop goroutine only.
func (m *Mailbox) SetRemoteID(id string) {
	m.remoteID = id
}

// SendCommand writes a COMMAND frame and returns an async result settled by
// the matching RESPONSE. The result is rejected with ErrMailboxClosed if the
// connection closes first.
func (m *Mailbox) SendCommand(command string, args ...any) *async.Result {
	result := async.NewResult(m.loop)
	ackID := m.nextAck.Inc()
	msg := NewCommand(ackID, command, args...)

	m.run(func() {
		if m.closed {
			result.Reject(errors.ErrMailboxClosed)
			return
		}
		m.pending[ackID] = result
		if err := m.write(msg); err != nil {
			delete(m.pending, ackID)
			result.Reject(err)
		}
	})
	return result
}

// SendEvent writes a one-way EVENT frame.
func (m *Mailbox) SendEvent(command string, args ...any) {
	msg := NewEvent(command, args...)
	m.run(func() {
		if m.closed {
			return
		}
		if err := m.write(msg); err != nil {
			m.logger.Warnf("mailbox event %s dropped: %v", command, err)
		}
	})
}

// Reply writes the RESPONSE frame for a previously received COMMAND.
func (m *Mailbox) Reply(ackID uint64, command string, args ...any) {
	msg := NewResponse(ackID, command, args...)
	m.run(func() {
		if m.closed {
			return
		}
		if err := m.write(msg); err != nil {
			m.logger.Warnf("mailbox reply %s dropped: %v", command, err)
		}
	})
}

// Next returns an async result settled with the next inbound COMMAND or EVENT
// message. Only used by endpoints without a message handler; waiters are
// served in FIFO order and rejected with ErrMailboxClosed when the connection
// closes.
func (m *Mailbox) Next() *async.Result {
	result := async.NewResult(m.loop)
	m.run(func() {
		if len(m.inbox) > 0 {
			msg := m.inbox[0]
			m.inbox = m.inbox[1:]
			result.Resolve(msg)
			return
		}
		if m.closed {
			result.Reject(errors.ErrMailboxClosed)
			return
		}
		m.recvWaiters = append(m.recvWaiters, result)
	})
	return result
}

// Close tears the connection down from this side. Pending command results are
// rejected with ErrMailboxClosed; the close handler is not invoked.
func (m *Mailbox) Close() {
	m.run(func() {
		m.teardown(nil)
	})
}

// run executes fn on the loop goroutine: inline when already there, otherwise
// via CallSoon.
func (m *Mailbox) run(fn func()) {
	if m.loop.IsLoopGoroutine() {
		fn()
		return
	}
	if err := m.loop.CallSoon(fn); err != nil {
		// loop already stopped; complete the operation inline so callers
		// observe closure instead of hanging
		fn()
	}
}

// onReady is the loop readiness callback.
func (m *Mailbox) onReady(ready poller.Interest) {
	if m.closed {
		return
	}
	if ready.IsWritable() {
		m.flush()
	}
	if ready.IsReadable() {
		m.read()
	}
}

func (m *Mailbox) read() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := unix.Read(m.fd, buf)
		switch {
		case n > 0:
			messages, derr := m.decoder.Feed(buf[:n])
			for _, msg := range messages {
				m.deliver(msg)
			}
			if derr != nil {
				m.logger.Errorf("mailbox protocol error: %v", derr)
				m.teardown(derr)
				return
			}
		case n == 0 && err == nil:
			// peer closed the connection
			m.teardown(errors.ErrMailboxClosed)
			return
		case err == unix.EAGAIN:
			return
		case err == unix.EINTR:
			continue
		default:
			m.teardown(errors.ErrMailboxClosed)
			return
		}
	}
}

// deliver dispatches a decoded message in wire order: responses settle the
// matching pending command, everything else goes to a read waiter, the
// handler, or the inbox.
func (m *Mailbox) deliver(msg *Message) {
	if msg.Opcode == OpResponse {
		result, ok := m.pending[msg.AckID]
		if !ok {
			m.logger.Warnf("mailbox discarding response with unknown ack id %d", msg.AckID)
			return
		}
		delete(m.pending, msg.AckID)
		result.Resolve(msg)
		return
	}

	if len(m.recvWaiters) > 0 {
		waiter := m.recvWaiters[0]
		m.recvWaiters = m.recvWaiters[1:]
		waiter.Resolve(msg)
		return
	}
	if m.onMessage != nil {
		m.onMessage(msg)
		return
	}
	m.inbox = append(m.inbox, msg)
}

// write encodes and writes a frame, buffering whatever the socket does not
// accept immediately and arming write-readiness to flush the remainder.
func (m *Mailbox) write(msg *Message) error {
	frame, err := Encode(msg)
	if err != nil {
		return err
	}

	if len(m.writeBuf) > 0 {
		m.writeBuf = append(m.writeBuf, frame...)
		return nil
	}

	n, err := unix.Write(m.fd, frame)
	if err == unix.EAGAIN {
		n = 0
	} else if err != nil {
		m.teardown(errors.ErrMailboxClosed)
		return errors.ErrMailboxClosed
	}
	if n < len(frame) {
		m.writeBuf = append(m.writeBuf, frame[n:]...)
		if merr := m.loop.ModifyFD(m.fd, poller.Readable|poller.Writable); merr != nil {
			m.teardown(errors.ErrMailboxClosed)
			return errors.ErrMailboxClosed
		}
	}
	return nil
}

func (m *Mailbox) flush() {
	for len(m.writeBuf) > 0 {
		n, err := unix.Write(m.fd, m.writeBuf)
		if err == unix.EAGAIN {
			return
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			m.teardown(errors.ErrMailboxClosed)
			return
		}
		m.writeBuf = m.writeBuf[n:]
	}
	if err := m.loop.ModifyFD(m.fd, poller.Readable); err != nil {
		m.teardown(errors.ErrMailboxClosed)
	}
}

// teardown closes the descriptor, fails every pending command and read
// waiter, and fires the close handler when the closure was not local. On a
// local close any buffered outbound frames get one bounded flush attempt so
// the peer still sees a final ack or exit notice written just before Close.
func (m *Mailbox) teardown(cause error) {
	if m.closed {
		return
	}
	m.closed = true

	if cause == nil {
		m.flushBeforeClose()
	}

	_ = m.loop.UnregisterFD(m.fd)
	_ = unix.Close(m.fd)
	m.writeBuf = nil

	for ackID, result := range m.pending {
		delete(m.pending, ackID)
		result.Reject(errors.ErrMailboxClosed)
	}
	for _, waiter := range m.recvWaiters {
		waiter.Reject(errors.ErrMailboxClosed)
	}
	m.recvWaiters = nil

	if cause != nil && m.onClose != nil {
		m.onClose(cause)
	}
}

// flushBeforeClose drains writeBuf with blocking polls until it is empty, the
// deadline passes, or the peer goes away.
func (m *Mailbox) flushBeforeClose() {
	deadline := time.Now().Add(closeFlushTimeout)
	for len(m.writeBuf) > 0 {
		n, err := unix.Write(m.fd, m.writeBuf)
		switch {
		case err == unix.EAGAIN:
			remaining := time.Until(deadline)
			if remaining <= 0 {
				m.logger.Warnf("mailbox close dropped %d unflushed byte(s)", len(m.writeBuf))
				return
			}
			fds := []unix.PollFd{{Fd: int32(m.fd), Events: unix.POLLOUT}}
			if _, perr := unix.Poll(fds, int(remaining.Milliseconds())+1); perr != nil && perr != unix.EINTR {
				return
			}
		case err == unix.EINTR:
			continue
		case err != nil:
			return
		default:
			m.writeBuf = m.writeBuf[n:]
		}
	}
}
