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
	"fmt"
	"net"
	"strconv"

	"golang.org/x/sys/unix"

	"github.com/webpet/pulsar/eventloop"
	"github.com/webpet/pulsar/poller"
)

// AcceptHandler receives each inbound connection as a raw descriptor, on the
// listener's loop goroutine. The handler owns the descriptor and typically
// wraps it with New.
type AcceptHandler func(fd int, remote string)

// Listener accepts mailbox connections over TCP. Accepting is driven by the
// owning event loop; no extra goroutine is involved.
type Listener struct {
	fd       int
	loop     *eventloop.Loop
	addr     string
	onAccept AcceptHandler
	closed   bool
}

// Listen binds a TCP listener on address (host:port, port 0 picks a free one)
// and starts accepting on the given loop.
func Listen(loop *eventloop.Loop, address string, onAccept AcceptHandler) (*Listener, error) {
	sa, family, err := resolveSockaddr(address)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	ln := &Listener{
		fd:       fd,
		loop:     loop,
		addr:     sockaddrString(bound),
		onAccept: onAccept,
	}
	if err := loop.RegisterFD(fd, poller.Readable, ln.onReady); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return ln, nil
}

// Addr returns the bound address, with the kernel-assigned port when the
// requested port was 0.
func (ln *Listener) Addr() string {
	return ln.addr
}

// Close stops accepting and releases the listening socket.
func (ln *Listener) Close() {
	run := func() {
		if ln.closed {
			return
		}
		ln.closed = true
		_ = ln.loop.UnregisterFD(ln.fd)
		_ = unix.Close(ln.fd)
	}
	if ln.loop.IsLoopGoroutine() {
		run()
		return
	}
	if err := ln.loop.CallSoon(run); err != nil {
		run()
	}
}

func (ln *Listener) onReady(poller.Interest) {
	for {
		fd, sa, err := unix.Accept(ln.fd)
		if err == unix.EAGAIN {
			return
		}
		if err == unix.EINTR || err == unix.ECONNABORTED {
			continue
		}
		if err != nil {
			return
		}
		ln.onAccept(fd, sockaddrString(sa))
	}
}

// Dial opens a TCP connection to address and returns the raw descriptor,
// still in blocking mode; New switches it to non-blocking.
func Dial(address string) (int, error) {
	sa, family, err := resolveSockaddr(address)
	if err != nil {
		return 0, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
	if err != nil {
		return 0, err
	}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return 0, err
	}
	return fd, nil
}

func resolveSockaddr(address string) (unix.Sockaddr, int, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, 0, err
	}

	ip := tcpAddr.IP
	if ip == nil {
		ip = net.IPv4zero
	}
	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: tcpAddr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	sa := &unix.SockaddrInet6{Port: tcpAddr.Port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6, nil
}

func sockaddrString(sa unix.Sockaddr) string {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	case *unix.SockaddrInet6:
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	default:
		return fmt.Sprintf("%v", sa)
	}
}
