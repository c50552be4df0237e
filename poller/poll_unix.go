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

//go:build unix && !linux

package poller

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable Unix backend built on poll(2). A non-blocking
// self-pipe provides the wake mechanism. Less scalable than epoll but
// contractually identical.
type pollPoller struct {
	mu        sync.Mutex
	wakeRead  int
	wakeWrite int
	interest  map[int]Interest
	closed    bool
}

func newDefaultPoller() (Poller, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, err
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			return nil, err
		}
	}

	return &pollPoller{
		wakeRead:  fds[0],
		wakeWrite: fds[1],
		interest:  make(map[int]Interest),
	}, nil
}

func (p *pollPoller) Register(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return unix.EBADF
	}
	p.interest[fd] = interest
	return nil
}

func (p *pollPoller) Modify(fd int, interest Interest) error {
	return p.Register(fd, interest)
}

func (p *pollPoller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return unix.EBADF
	}
	delete(p.interest, fd)
	return nil
}

func (p *pollPoller) Wait(timeout time.Duration) ([]Event, error) {
	p.mu.Lock()
	pollfds := make([]unix.PollFd, 0, len(p.interest)+1)
	pollfds = append(pollfds, unix.PollFd{Fd: int32(p.wakeRead), Events: unix.POLLIN})
	for fd, interest := range p.interest {
		var events int16
		if interest.IsReadable() {
			events |= unix.POLLIN
		}
		if interest.IsWritable() {
			events |= unix.POLLOUT
		}
		pollfds = append(pollfds, unix.PollFd{Fd: int32(fd), Events: events})
	}
	p.mu.Unlock()

	var n int
	var err error
	for {
		n, err = unix.Poll(pollfds, timeoutMillis(timeout))
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	ready := make([]Event, 0, n)
	for _, pfd := range pollfds {
		if pfd.Revents == 0 {
			continue
		}
		if int(pfd.Fd) == p.wakeRead {
			p.drainWake()
			continue
		}
		var interest Interest
		if pfd.Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			interest |= Readable
		}
		if pfd.Revents&unix.POLLOUT != 0 {
			interest |= Writable
		}
		ready = append(ready, Event{FD: int(pfd.Fd), Ready: interest})
	}
	return ready, nil
}

func (p *pollPoller) Wake() error {
	_, err := unix.Write(p.wakeWrite, []byte{1})
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

func (p *pollPoller) drainWake() {
	var buf [64]byte
	for {
		if _, err := unix.Read(p.wakeRead, buf[:]); err != nil {
			return
		}
	}
}

func (p *pollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	err := unix.Close(p.wakeRead)
	if cerr := unix.Close(p.wakeWrite); err == nil {
		err = cerr
	}
	return err
}
