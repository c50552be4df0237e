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

package poller

import (
	"encoding/binary"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// epollPoller is the Linux backend. An eventfd registered alongside the user
// descriptors provides the wake mechanism; wake notifications are drained
// inside Wait and never surface to the caller.
type epollPoller struct {
	mu       sync.Mutex
	epfd     int
	wakefd   int
	interest map[int]Interest
	events   []unix.EpollEvent
	closed   bool
}

func newDefaultPoller() (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}

	event := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &event); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, err
	}

	return &epollPoller{
		epfd:     epfd,
		wakefd:   wakefd,
		interest: make(map[int]Interest),
		events:   make([]unix.EpollEvent, 64),
	}, nil
}

func (p *epollPoller) Register(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return unix.EBADF
	}

	current, ok := p.interest[fd]
	if ok {
		if current == interest {
			return nil
		}
		return p.modifyLocked(fd, interest)
	}

	event := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return err
	}
	p.interest[fd] = interest
	return nil
}

func (p *epollPoller) Modify(fd int, interest Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return unix.EBADF
	}
	return p.modifyLocked(fd, interest)
}

func (p *epollPoller) modifyLocked(fd int, interest Interest) error {
	event := unix.EpollEvent{Events: toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &event); err != nil {
		return err
	}
	p.interest[fd] = interest
	return nil
}

func (p *epollPoller) Unregister(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return unix.EBADF
	}
	if _, ok := p.interest[fd]; !ok {
		return nil
	}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}
	delete(p.interest, fd)
	return nil
}

func (p *epollPoller) Wait(timeout time.Duration) ([]Event, error) {
	millis := timeoutMillis(timeout)

	var n int
	var err error
	for {
		n, err = unix.EpollWait(p.epfd, p.events, millis)
		if err != unix.EINTR {
			break
		}
		// interrupted before any event; retry with the same bound
	}
	if err != nil {
		return nil, err
	}

	ready := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		fd := int(p.events[i].Fd)
		if fd == p.wakefd {
			p.drainWake()
			continue
		}
		ready = append(ready, Event{FD: fd, Ready: fromEpollEvents(p.events[i].Events)})
	}
	return ready, nil
}

func (p *epollPoller) Wake() error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	_, err := unix.Write(p.wakefd, buf[:])
	if err == unix.EAGAIN {
		// counter saturated, the pending wake is still observable
		return nil
	}
	return err
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (p *epollPoller) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	err := unix.Close(p.wakefd)
	if cerr := unix.Close(p.epfd); err == nil {
		err = cerr
	}
	return err
}

func toEpollEvents(interest Interest) uint32 {
	var events uint32
	if interest.IsReadable() {
		events |= unix.EPOLLIN
	}
	if interest.IsWritable() {
		events |= unix.EPOLLOUT
	}
	return events
}

func fromEpollEvents(events uint32) Interest {
	var interest Interest
	if events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		interest |= Readable
	}
	if events&unix.EPOLLOUT != 0 {
		interest |= Writable
	}
	return interest
}
