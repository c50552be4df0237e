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

// Package queue provides the multi-producer single-consumer FIFO used by the
// event loop's immediate-callback queue: any goroutine may push, only the loop
// goroutine pops.
package queue

import (
	"sync/atomic"
	"unsafe"
)

type node[T any] struct {
	value T
	next  *node[T]
}

// MPSC is a Multi-Producer-Single-Consumer FIFO queue.
// reference: https://concurrencyfreaks.blogspot.com/2014/04/multi-producer-single-consumer-queue.html
type MPSC[T any] struct {
	head   *node[T]
	tail   *node[T]
	length int64
}

// NewMPSC creates an instance of MPSC
func NewMPSC[T any]() *MPSC[T] {
	stub := new(node[T])
	return &MPSC[T]{
		head: stub,
		tail: stub,
	}
}

// Push appends the given value to the queue. Safe for concurrent producers.
func (q *MPSC[T]) Push(value T) {
	tnode := &node[T]{value: value}
	previousHead := (*node[T])(atomic.SwapPointer((*unsafe.Pointer)(unsafe.Pointer(&q.head)), unsafe.Pointer(tnode)))
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(&previousHead.next)), unsafe.Pointer(tnode))
	atomic.AddInt64(&q.length, 1)
}

// Pop removes the oldest value from the queue. Returns false if the queue is
// empty. Must only be called from the single consumer goroutine.
func (q *MPSC[T]) Pop() (T, bool) {
	var zero T
	next := (*node[T])(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&q.tail.next))))
	if next == nil {
		return zero, false
	}

	q.tail = next
	value := next.value
	next.value = zero
	atomic.AddInt64(&q.length, -1)
	return value, true
}

// Len returns the queue length
func (q *MPSC[T]) Len() int64 {
	return atomic.LoadInt64(&q.length)
}

// IsEmpty returns true when the queue is empty. Must only be called from the
// consumer goroutine.
func (q *MPSC[T]) IsEmpty() bool {
	next := (*node[T])(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&q.tail.next))))
	return next == nil
}
