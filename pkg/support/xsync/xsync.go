// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements the extra synchronization primitives used by the
// buffer lifetime machinery: a one-shot Latch (optionally carrying a value)
// and a DynamicWaitGroup whose counter may grow while others wait on it.
package xsync

import "sync"

// Latch is a one-shot signal: it can be waited on until triggered, and once
// triggered it stays triggered forever.
type Latch struct {
	once sync.Once
	wait chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{wait: make(chan struct{})}
}

// Trigger the latch. Calling it more than once is a no-op.
func (l *Latch) Trigger() {
	l.once.Do(func() { close(l.wait) })
}

// Wait blocks until the latch is triggered.
func (l *Latch) Wait() {
	<-l.wait
}

// Test reports whether the latch has been triggered, without blocking.
func (l *Latch) Test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}

// WaitChan returns a channel that is closed when the latch triggers.
// It allows composing the latch into a `select` statement.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.wait
}

// LatchWithValue is a Latch that carries a value set at trigger time.
//
// The value written by the first Trigger is the one every Wait observes;
// later Trigger calls are no-ops and their value is discarded.
type LatchWithValue[T any] struct {
	once  sync.Once
	wait  chan struct{}
	value T
}

// NewLatchWithValue returns an un-triggered latch.
func NewLatchWithValue[T any]() *LatchWithValue[T] {
	return &LatchWithValue[T]{wait: make(chan struct{})}
}

// Trigger the latch, recording value. Only the first call has any effect.
func (l *LatchWithValue[T]) Trigger(value T) {
	l.once.Do(func() {
		l.value = value
		close(l.wait)
	})
}

// Wait blocks until the latch is triggered and returns the recorded value.
func (l *LatchWithValue[T]) Wait() T {
	<-l.wait
	return l.value
}

// Test reports whether the latch has been triggered, without blocking.
func (l *LatchWithValue[T]) Test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}

// TryValue returns the recorded value if the latch has already triggered.
func (l *LatchWithValue[T]) TryValue() (value T, triggered bool) {
	select {
	case <-l.wait:
		return l.value, true
	default:
		return value, false
	}
}

// WaitChan returns a channel that is closed when the latch triggers.
func (l *LatchWithValue[T]) WaitChan() <-chan struct{} {
	return l.wait
}
