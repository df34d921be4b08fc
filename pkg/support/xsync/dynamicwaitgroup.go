// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"

	"github.com/pkg/errors"
)

// DynamicWaitGroup is a WaitGroup-like primitive whose counter may be
// incremented while other goroutines are already waiting on it.
//
// The standard sync.WaitGroup forbids Add calls concurrent with Wait; here
// waiters simply block until the counter next reaches zero, whatever was
// added in between.
type DynamicWaitGroup struct {
	mu    sync.Mutex
	cond  *sync.Cond
	count int64
}

// NewDynamicWaitGroup creates a DynamicWaitGroup with a zero counter.
func NewDynamicWaitGroup() *DynamicWaitGroup {
	dwg := &DynamicWaitGroup{}
	dwg.cond = sync.NewCond(&dwg.mu)
	return dwg
}

// Add changes the counter by delta, waking all waiters if it reaches zero.
// It panics if the counter would become negative.
func (dwg *DynamicWaitGroup) Add(delta int) {
	dwg.mu.Lock()
	defer dwg.mu.Unlock()

	dwg.count += int64(delta)
	if dwg.count < 0 {
		panic(errors.Errorf("DynamicWaitGroup: counter became negative (%d)", dwg.count))
	}
	if dwg.count == 0 {
		dwg.cond.Broadcast()
	}
}

// Done decrements the counter by one.
func (dwg *DynamicWaitGroup) Done() {
	dwg.Add(-1)
}

// Wait blocks until the counter is zero.
func (dwg *DynamicWaitGroup) Wait() {
	dwg.mu.Lock()
	defer dwg.mu.Unlock()

	// Loop because sync.Cond.Wait is subject to spurious wake-ups.
	for dwg.count > 0 {
		dwg.cond.Wait()
	}
}

// Count returns the current counter value.
// By the time the caller looks at it, it may already have changed.
func (dwg *DynamicWaitGroup) Count() int64 {
	dwg.mu.Lock()
	defer dwg.mu.Unlock()
	return dwg.count
}
