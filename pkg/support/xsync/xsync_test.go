// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	assert.False(t, l.Test())
	select {
	case <-l.WaitChan():
		t.Fatal("latch channel closed before Trigger")
	default:
	}

	l.Trigger()
	assert.True(t, l.Test())
	l.Wait() // Must not block.
	l.Trigger()
	assert.True(t, l.Test())

	// WaitChan must now be closed.
	select {
	case <-l.WaitChan():
	case <-time.After(time.Second):
		t.Fatal("latch channel not closed after Trigger")
	}
}

func TestLatchWithValue(t *testing.T) {
	l := NewLatchWithValue[int]()
	assert.False(t, l.Test())
	_, triggered := l.TryValue()
	assert.False(t, triggered)

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = l.Wait()
		}()
	}
	l.Trigger(42)
	l.Trigger(7) // Discarded.
	wg.Wait()
	for _, got := range results {
		assert.Equal(t, 42, got)
	}
	got, triggered := l.TryValue()
	assert.True(t, triggered)
	assert.Equal(t, 42, got)
}

func TestDynamicWaitGroup(t *testing.T) {
	dwg := NewDynamicWaitGroup()
	dwg.Wait() // Zero counter: returns immediately.

	dwg.Add(2)
	assert.Equal(t, int64(2), dwg.Count())

	released := make(chan struct{})
	go func() {
		dwg.Wait()
		close(released)
	}()
	dwg.Done()
	select {
	case <-released:
		t.Fatal("Wait returned with a non-zero counter")
	case <-time.After(10 * time.Millisecond):
	}
	dwg.Done()
	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the counter reached zero")
	}
	assert.Equal(t, int64(0), dwg.Count())

	// The counter can grow again after having reached zero.
	dwg.Add(1)
	dwg.Done()
	dwg.Wait()

	require.Panics(t, func() { dwg.Done() })
}
