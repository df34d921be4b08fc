// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devicebuf

import (
	"testing"
	"time"

	"github.com/gomlx/devicemem/backends/goexec"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompletionEventRecording(t *testing.T) {
	device := backend.Device(0)
	stream := device.ComputeStream()

	ce := NewCompletionEvent()
	require.False(t, ce.HasRecordedEvent())
	select {
	case <-ce.RecordedChan():
		t.Fatal("RecordedChan closed before the event was recorded")
	default:
	}

	// SequenceNumber blocks until the event is recorded.
	got := make(chan uint64, 1)
	go func() { got <- ce.SequenceNumber() }()
	select {
	case <-got:
		t.Fatal("SequenceNumber returned before the event was recorded")
	case <-time.After(50 * time.Millisecond):
	}

	ev := must.M1(stream.RecordEvent())
	ce.SetRecordedEvent(ev, stream)
	require.True(t, ce.HasRecordedEvent())
	<-ce.RecordedChan()
	require.Equal(t, ev.SequenceNumber(), <-got)

	// The recording stream is synchronized from the start.
	require.True(t, ce.DefinedOnStream(stream))

	require.Panics(t, func() { ce.SetRecordedEvent(ev, stream) })
	require.Panics(t, func() { NewCompletionEvent().SetRecordedEvent(nil, stream) })
	require.Panics(t, func() { NewCompletionEvent().SetRecordedEvent(ev, nil) })
}

func TestCompletionEventIsComplete(t *testing.T) {
	device := backend.Device(0)
	stream := must.M1(device.NewStream())

	gate := make(chan struct{})
	require.NoError(t, stream.Enqueue(func() { <-gate }))
	ce := recordedEvent(t, stream)
	require.False(t, ce.IsComplete())

	close(gate)
	require.NoError(t, stream.Sync())
	require.True(t, ce.IsComplete())
}

func TestCompletionEventAborted(t *testing.T) {
	local := goexec.NewBackend(1)
	stream := local.Device(0).ComputeStream()

	gate := make(chan struct{})
	require.NoError(t, stream.Enqueue(func() { <-gate }))
	ce := recordedEvent(t, stream)

	local.Finalize()
	close(gate)
	require.Error(t, stream.Sync())

	// An aborted event is recorded but never complete.
	require.True(t, ce.HasRecordedEvent())
	require.False(t, ce.IsComplete())
}

func TestWaitForEventOnStreamDedup(t *testing.T) {
	device := backend.Device(0)
	producer := &countingStream{Stream: must.M1(device.NewStream())}
	consumer := &countingStream{Stream: must.M1(device.NewStream())}

	gate := make(chan struct{})
	require.NoError(t, producer.Enqueue(func() { <-gate }))
	ce := NewCompletionEvent()
	ce.SetRecordedEvent(must.M1(producer.RecordEvent()), producer)

	// First wait reaches the stream, repeats are dropped.
	require.False(t, ce.DefinedOnStream(consumer))
	require.NoError(t, ce.WaitForEventOnStream(consumer))
	require.True(t, ce.DefinedOnStream(consumer))
	require.NoError(t, ce.WaitForEventOnStream(consumer))
	assert.Equal(t, 1, consumer.waits)

	// The recording stream never needs to wait on its own event.
	require.NoError(t, ce.WaitForEventOnStream(producer))
	assert.Equal(t, 0, producer.waits)

	close(gate)
	require.NoError(t, producer.Sync())
	require.NoError(t, consumer.Sync())
}

func TestWaitForEventOnStreamError(t *testing.T) {
	device := backend.Device(0)
	producer := must.M1(device.NewStream())

	gate := make(chan struct{})
	require.NoError(t, producer.Enqueue(func() { <-gate }))
	ce := recordedEvent(t, producer)

	// A finalized consumer cannot enqueue the wait, and is not marked as
	// synchronized.
	local := goexec.NewBackend(1)
	consumer := local.Device(0).ComputeStream()
	local.Finalize()
	require.Error(t, ce.WaitForEventOnStream(consumer))
	require.False(t, ce.DefinedOnStream(consumer))

	close(gate)
	require.NoError(t, producer.Sync())
}
