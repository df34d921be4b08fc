// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devicebuf

import (
	"sync"

	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/devicemem/pkg/support/sets"
	"github.com/gomlx/devicemem/pkg/support/xsync"
	"github.com/gomlx/exceptions"
)

// CompletionEvent tracks when a buffer's contents become valid on the device,
// or when a read of the buffer finishes.
//
// It is created before the producing work is enqueued, and attached to the
// buffer right away, so consumers can start chaining on it. Once the producer
// enqueues its work it records a backend event on the producing stream and
// publishes it here with SetRecordedEvent, exactly once.
//
// On two streams of the same device, an ordering wait is only needed once:
// the event remembers which streams are already ordered after it and turns
// repeated WaitForEventOnStream calls into no-ops.
//
// Methods other than HasRecordedEvent and RecordedChan block until the event
// is recorded. RecordedChan is the escape hatch to compose that wait with
// timeouts or cancellation in a select.
type CompletionEvent struct {
	recorded *xsync.Latch

	mu sync.Mutex
	// event is set exactly once, before recorded triggers, and never changes
	// after.
	event backends.Event
	// syncedStreams holds the streams known to be ordered after the event:
	// the recording stream, and every stream WaitForEventOnStream stalled.
	syncedStreams sets.Set[backends.Stream]
}

// NewCompletionEvent returns an event with no backend event recorded yet.
func NewCompletionEvent() *CompletionEvent {
	return &CompletionEvent{
		recorded:      xsync.NewLatch(),
		syncedStreams: sets.Make[backends.Stream](),
	}
}

// SetRecordedEvent publishes the backend event backing this CompletionEvent,
// recorded on the stream recordedOn. The recording stream is already ordered
// after the event, so it is seeded into the synchronized set.
//
// It must be called exactly once: a second call, or a nil event or stream,
// panics.
func (e *CompletionEvent) SetRecordedEvent(event backends.Event, recordedOn backends.Stream) {
	if event == nil || recordedOn == nil {
		exceptions.Panicf("CompletionEvent.SetRecordedEvent given a nil event or stream")
	}
	e.mu.Lock()
	if e.event != nil {
		e.mu.Unlock()
		exceptions.Panicf("CompletionEvent.SetRecordedEvent called more than once")
	}
	e.event = event
	e.syncedStreams.Insert(recordedOn)
	e.mu.Unlock()
	e.recorded.Trigger()
}

// HasRecordedEvent returns whether SetRecordedEvent was called. It never blocks.
func (e *CompletionEvent) HasRecordedEvent() bool {
	return e.recorded.Test()
}

// RecordedChan returns a channel that is closed once the event is recorded,
// for use in a select.
func (e *CompletionEvent) RecordedChan() <-chan struct{} {
	return e.recorded.WaitChan()
}

// SequenceNumber of the recorded backend event. It blocks until the event is
// recorded.
//
// Sequence numbers order events recorded on the same backend; numbers from
// different backend instances are not comparable.
func (e *CompletionEvent) SequenceNumber() uint64 {
	e.recorded.Wait()
	return e.event.SequenceNumber()
}

// WaitForEventOnStream stalls the stream until the event completes. It blocks
// the caller until the event is recorded, then enqueues at most one wait: if
// a previous call already stalled this stream, or the stream is the one the
// event was recorded on, nothing more is needed and it returns immediately.
func (e *CompletionEvent) WaitForEventOnStream(stream backends.Stream) error {
	e.recorded.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.syncedStreams.Has(stream) {
		return nil
	}
	if err := stream.WaitForEvent(e.event); err != nil {
		return err
	}
	e.syncedStreams.Insert(stream)
	return nil
}

// DefinedOnStream returns whether the stream is already ordered after the
// event, either by having recorded it or by a previous WaitForEventOnStream.
// Work enqueued on such a stream runs after the event completes, no further
// wait needed. It blocks until the event is recorded.
func (e *CompletionEvent) DefinedOnStream(stream backends.Stream) bool {
	e.recorded.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.syncedStreams.Has(stream)
}

// IsComplete returns whether the recorded backend event has completed. An
// event in an error state is not complete. It blocks until the event is
// recorded.
func (e *CompletionEvent) IsComplete() bool {
	e.recorded.Wait()
	return e.event.PollStatus() == backends.EventComplete
}
