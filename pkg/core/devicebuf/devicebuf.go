// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package devicebuf implements reference-counted device buffers shared across
// asynchronous execution streams.
//
// A Buffer owns one device memory region per sub-shape of its on-device
// shape, and two kinds of synchronization state:
//
//   - Definition events (CompletionEvent): the buffer's contents are only
//     valid on the device once all of them complete. A consumer stream calls
//     WaitForDefinitionEventsOnStream before reading.
//   - Usage state: readers take usage holds (see ScopedUsage) while enqueuing
//     work, and convert each hold into a usage event recorded on the reading
//     stream. A donor that wants exclusive use calls
//     LockUseAndTransferUsageEvents, which waits for all holds to convert and
//     then locks new usage out for good.
//
// Sharing is explicit: New returns a Buffer with one reference, Retain adds
// one and Release drops one. The final Release destroys the buffer
// synchronously: its regions are returned to the allocator (failures are
// logged, not propagated) and the on-delete callback runs. Destruction does
// not wait for usage events; the caller is responsible for not releasing the
// last reference while the device still reads the memory, or for keeping
// holds with ReferenceHeld usage events alive until those events complete.
//
// External references (AddExternalReference) pin the buffer's memory for
// callers outside this protocol, e.g. zero-copy views handed to host code.
// Destroying a buffer with live external references panics.
//
// Contract violations (dropping a hold that was never added, locking usage
// twice, destroying with external references) panic with a stack trace, see
// github.com/gomlx/exceptions; recoverable conditions return errors.
package devicebuf

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"
)

// StreamAndEvent pairs a stream the buffer was used on with the event marking
// the most recent usage of the buffer on that stream.
type StreamAndEvent struct {
	// Stream the buffer has been used on.
	Stream backends.Stream

	// Event is later than the most recent usage of the buffer on Stream.
	Event *CompletionEvent

	// ReferenceHeld is true if and only if a reference to the buffer is kept
	// live until after the host knows that Event is complete.
	ReferenceHeld bool
}

// Buffer is a reference-counted set of device memory regions shared across
// execution streams. See the package documentation for the synchronization
// protocol.
type Buffer struct {
	// allocator the regions are returned to on destruction; nil if the
	// buffer doesn't own its memory.
	allocator backends.Allocator
	deviceNum backends.DeviceNum

	// memories has one region per sub-shape of the on-device shape, in
	// pre-order; tuple positions hold the backend's index tables. Slots may
	// be nil.
	memories []backends.Memory

	// definitionEvents complete once the buffer's contents are valid on the
	// device. There is one event per computation or transfer that writes to
	// the buffer; all must complete before reading.
	definitionEvents []*CompletionEvent

	// onDelete, if set, runs after the regions are deallocated.
	onDelete func()

	refs atomic.Int64

	mu sync.Mutex
	// holdsConverted is broadcast whenever usageHolds drops to zero.
	holdsConverted *sync.Cond
	// inUse flips to false exactly once, in LockUseAndTransferUsageEvents.
	inUse        bool
	usageHolds   int
	externalRefs int
	usageEvents  []StreamAndEvent
}

// New creates a Buffer owning the given regions, with a reference count of
// one.
//
// allocator may be nil, in which case the regions are not deallocated on
// destruction. memories is laid out one region per sub-shape of the buffer's
// on-device shape, in pre-order; see FromShapedBuffer for building it from a
// ShapedBuffer. onDelete, if non-nil, runs after destruction deallocates the
// regions.
func New(allocator backends.Allocator, deviceNum backends.DeviceNum, memories []backends.Memory,
	definitionEvents []*CompletionEvent, onDelete func()) *Buffer {
	b := &Buffer{
		allocator:        allocator,
		deviceNum:        deviceNum,
		memories:         slices.Clone(memories),
		definitionEvents: slices.Clone(definitionEvents),
		onDelete:         onDelete,
		inUse:            true,
	}
	b.holdsConverted = sync.NewCond(&b.mu)
	b.refs.Store(1)
	return b
}

// Retain adds a reference to the buffer and returns it. It panics if the
// buffer was already destroyed.
func (b *Buffer) Retain() *Buffer {
	if b.refs.Add(1) < 2 {
		exceptions.Panicf("Buffer.Retain on a destroyed buffer")
	}
	return b
}

// Release drops a reference to the buffer. The final Release destroys it:
// the regions are returned to the allocator, deallocation failures are
// logged, and the on-delete callback runs, all synchronously.
//
// Destruction does not wait for usage events; see the package documentation.
// It panics if the buffer has live external references, or if Release is
// called more times than Retain.
func (b *Buffer) Release() {
	refs := b.refs.Add(-1)
	if refs < 0 {
		exceptions.Panicf("Buffer.Release called more times than Retain")
	}
	if refs > 0 {
		return
	}
	b.mu.Lock()
	externalRefs := b.externalRefs
	b.mu.Unlock()
	if externalRefs != 0 {
		exceptions.Panicf("Buffer destroyed with %d live external references", externalRefs)
	}
	if b.allocator != nil {
		for _, memory := range b.memories {
			if memory == nil {
				continue
			}
			if err := b.allocator.Deallocate(memory); err != nil {
				klog.Errorf("Buffer deallocation failed: %+v", err)
			}
		}
	}
	if b.onDelete != nil {
		b.onDelete()
	}
}

// DeviceNum of the device holding the buffer's regions.
func (b *Buffer) DeviceNum() backends.DeviceNum { return b.deviceNum }

// Allocator the buffer's regions are returned to on destruction; nil if the
// buffer doesn't own its memory.
func (b *Buffer) Allocator() backends.Allocator { return b.allocator }

// Memories returns the buffer's regions, one per sub-shape of the on-device
// shape, in pre-order. The returned slice is owned by the buffer: don't
// modify it.
func (b *Buffer) Memories() []backends.Memory { return b.memories }

// DefinitionEvents of the buffer: all must complete before the contents are
// valid on the device. The returned slice is owned by the buffer: don't
// modify it.
func (b *Buffer) DefinitionEvents() []*CompletionEvent { return b.definitionEvents }

// SizeInBytes is the total size of the buffer's regions.
func (b *Buffer) SizeInBytes() (size uintptr) {
	for _, memory := range b.memories {
		if memory != nil {
			size += memory.SizeInBytes()
		}
	}
	return
}

// String implements fmt.Stringer.
func (b *Buffer) String() string {
	return fmt.Sprintf("devicebuf.Buffer(device #%d, %d regions, %s)",
		b.deviceNum, len(b.memories), humanize.IBytes(uint64(b.SizeInBytes())))
}

// AddUsageHold registers a pending usage of the buffer. While any hold is
// outstanding, LockUseAndTransferUsageEvents waits. Each hold must later be
// dropped (the usage never happened) or converted into a usage event.
//
// Prefer ScopedUsage over calling this directly. It panics if usage was
// already locked.
func (b *Buffer) AddUsageHold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inUse {
		exceptions.Panicf("Buffer.AddUsageHold after usage was locked")
	}
	b.usageHolds++
}

// DropUsageHold abandons a usage hold without recording a usage event, for
// usages that ended up not being enqueued. It panics if usage was already
// locked, or without a matching AddUsageHold.
func (b *Buffer) DropUsageHold() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inUse {
		exceptions.Panicf("Buffer.DropUsageHold after usage was locked")
	}
	if b.usageHolds <= 0 {
		exceptions.Panicf("Buffer.DropUsageHold without a matching AddUsageHold")
	}
	b.usageHolds--
	if b.usageHolds == 0 {
		b.holdsConverted.Broadcast()
	}
}

// ConvertUsageHold converts a usage hold into a usage event: work reading the
// buffer was enqueued on usageStream, and event is later than that work.
// referenceHeld tells whether the caller keeps a reference to the buffer live
// until the host knows the event is complete.
//
// The buffer keeps at most one usage event per stream: a hold converted on a
// stream that already has one replaces it only if the new event's sequence
// number is strictly greater, so converting in any order keeps the latest
// usage. Comparing blocks until both events are recorded.
//
// It panics if usage was already locked, or without a matching AddUsageHold.
func (b *Buffer) ConvertUsageHold(usageStream backends.Stream, event *CompletionEvent, referenceHeld bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inUse {
		exceptions.Panicf("Buffer.ConvertUsageHold after usage was locked")
	}
	if b.usageHolds <= 0 {
		exceptions.Panicf("Buffer.ConvertUsageHold without a matching AddUsageHold")
	}
	b.usageHolds--
	if b.usageHolds == 0 {
		b.holdsConverted.Broadcast()
	}

	for ii := range b.usageEvents {
		existing := &b.usageEvents[ii]
		if existing.Stream != usageStream {
			continue
		}
		if existing.Event.SequenceNumber() < event.SequenceNumber() {
			existing.Event = event
			existing.ReferenceHeld = referenceHeld
		}
		return
	}
	b.usageEvents = append(b.usageEvents, StreamAndEvent{
		Stream:        usageStream,
		Event:         event,
		ReferenceHeld: referenceHeld,
	})
}

// AddExternalReference pins the buffer's memory for a caller outside the
// usage protocol, e.g. a zero-copy view handed to host code. Destroying the
// buffer with live external references panics; drop them first.
//
// External references don't interact with usage holds: a caller that needs
// the contents to stay valid must also hold a usage hold or a buffer
// reference. It panics if usage was already locked.
func (b *Buffer) AddExternalReference() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inUse {
		exceptions.Panicf("Buffer.AddExternalReference after usage was locked")
	}
	b.externalRefs++
}

// DropExternalReference drops a reference added with AddExternalReference.
// It panics without a matching AddExternalReference.
func (b *Buffer) DropExternalReference() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.externalRefs <= 0 {
		exceptions.Panicf("Buffer.DropExternalReference without a matching AddExternalReference")
	}
	b.externalRefs--
}

// LockUseAndTransferUsageEvents locks new usage out of the buffer and
// returns the accumulated usage events, transferring their ownership to the
// caller. It blocks until every outstanding usage hold is dropped or
// converted.
//
// After it returns, adding or converting holds panics: the caller has
// exclusive use, typically to donate the buffer's memory to a computation.
// The caller must wait for (or chain on) the returned events before reusing
// the memory. Calling it twice on the same buffer panics.
func (b *Buffer) LockUseAndTransferUsageEvents() []StreamAndEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.inUse {
		exceptions.Panicf("Buffer.LockUseAndTransferUsageEvents called twice")
	}
	for b.usageHolds > 0 {
		b.holdsConverted.Wait()
	}
	if !b.inUse {
		exceptions.Panicf("Buffer.LockUseAndTransferUsageEvents called twice")
	}
	b.inUse = false
	usageEvents := b.usageEvents
	b.usageEvents = nil
	return usageEvents
}
