// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devicebuf

import (
	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/exceptions"
)

// ScopedUsage scopes one usage hold on a Buffer, making sure it cannot leak:
// pair every Acquire with a deferred Drop, and resolve the hold before the
// scope ends with Convert (the usage was enqueued) or Release (the caller
// takes the hold over). Drop then finds an empty guard and does nothing.
//
//	var usage devicebuf.ScopedUsage
//	usage.Acquire(buffer)
//	defer usage.Drop()
//	... enqueue work reading the buffer on stream ...
//	usage.Convert(stream, event, false)
//
// The zero value is an empty guard, ready for Acquire or Transfer. A guard
// must not be copied while holding a buffer, and is not safe for concurrent
// use.
type ScopedUsage struct {
	parent *Buffer
}

// Acquire a usage hold on buffer and keep it in the guard. Acquiring a nil
// buffer leaves the guard empty, making no-op guards cheap. It returns the
// guard itself, so it can be chained.
//
// It panics if the guard already holds a buffer, or if the buffer's usage
// was already locked.
func (u *ScopedUsage) Acquire(buffer *Buffer) *ScopedUsage {
	if u.parent != nil {
		exceptions.Panicf("ScopedUsage.Acquire on a guard that already holds a buffer")
	}
	if buffer != nil {
		u.parent = buffer
		buffer.AddUsageHold()
	}
	return u
}

// Transfer an existing usage hold on buffer into the guard, without adding a
// new one. It panics if the guard already holds a buffer.
func (u *ScopedUsage) Transfer(buffer *Buffer) {
	if u.parent != nil {
		exceptions.Panicf("ScopedUsage.Transfer on a guard that already holds a buffer")
	}
	u.parent = buffer
}

// Release empties the guard and returns the buffer, transferring the usage
// hold to the caller: the hold is not dropped. Releasing an empty guard
// returns nil.
func (u *ScopedUsage) Release() *Buffer {
	buffer := u.parent
	u.parent = nil
	return buffer
}

// Convert the held usage hold into a usage event on the buffer and empty the
// guard: work using the buffer was enqueued on usageStream, and event is
// later than that work. See Buffer.ConvertUsageHold for the merge rules and
// the meaning of referenceHeld.
//
// It panics on an empty guard.
func (u *ScopedUsage) Convert(usageStream backends.Stream, event *CompletionEvent, referenceHeld bool) {
	if u.parent == nil {
		exceptions.Panicf("ScopedUsage.Convert on an empty guard")
	}
	u.parent.ConvertUsageHold(usageStream, event, referenceHeld)
	u.parent = nil
}

// Drop the held usage hold, if any: the usage never happened. A no-op on an
// empty guard, so it is safe to defer right after Acquire.
func (u *ScopedUsage) Drop() {
	if u.parent == nil {
		return
	}
	u.parent.DropUsageHold()
	u.parent = nil
}
