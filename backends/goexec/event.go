// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package goexec

import (
	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/devicemem/pkg/support/xsync"
)

// event is a marker in a stream queue. It triggers when the stream goroutine
// executes past it, with a nil error, or with a non-nil error if the backend
// was finalized first.
type event struct {
	seqNumber uint64
	done      *xsync.LatchWithValue[error]
}

// Compile-time check that goexec.event implements backends.Event.
var _ backends.Event = (*event)(nil)

func newEvent(seqNumber uint64) *event {
	return &event{
		seqNumber: seqNumber,
		done:      xsync.NewLatchWithValue[error](),
	}
}

// SequenceNumber of the event, from the per-backend counter.
// Sequence numbers of different Backend instances are not comparable.
func (e *event) SequenceNumber() uint64 { return e.seqNumber }

// PollStatus returns the current status of the event, without blocking.
func (e *event) PollStatus() backends.EventStatus {
	err, triggered := e.done.TryValue()
	switch {
	case !triggered:
		return backends.EventPending
	case err != nil:
		return backends.EventError
	default:
		return backends.EventComplete
	}
}
