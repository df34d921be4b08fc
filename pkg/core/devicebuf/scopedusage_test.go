// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devicebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopedUsage(t *testing.T) {
	device := backend.Device(0)
	stream := device.ComputeStream()
	b := testBuffer(t, device, nil, 16)

	var usage ScopedUsage
	assert.Same(t, &usage, usage.Acquire(b))
	require.Equal(t, 1, usageHolds(b))
	usage.Drop()
	require.Equal(t, 0, usageHolds(b))
	usage.Drop() // Empty, a no-op.

	// Acquiring a nil buffer leaves the guard empty.
	var empty ScopedUsage
	empty.Acquire(nil)
	empty.Drop()
	assert.Nil(t, empty.Release())
	require.Panics(t, func() { empty.Convert(stream, nil, false) })

	usage.Acquire(b)
	require.Panics(t, func() { usage.Acquire(b) })
	require.Equal(t, 1, usageHolds(b))

	ce := recordedEvent(t, stream)
	usage.Convert(stream, ce, true)
	require.Equal(t, 0, usageHolds(b))
	usage.Drop() // Convert emptied the guard.

	events := b.LockUseAndTransferUsageEvents()
	require.Len(t, events, 1)
	assert.Same(t, ce, events[0].Event)

	b.Release()
}

func TestScopedUsageTransfer(t *testing.T) {
	device := backend.Device(0)
	stream := device.ComputeStream()
	b := testBuffer(t, device, nil, 16)

	// Release hands the hold over without dropping it.
	var first ScopedUsage
	first.Acquire(b)
	raw := first.Release()
	assert.Same(t, b, raw)
	require.Equal(t, 1, usageHolds(b))

	// Transfer adopts the hold without taking another one.
	var second ScopedUsage
	second.Transfer(raw)
	require.Equal(t, 1, usageHolds(b))
	require.Panics(t, func() { second.Transfer(b) })
	second.Convert(stream, recordedEvent(t, stream), false)
	require.Equal(t, 0, usageHolds(b))

	// A hold taken directly on the buffer can be adopted the same way.
	b.AddUsageHold()
	var third ScopedUsage
	third.Transfer(b)
	third.Drop()
	require.Equal(t, 0, usageHolds(b))

	b.LockUseAndTransferUsageEvents()
	b.Release()
}
