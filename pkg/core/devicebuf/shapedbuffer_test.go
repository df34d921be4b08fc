// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devicebuf

import (
	"testing"

	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/devicemem/backends/goexec"
	"github.com/gomlx/devicemem/pkg/core/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShapedBufferSlots(t *testing.T) {
	device := backend.Device(0)
	shape := shapes.MakeTuple([]shapes.Shape{
		shapes.Make(dtypes.Float32, 2),
		shapes.MakeTuple([]shapes.Shape{shapes.Make(dtypes.Float32, 3), shapes.Make(dtypes.Int8)}),
		shapes.Make(dtypes.Float64, 1)})
	sb := NewShapedBuffer(shape, shape, goexec.BackendName, device.Num(), device.Allocator())

	assert.Equal(t, shape, sb.OnHostShape())
	assert.Equal(t, shape, sb.OnDeviceShape())
	assert.Equal(t, goexec.BackendName, sb.PlatformName())
	assert.Equal(t, device.Num(), sb.DeviceNum())
	assert.Equal(t, device.Allocator(), sb.Allocator())
	require.Len(t, sb.Memories(), 6)
	for _, memory := range sb.Memories() {
		assert.Nil(t, memory)
	}

	// Slots are addressed by tuple index, in pre-order.
	leaf, err := device.Allocator().Allocate(12)
	require.NoError(t, err)
	sb.SetMemory(leaf, 1, 0)
	assert.Equal(t, leaf, sb.Memories()[3])
	assert.Equal(t, leaf, sb.Memory(1, 0))

	root, err := device.Allocator().Allocate(3 * 8)
	require.NoError(t, err)
	sb.SetMemory(root)
	assert.Equal(t, root, sb.Memories()[0])
	assert.Equal(t, root, sb.Memory())

	assert.Contains(t, sb.String(), "ShapedBuffer")

	require.Panics(t, func() {
		NewShapedBuffer(shape, shapes.Invalid(), goexec.BackendName, 0, device.Allocator())
	})

	require.NoError(t, device.Allocator().Deallocate(leaf))
	require.NoError(t, device.Allocator().Deallocate(root))
}

func TestFromShapedBufferAndBack(t *testing.T) {
	device := backend.Device(0)
	allocator := device.Allocator().(*goexec.Allocator)
	baseLive := allocator.NumLiveRegions()

	shape := shapes.MakeTuple([]shapes.Shape{shapes.Make(dtypes.Float32, 4), shapes.Make(dtypes.Uint8, 8)})
	sb := NewShapedBuffer(shape, shape, goexec.BackendName, device.Num(), device.Allocator())
	require.Len(t, sb.Memories(), 3)
	regions := make([]backends.Memory, 3)
	for ii, size := range []uintptr{2 * 8, 4 * 4, 8} {
		memory, err := device.Allocator().Allocate(size)
		require.NoError(t, err)
		regions[ii] = memory
	}
	sb.SetMemory(regions[0])
	sb.SetMemory(regions[1], 0)
	sb.SetMemory(regions[2], 1)

	// The buffer takes ownership, the source is left empty.
	defined := recordedEvent(t, device.ComputeStream())
	b := FromShapedBuffer(sb, []*CompletionEvent{defined})
	assert.Equal(t, regions, b.Memories())
	assert.Equal(t, []*CompletionEvent{defined}, b.DefinitionEvents())
	assert.Equal(t, device.Allocator(), b.Allocator())
	assert.Equal(t, device.Num(), b.DeviceNum())
	for _, memory := range sb.Memories() {
		assert.Nil(t, memory)
	}

	// A view shares the regions and owns nothing.
	view := b.AsShapedBuffer(shape, shape, goexec.BackendName)
	assert.Equal(t, regions, view.Memories())
	assert.Nil(t, view.Allocator())
	assert.Equal(t, regions[1], view.Memory(0))

	other := testBuffer(t, device, nil, 16)
	require.Panics(t, func() { other.AsShapedBuffer(shape, shape, goexec.BackendName) })
	other.Release()

	b.Release()
	require.Equal(t, baseLive, allocator.NumLiveRegions())
}
