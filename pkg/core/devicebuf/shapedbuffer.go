// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package devicebuf

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/devicemem/pkg/core/shapes"
	"github.com/gomlx/devicemem/pkg/support/xslices"
	"github.com/gomlx/exceptions"
)

// ShapedBuffer is a shape-indexed view of device memory regions: one slot per
// sub-shape of the on-device shape, in pre-order, the tuple positions holding
// the backend's index tables.
//
// It is the exchange format between the buffer lifetime machinery and code
// that thinks in shapes: FromShapedBuffer moves the regions of a ShapedBuffer
// into a reference-counted Buffer, and Buffer.AsShapedBuffer builds the view
// back for handing to an execution.
type ShapedBuffer struct {
	onHostShape, onDeviceShape shapes.Shape
	platformName               string
	deviceNum                  backends.DeviceNum

	// allocator owning the regions, or nil if this is only a view.
	allocator backends.Allocator

	// memories is indexed by sub-shape position of onDeviceShape.
	memories []backends.Memory
}

// NewShapedBuffer creates a ShapedBuffer with empty slots, one per sub-shape
// of onDeviceShape. allocator may be nil for views that don't own their
// regions.
func NewShapedBuffer(onHostShape, onDeviceShape shapes.Shape, platformName string,
	deviceNum backends.DeviceNum, allocator backends.Allocator) *ShapedBuffer {
	if !onDeviceShape.Ok() {
		exceptions.Panicf("NewShapedBuffer with invalid on-device shape (on-host shape %s)", onHostShape)
	}
	return &ShapedBuffer{
		onHostShape:   onHostShape,
		onDeviceShape: onDeviceShape,
		platformName:  platformName,
		deviceNum:     deviceNum,
		allocator:     allocator,
		memories:      make([]backends.Memory, onDeviceShape.NumSubShapes()),
	}
}

// OnHostShape is the shape of the buffer as seen by the host.
func (sb *ShapedBuffer) OnHostShape() shapes.Shape { return sb.onHostShape }

// OnDeviceShape is the shape of the buffer on the device; it defines the slot
// layout.
func (sb *ShapedBuffer) OnDeviceShape() shapes.Shape { return sb.onDeviceShape }

// PlatformName of the backend holding the regions.
func (sb *ShapedBuffer) PlatformName() string { return sb.platformName }

// DeviceNum of the device holding the regions.
func (sb *ShapedBuffer) DeviceNum() backends.DeviceNum { return sb.deviceNum }

// Allocator owning the regions, or nil if this is only a view.
func (sb *ShapedBuffer) Allocator() backends.Allocator { return sb.allocator }

// Memories returns all slots, indexed by sub-shape position of the on-device
// shape. The returned slice is the ShapedBuffer's own: don't resize it.
func (sb *ShapedBuffer) Memories() []backends.Memory { return sb.memories }

// Memory returns the region in the slot of the sub-shape at the given index
// path; the empty path is the root slot. It panics if the path doesn't point
// to a sub-shape of the on-device shape.
func (sb *ShapedBuffer) Memory(index ...int) backends.Memory {
	return sb.memories[sb.onDeviceShape.SubShapePosition(index...)]
}

// SetMemory stores the region into the slot of the sub-shape at the given
// index path. It panics if the path doesn't point to a sub-shape of the
// on-device shape.
func (sb *ShapedBuffer) SetMemory(memory backends.Memory, index ...int) {
	sb.memories[sb.onDeviceShape.SubShapePosition(index...)] = memory
}

// String implements fmt.Stringer.
func (sb *ShapedBuffer) String() string {
	sizes := xslices.Map(sb.memories, func(memory backends.Memory) string {
		if memory == nil {
			return "<empty>"
		}
		return humanize.IBytes(uint64(memory.SizeInBytes()))
	})
	return fmt.Sprintf("ShapedBuffer(device #%d of %s, on-host %s, on-device %s, slots [%s])",
		sb.deviceNum, sb.platformName, sb.onHostShape, sb.onDeviceShape,
		strings.Join(sizes, ", "))
}

// FromShapedBuffer moves the regions out of the source ShapedBuffer into a
// new reference-counted Buffer, along with the source's allocator and device:
// every slot of the source is cleared as its region is extracted, and the
// Buffer starts with one reference.
//
// The source's slot count must match its on-device shape exactly; it panics
// otherwise.
func FromShapedBuffer(source *ShapedBuffer, definitionEvents []*CompletionEvent) *Buffer {
	memories := make([]backends.Memory, 0, len(source.memories))
	pos := 0
	source.onDeviceShape.ForEachSubShape(func(_ shapes.Shape, _ []int) {
		if pos >= len(source.memories) {
			exceptions.Panicf("FromShapedBuffer: source has %d slots, fewer than the %d sub-shapes of %s",
				len(source.memories), source.onDeviceShape.NumSubShapes(), source.onDeviceShape)
		}
		memories = append(memories, source.memories[pos])
		source.memories[pos] = nil
		pos++
	})
	if pos != len(source.memories) {
		exceptions.Panicf("FromShapedBuffer: source has %d slots, more than the %d sub-shapes of %s",
			len(source.memories), pos, source.onDeviceShape)
	}
	return New(source.allocator, source.deviceNum, memories, definitionEvents, nil)
}

// AsShapedBuffer builds a ShapedBuffer view of the buffer's regions, for
// handing to an execution. The view doesn't own the regions: keep the Buffer
// referenced while the view is in use.
//
// The buffer's region count must match the on-device shape's sub-shape count
// exactly; it panics otherwise.
func (b *Buffer) AsShapedBuffer(onHostShape, onDeviceShape shapes.Shape, platformName string) *ShapedBuffer {
	sb := NewShapedBuffer(onHostShape, onDeviceShape, platformName, b.deviceNum, nil)
	if len(b.memories) != len(sb.memories) {
		exceptions.Panicf("AsShapedBuffer: buffer has %d regions, shape %s has %d sub-shapes",
			len(b.memories), onDeviceShape, len(sb.memories))
	}
	copy(sb.memories, b.memories)
	return sb
}
