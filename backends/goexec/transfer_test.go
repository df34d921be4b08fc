// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package goexec

import (
	"testing"

	"github.com/gomlx/devicemem/pkg/support/xslices"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestTransferRoundTrip(t *testing.T) {
	device := backend.Device(0)
	alloc := device.Allocator()
	h2d := device.HostToDeviceStream()
	d2h := device.DeviceToHostStream()

	payload := xslices.Iota(float32(0), 256)
	mem := must.M1(alloc.Allocate(uintptr(len(payload) * 4)))
	require.NoError(t, TransferToDevice(h2d, payload, mem))

	// The device-to-host stream must wait for the upload to land.
	uploaded := must.M1(h2d.RecordEvent())
	require.NoError(t, d2h.WaitForEvent(uploaded))
	got := make([]float32, len(payload))
	require.NoError(t, TransferFromDevice(d2h, mem, got))
	require.NoError(t, d2h.Sync())
	assert.Equal(t, payload, got)
	require.NoError(t, alloc.Deallocate(mem))
}

func TestTransferFloat16(t *testing.T) {
	device := backend.Device(0)
	alloc := device.Allocator()
	h2d := device.HostToDeviceStream()

	payload := xslices.Map([]float32{1.5, -2.25, 0, 1e4}, float16.Fromfloat32)
	mem := must.M1(alloc.Allocate(uintptr(len(payload) * 2)))
	require.NoError(t, TransferToDevice(h2d, payload, mem))
	got := make([]float16.Float16, len(payload))
	require.NoError(t, TransferFromDevice(h2d, mem, got))
	require.NoError(t, h2d.Sync())
	assert.Equal(t, payload, got)
	require.NoError(t, alloc.Deallocate(mem))
}

func TestTransferErrors(t *testing.T) {
	device := backend.Device(0)
	alloc := device.Allocator()
	s := device.ComputeStream()
	mem := must.M1(alloc.Allocate(16))
	defer func() { require.NoError(t, alloc.Deallocate(mem)) }()

	// Byte size must match the region exactly.
	require.Error(t, TransferToDevice(s, make([]float32, 3), mem))
	// Flat data must be a slice of a supported dtype.
	require.Error(t, TransferToDevice(s, 17, mem))
	require.Error(t, TransferToDevice(s, make([]string, 4), mem))
	// Regions of other backends are refused.
	require.Error(t, TransferToDevice(s, make([]float32, 4), fakeMemory{}))
	require.NoError(t, s.Sync())
}
