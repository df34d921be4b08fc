// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package goexec implements a pure Go backend, simulating a multi-device
// accelerator in process memory.
//
// Each simulated device owns an accounting allocator and a set of FIFO
// streams, each stream served by one goroutine. Events recorded on a stream
// complete when the goroutine executes past the marker, and carry sequence
// numbers from a per-backend counter.
//
// It is not fast, but it is portable and deterministic enough for tests, and
// it exercises the full devicebuf synchronization protocol.
package goexec

import (
	"strconv"
	"sync/atomic"

	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/exceptions"
)

// BackendName to be used in DEVICEMEM_BACKEND to specify this backend.
const BackendName = "go"

// Registers New() as the constructor for the "go" backend.
func init() {
	backends.Register(BackendName, New)
}

// New constructs a new goexec Backend.
// The configuration is the number of devices to simulate; if empty it
// defaults to 1.
func New(config string) backends.Backend {
	numDevices := 1
	if config != "" {
		var err error
		numDevices, err = strconv.Atoi(config)
		if err != nil || numDevices <= 0 {
			exceptions.Panicf("invalid configuration %q for %q backend: want a positive number of devices", config, BackendName)
		}
	}
	return NewBackend(numDevices)
}

// NewBackend constructs a goexec backend simulating numDevices devices.
func NewBackend(numDevices int) *Backend {
	b := &Backend{}
	b.devices = make([]*Device, numDevices)
	for num := range b.devices {
		b.devices[num] = newDevice(b, backends.DeviceNum(num))
	}
	return b
}

// Backend implements the backends.Backend interface.
type Backend struct {
	devices   []*Device
	sequence  atomic.Uint64
	finalized atomic.Bool
}

// Compile-time check that goexec.Backend implements backends.Backend.
var _ backends.Backend = (*Backend)(nil)

// Name returns the short name of the backend.
func (b *Backend) Name() string {
	return "GoExec (go)"
}

// String implements fmt.Stringer.
func (b *Backend) String() string { return BackendName }

// Description is a longer description of the Backend that can be used to pretty-print.
func (b *Backend) Description() string {
	return "Pure Go simulated streams-and-events backend"
}

// NumDevices return the number of devices simulated by this Backend.
func (b *Backend) NumDevices() backends.DeviceNum {
	return backends.DeviceNum(len(b.devices))
}

// Device returns the simulated device deviceNum.
func (b *Backend) Device(deviceNum backends.DeviceNum) backends.Device {
	if deviceNum < 0 || int(deviceNum) >= len(b.devices) {
		exceptions.Panicf("%q backend has %d devices, there is no device #%d", BackendName, len(b.devices), deviceNum)
	}
	return b.devices[deviceNum]
}

// Finalize stops all the devices' streams and makes the backend invalid.
//
// Streams stop executing: work still queued is discarded, and events still
// queued complete with an error status.
func (b *Backend) Finalize() {
	if !b.finalized.CompareAndSwap(false, true) {
		return
	}
	for _, device := range b.devices {
		device.finalize()
	}
}

// IsFinalized returns whether Finalize was called on this backend.
func (b *Backend) IsFinalized() bool {
	return b.finalized.Load()
}
