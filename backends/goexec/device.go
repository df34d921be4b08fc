// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package goexec

import (
	"sync"

	"github.com/gomlx/devicemem/backends"
	"github.com/pkg/errors"
)

// Device simulates one device of a goexec Backend: an accounting allocator
// plus its streams.
type Device struct {
	backend *Backend
	num     backends.DeviceNum

	allocator                           *Allocator
	compute, hostToDevice, deviceToHost *stream

	mu           sync.Mutex
	extraStreams []*stream
}

// Compile-time check that goexec.Device implements backends.Device.
var _ backends.Device = (*Device)(nil)

func newDevice(backend *Backend, num backends.DeviceNum) *Device {
	d := &Device{
		backend:   backend,
		num:       num,
		allocator: newAllocator(num),
	}
	d.compute = newStream(backend, num)
	d.hostToDevice = newStream(backend, num)
	d.deviceToHost = newStream(backend, num)
	return d
}

// Num of this device within its backend.
func (d *Device) Num() backends.DeviceNum { return d.num }

// Allocator for this device's memory.
//
// It is a *goexec.Allocator: type assert to reach the accounting methods not
// in the backends.Allocator interface.
func (d *Device) Allocator() backends.Allocator { return d.allocator }

// ComputeStream is the stream where computations are enqueued.
func (d *Device) ComputeStream() backends.Stream { return d.compute }

// HostToDeviceStream is the stream where host-to-device transfers are enqueued.
func (d *Device) HostToDeviceStream() backends.Stream { return d.hostToDevice }

// DeviceToHostStream is the stream where device-to-host transfers are enqueued.
func (d *Device) DeviceToHostStream() backends.Stream { return d.deviceToHost }

// NewStream creates a dedicated stream on this device.
func (d *Device) NewStream() (backends.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.backend.IsFinalized() {
		return nil, errors.Errorf("cannot create stream: %q backend is finalized", BackendName)
	}
	s := newStream(d.backend, d.num)
	d.extraStreams = append(d.extraStreams, s)
	return s, nil
}

func (d *Device) finalize() {
	d.mu.Lock()
	streams := append([]*stream{d.compute, d.hostToDevice, d.deviceToHost}, d.extraStreams...)
	d.mu.Unlock()
	for _, s := range streams {
		s.close()
	}
	d.allocator.finalize()
}
