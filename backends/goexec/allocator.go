// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package goexec

import (
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/devicemem/pkg/support/sets"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Allocator hands out plain Go byte slices as simulated device memory, and
// accounts for every live region, catching double frees and regions of other
// allocators.
//
// backends.Device.Allocator returns it behind the backends.Allocator
// interface; type assert to *Allocator to reach the accounting methods.
type Allocator struct {
	deviceNum backends.DeviceNum
	tag       string // Correlates log lines of this allocator.

	mu         sync.Mutex
	live       sets.Set[*memory]
	limit      uintptr
	bytesInUse uintptr
	peakInUse  uintptr
	numAllocs  uint64
	finalized  bool
}

// memory is one simulated device region.
type memory struct {
	data  []byte
	owner *Allocator
}

// Compile-time checks:
var (
	_ backends.Allocator = (*Allocator)(nil)
	_ backends.Memory    = (*memory)(nil)
)

// SizeInBytes of the region.
func (m *memory) SizeInBytes() uintptr { return uintptr(len(m.data)) }

func newAllocator(deviceNum backends.DeviceNum) *Allocator {
	return &Allocator{
		deviceNum: deviceNum,
		tag:       uuid.NewString(),
		live:      sets.Make[*memory](),
	}
}

// SetLimit caps the total bytes the allocator hands out; Allocate fails once
// the cap would be exceeded. A limit of 0 (the default) means no cap.
func (a *Allocator) SetLimit(limitBytes uintptr) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.limit = limitBytes
}

// Allocate a region of the given size on the device.
func (a *Allocator) Allocate(sizeInBytes uintptr) (backends.Memory, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.finalized {
		return nil, errors.Errorf("allocator of finalized %q backend", BackendName)
	}
	if a.limit > 0 && a.bytesInUse+sizeInBytes > a.limit {
		return nil, errors.Errorf("out of memory on device #%d: %s requested, %s in use, %s limit",
			a.deviceNum, humanize.IBytes(uint64(sizeInBytes)), humanize.IBytes(uint64(a.bytesInUse)),
			humanize.IBytes(uint64(a.limit)))
	}
	m := &memory{data: make([]byte, sizeInBytes), owner: a}
	a.live.Insert(m)
	a.bytesInUse += sizeInBytes
	a.peakInUse = max(a.peakInUse, a.bytesInUse)
	a.numAllocs++
	klog.V(2).Infof("goexec allocator %s (device #%d): allocated %s, %s in use",
		a.tag, a.deviceNum, humanize.IBytes(uint64(sizeInBytes)), humanize.IBytes(uint64(a.bytesInUse)))
	return m, nil
}

// Deallocate a region previously returned by Allocate.
func (a *Allocator) Deallocate(backendMemory backends.Memory) error {
	m, ok := backendMemory.(*memory)
	if !ok {
		return errors.Errorf("memory is not a %q backend region", BackendName)
	}
	if m.owner != a {
		return errors.Errorf("memory belongs to the allocator of device #%d, not device #%d",
			m.owner.deviceNum, a.deviceNum)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.live.Has(m) {
		return errors.Errorf("double free of a %s region on device #%d",
			humanize.IBytes(uint64(m.SizeInBytes())), a.deviceNum)
	}
	a.live.Delete(m)
	a.bytesInUse -= m.SizeInBytes()
	klog.V(2).Infof("goexec allocator %s (device #%d): freed %s, %s in use",
		a.tag, a.deviceNum, humanize.IBytes(uint64(m.SizeInBytes())), humanize.IBytes(uint64(a.bytesInUse)))
	return nil
}

// BytesInUse returns the total size of the live regions.
func (a *Allocator) BytesInUse() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytesInUse
}

// PeakBytesInUse returns the largest BytesInUse observed.
func (a *Allocator) PeakBytesInUse() uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.peakInUse
}

// NumAllocations returns the number of successful Allocate calls.
func (a *Allocator) NumAllocations() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.numAllocs
}

// NumLiveRegions returns the number of regions allocated and not yet deallocated.
func (a *Allocator) NumLiveRegions() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

func (a *Allocator) finalize() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.finalized = true
	if a.bytesInUse > 0 {
		klog.Warningf("goexec allocator %s (device #%d): finalized with %s still allocated in %d regions",
			a.tag, a.deviceNum, humanize.IBytes(uint64(a.bytesInUse)), len(a.live))
	}
}
