// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package goexec

import (
	"reflect"
	"unsafe"

	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

// This file implements host<->device copies for the goexec backend. The
// copies are enqueued like any other stream work, so they observe the
// stream's FIFO order and any WaitForEvent stalls before them.

// TransferToDevice enqueues on the stream a copy of the flat slice into the
// device region. flat must be a slice of a supported dtype whose total byte
// size matches the region exactly.
//
// The copy runs asynchronously: flat must not be mutated until the stream
// syncs past the copy.
func TransferToDevice(backendStream backends.Stream, flat any, backendMemory backends.Memory) error {
	m, src, err := transferArgs(backendStream, flat, backendMemory)
	if err != nil {
		return err
	}
	return backendStream.Enqueue(func() { copy(m.data, src) })
}

// TransferFromDevice enqueues on the stream a copy of the device region into
// the flat slice. flat must be a slice of a supported dtype whose total byte
// size matches the region exactly.
//
// The copy runs asynchronously: flat holds the region's contents only after
// the stream syncs past the copy.
func TransferFromDevice(backendStream backends.Stream, backendMemory backends.Memory, flat any) error {
	m, dst, err := transferArgs(backendStream, flat, backendMemory)
	if err != nil {
		return err
	}
	return backendStream.Enqueue(func() { copy(dst, m.data) })
}

func transferArgs(backendStream backends.Stream, flat any, backendMemory backends.Memory) (*memory, []byte, error) {
	if _, ok := backendStream.(*stream); !ok {
		return nil, nil, errors.Errorf("stream is not a %q backend stream", BackendName)
	}
	m, ok := backendMemory.(*memory)
	if !ok {
		return nil, nil, errors.Errorf("memory is not a %q backend region", BackendName)
	}
	flatBytes, err := mutableBytes(flat)
	if err != nil {
		return nil, nil, err
	}
	if len(flatBytes) != len(m.data) {
		return nil, nil, errors.Errorf("flat data has %d bytes, device region has %d bytes", len(flatBytes), len(m.data))
	}
	return m, flatBytes, nil
}

// mutableBytes returns the bytes backing a flat slice of any supported dtype.
func mutableBytes(flat any) ([]byte, error) {
	flatV := reflect.ValueOf(flat)
	if flatV.Kind() != reflect.Slice {
		return nil, errors.Errorf("flat data must be a slice, got %T", flat)
	}
	dtype := dtypes.FromGoType(flatV.Type().Elem())
	if dtype == dtypes.InvalidDType {
		return nil, errors.Errorf("flat data type %T is not a supported dtype", flat)
	}
	if flatV.Len() == 0 {
		return nil, nil
	}
	bytePointer := (*byte)(flatV.Index(0).Addr().UnsafePointer())
	return unsafe.Slice(bytePointer, flatV.Len()*int(dtype.Memory())), nil
}
