// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/devicemem/backends/goexec"
	"github.com/gomlx/devicemem/pkg/core/devicebuf"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
)

// stress runs the rounds, keeping the progress bar and the allocator counters
// redrawn in place.
func stress(backend backends.Backend) error {
	rng := rand.New(rand.NewPCG(*flagSeed, *flagSeed))
	readers := make([][]backends.Stream, backend.NumDevices())
	for num := backends.DeviceNum(0); num < backend.NumDevices(); num++ {
		device := backend.Device(num)
		for range *flagReaders {
			stream, err := device.NewStream()
			if err != nil {
				return err
			}
			readers[num] = append(readers[num], stream)
		}
	}

	bar := progressbar.NewOptions(*flagRounds,
		progressbar.OptionSetDescription("Stressing: "),
		progressbar.OptionUseANSICodes(true),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rounds"),
		progressbar.OptionSetTheme(progressbar.ThemeUnicode),
	)
	output := termenv.NewOutput(os.Stdout)

	var uploaded, downloaded uint64
	statsLines := 0
	pendingRounds := 0
	for round := 0; round < *flagRounds; round++ {
		for num := backends.DeviceNum(0); num < backend.NumDevices(); num++ {
			err := stressDevice(rng, backend.Device(num), readers[num], &uploaded, &downloaded)
			if err != nil {
				return err
			}
		}
		pendingRounds++
		if (round+1)%*flagStats != 0 && round+1 != *flagRounds {
			continue
		}
		if statsLines > 0 {
			output.ClearLines(statsLines)
		}
		_ = bar.Add(pendingRounds)
		pendingRounds = 0
		stats := renderStats(backend, uploaded, downloaded)
		fmt.Println()
		fmt.Println(stats)
		statsLines = strings.Count(stats, "\n") + 2
	}
	fmt.Println()
	return nil
}

// stressDevice runs one round on one device: upload a batch of buffers, fan
// the readers out, then donate every buffer and check the data read back.
func stressDevice(rng *rand.Rand, device backends.Device, readers []backends.Stream,
	uploaded, downloaded *uint64) error {
	type pipeline struct {
		values []float32
		memory backends.Memory
		buf    *devicebuf.Buffer
		outs   [][]float32
	}

	h2d := device.HostToDeviceStream()
	pipes := make([]*pipeline, 0, *flagBuffers)
	for range *flagBuffers {
		values := make([]float32, *flagValues)
		for ii := range values {
			values[ii] = rng.Float32()
		}
		memory, err := device.Allocator().Allocate(uintptr(len(values)) * 4)
		if err != nil {
			return err
		}
		if err = goexec.TransferToDevice(h2d, values, memory); err != nil {
			return err
		}
		defined := devicebuf.NewCompletionEvent()
		ev, err := h2d.RecordEvent()
		if err != nil {
			return err
		}
		defined.SetRecordedEvent(ev, h2d)
		pipes = append(pipes, &pipeline{
			values: values,
			memory: memory,
			buf: devicebuf.New(device.Allocator(), device.Num(),
				[]backends.Memory{memory}, []*devicebuf.CompletionEvent{defined}, nil),
		})
		*uploaded += uint64(len(values)) * 4
	}

	// Every reader waits for the definition, holds a usage while its read is
	// in flight and converts the hold to the read's completion event.
	for _, pipe := range pipes {
		for _, reader := range readers {
			if err := devicebuf.WaitForDefinitionEventsOnStream(pipe.buf, reader); err != nil {
				return err
			}
			var usage devicebuf.ScopedUsage
			usage.Acquire(pipe.buf)
			out := make([]float32, len(pipe.values))
			if err := goexec.TransferFromDevice(reader, pipe.memory, out); err != nil {
				return err
			}
			read := devicebuf.NewCompletionEvent()
			ev, err := reader.RecordEvent()
			if err != nil {
				return err
			}
			read.SetRecordedEvent(ev, reader)
			usage.Convert(reader, read, false)
			pipe.outs = append(pipe.outs, out)
			*downloaded += uint64(len(out)) * 4
		}
	}

	// Donation: teardown of each buffer is ordered after all of its readers.
	compute := device.ComputeStream()
	for _, pipe := range pipes {
		for _, se := range pipe.buf.LockUseAndTransferUsageEvents() {
			if err := se.Event.WaitForEventOnStream(compute); err != nil {
				return err
			}
		}
	}
	if err := compute.Sync(); err != nil {
		return err
	}
	for _, reader := range readers {
		if err := reader.Sync(); err != nil {
			return err
		}
	}

	for _, pipe := range pipes {
		for _, out := range pipe.outs {
			if !slices.Equal(out, pipe.values) {
				return errors.Errorf("device #%d returned corrupted data", device.Num())
			}
		}
		pipe.buf.Release()
	}
	return nil
}
