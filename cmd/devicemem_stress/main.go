// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// devicemem_stress hammers a backend with concurrent device buffer pipelines:
// every round it uploads a batch of buffers per device, fans readers out over
// several streams, donates the buffers and verifies the data that came back.
//
// It reports the allocator counters of every device while running, e.g.:
//
//	devicemem_stress -backend=go:4 -rounds=100 -readers=8
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/gomlx/devicemem/backends"
	"github.com/gomlx/devicemem/backends/goexec"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"
)

var (
	flagBackend = flag.String("backend", "", "Backend configuration to stress, e.g. \"go:4\". "+
		"If empty, the configuration is taken from $"+backends.ConfigEnvVar+" or the registered default.")
	flagRounds  = flag.Int("rounds", 50, "Number of stress rounds to run.")
	flagBuffers = flag.Int("buffers", 8, "Buffers created per device on each round.")
	flagValues  = flag.Int("values", 16*1024, "Number of float32 values uploaded per buffer.")
	flagReaders = flag.Int("readers", 3, "Reader streams fanned out per device.")
	flagSeed    = flag.Uint64("seed", 42, "Seed used to generate the payloads.")
	flagStats   = flag.Int("stats_every", 10, "Rounds between refreshes of the allocator counters display.")
)

func main() {
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %q. See 'devicemem_stress -help'.", flag.Args())
		os.Exit(1)
	}
	if *flagBackend != "" {
		must.M(os.Setenv(backends.ConfigEnvVar, *flagBackend))
	}
	backend := backends.MustNew()
	fmt.Printf("Stressing %s: %s\n", backend.Name(), backend.Description())
	if err := stress(backend); err != nil {
		klog.Errorf("Stress failed: %+v", err)
		os.Exit(1)
	}
	backend.Finalize()
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	totalsStyle = lipgloss.NewStyle().Faint(true).PaddingLeft(1)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if row == 1 {
				return headerRowStyle
			}
			if row%2 == 0 {
				s = oddRowStyle
			} else {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// renderStats returns the per-device allocator counters plus transfer totals.
func renderStats(backend backends.Backend, uploaded, downloaded uint64) string {
	table := newPlainTable()
	table.Row("Device", "Live Regions", "In Use", "Peak", "Allocations")
	for num := backends.DeviceNum(0); num < backend.NumDevices(); num++ {
		allocator, ok := backend.Device(num).Allocator().(*goexec.Allocator)
		if !ok {
			continue
		}
		table.Row(
			fmt.Sprintf("#%d", num),
			humanize.Comma(int64(allocator.NumLiveRegions())),
			humanize.IBytes(uint64(allocator.BytesInUse())),
			humanize.IBytes(uint64(allocator.PeakBytesInUse())),
			humanize.Comma(int64(allocator.NumAllocations())),
		)
	}
	return table.Render() + "\n" +
		totalsStyle.Render(fmt.Sprintf("uploaded %s, downloaded %s",
			humanize.IBytes(uploaded), humanize.IBytes(downloaded)))
}
