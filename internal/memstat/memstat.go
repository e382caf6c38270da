// Copyright (C) 2024 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package memstat reads system memory pressure so the watchdog
// utility (spec §2: "not specified beyond usage") can decide when an
// in-memory graph is approaching the host's available DRAM. Grounded
// on the teacher's root `meminfo.go`, which read /proc/meminfo once at
// process start; this generalizes that into a callable probe (rather
// than a package-level init global, per the design note in spec §9
// about moving global mutable state to explicit handles) and adds a
// live "available" reading via golang.org/x/sys/unix.Sysinfo so the
// watchdog can be polled repeatedly, not just at startup.
package memstat

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Snapshot is a point-in-time read of host memory pressure.
type Snapshot struct {
	// TotalBytes is the total usable DRAM. Zero on unsupported
	// platforms and should be ignored.
	TotalBytes uint64
	// AvailableBytes is Sysinfo.Freeram, free memory only (reclaimable
	// page cache is not counted), used as an approximation of
	// MemAvailable.
	AvailableBytes uint64
}

// Supported reports whether Read can produce a non-zero Snapshot on
// this platform.
func Supported() bool { return runtime.GOOS == "linux" }

// Read probes current memory pressure. On non-Linux platforms it
// returns a zero Snapshot and no error; callers that need the
// watchdog to be a no-op off Linux should check Supported first.
func Read() (Snapshot, error) {
	if !Supported() {
		return Snapshot{}, nil
	}
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Snapshot{}, fmt.Errorf("memstat: sysinfo: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	return Snapshot{
		TotalBytes:     uint64(info.Totalram) * unit,
		AvailableBytes: uint64(info.Freeram) * unit,
	}, nil
}

// Pressure returns the fraction of total memory currently in use, in
// [0, 1]. Returns 0 when TotalBytes is unknown (unsupported platform
// or a zero reading).
func (s Snapshot) Pressure() float64 {
	if s.TotalBytes == 0 {
		return 0
	}
	used := s.TotalBytes - s.AvailableBytes
	return float64(used) / float64(s.TotalBytes)
}
