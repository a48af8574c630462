// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

//go:build linux

package taskrt

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// availableCores reads the affinity mask, which may change after startup
// (taskset, cpusets), unlike runtime.NumCPU.
func availableCores() int {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err == nil {
		if n := set.Count(); n > 0 {
			return n
		}
	}
	return runtime.NumCPU()
}
