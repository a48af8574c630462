// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package taskrt

import (
	"runtime"
)

// AvailableCores returns the number of cores the current process may run
// on, capped at GOMAXPROCS. It is the default worker count.
func AvailableCores() int {
	n := availableCores()
	if p := runtime.GOMAXPROCS(0); p < n {
		n = p
	}
	if n < 1 {
		n = 1
	}
	return n
}
