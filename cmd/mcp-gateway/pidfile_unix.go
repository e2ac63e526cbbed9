//go:build !windows

package main

import (
	"os"
	"syscall"
)

// processAlive reports whether pid names a running process, via the
// standard zero-signal liveness check.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
