//go:build windows

package main

import "os"

// processAlive reports whether pid names a running process. Windows'
// os.Process.Signal only supports os.Kill, so a zero-signal probe isn't
// available; finding the process is the best advisory check available.
func processAlive(pid int) bool {
	_, err := os.FindProcess(pid)
	return err == nil
}
