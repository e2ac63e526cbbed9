package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// acquirePIDFile writes the current PID to path, logging (not failing) if a
// live process is already named there — spec §9 treats "one server running"
// as advisory, never an invariant the core enforces. The returned func
// removes the file; callers defer it.
func acquirePIDFile(path string) (func(), error) {
	if existing, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(existing))); err == nil && processAlive(pid) {
			fmt.Fprintf(os.Stderr, "warning: pid file %s names running process %d; continuing anyway\n", path, pid)
		}
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, fmt.Errorf("writing pid file %s: %w", path, err)
	}

	return func() { _ = os.Remove(path) }, nil
}
