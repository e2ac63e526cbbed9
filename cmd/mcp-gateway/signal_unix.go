//go:build !windows

package main

import (
	"context"
	"os/signal"
	"syscall"
)

// signalContext cancels its context on SIGINT or SIGTERM, the two signals
// available on every unix-like target (spec §5 "platform-aware signal
// handling").
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
}
