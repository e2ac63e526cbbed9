//go:build windows

package main

import (
	"context"
	"os"
	"os/signal"
)

// signalContext cancels its context on os.Interrupt, the only terminate
// signal Windows delivers through os/signal (spec §5 "platform-aware signal
// handling" — Windows lacks SIGTERM).
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt)
}
