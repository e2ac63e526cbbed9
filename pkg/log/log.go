// Package log provides the gateway's process-wide logging sink.
//
// It is intentionally small: a swappable io.Writer and a thin helper for
// tagging lines with the emitting component. The gateway logs lifecycle
// events (connects, reloads, reconnects), not per-request traffic, so a
// structured logging library buys little here.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

var (
	mu        sync.Mutex
	logWriter io.Writer = os.Stderr
)

// SetLogWriter sets the log output destination.
func SetLogWriter(w io.Writer) {
	if w == nil {
		return
	}
	mu.Lock()
	logWriter = w
	mu.Unlock()
}

// Log prints a message to the log output.
func Log(a ...any) {
	mu.Lock()
	defer mu.Unlock()
	_, _ = fmt.Fprintln(logWriter, a...)
}

// Logf prints a formatted message to the log output.
func Logf(format string, a ...any) {
	if !strings.HasSuffix(format, "\n") {
		format += "\n"
	}
	mu.Lock()
	defer mu.Unlock()
	_, _ = fmt.Fprintf(logWriter, format, a...)
}

// Tagged returns a Logger that prefixes every line with "[component]".
func Tagged(component string) Logger {
	return Logger{prefix: "[" + component + "] "}
}

// Logger is a component-scoped view over the package-level sink.
type Logger struct {
	prefix string
}

func (l Logger) Log(a ...any) {
	Log(append([]any{l.prefix}, a...)...)
}

func (l Logger) Logf(format string, a ...any) {
	Logf(l.prefix+format, a...)
}
