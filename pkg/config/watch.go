package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nullrunner/mcp-gateway/pkg/log"
)

// debounceWindow matches spec §4.A's "watch the file with ≥100 ms debouncing".
const debounceWindow = 150 * time.Millisecond

// ReloadEvent is delivered on a successful hot-reload; Snap is the new,
// already-validated snapshot and Diff the change against the prior one.
type ReloadEvent struct {
	Snap *Snapshot
	Diff Diff
}

// ReloadFailure is delivered when a reload attempt fails validation; the
// caller's current snapshot is left untouched (spec §4.A "never apply a
// partial change").
type ReloadFailure struct {
	Path string
	Err  error
}

// Watcher hot-reloads a config file, emitting ReloadEvent on success and
// ReloadFailure on validation error, never replacing the last-good snapshot
// when a failure occurs.
type Watcher struct {
	path    string
	current *Snapshot

	events  chan ReloadEvent
	failed  chan ReloadFailure
	closeFn func() error
}

// Watch starts watching path for changes and returns a Watcher plus a stop
// function. The caller owns calling Load first to obtain the initial
// snapshot; Watch only handles subsequent changes.
func Watch(ctx context.Context, path string, initial *Snapshot) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		current: initial,
		events:  make(chan ReloadEvent, 1),
		failed:  make(chan ReloadFailure, 1),
		closeFn: fsw.Close,
	}

	go w.loop(ctx, fsw)
	return w, nil
}

// Events yields successful reloads.
func (w *Watcher) Events() <-chan ReloadEvent { return w.events }

// Failures yields reload attempts that failed validation; the watcher's
// current snapshot is unchanged when this fires.
func (w *Watcher) Failures() <-chan ReloadFailure { return w.failed }

// Stop closes the underlying file watch.
func (w *Watcher) Stop() error { return w.closeFn() }

func (w *Watcher) loop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceWindow)
			}
			debounceC = debounce.C

		case <-debounceC:
			debounceC = nil
			w.reload(ctx)

		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			log.Logf("config: watch error: %v", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	next, err := Load(w.path, false)
	if err != nil {
		select {
		case w.failed <- ReloadFailure{Path: w.path, Err: err}:
		case <-ctx.Done():
		}
		return
	}

	diff := ComputeDiff(w.current, next)
	w.current = next

	select {
	case w.events <- ReloadEvent{Snap: next, Diff: diff}:
	case <-ctx.Done():
	}
}
