package orchestrator

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Signal file names under <projectDir>/.hive/signals.
const (
	signalStop  = "stop"
	signalPause = "pause"
)

// SignalWatcher turns marker files in the project's signals directory into
// stop and pause requests. A filesystem watcher delivers them promptly; the
// Should* methods also stat the files directly, so signals are never missed
// when the watcher could not start.
type SignalWatcher struct {
	dir string

	mu    sync.RWMutex
	stop  bool
	pause bool

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewSignalWatcher creates the signals directory and begins watching it.
// Watcher setup failures degrade to stat-based polling, not an error.
func NewSignalWatcher(projectDir string) (*SignalWatcher, error) {
	dir := filepath.Join(projectDir, ".hive", "signals")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	sw := &SignalWatcher{dir: dir, done: make(chan struct{})}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return sw, nil
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return sw, nil
	}
	sw.watcher = watcher
	go sw.watch()

	return sw, nil
}

func (sw *SignalWatcher) watch() {
	for {
		select {
		case <-sw.done:
			return
		case event, ok := <-sw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			sw.mu.Lock()
			switch filepath.Base(event.Name) {
			case signalStop:
				sw.stop = true
			case signalPause:
				sw.pause = true
			}
			sw.mu.Unlock()
		case <-sw.watcher.Errors:
			// Keep watching; the stat fallback covers missed events.
		}
	}
}

func (sw *SignalWatcher) check(name string, flag *bool) bool {
	if _, err := os.Stat(filepath.Join(sw.dir, name)); err == nil {
		sw.mu.Lock()
		*flag = true
		sw.mu.Unlock()
	}
	sw.mu.RLock()
	defer sw.mu.RUnlock()
	return *flag
}

// ShouldStop reports whether a stop signal has been received.
func (sw *SignalWatcher) ShouldStop() bool {
	return sw.check(signalStop, &sw.stop)
}

// ShouldPause reports whether a pause signal is in effect. Pause lifts when
// the marker file is removed.
func (sw *SignalWatcher) ShouldPause() bool {
	if _, err := os.Stat(filepath.Join(sw.dir, signalPause)); err != nil {
		sw.mu.Lock()
		sw.pause = false
		sw.mu.Unlock()
	}
	return sw.check(signalPause, &sw.pause)
}

// RequestStop creates the stop marker file.
func (sw *SignalWatcher) RequestStop() error {
	return os.WriteFile(filepath.Join(sw.dir, signalStop), stamp(), 0644)
}

// RequestPause creates the pause marker file.
func (sw *SignalWatcher) RequestPause() error {
	return os.WriteFile(filepath.Join(sw.dir, signalPause), stamp(), 0644)
}

// Resume removes the pause marker file.
func (sw *SignalWatcher) Resume() error {
	sw.mu.Lock()
	sw.pause = false
	sw.mu.Unlock()
	err := os.Remove(filepath.Join(sw.dir, signalPause))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// Clear removes all marker files and resets state.
func (sw *SignalWatcher) Clear() {
	sw.mu.Lock()
	sw.stop = false
	sw.pause = false
	sw.mu.Unlock()
	os.Remove(filepath.Join(sw.dir, signalStop))
	os.Remove(filepath.Join(sw.dir, signalPause))
}

// Close stops the watcher.
func (sw *SignalWatcher) Close() {
	close(sw.done)
	if sw.watcher != nil {
		sw.watcher.Close()
	}
}

func stamp() []byte {
	return []byte(time.Now().Format(time.RFC3339))
}
