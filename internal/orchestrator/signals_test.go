package orchestrator

import "testing"

func TestSignalWatcherStop(t *testing.T) {
	sw, err := NewSignalWatcher(t.TempDir())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer sw.Close()

	if sw.ShouldStop() {
		t.Fatal("stop signaled before request")
	}
	if err := sw.RequestStop(); err != nil {
		t.Fatalf("request stop: %v", err)
	}
	if !sw.ShouldStop() {
		t.Fatal("stop not detected")
	}
}

func TestSignalWatcherPauseLifts(t *testing.T) {
	sw, err := NewSignalWatcher(t.TempDir())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer sw.Close()

	if err := sw.RequestPause(); err != nil {
		t.Fatalf("request pause: %v", err)
	}
	if !sw.ShouldPause() {
		t.Fatal("pause not detected")
	}

	if err := sw.Resume(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if sw.ShouldPause() {
		t.Fatal("pause did not lift after marker removal")
	}
}

func TestSignalWatcherClear(t *testing.T) {
	sw, err := NewSignalWatcher(t.TempDir())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer sw.Close()

	sw.RequestStop()
	sw.RequestPause()
	sw.Clear()

	if sw.ShouldStop() || sw.ShouldPause() {
		t.Fatal("signals survived Clear")
	}
}
