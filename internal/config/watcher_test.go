package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func startWatcher(t *testing.T, path string, debounce time.Duration, opts ...WatcherOption[Reloadable]) *Watcher[Reloadable] {
	t.Helper()
	opts = append(opts, WithDebounce[Reloadable](debounce))
	w := NewConfigWatcher(path, LoadReloadable, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := w.Stop(); err != nil {
			t.Errorf("watcher.Stop failed: %v", err)
		}
	})
	// Let the watch register before the first write
	time.Sleep(100 * time.Millisecond)
	return w
}

func TestWatcherReloadsTuning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdrnode.toml")
	writeConfig(t, path, "[aec]\ntarget = 0.0005\n")

	received := make(chan Reloadable, 1)
	w := startWatcher(t, path, 50*time.Millisecond)
	w.OnReload(func(cfg Reloadable) { received <- cfg })

	writeConfig(t, path, "[aec]\ntarget = 0.002\nclamp_to_bounds = true\n\n[logging]\nlevel = \"debug\"\n")

	select {
	case cfg := <-received:
		if cfg.AEC.Target != 0.002 || !cfg.AEC.ClampToBounds {
			t.Errorf("tuning = %+v", cfg.AEC)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("logging level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for config reload")
	}
}

func TestWatcherFollowsAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hdrnode.toml")
	writeConfig(t, path, "[aec]\nthreshold = 0.00001\n")

	received := make(chan Reloadable, 4)
	w := startWatcher(t, path, 50*time.Millisecond)
	w.OnReload(func(cfg Reloadable) { received <- cfg })

	for i, threshold := range []string{"0.00002", "0.00003"} {
		tmp := filepath.Join(dir, fmt.Sprintf(".hdrnode.toml.%d", i))
		writeConfig(t, tmp, "[aec]\nthreshold = "+threshold+"\n")
		if err := os.Rename(tmp, path); err != nil {
			t.Fatal(err)
		}

		select {
		case cfg := <-received:
			want := []float64{0.00002, 0.00003}[i]
			if cfg.AEC.Threshold != want {
				t.Errorf("threshold = %g, want %g", cfg.AEC.Threshold, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("replace %d: timeout waiting for reload", i)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hdrnode.toml")
	writeConfig(t, path, "[aec]\n")

	var count atomic.Int32
	w := startWatcher(t, path, 20*time.Millisecond)
	w.OnReload(func(Reloadable) { count.Add(1) })

	writeConfig(t, filepath.Join(dir, "calibration.toml"), "device = \"cam0\"\n")
	time.Sleep(200 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("handler called %d times for a sibling file", got)
	}
}

func TestWatcherErrorHandler(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdrnode.toml")
	writeConfig(t, path, "[aec]\n")

	errs := make(chan error, 1)
	received := make(chan Reloadable, 1)
	w := startWatcher(t, path, 50*time.Millisecond, WithErrorHandler[Reloadable](func(err error) { errs <- err }))
	w.OnReload(func(cfg Reloadable) { received <- cfg })

	// Parses, but the tuning is rejected
	writeConfig(t, path, "[aec]\ntarget = -1.0\n")

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected non-nil error")
		}
	case <-received:
		t.Fatal("config handler should not be called on error")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestWatcherDebounce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdrnode.toml")
	writeConfig(t, path, "[aec]\n")

	var count atomic.Int32
	var last atomic.Value
	w := startWatcher(t, path, 200*time.Millisecond)
	w.OnReload(func(cfg Reloadable) {
		count.Add(1)
		last.Store(cfg.AEC.Target)
	})

	for i := 1; i <= 5; i++ {
		writeConfig(t, path, fmt.Sprintf("[aec]\ntarget = 0.00%d\n", i))
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
	if got, _ := last.Load().(float64); got != 0.005 {
		t.Errorf("final target = %g, want 0.005", got)
	}
}

func TestWatcherUnsubscribeAndStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdrnode.toml")
	writeConfig(t, path, "[aec]\n")

	w := NewConfigWatcher(path, LoadReloadable, newTestLogger(), WithDebounce[Reloadable](30*time.Millisecond))
	var kept, dropped atomic.Int32
	w.OnReload(func(Reloadable) { kept.Add(1) })
	unsub := w.OnReload(func(Reloadable) { dropped.Add(1) })
	unsub()

	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)

	writeConfig(t, path, "[aec]\ntarget = 0.001\n")
	time.Sleep(300 * time.Millisecond)

	if kept.Load() != 1 || dropped.Load() != 0 {
		t.Errorf("kept = %d, dropped = %d, want 1 and 0", kept.Load(), dropped.Load())
	}

	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	writeConfig(t, path, "[aec]\ntarget = 0.002\n")
	time.Sleep(200 * time.Millisecond)

	if got := kept.Load(); got != 1 {
		t.Errorf("handler called after Stop, count = %d", got)
	}
}

func TestWatcherSkipsUnchangedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hdrnode.toml")
	const content = "[aec]\ntarget = 0.001\n"
	writeConfig(t, path, content)

	var count atomic.Int32
	w := startWatcher(t, path, 30*time.Millisecond)
	w.OnReload(func(Reloadable) { count.Add(1) })

	writeConfig(t, path, content)
	time.Sleep(200 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Fatalf("rewrite with identical bytes reloaded %d times", got)
	}

	writeConfig(t, path, "[aec]\ntarget = 0.002\n")
	time.Sleep(200 * time.Millisecond)
	if got := count.Load(); got != 1 {
		t.Errorf("changed content reloaded %d times, want 1", got)
	}
}
