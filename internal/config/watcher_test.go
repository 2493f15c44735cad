package config_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxlink/internal/config"
)

const (
	watchBase = "server:\n  log_level: info\nrealtime:\n  voice: alloy\n"
	watchEdit = "server:\n  log_level: debug\nrealtime:\n  voice: verse\n"
)

// recorder collects watcher callbacks.
type recorder struct {
	mu    sync.Mutex
	pairs [][2]*config.Config
	fired chan struct{}
}

func newRecorder() *recorder { return &recorder{fired: make(chan struct{}, 8)} }

func (r *recorder) onChange(old, new *config.Config) {
	r.mu.Lock()
	r.pairs = append(r.pairs, [2]*config.Config{old, new})
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pairs)
}

// writeConfig writes content and moves the mtime forward by bump so coarse
// filesystem clocks still register the change.
func writeConfig(t *testing.T, path, content string, bump time.Duration) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	if bump > 0 {
		when := time.Now().Add(bump)
		if err := os.Chtimes(path, when, when); err != nil {
			t.Fatalf("chtimes: %v", err)
		}
	}
}

// watch creates a watcher on a fresh file holding watchBase and runs it
// until the test ends.
func watch(t *testing.T, rec *recorder) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeConfig(t, path, watchBase, 0)

	w, err := config.NewWatcher(path, rec.onChange, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := watch(t, newRecorder())

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Realtime.Voice != "alloy" {
		t.Errorf("initial config: log_level=%q voice=%q", cfg.Server.LogLevel, cfg.Realtime.Voice)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWatcher_ReportsEdit(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	w, path := watch(t, rec)

	writeConfig(t, path, watchEdit, time.Second)
	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("callback was not invoked")
	}

	rec.mu.Lock()
	pair := rec.pairs[0]
	rec.mu.Unlock()
	d := config.Diff(pair[0], pair[1])
	if !d.LogLevelChanged || !d.VoiceChanged {
		t.Errorf("diff of reload = %+v", d)
	}
	if got := w.Current().Realtime.Voice; got != "verse" {
		t.Errorf("Current() voice = %q, want verse", got)
	}
}

func TestWatcher_IgnoredWrites(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		content   string
		wantLevel config.LogLevel
	}{
		{name: "invalid file", content: "server:\n  log_level: bananas\n", wantLevel: config.LogInfo},
		{name: "touch only", content: watchBase, wantLevel: config.LogInfo},
		{name: "comment only", content: "# tuned\n" + watchBase, wantLevel: config.LogInfo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := newRecorder()
			w, path := watch(t, rec)

			writeConfig(t, path, tt.content, time.Second)
			time.Sleep(200 * time.Millisecond)

			if n := rec.count(); n != 0 {
				t.Errorf("callback fired %d times", n)
			}
			if got := w.Current().Server.LogLevel; got != tt.wantLevel {
				t.Errorf("Current() log_level = %q, want %q", got, tt.wantLevel)
			}
		})
	}
}

func TestWatcher_EditAfterIgnoredWrite(t *testing.T) {
	t.Parallel()
	rec := newRecorder()
	_, path := watch(t, rec)

	writeConfig(t, path, "# tuned\n"+watchBase, time.Second)
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, path, watchEdit, 2*time.Second)

	select {
	case <-rec.fired:
	case <-time.After(2 * time.Second):
		t.Fatal("edit after a comment change was not reported")
	}
	if n := rec.count(); n != 1 {
		t.Errorf("callback fired %d times, want 1", n)
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "voxlink.yaml")
	writeConfig(t, path, watchBase, 0)

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
