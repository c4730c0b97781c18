package config_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/speechcoach/internal/config"
)

const watcherBaseYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
    model: gpt-4o-mini
storage:
  driver: memory
`

const watcherTuningYAML = `
server:
  log_level: debug
providers:
  llm:
    name: openai
    model: gpt-4o-mini
analysis:
  temperature: 0.5
  min_transcript_chars: 40
storage:
  driver: memory
`

const watcherStorageYAML = `
server:
  log_level: info
providers:
  llm:
    name: openai
    model: gpt-4o-mini
storage:
  driver: sqlite
  dsn: stats.db
`

// Same settings as watcherBaseYAML, different text.
const watcherCommentYAML = `
# practice server
server:
  log_level: info
providers:
  llm:
    name: openai
    model: gpt-4o-mini
storage:
  driver: memory
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %q: %v", path, err)
	}
	// Force a visible mtime change on coarse-grained filesystems.
	later := time.Now().Add(time.Duration(len(content)) * time.Millisecond)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes %q: %v", path, err)
	}
}

// startWatcher writes initial to a temp file and watches it, sending every
// reload on the returned channel.
func startWatcher(t *testing.T, initial string) (string, *config.Watcher, <-chan config.Reload) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "speechcoach.yaml")
	writeFile(t, path, initial)

	reloads := make(chan config.Reload, 8)
	w, err := config.NewWatcher(context.Background(), path, func(r config.Reload) {
		reloads <- r
	}, config.WithInterval(20*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return path, w, reloads
}

func expectNoReload(t *testing.T, reloads <-chan config.Reload) {
	t.Helper()
	select {
	case r := <-reloads:
		t.Fatalf("unexpected reload: %+v", r.Diff)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	_, w, _ := startWatcher(t, watcherBaseYAML)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level = %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_ReloadCarriesDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		next        string
		wantLevel   bool
		wantTuning  bool
		wantRestart []string
	}{
		{name: "tuning and level", next: watcherTuningYAML, wantLevel: true, wantTuning: true},
		{name: "storage", next: watcherStorageYAML, wantRestart: []string{"storage"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path, w, reloads := startWatcher(t, watcherBaseYAML)
			writeFile(t, path, tt.next)

			var r config.Reload
			select {
			case r = <-reloads:
			case <-time.After(2 * time.Second):
				t.Fatal("no reload within timeout")
			}
			if r.Old.Server.LogLevel != config.LogInfo {
				t.Errorf("old log_level = %q", r.Old.Server.LogLevel)
			}
			if r.Diff.LogLevelChanged != tt.wantLevel {
				t.Errorf("LogLevelChanged = %v, want %v", r.Diff.LogLevelChanged, tt.wantLevel)
			}
			if r.Diff.AnalysisChanged != tt.wantTuning {
				t.Errorf("AnalysisChanged = %v, want %v", r.Diff.AnalysisChanged, tt.wantTuning)
			}
			if !slices.Equal(r.Diff.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", r.Diff.RestartRequired, tt.wantRestart)
			}
			if w.Current() != r.New {
				t.Error("Current() does not return the reloaded config")
			}
		})
	}
}

func TestWatcher_InvalidFileKeepsCurrent(t *testing.T) {
	t.Parallel()
	path, w, reloads := startWatcher(t, watcherBaseYAML)

	writeFile(t, path, watcherInvalidYAML)
	expectNoReload(t, reloads)

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want the previous %q", got, config.LogInfo)
	}

	// Fixing the file is picked up again.
	writeFile(t, path, watcherTuningYAML)
	select {
	case <-reloads:
	case <-time.After(2 * time.Second):
		t.Fatal("valid file after a rejected one was not reloaded")
	}
}

func TestWatcher_EditWithoutEffectiveChange(t *testing.T) {
	t.Parallel()
	path, w, reloads := startWatcher(t, watcherBaseYAML)
	before := w.Current()

	writeFile(t, path, watcherCommentYAML)
	expectNoReload(t, reloads)

	if w.Current() == before {
		t.Error("edited file was not adopted as the current config")
	}
}

func TestWatcher_TouchOnly(t *testing.T) {
	t.Parallel()
	path, _, reloads := startWatcher(t, watcherBaseYAML)

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	expectNoReload(t, reloads)
}

func TestWatcher_MissingFileKeepsCurrent(t *testing.T) {
	t.Parallel()
	path, w, reloads := startWatcher(t, watcherBaseYAML)

	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	expectNoReload(t, reloads)
	if w.Current() == nil {
		t.Error("Current() lost the config after the file disappeared")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher(context.Background(), "/nonexistent/speechcoach.yaml", nil); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWatcher_StopsWithContext(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "speechcoach.yaml")
	writeFile(t, path, watcherBaseYAML)

	ctx, cancel := context.WithCancel(context.Background())
	w, err := config.NewWatcher(ctx, path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	cancel()
	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("watcher still running after cancel")
	}
	w.Stop()
	w.Stop()
}
