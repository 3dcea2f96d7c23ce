package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// chdir changes the working directory for the test and restores it on cleanup
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}

func TestDefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cm, err := NewManager("")
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := cm.Get()
	want := DefaultConfig()

	if cfg.CacheBudgetBytes != want.CacheBudgetBytes {
		t.Errorf("Expected budget %d, got %d", want.CacheBudgetBytes, cfg.CacheBudgetBytes)
	}
	if cfg.PrefetchWindow != 2 || cfg.PinRadius != -1 {
		t.Errorf("Expected prefetch 2 / pin -1, got %d / %d", cfg.PrefetchWindow, cfg.PinRadius)
	}
	if cfg.DebounceInterval != 2*time.Second {
		t.Errorf("Expected 2s debounce, got %s", cfg.DebounceInterval)
	}
	if len(cfg.ZoomLadder) != len(want.ZoomLadder) {
		t.Errorf("Expected ladder %v, got %v", want.ZoomLadder, cfg.ZoomLadder)
	}
	if cm.ConfigFile() != "" {
		t.Errorf("Expected no config file, got %s", cm.ConfigFile())
	}
}

func TestFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "docsession.yaml", `
cache_budget_bytes: 1048576
prefetch_window: 4
debounce_interval: 500ms
zoom_ladder: [1, 2]
bookmark_dir: ${DOCSESSION_TEST_ROOT}/marks
store_retry_delay: 10ms
`)
	t.Setenv("DOCSESSION_TEST_ROOT", dir)
	t.Setenv("DOCSESSION_PREFETCH_WINDOW", "6")

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := cm.Get()

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"budget", cfg.CacheBudgetBytes, int64(1 << 20)},
		{"prefetch from env", cfg.PrefetchWindow, 6},
		{"debounce", cfg.DebounceInterval, 500 * time.Millisecond},
		{"retry delay", cfg.StoreRetryDelay, 10 * time.Millisecond},
		{"bookmark dir", cfg.BookmarkDir, filepath.Join(dir, "marks")},
		{"ladder size", len(cfg.ZoomLadder), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, tt.got)
			}
		})
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero budget", "cache_budget_bytes: 0\n"},
		{"negative prefetch", "prefetch_window: -1\n"},
		{"duplicate zoom", "zoom_ladder: [1, 1]\n"},
		{"malformed yaml", "prefetch_window: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "bad.yaml", tt.content)
			if _, err := NewManager(path); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestToSession(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CacheBudgetBytes = 42 << 20
	cfg.PinRadius = 1

	sc := cfg.ToSession()
	if sc.CacheBudget != cfg.CacheBudgetBytes || sc.PinRadius != 1 || sc.PrefetchWindow != cfg.PrefetchWindow {
		t.Errorf("Unexpected session config %+v", sc)
	}

	opts := cfg.StoreOptions(nil, nil)
	if opts.RetryAttempts != 3 || opts.RetryDelay != 50*time.Millisecond {
		t.Errorf("Unexpected store options %+v", opts)
	}
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "nested", "docsession.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}

	cm, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := cm.Get()
	want := DefaultConfig()
	if cfg.DebounceInterval != want.DebounceInterval || cfg.StoreRetryDelay != want.StoreRetryDelay {
		t.Errorf("Expected durations to survive, got %s / %s", cfg.DebounceInterval, cfg.StoreRetryDelay)
	}
	if cfg.BookmarkDir != ResolveEnvVars(want.BookmarkDir) {
		t.Errorf("Expected %s, got %s", ResolveEnvVars(want.BookmarkDir), cfg.BookmarkDir)
	}
}

func TestSetOverride(t *testing.T) {
	chdir(t, t.TempDir())
	cm, err := NewManager("")
	if err != nil {
		t.Fatal(err)
	}
	if err := cm.Set("metrics_addr", ":9100"); err != nil {
		t.Fatal(err)
	}
	if got := cm.Get().MetricsAddr; got != ":9100" {
		t.Errorf("Expected :9100, got %q", got)
	}
	if err := cm.Set("cache_budget_bytes", -1); err == nil {
		t.Error("Expected invalid override rejected")
	}
}
