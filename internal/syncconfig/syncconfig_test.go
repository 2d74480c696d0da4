package syncconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stockly-app/stockly/internal/models"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	return NewLoader(filepath.Join(t.TempDir(), "stockly", "config.yaml"))
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := newTestLoader(t).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize: got %d, want 50", cfg.BatchSize)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries: got %d, want 3", cfg.MaxRetries)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("RetryDelay: got %v, want 1s", cfg.RetryDelay)
	}
	if cfg.Strategy != models.StrategyLastWriteWins {
		t.Errorf("Strategy: got %q", cfg.Strategy)
	}
	if cfg.RequestTimeout != 15*time.Second {
		t.Errorf("RequestTimeout: got %v, want 15s", cfg.RequestTimeout)
	}
	if cfg.Auto.Interval != 5*time.Minute {
		t.Errorf("Auto.Interval: got %v, want 5m", cfg.Auto.Interval)
	}
	if cfg.Auto.Debounce != 3*time.Second {
		t.Errorf("Auto.Debounce: got %v, want 3s", cfg.Auto.Debounce)
	}
	if !cfg.Auto.Enabled || !cfg.Auto.Pull {
		t.Errorf("auto sync should default to enabled with pull")
	}
	if len(cfg.Tables) != 0 {
		t.Errorf("Tables: got %v, want empty", cfg.Tables)
	}
	if cfg.IsAuthenticated() {
		t.Errorf("no api key configured, IsAuthenticated should be false")
	}
}

func TestSetPersistsAndReloads(t *testing.T) {
	l := newTestLoader(t)
	if err := l.Set(KeyServerURL, "https://sync.example.com/"); err != nil {
		t.Fatalf("Set server_url: %v", err)
	}
	if err := l.Set(KeyStrategy, "server"); err != nil {
		t.Fatalf("Set strategy: %v", err)
	}
	if err := l.Set(KeyAutoInterval, "90s"); err != nil {
		t.Fatalf("Set auto.interval: %v", err)
	}
	if err := l.Set(KeyTables, "products, categories"); err != nil {
		t.Fatalf("Set tables: %v", err)
	}

	cfg, err := NewLoader(l.Path()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ServerURL != "https://sync.example.com" {
		t.Errorf("ServerURL: got %q", cfg.ServerURL)
	}
	if cfg.Strategy != models.StrategyServerPriority {
		t.Errorf("Strategy: got %q", cfg.Strategy)
	}
	if cfg.Auto.Interval != 90*time.Second {
		t.Errorf("Auto.Interval: got %v", cfg.Auto.Interval)
	}
	if strings.Join(cfg.Tables, ",") != "products,categories" {
		t.Errorf("Tables: got %v", cfg.Tables)
	}

	info, err := os.Stat(l.Path())
	if err != nil {
		t.Fatalf("stat config: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode: got %v, want 0600", info.Mode().Perm())
	}
}

func TestSetRejectsInvalidValues(t *testing.T) {
	l := newTestLoader(t)
	cases := []struct {
		key, value string
	}{
		{"no_such_key", "x"},
		{KeyBatchSize, "many"},
		{KeyBatchSize, "-1"},
		{KeyRetryDelay, "soon"},
		{KeyStrategy, "coin-flip"},
		{KeyBatchPush, "maybe"},
		{KeyTables, "products,widgets"},
		{KeyServerURL, "ftp://example.com"},
	}
	for _, tc := range cases {
		if err := l.Set(tc.key, tc.value); err == nil {
			t.Errorf("Set(%q, %q): expected error", tc.key, tc.value)
		}
	}
	if _, err := os.Stat(l.Path()); !os.IsNotExist(err) {
		t.Errorf("rejected values must not create the config file")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	l := newTestLoader(t)
	if err := l.Set(KeyBatchSize, "10"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	t.Setenv("STOCKLY_BATCH_SIZE", "25")
	t.Setenv("STOCKLY_AUTO_DEBOUNCE", "500ms")
	t.Setenv("STOCKLY_API_KEY", "sk_live_env")

	cfg, err := NewLoader(l.Path()).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BatchSize != 25 {
		t.Errorf("BatchSize: got %d, want env value 25", cfg.BatchSize)
	}
	if cfg.Auto.Debounce != 500*time.Millisecond {
		t.Errorf("Auto.Debounce: got %v, want 500ms", cfg.Auto.Debounce)
	}
	if cfg.APIKey != "sk_live_env" {
		t.Errorf("APIKey: got %q", cfg.APIKey)
	}

	// Env overrides must not be written back when another key is set.
	if err := l.Set(KeyLogLevel, "debug"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	raw, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if strings.Contains(string(raw), "sk_live_env") {
		t.Errorf("env api key leaked into config file:\n%s", raw)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	l := newTestLoader(t)
	if err := os.MkdirAll(filepath.Dir(l.Path()), 0700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(l.Path(), []byte("strategy: coin-flip\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Load(); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestEnsureDeviceIDPersists(t *testing.T) {
	l := newTestLoader(t)
	cfg, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	id, err := l.EnsureDeviceID(cfg)
	if err != nil {
		t.Fatalf("EnsureDeviceID: %v", err)
	}
	if len(id) != 36 {
		t.Fatalf("device id should be a uuid, got %q", id)
	}

	again, err := NewLoader(l.Path()).Load()
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if again.DeviceID != id {
		t.Fatalf("device id not persisted: got %q, want %q", again.DeviceID, id)
	}
	second, err := l.EnsureDeviceID(again)
	if err != nil || second != id {
		t.Fatalf("EnsureDeviceID on configured id: got %q, %v", second, err)
	}
}

func TestUnsetRestoresDefault(t *testing.T) {
	l := newTestLoader(t)
	if err := l.Set(KeyAutoInterval, "1m"); err != nil {
		t.Fatal(err)
	}
	if err := l.Set(KeyServerURL, "https://a.example.com"); err != nil {
		t.Fatal(err)
	}
	if err := l.Unset(KeyAutoInterval); err != nil {
		t.Fatalf("Unset: %v", err)
	}
	cfg, err := NewLoader(l.Path()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auto.Interval != 5*time.Minute {
		t.Errorf("Auto.Interval after unset: got %v, want 5m", cfg.Auto.Interval)
	}
	if cfg.ServerURL != "https://a.example.com" {
		t.Errorf("other keys must survive unset, ServerURL = %q", cfg.ServerURL)
	}
}

func TestDisplayMasksSecrets(t *testing.T) {
	l := newTestLoader(t)
	if err := l.Set(KeyAPIKey, "sk_live_abcdefgh1234"); err != nil {
		t.Fatal(err)
	}
	shown, err := l.Display()
	if err != nil {
		t.Fatal(err)
	}
	if shown[KeyAPIKey] != "****1234" {
		t.Errorf("api key display: got %q", shown[KeyAPIKey])
	}
	if shown[KeyBatchSize] != "50" {
		t.Errorf("batch size display: got %q", shown[KeyBatchSize])
	}
	if len(shown) != len(Keys()) {
		t.Errorf("Display should list every key")
	}
}

func TestMask(t *testing.T) {
	for in, want := range map[string]string{"": "", "abc": "****", "abcdefgh": "****efgh"} {
		if got := Mask(in); got != want {
			t.Errorf("Mask(%q) = %q, want %q", in, got, want)
		}
	}
}
