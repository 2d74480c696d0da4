// Package syncconfig loads client settings from the stockly config file and
// STOCKLY_* environment variables.
package syncconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/stockly-app/stockly/internal/models"
)

const (
	appName    = "stockly"
	configFile = "config.yaml"
	envPrefix  = "STOCKLY"
)

// Config keys. Nested keys map to STOCKLY_AUTO_INTERVAL style variables.
const (
	KeyServerURL         = "server_url"
	KeyAPIKey            = "api_key"
	KeyDeviceID          = "device_id"
	KeyDataDir           = "data_dir"
	KeyMirror            = "mirror"
	KeyBatchSize         = "batch_size"
	KeyMaxRetries        = "max_retries"
	KeyRetryDelay        = "retry_delay"
	KeyStrategy          = "strategy"
	KeyRequestTimeout    = "request_timeout"
	KeyBatchPush         = "batch_push"
	KeyTables            = "tables"
	KeyAutoEnabled       = "auto.enabled"
	KeyAutoOnStart       = "auto.on_start"
	KeyAutoInterval      = "auto.interval"
	KeyAutoDebounce      = "auto.debounce"
	KeyAutoPull          = "auto.pull"
	KeyAutoProbe         = "auto.probe_interval"
	KeyLogFile           = "log.file"
	KeyLogLevel          = "log.level"
	KeyLogMaxSizeMB      = "log.max_size_mb"
	KeyLogMaxBackups     = "log.max_backups"
	KeyLogMaxAgeDays     = "log.max_age_days"
	KeyWebhookURL        = "hooks.webhook_url"
	KeyWebhookSecret     = "hooks.webhook_secret"
	KeyLowStockThreshold = "hooks.low_stock_threshold"
)

type valueKind int

const (
	kindString valueKind = iota
	kindInt
	kindBool
	kindDuration
	kindList
	kindStrategy
	kindURL
)

var keyKinds = map[string]valueKind{
	KeyServerURL:         kindURL,
	KeyAPIKey:            kindString,
	KeyDeviceID:          kindString,
	KeyDataDir:           kindString,
	KeyMirror:            kindString,
	KeyBatchSize:         kindInt,
	KeyMaxRetries:        kindInt,
	KeyRetryDelay:        kindDuration,
	KeyStrategy:          kindStrategy,
	KeyRequestTimeout:    kindDuration,
	KeyBatchPush:         kindBool,
	KeyTables:            kindList,
	KeyAutoEnabled:       kindBool,
	KeyAutoOnStart:       kindBool,
	KeyAutoInterval:      kindDuration,
	KeyAutoDebounce:      kindDuration,
	KeyAutoPull:          kindBool,
	KeyAutoProbe:         kindDuration,
	KeyLogFile:           kindString,
	KeyLogLevel:          kindString,
	KeyLogMaxSizeMB:      kindInt,
	KeyLogMaxBackups:     kindInt,
	KeyLogMaxAgeDays:     kindInt,
	KeyWebhookURL:        kindURL,
	KeyWebhookSecret:     kindString,
	KeyLowStockThreshold: kindInt,
}

// secretKeys are masked by Display.
var secretKeys = map[string]bool{KeyAPIKey: true, KeyWebhookSecret: true}

// AutoSyncConfig controls the background daemon.
type AutoSyncConfig struct {
	Enabled       bool
	OnStart       bool
	Interval      time.Duration
	Debounce      time.Duration
	Pull          bool
	ProbeInterval time.Duration
}

// LogConfig controls the daemon's rotating log file.
type LogConfig struct {
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// HooksConfig controls post-commit side effects.
type HooksConfig struct {
	WebhookURL        string
	WebhookSecret     string
	LowStockThreshold int
}

// Config is the resolved client configuration.
type Config struct {
	ServerURL string
	APIKey    string
	DeviceID  string
	DataDir   string
	// Mirror is a file that receives a full store image after every
	// committed write. Empty disables mirroring.
	Mirror         string
	BatchSize      int
	MaxRetries     int
	RetryDelay     time.Duration
	Strategy       models.Strategy
	RequestTimeout time.Duration
	BatchPush      bool
	Tables         []string
	Auto           AutoSyncConfig
	Log            LogConfig
	Hooks          HooksConfig
}

// IsAuthenticated returns true if an API key is available.
func (c *Config) IsAuthenticated() bool {
	return c.APIKey != ""
}

// DefaultPath returns $XDG_CONFIG_HOME/stockly/config.yaml.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, configFile)
}

// Loader reads and updates one config file.
type Loader struct {
	path string
	v    *viper.Viper
}

// NewLoader returns a loader for path, or DefaultPath when path is empty.
func NewLoader(path string) *Loader {
	if path == "" {
		path = DefaultPath()
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{path: path, v: v}
}

// Path returns the config file location.
func (l *Loader) Path() string { return l.path }

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerURL, "http://localhost:8080")
	v.SetDefault(KeyAPIKey, "")
	v.SetDefault(KeyDeviceID, "")
	v.SetDefault(KeyDataDir, filepath.Join(xdg.DataHome, appName))
	v.SetDefault(KeyMirror, "")
	v.SetDefault(KeyBatchSize, 50)
	v.SetDefault(KeyMaxRetries, 3)
	v.SetDefault(KeyRetryDelay, "1s")
	v.SetDefault(KeyStrategy, string(models.StrategyLastWriteWins))
	v.SetDefault(KeyRequestTimeout, "15s")
	v.SetDefault(KeyBatchPush, false)
	v.SetDefault(KeyTables, []string{})
	v.SetDefault(KeyAutoEnabled, true)
	v.SetDefault(KeyAutoOnStart, true)
	v.SetDefault(KeyAutoInterval, "5m")
	v.SetDefault(KeyAutoDebounce, "3s")
	v.SetDefault(KeyAutoPull, true)
	v.SetDefault(KeyAutoProbe, "30s")
	v.SetDefault(KeyLogFile, filepath.Join(xdg.StateHome, appName, "daemon.log"))
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogMaxSizeMB, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
	v.SetDefault(KeyLogMaxAgeDays, 28)
	v.SetDefault(KeyWebhookURL, "")
	v.SetDefault(KeyWebhookSecret, "")
	v.SetDefault(KeyLowStockThreshold, 0)
}

// Load reads the config file (a missing file is not an error) and applies
// environment overrides.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}

	v := l.v
	cfg := &Config{
		ServerURL:      strings.TrimRight(v.GetString(KeyServerURL), "/"),
		APIKey:         v.GetString(KeyAPIKey),
		DeviceID:       v.GetString(KeyDeviceID),
		DataDir:        v.GetString(KeyDataDir),
		Mirror:         v.GetString(KeyMirror),
		BatchSize:      v.GetInt(KeyBatchSize),
		MaxRetries:     v.GetInt(KeyMaxRetries),
		RetryDelay:     v.GetDuration(KeyRetryDelay),
		Strategy:       models.NormalizeStrategy(v.GetString(KeyStrategy)),
		RequestTimeout: v.GetDuration(KeyRequestTimeout),
		BatchPush:      v.GetBool(KeyBatchPush),
		Tables:         splitList(v.GetStringSlice(KeyTables)),
		Auto: AutoSyncConfig{
			Enabled:       v.GetBool(KeyAutoEnabled),
			OnStart:       v.GetBool(KeyAutoOnStart),
			Interval:      v.GetDuration(KeyAutoInterval),
			Debounce:      v.GetDuration(KeyAutoDebounce),
			Pull:          v.GetBool(KeyAutoPull),
			ProbeInterval: v.GetDuration(KeyAutoProbe),
		},
		Log: LogConfig{
			File:       v.GetString(KeyLogFile),
			Level:      v.GetString(KeyLogLevel),
			MaxSizeMB:  v.GetInt(KeyLogMaxSizeMB),
			MaxBackups: v.GetInt(KeyLogMaxBackups),
			MaxAgeDays: v.GetInt(KeyLogMaxAgeDays),
		},
		Hooks: HooksConfig{
			WebhookURL:        v.GetString(KeyWebhookURL),
			WebhookSecret:     v.GetString(KeyWebhookSecret),
			LowStockThreshold: v.GetInt(KeyLowStockThreshold),
		},
	}

	if !models.IsValidStrategy(cfg.Strategy) {
		return nil, fmt.Errorf("invalid strategy %q (want last-write-wins, server-priority or manual)", cfg.Strategy)
	}
	for _, t := range cfg.Tables {
		if !models.IsSyncTable(t) {
			return nil, fmt.Errorf("unknown table in %s: %s", KeyTables, t)
		}
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %d", KeyBatchSize, cfg.BatchSize)
	}
	if cfg.MaxRetries <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %d", KeyMaxRetries, cfg.MaxRetries)
	}
	return cfg, nil
}

// EnsureDeviceID returns the configured device id, generating and persisting
// one on first use.
func (l *Loader) EnsureDeviceID(cfg *Config) (string, error) {
	if cfg.DeviceID != "" {
		return cfg.DeviceID, nil
	}
	id := uuid.NewString()
	if err := l.Set(KeyDeviceID, id); err != nil {
		return "", fmt.Errorf("persist device id: %w", err)
	}
	cfg.DeviceID = id
	return id, nil
}

// Set validates value for key and writes it to the config file. Only keys
// already in the file and key itself are written; environment overrides and
// defaults never leak into the file.
func (l *Loader) Set(key, value string) error {
	kind, ok := keyKinds[key]
	if !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	parsed, err := parseValue(key, kind, value)
	if err != nil {
		return err
	}

	file, err := l.fileOnly()
	if err != nil {
		return err
	}
	file.Set(key, parsed)
	return l.write(file)
}

// Unset removes key from the config file so the default applies again.
func (l *Loader) Unset(key string) error {
	if _, ok := keyKinds[key]; !ok {
		return fmt.Errorf("unknown config key %q", key)
	}
	file, err := l.fileOnly()
	if err != nil {
		return err
	}
	settings := file.AllSettings()
	deleteNested(settings, strings.Split(key, "."))

	fresh := viper.New()
	fresh.SetConfigType("yaml")
	if err := fresh.MergeConfigMap(settings); err != nil {
		return fmt.Errorf("rebuild config: %w", err)
	}
	return l.write(fresh)
}

// Get returns the effective value of key.
func (l *Loader) Get(key string) (any, error) {
	if _, ok := keyKinds[key]; !ok {
		return nil, fmt.Errorf("unknown config key %q", key)
	}
	if err := l.v.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	return l.v.Get(key), nil
}

// Display returns every key with its effective value, secrets masked.
func (l *Loader) Display() (map[string]string, error) {
	if err := l.v.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	out := make(map[string]string, len(keyKinds))
	for key := range keyKinds {
		val := fmt.Sprint(l.v.Get(key))
		if secretKeys[key] {
			val = Mask(val)
		}
		out[key] = val
	}
	return out, nil
}

// Keys returns all known config keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(keyKinds))
	for k := range keyKinds {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Mask hides all but the last four characters of a secret.
func Mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

func (l *Loader) fileOnly() (*viper.Viper, error) {
	file := viper.New()
	file.SetConfigFile(l.path)
	file.SetConfigType("yaml")
	if err := file.ReadInConfig(); err != nil && !isNotExist(err) {
		return nil, fmt.Errorf("read config %s: %w", l.path, err)
	}
	return file, nil
}

func (l *Loader) write(file *viper.Viper) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := file.WriteConfigAs(l.path); err != nil {
		return fmt.Errorf("write config %s: %w", l.path, err)
	}
	return os.Chmod(l.path, 0600)
}

func parseValue(key string, kind valueKind, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch kind {
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%s: want a non-negative integer, got %q", key, value)
		}
		return n, nil
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%s: want true or false, got %q", key, value)
		}
		return b, nil
	case kindDuration:
		d, err := time.ParseDuration(value)
		if err != nil || d < 0 {
			return nil, fmt.Errorf("%s: want a duration like 30s or 5m, got %q", key, value)
		}
		return value, nil
	case kindStrategy:
		s := models.NormalizeStrategy(value)
		if !models.IsValidStrategy(s) {
			return nil, fmt.Errorf("%s: unknown strategy %q", key, value)
		}
		return string(s), nil
	case kindList:
		list := splitList([]string{value})
		for _, t := range list {
			if !models.IsSyncTable(t) {
				return nil, fmt.Errorf("%s: unknown table %q", key, t)
			}
		}
		return list, nil
	case kindURL:
		if value != "" && !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
			return nil, fmt.Errorf("%s: want an http(s) URL, got %q", key, value)
		}
		return strings.TrimRight(value, "/"), nil
	}
	return value, nil
}

// splitList flattens comma separated entries, as produced by env overrides.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
			out = append(out, part)
		}
	}
	return out
}

func deleteNested(m map[string]any, path []string) {
	if len(path) == 1 {
		delete(m, path[0])
		return
	}
	child, ok := m[path[0]].(map[string]any)
	if !ok {
		return
	}
	deleteNested(child, path[1:])
	if len(child) == 0 {
		delete(m, path[0])
	}
}

func isNotExist(err error) bool {
	var nf viper.ConfigFileNotFoundError
	return errors.Is(err, fs.ErrNotExist) || errors.As(err, &nf)
}
