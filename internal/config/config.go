// ABOUTME: Configuration loading with viper: YAML file, DOCSESSION_ env vars, defaults
// ABOUTME: Converts the flat settings into session, store and logger configs

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/nainya/docsession/internal/logger"
	"github.com/nainya/docsession/internal/metrics"
	"github.com/nainya/docsession/pkg/bookmark"
	"github.com/nainya/docsession/pkg/render"
	"github.com/nainya/docsession/pkg/session"
)

// EnvPrefix prefixes environment overrides, e.g. DOCSESSION_PREFETCH_WINDOW
const EnvPrefix = "DOCSESSION"

// Config is the on-disk configuration
type Config struct {
	CacheBudgetBytes int64         `mapstructure:"cache_budget_bytes" yaml:"cache_budget_bytes"`
	PrefetchWindow   int           `mapstructure:"prefetch_window" yaml:"prefetch_window"`
	PinRadius        int           `mapstructure:"pin_radius" yaml:"pin_radius"`
	DebounceInterval time.Duration `mapstructure:"debounce_interval" yaml:"debounce_interval"`
	ZoomLadder       []float64     `mapstructure:"zoom_ladder" yaml:"zoom_ladder"`
	DefaultZoom      float64       `mapstructure:"default_zoom" yaml:"default_zoom"`
	Workers          int           `mapstructure:"workers" yaml:"workers"`
	MaxPixels        int64         `mapstructure:"max_pixels" yaml:"max_pixels"`
	RelaxedPDF       bool          `mapstructure:"relaxed_pdf" yaml:"relaxed_pdf"`

	BookmarkDir        string        `mapstructure:"bookmark_dir" yaml:"bookmark_dir"`
	StoreRetryAttempts uint          `mapstructure:"store_retry_attempts" yaml:"store_retry_attempts"`
	StoreRetryDelay    time.Duration `mapstructure:"store_retry_delay" yaml:"store_retry_delay"`
	CompactThreshold   int           `mapstructure:"compact_threshold" yaml:"compact_threshold"`

	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LogPretty   bool   `mapstructure:"log_pretty" yaml:"log_pretty"`
	MetricsAddr string `mapstructure:"metrics_addr" yaml:"metrics_addr"`
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() Config {
	return Config{
		CacheBudgetBytes:   256 << 20,
		PrefetchWindow:     2,
		PinRadius:          -1,
		DebounceInterval:   bookmark.DefaultDebounceInterval,
		ZoomLadder:         render.DefaultLadder().Rungs(),
		DefaultZoom:        1,
		Workers:            min(runtime.NumCPU(), 4),
		MaxPixels:          render.DefaultMaxPixels,
		RelaxedPDF:         true,
		BookmarkDir:        "${HOME}/.docsession/bookmarks",
		StoreRetryAttempts: 3,
		StoreRetryDelay:    50 * time.Millisecond,
		CompactThreshold:   64,
		LogLevel:           "info",
	}
}

// Manager loads configuration and reloads it when the file changes
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager loads configuration from cfgFile, or from docsession.yaml in the
// working directory or ~/.docsession when cfgFile is empty. A missing file is
// not an error.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	d := DefaultConfig()
	v.SetDefault("cache_budget_bytes", d.CacheBudgetBytes)
	v.SetDefault("prefetch_window", d.PrefetchWindow)
	v.SetDefault("pin_radius", d.PinRadius)
	v.SetDefault("debounce_interval", d.DebounceInterval)
	v.SetDefault("zoom_ladder", d.ZoomLadder)
	v.SetDefault("default_zoom", d.DefaultZoom)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("max_pixels", d.MaxPixels)
	v.SetDefault("relaxed_pdf", d.RelaxedPDF)
	v.SetDefault("bookmark_dir", d.BookmarkDir)
	v.SetDefault("store_retry_attempts", d.StoreRetryAttempts)
	v.SetDefault("store_retry_delay", d.StoreRetryDelay)
	v.SetDefault("compact_threshold", d.CompactThreshold)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	v.SetDefault("metrics_addr", d.MetricsAddr)

	// Environment variables with DOCSESSION_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("docsession")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.docsession")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}

func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.BookmarkDir = ResolveEnvVars(cfg.BookmarkDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Get returns the current configuration
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// Set overrides one key, as a flag would, and reloads
func (cm *Manager) Set(key string, value interface{}) error {
	cm.v.Set(key, value)
	cfg, err := cm.load()
	if err != nil {
		return err
	}
	cm.mu.Lock()
	cm.config = cfg
	cm.mu.Unlock()
	return nil
}

// ConfigFile returns the file the configuration was read from, if any
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// OnChange registers a callback for config changes
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig reloads the configuration when the file changes. Invalid
// edits are ignored and the previous configuration stays in effect.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envPattern.ReplaceAllStringFunc(value, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// Validate checks values that cannot be defaulted
func (c *Config) Validate() error {
	if c.CacheBudgetBytes <= 0 {
		return fmt.Errorf("cache_budget_bytes must be positive, got %d", c.CacheBudgetBytes)
	}
	if c.PrefetchWindow < 0 {
		return fmt.Errorf("prefetch_window must not be negative, got %d", c.PrefetchWindow)
	}
	if _, err := render.NewLadder(c.ZoomLadder); err != nil {
		return err
	}
	if c.BookmarkDir == "" {
		return errors.New("bookmark_dir is required")
	}
	return nil
}

// ToSession converts the configuration into controller settings
func (c *Config) ToSession() session.Config {
	return session.Config{
		CacheBudget:      c.CacheBudgetBytes,
		PrefetchWindow:   c.PrefetchWindow,
		PinRadius:        c.PinRadius,
		DebounceInterval: c.DebounceInterval,
		ZoomLadder:       append([]float64(nil), c.ZoomLadder...),
		DefaultZoom:      c.DefaultZoom,
		Workers:          c.Workers,
		MaxPixels:        c.MaxPixels,
	}
}

// StoreOptions converts the configuration into bookmark store options
func (c *Config) StoreOptions(log *logger.Logger, m *metrics.Metrics) bookmark.Options {
	return bookmark.Options{
		Dir:              c.BookmarkDir,
		RetryAttempts:    c.StoreRetryAttempts,
		RetryDelay:       c.StoreRetryDelay,
		CompactThreshold: c.CompactThreshold,
		Logger:           log,
		Metrics:          m,
	}
}

// LoggerConfig converts the configuration into logger settings
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{Level: c.LogLevel, Pretty: c.LogPretty}
}

// WriteDefault writes the default configuration to path
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# docsession configuration
# Every key can be overridden with a DOCSESSION_ environment variable,
# e.g. DOCSESSION_PREFETCH_WINDOW=4

`)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(header, data...), 0o644)
}
