// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/jeranaias/rigchat/internal/model"
	"github.com/jeranaias/rigchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete rigchat configuration.
type Config struct {
	Server  ServerConfig  `toml:"server" json:"server"`
	Storage StorageConfig `toml:"storage" json:"storage"`
	Text    TextConfig    `toml:"text" json:"text"`
	Image   ImageConfig   `toml:"image" json:"image"`
	Stream  StreamConfig  `toml:"stream" json:"stream"`
	Workers WorkersConfig `toml:"workers" json:"workers"`
	Notify  NotifyConfig  `toml:"notify" json:"notify"`
	Log     LogConfig     `toml:"log" json:"log"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	// Listen is the address the API binds to
	Listen string `toml:"listen" json:"listen"`

	// APIToken enables bearer authentication when non-empty
	APIToken string `toml:"api_token" json:"api_token"`

	// RateLimit is requests per second per client (0 = off)
	RateLimit float64 `toml:"rate_limit" json:"rate_limit"`
	RateBurst int     `toml:"rate_burst" json:"rate_burst"`
}

// StorageConfig locates the SQLite database and image blobs.
type StorageConfig struct {
	Path    string `toml:"path" json:"path"`
	BlobDir string `toml:"blob_dir" json:"blob_dir"`
}

// TextConfig configures the Ollama text producer.
type TextConfig struct {
	URL            string        `toml:"url" json:"url"`
	DefaultModel   string        `toml:"default_model" json:"default_model"`
	ConnectTimeout time.Duration `toml:"connect_timeout" json:"connect_timeout"`

	// StreamTimeout bounds a whole answer; 0 means no limit
	StreamTimeout time.Duration `toml:"stream_timeout" json:"stream_timeout"`
}

// ImageConfig configures the image generation service.
type ImageConfig struct {
	URL         string        `toml:"url" json:"url"`
	AuthToken   string        `toml:"auth_token" json:"auth_token"`
	Width       int           `toml:"width" json:"width"`
	Height      int           `toml:"height" json:"height"`
	Timeout     time.Duration `toml:"timeout" json:"timeout"`
	ReadTimeout time.Duration `toml:"read_timeout" json:"read_timeout"`
}

// StreamConfig controls answer pacing. It is the only section applied
// without a restart.
type StreamConfig struct {
	FlushThreshold int           `toml:"flush_threshold" json:"flush_threshold"`
	FragmentDelay  time.Duration `toml:"fragment_delay" json:"fragment_delay"`
	FlushDelay     time.Duration `toml:"flush_delay" json:"flush_delay"`
}

// WorkersConfig sizes the background task runner.
type WorkersConfig struct {
	Count       int           `toml:"count" json:"count"`
	QueueSize   int           `toml:"queue_size" json:"queue_size"`
	TaskTimeout time.Duration `toml:"task_timeout" json:"task_timeout"`
}

// NotifyConfig configures event delivery.
type NotifyConfig struct {
	// RedisURL enables pub/sub fan-out between processes when set
	RedisURL string `toml:"redis_url" json:"redis_url"`

	// Buffer is the per-subscriber event buffer
	Buffer int `toml:"buffer" json:"buffer"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `toml:"level" json:"level"`
	Pretty bool   `toml:"pretty" json:"pretty"`
}

// =============================================================================
// DEFAULT CONFIG
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:    "127.0.0.1:8787",
			RateLimit: 10,
			RateBurst: 20,
		},
		Storage: StorageConfig{
			Path:    "~/.rigchat/rigchat.db",
			BlobDir: "~/.rigchat/blobs",
		},
		Text: TextConfig{
			URL:            "http://127.0.0.1:11434",
			DefaultModel:   model.DefaultModel(model.ModalityText),
			ConnectTimeout: 10 * time.Second,
		},
		Image: ImageConfig{
			Width:       512,
			Height:      512,
			Timeout:     120 * time.Second,
			ReadTimeout: 120 * time.Second,
		},
		Stream: StreamConfig{
			FlushThreshold: 50,
			FragmentDelay:  10 * time.Millisecond,
			FlushDelay:     50 * time.Millisecond,
		},
		Workers: WorkersConfig{
			Count:       4,
			QueueSize:   100,
			TaskTimeout: 10 * time.Minute,
		},
		Notify: NotifyConfig{
			Buffer: 64,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the rigchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".rigchat"), nil
}

// ConfigPath returns the path to the default TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens a config file to 0600, since it may
// hold the API and image service tokens.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		if err := os.Chmod(path, 0o600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load builds the configuration from defaults, the TOML file at path,
// a .env file in the working directory and the environment, in that
// order. An empty path means ~/.rigchat/config.toml, which may be absent;
// an explicit path must exist.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := ConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if _, err := os.Stat(path); err == nil || explicit {
		if err := LoadTOML(cfg, path); err != nil {
			return nil, err
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg.finish()
}

func (c *Config) finish() (*Config, error) {
	c.SetDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// LoadTOML decodes the file at path into cfg. Keys absent from the file
// keep their current values. Unknown keys are rejected.
func LoadTOML(cfg *Config, path string) error {
	if err := ensureSecurePermissions(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("failed to load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("failed to load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return nil
}

// LoadDotEnv loads KEY=value pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration to path with owner-only permissions.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	b.WriteString("# rigchat configuration file\n")
	b.WriteString("# Durations use Go syntax: 10ms, 2s, 10m\n\n")

	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns every problem found as
// ValidateErrors, or nil.
func (c *Config) Validate() error {
	var errs ValidateErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	// Server
	if c.Server.Listen == "" {
		add("server.listen", "listen address is required")
	}
	if c.Server.RateLimit < 0 {
		add("server.rate_limit", "cannot be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst < 1 {
		add("server.rate_burst", "must be at least 1 when rate limiting is on")
	}

	// Storage
	if c.Storage.Path == "" {
		add("storage.path", "database path is required")
	}
	if c.Storage.BlobDir == "" {
		add("storage.blob_dir", "blob directory is required")
	}

	// Text producer
	if err := validateURL(c.Text.URL, true); err != nil {
		add("text.url", "%v", err)
	}
	if !model.IsSupported(model.ModalityText, c.Text.DefaultModel) {
		add("text.default_model", "unsupported text model '%s'", c.Text.DefaultModel)
	}
	if c.Text.ConnectTimeout <= 0 {
		add("text.connect_timeout", "must be positive")
	}
	if c.Text.StreamTimeout < 0 {
		add("text.stream_timeout", "cannot be negative")
	}

	// Image producer
	if err := validateURL(c.Image.URL, false); err != nil {
		add("image.url", "%v", err)
	}
	if c.Image.Width <= 0 || c.Image.Height <= 0 {
		add("image.size", "width and height must be positive, got %dx%d", c.Image.Width, c.Image.Height)
	}
	if c.Image.Timeout <= 0 || c.Image.ReadTimeout <= 0 {
		add("image.timeout", "timeouts must be positive")
	}

	// Stream pacing
	if err := c.Stream.Validate(); err != nil {
		errs = append(errs, err.(ValidateErrors)...)
	}

	// Workers
	if c.Workers.Count < 1 {
		add("workers.count", "must be at least 1")
	}
	if c.Workers.QueueSize < 0 {
		add("workers.queue_size", "cannot be negative")
	}
	if c.Workers.TaskTimeout < 0 {
		add("workers.task_timeout", "cannot be negative")
	}

	// Notify
	if c.Notify.RedisURL != "" {
		if u, err := url.Parse(c.Notify.RedisURL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			add("notify.redis_url", "must be a redis:// or rediss:// URL")
		}
	}
	if c.Notify.Buffer < 1 {
		add("notify.buffer", "must be at least 1")
	}

	// Log
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("log.level", "invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// Validate checks the pacing section on its own so a hot reload can
// reject a bad edit without touching the rest of the file.
func (s StreamConfig) Validate() error {
	var errs ValidateErrors
	if s.FlushThreshold < 1 {
		errs = append(errs, ValidationError{Field: "stream.flush_threshold", Message: "must be at least 1"})
	}
	if s.FragmentDelay < 0 {
		errs = append(errs, ValidationError{Field: "stream.fragment_delay", Message: "cannot be negative"})
	}
	if s.FlushDelay < 0 {
		errs = append(errs, ValidationError{Field: "stream.flush_delay", Message: "cannot be negative"})
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateURL(raw string, required bool) error {
	if raw == "" {
		if required {
			return errors.New("URL is required")
		}
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme '%s', must be http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("URL has no host")
	}
	return nil
}

// SetDefaults fills zero values left by a partial file and expands "~"
// in storage paths.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Server.Listen == "" {
		c.Server.Listen = defaults.Server.Listen
	}
	if c.Storage.Path == "" {
		c.Storage.Path = defaults.Storage.Path
	}
	if c.Storage.BlobDir == "" {
		c.Storage.BlobDir = defaults.Storage.BlobDir
	}
	c.Storage.Path = util.ExpandHome(c.Storage.Path)
	c.Storage.BlobDir = util.ExpandHome(c.Storage.BlobDir)

	if c.Text.URL == "" {
		c.Text.URL = defaults.Text.URL
	}
	if c.Text.DefaultModel == "" {
		c.Text.DefaultModel = defaults.Text.DefaultModel
	}
	if c.Text.ConnectTimeout == 0 {
		c.Text.ConnectTimeout = defaults.Text.ConnectTimeout
	}
	if c.Image.Timeout == 0 {
		c.Image.Timeout = defaults.Image.Timeout
	}
	if c.Image.ReadTimeout == 0 {
		c.Image.ReadTimeout = defaults.Image.ReadTimeout
	}
	if c.Notify.Buffer == 0 {
		c.Notify.Buffer = defaults.Notify.Buffer
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Producer variables keep their deployment names:
//   - TEXT_GENERATION_URL: text.url
//   - IMAGE_GENERATION_URL, IMAGE_GENERATION_AUTH_TOKEN: image.url, image.auth_token
//   - IMAGE_GENERATION_WIDTH, IMAGE_GENERATION_HEIGHT: image size
//   - IMAGE_GENERATION_TIMEOUT, IMAGE_GENERATION_READ_TIMEOUT: seconds or a Go duration
//
// Everything else uses the RIGCHAT_ prefix:
//   - RIGCHAT_LISTEN, RIGCHAT_API_TOKEN
//   - RIGCHAT_DB_PATH, RIGCHAT_BLOB_DIR
//   - RIGCHAT_DEFAULT_MODEL
//   - RIGCHAT_FLUSH_THRESHOLD, RIGCHAT_FRAGMENT_DELAY, RIGCHAT_FLUSH_DELAY
//   - RIGCHAT_WORKERS, RIGCHAT_REDIS_URL, RIGCHAT_LOG_LEVEL
//
// Unparseable numbers and durations are reported together.
func (c *Config) ApplyEnvOverrides() error {
	var errs ValidateErrors
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, ValidationError{Field: key, Message: fmt.Sprintf("invalid integer '%s'", v)})
			return
		}
		*dst = n
	}
	dur := func(key string, dst *time.Duration) {
		v := os.Getenv(key)
		if v == "" {
			return
		}
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, ValidationError{Field: key, Message: fmt.Sprintf("invalid duration '%s'", v)})
			return
		}
		*dst = d
	}

	str("TEXT_GENERATION_URL", &c.Text.URL)
	str("IMAGE_GENERATION_URL", &c.Image.URL)
	str("IMAGE_GENERATION_AUTH_TOKEN", &c.Image.AuthToken)
	num("IMAGE_GENERATION_WIDTH", &c.Image.Width)
	num("IMAGE_GENERATION_HEIGHT", &c.Image.Height)
	dur("IMAGE_GENERATION_TIMEOUT", &c.Image.Timeout)
	dur("IMAGE_GENERATION_READ_TIMEOUT", &c.Image.ReadTimeout)

	str("RIGCHAT_LISTEN", &c.Server.Listen)
	str("RIGCHAT_API_TOKEN", &c.Server.APIToken)
	str("RIGCHAT_DB_PATH", &c.Storage.Path)
	str("RIGCHAT_BLOB_DIR", &c.Storage.BlobDir)
	str("RIGCHAT_DEFAULT_MODEL", &c.Text.DefaultModel)
	num("RIGCHAT_FLUSH_THRESHOLD", &c.Stream.FlushThreshold)
	dur("RIGCHAT_FRAGMENT_DELAY", &c.Stream.FragmentDelay)
	dur("RIGCHAT_FLUSH_DELAY", &c.Stream.FlushDelay)
	num("RIGCHAT_WORKERS", &c.Workers.Count)
	str("RIGCHAT_REDIS_URL", &c.Notify.RedisURL)
	str("RIGCHAT_LOG_LEVEL", &c.Log.Level)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// parseDuration accepts a Go duration or a bare number of seconds.
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative duration %q", v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Clone returns a copy of the configuration. Config holds only values, so
// a struct copy is deep.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// String renders the config as JSON with secrets redacted.
func (c *Config) String() string {
	safe := c.Clone()
	if safe.Server.APIToken != "" {
		safe.Server.APIToken = "[REDACTED]"
	}
	if safe.Image.AuthToken != "" {
		safe.Image.AuthToken = "[REDACTED]"
	}
	if u, err := url.Parse(safe.Notify.RedisURL); err == nil && u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "REDACTED")
			safe.Notify.RedisURL = u.String()
		}
	}

	data, _ := json.MarshalIndent(safe, "", "  ")
	return string(data)
}
