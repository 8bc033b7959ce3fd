package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server          ServerConfig          `yaml:"server"`
	Database        DatabaseConfig        `yaml:"database"`
	Analysis        AnalysisConfig        `yaml:"analysis"`
	Auth            AuthConfig            `yaml:"auth"`
	Clarification   ClarificationConfig   `yaml:"clarification"`
	Worker          WorkerConfig          `yaml:"worker"`
	SnapshotStorage SnapshotStorageConfig `yaml:"snapshot_storage"`
	Log             LogConfig             `yaml:"log"`
	Limits          LimitsConfig          `yaml:"limits"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AnalysisConfig contains analysis provider settings.
type AnalysisConfig struct {
	APIKey             string   `yaml:"-"` // env-only, never in YAML
	BaseURL            string   `yaml:"base_url"`
	Model              string   `yaml:"model"`
	TranscriptionModel string   `yaml:"transcription_model"`
	Language           string   `yaml:"language"`
	Timeout            Duration `yaml:"timeout"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// ClarificationConfig controls how long a pending clarification lives.
type ClarificationConfig struct {
	MaxPendingAge Duration `yaml:"max_pending_age"`
	ReapInterval  Duration `yaml:"reap_interval"`
}

// WorkerConfig contains background worker settings.
type WorkerConfig struct {
	// SnapshotInterval of zero disables the snapshot worker.
	SnapshotInterval Duration `yaml:"snapshot_interval"`
}

// SnapshotStorageConfig contains S3-compatible storage settings for
// offsite database snapshots. An empty Bucket keeps snapshots local.
type SnapshotStorageConfig struct {
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	Prefix    string   `yaml:"prefix"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
	URLExpiry Duration `yaml:"url_expiry"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LimitsConfig bounds submission sizes accepted over HTTP.
type LimitsConfig struct {
	MaxMediaBytes int `yaml:"max_media_bytes"`
	MaxTextLength int `yaml:"max_text_length"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("MEALCLARIFY_CONFIG_PATH", "config/mealclarify.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadLocal loads configuration like Load but does not require API keys.
// Offline CLI commands use it to reach the database without credentials.
func LoadLocal() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("MEALCLARIFY_CONFIG_PATH", "config/mealclarify.yaml")
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validateSettings(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(90 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/mealclarify.db",
		},
		Analysis: AnalysisConfig{
			Model:              "gpt-4.1-mini",
			TranscriptionModel: "gpt-4o-mini-transcribe",
			Timeout:            Duration(60 * time.Second),
		},
		Clarification: ClarificationConfig{
			MaxPendingAge: Duration(24 * time.Hour),
			ReapInterval:  Duration(1 * time.Hour),
		},
		Worker: WorkerConfig{
			SnapshotInterval: Duration(1 * time.Hour),
		},
		SnapshotStorage: SnapshotStorageConfig{
			Region:    "us-east-1",
			UseSSL:    &useSSL,
			Prefix:    "mealclarify",
			URLExpiry: Duration(15 * time.Minute),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Limits: LimitsConfig{
			MaxMediaBytes: 20 << 20,
			MaxTextLength: 4000,
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("MEALCLARIFY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("MEALCLARIFY_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("MEALCLARIFY_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("MEALCLARIFY_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("MEALCLARIFY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Analysis (OPENAI_API_KEY is industry convention)
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Analysis.APIKey = v
	}
	if v := os.Getenv("MEALCLARIFY_ANALYSIS_BASE_URL"); v != "" {
		cfg.Analysis.BaseURL = v
	}
	if v := os.Getenv("MEALCLARIFY_ANALYSIS_MODEL"); v != "" {
		cfg.Analysis.Model = v
	}
	if v := os.Getenv("MEALCLARIFY_TRANSCRIPTION_MODEL"); v != "" {
		cfg.Analysis.TranscriptionModel = v
	}
	if v := os.Getenv("MEALCLARIFY_ANALYSIS_LANGUAGE"); v != "" {
		cfg.Analysis.Language = v
	}
	envDuration("MEALCLARIFY_ANALYSIS_TIMEOUT", &cfg.Analysis.Timeout)

	// Auth
	if v := os.Getenv("MEALCLARIFY_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Clarification
	envDuration("MEALCLARIFY_MAX_PENDING_AGE", &cfg.Clarification.MaxPendingAge)
	envDuration("MEALCLARIFY_REAP_INTERVAL", &cfg.Clarification.ReapInterval)

	// Worker
	envDuration("MEALCLARIFY_SNAPSHOT_INTERVAL", &cfg.Worker.SnapshotInterval)

	// Snapshot storage
	if v := os.Getenv("MEALCLARIFY_SNAPSHOT_BUCKET"); v != "" {
		cfg.SnapshotStorage.Bucket = v
	}
	if v := os.Getenv("MEALCLARIFY_SNAPSHOT_PREFIX"); v != "" {
		cfg.SnapshotStorage.Prefix = v
	}
	if v := os.Getenv("MEALCLARIFY_S3_ENDPOINT"); v != "" {
		cfg.SnapshotStorage.Endpoint = v
	}
	if v := os.Getenv("MEALCLARIFY_S3_REGION"); v != "" {
		cfg.SnapshotStorage.Region = v
	}
	if v := os.Getenv("MEALCLARIFY_S3_ACCESS_KEY"); v != "" {
		cfg.SnapshotStorage.AccessKey = v
	}
	if v := os.Getenv("MEALCLARIFY_S3_SECRET_KEY"); v != "" {
		cfg.SnapshotStorage.SecretKey = v
	}
	if v := os.Getenv("MEALCLARIFY_S3_USE_SSL"); v != "" {
		useSSL := v == "true" || v == "1"
		cfg.SnapshotStorage.UseSSL = &useSSL
	}
	envDuration("MEALCLARIFY_S3_URL_EXPIRY", &cfg.SnapshotStorage.URLExpiry)

	// Log
	if v := os.Getenv("MEALCLARIFY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("MEALCLARIFY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Limits
	if v := os.Getenv("MEALCLARIFY_MAX_MEDIA_BYTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxMediaBytes = n
		}
	}
	if v := os.Getenv("MEALCLARIFY_MAX_TEXT_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limits.MaxTextLength = n
		}
	}
}

// envDuration overrides *dst when the env var holds a valid duration.
func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that required configuration values are set.
// In dev mode (MEALCLARIFY_DEV_MODE=true), API key validation is skipped.
func (c *Config) validate() error {
	if err := c.validateSettings(); err != nil {
		return err
	}

	// Dev mode bypasses API key validation
	if os.Getenv("MEALCLARIFY_DEV_MODE") == "true" {
		return nil
	}

	if c.Analysis.APIKey == "" {
		return errors.New("OPENAI_API_KEY is required")
	}
	if c.Auth.APIKey == "" {
		return errors.New("MEALCLARIFY_API_KEY is required")
	}
	return nil
}

// validateSettings checks the values every command depends on.
func (c *Config) validateSettings() error {
	if c.Clarification.MaxPendingAge <= 0 {
		return errors.New("clarification.max_pending_age must be positive")
	}
	if c.Clarification.ReapInterval <= 0 {
		return errors.New("clarification.reap_interval must be positive")
	}
	if c.Worker.SnapshotInterval < 0 {
		return errors.New("worker.snapshot_interval must not be negative")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
