package config

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config represents a drawscan.yaml configuration file.
// All values are optional and act as defaults for drawscan analyze flags.
// CLI flags always override config values.
type Config struct {
	Endpoint          string            `yaml:"endpoint"`
	VLMURL            string            `yaml:"vlm_url"`
	Headers           map[string]string `yaml:"headers,omitempty"`
	Timeout           Duration          `yaml:"timeout,omitempty"`
	Retries           *int              `yaml:"retries,omitempty"`
	StrictTermination bool              `yaml:"strict_termination"`
	RequireBody       bool              `yaml:"require_body"`
	LogLevel          string            `yaml:"log_level"`
	Format            string            `yaml:"format"`
	Storage           StorageConfig     `yaml:"storage"`
	Adapter           AdapterConfig     `yaml:"adapter"`
}

// StorageConfig holds archive defaults from the config file.
type StorageConfig struct {
	Dataset       string `yaml:"dataset"`
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	Region        string `yaml:"region"`
	Endpoint      string `yaml:"endpoint"`
	S3PathStyle   bool   `yaml:"s3_path_style"`
	IncludeImages bool   `yaml:"include_images"`
}

// AdapterConfig holds notification adapter defaults from the config file.
type AdapterConfig struct {
	Type       string            `yaml:"type"`
	URL        string            `yaml:"url"`
	Channel    string            `yaml:"channel,omitempty"`
	HistoryKey string            `yaml:"history_key,omitempty"`
	Headers    map[string]string `yaml:"headers,omitempty"`
	Timeout    Duration          `yaml:"timeout,omitempty"`
	Retries    *int              `yaml:"retries,omitempty"`
}

// Accepted enum values.
var (
	storageBackends = []string{"", "fs", "s3"}
	adapterTypes    = []string{"", "webhook", "redis"}
	formats         = []string{"", "json", "yaml", "table", "msgpack"}
	logLevels       = []string{"", "debug", "info", "warn", "error"}
)

// Validate checks enum fields and cross-field requirements.
func (c *Config) Validate() error {
	var errs []error
	if !slices.Contains(storageBackends, c.Storage.Backend) {
		errs = append(errs, fmt.Errorf("storage.backend must be fs or s3, got %q", c.Storage.Backend))
	}
	if c.Storage.Backend != "" && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required when storage.backend is set"))
	}
	if !slices.Contains(adapterTypes, c.Adapter.Type) {
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, errors.New("adapter.url is required when adapter.type is set"))
	}
	if !slices.Contains(formats, c.Format) {
		errs = append(errs, fmt.Errorf("format must be one of json, yaml, table, msgpack, got %q", c.Format))
	}
	if !slices.Contains(logLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel))
	}
	if c.Retries != nil && *c.Retries < 0 {
		errs = append(errs, fmt.Errorf("retries must be >= 0, got %d", *c.Retries))
	}
	return errors.Join(errs...)
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}
