// Package config provides configuration structures and defaults for the ticket store.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	defaultDataPath          = "stablestore.db"
	defaultBucketSizeInPages = 128
	defaultListenAddr        = ":8080"
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "STABLESTORE_"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the tunable parameters of the store and its servers.
type Config struct {
	// DataPath is the file holding the memory region.
	DataPath string `yaml:"data_path"`
	// InMemory keeps the region on the heap; DataPath is ignored.
	InMemory bool `yaml:"in_memory"`
	// BucketSizeInPages only applies when the region is created.
	BucketSizeInPages uint16 `yaml:"bucket_size_in_pages"`
	// MaxPages caps the region size. Zero means unbounded.
	MaxPages   uint64 `yaml:"max_pages"`
	SyncWrites bool   `yaml:"sync_writes"`

	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"`
	LogOutput  string `yaml:"log_output"`
}

// DefaultConfig returns a Config struct populated with default values.
func DefaultConfig() *Config {
	return &Config{
		DataPath:          defaultDataPath,
		BucketSizeInPages: defaultBucketSizeInPages,
		ListenAddr:        defaultListenAddr,
		LogLevel:          defaultLogLevel,
		LogFormat:         defaultLogFormat,
	}
}

// FillDefaults sets any zero-value fields in the Config to their default values.
func (c *Config) FillDefaults() {
	def := DefaultConfig()
	if c.DataPath == "" {
		c.DataPath = def.DataPath
	}
	if c.BucketSizeInPages == 0 {
		c.BucketSizeInPages = def.BucketSizeInPages
	}
	if c.ListenAddr == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = def.LogFormat
	}
}

// Load reads a YAML config file and fills unset fields with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.FillDefaults()
	return cfg, nil
}

// ApplyEnv overrides fields from STABLESTORE_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := lookup("DATA_PATH"); ok {
		c.DataPath = v
	}
	if v, ok := lookup("LISTEN_ADDR"); ok {
		c.ListenAddr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		c.LogLevel = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		c.LogFormat = v
	}
	if v, ok := lookup("LOG_OUTPUT"); ok {
		c.LogOutput = v
	}
	if v, ok := lookup("IN_MEMORY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sIN_MEMORY: %w", EnvPrefix, err)
		}
		c.InMemory = b
	}
	if v, ok := lookup("SYNC_WRITES"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sSYNC_WRITES: %w", EnvPrefix, err)
		}
		c.SyncWrites = b
	}
	if v, ok := lookup("BUCKET_SIZE_IN_PAGES"); ok {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("%sBUCKET_SIZE_IN_PAGES: %w", EnvPrefix, err)
		}
		c.BucketSizeInPages = uint16(n)
	}
	if v, ok := lookup("MAX_PAGES"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sMAX_PAGES: %w", EnvPrefix, err)
		}
		c.MaxPages = n
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

// Validate reports the first field holding an unusable value.
func (c *Config) Validate() error {
	if !c.InMemory && c.DataPath == "" {
		return fmt.Errorf("%w: data_path is required unless in_memory is set", ErrInvalidConfig)
	}
	if c.BucketSizeInPages == 0 {
		return fmt.Errorf("%w: bucket_size_in_pages must be positive", ErrInvalidConfig)
	}
	// The partition table lives in page 0; a region needs it plus one bucket.
	if c.MaxPages != 0 && c.MaxPages < 1+uint64(c.BucketSizeInPages) {
		return fmt.Errorf("%w: max_pages %d cannot hold a header and one bucket of %d pages",
			ErrInvalidConfig, c.MaxPages, c.BucketSizeInPages)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log_format %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}
