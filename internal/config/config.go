package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/tsviz/pkg/storage"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Upload      UploadConfig      `yaml:"upload"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	Timeout    time.Duration `yaml:"timeout"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Path             string `yaml:"path"`
	CompressionLevel int    `yaml:"compression_level"`
	QuotaBytes       int64  `yaml:"quota_bytes"`
	InMemory         bool   `yaml:"in_memory"`
}

// PersistenceConfig controls what part of the store is written to storage
type PersistenceConfig struct {
	Key          string `yaml:"key"`
	CeilingBytes int    `yaml:"ceiling_bytes"`
}

// UploadConfig controls the session cache of uploaded files
type UploadConfig struct {
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
			Timeout:    30 * time.Second,
		},
		Storage: StorageConfig{
			Path:             getEnv("STORAGE_PATH", "./data"),
			CompressionLevel: getEnvInt("COMPRESSION_LEVEL", 3),
			QuotaBytes:       int64(getEnvInt("STORAGE_QUOTA_BYTES", 10*1000*1000)),
			InMemory:         getEnvBool("STORAGE_IN_MEMORY", false),
		},
		Persistence: PersistenceConfig{
			Key:          getEnv("PERSIST_KEY", storage.DefaultKey),
			CeilingBytes: getEnvInt("PERSIST_CEILING_BYTES", storage.DefaultCeiling),
		},
		Upload: UploadConfig{
			CacheSize: getEnvInt("UPLOAD_CACHE_SIZE", 16),
			CacheTTL:  time.Hour,
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}
}

// Load reads a YAML file on top of the defaults. ${VAR} references in the
// file are expanded from the environment. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} with the value of VAR. Unset variables
// expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := match[2 : len(match)-1]
		return os.Getenv(name)
	})
}

// ToStorageConfig converts to storage.Config
func (c *Config) ToStorageConfig() *storage.Config {
	return &storage.Config{
		Path:             c.Storage.Path,
		CompressionLevel: c.Storage.CompressionLevel,
		QuotaBytes:       c.Storage.QuotaBytes,
		InMemory:         c.Storage.InMemory,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server listen address is required")
	}

	if c.Storage.Path == "" && !c.Storage.InMemory {
		return fmt.Errorf("storage path is required")
	}

	if c.Storage.CompressionLevel < 1 || c.Storage.CompressionLevel > 4 {
		return fmt.Errorf("compression level must be between 1 and 4")
	}

	if c.Storage.QuotaBytes < 0 {
		return fmt.Errorf("storage quota must not be negative")
	}

	if c.Persistence.Key == "" {
		return fmt.Errorf("persistence key is required")
	}

	if c.Persistence.CeilingBytes < 1 {
		return fmt.Errorf("persistence ceiling must be at least 1 byte")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	return nil
}

// Helper functions for environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
