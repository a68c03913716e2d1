// Package config loads the chatrelay service configuration from a YAML
// file with environment-variable fallbacks.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// maxConfigSize bounds how large a config file may be.
const maxConfigSize = 1 << 20 // 1MB

// Config represents the application configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`

	// Redis holds conversation storage configuration.
	Redis RedisConfig `yaml:"redis"`

	// Inference holds model gateway configuration.
	Inference InferenceConfig `yaml:"inference"`

	// Stats holds usage analytics configuration.
	Stats StatsConfig `yaml:"stats"`
}

// RedisConfig holds conversation store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	// TTLSeconds is the history expiry window, refreshed on every write.
	TTLSeconds int `yaml:"ttl_seconds"`
}

// TTL returns the configured history expiry as a duration.
func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// InferenceConfig holds model gateway settings.
type InferenceConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	FastModel      string `yaml:"fast_model"`
	QualityModel   string `yaml:"quality_model"`
}

// Timeout returns the configured gateway timeout as a duration.
func (c InferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StatsConfig holds usage analytics settings. An empty Dir disables the
// analytics subsystem entirely; the /analytics endpoint then reports it
// as unconfigured.
type StatsConfig struct {
	Dir string `yaml:"dir"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration built from defaults and environment
// variables alone, for running without a config file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = getEnv("ADDR", ":8080")
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	}
	if c.Redis.Password == "" {
		c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "chatrelay:session:"
	}
	if c.Redis.TTLSeconds == 0 {
		c.Redis.TTLSeconds = 3 * 60 * 60 // 3 hours
	}
	if c.Inference.BaseURL == "" {
		c.Inference.BaseURL = getEnv("INFERENCE_URL", "http://localhost:11434")
	}
	if c.Inference.TimeoutSeconds == 0 {
		c.Inference.TimeoutSeconds = 120
	}
	if c.Inference.FastModel == "" {
		c.Inference.FastModel = "@cf/meta/llama-3.1-8b-instruct"
	}
	if c.Inference.QualityModel == "" {
		c.Inference.QualityModel = "@cf/meta/llama-3.1-70b-instruct"
	}
	if c.Stats.Dir == "" {
		c.Stats.Dir = os.Getenv("STATS_DIR")
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Inference.BaseURL == "" {
		return fmt.Errorf("inference.base_url is required")
	}
	if c.Redis.TTLSeconds < 0 {
		return fmt.Errorf("redis.ttl_seconds must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
