// Package config loads the wcfbridge YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// 存储后端名称。
const (
	StorageMemory = "memory"
	StorageFile   = "file"
	StorageRedis  = "redis"
)

// ErrInvalidConfig 表示配置校验失败。
var ErrInvalidConfig = errors.New("config: invalid")

// LogConfig defines logger output and rotation.
type LogConfig struct {
	Level      string `json:"level" yaml:"level"`             // debug, info, warn, error
	Mode       string `json:"mode" yaml:"mode"`               // "dev" adds a console core
	FileName   string `json:"file_name" yaml:"file_name"`     // empty: stdout only
	MaxSize    int    `json:"max_size" yaml:"max_size"`       // MB
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // files
	MaxAge     int    `json:"max_age" yaml:"max_age"`         // days
}

// RedisConfig configures the redis storage backend.
type RedisConfig struct {
	Addr     string        `json:"addr" yaml:"addr"`
	Password string        `json:"password" yaml:"password"` // Environment variable reference or direct value
	DB       int           `json:"db" yaml:"db"`
	PoolSize int           `json:"pool_size" yaml:"pool_size"`
	TTL      time.Duration `json:"ttl" yaml:"ttl"` // 0 keeps entries forever
}

// StorageConfig selects the presence cache backend.
type StorageConfig struct {
	Driver string      `json:"driver" yaml:"driver"` // memory, file, redis
	Dir    string      `json:"dir" yaml:"dir"`       // file driver base directory
	Redis  RedisConfig `json:"redis" yaml:"redis"`
}

// FeedConfig configures the wcf websocket message feed.
type FeedConfig struct {
	URL                  string        `json:"url" yaml:"url"`
	ReconnectInterval    time.Duration `json:"reconnect_interval" yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `json:"max_reconnect_attempts" yaml:"max_reconnect_attempts"`
}

// KafkaConfig configures the kafka event sink.
type KafkaConfig struct {
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	RequireAll   bool          `json:"require_all" yaml:"require_all"`
}

// SinkConfig lists the event outputs; several may be enabled at once.
type SinkConfig struct {
	JSONL string      `json:"jsonl" yaml:"jsonl"` // file path, "-" for stdout
	Kafka KafkaConfig `json:"kafka" yaml:"kafka"`
}

// RetryConfig bounds the room-join identity retry loop.
type RetryConfig struct {
	Attempts int           `json:"attempts" yaml:"attempts"`
	Backoff  time.Duration `json:"backoff" yaml:"backoff"`
}

// Config holds the global bridge configuration.
type Config struct {
	SelfID   string        `json:"self_id" yaml:"self_id"`   // logged-in account; falls back to the snapshot's self
	Locale   string        `json:"locale" yaml:"locale"`     // zh, en
	Snapshot string        `json:"snapshot" yaml:"snapshot"` // contact/room snapshot used as the data source
	Log      LogConfig     `json:"log" yaml:"log"`
	Storage  StorageConfig `json:"storage" yaml:"storage"`
	Feed     FeedConfig    `json:"feed" yaml:"feed"`
	Sink     SinkConfig    `json:"sink" yaml:"sink"`
	Retry    RetryConfig   `json:"retry" yaml:"retry"`
	Routes   []string      `json:"routes,omitempty" yaml:"routes,omitempty"` // empty: default route order
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads and parses the configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	cfg.Storage.Redis.Password = ResolveSecret(cfg.Storage.Redis.Password)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveSecret 如果值以 "env:" 开头，则从环境变量中获取实际值。
func ResolveSecret(value string) string {
	if strings.HasPrefix(value, "env:") {
		return os.Getenv(strings.TrimPrefix(value, "env:"))
	}
	return value
}

func (c *Config) applyDefaults() {
	if c.Locale == "" {
		c.Locale = "zh"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSize == 0 {
		c.Log.MaxSize = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 5
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = 30
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = StorageMemory
	}
	if c.Storage.Driver == StorageFile && c.Storage.Dir == "" {
		c.Storage.Dir = "data/cache"
	}
	if c.Storage.Driver == StorageRedis && c.Storage.Redis.Addr == "" {
		c.Storage.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Feed.ReconnectInterval == 0 {
		c.Feed.ReconnectInterval = 5 * time.Second
	}
	if c.Retry.Attempts == 0 {
		c.Retry.Attempts = 5
	}
	if c.Retry.Backoff == 0 {
		c.Retry.Backoff = 2 * time.Second
	}
}

// Validate checks option combinations that defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case StorageMemory, StorageFile, StorageRedis:
	default:
		return fmt.Errorf("%w: unknown storage driver %q", ErrInvalidConfig, c.Storage.Driver)
	}
	if c.Locale != "zh" && c.Locale != "en" {
		return fmt.Errorf("%w: unknown locale %q", ErrInvalidConfig, c.Locale)
	}
	if c.Retry.Attempts < 0 || c.Retry.Backoff < 0 {
		return fmt.Errorf("%w: retry attempts and backoff must not be negative", ErrInvalidConfig)
	}
	if (len(c.Sink.Kafka.Brokers) == 0) != (c.Sink.Kafka.Topic == "") {
		return fmt.Errorf("%w: kafka sink needs both brokers and topic", ErrInvalidConfig)
	}
	return nil
}
