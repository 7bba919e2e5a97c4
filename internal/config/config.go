package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Model     ModelConfig     `mapstructure:"model"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Log       LogConfig       `mapstructure:"log"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               string        `mapstructure:"port"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MaxRequestBodySize int64         `mapstructure:"max_request_body_size"`
}

type ModelConfig struct {
	Path         string      `mapstructure:"path"`
	MetadataPath string      `mapstructure:"metadata_path"`
	Backend      string      `mapstructure:"backend"` // onnx | tflite | "" (from extension)
	LibraryPath  string      `mapstructure:"library_path"`
	Threads      int         `mapstructure:"threads"`
	Source       string      `mapstructure:"source"` // file | azure
	Azure        AzureConfig `mapstructure:"azure"`
}

type AzureConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Container        string `mapstructure:"container"`
}

type CacheConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | text
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TelemetryConfig struct {
	SentryDSN   string `mapstructure:"sentry_dsn"`
	Environment string `mapstructure:"environment"`
}

// ServerAddress joins host and port for net.Listen.
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(strings.TrimSpace(c.Server.Host), strings.TrimSpace(c.Server.Port))
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.max_request_body_size", 10<<20) // 10MB

	v.SetDefault("model.path", "models/model.onnx")
	v.SetDefault("model.metadata_path", "")
	v.SetDefault("model.backend", "")
	v.SetDefault("model.library_path", "")
	v.SetDefault("model.threads", 0)
	v.SetDefault("model.source", "file")
	v.SetDefault("model.azure.connection_string", "")
	v.SetDefault("model.azure.account_name", "")
	v.SetDefault("model.azure.account_key", "")
	v.SetDefault("model.azure.container", "")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 10*time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("metrics.enabled", true)

	v.SetDefault("telemetry.sentry_dsn", "")
	v.SetDefault("telemetry.environment", "production")
}

// New returns a viper instance wired for this service: defaults, the
// XRAY_ environment prefix and the bare PORT variable used by most hosts.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("XRAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", "XRAY_SERVER_PORT", "PORT")
	return v
}

// Load reads the optional config file and unmarshals v into a validated Config.
// An explicit path that cannot be read is an error; a missing default file is not.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.xray")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	p, err := strconv.Atoi(strings.TrimSpace(c.Server.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid server.port: %q", c.Server.Port)
	}
	if c.Server.MaxRequestBodySize <= 0 {
		return fmt.Errorf("server.max_request_body_size must be > 0 (got %d)", c.Server.MaxRequestBodySize)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be > 0 (got %s)", c.Server.RequestTimeout)
	}
	if strings.TrimSpace(c.Model.Path) == "" {
		return fmt.Errorf("model.path is required")
	}

	switch strings.ToLower(c.Model.Backend) {
	case "", "onnx", "tflite":
	default:
		return fmt.Errorf("model.backend must be onnx or tflite (got %q)", c.Model.Backend)
	}

	switch strings.ToLower(c.Model.Source) {
	case "", "file":
	case "azure":
		if c.Model.Azure.Container == "" {
			return fmt.Errorf("model.azure.container is required when model.source is azure")
		}
		if c.Model.Azure.ConnectionString == "" && (c.Model.Azure.AccountName == "" || c.Model.Azure.AccountKey == "") {
			return fmt.Errorf("model.azure needs connection_string or account_name and account_key")
		}
	default:
		return fmt.Errorf("model.source must be file or azure (got %q)", c.Model.Source)
	}

	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0 when the cache is enabled")
	}
	return nil
}
