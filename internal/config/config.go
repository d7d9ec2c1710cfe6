package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/tejusbharadwaj/hydrolink/internal/api"
	"github.com/tejusbharadwaj/hydrolink/internal/scheduler"
)

// EnvPrefix prefixes environment overrides, e.g. HYDROLINK_ACCOUNT_PASSWORD.
const EnvPrefix = "HYDROLINK"

// Config holds all configuration for our application
type Config struct {
	Account AccountConfig `mapstructure:"account"`
	Server  ServerConfig  `mapstructure:"server"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type AccountConfig struct {
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	LoginURL        string        `mapstructure:"login_url"`
	MeterDataURL    string        `mapstructure:"meter_data_url"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
}

type ServerConfig struct {
	Host           string  `mapstructure:"host"`
	GRPCPort       int     `mapstructure:"grpc_port"`
	MetricsPort    int     `mapstructure:"metrics_port"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

type CacheConfig struct {
	ViewCacheSize int `mapstructure:"view_cache_size"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. ${VAR}
// references in the file are expanded, then HYDROLINK_* variables override
// individual keys. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded, err := expand(data)
		if err != nil {
			return nil, err
		}
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewReader(expanded)); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

// envRef matches explicit ${VAR} references. A bare $ is left alone so
// passwords containing one are used as written.
var envRef = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

// expand normalizes the YAML document and substitutes environment variables
func expand(data []byte) ([]byte, error) {
	// First unmarshal into a map to handle type conversions
	var rawConfig map[string]interface{}
	if err := yaml.Unmarshal(data, &rawConfig); err != nil {
		return nil, fmt.Errorf("failed to unmarshal raw config: %w", err)
	}

	// Convert the map to YAML again
	normalized, err := yaml.Marshal(rawConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal raw config: %w", err)
	}

	return envRef.ReplaceAllFunc(normalized, func(ref []byte) []byte {
		return []byte(os.Getenv(string(ref[2 : len(ref)-1])))
	}), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("account.username", "")
	v.SetDefault("account.password", "")
	v.SetDefault("account.login_url", api.DefaultLoginURL)
	v.SetDefault("account.meter_data_url", api.DefaultMeterDataURL)
	v.SetDefault("account.refresh_interval", scheduler.DefaultInterval)
	v.SetDefault("account.http_timeout", api.DefaultHTTPTimeout)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_limit_burst", 10)

	v.SetDefault("cache.view_cache_size", 128)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks the settings the poller cannot run without
func (c *Config) Validate() error {
	var errs []error
	if c.Account.Username == "" {
		errs = append(errs, errors.New("account.username is required"))
	}
	if c.Account.Password == "" {
		errs = append(errs, errors.New("account.password is required"))
	}
	if c.Account.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("account.refresh_interval must be positive, got %s", c.Account.RefreshInterval))
	}
	if c.Cache.ViewCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cache.view_cache_size must be positive, got %d", c.Cache.ViewCacheSize))
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// NewLogger builds the logrus logger described by the logging section
func (c LoggingConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if c.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(c.Level); err == nil {
		logger.SetLevel(level)
	}
	return logger
}
