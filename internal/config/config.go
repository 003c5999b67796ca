package config

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the full service configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Store     StoreConfig     `mapstructure:"store"`
	Sync      SyncConfig      `mapstructure:"sync"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         string `mapstructure:"port"`
	Environment  string `mapstructure:"environment"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type StoreConfig struct {
	DSN string `mapstructure:"dsn"`
}

type SyncConfig struct {
	Team            string        `mapstructure:"team"`
	IntervalMinutes int           `mapstructure:"interval_minutes"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
}

type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Load reads config.yaml from the working directory, layering
// CHATAUDIT_* environment variables on top. A missing config file is
// not an error; defaults plus environment cover the common deployment.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("chataudit")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.environment", "development")
	viper.SetDefault("server.max_body_bytes", 1<<20)
	viper.SetDefault("store.dsn", "memory://")
	viper.SetDefault("sync.team", "credit")
	viper.SetDefault("sync.interval_minutes", 1)
	viper.SetDefault("sync.probe_timeout", 15*time.Second)
	viper.SetDefault("rate_limit.rps", 0)
	viper.SetDefault("rate_limit.burst", 0)
	viper.SetDefault("log.level", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch re-reads the config file on change and hands the fresh Config
// to onChange. Unparseable edits are dropped; the previous config
// stays in effect.
func Watch(onChange func(*Config)) {
	if onChange == nil {
		return
	}
	viper.OnConfigChange(func(fsnotify.Event) {
		var cfg Config
		if err := viper.Unmarshal(&cfg); err != nil {
			return
		}
		onChange(&cfg)
	})
	viper.WatchConfig()
}
