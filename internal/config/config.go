package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "TRANSMUTE"

type Config struct {
	Server struct {
		Addr           string        `mapstructure:"addr"`
		Port           int           `mapstructure:"port"`
		RateLimit      float64       `mapstructure:"rate_limit"` // requests per second per client, 0 disables
		RateBurst      int           `mapstructure:"rate_burst"`
		FastPathWait   time.Duration `mapstructure:"fast_path_wait"`
		MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
		CORSOrigins    []string      `mapstructure:"cors_origins"`
	} `mapstructure:"server"`

	Queue struct {
		BacklogCapacity   int           `mapstructure:"backlog_capacity"`
		ConcurrencyLimit  int           `mapstructure:"concurrency_limit"`
		HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
		TerminalJobMaxAge time.Duration `mapstructure:"terminal_job_max_age"`
		CleanupSchedule   string        `mapstructure:"cleanup_schedule"`
	} `mapstructure:"queue"`

	Storage struct {
		WorkDir string `mapstructure:"work_dir"`
	} `mapstructure:"storage"`

	Tools struct {
		FFmpeg    string        `mapstructure:"ffmpeg"`
		Magick    string        `mapstructure:"magick"`
		Soffice   string        `mapstructure:"soffice"`
		Timeout   time.Duration `mapstructure:"timeout"`
		KillGrace time.Duration `mapstructure:"kill_grace"`
	} `mapstructure:"tools"`

	// Redis is optional. Without an address progress snapshots stay in
	// memory and deferred removals use in-process timers.
	Redis struct {
		Address       string        `mapstructure:"address"`
		Password      string        `mapstructure:"password"`
		DB            int           `mapstructure:"db"`
		ChannelPrefix string        `mapstructure:"channel_prefix"`
		SnapshotTTL   time.Duration `mapstructure:"snapshot_ttl"`
	} `mapstructure:"redis"`

	History struct {
		DSN       string        `mapstructure:"dsn"` // postgres://... or sqlite://path; empty disables
		Retention time.Duration `mapstructure:"retention"`
	} `mapstructure:"history"`

	Removal struct {
		DownloadGrace time.Duration `mapstructure:"download_grace"`
	} `mapstructure:"removal"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// ListenAddr is the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Addr, c.Server.Port)
}

// SetDefaults registers every key so environment overrides are picked up
// by Unmarshal even when no config file mentions them.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit", 10.0)
	v.SetDefault("server.rate_burst", 20)
	v.SetDefault("server.fast_path_wait", "0s")
	v.SetDefault("server.max_upload_bytes", int64(512<<20))
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("queue.backlog_capacity", 50)
	v.SetDefault("queue.concurrency_limit", runtime.NumCPU())
	v.SetDefault("queue.heartbeat_timeout", "30s")
	v.SetDefault("queue.heartbeat_interval", "5s")
	v.SetDefault("queue.terminal_job_max_age", "1h")
	v.SetDefault("queue.cleanup_schedule", "@every 10m")

	v.SetDefault("storage.work_dir", "./data")

	v.SetDefault("tools.ffmpeg", "ffmpeg")
	v.SetDefault("tools.magick", "magick")
	v.SetDefault("tools.soffice", "soffice")
	v.SetDefault("tools.timeout", "30m")
	v.SetDefault("tools.kill_grace", "5s")

	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "transmute:progress:")
	v.SetDefault("redis.snapshot_ttl", "1h")

	v.SetDefault("history.dsn", "sqlite://transmute-history.db")
	v.SetDefault("history.retention", "720h")

	v.SetDefault("removal.download_grace", "5m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads config.yaml (or configFile when set), applies
// TRANSMUTE_* environment overrides and validates the result.
func LoadConfig(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}
