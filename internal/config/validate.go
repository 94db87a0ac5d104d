package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

func (c *Config) Validate() error {
	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port (%d) must be between 1 and 65535", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must not be negative")
	}
	if c.Server.RateLimit > 0 && c.Server.RateBurst <= 0 {
		return errors.New("server.rate_burst must be positive when rate limiting is enabled")
	}
	if c.Server.FastPathWait < 0 {
		return errors.New("server.fast_path_wait must not be negative")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server.max_upload_bytes must be positive")
	}

	// Queue
	if c.Queue.BacklogCapacity <= 0 {
		return errors.New("queue.backlog_capacity must be a positive integer")
	}
	if c.Queue.ConcurrencyLimit <= 0 {
		return errors.New("queue.concurrency_limit must be a positive integer")
	}
	if c.Queue.HeartbeatTimeout <= 0 {
		return errors.New("queue.heartbeat_timeout must be positive")
	}
	if c.Queue.HeartbeatInterval <= 0 {
		return errors.New("queue.heartbeat_interval must be positive")
	}
	if c.Queue.HeartbeatInterval >= c.Queue.HeartbeatTimeout {
		return fmt.Errorf("queue.heartbeat_interval (%s) must be shorter than queue.heartbeat_timeout (%s)",
			c.Queue.HeartbeatInterval, c.Queue.HeartbeatTimeout)
	}
	if c.Queue.TerminalJobMaxAge <= 0 {
		return errors.New("queue.terminal_job_max_age must be positive")
	}
	if _, err := cron.ParseStandard(c.Queue.CleanupSchedule); err != nil {
		return fmt.Errorf("queue.cleanup_schedule %q is invalid: %w", c.Queue.CleanupSchedule, err)
	}

	// Storage and tools
	if strings.TrimSpace(c.Storage.WorkDir) == "" {
		return errors.New("storage.work_dir is required")
	}
	if c.Tools.FFmpeg == "" || c.Tools.Magick == "" || c.Tools.Soffice == "" {
		return errors.New("tools.ffmpeg, tools.magick and tools.soffice must name an executable")
	}
	if c.Tools.Timeout < 0 || c.Tools.KillGrace < 0 {
		return errors.New("tools.timeout and tools.kill_grace must not be negative")
	}

	// Redis (optional)
	if c.Redis.Address != "" {
		if c.Redis.DB < 0 {
			return errors.New("redis.db must not be negative")
		}
		if c.Redis.ChannelPrefix == "" {
			return errors.New("redis.channel_prefix is required when redis.address is set")
		}
	}
	if c.Redis.SnapshotTTL <= 0 {
		return errors.New("redis.snapshot_ttl must be positive")
	}

	if c.History.Retention < 0 {
		return errors.New("history.retention must not be negative")
	}
	if c.Removal.DownloadGrace < 0 {
		return errors.New("removal.download_grace must not be negative")
	}

	// Logging
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q must be text or json", c.Log.Format)
	}

	return nil
}
