package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTool(); err != nil {
		return err
	}
	if err := c.validateDisk(); err != nil {
		return err
	}
	if err := c.validateJanitor(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		return errors.New("paths.download_dir must be set")
	}
	if strings.TrimSpace(c.Paths.Listen) == "" {
		return errors.New("paths.listen must be set")
	}
	return nil
}

func (c *Config) validateTool() error {
	if c.Tool.Binary == "" {
		return errors.New("tool.binary must be set (set CLIPSTREAM_YTDLP or edit the config file)")
	}
	if c.Tool.InfoTimeoutSeconds <= 0 {
		return errors.New("tool.info_timeout must be positive")
	}
	if c.Tool.PlaylistTimeoutSeconds < c.Tool.InfoTimeoutSeconds {
		return fmt.Errorf("tool.playlist_info_timeout must be >= tool.info_timeout (%d)", c.Tool.InfoTimeoutSeconds)
	}
	if c.Tool.DefaultFormat == "" {
		return errors.New("tool.default_format must be set")
	}
	return nil
}

func (c *Config) validateDisk() error {
	if c.Disk.QuotaMB <= 0 {
		return errors.New("disk.quota_mb must be positive")
	}
	if c.Disk.WarnPercent <= 0 || c.Disk.WarnPercent > 100 {
		return errors.New("disk.warn_percent must be between 1 and 100")
	}
	if c.Disk.RoutineReclaimMB <= 0 || c.Disk.AggressiveReclaimMB <= 0 {
		return errors.New("disk reclaim targets must be positive")
	}
	return nil
}

func (c *Config) validateJanitor() error {
	if c.Janitor.RoutineSpec == "" || c.Janitor.AggressiveSpec == "" {
		return errors.New("janitor cron specs must be set")
	}
	if c.Janitor.TokenMaxAgeMin <= 0 {
		return errors.New("janitor.token_max_age_minutes must be positive")
	}
	return nil
}
