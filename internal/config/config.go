package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DownloadDir string `toml:"download_dir"`
	LogDir      string `toml:"log_dir"`
	Listen      string `toml:"listen"`
}

// Tool contains configuration for the external media-fetch tool.
type Tool struct {
	Binary                 string `toml:"binary"`
	InfoTimeoutSeconds     int    `toml:"info_timeout"`
	PlaylistTimeoutSeconds int    `toml:"playlist_info_timeout"`
	DefaultFormat          string `toml:"default_format"`
	MergeFormat            string `toml:"merge_format"`
}

// Disk contains disk quota and cleanup configuration.
type Disk struct {
	QuotaMB             int64 `toml:"quota_mb"`
	WarnPercent         int   `toml:"warn_percent"`
	RoutineReclaimMB    int64 `toml:"routine_reclaim_mb"`
	AggressiveReclaimMB int64 `toml:"aggressive_reclaim_mb"`
}

// Janitor contains cleanup scheduler cadences.
type Janitor struct {
	RoutineSpec    string `toml:"routine_spec"`
	AggressiveSpec string `toml:"aggressive_spec"`
	TokenMaxAgeMin int    `toml:"token_max_age_minutes"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for clipstream.
type Config struct {
	Paths   Paths   `toml:"paths"`
	Tool    Tool    `toml:"tool"`
	Disk    Disk    `toml:"disk"`
	Janitor Janitor `toml:"janitor"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/clipstream/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and environment overrides applied.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// applyEnv layers CLIPSTREAM_* environment variables over file values.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("CLIPSTREAM_LISTEN")); v != "" {
		c.Paths.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv("CLIPSTREAM_DOWNLOAD_DIR")); v != "" {
		c.Paths.DownloadDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CLIPSTREAM_YTDLP")); v != "" {
		c.Tool.Binary = v
	}
	if v := strings.TrimSpace(os.Getenv("CLIPSTREAM_QUOTA_MB")); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
			c.Disk.QuotaMB = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("CLIPSTREAM_LOG_LEVEL")); v != "" {
		c.Logging.Level = v
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("clipstream.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DownloadDir, err = expandPath(c.Paths.DownloadDir); err != nil {
		return fmt.Errorf("paths.download_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	c.Paths.Listen = strings.TrimSpace(c.Paths.Listen)
	c.Tool.Binary = strings.TrimSpace(c.Tool.Binary)
	c.Tool.DefaultFormat = strings.TrimSpace(c.Tool.DefaultFormat)
	c.Tool.MergeFormat = strings.TrimSpace(c.Tool.MergeFormat)
	c.Janitor.RoutineSpec = strings.TrimSpace(c.Janitor.RoutineSpec)
	c.Janitor.AggressiveSpec = strings.TrimSpace(c.Janitor.AggressiveSpec)
	c.Logging.Level = strings.TrimSpace(c.Logging.Level)
	c.Logging.Format = strings.TrimSpace(c.Logging.Format)
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DownloadDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// QuotaBytes returns the configured quota ceiling in bytes.
func (c *Config) QuotaBytes() int64 {
	return c.Disk.QuotaMB * 1024 * 1024
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
