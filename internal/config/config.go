// Package config loads server configuration from a YAML file with
// environment variable overrides. A missing file is not an error; the
// defaults are a working single-node setup.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "REFETCH_CONFIG"

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Storage  StorageConfig  `yaml:"storage"`
	Download DownloadConfig `yaml:"download"`
}

// ServerConfig contains the HTTP listener settings.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  int    `yaml:"read_timeout"`  // seconds
	WriteTimeout int    `yaml:"write_timeout"` // seconds
	IdleTimeout  int    `yaml:"idle_timeout"`  // seconds
}

// LogConfig contains logging settings. File rotation applies only when
// Output is "file" or "both".
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // text, json
	Output     string `yaml:"output"` // stdout, file, both
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age"`
	Compress   bool   `yaml:"compress"`
}

// StorageConfig selects the record store backend. The postgres driver
// reads its connection settings from the POSTGRES_* environment.
type StorageConfig struct {
	Driver string `yaml:"driver"` // memory, postgres
}

// DownloadConfig contains transfer settings.
type DownloadConfig struct {
	// Dir is where finished files land when a transfer carries no
	// target path of its own.
	Dir string `yaml:"dir"`
	// TmpDir holds in-flight partial files.
	TmpDir string `yaml:"tmp_dir"`
	// Journal is the transport's task journal file.
	Journal string `yaml:"journal"`
	// Timeout bounds a single HTTP transfer, in seconds. 0 disables.
	Timeout int `yaml:"timeout"`
}

// Default returns a working single-node configuration.
func Default() *Config {
	cwd, _ := os.Getwd()
	return &Config{
		Server: ServerConfig{
			Addr:         ":9090",
			ReadTimeout:  15,
			WriteTimeout: 15,
			IdleTimeout:  120,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			File:       filepath.Join(cwd, "logs", "refetch.log"),
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Storage: StorageConfig{Driver: "memory"},
		Download: DownloadConfig{
			Dir:     filepath.Join(cwd, "downloads"),
			TmpDir:  os.TempDir(),
			Journal: filepath.Join(cwd, "refetch-journal.json"),
			Timeout: 0,
		},
	}
}

// Load reads the file at path, falling back to defaults when the file
// does not exist, then applies environment overrides and validates.
// An empty path consults REFETCH_CONFIG.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults apply.
		default:
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setStr("REFETCH_ADDR", &c.Server.Addr)
	setStr("REFETCH_LOG_LEVEL", &c.Log.Level)
	setStr("REFETCH_LOG_FORMAT", &c.Log.Format)
	setStr("REFETCH_LOG_OUTPUT", &c.Log.Output)
	setStr("REFETCH_LOG_FILE", &c.Log.File)
	setStr("REFETCH_STORAGE_DRIVER", &c.Storage.Driver)
	setStr("REFETCH_DOWNLOAD_DIR", &c.Download.Dir)
	setStr("REFETCH_TMP_DIR", &c.Download.TmpDir)
	setStr("REFETCH_JOURNAL", &c.Download.Journal)
	if v := os.Getenv("REFETCH_HTTP_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Download.Timeout = n
		}
	}
}

// Validate checks the configuration for values that would fail at
// runtime in less obvious ways.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server addr cannot be empty")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	switch c.Log.Output {
	case "stdout", "file", "both":
	default:
		return fmt.Errorf("invalid log output: %s", c.Log.Output)
	}
	if c.Log.Output != "stdout" && c.Log.File == "" {
		return fmt.Errorf("log file required for output %q", c.Log.Output)
	}
	switch c.Storage.Driver {
	case "memory", "postgres":
	default:
		return fmt.Errorf("invalid storage driver: %s", c.Storage.Driver)
	}
	if c.Download.Dir == "" {
		return fmt.Errorf("download dir cannot be empty")
	}
	if c.Download.Timeout < 0 {
		return fmt.Errorf("download timeout cannot be negative")
	}
	return nil
}

// SlogLevel maps the configured level to slog.
func (c *Config) SlogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
