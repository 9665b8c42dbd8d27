package logger

import (
	"errors"
	"slices"
	"strings"
)

var validLevels = []string{"debug", "info", "warn", "error", "dpanic", "panic", "fatal"}

// Config defines the logger configuration
type Config struct {
	Level            string     `mapstructure:"level"`  // debug, info, warn, error
	Format           string     `mapstructure:"format"` // json, console
	Output           string     `mapstructure:"output"` // console, file, both
	File             FileConfig `mapstructure:"file"`
	EnableCaller     bool       `mapstructure:"enable_caller"`
	EnableStacktrace bool       `mapstructure:"enable_stacktrace"` // stacktrace at error level
}

// FileConfig configures the rotating file sink
type FileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxAge     int    `mapstructure:"max_age"`  // days
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:            "info",
		Format:           "json",
		Output:           "console",
		EnableCaller:     true,
		EnableStacktrace: true,
		File: FileConfig{
			Filename:   "logs/nanami.log",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			Compress:   true,
		},
	}
}

// Validate validates the logger configuration
func (c *Config) Validate() error {
	if !slices.Contains(validLevels, strings.ToLower(c.Level)) {
		return errors.New("invalid log level, must be one of: " + strings.Join(validLevels, ", "))
	}
	if c.Format != "json" && c.Format != "console" {
		return errors.New("invalid log format, must be 'json' or 'console'")
	}
	switch c.Output {
	case "console":
		return nil
	case "file", "both":
		return c.File.validate()
	default:
		return errors.New("invalid log output, must be 'console', 'file' or 'both'")
	}
}

func (f *FileConfig) validate() error {
	if f.Filename == "" {
		return errors.New("log file filename is required when output is 'file' or 'both'")
	}
	if f.MaxSize <= 0 {
		return errors.New("log file max_size must be greater than 0")
	}
	if f.MaxAge <= 0 {
		return errors.New("log file max_age must be greater than 0")
	}
	if f.MaxBackups < 0 {
		return errors.New("log file max_backups must be greater than or equal to 0")
	}
	return nil
}
