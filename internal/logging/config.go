package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level  string            `koanf:"level" yaml:"level"`
	Format string            `koanf:"format" yaml:"format"`
	Caller bool              `koanf:"caller" yaml:"caller"`
	Fields map[string]string `koanf:"fields" yaml:"fields,omitempty"`
}

// NewDefaultConfig returns config with defaults suitable for a CLI.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "console",
	}
}

// Validate checks the level and format.
func (c *Config) Validate() error {
	if _, err := LevelFromString(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid format %q: must be json or console", c.Format)
	}
	return nil
}

// LevelFromString parses a level name. An empty name means info.
func LevelFromString(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug", "trace":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("invalid level %q", s)
}
