package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wikilift/sle-suite-pro/pkg/card"
)

// DefaultPath is the config file looked up when no --config flag is given.
const DefaultPath = "slesuite.yaml"

type Config struct {
	Reader ReaderConfig `yaml:"reader"`
	Card   CardConfig   `yaml:"card"`
	Log    LogConfig    `yaml:"log"`
	Trace  bool         `yaml:"trace"`
}

type ReaderConfig struct {
	Index *int   `yaml:"index"`
	Name  string `yaml:"name"`
}

type CardConfig struct {
	Family   string `yaml:"family"`
	Fallback string `yaml:"fallback"`
	PINFile  string `yaml:"pin_file,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Card: CardConfig{Family: "auto", Fallback: card.SLE4442.String()},
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	// An empty document leaves the defaults untouched.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Reader.Index != nil && *c.Reader.Index < 0 {
		return fmt.Errorf("config.reader.index must be >= 0")
	}

	if _, err := c.Family(); err != nil {
		return fmt.Errorf("config.card.family: %w", err)
	}
	fallback, err := card.ParseFamily(c.Card.Fallback)
	if err != nil {
		return fmt.Errorf("config.card.fallback: %w", err)
	}
	if fallback == card.Unknown {
		return fmt.Errorf("config.card.fallback must name a card family")
	}

	if strings.TrimSpace(c.Card.PINFile) != "" {
		if err := validateReadableFile(c.Card.PINFile, "config.card.pin_file"); err != nil {
			return err
		}
	}

	if _, err := c.LogLevel(); err != nil {
		return fmt.Errorf("config.log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// Family returns the forced card family, card.Unknown for "auto" (detect).
func (c *Config) Family() (card.Family, error) {
	if strings.EqualFold(strings.TrimSpace(c.Card.Family), "auto") {
		return card.Unknown, nil
	}
	return card.ParseFamily(c.Card.Family)
}

// Fallback returns the family used when detection fails.
func (c *Config) Fallback() card.Family {
	f, err := card.ParseFamily(c.Card.Fallback)
	if err != nil || f == card.Unknown {
		return card.SLE4442
	}
	return f
}

// LogLevel parses log.level (debug, info, warn, error).
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, err
	}
	return level, nil
}

// PIN reads the hex encoded PIN from card.pin_file. It returns nil when no
// file is configured.
func (c *Config) PIN() ([]byte, error) {
	if strings.TrimSpace(c.Card.PINFile) == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(c.Card.PINFile)
	if err != nil {
		return nil, fmt.Errorf("config.card.pin_file: %w", err)
	}
	pin, err := hex.DecodeString(strings.Join(strings.Fields(string(raw)), ""))
	if err != nil {
		return nil, fmt.Errorf("config.card.pin_file: %w", err)
	}
	return pin, nil
}

func (c *Config) resolvePaths(configPath string) {
	c.Card.PINFile = resolvePath(filepath.Dir(configPath), c.Card.PINFile)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
