package khala

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/dpotapov/go-khala/khtml"
)

// Config holds the settings of a template registry.
type Config struct {
	// TemplatesDir is the directory templates are loaded from. A relative path is resolved against
	// the directory of the configuration file.
	TemplatesDir string `yaml:"templates_dir"`

	// Extension is appended to template names to form file names.
	Extension string `yaml:"extension"`

	// SearchPath lists the directories inside TemplatesDir searched for templates, in order.
	SearchPath []string `yaml:"search_path"`

	SkipTags      []string `yaml:"skip_tags"`
	KnownTags     []string `yaml:"known_tags"`
	StripComments bool     `yaml:"strip_comments"`

	// Debug logs every compiled program.
	Debug bool `yaml:"debug"`

	// Watch recompiles templates when their files change.
	Watch bool `yaml:"watch"`

	Logging LoggingConfig `yaml:"logging"`

	// BaseDir is the directory of the configuration file.
	BaseDir string `yaml:"-"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Defaults returns a Config with sensible defaults
func Defaults() *Config {
	return &Config{
		TemplatesDir: "templates",
		Extension:    defaultExt,
		SearchPath:   []string{"."},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads a YAML configuration file. ${VAR} and ${VAR:-default} references are replaced
// with values from getenv before parsing.
func LoadConfig(path string, getenv func(string) string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := ParseConfig(interpolateEnv(data, getenv))
	if err != nil {
		return nil, err
	}

	cfg.BaseDir = filepath.Dir(absPath)
	if !filepath.IsAbs(cfg.TemplatesDir) {
		cfg.TemplatesDir = filepath.Join(cfg.BaseDir, cfg.TemplatesDir)
	}
	return cfg, nil
}

// ParseConfig decodes YAML on top of the defaults and validates the result. Unknown keys are
// rejected.
func ParseConfig(data []byte) (*Config, error) {
	cfg := Defaults()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envPattern matches ${VAR} or ${VAR:-default}
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// interpolateEnv replaces ${VAR} and ${VAR:-default} patterns with environment values.
func interpolateEnv(data []byte, getenv func(string) string) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		value := getenv(string(parts[1]))
		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			value = string(parts[2])
		}
		return []byte(value)
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.TemplatesDir == "" {
		errs = append(errs, "templates_dir is required")
	}
	if !strings.HasPrefix(c.Extension, ".") {
		errs = append(errs, fmt.Sprintf("invalid extension: %q (must start with a dot)", c.Extension))
	}
	for i, sp := range c.SearchPath {
		if !fs.ValidPath(sp) {
			errs = append(errs, fmt.Sprintf("search_path[%d]: %q is not a relative slash-separated path", i, sp))
		}
	}
	for i, tag := range c.SkipTags {
		if strings.TrimSpace(tag) == "" {
			errs = append(errs, fmt.Sprintf("skip_tags[%d]: empty tag name", i))
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be json or text)", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// CompileOptions converts the configuration into options for the compiler.
func (c *Config) CompileOptions(logger *slog.Logger) khtml.CompileOptions {
	return khtml.CompileOptions{
		SkipTags:      c.SkipTags,
		KnownTags:     c.KnownTags,
		StripComments: c.StripComments,
		Logger:        logger,
		Debug:         c.Debug,
	}
}
