package config

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/hashicorp/go-hclog"
	"github.com/saylorsolutions/routelog/pkg/dsl"
	"github.com/saylorsolutions/routelog/pkg/entries"
	"github.com/saylorsolutions/routelog/pkg/router"
	"gopkg.in/yaml.v3"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalid = errors.New("invalid configuration")
)

const (
	ExtractRegex = "regex"
	ExtractJSON  = "json"
	ExtractCut   = "cut"
	ExtractNone  = "none"

	FormatAuto = "auto"
	FormatText = "text"
	FormatJSON = "json"

	DefaultPattern = `^(?P<timestamp>\S+)\s+(?P<source>\S+)\s+(?P<severity>[A-Z]+)\s+(?P<message>.*)$`
)

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExtractorConfig selects how the well-known fields of a line are found.
type ExtractorConfig struct {
	Kind string `yaml:"kind"`
	// Pattern is a regular expression with named groups, for the regex kind.
	Pattern string `yaml:"pattern"`
	// Fields are the top level keys to extract, for the json kind.
	Fields []string `yaml:"fields"`
	// Delimiter, Cut, and Remainder configure the cut kind.
	Delimiter string         `yaml:"delimiter"`
	Cut       map[string]int `yaml:"cut"`
	Remainder string         `yaml:"remainder"`
}

type SourceConfig struct {
	Kind string            `yaml:"kind"`
	Args map[string]string `yaml:"args"`
	// Name replaces the source name of each line, if set.
	Name string `yaml:"name"`
	// Join lists patterns that match the start of a new entry. Lines that don't match are joined to the previous line.
	Join []string `yaml:"join"`
	// Exclude lists patterns for lines that are dropped before they reach the rules.
	Exclude []string `yaml:"exclude"`
}

// Excluded compiles the Exclude patterns into a single check.
func (c SourceConfig) Excluded() (func(line string) bool, error) {
	if len(c.Exclude) == 0 {
		return nil, nil
	}
	patterns := make([]*regexp.Regexp, len(c.Exclude))
	for i, p := range c.Exclude {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		patterns[i] = re
	}
	return func(line string) bool {
		for _, re := range patterns {
			if re.MatchString(line) {
				return true
			}
		}
		return false
	}, nil
}

type DestinationConfig struct {
	Kind string            `yaml:"kind"`
	Args map[string]string `yaml:"args"`
}

type RouterConfig struct {
	QueueSize        int `yaml:"queue_size"`
	EnqueueTimeoutMs int `yaml:"enqueue_timeout_ms"`
	WriteTimeoutMs   int `yaml:"write_timeout_ms"`
	MaxRetries       int `yaml:"max_retries"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
}

type ReloadConfig struct {
	Watch      bool `yaml:"watch"`
	DebounceMs int  `yaml:"debounce_ms"`
}

type AdminConfig struct {
	// Listen is the address of the admin HTTP server. Empty disables it.
	Listen string `yaml:"listen"`
}

type Config struct {
	Rules        string                       `yaml:"rules"`
	Logging      LoggingConfig                `yaml:"logging"`
	Extractor    ExtractorConfig              `yaml:"extractor"`
	Sources      []SourceConfig               `yaml:"sources"`
	Destinations map[string]DestinationConfig `yaml:"destinations"`
	Router       RouterConfig                 `yaml:"router"`
	Reload       ReloadConfig                 `yaml:"reload"`
	Admin        AdminConfig                  `yaml:"admin"`
}

// Default returns the configuration used when no file is given: stdin as the only source, and no destinations.
func Default() *Config {
	cfg := Config{
		Router: RouterConfig{MaxRetries: router.DefaultOptions().MaxRetries},
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

// Load reads the YAML file at path, applies defaults and ROUTELOG_* environment overrides, and validates the result.
// A relative rules path is resolved against the directory of the config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := parse(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalid, path, err)
	}
	if cfg.Rules != "" && !filepath.IsAbs(cfg.Rules) {
		cfg.Rules = filepath.Join(filepath.Dir(path), cfg.Rules)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML configuration, applies defaults and environment overrides, and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(data []byte) (*Config, error) {
	cfg := Config{
		Router: RouterConfig{MaxRetries: router.DefaultOptions().MaxRetries},
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if strings.TrimSpace(cfg.Logging.Format) == "" {
		cfg.Logging.Format = FormatAuto
	}
	if cfg.Extractor.Kind == "" {
		cfg.Extractor.Kind = ExtractRegex
		if cfg.Extractor.Pattern == "" {
			cfg.Extractor.Pattern = DefaultPattern
		}
	}
	if cfg.Extractor.Kind == ExtractCut && cfg.Extractor.Delimiter == "" {
		cfg.Extractor.Delimiter = " "
	}
	if len(cfg.Sources) == 0 {
		cfg.Sources = []SourceConfig{{Kind: "std.In"}}
	}
	if cfg.Destinations == nil {
		cfg.Destinations = map[string]DestinationConfig{}
	}
	def := router.DefaultOptions()
	if cfg.Router.QueueSize <= 0 {
		cfg.Router.QueueSize = def.QueueSize
	}
	if cfg.Router.EnqueueTimeoutMs <= 0 {
		cfg.Router.EnqueueTimeoutMs = int(def.EnqueueTimeout / time.Millisecond)
	}
	if cfg.Router.WriteTimeoutMs <= 0 {
		cfg.Router.WriteTimeoutMs = int(def.WriteTimeout / time.Millisecond)
	}
	if cfg.Router.InitialBackoffMs <= 0 {
		cfg.Router.InitialBackoffMs = int(def.InitialBackoff / time.Millisecond)
	}
	if cfg.Router.MaxBackoffMs <= 0 {
		cfg.Router.MaxBackoffMs = int(def.MaxBackoff / time.Millisecond)
	}
	if cfg.Reload.DebounceMs <= 0 {
		cfg.Reload.DebounceMs = 300
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("ROUTELOG_RULES")); v != "" {
		cfg.Rules = v
	}
	if v := strings.TrimSpace(os.Getenv("ROUTELOG_LOG_LEVEL")); v != "" {
		cfg.Logging.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("ROUTELOG_LOG_FORMAT")); v != "" {
		cfg.Logging.Format = v
	}
	if v, ok := os.LookupEnv("ROUTELOG_ADMIN_LISTEN"); ok {
		cfg.Admin.Listen = strings.TrimSpace(v)
	}
	cfg.Reload.Watch = envBool("ROUTELOG_RELOAD_WATCH", cfg.Reload.Watch)
	if n, ok := envInt("ROUTELOG_WRITE_TIMEOUT_MS"); ok && n > 0 {
		cfg.Router.WriteTimeoutMs = n
	}
}

func envInt(name string) (int, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Validate checks the configuration for values that can't work.
// It doesn't check that source and destination kinds exist, since that depends on the loaded plugins.
func (c *Config) Validate() error {
	if hclog.LevelFromString(c.Logging.Level) == hclog.NoLevel {
		return invalid("logging.level '%s' is not a log level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case FormatAuto, FormatText, FormatJSON:
	default:
		return invalid("logging.format must be one of %s, %s, %s", FormatAuto, FormatText, FormatJSON)
	}
	if _, err := c.Extractor.Build(); err != nil {
		return err
	}
	for i, src := range c.Sources {
		if strings.TrimSpace(src.Kind) == "" {
			return invalid("sources[%d].kind is required", i)
		}
		if _, err := src.Excluded(); err != nil {
			return invalid("sources[%d].exclude: %v", i, err)
		}
	}
	for _, name := range c.DestinationNames() {
		if !IsIdentifier(name) {
			return invalid("destination name '%s' can't be used in route(...)", name)
		}
		if strings.TrimSpace(c.Destinations[name].Kind) == "" {
			return invalid("destinations.%s.kind is required", name)
		}
	}
	if c.Router.MaxRetries < 0 {
		return invalid("router.max_retries must be >= 0")
	}
	if c.Router.MaxBackoffMs < c.Router.InitialBackoffMs {
		return invalid("router.max_backoff_ms must be >= router.initial_backoff_ms")
	}
	return nil
}

// IsIdentifier reports whether name lexes as a single identifier, so it can be written in a rule.
func IsIdentifier(name string) bool {
	tokens, err := dsl.Tokenize(name)
	if err != nil || len(tokens) != 2 {
		return false
	}
	return tokens[0].Kind == dsl.IDENT && tokens[0].Text == name
}

// DestinationNames lists the configured destination names, sorted.
func (c *Config) DestinationNames() []string {
	names := make([]string, 0, len(c.Destinations))
	for name := range c.Destinations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the configured entries.Extractor.
func (c ExtractorConfig) Build() (entries.Extractor, error) {
	switch c.Kind {
	case ExtractRegex:
		ex, err := entries.NewRegexExtractor(c.Pattern)
		if err != nil {
			return nil, invalid("extractor: %v", err)
		}
		return ex, nil
	case ExtractJSON:
		ex, err := entries.NewJSONExtractor(c.Fields...)
		if err != nil {
			return nil, invalid("extractor: %v", err)
		}
		return ex, nil
	case ExtractCut:
		spec := entries.NewCutCollectSpec()
		for field, idx := range c.Cut {
			if other, ok := spec[idx]; ok {
				return nil, invalid("extractor: fields '%s' and '%s' both cut index %d", other, field, idx)
			}
			spec.Map(field, idx)
		}
		ex, err := entries.NewCutExtractor(c.Delimiter, spec, c.Remainder)
		if err != nil {
			return nil, invalid("extractor: %v", err)
		}
		return ex, nil
	case ExtractNone:
		return entries.Nop{}, nil
	default:
		return nil, invalid("extractor.kind '%s' must be one of %s, %s, %s, %s", c.Kind, ExtractRegex, ExtractJSON, ExtractCut, ExtractNone)
	}
}

// Options converts the router settings to router.Options.
func (c RouterConfig) Options() router.Options {
	return router.Options{
		QueueSize:      c.QueueSize,
		EnqueueTimeout: time.Duration(c.EnqueueTimeoutMs) * time.Millisecond,
		WriteTimeout:   time.Duration(c.WriteTimeoutMs) * time.Millisecond,
		MaxRetries:     c.MaxRetries,
		InitialBackoff: time.Duration(c.InitialBackoffMs) * time.Millisecond,
		MaxBackoff:     time.Duration(c.MaxBackoffMs) * time.Millisecond,
	}
}

// Debounce is the delay between a rules file change and the reload it triggers.
func (c ReloadConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}
