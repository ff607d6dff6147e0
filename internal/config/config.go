// Package config loads the ingester's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"civsphere/event-ingester/internal/dedup"
	"civsphere/event-ingester/internal/fetch"
	"civsphere/event-ingester/internal/importbuf"
	"civsphere/event-ingester/internal/logging"
	"civsphere/event-ingester/internal/model"
	"civsphere/event-ingester/internal/normalize"
	"civsphere/event-ingester/internal/sink"
	"civsphere/event-ingester/internal/source"
	"civsphere/event-ingester/internal/store"
)

// Environment variables consulted when an API key is not in the file.
const (
	EnvNewsAPIKey       = "INGESTER_NEWSAPI_KEY"
	EnvACLEDKey         = "INGESTER_ACLED_KEY"
	EnvACLEDEmail       = "INGESTER_ACLED_EMAIL"
	EnvEventRegistryKey = "INGESTER_EVENTREGISTRY_KEY"
	EnvGTAKey           = "INGESTER_GTA_KEY"
)

type StoreConfig struct {
	Driver   string `yaml:"driver"`    // memory, sqlite or postgres
	DSN      string `yaml:"dsn"`       // sqlite file or postgres URL
	LockPath string `yaml:"lock_path"` // single-writer lock for watch
}

type ScannerConfig struct {
	DedupMode   string        `yaml:"dedup_mode"`  // off, title_date_coords or auto
	DateFormat  string        `yaml:"date_format"` // auto, ISO, YYYY-MM-DD, DD/MM/YYYY, MM/DD/YYYY
	Tick        time.Duration `yaml:"tick"`        // auto-refresh poll period
	CommitMode  string        `yaml:"commit_mode"` // append or replace
	BatchSize   int           `yaml:"batch_size"`
	CommitDelay time.Duration `yaml:"commit_delay"`
	StatePath   string        `yaml:"state_path"` // persisted source backoff state
}

type HTTPConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	Retries    int           `yaml:"retries"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
	UserAgent  string        `yaml:"user_agent"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	CacheSize  int           `yaml:"cache_max_entries"`
	RateLimit  time.Duration `yaml:"rate_limit"` // per-host request spacing, 0 disables
}

type ClassifierConfig struct {
	Rules []normalize.KeywordRule `yaml:"rules"` // checked before the built-in tables
}

type MetricsConfig struct {
	Enable        bool   `yaml:"enable"`
	ListenAddress string `yaml:"listen_address"`
}

type Config struct {
	Log        logging.Options          `yaml:"log"`
	Store      StoreConfig              `yaml:"store"`
	Scanner    ScannerConfig            `yaml:"scanner"`
	HTTP       HTTPConfig               `yaml:"http"`
	Sources    []model.SourceDescriptor `yaml:"sources"`
	APIKeys    source.APIKeys           `yaml:"api_keys"`
	Categories []model.Category         `yaml:"categories"`
	Classifier ClassifierConfig         `yaml:"classifier"`
	Sinks      sink.Config              `yaml:"sinks"`
	Metrics    MetricsConfig            `yaml:"metrics"`
}

// DefaultSources are keyless public feeds used when none are configured.
func DefaultSources() []model.SourceDescriptor {
	return []model.SourceDescriptor{
		{ID: "gdelt", Type: "gdelt", Priority: 1, Interval: 15 * time.Minute},
		{ID: "reliefweb", Type: "reliefweb", Priority: 2, Interval: 30 * time.Minute},
	}
}

// Default returns a configuration that runs without a file.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads path, or returns the defaults when path is empty.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		c := Default()
		c.applyEnv()
		return c, c.Validate()
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML, then applies defaults, env fallbacks and validation.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	c.applyDefaults()
	c.applyEnv()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = store.DriverMemory
	}
	if c.Scanner.DedupMode == "" {
		c.Scanner.DedupMode = string(dedup.ModeAuto)
	}
	if c.Scanner.DateFormat == "" {
		c.Scanner.DateFormat = normalize.FormatAuto
	}
	if c.Scanner.Tick == 0 {
		c.Scanner.Tick = 15 * time.Second
	}
	if c.Scanner.CommitMode == "" {
		c.Scanner.CommitMode = importbuf.ModeAppend
	}
	if c.Scanner.BatchSize == 0 {
		c.Scanner.BatchSize = importbuf.DefaultBatchSize
	}
	if c.Scanner.CommitDelay == 0 {
		c.Scanner.CommitDelay = importbuf.DefaultDelay
	}
	if c.HTTP.Timeout == 0 {
		c.HTTP.Timeout = 15 * time.Second
	}
	if c.HTTP.Retries == 0 {
		c.HTTP.Retries = 2
	}
	if c.HTTP.Backoff == 0 {
		c.HTTP.Backoff = 500 * time.Millisecond
	}
	if c.HTTP.MaxBackoff == 0 {
		c.HTTP.MaxBackoff = 5 * time.Second
	}
	if c.HTTP.CacheTTL == 0 {
		c.HTTP.CacheTTL = 5 * time.Minute
	}
	if c.HTTP.CacheSize == 0 {
		c.HTTP.CacheSize = 1000
	}
	if len(c.Sources) == 0 {
		c.Sources = DefaultSources()
	}
	for i := range c.Sources {
		if c.Sources[i].Interval == 0 {
			c.Sources[i].Interval = 15 * time.Minute
		}
	}
	if len(c.Categories) == 0 {
		c.Categories = model.DefaultCategories()
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = ":9109"
	}
}

func (c *Config) applyEnv() {
	fill := func(dst *string, env string) {
		if *dst != "" {
			return
		}
		if v, ok := os.LookupEnv(env); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	fill(&c.APIKeys.NewsAPI, EnvNewsAPIKey)
	fill(&c.APIKeys.ACLEDKey, EnvACLEDKey)
	fill(&c.APIKeys.ACLEDEmail, EnvACLEDEmail)
	fill(&c.APIKeys.EventRegistry, EnvEventRegistryKey)
	fill(&c.APIKeys.GTA, EnvGTAKey)
}

var dateFormats = []string{
	normalize.FormatAuto, normalize.FormatISO, normalize.FormatYMD, normalize.FormatDMY, normalize.FormatMDY,
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := dedup.ParseMode(c.Scanner.DedupMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := importbuf.ParseMode(c.Scanner.CommitMode); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains(dateFormats, c.Scanner.DateFormat) {
		errs = append(errs, fmt.Errorf("unknown date format %q", c.Scanner.DateFormat))
	}
	if c.Scanner.Tick < 0 || c.Scanner.BatchSize < 0 || c.Scanner.CommitDelay < 0 {
		errs = append(errs, errors.New("scanner tick, batch size and commit delay must not be negative"))
	}
	switch c.Store.Driver {
	case store.DriverMemory:
	case store.DriverSQLite, store.DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store driver %s needs a dsn", c.Store.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store driver %q", c.Store.Driver))
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	seen := map[string]bool{}
	for i, s := range c.Sources {
		name := s.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i+1)
			errs = append(errs, fmt.Errorf("source %s: id is required", name))
		} else if seen[s.ID] {
			errs = append(errs, fmt.Errorf("duplicate source id %q", s.ID))
		}
		seen[s.ID] = true
		if !slices.Contains(source.Types, strings.ToLower(s.Type)) {
			errs = append(errs, fmt.Errorf("source %s: %w %q", name, source.ErrUnknownType, s.Type))
		}
		if s.Priority < 1 {
			errs = append(errs, fmt.Errorf("source %s: priority must be >= 1", name))
		}
		if s.Interval <= 0 {
			errs = append(errs, fmt.Errorf("source %s: interval must be > 0", name))
		}
	}
	for _, cat := range c.Categories {
		if strings.TrimSpace(cat.Name) == "" {
			errs = append(errs, errors.New("category name must not be empty"))
		}
	}
	return errors.Join(errs...)
}

// DedupMode is the validated dedup mode.
func (c *Config) DedupMode() dedup.Mode {
	m, _ := dedup.ParseMode(c.Scanner.DedupMode)
	return m
}

func (c *Config) NewClassifier() *normalize.KeywordClassifier {
	return normalize.NewKeywordClassifier(c.Classifier.Rules...)
}

func (c *Config) FetchOptions(log *zerolog.Logger) fetch.Options {
	return fetch.Options{
		Timeout:    c.HTTP.Timeout,
		Retries:    c.HTTP.Retries,
		Backoff:    c.HTTP.Backoff,
		MaxBackoff: c.HTTP.MaxBackoff,
		UserAgent:  c.HTTP.UserAgent,
		CacheTTL:   c.HTTP.CacheTTL,
		CacheSize:  c.HTTP.CacheSize,
		RateLimit:  c.HTTP.RateLimit,
		Logger:     log,
	}
}

func (c *Config) StoreOptions() store.Options {
	return store.Options{Driver: c.Store.Driver, DSN: c.Store.DSN, Categories: c.Categories}
}
