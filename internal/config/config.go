package config

import (
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/spf13/viper"
)

// Supported persistence drivers.
const (
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverFile     = "file"
	DriverMemory   = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Store    StoreConfig    `mapstructure:"store"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
	Scan     ScanConfig     `mapstructure:"scan"`
	Autoscan AutoscanConfig `mapstructure:"autoscan"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Seed     SeedConfig     `mapstructure:"seed"`
}

// ServerConfig holds settings for the local control API.
type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, mysql, postgres, redis, file, memory
	DSN    string `mapstructure:"dsn"`    // connection string for sql and redis drivers
	Path   string `mapstructure:"path"`   // state file for the file driver
}

// CacheConfig holds the fetch validator cache configuration.
type CacheConfig struct {
	FilePath string        `mapstructure:"file_path"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // e.g., "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // e.g., "json", "console"
}

// ScanConfig tunes fetching, normalization and change classification.
type ScanConfig struct {
	Concurrency          int           `mapstructure:"concurrency"`
	FetchTimeout         time.Duration `mapstructure:"fetch_timeout"`
	MaxBodyBytes         int64         `mapstructure:"max_body_bytes"`
	UserAgent            string        `mapstructure:"user_agent"`
	PerHostRate          float64       `mapstructure:"per_host_rate"` // requests per second to a single host
	ContentSelector      string        `mapstructure:"content_selector"`
	StripSelectors       []string      `mapstructure:"strip_selectors"`
	IgnorePatterns       []string      `mapstructure:"ignore_patterns"`
	ChangeRatioThreshold float64       `mapstructure:"change_ratio_threshold"`
	MinChangedChars      int           `mapstructure:"min_changed_chars"`
}

// AutoscanConfig holds scheduler settings.
type AutoscanConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	Tick                   time.Duration `mapstructure:"tick"`
	DefaultIntervalMinutes int           `mapstructure:"default_interval_minutes"`
	MinIntervalMinutes     int           `mapstructure:"min_interval_minutes"`
}

// NotifyConfig holds notification sink settings.
type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// SeedConfig describes the page created on first run.
type SeedConfig struct {
	URL   string `mapstructure:"url"`
	Title string `mapstructure:"title"`
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	setDefaults()

	// Set up viper to read from config file
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/pagewatch/")
	viper.AddConfigPath("$HOME/.pagewatch")

	// Attempt to read the config file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
		// Config file not found; proceed with defaults and env vars
	}

	// Set up viper to read from environment variables
	viper.SetEnvPrefix("PAGEWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	return decode()
}

// Watch re-decodes the configuration whenever the config file changes and
// hands the result to onChange. Invalid configurations are passed to onError
// and otherwise ignored. It is a no-op when no config file was found.
func Watch(onChange func(*Config), onError func(error)) {
	if viper.ConfigFileUsed() == "" {
		return
	}
	viper.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := decode()
		if err != nil {
			onError(err)
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.allowed_origins", []string{"moz-extension://*", "chrome-extension://*"})
	viper.SetDefault("store.driver", DriverSQLite)
	viper.SetDefault("store.dsn", "pagewatch.db")
	viper.SetDefault("store.path", "pagewatch.json")
	viper.SetDefault("cache.file_path", "pagewatch-cache.db")
	viper.SetDefault("cache.ttl", 7*24*time.Hour)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("scan.concurrency", 4)
	viper.SetDefault("scan.fetch_timeout", 30*time.Second)
	viper.SetDefault("scan.max_body_bytes", 5<<20)
	viper.SetDefault("scan.user_agent", "pagewatch/1.0 (+https://github.com/pagewatch)")
	viper.SetDefault("scan.per_host_rate", 2.0)
	viper.SetDefault("scan.content_selector", "body")
	viper.SetDefault("scan.strip_selectors", []string{"script", "style", "noscript", "template", "svg"})
	viper.SetDefault("scan.ignore_patterns", []string{})
	viper.SetDefault("scan.change_ratio_threshold", 0.05)
	viper.SetDefault("scan.min_changed_chars", 20)
	viper.SetDefault("autoscan.enabled", true)
	viper.SetDefault("autoscan.tick", time.Minute)
	viper.SetDefault("autoscan.default_interval_minutes", 24*60)
	viper.SetDefault("autoscan.min_interval_minutes", 5)
	viper.SetDefault("notify.timeout", 10*time.Second)
	viper.SetDefault("seed.url", "https://example.com/")
	viper.SetDefault("seed.title", "Welcome to pagewatch")
}

func decode() (*Config, error) {
	// Unmarshal the config into the Config struct
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	return validation.Errors{
		"store":    c.Store.Validate(),
		"log":      c.Log.Validate(),
		"scan":     c.Scan.Validate(),
		"autoscan": c.Autoscan.Validate(),
		"notify":   c.Notify.Validate(),
		"seed":     c.Seed.Validate(),
	}.Filter()
}

// Validate checks the store section.
func (s StoreConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Driver, validation.Required,
			validation.In(DriverSQLite, DriverMySQL, DriverPostgres, DriverRedis, DriverFile, DriverMemory)),
		validation.Field(&s.DSN, validation.When(
			s.Driver == DriverSQLite || s.Driver == DriverMySQL || s.Driver == DriverPostgres || s.Driver == DriverRedis,
			validation.Required)),
		validation.Field(&s.Path, validation.When(s.Driver == DriverFile, validation.Required)),
	)
}

// Validate checks the log section.
func (l LogConfig) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Format, validation.In("json", "console")),
	)
}

// Validate checks the scan section.
func (s ScanConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Concurrency, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&s.FetchTimeout, validation.Required, validation.Min(time.Second)),
		validation.Field(&s.MaxBodyBytes, validation.Required, validation.Min(int64(1024))),
		validation.Field(&s.PerHostRate, validation.Min(0.0)),
		validation.Field(&s.ChangeRatioThreshold, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&s.MinChangedChars, validation.Min(0)),
	)
}

// Validate checks the autoscan section.
func (a AutoscanConfig) Validate() error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.Tick, validation.Required, validation.Min(time.Second)),
		validation.Field(&a.DefaultIntervalMinutes, validation.Required, validation.Min(1)),
		validation.Field(&a.MinIntervalMinutes, validation.Min(1)),
	)
}

// Validate checks the notify section.
func (n NotifyConfig) Validate() error {
	return validation.ValidateStruct(&n,
		validation.Field(&n.WebhookURL, is.URL),
	)
}

// Validate checks the seed section.
func (s SeedConfig) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.URL, validation.Required, is.URL),
	)
}
