package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/xeptore/xmfetch/ratelimit"
	"github.com/xeptore/xmfetch/redact"
)

const CookieEnvName = "XIMALAYA_COOKIES"

type Config struct {
	Log      Log      `yaml:"log"`
	API      API      `yaml:"api"`
	Store    Store    `yaml:"store"`
	Resolver Resolver `yaml:"resolver"`
	Fetcher  Fetcher  `yaml:"fetcher"`
	Engine   Engine   `yaml:"engine"`
}

func (c *Config) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Dict("log", c.Log.ToDict()).
		Dict("api", c.API.ToDict()).
		Dict("store", c.Store.ToDict()).
		Dict("resolver", c.Resolver.ToDict()).
		Dict("fetcher", c.Fetcher.ToDict()).
		Dict("engine", c.Engine.ToDict())
}

func (c *Config) setDefaults() {
	c.Log.setDefaults()
	c.API.setDefaults()
	c.Store.setDefaults()
	c.Resolver.setDefaults()
	c.Fetcher.setDefaults()
	c.Engine.setDefaults()
}

func (c *Config) validate() error {
	if err := c.Log.validate(); nil != err {
		return fmt.Errorf("log config validation failed: %v", err)
	}

	if err := c.API.validate(); nil != err {
		return fmt.Errorf("api config validation failed: %v", err)
	}

	if err := c.Store.validate(); nil != err {
		return fmt.Errorf("store config validation failed: %v", err)
	}

	if err := c.Resolver.validate(); nil != err {
		return fmt.Errorf("resolver config validation failed: %v", err)
	}

	if err := c.Fetcher.validate(); nil != err {
		return fmt.Errorf("fetcher config validation failed: %v", err)
	}

	if err := c.Engine.validate(); nil != err {
		return fmt.Errorf("engine config validation failed: %v", err)
	}

	return nil
}

// Default returns a configuration with every section set to its defaults.
func Default() *Config {
	var conf Config
	conf.setDefaults()

	return &conf
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Log) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("level", c.Level).
		Str("format", c.Format)
}

func (c *Log) setDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}

	if c.Format == "" {
		c.Format = "pretty"
	}
}

func (c *Log) validate() error {
	if !slices.Contains([]string{"trace", "debug", "info", "warn", "error", "fatal", "panic"}, c.Level) {
		return fmt.Errorf(
			"level must be one of: trace, debug, info, warn, error, fatal, panic, got: %s",
			c.Level,
		)
	}

	if !slices.Contains([]string{"json", "pretty"}, c.Format) {
		return fmt.Errorf("format must be 'json' or 'pretty', got: %s", c.Format)
	}

	return nil
}

type API struct {
	Cookie      string   `yaml:"-"`
	UserAgent   string   `yaml:"user_agent"`
	Quality     int      `yaml:"quality"`
	Timeout     Duration `yaml:"timeout"`
	MinInterval Duration `yaml:"min_interval"`
	Proxy       Proxy    `yaml:"proxy"`
}

func (c *API) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("cookie", redact.Cookie(c.Cookie)).
		Str("user_agent", c.UserAgent).
		Int("quality", c.Quality).
		Str("timeout", c.Timeout.String()).
		Str("min_interval", c.MinInterval.String()).
		Dict("proxy", c.Proxy.ToDict())
}

func (c *API) setDefaults() {
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	}

	if c.Quality == 0 {
		c.Quality = 1
	}

	if c.Timeout.Duration == 0 {
		c.Timeout.Duration = 30 * time.Second
	}

	if c.MinInterval.Duration == 0 {
		c.MinInterval.Duration = 250 * time.Millisecond
	}
}

func (c *API) validate() error {
	if c.Quality < 0 {
		return errors.New("quality must be greater than 0")
	}

	if c.Timeout.Duration < 0 {
		return errors.New("timeout must be greater than 0")
	}

	if c.MinInterval.Duration < 0 {
		return errors.New("min_interval must be greater than 0")
	}

	if err := c.Proxy.validate(); nil != err {
		return fmt.Errorf("proxy config validation failed: %v", err)
	}

	return nil
}

type Proxy struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

func (c *Proxy) Enabled() bool {
	return len(c.Host) > 0 && c.Port > 0
}

func (c *Proxy) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("host", c.Host).
		Int("port", c.Port).
		Str("username", c.Username).
		Str("password", lo.Ternary(len(c.Password) > 0, redact.String(c.Password), ""))
}

func (c *Proxy) validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got: %d", c.Port)
	}

	if len(c.Host) > 0 && c.Port == 0 {
		return errors.New("port is required when host is set")
	}

	return nil
}

type Store struct {
	Path              string   `yaml:"path"`
	TrackTTL          Duration `yaml:"track_ttl"`
	VerifyAfter       Duration `yaml:"verify_after"`
	MaxVerifyFailures int      `yaml:"max_verify_failures"`
	PageTTL           Duration `yaml:"page_ttl"`
	ProbeTimeout      Duration `yaml:"probe_timeout"`
}

func (c *Store) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("path", c.Path).
		Str("track_ttl", c.TrackTTL.String()).
		Str("verify_after", c.VerifyAfter.String()).
		Int("max_verify_failures", c.MaxVerifyFailures).
		Str("page_ttl", c.PageTTL.String()).
		Str("probe_timeout", c.ProbeTimeout.String())
}

func (c *Store) setDefaults() {
	if c.Path == "" {
		c.Path = "./cache/track_cache.db"
	}

	if c.TrackTTL.Duration == 0 {
		c.TrackTTL.Duration = 24 * time.Hour
	}

	if c.VerifyAfter.Duration == 0 {
		c.VerifyAfter.Duration = 12 * time.Hour
	}

	if c.MaxVerifyFailures == 0 {
		c.MaxVerifyFailures = 3
	}

	if c.PageTTL.Duration == 0 {
		c.PageTTL.Duration = 6 * time.Hour
	}

	if c.ProbeTimeout.Duration == 0 {
		c.ProbeTimeout.Duration = 10 * time.Second
	}
}

func (c *Store) validate() error {
	if c.TrackTTL.Duration < 0 {
		return errors.New("track_ttl must be greater than 0")
	}

	if c.VerifyAfter.Duration < 0 {
		return errors.New("verify_after must be greater than 0")
	}

	if c.MaxVerifyFailures < 0 {
		return errors.New("max_verify_failures must be greater than 0")
	}

	if c.PageTTL.Duration < 0 {
		return errors.New("page_ttl must be greater than 0")
	}

	if c.ProbeTimeout.Duration < 0 {
		return errors.New("probe_timeout must be greater than 0")
	}

	return nil
}

type Resolver struct {
	MaxAttempts    int   `yaml:"max_attempts"`
	Pacing         Range `yaml:"pacing"`
	BlockedBackoff Range `yaml:"blocked_backoff"`
	ErrorBackoff   Range `yaml:"error_backoff"`
}

func (c *Resolver) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("max_attempts", c.MaxAttempts).
		Dict("pacing", c.Pacing.ToDict()).
		Dict("blocked_backoff", c.BlockedBackoff.ToDict()).
		Dict("error_backoff", c.ErrorBackoff.ToDict())
}

func (c *Resolver) setDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}

	c.Pacing.setDefaults(2*time.Second, 5*time.Second)
	c.BlockedBackoff.setDefaults(30*time.Second, 60*time.Second)
	c.ErrorBackoff.setDefaults(5*time.Second, 15*time.Second)
}

func (c *Resolver) validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}

	if err := c.Pacing.validate(); nil != err {
		return fmt.Errorf("pacing: %v", err)
	}

	if err := c.BlockedBackoff.validate(); nil != err {
		return fmt.Errorf("blocked_backoff: %v", err)
	}

	if err := c.ErrorBackoff.validate(); nil != err {
		return fmt.Errorf("error_backoff: %v", err)
	}

	return nil
}

type Fetcher struct {
	MaxAttempts int   `yaml:"max_attempts"`
	FastPacing  Range `yaml:"fast_pacing"`
	FullPacing  Range `yaml:"full_pacing"`
	FastBackoff Range `yaml:"fast_backoff"`
	FullBackoff Range `yaml:"full_backoff"`
}

func (c *Fetcher) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("max_attempts", c.MaxAttempts).
		Dict("fast_pacing", c.FastPacing.ToDict()).
		Dict("full_pacing", c.FullPacing.ToDict()).
		Dict("fast_backoff", c.FastBackoff.ToDict()).
		Dict("full_backoff", c.FullBackoff.ToDict())
}

func (c *Fetcher) setDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 2
	}

	c.FastPacing.setDefaults(500*time.Millisecond, 1500*time.Millisecond)
	c.FullPacing.setDefaults(1*time.Second, 3*time.Second)
	c.FastBackoff.setDefaults(5*time.Second, 10*time.Second)
	c.FullBackoff.setDefaults(10*time.Second, 20*time.Second)
}

func (c *Fetcher) validate() error {
	if c.MaxAttempts < 1 {
		return errors.New("max_attempts must be at least 1")
	}

	for name, r := range map[string]Range{
		"fast_pacing":  c.FastPacing,
		"full_pacing":  c.FullPacing,
		"fast_backoff": c.FastBackoff,
		"full_backoff": c.FullBackoff,
	} {
		if err := r.validate(); nil != err {
			return fmt.Errorf("%s: %v", name, err)
		}
	}

	return nil
}

type Engine struct {
	Concurrency int      `yaml:"concurrency"`
	BaseDelay   Duration `yaml:"base_delay"`
	MinDelay    Duration `yaml:"min_delay"`
	MaxDelay    Duration `yaml:"max_delay"`
}

func (c *Engine) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Int("concurrency", c.Concurrency).
		Str("base_delay", c.BaseDelay.String()).
		Str("min_delay", c.MinDelay.String()).
		Str("max_delay", c.MaxDelay.String())
}

func (c *Engine) setDefaults() {
	if c.Concurrency == 0 {
		c.Concurrency = 3
	}

	if c.BaseDelay.Duration == 0 {
		c.BaseDelay.Duration = 2 * time.Second
	}

	if c.MinDelay.Duration == 0 {
		c.MinDelay.Duration = 1 * time.Second
	}

	if c.MaxDelay.Duration == 0 {
		c.MaxDelay.Duration = 10 * time.Second
	}
}

func (c *Engine) validate() error {
	if c.Concurrency < 1 {
		return errors.New("concurrency must be at least 1")
	}

	if c.MinDelay.Duration > c.MaxDelay.Duration {
		return errors.New("min_delay must not exceed max_delay")
	}

	if c.BaseDelay.Duration < c.MinDelay.Duration || c.BaseDelay.Duration > c.MaxDelay.Duration {
		return errors.New("base_delay must be between min_delay and max_delay")
	}

	return nil
}

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return fmt.Errorf("failed to parse duration: %v", err)
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("failed to parse duration: %v", err)
	}

	d.Duration = parsed

	return nil
}

// Range is an inclusive [min, max] window a random wait is drawn from.
type Range struct {
	Min Duration `yaml:"min"`
	Max Duration `yaml:"max"`
}

func (r *Range) Window() ratelimit.Window {
	return ratelimit.Window{Min: r.Min.Duration, Max: r.Max.Duration}
}

func (r *Range) ToDict() *zerolog.Event {
	return zerolog.Dict().
		Str("min", r.Min.String()).
		Str("max", r.Max.String())
}

func (r *Range) setDefaults(lower, upper time.Duration) {
	if r.Min.Duration == 0 && r.Max.Duration == 0 {
		r.Min.Duration = lower
		r.Max.Duration = upper
	}
}

func (r *Range) validate() error {
	if r.Min.Duration < 0 {
		return errors.New("min must not be negative")
	}

	if r.Min.Duration > r.Max.Duration {
		return fmt.Errorf("min (%s) must not exceed max (%s)", r.Min, r.Max)
	}

	return nil
}

func Load(filename string) (*Config, error) {
	filename = lo.Ternary(len(filename) > 0, filename, "config.yaml")

	var conf Config
	data, err := os.ReadFile(filename)
	if nil != err {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %v", filename, err)
		}
	} else if err := yaml.Unmarshal(data, &conf); nil != err {
		return nil, fmt.Errorf("failed to parse config file %s: %v", filename, err)
	}

	conf.API.Cookie = os.Getenv(CookieEnvName)
	conf.setDefaults()

	if err := conf.validate(); nil != err {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return &conf, nil
}
