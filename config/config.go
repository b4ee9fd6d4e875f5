package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Scheduling strategies accepted by Config.Scheduler.
const (
	SchedulerPool = "pool"
	SchedulerTask = "task"
)

// Output formats accepted by Config.OutputFormat.
const (
	FormatJSONL  = "jsonl"
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
)

// DefaultUserAgent is used when identity rotation is disabled or the
// configured pool is empty.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36"

// Config holds engine configuration. It is built once per orchestrator and
// read-only afterward.
type Config struct {
	Concurrency      int           `yaml:"concurrency"`
	MaxRequests      int           `yaml:"max_requests"`
	RateWindow       time.Duration `yaml:"rate_window"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryBackoff     time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax  time.Duration `yaml:"retry_backoff_max"`
	RespectRobotsTxt bool          `yaml:"respect_robots_txt"`
	RotateIdentities bool          `yaml:"rotate_identities"`
	RotateProxies    bool          `yaml:"rotate_proxies"`
	UserAgents       []string      `yaml:"user_agents"`
	Proxies          []string      `yaml:"proxies"`
	Scheduler        string        `yaml:"scheduler"` // pool or task
	OutputFile       string        `yaml:"output_file"`
	OutputFormat     string        `yaml:"output_format"` // jsonl, csv, or sqlite
	EnableCaching    bool          `yaml:"enable_caching"`
	CacheTTL         time.Duration `yaml:"cache_ttl"`
	MaxPages         int           `yaml:"max_pages"`
	FollowRedirects  bool          `yaml:"follow_redirects"`
	VerifySSL        bool          `yaml:"verify_ssl"`
	KeepContent      bool          `yaml:"keep_content"`
	Verbose          bool          `yaml:"verbose"`
	MetricsAddr      string        `yaml:"metrics_addr"`
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() *Config {
	return &Config{
		Concurrency:      10,
		MaxRequests:      10,
		RateWindow:       time.Second,
		Timeout:          30 * time.Second,
		MaxRetries:       3,
		RetryBackoff:     2 * time.Second,
		RetryBackoffMax:  30 * time.Second,
		RespectRobotsTxt: true,
		RotateIdentities: true,
		RotateProxies:    false,
		Scheduler:        SchedulerPool,
		OutputFile:       "output/results.jsonl",
		OutputFormat:     FormatJSONL,
		EnableCaching:    false,
		CacheTTL:         time.Hour,
		MaxPages:         1000,
		FollowRedirects:  true,
		VerifySSL:        true,
		KeepContent:      false,
		Verbose:          false,
	}
}

// Load reads a YAML configuration file on top of the defaults.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.MaxRequests <= 0 {
		return fmt.Errorf("max requests must be positive")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("rate window must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.Scheduler != SchedulerPool && c.Scheduler != SchedulerTask {
		return fmt.Errorf("scheduler must be %s or %s", SchedulerPool, SchedulerTask)
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	switch c.OutputFormat {
	case FormatJSONL, FormatCSV, FormatSQLite:
	default:
		return fmt.Errorf("output format must be %s, %s, or %s", FormatJSONL, FormatCSV, FormatSQLite)
	}
	if c.EnableCaching && c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive when caching is enabled")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	for _, proxy := range c.Proxies {
		parsed, err := url.Parse(proxy)
		if err != nil {
			return fmt.Errorf("invalid proxy %q: %w", proxy, err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("proxy %q must include a host", proxy)
		}
	}
	return nil
}

// EnvInt reads an integer environment variable. The boolean reports whether
// the variable was set.
func EnvInt(name string) (int, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", name, err)
	}
	return value, true, nil
}

// EnvString reads a string environment variable.
func EnvString(name string) (string, bool) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return "", false
	}
	return raw, true
}

// EnvBool reads a boolean environment variable.
func EnvBool(name string) (bool, bool, error) {
	raw, ok := os.LookupEnv(name)
	if !ok || raw == "" {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", name, err)
	}
	return value, true, nil
}
