package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/gustycube/baxter/internal/engine"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

const (
	StoreMemory = "memory"
	StoreFile   = "file"
	StoreRedis  = "redis"
	StoreSQL    = "sql"
)

// Config represents the complete configuration for baxter
type Config struct {
	// Core configuration
	Env            string   `yaml:"env" json:"env"`
	IntervalSec    int      `yaml:"interval_sec" json:"interval_sec"`
	ClusterMinimum int      `yaml:"cluster_minimum" json:"cluster_minimum"`
	WatchlistBan   int      `yaml:"watchlist_ban" json:"watchlist_ban"`
	MaxClusters    int      `yaml:"max_clusters" json:"max_clusters"`
	Concurrency    int      `yaml:"concurrency" json:"concurrency"`
	LogFiles       string   `yaml:"log_files" json:"log_files"`
	SkipLogCheck   bool     `yaml:"skip_log_check" json:"skip_log_check"`
	IgnoreIPs      []string `yaml:"ignore_ips" json:"ignore_ips"`
	IgnoreBots     []string `yaml:"ignore_bots" json:"ignore_bots"`

	Thresholds engine.Thresholds `yaml:"thresholds" json:"thresholds"`

	// Reputation provider
	APIKey            string  `yaml:"api_key" json:"api_key"`
	ReputationURL     string  `yaml:"reputation_url" json:"reputation_url"`
	MaxAgeDays        int     `yaml:"max_age_days" json:"max_age_days"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second"`
	DailyQuota        int     `yaml:"daily_quota" json:"daily_quota"`

	// Classification store
	Store       string `yaml:"store" json:"store"`
	StateDir    string `yaml:"state_dir" json:"state_dir"`
	RedisAddr   string `yaml:"redis_addr" json:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix" json:"redis_prefix"`
	DatabaseDSN string `yaml:"database_dsn" json:"database_dsn"`
	WeeklyReset string `yaml:"weekly_reset_day" json:"weekly_reset_day"`

	// Enforcement
	Queue          string `yaml:"queue" json:"queue"`
	QueueKey       string `yaml:"queue_key" json:"queue_key"`
	IPTablesPath   string `yaml:"iptables_path" json:"iptables_path"`
	EnforceRetries int    `yaml:"enforce_retries" json:"enforce_retries"`

	// Reporting
	Email        string `yaml:"email" json:"email"`
	SMTPAddr     string `yaml:"smtp_addr" json:"smtp_addr"`
	SMTPFrom     string `yaml:"smtp_from" json:"smtp_from"`
	ReportFormat string `yaml:"report_format" json:"report_format"`
	GeoIPDB      string `yaml:"geoip_db" json:"geoip_db"`

	// Observability
	MetricsAddr  string `yaml:"metrics_addr" json:"metrics_addr"`
	OTELEndpoint string `yaml:"otel_endpoint" json:"otel_endpoint"`
	OTELInsecure bool   `yaml:"otel_insecure" json:"otel_insecure"`
	OTELService  string `yaml:"otel_service" json:"otel_service"`
	LogLevel     string `yaml:"log_level" json:"log_level"`
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	if c.Env == "" {
		c.Env = EnvDev
	}
	c.Env = strings.ToLower(c.Env)
	if c.IntervalSec == 0 {
		c.IntervalSec = 300
	}
	if c.ClusterMinimum == 0 {
		c.ClusterMinimum = 35
	}
	if c.WatchlistBan == 0 {
		c.WatchlistBan = 4
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.LogFiles == "" {
		c.LogFiles = "/var/log/apache2/access*.log"
	}
	if c.IgnoreBots == nil {
		c.IgnoreBots = []string{"googlebot", "bingbot", "yandex", "duckduckgo", "slurp"}
	}
	c.Thresholds.SetDefaults()
	if c.ReputationURL == "" {
		c.ReputationURL = "https://api.abuseipdb.com/api/v2/check"
	}
	if c.MaxAgeDays == 0 {
		c.MaxAgeDays = 90
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = 2
	}
	if c.DailyQuota == 0 {
		c.DailyQuota = 1000
	}
	if c.Store == "" {
		c.Store = StoreFile
	}
	if c.StateDir == "" {
		c.StateDir = "."
	}
	if c.RedisPrefix == "" {
		c.RedisPrefix = "baxter"
	}
	if c.WeeklyReset == "" {
		c.WeeklyReset = "sunday"
	}
	if c.Queue == "" {
		c.Queue = StoreMemory
	}
	if c.QueueKey == "" {
		c.QueueKey = c.RedisPrefix + ":enforce"
	}
	if c.IPTablesPath == "" {
		c.IPTablesPath = "/sbin/iptables"
	}
	if c.EnforceRetries == 0 {
		c.EnforceRetries = 3
	}
	if c.ReportFormat == "" {
		c.ReportFormat = "text"
	}
	if c.OTELService == "" {
		c.OTELService = "baxter"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Env != EnvDev && c.Env != EnvProd {
		return fmt.Errorf("env must be %q or %q, got %q", EnvDev, EnvProd, c.Env)
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	if c.IntervalSec < 180 {
		return fmt.Errorf("interval_sec must be at least 180, a shorter interval is unlikely to conclude")
	}
	if c.ClusterMinimum < 1 {
		return fmt.Errorf("cluster_minimum must be at least 1")
	}
	if c.WatchlistBan < 1 {
		return fmt.Errorf("watchlist_ban must be at least 1")
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}
	if c.MaxClusters < 0 {
		return fmt.Errorf("max_clusters must not be negative")
	}
	if err := c.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}
	if c.DailyQuota < 1 {
		return fmt.Errorf("daily_quota must be at least 1")
	}
	if _, err := c.WeeklyResetDay(); err != nil {
		return err
	}
	switch c.Store {
	case StoreMemory, StoreFile:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis store")
		}
	case StoreSQL:
		if c.DatabaseDSN == "" {
			return fmt.Errorf("database_dsn is required for the sql store")
		}
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Queue {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis_addr is required for the redis queue")
		}
	default:
		return fmt.Errorf("unknown queue %q", c.Queue)
	}
	if c.Email != "" && c.SMTPAddr == "" {
		return fmt.Errorf("smtp_addr is required when email is set")
	}
	switch c.ReportFormat {
	case "text", "json", "csv":
	default:
		return fmt.Errorf("unknown report_format %q", c.ReportFormat)
	}
	if !c.SkipLogCheck {
		files, err := filepath.Glob(c.LogFiles)
		if err != nil {
			return fmt.Errorf("log_files: %w", err)
		}
		if len(files) == 0 {
			return fmt.Errorf("no files match log_files path %q", c.LogFiles)
		}
	}
	return nil
}

// Interval returns the pause between two runs.
func (c *Config) Interval() time.Duration {
	return time.Duration(c.IntervalSec) * time.Second
}

// Production reports whether bans are applied for real.
func (c *Config) Production() bool {
	return c.Env == EnvProd
}

// WeeklyResetDay parses WeeklyReset into a weekday.
func (c *Config) WeeklyResetDay() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.WeeklyReset) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("weekly_reset_day %q is not a weekday name", c.WeeklyReset)
}

// LoadFromFile loads configuration from a YAML or JSON file
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (use .yaml, .yml, or .json)", ext)
	}

	config.SetDefaults()
	return &config, nil
}

// MergeWithFlags merges command-line flags with file configuration
// Command-line flags take precedence over file configuration
func (c *Config) MergeWithFlags(flags map[string]interface{}) {
	if v, ok := flags["env"].(string); ok && v != "" {
		c.Env = strings.ToLower(v)
	}
	if v, ok := flags["interval_sec"].(int); ok && v > 0 {
		c.IntervalSec = v
	}
	if v, ok := flags["cluster_minimum"].(int); ok && v > 0 {
		c.ClusterMinimum = v
	}
	if v, ok := flags["watchlist_ban"].(int); ok && v > 0 {
		c.WatchlistBan = v
	}
	if v, ok := flags["max_clusters"].(int); ok && v > 0 {
		c.MaxClusters = v
	}
	if v, ok := flags["concurrency"].(int); ok && v > 0 {
		c.Concurrency = v
	}
	if v, ok := flags["log_files"].(string); ok && v != "" {
		c.LogFiles = v
	}
	if v, ok := flags["state_dir"].(string); ok && v != "" {
		c.StateDir = v
	}
	if v, ok := flags["store"].(string); ok && v != "" {
		c.Store = v
	}
	if v, ok := flags["metrics_addr"].(string); ok && v != "" {
		c.MetricsAddr = v
	}
	if v, ok := flags["otel_endpoint"].(string); ok && v != "" {
		c.OTELEndpoint = v
	}
	if v, ok := flags["otel_insecure"].(bool); ok {
		c.OTELInsecure = v
	}
	if v, ok := flags["otel_service"].(string); ok && v != "" {
		c.OTELService = v
	}
	if v, ok := flags["email"].(string); ok && v != "" {
		c.Email = v
	}
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("ABUSEIPDB_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("BAXTER_ENV"); v != "" {
		c.Env = strings.ToLower(v)
	}
	if v := os.Getenv("BAXTER_CLUSTER_MINIMUM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.ClusterMinimum = n
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("REDIS_QUEUE_KEY"); v != "" {
		c.QueueKey = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.DatabaseDSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
