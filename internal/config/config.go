package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/aqi-watch/internal/models"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort string
	LogLevel   string

	OpenAQAPIKey  string
	OpenAQAPIURL  string
	OpenAQTimeout time.Duration

	GeocoderURL       string
	GeocoderTimeout   time.Duration
	GeocoderUserAgent string

	RequestTimeout time.Duration
	Freshness      time.Duration
	CacheRetention time.Duration
	CacheBackend   string // "memory" or "memcached"

	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	BatchSize       int
	BatchPause      time.Duration
	RefreshSchedule string

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ReportStoreDSN       string
	ReportWebhookURL     string
	ReportWebhookTimeout time.Duration

	KafkaBrokers       []string
	KafkaReadingsTopic string
	KafkaReportsTopic  string

	ShutdownTimeout     time.Duration
	DegradedWindow      time.Duration
	DegradedFallbackPct int

	Cities        []models.City
	TrackedCities []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`

	OpenAQ struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"openaq"`

	Geocoder struct {
		URL       string `yaml:"url"`
		Timeout   string `yaml:"timeout"`
		UserAgent string `yaml:"user_agent"`
	} `yaml:"geocoder"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		Freshness string `yaml:"freshness"`
		Retention string `yaml:"retention"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Batch struct {
		Size  int    `yaml:"size"`
		Pause string `yaml:"pause"`
	} `yaml:"batch"`

	Refresh struct {
		Schedule string `yaml:"schedule"`
	} `yaml:"refresh"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Reports struct {
		StoreDSN       string `yaml:"store_dsn"`
		WebhookURL     string `yaml:"webhook_url"`
		WebhookTimeout string `yaml:"webhook_timeout"`
	} `yaml:"reports"`

	Kafka struct {
		Brokers       string `yaml:"brokers"`
		ReadingsTopic string `yaml:"readings_topic"`
		ReportsTopic  string `yaml:"reports_topic"`
	} `yaml:"kafka"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow      string `yaml:"degraded_window"`
		DegradedFallbackPct int    `yaml:"degraded_fallback_pct"`
	} `yaml:"health"`

	Cities []models.City `yaml:"cities"`

	Metrics struct {
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	OpenAQAPIKey string `yaml:"openaq_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) relative
// to the working directory. Call from project root.
func Load() (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "config", env+".yaml"))
}

// LoadFile reads configuration from path. An optional secrets.yaml next to it
// supplies the OpenAQ key when OPENAQ_API_KEY is unset.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := &Config{}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	cfg.LogLevel = envOr("LOG_LEVEL", fc.Log.Level)

	cfg.OpenAQAPIKey = os.Getenv("OPENAQ_API_KEY")
	if cfg.OpenAQAPIKey == "" {
		key, err := loadAPIKeyFromSecrets(filepath.Join(filepath.Dir(path), "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.OpenAQAPIKey = key
	}
	cfg.OpenAQAPIURL = fc.OpenAQ.URL
	if cfg.OpenAQAPIURL == "" {
		cfg.OpenAQAPIURL = "https://api.openaq.org/v2"
	}
	cfg.OpenAQTimeout = parseDurationOrZero(fc.OpenAQ.Timeout, 10*time.Second)

	cfg.GeocoderURL = fc.Geocoder.URL
	if cfg.GeocoderURL == "" {
		cfg.GeocoderURL = "https://nominatim.openstreetmap.org"
	}
	cfg.GeocoderTimeout = parseDurationOrZero(fc.Geocoder.Timeout, 5*time.Second)
	cfg.GeocoderUserAgent = fc.Geocoder.UserAgent
	if cfg.GeocoderUserAgent == "" {
		cfg.GeocoderUserAgent = "VayuSuraksha/1.0"
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)
	cfg.Freshness = parseDuration(fc.Cache.Freshness, 5*time.Minute)
	cfg.CacheRetention = parseDuration(fc.Cache.Retention, time.Hour)
	cfg.CacheBackend = strings.ToLower(envOr("CACHE_BACKEND", fc.Cache.Backend))
	if cfg.CacheBackend == "" {
		cfg.CacheBackend = "memory"
	}
	cfg.MemcachedAddrs = envOr("MEMCACHED_ADDRS", fc.Cache.Memcached.Addrs)
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.BatchSize = fc.Batch.Size
	if fc.Batch.Size == 0 {
		cfg.BatchSize = 5
	}
	cfg.BatchPause = parseDurationOrZero(fc.Batch.Pause, time.Second)
	cfg.RefreshSchedule = strings.TrimSpace(fc.Refresh.Schedule)
	if cfg.RefreshSchedule == "" {
		cfg.RefreshSchedule = "@every 5m"
	}

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.ReportStoreDSN = envOr("REPORT_STORE_DSN", fc.Reports.StoreDSN)
	if cfg.ReportStoreDSN == "" {
		cfg.ReportStoreDSN = "data/reports.db"
	}
	cfg.ReportWebhookURL = envOr("REPORT_WEBHOOK_URL", fc.Reports.WebhookURL)
	cfg.ReportWebhookTimeout = parseDuration(fc.Reports.WebhookTimeout, 5*time.Second)

	cfg.KafkaBrokers = splitList(envOr("KAFKA_BROKERS", fc.Kafka.Brokers))
	cfg.KafkaReadingsTopic = fc.Kafka.ReadingsTopic
	if cfg.KafkaReadingsTopic == "" {
		cfg.KafkaReadingsTopic = "aqi.readings"
	}
	cfg.KafkaReportsTopic = fc.Kafka.ReportsTopic
	if cfg.KafkaReportsTopic == "" {
		cfg.KafkaReportsTopic = "aqi.reports"
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedFallbackPct = fc.Health.DegradedFallbackPct
	if cfg.DegradedFallbackPct <= 0 {
		cfg.DegradedFallbackPct = 50
	}

	cfg.Cities = fc.Cities
	if len(cfg.Cities) == 0 {
		cfg.Cities = append([]models.City(nil), models.DefaultCities...)
	}
	cfg.TrackedCities = fc.Metrics.TrackedCities

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CityNames returns the configured city names in order.
func (c *Config) CityNames() []string {
	names := make([]string, len(c.Cities))
	for i, city := range c.Cities {
		names[i] = city.Name
	}
	return names
}

func loadAPIKeyFromSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return sec.OpenAQAPIKey, nil
}

// envOr returns the trimmed env var name if set, else the trimmed fallback.
func envOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return strings.TrimSpace(fallback)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// RequestTimeout is raised above OpenAQTimeout when needed.
func validate(cfg *Config) error {
	if cfg.OpenAQTimeout <= 0 {
		return fmt.Errorf("openaq.timeout must be positive")
	}
	if cfg.GeocoderTimeout <= 0 {
		return fmt.Errorf("geocoder.timeout must be positive")
	}
	if cfg.BatchSize < 1 {
		return fmt.Errorf("batch.size must be at least 1, got %d", cfg.BatchSize)
	}
	if cfg.BatchPause < 0 {
		return fmt.Errorf("batch.pause must not be negative")
	}
	if cfg.RequestTimeout <= cfg.OpenAQTimeout {
		cfg.RequestTimeout = cfg.OpenAQTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.DegradedFallbackPct > 100 {
		return fmt.Errorf("health.degraded_fallback_pct must be at most 100, got %d", cfg.DegradedFallbackPct)
	}
	for i, c := range cfg.Cities {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("cities[%d]: name is required", i)
		}
	}
	return nil
}
