package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PRICEPULSE_"

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"15s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"20s"`
		RateLimit       struct {
			Capacity     float64 `yaml:"capacity" default:"20"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"5"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Log struct {
		Level     string `yaml:"level" default:"info"`
		Format    string `yaml:"format" default:"json"`
		Output    string `yaml:"output" default:"stdout"`
		Collector struct {
			Enabled   bool          `yaml:"enabled"`
			Interval  time.Duration `yaml:"interval" default:"30s"`
			Threshold int           `yaml:"threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"log"`
	Storage struct {
		Type         string        `yaml:"type" default:"memory"`
		Driver       string        `yaml:"driver" default:"postgres"`
		DSN          string        `yaml:"dsn"`
		MaxOpenConns int           `yaml:"max_open_conns" default:"10"`
		MaxIdleConns int           `yaml:"max_idle_conns" default:"5"`
		ConnLifetime time.Duration `yaml:"conn_lifetime" default:"30m"`
	} `yaml:"storage"`
	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"pricepulse"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		MaxConnections   int           `yaml:"max_connections" default:"10"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
	} `yaml:"clickhouse"`
	Kafka struct {
		Enabled           bool     `yaml:"enabled"`
		Brokers           []string `yaml:"brokers"`
		AlertsTopic       string   `yaml:"alerts_topic" default:"pricepulse.alerts"`
		ObservationsTopic string   `yaml:"observations_topic" default:"pricepulse.observations"`
		LogsTopic         string   `yaml:"logs_topic" default:"pricepulse.logs"`
		RequiredAcks      int      `yaml:"required_acks" default:"-1"`
		Compression       string   `yaml:"compression" default:"snappy"`
		Consumer          struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"pricepulse"`
			Workers    int           `yaml:"workers" default:"4"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic" default:"pricepulse.observations.dlq"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	Redis struct {
		Enabled   bool   `yaml:"enabled"`
		Addr      string `yaml:"addr" default:"localhost:6379"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix" default:"pricepulse"`
	} `yaml:"redis"`
	Cache struct {
		IntelligenceTTL time.Duration `yaml:"intelligence_ttl" default:"2m"`
		MaxSize         int           `yaml:"max_size" default:"10000"`
	} `yaml:"cache"`
	Queue struct {
		Enabled    bool   `yaml:"enabled"`
		Name       string `yaml:"name" default:"intelligence"`
		Workers    int    `yaml:"workers" default:"2"`
		MaxRetries int    `yaml:"max_retries" default:"3"`
	} `yaml:"queue"`
	Tracking struct {
		DefaultIntervalMinutes int           `yaml:"default_interval_minutes" default:"60"`
		FetchTimeout           time.Duration `yaml:"fetch_timeout" default:"10s"`
		FetchRetries           int           `yaml:"fetch_retries" default:"2"`
		RetryBackoff           time.Duration `yaml:"retry_backoff" default:"500ms"`
		MaxConcurrentFetches   int           `yaml:"max_concurrent_fetches" default:"4"`
		LockTTL                time.Duration `yaml:"lock_ttl" default:"24h"`
		RestoreOnStart         bool          `yaml:"restore_on_start" default:"true"`
	} `yaml:"tracking"`
	Engine struct {
		MinimumMargin             float64       `yaml:"minimum_margin" default:"0.15"`
		HistoricalMargin          float64       `yaml:"historical_margin" default:"0.35"`
		HeadroomThreshold         float64       `yaml:"headroom_threshold" default:"0.05"`
		MarketTolerance           float64       `yaml:"market_tolerance" default:"0.01"`
		StaleAfter                time.Duration `yaml:"stale_after" default:"168h"`
		Window                    time.Duration `yaml:"window" default:"720h"`
		MinSamples                int           `yaml:"min_samples" default:"5"`
		HighConfidenceCompetitors int           `yaml:"high_confidence_competitors" default:"3"`
		FlatSlopeThreshold        float64       `yaml:"flat_slope_threshold" default:"0.5"`
		TopN                      int           `yaml:"top_n" default:"10"`
		PortfolioConcurrency      int           `yaml:"portfolio_concurrency" default:"8"`
	} `yaml:"engine"`
	Source struct {
		Type                 string            `yaml:"type" default:"static"`
		BaseURL              string            `yaml:"base_url"`
		Timeout              time.Duration     `yaml:"timeout" default:"10s"`
		Retries              int               `yaml:"retries" default:"2"`
		UserAgent            string            `yaml:"user_agent" default:"PricePulse/1.0"`
		PriceSelector        string            `yaml:"price_selector" default:"[itemprop=price]"`
		AvailabilitySelector string            `yaml:"availability_selector" default:"[itemprop=availability]"`
		Competitors          map[string]string `yaml:"competitors"`
		Seed                 int64             `yaml:"seed" default:"1"`
	} `yaml:"source"`
	Feed struct {
		Enabled        bool          `yaml:"enabled"`
		URL            string        `yaml:"url"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
		MaxRPS         int           `yaml:"max_rps" default:"5"`
		BufferSize     int           `yaml:"buffer_size" default:"1000"`
	} `yaml:"feed"`
}

// Default returns a config with every default tag applied.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads an optional .env file, the YAML file and then applies
// PRICEPULSE_* environment overrides. An empty path skips the YAML file.
func LoadWithEnv(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	c := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		c = loaded
	}

	c.applyEnv(os.LookupEnv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(envPrefix + key); ok && v != "" {
			*dst = strings.Split(v, ",")
		}
	}
	num := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("ENV", &c.Environment)
	num("PORT", &c.Server.Port)
	str("LOG_LEVEL", &c.Log.Level)
	str("STORAGE_TYPE", &c.Storage.Type)
	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("DATABASE_URL", &c.Storage.DSN)
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	flag("KAFKA_ENABLED", &c.Kafka.Enabled)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	flag("REDIS_ENABLED", &c.Redis.Enabled)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	flag("QUEUE_ENABLED", &c.Queue.Enabled)
	str("SOURCE_TYPE", &c.Source.Type)
	str("SOURCE_BASE_URL", &c.Source.BaseURL)
	flag("FEED_ENABLED", &c.Feed.Enabled)
	str("FEED_URL", &c.Feed.URL)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Storage.Type {
	case "memory":
	case "sql":
		if c.Storage.Driver != "postgres" && c.Storage.Driver != "sqlite" {
			return fmt.Errorf("storage.driver must be 'postgres' or 'sqlite', got '%s'", c.Storage.Driver)
		}
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for sql storage")
		}
	case "clickhouse":
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("clickhouse.host is required for clickhouse storage")
		}
	default:
		return fmt.Errorf("storage.type must be 'memory', 'sql' or 'clickhouse', got '%s'", c.Storage.Type)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Queue.Enabled && c.Queue.Workers <= 0 {
		return fmt.Errorf("queue.workers must be positive when queue is enabled")
	}
	switch c.Source.Type {
	case "static":
	case "http", "html":
		if c.Source.BaseURL == "" && len(c.Source.Competitors) == 0 {
			return fmt.Errorf("source.base_url or source.competitors is required for %s source", c.Source.Type)
		}
	default:
		return fmt.Errorf("source.type must be 'static', 'http' or 'html', got '%s'", c.Source.Type)
	}
	if c.Feed.Enabled && c.Feed.URL == "" {
		return fmt.Errorf("feed.url is required when feed is enabled")
	}
	if c.Engine.MinimumMargin < 0 || c.Engine.MinimumMargin >= 1 {
		return fmt.Errorf("engine.minimum_margin must be in [0,1), got %v", c.Engine.MinimumMargin)
	}
	if c.Engine.MinSamples <= 0 {
		return fmt.Errorf("engine.min_samples must be positive")
	}
	if c.Tracking.FetchTimeout <= 0 {
		return fmt.Errorf("tracking.fetch_timeout must be positive")
	}
	return nil
}
