// Package config loads process configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                string            `mapstructure:"PORT"`
	Env                 string            `mapstructure:"ENV"`
	LogLevel            string            `mapstructure:"LOG_LEVEL"`
	DatabaseURL         string            `mapstructure:"DATABASE_URL"`
	DBMaxConns          int32             `mapstructure:"DB_MAX_CONNS"`
	DBMinConns          int32             `mapstructure:"DB_MIN_CONNS"`
	KafkaBrokers        []string          `mapstructure:"-"`
	APIKeys             map[string]string `mapstructure:"-"`
	OTLPEndpoint        string            `mapstructure:"OTLP_ENDPOINT"`
	TracingEnabled      bool              `mapstructure:"TRACING_ENABLED"`
	TraceSampleRate     float64           `mapstructure:"TRACE_SAMPLE_RATE"`
	ExtractionSentinels []string          `mapstructure:"-"`
	ScheduleWindowDays  int               `mapstructure:"SCHEDULE_WINDOW_DAYS"`
	NarrativeBaseURL    string            `mapstructure:"NARRATIVE_BASE_URL"`
	NarrativeAPIKey     string            `mapstructure:"NARRATIVE_API_KEY"`
	NarrativeModel      string            `mapstructure:"NARRATIVE_MODEL"`
	NarrativeTimeout    time.Duration     `mapstructure:"NARRATIVE_TIMEOUT"`
	WorkerConcurrency   int               `mapstructure:"WORKER_CONCURRENCY"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"KAFKA_BROKERS", "API_KEYS", "OTLP_ENDPOINT", "TRACING_ENABLED", "TRACE_SAMPLE_RATE",
	"EXTRACTION_SENTINELS", "SCHEDULE_WINDOW_DAYS", "NARRATIVE_BASE_URL",
	"NARRATIVE_API_KEY", "NARRATIVE_MODEL", "NARRATIVE_TIMEOUT", "WORKER_CONCURRENCY",
}

// Load reads the configuration. DATABASE_URL is required.
func Load() (*Config, error) {
	cfg, err := LoadWithoutDatabase()
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

// LoadWithoutDatabase reads the configuration for commands that never open
// the database, such as offline extraction.
func LoadWithoutDatabase() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8081")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("TRACE_SAMPLE_RATE", 1.0)
	v.SetDefault("EXTRACTION_SENTINELS", "无抗生素推荐")
	v.SetDefault("SCHEDULE_WINDOW_DAYS", 30)
	v.SetDefault("NARRATIVE_TIMEOUT", "60s")
	v.SetDefault("WORKER_CONCURRENCY", 8)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.KafkaBrokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.ExtractionSentinels = splitList(v.GetString("EXTRACTION_SENTINELS"))
	keysByClient, err := parseAPIKeys(v.GetString("API_KEYS"))
	if err != nil {
		return nil, err
	}
	cfg.APIKeys = keysByClient

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.ScheduleWindowDays < 1 || c.ScheduleWindowDays > 365 {
		return fmt.Errorf("SCHEDULE_WINDOW_DAYS must be within 1..365, got %d", c.ScheduleWindowDays)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}
	if c.TracingEnabled && c.OTLPEndpoint == "" {
		return fmt.Errorf("OTLP_ENDPOINT is required when TRACING_ENABLED is true")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// NarrativeConfigured reports whether an external text service is set up.
func (c *Config) NarrativeConfigured() bool {
	return c.NarrativeBaseURL != ""
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseAPIKeys reads "key:client,key2:client2".
func parseAPIKeys(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range splitList(s) {
		key, client, ok := strings.Cut(pair, ":")
		key, client = strings.TrimSpace(key), strings.TrimSpace(client)
		if !ok || key == "" || client == "" {
			return nil, fmt.Errorf("API_KEYS entry %q must be key:client", pair)
		}
		out[key] = client
	}
	return out, nil
}
