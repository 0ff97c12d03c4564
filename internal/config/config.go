package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Defaults for the lookback windows used by zone and territory views.
const (
	DefaultEventLookback       = 24 * time.Hour
	DefaultActiveDroneLookback = time.Hour
	DefaultAreaCacheTTL        = 10 * time.Minute
	DefaultPort                = "5050"
	DefaultIngestRate          = 50
	DefaultIngestBurst         = 100
	DefaultEnrichConcurrency   = 8
)

var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL environment variable is required")
	ErrInvalidWindow      = errors.New("lookback windows must be positive")
)

// Config holds everything the engine needs at construction time.
type Config struct {
	// Store location (PostgreSQL/PostGIS DSN).
	DatabaseURL string
	Port        string

	// EventLookback scopes the events used for zone risk.
	EventLookback time.Duration
	// ActiveDroneLookback scopes which drones count as active in an area.
	ActiveDroneLookback time.Duration

	RedisAddress  string
	RedisPassword string
	RedisPrefix   string
	AreaCacheTTL  time.Duration

	IngestRate        float64
	IngestBurst       int
	EnrichConcurrency int

	// AllowedOrigins is the CORS allow-list of the HTTP boundary.
	AllowedOrigins []string
}

// fileConfig mirrors Config for the optional YAML overlay. Durations are
// strings ("24h", "90m") so the file stays readable.
type fileConfig struct {
	DatabaseURL         string   `yaml:"database_url"`
	Port                string   `yaml:"port"`
	EventLookback       string   `yaml:"event_lookback"`
	ActiveDroneLookback string   `yaml:"active_drone_lookback"`
	RedisAddress        string   `yaml:"redis_address"`
	RedisPassword       string   `yaml:"redis_password"`
	RedisPrefix         string   `yaml:"redis_prefix"`
	AreaCacheTTL        string   `yaml:"area_cache_ttl"`
	IngestRate          float64  `yaml:"ingest_rate"`
	IngestBurst         int      `yaml:"ingest_burst"`
	EnrichConcurrency   int      `yaml:"enrich_concurrency"`
	AllowedOrigins      []string `yaml:"allowed_origins"`
}

// Default returns a Config with every optional value at its default.
func Default() Config {
	return Config{
		Port:                DefaultPort,
		EventLookback:       DefaultEventLookback,
		ActiveDroneLookback: DefaultActiveDroneLookback,
		AreaCacheTTL:        DefaultAreaCacheTTL,
		IngestRate:          DefaultIngestRate,
		IngestBurst:         DefaultIngestBurst,
		EnrichConcurrency:   DefaultEnrichConcurrency,
	}
}

// Load reads .env.local (if present), then the environment, then the YAML
// file named by FIREWATCH_CONFIG (if set), and validates the result.
//
// Environment variables:
//   - DATABASE_URL: PostGIS DSN (required)
//   - PORT: listen port (default: 5050)
//   - EVENT_LOOKBACK: window for zone risk events (default: 24h)
//   - ACTIVE_DRONE_LOOKBACK: window for active drone counts (default: 1h)
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_PREFIX: territory area cache (disabled if address empty)
//   - AREA_CACHE_TTL: lifetime of cached territory areas (default: 10m)
//   - INGEST_RATE, INGEST_BURST: telemetry POST rate limit
//   - ENRICH_CONCURRENCY: parallel zone enrichments in list views (default: 8)
//   - CORS_ORIGINS: comma separated origins allowed to call the API
func Load() (Config, error) {
	_ = godotenv.Load(".env.local")

	cfg, err := LoadFromEnv()
	if err != nil {
		return Config{}, err
	}

	if path := strings.TrimSpace(os.Getenv("FIREWATCH_CONFIG")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := cfg.ApplyYAML(raw); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFromEnv builds a Config from environment variables on top of Default.
// It does not validate.
func LoadFromEnv() (Config, error) {
	cfg := Default()
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		cfg.Port = port
	}

	var err error
	if cfg.EventLookback, err = durationEnv("EVENT_LOOKBACK", cfg.EventLookback); err != nil {
		return Config{}, err
	}
	if cfg.ActiveDroneLookback, err = durationEnv("ACTIVE_DRONE_LOOKBACK", cfg.ActiveDroneLookback); err != nil {
		return Config{}, err
	}
	if cfg.AreaCacheTTL, err = durationEnv("AREA_CACHE_TTL", cfg.AreaCacheTTL); err != nil {
		return Config{}, err
	}

	cfg.RedisAddress = strings.TrimSpace(os.Getenv("REDIS_ADDRESS"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.RedisPrefix = strings.TrimSpace(os.Getenv("REDIS_PREFIX"))

	if v := os.Getenv("INGEST_RATE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INGEST_RATE value: %w", err)
		}
		cfg.IngestRate = f
	}
	if v := os.Getenv("INGEST_BURST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INGEST_BURST value: %w", err)
		}
		cfg.IngestBurst = n
	}
	if v := os.Getenv("ENRICH_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ENRICH_CONCURRENCY value: %w", err)
		}
		cfg.EnrichConcurrency = n
	}
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}
	return cfg, nil
}

// ApplyYAML overlays values present in a YAML document onto cfg.
func (c *Config) ApplyYAML(raw []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("decode yaml: %w", err)
	}

	if fc.DatabaseURL != "" {
		c.DatabaseURL = fc.DatabaseURL
	}
	if fc.Port != "" {
		c.Port = fc.Port
	}
	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"event_lookback", fc.EventLookback, &c.EventLookback},
		{"active_drone_lookback", fc.ActiveDroneLookback, &c.ActiveDroneLookback},
		{"area_cache_ttl", fc.AreaCacheTTL, &c.AreaCacheTTL},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s value: %w", d.name, err)
		}
		*d.dst = v
	}
	if fc.RedisAddress != "" {
		c.RedisAddress = fc.RedisAddress
	}
	if fc.RedisPassword != "" {
		c.RedisPassword = fc.RedisPassword
	}
	if fc.RedisPrefix != "" {
		c.RedisPrefix = fc.RedisPrefix
	}
	if fc.IngestRate > 0 {
		c.IngestRate = fc.IngestRate
	}
	if fc.IngestBurst > 0 {
		c.IngestBurst = fc.IngestBurst
	}
	if fc.EnrichConcurrency > 0 {
		c.EnrichConcurrency = fc.EnrichConcurrency
	}
	if len(fc.AllowedOrigins) > 0 {
		c.AllowedOrigins = fc.AllowedOrigins
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.EventLookback <= 0 || c.ActiveDroneLookback <= 0 {
		return ErrInvalidWindow
	}
	if c.EnrichConcurrency <= 0 {
		return fmt.Errorf("ENRICH_CONCURRENCY must be positive, got %d", c.EnrichConcurrency)
	}
	return nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", name, err)
	}
	return d, nil
}
