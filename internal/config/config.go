// Package config reads service configuration from the environment and the
// operator registry from YAML.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/andenapp/anden/internal/ids"
)

//go:embed operators.yaml
var defaultOperators []byte

// Config holds all configuration for the service.
type Config struct {
	// Storage. DatabaseURL selects Postgres; SQLitePath is the fallback
	// for local development and tests.
	DatabaseURL string
	SQLitePath  string

	// HTTP boundary
	ListenAddr string
	AdminToken string

	// Real-time ingestion cadence
	PollInterval  time.Duration
	TickDeadline  time.Duration
	WorkerTimeout time.Duration
	FetchTimeout  time.Duration

	// Renfe visor platform fallback
	VisorBaseURL string
	VisorTimeout time.Duration

	// TMB iMetro credentials; the TMB worker is disabled when absent
	TMBAppID  string
	TMBAppKey string

	Timezone string

	Operators      []Operator
	StaticPrefixes []string
}

// OperatorURLs lists the feed endpoints of one operator.
type OperatorURLs struct {
	VehiclePositions string `yaml:"vehicle_positions"`
	TripUpdates      string `yaml:"trip_updates"`
	Alerts           string `yaml:"alerts"`
	Predictions      string `yaml:"predictions"`
}

// Operator is one entry of the registry.
type Operator struct {
	Code                string       `yaml:"code"`
	Name                string       `yaml:"name"`
	Prefix              string       `yaml:"prefix"`
	PrefixTrips         bool         `yaml:"prefix_trips"`
	Feed                string       `yaml:"feed"`
	Platform            string       `yaml:"platform"`
	RequiresCredentials bool         `yaml:"requires_credentials"`
	Disabled            bool         `yaml:"disabled"`
	URLs                OperatorURLs `yaml:"urls"`
}

// Feed kinds.
const (
	FeedGTFSRT      = "gtfs_rt"
	FeedRenfeJSON   = "renfe_json"
	FeedPredictions = "predictions"
)

// Platform extraction rules.
const (
	PlatformNone      = "none"
	PlatformLabel     = "label"
	PlatformStopID    = "stop_id"
	PlatformDirection = "direction"
	PlatformField     = "field"
)

type registry struct {
	StaticPrefixes []string   `yaml:"static_prefixes"`
	Operators      []Operator `yaml:"operators"`
}

// Load reads configuration from environment variables with sensible
// defaults, then loads and validates the operator registry.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SQLitePath:  getEnv("SQLITE_DATABASE", "/data/anden.db"),

		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),
		AdminToken: getEnv("ADMIN_TOKEN", ""),

		PollInterval:  time.Duration(getEnvInt("POLL_INTERVAL", 30)) * time.Second,
		TickDeadline:  time.Duration(getEnvInt("TICK_DEADLINE", 60)) * time.Second,
		WorkerTimeout: time.Duration(getEnvInt("WORKER_TIMEOUT", 45)) * time.Second,
		FetchTimeout:  time.Duration(getEnvInt("FETCH_TIMEOUT", 30)) * time.Second,

		VisorBaseURL: getEnv("RENFE_VISOR_URL", "https://tiempo-real.renfe.com/renfe-json-cutter/write/salidas/estacion"),
		VisorTimeout: time.Duration(getEnvInt("VISOR_TIMEOUT", 10)) * time.Second,

		TMBAppID:  getEnv("TMB_APP_ID", ""),
		TMBAppKey: getEnv("TMB_APP_KEY", ""),

		Timezone: getEnv("TZ_OVERRIDE", "Europe/Madrid"),
	}

	reg, err := loadRegistry(getEnv("OPERATORS_FILE", ""))
	if err != nil {
		return nil, err
	}
	cfg.Operators = reg.Operators
	cfg.StaticPrefixes = reg.StaticPrefixes
	cfg.applyURLOverrides()

	for _, op := range cfg.Operators {
		if op.Code == "" || op.Prefix == "" || op.Feed == "" {
			return nil, fmt.Errorf("config: operator entry missing code, prefix or feed: %+v", op)
		}
	}
	return cfg, nil
}

func loadRegistry(path string) (*registry, error) {
	data := defaultOperators
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read operators file: %w", err)
		}
		data = b
	}
	var reg registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("config: parse operators registry: %w", err)
	}
	return &reg, nil
}

// applyURLOverrides lets <CODE>_<FEED>_URL env vars replace registry URLs,
// e.g. RENFE_TRIP_UPDATES_URL or METRO_BILBAO_ALERTS_URL.
func (c *Config) applyURLOverrides() {
	for i := range c.Operators {
		code := strings.ToUpper(c.Operators[i].Code)
		if v := os.Getenv(code + "_VEHICLE_POSITIONS_URL"); v != "" {
			c.Operators[i].URLs.VehiclePositions = v
		}
		if v := os.Getenv(code + "_TRIP_UPDATES_URL"); v != "" {
			c.Operators[i].URLs.TripUpdates = v
		}
		if v := os.Getenv(code + "_ALERTS_URL"); v != "" {
			c.Operators[i].URLs.Alerts = v
		}
		if v := os.Getenv(code + "_PREDICTIONS_URL"); v != "" {
			c.Operators[i].URLs.Predictions = v
		}
	}
}

// IDRules converts an operator entry to the normalizer's view of it.
func (op Operator) IDRules() ids.Operator {
	return ids.Operator{Code: op.Code, Prefix: op.Prefix, PrefixTrips: op.PrefixTrips}
}

// HasCredentials reports whether a credential-gated operator can run.
func (c *Config) HasCredentials(op Operator) bool {
	if !op.RequiresCredentials {
		return true
	}
	return c.TMBAppID != "" && c.TMBAppKey != ""
}

// KnownPrefixes returns every canonical namespace prefix: the configured
// operators plus static-only networks that never appear in live feeds.
func (c *Config) KnownPrefixes() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, op := range c.Operators {
		add(op.Prefix)
	}
	for _, p := range c.StaticPrefixes {
		add(p)
	}
	return out
}

// Location resolves the configured timezone, defaulting to Europe/Madrid.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.FixedZone("CET", 3600)
	}
	return loc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
