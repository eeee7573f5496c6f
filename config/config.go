package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zwldarren/ai-hedge-fund-sub000/errors"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "HEDGEFLOW"

// Transport values for the run event stream.
const (
	TransportSSE       = "sse"
	TransportWebSocket = "websocket"
)

// Config is the application configuration
type Config struct {
	Platform PlatformConfig `json:"platform"`
	NATS     NATSConfig     `json:"nats"`
	Engine   EngineConfig   `json:"engine"`
	HTTP     HTTPConfig     `json:"http"`
}

// PlatformConfig defines deployment identity
type PlatformConfig struct {
	ID          string `json:"id"`
	Environment string `json:"environment,omitempty"` // "prod", "dev", "test"
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty"`
	Password      string        `json:"password,omitempty"`
	Token         string        `json:"token,omitempty"`
}

// EngineConfig tunes the run engine: the remote job API, the stream
// transport and the timing of sweeps, grace windows and debounces.
type EngineConfig struct {
	APIBaseURL       string        `json:"api_base_url"`
	Transport        string        `json:"transport,omitempty"` // "sse" or "websocket"
	StaleAfter       time.Duration `json:"stale_after,omitempty"`
	SweepInterval    time.Duration `json:"sweep_interval,omitempty"`
	GraceWindow      time.Duration `json:"grace_window,omitempty"`
	AutosaveDebounce time.Duration `json:"autosave_debounce,omitempty"`
	SnapshotDebounce time.Duration `json:"snapshot_debounce,omitempty"`
	HistoryLimit     int           `json:"history_limit,omitempty"`
}

// HTTPConfig defines the service listen address
type HTTPConfig struct {
	Addr string `json:"addr,omitempty"`
}

// DefaultConfig returns a config with sane local-development defaults.
func DefaultConfig() *Config {
	return &Config{
		Platform: PlatformConfig{
			ID:          "hedgeflow-local",
			Environment: "dev",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Engine: EngineConfig{
			APIBaseURL:       "http://localhost:8000",
			Transport:        TransportSSE,
			StaleAfter:       2 * time.Minute,
			SweepInterval:    30 * time.Second,
			GraceWindow:      5 * time.Second,
			AutosaveDebounce: time.Second,
			SnapshotDebounce: 500 * time.Millisecond,
			HistoryLimit:     50,
		},
		HTTP: HTTPConfig{
			Addr: ":8090",
		},
	}
}

// Validate checks the config is usable
func (c *Config) Validate() error {
	if c.Platform.ID == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "platform.id is required")
	}
	if len(c.NATS.URLs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "nats.urls is required")
	}
	if c.Engine.APIBaseURL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "engine.api_base_url is required")
	}
	switch c.Engine.Transport {
	case TransportSSE, TransportWebSocket:
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			fmt.Sprintf("engine.transport must be %q or %q", TransportSSE, TransportWebSocket))
	}
	if c.Engine.StaleAfter <= 0 || c.Engine.SweepInterval <= 0 || c.Engine.GraceWindow <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "engine durations must be positive")
	}
	if c.Engine.SweepInterval > c.Engine.StaleAfter {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "engine.sweep_interval must not exceed engine.stale_after")
	}
	if c.Engine.AutosaveDebounce <= 0 || c.Engine.SnapshotDebounce <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "engine debounces must be positive")
	}
	if c.Engine.HistoryLimit <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate", "engine.history_limit must be positive")
	}
	if c.HTTP.Addr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate", "http.addr is required")
	}
	return nil
}

// Load reads a JSON config file, applies environment overrides and
// validates the result. Unset fields fall back to defaults first. An
// empty path loads defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := safeReadFile(path)
		if err != nil {
			return nil, errors.WrapFatal(err, "config", "Load", "read config file failed")
		}
		if err := validateJSONDepth(data); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "invalid JSON structure")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse config failed")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies HEDGEFLOW_* environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if val := envVal("PLATFORM_ID"); val != "" {
		cfg.Platform.ID = val
	}
	if val := envVal("PLATFORM_ENVIRONMENT"); val != "" {
		cfg.Platform.Environment = val
	}
	if val := envVal("NATS_URLS"); val != "" {
		cfg.NATS.URLs = splitList(val)
	}
	if val := envVal("NATS_USERNAME"); val != "" {
		cfg.NATS.Username = val
	}
	if val := envVal("NATS_PASSWORD"); val != "" {
		cfg.NATS.Password = val
	}
	if val := envVal("NATS_TOKEN"); val != "" {
		cfg.NATS.Token = val
	}
	if val := envVal("API_BASE_URL"); val != "" {
		cfg.Engine.APIBaseURL = val
	}
	if val := envVal("TRANSPORT"); val != "" {
		cfg.Engine.Transport = val
	}
	if val := envVal("HTTP_ADDR"); val != "" {
		cfg.HTTP.Addr = val
	}
	if val := envVal("HISTORY_LIMIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			cfg.Engine.HistoryLimit = n
		}
	}
	if val := envVal("STALE_AFTER"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.StaleAfter = d
		}
	}
	if val := envVal("SWEEP_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.SweepInterval = d
		}
	}
	if val := envVal("GRACE_WINDOW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.GraceWindow = d
		}
	}
	if val := envVal("AUTOSAVE_DEBOUNCE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.AutosaveDebounce = d
		}
	}
	if val := envVal("SNAPSHOT_DEBOUNCE"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			cfg.Engine.SnapshotDebounce = d
		}
	}
}

func envVal(suffix string) string {
	val := os.Getenv(EnvPrefix + "_" + suffix)
	if len(val) > maxEnvVarLen {
		return ""
	}
	return val
}

func splitList(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ToJSON renders the config for debugging
func (c *Config) ToJSON() (string, error) {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
