// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Backend modes.
const (
	BackendNone      = "none"
	BackendWebSocket = "websocket"
	BackendGRPC      = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       slog.Level
	ExportedBy     string
	DefaultView    string
	EventBacklog   int

	Artifacts ArtifactConfig
	Archive   ArchiveConfig
	Backend   BackendConfig
	Timing    TimingConfig
}

// ArtifactConfig controls where module markup and style come from.
type ArtifactConfig struct {
	Dir          string // empty = embedded artifacts
	BaseURL      string // remote artifact host, overrides Dir
	Watch        bool
	Timeout      time.Duration
	RegistryPath string // optional YAML descriptor overrides
}

// ArchiveConfig controls the snapshot archive.
type ArchiveConfig struct {
	DBPath    string
	Retention time.Duration
}

// BackendConfig selects the native host transport.
type BackendConfig struct {
	Mode     string
	Addr     string
	Timeout  time.Duration
	DelayMin time.Duration
	DelayMax time.Duration
}

// TimingConfig holds the user-visible delays.
type TimingConfig struct {
	CommandDelay    time.Duration
	ConnectDelay    time.Duration
	DisconnectDelay time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),
		LogLevel:       getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		ExportedBy:     getEnv("EXPORTED_BY", "Smart Battery Tool v3.1.03"),
		DefaultView:    getEnv("DEFAULT_VIEW", "battery-info"),
		EventBacklog:   getEnvInt("EVENT_BACKLOG", 256),
		Artifacts: ArtifactConfig{
			Dir:          getEnv("ARTIFACT_DIR", ""),
			BaseURL:      getEnv("ARTIFACT_BASE_URL", ""),
			Watch:        getEnvBool("ARTIFACT_WATCH", false),
			Timeout:      getEnvDuration("ARTIFACT_TIMEOUT", 10*time.Second),
			RegistryPath: getEnv("REGISTRY_PATH", ""),
		},
		Archive: ArchiveConfig{
			DBPath:    getEnv("DB_PATH", "./data/shell.db"),
			Retention: getEnvDuration("ARCHIVE_RETENTION", 7*24*time.Hour),
		},
		Backend: BackendConfig{
			Mode:     strings.ToLower(getEnv("BACKEND_MODE", BackendNone)),
			Addr:     getEnv("BACKEND_ADDR", ""),
			Timeout:  getEnvDuration("BACKEND_TIMEOUT", 30*time.Second),
			DelayMin: getEnvDuration("SIM_DELAY_MIN", 500*time.Millisecond),
			DelayMax: getEnvDuration("SIM_DELAY_MAX", 1500*time.Millisecond),
		},
		Timing: TimingConfig{
			CommandDelay:    getEnvDuration("COMMAND_DELAY", 1500*time.Millisecond),
			ConnectDelay:    getEnvDuration("CONNECT_DELAY", 1500*time.Millisecond),
			DisconnectDelay: getEnvDuration("DISCONNECT_DELAY", 500*time.Millisecond),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DefaultView == "" {
		return fmt.Errorf("DEFAULT_VIEW cannot be empty")
	}
	if c.Archive.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.EventBacklog <= 0 {
		return fmt.Errorf("EVENT_BACKLOG must be > 0")
	}
	if c.Artifacts.Timeout <= 0 {
		return fmt.Errorf("ARTIFACT_TIMEOUT must be > 0")
	}
	if c.Artifacts.Watch && c.Artifacts.Dir == "" {
		return fmt.Errorf("ARTIFACT_WATCH requires ARTIFACT_DIR")
	}
	switch c.Backend.Mode {
	case BackendNone:
	case BackendWebSocket, BackendGRPC:
		if c.Backend.Addr == "" {
			return fmt.Errorf("BACKEND_ADDR is required for BACKEND_MODE=%s", c.Backend.Mode)
		}
	default:
		return fmt.Errorf("BACKEND_MODE must be one of none, websocket, grpc (got %q)", c.Backend.Mode)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must be > 0")
	}
	if c.Backend.DelayMax < c.Backend.DelayMin {
		return fmt.Errorf("SIM_DELAY_MAX must be >= SIM_DELAY_MIN")
	}
	return nil
}

// IsDevelopment returns true when any origin is accepted.
func (c *Config) IsDevelopment() bool {
	for _, o := range c.AllowedOrigins {
		if o == "*" || strings.Contains(o, "localhost") || strings.Contains(o, "127.0.0.1") {
			return true
		}
	}
	return len(c.AllowedOrigins) == 0
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
