package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort      = 8080
	DefaultGRPCPort      = 50051
	DefaultMaxAge        = 10 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
	DefaultWSInterval    = 5 * time.Second
	DefaultHeader        = "x-api-key"
	DefaultPublicParam   = "access"
	DefaultPublicValue   = "status"
	DefaultCategoryA     = "seeds"
	DefaultCategoryB     = "gear"
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the stock API, WebSocket hub and metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// GRPCPort is the port of the gRPC ingestion endpoint. 0 disables it.
	GRPCPort int `yaml:"grpc_port"`

	Log    LogConfig    `yaml:"log"`
	Auth   AuthConfig   `yaml:"auth"`
	Store  StoreConfig  `yaml:"store"`
	Ingest IngestConfig `yaml:"ingest"`
	WS     WSConfig     `yaml:"ws"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// SlogLevel converts Level to a slog.Level. Unknown values map to info.
func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// AuthConfig controls the boundary filter.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the shared secret.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header (and gRPC metadata key) carrying the secret.
	Header string `yaml:"header"`

	// PublicParam and PublicValue form the query flag that lets GET requests
	// through without the secret, e.g. ?access=status.
	PublicParam string `yaml:"public_param"`
	PublicValue string `yaml:"public_value"`
}

// Key returns the shared secret resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// StoreConfig controls entry expiry.
type StoreConfig struct {
	// MaxAge is how long an entry stays live after its last update.
	MaxAge time.Duration `yaml:"max_age"`

	// SweepInterval is how often the background sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// IngestConfig names the two categories of a session batch.
type IngestConfig struct {
	Categories []string `yaml:"categories"`
}

// WSConfig controls the viewer push hub.
type WSConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML config data, applying defaults and validation.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			GRPCPort: DefaultGRPCPort,
			Log:      LogConfig{Level: "info"},
			Auth: AuthConfig{
				Mode:        "apikey",
				Header:      DefaultHeader,
				PublicParam: DefaultPublicParam,
				PublicValue: DefaultPublicValue,
			},
			Store: StoreConfig{
				MaxAge:        DefaultMaxAge,
				SweepInterval: DefaultSweepInterval,
			},
			Ingest: IngestConfig{Categories: []string{DefaultCategoryA, DefaultCategoryB}},
			WS:     WSConfig{Interval: DefaultWSInterval},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := &cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	if s.GRPCPort < 0 || s.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [0, 65535]", s.GRPCPort)
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("server.log.level %q unknown: want debug|info|warn|error", s.Log.Level)
	}
	switch s.Auth.Mode {
	case "apikey":
		if s.Auth.Key() == "" {
			return fmt.Errorf("server.auth.mode apikey needs key_env pointing at a non-empty variable")
		}
	case "none":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Auth.Header == "" {
		s.Auth.Header = DefaultHeader
	}
	if s.Auth.PublicParam != "" && s.Auth.PublicValue == "" {
		return fmt.Errorf("server.auth.public_value must be set when public_param is set")
	}
	if s.Store.MaxAge <= 0 {
		return fmt.Errorf("server.store.max_age must be positive")
	}
	if s.Store.SweepInterval <= 0 {
		return fmt.Errorf("server.store.sweep_interval must be positive")
	}
	if len(s.Ingest.Categories) != 2 || s.Ingest.Categories[0] == "" || s.Ingest.Categories[1] == "" ||
		s.Ingest.Categories[0] == s.Ingest.Categories[1] {
		return fmt.Errorf("server.ingest.categories must name exactly two distinct categories")
	}
	if s.Ingest.Categories[0] == "sessionId" || s.Ingest.Categories[1] == "sessionId" {
		return fmt.Errorf("server.ingest.categories must not use the reserved key sessionId")
	}
	if s.WS.Interval <= 0 {
		return fmt.Errorf("server.ws.interval must be positive")
	}
	return nil
}
