package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pelletier/go-toml/v2"
)

type StreamConfig struct {
	// BaseURL is the root of the backend job-stream API.
	BaseURL string `toml:"base_url"`
	// Transport selects how the stream is consumed: "sse" or "websocket".
	Transport         string `toml:"transport"`
	AutoReconnect     bool   `toml:"auto_reconnect"`
	ReconnectInitial  int    `toml:"reconnect_initial_ms"`
	ReconnectMax      int    `toml:"reconnect_max_ms"`
	ReconnectAttempts int    `toml:"reconnect_attempts"`
}

type PatchConfig struct {
	// Endpoint is the extraction resource patches are sent to. The job id
	// replaces the %s placeholder.
	Endpoint  string `toml:"endpoint"`
	TimeoutMS int    `toml:"timeout_ms"`
	QueueSize int    `toml:"queue_size"`
}

type GraphConfig struct {
	// PendingEdgeMaxCycles bounds how many merge cycles an edge may wait
	// for a missing endpoint before it is discarded with a warning.
	PendingEdgeMaxCycles int `toml:"pending_edge_max_cycles"`
}

type LayoutConfig struct {
	NodeSpacing float64 `toml:"node_spacing"`
	RankSpacing float64 `toml:"rank_spacing"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type Config struct {
	Stream StreamConfig `toml:"stream"`
	Patch  PatchConfig  `toml:"patch"`
	Graph  GraphConfig  `toml:"graph"`
	Layout LayoutConfig `toml:"layout"`
	Server ServerConfig `toml:"server"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Stream: StreamConfig{
			BaseURL:           "http://localhost:9000",
			Transport:         "sse",
			ReconnectInitial:  1000,
			ReconnectMax:      30000,
			ReconnectAttempts: 5,
		},
		Patch: PatchConfig{
			Endpoint:  "http://localhost:9000/extractions/%s",
			TimeoutMS: 10000,
			QueueSize: 256,
		},
		Graph:  GraphConfig{PendingEdgeMaxCycles: 25},
		Layout: LayoutConfig{NodeSpacing: 180, RankSpacing: 120},
		Server: ServerConfig{Port: "8080"},
	}
}

// Load reads the TOML file at path over the defaults and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides individual settings from the environment.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("STREAM_BASE_URL"); v != "" {
		c.Stream.BaseURL = v
	}
	if v := os.Getenv("STREAM_TRANSPORT"); v != "" {
		c.Stream.Transport = v
	}
	if v := os.Getenv("STREAM_AUTO_RECONNECT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Stream.AutoReconnect = b
		}
	}
	if v := os.Getenv("PATCH_ENDPOINT"); v != "" {
		c.Patch.Endpoint = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Port = v
	}
}
