// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

// Package config owns both configuration surfaces of the gateway:
//
//   - the application config (gateway.yaml + environment), loaded once at
//     startup through koanf with defaults < file < env precedence;
//   - the JSON registries (handlers, brokers, input/output channels,
//     ingesters) stored one file per id under the config directory, rebuilt
//     atomically by the auto-reloader when a directory fingerprint changes.
//
// Registry maps are immutable after load: a reload builds a complete new map
// and installs it under the store's lock, so concurrent readers always see a
// consistent catalogue.
package config

import (
	"fmt"
	"time"

	"github.com/dgfacade/dgfacade/internal/models"
)

// Config is the application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	Engine    EngineConfig    `koanf:"engine"`
	Streaming StreamingConfig `koanf:"streaming"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Reload    ReloadConfig    `koanf:"reload"`
	Cluster   ClusterConfig   `koanf:"cluster"`
	Auth      AuthConfig      `koanf:"auth"`

	// ConfigDir is the root of the registry directories
	// (handlers/, brokers/, input-channels/, output-channels/, ingesters/).
	// Default: config
	ConfigDir string `koanf:"config_dir"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	// Host to bind. Default: 0.0.0.0
	Host string `koanf:"host"`

	// Port to listen on. Default: 8480
	Port int `koanf:"port"`

	// Timeout is the read/write timeout for plain HTTP requests.
	// Default: 30s
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins lists allowed origins. Default: ["*"]
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitReqs is the per-IP request budget per window. 0 disables.
	// Default: 300
	RateLimitReqs int `koanf:"rate_limit_reqs"`

	// RateLimitWindow is the rate limit window. Default: 1m
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// LoggingConfig configures the global logger.
type LoggingConfig struct {
	// Level: trace, debug, info, warn, error. Default: info
	Level string `koanf:"level"`

	// Format: json or console. Default: json
	Format string `koanf:"format"`

	// Caller includes file:line in log output. Default: false
	Caller bool `koanf:"caller"`
}

// EngineConfig configures the execution engine.
type EngineConfig struct {
	// DefaultTTLMinutes bounds executions whose handler config carries no
	// TTL. Default: 30
	DefaultTTLMinutes int `koanf:"default_ttl_minutes"`

	// GracePeriod is how long the engine waits after stop() before tearing
	// an execution unit down. Default: 5s
	GracePeriod time.Duration `koanf:"grace_period"`

	// RecentStates is the capacity of the recent-executions ring.
	// Default: 1000
	RecentStates int `koanf:"recent_states"`
}

// StreamingConfig configures the streaming session manager.
type StreamingConfig struct {
	// StreamPrefix is the WebSocket destination prefix; sessions publish to
	// <prefix>/<session_id>. Default: /stream
	StreamPrefix string `koanf:"stream_prefix"`

	// RestBuffer is the per-session capacity of the REST pull buffer.
	// Default: 256
	RestBuffer int `koanf:"rest_buffer"`
}

// IngestConfig configures the ingester layer.
type IngestConfig struct {
	// Enabled starts configured ingesters at boot. Default: true
	Enabled bool `koanf:"enabled"`
}

// ReloadConfig configures registry auto-reload.
type ReloadConfig struct {
	// Interval between fingerprint sweeps. Default: 300s
	Interval time.Duration `koanf:"interval"`
}

// ClusterConfig configures cluster membership and forwarding.
type ClusterConfig struct {
	// Enabled turns clustering on; with no seeds the service is a no-op.
	// Default: false
	Enabled bool `koanf:"enabled"`

	// NodeID identifies this node; generated from host:port when empty.
	NodeID string `koanf:"node_id"`

	// Role: GATEWAY, EXECUTOR or BOTH. Default: BOTH
	Role string `koanf:"role"`

	// AdvertiseHost is the host peers reach this node on. Default: Server.Host
	AdvertiseHost string `koanf:"advertise_host"`

	// Seeds lists peer base URLs (http://host:port).
	Seeds []string `koanf:"seeds"`

	// HeartbeatInterval between peer heartbeats. Default: 10s
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
}

// AuthConfig configures credential resolution.
type AuthConfig struct {
	// Enabled requires a valid api key on every request. Default: true
	Enabled bool `koanf:"enabled"`

	// PublicTypes lists request types that bypass authentication.
	PublicTypes []string `koanf:"public_types"`
}

// Validate checks cross-field constraints that koanf cannot.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Engine.DefaultTTLMinutes <= 0 {
		return fmt.Errorf("engine.default_ttl_minutes must be positive")
	}
	if c.Engine.RecentStates <= 0 {
		return fmt.Errorf("engine.recent_states must be positive")
	}
	if c.Reload.Interval < time.Second {
		return fmt.Errorf("reload.interval %s too small", c.Reload.Interval)
	}
	if c.Cluster.Enabled {
		switch models.NodeRole(c.Cluster.Role) {
		case models.RoleGateway, models.RoleExecutor, models.RoleBoth:
		default:
			return fmt.Errorf("cluster.role %q is not GATEWAY, EXECUTOR or BOTH", c.Cluster.Role)
		}
	}
	return nil
}
