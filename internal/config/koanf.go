// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where the application config file is searched, in
// priority order. The first file found wins.
var DefaultConfigPaths = []string{
	"gateway.yaml",
	"gateway.yml",
	"/etc/dgfacade/gateway.yaml",
	"/etc/dgfacade/gateway.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "DGF_CONFIG_PATH"

// defaultConfig returns a Config with every default applied. These are the
// values the file and the environment override.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8480,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		Engine: EngineConfig{
			DefaultTTLMinutes: 30,
			GracePeriod:       5 * time.Second,
			RecentStates:      1000,
		},
		Streaming: StreamingConfig{
			StreamPrefix: "/stream",
			RestBuffer:   256,
		},
		Ingest: IngestConfig{
			Enabled: true,
		},
		Reload: ReloadConfig{
			Interval: 300 * time.Second,
		},
		Cluster: ClusterConfig{
			Enabled:           false,
			Role:              "BOTH",
			HeartbeatInterval: 10 * time.Second,
		},
		Auth: AuthConfig{
			Enabled:     true,
			PublicTypes: []string{},
		},
		ConfigDir: "config",
	}
}

// Load builds the application configuration from layered sources:
//
//  1. built-in defaults
//  2. gateway.yaml (optional)
//  3. environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are the paths parsed from comma-separated env strings.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"cluster.seeds",
	"auth.public_types",
}

// processSliceFields converts comma-separated env values into slices for the
// known slice paths. YAML-sourced slices pass through untouched.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf paths. Unmapped
// variables are dropped so random environment entries cannot pollute the
// configuration.
//
// Examples:
//   - DGF_HTTP_PORT        -> server.port
//   - DGF_LOG_LEVEL        -> logging.level
//   - DGF_CLUSTER_SEEDS    -> cluster.seeds
//   - DGF_CONFIG_DIR       -> config_dir
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"dgf_http_host":         "server.host",
		"dgf_http_port":         "server.port",
		"dgf_http_timeout":      "server.timeout",
		"dgf_cors_origins":      "server.cors_origins",
		"dgf_rate_limit_reqs":   "server.rate_limit_reqs",
		"dgf_rate_limit_window": "server.rate_limit_window",

		"dgf_log_level":  "logging.level",
		"dgf_log_format": "logging.format",
		"dgf_log_caller": "logging.caller",

		"dgf_default_ttl_minutes": "engine.default_ttl_minutes",
		"dgf_grace_period":        "engine.grace_period",
		"dgf_recent_states":       "engine.recent_states",

		"dgf_stream_prefix": "streaming.stream_prefix",
		"dgf_rest_buffer":   "streaming.rest_buffer",

		"dgf_ingest_enabled": "ingest.enabled",

		"dgf_reload_interval": "reload.interval",

		"dgf_cluster_enabled":    "cluster.enabled",
		"dgf_cluster_node_id":    "cluster.node_id",
		"dgf_cluster_role":       "cluster.role",
		"dgf_cluster_advertise":  "cluster.advertise_host",
		"dgf_cluster_seeds":      "cluster.seeds",
		"dgf_cluster_heartbeat":  "cluster.heartbeat_interval",

		"dgf_auth_enabled":      "auth.enabled",
		"dgf_auth_public_types": "auth.public_types",

		"dgf_config_dir": "config_dir",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
