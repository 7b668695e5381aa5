// DGFacade - Configuration-Driven Request Gateway
// Copyright 2026 DGFacade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dgfacade/dgfacade

package broker

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Typed accessors over the free-form resolved config maps. JSON numbers
// arrive as float64; env-sourced overrides may arrive as strings — both are
// accepted everywhere a number or bool is expected.

func cfgString(cfg map[string]interface{}, key, def string) string {
	if v, ok := cfg[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return def
}

func cfgInt(cfg map[string]interface{}, key string, def int) int {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return parsed
		}
	}
	return def
}

func cfgBool(cfg map[string]interface{}, key string, def bool) bool {
	v, ok := cfg[key]
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
			return parsed
		}
	}
	return def
}

// cfgSeconds reads a duration given in whole seconds.
func cfgSeconds(cfg map[string]interface{}, key string, def time.Duration) time.Duration {
	if n := cfgInt(cfg, key, -1); n >= 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func cfgMap(cfg map[string]interface{}, key string) map[string]interface{} {
	if v, ok := cfg[key]; ok {
		if m, ok := v.(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

// cfgStringSlice accepts a JSON array, a []string, or a comma-separated
// string.
func cfgStringSlice(cfg map[string]interface{}, key string) []string {
	v, ok := cfg[key]
	if !ok {
		return nil
	}
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, e := range s {
			out = append(out, fmt.Sprintf("%v", e))
		}
		return out
	case string:
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}
