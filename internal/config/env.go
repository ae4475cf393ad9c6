package config

import (
	"strconv"
	"strings"
	"time"

	"linkreload/internal/logging"
)

const envPrefix = "LINKRELOAD_"

// ApplyEnv overlays LINKRELOAD_* variables. Unparseable values are skipped.
func (c *Config) ApplyEnv(lookup func(string) string) {
	if lookup == nil {
		return
	}
	get := func(name string) string {
		return strings.TrimSpace(lookup(envPrefix + name))
	}

	if raw := get("WATCH_DIR"); raw != "" {
		c.WatchDir = raw
		c.set("watch_dir", SourceEnv)
	}
	if raw := get("DEBOUNCE_MS"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			c.Debounce = time.Duration(parsed) * time.Millisecond
			c.set("debounce", SourceEnv)
		}
	}
	if raw := get("VERBOSE"); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			c.Verbose = parsed
			c.set("verbose", SourceEnv)
		}
	}
	if raw := get("RESCAN"); raw != "" {
		if parsed, err := parseDuration(raw); err == nil {
			c.Rescan = parsed
			c.set("rescan", SourceEnv)
		}
	}
	if raw := get("LISTEN"); raw != "" {
		c.Listen = raw
		c.set("listen", SourceEnv)
	}
	if level, ok := logging.ParseLevel(get("LOG_LEVEL")); ok {
		c.LogLevel = level
		c.set("log_level", SourceEnv)
	}
}

// Load resolves defaults, then the config file at path (or the first
// default file in dir when path is empty), then the environment.
func Load(path, dir string, lookup func(string) string) (Config, error) {
	cfg := Default()
	if path == "" {
		if found, ok := Find(dir); ok {
			path = found
		}
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	cfg.ApplyEnv(lookup)
	return cfg, nil
}
