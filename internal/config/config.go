// Package config loads linkreload settings from a YAML or TOML file, the
// environment and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"linkreload/internal/cache"
	"linkreload/internal/logging"
	"linkreload/internal/registry"
)

const (
	DefaultDebounce = 300 * time.Millisecond
	DefaultRescan   = 2 * time.Second
	DefaultListen   = "127.0.0.1:7777"
)

var (
	ErrInvalidDebounce = errors.New("debounce must be positive")
	ErrInvalidWatchDir = errors.New("watch_dir must be a relative directory name")
)

type Source string

const (
	SourceDefault Source = "default"
	SourceFile    Source = "file"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// Config is the resolved configuration for one watch session.
type Config struct {
	Packages       []registry.Package
	WatchDir       string
	Debounce       time.Duration
	Verbose        bool
	Rescan         time.Duration
	Listen         string
	LogLevel       logging.Level
	AllowedOrigins []string
	CacheSize      int
	AliasPackages  []string
	AliasEntry     string

	// Path is the file the config was read from, if any.
	Path    string
	Sources map[string]Source
}

func Default() Config {
	return Config{
		WatchDir:   registry.DefaultWatchDir,
		Debounce:   DefaultDebounce,
		Rescan:     DefaultRescan,
		Listen:     DefaultListen,
		LogLevel:   logging.LevelInfo,
		CacheSize:  cache.DefaultCapacity,
		AliasEntry: registry.DefaultAliasEntry,
		Sources: map[string]Source{
			"packages":  SourceDefault,
			"watch_dir": SourceDefault,
			"debounce":  SourceDefault,
			"verbose":   SourceDefault,
			"rescan":    SourceDefault,
			"listen":    SourceDefault,
			"log_level": SourceDefault,
		},
	}
}

func (c *Config) set(key string, source Source) {
	if c.Sources == nil {
		c.Sources = make(map[string]Source)
	}
	c.Sources[key] = source
}

// SetFlag records a command-line override for key.
func (c *Config) SetFlag(key string) {
	c.set(key, SourceFlag)
}

// AddPackage appends or replaces a package. Relative roots are resolved
// against base.
func (c *Config) AddPackage(name, root, base string) {
	root = absolute(root, base)
	for index, pkg := range c.Packages {
		if pkg.Name == name {
			c.Packages[index].Root = root
			return
		}
	}
	c.Packages = append(c.Packages, registry.Package{Name: name, Root: root})
}

// ParsePackageFlag parses "name=path".
func ParsePackageFlag(value string) (string, string, error) {
	name, root, ok := strings.Cut(value, "=")
	name = strings.TrimSpace(name)
	root = strings.TrimSpace(root)
	if !ok || name == "" || root == "" {
		return "", "", fmt.Errorf("invalid package %q: expected name=path", value)
	}
	return name, root, nil
}

// Validate checks the resolved values and returns non-fatal warnings.
func (c Config) Validate() ([]string, error) {
	if len(c.Packages) == 0 {
		return nil, registry.ErrNoPackages
	}
	if c.Debounce <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDebounce, c.Debounce)
	}
	if c.CacheSize < 0 {
		return nil, fmt.Errorf("cache_size must not be negative: %d", c.CacheSize)
	}
	if c.Rescan < 0 {
		return nil, fmt.Errorf("rescan must not be negative: %s", c.Rescan)
	}
	watchDir := strings.TrimSpace(c.WatchDir)
	if watchDir == "" || filepath.IsAbs(watchDir) || strings.HasPrefix(filepath.Clean(watchDir), "..") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidWatchDir, c.WatchDir)
	}
	for _, pkg := range c.Packages {
		if !filepath.IsAbs(pkg.Root) {
			return nil, fmt.Errorf("package %q: root must be absolute: %s", pkg.Name, pkg.Root)
		}
	}

	reg, err := registry.New(c.Packages)
	if err != nil {
		return nil, err
	}
	var warnings []string
	for _, pair := range registry.Overlaps(reg, c.WatchDir) {
		warnings = append(warnings, fmt.Sprintf("packages %q and %q have nested watch targets; %q wins", pair[0], pair[1], pair[0]))
	}
	for _, name := range c.AliasPackages {
		if _, ok := reg.Lookup(name); !ok {
			warnings = append(warnings, fmt.Sprintf("alias package %q is not configured", name))
		}
	}
	return warnings, nil
}

// Registry builds the package registry in configured order.
func (c Config) Registry() (*registry.Registry, error) {
	return registry.New(c.Packages)
}

func absolute(root, base string) string {
	if root == "" || filepath.IsAbs(root) {
		return filepath.Clean(root)
	}
	if base == "" {
		if abs, err := filepath.Abs(root); err == nil {
			return abs
		}
		return filepath.Clean(root)
	}
	return filepath.Join(base, root)
}
