package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"linkreload/internal/logging"
	"linkreload/internal/registry"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultFileNames are tried, in order, when no config path is given.
var DefaultFileNames = []string{"linkreload.yaml", "linkreload.yml", "linkreload.toml"}

type fileConfig struct {
	Packages       packageList `yaml:"packages" toml:"packages"`
	WatchDir       string      `yaml:"watch_dir" toml:"watch_dir"`
	Debounce       duration    `yaml:"debounce" toml:"debounce"`
	Verbose        *bool       `yaml:"verbose" toml:"verbose"`
	Rescan         duration    `yaml:"rescan" toml:"rescan"`
	Listen         string      `yaml:"listen" toml:"listen"`
	LogLevel       string      `yaml:"log_level" toml:"log_level"`
	AllowedOrigins []string    `yaml:"allowed_origins" toml:"allowed_origins"`
	CacheSize      int         `yaml:"cache_size" toml:"cache_size"`
	Aliases        aliasConfig `yaml:"aliases" toml:"aliases"`
}

type aliasConfig struct {
	Packages []string `yaml:"packages" toml:"packages"`
	Entry    string   `yaml:"entry" toml:"entry"`
}

// packageList keeps packages in document order.
type packageList []registry.Package

func (list *packageList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			var root string
			if err := node.Content[i+1].Decode(&root); err != nil {
				return fmt.Errorf("package %q: %w", node.Content[i].Value, err)
			}
			*list = append(*list, registry.Package{Name: node.Content[i].Value, Root: root})
		}
		return nil
	case yaml.SequenceNode:
		var entries []struct {
			Name string `yaml:"name"`
			Root string `yaml:"root"`
		}
		if err := node.Decode(&entries); err != nil {
			return err
		}
		for _, entry := range entries {
			*list = append(*list, registry.Package{Name: entry.Name, Root: entry.Root})
		}
		return nil
	default:
		return fmt.Errorf("line %d: packages must be a mapping of name to path", node.Line)
	}
}

// UnmarshalTOML sorts by name; loadTOML restores document order from the
// decoder metadata.
func (list *packageList) UnmarshalTOML(value any) error {
	table, ok := value.(map[string]any)
	if !ok {
		return errors.New("packages must be a table of name = path")
	}
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		root, ok := table[name].(string)
		if !ok {
			return fmt.Errorf("package %q: path must be a string", name)
		}
		*list = append(*list, registry.Package{Name: name, Root: root})
	}
	return nil
}

// duration accepts integer milliseconds or a Go duration string.
type duration struct {
	value time.Duration
	set   bool
}

func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}

func (d *duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid duration %q", node.Line, node.Value)
	}
	d.value, d.set = parsed, true
	return nil
}

func (d *duration) UnmarshalTOML(value any) error {
	switch typed := value.(type) {
	case int64:
		d.value = time.Duration(typed) * time.Millisecond
	case string:
		parsed, err := parseDuration(typed)
		if err != nil {
			return fmt.Errorf("invalid duration %q", typed)
		}
		d.value = parsed
	default:
		return fmt.Errorf("invalid duration %v", value)
	}
	d.set = true
	return nil
}

// Find returns the first default config file present in dir.
func Find(dir string) (string, bool) {
	for _, name := range DefaultFileNames {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, true
		}
	}
	return "", false
}

// LoadFile reads path over the defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	var file fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		file, err = decodeYAML(payload)
	case ".toml":
		file, err = decodeTOML(payload)
	default:
		return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	c.Path = abs
	c.apply(file, filepath.Dir(abs))
	return nil
}

func decodeYAML(payload []byte) (fileConfig, error) {
	var file fileConfig
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil {
		return fileConfig{}, err
	}
	return file, nil
}

func decodeTOML(payload []byte) (fileConfig, error) {
	var file fileConfig
	meta, err := toml.Decode(string(payload), &file)
	if err != nil {
		return fileConfig{}, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return fileConfig{}, fmt.Errorf("unknown keys: %v", undecoded)
	}

	byName := make(map[string]registry.Package, len(file.Packages))
	for _, pkg := range file.Packages {
		byName[pkg.Name] = pkg
	}
	ordered := make(packageList, 0, len(file.Packages))
	for _, key := range meta.Keys() {
		if len(key) == 2 && key[0] == "packages" {
			if pkg, ok := byName[key[1]]; ok {
				ordered = append(ordered, pkg)
			}
		}
	}
	if len(ordered) == len(file.Packages) {
		file.Packages = ordered
	}
	return file, nil
}

func (c *Config) apply(file fileConfig, base string) {
	if len(file.Packages) > 0 {
		c.Packages = nil
		for _, pkg := range file.Packages {
			c.AddPackage(pkg.Name, pkg.Root, base)
		}
		c.set("packages", SourceFile)
	}
	if file.WatchDir != "" {
		c.WatchDir = file.WatchDir
		c.set("watch_dir", SourceFile)
	}
	if file.Debounce.set {
		c.Debounce = file.Debounce.value
		c.set("debounce", SourceFile)
	}
	if file.Verbose != nil {
		c.Verbose = *file.Verbose
		c.set("verbose", SourceFile)
	}
	if file.Rescan.set {
		c.Rescan = file.Rescan.value
		c.set("rescan", SourceFile)
	}
	if file.Listen != "" {
		c.Listen = file.Listen
		c.set("listen", SourceFile)
	}
	if level, ok := logging.ParseLevel(file.LogLevel); ok {
		c.LogLevel = level
		c.set("log_level", SourceFile)
	}
	if len(file.AllowedOrigins) > 0 {
		c.AllowedOrigins = file.AllowedOrigins
	}
	if file.CacheSize != 0 {
		c.CacheSize = file.CacheSize
	}
	if len(file.Aliases.Packages) > 0 {
		c.AliasPackages = file.Aliases.Packages
	}
	if file.Aliases.Entry != "" {
		c.AliasEntry = file.Aliases.Entry
	}
}
