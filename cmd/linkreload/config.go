package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"linkreload/internal/config"
	"linkreload/internal/logging"

	"github.com/spf13/cobra"
)

type configFlags struct {
	path           string
	packages       []string
	watchDir       string
	logLevel       string
	debounce       time.Duration
	verbose        bool
	rescan         time.Duration
	listen         string
	allowedOrigins []string
}

func (flags *configFlags) register(cmd *cobra.Command) {
	persistent := cmd.PersistentFlags()
	persistent.StringVarP(&flags.path, "config", "c", "", "Config file (default: linkreload.yaml, linkreload.yml or linkreload.toml in the working directory)")
	persistent.StringArrayVarP(&flags.packages, "package", "p", nil, "Linked package as name=path (repeatable, appended after config file packages)")
	persistent.StringVar(&flags.watchDir, "watch-dir", "", "Build output directory inside each package root")
	persistent.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warning, error")
}

func (flags *configFlags) registerServe(cmd *cobra.Command) {
	local := cmd.Flags()
	local.DurationVar(&flags.debounce, "debounce", 0, "Quiet period before a package reload fires")
	local.BoolVarP(&flags.verbose, "verbose", "v", false, "Log registrations and every reload cycle")
	local.DurationVar(&flags.rescan, "rescan", 0, "Interval for picking up watch targets created after startup (0 disables)")
	local.StringVar(&flags.listen, "listen", "", "Dev server listen address")
	local.StringArrayVar(&flags.allowedOrigins, "allowed-origin", nil, "Extra websocket origin to accept (repeatable, * for any)")
}

// load resolves defaults, file, environment and then explicitly set flags.
func (flags *configFlags) load(cmd *cobra.Command, env environment) (config.Config, []string, error) {
	cwd, err := env.getwd()
	if err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(flags.path, cwd, env.getenv)
	if err != nil {
		return config.Config{}, nil, err
	}

	changed := func(name string) bool {
		flag := cmd.Flags().Lookup(name)
		return flag != nil && flag.Changed
	}
	if changed("package") {
		for _, value := range flags.packages {
			name, root, err := config.ParsePackageFlag(value)
			if err != nil {
				return config.Config{}, nil, err
			}
			cfg.AddPackage(name, root, cwd)
		}
		cfg.SetFlag("packages")
	}
	if changed("watch-dir") {
		cfg.WatchDir = flags.watchDir
		cfg.SetFlag("watch_dir")
	}
	if changed("log-level") {
		level, ok := logging.ParseLevel(flags.logLevel)
		if !ok {
			return config.Config{}, nil, fmt.Errorf("invalid log level %q", flags.logLevel)
		}
		cfg.LogLevel = level
		cfg.SetFlag("log_level")
	}
	if changed("debounce") {
		cfg.Debounce = flags.debounce
		cfg.SetFlag("debounce")
	}
	if changed("verbose") {
		cfg.Verbose = flags.verbose
		cfg.SetFlag("verbose")
	}
	if changed("rescan") {
		cfg.Rescan = flags.rescan
		cfg.SetFlag("rescan")
	}
	if changed("listen") {
		cfg.Listen = flags.listen
		cfg.SetFlag("listen")
	}
	if changed("allowed-origin") {
		cfg.AllowedOrigins = append(cfg.AllowedOrigins, flags.allowedOrigins...)
	}

	warnings, err := cfg.Validate()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, warnings, nil
}

func logStartupFlags(logger *logging.Logger, cfg config.Config) {
	if logger == nil || cfg.Sources == nil {
		return
	}
	var flags []string
	for key, source := range cfg.Sources {
		if source != config.SourceFlag {
			continue
		}
		switch key {
		case "packages":
			for _, pkg := range cfg.Packages {
				flags = append(flags, fmt.Sprintf("--package %s=%s", pkg.Name, pkg.Root))
			}
		case "watch_dir":
			flags = append(flags, "--watch-dir "+cfg.WatchDir)
		case "log_level":
			flags = append(flags, "--log-level "+string(cfg.LogLevel))
		case "debounce":
			flags = append(flags, "--debounce "+cfg.Debounce.String())
		case "verbose":
			flags = append(flags, formatBoolFlag("--verbose", cfg.Verbose))
		case "rescan":
			flags = append(flags, "--rescan "+cfg.Rescan.String())
		case "listen":
			flags = append(flags, "--listen "+cfg.Listen)
		}
	}
	if len(flags) == 0 {
		return
	}
	sort.Strings(flags)
	logger.Debug("starting with flags", map[string]string{
		"flags": strings.Join(flags, " "),
	})
}

func formatBoolFlag(name string, value bool) string {
	if value {
		return name
	}
	return fmt.Sprintf("%s=%t", name, value)
}
