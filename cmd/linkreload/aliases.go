package main

import (
	"encoding/json"
	"fmt"

	"linkreload/internal/registry"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newAliasesCommand(env environment, flags *configFlags) *cobra.Command {
	var entry, format string
	cmd := &cobra.Command{
		Use:   "aliases [package...]",
		Short: "Print source aliases for linked packages",
		Long: `Prints a mapping of package name to <root>/src/<entry> for bundler alias
configuration. Without arguments the aliases.packages list from the config
file is used, or every configured package when that list is empty. Unknown
names are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := flags.load(cmd, env)
			if err != nil {
				return err
			}
			reg, err := cfg.Registry()
			if err != nil {
				return err
			}

			names := args
			if len(names) == 0 {
				names = cfg.AliasPackages
			}
			if len(names) == 0 {
				for _, pkg := range reg.Packages() {
					names = append(names, pkg.Name)
				}
			}
			if !cmd.Flags().Changed("entry") {
				entry = cfg.AliasEntry
			}

			aliases := registry.SourceAliases(reg, names, entry)
			return writeAliases(cmd, aliases, format)
		},
	}
	cmd.Flags().StringVar(&entry, "entry", registry.DefaultAliasEntry, "Entry file inside each package's src directory")
	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	return cmd
}

func writeAliases(cmd *cobra.Command, aliases map[string]string, format string) error {
	out := cmd.OutOrStdout()
	switch format {
	case "json":
		encoded, err := json.MarshalIndent(aliases, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(encoded))
		return err
	case "yaml", "yml":
		encoder := yaml.NewEncoder(out)
		encoder.SetIndent(2)
		if err := encoder.Encode(aliases); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported format %q (want json or yaml)", format)
	}
}
