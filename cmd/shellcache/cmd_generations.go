package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"shellcache/internal/shellcache"
)

var cmdGenerations = &cobra.Command{
	Use:   "generations",
	Short: "List stored cache generations",
	Long: `
The "generations" command lists the cache generations stored in cache.dir with
their entry counts. The generation matching the configured version is marked
with "*". With --prune every other generation is deleted.

EXIT STATUS
===========

Exit status is 0 if the command was successful, and non-zero if there was any error.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGenerations(cmd, generationsOptions)
	},
}

// GenerationsOptions bundles all options for the generations command.
type GenerationsOptions struct {
	Prune bool
}

var generationsOptions GenerationsOptions

func init() {
	cmdRoot.AddCommand(cmdGenerations)

	f := cmdGenerations.Flags()
	f.BoolVar(&generationsOptions.Prune, "prune", false, "delete every generation except the current one")
}

func runGenerations(cmd *cobra.Command, opts GenerationsOptions) error {
	cfg, err := shellcache.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Cache.Dir == "" {
		return errors.New("cache.dir is not set, nothing is persisted")
	}

	storage, err := shellcache.OpenLevelStorage(cfg.Cache.Dir)
	if err != nil {
		return err
	}
	defer storage.Close()

	current := cfg.Cache.Name()
	out := cmd.OutOrStdout()
	if opts.Prune {
		deleted, err := shellcache.PruneGenerations(storage, current)
		for _, name := range deleted {
			fmt.Fprintf(out, "deleted %s\n", name)
		}
		if err != nil {
			return err
		}
	}

	gens, err := shellcache.ListGenerations(storage, current)
	if err != nil {
		return err
	}
	for _, g := range gens {
		mark := " "
		if g.Current {
			mark = "*"
		}
		fmt.Fprintf(out, "%s %s\t%d entries\n", mark, g.Name, g.Entries)
	}
	return nil
}
