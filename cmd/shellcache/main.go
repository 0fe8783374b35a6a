package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// cmdRoot is the base command when no other command has been specified.
var cmdRoot = &cobra.Command{
	Use:   "shellcache",
	Short: "Offline app shell cache in front of a storefront origin",
	Long: `
shellcache sits between pages and the storefront origin. It seeds a versioned
app shell cache at start-up, serves every request cache-first, stores
successful GET responses as they pass and answers with a 503 offline notice
when the origin cannot be reached.
`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
		os.Exit(0)
	},
}

var configPath string

func init() {
	cmdRoot.PersistentFlags().StringVar(&configPath, "config", getenvDefault("SHELLCACHE_CONFIG", "/shellcache.yaml"), "path to shellcache.yaml")
}

func main() {
	if err := cmdRoot.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getenvDefault(name, def string) string {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	return v
}
