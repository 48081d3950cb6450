// Package cmd is the command line surface. It turns flags, environment and
// config file into a config.Config, builds the browser fetcher and hands
// off to the pipeline.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var configFile string

var rootCmd = &cobra.Command{
	Use:   "cookidump",
	Short: "cookidump captures your Cookidoo recipe collections to local json files.",
	Long: `cookidump logs into Cookidoo with your account, walks your bookmark,
created, custom and saved collections and writes every recipe as Paprika 3
compatible json. Runs are incremental: recipes already on disk are skipped,
so re-running only fetches what is new.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a yml config file.")
}

// Execute runs the root command and maps errors to the exit code.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
