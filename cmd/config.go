package cmd

import (
	"os"

	"github.com/cookidump/cookidump/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd prints the effective configuration, useful as a starting point
// for a config file.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration as yml.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New(configFile)
		if err != nil {
			return err
		}
		return yaml.NewEncoder(os.Stdout).Encode(cfg)
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
