// Package cli implements the ecooracle command tree.
package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ecooracle",
	Short: "Decentralized oracle node for sustainability data",
	Long: `ecooracle runs a decentralized oracle network node: data providers
answer requests for carbon and renewable-energy measurements, responses
are aggregated into a reputation-weighted consensus, and finalized
results can be published on-chain.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(),
		"Path to the TOML config file")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".ecooracle", "config.toml")
}
