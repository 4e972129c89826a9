// Package cli implements the netfeed command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"netfeed/internal/config"
)

// Version is the current version of netfeed (injected via ldflags at build time)
var Version = "dev"

var (
	// Global flags
	configPath string

	// Loaded config
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "netfeed",
	Short: "Live packet classification and anomaly streaming over WebSocket",
	Long: `netfeed captures packets on a network interface, labels each one with a protocol,
flags anomalies over a sliding window and streams the results to WebSocket subscribers.

Examples:
  netfeed                          # Serve on :8000 (same as 'netfeed serve')
  netfeed serve --interface eth0   # Default capture interface for new subscribers
  netfeed serve --dashboard        # Serve with a live terminal dashboard
  netfeed interfaces               # List capturable interfaces
`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	// When called without subcommand, run serve
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveCmd.RunE(cmd, args)
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: netfeed.toml and ~/.config/netfeed/config.toml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(versionCmd)

	// serve's flags also apply when the root runs it
	bindServeFlags()
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
}
