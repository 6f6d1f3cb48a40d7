// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msg-fabric/msg-fabric-packet-stream-sub000/internal/config"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fabric",
	Short: "fabric - framed packet codec and stream relay",
	Long: `fabric reads byte streams carrying 0xFEED-framed packets, reassembles them
regardless of how the transport chunked the bytes, and delivers each packet
to the console, relays it to upstream peers or publishes it to Kafka.

Commands:
  serve     run the configured sources and sinks until interrupted
  decode    decode packets from a file, stdin or a capture file
  pack      encode packets from flags or a packet spec file
  validate  check a configuration file`,
	Version:      "0.1.0",
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults plus FABRIC_* env when empty)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(packCmd)
	rootCmd.AddCommand(validateCmd)
}

// loadConfig loads the --config file, or the defaults when none is given.
func loadConfig() (*config.GlobalConfig, error) {
	if configFile == "" {
		return config.Default()
	}
	return config.Load(configFile)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
