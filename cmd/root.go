// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"firestige.xyz/lowpan/internal/config"
	"firestige.xyz/lowpan/internal/core/lowpan"
	"firestige.xyz/lowpan/internal/log"
)

var (
	// Global flags
	configFile string
	logLevel   string

	// Set by loadConfig before any subcommand runs
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "lowpan",
	Short: "lowpan - 6LoWPAN header compression and fragment reassembly toolkit",
	Long: `lowpan compresses and decompresses IPv6 headers for IEEE 802.15.4 links
(RFC 6282 IPHC) and reassembles 6LoWPAN fragments.

Features:
  - Decode hex frames or 802.15.4 pcap captures into IPv6 packets
  - Encode IPv6/UDP packets into IPHC frames
  - Address contexts, reassembly limits and logging from a YAML config
  - Optional Prometheus metrics endpoint`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"override log level (trace/debug/info/warn/error)")

	// Add subcommands
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(contextsCmd)
	rootCmd.AddCommand(validateCmd)
}

func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if logLevel != "" {
		c.Log.Level = logLevel
		if err := c.Validate(); err != nil {
			return err
		}
	}
	if err := log.Init(&c.Log); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}
	cfg = c
	return nil
}

// newAdapter builds the adaptation layer from the loaded configuration.
func newAdapter() (*lowpan.Adapter, error) {
	table, err := cfg.ContextTable()
	if err != nil {
		return nil, err
	}
	return lowpan.NewAdapter(table, cfg.ReassemblyConfig()), nil
}
