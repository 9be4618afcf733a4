package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/lowpan/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate a configuration file without decoding anything.

Checks context indexes and prefixes, reassembly limits, log and metrics settings.
Environment overrides (LOWPAN_*) are applied before validation.

Examples:
  lowpan validate -f lowpan.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := validateConfigFile
		if path == "" {
			path = configFile
		}
		return runValidate(cmd.OutOrStdout(), path)
	},
}

var validateConfigFile string

func init() {
	validateCmd.Flags().StringVarP(&validateConfigFile, "file", "f", "",
		"configuration file to validate (defaults to --config)")
}

func runValidate(out io.Writer, path string) error {
	if path == "" {
		return fmt.Errorf("no configuration file given (use -f or --config)")
	}
	c, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(out, "INVALID: %v\n", err)
		return err
	}

	fmt.Fprintf(out, "VALID: %d context(s), reassembly timeout %s, max %d datagram(s) of %d bytes, metrics %s\n",
		len(c.Contexts),
		c.Reassembly.Timeout,
		c.Reassembly.MaxContexts,
		c.Reassembly.MaxDatagramSize,
		onOff(c.Metrics.Enabled),
	)
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
