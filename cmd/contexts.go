package cmd

import (
	"io"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var contextsCmd = &cobra.Command{
	Use:   "contexts",
	Short: "Print the address context table",
	Long: `Print the effective address context table as YAML.

Examples:
  lowpan contexts -c lowpan.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runContexts(cmd.OutOrStdout())
	},
}

type contextEntry struct {
	Index  int    `yaml:"index"`
	Prefix string `yaml:"prefix"`
}

type contextsOutput struct {
	Contexts []contextEntry `yaml:"contexts"`
}

func runContexts(out io.Writer) error {
	table, err := cfg.ContextTable()
	if err != nil {
		return err
	}

	doc := contextsOutput{Contexts: []contextEntry{}}
	for idx, prefix := range table.Prefixes() {
		doc.Contexts = append(doc.Contexts, contextEntry{Index: idx, Prefix: prefix.String()})
	}
	sort.Slice(doc.Contexts, func(i, j int) bool { return doc.Contexts[i].Index < doc.Contexts[j].Index })

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
