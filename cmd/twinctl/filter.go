package main

import (
	"github.com/spf13/cobra"

	"github.com/c360/semtwin/criterion"
)

// NewFilterCommand creates the filter command
func NewFilterCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "filter <dump.json> <selectors>",
		Short: "Print the providers of a twin dump selected by a selector document",
		Long: `Evaluate a JSON or YAML selector document against a twin dump.

Every provider, service and resource that survives the selectors is printed.
With --format json the output is itself a twin dump.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			providers, err := loadDump(args[0])
			if err != nil {
				return err
			}
			c, _, err := compileFile(args[1])
			if err != nil {
				return err
			}
			selected := criterion.Apply(c, providers)
			if rootOpts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), toDump(selected))
			}
			return writeProviders(cmd.OutOrStdout(), selected)
		},
	}
}
