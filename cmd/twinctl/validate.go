package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SelectorReport describes a compiled selector document
type SelectorReport struct {
	Selectors []string `json:"selectors"`
	Union     string   `json:"union"`
	Topics    []string `json:"topics"`
}

// NewValidateCommand creates the validate command
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <selectors>",
		Short: "Validate and compile a selector document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, selectors, err := compileFile(args[0])
			if err != nil {
				return err
			}
			report := SelectorReport{Union: c.String(), Topics: c.DataTopics()}
			for _, s := range selectors {
				compiled, err := s.Compile()
				if err != nil {
					return err
				}
				report.Selectors = append(report.Selectors, compiled.String())
			}

			w := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(w, report)
			}
			for i, s := range report.Selectors {
				if _, err := fmt.Fprintf(w, "selector %d: %s\n", i, s); err != nil {
					return err
				}
			}
			_, err = fmt.Fprintf(w, "union: %s\n", report.Union)
			return err
		},
	}
}

// NewTopicsCommand creates the topics command
func NewTopicsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "topics <selectors>",
		Short: "Print the data subjects a selector document subscribes to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := compileFile(args[0])
			if err != nil {
				return err
			}
			topics := c.DataTopics()
			w := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(w, topics)
			}
			for _, t := range topics {
				if _, err := fmt.Fprintln(w, t); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
