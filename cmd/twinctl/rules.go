package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360/semtwin/processor/rule/derived"
)

// RuleReport describes one built derived rule
type RuleReport struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Action  string   `json:"action"`
	Enabled bool     `json:"enabled"`
	Filter  string   `json:"filter"`
	Topics  []string `json:"topics"`
}

// NewRulesCommand creates the rules command group
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Work with derived rule files",
	}
	cmd.AddCommand(newRulesValidateCommand(rootOpts))
	return cmd
}

func newRulesValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <rules-file>...",
		Short: "Parse and build every rule of one or more rule files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reports []RuleReport
			for _, path := range args {
				specs, err := derived.Load(path)
				if err != nil {
					return err
				}
				for _, s := range specs {
					def, err := s.Build()
					if err != nil {
						return fmt.Errorf("%s: %w", path, err)
					}
					f := def.InputFilter()
					reports = append(reports, RuleReport{
						ID:      s.ID,
						Name:    s.Properties().Name(),
						Action:  s.Action.Type,
						Enabled: s.IsEnabled(),
						Filter:  f.String(),
						Topics:  f.DataTopics(),
					})
				}
			}

			w := cmd.OutOrStdout()
			if rootOpts.Format == "json" {
				return writeJSON(w, reports)
			}
			for _, r := range reports {
				state := ""
				if !r.Enabled {
					state = ", disabled"
				}
				if _, err := fmt.Fprintf(w, "%s [%s%s] %s\n", r.ID, r.Action, state, r.Filter); err != nil {
					return err
				}
			}
			_, err := fmt.Fprintf(w, "%d rule(s) valid\n", len(reports))
			return err
		},
	}
}
