package main

import (
	"fmt"

	"github.com/akupila/correlator"
	"github.com/spf13/cobra"
)

func newRulesCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and merge rule configurations",
	}
	cmd.AddCommand(newRulesValidateCmd(root), newRulesMergeCmd(root))
	return cmd
}

func newRulesValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check that every rule of a configuration can be built",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := correlator.LoadConfig(args[0])
			if err != nil {
				return err
			}
			reg := correlator.DefaultRegistry()
			groups := cfg.Build(reg, root.logger())
			if err := correlator.NewEngine(reg).SetRules(groups); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			broken := 0
			for i, g := range groups {
				fmt.Fprintf(out, "%s (%d rules, enabled=%t)\n", g.ID, len(g.Rules), g.Enabled)
				for j, r := range g.Rules {
					rc := cfg.Groups[i].Rules[j]
					if (rc.Extractor != nil && r.Extractor == nil) || (rc.Replacement != nil && r.Replacement == nil) {
						fmt.Fprintf(out, "  %s: invalid\n", r.Ref)
						broken++
					}
				}
			}
			if broken > 0 {
				return fmt.Errorf("%d invalid rules", broken)
			}
			return nil
		},
	}
}

func newRulesMergeCmd(root *rootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "merge BASE IMPORT",
		Short: "Append the groups and filters of IMPORT to BASE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := correlator.LoadConfig(args[0])
			if err != nil {
				return err
			}
			imported, err := correlator.LoadConfig(args[1])
			if err != nil {
				return err
			}
			base.Append(imported)
			if output == "" {
				output = args[0]
			}
			if err := base.Save(output); err != nil {
				return err
			}
			log := root.logger()
			log.Info().Str("file", output).Int("groups", len(base.Groups)).Msg("Rules merged")
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to write (default BASE)")
	return cmd
}
