package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/strata/internal/presentation/tui"
)

var describeCmd = &cobra.Command{
	Use:   "describe <workflow>",
	Short: "Render a workflow and its state machines",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p, err := openProject(ctx, cmd)
		if err != nil {
			return err
		}
		desc, err := p.workflow(ctx, args[0])
		if err != nil {
			return err
		}

		md := tui.Describe(desc, p.machines)
		if raw, _ := cmd.Flags().GetBool("raw"); raw {
			fmt.Fprint(cmd.OutOrStdout(), md)
			return nil
		}
		rendered, err := tui.NewRenderer()(md)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), rendered)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(describeCmd)
	describeCmd.Flags().Bool("raw", false, "Print markdown without terminal styling")
}
