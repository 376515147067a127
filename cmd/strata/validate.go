package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/strata/internal/presentation/tui"
	"github.com/aretw0/strata/pkg/workflow"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check state machines and workflows for consistency",
	Long: `Compiles every state machine in the directory, then builds each workflow
against them and reports unknown states, unresolved machines and broken edges.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if err := runValidate(cmd); err != nil {
			fmt.Fprintln(out, tui.Failure("Validation failed"))
			return err
		}
		fmt.Fprintln(out, tui.Success("Descriptions are valid"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command) error {
	ctx := cmd.Context()
	p, err := openProject(ctx, cmd)
	if err != nil {
		return err
	}

	names, err := p.loader.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, name := range names {
		desc, err := p.workflow(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := workflow.Validate(desc, p.machines); err != nil {
			errs = append(errs, fmt.Errorf("workflow %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
