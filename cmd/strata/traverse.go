package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/strata/pkg/domain"
	"github.com/aretw0/strata/pkg/graph"
	"github.com/aretw0/strata/pkg/workflow"
)

var traverseCmd = &cobra.Command{
	Use:   "traverse <workflow> <activity>",
	Short: "List the activities reachable from an activity",
	Long: `Builds the workflow and walks the graph that contains the given activity,
printing every reachable activity once in visiting order.`,
	Args: cobra.ExactArgs(2),
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
		wf, err := workflow.Instantiate(domain.NewItemID(), desc, p.machines)
		if err != nil {
			return err
		}
		act, err := wf.Search(args[1])
		if err != nil {
			return err
		}

		dir := graph.Forward
		if reverse, _ := cmd.Flags().GetBool("reverse"); reverse {
			dir = graph.Reverse
		}
		ignore, _ := cmd.Flags().GetBool("ignore-back-links")

		out := cmd.OutOrStdout()
		for _, a := range act.Traverse(dir, ignore) {
			fmt.Fprintln(out, a.Path())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(traverseCmd)
	traverseCmd.Flags().BoolP("reverse", "r", false, "Follow incoming edges instead of outgoing ones")
	traverseCmd.Flags().Bool("ignore-back-links", false, "Do not re-enter loops and joins")
}
