package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/strata/internal/presentation/graph"
)

// graphCmd represents the graph command
var graphCmd = &cobra.Command{
	Use:   "graph <workflow>",
	Short: "Export the workflow graph visualization",
	Long:  `Outputs a Mermaid diagram (graph TD) of the workflow's activities, with composites as subgraphs.`,
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
		fmt.Fprint(cmd.OutOrStdout(), graph.GenerateMermaid(desc, nil))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
}
