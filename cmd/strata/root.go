package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/aretw0/strata/internal/logging"
	loamadapter "github.com/aretw0/strata/pkg/adapters/loam"
	"github.com/aretw0/strata/pkg/statemachine"
	"github.com/aretw0/strata/pkg/workflow"
)

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "Strata is a workflow kernel for stateful items",
	Long: `Strata loads state machines and workflow descriptions from a directory of
Markdown, YAML or JSON documents, checks them, and hosts the kernel that drives
items through their workflows.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags (available to all commands)
	rootCmd.PersistentFlags().String("dir", ".", "Directory containing state machines and workflow descriptions")
	rootCmd.PersistentFlags().String("config", "strata.yaml", "Configuration file (YAML or TOML)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error")
}

// newLogger uses the styled handler on a terminal and plain text otherwise.
// An empty flag falls back to def.
func newLogger(cmd *cobra.Command, def string) (*slog.Logger, error) {
	raw, _ := cmd.Flags().GetString("log-level")
	if raw == "" {
		raw = def
	}
	level, err := logging.ParseLevel(raw)
	if err != nil {
		return nil, err
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		return logging.NewPretty(os.Stderr, level, "strata"), nil
	}
	return logging.New(level), nil
}

// project is a loaded description directory with its machines compiled.
type project struct {
	loader   *loamadapter.Loader
	machines *statemachine.Registry
}

func openProject(ctx context.Context, cmd *cobra.Command) (*project, error) {
	dir, _ := cmd.Flags().GetString("dir")
	loader, err := loamadapter.Open(dir)
	if err != nil {
		return nil, err
	}
	defs, err := loader.StateMachines(ctx)
	if err != nil {
		return nil, err
	}
	reg := statemachine.NewRegistry()
	var errs []error
	for _, def := range defs {
		if _, err := reg.Define(def); err != nil {
			errs = append(errs, fmt.Errorf("state machine %s v%d: %w", def.Name, def.Version, err))
		}
	}
	return &project{loader: loader, machines: reg}, errors.Join(errs...)
}

func (p *project) workflow(ctx context.Context, name string) (workflow.Description, error) {
	return p.loader.Workflow(ctx, name)
}
