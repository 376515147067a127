package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/aretw0/strata"
	httpAdapter "github.com/aretw0/strata/internal/adapters/http"
	"github.com/aretw0/strata/internal/logging"
	"github.com/aretw0/strata/internal/presentation/tui"
	"github.com/aretw0/strata/pkg/config"
	"github.com/aretw0/strata/pkg/observability"
	"github.com/aretw0/strata/pkg/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Host the kernel with health, metrics and introspection endpoints",
	Long: `Opens the configured storage backends, starts the kernel over the description
directory and serves health, Prometheus metrics, read-only workflow
introspection and committed item histories over HTTP until interrupted.

The server never fires transitions. Items are written by applications
embedding the kernel against the same backends.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (defaults to metrics.addr)")
	serveCmd.Flags().Bool("quiet", false, "Do not print the banner")
}

func runServe(ctx context.Context, cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	file, err := config.Load(path)
	if err != nil {
		return err
	}
	cfg, err := file.Config()
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}
	if quiet, _ := cmd.Flags().GetBool("quiet"); !quiet {
		tui.PrintBanner(cmd.ErrOrStderr())
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	opts := []strata.Option{
		strata.WithLogger(logger),
		strata.WithMetrics(metrics),
		strata.WithConfig(config.Chain{config.EnvLookup{Prefix: "STRATA"}, file, cfg.Lookup()}),
	}

	if cfg.Tracing.Endpoint != "" {
		tp, err := observability.NewTracerProvider(ctx, observability.TracingOptions{
			ServiceName: cfg.Tracing.ServiceName,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRatio: cfg.Tracing.SampleRatio,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Tracer shutdown failed", logging.Error(err))
			}
		}()
		opts = append(opts, strata.WithTracer(tp.Tracer("strata")))
	}

	if len(cfg.Backends) > 0 {
		mgr, err := storage.FromConfig(cfg,
			storage.WithLogger(logger),
			storage.WithMetrics(metrics),
		)
		if err != nil {
			return err
		}
		opts = append(opts, strata.WithStorage(mgr))
	}

	p, err := openProject(ctx, cmd)
	if err != nil {
		return err
	}
	opts = append(opts, strata.WithLoader(p.loader), strata.WithMachines(p.machines))

	kernel, err := strata.New(ctx, opts...)
	if err != nil {
		return err
	}
	if err := kernel.Open(ctx); err != nil {
		return err
	}
	defer func() {
		if err := kernel.Close(context.Background()); err != nil {
			logger.Warn("Closing storage failed", logging.Error(err))
		}
	}()

	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	srv := &http.Server{
		Addr: addr,
		Handler: httpAdapter.NewHandler(&httpAdapter.Server{
			Loader:   p.loader,
			Items:    kernel,
			Gatherer: reg,
			Version:  strata.Version,
			Logger:   logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for errors coming from the listener.
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting strata server", "addr", srv.Addr, "dir", cmd.Flag("dir").Value.String())
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)

	case <-ctx.Done():
		logger.Info("Start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Graceful shutdown did not complete", "timeout", 5*time.Second, logging.Error(err))
			if err := srv.Close(); err != nil {
				return fmt.Errorf("killing server: %w", err)
			}
		}
		logger.Info("Strata server stopped gracefully")
		return nil
	}
}
