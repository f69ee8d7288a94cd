package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/tidemark/internal/pipeline"
	"github.com/ajitpratap0/tidemark/pkg/config"
	"github.com/ajitpratap0/tidemark/pkg/connector/core"
	"github.com/ajitpratap0/tidemark/pkg/connector/registry"
	"github.com/ajitpratap0/tidemark/pkg/logger"
	"github.com/ajitpratap0/tidemark/pkg/metrics"
	"github.com/ajitpratap0/tidemark/pkg/observability"
	"github.com/ajitpratap0/tidemark/pkg/watermark"
)

type runFlags struct {
	streams     []string
	dryRun      bool
	failFast    bool
	metricsAddr string
}

func newRunCommand(configFile *string) *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the configured streams",
		Long: `Run every stream of the enabled sources, or only those named with --streams.

Example:
  tidemark run --config tidemark.yaml --streams customer,general_ledger_transactions`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, *configFile, flags)
		},
	}

	cmd.Flags().StringSliceVar(&flags.streams, "streams", nil, "Comma-separated stream names to run (default all)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Fetch pages without writing rows or saving watermarks")
	cmd.Flags().BoolVar(&flags.failFast, "fail-fast", false, "Stop at the first failed stream")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run (e.g. :9090)")
	return cmd
}

func runPipeline(cmd *cobra.Command, configFile string, flags runFlags) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if flags.metricsAddr != "" {
		cfg.Observability.MetricsAddr = flags.metricsAddr
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Observability.LogLevel,
		Encoding:   cfg.Observability.LogFormat,
		File:       cfg.Observability.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("component", "cli"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.Init(ctx, observability.TracingConfig{
		Enabled:        cfg.Observability.Tracing,
		ServiceName:    "tidemark",
		ServiceVersion: version,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	var sources []core.Source
	defer func() {
		for _, src := range sources {
			_ = src.Close()
		}
	}()
	for _, name := range enabledSources(cfg) {
		src, err := registry.CreateSource(ctx, name, cfg)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}

	var sink core.Sink = discardSink{}
	if !flags.dryRun {
		sink, err = registry.CreateDestination(ctx, cfg.Destination.Type, cfg)
		if err != nil {
			return err
		}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := sink.Close(closeCtx); err != nil {
			log.Error("failed to close destination", zap.Error(err))
		}
	}()

	store, err := watermark.Open(ctx, cfg.State, log)
	if err != nil {
		return err
	}
	defer store.Close()

	runner := pipeline.NewRunner(sources, sink, store, pipeline.Options{
		Streams:  flags.streams,
		FailFast: flags.failFast,
		DryRun:   flags.dryRun,
	}, log)

	var summary *pipeline.Summary
	g, gctx := errgroup.WithContext(ctx)
	var server *http.Server
	if addr := cfg.Observability.MetricsAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		server = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		if server != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()
		}
		var runErr error
		summary, runErr = runner.Run(gctx)
		return runErr
	})

	err = g.Wait()
	if summary != nil {
		printSummary(cmd, summary)
	}
	return err
}

func printSummary(cmd *cobra.Command, summary *pipeline.Summary) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "run %s\n", summary.RunID)
	fmt.Fprintln(w, "STREAM\tSTATUS\tPAGES\tRECORDS\tDURATION")
	for _, r := range summary.Results {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n", r.Stream, r.Status, r.Pages, r.Records, r.Duration.Round(time.Millisecond))
	}
	_ = w.Flush()
}

// discardSink stands in for the destination during dry runs.
type discardSink struct{}

func (discardSink) Write(context.Context, *core.Stream, core.Page) error { return nil }
func (discardSink) Close(context.Context) error                          { return nil }
