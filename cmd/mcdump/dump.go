package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pior/mcdump"
	"github.com/pior/mcdump/internal/config"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump every configured host",
	Long: `Dump lists and fetches every key of the configured hosts.

Hosts come from the config file, MCDUMP_HOSTS or --hosts. Keys are partitioned
over all_hosts, so that several mcdump processes can share a cluster.`,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().StringSlice("hosts", nil, "hosts to dump (ip:port), overrides the config")
	dumpCmd.Flags().String("output", "", "output directory, overrides the config")
	dumpCmd.Flags().String("request-id", "", "request id of the dump, overrides the config")
}

func runDump(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile, func(c *mcdump.Config) {
		if hosts, _ := cmd.Flags().GetStringSlice("hosts"); len(hosts) > 0 {
			c.Hosts = hosts
		}
		if output, _ := cmd.Flags().GetString("output"); output != "" {
			c.OutputDir = output
		}
		if id, _ := cmd.Flags().GetString("request-id"); id != "" {
			c.RequestID = id
		}
	})
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	cfg.Logger = logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dumper, err := mcdump.NewDumper(ctx, cfg)
	if err != nil {
		return err
	}
	defer dumper.Close()

	if cfg.MetricsAddr != "" {
		shutdown, err := serveMetrics(cfg.MetricsAddr, dumper, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	summary, err := dumper.Run(ctx)

	s := summary.Stats
	fmt.Fprintf(cmd.OutOrStdout(), "request %s: %d keys dumped, %d expiring, %d not owned, %d evicted, %d files\n",
		summary.RequestID, s.KeysDumped, s.KeysExpiring, s.KeysNotOwned, s.KeysEvicted, len(summary.Files))
	return err
}

// serveMetrics serves /metrics on addr until the returned func is called.
func serveMetrics(addr string, dumper *mcdump.Dumper, logger *slog.Logger) (func(), error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		mcdump.NewMetricsCollector(dumper),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}, nil
}
