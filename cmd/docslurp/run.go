package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chtzvt/docslurp/cmd/docslurp/config"
	"github.com/chtzvt/docslurp/internal/blob"
	"github.com/chtzvt/docslurp/internal/core"
	"github.com/chtzvt/docslurp/internal/export"
	"github.com/chtzvt/docslurp/internal/metrics"
	"github.com/chtzvt/docslurp/internal/source"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Export everything after the stored checkpoint, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg.Log)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx := cmdContext()
		m := metrics.New()
		if cfg.Metrics.ListenAddr != "" {
			stop := serveMetrics(cfg.Metrics.ListenAddr, m, logger)
			defer stop()
		}

		err = runExport(ctx, cfg, logger, m)
		logger.Info("run summary", zap.String("metrics", m.String()))
		return err
	},
}

func runExport(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) error {
	spec := &cfg.Export
	cx := core.NewContext(spec, logger, m)
	logger.Info("starting export",
		zap.String("run", cx.RunID),
		zap.String("namespace", spec.Namespace()),
		zap.String("store", spec.Output.Store),
		zap.String("format", spec.Output.Format),
		zap.String("chunk_mode", spec.Chunk.Mode),
		zap.String("normalize", spec.Normalize.Mode),
		zap.Strings("fields", spec.Normalize.Fields))

	blobs, err := blob.Open(spec.Output.Store, spec.Output.StoreOptions)
	if err != nil {
		return err
	}
	checkpoints, closeCheckpoints, err := openCheckpoints(spec, blobs, logger)
	if err != nil {
		return err
	}
	defer closeCheckpoints()

	src, err := source.Open(ctx, spec.Source)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := src.Close(closeCtx); err != nil {
			logger.Warn("closing source", zap.Error(err))
		}
	}()

	c, err := export.New(cx, src, blobs, checkpoints)
	if err != nil {
		return err
	}
	_, err = c.Run(ctx)
	return err
}

func serveMetrics(addr string, m *metrics.Metrics, logger *zap.Logger) func() {
	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(m), collectors.NewGoCollector())

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server error", zap.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown", zap.Error(err))
		}
	}
}
