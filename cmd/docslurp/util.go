package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chtzvt/docslurp/cmd/docslurp/config"
	"github.com/chtzvt/docslurp/internal/blob"
	"github.com/chtzvt/docslurp/internal/checkpoint"
	"github.com/chtzvt/docslurp/internal/job"
)

func cmdContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-c
		cancel()
	}()
	return ctx
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	switch cfg.Format {
	case "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "", "json":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	if cfg.Level != "" {
		lvl, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zc.Level = lvl
	}
	return zc.Build()
}

// openCheckpoints builds the configured checkpoint store. The returned close
// func releases any connection it owns.
func openCheckpoints(spec *job.Spec, blobs blob.Store, logger *zap.Logger) (checkpoint.Store, func() error, error) {
	switch spec.Checkpoint.Store {
	case job.CheckpointEtcd:
		e := spec.Checkpoint.Etcd
		s, err := checkpoint.NewEtcdStore(checkpoint.EtcdConfig{
			Endpoints:   e.Endpoints,
			Username:    e.Username,
			Password:    e.Password,
			DialTimeout: e.DialTimeout,
			Prefix:      e.Prefix,
		}, spec.Namespace(), logger.Named("etcd"))
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return checkpoint.NewBlobStore(blobs, spec.Namespace()), func() error { return nil }, nil
	}
}
