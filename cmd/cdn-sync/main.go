package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/withObsrvr/obsrvr-cdn-sync/internal/checkpoint"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/codec"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/config"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/ledger"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/logging"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/metrics"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/progress"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/source"
	"github.com/withObsrvr/obsrvr-cdn-sync/internal/syncer"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cdn-sync: %v\n", err)
		os.Exit(2)
	}

	logging.Setup(logging.Config{Format: cfg.Logging.Format, Level: cfg.Logging.Level})
	slog.Info("cdn-sync starting", "version", Version, "network", cfg.Network)

	if err := run(cfg); err != nil {
		slog.Error("sync failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		slog.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metrics.Init("cdn_sync", cfg.Network)
		go metrics.Serve(cfg.Metrics.Address)
	}

	src, err := source.New(ctx, source.Config{
		Mode:           cfg.Source.Mode,
		BaseURL:        cfg.Source.BaseURL,
		BlobURL:        cfg.Source.BlobURL,
		LocalDir:       cfg.Source.LocalDir,
		Network:        cfg.Network,
		Compressed:     cfg.Source.Compressed,
		MaxRetries:     cfg.Sync.MaxRetries,
		RetryBaseDelay: cfg.Source.RetryBaseDelay,
		RequestTimeout: cfg.Source.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("create chunk source: %w", err)
	}
	defer src.Close()

	dec, err := codec.NewDecoder()
	if err != nil {
		return fmt.Errorf("create decoder: %w", err)
	}
	defer dec.Close()

	cp, err := checkpoint.NewManager(checkpoint.Config{
		Enabled: cfg.Checkpoint.Enabled,
		Dir:     cfg.Checkpoint.Dir,
		Network: cfg.Network,
	})
	if err != nil {
		return fmt.Errorf("create checkpoint manager: %w", err)
	}

	l, err := ledger.NewFileLedger(cfg.Ledger.Dir, cfg.Ledger.GenesisHash)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	s := syncer.New(syncer.Config{
		Network:        cfg.Network,
		SourceLocation: sourceLocation(cfg),
		StartHeight:    cfg.Sync.StartHeight,
		TargetHeight:   cfg.Sync.TargetHeight,
		ChunkSize:      cfg.Sync.ChunkSize,
		MaxConcurrency: cfg.Sync.MaxConcurrency,
		QueueSize:      cfg.Sync.QueueSize,
	}, src, dec, l, cp)

	reporterCtx, stopReporter := context.WithCancel(ctx)
	reporterDone := make(chan struct{})
	go func() {
		progress.NewReporter(s, nil, cfg.Sync.ProgressInterval).Run(reporterCtx)
		close(reporterDone)
	}()

	finalHeight, runErr := s.Run(ctx)
	stopReporter()
	<-reporterDone

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			slog.Info("sync interrupted", "applied_height", finalHeight)
			return nil
		}
		return runErr
	}

	slog.Info("sync finished", "applied_height", finalHeight)
	return nil
}

// sourceLocation is the checkpoint identity for the configured source.
func sourceLocation(cfg config.Config) string {
	switch cfg.Source.Mode {
	case "blob":
		return cfg.Source.BlobURL
	case "local":
		return cfg.Source.LocalDir
	default:
		return cfg.Source.BaseURL
	}
}
