package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/thnyheim/misp2bro/internal/config"
	"github.com/thnyheim/misp2bro/internal/digest"
	errs "github.com/thnyheim/misp2bro/internal/errors"
	"github.com/thnyheim/misp2bro/internal/exporter"
	"github.com/thnyheim/misp2bro/internal/feed"
	"github.com/thnyheim/misp2bro/internal/indicator"
	"github.com/thnyheim/misp2bro/internal/logging"
	"github.com/thnyheim/misp2bro/internal/metrics"
	"github.com/thnyheim/misp2bro/internal/pipeline"
	"github.com/thnyheim/misp2bro/internal/sink"
	"github.com/thnyheim/misp2bro/internal/source"
	"github.com/thnyheim/misp2bro/internal/store"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath  = flag.String("config", "/etc/misp2bro/config.yml", "path to YAML config")
		interval = flag.Duration("interval", 0, "run every interval; 0 runs once and exits")
		force    = flag.Bool("force", false, "build and distribute even if the export is unchanged")
		dryRun   = flag.Bool("dry-run", false, "write the feed but do not push it to sensors")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "misp2bro: %v\n", errs.Wrap(errs.StageConfig, *cfgPath, err))
		return 1
	}
	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "misp2bro: %v\n", errs.Wrap(errs.StageConfig, "log", err))
		return 1
	}
	defer closeLog()
	logger.Info("misp2bro starting",
		zap.String("version", Version),
		zap.String("misp", cfg.MISP.ExportURL()),
		zap.Duration("interval", *interval),
		zap.Bool("force", *force),
		zap.Bool("dry_run", *dryRun))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	p, closeDeps, err := build(cfg, m, logger, pipeline.Options{
		ExportPath: cfg.Files.Export,
		Force:      *force,
		DryRun:     *dryRun,
	})
	if err != nil {
		logger.Error("startup failed", zap.String("stage", errs.StageOf(err).String()), zap.Error(err))
		return 1
	}
	defer closeDeps()

	if *interval <= 0 {
		_, runErr := p.Run(ctx)
		if cfg.Metrics.Textfile != "" {
			if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
				logger.Warn("write metrics textfile", zap.String("path", cfg.Metrics.Textfile), zap.Error(err))
			}
		}
		if runErr != nil {
			return 1
		}
		return 0
	}

	if addr := cfg.Metrics.ListenAddress; addr != "" {
		exp := exporter.New(addr, m.Registry(), p.Healthy, 5*time.Second, 10*time.Second, 60*time.Second)
		go func() {
			logger.Info("metrics listening", zap.String("addr", addr))
			if err := exp.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			_ = exp.Shutdown(sctx)
		}()
	}

	// Runs are sequential, so a slow run delays the next tick instead of overlapping it.
	_, _ = p.Run(ctx)
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopping", zap.Error(ctx.Err()))
			return 0
		case <-ticker.C:
			_, _ = p.Run(ctx)
		}
	}
}

// build wires the pipeline from config. The returned func releases the
// digest store.
func build(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger, opts pipeline.Options) (*pipeline.Pipeline, func(), error) {
	hasher, err := digest.New(cfg.Hash.Algorithm)
	if err != nil {
		return nil, nil, errs.Wrap(errs.StageConfig, "hash.algorithm", err)
	}

	var (
		state   store.DigestStore
		closeFn = func() {}
	)
	switch cfg.State.Backend {
	case "redis":
		rs := store.NewRedisStore(store.RedisOptions{
			Addr:     cfg.State.Redis.Addr,
			Password: cfg.State.Redis.Password,
			DB:       cfg.State.Redis.DB,
			Key:      cfg.State.Redis.Key,
		})
		state = rs
		closeFn = func() { _ = rs.Close() }
	default:
		state = store.NewFileStore(cfg.Files.Digest)
	}
	logger.Info("digest store", zap.String("store", state.Name()), zap.String("algorithm", hasher.Algorithm()))

	deps := pipeline.Deps{
		Fetcher:  source.NewMISPSource(cfg.MISP),
		Parser:   source.NewXMLParser(),
		Hasher:   hasher,
		Detector: store.NewChangeDetector(state),
		Builder: feed.NewBuilder(indicator.NewMapper(cfg.MISP.EventURLBase),
			feed.WithStrict(cfg.Feed.Strict),
			feed.WithLogger(logger)),
		Writer:  feed.NewWriter(cfg.Files.Feed),
		Metrics: m,
		Logger:  logger,
	}

	if cfg.Sensors.IsEnabled() {
		client, err := sink.NewFromConfig(cfg.Sensors)
		if err != nil {
			closeFn()
			return nil, nil, errs.Wrap(errs.StageConfig, "sensors", err)
		}
		deps.Distributor = sink.NewDistributor(client,
			sink.WithTimeout(cfg.Sensors.Timeout),
			sink.WithConcurrency(cfg.Sensors.Concurrency),
			sink.WithFailFast(cfg.Sensors.FailFast),
			sink.WithLogger(logger))
		listFile := cfg.Sensors.ListFile
		deps.Sensors = func() ([]string, error) { return sink.LoadSensors(listFile) }
		logger.Info("sensor distribution enabled",
			zap.String("transport", client.Name()),
			zap.String("list", listFile),
			zap.Int("concurrency", cfg.Sensors.Concurrency))
	} else {
		logger.Info("sensor distribution disabled")
	}

	p, err := pipeline.New(deps, opts)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return p, closeFn, nil
}
