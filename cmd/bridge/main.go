// Command bridge drains a Kafka topic into an OpenSearch index.
//
// Every event becomes one document whose id is derived from the payload, so
// redelivered events overwrite instead of duplicating. The process exposes
// Prometheus metrics and liveness/readiness probes on the ops port and stops
// cleanly on SIGINT/SIGTERM.
//
// Usage:
//
//	go run ./cmd/bridge [-config configs/development.yaml]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/koraykocakaya/opensearch-kafka-consumer/internal/audit"
	"github.com/koraykocakaya/opensearch-kafka-consumer/internal/bridge"
	"github.com/koraykocakaya/opensearch-kafka-consumer/internal/dedup"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/config"
	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/health"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/kafka"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/logger"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/metrics"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/opensearch"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/postgres"
	pkgredis "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/redis"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	runID := uuid.NewString()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.WithRunID(ctx, runID)
	log := logger.FromContext(ctx)

	log.Info("starting bridge",
		"topic", cfg.Kafka.Topic,
		"group", cfg.Kafka.ConsumerGroup,
		"index", cfg.OpenSearch.Index,
		"id_strategy", cfg.Bridge.IDStrategy,
		"cursor_mode", cfg.Bridge.CursorMode,
	)
	if err := run(ctx, cfg, runID, log); err != nil {
		log.Error("bridge stopped with error", "error", err, "kind", apperrors.Kind(err))
		stop()
		os.Exit(1)
	}
	log.Info("bridge stopped")
}

// run wires the clients and blocks until the loop ends. The loop owns the
// reader and the sink; run releases everything else.
func run(ctx context.Context, cfg *config.Config, runID string, log *slog.Logger) error {
	deriveID, err := bridge.NewIDFunc(cfg.Bridge.IDStrategy, cfg.Bridge.IDField)
	if err != nil {
		return err
	}
	osSink, err := opensearch.New(cfg.OpenSearch)
	if err != nil {
		return err
	}
	var sink bridge.DocumentSink = osSink

	checker := health.NewChecker()
	checker.Register("opensearch", health.Ping(osSink.Ping))

	if cfg.Redis.Enabled {
		rc, err := pkgredis.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("redis unavailable, running without dedup cache", "addr", cfg.Redis.Addr, "error", err)
		} else {
			sink = dedup.New(osSink, rc, cfg.Redis.DedupTTL)
			checker.RegisterOptional("redis", health.Ping(rc.Ping))
			log.Info("dedup cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.DedupTTL)
		}
	}

	var observers []bridge.Observer
	if cfg.Postgres.Enabled {
		db, err := postgres.New(cfg.Postgres)
		if err != nil {
			log.Warn("postgres unavailable, running without batch audit", "error", err)
		} else {
			defer db.Close()
			store := audit.NewStore(db, runID)
			if err := store.EnsureSchema(ctx); err != nil {
				log.Warn("audit schema unavailable, running without batch audit", "error", err)
			} else {
				observers = append(observers, store)
				checker.RegisterOptional("postgres", health.Ping(db.Ping))
				log.Info("batch audit enabled", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
			}
		}
	}

	reader := kafka.NewStreamReader(cfg.Kafka)
	checker.RegisterOptional("kafka", func(context.Context) health.ComponentHealth {
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("lag=%d", reader.Lag())}
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		observers = append(observers, bridge.NewMetricsObserver(metrics.New(prometheus.DefaultRegisterer)))
		shutdown := metrics.StartServer(cfg.Metrics.Port, checker)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error("ops server shutdown error", "error", err)
			}
			return nil
		})
	}

	loop := bridge.New(reader, sink, bridge.Options{
		DeriveID:         deriveID,
		CursorMode:       cfg.Bridge.CursorMode,
		MaxAttempts:      cfg.Bridge.MaxAttempts,
		ProvisionTimeout: cfg.OpenSearch.ProvisionTimeout,
		CommitTimeout:    cfg.Kafka.CommitTimeout,
		Observers:        observers,
		RunID:            runID,
	})
	g.Go(func() error {
		defer cancel()
		return loop.Run(gctx, cfg.OpenSearch.Index, cfg.Bridge.PollTimeout)
	})
	return g.Wait()
}
