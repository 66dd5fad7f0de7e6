// Command produce publishes newline-delimited JSON payloads to the bridge's
// source topic. It is meant for local smoke tests: each record is keyed by
// the document id the bridge will derive, so redelivery scenarios can be
// reproduced by publishing the same file twice.
//
// Usage:
//
//	go run ./cmd/produce [-config configs/development.yaml] [-file events.jsonl]
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/koraykocakaya/opensearch-kafka-consumer/internal/bridge"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/config"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/kafka"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/logger"
)

const maxLineSize = 4 << 20

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	file := flag.String("file", "", "file of newline-delimited payloads (default stdin)")
	topic := flag.String("topic", "", "topic to publish to (default from config)")
	batchSize := flag.Int("batch", 100, "records per publish call")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)

	if *topic == "" {
		*topic = cfg.Kafka.Topic
	}
	deriveID, err := bridge.NewIDFunc(cfg.Bridge.IDStrategy, cfg.Bridge.IDField)
	if err != nil {
		slog.Error("invalid id strategy", "error", err)
		os.Exit(1)
	}

	in, closeInput, err := openInput(*file)
	if err != nil {
		slog.Error("opening input", "file", *file, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	producer := kafka.NewProducer(cfg.Kafka, *topic)
	published, skipped, err := publish(ctx, producer, in, deriveID, *batchSize)
	closeInput()
	if cerr := producer.Close(); cerr != nil {
		slog.Error("closing producer", "error", cerr)
	}
	if err != nil {
		slog.Error("publish failed", "published", published, "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("publish complete", "topic", *topic, "published", published, "skipped", skipped)
}

// openInput returns stdin for an empty path. The returned close func must be
// called on every exit path, since os.Exit skips deferred calls.
func openInput(path string) (io.Reader, func(), error) {
	if path == "" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func publish(ctx context.Context, producer *kafka.Producer, in io.Reader, deriveID bridge.IDFunc, batchSize int) (published, skipped int, err error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	batch := make([]kafka.Record, 0, batchSize)
	flush := func() error {
		if err := producer.PublishBatch(ctx, batch); err != nil {
			return err
		}
		published += len(batch)
		batch = batch[:0]
		return nil
	}

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		payload := append([]byte(nil), raw...)
		id, err := deriveID(payload)
		if err != nil {
			slog.Warn("skipping line", "line", line, "error", err)
			skipped++
			continue
		}
		batch = append(batch, kafka.Record{Key: id, Value: payload})
		if len(batch) == batchSize {
			if err := flush(); err != nil {
				return published, skipped, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return published, skipped, fmt.Errorf("reading input at line %d: %w", line, err)
	}
	if err := flush(); err != nil {
		return published, skipped, err
	}
	return published, skipped, nil
}
