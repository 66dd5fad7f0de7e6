// Package kafka provides the stream side of the bridge backed by
// segmentio/kafka-go: a StreamReader that fetches bounded batches from a
// consumer group and commits cursors explicitly, and a Producer used by the
// operator tooling to publish raw payloads.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/config"
	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
)

// Event is one immutable message read from the topic together with the
// coordinates the stream assigned to it.
type Event struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Time      time.Time
}

// messageReader is the subset of *kafka.Reader the StreamReader relies on.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
	Close() error
}

// StreamReader fetches batches of events from one topic on behalf of a
// consumer group. Offsets are only committed through Commit.
type StreamReader struct {
	reader   messageReader
	topic    string
	maxBatch int
	logger   *slog.Logger
}

// NewStreamReader creates a StreamReader subscribed to cfg.Topic. On a
// group's first-ever connect the position is taken from cfg.StartOffset.
func NewStreamReader(cfg config.KafkaConfig) *StreamReader {
	logger := slog.Default().With("component", "stream-reader", "topic", cfg.Topic)
	startOffset := kafka.LastOffset
	if cfg.StartOffset == config.StartOffsetEarliest {
		startOffset = kafka.FirstOffset
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		StartOffset:    startOffset,
		CommitInterval: 0,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	})
	return newStreamReader(r, cfg.Topic, cfg.MaxBatch, logger)
}

func newStreamReader(r messageReader, topic string, maxBatch int, logger *slog.Logger) *StreamReader {
	if maxBatch <= 0 {
		maxBatch = 500
	}
	return &StreamReader{
		reader:   r,
		topic:    topic,
		maxBatch: maxBatch,
		logger:   logger,
	}
}

// Fetch blocks for at most timeout collecting events in arrival order and
// returns early once the batch is full. An elapsed timeout is not an error:
// the batch may be empty. Cancellation of ctx returns ctx.Err() and drops the
// uncommitted events, which the group redelivers later.
func (s *StreamReader) Fetch(ctx context.Context, timeout time.Duration) ([]Event, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	batch := make([]Event, 0)
	for len(batch) < s.maxBatch {
		msg, err := s.reader.FetchMessage(fetchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) || fetchCtx.Err() != nil {
				return batch, nil
			}
			return nil, fmt.Errorf("fetching from %s: %w: %w", s.topic, apperrors.ErrTransport, err)
		}
		batch = append(batch, Event{
			Topic:     msg.Topic,
			Partition: msg.Partition,
			Offset:    msg.Offset,
			Key:       msg.Key,
			Value:     msg.Value,
			Time:      msg.Time,
		})
	}
	return batch, nil
}

// Commit advances the group cursor past every given event. kafka-go commits
// the highest offset per partition among the messages.
func (s *StreamReader) Commit(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, ev := range events {
		msgs = append(msgs, kafka.Message{
			Topic:     ev.Topic,
			Partition: ev.Partition,
			Offset:    ev.Offset,
		})
	}
	if err := s.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("committing %d offsets on %s: %w: %w", len(msgs), s.topic, apperrors.ErrTransport, err)
	}
	return nil
}

// Lag returns the reader's last known lag behind the partition head.
func (s *StreamReader) Lag() int64 {
	return s.reader.Stats().Lag
}

// Close closes the underlying Kafka reader and leaves the group.
func (s *StreamReader) Close() error {
	s.logger.Info("closing stream reader")
	return s.reader.Close()
}
