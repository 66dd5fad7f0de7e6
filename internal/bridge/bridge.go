// Package bridge is the ingestion core: it drains one Kafka topic into one
// OpenSearch index. Each iteration fetches a batch, derives a stable document
// id per event, upserts every event in arrival order with per-event failure
// isolation, and then lets the cursor policy advance the consumer group.
package bridge

import (
	"context"
	"time"

	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/kafka"
)

// StreamReader is the log-system side of the bridge.
type StreamReader interface {
	// Fetch blocks for at most timeout and returns events in arrival order.
	// An empty batch is a normal result.
	Fetch(ctx context.Context, timeout time.Duration) ([]kafka.Event, error)
	// Commit moves the group cursor past the given events.
	Commit(ctx context.Context, events []kafka.Event) error
	Close() error
}

// DocumentSink is the index-store side of the bridge.
type DocumentSink interface {
	Exists(ctx context.Context, destination string) (bool, error)
	Create(ctx context.Context, destination string) error
	// Upsert inserts or overwrites the document stored under id.
	Upsert(ctx context.Context, destination, id string, payload []byte) error
	Close() error
}

// Observer receives the report of every completed batch, empty ones included.
type Observer interface {
	ObserveBatch(ctx context.Context, report *BatchReport)
}

// ProvisionObserver is implemented by observers that also track destination
// provisioning.
type ProvisionObserver interface {
	ObserveProvisioning(destination string, result ProvisionResult, err error)
}

// Status is the outcome of one processing attempt of an event.
type Status string

const (
	StatusIndexed   Status = "indexed"
	StatusDuplicate Status = "duplicate"
	StatusFailed    Status = "failed"
)

// Outcome is the explicit per-event result of one processing attempt.
type Outcome struct {
	Event      kafka.Event
	DocumentID string
	Status     Status
	Err        error
	Attempts   int
	Duration   time.Duration
}

// BatchReport aggregates the outcomes of one fetch iteration.
type BatchReport struct {
	Destination string
	Fetched     int
	Outcomes    []Outcome
	// Committed holds, per partition, the offset of the last event the
	// cursor moved past in this batch.
	Committed map[int]int64
	CommitErr error
	// Interrupted is set when cancellation left part of the batch unattempted.
	Interrupted bool
	// Stalled is the event the cursor could not move past, if any.
	Stalled  *Outcome
	Started  time.Time
	Duration time.Duration
}

// Count returns how many outcomes have the given status.
func (r *BatchReport) Count(status Status) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Attempted returns how many events of the batch were processed.
func (r *BatchReport) Attempted() int {
	return len(r.Outcomes)
}
