// Package errors defines the failure taxonomy shared by the stream reader,
// the document sink and the ingestion loop. Adapters wrap their causes with
// one of these sentinels so callers can decide between "isolate and continue"
// and "stop the process" with errors.Is.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport means the log system is unreachable. Fatal to the loop.
	ErrTransport = errors.New("stream transport failure")
	// ErrMalformedPayload means the event content is not structurally parseable.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrStore is a failure reported by the index store during upsert.
	ErrStore = errors.New("index store failure")
	// ErrProvisioning means the destination could not be checked or created.
	ErrProvisioning = errors.New("destination provisioning failed")
	// ErrAlreadyExists is returned by create when another instance won the race.
	ErrAlreadyExists = errors.New("destination already exists")
	// ErrDuplicate marks an upsert skipped because the same content is already indexed.
	ErrDuplicate = errors.New("document unchanged")
	// ErrCursorStalled stops the loop when the cursor cannot advance past a failed event.
	ErrCursorStalled = errors.New("cursor stalled on failed event")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// EventError carries the stream coordinates of the event that failed.
type EventError struct {
	Err       error
	Topic     string
	Partition int
	Offset    int64
}

func (e *EventError) Error() string {
	return fmt.Sprintf("%s[%d]@%d: %s", e.Topic, e.Partition, e.Offset, e.Err.Error())
}

func (e *EventError) Unwrap() error {
	return e.Err
}

// Kind maps err onto its taxonomy name for log and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrStore):
		return "store"
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrProvisioning):
		return "provisioning"
	case errors.Is(err, ErrCursorStalled):
		return "cursor_stalled"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	default:
		return "unknown"
	}
}

// Retryable reports whether retrying the same upsert can change the outcome.
func Retryable(err error) bool {
	return errors.Is(err, ErrStore) && !errors.Is(err, ErrMalformedPayload)
}
