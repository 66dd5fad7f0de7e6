package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/config"
	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/kafka"
)

// Committer persists cursor positions. StreamReader satisfies it.
type Committer interface {
	Commit(ctx context.Context, events []kafka.Event) error
}

// CursorPolicy decides how far the consumer group cursor may move after a
// batch. In attempted mode every processed event advances it, so a failed
// event is skipped for good. In succeeded mode the cursor stops in front of
// the first event that failed with a transient store error.
//
// Positions never move backwards: an outcome at or below the last committed
// offset of its partition is ignored.
type CursorPolicy struct {
	mode      string
	committer Committer
	timeout   time.Duration
	positions map[int]int64
}

// NewCursorPolicy creates a policy. Commits are bounded by timeout.
func NewCursorPolicy(mode string, committer Committer, timeout time.Duration) *CursorPolicy {
	if mode == "" {
		mode = config.CursorModeAttempted
	}
	return &CursorPolicy{
		mode:      mode,
		committer: committer,
		timeout:   timeout,
		positions: make(map[int]int64),
	}
}

// Mode returns the configured cursor mode.
func (p *CursorPolicy) Mode() string {
	return p.mode
}

// Strict reports whether failures hold the cursor back.
func (p *CursorPolicy) Strict() bool {
	return p.mode == config.CursorModeSucceeded
}

// Advances reports whether the cursor may move past the outcome's event.
func (p *CursorPolicy) Advances(o Outcome) bool {
	if !p.Strict() || o.Status != StatusFailed {
		return true
	}
	// Malformed payloads never succeed on redelivery.
	return !apperrors.Retryable(o.Err)
}

// Plan returns, per partition in first-seen order, the last event of the
// advanceable prefix of outcomes.
func (p *CursorPolicy) Plan(outcomes []Outcome) []kafka.Event {
	last := make(map[int]kafka.Event)
	blocked := make(map[int]bool)
	var order []int
	for _, o := range outcomes {
		part := o.Event.Partition
		if blocked[part] {
			continue
		}
		if !p.Advances(o) {
			blocked[part] = true
			continue
		}
		if pos, ok := p.positions[part]; ok && o.Event.Offset <= pos {
			continue
		}
		if prev, seen := last[part]; seen {
			if o.Event.Offset <= prev.Offset {
				continue
			}
		} else {
			order = append(order, part)
		}
		last[part] = o.Event
	}
	events := make([]kafka.Event, 0, len(order))
	for _, part := range order {
		events = append(events, last[part])
	}
	return events
}

// Commit advances the cursor for the report's outcomes and records the new
// positions in report.Committed. It survives cancellation of ctx so that a
// shutdown still persists the progress of the batch that was just processed.
func (p *CursorPolicy) Commit(ctx context.Context, report *BatchReport) error {
	events := p.Plan(report.Outcomes)
	if len(events) == 0 {
		return nil
	}
	commitCtx := context.WithoutCancel(ctx)
	if p.timeout > 0 {
		var cancel context.CancelFunc
		commitCtx, cancel = context.WithTimeout(commitCtx, p.timeout)
		defer cancel()
	}
	if err := p.committer.Commit(commitCtx, events); err != nil {
		return fmt.Errorf("committing %d partition cursors: %w", len(events), err)
	}
	if report.Committed == nil {
		report.Committed = make(map[int]int64, len(events))
	}
	for _, ev := range events {
		p.positions[ev.Partition] = ev.Offset
		report.Committed[ev.Partition] = ev.Offset
	}
	return nil
}

// Position returns the last offset committed for a partition.
func (p *CursorPolicy) Position(partition int) (int64, bool) {
	off, ok := p.positions[partition]
	return off, ok
}
