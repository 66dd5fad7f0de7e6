package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/config"
	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/kafka"
)

func outcome(partition int, offset int64, status Status, err error) Outcome {
	return Outcome{Event: event(partition, offset, "{}"), Status: status, Err: err}
}

func TestPlanAttemptedAdvancesPastFailures(t *testing.T) {
	p := NewCursorPolicy(config.CursorModeAttempted, &fakeReader{}, time.Second)
	plan := p.Plan([]Outcome{
		outcome(0, 1, StatusIndexed, nil),
		outcome(1, 3, StatusFailed, storeFailure("x")),
		outcome(0, 2, StatusFailed, storeFailure("y")),
	})
	if len(plan) != 2 || plan[0].Partition != 0 || plan[0].Offset != 2 || plan[1].Offset != 3 {
		t.Fatalf("plan = %+v", plan)
	}
}

func TestPlanSucceededStopsAtRetryableFailure(t *testing.T) {
	p := NewCursorPolicy(config.CursorModeSucceeded, &fakeReader{}, time.Second)
	malformed := fmt.Errorf("%w: bad json", apperrors.ErrMalformedPayload)
	plan := p.Plan([]Outcome{
		outcome(0, 1, StatusIndexed, nil),
		outcome(0, 2, StatusFailed, malformed),
		outcome(0, 3, StatusFailed, storeFailure("z")),
		outcome(0, 4, StatusIndexed, nil),
		outcome(1, 9, StatusDuplicate, apperrors.ErrDuplicate),
	})
	got := map[int]int64{}
	for _, ev := range plan {
		got[ev.Partition] = ev.Offset
	}
	if got[0] != 2 || got[1] != 9 || len(got) != 2 {
		t.Fatalf("plan = %v", got)
	}
}

func TestCommitIsMonotonic(t *testing.T) {
	reader := &fakeReader{}
	p := NewCursorPolicy(config.CursorModeAttempted, reader, time.Second)
	ctx := context.Background()

	first := &BatchReport{Outcomes: []Outcome{outcome(0, 10, StatusIndexed, nil)}}
	if err := p.Commit(ctx, first); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	redelivered := &BatchReport{Outcomes: []Outcome{
		outcome(0, 8, StatusIndexed, nil),
		outcome(0, 10, StatusIndexed, nil),
	}}
	if err := p.Commit(ctx, redelivered); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if len(reader.commits) != 1 {
		t.Fatalf("commits = %v", reader.commits)
	}
	if len(redelivered.Committed) != 0 {
		t.Errorf("redelivered batch committed %v", redelivered.Committed)
	}
	if pos, _ := p.Position(0); pos != 10 {
		t.Errorf("position = %d", pos)
	}
}

type blockingCommitter struct{}

func (blockingCommitter) Commit(ctx context.Context, _ []kafka.Event) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCommitSurvivesCancellationButIsBounded(t *testing.T) {
	reader := &fakeReader{}
	p := NewCursorPolicy(config.CursorModeAttempted, reader, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report := &BatchReport{Outcomes: []Outcome{outcome(3, 1, StatusIndexed, nil)}}
	if err := p.Commit(ctx, report); err != nil {
		t.Fatalf("Commit after cancel: %v", err)
	}
	if report.Committed[3] != 1 {
		t.Errorf("committed = %v", report.Committed)
	}

	bounded := NewCursorPolicy(config.CursorModeAttempted, blockingCommitter{}, 10*time.Millisecond)
	err := bounded.Commit(context.Background(), &BatchReport{Outcomes: []Outcome{outcome(0, 1, StatusIndexed, nil)}})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if _, ok := bounded.Position(0); ok {
		t.Error("failed commit recorded a position")
	}
}
