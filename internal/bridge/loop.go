package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/kafka"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/resilience"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/tracing"
)

type Options struct {
	DeriveID         IDFunc
	CursorMode       string
	MaxAttempts      int
	RetryDelay       time.Duration
	ProvisionTimeout time.Duration
	CommitTimeout    time.Duration
	Observers        []Observer
	RunID            string
	Logger           *slog.Logger
}

// Loop owns one reader and one sink for its whole lifetime and releases both
// when Run returns.
type Loop struct {
	reader      StreamReader
	sink        DocumentSink
	deriveID    IDFunc
	cursor      *CursorPolicy
	provisioner *Provisioner
	retry       resilience.RetryConfig
	observers   []Observer
	runID       string
	logger      *slog.Logger
	closeOnce   sync.Once
	closeErr    error
}

func New(reader StreamReader, sink DocumentSink, opts Options) *Loop {
	if opts.DeriveID == nil {
		opts.DeriveID = HashID
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "ingestion-loop")
	if opts.RunID != "" {
		logger = logger.With("run_id", opts.RunID)
	}
	return &Loop{
		reader:      reader,
		sink:        sink,
		deriveID:    opts.DeriveID,
		cursor:      NewCursorPolicy(opts.CursorMode, reader, opts.CommitTimeout),
		provisioner: NewProvisioner(sink, opts.ProvisionTimeout),
		retry: resilience.RetryConfig{
			MaxAttempts:  opts.MaxAttempts,
			InitialDelay: opts.RetryDelay,
			MaxDelay:     10 * opts.RetryDelay,
			RetryIf:      apperrors.Retryable,
		},
		observers: opts.Observers,
		runID:     opts.RunID,
		logger:    logger,
	}
}

// Run provisions the destination and then processes batches until ctx is
// cancelled, which is a clean stop and returns nil. A provisioning failure,
// a stream transport failure or a stalled cursor ends the run with an error.
// Reader and sink are closed on every exit path.
func (l *Loop) Run(ctx context.Context, destination string, pollTimeout time.Duration) error {
	defer func() {
		if err := l.Close(); err != nil {
			l.logger.Warn("releasing resources", "error", err)
		}
	}()

	result, err := l.provisioner.Ensure(ctx, destination)
	l.observeProvisioning(destination, result, err)
	if err != nil {
		if ctx.Err() != nil {
			l.logger.Info("ingestion loop cancelled during provisioning")
			return nil
		}
		return err
	}

	l.logger.Info("ingestion loop started",
		"destination", destination,
		"poll_timeout", pollTimeout,
		"cursor_mode", l.cursor.Mode(),
	)
	for {
		if ctx.Err() != nil {
			l.logger.Info("ingestion loop stopping", "reason", ctx.Err())
			return nil
		}
		if _, err := l.RunOnce(ctx, destination, pollTimeout); err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				l.logger.Info("ingestion loop stopping", "reason", ctx.Err())
				return nil
			}
			l.logger.Error("ingestion loop failed", "error", err, "kind", apperrors.Kind(err))
			return err
		}
	}
}

// RunOnce fetches and processes a single batch. The destination must already
// exist.
func (l *Loop) RunOnce(ctx context.Context, destination string, pollTimeout time.Duration) (*BatchReport, error) {
	events, err := l.reader.Fetch(ctx, pollTimeout)
	if err != nil {
		return nil, err
	}
	report := &BatchReport{
		Destination: destination,
		Fetched:     len(events),
		Committed:   make(map[int]int64),
		Started:     time.Now(),
	}
	l.logger.Info("batch received", "count", len(events))

	spanCtx, span := tracing.StartSpan(ctx, "batch", l.runID)
	span.SetAttr("destination", destination)
	span.SetAttr("fetched", len(events))

	l.process(spanCtx, destination, events, report)

	if err := l.cursor.Commit(ctx, report); err != nil {
		report.CommitErr = err
		l.logger.Error("cursor commit failed, positions will be retried with the next batch",
			"error", err,
		)
	} else if len(report.Committed) > 0 {
		l.logger.Info("batch committed",
			"offsets", report.Committed,
			"indexed", report.Count(StatusIndexed),
			"unchanged", report.Count(StatusDuplicate),
			"skipped", report.Count(StatusFailed),
		)
	}
	report.Duration = time.Since(report.Started)

	var stallErr error
	if report.Stalled != nil {
		stallErr = &apperrors.EventError{
			Err:       fmt.Errorf("%w: %w", apperrors.ErrCursorStalled, report.Stalled.Err),
			Topic:     report.Stalled.Event.Topic,
			Partition: report.Stalled.Event.Partition,
			Offset:    report.Stalled.Event.Offset,
		}
	}
	span.SetAttr("indexed", report.Count(StatusIndexed))
	span.SetAttr("failed", report.Count(StatusFailed))
	span.End(stallErr)
	span.Log(ctx, l.logger)

	observeCtx := context.WithoutCancel(ctx)
	for _, o := range l.observers {
		o.ObserveBatch(observeCtx, report)
	}
	return report, stallErr
}

func (l *Loop) process(ctx context.Context, destination string, events []kafka.Event, report *BatchReport) {
	for i, ev := range events {
		if ctx.Err() != nil {
			report.Interrupted = true
			l.logger.Info("cancellation requested, leaving rest of batch uncommitted",
				"remaining", len(events)-i,
			)
			return
		}
		outcome, attempted := l.handle(ctx, destination, ev)
		if !attempted {
			report.Interrupted = true
			l.logger.Info("cancellation interrupted upsert retries, event left uncommitted",
				"topic", ev.Topic,
				"partition", ev.Partition,
				"offset", ev.Offset,
			)
			return
		}
		report.Outcomes = append(report.Outcomes, outcome)

		if outcome.Status == StatusFailed && !l.cursor.Advances(outcome) {
			stalled := outcome
			report.Stalled = &stalled
			l.logger.Error("event failed after retries, cursor held",
				"topic", ev.Topic,
				"partition", ev.Partition,
				"offset", ev.Offset,
				"doc_id", outcome.DocumentID,
				"attempts", outcome.Attempts,
				"error", outcome.Err,
			)
			return
		}
		l.logOutcome(outcome)
	}
}

// handle runs one event through id derivation and upsert. The second result
// is false when cancellation prevented the attempt from completing.
func (l *Loop) handle(ctx context.Context, destination string, ev kafka.Event) (Outcome, bool) {
	start := time.Now()
	out := Outcome{Event: ev}
	_, span := tracing.StartChildSpan(ctx, "upsert")
	span.SetAttr("partition", ev.Partition)
	span.SetAttr("offset", ev.Offset)
	defer func() {
		out.Duration = time.Since(start)
		span.End(out.Err)
	}()

	id, err := l.deriveID(ev.Value)
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
		return out, true
	}
	out.DocumentID = id
	span.SetAttr("doc_id", id)

	// An upsert that has started runs to completion even if ctx is cancelled.
	upsertCtx := context.WithoutCancel(ctx)
	upsert := func() error {
		out.Attempts++
		return l.sink.Upsert(upsertCtx, destination, id, ev.Value)
	}
	if l.cursor.Strict() {
		err = resilience.Retry(ctx, "upsert "+id, l.retry, upsert)
		if err != nil && ctx.Err() != nil && !errors.Is(err, apperrors.ErrStore) && !errors.Is(err, apperrors.ErrMalformedPayload) {
			return out, false
		}
	} else {
		err = upsert()
	}

	switch {
	case err == nil:
		out.Status = StatusIndexed
	case errors.Is(err, apperrors.ErrDuplicate):
		out.Status = StatusDuplicate
	default:
		out.Status = StatusFailed
		out.Err = err
	}
	return out, true
}

func (l *Loop) logOutcome(o Outcome) {
	switch o.Status {
	case StatusIndexed:
		l.logger.Info("document indexed",
			"doc_id", o.DocumentID,
			"topic", o.Event.Topic,
			"partition", o.Event.Partition,
			"offset", o.Event.Offset,
		)
	case StatusDuplicate:
		l.logger.Debug("document unchanged, upsert skipped",
			"doc_id", o.DocumentID,
			"partition", o.Event.Partition,
			"offset", o.Event.Offset,
		)
	default:
		l.logger.Error("event skipped",
			"topic", o.Event.Topic,
			"partition", o.Event.Partition,
			"offset", o.Event.Offset,
			"doc_id", o.DocumentID,
			"kind", apperrors.Kind(o.Err),
			"error", o.Err,
		)
	}
}

func (l *Loop) observeProvisioning(destination string, result ProvisionResult, err error) {
	for _, o := range l.observers {
		if po, ok := o.(ProvisionObserver); ok {
			po.ObserveProvisioning(destination, result, err)
		}
	}
}

// Close releases the reader and the sink. It is safe to call more than once.
func (l *Loop) Close() error {
	l.closeOnce.Do(func() {
		l.closeErr = errors.Join(l.reader.Close(), l.sink.Close())
	})
	return l.closeErr
}
