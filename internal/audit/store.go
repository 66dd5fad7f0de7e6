// Package audit keeps a PostgreSQL ledger of processed batches: how many
// events each batch fetched, how they ended, and where the cursor moved.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/koraykocakaya/opensearch-kafka-consumer/internal/bridge"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/postgres"
)

const schema = `
CREATE TABLE IF NOT EXISTS ingest_batches (
    id            UUID PRIMARY KEY,
    run_id        TEXT NOT NULL,
    destination   TEXT NOT NULL,
    fetched       INTEGER NOT NULL,
    indexed       INTEGER NOT NULL,
    duplicates    INTEGER NOT NULL,
    failed        INTEGER NOT NULL,
    offsets       JSONB NOT NULL,
    interrupted   BOOLEAN NOT NULL DEFAULT FALSE,
    stalled       BOOLEAN NOT NULL DEFAULT FALSE,
    commit_failed BOOLEAN NOT NULL DEFAULT FALSE,
    duration_ms   BIGINT NOT NULL,
    captured_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS ingest_batches_captured_at_idx ON ingest_batches (captured_at DESC);
`

// Record is one row of the ledger.
type Record struct {
	ID           uuid.UUID
	RunID        string
	Destination  string
	Fetched      int
	Indexed      int
	Duplicates   int
	Failed       int
	Offsets      map[int]int64
	Interrupted  bool
	Stalled      bool
	CommitFailed bool
	Duration     time.Duration
	CapturedAt   time.Time
}

// RecordFromReport summarizes a batch report for storage.
func RecordFromReport(runID string, r *bridge.BatchReport) Record {
	offsets := make(map[int]int64, len(r.Committed))
	for p, off := range r.Committed {
		offsets[p] = off
	}
	return Record{
		ID:           uuid.New(),
		RunID:        runID,
		Destination:  r.Destination,
		Fetched:      r.Fetched,
		Indexed:      r.Count(bridge.StatusIndexed),
		Duplicates:   r.Count(bridge.StatusDuplicate),
		Failed:       r.Count(bridge.StatusFailed),
		Offsets:      offsets,
		Interrupted:  r.Interrupted,
		Stalled:      r.Stalled != nil,
		CommitFailed: r.CommitErr != nil,
		Duration:     r.Duration,
		CapturedAt:   r.Started.Add(r.Duration).UTC(),
	}
}

// Store persists batch records. It implements bridge.Observer.
type Store struct {
	db     *postgres.Client
	runID  string
	logger *slog.Logger
}

func NewStore(db *postgres.Client, runID string) *Store {
	return &Store{
		db:     db,
		runID:  runID,
		logger: slog.Default().With("component", "audit-store"),
	}
}

// EnsureSchema creates the ingest_batches table when it is missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating audit schema: %w", err)
	}
	return nil
}

// ObserveBatch records non-empty batches. Failures are logged and never
// affect ingestion.
func (s *Store) ObserveBatch(ctx context.Context, r *bridge.BatchReport) {
	if r.Fetched == 0 {
		return
	}
	rec := RecordFromReport(s.runID, r)
	if err := s.Save(ctx, rec); err != nil {
		s.logger.Error("audit record failed", "batch_id", rec.ID, "error", err)
	}
}

func (s *Store) Save(ctx context.Context, rec Record) error {
	offsets, err := json.Marshal(rec.Offsets)
	if err != nil {
		return fmt.Errorf("marshaling offsets: %w", err)
	}
	_, err = s.db.DB.ExecContext(ctx,
		`INSERT INTO ingest_batches
		    (id, run_id, destination, fetched, indexed, duplicates, failed, offsets,
		     interrupted, stalled, commit_failed, duration_ms, captured_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID.String(), rec.RunID, rec.Destination,
		rec.Fetched, rec.Indexed, rec.Duplicates, rec.Failed, offsets,
		rec.Interrupted, rec.Stalled, rec.CommitFailed,
		rec.Duration.Milliseconds(), rec.CapturedAt,
	)
	if err != nil {
		return fmt.Errorf("saving batch record: %w", err)
	}
	return nil
}

// Recent returns the last limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT id, run_id, destination, fetched, indexed, duplicates, failed, offsets,
		        interrupted, stalled, commit_failed, duration_ms, captured_at
		 FROM ingest_batches ORDER BY captured_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing batch records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			id         string
			offsets    []byte
			durationMS int64
		)
		if err := rows.Scan(&id, &rec.RunID, &rec.Destination,
			&rec.Fetched, &rec.Indexed, &rec.Duplicates, &rec.Failed, &offsets,
			&rec.Interrupted, &rec.Stalled, &rec.CommitFailed, &durationMS, &rec.CapturedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning batch record: %w", err)
		}
		if rec.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parsing batch id %q: %w", id, err)
		}
		if err := json.Unmarshal(offsets, &rec.Offsets); err != nil {
			s.logger.Warn("skipping corrupt batch record", "batch_id", id, "error", err)
			continue
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}
	return records, rows.Err()
}
