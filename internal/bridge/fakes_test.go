package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/kafka"
)

type fakeReader struct {
	mu        sync.Mutex
	batches   [][]kafka.Event
	fetchErr  error
	commitErr []error
	commits   [][]kafka.Event
	closed    int
	// drained runs once the queued batches are used up.
	drained func()
}

func (r *fakeReader) Fetch(ctx context.Context, _ time.Duration) ([]kafka.Event, error) {
	r.mu.Lock()
	if r.fetchErr != nil {
		err := r.fetchErr
		r.mu.Unlock()
		return nil, err
	}
	if len(r.batches) > 0 {
		batch := r.batches[0]
		r.batches = r.batches[1:]
		r.mu.Unlock()
		return batch, nil
	}
	drained := r.drained
	r.drained = nil
	r.mu.Unlock()
	if drained != nil {
		drained()
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, nil
}

func (r *fakeReader) Commit(_ context.Context, events []kafka.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.commitErr) > 0 {
		err := r.commitErr[0]
		r.commitErr = r.commitErr[1:]
		if err != nil {
			return err
		}
	}
	r.commits = append(r.commits, append([]kafka.Event(nil), events...))
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
	return nil
}

func (r *fakeReader) committed() map[int]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int]int64)
	for _, batch := range r.commits {
		for _, ev := range batch {
			out[ev.Partition] = ev.Offset
		}
	}
	return out
}

type fakeSink struct {
	mu        sync.Mutex
	docs      map[string]map[string][]byte
	puts      []string
	creates   int
	existsErr error
	createErr error
	upsertErr func(call int, id string) error
	calls     int
	closed    int
}

func newFakeSink() *fakeSink {
	return &fakeSink{docs: make(map[string]map[string][]byte)}
}

func (s *fakeSink) Exists(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.docs[name]
	return ok, nil
}

func (s *fakeSink) Create(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, ok := s.docs[name]; ok {
		return fmt.Errorf("%w: %s", apperrors.ErrAlreadyExists, name)
	}
	s.creates++
	s.docs[name] = make(map[string][]byte)
	return nil
}

func (s *fakeSink) Upsert(_ context.Context, name, id string, payload []byte) error {
	s.mu.Lock()
	s.calls++
	call := s.calls
	hook := s.upsertErr
	s.mu.Unlock()
	if hook != nil {
		if err := hook(call, id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	docs, ok := s.docs[name]
	if !ok {
		return fmt.Errorf("%w: index %s missing", apperrors.ErrStore, name)
	}
	docs[id] = append([]byte(nil), payload...)
	s.puts = append(s.puts, id)
	return nil
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSink) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs[name])
}

type recordingObserver struct {
	mu         sync.Mutex
	reports    []*BatchReport
	provisions []ProvisionResult
}

func (o *recordingObserver) ObserveBatch(_ context.Context, r *BatchReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, r)
}

func (o *recordingObserver) ObserveProvisioning(_ string, result ProvisionResult, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.provisions = append(o.provisions, result)
}

func event(partition int, offset int64, value string) kafka.Event {
	return kafka.Event{
		Topic:     "wikimedia.change",
		Partition: partition,
		Offset:    offset,
		Value:     []byte(value),
	}
}

func storeFailure(id string) error {
	return fmt.Errorf("%w: upsert %s: status 503", apperrors.ErrStore, id)
}
