package bridge

import (
	"context"
	"strconv"

	apperrors "github.com/koraykocakaya/opensearch-kafka-consumer/pkg/errors"
	"github.com/koraykocakaya/opensearch-kafka-consumer/pkg/metrics"
)

// MetricsObserver records batch reports into Prometheus collectors.
type MetricsObserver struct {
	m *metrics.Metrics
}

func NewMetricsObserver(m *metrics.Metrics) *MetricsObserver {
	return &MetricsObserver{m: m}
}

func (o *MetricsObserver) ObserveBatch(_ context.Context, r *BatchReport) {
	o.m.BatchesTotal.Inc()
	o.m.BatchSize.Observe(float64(r.Fetched))
	o.m.BatchDuration.Observe(r.Duration.Seconds())
	for _, out := range r.Outcomes {
		o.m.EventsTotal.WithLabelValues(string(out.Status), apperrors.Kind(out.Err)).Inc()
		if out.Attempts > 0 {
			o.m.UpsertDuration.WithLabelValues(string(out.Status)).Observe(out.Duration.Seconds())
		}
	}
	for partition, offset := range r.Committed {
		o.m.CommittedOffset.WithLabelValues(strconv.Itoa(partition)).Set(float64(offset))
	}
	if r.CommitErr != nil {
		o.m.CommitFailuresTotal.Inc()
	}
}

func (o *MetricsObserver) ObserveProvisioning(_ string, result ProvisionResult, _ error) {
	o.m.ProvisioningTotal.WithLabelValues(string(result)).Inc()
}
