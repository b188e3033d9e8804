package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/drfirst/go-medplan/internal/extraction"
	"github.com/drfirst/go-medplan/pkg/workerpool"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return out.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var out dto.Metric
	if err := g.Write(&out); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return out.GetGauge().GetValue()
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveExtraction(extraction.Result{Status: extraction.StatusMatched}, time.Millisecond)
	m.PrescriptionSaved("create")
	m.PrescriptionFailed("create")
	m.PrescriptionTransitioned("unfilled", "dispensing")
	m.ObserveReminderUpsert(1)
	m.ObserveOccurrences(3)
	m.SetBreakerState("narrative", 1)
	m.ObserveWorkerPool(workerpool.Stats{Queued: 1})
}

func TestObserveWorkerPool(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveWorkerPool(workerpool.Stats{Submitted: 5, Completed: 3, Failed: 1, Queued: 1})

	if got := gaugeValue(t, m.WorkerTasks.WithLabelValues("completed")); got != 3 {
		t.Errorf("completed = %v, want 3", got)
	}
	if got := gaugeValue(t, m.WorkerQueueDepth); got != 1 {
		t.Errorf("queue depth = %v, want 1", got)
	}
}

func TestObserveExtraction(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ObserveExtraction(extraction.Result{
		Status: extraction.StatusMatched,
		Candidates: []extraction.Candidate{
			{Name: "a", SourceTier: extraction.Tier(1)},
			{Name: "b", SourceTier: extraction.Tier(1)},
			{Name: "c", SourceTier: extraction.Tier(3)},
		},
		Malformed:     1,
		SentinelSkips: 1,
	}, time.Millisecond)

	if got := counterValue(t, m.ExtractionsTotal.WithLabelValues("matched")); got != 1 {
		t.Errorf("extractions = %v, want 1", got)
	}
	if got := counterValue(t, m.CandidatesByTier.WithLabelValues("1")); got != 2 {
		t.Errorf("tier 1 candidates = %v, want 2", got)
	}
	if got := counterValue(t, m.ExtractionSkips.WithLabelValues("malformed")); got != 1 {
		t.Errorf("malformed skips = %v, want 1", got)
	}
}

func TestPrescriptionCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.PrescriptionSaved("create")
	m.PrescriptionSaved("create")
	m.PrescriptionFailed("delete")

	if got := counterValue(t, m.PrescriptionOps.WithLabelValues("create", "ok")); got != 2 {
		t.Errorf("create ok = %v, want 2", got)
	}
	if got := counterValue(t, m.PrescriptionOps.WithLabelValues("delete", "error")); got != 1 {
		t.Errorf("delete error = %v, want 1", got)
	}
}
