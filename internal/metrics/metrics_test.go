package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordPage("csv", 10, 20*time.Millisecond)
	m.RecordPage("csv", 5, 10*time.Millisecond)
	m.RecordSearchFailure("")
	m.RecordConsolidation("csv", 15, nil)
	m.RecordConsolidation("csv", 0, errors.New("boom"))
	m.RecordStepAttempt("page", nil)
	m.RecordRun("Done")

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"pages", testutil.ToFloat64(m.pagesWritten.WithLabelValues("csv")), 2},
		{"records", testutil.ToFloat64(m.recordsWritten.WithLabelValues("csv")), 15},
		{"search failures", testutil.ToFloat64(m.searchFailures.WithLabelValues("unclassified")), 1},
		{"consolidation success", testutil.ToFloat64(m.consolidations.WithLabelValues("csv", "success")), 1},
		{"consolidation failure", testutil.ToFloat64(m.consolidations.WithLabelValues("csv", "failure")), 1},
		{"consolidated rows", testutil.ToFloat64(m.consolidatedRows.WithLabelValues("csv")), 15},
		{"step attempts", testutil.ToFloat64(m.stepAttempts.WithLabelValues("page", "success")), 1},
		{"runs", testutil.ToFloat64(m.runs.WithLabelValues("Done")), 1},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}

	if n := testutil.CollectAndCount(m.pageDuration); n != 1 {
		t.Errorf("page duration series = %d, want 1", n)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordPage("csv", 1, time.Second)
	m.RecordSearchFailure("E_IO")
	m.RecordConsolidation("csv", 1, nil)
	m.RecordStepAttempt("page", nil)
	m.RecordRun("Failed")
}
