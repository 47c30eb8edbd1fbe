package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsCountersAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "hub-stats"
	metrics.ObserveDuration(job, 250*time.Millisecond)
	metrics.IncSuccess(job)
	metrics.IncFailure(job)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "shoppad_job_success_total", "job", job); err != nil || got != 1 {
		t.Fatalf("expected success=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "shoppad_job_failure_total", "job", job); err != nil || got != 1 {
		t.Fatalf("expected failure=1, got %f (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "shoppad_job_duration_seconds", "job", job); err != nil || got <= 0 {
		t.Fatalf("expected duration sum > 0, got %f (%v)", got, err)
	}
}

func TestHubMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHubMetrics(reg)
	m.SetConnections(3)
	m.IncPublished("weight:update")
	m.AddDelivered("weight:update", 2)
	m.IncFailed("weight:update")
	m.IncDropped("nfc:payment")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, _ := fetchCounterValue(mfs, "shoppad_hub_delivered_total", "event", "weight:update"); got != 2 {
		t.Fatalf("expected delivered=2, got %f", got)
	}
	if got, _ := fetchCounterValue(mfs, "shoppad_hub_dropped_total", "event", "nfc:payment"); got != 1 {
		t.Fatalf("expected dropped=1, got %f", got)
	}
	mf := findMetricFamily(mfs, "shoppad_hub_connections")
	if mf == nil || mf.GetMetric()[0].GetGauge().GetValue() != 3 {
		t.Fatalf("expected connections gauge 3")
	}
}

func TestIngressMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewIngressMetrics(reg)
	m.Observe("barcode:scan", OutcomeAccepted)
	m.Observe("barcode:scan", OutcomeRejected)
	m.Observe("barcode:scan", OutcomeRejected)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if got, _ := fetchCounterValue(mfs, "shoppad_ingress_events_total", "outcome", OutcomeRejected); got != 2 {
		t.Fatalf("expected rejected=2, got %f", got)
	}
}

func TestNilRecordersAreNoOps(t *testing.T) {
	var hub *HubMetrics
	hub.IncPublished("x")
	hub.SetConnections(1)
	NewHubMetrics(nil).AddDelivered("x", 1)
	NewCronJobMetrics(nil).IncSuccess("x")
	NewIngressMetrics(nil).Observe("x", OutcomeFailed)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
