package metrics

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsRunsAndHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	job := "pending-sweep"
	metrics.ObserveRun(job, 250*time.Millisecond, nil)
	metrics.ObserveRun(job, 10*time.Millisecond, errors.New("boom"))
	metrics.IncSkipped(job)

	mfs := gather(t, reg)
	expectCounter(t, mfs, "natal_cron_job_runs_total", map[string]string{"job": job, "result": "success"}, 1)
	expectCounter(t, mfs, "natal_cron_job_runs_total", map[string]string{"job": job, "result": "failure"}, 1)
	expectCounter(t, mfs, "natal_cron_job_skipped_total", map[string]string{"job": job}, 1)

	if got, err := fetchHistogramSum(mfs, "natal_cron_job_duration_seconds", map[string]string{"job": job}); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got <= 0.25 {
		t.Fatalf("expected duration sum > 0.25, got %f", got)
	}
}

func TestReconcileMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewReconcileMetrics(reg)
	m.ObserveOutcome("approved", time.Second)
	m.ObserveOutcome("amount_mismatch", time.Millisecond)
	m.ObserveOutcome("", time.Millisecond)
	m.IncTask("handled")
	m.IncEnqueued("webhook", "duplicate")

	mfs := gather(t, reg)
	expectCounter(t, mfs, "natal_reconcile_outcomes_total", map[string]string{"outcome": "approved"}, 1)
	expectCounter(t, mfs, "natal_reconcile_outcomes_total", map[string]string{"outcome": "unknown"}, 1)
	expectCounter(t, mfs, "natal_notification_tasks_total", map[string]string{"result": "handled"}, 1)
	expectCounter(t, mfs, "natal_notification_enqueued_total", map[string]string{"source": "webhook", "result": "duplicate"}, 1)
}

func TestOutboxMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetrics(reg)
	m.IncPublish("order_approved", "published")

	expectCounter(t, gather(t, reg), "natal_outbox_publish_total", map[string]string{"event_type": "order_approved", "result": "published"}, 1)
}

func TestHTTPMetricsUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)
	m.ObserveRequest("/api/order/{id}", "GET", 402, 5*time.Millisecond)
	m.ObserveRequest("", "GET", 404, time.Millisecond)

	mfs := gather(t, reg)
	expectCounter(t, mfs, "natal_http_requests_total", map[string]string{"route": "/api/order/{id}", "method": "GET", "status": "402"}, 1)
	expectCounter(t, mfs, "natal_http_requests_total", map[string]string{"route": "unknown", "method": "GET", "status": "404"}, 1)
}

func TestOrderEventMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOrderEventMetrics(reg)
	m.ObserveConsumed("order_approved", "processed", 2*time.Second)
	m.ObserveConsumed("order_approved", "duplicate", 0)

	mfs := gather(t, reg)
	expectCounter(t, mfs, "natal_order_events_consumed_total", map[string]string{"event_type": "order_approved", "result": "processed"}, 1)
	expectCounter(t, mfs, "natal_order_events_consumed_total", map[string]string{"event_type": "order_approved", "result": "duplicate"}, 1)
	if got, err := fetchHistogramSum(mfs, "natal_order_events_lag_seconds", map[string]string{"event_type": "order_approved"}); err != nil {
		t.Fatalf("fetch lag: %v", err)
	} else if got != 2 {
		t.Fatalf("expected lag sum 2, got %f", got)
	}
}

func TestNilRegistererIsNoop(t *testing.T) {
	NewOrderEventMetrics(nil).ObserveConsumed("x", "y", time.Second)
	NewHTTPMetrics(nil).ObserveRequest("/", "GET", 200, time.Second)
	NewCronJobMetrics(nil).ObserveRun("x", time.Second, nil)
	NewReconcileMetrics(nil).ObserveOutcome("x", time.Second)
	NewOutboxMetrics(nil).IncPublish("x", "y")
	var m *ReconcileMetrics
	m.IncTask("handled")
}

func gather(t *testing.T, reg *prometheus.Registry) []*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	return mfs
}

func expectCounter(t *testing.T, mfs []*dto.MetricFamily, name string, labels map[string]string, want float64) {
	t.Helper()
	got, err := fetchCounterValue(mfs, name, labels)
	if err != nil {
		t.Fatalf("fetch %s: %v", name, err)
	}
	if got != want {
		t.Fatalf("%s%v: expected %f, got %f", name, labels, want, got)
	}
}

func fetchCounterValue(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing labels %v", name, labels)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name string, labels map[string]string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabels(metric.GetLabel(), labels) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing labels %v", name, labels)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
