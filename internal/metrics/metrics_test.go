package metrics

import (
	"math"
	"net/http/httptest"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
)

func TestRecorderObserveTool(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveTool("get_courses", "ok", 250*time.Millisecond)

	families := gather(t, rec, "coursebridge_tools_requests_total", "coursebridge_tools_request_duration_seconds")

	counter := findMetric(t, families["coursebridge_tools_requests_total"], map[string]string{
		"tool":    "get_courses",
		"outcome": "ok",
	})
	if got := counter.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected counter value 1, got %v", got)
	}

	histMetric := findMetric(t, families["coursebridge_tools_request_duration_seconds"], map[string]string{
		"tool":    "get_courses",
		"outcome": "ok",
	})
	hist := histMetric.GetHistogram()
	if hist.GetSampleCount() != 1 {
		t.Fatalf("expected histogram count 1, got %d", hist.GetSampleCount())
	}
	want := 0.25
	if diff := math.Abs(hist.GetSampleSum() - want); diff > 0.001 {
		t.Fatalf("expected histogram sum near %v, got %v", want, hist.GetSampleSum())
	}
}

func TestRecorderObserveCacheLookup(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveCacheLookup("gradescope_courses", CacheLookupHit)
	rec.ObserveCacheLookup("gradescope_courses", CacheLookupMiss)

	families := gather(t, rec, "coursebridge_cache_lookups_total")

	hit := findMetric(t, families["coursebridge_cache_lookups_total"], map[string]string{
		"category": "gradescope_courses",
		"result":   string(CacheLookupHit),
	})
	if got := hit.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected hit counter 1, got %v", got)
	}
}

func TestRecorderObserveUpstream(t *testing.T) {
	rec := NewRecorder(nil)
	rec.ObserveUpstream("canvas", 200, 100*time.Millisecond)
	rec.ObserveUpstream("gradescope", 0, 50*time.Millisecond)

	families := gather(t, rec, "coursebridge_upstream_requests_total")

	okMetric := findMetric(t, families["coursebridge_upstream_requests_total"], map[string]string{
		"service":      "canvas",
		"status_class": "2xx",
	})
	if got := okMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected canvas counter 1, got %v", got)
	}

	errMetric := findMetric(t, families["coursebridge_upstream_requests_total"], map[string]string{
		"service":      "gradescope",
		"status_class": "error",
	})
	if got := errMetric.GetCounter().GetValue(); got != 1 {
		t.Fatalf("expected gradescope error counter 1, got %v", got)
	}
}

func TestRecorderNilSafe(t *testing.T) {
	var rec *Recorder
	rec.ObserveTool("get_courses", "ok", time.Millisecond)
	rec.ObserveCacheLookup("courses", CacheLookupMiss)
	rec.ObserveUpstream("canvas", 500, time.Millisecond)

	rr := httptest.NewRecorder()
	rec.Handler().ServeHTTP(rr, httptest.NewRequest("GET", "/metrics", nil))
	if rr.Code != 503 {
		t.Fatalf("expected 503 from nil recorder handler, got %d", rr.Code)
	}
}

func TestRecorderHandler(t *testing.T) {
	rec := NewRecorder(nil)
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)

	rec.Handler().ServeHTTP(rr, req)

	if rr.Code != 200 {
		t.Fatalf("expected 200 response, got %d", rr.Code)
	}
	if rr.Body.Len() == 0 {
		t.Fatalf("expected response body")
	}
}

func gather(t *testing.T, rec *Recorder, names ...string) map[string][]*dto.Metric {
	t.Helper()
	wanted := make(map[string]bool, len(names))
	for _, name := range names {
		wanted[name] = true
	}
	families, err := rec.Gatherer().Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	collected := make(map[string][]*dto.Metric, len(names))
	for _, mf := range families {
		if !wanted[mf.GetName()] {
			continue
		}
		collected[mf.GetName()] = append(collected[mf.GetName()], mf.GetMetric()...)
	}
	for _, name := range names {
		if len(collected[name]) == 0 {
			t.Fatalf("metric %q not collected", name)
		}
	}
	return collected
}

func findMetric(t *testing.T, metrics []*dto.Metric, labels map[string]string) *dto.Metric {
	t.Helper()
	for _, metric := range metrics {
		if matchLabels(metric, labels) {
			return metric
		}
	}
	t.Fatalf("metric with labels %v not found", labels)
	return nil
}

func matchLabels(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.GetLabel()) < len(labels) {
		return false
	}
	for key, expected := range labels {
		found := false
		for _, label := range metric.GetLabel() {
			if label.GetName() == key && label.GetValue() == expected {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
