package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は指定名・ラベルに一致するメトリクスを返す。
func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelsMatch(m, labels) {
				return m
			}
		}
	}
	return nil
}

func labelsMatch(m *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := labels[lp.GetName()]; ok {
			if v != lp.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(labels)
}

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	reg := prometheus.NewRegistry()
	if c := NewCollector(reg); c == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordAuthOutcome_CountsPerOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthOutcome(OutcomeEligible)
	c.RecordAuthOutcome(OutcomeEligible)
	c.RecordAuthOutcome(OutcomeDenied)

	m := findMetric(t, reg, "ballotgate_auth_outcome_total", map[string]string{"outcome": OutcomeEligible})
	if m == nil {
		t.Fatal("eligible outcome metric not found")
	}
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("eligible = %v, want 2", v)
	}

	m = findMetric(t, reg, "ballotgate_auth_outcome_total", map[string]string{"outcome": OutcomeDenied})
	if m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("denied outcome should be counted once")
	}
}

func TestRecordAllowlistOp_Labels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAllowlistOp(AllowlistOpAppend, AllowlistResultError)

	m := findMetric(t, reg, "ballotgate_allowlist_ops_total", map[string]string{
		"op":     AllowlistOpAppend,
		"result": AllowlistResultError,
	})
	if m == nil {
		t.Fatal("allowlist metric not found")
	}
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("allowlist ops = %v, want 1", v)
	}
}

// TestRecordHTTPStatus_CountsByStatusCode はステータスコード別にカウントされることを検証する。
func TestRecordHTTPStatus_CountsByStatusCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(200)
	c.RecordHTTPStatus(302)

	if m := findMetric(t, reg, "ballotgate_http_status_total", map[string]string{"status_code": "200"}); m == nil || m.GetCounter().GetValue() != 2 {
		t.Error("status 200 should be counted twice")
	}
	if m := findMetric(t, reg, "ballotgate_http_status_total", map[string]string{"status_code": "302"}); m == nil || m.GetCounter().GetValue() != 1 {
		t.Error("status 302 should be counted once")
	}
}

func TestRecordOAuthLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordOAuthLatency("token_exchange", 250*time.Millisecond)

	m := findMetric(t, reg, "ballotgate_oauth_latency_seconds", map[string]string{"step": "token_exchange"})
	if m == nil {
		t.Fatal("latency metric not found")
	}
	if n := m.GetHistogram().GetSampleCount(); n != 1 {
		t.Errorf("sample count = %d, want 1", n)
	}
	if sum := m.GetHistogram().GetSampleSum(); sum < 0.24 || sum > 0.26 {
		t.Errorf("sample sum = %v, want ~0.25", sum)
	}
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordAuthOutcome(OutcomeIneligible)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "ballotgate_auth_outcome_total") {
		t.Error("response should contain ballotgate_auth_outcome_total")
	}
}

func TestNop_DoesNotPanic(t *testing.T) {
	var c MetricsCollector = Nop{}
	c.RecordAuthOutcome(OutcomeEligible)
	c.RecordAllowlistOp(AllowlistOpExists, AllowlistResultOK)
	c.RecordHTTPStatus(500)
	c.RecordOAuthLatency("profile_fetch", time.Second)
}
