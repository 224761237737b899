package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// findMetric は名前とラベルが一致するメトリクスを返す。
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
	t.Fatalf("metric %s%v not found", name, labels)
	return nil
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string)
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if NewCollector(prometheus.NewRegistry()) == nil {
		t.Fatal("expected non-nil Collector")
	}
}

func TestRecordTransition_CountsByLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordTransition("uninitialized", "config_loaded")
	c.RecordTransition("uninitialized", "config_loaded")
	c.RecordTransition("config_loaded", "anonymous")

	m := findMetric(t, reg, "cherry_session_transitions_total", map[string]string{"from": "uninitialized", "to": "config_loaded"})
	if v := m.GetCounter().GetValue(); v != 2 {
		t.Errorf("uninitialized->config_loaded = %v, want 2", v)
	}
	m = findMetric(t, reg, "cherry_session_transitions_total", map[string]string{"from": "config_loaded", "to": "anonymous"})
	if v := m.GetCounter().GetValue(); v != 1 {
		t.Errorf("config_loaded->anonymous = %v, want 1", v)
	}
}

func TestRecordAuthConfigFetch_CountsResultAndLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthConfigFetch(nil, 100*time.Millisecond)
	c.RecordAuthConfigFetch(errors.New("status 500"), 200*time.Millisecond)
	c.RecordAuthConfigFetch(errors.New("timeout"), 300*time.Millisecond)

	if v := findMetric(t, reg, "cherry_auth_config_fetch_total", map[string]string{"result": "success"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("success = %v, want 1", v)
	}
	if v := findMetric(t, reg, "cherry_auth_config_fetch_total", map[string]string{"result": "error"}).GetCounter().GetValue(); v != 2 {
		t.Errorf("error = %v, want 2", v)
	}

	h := findMetric(t, reg, "cherry_auth_config_fetch_latency_seconds", nil).GetHistogram()
	if h.GetSampleCount() != 3 {
		t.Errorf("sample count = %d, want 3", h.GetSampleCount())
	}
}

func TestRecordIdentityCall_CountsByOpAndResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordIdentityCall("log_in", nil)
	c.RecordIdentityCall("log_in", errors.New("not initialized"))
	c.RecordIdentityCall("callback", nil)

	if v := findMetric(t, reg, "cherry_identity_calls_total", map[string]string{"op": "log_in", "result": "error"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("log_in error = %v, want 1", v)
	}
	if v := findMetric(t, reg, "cherry_identity_calls_total", map[string]string{"op": "callback", "result": "success"}).GetCounter().GetValue(); v != 1 {
		t.Errorf("callback success = %v, want 1", v)
	}
}

func TestSetActiveControllers_AndEvicted(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.SetActiveControllers(5)
	c.SetActiveControllers(3)
	c.RecordControllersEvicted(2)

	if v := findMetric(t, reg, "cherry_active_controllers", nil).GetGauge().GetValue(); v != 3 {
		t.Errorf("active controllers = %v, want 3", v)
	}
	if v := findMetric(t, reg, "cherry_controllers_evicted_total", nil).GetCounter().GetValue(); v != 2 {
		t.Errorf("evicted = %v, want 2", v)
	}
}

func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	var _ MetricsCollector = NewCollector(prometheus.NewRegistry())
}

func TestMultipleCollectors_IndependentRegistries(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()
	c1 := NewCollector(reg1)
	NewCollector(reg2)

	c1.SetActiveControllers(7)

	if v := findMetric(t, reg2, "cherry_active_controllers", nil).GetGauge().GetValue(); v != 0 {
		t.Errorf("reg2 active controllers = %v, want 0", v)
	}
}
