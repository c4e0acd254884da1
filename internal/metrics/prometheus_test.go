package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusHandler_ExposesSnapshot(t *testing.T) {
	m := New()
	m.Inc("foo")
	m.Add("bar", 2)
	m.Inc(`quote"back\slash`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	if !strings.Contains(body, "# TYPE pairwire_signal_relay_events_total counter") {
		t.Fatalf("missing TYPE header: %s", body)
	}
	if !strings.Contains(body, `pairwire_signal_relay_events_total{event="bar"} 2`) {
		t.Fatalf("missing bar counter: %s", body)
	}
	if !strings.Contains(body, `pairwire_signal_relay_events_total{event="foo"} 1`) {
		t.Fatalf("missing foo counter: %s", body)
	}
	// Label escaping must match Prometheus text format rules.
	if !strings.Contains(body, `pairwire_signal_relay_events_total{event="quote\"back\\slash"} 1`) {
		t.Fatalf("missing escaped counter: %s", body)
	}
}

func TestPrometheusHandler_NilMetrics(t *testing.T) {
	rr := httptest.NewRecorder()
	PrometheusHandler(nil).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestMetrics_Snapshot(t *testing.T) {
	m := New()
	m.Inc(ConnectionOpened)
	m.Inc(ConnectionOpened)
	m.Inc(RoomCreated)

	snap := m.Snapshot()
	if snap[ConnectionOpened] != 2 || snap[RoomCreated] != 1 {
		t.Fatalf("snapshot=%v", snap)
	}

	// The snapshot is a copy, not a view.
	snap[ConnectionOpened] = 99
	if got := m.Get(ConnectionOpened); got != 2 {
		t.Fatalf("Get(connection_opened)=%d, want 2", got)
	}
}
