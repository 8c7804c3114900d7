package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_IncGetSnapshot(t *testing.T) {
	m := New()

	m.Inc(StaleClaim)
	m.Inc(StaleClaim)
	m.Inc(AuthFailure)

	if got := m.Get(StaleClaim); got != 2 {
		t.Errorf("Get(%s)=%d, want 2", StaleClaim, got)
	}
	if got := m.Get("never_seen"); got != 0 {
		t.Errorf("Get(never_seen)=%d, want 0", got)
	}

	snap := m.Snapshot()
	m.Inc(AuthFailure)
	if snap[AuthFailure] != 1 {
		t.Errorf("snapshot mutated after Inc: %v", snap)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.Inc(StaleClaim)
	if got := m.Get(StaleClaim); got != 0 {
		t.Errorf("nil Get=%d", got)
	}
}

func TestPrometheusHandler(t *testing.T) {
	m := New()
	m.Inc(UnreachablePeer)
	m.Inc(CandidateRelayed)
	m.Inc(CandidateRelayed)

	rec := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE rendezvous_events_total counter",
		`rendezvous_events_total{event="candidate_relayed"} 2`,
		`rendezvous_events_total{event="unreachable_peer"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}
