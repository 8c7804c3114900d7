package metrics

import "sync"

// Event counter names used across the hub.
const (
	AuthFailure      = "auth_failure"
	DuplicateOffer   = "duplicate_offer"
	StaleClaim       = "stale_claim"
	UnreachablePeer  = "unreachable_peer"
	RateLimited      = "rate_limited"
	CandidateRelayed = "candidate_relayed"
	CandidateDropped = "candidate_dropped"
	CallTimeout      = "call_timeout"
)

// Metrics is a minimal, concurrency-safe counter registry. It keeps the
// coordination logic observable without pulling a metrics SDK into the hot
// path; counters are exported in Prometheus text format by PrometheusHandler.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
