package metrics

import "sync"

// Well-known event counter names.
const (
	ConnectionOpened = "connection_opened"
	ConnectionClosed = "connection_closed"

	RoomCreated      = "room_created"
	RoomDeleted      = "room_deleted"
	PairCompleted    = "pair_completed"
	OfferRelayed     = "offer_relayed"
	AnswerRelayed    = "answer_relayed"
	CandidateRelayed = "candidate_relayed"

	ParseError    = "parse_error"
	ProtocolError = "protocol_error"

	DropReasonRateLimited = "rate_limited"
)

// Metrics is a minimal, concurrency-safe counter registry.
//
// A deployment that wants a richer metrics backend can scrape the Prometheus
// handler; keeping the registry in-process keeps the relay core testable.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	m.mu.Lock()
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
