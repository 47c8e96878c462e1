package metrics

import "sync"

// Counter names, exposed via the Prometheus text handler.
const (
	SessionsCreated           = "sessions_created"
	SessionsSwept             = "sessions_swept"
	DropReasonTooManySessions = "too_many_sessions"

	OffersStored     = "offers_stored"
	AnswersStored    = "answers_stored"
	CandidatesStored = "candidates_stored"
	SnapshotsServed  = "snapshots_served"
	InvalidPayloads  = "invalid_payloads"

	// OfferOverwrittenAfterAnswer counts offers accepted for a session that
	// already holds an answer. The write is allowed (last-write-wins) but
	// usually indicates a stale or retrying initiator.
	OfferOverwrittenAfterAnswer = "offer_overwritten_after_answer"

	WatchConnections   = "watch_connections"
	PublishesThrottled = "publishes_throttled"
	ICEConfigsServed   = "ice_configs_served"
)

// Metrics is a minimal, concurrency-safe counter registry.
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
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
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
