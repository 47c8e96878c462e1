// Package store holds the in-memory signaling state shared by the two peers
// of a session: the offer, the answer, and one append-only candidate sequence
// per role. Blobs are opaque; the store never inspects them.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/peercam/peercam/internal/metrics"
)

// ErrTooManySessions is returned when a write would create a new session
// beyond the configured cap.
var ErrTooManySessions = errors.New("too many sessions")

// Config carries store tuning knobs.
type Config struct {
	// SessionTTL is how long a session survives without being read or
	// written. Zero disables expiry.
	SessionTTL time.Duration

	// SweepInterval is how often RunSweeper scans for expired sessions.
	SweepInterval time.Duration

	// MaxSessions caps the number of live sessions. Zero means unlimited.
	MaxSessions int
}

// Snapshot is a whole-record copy of one session's signaling state. Absent
// fields are nil/empty; an unknown session ID yields the zero Snapshot with
// Version 0.
type Snapshot struct {
	Offer               json.RawMessage
	Answer              json.RawMessage
	CandidatesInitiator []json.RawMessage
	CandidatesResponder []json.RawMessage

	// Version increases on every write to the session. It is drawn from a
	// store-wide counter, so a session recreated after a sweep never
	// re-issues a version an earlier watcher has already seen.
	Version uint64
}

type session struct {
	offer               json.RawMessage
	answer              json.RawMessage
	candidatesInitiator []json.RawMessage
	candidatesResponder []json.RawMessage

	version     uint64
	lastTouched time.Time
}

// Store is the process-wide session table. It is safe for concurrent use;
// every read returns an atomic whole-record snapshot and appends never drop
// concurrently appended candidates.
type Store struct {
	cfg     Config
	metrics *metrics.Metrics
	clock   Clock

	mu          sync.Mutex
	sessions    map[string]*session
	nextVersion uint64

	// changed is closed and replaced on every write. Waiters grab the current
	// channel under the lock and block on it outside the lock.
	changed chan struct{}
}

func New(cfg Config, m *metrics.Metrics, clock Clock) *Store {
	if m == nil {
		m = metrics.New()
	}
	if clock == nil {
		clock = RealClock{}
	}
	return &Store{
		cfg:      cfg,
		metrics:  m,
		clock:    clock,
		sessions: make(map[string]*session),
		changed:  make(chan struct{}),
	}
}

// UpsertOffer stores the initiator's offer, creating the session on first
// write. Repeat writes overwrite (last-write-wins).
func (s *Store) UpsertOffer(id string, blob json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getOrCreateLocked(id)
	if err != nil {
		return err
	}
	if sess.answer != nil {
		// Allowed for wire compatibility, but worth surfacing: a well-behaved
		// initiator never re-publishes an offer once the answer landed.
		s.metrics.Inc(metrics.OfferOverwrittenAfterAnswer)
	}
	sess.offer = blob
	s.touchLocked(sess)
	s.metrics.Inc(metrics.OffersStored)
	return nil
}

// UpsertAnswer stores the responder's answer, creating the session on first
// write. Repeat writes overwrite (last-write-wins).
func (s *Store) UpsertAnswer(id string, blob json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getOrCreateLocked(id)
	if err != nil {
		return err
	}
	sess.answer = blob
	s.touchLocked(sess)
	s.metrics.Inc(metrics.AnswersStored)
	return nil
}

// AppendCandidate appends one connectivity candidate to the given role's
// sequence. Sequences only ever grow for the lifetime of the session.
func (s *Store) AppendCandidate(id string, role Role, blob json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getOrCreateLocked(id)
	if err != nil {
		return err
	}
	switch role {
	case RoleResponder:
		sess.candidatesResponder = append(sess.candidatesResponder, blob)
	default:
		sess.candidatesInitiator = append(sess.candidatesInitiator, blob)
	}
	s.touchLocked(sess)
	s.metrics.Inc(metrics.CandidatesStored)
	return nil
}

// Read returns the whole current state of a session. An unknown ID yields the
// zero Snapshot; it is not an error, a reader cannot tell "not yet created"
// from "created but empty". Reading refreshes the session's expiry so an
// actively polled session is never swept mid-handshake.
func (s *Store) Read(id string) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return Snapshot{}
	}
	sess.lastTouched = s.clock.Now()
	return snapshotLocked(sess)
}

// Wait blocks until the session's version exceeds since (or ctx is done) and
// returns the new snapshot. A since of 0 on an existing session returns
// immediately.
func (s *Store) Wait(ctx context.Context, id string, since uint64) (Snapshot, error) {
	for {
		s.mu.Lock()
		changed := s.changed
		var snap Snapshot
		if sess, ok := s.sessions[id]; ok {
			sess.lastTouched = s.clock.Now()
			snap = snapshotLocked(sess)
		}
		s.mu.Unlock()

		if snap.Version > since {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-changed:
		}
	}
}

// ActiveSessions reports the number of live sessions.
func (s *Store) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep removes sessions untouched for longer than SessionTTL and returns
// how many were removed. It is a no-op when expiry is disabled.
func (s *Store) Sweep(now time.Time) int {
	if s.cfg.SessionTTL <= 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.lastTouched) > s.cfg.SessionTTL {
			delete(s.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		s.metrics.Add(metrics.SessionsSwept, uint64(removed))
	}
	return removed
}

// RunSweeper periodically sweeps expired sessions until ctx is done. It does
// nothing when expiry is disabled.
func (s *Store) RunSweeper(ctx context.Context) {
	if s.cfg.SessionTTL <= 0 {
		return
	}
	interval := s.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(s.clock.Now())
		}
	}
}

func (s *Store) getOrCreateLocked(id string) (*session, error) {
	if sess, ok := s.sessions[id]; ok {
		return sess, nil
	}
	if s.cfg.MaxSessions > 0 && len(s.sessions) >= s.cfg.MaxSessions {
		s.metrics.Inc(metrics.DropReasonTooManySessions)
		return nil, ErrTooManySessions
	}
	sess := &session{}
	s.sessions[id] = sess
	s.metrics.Inc(metrics.SessionsCreated)
	return sess, nil
}

func (s *Store) touchLocked(sess *session) {
	sess.lastTouched = s.clock.Now()
	s.nextVersion++
	sess.version = s.nextVersion
	// Wake all waiters; each re-checks its session's version.
	close(s.changed)
	s.changed = make(chan struct{})
}

func snapshotLocked(sess *session) Snapshot {
	snap := Snapshot{
		Offer:   sess.offer,
		Answer:  sess.answer,
		Version: sess.version,
	}
	if n := len(sess.candidatesInitiator); n > 0 {
		snap.CandidatesInitiator = make([]json.RawMessage, n)
		copy(snap.CandidatesInitiator, sess.candidatesInitiator)
	}
	if n := len(sess.candidatesResponder); n > 0 {
		snap.CandidatesResponder = make([]json.RawMessage, n)
		copy(snap.CandidatesResponder, sess.candidatesResponder)
	}
	return snap
}
