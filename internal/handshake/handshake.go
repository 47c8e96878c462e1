// Package handshake drives the two sides of the rendezvous: the initiator
// publishes an offer and waits for an answer; the responder picks the offer
// up and answers. Both sides trickle candidates through the signaling server
// until the peer connection is up.
package handshake

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/peercam/peercam/internal/store"
)

// ErrAnswerTimeout is returned when the initiator exhausts its poll budget
// without seeing an answer.
var ErrAnswerTimeout = errors.New("timed out waiting for answer")

// ErrOfferNotReady is returned when the responder exhausts its poll budget
// without seeing an offer.
var ErrOfferNotReady = errors.New("no offer published for session")

// Peer is the minimal WebRTC surface the drivers need. rtcpeer.Peer
// implements it; tests substitute fakes.
type Peer interface {
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	AcceptAnswer(ctx context.Context, answer json.RawMessage) error
	AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	AddRemoteCandidate(candidate json.RawMessage) error
	OnLocalCandidate(fn func(json.RawMessage))
	WaitConnected(ctx context.Context) error
	Close() error
}

// Signaler is the signaling client surface. signaling.Client implements it.
type Signaler interface {
	PublishOffer(ctx context.Context, sessionID string, description json.RawMessage) error
	PublishAnswer(ctx context.Context, sessionID string, description json.RawMessage) error
	PublishCandidate(ctx context.Context, sessionID string, role store.Role, candidate json.RawMessage) error
	Fetch(ctx context.Context, sessionID string) (store.Snapshot, error)
}

// Config tunes the polling cadence shared by both drivers.
type Config struct {
	// PollInterval is the pause between snapshot fetches.
	PollInterval time.Duration

	// MaxPollAttempts bounds how many fetches a driver makes while waiting
	// for the remote description before giving up.
	MaxPollAttempts int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = 40
	}
	return c
}

// State names the phase a driver is in. Transitions are monotonic except
// that any phase can end in Failed.
type State string

const (
	StateIdle            State = "idle"
	StateOfferCreated    State = "offer_created"
	StateOfferPublished  State = "offer_published"
	StateAwaitingAnswer  State = "awaiting_answer"
	StateOfferFetched    State = "offer_fetched"
	StateAnswerCreated   State = "answer_created"
	StateAnswerPublished State = "answer_published"
	StateConnected       State = "connected"
	StateTimedOut        State = "timed_out"
	StateFailed          State = "failed"
)

// sleep pauses for d unless ctx ends first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// candidateFeed applies remote candidates from successive snapshots to the
// peer exactly once each, in arrival order.
type candidateFeed struct {
	role    store.Role
	applied int
}

func (f *candidateFeed) apply(peer Peer, snap store.Snapshot) error {
	var all []json.RawMessage
	if f.role == store.RoleInitiator {
		all = snap.CandidatesInitiator
	} else {
		all = snap.CandidatesResponder
	}
	for ; f.applied < len(all); f.applied++ {
		if err := peer.AddRemoteCandidate(all[f.applied]); err != nil {
			return err
		}
	}
	return nil
}
