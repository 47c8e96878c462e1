package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/peercam/peercam/internal/store"
)

// Responder joins an existing session: it polls for the offer, publishes an
// answer and completes the handshake.
type Responder struct {
	log      *slog.Logger
	signaler Signaler
	peer     Peer
	cfg      Config

	sessionID string

	mu    sync.Mutex
	state State
}

func NewResponder(logger *slog.Logger, signaler Signaler, peer Peer, sessionID string, cfg Config) *Responder {
	return &Responder{
		log:       logger,
		signaler:  signaler,
		peer:      peer,
		cfg:       cfg.withDefaults(),
		sessionID: sessionID,
		state:     StateIdle,
	}
}

func (r *Responder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Responder) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
	r.log.Info("handshake state", "role", store.RoleResponder, "session_id", r.sessionID, "state", s)
}

// Run performs the whole responder handshake and blocks until the peer
// connection is connected, the offer poll budget runs out, or ctx ends.
func (r *Responder) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.peer.OnLocalCandidate(func(candidate json.RawMessage) {
		if err := r.signaler.PublishCandidate(ctx, r.sessionID, store.RoleResponder, candidate); err != nil {
			r.log.Warn("publish candidate failed", "session_id", r.sessionID, "err", err)
		}
	})

	feed := &candidateFeed{role: store.RoleInitiator}

	var offer json.RawMessage
	for attempt := 0; attempt < r.cfg.MaxPollAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, r.cfg.PollInterval); err != nil {
				r.setState(StateFailed)
				return err
			}
		}

		snap, err := r.signaler.Fetch(ctx, r.sessionID)
		if err != nil {
			r.log.Warn("offer poll failed", "session_id", r.sessionID, "attempt", attempt, "err", err)
			continue
		}
		if snap.Offer != nil {
			offer = snap.Offer
			r.setState(StateOfferFetched)

			answer, err := r.peer.AcceptOffer(ctx, offer)
			if err != nil {
				r.setState(StateFailed)
				return fmt.Errorf("accept offer: %w", err)
			}
			r.setState(StateAnswerCreated)

			if err := feed.apply(r.peer, snap); err != nil {
				r.log.Warn("apply remote candidate failed", "session_id", r.sessionID, "err", err)
			}

			if err := r.signaler.PublishAnswer(ctx, r.sessionID, answer); err != nil {
				r.setState(StateFailed)
				return fmt.Errorf("publish answer: %w", err)
			}
			r.setState(StateAnswerPublished)
			break
		}
	}
	if offer == nil {
		r.setState(StateTimedOut)
		return ErrOfferNotReady
	}

	go r.pollCandidates(ctx, feed)

	if err := r.peer.WaitConnected(ctx); err != nil {
		r.setState(StateFailed)
		return fmt.Errorf("wait connected: %w", err)
	}
	r.setState(StateConnected)
	return nil
}

func (r *Responder) pollCandidates(ctx context.Context, feed *candidateFeed) {
	for {
		if err := sleep(ctx, r.cfg.PollInterval); err != nil {
			return
		}
		snap, err := r.signaler.Fetch(ctx, r.sessionID)
		if err != nil {
			continue
		}
		if err := feed.apply(r.peer, snap); err != nil {
			r.log.Warn("apply remote candidate failed", "session_id", r.sessionID, "err", err)
		}
	}
}
