package handshake

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/peercam/peercam/internal/store"
)

// Initiator publishes an offer under a fresh session ID and completes the
// handshake when the responder answers.
type Initiator struct {
	log      *slog.Logger
	signaler Signaler
	peer     Peer
	cfg      Config

	mu        sync.Mutex
	state     State
	sessionID string
}

// NewInitiator builds a driver. An empty sessionID mints a fresh one,
// readable via SessionID.
func NewInitiator(logger *slog.Logger, signaler Signaler, peer Peer, sessionID string, cfg Config) *Initiator {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &Initiator{
		log:       logger,
		signaler:  signaler,
		peer:      peer,
		cfg:       cfg.withDefaults(),
		state:     StateIdle,
		sessionID: sessionID,
	}
}

func (i *Initiator) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

func (i *Initiator) SessionID() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sessionID
}

func (i *Initiator) setState(s State) {
	i.mu.Lock()
	i.state = s
	id := i.sessionID
	i.mu.Unlock()
	i.log.Info("handshake state", "role", store.RoleInitiator, "session_id", id, "state", s)
}

// Run performs the whole initiator handshake and blocks until the peer
// connection is connected, the answer poll budget runs out, or ctx ends.
func (i *Initiator) Run(ctx context.Context) error {
	sessionID := i.SessionID()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	i.peer.OnLocalCandidate(func(candidate json.RawMessage) {
		if err := i.signaler.PublishCandidate(ctx, sessionID, store.RoleInitiator, candidate); err != nil {
			i.log.Warn("publish candidate failed", "session_id", sessionID, "err", err)
		}
	})

	offer, err := i.peer.CreateOffer(ctx)
	if err != nil {
		i.setState(StateFailed)
		return fmt.Errorf("create offer: %w", err)
	}
	i.setState(StateOfferCreated)

	if err := i.signaler.PublishOffer(ctx, sessionID, offer); err != nil {
		i.setState(StateFailed)
		return fmt.Errorf("publish offer: %w", err)
	}
	i.setState(StateOfferPublished)
	i.setState(StateAwaitingAnswer)

	feed := &candidateFeed{role: store.RoleResponder}
	answered := false
	for attempt := 0; attempt < i.cfg.MaxPollAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, i.cfg.PollInterval); err != nil {
				i.setState(StateFailed)
				return err
			}
		}

		snap, err := i.signaler.Fetch(ctx, sessionID)
		if err != nil {
			i.log.Warn("answer poll failed", "session_id", sessionID, "attempt", attempt, "err", err)
			continue
		}
		// Apply the answer before any candidates riding in the same
		// snapshot; candidates need the remote description in place.
		if snap.Answer != nil {
			if err := i.peer.AcceptAnswer(ctx, snap.Answer); err != nil {
				i.setState(StateFailed)
				return fmt.Errorf("accept answer: %w", err)
			}
			answered = true
		}
		if err := feed.apply(i.peer, snap); err != nil {
			i.log.Warn("apply remote candidate failed", "session_id", sessionID, "err", err)
		}
		if answered {
			break
		}
	}
	if !answered {
		i.setState(StateTimedOut)
		return ErrAnswerTimeout
	}

	// Keep draining responder candidates while waiting for the connection;
	// trickle keeps adding them after the answer.
	go i.pollCandidates(ctx, sessionID, feed)

	if err := i.peer.WaitConnected(ctx); err != nil {
		i.setState(StateFailed)
		return fmt.Errorf("wait connected: %w", err)
	}
	i.setState(StateConnected)
	return nil
}

func (i *Initiator) pollCandidates(ctx context.Context, sessionID string, feed *candidateFeed) {
	for {
		if err := sleep(ctx, i.cfg.PollInterval); err != nil {
			return
		}
		snap, err := i.signaler.Fetch(ctx, sessionID)
		if err != nil {
			continue
		}
		if err := feed.apply(i.peer, snap); err != nil {
			i.log.Warn("apply remote candidate failed", "session_id", sessionID, "err", err)
		}
	}
}
