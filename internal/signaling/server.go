// Package signaling is the HTTP rendezvous surface. Two peers that share a
// session ID exchange an offer, an answer, and trickled ICE candidates
// through it without ever talking to each other directly.
package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/peercam/peercam/internal/httpserver"
	"github.com/peercam/peercam/internal/metrics"
	"github.com/peercam/peercam/internal/ratelimit"
	"github.com/peercam/peercam/internal/store"
	"github.com/peercam/peercam/internal/turnrest"
)

// Config wires the signaling endpoints' collaborators.
type Config struct {
	Store   *store.Store
	Metrics *metrics.Metrics

	// MaxBodyBytes bounds publish request bodies. Zero means no limit.
	MaxBodyBytes int64

	// Limiter throttles publishes per session when non-nil.
	Limiter *ratelimit.PublishLimiter

	// AllowedOrigins restricts browser origins on the watch endpoint.
	// Empty allows any.
	AllowedOrigins []string

	// StunURLs are served verbatim on /api/ice. TURN and TurnURLs add
	// short-lived relay credentials to the same response when set.
	StunURLs []string
	TURN     *turnrest.Generator
	TurnURLs []string
}

// Server handles the /api/signal and /api/ice endpoints.
type Server struct {
	log *slog.Logger
	cfg Config
}

func NewServer(logger *slog.Logger, cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	return &Server{log: logger, cfg: cfg}
}

// RegisterRoutes mounts the signaling endpoints on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/signal", func(w http.ResponseWriter, r *http.Request) {
		s.handlePublish(w, r, kindOffer)
	})
	mux.HandleFunc("PATCH /api/signal", func(w http.ResponseWriter, r *http.Request) {
		s.handlePublish(w, r, kindAnswer)
	})
	mux.HandleFunc("GET /api/signal", s.handleSnapshot)
	mux.HandleFunc("GET /api/signal/watch", s.handleWatch)
	mux.HandleFunc("GET /api/ice", s.handleICEServers)
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request, descriptionKind publishKind) {
	body := r.Body
	if s.cfg.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, body, s.cfg.MaxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		s.rejectPayload(w, r, "request body unreadable")
		return
	}

	req, err := parsePublishRequest(data)
	if err != nil {
		s.rejectPayload(w, r, err.Error())
		return
	}

	if s.cfg.Limiter != nil && !s.cfg.Limiter.Allow(req.SessionID) {
		s.cfg.Metrics.Inc(metrics.PublishesThrottled)
		s.log.Warn("publish throttled", "session_id", req.SessionID, "remote_addr", r.RemoteAddr)
		httpserver.WriteJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		return
	}

	switch req.resolveKind(descriptionKind) {
	case kindOffer:
		err = s.cfg.Store.UpsertOffer(req.SessionID, req.Description)
	case kindAnswer:
		err = s.cfg.Store.UpsertAnswer(req.SessionID, req.Description)
	case kindCandidate:
		// Role was validated during parsing.
		role, _ := store.ParseRole(req.Role)
		err = s.cfg.Store.AppendCandidate(req.SessionID, role, req.Candidate)
	}
	if errors.Is(err, store.ErrTooManySessions) {
		s.log.Warn("session rejected", "session_id", req.SessionID, "err", err)
		httpserver.WriteJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	if err != nil {
		s.log.Error("signal publish failed", "session_id", req.SessionID, "err", err)
		httpserver.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	httpserver.WriteJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		s.rejectPayload(w, r, "missing sessionId")
		return
	}

	snap := s.cfg.Store.Read(id)
	s.cfg.Metrics.Inc(metrics.SnapshotsServed)
	httpserver.WriteJSON(w, http.StatusOK, snapshotResponseFromStore(snap))
}

// handleICEServers serves the ICE configuration peers dial with: the static
// STUN list plus, when a TURN generator is configured, relay credentials
// minted for this session.
func (s *Server) handleICEServers(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		s.rejectPayload(w, r, "missing sessionId")
		return
	}

	resp := iceServersResponse{ICEServers: []ICEServer{}}
	if len(s.cfg.StunURLs) > 0 {
		resp.ICEServers = append(resp.ICEServers, ICEServer{URLs: s.cfg.StunURLs})
	}
	if s.cfg.TURN != nil && len(s.cfg.TurnURLs) > 0 {
		creds, err := s.cfg.TURN.Generate(id)
		if err != nil {
			s.rejectPayload(w, r, err.Error())
			return
		}
		resp.ICEServers = append(resp.ICEServers, ICEServer{
			URLs:       s.cfg.TurnURLs,
			Username:   creds.Username,
			Credential: creds.Credential,
		})
		resp.ExpiresAtUnix = creds.ExpiryUnix
	}

	s.cfg.Metrics.Inc(metrics.ICEConfigsServed)
	httpserver.WriteJSON(w, http.StatusOK, resp)
}

func (s *Server) rejectPayload(w http.ResponseWriter, r *http.Request, msg string) {
	s.cfg.Metrics.Inc(metrics.InvalidPayloads)
	s.log.Warn("invalid signal payload",
		"method", r.Method,
		"remote_addr", r.RemoteAddr,
		"err", msg,
	)
	httpserver.WriteJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
