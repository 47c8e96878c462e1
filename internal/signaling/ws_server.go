package signaling

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peercam/peercam/internal/metrics"
	"github.com/peercam/peercam/internal/origin"
)

const wsWriteWait = 5 * time.Second

// handleWatch is the push alternative to polling GET /api/signal. It sends
// the session's current snapshot as soon as the session has one, then a new
// snapshot after each write until the client disconnects. Snapshots may
// coalesce several writes; each carries the full session state.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("sessionId")
	if id == "" {
		s.rejectPayload(w, r, "missing sessionId")
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return origin.Allowed(r.Header.Get("Origin"), s.cfg.AllowedOrigins)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.cfg.Metrics.Inc(metrics.WatchConnections)
	s.log.Info("watch connected", "session_id", id, "remote_addr", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The client never sends data frames; the read loop only surfaces the
	// close handshake.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	var since uint64
	for {
		snap, err := s.cfg.Store.Wait(ctx, id, since)
		if err != nil {
			writeClose(conn, websocket.CloseNormalClosure, "")
			return
		}
		since = snap.Version

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := conn.WriteJSON(snapshotResponseFromStore(snap)); err != nil {
			s.log.Info("watch write failed", "session_id", id, "err", err)
			return
		}
	}
}

func writeClose(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}
