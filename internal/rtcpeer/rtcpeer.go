// Package rtcpeer wraps a pion PeerConnection behind the small surface the
// handshake drivers need: produce and accept session descriptions, trickle
// candidates both ways, and report when the connection is up.
package rtcpeer

import (
	"fmt"
	"log/slog"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"github.com/peercam/peercam/internal/config"
	"github.com/peercam/peercam/internal/signaling"
)

// NewAPI builds the pion API used for all peer connections of a process.
func NewAPI(cfg config.Config) (*webrtc.API, error) {
	se := webrtc.SettingEngine{}
	se.LoggerFactory = newLoggerFactory(cfg)

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	return webrtc.NewAPI(
		webrtc.WithSettingEngine(se),
		webrtc.WithMediaEngine(mediaEngine),
	), nil
}

func newLoggerFactory(cfg config.Config) logging.LoggerFactory {
	lf := logging.NewDefaultLoggerFactory()
	switch {
	case cfg.LogLevel <= slog.LevelDebug:
		lf.DefaultLogLevel = logging.LogLevelDebug
	case cfg.LogLevel <= slog.LevelInfo:
		lf.DefaultLogLevel = logging.LogLevelInfo
	default:
		lf.DefaultLogLevel = logging.LogLevelWarn
	}
	return lf
}

// ICEServers maps the configured STUN URLs into pion's configuration shape.
func ICEServers(cfg config.Config) []webrtc.ICEServer {
	if len(cfg.StunURLs) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: cfg.StunURLs}}
}

// ICEServersFromSignaling converts a server-provided ICE configuration,
// which may carry TURN REST credentials, into pion's shape.
func ICEServersFromSignaling(servers []signaling.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		entry := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			entry.Username = s.Username
			entry.Credential = s.Credential
			entry.CredentialType = webrtc.ICECredentialTypePassword
		}
		out = append(out, entry)
	}
	return out
}
