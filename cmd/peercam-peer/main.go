// Command peercam-peer runs one side of a handshake against a peercam
// server. It is the headless counterpart of the browser pages: the initiator
// mints a session and waits for an answer, the responder joins an existing
// session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/peercam/peercam/internal/config"
	"github.com/peercam/peercam/internal/handshake"
	"github.com/peercam/peercam/internal/rtcpeer"
	"github.com/peercam/peercam/internal/signaling"
	"github.com/peercam/peercam/internal/store"
	"github.com/peercam/peercam/internal/upload"
)

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	fs := flag.NewFlagSet("peercam-peer", flag.ContinueOnError)
	role := fs.String("role", string(store.RoleInitiator), "Handshake role: initiator or responder")
	session := fs.String("session", "", "Session ID (required for responder; minted when empty for initiator)")
	server := fs.String("server", defaultServerURL(cfg), "Base URL of the peercam server")
	frame := fs.String("frame", "", "Optional image file to post to the upload webhook once connected")
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	parsedRole, err := store.ParseRole(*role)
	if err != nil {
		logger.Error("invalid role", "err", err)
		os.Exit(2)
	}
	if parsedRole == store.RoleResponder && *session == "" {
		logger.Error("responder requires -session")
		os.Exit(2)
	}

	if parsedRole == store.RoleInitiator && *session == "" {
		*session = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := signaling.NewClient(*server, nil)

	// Prefer the server's ICE configuration, which can include TURN
	// credentials; fall back to the locally configured STUN list.
	iceServers := rtcpeer.ICEServers(cfg)
	if fetched, err := client.FetchICEServers(ctx, *session); err != nil {
		logger.Warn("fetching ice servers failed, using local stun config", "err", err)
	} else if len(fetched) > 0 {
		iceServers = rtcpeer.ICEServersFromSignaling(fetched)
	}

	api, err := rtcpeer.NewAPI(cfg)
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		os.Exit(2)
	}
	peer, err := rtcpeer.NewPeer(api, iceServers)
	if err != nil {
		logger.Error("failed to create peer connection", "err", err)
		os.Exit(2)
	}
	defer peer.Close()

	hsCfg := handshake.Config{
		PollInterval:    cfg.PollInterval,
		MaxPollAttempts: cfg.PollMaxAttempts,
	}

	switch parsedRole {
	case store.RoleInitiator:
		drv := handshake.NewInitiator(logger, client, peer, *session, hsCfg)
		// The responder joins using this ID.
		fmt.Println(drv.SessionID())
		err = drv.Run(ctx)
	case store.RoleResponder:
		drv := handshake.NewResponder(logger, client, peer, *session, hsCfg)
		err = drv.Run(ctx)
	}
	if err != nil {
		logger.Error("handshake failed", "role", parsedRole, "err", err)
		os.Exit(1)
	}
	logger.Info("peer connected", "role", parsedRole)

	if *frame != "" && cfg.UploadURL != "" {
		data, err := os.ReadFile(*frame)
		if err != nil {
			logger.Error("read frame", "path", *frame, "err", err)
			os.Exit(1)
		}
		text, err := upload.NewClient(cfg.UploadURL, nil).Send(ctx, *frame, data)
		if err != nil {
			logger.Error("upload frame", "err", err)
			os.Exit(1)
		}
		logger.Info("frame uploaded", "response", text)
	}

	<-ctx.Done()
}

func defaultServerURL(cfg config.Config) string {
	if cfg.PublicBaseURL != "" {
		return cfg.PublicBaseURL
	}
	return "http://" + cfg.ListenAddr
}
