package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/peercam/peercam/internal/config"
	"github.com/peercam/peercam/internal/httpserver"
	"github.com/peercam/peercam/internal/metrics"
	"github.com/peercam/peercam/internal/ratelimit"
	"github.com/peercam/peercam/internal/signaling"
	"github.com/peercam/peercam/internal/store"
	"github.com/peercam/peercam/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting peercam",
		"listen_addr", cfg.ListenAddr,
		"public_base_url", cfg.PublicBaseURL,
		"mode", cfg.Mode,
		"session_ttl", cfg.SessionTTL,
		"session_sweep_interval", cfg.SessionSweepInterval,
		"max_sessions", cfg.MaxSessions,
		"max_signal_body_bytes", cfg.MaxSignalBodyBytes,
	)

	m := metrics.New()
	st := store.New(store.Config{
		SessionTTL:    cfg.SessionTTL,
		SweepInterval: cfg.SessionSweepInterval,
		MaxSessions:   cfg.MaxSessions,
	}, m, store.RealClock{})

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go st.RunSweeper(sweepCtx)

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	sigCfg := signaling.Config{
		Store:          st,
		Metrics:        m,
		MaxBodyBytes:   cfg.MaxSignalBodyBytes,
		AllowedOrigins: cfg.AllowedOrigins,
		StunURLs:       cfg.StunURLs,
	}
	if cfg.PublishRateLimit > 0 {
		sigCfg.Limiter = ratelimit.NewPublishLimiter(store.RealClock{},
			int64(cfg.PublishRateLimit), int64(cfg.PublishRateBurst))
	}
	if cfg.TurnSecret != "" {
		turn, err := turnrest.NewGenerator(cfg.TurnSecret, "peercam", cfg.TurnTTL, store.RealClock{})
		if err != nil {
			logger.Error("failed to configure turn credentials", "err", err)
			os.Exit(2)
		}
		sigCfg.TURN = turn
		sigCfg.TurnURLs = cfg.TurnURLs
	}

	sig := signaling.NewServer(logger, sigCfg)
	sig.RegisterRoutes(srv.Mux())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}
	stopSweeper()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}
	return commit, buildTime
}
