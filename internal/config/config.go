// Package config loads runtime configuration from environment variables with
// command-line flag overrides.
package config

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envVarListenAddr      = "PEERCAM_LISTEN_ADDR"
	envVarPublicBaseURL   = "PEERCAM_PUBLIC_BASE_URL"
	envVarMode            = "PEERCAM_MODE"
	envVarLogFormat       = "PEERCAM_LOG_FORMAT"
	envVarLogLevel        = "PEERCAM_LOG_LEVEL"
	envVarShutdownTimeout = "PEERCAM_SHUTDOWN_TIMEOUT"

	// Session store knobs.
	envVarSessionTTL           = "SESSION_TTL"
	envVarSessionSweepInterval = "SESSION_SWEEP_INTERVAL"
	envVarMaxSessions          = "MAX_SESSIONS"

	// Signaling endpoint hardening.
	envVarMaxSignalBodyBytes = "MAX_SIGNAL_BODY_BYTES"

	// Handshake driver cadence.
	envVarPollInterval    = "POLL_INTERVAL"
	envVarPollMaxAttempts = "POLL_MAX_ATTEMPTS"

	// Peer connection + external collaborators.
	envVarStunURLs  = "STUN_URLS"
	envVarUploadURL = "UPLOAD_URL"

	// Watch endpoint origin allowlist.
	envVarAllowedOrigins = "ALLOWED_ORIGINS"

	// Publish rate limiting.
	envVarPublishRateLimit = "PUBLISH_RATE_LIMIT"
	envVarPublishRateBurst = "PUBLISH_RATE_BURST"

	// TURN REST credential minting for /api/ice.
	envVarTurnURLs   = "TURN_URLS"
	envVarTurnSecret = "TURN_SECRET"
	envVarTurnTTL    = "TURN_TTL"
)

const (
	DefaultListenAddr      = "127.0.0.1:8080"
	DefaultShutdownTimeout = 15 * time.Second

	// DefaultSessionTTL bounds how long an abandoned session's state (offer,
	// answer, candidate sequences) survives without any read or write. The
	// base exchange never drains candidates, so expiry is the only thing
	// standing between a long-lived process and unbounded growth.
	DefaultSessionTTL           = 5 * time.Minute
	DefaultSessionSweepInterval = 30 * time.Second

	DefaultMaxSignalBodyBytes int64 = 64 << 10 // 64KiB

	// DefaultPollInterval/DefaultPollMaxAttempts give the ~80s answer budget
	// both roles run their polling loops with.
	DefaultPollInterval    = 2 * time.Second
	DefaultPollMaxAttempts = 40

	DefaultStunURL = "stun:stun.l.google.com:19302"

	// DefaultPublishRateBurst only applies when PUBLISH_RATE_LIMIT enables
	// limiting.
	DefaultPublishRateBurst = 20

	DefaultTurnTTL = 10 * time.Minute

	DefaultMode Mode = ModeDev
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type Config struct {
	ListenAddr string

	// PublicBaseURL is the externally reachable base URL of the rendezvous
	// server. Used by the initiator to print the link handed to the responder
	// out-of-band (QR code, copy/paste).
	PublicBaseURL string

	Mode            Mode
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration

	SessionTTL           time.Duration
	SessionSweepInterval time.Duration
	MaxSessions          int

	MaxSignalBodyBytes int64

	PollInterval    time.Duration
	PollMaxAttempts int

	StunURLs  []string
	UploadURL string

	// AllowedOrigins restricts browser Origins on the watch WebSocket.
	// Empty allows any origin.
	AllowedOrigins []string

	// PublishRateLimit caps publishes per session per second; 0 disables
	// limiting. PublishRateBurst is the bucket size when enabled.
	PublishRateLimit int
	PublishRateBurst int

	// TurnURLs and TurnSecret enable short-lived TURN credentials on
	// GET /api/ice. Both empty disables TURN.
	TurnURLs   []string
	TurnSecret string
	TurnTTL    time.Duration
}

func Load(args []string) (Config, error) {
	return load(os.LookupEnv, args)
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	listenAddr := envOrDefault(lookup, envVarListenAddr, DefaultListenAddr)
	publicBaseURL := envOrDefault(lookup, envVarPublicBaseURL, "")
	stunURLsStr := envOrDefault(lookup, envVarStunURLs, DefaultStunURL)
	uploadURL := envOrDefault(lookup, envVarUploadURL, "")
	allowedOriginsStr := envOrDefault(lookup, envVarAllowedOrigins, "")
	turnURLsStr := envOrDefault(lookup, envVarTurnURLs, "")
	turnSecret := envOrDefault(lookup, envVarTurnSecret, "")

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	sessionTTL, err := envDurationOrDefault(lookup, envVarSessionTTL, DefaultSessionTTL)
	if err != nil {
		return Config{}, err
	}
	sessionSweepInterval, err := envDurationOrDefault(lookup, envVarSessionSweepInterval, DefaultSessionSweepInterval)
	if err != nil {
		return Config{}, err
	}
	pollInterval, err := envDurationOrDefault(lookup, envVarPollInterval, DefaultPollInterval)
	if err != nil {
		return Config{}, err
	}
	maxSessions, err := envIntOrDefault(lookup, envVarMaxSessions, 0)
	if err != nil {
		return Config{}, err
	}
	pollMaxAttempts, err := envIntOrDefault(lookup, envVarPollMaxAttempts, DefaultPollMaxAttempts)
	if err != nil {
		return Config{}, err
	}
	publishRateLimit, err := envIntOrDefault(lookup, envVarPublishRateLimit, 0)
	if err != nil {
		return Config{}, err
	}
	publishRateBurst, err := envIntOrDefault(lookup, envVarPublishRateBurst, DefaultPublishRateBurst)
	if err != nil {
		return Config{}, err
	}
	turnTTL, err := envDurationOrDefault(lookup, envVarTurnTTL, DefaultTurnTTL)
	if err != nil {
		return Config{}, err
	}
	maxSignalBodyBytes := DefaultMaxSignalBodyBytes
	if raw, ok := lookup(envVarMaxSignalBodyBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalBodyBytes, raw, err)
		}
		maxSignalBodyBytes = n
	}

	fs := flag.NewFlagSet("peercam", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "HTTP listen address (host:port)")
	fs.StringVar(&publicBaseURL, "public-base-url", publicBaseURL, "Public base URL used in responder links (env "+envVarPublicBaseURL+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")
	fs.DurationVar(&sessionTTL, "session-ttl", sessionTTL, "Expire sessions untouched for this long; 0 disables expiry (env "+envVarSessionTTL+")")
	fs.DurationVar(&sessionSweepInterval, "session-sweep-interval", sessionSweepInterval, "How often to sweep expired sessions (env "+envVarSessionSweepInterval+")")
	fs.IntVar(&maxSessions, "max-sessions", maxSessions, "Max live sessions; 0 = unlimited (env "+envVarMaxSessions+")")
	fs.Int64Var(&maxSignalBodyBytes, "max-signal-body-bytes", maxSignalBodyBytes, "Max accepted signaling request body size (env "+envVarMaxSignalBodyBytes+")")
	fs.DurationVar(&pollInterval, "poll-interval", pollInterval, "Interval between signaling polls (env "+envVarPollInterval+")")
	fs.IntVar(&pollMaxAttempts, "poll-max-attempts", pollMaxAttempts, "Answer poll attempts before giving up (env "+envVarPollMaxAttempts+")")
	fs.StringVar(&stunURLsStr, "stun-urls", stunURLsStr, "Comma-separated STUN URLs (env "+envVarStunURLs+")")
	fs.StringVar(&uploadURL, "upload-url", uploadURL, "Webhook URL receiving captured frames (env "+envVarUploadURL+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated browser origins allowed on the watch endpoint; empty allows any (env "+envVarAllowedOrigins+")")
	fs.IntVar(&publishRateLimit, "publish-rate-limit", publishRateLimit, "Max publishes per session per second; 0 disables limiting (env "+envVarPublishRateLimit+")")
	fs.IntVar(&publishRateBurst, "publish-rate-burst", publishRateBurst, "Publish rate limit burst size (env "+envVarPublishRateBurst+")")
	fs.StringVar(&turnURLsStr, "turn-urls", turnURLsStr, "Comma-separated TURN URLs served on /api/ice (env "+envVarTurnURLs+")")
	fs.StringVar(&turnSecret, "turn-secret", turnSecret, "Shared secret for TURN REST credentials (env "+envVarTurnSecret+")")
	fs.DurationVar(&turnTTL, "turn-ttl", turnTTL, "Lifetime of minted TURN credentials (env "+envVarTurnTTL+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	setFlags := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	if !envLogFormatSet && !setFlags["log-format"] {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !envLogLevelSet && !setFlags["log-level"] {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	if listenAddr == "" {
		return Config{}, fmt.Errorf("listen address must not be empty")
	}
	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if sessionTTL < 0 {
		return Config{}, fmt.Errorf("%s/--session-ttl must be >= 0", envVarSessionTTL)
	}
	if sessionSweepInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--session-sweep-interval must be > 0", envVarSessionSweepInterval)
	}
	if maxSessions < 0 {
		return Config{}, fmt.Errorf("%s/--max-sessions must be >= 0", envVarMaxSessions)
	}
	if maxSignalBodyBytes <= 0 {
		return Config{}, fmt.Errorf("%s/--max-signal-body-bytes must be > 0", envVarMaxSignalBodyBytes)
	}
	if pollInterval <= 0 {
		return Config{}, fmt.Errorf("%s/--poll-interval must be > 0", envVarPollInterval)
	}
	if pollMaxAttempts <= 0 {
		return Config{}, fmt.Errorf("%s/--poll-max-attempts must be > 0", envVarPollMaxAttempts)
	}
	if publishRateLimit < 0 {
		return Config{}, fmt.Errorf("%s/--publish-rate-limit must be >= 0", envVarPublishRateLimit)
	}
	if publishRateLimit > 0 && publishRateBurst <= 0 {
		return Config{}, fmt.Errorf("%s/--publish-rate-burst must be > 0 when limiting is enabled", envVarPublishRateBurst)
	}
	turnURLs := splitCommaList(turnURLsStr)
	if len(turnURLs) > 0 && turnSecret == "" {
		return Config{}, fmt.Errorf("%s/--turn-secret is required when TURN URLs are set", envVarTurnSecret)
	}
	if turnSecret != "" && len(turnURLs) == 0 {
		return Config{}, fmt.Errorf("%s/--turn-urls is required when a TURN secret is set", envVarTurnURLs)
	}
	if turnTTL <= 0 {
		return Config{}, fmt.Errorf("%s/--turn-ttl must be > 0", envVarTurnTTL)
	}

	return Config{
		ListenAddr:           listenAddr,
		PublicBaseURL:        strings.TrimRight(publicBaseURL, "/"),
		Mode:                 mode,
		LogFormat:            logFormat,
		LogLevel:             level,
		ShutdownTimeout:      shutdownTimeout,
		SessionTTL:           sessionTTL,
		SessionSweepInterval: sessionSweepInterval,
		MaxSessions:          maxSessions,
		MaxSignalBodyBytes:   maxSignalBodyBytes,
		PollInterval:         pollInterval,
		PollMaxAttempts:      pollMaxAttempts,
		StunURLs:             splitCommaList(stunURLsStr),
		UploadURL:            uploadURL,
		AllowedOrigins:       splitCommaList(allowedOriginsStr),
		PublishRateLimit:     publishRateLimit,
		PublishRateBurst:     publishRateBurst,
		TurnURLs:             turnURLs,
		TurnSecret:           turnSecret,
		TurnTTL:              turnTTL,
	}, nil
}

// NewLogger builds the process logger from the loaded configuration.
func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func splitCommaList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}
