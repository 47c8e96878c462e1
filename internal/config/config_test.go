package config

import (
	"log/slog"
	"testing"
	"time"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func noEnv(string) (string, bool) { return "", false }

func TestDefaultsDev(t *testing.T) {
	cfg, err := load(noEnv, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeDev {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeDev)
	}
	if cfg.LogFormat != LogFormatText {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatText)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("logLevel=%v, want debug", cfg.LogLevel)
	}
	if cfg.ListenAddr != DefaultListenAddr {
		t.Fatalf("ListenAddr=%q, want %q", cfg.ListenAddr, DefaultListenAddr)
	}
	if cfg.SessionTTL != DefaultSessionTTL {
		t.Fatalf("SessionTTL=%v, want %v", cfg.SessionTTL, DefaultSessionTTL)
	}
	if cfg.SessionSweepInterval != DefaultSessionSweepInterval {
		t.Fatalf("SessionSweepInterval=%v, want %v", cfg.SessionSweepInterval, DefaultSessionSweepInterval)
	}
	if cfg.MaxSessions != 0 {
		t.Fatalf("MaxSessions=%d, want 0", cfg.MaxSessions)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Fatalf("PollInterval=%v, want %v", cfg.PollInterval, DefaultPollInterval)
	}
	if cfg.PollMaxAttempts != DefaultPollMaxAttempts {
		t.Fatalf("PollMaxAttempts=%d, want %d", cfg.PollMaxAttempts, DefaultPollMaxAttempts)
	}
	if cfg.MaxSignalBodyBytes != DefaultMaxSignalBodyBytes {
		t.Fatalf("MaxSignalBodyBytes=%d, want %d", cfg.MaxSignalBodyBytes, DefaultMaxSignalBodyBytes)
	}
	if len(cfg.StunURLs) != 1 || cfg.StunURLs[0] != DefaultStunURL {
		t.Fatalf("StunURLs=%v, want [%s]", cfg.StunURLs, DefaultStunURL)
	}
	if cfg.PublishRateLimit != 0 {
		t.Fatalf("PublishRateLimit=%d, want disabled", cfg.PublishRateLimit)
	}
	if len(cfg.AllowedOrigins) != 0 {
		t.Fatalf("AllowedOrigins=%v, want empty", cfg.AllowedOrigins)
	}
	if cfg.TurnSecret != "" || len(cfg.TurnURLs) != 0 {
		t.Fatalf("TURN config=%q/%v, want unset", cfg.TurnSecret, cfg.TurnURLs)
	}
}

func TestTurnAndRateLimitConfig(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarTurnURLs:         "turn:a.example.com:3478, turn:b.example.com:3478",
		envVarTurnSecret:       "s3cret",
		envVarTurnTTL:          "5m",
		envVarAllowedOrigins:   "https://cam.example.com,http://localhost:3000",
		envVarPublishRateLimit: "10",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.TurnURLs) != 2 {
		t.Fatalf("TurnURLs=%v, want 2 entries", cfg.TurnURLs)
	}
	if cfg.TurnTTL != 5*time.Minute {
		t.Fatalf("TurnTTL=%v, want 5m", cfg.TurnTTL)
	}
	if len(cfg.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins=%v, want 2 entries", cfg.AllowedOrigins)
	}
	if cfg.PublishRateLimit != 10 || cfg.PublishRateBurst != DefaultPublishRateBurst {
		t.Fatalf("rate limit=%d/%d, want 10/%d", cfg.PublishRateLimit, cfg.PublishRateBurst, DefaultPublishRateBurst)
	}
}

func TestDefaultsProdWhenModeFlagSet(t *testing.T) {
	cfg, err := load(noEnv, []string{"--mode", "prod"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mode != ModeProd {
		t.Fatalf("mode=%q, want %q", cfg.Mode, ModeProd)
	}
	if cfg.LogFormat != LogFormatJSON {
		t.Fatalf("logFormat=%q, want %q", cfg.LogFormat, LogFormatJSON)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("logLevel=%v, want info", cfg.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarListenAddr:           "0.0.0.0:9000",
		envVarSessionTTL:           "90s",
		envVarSessionSweepInterval: "5s",
		envVarMaxSessions:          "64",
		envVarPollInterval:         "500ms",
		envVarPollMaxAttempts:      "10",
		envVarStunURLs:             "stun:a.example:3478, stun:b.example:3478",
		envVarUploadURL:            "https://hooks.example/upload",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Fatalf("ListenAddr=%q", cfg.ListenAddr)
	}
	if cfg.SessionTTL != 90*time.Second {
		t.Fatalf("SessionTTL=%v, want 90s", cfg.SessionTTL)
	}
	if cfg.SessionSweepInterval != 5*time.Second {
		t.Fatalf("SessionSweepInterval=%v, want 5s", cfg.SessionSweepInterval)
	}
	if cfg.MaxSessions != 64 {
		t.Fatalf("MaxSessions=%d, want 64", cfg.MaxSessions)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Fatalf("PollInterval=%v, want 500ms", cfg.PollInterval)
	}
	if cfg.PollMaxAttempts != 10 {
		t.Fatalf("PollMaxAttempts=%d, want 10", cfg.PollMaxAttempts)
	}
	if len(cfg.StunURLs) != 2 || cfg.StunURLs[1] != "stun:b.example:3478" {
		t.Fatalf("StunURLs=%v", cfg.StunURLs)
	}
	if cfg.UploadURL != "https://hooks.example/upload" {
		t.Fatalf("UploadURL=%q", cfg.UploadURL)
	}
}

func TestFlagOverridesEnv(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarSessionTTL: "90s",
	}), []string{"--session-ttl", "10m"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionTTL != 10*time.Minute {
		t.Fatalf("SessionTTL=%v, want 10m", cfg.SessionTTL)
	}
}

func TestSessionTTLZeroDisablesExpiry(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarSessionTTL: "0s",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SessionTTL != 0 {
		t.Fatalf("SessionTTL=%v, want 0", cfg.SessionTTL)
	}
}

func TestPublicBaseURLTrailingSlashTrimmed(t *testing.T) {
	cfg, err := load(lookupMap(map[string]string{
		envVarPublicBaseURL: "https://cam.example/",
	}), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.PublicBaseURL != "https://cam.example" {
		t.Fatalf("PublicBaseURL=%q", cfg.PublicBaseURL)
	}
}

func TestInvalidValuesRejected(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "bad mode", args: []string{"--mode", "staging"}},
		{name: "bad log level", args: []string{"--log-level", "verbose"}},
		{name: "negative ttl", args: []string{"--session-ttl", "-1s"}},
		{name: "zero poll interval", args: []string{"--poll-interval", "0s"}},
		{name: "zero poll attempts", args: []string{"--poll-max-attempts", "0"}},
		{name: "bad max sessions", env: map[string]string{envVarMaxSessions: "lots"}},
		{name: "zero body limit", env: map[string]string{envVarMaxSignalBodyBytes: "0"}},
		{name: "empty listen addr", args: []string{"--listen-addr", ""}},
		{name: "negative publish rate", args: []string{"--publish-rate-limit", "-1"}},
		{name: "zero burst with limiting", args: []string{"--publish-rate-limit", "5", "--publish-rate-burst", "0"}},
		{name: "turn urls without secret", env: map[string]string{envVarTurnURLs: "turn:turn.example.com:3478"}},
		{name: "turn secret without urls", env: map[string]string{envVarTurnSecret: "s3cret"}},
		{name: "zero turn ttl", env: map[string]string{
			envVarTurnURLs:   "turn:turn.example.com:3478",
			envVarTurnSecret: "s3cret",
			envVarTurnTTL:    "0s",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lookup := noEnv
			if tc.env != nil {
				lookup = lookupMap(tc.env)
			}
			if _, err := load(lookup, tc.args); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
