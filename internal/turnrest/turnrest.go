// Package turnrest mints coturn-compatible TURN REST credentials so peers
// can relay media when a direct path fails.
//
// Algorithm (draft-uberti-behave-turn-rest):
//
//	username   = <unix_expiry>:<prefix>:<session_id>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/peercam/peercam/internal/store"
)

// Generator mints credentials scoped to a signaling session ID.
type Generator struct {
	secret []byte
	ttl    time.Duration
	prefix string
	clock  store.Clock
}

// NewGenerator validates the shared secret and TTL. prefix tags minted
// usernames and must not contain ':'.
func NewGenerator(secret, prefix string, ttl time.Duration, clock store.Clock) (*Generator, error) {
	if secret == "" {
		return nil, errors.New("shared secret is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be > 0")
	}
	if prefix == "" || strings.Contains(prefix, ":") {
		return nil, fmt.Errorf("invalid username prefix %q", prefix)
	}
	if clock == nil {
		clock = store.RealClock{}
	}
	return &Generator{
		secret: []byte(secret),
		ttl:    ttl,
		prefix: prefix,
		clock:  clock,
	}, nil
}

// Credentials is one short-lived TURN login.
type Credentials struct {
	Username   string
	Credential string
	ExpiryUnix int64
}

// Generate mints credentials for the session. The session ID must not
// contain ':' since it is embedded in the username.
func (g *Generator) Generate(sessionID string) (Credentials, error) {
	if sessionID == "" {
		return Credentials{}, errors.New("session id is required")
	}
	if strings.Contains(sessionID, ":") {
		return Credentials{}, fmt.Errorf("session id %q must not contain ':'", sessionID)
	}

	expiry := g.clock.Now().UTC().Add(g.ttl).Unix()
	username := fmt.Sprintf("%d:%s:%s", expiry, g.prefix, sessionID)

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiryUnix: expiry,
	}, nil
}
