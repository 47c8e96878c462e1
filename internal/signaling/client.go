package signaling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/peercam/peercam/internal/store"
)

// RejectedError is a definitive server-side rejection of a signaling request.
// It is not retryable; transport failures are returned as plain wrapped
// errors and may be.
type RejectedError struct {
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("signaling server rejected request: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("signaling server rejected request: status %d", e.Status)
}

// Client talks to a signaling server over HTTP. It publishes descriptions
// and candidates and fetches session snapshots; polling cadence and retry
// budgets belong to the caller.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the server at baseURL (scheme and host, no
// trailing slash). A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, http: httpClient}
}

// PublishOffer stores the session's offer, creating the session if needed.
func (c *Client) PublishOffer(ctx context.Context, sessionID string, description json.RawMessage) error {
	return c.publish(ctx, http.MethodPost, publishRequest{
		SessionID:   sessionID,
		Kind:        string(kindOffer),
		Description: description,
	})
}

// PublishAnswer stores the session's answer.
func (c *Client) PublishAnswer(ctx context.Context, sessionID string, description json.RawMessage) error {
	return c.publish(ctx, http.MethodPatch, publishRequest{
		SessionID:   sessionID,
		Kind:        string(kindAnswer),
		Description: description,
	})
}

// PublishCandidate appends one ICE candidate under the caller's role.
func (c *Client) PublishCandidate(ctx context.Context, sessionID string, role store.Role, candidate json.RawMessage) error {
	return c.publish(ctx, http.MethodPost, publishRequest{
		SessionID: sessionID,
		Kind:      string(kindCandidate),
		Candidate: candidate,
		Role:      string(role),
	})
}

// Fetch reads the session's current snapshot. Unknown sessions come back as
// an empty snapshot, not an error.
func (c *Client) Fetch(ctx context.Context, sessionID string) (store.Snapshot, error) {
	u := c.baseURL + "/api/signal?sessionId=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("build snapshot request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("fetch snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return store.Snapshot{}, c.rejected(resp)
	}

	var body snapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return store.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return store.Snapshot{
		Offer:               nullToNil(body.Offer),
		Answer:              nullToNil(body.Answer),
		CandidatesInitiator: body.CandidatesInitiator,
		CandidatesResponder: body.CandidatesResponder,
		Version:             body.Version,
	}, nil
}

// nullToNil maps a JSON null back to an absent description. The wire encodes
// "not published yet" as null, but encoding/json decodes that into the
// literal bytes "null" rather than a nil RawMessage.
func nullToNil(blob json.RawMessage) json.RawMessage {
	if bytes.Equal(blob, []byte("null")) {
		return nil
	}
	return blob
}

// FetchICEServers reads the ICE configuration for a session, including any
// minted TURN credentials.
func (c *Client) FetchICEServers(ctx context.Context, sessionID string) ([]ICEServer, error) {
	u := c.baseURL + "/api/ice?sessionId=" + url.QueryEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build ice request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch ice servers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.rejected(resp)
	}

	var body iceServersResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ice servers: %w", err)
	}
	return body.ICEServers, nil
}

func (c *Client) publish(ctx context.Context, method string, payload publishRequest) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode signal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/signal", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("build signal request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("publish signal: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.rejected(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) rejected(resp *http.Response) error {
	var body errorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	_ = json.Unmarshal(data, &body)
	return &RejectedError{Status: resp.StatusCode, Message: body.Error}
}
