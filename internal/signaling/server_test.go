package signaling

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peercam/peercam/internal/metrics"
	"github.com/peercam/peercam/internal/store"
)

func newTestServer(t *testing.T, storeCfg store.Config) (*httptest.Server, *store.Store, *metrics.Metrics) {
	t.Helper()

	m := metrics.New()
	st := store.New(storeCfg, m, store.RealClock{})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	mux := http.NewServeMux()
	NewServer(log, Config{Store: st, Metrics: m, MaxBodyBytes: 64 << 10}).RegisterRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, st, m
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp, decoded
}

func TestSnapshot_UnknownSessionReturnsEmptyDefaults(t *testing.T) {
	srv, st, _ := newTestServer(t, store.Config{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/signal?sessionId=nope", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}
	if body["offer"] != nil || body["answer"] != nil {
		t.Fatalf("body=%v, want null offer and answer", body)
	}
	if got := body["candidatesInitiator"].([]any); len(got) != 0 {
		t.Fatalf("candidatesInitiator=%v, want empty", got)
	}
	if got := body["candidatesResponder"].([]any); len(got) != 0 {
		t.Fatalf("candidatesResponder=%v, want empty", got)
	}
	if st.ActiveSessions() != 0 {
		t.Fatalf("read created a session")
	}
}

func TestSnapshot_MissingSessionIDRejected(t *testing.T) {
	srv, _, m := newTestServer(t, store.Config{})

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/signal", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
	if body["error"] == "" {
		t.Fatalf("body=%v, want error message", body)
	}
	if got := m.Get(metrics.InvalidPayloads); got != 1 {
		t.Fatalf("invalid payloads=%d, want 1", got)
	}
}

func TestPublish_FullExchange(t *testing.T) {
	srv, _, _ := newTestServer(t, store.Config{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/signal",
		`{"sessionId":"s1","description":{"type":"offer","sdp":"v=0 offer"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("offer status=%d, want 200", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/signal",
		`{"sessionId":"s1","candidate":{"candidate":"candidate:1"},"role":"initiator"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("candidate status=%d, want 200", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPatch, srv.URL+"/api/signal",
		`{"sessionId":"s1","description":{"type":"answer","sdp":"v=0 answer"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer status=%d, want 200", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/signal",
		`{"sessionId":"s1","candidate":{"candidate":"candidate:2"},"role":"responder"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("responder candidate status=%d, want 200", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/signal?sessionId=s1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("snapshot status=%d, want 200", resp.StatusCode)
	}
	offer := body["offer"].(map[string]any)
	if offer["sdp"] != "v=0 offer" {
		t.Fatalf("offer=%v", offer)
	}
	answer := body["answer"].(map[string]any)
	if answer["sdp"] != "v=0 answer" {
		t.Fatalf("answer=%v", answer)
	}
	if got := body["candidatesInitiator"].([]any); len(got) != 1 {
		t.Fatalf("candidatesInitiator=%v, want 1 entry", got)
	}
	if got := body["candidatesResponder"].([]any); len(got) != 1 {
		t.Fatalf("candidatesResponder=%v, want 1 entry", got)
	}
}

func TestPublish_MalformedBodyDoesNotTouchStore(t *testing.T) {
	srv, st, m := newTestServer(t, store.Config{})

	cases := []string{
		`not json`,
		`{}`,
		`{"sessionId":"s1"}`,
		`{"sessionId":"s1","candidate":{"candidate":"c"}}`,
		`{"sessionId":"s1","candidate":{"candidate":"c"},"role":"viewer"}`,
	}
	for _, body := range cases {
		resp, decoded := doJSON(t, http.MethodPost, srv.URL+"/api/signal", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: status=%d, want 400", body, resp.StatusCode)
		}
		if decoded["error"] == "" {
			t.Fatalf("body %s: missing error message", body)
		}
	}
	if st.ActiveSessions() != 0 {
		t.Fatalf("malformed publish created a session")
	}
	if got := m.Get(metrics.InvalidPayloads); got != uint64(len(cases)) {
		t.Fatalf("invalid payloads=%d, want %d", got, len(cases))
	}
}

func TestPublish_ExplicitKindRoutesAnswerOnPost(t *testing.T) {
	srv, st, _ := newTestServer(t, store.Config{})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/signal",
		`{"sessionId":"s1","kind":"answer","description":{"type":"answer","sdp":"v=0"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}

	snap := st.Read("s1")
	if snap.Offer != nil {
		t.Fatalf("offer=%s, want none", snap.Offer)
	}
	if snap.Answer == nil {
		t.Fatalf("answer missing")
	}
}

func TestPublish_TooManySessionsReturns503(t *testing.T) {
	srv, _, _ := newTestServer(t, store.Config{MaxSessions: 1})

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/signal",
		`{"sessionId":"s1","description":{"type":"offer","sdp":"v=0"}}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first session status=%d, want 200", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/signal",
		`{"sessionId":"s2","description":{"type":"offer","sdp":"v=0"}}`)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("second session status=%d, want 503", resp.StatusCode)
	}
	if body["error"] == "" {
		t.Fatalf("body=%v, want error message", body)
	}
}

func TestPublish_BodyLimitEnforced(t *testing.T) {
	srv, _, _ := newTestServer(t, store.Config{})

	huge := `{"sessionId":"s1","description":{"type":"offer","sdp":"` + strings.Repeat("a", 128<<10) + `"}}`
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/signal", huge)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status=%d, want 400", resp.StatusCode)
	}
}

func TestWatch_PushesSnapshotsOnWrites(t *testing.T) {
	srv, st, _ := newTestServer(t, store.Config{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/signal/watch?sessionId=s1"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := st.UpsertOffer("s1", json.RawMessage(`{"type":"offer","sdp":"v=0"}`)); err != nil {
		t.Fatalf("upsert offer: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var snap snapshotResponse
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read: %v", err)
	}
	if snap.Offer == nil {
		t.Fatalf("snapshot=%+v, want offer", snap)
	}
	if snap.Version == 0 {
		t.Fatalf("version=0, want nonzero")
	}

	if err := st.AppendCandidate("s1", store.RoleInitiator, json.RawMessage(`{"candidate":"candidate:1"}`)); err != nil {
		t.Fatalf("append candidate: %v", err)
	}
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(snap.CandidatesInitiator) != 1 {
		t.Fatalf("snapshot=%+v, want 1 initiator candidate", snap)
	}
}
