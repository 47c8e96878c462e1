package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/peercam/peercam/internal/store"
)

type publishKind string

const (
	kindOffer     publishKind = "offer"
	kindAnswer    publishKind = "answer"
	kindCandidate publishKind = "candidate"
)

// publishRequest is the body of POST and PATCH /api/signal. The optional
// kind tag routes the payload explicitly; when absent the shape decides:
// a description is an offer (POST) or answer (PATCH), a candidate is a
// candidate. Description and candidate blobs are stored opaquely.
type publishRequest struct {
	SessionID   string          `json:"sessionId"`
	Kind        string          `json:"kind,omitempty"`
	Description json.RawMessage `json:"description,omitempty"`
	Candidate   json.RawMessage `json:"candidate,omitempty"`
	Role        string          `json:"role,omitempty"`
}

func parsePublishRequest(data []byte) (publishRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req publishRequest
	if err := dec.Decode(&req); err != nil {
		return publishRequest{}, err
	}
	if err := req.validate(); err != nil {
		return publishRequest{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return publishRequest{}, fmt.Errorf("unexpected trailing data")
	}
	return req, nil
}

func (r publishRequest) validate() error {
	if r.SessionID == "" {
		return fmt.Errorf("missing sessionId")
	}
	hasDescription := len(r.Description) > 0
	hasCandidate := len(r.Candidate) > 0
	if hasDescription == hasCandidate {
		return fmt.Errorf("exactly one of description and candidate is required")
	}
	if hasCandidate {
		if _, err := store.ParseRole(r.Role); err != nil {
			return err
		}
	} else if r.Role != "" {
		return fmt.Errorf("role is only valid with a candidate")
	}
	switch publishKind(r.Kind) {
	case "":
	case kindOffer, kindAnswer:
		if !hasDescription {
			return fmt.Errorf("kind %q requires a description", r.Kind)
		}
	case kindCandidate:
		if !hasCandidate {
			return fmt.Errorf("kind %q requires a candidate", r.Kind)
		}
	default:
		return fmt.Errorf("unsupported kind %q", r.Kind)
	}
	return nil
}

// resolveKind picks the operation for a publish. An explicit kind tag wins;
// otherwise the shape routes, with descriptionKind deciding between offer
// and answer (POST stores offers, PATCH stores answers).
func (r publishRequest) resolveKind(descriptionKind publishKind) publishKind {
	if r.Kind != "" {
		return publishKind(r.Kind)
	}
	if len(r.Candidate) > 0 {
		return kindCandidate
	}
	return descriptionKind
}

// snapshotResponse is the body of GET /api/signal. Absent descriptions are
// null and candidate lists are always arrays, never null.
type snapshotResponse struct {
	Offer               json.RawMessage   `json:"offer"`
	Answer              json.RawMessage   `json:"answer"`
	CandidatesInitiator []json.RawMessage `json:"candidatesInitiator"`
	CandidatesResponder []json.RawMessage `json:"candidatesResponder"`
	Version             uint64            `json:"version"`
}

func snapshotResponseFromStore(snap store.Snapshot) snapshotResponse {
	resp := snapshotResponse{
		Offer:               snap.Offer,
		Answer:              snap.Answer,
		CandidatesInitiator: snap.CandidatesInitiator,
		CandidatesResponder: snap.CandidatesResponder,
		Version:             snap.Version,
	}
	if resp.CandidatesInitiator == nil {
		resp.CandidatesInitiator = []json.RawMessage{}
	}
	if resp.CandidatesResponder == nil {
		resp.CandidatesResponder = []json.RawMessage{}
	}
	return resp
}

// ICEServer is one entry of the /api/ice response, shaped after the browser
// RTCIceServer dictionary.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type iceServersResponse struct {
	ICEServers []ICEServer `json:"iceServers"`

	// ExpiresAtUnix is set when the response carries minted TURN
	// credentials.
	ExpiresAtUnix int64 `json:"expiresAt,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type okResponse struct {
	OK bool `json:"ok"`
}
