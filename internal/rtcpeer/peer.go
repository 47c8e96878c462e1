package rtcpeer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// DataChannelLabel is the channel opened by the offering side so that ICE
// and DTLS have something to negotiate even before media is added.
const DataChannelLabel = "peercam-control"

// Peer is one side of a WebRTC session. Descriptions and candidates cross
// its boundary as opaque JSON so the signaling layer never depends on pion
// types.
type Peer struct {
	pc *webrtc.PeerConnection

	mu          sync.Mutex
	onCandidate func(json.RawMessage)

	connected chan struct{}
	failed    chan struct{}
	closeOnce sync.Once
	connOnce  sync.Once
	failOnce  sync.Once
}

// NewPeer builds a peer connection from api. The returned Peer reports
// candidates through OnLocalCandidate once a local description is set.
func NewPeer(api *webrtc.API, iceServers []webrtc.ICEServer) (*Peer, error) {
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	p := &Peer{
		pc:        pc,
		connected: make(chan struct{}),
		failed:    make(chan struct{}),
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		blob, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		p.mu.Lock()
		fn := p.onCandidate
		p.mu.Unlock()
		if fn != nil {
			fn(blob)
		}
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.connOnce.Do(func() { close(p.connected) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.failOnce.Do(func() { close(p.failed) })
		}
	})

	return p, nil
}

// OnLocalCandidate registers the sink for trickled local candidates. It must
// be set before CreateOffer or AcceptOffer; candidates gathered earlier are
// dropped.
func (p *Peer) OnLocalCandidate(fn func(json.RawMessage)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

// CreateOffer opens the control data channel, produces the local offer and
// starts candidate gathering. The returned blob is a {type, sdp} object.
func (p *Peer) CreateOffer(ctx context.Context) (json.RawMessage, error) {
	if _, err := p.pc.CreateDataChannel(DataChannelLabel, nil); err != nil {
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return nil, fmt.Errorf("set local offer: %w", err)
	}

	blob, err := json.Marshal(p.pc.LocalDescription())
	if err != nil {
		return nil, fmt.Errorf("encode offer: %w", err)
	}
	return blob, nil
}

// AcceptAnswer applies the remote answer on the offering side.
func (p *Peer) AcceptAnswer(ctx context.Context, answer json.RawMessage) error {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(answer, &desc); err != nil {
		return fmt.Errorf("decode answer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// AcceptOffer applies the remote offer, produces the local answer and starts
// candidate gathering. The returned blob is a {type, sdp} object.
func (p *Peer) AcceptOffer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error) {
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(offer, &desc); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return nil, fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local answer: %w", err)
	}

	blob, err := json.Marshal(p.pc.LocalDescription())
	if err != nil {
		return nil, fmt.Errorf("encode answer: %w", err)
	}
	return blob, nil
}

// AddRemoteCandidate applies one trickled remote candidate. The remote
// description must already be set.
func (p *Peer) AddRemoteCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("add candidate: %w", err)
	}
	return nil
}

// OnDataChannel registers fn for data channels opened by the remote side.
func (p *Peer) OnDataChannel(fn func(*webrtc.DataChannel)) {
	p.pc.OnDataChannel(fn)
}

// OnTrack registers fn for inbound media tracks.
func (p *Peer) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.pc.OnTrack(fn)
}

// WaitConnected blocks until the connection reaches the connected state, the
// connection fails, or ctx is done.
func (p *Peer) WaitConnected(ctx context.Context) error {
	select {
	case <-p.connected:
		return nil
	case <-p.failed:
		return fmt.Errorf("peer connection failed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.pc.Close()
	})
	return err
}
