// Package transport wraps a single PeerConnection, exposing the signaling
// steps the call flow needs and lifecycle channels for the connection.
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/util"
)

// Peer wraps one PeerConnection.
//
// Ready is closed once the connection state reaches connected. Done is
// closed when it fails or closes, or when the context passed to NewPeer is
// cancelled.
type Peer struct {
	pc *webrtc.PeerConnection

	readySignal chan struct{}
	readyOnce   sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error

	mu        sync.Mutex
	pcState   webrtc.PeerConnectionState
	hasRemote bool
	pending   []webrtc.ICECandidateInit
}

// NewPeer creates a Peer backed by a new PeerConnection from api.
func NewPeer(ctx context.Context, api *webrtc.API, cfg webrtc.Configuration) (*Peer, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	pCtx, pCancel := context.WithCancel(ctx)

	p := &Peer{
		pc:          pc,
		readySignal: make(chan struct{}),
		ctx:         pCtx,
		cancel:      pCancel,
		pcState:     webrtc.PeerConnectionStateNew,
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		util.LogDebug("PeerConnection state: %s", state.String())
		p.mu.Lock()
		p.pcState = state
		p.mu.Unlock()

		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.readyOnce.Do(func() { close(p.readySignal) })
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			pCancel()
		}
	})

	return p, nil
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Ready returns a channel that is closed when the connection is established.
func (p *Peer) Ready() <-chan struct{} {
	return p.readySignal
}

// Done returns a channel that is closed when the Peer is shut down.
func (p *Peer) Done() <-chan struct{} {
	return p.ctx.Done()
}

// Close shuts down the PeerConnection. It is safe to call more than once.
func (p *Peer) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.closeErr = p.pc.Close()
	})
	return p.closeErr
}

// ConnectionState returns the last observed PeerConnection state.
func (p *Peer) ConnectionState() webrtc.PeerConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pcState
}

// SignalingState returns the current signaling state.
func (p *Peer) SignalingState() webrtc.SignalingState {
	return p.pc.SignalingState()
}

// ---------------------------------------------------------------------------
// Signaling
// ---------------------------------------------------------------------------

// CreateOffer generates an SDP offer.
func (p *Peer) CreateOffer() (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(nil)
}

// CreateAnswer generates an SDP answer.
func (p *Peer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

// SetLocalDescription applies the local SDP.
func (p *Peer) SetLocalDescription(sdp webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(sdp)
}

// LocalDescription returns the current local description, including the
// candidates gathered so far. It is nil before SetLocalDescription.
func (p *Peer) LocalDescription() *webrtc.SessionDescription {
	return p.pc.LocalDescription()
}

// GatheringComplete returns a channel that is closed when ICE gathering for
// the current local description has finished.
func (p *Peer) GatheringComplete() <-chan struct{} {
	return webrtc.GatheringCompletePromise(p.pc)
}

// SetRemoteDescription applies the remote SDP and then adds any candidates
// that arrived before it.
func (p *Peer) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(sdp); err != nil {
		return err
	}

	p.mu.Lock()
	p.hasRemote = true
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			util.LogWarning("failed to add queued ICE candidate: %v", err)
		}
	}
	if len(pending) > 0 {
		util.LogDebug("flushed %d queued ICE candidates", len(pending))
	}
	return nil
}

// OnICECandidate registers a callback invoked whenever a new local ICE
// candidate is gathered. A nil candidate signals the end of gathering.
func (p *Peer) OnICECandidate(fn func(*webrtc.ICECandidate)) {
	p.pc.OnICECandidate(fn)
}

// AddICECandidate adds a remote ICE candidate. Candidates received before a
// remote description is set are queued until SetRemoteDescription.
func (p *Peer) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.hasRemote {
		p.pending = append(p.pending, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	return p.pc.AddICECandidate(candidate)
}

// PendingCandidates returns how many remote candidates are waiting for a
// remote description.
func (p *Peer) PendingCandidates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// ---------------------------------------------------------------------------
// Media
// ---------------------------------------------------------------------------

// AddTrack attaches a local track. RTCP from the remote side is drained in
// the background so the interceptors keep working.
func (p *Peer) AddTrack(track webrtc.TrackLocal) error {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return err
	}

	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return nil
}

// OnTrack registers a callback invoked for every remote track.
func (p *Peer) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.pc.OnTrack(fn)
}
