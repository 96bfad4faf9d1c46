// Package app contains the top-level orchestration for the caller and
// callee roles.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/media"
	"github.com/1ureka/peercall/internal/storage"
	"github.com/1ureka/peercall/internal/transport"
	"github.com/1ureka/peercall/internal/util"
	webrtcpkg "github.com/1ureka/peercall/internal/webrtc"
)

// Options configures a call.
type Options struct {
	// API builds the peer connection. Nil builds a default API.
	API *webrtc.API

	// ICEServers is passed to the peer connection as is.
	ICEServers []webrtc.ICEServer

	// Origin is the address the invite link points at.
	Origin string

	// Source supplies local tracks. Nil makes a receive-only participant.
	Source media.Source

	// Sink renders remote tracks. Nil drains them.
	Sink media.Sink

	// GatherTimeout bounds the wait for ICE gathering. Zero publishes the
	// description as soon as it is set.
	GatherTimeout time.Duration
}

// Call is one side of a two-party call. The storage area carries the answer
// and trickled ICE candidates between the participants.
type Call struct {
	role string
	area storage.Area
	peer *transport.Peer
	opts Options

	link string

	active     atomic.Bool
	activeCh   chan struct{}
	activeOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc

	// goMu guards wg.Add against the Wait in Close.
	goMu   sync.Mutex
	closed bool
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

func newCall(ctx context.Context, role string, area storage.Area, opts Options) (*Call, error) {
	if area == nil {
		return nil, errors.New("app: storage area is required")
	}
	if opts.API == nil {
		api, err := webrtcpkg.NewAPI()
		if err != nil {
			return nil, err
		}
		opts.API = api
	}
	if opts.Sink == nil {
		opts.Sink = &media.DiscardSink{}
	}

	cCtx, cancel := context.WithCancel(ctx)
	peer, err := transport.NewPeer(cCtx, opts.API, webrtcpkg.Configuration(opts.ICEServers))
	if err != nil {
		cancel()
		return nil, err
	}

	c := &Call{
		role:     role,
		area:     area,
		peer:     peer,
		opts:     opts,
		activeCh: make(chan struct{}),
		ctx:      cCtx,
		cancel:   cancel,
	}

	peer.OnICECandidate(c.publishCandidate)
	peer.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		started := c.spawn(func() {
			if err := c.opts.Sink.Consume(c.ctx, track); err != nil && !errors.Is(err, context.Canceled) {
				util.LogWarning("[%s] track %s: %v", c.role, track.ID(), err)
			}
		})
		if started {
			util.LogInfo("[%s] remote %s track %s (%s)", c.role, track.Kind(), track.ID(), track.Codec().MimeType)
		}
	})

	if opts.Source != nil {
		for _, track := range opts.Source.Tracks() {
			if err := peer.AddTrack(track); err != nil {
				c.Close()
				return nil, fmt.Errorf("add track %s: %w", track.ID(), err)
			}
		}
	}

	return c, nil
}

// publishCandidate trickles a local candidate through the storage area.
func (c *Call) publishCandidate(candidate *webrtc.ICECandidate) {
	if candidate == nil {
		return
	}
	data, err := json.Marshal(candidate.ToJSON())
	if err != nil {
		util.LogWarning("[%s] failed to encode ICE candidate: %v", c.role, err)
		return
	}
	if err := c.area.SetItem(c.ctx, storage.KeyICECandidate, string(data)); err != nil {
		util.LogDebug("[%s] failed to publish ICE candidate: %v", c.role, err)
	}
}

// describe sets the local description and waits, up to GatherTimeout, for
// ICE gathering so the published SDP carries the candidates. It returns the
// description to publish.
func (c *Call) describe(ctx context.Context, sdp webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	gathered := c.peer.GatheringComplete()
	if err := c.peer.SetLocalDescription(sdp); err != nil {
		return sdp, fmt.Errorf("set local %s: %w", sdp.Type, err)
	}

	if c.opts.GatherTimeout > 0 {
		timer := time.NewTimer(c.opts.GatherTimeout)
		defer timer.Stop()
		select {
		case <-gathered:
		case <-timer.C:
			util.LogDebug("[%s] ICE gathering still running after %s, publishing partial %s", c.role, c.opts.GatherTimeout, sdp.Type)
		case <-ctx.Done():
			return sdp, ctx.Err()
		}
	}

	if local := c.peer.LocalDescription(); local != nil {
		return *local, nil
	}
	return sdp, nil
}

// start launches the storage-event watcher and, once connected, the local
// media source.
func (c *Call) start() {
	c.spawn(c.watch)

	if c.opts.Source == nil {
		return
	}
	c.spawn(func() {
		select {
		case <-c.peer.Ready():
		case <-c.ctx.Done():
			return
		}
		util.LogDebug("[%s] starting local media", c.role)
		if err := c.opts.Source.Start(c.ctx); err != nil {
			util.LogWarning("[%s] local media stopped: %v", c.role, err)
		}
	})
}

// spawn runs fn in a goroutine that Close waits for. Once Close has begun it
// runs nothing and reports false.
func (c *Call) spawn(fn func()) bool {
	c.goMu.Lock()
	defer c.goMu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn()
	}()
	return true
}

func (c *Call) watch() {
	events := c.area.Events()
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				util.LogWarning("[%s] signaling channel closed", c.role)
				return
			}
			if err := c.handleStorageEvent(ev); err != nil {
				util.LogWarning("[%s] %v", c.role, err)
			}
		}
	}
}

// handleStorageEvent applies one change made by the other participant.
func (c *Call) handleStorageEvent(ev storage.Event) error {
	switch ev.Key {
	case storage.KeyAnswer:
		if ev.NewValue == nil {
			return nil
		}
		var answer webrtc.SessionDescription
		if err := json.Unmarshal([]byte(*ev.NewValue), &answer); err != nil {
			return fmt.Errorf("malformed answer: %w", err)
		}
		if answer.Type != webrtc.SDPTypeAnswer {
			return fmt.Errorf("expected an answer, got %s", answer.Type)
		}
		if state := c.peer.SignalingState(); state != webrtc.SignalingStateHaveLocalOffer {
			util.LogDebug("[%s] ignoring answer in signaling state %s", c.role, state)
			return nil
		}
		if err := c.peer.SetRemoteDescription(answer); err != nil {
			return fmt.Errorf("apply answer: %w", err)
		}
		util.LogSuccess("[%s] answer applied", c.role)
		c.markActive()

	case storage.KeyICECandidate:
		if ev.NewValue == nil {
			return nil
		}
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal([]byte(*ev.NewValue), &candidate); err != nil {
			return fmt.Errorf("malformed ICE candidate: %w", err)
		}
		if err := c.peer.AddICECandidate(candidate); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}

	default:
		util.LogDebug("[%s] ignoring storage change of %q", c.role, ev.Key)
	}
	return nil
}

func (c *Call) markActive() {
	c.activeOnce.Do(func() {
		c.active.Store(true)
		close(c.activeCh)
	})
}

// InviteLink returns the link the callee opens. It is empty for the callee.
func (c *Call) InviteLink() string { return c.link }

// Active reports whether both descriptions have been exchanged.
func (c *Call) Active() bool { return c.active.Load() }

// Activated is closed once the call becomes active.
func (c *Call) Activated() <-chan struct{} { return c.activeCh }

// Connected is closed once the peer connection is established.
func (c *Call) Connected() <-chan struct{} { return c.peer.Ready() }

// Done is closed when the call ends.
func (c *Call) Done() <-chan struct{} { return c.peer.Done() }

// ConnectionState returns the peer connection state.
func (c *Call) ConnectionState() webrtc.PeerConnectionState { return c.peer.ConnectionState() }

// Wait blocks until the call ends or ctx is done.
func (c *Call) Wait(ctx context.Context) error {
	select {
	case <-c.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close hangs up: the peer connection, the storage area and the local media
// are all released. It is safe to call more than once.
func (c *Call) Close() error {
	c.closeOnce.Do(func() {
		c.goMu.Lock()
		c.closed = true
		c.goMu.Unlock()

		c.cancel()
		errs := []error{c.peer.Close()}
		c.wg.Wait()
		errs = append(errs, c.area.Close())
		if c.opts.Source != nil {
			errs = append(errs, c.opts.Source.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
