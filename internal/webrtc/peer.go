// Package webrtc builds the pion API and peer connection configuration
// shared by both call roles.
package webrtc

import (
	"fmt"
	"strings"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	"github.com/1ureka/peercall/internal/util"
)

// STUN servers used when no ICE servers are configured.
var stunServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
}

// Option customizes NewAPI.
type Option func(*options)

type options struct {
	settings []func(*webrtc.SettingEngine)
	noPLI    bool
}

// WithSettingEngine registers a hook that can adjust the setting engine
// before the API is built (network, timeouts, candidate filters, ...).
func WithSettingEngine(fn func(*webrtc.SettingEngine)) Option {
	return func(o *options) { o.settings = append(o.settings, fn) }
}

// WithoutIntervalPLI disables the periodic picture loss indication sender.
func WithoutIntervalPLI() Option {
	return func(o *options) { o.noPLI = true }
}

// NewAPI creates a pion API with the default codecs, the default
// interceptors, a periodic PLI interceptor so a freshly joined receiver gets
// a keyframe quickly, and pion logs routed into the project logger.
func NewAPI(opts ...Option) (*webrtc.API, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register default codecs: %w", err)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("register default interceptors: %w", err)
	}

	if !o.noPLI {
		pli, err := intervalpli.NewReceiverInterceptor()
		if err != nil {
			return nil, fmt.Errorf("create interval pli interceptor: %w", err)
		}
		ir.Add(pli)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = util.PionLoggerFactory{Trace: util.DebugEnabled()}
	for _, fn := range o.settings {
		fn(&se)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}

// DefaultICEServers returns the public STUN servers used when none are
// configured.
func DefaultICEServers() []webrtc.ICEServer {
	urls := make([]string, len(stunServers))
	copy(urls, stunServers)
	return []webrtc.ICEServer{{URLs: urls}}
}

// Configuration returns a peer connection configuration for iceServers.
func Configuration(iceServers []webrtc.ICEServer) webrtc.Configuration {
	return webrtc.Configuration{ICEServers: iceServers}
}

// ParseICEServers groups raw ICE URLs into STUN and TURN server entries.
// TURN URLs require both username and credential. An empty list yields the
// default STUN servers.
func ParseICEServers(urls []string, username, credential string) ([]webrtc.ICEServer, error) {
	var stun, turn []string

	for _, raw := range urls {
		u := strings.TrimSpace(raw)
		if u == "" {
			continue
		}
		switch scheme, _, _ := strings.Cut(strings.ToLower(u), ":"); scheme {
		case "stun", "stuns":
			stun = append(stun, u)
		case "turn", "turns":
			turn = append(turn, u)
		default:
			return nil, fmt.Errorf("unsupported ICE server url %q: want stun:, stuns:, turn: or turns:", u)
		}
	}

	if len(stun) == 0 && len(turn) == 0 {
		return DefaultICEServers(), nil
	}

	var servers []webrtc.ICEServer
	if len(stun) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: stun})
	}
	if len(turn) > 0 {
		username = strings.TrimSpace(username)
		if username == "" || credential == "" {
			return nil, fmt.Errorf("turn servers %v need both a username and a credential", turn)
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: credential,
		})
	}
	return servers, nil
}
