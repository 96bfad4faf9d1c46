package signaling

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/1ureka/peercall/internal/metrics"
	"github.com/1ureka/peercall/internal/storage"
	"github.com/1ureka/peercall/internal/util"
)

// ErrUnauthorized is returned by Dial when the relay rejects the PIN.
var ErrUnauthorized = errors.New("signaling: invalid PIN")

// Options configures a relay Server.
type Options struct {
	// PIN, when set, must be passed as the pin query parameter on /ws.
	PIN string

	// AllowedOrigins restricts browser CORS and WebSocket origins.
	// Empty allows any origin.
	AllowedOrigins []string
}

// Server is the signaling relay. Every WebSocket connection is attached as a
// window of the space named by its space query parameter.
type Server struct {
	hub      *storage.Hub
	opts     Options
	upgrader websocket.Upgrader
	router   chi.Router

	listener net.Listener
	httpSrv  *http.Server
}

// NewServer creates a relay serving hub.
func NewServer(hub *storage.Hub, opts Options) *Server {
	s := &Server{
		hub:  hub,
		opts: opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.RequestID)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	allowed := s.opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)
	r.Get("/items/{key}", s.handleGetItem)
	return r
}

// Handler returns the relay's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening on addr (":0" picks a random port) and serves in
// the background. It returns the bound address.
func (s *Server) Start(addr string) (net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start relay: %w", err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.LogError("relay stopped: %v", err)
		}
	}()

	return listener.Addr(), nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
// Upgraded WebSocket connections are not waited for.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "spaces": s.hub.Len()})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	space := r.URL.Query().Get("space")
	if space == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "missing space"})
		return
	}
	if !s.authorized(r) {
		metrics.RelayRejected.WithLabelValues("pin").Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "invalid PIN"})
		return
	}

	key := chi.URLParam(r, "key")
	sp, ok := s.hub.Lookup(space)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no such item"})
		return
	}
	value, ok := sp.Get(key)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "no such item"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": value})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	space := r.URL.Query().Get("space")
	if space == "" {
		metrics.RelayRejected.WithLabelValues("space").Inc()
		http.Error(w, "missing space", http.StatusBadRequest)
		return
	}
	if !s.authorized(r) {
		metrics.RelayRejected.WithLabelValues("pin").Inc()
		http.Error(w, "Invalid PIN", http.StatusUnauthorized)
		return
	}

	// Attach before the handshake completes so that the window already
	// receives events once the client sees the upgrade response.
	win := s.hub.Attach(space)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		util.LogDebug("websocket upgrade failed: %v", err)
		win.Close()
		return
	}

	util.LogInfo("window %s joined space %q from %s", win.ID(), space, r.RemoteAddr)

	newRelayConn(conn, win).serve()

	util.LogInfo("window %s left space %q", win.ID(), space)
}

// authorized checks the pin query parameter against the configured PIN.
func (s *Server) authorized(r *http.Request) bool {
	if s.opts.PIN == "" {
		return true
	}
	pin := r.URL.Query().Get("pin")
	return subtle.ConstantTimeCompare([]byte(pin), []byte(s.opts.PIN)) == 1
}

// checkOrigin applies AllowedOrigins to WebSocket upgrades. Requests without
// an Origin header (non-browser clients) are always accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.opts.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	metrics.RelayRejected.WithLabelValues("origin").Inc()
	return false
}

// requestLogger logs each HTTP request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		util.LogDebug("%s %s %d %s [%s]", r.Method, r.URL.Path, ww.Status(), time.Since(start), chimw.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
