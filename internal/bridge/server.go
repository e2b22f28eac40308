package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/dshills/cmdcenter/internal/sandbox"
)

// Decider classifies surfaces by origin.
type Decider interface {
	Decide(origin string) sandbox.Decision
}

// Server is the HTTP side of the bridge.
type Server struct {
	addr     string
	hub      *Hub
	plugins  Plugins
	policy   Decider
	gatherer prometheus.Gatherer
	logger   *zap.Logger

	// shellToken authenticates the UI shell. Plugin surfaces get one-time
	// tokens from grants instead.
	shellToken string
	grants     *grants

	router   chi.Router
	upgrader websocket.Upgrader

	// ctx is the lifetime of connections served by Run.
	ctx context.Context
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithGatherer serves metrics from g on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithServerLogger sets the server logger.
func WithServerLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithShellToken sets the token the UI shell presents. Without it a random
// token is generated; read it back with ShellToken.
func WithShellToken(token string) ServerOption {
	return func(s *Server) {
		if token != "" {
			s.shellToken = token
		}
	}
}

// NewServer creates the HTTP surface listening on addr.
func NewServer(addr string, hub *Hub, plugins Plugins, policy Decider, opts ...ServerOption) *Server {
	s := &Server{
		addr:       addr,
		hub:        hub,
		plugins:    plugins,
		policy:     policy,
		gatherer:   prometheus.DefaultGatherer,
		logger:     zap.NewNop(),
		shellToken: uuid.NewString(),
		grants:     newGrants(),
		ctx:        context.Background(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     localOrigin,
	}
	s.router = s.routes()
	return s
}

// ShellToken returns the token that opens an unbound bridge connection and
// authorizes /surfaces/attach.
func (s *Server) ShellToken() string { return s.shellToken }

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Post("/surfaces/attach", s.handleAttach)
	r.Get("/bridge", s.handleBridge)
	r.Get("/plugins/{id}/*", s.handlePluginFile)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ctx = ctx
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("bridge listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"plugins":     len(s.plugins.Descriptors()),
		"connections": s.hub.Count(),
	})
}

// Attachment is the reply to /surfaces/attach: the decision plus the
// one-time token the surface opens /bridge with.
type Attachment struct {
	sandbox.Decision
	Token string `json:"token,omitempty"`
}

// handleAttach lets the UI shell classify a surface it is about to open.
// Isolated surfaces get a token bound to their plugin, trusted ones an
// unbound token, and unresolved origins none.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	if !s.isShell(bearer(r)) {
		writeJSON(w, http.StatusUnauthorized, ErrorBody{Code: "AccessDenied", Message: "shell token required"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64<<10))
	if err != nil || !gjson.ValidBytes(body) {
		writeJSON(w, http.StatusBadRequest, ErrorBody{Code: "InvalidRequest", Message: "body must be JSON {origin}"})
		return
	}
	origin := gjson.GetBytes(body, "origin").String()
	att := Attachment{Decision: s.policy.Decide(origin)}
	switch {
	case att.PluginID == "":
	case att.Untrusted():
		att.Token = s.grants.issue(att.PluginID)
	default:
		att.Token = s.grants.issue("")
	}
	writeJSON(w, http.StatusOK, att)
}

// handleBridge upgrades to a WebSocket. The connection is bound by the token
// it presents: the shell token opens an unbound connection and an attach
// token binds to the plugin it was issued for.
func (s *Server) handleBridge(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearer(r)
	}
	var bound string
	if !s.isShell(token) {
		id, ok := s.grants.redeem(token)
		if !ok {
			http.Error(w, "bridge token required", http.StatusUnauthorized)
			return
		}
		bound = id
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("bridge upgrade failed", zap.Error(err))
		return
	}
	s.hub.Serve(s.ctx, ws, bound)
}

func (s *Server) isShell(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(s.shellToken)) == 1
}

func bearer(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

func (s *Server) handlePluginFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	d, ok := s.plugins.Lookup(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	prefix := "/plugins/" + url.PathEscape(id)
	http.StripPrefix(prefix, http.FileServer(http.Dir(d.RootPath))).ServeHTTP(w, r)
}

// localOrigin accepts file and opaque origins and loopback hosts.
func localOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if u.Scheme == "file" {
		return true
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
