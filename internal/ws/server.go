package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"

	"github.com/planboard/backend/internal/auth"
	"github.com/planboard/backend/internal/change"
	"github.com/planboard/backend/internal/config"
	"github.com/planboard/backend/internal/feeds"
	"github.com/planboard/backend/internal/live"
	"github.com/planboard/backend/internal/store"
)

// Bus is what the server needs from the change bus: publishing after
// mutations and listener counts for health reporting.
type Bus interface {
	change.Publisher
	TotalListeners() int
}

type Server struct {
	config         *config.Config
	store          *store.Store
	bus            Bus
	hub            *live.Hub
	verifier       *auth.Verifier
	metrics        http.Handler
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	started        time.Time
}

func NewServer(cfg *config.Config, st *store.Store, bus Bus, hub *live.Hub, verifier *auth.Verifier) *Server {
	s := &Server{
		config:         cfg,
		store:          st,
		bus:            bus,
		hub:            hub,
		verifier:       verifier,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		started:        time.Now(),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// SetMetricsHandler exposes h at the configured metrics path.
// Must be called before Handler.
func (s *Server) SetMetricsHandler(h http.Handler) {
	s.metrics = h
}

// Handler builds the routed, header-hardened HTTP handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(securityHeaders)

	r.HandleFunc("/ws/{feed}", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/sse/{feed}", s.handleSSE).Methods(http.MethodGet)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	s.apiRoutes(r.PathPrefix("/api").Subrouter())

	if s.metrics != nil && s.config.Metrics.Enabled {
		r.Handle(s.config.Metrics.Path, s.metrics).Methods(http.MethodGet)
	}
	return r
}

// openSession authenticates the request, checks that the caller may see
// the requested scope, and opens a live session for it.
func (s *Server) openSession(r *http.Request) (*live.Session, error) {
	name := mux.Vars(r)["feed"]
	if _, ok := s.hub.Feed(name); !ok {
		return nil, errors.NotFoundf("feed %q", name)
	}
	q := r.URL.Query()
	filter := live.Filter{ScopeID: q.Get("scope"), EntityID: q.Get("entity")}

	claims, err := s.verifier.Authenticate(r)
	if err != nil {
		return nil, err
	}
	if filter.ScopeID != "" {
		if err := s.authorizeScope(r.Context(), claims, name, filter.ScopeID); err != nil {
			return nil, err
		}
	}
	return s.hub.Open(name, filter)
}

func (s *Server) authorizeScope(ctx context.Context, claims *auth.Claims, feed, scope string) error {
	if feeds.ProjectScoped(feed) {
		if err := s.store.ProjectAccess(ctx, scope); err != nil {
			return err
		}
		return authorizeProject(claims, scope)
	}
	return s.authorizeTask(ctx, claims, scope)
}

func (s *Server) authorizeTask(ctx context.Context, claims *auth.Claims, taskID string) error {
	projectID, err := s.store.TaskProject(ctx, taskID)
	if err != nil {
		return err
	}
	return authorizeProject(claims, projectID)
}

func authorizeProject(claims *auth.Claims, projectID string) error {
	if !claims.CanAccess(projectID) {
		return errors.Forbiddenf("project %q", projectID)
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, err := s.openSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sess.Close()
		glog.Warningf("ws upgrade error: %v", err)
		return
	}

	glog.Infof("WebSocket client connected: %s %s %+v", r.RemoteAddr, sess.Feed(), sess.Filter())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newWSClient(conn, s.config.Live.WriteTimeout, cancel)

	err = sess.Run(ctx, c.emit)
	c.finish(sess.Filter().CursorKey(), err)
	glog.Infof("WebSocket client disconnected: %s (%v)", r.RemoteAddr, err)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	sess, err := s.openSession(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sw := newSSEWriter(w, s.config.Live.WriteTimeout)
	if err := sw.start(); err != nil {
		sess.Close()
		glog.Warningf("sse start error: %v", err)
		return
	}

	glog.Infof("SSE client connected: %s %s %+v", r.RemoteAddr, sess.Feed(), sess.Filter())
	err = sess.Run(r.Context(), sw.emit)
	sw.finish(sess.Filter().CursorKey(), err)
	glog.Infof("SSE client disconnected: %s (%v)", r.RemoteAddr, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, status := classify(err)
	if status == http.StatusInternalServerError {
		glog.Errorf("request failed: %v", errors.ErrorStack(err))
	}
	writeJSON(w, status, ErrorPayload{Code: code, Message: err.Error()})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts the
// server down gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		glog.Infof("Server listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return errors.Trace(err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Annotate(err, "shutting down http server")
	}
	return nil
}
