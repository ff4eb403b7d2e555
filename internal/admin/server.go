// Package admin exposes the administrative HTTP API and the webhook
// emitter. When enabled, the server's responder becomes the process-wide
// default for messages generated outside the normal inbound flow.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/parleylabs/parley/internal/config"
	"github.com/parleylabs/parley/internal/connections"
	"github.com/parleylabs/parley/internal/dispatch"
	"github.com/parleylabs/parley/internal/stats"
)

// EnqueueFunc schedules a background task; the dispatcher supplies it.
type EnqueueFunc func(fn func(ctx context.Context) error)

// Server is the administrative API server.
type Server struct {
	host    string
	port    int
	context *config.Context
	route   dispatch.Responder
	enqueue EnqueueFunc
	logger  *slog.Logger

	httpServer *http.Server
	startedAt  time.Time

	mu       sync.Mutex
	webhooks []string

	queueStats func() map[string]any
}

// New constructs the admin server. Construction validates the bind
// parameters; a failure here aborts conductor setup.
func New(host string, port int, conCtx *config.Context, route dispatch.Responder, enqueue EnqueueFunc, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("admin: invalid port %d", port)
	}
	if route == nil {
		return nil, fmt.Errorf("admin: outbound router is required")
	}
	if enqueue == nil {
		return nil, fmt.Errorf("admin: task enqueue handle is required")
	}
	return &Server{
		host:    host,
		port:    port,
		context: conCtx,
		route:   route,
		enqueue: enqueue,
		logger:  logger.With("component", "admin"),
	}, nil
}

// Address returns the configured bind address.
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.host, s.port)
}

// AddWebhookTarget registers a base URL that receives event POSTs.
func (s *Server) AddWebhookTarget(url string) {
	s.mu.Lock()
	s.webhooks = append(s.webhooks, url)
	s.mu.Unlock()
	s.logger.Info("webhook target registered", "url", url)
}

// WebhookTargets returns a copy of the registered webhook URLs.
func (s *Server) WebhookTargets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.webhooks...)
}

// SetQueueStats installs the callback backing GET /status/queue.
func (s *Server) SetQueueStats(fn func() map[string]any) {
	s.queueStats = fn
}

// Responder returns the default responder that sends through the
// outbound router.
func (s *Server) Responder() *Responder {
	return &Responder{context: s.context, route: s.route}
}

// Start binds the listener and begins serving. The bind happens
// synchronously so a busy port is reported to the caller; the conductor
// treats that as non-fatal.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /status/live", s.handleLive)
	mux.HandleFunc("GET /status/queue", s.handleQueue)
	mux.HandleFunc("GET /connections", s.handleConnections)
	mux.HandleFunc("POST /connections/create-invitation", s.handleCreateInvitation)

	handler := s.loggingMiddleware(mux)
	if secret := s.context.Settings.GetString("admin.api_secret"); secret != "" {
		handler = authMiddleware([]byte(secret), s.logger)(handler)
	}

	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", s.Address(), err)
	}

	s.httpServer = &http.Server{
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin server error", "error", err)
		}
	}()

	s.startedAt = time.Now()
	s.logger.Info("admin server started", "address", s.Address())
	s.EmitEvent("startup", map[string]any{"label": s.context.Settings.GetString("default_label")})
	return nil
}

// Stop shuts the server down within the context deadline. Safe to call
// when the server never started.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	status := map[string]any{
		"label":  s.context.Settings.GetString("default_label"),
		"uptime": time.Since(s.startedAt).Seconds(),
	}
	if svc, ok := s.context.Injector.Resolve(config.CapCollector); ok {
		if collector, ok := svc.(*stats.Collector); ok {
			status["stats"] = collector.Snapshot()
		}
	}
	s.respondJSON(w, status)
}

func (s *Server) handleLive(w http.ResponseWriter, _ *http.Request) {
	s.respondJSON(w, map[string]any{"alive": true})
}

func (s *Server) handleQueue(w http.ResponseWriter, _ *http.Request) {
	if s.queueStats == nil {
		s.respondJSON(w, map[string]any{})
		return
	}
	s.respondJSON(w, s.queueStats())
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	mgr, err := connections.NewManager(s.context, s.logger)
	if err != nil {
		http.Error(w, "connection store unavailable", http.StatusServiceUnavailable)
		return
	}
	conns, err := mgr.ListConnections(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(conns))
	for _, c := range conns {
		out = append(out, map[string]any{
			"connection_id":  c.ID,
			"my_did":         c.MyDID,
			"their_did":      c.TheirDID,
			"their_endpoint": c.TheirEndpoint,
			"their_role":     c.TheirRole,
			"alias":          c.Alias,
			"state":          c.State,
			"created_at":     c.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	s.respondJSON(w, map[string]any{"results": out})
}

func (s *Server) handleCreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TheirRole string `json:"their_role,omitempty"`
		MyLabel   string `json:"my_label,omitempty"`
		MultiUse  bool   `json:"multi_use,omitempty"`
		Public    bool   `json:"public,omitempty"`
	}
	if r.Body != nil {
		// An empty body means all defaults.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	mgr, err := connections.NewManager(s.context, s.logger)
	if err != nil {
		http.Error(w, "connection store unavailable", http.StatusServiceUnavailable)
		return
	}
	conn, inv, err := mgr.CreateInvitation(r.Context(), connections.InvitationArgs{
		TheirRole: req.TheirRole,
		MyLabel:   req.MyLabel,
		MultiUse:  req.MultiUse,
		Public:    req.Public,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	inviteURL, err := inv.ToURL(s.context.Settings.GetString("invite_base_url"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.EmitEvent("connections", map[string]any{
		"connection_id": conn.ID,
		"state":         conn.State,
	})
	s.respondJSON(w, map[string]any{
		"connection_id":  conn.ID,
		"invitation":     inv,
		"invitation_url": inviteURL,
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}
