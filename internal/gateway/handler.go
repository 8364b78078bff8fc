package gateway

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/auth"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/store"
)

// Handler upgrades HTTP requests to websocket sessions. Authentication
// happens before the upgrade: a bad or missing token is rejected with 401
// and no session state is created.
type Handler struct {
	gate     *auth.Gate
	router   *Router
	store    store.Store
	presence presence.Store
	hub      *Hub
	server   config.ServerConfig
	gateway  config.GatewayConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader
	sessions sync.WaitGroup
}

// NewHandler builds the websocket entry point.
func NewHandler(
	gate *auth.Gate,
	router *Router,
	durable store.Store,
	presenceStore presence.Store,
	hub *Hub,
	serverCfg config.ServerConfig,
	gatewayCfg config.GatewayConfig,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		gate:     gate,
		router:   router,
		store:    durable,
		presence: presenceStore,
		hub:      hub,
		server:   serverCfg,
		gateway:  gatewayCfg,
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin enforces the configured origin allow-list. Requests without
// an Origin header (non-browser clients) are allowed.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if len(h.server.AllowedOrigins) == 0 {
		return true
	}
	return lo.Contains(h.server.AllowedOrigins, origin)
}

// token extracts the credential from the query string or the Authorization
// header. The query parameter wins when both are present.
func token(r *http.Request) string {
	if t := r.URL.Query().Get("token"); t != "" {
		return t
	}
	header := r.Header.Get("Authorization")
	if after, ok := strings.CutPrefix(header, "Bearer "); ok {
		return after
	}
	return ""
}

// ServeHTTP authenticates the handshake, upgrades the connection, and runs
// the client pumps until the connection closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	connectionID := uuid.NewString()
	session := NewSession(connectionID, h.gate, h.router, h.store, h.presence, h.hub, h.gateway, h.logger)

	if err := session.Authenticate(r.Context(), token(r)); err != nil {
		h.logger.Warn("rejecting handshake", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade writes its own error response.
		h.logger.Warn("upgrading connection", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	outbox := NewOutbox(connectionID, h.gateway.SendBuffer)
	if err := session.Activate(r.Context(), outbox); err != nil {
		h.logger.Error("activating session", zap.String("connection_id", connectionID), zap.Error(err))
		if closeErr := conn.Close(); closeErr != nil {
			h.logger.Debug("closing connection after failed activation", zap.Error(closeErr))
		}
		return
	}

	// Count the session until its disconnect cleanup (including the
	// presence purge in Terminate) has finished, so Drain can hold
	// shutdown open for it.
	h.sessions.Add(1)
	defer h.sessions.Done()

	client := NewClient(conn, session, outbox, h.gateway, h.logger)
	client.Run(r.Context())
}

// Drain blocks until every live session has completed its disconnect
// cleanup. Call after closing the hub's connections during shutdown, and
// before tearing down the stores the cleanup writes to.
func (h *Handler) Drain() {
	h.sessions.Wait()
}

// Health reports readiness of the backing stores. It returns 503 when
// either store is unreachable. Each probe is bounded so a hung store
// cannot hang the check.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.logger.Error("message store health check", zap.Error(err))
		http.Error(w, "message store unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := h.presence.Ping(ctx); err != nil {
		h.logger.Error("presence store health check", zap.Error(err))
		http.Error(w, "presence store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		h.logger.Debug("writing health response", zap.Error(err))
	}
}
