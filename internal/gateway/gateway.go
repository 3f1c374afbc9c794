// Package gateway turns one inbound websocket connection into a filtered
// relay subscription for a single dashboard.
//
// Connection lifecycle: authenticate the token, authorize ownership, and
// only then finalize the websocket handshake; stream relay payloads until
// the client disconnects. Authentication and authorization failures are
// rejected before the upgrade, so an unauthorized caller never observes
// post-accept behavior.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/insightboard/insightboard/internal/auth"
	"github.com/insightboard/insightboard/internal/model"
	"github.com/insightboard/insightboard/internal/relay"
	"github.com/insightboard/insightboard/internal/store"
)

// MessageTypeMetricUpdate tags outbound metric frames.
const MessageTypeMetricUpdate = "metric_update"

// Envelope is the outbound websocket message shape.
type Envelope struct {
	Type string                `json:"type"`
	Data model.PersistedMetric `json:"data"`
}

// Config holds gateway settings.
type Config struct {
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// Gateway handles websocket subscriptions to dashboard metric streams.
type Gateway struct {
	cfg      Config
	tokens   *auth.Manager
	users    store.UserStore
	guard    store.OwnershipGuard
	relay    *relay.Relay
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates a gateway. Dependencies are injected at construction.
func New(cfg Config, tokens *auth.Manager, users store.UserStore, guard store.OwnershipGuard, r *relay.Relay, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PingInterval == 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &Gateway{
		cfg:    cfg,
		tokens: tokens,
		users:  users,
		guard:  guard,
		relay:  r,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// HandleSubscribe serves GET /ws/dashboards/{id}?token=... It expects the
// dashboard id in the "id" path value.
func (g *Gateway) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	dashboardID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid dashboard id", http.StatusBadRequest)
		return
	}

	connID := uuid.NewString()
	logger := g.logger.With("conn_id", connID, "dashboard_id", dashboardID)

	// Authenticate, then authorize, before the handshake is accepted.
	userID, ok := g.authenticate(r)
	if !ok {
		logger.Warn("subscription rejected: invalid token")
		http.Error(w, "could not validate credentials", http.StatusUnauthorized)
		return
	}

	owner, err := g.guard.IsOwner(r.Context(), dashboardID, userID)
	if err != nil {
		logger.Error("ownership check failed", "error", err)
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	if !owner {
		// Not-owned and nonexistent are indistinguishable to the caller.
		logger.Warn("subscription rejected: not owner", "user_id", userID)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	logger.Info("subscription accepted", "user_id", userID)

	sub, err := g.relay.Subscribe(dashboardID)
	if err != nil {
		logger.Error("relay unavailable", "error", err)
		g.closeWith(conn, websocket.CloseInternalServerErr, "relay unavailable")
		return
	}
	defer sub.Close()

	g.stream(r.Context(), conn, sub, logger)
}

// authenticate verifies the query token and resolves the user id.
func (g *Gateway) authenticate(r *http.Request) (int64, bool) {
	token := r.URL.Query().Get("token")
	if token == "" {
		return 0, false
	}
	email, err := g.tokens.VerifyToken(token)
	if err != nil {
		return 0, false
	}
	user, err := g.users.GetByEmail(r.Context(), email)
	if err != nil {
		return 0, false
	}
	return user.ID, true
}

// stream forwards relay payloads to the client until the subscription
// ends, the client goes away, or the request context is cancelled. The
// subscription itself is released by the caller's deferred Close.
func (g *Gateway) stream(ctx context.Context, conn *websocket.Conn, sub *relay.Subscription, logger *slog.Logger) {
	// Reader goroutine: the client never sends application data, but
	// reading is required to process close frames and detect disconnects.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pingTicker := time.NewTicker(g.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case m, ok := <-sub.C():
			if !ok {
				logger.Info("subscription ended")
				g.closeWith(conn, websocket.CloseInternalServerErr, "relay shut down")
				return
			}
			conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := conn.WriteJSON(Envelope{Type: MessageTypeMetricUpdate, Data: m}); err != nil {
				// Client gone: stop iterating, no resend.
				logger.Info("client write failed, closing", "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				logger.Info("ping failed, closing", "error", err)
				return
			}

		case <-readerDone:
			logger.Info("client disconnected")
			return

		case <-ctx.Done():
			g.closeWith(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

// closeWith sends a close frame with the given status before dropping the
// connection. Best-effort: the deferred Close runs regardless.
func (g *Gateway) closeWith(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(g.cfg.WriteTimeout)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		g.logger.Debug("close frame write failed", "error", err)
	}
}
