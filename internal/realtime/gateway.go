package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"campus_chat/internal/config"
	"campus_chat/internal/domain"
	"campus_chat/internal/presence"
	"campus_chat/internal/service"
	apperrors "campus_chat/pkg/errors"
	"campus_chat/pkg/logger"
)

const eventTimeout = 10 * time.Second

// Gateway принимает socket соединения, обрабатывает события клиентов и
// доставляет события онлайн пользователям через реестр присутствия.
type Gateway struct {
	chat     service.ChatService
	auth     service.AuthService
	presence *presence.Registry
	cfg      config.WebSocketConfig
	metrics  *Metrics
	log      logger.Logger
	upgrader websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	clients map[*Client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewGateway(
	chat service.ChatService,
	auth service.AuthService,
	registry *presence.Registry,
	cfg config.WebSocketConfig,
	metrics *Metrics,
	log logger.Logger,
) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		chat:     chat,
		auth:     auth,
		presence: registry,
		cfg:      cfg,
		metrics:  metrics,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		clients:  make(map[*Client]struct{}),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if g.isClosed() {
		writeJSONError(w, http.StatusServiceUnavailable, "Server is shutting down")
		return
	}

	identity, err := g.authenticate(r)
	if err != nil {
		g.log.Debug("Rejected socket handshake", "error", err, "remote", r.RemoteAddr)
		writeJSONError(w, http.StatusUnauthorized, "Invalid or missing token")
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warn("Failed to upgrade connection", "error", err)
		return
	}

	c := newClient(uuid.NewString(), conn, g.cfg, g.log)
	if identity != nil {
		c.authUserID = identity.UserID
	}
	if !g.addClient(c) {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server is shutting down"),
			time.Now().Add(g.cfg.WriteWait))
		conn.Close()
		return
	}
	c.log.Debug("Client connected", "auth_user_id", c.authUserID)

	go c.writePump()
	go func() {
		defer g.wg.Done()
		c.readPump(g.handleEnvelope)
		g.disconnect(c)
	}()
}

// Shutdown закрывает все соединения и ждет завершения их обработчиков.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	for c := range g.clients {
		c.Close()
	}
	g.mu.Unlock()
	g.cancel()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

func (g *Gateway) authenticate(r *http.Request) (*domain.Identity, error) {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		token = r.URL.Query().Get("token")
	}

	if token == "" {
		if g.cfg.RequireAuth {
			return nil, apperrors.ErrUnauthorized
		}
		return nil, nil
	}
	return g.auth.ValidateToken(r.Context(), token)
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// Клиенты без Origin (мобильные, CLI) допускаются.
	if origin == "" {
		return true
	}
	for _, allowed := range g.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// addClient регистрирует соединение; после Shutdown возвращает false.
func (g *Gateway) addClient(c *Client) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return false
	}
	g.clients[c] = struct{}{}
	g.wg.Add(1)
	g.mu.Unlock()
	g.metrics.connOpened()
	return true
}

func (g *Gateway) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

func (g *Gateway) disconnect(c *Client) {
	c.Close()

	g.mu.Lock()
	_, known := g.clients[c]
	delete(g.clients, c)
	g.mu.Unlock()
	if !known {
		return
	}
	g.metrics.connClosed()

	userID := c.UserID()
	c.log.Debug("Client disconnected", "user_id", userID)
	if userID == "" {
		return
	}
	// Отключение вытесненного соединения не делает пользователя офлайн.
	if g.presence.Unregister(userID, c) {
		g.broadcastStatus(userID, domain.StatusOffline)
	}
}

// deliver отправляет событие клиенту. Клиент, не успевающий разбирать
// очередь, отключается и заберет пропущенное через историю.
func (g *Gateway) deliver(c *Client, env domain.Envelope) {
	if c.Send(env) || c.Closed() {
		return
	}
	g.metrics.drop()
	c.log.Warn("Send queue full, closing slow client", "user_id", c.UserID(), "event", env.Type)
	c.Close()
}

func (g *Gateway) deliverToUser(userID string, eventType string, payload interface{}) bool {
	conn, ok := g.presence.Lookup(userID)
	if !ok {
		return false
	}
	env, err := domain.NewEnvelope(eventType, payload)
	if err != nil {
		g.log.Error("Failed to encode event", "error", err, "event", eventType)
		return false
	}
	if c, ok := conn.(*Client); ok {
		g.deliver(c, env)
		return true
	}
	return conn.Send(env)
}

func (g *Gateway) reply(c *Client, eventType string, payload interface{}) {
	env, err := domain.NewEnvelope(eventType, payload)
	if err != nil {
		g.log.Error("Failed to encode event", "error", err, "event", eventType)
		return
	}
	g.deliver(c, env)
}

func (g *Gateway) broadcastStatus(userID, status string) {
	env, err := domain.NewEnvelope(domain.EventUserStatus, domain.UserStatusPayload{UserID: userID, Status: status})
	if err != nil {
		return
	}

	g.mu.RLock()
	targets := make([]*Client, 0, len(g.clients))
	for c := range g.clients {
		targets = append(targets, c)
	}
	g.mu.RUnlock()

	for _, c := range targets {
		g.deliver(c, env)
	}
}

func (g *Gateway) sendError(c *Client, event string, err error) {
	code := apperrors.EventCodeFromError(err)
	if code == apperrors.CodeInternal {
		c.log.Error("Event failed", "error", err, "event", event, "user_id", c.UserID())
	}
	c.Send(errorEnvelope(code, apperrors.PublicMessage(err), event))
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

var errNotIdentified = errors.New("connection is not identified, send user_connected first")
