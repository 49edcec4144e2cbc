package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"campus_chat/internal/config"
	"campus_chat/internal/domain"
	apperrors "campus_chat/pkg/errors"
	"campus_chat/pkg/logger"
)

// Client - одно socket соединение. Чтение и запись идут в отдельных
// горутинах; события клиента обрабатываются строго по очереди в readPump.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan domain.Envelope
	done    chan struct{}
	once    sync.Once
	cfg     config.WebSocketConfig
	limiter *rate.Limiter
	log     logger.Logger

	mu sync.RWMutex
	// authUserID - идентичность из токена рукопожатия, пустая если
	// аутентификация отключена.
	authUserID string
	userID     string
}

func newClient(id string, conn *websocket.Conn, cfg config.WebSocketConfig, log logger.Logger) *Client {
	c := &Client{
		id:   id,
		conn: conn,
		send: make(chan domain.Envelope, cfg.SendQueueSize),
		done: make(chan struct{}),
		cfg:  cfg,
		log:  log.With("conn_id", id),
	}
	if cfg.EventsPerSecond > 0 {
		burst := cfg.EventBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.EventsPerSecond), burst)
	}
	return c
}

func (c *Client) ID() string {
	return c.id
}

// Send ставит событие в очередь отправки без блокировки. false означает,
// что клиент закрыт или его очередь переполнена.
func (c *Client) Send(env domain.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

func (c *Client) Close() {
	// writePump увидит done, отправит close frame и закроет соединение.
	c.once.Do(func() { close(c.done) })
}

func (c *Client) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

func (c *Client) AuthUserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authUserID
}

func (c *Client) bindUser(userID string) {
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
}

func (c *Client) allowEvent() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *Client) readPump(handle func(*Client, domain.Envelope)) {
	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Type == "" {
			c.Send(errorEnvelope(apperrors.CodeBadRequest, "invalid event frame", ""))
			continue
		}

		handle(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Debug("WebSocket write failed", "error", err)
				c.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func errorEnvelope(code, message, event string) domain.Envelope {
	env, _ := domain.NewEnvelope(domain.EventError, domain.ErrorPayload{
		Message: message,
		Code:    code,
		Event:   event,
	})
	return env
}
