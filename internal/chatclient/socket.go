package chatclient

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"campus_chat/internal/domain"
	"campus_chat/pkg/logger"
)

// SocketSource держит одно socket соединение и переподключается с
// экспоненциальной задержкой. После каждого подключения заново
// отправляет user_connected, иначе шлюз не знает о пользователе.
type SocketSource struct {
	opts   Options
	dialer *websocket.Dialer
	events chan domain.Envelope
	log    logger.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewSocketSource(opts Options) *SocketSource {
	opts = opts.withDefaults()
	return &SocketSource{
		opts: opts,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		events: make(chan domain.Envelope, opts.EventBuffer),
		log:    opts.Logger.With("transport", "ws"),
	}
}

func (s *SocketSource) Events() <-chan domain.Envelope {
	return s.events
}

func (s *SocketSource) Run(ctx context.Context) error {
	defer close(s.events)

	failures := 0
	backoff := s.opts.InitialBackoff
	for {
		conn, err := s.connect(ctx)
		if err == nil {
			failures = 0
			backoff = s.opts.InitialBackoff
			err = s.readLoop(ctx, conn)
			s.setConn(nil)
			conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("Chat socket disconnected", "error", err)
		} else {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			s.log.Warn("Failed to connect chat socket", "error", err, "attempt", failures)
			if failures >= s.opts.MaxAttempts {
				return fmt.Errorf("%w: %v", ErrReconnectFailed, err)
			}
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff *= 2
		if backoff > s.opts.MaxBackoff {
			backoff = s.opts.MaxBackoff
		}
	}
}

func (s *SocketSource) connect(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.opts.Token != "" {
		header.Set("Authorization", "Bearer "+s.opts.Token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, socketURL(s.opts.BaseURL), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial: %w", err)
	}

	s.setConn(conn)
	if err := s.write(domain.EventUserConnected, domain.UserConnectedPayload{UserID: s.opts.UserID}); err != nil {
		s.setConn(nil)
		conn.Close()
		return nil, fmt.Errorf("identify: %w", err)
	}
	s.log.Info("Chat socket connected", "user_id", s.opts.UserID)
	return conn, nil
}

func (s *SocketSource) readLoop(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var env domain.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			return err
		}
		if !emit(ctx, s.events, env) {
			return ctx.Err()
		}
	}
}

func (s *SocketSource) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *SocketSource) write(eventType string, payload interface{}) error {
	env, err := domain.NewEnvelope(eventType, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return ErrNotConnected
	}
	s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(env)
}

func (s *SocketSource) SendMessage(ctx context.Context, recipientID, text string) error {
	return s.write(domain.EventSendMessage, domain.SendMessagePayload{
		SenderID:    s.opts.UserID,
		RecipientID: recipientID,
		Text:        text,
	})
}

func (s *SocketSource) Typing(ctx context.Context, recipientID string, typing bool) error {
	eventType := domain.EventTyping
	if !typing {
		eventType = domain.EventStopTyping
	}
	return s.write(eventType, domain.TypingPayload{SenderID: s.opts.UserID, RecipientID: recipientID})
}

func (s *SocketSource) MarkRead(ctx context.Context, chatID string) error {
	return s.write(domain.EventMarkRead, domain.MarkReadPayload{ChatID: chatID, UserID: s.opts.UserID})
}
