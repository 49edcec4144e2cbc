// Package chatclient - клиентская сторона чата: постоянное socket
// соединение с переподключением и запасной вариант на опросе REST API.
// Обе реализации отдают одинаковые события через DataSource.
package chatclient

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"campus_chat/internal/domain"
	"campus_chat/pkg/logger"
)

const (
	ChatSocketPath = "/ws/chat"
	APIPrefix      = "/api/v1"
)

var (
	ErrNotConnected    = errors.New("chat socket is not connected")
	ErrReconnectFailed = errors.New("chat socket reconnection attempts exhausted")
)

// DataSource - источник событий чата для клиента.
type DataSource interface {
	// Run блокируется до отмены ctx или фатальной ошибки транспорта.
	Run(ctx context.Context) error
	// Events закрывается после возврата из Run.
	Events() <-chan domain.Envelope
	SendMessage(ctx context.Context, recipientID, text string) error
	Typing(ctx context.Context, recipientID string, typing bool) error
	MarkRead(ctx context.Context, chatID string) error
}

type Options struct {
	// BaseURL сервера, например http://localhost:8080.
	BaseURL string
	Token   string
	UserID  string

	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PollInterval   time.Duration
	EventBuffer    int

	HTTPClient *http.Client
	Logger     logger.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 64
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = logger.Nop()
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	return o
}

// New выбирает транспорт по имени: "ws" или "poll".
func New(transport string, opts Options) (DataSource, error) {
	switch transport {
	case "", "ws", "socket":
		return NewSocketSource(opts), nil
	case "poll", "polling":
		return NewPollingSource(opts), nil
	default:
		return nil, errors.New("unknown transport: " + transport)
	}
}

func socketURL(baseURL string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + ChatSocketPath
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + ChatSocketPath
	default:
		return baseURL + ChatSocketPath
	}
}

func emit(ctx context.Context, out chan<- domain.Envelope, env domain.Envelope) bool {
	select {
	case out <- env:
		return true
	case <-ctx.Done():
		return false
	}
}
