package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"campus_chat/internal/domain"
	"campus_chat/pkg/logger"
)

// PollingSource опрашивает список переписок и превращает изменения в
// те же события, что приходят по socket. Индикатор набора текста через
// опрос не передается.
type PollingSource struct {
	opts   Options
	events chan domain.Envelope
	log    logger.Logger

	seen map[string]domain.ConversationSummary
}

func NewPollingSource(opts Options) *PollingSource {
	opts = opts.withDefaults()
	return &PollingSource{
		opts:   opts,
		events: make(chan domain.Envelope, opts.EventBuffer),
		log:    opts.Logger.With("transport", "poll"),
	}
}

func (p *PollingSource) Events() <-chan domain.Envelope {
	return p.events
}

func (p *PollingSource) Run(ctx context.Context) error {
	defer close(p.events)

	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := p.poll(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("Failed to poll conversations", "error", err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *PollingSource) poll(ctx context.Context) error {
	var list []domain.ConversationSummary
	if err := p.do(ctx, http.MethodGet, APIPrefix+"/conversations", nil, &list); err != nil {
		return err
	}

	current := make(map[string]domain.ConversationSummary, len(list))
	for _, s := range list {
		current[s.ChatID] = s
	}

	// Первый опрос только запоминает состояние.
	if p.seen != nil {
		for _, s := range list {
			for _, env := range p.diff(p.seen[s.ChatID], s) {
				if !emit(ctx, p.events, env) {
					return ctx.Err()
				}
			}
		}
	}
	p.seen = current
	return nil
}

// diff сравнивает два снимка одной переписки. Пустой prev означает новую переписку.
func (p *PollingSource) diff(prev, cur domain.ConversationSummary) []domain.Envelope {
	last := cur.LastMessage
	if last == nil {
		return nil
	}

	var out []domain.Envelope
	isNew := prev.LastMessage == nil || prev.LastMessage.ID != last.ID
	switch {
	case isNew && last.Sender != p.opts.UserID:
		if env, err := domain.NewEnvelope(domain.EventReceiveMessage, domain.MessagePayload{ChatID: cur.ChatID, Message: *last}); err == nil {
			out = append(out, env)
		}
	case last.Sender == p.opts.UserID && last.Read && (isNew || !prev.LastMessage.Read):
		if env, err := domain.NewEnvelope(domain.EventMessagesRead, domain.MessagesReadPayload{ChatID: cur.ChatID, ReadBy: cur.Participant}); err == nil {
			out = append(out, env)
		}
	}
	return out
}

func (p *PollingSource) SendMessage(ctx context.Context, recipientID, text string) error {
	body := map[string]string{"recipientId": recipientID, "text": text}
	return p.do(ctx, http.MethodPost, APIPrefix+"/messages", body, nil)
}

func (p *PollingSource) Typing(ctx context.Context, recipientID string, typing bool) error {
	return nil
}

func (p *PollingSource) MarkRead(ctx context.Context, chatID string) error {
	return p.do(ctx, http.MethodPut, APIPrefix+"/conversations/"+url.PathEscape(chatID)+"/read", nil, nil)
}

func (p *PollingSource) do(ctx context.Context, method, path string, in, out interface{}) error {
	return doJSON(ctx, p.opts, method, path, in, out)
}

// doJSON выполняет запрос к REST API с bearer токеном.
func doJSON(ctx context.Context, opts Options, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, opts.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.Token)
	}

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		return &StatusError{Status: resp.StatusCode, Message: apiErr.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("request failed with status %d: %s", e.Status, e.Message)
}
