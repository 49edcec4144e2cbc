package chatclient

import (
	"context"
	"net/http"
	"net/url"

	"campus_chat/internal/domain"
)

// API - прямые REST вызовы без подписки на события.
type API struct {
	opts Options
}

func NewAPI(opts Options) *API {
	return &API{opts: opts.withDefaults()}
}

func (a *API) Conversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var list []domain.ConversationSummary
	if err := doJSON(ctx, a.opts, http.MethodGet, APIPrefix+"/conversations", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (a *API) History(ctx context.Context, peerID string) (*domain.ChatHistory, error) {
	var history domain.ChatHistory
	if err := doJSON(ctx, a.opts, http.MethodGet, APIPrefix+"/history/"+url.PathEscape(peerID), nil, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

func (a *API) SendMessage(ctx context.Context, recipientID, text string) (*domain.MessagePayload, error) {
	var out domain.MessagePayload
	body := map[string]string{"recipientId": recipientID, "text": text}
	if err := doJSON(ctx, a.opts, http.MethodPost, APIPrefix+"/messages", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
