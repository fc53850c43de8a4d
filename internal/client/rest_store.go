// Package client implements the session engine's store and channel ports
// over the service's REST and websocket surfaces, the way a frontend
// consumes them.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/internal/store"
)

// RESTStore talks to the messaging REST API on behalf of one identity (the
// bearer of the configured token). It satisfies the session engine's Store
// port and the inbox listing.
type RESTStore struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewRESTStore creates a store client for baseURL (e.g. "https://host:8092").
func NewRESTStore(baseURL, token string) *RESTStore {
	return &RESTStore{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *RESTStore) Append(ctx context.Context, sender, recipient, text, contextID string) (*domain.Message, error) {
	body, _ := json.Marshal(map[string]string{
		"text":       text,
		"context_id": contextID,
	})

	var msg domain.Message
	err := s.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/messages", url.PathEscape(recipient)),
		nil, bytes.NewReader(body), &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *RESTStore) Page(ctx context.Context, identityA, identityB, contextID, cursor string, limit int) (*store.Page, error) {
	// The server derives the caller's identity from the token; only the
	// counterparty travels in the path.
	counterparty := identityB

	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if contextID != "" {
		q.Set("context_id", contextID)
	}
	q.Set("limit", fmt.Sprint(limit))

	var page store.Page
	err := s.do(ctx, http.MethodGet,
		fmt.Sprintf("/api/v1/conversations/%s/messages", url.PathEscape(counterparty)),
		q, nil, &page)
	if err != nil {
		return nil, err
	}
	return &page, nil
}

func (s *RESTStore) MarkRead(ctx context.Context, messageID, forIdentity string) error {
	return s.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/messages/%s/read", url.PathEscape(messageID)),
		nil, nil, nil)
}

func (s *RESTStore) MarkAllRead(ctx context.Context, counterparty, forIdentity, contextID string) error {
	q := url.Values{}
	if contextID != "" {
		q.Set("context_id", contextID)
	}
	return s.do(ctx, http.MethodPost,
		fmt.Sprintf("/api/v1/conversations/%s/read", url.PathEscape(counterparty)),
		q, nil, nil)
}

// ListConversations fetches the caller's inbox.
func (s *RESTStore) ListConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	var summaries []domain.ConversationSummary
	err := s.do(ctx, http.MethodGet, "/api/v1/conversations", nil, nil, &summaries)
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

func (s *RESTStore) do(ctx context.Context, method, path string, query url.Values, body io.Reader, out interface{}) error {
	u := s.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNoContent {
		return nil
	}

	var env envelope
	if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: malformed response: %v", domain.ErrUnavailable, err)
	}

	if !env.Success {
		msg := "request failed"
		if env.Error != nil {
			msg = env.Error.Message
		}
		switch {
		case res.StatusCode == http.StatusBadRequest:
			return fmt.Errorf("%w: %s", domain.ErrValidation, msg)
		case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
			return fmt.Errorf("%w: %s", domain.ErrAuthorization, msg)
		default:
			return fmt.Errorf("%w: %s", domain.ErrUnavailable, msg)
		}
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("%w: malformed response data: %v", domain.ErrUnavailable, err)
		}
	}
	return nil
}
