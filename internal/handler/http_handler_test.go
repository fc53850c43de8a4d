package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskhive/messaging/internal/channel"
	"github.com/taskhive/messaging/internal/config"
	"github.com/taskhive/messaging/internal/domain"
	"github.com/taskhive/messaging/internal/kafka"
	"github.com/taskhive/messaging/internal/service"
	"github.com/taskhive/messaging/internal/store"
	"github.com/taskhive/messaging/pkg/auth"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type testServer struct {
	router    *gin.Engine
	store     *store.Memory
	validator *auth.Validator
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	memory := store.NewMemory()
	broker := channel.NewLocalBroker(16)
	t.Cleanup(func() { broker.Close() })

	svc := service.NewMessageService(memory, broker, kafka.NoopProducer{}, nil, nil, 0)
	validator := auth.NewValidator("test-secret", "taskhive")

	router := gin.New()
	authed := router.Group("/", auth.GinMiddleware(validator))
	NewHTTPHandler(svc, config.HistoryConfig{DefaultLimit: 20, MaxLimit: 100}).RegisterRoutes(authed)

	return &testServer{router: router, store: memory, validator: validator}
}

func (s *testServer) token(t *testing.T, identity string) string {
	t.Helper()
	tok, err := s.validator.Sign(identity, identity, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

func (s *testServer) do(t *testing.T, identity, method, path string, body interface{}) (*httptest.ResponseRecorder, *envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if identity != "" {
		req.Header.Set("Authorization", "Bearer "+s.token(t, identity))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	env := &envelope{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), env); err != nil {
			t.Fatalf("decode envelope: %v\nbody: %s", err, rec.Body.String())
		}
	}
	return rec, env
}

func TestSendMessage(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, "alice", http.MethodPost, "/api/v1/conversations/bob/messages", map[string]string{"text": "hello bob"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201\nbody: %s", rec.Code, rec.Body.String())
	}
	if !env.Success {
		t.Fatalf("success = false: %+v", env.Error)
	}

	var msg domain.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Sender != "alice" || msg.Recipient != "bob" || msg.Text != "hello bob" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.ID == "" {
		t.Fatal("message id not assigned")
	}
}

func TestSendMessageValidation(t *testing.T) {
	s := newTestServer(t)

	cases := []struct {
		name string
		to   string
		body interface{}
		code string
	}{
		{"empty text", "bob", map[string]string{"text": "   "}, "VALIDATION_ERROR"},
		{"missing body", "bob", nil, "VALIDATION_ERROR"},
		{"self message", "alice", map[string]string{"text": "hi me"}, "VALIDATION_ERROR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := s.do(t, "alice", http.MethodPost, "/api/v1/conversations/"+tc.to+"/messages", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400\nbody: %s", rec.Code, rec.Body.String())
			}
			if env.Error == nil || env.Error.Code != tc.code {
				t.Fatalf("error = %+v, want code %s", env.Error, tc.code)
			}
		})
	}
}

func TestGetMessagesPagination(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 25; i++ {
		s.do(t, "alice", http.MethodPost, "/api/v1/conversations/bob/messages",
			map[string]string{"text": fmt.Sprintf("msg-%02d", i)})
	}

	rec, env := s.do(t, "bob", http.MethodGet, "/api/v1/conversations/alice/messages?limit=10", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200\nbody: %s", rec.Code, rec.Body.String())
	}

	var page store.Page
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Messages) != 10 || !page.HasMore {
		t.Fatalf("first page: %d messages, hasMore=%v", len(page.Messages), page.HasMore)
	}
	if got := page.Messages[9].Text; got != "msg-24" {
		t.Fatalf("newest = %q, want msg-24", got)
	}

	// Older page via cursor.
	cursor := page.Messages[0].ID
	_, env = s.do(t, "bob", http.MethodGet, "/api/v1/conversations/alice/messages?limit=10&cursor="+cursor, nil)
	var older store.Page
	if err := json.Unmarshal(env.Data, &older); err != nil {
		t.Fatalf("decode older page: %v", err)
	}
	if len(older.Messages) != 10 {
		t.Fatalf("older page: %d messages, want 10", len(older.Messages))
	}
	if got := older.Messages[9].Text; got != "msg-14" {
		t.Fatalf("older page ends at %q, want msg-14", got)
	}
}

func TestGetMessagesRejectsBadLimit(t *testing.T) {
	s := newTestServer(t)
	rec, _ := s.do(t, "bob", http.MethodGet, "/api/v1/conversations/alice/messages?limit=zero", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	rec, _ = s.do(t, "bob", http.MethodGet, "/api/v1/conversations/alice/messages?limit=-5", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestMarkReadEndpoints(t *testing.T) {
	s := newTestServer(t)

	_, env := s.do(t, "alice", http.MethodPost, "/api/v1/conversations/bob/messages", map[string]string{"text": "one"})
	var msg domain.Message
	if err := json.Unmarshal(env.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	s.do(t, "alice", http.MethodPost, "/api/v1/conversations/bob/messages", map[string]string{"text": "two"})

	rec, _ := s.do(t, "bob", http.MethodPost, "/api/v1/messages/"+msg.ID+"/read", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mark read status = %d, want 204", rec.Code)
	}

	rec, _ = s.do(t, "bob", http.MethodPost, "/api/v1/conversations/alice/read", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("mark all read status = %d, want 204", rec.Code)
	}

	_, env = s.do(t, "bob", http.MethodGet, "/api/v1/conversations/alice/messages", nil)
	var page store.Page
	if err := json.Unmarshal(env.Data, &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	for _, m := range page.Messages {
		if !m.Read {
			t.Fatalf("message %q still unread after mark-all-read", m.ID)
		}
	}
}

func TestListConversations(t *testing.T) {
	s := newTestServer(t)

	// Empty inbox is an empty list, not null.
	rec, env := s.do(t, "bob", http.MethodGet, "/api/v1/conversations", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if string(env.Data) != "[]" {
		t.Fatalf("empty inbox = %s, want []", env.Data)
	}

	s.do(t, "alice", http.MethodPost, "/api/v1/conversations/bob/messages", map[string]string{"text": "hey"})
	s.do(t, "carol", http.MethodPost, "/api/v1/conversations/bob/messages", map[string]string{"text": "yo"})

	_, env = s.do(t, "bob", http.MethodGet, "/api/v1/conversations", nil)
	var summaries []domain.ConversationSummary
	if err := json.Unmarshal(env.Data, &summaries); err != nil {
		t.Fatalf("decode summaries: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d conversations, want 2", len(summaries))
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)

	rec, env := s.do(t, "", http.MethodGet, "/api/v1/conversations", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Fatalf("error = %+v, want UNAUTHORIZED", env.Error)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/conversations", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec2 := httptest.NewRecorder()
	s.router.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusUnauthorized {
		t.Fatalf("status with garbage token = %d, want 401", rec2.Code)
	}
}
