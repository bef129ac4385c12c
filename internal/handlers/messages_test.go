package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/lostfound/internal/cache"
	"github.com/lostfound/internal/models"
	"github.com/lostfound/internal/repository/memory"
	"github.com/lostfound/internal/service"
	"github.com/lostfound/internal/websocket"
	"github.com/lostfound/pkg/jwt"
)

type testAPI struct {
	router http.Handler
	tokens jwt.Service
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := zerolog.Nop()
	store := memory.NewStore()
	c := cache.NewMemory(0)
	t.Cleanup(func() { c.Close() })

	registry := service.NewConversationRegistry(store.Conversations(), &logger)
	messageService := service.NewMessageService(store.Messages(), store.Conversations(), registry, c, service.Options{
		UnreadCacheTTL:        time.Minute,
		ConversationsCacheTTL: time.Minute,
		CacheTimeout:          time.Second,
	}, &logger)
	tokens := jwt.NewJWTService("test-secret")
	hub := websocket.NewHub(messageService, &logger)

	router := mux.NewRouter()
	SetupRoutes(router, hub, service.NewAuthService(tokens), messageService, &logger)
	return &testAPI{router: router, tokens: tokens}
}

func (a *testAPI) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if user != "" {
		token, err := a.tokens.GenerateToken(user)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) send(t *testing.T, from, to, content string) models.Message {
	t.Helper()
	rec := a.do(t, from, http.MethodPost, "/api/messages/send", models.SendMessageRequest{ReceiverID: to, Content: content})
	if rec.Code != http.StatusCreated {
		t.Fatalf("send status = %d, body = %s", rec.Code, rec.Body)
	}
	var msg models.Message
	decode(t, rec, &msg)
	return msg
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	decode(t, rec, &resp)
	return resp.Error.Code
}

func TestAuthRequired(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, "", http.MethodGet, "/api/messages/unread/count", nil)
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != CodeUnauthorized {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/messages/unread/count", nil)
	req.Header.Set("Authorization", "Bearer forged")
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token status = %d", rec.Code)
	}
}

func TestErrorKindsMapToStatus(t *testing.T) {
	api := newTestAPI(t)
	msg := api.send(t, "alice", "bob", "found a blue backpack")

	cases := []struct {
		name   string
		user   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"self send", "alice", http.MethodPost, "/api/messages/send", models.SendMessageRequest{ReceiverID: "alice", Content: "hi"}, http.StatusBadRequest, CodeValidation},
		{"bad body", "alice", http.MethodPost, "/api/messages/send", "not an object", http.StatusBadRequest, CodeValidation},
		{"short search", "alice", http.MethodGet, "/api/messages/search?q=a", nil, http.StatusBadRequest, CodeValidation},
		{"bad limit", "alice", http.MethodGet, "/api/messages/conversations?limit=500", nil, http.StatusBadRequest, CodeValidation},
		{"bad cursor", "alice", http.MethodGet, "/api/messages/conversations/" + msg.ConversationID + "?before=!!!!", nil, http.StatusBadRequest, CodeValidation},
		{"unknown message", "alice", http.MethodGet, "/api/messages/nope", nil, http.StatusNotFound, CodeNotFound},
		{"unknown conversation", "alice", http.MethodPatch, "/api/messages/conversations/nope/read", nil, http.StatusNotFound, CodeNotFound},
		{"outsider read", "mallory", http.MethodGet, "/api/messages/" + msg.ID, nil, http.StatusForbidden, CodeForbidden},
		{"receiver delete", "bob", http.MethodDelete, "/api/messages/" + msg.ID, nil, http.StatusForbidden, CodeForbidden},
		{"sender marks read", "alice", http.MethodPatch, "/api/messages/" + msg.ID + "/read", nil, http.StatusForbidden, CodeForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := api.do(t, tc.user, tc.method, tc.path, tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tc.status, rec.Body)
			}
			if code := errorCode(t, rec); code != tc.code {
				t.Errorf("code = %s, want %s", code, tc.code)
			}
		})
	}
}

func TestMessagingFlow(t *testing.T) {
	api := newTestAPI(t)
	first := api.send(t, "alice", "bob", "is this your umbrella?")
	second := api.send(t, "alice", "bob", "it was left at the library")

	var unread map[string]int64
	decode(t, api.do(t, "bob", http.MethodGet, "/api/messages/unread/count", nil), &unread)
	if unread["unread_count"] != 2 {
		t.Fatalf("unread = %v, want 2", unread)
	}

	rec := api.do(t, "bob", http.MethodGet, "/api/messages/conversations/"+first.ConversationID+"?limit=1", nil)
	var page models.MessagePage
	decode(t, rec, &page)
	if len(page.Messages) != 1 || page.Messages[0].ID != second.ID || !page.HasMore {
		t.Fatalf("first page = %+v", page)
	}
	rec = api.do(t, "bob", http.MethodGet,
		"/api/messages/conversations/"+first.ConversationID+"?limit=1&before="+url.QueryEscape(page.NextCursor), nil)
	decode(t, rec, &page)
	if len(page.Messages) != 1 || page.Messages[0].ID != first.ID || page.HasMore {
		t.Fatalf("second page = %+v", page)
	}

	rec = api.do(t, "bob", http.MethodPatch, "/api/messages/"+first.ID+"/read", nil)
	var read models.Message
	decode(t, rec, &read)
	if rec.Code != http.StatusOK || read.Status != models.StatusRead {
		t.Fatalf("mark read = %d %+v", rec.Code, read)
	}

	rec = api.do(t, "bob", http.MethodPatch, "/api/messages/conversations/"+first.ConversationID+"/read", nil)
	var marked map[string]any
	decode(t, rec, &marked)
	if marked["marked_read"] != float64(1) {
		t.Fatalf("marked = %v, want 1", marked)
	}

	rec = api.do(t, "alice", http.MethodDelete, "/api/messages/"+second.ID, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	var view models.Message
	decode(t, api.do(t, "bob", http.MethodGet, "/api/messages/"+second.ID, nil), &view)
	if view.Content != models.DeletedPlaceholder {
		t.Errorf("receiver sees %q", view.Content)
	}

	rec = api.do(t, "bob", http.MethodPatch, "/api/messages/conversations/"+first.ConversationID+"/archive", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive status = %d", rec.Code)
	}
	var inbox struct {
		Conversations []models.ConversationSummary `json:"conversations"`
		Total         int                          `json:"total"`
	}
	decode(t, api.do(t, "alice", http.MethodGet, "/api/messages/conversations", nil), &inbox)
	if inbox.Total != 0 {
		t.Errorf("archived conversation still listed: %d", inbox.Total)
	}
	decode(t, api.do(t, "alice", http.MethodGet, "/api/messages/conversations?include_archived=true", nil), &inbox)
	if inbox.Total != 1 || inbox.Conversations[0].LastMessage == nil || inbox.Conversations[0].LastMessage.ID != first.ID {
		t.Errorf("inbox = %+v", inbox)
	}

	var results struct {
		Messages []models.Message `json:"messages"`
	}
	decode(t, api.do(t, "bob", http.MethodGet, "/api/messages/search?q=UMBRELLA", nil), &results)
	if len(results.Messages) != 1 || results.Messages[0].ID != first.ID {
		t.Errorf("search = %+v", results.Messages)
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(t, "", http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
}
