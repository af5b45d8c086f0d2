package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dragodark/peerchat/internal/auth"
	"github.com/dragodark/peerchat/internal/relay"
	"github.com/dragodark/peerchat/internal/store/sqlite"
)

type testEnv struct {
	handler http.Handler
	auth    *auth.Service
	store   *sqlite.SQLiteStore
	hub     *relay.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret: []byte("test-secret"),
		Issuer: "test",
		TTL:    time.Hour,
	})

	logger := zerolog.Nop()
	hub := relay.NewHub(st, &logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	handlers := NewHandlers(authService, st, hub, &logger)
	server := NewServer(":0", handlers, authService, hub, &logger)

	return &testEnv{handler: server.Handler, auth: authService, store: st, hub: hub}
}

func (e *testEnv) request(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.handler.ServeHTTP(resp, req)
	return resp
}

func (e *testEnv) registerUser(t *testing.T, name string) string {
	t.Helper()
	token, err := e.auth.Register(context.Background(), name, "password123")
	if err != nil {
		t.Fatalf("failed to register %s: %v", name, err)
	}
	return token
}

func (e *testEnv) makeFriends(t *testing.T, tokenA, tokenB, nameA, nameB string) {
	t.Helper()
	if resp := e.request(t, http.MethodPost, "/api/friends/add", tokenA, map[string]string{"username": nameB}); resp.Code != http.StatusOK {
		t.Fatalf("add friend: status %d: %s", resp.Code, resp.Body.String())
	}
	if resp := e.request(t, http.MethodPost, "/api/friends/accept", tokenB, map[string]string{"username": nameA}); resp.Code != http.StatusOK {
		t.Fatalf("accept friend: status %d: %s", resp.Code, resp.Body.String())
	}
}

func TestRegisterAndLogin(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice",
		"password": "password123",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("register: status %d: %s", resp.Code, resp.Body.String())
	}
	var authResp AuthResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &authResp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if authResp.Token == "" || authResp.Username != "alice" {
		t.Fatalf("unexpected auth response: %+v", authResp)
	}

	resp = env.request(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice",
		"password": "password456",
	})
	if resp.Code != http.StatusConflict {
		t.Fatalf("duplicate register: status %d, want 409", resp.Code)
	}

	resp = env.request(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": "alice",
		"password": "wrong",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("bad login: status %d, want 401", resp.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t)

	if resp := env.request(t, http.MethodGet, "/api/chats", "", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", resp.Code)
	}
	if resp := env.request(t, http.MethodGet, "/api/friends", "garbage", nil); resp.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: status %d, want 401", resp.Code)
	}
}

func TestFriendFlow(t *testing.T) {
	env := newTestEnv(t)
	aliceTok := env.registerUser(t, "alice")
	bobTok := env.registerUser(t, "bob")

	// Self-request is rejected.
	if resp := env.request(t, http.MethodPost, "/api/friends/add", aliceTok, map[string]string{"username": "alice"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("self request: status %d, want 400", resp.Code)
	}
	// Unknown target.
	if resp := env.request(t, http.MethodPost, "/api/friends/add", aliceTok, map[string]string{"username": "nobody"}); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown target: status %d, want 404", resp.Code)
	}

	if resp := env.request(t, http.MethodPost, "/api/friends/add", aliceTok, map[string]string{"username": "bob"}); resp.Code != http.StatusOK {
		t.Fatalf("add friend: status %d: %s", resp.Code, resp.Body.String())
	}
	// A duplicate request conflicts.
	if resp := env.request(t, http.MethodPost, "/api/friends/add", aliceTok, map[string]string{"username": "bob"}); resp.Code != http.StatusConflict {
		t.Fatalf("duplicate request: status %d, want 409", resp.Code)
	}

	resp := env.request(t, http.MethodGet, "/api/friends", bobTok, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list friends: status %d", resp.Code)
	}
	var list FriendsResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode friends: %v", err)
	}
	if len(list.PendingIncoming) != 1 || list.PendingIncoming[0] != "alice" {
		t.Fatalf("pending incoming = %v, want [alice]", list.PendingIncoming)
	}

	if resp := env.request(t, http.MethodPost, "/api/friends/accept", bobTok, map[string]string{"username": "alice"}); resp.Code != http.StatusOK {
		t.Fatalf("accept: status %d: %s", resp.Code, resp.Body.String())
	}

	resp = env.request(t, http.MethodGet, "/api/friends", aliceTok, nil)
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode friends: %v", err)
	}
	if len(list.Friends) != 1 || list.Friends[0].Username != "bob" || list.Friends[0].Status != "offline" {
		t.Fatalf("friends = %+v, want offline bob", list.Friends)
	}

	if resp := env.request(t, http.MethodPost, "/api/friends/delete", aliceTok, map[string]string{"username": "bob"}); resp.Code != http.StatusOK {
		t.Fatalf("delete friendship: status %d", resp.Code)
	}
}

func TestPrivateChatRequiresFriendshipAndDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	aliceTok := env.registerUser(t, "alice")
	bobTok := env.registerUser(t, "bob")

	body := map[string]any{"participants": []string{"alice", "bob"}, "type": "private"}
	if resp := env.request(t, http.MethodPost, "/api/chats/create", aliceTok, body); resp.Code != http.StatusForbidden {
		t.Fatalf("chat before friendship: status %d, want 403", resp.Code)
	}

	env.makeFriends(t, aliceTok, bobTok, "alice", "bob")

	resp := env.request(t, http.MethodPost, "/api/chats/create", aliceTok, body)
	if resp.Code != http.StatusCreated {
		t.Fatalf("create chat: status %d: %s", resp.Code, resp.Body.String())
	}
	var created CreateChatResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.ChatID == "" || created.Existing {
		t.Fatalf("unexpected create response: %+v", created)
	}

	// Asking again, from either side, returns the same chat.
	resp = env.request(t, http.MethodPost, "/api/chats/create", bobTok, body)
	if resp.Code != http.StatusOK {
		t.Fatalf("repeat create: status %d: %s", resp.Code, resp.Body.String())
	}
	var again CreateChatResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &again); err != nil {
		t.Fatalf("decode repeat response: %v", err)
	}
	if !again.Existing || again.ChatID != created.ChatID {
		t.Fatalf("expected existing chat %s, got %+v", created.ChatID, again)
	}

	// The chat shows up in both directories.
	resp = env.request(t, http.MethodGet, "/api/chats", bobTok, nil)
	var chats ChatsResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &chats); err != nil {
		t.Fatalf("decode chats: %v", err)
	}
	if len(chats.Chats) != 1 || chats.Chats[0].ChatID != created.ChatID {
		t.Fatalf("chats = %+v", chats.Chats)
	}
}

func TestGroupLifecycle(t *testing.T) {
	env := newTestEnv(t)
	aliceTok := env.registerUser(t, "alice")
	bobTok := env.registerUser(t, "bob")
	carolTok := env.registerUser(t, "carol")
	env.makeFriends(t, aliceTok, bobTok, "alice", "bob")
	env.makeFriends(t, aliceTok, carolTok, "alice", "carol")

	resp := env.request(t, http.MethodPost, "/api/chats/create", aliceTok, map[string]any{
		"participants": []string{"alice", "bob"},
		"type":         "group",
		"name":         "ops",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create group: status %d: %s", resp.Code, resp.Body.String())
	}
	var created CreateChatResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	chatID := created.ChatID

	// Non-admin cannot rename.
	resp = env.request(t, http.MethodPost, "/api/chats/group/rename", bobTok, map[string]string{
		"chat_id": chatID, "new_name": "hijacked",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("non-admin rename: status %d, want 403", resp.Code)
	}

	// Admin adds carol, renames, transfers admin.
	resp = env.request(t, http.MethodPost, "/api/chats/group/add-member", aliceTok, map[string]string{
		"chat_id": chatID, "username": "carol",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("add member: status %d: %s", resp.Code, resp.Body.String())
	}
	resp = env.request(t, http.MethodPost, "/api/chats/group/rename", aliceTok, map[string]string{
		"chat_id": chatID, "new_name": "platform",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("rename: status %d: %s", resp.Code, resp.Body.String())
	}

	// Transfer to a non-member fails.
	resp = env.request(t, http.MethodPost, "/api/chats/group/transfer-admin", aliceTok, map[string]string{
		"chat_id": chatID, "new_admin": "nobody",
	})
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("transfer to non-member: status %d, want 400", resp.Code)
	}
	resp = env.request(t, http.MethodPost, "/api/chats/group/transfer-admin", aliceTok, map[string]string{
		"chat_id": chatID, "new_admin": "bob",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("transfer admin: status %d: %s", resp.Code, resp.Body.String())
	}

	// Old admin lost their powers; the new one has them.
	resp = env.request(t, http.MethodPost, "/api/chats/group/remove-member", aliceTok, map[string]string{
		"chat_id": chatID, "username": "carol",
	})
	if resp.Code != http.StatusForbidden {
		t.Fatalf("old admin remove: status %d, want 403", resp.Code)
	}
	resp = env.request(t, http.MethodPost, "/api/chats/group/remove-member", bobTok, map[string]string{
		"chat_id": chatID, "username": "carol",
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("remove member: status %d: %s", resp.Code, resp.Body.String())
	}

	// Admin deletes the group.
	resp = env.request(t, http.MethodDelete, "/api/chats/group/delete/"+chatID, bobTok, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("delete group: status %d: %s", resp.Code, resp.Body.String())
	}
	resp = env.request(t, http.MethodGet, "/api/chats", bobTok, nil)
	var chats ChatsResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &chats); err != nil {
		t.Fatalf("decode chats: %v", err)
	}
	if len(chats.Chats) != 0 {
		t.Fatalf("chats after delete = %+v", chats.Chats)
	}
}

func TestDeletePrivateChat(t *testing.T) {
	env := newTestEnv(t)
	aliceTok := env.registerUser(t, "alice")
	bobTok := env.registerUser(t, "bob")
	env.makeFriends(t, aliceTok, bobTok, "alice", "bob")

	resp := env.request(t, http.MethodPost, "/api/chats/create", aliceTok, map[string]any{
		"participants": []string{"alice", "bob"}, "type": "private",
	})
	if resp.Code != http.StatusCreated {
		t.Fatalf("create chat: status %d", resp.Code)
	}
	var created CreateChatResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	if resp := env.request(t, http.MethodDelete, "/api/chats/delete/"+created.ChatID, bobTok, nil); resp.Code != http.StatusOK {
		t.Fatalf("delete chat: status %d: %s", resp.Code, resp.Body.String())
	}
	if resp := env.request(t, http.MethodDelete, "/api/chats/delete/"+created.ChatID, bobTok, nil); resp.Code != http.StatusNotFound {
		t.Fatalf("delete missing chat: status %d, want 404", resp.Code)
	}
}
