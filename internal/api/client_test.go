package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/auth/login" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body["username"] != "alice" || body["password"] != "secret" {
			t.Fatalf("unexpected credentials: %v", body)
		}
		json.NewEncoder(w).Encode(AuthResponse{Token: "tok-1", Username: "alice"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	token, err := c.Login(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if token != "tok-1" || c.Token() != "tok-1" {
		t.Fatalf("token = %q, stored = %q", token, c.Token())
	}
}

func TestLoginRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid credentials"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if _, err := c.Login(context.Background(), "alice", "wrong"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAuthenticatedCallsCarryBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-2" {
			t.Fatalf("authorization header = %q", got)
		}
		switch r.URL.Path {
		case "/api/chats":
			json.NewEncoder(w).Encode(map[string]any{"chats": []Chat{
				{ChatID: "c1", Type: "private", Participants: []string{"alice", "bob"}},
			}})
		case "/api/friends":
			json.NewEncoder(w).Encode(FriendsResponse{
				Friends:         []FriendInfo{{Username: "bob", Status: "online"}},
				PendingIncoming: []string{"carol"},
			})
		default:
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	c.SetToken("tok-2")

	chats, err := c.Chats(context.Background())
	if err != nil {
		t.Fatalf("chats: %v", err)
	}
	if len(chats) != 1 || chats[0].ChatID != "c1" {
		t.Fatalf("unexpected chats: %+v", chats)
	}

	friends, err := c.Friends(context.Background())
	if err != nil {
		t.Fatalf("friends: %v", err)
	}
	if len(friends.Friends) != 1 || friends.Friends[0].Username != "bob" {
		t.Fatalf("unexpected friends: %+v", friends)
	}
	if len(friends.PendingIncoming) != 1 || friends.PendingIncoming[0] != "carol" {
		t.Fatalf("unexpected pending: %+v", friends.PendingIncoming)
	}
}

func TestStatusErrorMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusConflict, ErrConflict},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		c := New(srv.URL)
		err := c.AddFriend(context.Background(), "bob")
		srv.Close()
		if !errors.Is(err, tt.want) {
			t.Fatalf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
	}
}

func TestCreateChatReturnsID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chats/create" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{"chat_id": "chat-9"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	id, err := c.CreateChat(context.Background(), []string{"alice", "bob"}, "private", "")
	if err != nil {
		t.Fatalf("create chat: %v", err)
	}
	if id != "chat-9" {
		t.Fatalf("chat id = %q", id)
	}
}
