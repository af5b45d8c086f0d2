// Package api is the client for the relay's REST surface: account
// authentication and the friend/chat directory.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnauthorized covers rejected credentials and invalid tokens.
	ErrUnauthorized = errors.New("api: unauthorized")
	// ErrNotFound is an unknown user, chat or friend request.
	ErrNotFound = errors.New("api: not found")
	// ErrConflict is a duplicate (user exists, request already sent).
	ErrConflict = errors.New("api: conflict")
	// ErrForbidden is an operation the current user may not perform.
	ErrForbidden = errors.New("api: forbidden")
)

const requestTimeout = 10 * time.Second

// Client talks to one relay. It is safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// New builds a client for the relay at baseURL (e.g. "http://relay:8080").
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
	}
}

// SetToken installs the bearer token used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	Token       string `json:"token"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
}

// FriendInfo is one accepted friend with presence.
type FriendInfo struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// FriendsResponse is the full friends listing.
type FriendsResponse struct {
	Friends         []FriendInfo `json:"friends"`
	PendingOutgoing []string     `json:"pending_outgoing"`
	PendingIncoming []string     `json:"pending_incoming"`
}

// Chat is one directory entry as served by the relay.
type Chat struct {
	ChatID       string   `json:"chat_id"`
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
	Admin        string   `json:"admin,omitempty"`
	CreatedBy    string   `json:"created_by,omitempty"`
}

type chatsResponse struct {
	Chats []Chat `json:"chats"`
}

type createChatResponse struct {
	ChatID   string `json:"chat_id"`
	Existing bool   `json:"existing,omitempty"`
}

// Login authenticates and remembers the returned token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return "", err
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

// Register creates an account and remembers the returned token.
func (c *Client) Register(ctx context.Context, username, password, email string) (string, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{
		"username": username,
		"password": password,
		"email":    email,
	}, &resp)
	if err != nil {
		return "", err
	}
	c.SetToken(resp.Token)
	return resp.Token, nil
}

// Friends fetches the friends listing.
func (c *Client) Friends(ctx context.Context) (FriendsResponse, error) {
	var resp FriendsResponse
	err := c.do(ctx, http.MethodGet, "/api/friends", nil, &resp)
	return resp, err
}

// Chats fetches all conversations the user participates in.
func (c *Client) Chats(ctx context.Context) ([]Chat, error) {
	var resp chatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/chats", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

// AddFriend sends a friend request.
func (c *Client) AddFriend(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/api/friends/add", map[string]string{"username": username}, nil)
}

// AcceptFriend accepts an incoming request.
func (c *Client) AcceptFriend(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/api/friends/accept", map[string]string{"username": username}, nil)
}

// RejectFriend rejects an incoming request.
func (c *Client) RejectFriend(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/api/friends/reject", map[string]string{"username": username}, nil)
}

// DeleteFriend removes a friendship in both directions.
func (c *Client) DeleteFriend(ctx context.Context, username string) error {
	return c.do(ctx, http.MethodPost, "/api/friends/delete", map[string]string{"username": username}, nil)
}

// CreateChat creates a private or group chat and returns its id.
func (c *Client) CreateChat(ctx context.Context, participants []string, chatType, name string) (string, error) {
	var resp createChatResponse
	err := c.do(ctx, http.MethodPost, "/api/chats/create", map[string]any{
		"participants": participants,
		"type":         chatType,
		"name":         name,
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.ChatID, nil
}

// DeleteChat removes a chat from the directory.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodDelete, "/api/chats/delete/"+chatID, nil, nil)
}

// AddGroupMember adds a user to a group (admin only).
func (c *Client) AddGroupMember(ctx context.Context, chatID, username string) error {
	return c.do(ctx, http.MethodPost, "/api/chats/group/add-member", map[string]string{
		"chat_id":  chatID,
		"username": username,
	}, nil)
}

// RemoveGroupMember removes a user from a group (admin only).
func (c *Client) RemoveGroupMember(ctx context.Context, chatID, username string) error {
	return c.do(ctx, http.MethodPost, "/api/chats/group/remove-member", map[string]string{
		"chat_id":  chatID,
		"username": username,
	}, nil)
}

// RenameGroup renames a group (admin only).
func (c *Client) RenameGroup(ctx context.Context, chatID, newName string) error {
	return c.do(ctx, http.MethodPost, "/api/chats/group/rename", map[string]string{
		"chat_id":  chatID,
		"new_name": newName,
	}, nil)
}

// TransferAdmin hands group admin rights to another member (admin only).
func (c *Client) TransferAdmin(ctx context.Context, chatID, newAdmin string) error {
	return c.do(ctx, http.MethodPost, "/api/chats/group/transfer-admin", map[string]string{
		"chat_id":   chatID,
		"new_admin": newAdmin,
	}, nil)
}

// DeleteGroup deletes a group chat (admin only).
func (c *Client) DeleteGroup(ctx context.Context, chatID string) error {
	return c.do(ctx, http.MethodDelete, "/api/chats/group/delete/"+chatID, nil, nil)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return statusError(resp.StatusCode, apiErr.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(status int, msg string) error {
	var base error
	switch status {
	case http.StatusUnauthorized:
		base = ErrUnauthorized
	case http.StatusForbidden:
		base = ErrForbidden
	case http.StatusNotFound:
		base = ErrNotFound
	case http.StatusConflict:
		base = ErrConflict
	default:
		return fmt.Errorf("api: status %d: %s", status, msg)
	}
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}
