// Package store defines the relay's persistence interfaces. Messages are
// deliberately not persisted; the relay only fans them out, and each client
// keeps its own history.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when a unique record already exists.
	ErrExists = errors.New("already exists")
)

// User is a registered account.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// FriendStatus is the state of a directional friendship request.
type FriendStatus string

const (
	FriendStatusPending  FriendStatus = "pending"
	FriendStatusAccepted FriendStatus = "accepted"
)

// FriendList is a user's friendship view split by direction and state.
type FriendList struct {
	Friends         []string
	PendingOutgoing []string
	PendingIncoming []string
}

// ChatType distinguishes two-party chats from groups.
type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// Chat is a conversation and its membership. Name and Admin are only set for
// groups.
type Chat struct {
	ID           string
	Type         ChatType
	Name         string
	Admin        string
	CreatedBy    string
	Participants []string
	CreatedAt    time.Time
}

// UserStore handles account persistence.
type UserStore interface {
	// CreateUser creates a new user with a hashed password.
	// Returns ErrExists when the username is taken.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)
}

// FriendStore handles directional friendship requests. A request from A to B
// is pending until B accepts it; acceptance makes the pair friends in both
// directions.
type FriendStore interface {
	// CreateFriendRequest records a pending request from one user to another.
	// Returns ErrExists when a request or friendship already links the pair.
	CreateFriendRequest(ctx context.Context, from, to string) error

	// AcceptFriendRequest promotes a pending request to accepted.
	// Returns ErrNotFound when no pending request exists from the sender.
	AcceptFriendRequest(ctx context.Context, from, to string) error

	// RejectFriendRequest drops a pending request without accepting it.
	RejectFriendRequest(ctx context.Context, from, to string) error

	// DeleteFriendship removes an accepted friendship in either direction.
	DeleteFriendship(ctx context.Context, a, b string) error

	// ListFriends returns the user's accepted friends and pending requests
	// in both directions.
	ListFriends(ctx context.Context, username string) (*FriendList, error)

	// AreFriends reports whether an accepted friendship links the pair.
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// ChatStore handles conversations and membership.
type ChatStore interface {
	// CreateChat persists a chat with its initial participants.
	CreateChat(ctx context.Context, chat *Chat) error

	// GetChat retrieves a chat with its participants.
	GetChat(ctx context.Context, id string) (*Chat, error)

	// FindPrivateChat returns the existing private chat between two users,
	// or ErrNotFound.
	FindPrivateChat(ctx context.Context, a, b string) (*Chat, error)

	// ListChats lists every chat the user participates in.
	ListChats(ctx context.Context, username string) ([]*Chat, error)

	// DeleteChat removes a chat and its membership rows.
	DeleteChat(ctx context.Context, id string) error

	// AddParticipant adds a user to a chat. Adding an existing member is a
	// no-op.
	AddParticipant(ctx context.Context, chatID, username string) error

	// RemoveParticipant removes a user from a chat.
	RemoveParticipant(ctx context.Context, chatID, username string) error

	// RenameChat updates a group's display name.
	RenameChat(ctx context.Context, chatID, name string) error

	// SetAdmin updates a group's admin.
	SetAdmin(ctx context.Context, chatID, admin string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	FriendStore
	ChatStore

	// Close closes the underlying database connection.
	Close() error
}
