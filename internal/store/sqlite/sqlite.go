// Package sqlite implements store.Store on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/dragodark/peerchat/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS friendships (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    INTEGER NOT NULL REFERENCES users(id),
	friend_id  INTEGER NOT NULL REFERENCES users(id),
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(user_id, friend_id)
);

CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	name       TEXT NOT NULL DEFAULT '',
	admin      TEXT NOT NULL DEFAULT '',
	created_by TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_participants (
	chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id),
	PRIMARY KEY (chat_id, user_id)
);
`

// New opens the database and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with a hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash)
		VALUES (?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, username, passwordHash)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, store.ErrExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.GetUserByUsername(ctx, username)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, created_at
		FROM users
		WHERE username = ?
	`
	var user store.User
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query user: %w", err)
	}

	return &user, nil
}

func (s *SQLiteStore) userID(ctx context.Context, username string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM users WHERE username = ?`, username).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, fmt.Errorf("query user id: %w", err)
	}
	return id, nil
}

// ==== FriendStore implementation ====

// CreateFriendRequest records a pending request from one user to another.
func (s *SQLiteStore) CreateFriendRequest(ctx context.Context, from, to string) error {
	fromID, err := s.userID(ctx, from)
	if err != nil {
		return err
	}
	toID, err := s.userID(ctx, to)
	if err != nil {
		return err
	}

	// Any existing row in either direction blocks a new request.
	var existing int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM friendships
		WHERE (user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?)
	`, fromID, toID, toID, fromID).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check friendship: %w", err)
	}
	if existing > 0 {
		return store.ErrExists
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO friendships (user_id, friend_id, status)
		VALUES (?, ?, ?)
	`, fromID, toID, store.FriendStatusPending)
	if err != nil {
		return fmt.Errorf("insert friend request: %w", err)
	}
	return nil
}

// AcceptFriendRequest promotes a pending request to accepted.
func (s *SQLiteStore) AcceptFriendRequest(ctx context.Context, from, to string) error {
	fromID, err := s.userID(ctx, from)
	if err != nil {
		return err
	}
	toID, err := s.userID(ctx, to)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE friendships SET status = ?
		WHERE user_id = ? AND friend_id = ? AND status = ?
	`, store.FriendStatusAccepted, fromID, toID, store.FriendStatusPending)
	if err != nil {
		return fmt.Errorf("accept friend request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RejectFriendRequest drops a pending request without accepting it.
func (s *SQLiteStore) RejectFriendRequest(ctx context.Context, from, to string) error {
	fromID, err := s.userID(ctx, from)
	if err != nil {
		return err
	}
	toID, err := s.userID(ctx, to)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM friendships
		WHERE user_id = ? AND friend_id = ? AND status = ?
	`, fromID, toID, store.FriendStatusPending)
	if err != nil {
		return fmt.Errorf("reject friend request: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// DeleteFriendship removes an accepted friendship in either direction.
func (s *SQLiteStore) DeleteFriendship(ctx context.Context, a, b string) error {
	aID, err := s.userID(ctx, a)
	if err != nil {
		return err
	}
	bID, err := s.userID(ctx, b)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM friendships
		WHERE ((user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?))
		  AND status = ?
	`, aID, bID, bID, aID, store.FriendStatusAccepted)
	if err != nil {
		return fmt.Errorf("delete friendship: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListFriends returns the user's accepted friends and pending requests in
// both directions.
func (s *SQLiteStore) ListFriends(ctx context.Context, username string) (*store.FriendList, error) {
	id, err := s.userID(ctx, username)
	if err != nil {
		return nil, err
	}

	list := &store.FriendList{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT u.username, f.status, f.user_id = ? AS outgoing
		FROM friendships f
		JOIN users u ON u.id = CASE WHEN f.user_id = ? THEN f.friend_id ELSE f.user_id END
		WHERE f.user_id = ? OR f.friend_id = ?
		ORDER BY u.username
	`, id, id, id, id)
	if err != nil {
		return nil, fmt.Errorf("query friendships: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var status store.FriendStatus
		var outgoing bool
		if err := rows.Scan(&name, &status, &outgoing); err != nil {
			return nil, fmt.Errorf("scan friendship: %w", err)
		}
		switch {
		case status == store.FriendStatusAccepted:
			list.Friends = append(list.Friends, name)
		case outgoing:
			list.PendingOutgoing = append(list.PendingOutgoing, name)
		default:
			list.PendingIncoming = append(list.PendingIncoming, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friendships: %w", err)
	}

	return list, nil
}

// AreFriends reports whether an accepted friendship links the pair.
func (s *SQLiteStore) AreFriends(ctx context.Context, a, b string) (bool, error) {
	aID, err := s.userID(ctx, a)
	if err != nil {
		return false, err
	}
	bID, err := s.userID(ctx, b)
	if err != nil {
		return false, err
	}

	var count int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM friendships
		WHERE ((user_id = ? AND friend_id = ?) OR (user_id = ? AND friend_id = ?))
		  AND status = ?
	`, aID, bID, bID, aID, store.FriendStatusAccepted).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check friendship: %w", err)
	}
	return count > 0, nil
}

// ==== ChatStore implementation ====

// CreateChat persists a chat with its initial participants.
func (s *SQLiteStore) CreateChat(ctx context.Context, chat *store.Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, type, name, admin, created_by)
		VALUES (?, ?, ?, ?, ?)
	`, chat.ID, chat.Type, chat.Name, chat.Admin, chat.CreatedBy)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return store.ErrExists
		}
		return fmt.Errorf("insert chat: %w", err)
	}

	for _, member := range chat.Participants {
		if err := addParticipantTx(ctx, tx, chat.ID, member); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chat: %w", err)
	}
	return nil
}

func addParticipantTx(ctx context.Context, tx *sql.Tx, chatID, username string) error {
	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_participants (chat_id, user_id)
		SELECT ?, id FROM users WHERE username = ?
	`, chatID, username)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	// Zero rows with no conflict means the username does not exist.
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE username = ?`, username).Scan(&count); err == nil && count == 0 {
			return store.ErrNotFound
		}
	}
	return nil
}

// GetChat retrieves a chat with its participants.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*store.Chat, error) {
	query := `
		SELECT id, type, name, admin, created_by, created_at
		FROM chats
		WHERE id = ?
	`
	var chat store.Chat
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&chat.ID,
		&chat.Type,
		&chat.Name,
		&chat.Admin,
		&chat.CreatedBy,
		&chat.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query chat: %w", err)
	}

	chat.Participants, err = s.participants(ctx, id)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

func (s *SQLiteStore) participants(ctx context.Context, chatID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.username
		FROM chat_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.chat_id = ?
		ORDER BY u.username
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		members = append(members, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return members, nil
}

// FindPrivateChat returns the existing private chat between two users.
func (s *SQLiteStore) FindPrivateChat(ctx context.Context, a, b string) (*store.Chat, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id
		FROM chats c
		JOIN chat_participants pa ON pa.chat_id = c.id
		JOIN users ua ON ua.id = pa.user_id AND ua.username = ?
		JOIN chat_participants pb ON pb.chat_id = c.id
		JOIN users ub ON ub.id = pb.user_id AND ub.username = ?
		WHERE c.type = ?
	`, a, b, store.ChatTypePrivate).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("query private chat: %w", err)
	}
	return s.GetChat(ctx, id)
}

// ListChats lists every chat the user participates in.
func (s *SQLiteStore) ListChats(ctx context.Context, username string) ([]*store.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		JOIN users u ON u.id = p.user_id
		WHERE u.username = ?
		ORDER BY c.created_at, c.id
	`, username)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan chat id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chats: %w", err)
	}

	chats := make([]*store.Chat, 0, len(ids))
	for _, id := range ids {
		chat, err := s.GetChat(ctx, id)
		if err != nil {
			return nil, err
		}
		chats = append(chats, chat)
	}
	return chats, nil
}

// DeleteChat removes a chat and its membership rows.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_participants WHERE chat_id = ?`, id); err != nil {
		return fmt.Errorf("delete participants: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	return nil
}

// AddParticipant adds a user to a chat. Adding an existing member is a no-op.
func (s *SQLiteStore) AddParticipant(ctx context.Context, chatID, username string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := addParticipantTx(ctx, tx, chatID, username); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit participant: %w", err)
	}
	return nil
}

// RemoveParticipant removes a user from a chat.
func (s *SQLiteStore) RemoveParticipant(ctx context.Context, chatID, username string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM chat_participants
		WHERE chat_id = ? AND user_id IN (SELECT id FROM users WHERE username = ?)
	`, chatID, username)
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// RenameChat updates a group's display name.
func (s *SQLiteStore) RenameChat(ctx context.Context, chatID, name string) error {
	return s.updateChatField(ctx, chatID, "name", name)
}

// SetAdmin updates a group's admin.
func (s *SQLiteStore) SetAdmin(ctx context.Context, chatID, admin string) error {
	return s.updateChatField(ctx, chatID, "admin", admin)
}

func (s *SQLiteStore) updateChatField(ctx context.Context, chatID, field, value string) error {
	// field is one of the fixed column names above, never user input.
	result, err := s.db.ExecContext(ctx, `UPDATE chats SET `+field+` = ? WHERE id = ?`, value, chatID)
	if err != nil {
		return fmt.Errorf("update chat %s: %w", field, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
