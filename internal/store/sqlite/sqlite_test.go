package sqlite

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/dragodark/peerchat/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUsers(t *testing.T, s *SQLiteStore, names ...string) {
	t.Helper()
	ctx := context.Background()
	for _, name := range names {
		if _, err := s.CreateUser(ctx, name, "hash"); err != nil {
			t.Fatalf("failed to create user %s: %v", name, err)
		}
	}
}

func TestCreateUserDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	seedUsers(t, s, "alice")
	if _, err := s.CreateUser(ctx, "alice", "other"); !errors.Is(err, store.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	user, err := s.GetUserByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUserByUsername failed: %v", err)
	}
	if user.Username != "alice" || user.PasswordHash != "hash" {
		t.Fatalf("unexpected user: %+v", user)
	}
}

func TestFriendRequestLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "alice", "bob", "carol")

	if err := s.CreateFriendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("CreateFriendRequest failed: %v", err)
	}
	// A second request in either direction must be rejected.
	if err := s.CreateFriendRequest(ctx, "bob", "alice"); !errors.Is(err, store.ErrExists) {
		t.Fatalf("expected ErrExists for reverse request, got %v", err)
	}

	fromAlice, err := s.ListFriends(ctx, "alice")
	if err != nil {
		t.Fatalf("ListFriends failed: %v", err)
	}
	if !reflect.DeepEqual(fromAlice.PendingOutgoing, []string{"bob"}) {
		t.Fatalf("pending outgoing = %v, want [bob]", fromAlice.PendingOutgoing)
	}

	fromBob, err := s.ListFriends(ctx, "bob")
	if err != nil {
		t.Fatalf("ListFriends failed: %v", err)
	}
	if !reflect.DeepEqual(fromBob.PendingIncoming, []string{"alice"}) {
		t.Fatalf("pending incoming = %v, want [alice]", fromBob.PendingIncoming)
	}

	if err := s.AcceptFriendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("AcceptFriendRequest failed: %v", err)
	}
	ok, err := s.AreFriends(ctx, "bob", "alice")
	if err != nil || !ok {
		t.Fatalf("AreFriends = %v, %v; want true", ok, err)
	}

	fromAlice, err = s.ListFriends(ctx, "alice")
	if err != nil {
		t.Fatalf("ListFriends failed: %v", err)
	}
	if !reflect.DeepEqual(fromAlice.Friends, []string{"bob"}) || len(fromAlice.PendingOutgoing) != 0 {
		t.Fatalf("unexpected friend list after accept: %+v", fromAlice)
	}

	if err := s.DeleteFriendship(ctx, "bob", "alice"); err != nil {
		t.Fatalf("DeleteFriendship failed: %v", err)
	}
	ok, err = s.AreFriends(ctx, "alice", "bob")
	if err != nil || ok {
		t.Fatalf("AreFriends after delete = %v, %v; want false", ok, err)
	}

	// Rejecting a non-existent request reports not found.
	if err := s.RejectFriendRequest(ctx, "carol", "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRejectFriendRequestDropsIt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "alice", "bob")

	if err := s.CreateFriendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("CreateFriendRequest failed: %v", err)
	}
	if err := s.RejectFriendRequest(ctx, "alice", "bob"); err != nil {
		t.Fatalf("RejectFriendRequest failed: %v", err)
	}

	list, err := s.ListFriends(ctx, "bob")
	if err != nil {
		t.Fatalf("ListFriends failed: %v", err)
	}
	if len(list.PendingIncoming) != 0 {
		t.Fatalf("pending incoming after reject = %v", list.PendingIncoming)
	}
	// The pair can try again after a rejection.
	if err := s.CreateFriendRequest(ctx, "bob", "alice"); err != nil {
		t.Fatalf("CreateFriendRequest after reject failed: %v", err)
	}
}

func TestChatLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "alice", "bob", "carol")

	chat := &store.Chat{
		ID:           "chat-1",
		Type:         store.ChatTypeGroup,
		Name:         "ops",
		Admin:        "alice",
		CreatedBy:    "alice",
		Participants: []string{"alice", "bob"},
	}
	if err := s.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	got, err := s.GetChat(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.Name != "ops" || got.Admin != "alice" {
		t.Fatalf("unexpected chat: %+v", got)
	}
	if !reflect.DeepEqual(got.Participants, []string{"alice", "bob"}) {
		t.Fatalf("participants = %v, want [alice bob]", got.Participants)
	}

	if err := s.AddParticipant(ctx, "chat-1", "carol"); err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}
	// Adding an existing member is a no-op.
	if err := s.AddParticipant(ctx, "chat-1", "carol"); err != nil {
		t.Fatalf("AddParticipant repeat failed: %v", err)
	}
	// Adding an unknown user is not.
	if err := s.AddParticipant(ctx, "chat-1", "nobody"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown user, got %v", err)
	}

	if err := s.RenameChat(ctx, "chat-1", "platform"); err != nil {
		t.Fatalf("RenameChat failed: %v", err)
	}
	if err := s.SetAdmin(ctx, "chat-1", "bob"); err != nil {
		t.Fatalf("SetAdmin failed: %v", err)
	}

	got, err = s.GetChat(ctx, "chat-1")
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	if got.Name != "platform" || got.Admin != "bob" || len(got.Participants) != 3 {
		t.Fatalf("unexpected chat after updates: %+v", got)
	}

	if err := s.RemoveParticipant(ctx, "chat-1", "carol"); err != nil {
		t.Fatalf("RemoveParticipant failed: %v", err)
	}
	carolChats, err := s.ListChats(ctx, "carol")
	if err != nil {
		t.Fatalf("ListChats failed: %v", err)
	}
	if len(carolChats) != 0 {
		t.Fatalf("carol should have no chats, got %d", len(carolChats))
	}

	if err := s.DeleteChat(ctx, "chat-1"); err != nil {
		t.Fatalf("DeleteChat failed: %v", err)
	}
	if _, err := s.GetChat(ctx, "chat-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFindPrivateChat(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedUsers(t, s, "alice", "bob", "carol")

	chat := &store.Chat{
		ID:           "dm-1",
		Type:         store.ChatTypePrivate,
		CreatedBy:    "alice",
		Participants: []string{"alice", "bob"},
	}
	if err := s.CreateChat(ctx, chat); err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}

	got, err := s.FindPrivateChat(ctx, "bob", "alice")
	if err != nil {
		t.Fatalf("FindPrivateChat failed: %v", err)
	}
	if got.ID != "dm-1" {
		t.Fatalf("chat id = %q, want dm-1", got.ID)
	}

	if _, err := s.FindPrivateChat(ctx, "alice", "carol"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
