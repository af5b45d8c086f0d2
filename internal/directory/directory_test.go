package directory

import (
	"testing"
	"time"
)

func seeded() *Directory {
	d := New("alice")
	d.Replace([]Entry{
		{ID: "p1", Type: ChatPrivate, Participants: []string{"alice", "bob"}},
		{ID: "g1", Type: ChatGroup, Name: "team", Participants: []string{"alice", "bob", "carol"}, Admin: "bob"},
	})
	return d
}

func TestUnreadIncrementsOnlyWhenUnfocusedAndNotSelf(t *testing.T) {
	d := seeded()
	now := time.Now()

	// Focused on the chat: no increment.
	d.SetFocus("p1")
	v := d.ApplyMessage("p1", "bob", now)
	if !v.Known || v.Self || !v.Focused {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if e, _ := d.Get("p1"); e.Unread != 0 {
		t.Fatalf("unread = %d, want 0 while focused", e.Unread)
	}

	// Focused elsewhere: increment.
	d.SetFocus("g1")
	v = d.ApplyMessage("p1", "bob", now)
	if v.Focused {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if e, _ := d.Get("p1"); e.Unread != 1 {
		t.Fatalf("unread = %d, want 1", e.Unread)
	}

	// Own echo: never increments.
	v = d.ApplyMessage("p1", "alice", now)
	if !v.Self {
		t.Fatalf("expected self verdict: %+v", v)
	}
	if e, _ := d.Get("p1"); e.Unread != 1 {
		t.Fatalf("unread = %d, want 1 after self echo", e.Unread)
	}
}

func TestFocusResetsUnread(t *testing.T) {
	d := seeded()
	d.ApplyMessage("p1", "bob", time.Now())
	d.ApplyMessage("p1", "bob", time.Now())
	if e, _ := d.Get("p1"); e.Unread != 2 {
		t.Fatalf("unread = %d, want 2", e.Unread)
	}

	d.SetFocus("p1")
	if e, _ := d.Get("p1"); e.Unread != 0 {
		t.Fatalf("unread = %d, want 0 after focusing", e.Unread)
	}
}

func TestMuteDoesNotSuppressUnread(t *testing.T) {
	d := seeded()
	d.SetMuted("g1", true)

	v := d.ApplyMessage("g1", "bob", time.Now())
	if !v.Muted || !v.Group {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if e, _ := d.Get("g1"); e.Unread != 1 {
		t.Fatalf("unread = %d, want 1 on muted chat", e.Unread)
	}
}

func TestUnknownChatVerdict(t *testing.T) {
	d := seeded()
	v := d.ApplyMessage("ghost", "bob", time.Now())
	if v.Known {
		t.Fatalf("expected unknown verdict, got %+v", v)
	}
}

func TestReplacePreservesLocalState(t *testing.T) {
	d := seeded()
	d.ApplyMessage("p1", "bob", time.Now())
	d.SetMuted("p1", true)

	d.Replace([]Entry{
		{ID: "p1", Type: ChatPrivate, Participants: []string{"alice", "bob"}},
		{ID: "p2", Type: ChatPrivate, Participants: []string{"alice", "dave"}},
	})

	e, ok := d.Get("p1")
	if !ok {
		t.Fatal("p1 missing after replace")
	}
	if e.Unread != 1 || !e.Muted {
		t.Fatalf("local state lost on replace: %+v", e)
	}
	if _, ok := d.Get("g1"); ok {
		t.Fatal("g1 should be gone after replace")
	}
}

func TestDisplayNameResolution(t *testing.T) {
	d := seeded()
	if got := d.DisplayName("p1"); got != "bob" {
		t.Fatalf("private display name = %q, want bob", got)
	}
	if got := d.DisplayName("g1"); got != "team" {
		t.Fatalf("group display name = %q, want team", got)
	}
	if got := d.DisplayName("ghost"); got != "ghost" {
		t.Fatalf("unknown display name = %q, want the id", got)
	}
}

func TestGroupPatchesAreIdempotent(t *testing.T) {
	d := seeded()

	d.AddMember("g1", "dave")
	d.AddMember("g1", "dave")
	e, _ := d.Get("g1")
	if len(e.Participants) != 4 {
		t.Fatalf("participants = %v", e.Participants)
	}

	d.RemoveMember("g1", "dave")
	d.RemoveMember("g1", "dave")
	e, _ = d.Get("g1")
	if len(e.Participants) != 3 {
		t.Fatalf("participants = %v", e.Participants)
	}

	d.Rename("g1", "crew")
	d.Rename("g1", "crew")
	d.SetAdmin("g1", "carol")
	e, _ = d.Get("g1")
	if e.Name != "crew" || e.Admin != "carol" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestRemoveSelfDropsChat(t *testing.T) {
	d := seeded()
	d.RemoveMember("g1", "alice")
	if _, ok := d.Get("g1"); ok {
		t.Fatal("chat should be dropped when the local user is removed")
	}
}

func TestSnapshotOrdersByActivity(t *testing.T) {
	d := seeded()
	base := time.Now()
	d.ApplyMessage("p1", "bob", base)
	d.ApplyMessage("g1", "carol", base.Add(time.Minute))

	snap := d.Snapshot()
	if len(snap) != 2 || snap[0].ID != "g1" || snap[1].ID != "p1" {
		t.Fatalf("unexpected snapshot order: %+v", snap)
	}
}

func TestPresence(t *testing.T) {
	d := seeded()
	d.SetPresence("bob", true)
	if !d.IsOnline("bob") {
		t.Fatal("bob should be online")
	}
	d.SetPresence("bob", false)
	if d.IsOnline("bob") {
		t.Fatal("bob should be offline")
	}
}
