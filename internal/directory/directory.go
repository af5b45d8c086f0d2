// Package directory caches conversation and presence metadata fetched from
// the relay's directory endpoints. The cache is replaced wholesale on refresh
// and patched incrementally by dispatcher events in between; every patch is
// idempotent, so last-writer-wins between a refresh and an in-flight patch is
// acceptable.
package directory

import (
	"sort"
	"sync"
	"time"
)

// ChatType distinguishes private and group conversations.
type ChatType string

const (
	ChatPrivate ChatType = "private"
	ChatGroup   ChatType = "group"
)

// Entry is one conversation's cached metadata.
type Entry struct {
	ID             string
	Type           ChatType
	Name           string
	Participants   []string
	Admin          string
	LastActivityAt time.Time
	Unread         int
	Muted          bool
}

// Verdict describes how an incoming message relates to local state. It is
// computed atomically with the unread mutation so a focus change can never
// race the increment.
type Verdict struct {
	Known   bool
	Self    bool
	Focused bool
	Muted   bool
	Group   bool
	Name    string
}

// Directory is the in-memory conversation cache. The inbound dispatcher is
// the sole mutator; other contexts read snapshots.
type Directory struct {
	mu      sync.RWMutex
	self    string
	entries map[string]*Entry
	online  map[string]bool
	focus   string
}

// New returns an empty directory for the given local username.
func New(self string) *Directory {
	return &Directory{
		self:    self,
		entries: make(map[string]*Entry),
		online:  make(map[string]bool),
	}
}

// Replace swaps the whole conversation set, as after a directory fetch.
// Locally-tracked state the relay does not know (unread counts, mute flags,
// last activity) is carried over from the previous entries.
func (d *Directory) Replace(entries []Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	next := make(map[string]*Entry, len(entries))
	for _, e := range entries {
		e := e
		if prev, ok := d.entries[e.ID]; ok {
			e.Unread = prev.Unread
			e.Muted = prev.Muted
			if e.LastActivityAt.IsZero() {
				e.LastActivityAt = prev.LastActivityAt
			}
		}
		next[e.ID] = &e
	}
	d.entries = next
}

// Get returns a copy of one entry.
func (d *Directory) Get(id string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns copies of all entries, most recently active first.
func (d *Directory) Snapshot() []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Entry, 0, len(d.entries))
	for _, e := range d.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// SetFocus marks the conversation the UI is currently viewing; empty clears it.
func (d *Directory) SetFocus(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focus = id
	if e, ok := d.entries[id]; ok {
		e.Unread = 0
	}
}

// Focus returns the id of the conversation the UI is viewing, or empty.
func (d *Directory) Focus() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.focus
}

// SetMuted flags a conversation as muted. Mute only suppresses sound and
// speech downstream; persistence and unread counting are unaffected.
func (d *Directory) SetMuted(id string, muted bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[id]; ok {
		e.Muted = muted
	}
}

// ApplyMessage records message arrival for a conversation and returns the
// verdict for notification decisions. Unread increments iff the sender is not
// the local user and the conversation is not focused.
func (d *Directory) ApplyMessage(chatID, sender string, at time.Time) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, ok := d.entries[chatID]
	if !ok {
		return Verdict{Self: sender == d.self}
	}

	e.LastActivityAt = at
	v := Verdict{
		Known:   true,
		Self:    sender == d.self,
		Focused: d.focus == chatID,
		Muted:   e.Muted,
		Group:   e.Type == ChatGroup,
		Name:    d.displayNameLocked(e),
	}
	if !v.Self && !v.Focused {
		e.Unread++
	}
	return v
}

// SetPresence updates a user's online state.
func (d *Directory) SetPresence(user string, isOnline bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if isOnline {
		d.online[user] = true
	} else {
		delete(d.online, user)
	}
}

// IsOnline reports whether a user was last seen online.
func (d *Directory) IsOnline(user string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.online[user]
}

// Rename sets a group's display name. Unknown ids are ignored.
func (d *Directory) Rename(chatID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[chatID]; ok {
		e.Name = name
	}
}

// AddMember adds a participant; adding an existing member is a no-op.
func (d *Directory) AddMember(chatID, user string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[chatID]
	if !ok {
		return
	}
	for _, p := range e.Participants {
		if p == user {
			return
		}
	}
	e.Participants = append(e.Participants, user)
}

// RemoveMember removes a participant; removing the local user drops the chat.
func (d *Directory) RemoveMember(chatID, user string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[chatID]
	if !ok {
		return
	}
	if user == d.self {
		delete(d.entries, chatID)
		return
	}
	kept := e.Participants[:0]
	for _, p := range e.Participants {
		if p != user {
			kept = append(kept, p)
		}
	}
	e.Participants = kept
}

// SetAdmin records an admin transfer.
func (d *Directory) SetAdmin(chatID, admin string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[chatID]; ok {
		e.Admin = admin
	}
}

// Delete drops a conversation from the cache.
func (d *Directory) Delete(chatID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, chatID)
}

// DisplayName resolves what a conversation is called locally: a group's name,
// or the other participant of a private chat. Ledger filenames derive from
// this resolution.
func (d *Directory) DisplayName(chatID string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.entries[chatID]
	if !ok {
		return chatID
	}
	return d.displayNameLocked(e)
}

func (d *Directory) displayNameLocked(e *Entry) string {
	if e.Name != "" {
		return e.Name
	}
	if e.Type == ChatPrivate {
		for _, p := range e.Participants {
			if p != d.self {
				return p
			}
		}
	}
	return e.ID
}
