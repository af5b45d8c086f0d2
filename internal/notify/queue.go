// Package notify carries user-facing notifications from the background
// contexts to the UI consumer. A notification is a value with an optional
// not-before timestamp; a single drain loop applies ordering, which replaces
// the nested delayed callbacks the flow would otherwise need.
package notify

import (
	"context"
	"sync"
	"time"
)

// Kind classifies a notification.
type Kind int

const (
	// KindConnected is the first successful connect of a session.
	KindConnected Kind = iota
	// KindDisconnected is a manual disconnect.
	KindDisconnected
	// KindConnectionLost is emitted exactly once when reconnects are exhausted.
	KindConnectionLost
	// KindLoginFailed is a terminal authentication failure.
	KindLoginFailed
	// KindConnectFailed is a transient failure on the first connect attempt.
	// Later attempts stay silent until the reconnect budget runs out.
	KindConnectFailed
	// KindMessage is an incoming chat message.
	KindMessage
	// KindPresence is a friend going online or offline.
	KindPresence
	// KindFriendRequest is an incoming friend request.
	KindFriendRequest
	// KindFriendAccepted is a friend request acceptance.
	KindFriendAccepted
	// KindGroupChange covers group membership, rename, admin and delete events.
	KindGroupChange
)

// Notification is one user-visible event. Sound and Speak are hints for the
// embedding UI; a muted conversation clears both but the notification is
// still delivered.
type Notification struct {
	Kind      Kind
	ChatID    string
	User      string
	Text      string
	Sound     bool
	Speak     bool
	NotBefore time.Time
}

// Publisher is the write side of the queue.
type Publisher interface {
	Publish(n Notification)
}

// Queue is a bounded in-order notification buffer. Publish never blocks; when
// the queue is full the oldest pending notification is dropped.
type Queue struct {
	mu      sync.Mutex
	pending []Notification
	limit   int
	dropped int
}

// NewQueue returns a queue holding at most limit notifications.
func NewQueue(limit int) *Queue {
	if limit <= 0 {
		limit = 256
	}
	return &Queue{limit: limit}
}

// Publish enqueues a notification.
func (q *Queue) Publish(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) >= q.limit {
		q.pending = q.pending[1:]
		q.dropped++
	}
	q.pending = append(q.pending, n)
}

// Drain returns every notification due at now, preserving publish order.
// Entries with a future NotBefore stay queued.
func (q *Queue) Drain(now time.Time) []Notification {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []Notification
	var kept []Notification
	for _, n := range q.pending {
		if n.NotBefore.After(now) {
			kept = append(kept, n)
			continue
		}
		due = append(due, n)
	}
	q.pending = kept
	return due
}

// Dropped reports how many notifications were discarded to overflow.
func (q *Queue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Run drains the queue on a fixed tick and hands each due notification to the
// handler, in order, until the context is done. This is the only path from
// background contexts to the UI surface.
func (q *Queue) Run(ctx context.Context, tick time.Duration, handler func(Notification)) {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, n := range q.Drain(now) {
				handler(n)
			}
		}
	}
}
