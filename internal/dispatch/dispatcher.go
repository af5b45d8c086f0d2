// Package dispatch drains inbound frames and routes them to the ledger, the
// directory and the notification queue. One loop, one consumer: no two frames
// are ever processed concurrently, so ledger appends happen in receipt order
// and directory mutations never race.
package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dragodark/peerchat/internal/directory"
	"github.com/dragodark/peerchat/internal/ledger"
	"github.com/dragodark/peerchat/internal/notify"
	"github.com/dragodark/peerchat/internal/transport"
	"github.com/dragodark/peerchat/internal/wire"
)

// Dispatcher is the sole writer to the ledger and the sole mutator of the
// directory. Refresh re-fetches the whole directory and is invoked on cache
// misses and structural events.
type Dispatcher struct {
	self     string
	dir      *directory.Directory
	ledger   *ledger.Ledger
	notifier notify.Publisher
	refresh  func(ctx context.Context) error
	now      func() time.Time
	log      *zerolog.Logger
}

// New builds a dispatcher for the given local username.
func New(self string, dir *directory.Directory, led *ledger.Ledger, notifier notify.Publisher, refresh func(ctx context.Context) error, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		self:     self,
		dir:      dir,
		ledger:   led,
		notifier: notifier,
		refresh:  refresh,
		now:      time.Now,
		log:      logger,
	}
}

// Run consumes frames until the connection's frame stream closes or the
// context is done. Malformed or unrecognized frames are dropped; nothing in
// here ever takes the loop down.
func (d *Dispatcher) Run(ctx context.Context, conn transport.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-conn.Frames():
			if !ok {
				return
			}
			d.handleFrame(ctx, conn, frame)
		}
	}
}

func (d *Dispatcher) handleFrame(ctx context.Context, conn transport.Conn, f wire.Frame) {
	switch f.Kind {
	case wire.KindPing:
		if err := conn.Send(ctx, wire.Pong()); err != nil {
			d.log.Debug().Err(err).Msg("pong reply failed")
		}
	case wire.KindEvent:
		d.handleEvent(ctx, f)
	case wire.KindPong, wire.KindAck:
		// Nothing to do.
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, f wire.Frame) {
	switch f.Event {
	case wire.EventNewMessage:
		d.handleNewMessage(ctx, f.Data)
	case wire.EventUserOnline:
		d.handlePresence(f.Data, true)
	case wire.EventUserOffline:
		d.handlePresence(f.Data, false)
	case wire.EventFriendRequest:
		d.handleFriendRequest(ctx, f.Data)
	case wire.EventFriendAccepted:
		d.handleFriendAccepted(ctx, f.Data)
	case wire.EventGroupMemberAdded:
		d.handleMemberAdded(ctx, f.Data)
	case wire.EventGroupMemberRemoved:
		d.handleMemberRemoved(f.Data)
	case wire.EventGroupRenamed:
		d.handleGroupRenamed(f.Data)
	case wire.EventAdminTransferred:
		d.handleAdminTransferred(f.Data)
	case wire.EventGroupDeleted:
		d.handleGroupDeleted(f.Data)
	case wire.EventAuthenticated, wire.EventMessageSent, wire.EventUserTyping, wire.EventHeartbeatAck:
		d.log.Debug().Str("event", f.Event).Msg("event acknowledged")
	case wire.EventError:
		var payload wire.ErrorPayload
		_ = json.Unmarshal(f.Data, &payload)
		d.log.Warn().Str("message", payload.Message).Msg("relay reported error")
	default:
		d.log.Debug().Str("event", f.Event).Msg("dropping unknown event")
	}
}

func (d *Dispatcher) handleNewMessage(ctx context.Context, data json.RawMessage) {
	var payload wire.NewMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.log.Debug().Err(err).Msg("dropping malformed new_message")
		return
	}

	if _, known := d.dir.Get(payload.ChatID); !known {
		// Lazy cache-miss repair: the chat was created while we were away.
		if err := d.refresh(ctx); err != nil {
			d.log.Warn().Err(err).Str("chat_id", payload.ChatID).Msg("directory refresh failed")
		}
	}

	// The local clock at dispatch time is the record's timestamp; relay
	// clocks are never trusted, so ledger order always equals append order.
	receivedAt := d.now()
	verdict := d.dir.ApplyMessage(payload.ChatID, payload.Message.Sender, receivedAt)

	d.ledger.Append(d.dir.DisplayName(payload.ChatID), ledger.Record{
		Sender:     payload.Message.Sender,
		Text:       payload.Message.Message,
		IsAction:   payload.Message.IsAction,
		ReceivedAt: receivedAt,
	})

	if payload.Message.Sender == wire.SystemSender && strings.Contains(payload.Message.Message, "transferred admin rights to") {
		// Admin changed; re-fetch so the cached admin matches the relay.
		if err := d.refresh(ctx); err != nil {
			d.log.Warn().Err(err).Msg("directory refresh after admin transfer failed")
		}
	}

	if verdict.Self {
		// The relay echoing our own message back is what lands it in the
		// ledger; it is never a notification.
		return
	}

	d.notifier.Publish(notify.Notification{
		Kind:   notify.KindMessage,
		ChatID: payload.ChatID,
		User:   payload.Message.Sender,
		Text:   payload.Message.Message,
		Sound:  !verdict.Muted,
		Speak:  !verdict.Muted && !verdict.Focused,
	})
}

func (d *Dispatcher) handlePresence(data json.RawMessage, online bool) {
	var payload wire.PresencePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.log.Debug().Err(err).Msg("dropping malformed presence event")
		return
	}
	d.dir.SetPresence(payload.Username, online)

	text := payload.Username + " is offline"
	if online {
		text = payload.Username + " is online"
	}
	d.notifier.Publish(notify.Notification{
		Kind:  notify.KindPresence,
		User:  payload.Username,
		Text:  text,
		Sound: true,
		Speak: true,
	})
}

func (d *Dispatcher) handleFriendRequest(ctx context.Context, data json.RawMessage) {
	var payload wire.FriendRequestPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.log.Debug().Err(err).Msg("dropping malformed friend_request")
		return
	}
	if err := d.refresh(ctx); err != nil {
		d.log.Warn().Err(err).Msg("refresh after friend_request failed")
	}
	d.notifier.Publish(notify.Notification{
		Kind:  notify.KindFriendRequest,
		User:  payload.From,
		Text:  "Friend request from " + payload.From,
		Sound: true,
		Speak: true,
	})
}

func (d *Dispatcher) handleFriendAccepted(ctx context.Context, data json.RawMessage) {
	var payload wire.FriendAcceptedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.log.Debug().Err(err).Msg("dropping malformed friend_accepted")
		return
	}
	if err := d.refresh(ctx); err != nil {
		d.log.Warn().Err(err).Msg("refresh after friend_accepted failed")
	}
	d.notifier.Publish(notify.Notification{
		Kind:  notify.KindFriendAccepted,
		User:  payload.Username,
		Text:  payload.Username + " accepted your friend request",
		Sound: true,
		Speak: true,
	})
}

func (d *Dispatcher) handleMemberAdded(ctx context.Context, data json.RawMessage) {
	var payload wire.GroupMemberPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.log.Debug().Err(err).Msg("dropping malformed group_member_added")
		return
	}
	if payload.Username == d.self {
		// We were just added; the chat may be entirely new to us.
		if err := d.refresh(ctx); err != nil {
			d.log.Warn().Err(err).Msg("refresh after being added to group failed")
		}
	} else {
		d.dir.AddMember(payload.ChatID, payload.Username)
	}
	d.notifier.Publish(notify.Notification{
		Kind:   notify.KindGroupChange,
		ChatID: payload.ChatID,
		User:   payload.Username,
		Text:   payload.Username + " was added to " + payload.GroupName,
		Speak:  true,
	})
}

func (d *Dispatcher) handleMemberRemoved(data json.RawMessage) {
	var payload wire.GroupMemberPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.log.Debug().Err(err).Msg("dropping malformed group_member_removed")
		return
	}
	d.dir.RemoveMember(payload.ChatID, payload.Username)
	d.notifier.Publish(notify.Notification{
		Kind:   notify.KindGroupChange,
		ChatID: payload.ChatID,
		User:   payload.Username,
		Text:   payload.Username + " was removed from " + payload.GroupName,
		Speak:  true,
	})
}

func (d *Dispatcher) handleGroupRenamed(data json.RawMessage) {
	var payload wire.GroupRenamedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.log.Debug().Err(err).Msg("dropping malformed group_renamed")
		return
	}
	d.dir.Rename(payload.ChatID, payload.NewName)
	d.notifier.Publish(notify.Notification{
		Kind:   notify.KindGroupChange,
		ChatID: payload.ChatID,
		User:   payload.RenamedBy,
		Text:   payload.OldName + " was renamed to " + payload.NewName,
		Speak:  true,
	})
}

func (d *Dispatcher) handleAdminTransferred(data json.RawMessage) {
	var payload wire.AdminTransferredPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.log.Debug().Err(err).Msg("dropping malformed admin_transferred")
		return
	}
	// The accompanying System message carries the user-visible announcement.
	d.dir.SetAdmin(payload.ChatID, payload.NewAdmin)
}

func (d *Dispatcher) handleGroupDeleted(data json.RawMessage) {
	var payload wire.GroupDeletedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		d.log.Debug().Err(err).Msg("dropping malformed group_deleted")
		return
	}
	d.dir.Delete(payload.ChatID)
	d.notifier.Publish(notify.Notification{
		Kind:   notify.KindGroupChange,
		ChatID: payload.ChatID,
		User:   payload.DeletedBy,
		Text:   payload.GroupName + " was deleted",
		Speak:  true,
	})
}
