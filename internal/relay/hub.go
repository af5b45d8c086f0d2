// Package relay coordinates connected sessions: message fan-out, presence,
// typing and the liveness handshake. Messages pass through without being
// stored; each client keeps its own history.
package relay

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dragodark/peerchat/internal/store"
	"github.com/dragodark/peerchat/internal/wire"
)

// wireTimeLayout matches the timestamp format clients expect on the wire.
const wireTimeLayout = "2006-01-02 15:04:05"

type clientCommand struct {
	client *Client
	cmd    *Command
}

// notice is a REST-triggered fan-out request.
type notice struct {
	targets []string
	frame   wire.Frame
}

// Hub serializes all session bookkeeping in one goroutine. Handlers talk to
// it through channels only; the clients map is never touched from outside
// Run.
type Hub struct {
	store store.Store
	log   *zerolog.Logger

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	notices    chan notice

	clients map[string]*Client
	done    chan struct{}

	// online mirrors the clients map for read-only presence queries from
	// request handlers.
	onlineMu sync.RWMutex
	online   map[string]struct{}
}

// NewHub creates a hub backed by the given store.
func NewHub(st store.Store, logger *zerolog.Logger) *Hub {
	return &Hub{
		store:      st,
		log:        logger,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		commands:   make(chan clientCommand, 64),
		notices:    make(chan notice, 64),
		clients:    make(map[string]*Client),
		done:       make(chan struct{}),
		online:     make(map[string]struct{}),
	}
}

// IsOnline reports whether the user has a live session.
func (h *Hub) IsOnline(username string) bool {
	h.onlineMu.RLock()
	defer h.onlineMu.RUnlock()
	_, ok := h.online[username]
	return ok
}

func (h *Hub) setOnline(username string, online bool) {
	h.onlineMu.Lock()
	defer h.onlineMu.Unlock()
	if online {
		h.online[username] = struct{}{}
	} else {
		delete(h.online, username)
	}
}

// RegisterClient attaches an authenticated session. A second session for the
// same username replaces the first.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient detaches a session. Safe to call for an already-replaced
// client.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast queues a frame for every named user currently online.
func (h *Hub) Broadcast(targets []string, frame wire.Frame) {
	select {
	case h.notices <- notice{targets: targets, frame: frame}:
	case <-h.done:
	}
}

// SendTo queues a frame for one user.
func (h *Hub) SendTo(username string, frame wire.Frame) {
	h.Broadcast([]string{username}, frame)
}

// SystemMessage fans a relay-authored message out to a chat's participants.
// Group lifecycle changes announce themselves this way.
func (h *Hub) SystemMessage(ctx context.Context, chatID, text string) {
	chat, err := h.store.GetChat(ctx, chatID)
	if err != nil {
		h.log.Warn().Err(err).Str("chat_id", chatID).Msg("system message for unknown chat")
		return
	}
	frame, err := wire.Event(wire.EventNewMessage, wire.NewMessagePayload{
		ChatID: chatID,
		Message: wire.MessagePayload{
			ID:        uuid.NewString(),
			Sender:    wire.SystemSender,
			Message:   text,
			Timestamp: time.Now().UTC().Format(wireTimeLayout),
		},
	})
	if err != nil {
		h.log.Error().Err(err).Msg("encode system message")
		return
	}
	h.Broadcast(chat.Participants, frame)
}

// Run processes hub traffic until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, c := range h.clients {
				close(c.Events)
			}
			h.clients = map[string]*Client{}
			h.onlineMu.Lock()
			h.online = map[string]struct{}{}
			h.onlineMu.Unlock()
			return
		case c := <-h.register:
			h.addClient(ctx, c)
		case c := <-h.unregister:
			h.removeClient(ctx, c)
		case cc := <-h.commands:
			h.handleCommand(ctx, cc.client, cc.cmd)
		case n := <-h.notices:
			h.fanOut(n.targets, n.frame)
		}
	}
}

func (h *Hub) addClient(ctx context.Context, c *Client) {
	if old, ok := h.clients[c.Username]; ok {
		// Never close the old Events channel here: its read loop and
		// command forwarder are still running and a late heartbeat would
		// hit a closed channel. Signal the session to shut itself down
		// instead; deliver refuses stale clients from now on.
		close(old.done)
	}
	h.clients[c.Username] = c
	h.setOnline(c.Username, true)

	// Forward this session's commands into the single hub loop.
	go func() {
		for {
			select {
			case <-h.done:
				return
			case cmd, ok := <-c.Commands:
				if !ok {
					return
				}
				select {
				case h.commands <- clientCommand{client: c, cmd: cmd}:
				case <-h.done:
					return
				}
			}
		}
	}()

	h.log.Info().Str("user", c.Username).Msg("session online")
	h.broadcastPresence(ctx, c.Username, true)
}

func (h *Hub) removeClient(ctx context.Context, c *Client) {
	current, ok := h.clients[c.Username]
	if !ok || current != c {
		// Already replaced by a newer session.
		return
	}
	delete(h.clients, c.Username)
	h.setOnline(c.Username, false)
	close(c.Events)

	h.log.Info().Str("user", c.Username).Msg("session offline")
	h.broadcastPresence(ctx, c.Username, false)
}

// broadcastPresence tells the user's accepted friends about a status change.
func (h *Hub) broadcastPresence(ctx context.Context, username string, online bool) {
	list, err := h.store.ListFriends(ctx, username)
	if err != nil {
		h.log.Warn().Err(err).Str("user", username).Msg("presence fan-out failed")
		return
	}

	event := wire.EventUserOffline
	if online {
		event = wire.EventUserOnline
	}
	frame, err := wire.Event(event, wire.PresencePayload{Username: username})
	if err != nil {
		h.log.Error().Err(err).Msg("encode presence event")
		return
	}
	h.fanOut(list.Friends, frame)
}

func (h *Hub) handleCommand(ctx context.Context, c *Client, cmd *Command) {
	if h.clients[c.Username] != c {
		// A command from a session that was since replaced or removed.
		return
	}
	switch cmd.Kind {
	case CommandSendMessage:
		h.handleSendMessage(ctx, c, cmd)
	case CommandTyping:
		h.handleTyping(ctx, c, cmd)
	case CommandHeartbeat:
		frame, err := wire.Event(wire.EventHeartbeatAck, wire.HeartbeatAckPayload{Username: c.Username, Status: "ok"})
		if err != nil {
			h.log.Error().Err(err).Msg("encode heartbeat_ack")
			return
		}
		h.deliver(c, frame)
	}
}

func (h *Hub) handleSendMessage(ctx context.Context, c *Client, cmd *Command) {
	chat, err := h.store.GetChat(ctx, cmd.ChatID)
	if err != nil {
		h.sendError(c, "chat not found")
		return
	}
	if !contains(chat.Participants, c.Username) {
		h.sendError(c, "not a participant")
		return
	}

	msg := wire.MessagePayload{
		ID:        uuid.NewString(),
		Sender:    c.Username,
		Message:   cmd.Text,
		Timestamp: time.Now().UTC().Format(wireTimeLayout),
		IsAction:  cmd.IsAction,
	}
	frame, err := wire.Event(wire.EventNewMessage, wire.NewMessagePayload{ChatID: cmd.ChatID, Message: msg})
	if err != nil {
		h.log.Error().Err(err).Msg("encode new_message")
		return
	}
	// Every participant gets the message, the sender included; the echo is
	// what lands it in the sender's own history.
	h.fanOut(chat.Participants, frame)

	ack, err := wire.Event(wire.EventMessageSent, wire.MessageSentPayload{MessageID: msg.ID, Status: "delivered"})
	if err != nil {
		h.log.Error().Err(err).Msg("encode message_sent")
		return
	}
	h.deliver(c, ack)
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, cmd *Command) {
	chat, err := h.store.GetChat(ctx, cmd.ChatID)
	if err != nil || !contains(chat.Participants, c.Username) {
		return
	}
	frame, err := wire.Event(wire.EventUserTyping, wire.TypingPayload{ChatID: cmd.ChatID, Username: c.Username})
	if err != nil {
		h.log.Error().Err(err).Msg("encode user_typing")
		return
	}
	for _, member := range chat.Participants {
		if member == c.Username {
			continue
		}
		if peer, ok := h.clients[member]; ok {
			h.deliver(peer, frame)
		}
	}
}

func (h *Hub) sendError(c *Client, message string) {
	frame, err := wire.Event(wire.EventError, wire.ErrorPayload{Message: message})
	if err != nil {
		h.log.Error().Err(err).Msg("encode error event")
		return
	}
	h.deliver(c, frame)
}

func (h *Hub) fanOut(targets []string, frame wire.Frame) {
	for _, name := range targets {
		if c, ok := h.clients[name]; ok {
			h.deliver(c, frame)
		}
	}
}

// deliver drops the frame if the session's event buffer is full; a stalled
// reader must not block the hub. Stale sessions get nothing: a removed
// session's Events channel is already closed.
func (h *Hub) deliver(c *Client, frame wire.Frame) {
	if h.clients[c.Username] != c {
		return
	}
	select {
	case c.Events <- frame:
	default:
		h.log.Warn().Str("user", c.Username).Str("event", frame.Event).Msg("dropping event for slow session")
	}
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
