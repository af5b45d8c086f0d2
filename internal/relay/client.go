package relay

import "github.com/dragodark/peerchat/internal/wire"

// Client is one authenticated websocket session as seen by the hub. The
// transport layer feeds Commands and drains Events; the transport closes
// Commands when its read side finishes, the hub closes Events when it drops
// the session. A session displaced by a newer login for the same user is told
// to shut down through its done channel instead.
type Client struct {
	Username string
	Commands chan *Command
	Events   chan wire.Frame

	done chan struct{}
}

// NewClient constructs a client with initialized channels.
func NewClient(username string) *Client {
	return &Client{
		Username: username,
		Commands: make(chan *Command, 8),
		Events:   make(chan wire.Frame, 16),
		done:     make(chan struct{}),
	}
}

// Done is closed when the hub displaces this session with a newer one for the
// same user.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSendMessage delivers a chat message to a chat's participants.
	CommandSendMessage CommandKind = iota
	// CommandTyping tells a chat's other participants the client is typing.
	CommandTyping
	// CommandHeartbeat asks for a liveness acknowledgement.
	CommandHeartbeat
)

// Command represents an action requested by a client.
type Command struct {
	Kind     CommandKind
	ChatID   string
	Text     string
	IsAction bool
}
