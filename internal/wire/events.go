package wire

// Event names pushed by the relay.
const (
	EventAuthenticated      = "authenticated"
	EventNewMessage         = "new_message"
	EventMessageSent        = "message_sent"
	EventUserOnline         = "user_online"
	EventUserOffline        = "user_offline"
	EventUserTyping         = "user_typing"
	EventFriendRequest      = "friend_request"
	EventFriendAccepted     = "friend_accepted"
	EventGroupMemberAdded   = "group_member_added"
	EventGroupMemberRemoved = "group_member_removed"
	EventGroupRenamed       = "group_renamed"
	EventAdminTransferred   = "admin_transferred"
	EventGroupDeleted       = "group_deleted"
	EventHeartbeatAck       = "heartbeat_ack"
	EventError              = "error"
)

// Event names sent by the client.
const (
	EventAuthenticate = "authenticate"
	EventHeartbeat    = "heartbeat"
	EventSendMessage  = "send_message"
	EventTyping       = "typing"
)

// SystemSender is the reserved sender name for relay-injected messages.
const SystemSender = "System"

// AuthenticatePayload carries the token for the post-connect handshake.
type AuthenticatePayload struct {
	Token string `json:"token"`
}

// AuthenticatedPayload confirms a successful handshake.
type AuthenticatedPayload struct {
	Username string `json:"username"`
}

// MessagePayload is one chat message as carried on the wire. Timestamp is the
// relay's clock and is informational only; receivers stamp their own.
type MessagePayload struct {
	ID        string `json:"id,omitempty"`
	Sender    string `json:"sender"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp,omitempty"`
	IsAction  bool   `json:"is_action"`
}

// NewMessagePayload delivers a message for one chat.
type NewMessagePayload struct {
	ChatID  string         `json:"chat_id"`
	Message MessagePayload `json:"message"`
}

// SendMessagePayload is the client's outbound message intent.
type SendMessagePayload struct {
	ChatID   string `json:"chat_id"`
	Message  string `json:"message"`
	IsAction bool   `json:"is_action"`
}

// MessageSentPayload acknowledges a send_message.
type MessageSentPayload struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	Username string `json:"username"`
}

// FriendRequestPayload notifies about an incoming friend request.
type FriendRequestPayload struct {
	From      string `json:"from"`
	Timestamp string `json:"timestamp,omitempty"`
}

// FriendAcceptedPayload notifies that a request was accepted.
type FriendAcceptedPayload struct {
	Username string `json:"username"`
}

// TypingPayload marks a user typing in a chat; client-bound carries the user.
type TypingPayload struct {
	ChatID   string `json:"chat_id"`
	Username string `json:"username,omitempty"`
}

// GroupMemberPayload covers member add/remove events.
type GroupMemberPayload struct {
	ChatID    string `json:"chat_id"`
	Username  string `json:"username"`
	AddedBy   string `json:"added_by,omitempty"`
	RemovedBy string `json:"removed_by,omitempty"`
	GroupName string `json:"group_name"`
}

// GroupRenamedPayload announces a rename.
type GroupRenamedPayload struct {
	ChatID    string `json:"chat_id"`
	OldName   string `json:"old_name"`
	NewName   string `json:"new_name"`
	RenamedBy string `json:"renamed_by"`
}

// AdminTransferredPayload announces an admin change.
type AdminTransferredPayload struct {
	ChatID   string `json:"chat_id"`
	OldAdmin string `json:"old_admin"`
	NewAdmin string `json:"new_admin"`
}

// GroupDeletedPayload announces a group deletion.
type GroupDeletedPayload struct {
	ChatID    string `json:"chat_id"`
	GroupName string `json:"group_name"`
	DeletedBy string `json:"deleted_by"`
}

// HeartbeatAckPayload answers a client heartbeat.
type HeartbeatAckPayload struct {
	Username string `json:"username,omitempty"`
	Status   string `json:"status,omitempty"`
}

// ErrorPayload is a relay-side protocol error.
type ErrorPayload struct {
	Message string `json:"message"`
}
