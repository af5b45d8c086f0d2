package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/dragodark/peerchat/internal/store"
	"github.com/dragodark/peerchat/internal/wire"
)

// ChatInfo is one directory entry as served to clients.
type ChatInfo struct {
	ChatID       string   `json:"chat_id"`
	Type         string   `json:"type"`
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
	Admin        string   `json:"admin,omitempty"`
	CreatedBy    string   `json:"created_by,omitempty"`
}

// ChatsResponse is the directory listing.
type ChatsResponse struct {
	Chats []ChatInfo `json:"chats"`
}

// CreateChatRequest is the body for chat creation.
type CreateChatRequest struct {
	Participants []string `json:"participants" binding:"required"`
	Type         string   `json:"type" binding:"required"`
	Name         string   `json:"name"`
}

// CreateChatResponse reports the created (or pre-existing) chat id.
type CreateChatResponse struct {
	ChatID   string `json:"chat_id"`
	Existing bool   `json:"existing,omitempty"`
}

// GroupMemberRequest is the body for member add/remove.
type GroupMemberRequest struct {
	ChatID   string `json:"chat_id" binding:"required"`
	Username string `json:"username" binding:"required"`
}

// GroupRenameRequest is the body for a rename.
type GroupRenameRequest struct {
	ChatID  string `json:"chat_id" binding:"required"`
	NewName string `json:"new_name" binding:"required"`
}

// TransferAdminRequest is the body for an admin transfer.
type TransferAdminRequest struct {
	ChatID   string `json:"chat_id" binding:"required"`
	NewAdmin string `json:"new_admin" binding:"required"`
}

func chatInfo(chat *store.Chat) ChatInfo {
	return ChatInfo{
		ChatID:       chat.ID,
		Type:         string(chat.Type),
		Name:         chat.Name,
		Participants: chat.Participants,
		Admin:        chat.Admin,
		CreatedBy:    chat.CreatedBy,
	}
}

// ListChats returns every chat the caller participates in.
// GET /api/chats
func (h *Handlers) ListChats(c *gin.Context) {
	me := username(c)
	chats, err := h.store.ListChats(c.Request.Context(), me)
	if err != nil {
		h.log.Error().Err(err).Str("username", me).Msg("failed to list chats")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := ChatsResponse{Chats: make([]ChatInfo, 0, len(chats))}
	for _, chat := range chats {
		resp.Chats = append(resp.Chats, chatInfo(chat))
	}
	c.JSON(http.StatusOK, resp)
}

// CreateChat creates a private or group chat. Private chats are deduplicated:
// asking for an existing pair returns the existing chat.
// POST /api/chats/create
func (h *Handlers) CreateChat(c *gin.Context) {
	me := username(c)
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	participants := req.Participants
	if !contains(participants, me) {
		participants = append(participants, me)
	}

	ctx := c.Request.Context()
	switch store.ChatType(req.Type) {
	case store.ChatTypePrivate:
		if len(participants) != 2 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "private chat needs exactly two participants"})
			return
		}
		peer := participants[0]
		if peer == me {
			peer = participants[1]
		}
		ok, err := h.store.AreFriends(ctx, me, peer)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.log.Error().Err(err).Msg("failed to check friendship")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
			return
		}
		if !ok {
			c.JSON(http.StatusForbidden, ErrorResponse{Error: "can only chat with friends"})
			return
		}
		if existing, err := h.store.FindPrivateChat(ctx, me, peer); err == nil {
			c.JSON(http.StatusOK, CreateChatResponse{ChatID: existing.ID, Existing: true})
			return
		}
	case store.ChatTypeGroup:
		if req.Name == "" {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "group chat needs a name"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown chat type"})
		return
	}

	chat := &store.Chat{
		ID:           uuid.NewString(),
		Type:         store.ChatType(req.Type),
		Name:         req.Name,
		CreatedBy:    me,
		Participants: participants,
	}
	if chat.Type == store.ChatTypeGroup {
		chat.Admin = me
	}

	if err := h.store.CreateChat(ctx, chat); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "participant not found"})
			return
		}
		h.log.Error().Err(err).Msg("failed to create chat")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if chat.Type == store.ChatTypeGroup {
		// Members learn about the new group through the announcement; a
		// message for an unknown chat makes clients re-fetch the directory.
		h.hub.SystemMessage(ctx, chat.ID, fmt.Sprintf("%s created the group %s", me, chat.Name))
	}

	h.log.Info().Str("chat_id", chat.ID).Str("type", req.Type).Msg("chat created")
	c.JSON(http.StatusCreated, CreateChatResponse{ChatID: chat.ID})
}

// DeleteChat removes a private chat. Groups go through their own endpoint so
// only the admin can take them down.
// DELETE /api/chats/delete/:id
func (h *Handlers) DeleteChat(c *gin.Context) {
	me := username(c)
	chatID := c.Param("id")
	ctx := c.Request.Context()

	chat, err := h.store.GetChat(ctx, chatID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "chat not found"})
		return
	}
	if chat.Type != store.ChatTypePrivate {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "use the group endpoint"})
		return
	}
	if !contains(chat.Participants, me) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "not a participant"})
		return
	}

	if err := h.store.DeleteChat(ctx, chatID); err != nil {
		h.log.Error().Err(err).Msg("failed to delete chat")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// adminChat loads the chat and verifies the caller is its group admin.
func (h *Handlers) adminChat(c *gin.Context, chatID string) (*store.Chat, bool) {
	chat, err := h.store.GetChat(c.Request.Context(), chatID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "chat not found"})
		return nil, false
	}
	if chat.Type != store.ChatTypeGroup {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "not a group chat"})
		return nil, false
	}
	if chat.Admin != username(c) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "admin only"})
		return nil, false
	}
	return chat, true
}

// AddGroupMember adds a friend of the admin to a group.
// POST /api/chats/group/add-member
func (h *Handlers) AddGroupMember(c *gin.Context) {
	me := username(c)
	var req GroupMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	chat, ok := h.adminChat(c, req.ChatID)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	friends, err := h.store.AreFriends(ctx, me, req.Username)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.log.Error().Err(err).Msg("failed to check friendship")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if !friends {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "can only add friends"})
		return
	}

	if err := h.store.AddParticipant(ctx, req.ChatID, req.Username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Msg("failed to add participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if frame, err := wire.Event(wire.EventGroupMemberAdded, wire.GroupMemberPayload{
		ChatID:    req.ChatID,
		Username:  req.Username,
		AddedBy:   me,
		GroupName: chat.Name,
	}); err == nil {
		h.hub.Broadcast(append(chat.Participants, req.Username), frame)
	}
	h.hub.SystemMessage(ctx, req.ChatID, fmt.Sprintf("%s added %s to the group", me, req.Username))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RemoveGroupMember removes a member from a group.
// POST /api/chats/group/remove-member
func (h *Handlers) RemoveGroupMember(c *gin.Context) {
	me := username(c)
	var req GroupMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	chat, ok := h.adminChat(c, req.ChatID)
	if !ok {
		return
	}
	if req.Username == me {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "admin cannot remove themselves"})
		return
	}
	ctx := c.Request.Context()

	if err := h.store.RemoveParticipant(ctx, req.ChatID, req.Username); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "not a member"})
			return
		}
		h.log.Error().Err(err).Msg("failed to remove participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if frame, err := wire.Event(wire.EventGroupMemberRemoved, wire.GroupMemberPayload{
		ChatID:    req.ChatID,
		Username:  req.Username,
		RemovedBy: me,
		GroupName: chat.Name,
	}); err == nil {
		// The removed member hears about it too.
		h.hub.Broadcast(chat.Participants, frame)
	}
	h.hub.SystemMessage(ctx, req.ChatID, fmt.Sprintf("%s removed %s from the group", me, req.Username))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RenameGroup renames a group.
// POST /api/chats/group/rename
func (h *Handlers) RenameGroup(c *gin.Context) {
	me := username(c)
	var req GroupRenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	chat, ok := h.adminChat(c, req.ChatID)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if err := h.store.RenameChat(ctx, req.ChatID, req.NewName); err != nil {
		h.log.Error().Err(err).Msg("failed to rename chat")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if frame, err := wire.Event(wire.EventGroupRenamed, wire.GroupRenamedPayload{
		ChatID:    req.ChatID,
		OldName:   chat.Name,
		NewName:   req.NewName,
		RenamedBy: me,
	}); err == nil {
		h.hub.Broadcast(chat.Participants, frame)
	}
	h.hub.SystemMessage(ctx, req.ChatID, fmt.Sprintf("%s renamed the group to %s", me, req.NewName))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// TransferAdmin hands admin rights to another member.
// POST /api/chats/group/transfer-admin
func (h *Handlers) TransferAdmin(c *gin.Context) {
	me := username(c)
	var req TransferAdminRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	chat, ok := h.adminChat(c, req.ChatID)
	if !ok {
		return
	}
	if !contains(chat.Participants, req.NewAdmin) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "new admin must be a member"})
		return
	}
	ctx := c.Request.Context()

	if err := h.store.SetAdmin(ctx, req.ChatID, req.NewAdmin); err != nil {
		h.log.Error().Err(err).Msg("failed to transfer admin")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if frame, err := wire.Event(wire.EventAdminTransferred, wire.AdminTransferredPayload{
		ChatID:   req.ChatID,
		OldAdmin: me,
		NewAdmin: req.NewAdmin,
	}); err == nil {
		h.hub.Broadcast(chat.Participants, frame)
	}
	h.hub.SystemMessage(ctx, req.ChatID, fmt.Sprintf("%s transferred admin rights to %s", me, req.NewAdmin))
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DeleteGroup deletes a group chat.
// DELETE /api/chats/group/delete/:id
func (h *Handlers) DeleteGroup(c *gin.Context) {
	me := username(c)
	chat, ok := h.adminChat(c, c.Param("id"))
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if frame, err := wire.Event(wire.EventGroupDeleted, wire.GroupDeletedPayload{
		ChatID:    chat.ID,
		GroupName: chat.Name,
		DeletedBy: me,
	}); err == nil {
		h.hub.Broadcast(chat.Participants, frame)
	}

	if err := h.store.DeleteChat(ctx, chat.ID); err != nil {
		h.log.Error().Err(err).Msg("failed to delete group")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
