package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dragodark/peerchat/internal/store"
	"github.com/dragodark/peerchat/internal/wire"
)

// FriendRequest is the body for all friend mutation endpoints.
type FriendRequest struct {
	Username string `json:"username" binding:"required"`
}

// FriendInfo is one accepted friend with presence.
type FriendInfo struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// FriendsResponse is the full friends listing.
type FriendsResponse struct {
	Friends         []FriendInfo `json:"friends"`
	PendingOutgoing []string     `json:"pending_outgoing"`
	PendingIncoming []string     `json:"pending_incoming"`
}

// ListFriends returns accepted friends with presence plus pending requests.
// GET /api/friends
func (h *Handlers) ListFriends(c *gin.Context) {
	me := username(c)
	list, err := h.store.ListFriends(c.Request.Context(), me)
	if err != nil {
		h.log.Error().Err(err).Str("username", me).Msg("failed to list friends")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := FriendsResponse{
		Friends:         make([]FriendInfo, 0, len(list.Friends)),
		PendingOutgoing: list.PendingOutgoing,
		PendingIncoming: list.PendingIncoming,
	}
	for _, name := range list.Friends {
		status := "offline"
		if h.hub.IsOnline(name) {
			status = "online"
		}
		resp.Friends = append(resp.Friends, FriendInfo{Username: name, Status: status})
	}
	if resp.PendingOutgoing == nil {
		resp.PendingOutgoing = []string{}
	}
	if resp.PendingIncoming == nil {
		resp.PendingIncoming = []string{}
	}

	c.JSON(http.StatusOK, resp)
}

// AddFriend sends a friend request.
// POST /api/friends/add
func (h *Handlers) AddFriend(c *gin.Context) {
	me := username(c)
	var req FriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if req.Username == me {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "cannot befriend yourself"})
		return
	}

	err := h.store.CreateFriendRequest(c.Request.Context(), me, req.Username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
		return
	case errors.Is(err, store.ErrExists):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "request already exists"})
		return
	case err != nil:
		h.log.Error().Err(err).Msg("failed to create friend request")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if frame, err := wire.Event(wire.EventFriendRequest, wire.FriendRequestPayload{From: me}); err == nil {
		h.hub.SendTo(req.Username, frame)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// AcceptFriend accepts an incoming request.
// POST /api/friends/accept
func (h *Handlers) AcceptFriend(c *gin.Context) {
	me := username(c)
	var req FriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.store.AcceptFriendRequest(c.Request.Context(), req.Username, me)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no pending request"})
		return
	case err != nil:
		h.log.Error().Err(err).Msg("failed to accept friend request")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if frame, err := wire.Event(wire.EventFriendAccepted, wire.FriendAcceptedPayload{Username: me}); err == nil {
		h.hub.SendTo(req.Username, frame)
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// RejectFriend drops an incoming request.
// POST /api/friends/reject
func (h *Handlers) RejectFriend(c *gin.Context) {
	me := username(c)
	var req FriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.store.RejectFriendRequest(c.Request.Context(), req.Username, me)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no pending request"})
		return
	case err != nil:
		h.log.Error().Err(err).Msg("failed to reject friend request")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// DeleteFriend removes an accepted friendship.
// POST /api/friends/delete
func (h *Handlers) DeleteFriend(c *gin.Context) {
	me := username(c)
	var req FriendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	err := h.store.DeleteFriendship(c.Request.Context(), me, req.Username)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not friends"})
		return
	case err != nil:
		h.log.Error().Err(err).Msg("failed to delete friendship")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
