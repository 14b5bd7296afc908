package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"workchat-service/internal/chat"
	"workchat-service/internal/repositories"
)

// ChatHandler manages the room and message endpoints.
type ChatHandler struct {
	service *chat.Service
}

// NewChatHandler builds a ChatHandler.
func NewChatHandler(service *chat.Service) *ChatHandler {
	return &ChatHandler{service: service}
}

// ListRooms returns the caller's rooms with last message and unread count.
func (h *ChatHandler) ListRooms(c *gin.Context) {
	userID := c.GetInt("userID")

	rooms, err := h.service.ListRooms(c.Request.Context(), userID)
	if err != nil {
		status, msg := errorStatus(err, "failed to load rooms")
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// CreateTeamRoom finds or creates the team room and joins the caller.
func (h *ChatHandler) CreateTeamRoom(c *gin.Context) {
	userID := c.GetInt("userID")

	room, err := h.service.Access().GetOrCreateTeamRoom(c.Request.Context(), userID)
	if err != nil {
		status, msg := errorStatus(err, "could not create room")
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": room.ID})
}

// CreateDirectRoom finds or creates a direct room with the target user.
func (h *ChatHandler) CreateDirectRoom(c *gin.Context) {
	var req struct {
		TargetID int `json:"target_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	role := c.GetString("role")

	room, err := h.service.Access().GetOrCreateDirectRoom(c.Request.Context(), userID, role, req.TargetID)
	if err != nil {
		status, msg := errorStatus(err, "could not create room")
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"room_id": room.ID})
}

// GetMessages pages backward through room history by a before cursor.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	var before time.Time
	if raw := c.Query("before"); raw != "" {
		before, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid before cursor"})
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

	userID := c.GetInt("userID")
	role := c.GetString("role")

	msgs, err := h.service.ListMessages(c.Request.Context(), roomID, userID, role, before, limit)
	if err != nil {
		status, msg := errorStatus(err, "failed to load messages")
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message idempotently. A replayed client_msg_id returns
// the original message with 200 instead of 201.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	var req struct {
		Body        string `json:"body" binding:"required"`
		ClientMsgID string `json:"client_msg_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	role := c.GetString("role")

	result, err := h.service.Send(c.Request.Context(), roomID, userID, role, req.Body, req.ClientMsgID)
	if err != nil {
		status, msg := errorStatus(err, "failed to store message")
		c.JSON(status, gin.H{"error": msg})
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// MarkRead advances the caller's read cursor for the room.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	roomID, err := strconv.Atoi(c.Param("room_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}

	userID := c.GetInt("userID")
	role := c.GetString("role")

	if err := h.service.MarkRead(c.Request.Context(), roomID, userID, role); err != nil {
		status, msg := errorStatus(err, "failed to mark read")
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListDirectTargets returns the users the caller may start a direct room with.
func (h *ChatHandler) ListDirectTargets(c *gin.Context) {
	userID := c.GetInt("userID")
	role := c.GetString("role")

	targets, err := h.service.ListDirectTargets(c.Request.Context(), userID, role)
	if err != nil {
		status, msg := errorStatus(err, "failed to load targets")
		c.JSON(status, gin.H{"error": msg})
		return
	}
	c.JSON(http.StatusOK, gin.H{"targets": targets})
}

// errorStatus maps domain errors to HTTP statuses. Access and validation
// reasons pass through verbatim for client display; anything else collapses
// to a generic message.
func errorStatus(err error, fallback string) (int, string) {
	switch {
	case errors.Is(err, repositories.ErrRoomNotFound):
		return http.StatusNotFound, "room not found"
	case errors.Is(err, repositories.ErrUserNotFound):
		return http.StatusNotFound, "user not found"
	case errors.Is(err, chat.ErrNotMember),
		errors.Is(err, chat.ErrAccessDenied),
		errors.Is(err, chat.ErrOnlyManagers),
		errors.Is(err, chat.ErrTargetIneligible):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, chat.ErrSelfRoom),
		errors.Is(err, chat.ErrTargetInactive),
		errors.Is(err, chat.ErrEmptyBody):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, fallback
	}
}
