package http

import (
	"context"
	"net/http"
	"strings"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/services"
	"meetroom/pkg/errors"
	"meetroom/pkg/validation"

	"github.com/gin-gonic/gin"
)

// RoomHandler is the control API the UI shell drives a room with. Every
// route acts on the caller's own room for the meeting in the path.
type RoomHandler struct {
	rooms       *services.RoomService
	authService services.AuthService
}

func NewRoomHandler(rooms *services.RoomService, authService services.AuthService) *RoomHandler {
	return &RoomHandler{
		rooms:       rooms,
		authService: authService,
	}
}

func (h *RoomHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/rooms", h.OpenRoom)

	room := api.Group("/rooms/:id")
	{
		room.GET("", h.GetSnapshot)
		room.DELETE("", h.CloseRoom)
		room.POST("/join", h.Join)
		room.POST("/cancel", h.CancelWaiting)
		room.POST("/leave", h.Leave)
		room.GET("/invite", h.Invite)

		room.POST("/mute", h.ToggleMute)
		room.POST("/camera", h.ToggleCamera)
		room.POST("/hand", h.ToggleHand)
		room.POST("/screen-share", h.StartScreenShare)
		room.DELETE("/screen-share", h.StopScreenShare)

		room.POST("/recording", h.StartRecording)
		room.DELETE("/recording", h.StopRecording)
		room.POST("/recording/retry", h.RetryRecordingUpload)

		room.POST("/waiting/:participant/admit", h.Admit)
		room.POST("/waiting/:participant/deny", h.Deny)

		room.POST("/chat", h.SendChat)
	}
}

type OpenRoomRequest struct {
	Link string `json:"link" binding:"required,max=64"`
}

func (h *RoomHandler) OpenRoom(c *gin.Context) {
	identity, err := h.authService.Current(c.Request.Context())
	if err != nil {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	var req OpenRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	req.Link = strings.TrimSpace(req.Link)
	if err := validation.ValidateMeetingLink(req.Link); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	room, err := h.rooms.Open(c.Request.Context(), req.Link, identity)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room.Snapshot()})
}

// room resolves the caller's room for the :id path parameter. On failure
// the error is attached and nil is returned.
func (h *RoomHandler) room(c *gin.Context) *services.Room {
	identity, err := h.authService.Current(c.Request.Context())
	if err != nil {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return nil
	}
	meetingID := c.Param("id")
	if err := validation.ValidateMeetingID(meetingID); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return nil
	}

	room, err := h.rooms.Get(domain.MeetingID(meetingID), identity.UserID)
	if err != nil {
		c.Error(err)
		return nil
	}
	return room
}

// detached keeps request values such as the trace span but outlives the
// request, for actions whose side effects must not be cut short when the
// client goes away.
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (h *RoomHandler) GetSnapshot(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room.Snapshot()})
}

func (h *RoomHandler) CloseRoom(c *gin.Context) {
	identity, err := h.authService.Current(c.Request.Context())
	if err != nil {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}
	if err := h.rooms.Close(detached(c), domain.MeetingID(c.Param("id")), identity.UserID); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) Join(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	if err := room.Join(detached(c)); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room.Snapshot()})
}

func (h *RoomHandler) CancelWaiting(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	if err := room.CancelWaiting(); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room.Snapshot()})
}

// Leave keeps the room registered so a failed recording upload can still
// be retried; DELETE /rooms/:id forgets it.
func (h *RoomHandler) Leave(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	if err := room.Leave(detached(c)); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room.Snapshot()})
}

func (h *RoomHandler) Invite(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	c.JSON(http.StatusOK, gin.H{"link": room.InviteLink()})
}

func (h *RoomHandler) toggle(c *gin.Context, field string, fn func(context.Context) (bool, error)) {
	value, err := fn(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{field: value})
}

func (h *RoomHandler) ToggleMute(c *gin.Context) {
	if room := h.room(c); room != nil {
		h.toggle(c, "muted", room.ToggleMute)
	}
}

func (h *RoomHandler) ToggleCamera(c *gin.Context) {
	if room := h.room(c); room != nil {
		h.toggle(c, "video_off", room.ToggleCamera)
	}
}

func (h *RoomHandler) ToggleHand(c *gin.Context) {
	if room := h.room(c); room != nil {
		h.toggle(c, "hand_raised", room.ToggleHand)
	}
}

func (h *RoomHandler) StartScreenShare(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	if err := room.StartScreenShare(detached(c)); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sharing": true})
}

func (h *RoomHandler) StopScreenShare(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	if err := room.StopScreenShare(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sharing": false})
}

func (h *RoomHandler) StartRecording(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	if err := room.StartRecording(detached(c)); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recording": room.Snapshot().Recording})
}

func (h *RoomHandler) StopRecording(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	url, err := room.StopRecording(detached(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recording_url": url})
}

func (h *RoomHandler) RetryRecordingUpload(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	url, err := room.RetryRecordingUpload(detached(c))
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recording_url": url})
}

func (h *RoomHandler) waitingParticipant(c *gin.Context) (domain.ParticipantID, bool) {
	id := c.Param("participant")
	if err := validation.ValidateParticipantID(id); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return "", false
	}
	return domain.ParticipantID(id), true
}

func (h *RoomHandler) Admit(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	id, ok := h.waitingParticipant(c)
	if !ok {
		return
	}
	if err := room.Admit(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) Deny(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	id, ok := h.waitingParticipant(c)
	if !ok {
		return
	}
	if err := room.Deny(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}

type SendChatRequest struct {
	Body string `json:"body" binding:"required"`
}

func (h *RoomHandler) SendChat(c *gin.Context) {
	room := h.room(c)
	if room == nil {
		return
	}
	var req SendChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateChatBody(req.Body); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	msg, err := room.SendChat(c.Request.Context(), req.Body)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}
