package http

import (
	"net/http"
	"strings"
	"time"

	"meetroom/internal/core/domain"
	"meetroom/internal/core/ports"
	"meetroom/internal/core/services"
	"meetroom/pkg/errors"
	"meetroom/pkg/utils"
	"meetroom/pkg/validation"

	"github.com/gin-gonic/gin"
)

// MeetingHandler schedules meetings. The caller becomes the host.
type MeetingHandler struct {
	meetings    ports.MeetingRepository
	authService services.AuthService
}

func NewMeetingHandler(meetings ports.MeetingRepository, authService services.AuthService) *MeetingHandler {
	return &MeetingHandler{
		meetings:    meetings,
		authService: authService,
	}
}

func (h *MeetingHandler) SetupRoutes(api *gin.RouterGroup) {
	api.POST("/meetings", h.CreateMeeting)
	api.GET("/meetings/:link", h.GetMeeting)
}

type CreateMeetingRequest struct {
	Title              string    `json:"title" binding:"required,max=200"`
	ScheduledAt        time.Time `json:"scheduled_at"`
	DurationMinutes    int       `json:"duration_minutes" binding:"min=0,max=1440"`
	WaitingRoomEnabled bool      `json:"waiting_room_enabled"`
}

func (h *MeetingHandler) CreateMeeting(c *gin.Context) {
	identity, err := h.authService.Current(c.Request.Context())
	if err != nil {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		return
	}

	var req CreateMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}
	req.Title = utils.SanitizeString(req.Title)
	if err := validation.ValidateNonEmptyString(req.Title, "title"); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}
	if req.ScheduledAt.IsZero() {
		req.ScheduledAt = time.Now().UTC()
	}

	meeting := &domain.Meeting{
		ID:                 domain.MeetingID(utils.GenerateMeetingID()),
		Link:               utils.GenerateMeetingLink(),
		Title:              req.Title,
		ScheduledAt:        req.ScheduledAt,
		Duration:           time.Duration(req.DurationMinutes) * time.Minute,
		HostID:             identity.UserID,
		WaitingRoomEnabled: req.WaitingRoomEnabled,
	}
	if err := h.meetings.Create(c.Request.Context(), meeting); err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"meeting": meeting})
}

func (h *MeetingHandler) GetMeeting(c *gin.Context) {
	link := strings.TrimSpace(c.Param("link"))
	if err := validation.ValidateMeetingLink(link); err != nil {
		c.Error(errors.NewInvalidInputError(err.Error()))
		return
	}

	meeting, err := h.meetings.GetByLink(c.Request.Context(), link)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meeting": meeting})
}
