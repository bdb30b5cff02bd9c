package notification

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"notigate/internal/common"
	"notigate/internal/middleware"
)

// Handler handles HTTP requests for the notification domain.
type Handler struct {
	service *Service
}

// NewHandler creates a new notification handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Send handles POST /api/v1/notifications
// Accepts a notification, queues it, and returns 202. Replays of a known
// request_id return the original response body verbatim.
func (h *Handler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	identity := middleware.UserID(c)
	correlationID := middleware.CorrelationID(c)

	raw, _, err := h.service.Send(c.Request.Context(), identity, correlationID, &req)
	if err != nil {
		slog.Error("accepting notification failed",
			"error", err,
			"notification_type", req.Type,
			"user_id", req.UserID,
		)
		common.HandleError(c, err)
		return
	}

	c.Data(http.StatusAccepted, "application/json; charset=utf-8", raw)
}

// Status handles GET /api/v1/notifications/:id/status
func (h *Handler) Status(c *gin.Context) {
	rec, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, rec, "Notification status retrieved")
}

// UpdateStatus handles POST /api/v1/:preference/status
// Called by the downstream email/push services, not end users.
func (h *Handler) UpdateStatus(c *gin.Context) {
	var req StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rec, err := h.service.UpdateStatus(c.Request.Context(), c.Param("preference"), &req)
	if err != nil {
		common.HandleError(c, err)
		return
	}

	common.Success(c, http.StatusOK, gin.H{
		"notification_id": rec.NotificationID,
		"status":          rec.Status,
		"updated":         true,
	}, "Notification status updated successfully")
}

// List handles GET /api/v1/notifications
func (h *Handler) List(c *gin.Context) {
	var query struct {
		Page  int `form:"page,default=1"`
		Limit int `form:"limit,default=10"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		common.Error(c, http.StatusBadRequest, "invalid query parameters: "+err.Error())
		return
	}

	records, meta, err := h.service.List(c.Request.Context(), middleware.UserID(c), query.Page, query.Limit)
	if err != nil {
		slog.Error("listing notifications failed", "user_id", middleware.UserID(c), "error", err)
		common.HandleError(c, err)
		return
	}

	common.SuccessWithMeta(c, http.StatusOK, records, "Notifications retrieved", meta)
}
