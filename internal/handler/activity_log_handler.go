package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
	"github.com/noah-isme/seb-admin-api/pkg/response"
)

type activityLogService interface {
	List(ctx context.Context, filter models.UserActivityLogFilter) ([]models.UserActivityLog, error)
}

// ActivityLogHandler exposes the user activity audit trail.
type ActivityLogHandler struct {
	service activityLogService
}

// NewActivityLogHandler builds the handler.
func NewActivityLogHandler(service activityLogService) *ActivityLogHandler {
	return &ActivityLogHandler{service: service}
}

type activityLogQuery struct {
	UserID     string `form:"user_id"`
	EntityType string `form:"entity_type"`
	EntityID   string `form:"entity_id"`
	Limit      int    `form:"limit"`
}

// List godoc
// @Summary List user activity logs
// @Tags Observability
// @Produce json
// @Param user_id query string false "Acting user"
// @Param entity_type query string false "Entity type"
// @Param entity_id query string false "Entity ID"
// @Param limit query int false "Max entries, default 100"
// @Success 200 {object} response.Envelope
// @Router /activity-logs [get]
func (h *ActivityLogHandler) List(c *gin.Context) {
	var query activityLogQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	entityType := models.EntityType(query.EntityType)
	if entityType != "" && !entityType.Valid() {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "unknown entity type"))
		return
	}
	entries, err := h.service.List(c.Request.Context(), models.UserActivityLogFilter{
		UserID:     query.UserID,
		EntityType: entityType,
		EntityID:   query.EntityID,
		Limit:      query.Limit,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}
