package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/seb-admin-api/internal/dto"
	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
	"github.com/noah-isme/seb-admin-api/pkg/response"
)

type bulkActionService interface {
	CollectDependencies(ctx context.Context, bulk *models.BulkAction) ([]models.EntityDependency, error)
	DoBulkAction(ctx context.Context, bulk *models.BulkAction) (*models.EntityProcessingReport, error)
}

// BulkActionHandler exposes synchronous bulk action endpoints.
type BulkActionHandler struct {
	service  bulkActionService
	validate *validator.Validate
}

// NewBulkActionHandler builds the handler.
func NewBulkActionHandler(service bulkActionService, validate *validator.Validate) *BulkActionHandler {
	if validate == nil {
		validate = dto.NewValidator()
	}
	return &BulkActionHandler{service: service, validate: validate}
}

// Dependencies godoc
// @Summary Preview the dependents a bulk action would touch
// @Tags BulkActions
// @Accept json
// @Produce json
// @Param payload body dto.BulkActionRequest true "Bulk action payload"
// @Success 200 {object} response.Envelope
// @Router /bulk-actions/dependencies [post]
func (h *BulkActionHandler) Dependencies(c *gin.Context) {
	bulk, ok := h.bind(c)
	if !ok {
		return
	}
	deps, err := h.service.CollectDependencies(c.Request.Context(), bulk)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewDependencyResponses(deps), nil)
}

// Execute godoc
// @Summary Execute a bulk action
// @Description Applies the action to all dependents, then the sources, and returns the processing report.
// @Tags BulkActions
// @Accept json
// @Produce json
// @Param payload body dto.BulkActionRequest true "Bulk action payload"
// @Success 200 {object} response.Envelope
// @Router /bulk-actions [post]
func (h *BulkActionHandler) Execute(c *gin.Context) {
	bulk, ok := h.bind(c)
	if !ok {
		return
	}
	report, err := h.service.DoBulkAction(c.Request.Context(), bulk)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

func (h *BulkActionHandler) bind(c *gin.Context) (*models.BulkAction, bool) {
	var req dto.BulkActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk action payload"))
		return nil, false
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid bulk action payload"))
		return nil, false
	}
	bulk, err := req.ToBulkAction()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, err.Error()))
		return nil, false
	}
	return bulk, true
}
