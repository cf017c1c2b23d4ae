package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/seb-admin-api/internal/dto"
	"github.com/noah-isme/seb-admin-api/internal/models"
	"github.com/noah-isme/seb-admin-api/internal/service"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
	"github.com/noah-isme/seb-admin-api/pkg/response"
)

type batchActionService interface {
	RegisterNewBatchAction(ctx context.Context, req service.NewBatchActionRequest) (*models.BatchAction, error)
	GetRunningAction(ctx context.Context, id string) (*models.BatchAction, error)
	GetRunningActions(ctx context.Context, institutionID string, entityType models.EntityType) ([]models.BatchAction, error)
	GetFinishedActions(ctx context.Context, institutionID string, entityType models.EntityType) ([]models.BatchAction, error)
	DeleteFinishedAction(ctx context.Context, id string) error
}

// BatchActionHandler exposes batch action endpoints.
type BatchActionHandler struct {
	service  batchActionService
	validate *validator.Validate
}

// NewBatchActionHandler builds the handler.
func NewBatchActionHandler(service batchActionService, validate *validator.Validate) *BatchActionHandler {
	if validate == nil {
		validate = dto.NewValidator()
	}
	return &BatchActionHandler{service: service, validate: validate}
}

// Create godoc
// @Summary Submit a batch action
// @Description Stores the job and returns immediately, processing happens in the background.
// @Tags BatchActions
// @Accept json
// @Produce json
// @Param payload body dto.CreateBatchActionRequest true "Batch action payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /batch-actions [post]
func (h *BatchActionHandler) Create(c *gin.Context) {
	var req dto.CreateBatchActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch action payload"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid batch action payload"))
		return
	}

	action, err := h.service.RegisterNewBatchAction(c.Request.Context(), service.NewBatchActionRequest{
		InstitutionID: req.InstitutionID,
		ActionType:    models.BatchActionType(req.ActionType),
		Attributes:    models.ActionAttributes(req.Attributes),
		SourceIDs:     req.SourceIDs,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.NewBatchActionResponse(action))
}

// Get godoc
// @Summary Get batch action progress
// @Tags BatchActions
// @Produce json
// @Param id path string true "Batch action ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /batch-actions/{id} [get]
func (h *BatchActionHandler) Get(c *gin.Context) {
	action, err := h.service.GetRunningAction(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewBatchActionResponse(action), nil)
}

// Delete godoc
// @Summary Delete a finished batch action
// @Tags BatchActions
// @Param id path string true "Batch action ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Failure 412 {object} response.Envelope
// @Router /batch-actions/{id} [delete]
func (h *BatchActionHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteFinishedAction(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// List godoc
// @Summary List batch actions of an institution
// @Tags BatchActions
// @Produce json
// @Param state query string false "running or finished"
// @Param entity_type query string false "Target entity type"
// @Param institution_id query string false "Institution, defaults to the caller's"
// @Success 200 {object} response.Envelope
// @Router /batch-actions [get]
func (h *BatchActionHandler) List(c *gin.Context) {
	var query dto.ListBatchActionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	if err := h.validate.Struct(query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	institutionID := query.InstitutionID
	if institutionID == "" {
		if p, ok := principalFromContext(c); ok {
			institutionID = p.InstitutionID
		}
	}
	ctx := c.Request.Context()
	entityType := models.EntityType(query.EntityType)

	var actions []models.BatchAction
	if query.State != "finished" {
		running, err := h.service.GetRunningActions(ctx, institutionID, entityType)
		if err != nil {
			response.Error(c, err)
			return
		}
		actions = append(actions, running...)
	}
	if query.State != "running" {
		finished, err := h.service.GetFinishedActions(ctx, institutionID, entityType)
		if err != nil {
			response.Error(c, err)
			return
		}
		actions = append(actions, finished...)
	}
	response.JSON(c, http.StatusOK, dto.NewBatchActionResponses(actions), nil, map[string]interface{}{
		"count": len(actions),
	})
}
