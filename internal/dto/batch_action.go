package dto

import (
	"time"

	"github.com/noah-isme/seb-admin-api/internal/models"
)

// CreateBatchActionRequest submits a new batch action.
type CreateBatchActionRequest struct {
	ActionType    string            `json:"action_type" validate:"required,batch_action_type"`
	InstitutionID string            `json:"institution_id"`
	Attributes    map[string]string `json:"attributes"`
	SourceIDs     []string          `json:"source_ids" validate:"required,min=1,dive,required"`
}

// ListBatchActionsQuery filters batch action listings.
type ListBatchActionsQuery struct {
	State         string `form:"state" validate:"omitempty,oneof=running finished"`
	EntityType    string `form:"entity_type" validate:"omitempty,entity_type"`
	InstitutionID string `form:"institution_id"`
}

// BatchActionResponse exposes a batch action with its progress.
type BatchActionResponse struct {
	ID            string                  `json:"id"`
	InstitutionID string                  `json:"institution_id"`
	OwnerID       string                  `json:"owner_id"`
	ActionType    models.BatchActionType  `json:"action_type"`
	Attributes    map[string]string       `json:"attributes,omitempty"`
	SourceIDs     []string                `json:"source_ids"`
	Successful    []string                `json:"successful"`
	Failures      map[string]string       `json:"failures"`
	State         models.BatchActionState `json:"state"`
	Progress      int                     `json:"progress"`
	LastUpdate    *time.Time              `json:"last_update,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
}

// NewBatchActionResponse maps the model, leaving out the processor token.
func NewBatchActionResponse(a *models.BatchAction) BatchActionResponse {
	failures := make(map[string]string, len(a.Failures))
	for id, msg := range a.Failures {
		failures[id] = msg
	}
	return BatchActionResponse{
		ID:            a.ID,
		InstitutionID: a.InstitutionID,
		OwnerID:       a.OwnerID,
		ActionType:    a.ActionType,
		Attributes:    a.Attributes,
		SourceIDs:     append([]string{}, a.SourceIDs...),
		Successful:    append([]string{}, a.Successful...),
		Failures:      failures,
		State:         a.State(),
		Progress:      a.Progress(),
		LastUpdate:    a.LastUpdate,
		CreatedAt:     a.CreatedAt,
	}
}

// NewBatchActionResponses maps a listing.
func NewBatchActionResponses(actions []models.BatchAction) []BatchActionResponse {
	out := make([]BatchActionResponse, 0, len(actions))
	for i := range actions {
		out = append(out, NewBatchActionResponse(&actions[i]))
	}
	return out
}
