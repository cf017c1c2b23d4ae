package dto

import (
	"github.com/noah-isme/seb-admin-api/internal/models"
)

// EntityKeyRequest identifies one entity.
type EntityKeyRequest struct {
	ModelID    string `json:"model_id" validate:"required"`
	EntityType string `json:"entity_type" validate:"required,entity_type"`
}

// BulkActionRequest describes a cascading bulk action. A missing include
// list selects every dependent type.
type BulkActionRequest struct {
	Type    string             `json:"type" validate:"required,oneof=ACTIVATE DEACTIVATE HARD_DELETE"`
	Sources []EntityKeyRequest `json:"sources" validate:"required,min=1,dive"`
	Include []string           `json:"include" validate:"omitempty,dive,entity_type"`
}

// ToBulkAction builds the transient bulk action.
func (r BulkActionRequest) ToBulkAction() (*models.BulkAction, error) {
	sources := make([]models.EntityKey, 0, len(r.Sources))
	for _, src := range r.Sources {
		sources = append(sources, models.NewEntityKey(src.ModelID, models.EntityType(src.EntityType)))
	}
	var include []models.EntityType
	if r.Include != nil {
		include = make([]models.EntityType, 0, len(r.Include))
		for _, t := range r.Include {
			include = append(include, models.EntityType(t))
		}
	}
	return models.NewBulkAction(models.BulkActionType(r.Type), sources, include)
}

// DependencyResponse is one dependent entity in a preview.
type DependencyResponse struct {
	Parent      models.EntityKey `json:"parent"`
	Self        models.EntityKey `json:"self"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
}

// NewDependencyResponses maps collected dependencies.
func NewDependencyResponses(deps []models.EntityDependency) []DependencyResponse {
	out := make([]DependencyResponse, 0, len(deps))
	for _, dep := range deps {
		out = append(out, DependencyResponse{Parent: dep.Parent, Self: dep.Self, Name: dep.Name, Description: dep.Description})
	}
	return out
}
