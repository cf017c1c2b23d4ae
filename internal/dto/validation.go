package dto

import (
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/seb-admin-api/internal/models"
)

// NewValidator returns a validator knowing the domain enum tags.
func NewValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("entity_type", func(fl validator.FieldLevel) bool {
		return models.EntityType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("batch_action_type", func(fl validator.FieldLevel) bool {
		return models.BatchActionType(fl.Field().String()).EntityType() != ""
	})
	return v
}
