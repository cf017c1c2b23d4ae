package models

import (
	"fmt"
	"strings"
)

// EntityType enumerates every persisted entity kind known to the console.
type EntityType string

const (
	EntityTypeInstitution            EntityType = "INSTITUTION"
	EntityTypeLmsSetup               EntityType = "LMS_SETUP"
	EntityTypeUser                   EntityType = "USER"
	EntityTypeExam                   EntityType = "EXAM"
	EntityTypeIndicator              EntityType = "INDICATOR"
	EntityTypeSEBClientConfiguration EntityType = "SEB_CLIENT_CONFIGURATION"
	EntityTypeExamConfigurationMap   EntityType = "EXAM_CONFIGURATION_MAP"
	EntityTypeClientConnection       EntityType = "CLIENT_CONNECTION"
	EntityTypeConfigurationNode      EntityType = "CONFIGURATION_NODE"
	EntityTypeBatchAction            EntityType = "BATCH_ACTION"
)

// Valid reports whether the type is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case EntityTypeInstitution, EntityTypeLmsSetup, EntityTypeUser, EntityTypeExam,
		EntityTypeIndicator, EntityTypeSEBClientConfiguration, EntityTypeExamConfigurationMap,
		EntityTypeClientConnection, EntityTypeConfigurationNode, EntityTypeBatchAction:
		return true
	default:
		return false
	}
}

// ParseEntityType normalises raw input into an EntityType.
func ParseEntityType(raw string) (EntityType, error) {
	t := EntityType(strings.ToUpper(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown entity type %q", raw)
	}
	return t, nil
}

// EntityKey identifies any persisted entity uniformly.
type EntityKey struct {
	ModelID    string     `json:"model_id"`
	EntityType EntityType `json:"entity_type"`
}

// NewEntityKey builds a key.
func NewEntityKey(modelID string, entityType EntityType) EntityKey {
	return EntityKey{ModelID: modelID, EntityType: entityType}
}

// String renders the key as TYPE:id.
func (k EntityKey) String() string {
	return string(k.EntityType) + ":" + k.ModelID
}

// EntityDependency ties a dependent entity (Self) to the entity it depends on.
type EntityDependency struct {
	Parent      EntityKey `json:"parent"`
	Self        EntityKey `json:"self"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

// GrantEntity is implemented by entities subject to write authorization.
type GrantEntity interface {
	Key() EntityKey
	InstitutionRef() string
	OwnerRef() string
}

// EntityRef is the grant relevant part of a stored entity.
type EntityRef struct {
	Ref           EntityKey
	InstitutionID string
	OwnerID       string
}

// Key implements GrantEntity.
func (r EntityRef) Key() EntityKey { return r.Ref }

// InstitutionRef implements GrantEntity.
func (r EntityRef) InstitutionRef() string { return r.InstitutionID }

// OwnerRef implements GrantEntity.
func (r EntityRef) OwnerRef() string { return r.OwnerID }
