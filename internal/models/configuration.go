package models

import "time"

// ConfigurationStatus reflects the lifecycle of an exam configuration.
type ConfigurationStatus string

const (
	ConfigStatusConstruction ConfigurationStatus = "CONSTRUCTION"
	ConfigStatusReadyToUse   ConfigurationStatus = "READY_TO_USE"
	ConfigStatusInUse        ConfigurationStatus = "IN_USE"
	ConfigStatusArchived     ConfigurationStatus = "ARCHIVED"
)

// Valid reports whether the status is known.
func (s ConfigurationStatus) Valid() bool {
	switch s {
	case ConfigStatusConstruction, ConfigStatusReadyToUse, ConfigStatusInUse, ConfigStatusArchived:
		return true
	default:
		return false
	}
}

// ConfigurationNode is an exam configuration optionally derived from a template.
type ConfigurationNode struct {
	ID            string              `db:"id" json:"id"`
	InstitutionID string              `db:"institution_id" json:"institution_id"`
	OwnerID       string              `db:"owner_id" json:"owner_id"`
	TemplateID    *string             `db:"template_id" json:"template_id,omitempty"`
	Name          string              `db:"name" json:"name"`
	Status        ConfigurationStatus `db:"status" json:"status"`
	UpdatedAt     time.Time           `db:"updated_at" json:"updated_at"`
}

// Key implements GrantEntity.
func (n *ConfigurationNode) Key() EntityKey {
	return NewEntityKey(n.ID, EntityTypeConfigurationNode)
}

// InstitutionRef implements GrantEntity.
func (n *ConfigurationNode) InstitutionRef() string { return n.InstitutionID }

// OwnerRef implements GrantEntity.
func (n *ConfigurationNode) OwnerRef() string { return n.OwnerID }
