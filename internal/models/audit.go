package models

import "time"

// UserLogActivityType classifies entries of the user activity log.
type UserLogActivityType string

const (
	ActivityCreate     UserLogActivityType = "CREATE"
	ActivityModify     UserLogActivityType = "MODIFY"
	ActivityActivate   UserLogActivityType = "ACTIVATE"
	ActivityDeactivate UserLogActivityType = "DEACTIVATE"
	ActivityDelete     UserLogActivityType = "DELETE"
	ActivityFinished   UserLogActivityType = "FINISHED"
)

// UserActivityLog represents an audit trail record.
type UserActivityLog struct {
	ID           string              `db:"id" json:"id"`
	UserID       string              `db:"user_id" json:"user_id"`
	ActivityType UserLogActivityType `db:"activity_type" json:"activity_type"`
	EntityType   EntityType          `db:"entity_type" json:"entity_type"`
	EntityID     string              `db:"entity_id" json:"entity_id"`
	Message      string              `db:"message" json:"message"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
}

// UserActivityLogFilter constrains audit listings.
type UserActivityLogFilter struct {
	UserID     string
	EntityType EntityType
	EntityID   string
	Limit      int
}
