package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/lib/pq"
)

// BatchActionType identifies a unit of work executed per source id.
type BatchActionType string

const (
	BatchActionArchiveExam               BatchActionType = "ARCHIVE_EXAM"
	BatchActionDeleteExam                BatchActionType = "DELETE_EXAM"
	BatchActionExamConfigDelete          BatchActionType = "EXAM_CONFIG_DELETE"
	BatchActionExamConfigStateChange     BatchActionType = "EXAM_CONFIG_STATE_CHANGE"
	BatchActionExamConfigResetToTemplate BatchActionType = "EXAM_CONFIG_RESET_TO_TEMPLATE"
)

var batchActionTypes = []BatchActionType{
	BatchActionArchiveExam,
	BatchActionDeleteExam,
	BatchActionExamConfigDelete,
	BatchActionExamConfigStateChange,
	BatchActionExamConfigResetToTemplate,
}

// BatchActionTypesOf returns the action types targeting entityType.
func BatchActionTypesOf(entityType EntityType) []BatchActionType {
	types := make([]BatchActionType, 0, 2)
	for _, t := range batchActionTypes {
		if t.EntityType() == entityType {
			types = append(types, t)
		}
	}
	return types
}

// EntityType returns the entity type the action targets.
func (t BatchActionType) EntityType() EntityType {
	switch t {
	case BatchActionArchiveExam, BatchActionDeleteExam:
		return EntityTypeExam
	case BatchActionExamConfigDelete, BatchActionExamConfigStateChange, BatchActionExamConfigResetToTemplate:
		return EntityTypeConfigurationNode
	default:
		return ""
	}
}

const (
	// BatchActionFinishedFlag is appended to the processor id once a job is done.
	BatchActionFinishedFlag = "_FINISHED"
	// AttrTargetState carries the requested state of a state change action.
	AttrTargetState = "batchActionTargetState"
)

// ActionAttributes holds action specific parameters persisted as JSONB.
type ActionAttributes map[string]string

// Value marshals attributes to JSON for persistence.
func (a ActionAttributes) Value() (driver.Value, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(map[string]string(a))
	if err != nil {
		return nil, fmt.Errorf("marshal action attributes: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the attribute map.
func (a *ActionAttributes) Scan(value interface{}) error {
	if value == nil {
		*a = ActionAttributes{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ActionAttributes", value)
	}
	if len(data) == 0 {
		*a = ActionAttributes{}
		return nil
	}
	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("unmarshal action attributes: %w", err)
	}
	*a = out
	return nil
}

// BatchAction is a persisted, resumable job acting on many entity ids.
type BatchAction struct {
	ID            string            `db:"id" json:"id"`
	InstitutionID string            `db:"institution_id" json:"institution_id"`
	OwnerID       string            `db:"owner_id" json:"owner_id"`
	ActionType    BatchActionType   `db:"action_type" json:"action_type"`
	Attributes    ActionAttributes  `db:"attributes" json:"attributes"`
	SourceIDs     pq.StringArray    `db:"source_ids" json:"source_ids"`
	Successful    pq.StringArray    `db:"successful" json:"successful"`
	Failures      map[string]string `db:"-" json:"failures"`
	ProcessorID   *string           `db:"processor_id" json:"processor_id,omitempty"`
	LastUpdate    *time.Time        `db:"last_update" json:"last_update,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}

// Key returns the entity key of the job itself.
func (b *BatchAction) Key() EntityKey {
	return NewEntityKey(b.ID, EntityTypeBatchAction)
}

// InstitutionRef implements GrantEntity.
func (b *BatchAction) InstitutionRef() string { return b.InstitutionID }

// OwnerRef implements GrantEntity.
func (b *BatchAction) OwnerRef() string { return b.OwnerID }

// Reserved reports whether a worker token is attached.
func (b *BatchAction) Reserved() bool {
	return b.ProcessorID != nil && *b.ProcessorID != ""
}

// Finished reports whether the job reached its terminal state.
func (b *BatchAction) Finished() bool {
	return b.Reserved() && strings.HasSuffix(*b.ProcessorID, BatchActionFinishedFlag)
}

// Running reports whether the job is reserved but not finished.
func (b *BatchAction) Running() bool {
	return b.Reserved() && !b.Finished()
}

// Remaining returns the source ids with no recorded outcome yet, in source
// order. Failed ids are terminal and are not handed out again.
func (b *BatchAction) Remaining() []string {
	done := mapset.NewThreadUnsafeSet[string](b.Successful...)
	for id := range b.Failures {
		done.Add(id)
	}
	remaining := make([]string, 0, len(b.SourceIDs))
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, id := range b.SourceIDs {
		if done.Contains(id) || !seen.Add(id) {
			continue
		}
		remaining = append(remaining, id)
	}
	return remaining
}

// Complete reports whether every source id is accounted for.
func (b *BatchAction) Complete() bool {
	return len(b.Remaining()) == 0
}

// Progress returns the processed share of source ids in percent.
func (b *BatchAction) Progress() int {
	sources := mapset.NewThreadUnsafeSet[string](b.SourceIDs...)
	if sources.Cardinality() == 0 {
		return 100
	}
	processed := sources.Cardinality() - len(b.Remaining())
	return processed * 100 / sources.Cardinality()
}

// BatchActionState filters job listings.
type BatchActionState string

const (
	BatchActionStatePending  BatchActionState = "pending"
	BatchActionStateRunning  BatchActionState = "running"
	BatchActionStateFinished BatchActionState = "finished"
)

// State classifies the job lifecycle.
func (b *BatchAction) State() BatchActionState {
	switch {
	case b.Finished():
		return BatchActionStateFinished
	case b.Reserved():
		return BatchActionStateRunning
	default:
		return BatchActionStatePending
	}
}

// BatchActionFilter constrains listing queries.
type BatchActionFilter struct {
	InstitutionID string
	ActionType    BatchActionType
	// ActionTypes restricts to any of the types when not empty.
	ActionTypes []BatchActionType
	// Finished selects finished or unfinished jobs when set.
	Finished *bool
	OwnerID  string
	Limit    int
	Offset   int
}
