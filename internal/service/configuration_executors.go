package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

type configurationStore interface {
	FindByID(ctx context.Context, id string) (*models.ConfigurationNode, error)
	IsReferencedByActiveExam(ctx context.Context, nodeID string) (bool, error)
	UpdateStatus(ctx context.Context, node *models.ConfigurationNode, status models.ConfigurationStatus, entry *models.UserActivityLog) error
	ResetToTemplate(ctx context.Context, node *models.ConfigurationNode, entry *models.UserActivityLog) error
	DeleteCascade(ctx context.Context, node *models.ConfigurationNode, entry *models.UserActivityLog) error
}

const msgConfigInUse = models.MsgConfigurationInUse

type configExecutorBase struct {
	configs  configurationStore
	authz    writeAuthorizer
	activity activityEntryFactory
}

// loadWritable loads the node and checks write access and active usage.
// The store repeats the usage check under a row lock when mutating.
func (b configExecutorBase) loadWritable(ctx context.Context, modelID string) (*models.ConfigurationNode, error) {
	node, err := b.configs.FindByID(ctx, modelID)
	if err != nil {
		return nil, loadError(err, models.EntityTypeConfigurationNode, modelID)
	}
	if err := b.authz.CheckWrite(ctx, node); err != nil {
		return nil, err
	}
	used, err := b.configs.IsReferencedByActiveExam(ctx, node.ID)
	if err != nil {
		return nil, persistError(err, node.Key())
	}
	if used {
		return nil, preconditionFailed(msgConfigInUse)
	}
	return node, nil
}

// ExamConfigDeleteExecutor deletes exam configurations.
type ExamConfigDeleteExecutor struct {
	configExecutorBase
}

// NewExamConfigDeleteExecutor constructs the executor.
func NewExamConfigDeleteExecutor(configs configurationStore, authz writeAuthorizer, activity activityEntryFactory) *ExamConfigDeleteExecutor {
	return &ExamConfigDeleteExecutor{configExecutorBase{configs: configs, authz: authz, activity: activity}}
}

// ActionType implements ActionExecutor.
func (e *ExamConfigDeleteExecutor) ActionType() models.BatchActionType {
	return models.BatchActionExamConfigDelete
}

// CheckConsistency implements ActionExecutor.
func (e *ExamConfigDeleteExecutor) CheckConsistency(models.ActionAttributes) error {
	return nil
}

// DoSingleAction implements ActionExecutor.
func (e *ExamConfigDeleteExecutor) DoSingleAction(ctx context.Context, modelID string, job *models.BatchAction) (models.EntityKey, error) {
	node, err := e.loadWritable(ctx, modelID)
	if err != nil {
		return models.EntityKey{}, err
	}
	entry, err := e.activity.NewEntry(ctx, models.ActivityDelete, node.Key(), "Batch Action - delete exam configuration "+job.ID)
	if err != nil {
		return models.EntityKey{}, err
	}
	if err := e.configs.DeleteCascade(ctx, node, entry); err != nil {
		return models.EntityKey{}, persistError(err, node.Key())
	}
	return node.Key(), nil
}

// ExamConfigStateChangeExecutor moves exam configurations to a target status.
type ExamConfigStateChangeExecutor struct {
	configExecutorBase
}

// NewExamConfigStateChangeExecutor constructs the executor.
func NewExamConfigStateChangeExecutor(configs configurationStore, authz writeAuthorizer, activity activityEntryFactory) *ExamConfigStateChangeExecutor {
	return &ExamConfigStateChangeExecutor{configExecutorBase{configs: configs, authz: authz, activity: activity}}
}

// ActionType implements ActionExecutor.
func (e *ExamConfigStateChangeExecutor) ActionType() models.BatchActionType {
	return models.BatchActionExamConfigStateChange
}

// CheckConsistency requires a valid, user assignable target state.
func (e *ExamConfigStateChangeExecutor) CheckConsistency(attributes models.ActionAttributes) error {
	_, err := targetState(attributes)
	return err
}

// DoSingleAction implements ActionExecutor.
func (e *ExamConfigStateChangeExecutor) DoSingleAction(ctx context.Context, modelID string, job *models.BatchAction) (models.EntityKey, error) {
	target, err := targetState(job.Attributes)
	if err != nil {
		return models.EntityKey{}, err
	}
	node, err := e.loadWritable(ctx, modelID)
	if err != nil {
		return models.EntityKey{}, err
	}
	if node.Status == target {
		return node.Key(), nil
	}
	if node.Status == models.ConfigStatusArchived {
		return models.EntityKey{}, preconditionFailed("Archived exam configurations cannot change state.")
	}
	entry, err := e.activity.NewEntry(ctx, models.ActivityModify, node.Key(),
		fmt.Sprintf("Batch Action - change state %s -> %s %s", node.Status, target, job.ID))
	if err != nil {
		return models.EntityKey{}, err
	}
	if err := e.configs.UpdateStatus(ctx, node, target, entry); err != nil {
		return models.EntityKey{}, persistError(err, node.Key())
	}
	return node.Key(), nil
}

func targetState(attributes models.ActionAttributes) (models.ConfigurationStatus, error) {
	raw, ok := attributes[models.AttrTargetState]
	if !ok || strings.TrimSpace(raw) == "" {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("missing attribute %s", models.AttrTargetState))
	}
	state := models.ConfigurationStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !state.Valid() {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid target state %q", raw))
	}
	if state == models.ConfigStatusInUse {
		return "", appErrors.Clone(appErrors.ErrValidation, "IN_USE is assigned by exams and cannot be requested")
	}
	return state, nil
}

// ExamConfigResetToTemplateExecutor restores exam configurations from their
// template.
type ExamConfigResetToTemplateExecutor struct {
	configExecutorBase
}

// NewExamConfigResetToTemplateExecutor constructs the executor.
func NewExamConfigResetToTemplateExecutor(configs configurationStore, authz writeAuthorizer, activity activityEntryFactory) *ExamConfigResetToTemplateExecutor {
	return &ExamConfigResetToTemplateExecutor{configExecutorBase{configs: configs, authz: authz, activity: activity}}
}

// ActionType implements ActionExecutor.
func (e *ExamConfigResetToTemplateExecutor) ActionType() models.BatchActionType {
	return models.BatchActionExamConfigResetToTemplate
}

// CheckConsistency implements ActionExecutor.
func (e *ExamConfigResetToTemplateExecutor) CheckConsistency(models.ActionAttributes) error {
	return nil
}

// DoSingleAction implements ActionExecutor.
func (e *ExamConfigResetToTemplateExecutor) DoSingleAction(ctx context.Context, modelID string, job *models.BatchAction) (models.EntityKey, error) {
	node, err := e.loadWritable(ctx, modelID)
	if err != nil {
		return models.EntityKey{}, err
	}
	if node.TemplateID == nil || *node.TemplateID == "" {
		return models.EntityKey{}, preconditionFailed("Exam configuration has no template.")
	}
	entry, err := e.activity.NewEntry(ctx, models.ActivityModify, node.Key(), "Batch Action - reset to template "+job.ID)
	if err != nil {
		return models.EntityKey{}, err
	}
	if err := e.configs.ResetToTemplate(ctx, node, entry); err != nil {
		return models.EntityKey{}, persistError(err, node.Key())
	}
	return node.Key(), nil
}
