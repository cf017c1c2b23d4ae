package service

import (
	"context"

	"github.com/noah-isme/seb-admin-api/internal/models"
)

type examStore interface {
	FindByID(ctx context.Context, id string) (*models.Exam, error)
	HasActiveConnections(ctx context.Context, examID string) (bool, error)
	Archive(ctx context.Context, exam *models.Exam, entry *models.UserActivityLog) error
	DeleteCascade(ctx context.Context, exam *models.Exam, entry *models.UserActivityLog) error
}

const msgActiveConnections = models.MsgExamActiveConnections

type examExecutorBase struct {
	exams    examStore
	authz    writeAuthorizer
	activity activityEntryFactory
}

// loadWritable loads the exam and checks write access and open connections.
// The store repeats the connection check under a row lock when mutating.
func (b examExecutorBase) loadWritable(ctx context.Context, modelID string) (*models.Exam, error) {
	exam, err := b.exams.FindByID(ctx, modelID)
	if err != nil {
		return nil, loadError(err, models.EntityTypeExam, modelID)
	}
	if err := b.authz.CheckWrite(ctx, exam); err != nil {
		return nil, err
	}
	active, err := b.exams.HasActiveConnections(ctx, exam.ID)
	if err != nil {
		return nil, persistError(err, exam.Key())
	}
	if active {
		return nil, preconditionFailed(msgActiveConnections)
	}
	return exam, nil
}

// ArchiveExamExecutor archives finished exams.
type ArchiveExamExecutor struct {
	examExecutorBase
}

// NewArchiveExamExecutor constructs the executor.
func NewArchiveExamExecutor(exams examStore, authz writeAuthorizer, activity activityEntryFactory) *ArchiveExamExecutor {
	return &ArchiveExamExecutor{examExecutorBase{exams: exams, authz: authz, activity: activity}}
}

// ActionType implements ActionExecutor.
func (e *ArchiveExamExecutor) ActionType() models.BatchActionType {
	return models.BatchActionArchiveExam
}

// CheckConsistency implements ActionExecutor.
func (e *ArchiveExamExecutor) CheckConsistency(models.ActionAttributes) error {
	return nil
}

// DoSingleAction implements ActionExecutor.
func (e *ArchiveExamExecutor) DoSingleAction(ctx context.Context, modelID string, job *models.BatchAction) (models.EntityKey, error) {
	exam, err := e.loadWritable(ctx, modelID)
	if err != nil {
		return models.EntityKey{}, err
	}
	switch exam.Status {
	case models.ExamStatusRunning:
		return models.EntityKey{}, preconditionFailed(models.MsgExamRunning)
	case models.ExamStatusArchived:
		return models.EntityKey{}, preconditionFailed(models.MsgExamArchived)
	}
	entry, err := e.activity.NewEntry(ctx, models.ActivityModify, exam.Key(), "Batch Action - archive exam "+job.ID)
	if err != nil {
		return models.EntityKey{}, err
	}
	if err := e.exams.Archive(ctx, exam, entry); err != nil {
		return models.EntityKey{}, persistError(err, exam.Key())
	}
	return exam.Key(), nil
}

// DeleteExamExecutor deletes exams with all dependent data.
type DeleteExamExecutor struct {
	examExecutorBase
}

// NewDeleteExamExecutor constructs the executor.
func NewDeleteExamExecutor(exams examStore, authz writeAuthorizer, activity activityEntryFactory) *DeleteExamExecutor {
	return &DeleteExamExecutor{examExecutorBase{exams: exams, authz: authz, activity: activity}}
}

// ActionType implements ActionExecutor.
func (e *DeleteExamExecutor) ActionType() models.BatchActionType {
	return models.BatchActionDeleteExam
}

// CheckConsistency implements ActionExecutor.
func (e *DeleteExamExecutor) CheckConsistency(models.ActionAttributes) error {
	return nil
}

// DoSingleAction implements ActionExecutor.
func (e *DeleteExamExecutor) DoSingleAction(ctx context.Context, modelID string, job *models.BatchAction) (models.EntityKey, error) {
	exam, err := e.loadWritable(ctx, modelID)
	if err != nil {
		return models.EntityKey{}, err
	}
	entry, err := e.activity.NewEntry(ctx, models.ActivityDelete, exam.Key(), "Batch Action - delete exam "+job.ID)
	if err != nil {
		return models.EntityKey{}, err
	}
	if err := e.exams.DeleteCascade(ctx, exam, entry); err != nil {
		return models.EntityKey{}, persistError(err, exam.Key())
	}
	return exam.Key(), nil
}
