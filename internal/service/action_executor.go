package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

// ActionExecutor performs one batch action type on a single entity.
type ActionExecutor interface {
	ActionType() models.BatchActionType
	// CheckConsistency validates the job attributes before the job is stored.
	CheckConsistency(attributes models.ActionAttributes) error
	// DoSingleAction applies the action to modelID. Any error is recorded as
	// the item's failure and never aborts the job.
	DoSingleAction(ctx context.Context, modelID string, job *models.BatchAction) (models.EntityKey, error)
}

// ExecutorRegistry maps batch action types to their executor. It is built
// once at startup and read-only afterwards.
type ExecutorRegistry struct {
	executors map[models.BatchActionType]ActionExecutor
}

// NewExecutorRegistry registers the executors, rejecting duplicates.
func NewExecutorRegistry(executors ...ActionExecutor) (*ExecutorRegistry, error) {
	reg := &ExecutorRegistry{executors: make(map[models.BatchActionType]ActionExecutor, len(executors))}
	for _, exec := range executors {
		if exec == nil {
			continue
		}
		t := exec.ActionType()
		if _, exists := reg.executors[t]; exists {
			return nil, fmt.Errorf("duplicate executor for batch action type %s", t)
		}
		reg.executors[t] = exec
	}
	return reg, nil
}

// Get returns the executor for t.
func (r *ExecutorRegistry) Get(t models.BatchActionType) (ActionExecutor, error) {
	if exec, ok := r.executors[t]; ok {
		return exec, nil
	}
	return nil, appErrors.Clone(appErrors.ErrActionTypeUnsupported, fmt.Sprintf("no executor for batch action type %s", t))
}

// Types lists registered action types.
func (r *ExecutorRegistry) Types() []models.BatchActionType {
	types := make([]models.BatchActionType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

type writeAuthorizer interface {
	CheckWrite(ctx context.Context, entity models.GrantEntity) error
}

type activityEntryFactory interface {
	NewEntry(ctx context.Context, activity models.UserLogActivityType, key models.EntityKey, message string) (*models.UserActivityLog, error)
}

func loadError(err error, entityType models.EntityType, modelID string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s %s not found", entityType, modelID))
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to load %s %s", entityType, modelID))
}

func persistError(err error, key models.EntityKey) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, sql.ErrNoRows):
		return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s no longer exists", key))
	default:
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to persist %s", key))
	}
}

func preconditionFailed(msg string) error {
	return appErrors.Clone(appErrors.ErrPreconditionFailed, msg)
}
