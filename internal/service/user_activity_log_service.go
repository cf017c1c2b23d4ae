package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

type activityLogStore interface {
	Create(ctx context.Context, entry *models.UserActivityLog) error
	List(ctx context.Context, filter models.UserActivityLogFilter) ([]models.UserActivityLog, error)
}

// UserActivityLogService writes the user activity audit trail on behalf of
// the acting principal.
type UserActivityLogService struct {
	store  activityLogStore
	logger *zap.Logger
}

// NewUserActivityLogService constructs the service.
func NewUserActivityLogService(store activityLogStore, logger *zap.Logger) *UserActivityLogService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserActivityLogService{store: store, logger: logger}
}

// NewEntry builds an unsaved entry for the acting principal, for callers
// persisting it together with their own mutation.
func (s *UserActivityLogService) NewEntry(ctx context.Context, activity models.UserLogActivityType, key models.EntityKey, message string) (*models.UserActivityLog, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "no principal for activity log")
	}
	return &models.UserActivityLog{
		UserID:       p.UserID,
		ActivityType: activity,
		EntityType:   key.EntityType,
		EntityID:     key.ModelID,
		Message:      message,
	}, nil
}

// Log writes one entry for the acting principal.
func (s *UserActivityLogService) Log(ctx context.Context, activity models.UserLogActivityType, key models.EntityKey, message string) error {
	entry, err := s.NewEntry(ctx, activity, key, message)
	if err != nil {
		return err
	}
	if err := s.store.Create(ctx, entry); err != nil {
		s.logger.Sugar().Warnw("failed to write activity log",
			"activity", activity,
			"entity_type", key.EntityType,
			"model_id", key.ModelID,
			"error", err,
		)
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write activity log")
	}
	return nil
}

// LogDependency writes one entry for an entity processed as a dependent of
// a bulk action.
func (s *UserActivityLogService) LogDependency(ctx context.Context, activity models.UserLogActivityType, dep models.EntityDependency) error {
	msg := fmt.Sprintf("Bulk Action - Dependency : %s", dep.Self)
	if dep.Name != "" {
		msg = fmt.Sprintf("%s (%s), parent %s", msg, dep.Name, dep.Parent)
	} else {
		msg = fmt.Sprintf("%s, parent %s", msg, dep.Parent)
	}
	return s.Log(ctx, activity, dep.Self, msg)
}

// List returns recent entries matching filter.
func (s *UserActivityLogService) List(ctx context.Context, filter models.UserActivityLogFilter) ([]models.UserActivityLog, error) {
	entries, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list activity logs")
	}
	return entries, nil
}
