package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/seb-admin-api/internal/models"
)

// UserActivityLogRepository persists the user activity audit trail.
type UserActivityLogRepository struct {
	db *sqlx.DB
}

// NewUserActivityLogRepository constructs the repository.
func NewUserActivityLogRepository(db *sqlx.DB) *UserActivityLogRepository {
	return &UserActivityLogRepository{db: db}
}

// Create stores a log entry on its own.
func (r *UserActivityLogRepository) Create(ctx context.Context, entry *models.UserActivityLog) error {
	return insertActivityLog(ctx, r.db, entry)
}

// CreateTx stores a log entry inside the caller's transaction.
func (r *UserActivityLogRepository) CreateTx(ctx context.Context, tx *sqlx.Tx, entry *models.UserActivityLog) error {
	return insertActivityLog(ctx, tx, entry)
}

// List returns log entries newest first.
func (r *UserActivityLogRepository) List(ctx context.Context, filter models.UserActivityLogFilter) ([]models.UserActivityLog, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT id, user_id, activity_type, entity_type, entity_id, message, created_at FROM user_activity_logs`)
	args := make([]interface{}, 0, 3)
	conditions := make([]string, 0, 3)
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conditions = append(conditions, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if filter.EntityType != "" {
		args = append(args, filter.EntityType)
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", len(args)))
	}
	if filter.EntityID != "" {
		args = append(args, filter.EntityID)
		conditions = append(conditions, fmt.Sprintf("entity_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	builder.WriteString(fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit))

	var entries []models.UserActivityLog
	if err := r.db.SelectContext(ctx, &entries, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list user activity logs: %w", err)
	}
	return entries, nil
}

func insertActivityLog(ctx context.Context, ext sqlx.ExtContext, entry *models.UserActivityLog) error {
	if entry == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO user_activity_logs (id, user_id, activity_type, entity_type, entity_id, message, created_at)
	VALUES (:id, :user_id, :activity_type, :entity_type, :entity_id, :message, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, entry); err != nil {
		return fmt.Errorf("create user activity log: %w", err)
	}
	return nil
}
