package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/seb-admin-api/internal/models"
	"github.com/noah-isme/seb-admin-api/pkg/database"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

const activeConnectionsQuery = `SELECT EXISTS (
	SELECT 1 FROM client_connections
	WHERE exam_id = $1 AND status IN ('CONNECTION_REQUESTED', 'READY', 'ACTIVE')
)`

// ExamRepository persists exams and their dependent rows.
type ExamRepository struct {
	db *sqlx.DB
}

// NewExamRepository constructs the repository.
func NewExamRepository(db *sqlx.DB) *ExamRepository {
	return &ExamRepository{db: db}
}

// FindByID loads an exam.
func (r *ExamRepository) FindByID(ctx context.Context, id string) (*models.Exam, error) {
	const query = `SELECT id, institution_id, lms_setup_id, owner_id, name, status, active, updated_at FROM exams WHERE id = $1`
	var exam models.Exam
	if err := r.db.GetContext(ctx, &exam, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}
	return &exam, nil
}

// HasActiveConnections reports whether SEB clients are still connected.
func (r *ExamRepository) HasActiveConnections(ctx context.Context, examID string) (bool, error) {
	var active bool
	if err := r.db.GetContext(ctx, &active, activeConnectionsQuery, examID); err != nil {
		return false, fmt.Errorf("check active client connections: %w", err)
	}
	return active, nil
}

// Archive sets the exam to archived and stores the log entry atomically.
func (r *ExamRepository) Archive(ctx context.Context, exam *models.Exam, entry *models.UserActivityLog) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		status, err := lockDisconnectedExam(ctx, tx, exam.ID)
		if err != nil {
			return err
		}
		switch status {
		case models.ExamStatusRunning:
			return appErrors.Clone(appErrors.ErrPreconditionFailed, models.MsgExamRunning)
		case models.ExamStatusArchived:
			return appErrors.Clone(appErrors.ErrPreconditionFailed, models.MsgExamArchived)
		}
		now := time.Now().UTC()
		const query = `UPDATE exams SET status = $2, active = FALSE, updated_at = $3 WHERE id = $1`
		res, err := tx.ExecContext(ctx, query, exam.ID, models.ExamStatusArchived, now)
		if err != nil {
			return fmt.Errorf("archive exam: %w", err)
		}
		if err := expectAffected(res); err != nil {
			return err
		}
		if err := insertActivityLog(ctx, tx, entry); err != nil {
			return err
		}
		exam.Status = models.ExamStatusArchived
		exam.Active = false
		exam.UpdatedAt = now
		return nil
	})
}

// DeleteCascade removes the exam with every dependent row and stores the log
// entry atomically.
func (r *ExamRepository) DeleteCascade(ctx context.Context, exam *models.Exam, entry *models.UserActivityLog) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := lockDisconnectedExam(ctx, tx, exam.ID); err != nil {
			return err
		}
		cleanup := []struct {
			name  string
			query string
		}{
			{"indicators", `DELETE FROM indicators WHERE exam_id = $1`},
			{"exam configuration map", `DELETE FROM exam_configuration_map WHERE exam_id = $1`},
			{"client connections", `DELETE FROM client_connections WHERE exam_id = $1`},
			{"additional attributes", `DELETE FROM additional_attributes WHERE entity_type = 'EXAM' AND entity_id = $1`},
		}
		for _, step := range cleanup {
			if _, err := tx.ExecContext(ctx, step.query, exam.ID); err != nil {
				return fmt.Errorf("delete exam %s: %w", step.name, err)
			}
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM exams WHERE id = $1`, exam.ID)
		if err != nil {
			return fmt.Errorf("delete exam: %w", err)
		}
		if err := expectAffected(res); err != nil {
			return err
		}
		return insertActivityLog(ctx, tx, entry)
	})
}

// lockDisconnectedExam locks the exam row for the rest of the transaction and
// fails when SEB clients are connected. Connections referencing the exam
// cannot be added while the row lock is held.
func lockDisconnectedExam(ctx context.Context, tx *sqlx.Tx, examID string) (models.ExamStatus, error) {
	var status models.ExamStatus
	if err := tx.GetContext(ctx, &status, `SELECT status FROM exams WHERE id = $1 FOR UPDATE`, examID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("lock exam: %w", err)
	}
	var active bool
	if err := tx.GetContext(ctx, &active, activeConnectionsQuery, examID); err != nil {
		return "", fmt.Errorf("check active client connections: %w", err)
	}
	if active {
		return "", appErrors.Clone(appErrors.ErrPreconditionFailed, models.MsgExamActiveConnections)
	}
	return status, nil
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check affected rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
