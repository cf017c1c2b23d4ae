package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/seb-admin-api/internal/models"
	"github.com/noah-isme/seb-admin-api/pkg/database"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

const batchActionColumns = `id, institution_id, owner_id, action_type, attributes, source_ids, successful, processor_id, last_update, created_at`

// ErrBatchActionIncomplete is returned by FinishUp when outcomes are missing.
var ErrBatchActionIncomplete = errors.New("batch action has unprocessed source ids")

// BatchActionRepository persists batch actions and their per item outcomes.
type BatchActionRepository struct {
	db *sqlx.DB
}

// NewBatchActionRepository constructs the repository.
func NewBatchActionRepository(db *sqlx.DB) *BatchActionRepository {
	return &BatchActionRepository{db: db}
}

// Create stores a new, unreserved batch action.
func (r *BatchActionRepository) Create(ctx context.Context, action *models.BatchAction) error {
	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now().UTC()
	}
	if action.Successful == nil {
		action.Successful = pq.StringArray{}
	}
	if action.Attributes == nil {
		action.Attributes = models.ActionAttributes{}
	}
	action.Failures = map[string]string{}
	action.ProcessorID = nil
	action.LastUpdate = nil

	const query = `INSERT INTO batch_actions (` + batchActionColumns + `)
	VALUES (:id, :institution_id, :owner_id, :action_type, :attributes, :source_ids, :successful, :processor_id, :last_update, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, action); err != nil {
		return fmt.Errorf("create batch action: %w", err)
	}
	return nil
}

// ByPK loads a batch action including its failures.
func (r *BatchActionRepository) ByPK(ctx context.Context, id string) (*models.BatchAction, error) {
	const query = `SELECT ` + batchActionColumns + ` FROM batch_actions WHERE id = $1`
	var action models.BatchAction
	if err := r.db.GetContext(ctx, &action, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get batch action: %w", err)
	}
	if err := r.attachFailures(ctx, []*models.BatchAction{&action}); err != nil {
		return nil, err
	}
	return &action, nil
}

// ByModelID loads a batch action by its external identifier.
func (r *BatchActionRepository) ByModelID(ctx context.Context, modelID string) (*models.BatchAction, error) {
	if _, err := uuid.Parse(modelID); err != nil {
		return nil, sql.ErrNoRows
	}
	return r.ByPK(ctx, modelID)
}

// AllMatching lists batch actions matching the filter and, when given, the
// predicate.
func (r *BatchActionRepository) AllMatching(ctx context.Context, filter models.BatchActionFilter, predicate func(*models.BatchAction) bool) ([]models.BatchAction, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + batchActionColumns + ` FROM batch_actions`)
	args := make([]interface{}, 0, 3)
	conditions := make([]string, 0, 3)

	if filter.InstitutionID != "" {
		args = append(args, filter.InstitutionID)
		conditions = append(conditions, fmt.Sprintf("institution_id = $%d", len(args)))
	}
	if filter.ActionType != "" {
		args = append(args, filter.ActionType)
		conditions = append(conditions, fmt.Sprintf("action_type = $%d", len(args)))
	}
	if len(filter.ActionTypes) > 0 {
		types := make([]string, 0, len(filter.ActionTypes))
		for _, t := range filter.ActionTypes {
			types = append(types, string(t))
		}
		args = append(args, pq.Array(types))
		conditions = append(conditions, fmt.Sprintf("action_type = ANY($%d)", len(args)))
	}
	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Finished != nil {
		if *filter.Finished {
			conditions = append(conditions, `processor_id LIKE '%\_FINISHED'`)
		} else {
			conditions = append(conditions, `(processor_id IS NULL OR processor_id NOT LIKE '%\_FINISHED')`)
		}
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var records []models.BatchAction
	if err := r.db.SelectContext(ctx, &records, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list batch actions: %w", err)
	}
	ptrs := make([]*models.BatchAction, len(records))
	for i := range records {
		ptrs[i] = &records[i]
	}
	if err := r.attachFailures(ctx, ptrs); err != nil {
		return nil, err
	}
	if predicate == nil {
		return records, nil
	}
	matched := make([]models.BatchAction, 0, len(records))
	for i := range records {
		if predicate(&records[i]) {
			matched = append(matched, records[i])
		}
	}
	return matched, nil
}

// GetAndReserveNext atomically claims the oldest pending batch action for
// token. Unfinished actions whose last update is older than abandonedAfter
// are claimable again. Returns sql.ErrNoRows when nothing is pending.
func (r *BatchActionRepository) GetAndReserveNext(ctx context.Context, token string, now time.Time, abandonedAfter time.Duration) (*models.BatchAction, error) {
	const query = `UPDATE batch_actions SET processor_id = $1, last_update = $2
	WHERE id = (
		SELECT id FROM batch_actions
		WHERE processor_id IS NULL
		   OR (processor_id NOT LIKE '%\_FINISHED' AND (last_update IS NULL OR last_update < $3))
		ORDER BY created_at
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	)
	RETURNING ` + batchActionColumns
	var action models.BatchAction
	if err := r.db.GetContext(ctx, &action, query, token, now, now.Add(-abandonedAfter)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("reserve batch action: %w", err)
	}
	if err := r.attachFailures(ctx, []*models.BatchAction{&action}); err != nil {
		return nil, err
	}
	return &action, nil
}

// SetSuccessful records a successful source id for the reserving worker.
func (r *BatchActionRepository) SetSuccessful(ctx context.Context, id, token, modelID string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockReservation(ctx, tx, id, token, modelID); err != nil {
			return err
		}
		const update = `UPDATE batch_actions
		SET successful = CASE WHEN $2 = ANY(successful) THEN successful ELSE array_append(successful, $2) END,
		    last_update = $3
		WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, id, modelID, time.Now().UTC()); err != nil {
			return fmt.Errorf("set batch action success: %w", err)
		}
		const clear = `DELETE FROM batch_action_failures WHERE batch_action_id = $1 AND model_id = $2`
		if _, err := tx.ExecContext(ctx, clear, id, modelID); err != nil {
			return fmt.Errorf("clear batch action failure: %w", err)
		}
		return nil
	})
}

// SetFailure records a failed source id with its error summary.
func (r *BatchActionRepository) SetFailure(ctx context.Context, id, token, modelID, summary string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockReservation(ctx, tx, id, token, modelID); err != nil {
			return err
		}
		const update = `UPDATE batch_actions SET successful = array_remove(successful, $2), last_update = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, id, modelID, time.Now().UTC()); err != nil {
			return fmt.Errorf("set batch action failure: %w", err)
		}
		const upsert = `INSERT INTO batch_action_failures (batch_action_id, model_id, error)
		VALUES ($1, $2, $3)
		ON CONFLICT (batch_action_id, model_id) DO UPDATE SET error = EXCLUDED.error`
		if _, err := tx.ExecContext(ctx, upsert, id, modelID, summary); err != nil {
			return fmt.Errorf("store batch action failure: %w", err)
		}
		return nil
	})
}

// FinishUp marks the batch action finished. Unless forced every source id
// must have an outcome.
func (r *BatchActionRepository) FinishUp(ctx context.Context, id, token string, force bool) (*models.BatchAction, error) {
	var finished *models.BatchAction
	err := database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		const lock = `SELECT ` + batchActionColumns + ` FROM batch_actions WHERE id = $1 FOR UPDATE`
		var action models.BatchAction
		if err := tx.GetContext(ctx, &action, lock, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return err
			}
			return fmt.Errorf("lock batch action: %w", err)
		}
		if action.ProcessorID == nil || *action.ProcessorID != token {
			return appErrors.ErrReservationLost
		}
		failures, err := loadFailures(ctx, tx, []string{id})
		if err != nil {
			return err
		}
		action.Failures = failures[id]
		if action.Failures == nil {
			action.Failures = map[string]string{}
		}
		if !force && !action.Complete() {
			return fmt.Errorf("%w: %d remaining", ErrBatchActionIncomplete, len(action.Remaining()))
		}

		processor := token + models.BatchActionFinishedFlag
		now := time.Now().UTC()
		const update = `UPDATE batch_actions SET processor_id = $2, last_update = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, id, processor, now); err != nil {
			return fmt.Errorf("finish batch action: %w", err)
		}
		action.ProcessorID = &processor
		action.LastUpdate = &now
		finished = &action
		return nil
	})
	if err != nil {
		return nil, err
	}
	return finished, nil
}

// Delete removes a batch action and its failures.
func (r *BatchActionRepository) Delete(ctx context.Context, id string) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM batch_action_failures WHERE batch_action_id = $1`, id); err != nil {
			return fmt.Errorf("delete batch action failures: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM batch_actions WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete batch action: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("check batch action delete rows: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

func lockReservation(ctx context.Context, tx *sqlx.Tx, id, token, modelID string) error {
	const query = `SELECT processor_id, source_ids FROM batch_actions WHERE id = $1 FOR UPDATE`
	var row struct {
		ProcessorID *string        `db:"processor_id"`
		SourceIDs   pq.StringArray `db:"source_ids"`
	}
	if err := tx.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock batch action: %w", err)
	}
	if row.ProcessorID == nil || *row.ProcessorID != token {
		return appErrors.ErrReservationLost
	}
	if !mapset.NewThreadUnsafeSet[string](row.SourceIDs...).Contains(modelID) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("%s is not a source of batch action %s", modelID, id))
	}
	return nil
}

func (r *BatchActionRepository) attachFailures(ctx context.Context, actions []*models.BatchAction) error {
	if len(actions) == 0 {
		return nil
	}
	ids := make([]string, len(actions))
	for i, a := range actions {
		ids[i] = a.ID
	}
	failures, err := loadFailures(ctx, r.db, ids)
	if err != nil {
		return err
	}
	for _, a := range actions {
		a.Failures = failures[a.ID]
		if a.Failures == nil {
			a.Failures = map[string]string{}
		}
	}
	return nil
}

func loadFailures(ctx context.Context, q sqlx.QueryerContext, ids []string) (map[string]map[string]string, error) {
	const query = `SELECT batch_action_id, model_id, error FROM batch_action_failures WHERE batch_action_id = ANY($1)`
	var rows []struct {
		BatchActionID string `db:"batch_action_id"`
		ModelID       string `db:"model_id"`
		Error         string `db:"error"`
	}
	if err := sqlx.SelectContext(ctx, q, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("load batch action failures: %w", err)
	}
	out := make(map[string]map[string]string, len(ids))
	for _, row := range rows {
		if out[row.BatchActionID] == nil {
			out[row.BatchActionID] = map[string]string{}
		}
		out[row.BatchActionID][row.ModelID] = row.Error
	}
	return out, nil
}
