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

// ErrNoTemplate is returned when resetting a configuration without template.
var ErrNoTemplate = errors.New("configuration has no template")

// ConfigurationNodeRepository persists exam configurations.
type ConfigurationNodeRepository struct {
	db *sqlx.DB
}

// NewConfigurationNodeRepository constructs the repository.
func NewConfigurationNodeRepository(db *sqlx.DB) *ConfigurationNodeRepository {
	return &ConfigurationNodeRepository{db: db}
}

// FindByID loads a configuration node.
func (r *ConfigurationNodeRepository) FindByID(ctx context.Context, id string) (*models.ConfigurationNode, error) {
	const query = `SELECT id, institution_id, owner_id, template_id, name, status, updated_at FROM configuration_nodes WHERE id = $1`
	var node models.ConfigurationNode
	if err := r.db.GetContext(ctx, &node, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get configuration node: %w", err)
	}
	return &node, nil
}

// IsReferencedByActiveExam reports whether an upcoming or running exam uses
// the configuration.
func (r *ConfigurationNodeRepository) IsReferencedByActiveExam(ctx context.Context, nodeID string) (bool, error) {
	var used bool
	if err := r.db.GetContext(ctx, &used, configurationInUseQuery, nodeID); err != nil {
		return false, fmt.Errorf("check configuration usage: %w", err)
	}
	return used, nil
}

// UpdateStatus changes the configuration status and stores the log entry
// atomically.
func (r *ConfigurationNodeRepository) UpdateStatus(ctx context.Context, node *models.ConfigurationNode, status models.ConfigurationStatus, entry *models.UserActivityLog) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockUnusedConfiguration(ctx, tx, node.ID); err != nil {
			return err
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `UPDATE configuration_nodes SET status = $2, updated_at = $3 WHERE id = $1`, node.ID, status, now)
		if err != nil {
			return fmt.Errorf("update configuration status: %w", err)
		}
		if err := expectAffected(res); err != nil {
			return err
		}
		if err := insertActivityLog(ctx, tx, entry); err != nil {
			return err
		}
		node.Status = status
		node.UpdatedAt = now
		return nil
	})
}

// ResetToTemplate replaces the configuration values with the template's.
func (r *ConfigurationNodeRepository) ResetToTemplate(ctx context.Context, node *models.ConfigurationNode, entry *models.UserActivityLog) error {
	if node.TemplateID == nil || *node.TemplateID == "" {
		return ErrNoTemplate
	}
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockUnusedConfiguration(ctx, tx, node.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM configuration_values WHERE configuration_node_id = $1`, node.ID); err != nil {
			return fmt.Errorf("clear configuration values: %w", err)
		}
		const copyValues = `INSERT INTO configuration_values (id, configuration_node_id, attribute_id, list_index, value)
		SELECT gen_random_uuid(), $1, attribute_id, list_index, value
		FROM configuration_values WHERE configuration_node_id = $2`
		if _, err := tx.ExecContext(ctx, copyValues, node.ID, *node.TemplateID); err != nil {
			return fmt.Errorf("copy template values: %w", err)
		}
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `UPDATE configuration_nodes SET updated_at = $2 WHERE id = $1`, node.ID, now)
		if err != nil {
			return fmt.Errorf("touch configuration node: %w", err)
		}
		if err := expectAffected(res); err != nil {
			return err
		}
		if err := insertActivityLog(ctx, tx, entry); err != nil {
			return err
		}
		node.UpdatedAt = now
		return nil
	})
}

// DeleteCascade removes the configuration with its values and exam mappings.
func (r *ConfigurationNodeRepository) DeleteCascade(ctx context.Context, node *models.ConfigurationNode, entry *models.UserActivityLog) error {
	return database.WithTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := lockUnusedConfiguration(ctx, tx, node.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM exam_configuration_map WHERE configuration_node_id = $1`, node.ID); err != nil {
			return fmt.Errorf("delete configuration mappings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM configuration_values WHERE configuration_node_id = $1`, node.ID); err != nil {
			return fmt.Errorf("delete configuration values: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM configuration_nodes WHERE id = $1`, node.ID)
		if err != nil {
			return fmt.Errorf("delete configuration node: %w", err)
		}
		if err := expectAffected(res); err != nil {
			return err
		}
		return insertActivityLog(ctx, tx, entry)
	})
}

const configurationInUseQuery = `SELECT EXISTS (
	SELECT 1 FROM exam_configuration_map m
	JOIN exams e ON e.id = m.exam_id
	WHERE m.configuration_node_id = $1 AND e.status IN ('UP_COMING', 'RUNNING')
)`

// lockUnusedConfiguration locks the configuration row for the rest of the
// transaction and fails when an upcoming or running exam uses it.
func lockUnusedConfiguration(ctx context.Context, tx *sqlx.Tx, nodeID string) error {
	var id string
	if err := tx.GetContext(ctx, &id, `SELECT id FROM configuration_nodes WHERE id = $1 FOR UPDATE`, nodeID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return fmt.Errorf("lock configuration node: %w", err)
	}
	var used bool
	if err := tx.GetContext(ctx, &used, configurationInUseQuery, nodeID); err != nil {
		return fmt.Errorf("check configuration usage: %w", err)
	}
	if used {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, models.MsgConfigurationInUse)
	}
	return nil
}
