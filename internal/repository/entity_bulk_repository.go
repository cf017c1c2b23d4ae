package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

// EntityTable describes how an entity type is stored for bulk processing.
type EntityTable struct {
	Type         models.EntityType
	Table        string
	NameColumn   string
	ActiveColumn string
	// InstitutionColumn is a column or scalar subquery yielding the owning
	// institution of a row.
	InstitutionColumn string
	OwnerColumn       string
	// Parents maps a parent entity type to the referencing column.
	Parents map[models.EntityType]string
}

// DefaultEntityTables returns the storage layout of every bulk capable entity.
func DefaultEntityTables() []EntityTable {
	return []EntityTable{
		{Type: models.EntityTypeInstitution, Table: "institutions", NameColumn: "name", ActiveColumn: "active", InstitutionColumn: "id"},
		{
			Type: models.EntityTypeLmsSetup, Table: "lms_setups", NameColumn: "name", ActiveColumn: "active",
			InstitutionColumn: "institution_id",
			Parents:           map[models.EntityType]string{models.EntityTypeInstitution: "institution_id"},
		},
		{
			Type: models.EntityTypeUser, Table: "users", NameColumn: "username", ActiveColumn: "active",
			InstitutionColumn: "institution_id", OwnerColumn: "id",
			Parents: map[models.EntityType]string{models.EntityTypeInstitution: "institution_id"},
		},
		{
			Type: models.EntityTypeSEBClientConfiguration, Table: "seb_client_configurations", NameColumn: "name", ActiveColumn: "active",
			InstitutionColumn: "institution_id",
			Parents:           map[models.EntityType]string{models.EntityTypeInstitution: "institution_id"},
		},
		{
			Type: models.EntityTypeExam, Table: "exams", NameColumn: "name", ActiveColumn: "active",
			InstitutionColumn: "institution_id", OwnerColumn: "owner_id",
			Parents: map[models.EntityType]string{
				models.EntityTypeInstitution: "institution_id",
				models.EntityTypeLmsSetup:    "lms_setup_id",
				models.EntityTypeUser:        "owner_id",
			},
		},
		{
			Type: models.EntityTypeIndicator, Table: "indicators", NameColumn: "name",
			InstitutionColumn: "(SELECT e.institution_id FROM exams e WHERE e.id = indicators.exam_id)",
			Parents:           map[models.EntityType]string{models.EntityTypeExam: "exam_id"},
		},
		{
			Type: models.EntityTypeClientConnection, Table: "client_connections", NameColumn: "user_session_id",
			InstitutionColumn: "institution_id",
			Parents: map[models.EntityType]string{
				models.EntityTypeInstitution: "institution_id",
				models.EntityTypeExam:        "exam_id",
			},
		},
		{
			Type: models.EntityTypeConfigurationNode, Table: "configuration_nodes", NameColumn: "name",
			InstitutionColumn: "institution_id", OwnerColumn: "owner_id",
			Parents: map[models.EntityType]string{
				models.EntityTypeInstitution: "institution_id",
				models.EntityTypeUser:        "owner_id",
			},
		},
		{
			Type: models.EntityTypeExamConfigurationMap, Table: "exam_configuration_map", NameColumn: "id",
			InstitutionColumn: "institution_id",
			Parents: map[models.EntityType]string{
				models.EntityTypeInstitution:       "institution_id",
				models.EntityTypeExam:              "exam_id",
				models.EntityTypeConfigurationNode: "configuration_node_id",
			},
		},
	}
}

// EntityBulkRepository implements bulk dependency discovery and processing
// for one entity table.
type EntityBulkRepository struct {
	db    *sqlx.DB
	table EntityTable
}

// NewEntityBulkRepository constructs the repository for one table.
func NewEntityBulkRepository(db *sqlx.DB, table EntityTable) *EntityBulkRepository {
	return &EntityBulkRepository{db: db, table: table}
}

// EntityType returns the handled entity type.
func (r *EntityBulkRepository) EntityType() models.EntityType {
	return r.table.Type
}

// GrantEntities loads the institution and owner of the given rows. A key
// without a row is reported as not found.
func (r *EntityBulkRepository) GrantEntities(ctx context.Context, keys []models.EntityKey) ([]models.GrantEntity, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(keys))
	for _, key := range keys {
		ids = append(ids, key.ModelID)
	}
	owner := "''"
	if r.table.OwnerColumn != "" {
		owner = fmt.Sprintf("COALESCE(%s::text, '')", r.table.OwnerColumn)
	}
	query := fmt.Sprintf(`SELECT id::text AS id, COALESCE(%s::text, '') AS institution_id, %s AS owner_id FROM %s WHERE id::text = ANY($1)`,
		r.table.InstitutionColumn, owner, r.table.Table)
	var rows []struct {
		ID            string `db:"id"`
		InstitutionID string `db:"institution_id"`
		OwnerID       string `db:"owner_id"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("load %s grants: %w", r.table.Table, err)
	}
	byID := make(map[string]models.EntityRef, len(rows))
	for _, row := range rows {
		byID[row.ID] = models.EntityRef{
			Ref:           models.NewEntityKey(row.ID, r.table.Type),
			InstitutionID: row.InstitutionID,
			OwnerID:       row.OwnerID,
		}
	}
	entities := make([]models.GrantEntity, 0, len(keys))
	for _, key := range keys {
		ref, ok := byID[key.ModelID]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("%s not found", key))
		}
		entities = append(entities, ref)
	}
	return entities, nil
}

// GetDependencies returns the rows of this table referencing any source or
// already collected dependency of the bulk action.
func (r *EntityBulkRepository) GetDependencies(ctx context.Context, bulk *models.BulkAction) ([]models.EntityDependency, error) {
	if len(r.table.Parents) == 0 {
		return nil, nil
	}
	parentIDs := make(map[models.EntityType][]string)
	for _, key := range bulk.SourcesAndDependencyKeys() {
		if _, ok := r.table.Parents[key.EntityType]; ok {
			parentIDs[key.EntityType] = append(parentIDs[key.EntityType], key.ModelID)
		}
	}

	parentTypes := make([]string, 0, len(parentIDs))
	for t := range parentIDs {
		parentTypes = append(parentTypes, string(t))
	}
	sort.Strings(parentTypes)

	var deps []models.EntityDependency
	for _, raw := range parentTypes {
		parentType := models.EntityType(raw)
		column := r.table.Parents[parentType]
		query := fmt.Sprintf(`SELECT id, %s::text AS name, %s AS parent_id FROM %s WHERE %s = ANY($1) ORDER BY id`,
			r.table.NameColumn, column, r.table.Table, column)
		var rows []struct {
			ID       string `db:"id"`
			Name     string `db:"name"`
			ParentID string `db:"parent_id"`
		}
		if err := r.db.SelectContext(ctx, &rows, query, pq.Array(parentIDs[parentType])); err != nil {
			return nil, fmt.Errorf("load %s dependencies: %w", r.table.Table, err)
		}
		for _, row := range rows {
			deps = append(deps, models.EntityDependency{
				Parent: models.NewEntityKey(row.ParentID, parentType),
				Self:   models.NewEntityKey(row.ID, r.table.Type),
				Name:   row.Name,
			})
		}
	}
	return deps, nil
}

// ProcessBulkAction applies the bulk action to this table's sources or
// dependents. Item failures are reported per result.
func (r *EntityBulkRepository) ProcessBulkAction(ctx context.Context, bulk *models.BulkAction) ([]models.BulkActionResult, error) {
	var keys []models.EntityKey
	if bulk.SourceType == r.table.Type {
		keys = bulk.Sources
	} else {
		for _, dep := range bulk.DependantsOfType(r.table.Type) {
			keys = append(keys, dep.Self)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}

	var query string
	switch bulk.Type {
	case models.BulkActionActivate, models.BulkActionDeactivate:
		if r.table.ActiveColumn == "" {
			return nil, nil
		}
		query = fmt.Sprintf(`UPDATE %s SET %s = $2 WHERE id = $1`, r.table.Table, r.table.ActiveColumn)
	case models.BulkActionHardDelete:
		query = fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, r.table.Table)
	default:
		return nil, appErrors.Clone(appErrors.ErrActionTypeUnsupported, fmt.Sprintf("bulk action %s not supported for %s", bulk.Type, r.table.Type))
	}

	results := make([]models.BulkActionResult, 0, len(keys))
	for _, key := range keys {
		var err error
		if bulk.Type == models.BulkActionHardDelete {
			err = r.exec(ctx, query, key.ModelID)
		} else {
			err = r.exec(ctx, query, key.ModelID, bulk.Type == models.BulkActionActivate)
		}
		results = append(results, models.BulkActionResult{Key: key, Err: err})
	}
	return results, nil
}

func (r *EntityBulkRepository) exec(ctx context.Context, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s bulk update: %w", r.table.Table, err)
	}
	return expectAffected(res)
}
