package service

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

// BulkActionSupport discovers dependents of and applies bulk actions to one
// entity type.
type BulkActionSupport interface {
	EntityType() models.EntityType
	GrantEntities(ctx context.Context, keys []models.EntityKey) ([]models.GrantEntity, error)
	GetDependencies(ctx context.Context, bulk *models.BulkAction) ([]models.EntityDependency, error)
	ProcessBulkAction(ctx context.Context, bulk *models.BulkAction) ([]models.BulkActionResult, error)
}

// BulkSupportRegistry maps entity types to their bulk support. It is built
// once at startup and read-only afterwards.
type BulkSupportRegistry struct {
	supports map[models.EntityType]BulkActionSupport
}

// NewBulkSupportRegistry registers the supports, rejecting duplicates.
func NewBulkSupportRegistry(supports ...BulkActionSupport) (*BulkSupportRegistry, error) {
	reg := &BulkSupportRegistry{supports: make(map[models.EntityType]BulkActionSupport, len(supports))}
	for _, s := range supports {
		if s == nil {
			continue
		}
		t := s.EntityType()
		if _, exists := reg.supports[t]; exists {
			return nil, fmt.Errorf("duplicate bulk support for entity type %s", t)
		}
		reg.supports[t] = s
	}
	return reg, nil
}

// Get returns the support for t.
func (r *BulkSupportRegistry) Get(t models.EntityType) (BulkActionSupport, bool) {
	s, ok := r.supports[t]
	return s, ok
}

// directDependencies lists which entity types directly depend on a type.
var directDependencies = map[models.EntityType][]models.EntityType{
	models.EntityTypeInstitution: {
		models.EntityTypeLmsSetup,
		models.EntityTypeSEBClientConfiguration,
		models.EntityTypeConfigurationNode,
		models.EntityTypeUser,
	},
	models.EntityTypeLmsSetup: {models.EntityTypeExam},
	models.EntityTypeExam: {
		models.EntityTypeExamConfigurationMap,
		models.EntityTypeIndicator,
		models.EntityTypeClientConnection,
	},
	models.EntityTypeConfigurationNode: {models.EntityTypeExamConfigurationMap},
}

// hierarchy lists the dependent types of a source type from parent to child.
var hierarchy = map[models.EntityType][]models.EntityType{
	models.EntityTypeInstitution: {
		models.EntityTypeLmsSetup,
		models.EntityTypeUser,
		models.EntityTypeExam,
		models.EntityTypeIndicator,
		models.EntityTypeSEBClientConfiguration,
		models.EntityTypeExamConfigurationMap,
		models.EntityTypeClientConnection,
		models.EntityTypeConfigurationNode,
	},
	models.EntityTypeUser: {
		models.EntityTypeExam,
		models.EntityTypeIndicator,
		models.EntityTypeClientConnection,
		models.EntityTypeConfigurationNode,
		models.EntityTypeExamConfigurationMap,
	},
	models.EntityTypeLmsSetup: {
		models.EntityTypeExam,
		models.EntityTypeIndicator,
		models.EntityTypeExamConfigurationMap,
		models.EntityTypeClientConnection,
	},
	models.EntityTypeExam: {
		models.EntityTypeIndicator,
		models.EntityTypeExamConfigurationMap,
		models.EntityTypeClientConnection,
	},
	models.EntityTypeConfigurationNode: {
		models.EntityTypeExamConfigurationMap,
	},
}

// DependencyResolver discovers and orders the dependents of bulk actions.
type DependencyResolver struct {
	registry *BulkSupportRegistry
	logger   *zap.Logger
}

// NewDependencyResolver constructs the resolver.
func NewDependencyResolver(registry *BulkSupportRegistry, logger *zap.Logger) *DependencyResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DependencyResolver{registry: registry, logger: logger}
}

// OrderForExecution returns the dependent types of sourceType in execution
// order. Activation, deactivation and deletion run children first.
func OrderForExecution(actionType models.BulkActionType, sourceType models.EntityType) []models.EntityType {
	natural := hierarchy[sourceType]
	order := make([]models.EntityType, len(natural))
	switch actionType {
	case models.BulkActionActivate, models.BulkActionDeactivate, models.BulkActionHardDelete:
		for i, t := range natural {
			order[len(natural)-1-i] = t
		}
	default:
		copy(order, natural)
	}
	return order
}

// IncludeClosure expands an include filter by every type depending on an
// included type. A nil filter stays nil, meaning all types.
func IncludeClosure(include []models.EntityType) mapset.Set[models.EntityType] {
	if include == nil {
		return nil
	}
	closure := mapset.NewThreadUnsafeSet[models.EntityType]()
	pending := append([]models.EntityType(nil), include...)
	for len(pending) > 0 {
		t := pending[0]
		pending = pending[1:]
		if !closure.Add(t) {
			continue
		}
		pending = append(pending, directDependencies[t]...)
	}
	return closure
}

// ExecutionOrder returns the dependent types taking part in bulk, in
// execution order.
func (r *DependencyResolver) ExecutionOrder(bulk *models.BulkAction) []models.EntityType {
	return r.filter(bulk, OrderForExecution(bulk.Type, bulk.SourceType))
}

func (r *DependencyResolver) filter(bulk *models.BulkAction, types []models.EntityType) []models.EntityType {
	include := IncludeClosure(bulk.IncludeFilter())
	out := make([]models.EntityType, 0, len(types))
	for _, t := range types {
		if include == nil || include.Contains(t) {
			out = append(out, t)
		}
	}
	return out
}

// CollectDependencies discovers the dependents of the bulk action's sources
// transitively. It only reads and is idempotent per bulk action.
func (r *DependencyResolver) CollectDependencies(ctx context.Context, bulk *models.BulkAction) ([]models.EntityDependency, error) {
	if bulk.DependenciesCollected() {
		return bulk.Dependencies(), nil
	}
	for _, t := range r.filter(bulk, hierarchy[bulk.SourceType]) {
		support, ok := r.registry.Get(t)
		if !ok {
			r.logger.Sugar().Warnw("no bulk support for dependent type", "entity_type", t, "source_type", bulk.SourceType)
			continue
		}
		deps, err := support.GetDependencies(ctx, bulk)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status,
				fmt.Sprintf("failed to collect %s dependencies", t))
		}
		bulk.AddDependencies(deps...)
	}
	if err := bulk.Fire(ctx, models.BulkEventCollect); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "bulk action cannot collect dependencies")
	}
	return bulk.Dependencies(), nil
}
