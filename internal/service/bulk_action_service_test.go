package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

type processLog struct {
	mu    sync.Mutex
	order []models.EntityType
}

func (l *processLog) add(t models.EntityType) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, t)
}

// fakeSupport serves a fixed dependency graph for one entity type.
type fakeSupport struct {
	entityType models.EntityType
	// children by parent key
	children map[models.EntityKey][]string
	failing  map[string]bool
	missing  map[string]bool
	// institution of every row, inst-1 when empty
	institution string
	log         *processLog
	lookups     int
}

func (f *fakeSupport) EntityType() models.EntityType { return f.entityType }

func (f *fakeSupport) GrantEntities(ctx context.Context, keys []models.EntityKey) ([]models.GrantEntity, error) {
	institution := f.institution
	if institution == "" {
		institution = "inst-1"
	}
	entities := make([]models.GrantEntity, 0, len(keys))
	for _, k := range keys {
		if f.missing[k.ModelID] {
			return nil, appErrors.Clone(appErrors.ErrNotFound, k.String()+" not found")
		}
		entities = append(entities, models.EntityRef{Ref: k, InstitutionID: institution})
	}
	return entities, nil
}

func (f *fakeSupport) GetDependencies(ctx context.Context, bulk *models.BulkAction) ([]models.EntityDependency, error) {
	f.lookups++
	var deps []models.EntityDependency
	for _, parent := range bulk.SourcesAndDependencyKeys() {
		for _, id := range f.children[parent] {
			deps = append(deps, models.EntityDependency{
				Parent: parent,
				Self:   models.NewEntityKey(id, f.entityType),
				Name:   id,
			})
		}
	}
	return deps, nil
}

func (f *fakeSupport) ProcessBulkAction(ctx context.Context, bulk *models.BulkAction) ([]models.BulkActionResult, error) {
	keys := make([]models.EntityKey, 0)
	if bulk.SourceType == f.entityType {
		keys = append(keys, bulk.Sources...)
	} else {
		for _, dep := range bulk.DependantsOfType(f.entityType) {
			keys = append(keys, dep.Self)
		}
	}
	if f.log != nil && len(keys) > 0 {
		f.log.add(f.entityType)
	}
	results := make([]models.BulkActionResult, 0, len(keys))
	for _, key := range keys {
		var err error
		if f.failing[key.ModelID] {
			err = appErrors.Clone(appErrors.ErrPreconditionFailed, "entity is locked")
		}
		results = append(results, models.BulkActionResult{Key: key, Err: err})
	}
	return results, nil
}

type eventRecorder struct {
	events []BulkActionCompletedEvent
}

func (e *eventRecorder) PublishBulkActionCompleted(ctx context.Context, event BulkActionCompletedEvent) error {
	e.events = append(e.events, event)
	return nil
}

func newBulkService(t *testing.T, activity *activityStub, supports ...BulkActionSupport) (*BulkActionService, *eventRecorder) {
	t.Helper()
	return newAuthorizedBulkService(t, &authzStub{}, activity, supports...)
}

func newAuthorizedBulkService(t *testing.T, authz bulkAuthorizer, activity *activityStub, supports ...BulkActionSupport) (*BulkActionService, *eventRecorder) {
	t.Helper()
	registry, err := NewBulkSupportRegistry(supports...)
	require.NoError(t, err)
	events := &eventRecorder{}
	svc := NewBulkActionService(registry, NewDependencyResolver(registry, nil), authz, activity, nil, WithBulkActionEvents(events))
	return svc, events
}

func key(id string, t models.EntityType) models.EntityKey {
	return models.NewEntityKey(id, t)
}

func institutionGraph(log *processLog) []BulkActionSupport {
	inst := key("i1", models.EntityTypeInstitution)
	lms := key("l1", models.EntityTypeLmsSetup)
	user := key("u1", models.EntityTypeUser)
	exam := key("x1", models.EntityTypeExam)
	node := key("n1", models.EntityTypeConfigurationNode)
	return []BulkActionSupport{
		&fakeSupport{entityType: models.EntityTypeInstitution, log: log},
		&fakeSupport{entityType: models.EntityTypeLmsSetup, log: log, children: map[models.EntityKey][]string{inst: {"l1"}}},
		&fakeSupport{entityType: models.EntityTypeUser, log: log, children: map[models.EntityKey][]string{inst: {"u1"}}},
		&fakeSupport{entityType: models.EntityTypeExam, log: log, children: map[models.EntityKey][]string{lms: {"x1"}, user: {"x1"}}},
		&fakeSupport{entityType: models.EntityTypeIndicator, log: log, children: map[models.EntityKey][]string{exam: {"ind1"}}},
		&fakeSupport{entityType: models.EntityTypeSEBClientConfiguration, log: log, children: map[models.EntityKey][]string{inst: {"s1"}}},
		&fakeSupport{entityType: models.EntityTypeExamConfigurationMap, log: log, children: map[models.EntityKey][]string{exam: {"m1"}, node: {"m1"}}},
		&fakeSupport{entityType: models.EntityTypeClientConnection, log: log, children: map[models.EntityKey][]string{exam: {"c1"}}},
		&fakeSupport{entityType: models.EntityTypeConfigurationNode, log: log, children: map[models.EntityKey][]string{inst: {"n1"}}},
	}
}

func TestDoBulkActionHardDeleteInstitutionRunsChildrenFirst(t *testing.T) {
	log := &processLog{}
	activity := &activityStub{}
	svc, events := newBulkService(t, activity, institutionGraph(log)...)

	bulk, err := models.NewBulkAction(models.BulkActionHardDelete, []models.EntityKey{key("i1", models.EntityTypeInstitution)}, nil)
	require.NoError(t, err)

	report, err := svc.DoBulkAction(ownerContext(), bulk)
	require.NoError(t, err)
	require.Equal(t, []models.EntityType{
		models.EntityTypeConfigurationNode,
		models.EntityTypeClientConnection,
		models.EntityTypeExamConfigurationMap,
		models.EntityTypeSEBClientConfiguration,
		models.EntityTypeIndicator,
		models.EntityTypeExam,
		models.EntityTypeUser,
		models.EntityTypeLmsSetup,
		models.EntityTypeInstitution,
	}, log.order)

	// x1 and m1 are reachable twice but collected once
	require.Len(t, bulk.Dependencies(), 8)
	require.Len(t, report.Results, 9)
	require.Empty(t, report.Errors)
	require.Equal(t, models.BulkStateReported, bulk.State())
	require.Len(t, events.events, 1)
	require.Equal(t, 9, events.events[0].Processed)
	require.Equal(t, "owner-1", events.events[0].PrincipalID)
}

func TestDoBulkActionHardDeleteExamLogsDependentsFirst(t *testing.T) {
	exam := key("x1", models.EntityTypeExam)
	activity := &activityStub{}
	svc, _ := newBulkService(t, activity,
		&fakeSupport{entityType: models.EntityTypeExam},
		&fakeSupport{entityType: models.EntityTypeIndicator, children: map[models.EntityKey][]string{exam: {"ind1"}}},
		&fakeSupport{entityType: models.EntityTypeExamConfigurationMap, children: map[models.EntityKey][]string{exam: {"m1"}}},
	)

	bulk, err := models.NewBulkAction(models.BulkActionHardDelete, []models.EntityKey{exam}, nil)
	require.NoError(t, err)

	report, err := svc.DoBulkAction(ownerContext(), bulk)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	require.Equal(t, exam, report.Results[len(report.Results)-1])

	entries := activity.snapshot()
	require.Len(t, entries, 3)
	for _, entry := range entries {
		require.Equal(t, models.ActivityDelete, entry.ActivityType)
	}
	require.Contains(t, entries[0].Message, "Bulk Action - Dependency")
	require.Contains(t, entries[1].Message, "Bulk Action - Dependency")
	require.Equal(t, "Bulk Action - Source : EXAM:x1", entries[2].Message)
}

func TestDoBulkActionRequiresWriteAccessOnSources(t *testing.T) {
	log := &processLog{}
	activity := &activityStub{}
	svc, events := newAuthorizedBulkService(t, NewAuthorizationService(nil), activity, institutionGraph(log)...)
	foreignAdmin := WithPrincipal(context.Background(), models.Principal{
		UserID: "admin-2", InstitutionID: "other-inst", Role: models.RoleInstitutionalAdmin,
	})

	bulk, err := models.NewBulkAction(models.BulkActionHardDelete, []models.EntityKey{key("i1", models.EntityTypeInstitution)}, nil)
	require.NoError(t, err)
	_, err = svc.DoBulkAction(foreignAdmin, bulk)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	require.Empty(t, log.order)
	require.Empty(t, activity.snapshot())
	require.Empty(t, events.events)
	require.Equal(t, models.BulkStateAborted, bulk.State())

	preview, err := models.NewBulkAction(models.BulkActionDeactivate, []models.EntityKey{key("x1", models.EntityTypeExam)}, nil)
	require.NoError(t, err)
	_, err = svc.CollectDependencies(foreignAdmin, preview)
	require.ErrorIs(t, err, appErrors.ErrForbidden)
	require.Empty(t, preview.Dependencies())

	ownAdmin := WithPrincipal(context.Background(), models.Principal{
		UserID: "admin-1", InstitutionID: "inst-1", Role: models.RoleInstitutionalAdmin,
	})
	allowed, err := models.NewBulkAction(models.BulkActionDeactivate, []models.EntityKey{key("x1", models.EntityTypeExam)}, nil)
	require.NoError(t, err)
	_, err = svc.DoBulkAction(ownAdmin, allowed)
	require.NoError(t, err)
	require.Contains(t, log.order, models.EntityTypeExam)
}

func TestDoBulkActionAbortsOnMissingSource(t *testing.T) {
	log := &processLog{}
	svc, _ := newBulkService(t, &activityStub{},
		&fakeSupport{entityType: models.EntityTypeExam, log: log, missing: map[string]bool{"x9": true}},
	)

	bulk, err := models.NewBulkAction(models.BulkActionHardDelete, []models.EntityKey{key("x9", models.EntityTypeExam)}, nil)
	require.NoError(t, err)
	_, err = svc.DoBulkAction(ownerContext(), bulk)
	require.ErrorIs(t, err, appErrors.ErrNotFound)
	require.Empty(t, log.order)
}

func TestDoBulkActionRunsOnce(t *testing.T) {
	log := &processLog{}
	activity := &activityStub{}
	svc, _ := newBulkService(t, activity, &fakeSupport{entityType: models.EntityTypeExam, log: log})

	bulk, err := models.NewBulkAction(models.BulkActionDeactivate, []models.EntityKey{key("x1", models.EntityTypeExam)}, nil)
	require.NoError(t, err)

	_, err = svc.DoBulkAction(ownerContext(), bulk)
	require.NoError(t, err)
	logged := len(activity.snapshot())

	_, err = svc.DoBulkAction(ownerContext(), bulk)
	require.ErrorIs(t, err, appErrors.ErrBulkActionProcessed)
	require.Len(t, log.order, 1)
	require.Len(t, activity.snapshot(), logged)

	_, err = svc.CollectDependencies(ownerContext(), bulk)
	require.ErrorIs(t, err, appErrors.ErrBulkActionProcessed)
}

func TestDoBulkActionReportsFailures(t *testing.T) {
	exam := key("x1", models.EntityTypeExam)
	activity := &activityStub{}
	svc, events := newBulkService(t, activity,
		&fakeSupport{entityType: models.EntityTypeExam},
		&fakeSupport{entityType: models.EntityTypeIndicator, children: map[models.EntityKey][]string{exam: {"ind1", "ind2"}}, failing: map[string]bool{"ind2": true}},
	)

	bulk, err := models.NewBulkAction(models.BulkActionActivate, []models.EntityKey{exam}, nil)
	require.NoError(t, err)

	report, err := svc.DoBulkAction(ownerContext(), bulk)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)
	require.Len(t, report.Errors, 1)
	require.Equal(t, key("ind2", models.EntityTypeIndicator), report.Errors[0].Key)
	require.Equal(t, "PRECONDITION_FAILED: entity is locked", report.Errors[0].Message)
	require.Len(t, activity.snapshot(), 2)
	require.Equal(t, models.ActivityActivate, activity.snapshot()[0].ActivityType)
	require.Equal(t, 1, events.events[0].Failed)
}

func TestDoBulkActionAbortsWithoutSourceSupport(t *testing.T) {
	svc, _ := newBulkService(t, &activityStub{}, &fakeSupport{entityType: models.EntityTypeIndicator})

	bulk, err := models.NewBulkAction(models.BulkActionHardDelete, []models.EntityKey{key("x1", models.EntityTypeExam)}, nil)
	require.NoError(t, err)

	_, err = svc.DoBulkAction(ownerContext(), bulk)
	require.ErrorIs(t, err, appErrors.ErrActionTypeUnsupported)
	require.Equal(t, models.BulkStateAborted, bulk.State())

	_, err = svc.DoBulkAction(ownerContext(), bulk)
	require.ErrorIs(t, err, appErrors.ErrBulkActionProcessed)
}

func TestDoBulkActionHonoursIncludeFilter(t *testing.T) {
	exam := key("x1", models.EntityTypeExam)
	log := &processLog{}
	svc, _ := newBulkService(t, &activityStub{},
		&fakeSupport{entityType: models.EntityTypeExam, log: log},
		&fakeSupport{entityType: models.EntityTypeIndicator, log: log, children: map[models.EntityKey][]string{exam: {"ind1"}}},
		&fakeSupport{entityType: models.EntityTypeClientConnection, log: log, children: map[models.EntityKey][]string{exam: {"c1"}}},
	)

	bulk, err := models.NewBulkAction(models.BulkActionDeactivate, []models.EntityKey{exam}, []models.EntityType{models.EntityTypeIndicator})
	require.NoError(t, err)

	report, err := svc.DoBulkAction(ownerContext(), bulk)
	require.NoError(t, err)
	require.Equal(t, []models.EntityType{models.EntityTypeIndicator, models.EntityTypeExam}, log.order)
	require.Len(t, report.Results, 2)
}

func TestCollectDependenciesIsIdempotent(t *testing.T) {
	exam := key("x1", models.EntityTypeExam)
	indicators := &fakeSupport{entityType: models.EntityTypeIndicator, children: map[models.EntityKey][]string{exam: {"ind1"}}}
	svc, _ := newBulkService(t, &activityStub{}, &fakeSupport{entityType: models.EntityTypeExam}, indicators)

	bulk, err := models.NewBulkAction(models.BulkActionHardDelete, []models.EntityKey{exam}, nil)
	require.NoError(t, err)

	first, err := svc.CollectDependencies(ownerContext(), bulk)
	require.NoError(t, err)
	second, err := svc.CollectDependencies(ownerContext(), bulk)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, indicators.lookups)
	require.Equal(t, models.BulkStateDependenciesCollected, bulk.State())
}

func TestNewBulkActionRejectsMixedSources(t *testing.T) {
	_, err := models.NewBulkAction(models.BulkActionHardDelete, []models.EntityKey{
		key("x1", models.EntityTypeExam),
		key("i1", models.EntityTypeInstitution),
	}, nil)
	require.ErrorIs(t, err, models.ErrMixedSourceTypes)
}

func TestRegistriesRejectDuplicates(t *testing.T) {
	_, err := NewBulkSupportRegistry(&fakeSupport{entityType: models.EntityTypeExam}, &fakeSupport{entityType: models.EntityTypeExam})
	require.Error(t, err)

	_, err = NewExecutorRegistry(&funcExecutor{actionType: models.BatchActionDeleteExam}, &funcExecutor{actionType: models.BatchActionDeleteExam})
	require.Error(t, err)

	reg, err := NewExecutorRegistry(&funcExecutor{actionType: models.BatchActionDeleteExam}, &funcExecutor{actionType: models.BatchActionArchiveExam})
	require.NoError(t, err)
	require.Equal(t, []models.BatchActionType{models.BatchActionArchiveExam, models.BatchActionDeleteExam}, reg.Types())
}

func TestOrderForExecution(t *testing.T) {
	require.Equal(t, []models.EntityType{
		models.EntityTypeClientConnection,
		models.EntityTypeExamConfigurationMap,
		models.EntityTypeIndicator,
	}, OrderForExecution(models.BulkActionHardDelete, models.EntityTypeExam))
	require.Empty(t, OrderForExecution(models.BulkActionHardDelete, models.EntityTypeIndicator))
}

func TestIncludeClosure(t *testing.T) {
	require.Nil(t, IncludeClosure(nil))

	closure := IncludeClosure([]models.EntityType{models.EntityTypeLmsSetup})
	require.True(t, closure.Contains(models.EntityTypeLmsSetup))
	require.True(t, closure.Contains(models.EntityTypeExam))
	require.True(t, closure.Contains(models.EntityTypeIndicator))
	require.True(t, closure.Contains(models.EntityTypeClientConnection))
	require.False(t, closure.Contains(models.EntityTypeUser))

	require.Equal(t, 0, IncludeClosure([]models.EntityType{}).Cardinality())
}
