package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewBulkActionRejectsMixedSources(t *testing.T) {
	_, err := NewBulkAction(BulkActionHardDelete, []EntityKey{
		NewEntityKey("e1", EntityTypeExam),
		NewEntityKey("c1", EntityTypeConfigurationNode),
	}, nil)
	require.ErrorIs(t, err, ErrMixedSourceTypes)

	_, err = NewBulkAction(BulkActionHardDelete, nil, nil)
	require.ErrorIs(t, err, ErrNoBulkSources)

	_, err = NewBulkAction("PURGE", []EntityKey{NewEntityKey("e1", EntityTypeExam)}, nil)
	require.Error(t, err)
}

func TestBulkActionIncludeFilter(t *testing.T) {
	all, err := NewBulkAction(BulkActionDeactivate, []EntityKey{NewEntityKey("e1", EntityTypeExam)}, nil)
	require.NoError(t, err)
	require.True(t, all.Includes(EntityTypeIndicator))
	require.Nil(t, all.IncludeFilter())

	none, err := NewBulkAction(BulkActionDeactivate, []EntityKey{NewEntityKey("e1", EntityTypeExam)}, []EntityType{})
	require.NoError(t, err)
	require.False(t, none.Includes(EntityTypeIndicator))

	some, err := NewBulkAction(BulkActionDeactivate, []EntityKey{NewEntityKey("e1", EntityTypeExam)}, []EntityType{EntityTypeIndicator})
	require.NoError(t, err)
	require.True(t, some.Includes(EntityTypeIndicator))
	require.False(t, some.Includes(EntityTypeClientConnection))
}

func TestBulkActionDeduplicatesDependencies(t *testing.T) {
	action, err := NewBulkAction(BulkActionHardDelete, []EntityKey{NewEntityKey("inst-1", EntityTypeInstitution)}, nil)
	require.NoError(t, err)

	exam := NewEntityKey("exam-1", EntityTypeExam)
	action.AddDependencies(
		EntityDependency{Parent: NewEntityKey("inst-1", EntityTypeInstitution), Self: exam},
		EntityDependency{Parent: NewEntityKey("lms-1", EntityTypeLmsSetup), Self: exam},
		EntityDependency{Parent: NewEntityKey("lms-1", EntityTypeLmsSetup), Self: NewEntityKey("lms-1", EntityTypeLmsSetup)},
	)

	require.Len(t, action.Dependencies(), 2)
	require.Len(t, action.DependantsOfType(EntityTypeExam), 1)
	require.Len(t, action.SourcesAndDependencyKeys(), 3)
}

func TestBulkActionLifecycle(t *testing.T) {
	ctx := context.Background()
	action, err := NewBulkAction(BulkActionActivate, []EntityKey{NewEntityKey("e1", EntityTypeExam)}, nil)
	require.NoError(t, err)
	require.Equal(t, BulkStateNew, action.State())
	require.False(t, action.AlreadyProcessed())

	require.Error(t, action.Fire(ctx, BulkEventProcessSources))

	require.NoError(t, action.Fire(ctx, BulkEventCollect))
	require.True(t, action.DependenciesCollected())
	require.False(t, action.AlreadyProcessed())

	require.NoError(t, action.Fire(ctx, BulkEventProcessDependent))
	require.True(t, action.AlreadyProcessed())
	require.NoError(t, action.Fire(ctx, BulkEventProcessSources))
	require.NoError(t, action.Fire(ctx, BulkEventReport))
	require.Equal(t, BulkStateReported, action.State())

	require.False(t, action.Can(BulkEventAbort))
	require.Error(t, action.Fire(ctx, BulkEventCollect))
}

func TestBulkActionAbort(t *testing.T) {
	action, err := NewBulkAction(BulkActionActivate, []EntityKey{NewEntityKey("e1", EntityTypeExam)}, nil)
	require.NoError(t, err)
	require.NoError(t, action.Fire(context.Background(), BulkEventAbort))
	require.Equal(t, BulkStateAborted, action.State())
	require.True(t, action.AlreadyProcessed())
}
