package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/seb-admin-api/internal/dto"
	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

type bulkActionServiceMock struct {
	received *models.BulkAction
	err      error
}

func (m *bulkActionServiceMock) CollectDependencies(ctx context.Context, bulk *models.BulkAction) ([]models.EntityDependency, error) {
	m.received = bulk
	if m.err != nil {
		return nil, m.err
	}
	return []models.EntityDependency{{
		Parent: bulk.Sources[0],
		Self:   models.NewEntityKey("ind1", models.EntityTypeIndicator),
		Name:   "cpu",
	}}, nil
}

func (m *bulkActionServiceMock) DoBulkAction(ctx context.Context, bulk *models.BulkAction) (*models.EntityProcessingReport, error) {
	m.received = bulk
	if m.err != nil {
		return nil, m.err
	}
	return &models.EntityProcessingReport{Type: bulk.Type, Source: bulk.Sources, Results: bulk.Sources}, nil
}

func TestBulkActionHandlerDependencies(t *testing.T) {
	svc := &bulkActionServiceMock{}
	c, w := newJSONContext(t, http.MethodPost, "/bulk-actions/dependencies", dto.BulkActionRequest{
		Type:    "HARD_DELETE",
		Sources: []dto.EntityKeyRequest{{ModelID: "x1", EntityType: "EXAM"}},
		Include: []string{"INDICATOR"},
	})

	NewBulkActionHandler(svc, nil).Dependencies(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"model_id":"ind1"`)
	require.True(t, svc.received.Includes(models.EntityTypeIndicator))
	require.False(t, svc.received.Includes(models.EntityTypeClientConnection))
}

func TestBulkActionHandlerExecute(t *testing.T) {
	svc := &bulkActionServiceMock{}
	c, w := newJSONContext(t, http.MethodPost, "/bulk-actions", dto.BulkActionRequest{
		Type:    "DEACTIVATE",
		Sources: []dto.EntityKeyRequest{{ModelID: "x1", EntityType: "EXAM"}},
	})

	NewBulkActionHandler(svc, nil).Execute(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, svc.received.Includes(models.EntityTypeIndicator), "no include list selects all types")
	require.Contains(t, w.Body.String(), `"type":"DEACTIVATE"`)
}

func TestBulkActionHandlerRejectsBadPayloads(t *testing.T) {
	payloads := []interface{}{
		`not json`,
		dto.BulkActionRequest{Type: "EXPLODE", Sources: []dto.EntityKeyRequest{{ModelID: "x1", EntityType: "EXAM"}}},
		dto.BulkActionRequest{Type: "ACTIVATE"},
		dto.BulkActionRequest{Type: "ACTIVATE", Sources: []dto.EntityKeyRequest{{ModelID: "x1", EntityType: "PLANET"}}},
		dto.BulkActionRequest{Type: "ACTIVATE", Sources: []dto.EntityKeyRequest{
			{ModelID: "x1", EntityType: "EXAM"},
			{ModelID: "i1", EntityType: "INSTITUTION"},
		}},
	}
	for _, payload := range payloads {
		svc := &bulkActionServiceMock{}
		c, w := newJSONContext(t, http.MethodPost, "/bulk-actions", payload)
		NewBulkActionHandler(svc, nil).Execute(c)
		require.Equal(t, http.StatusBadRequest, w.Code, payload)
		require.Nil(t, svc.received)
	}
}

func TestBulkActionHandlerMapsProcessedError(t *testing.T) {
	svc := &bulkActionServiceMock{err: appErrors.ErrBulkActionProcessed}
	c, w := newJSONContext(t, http.MethodPost, "/bulk-actions", dto.BulkActionRequest{
		Type:    "HARD_DELETE",
		Sources: []dto.EntityKeyRequest{{ModelID: "x1", EntityType: "EXAM"}},
	})

	NewBulkActionHandler(svc, nil).Execute(c)
	require.Equal(t, http.StatusConflict, w.Code)
}
