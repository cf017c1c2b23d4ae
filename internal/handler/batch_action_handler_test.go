package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/seb-admin-api/internal/dto"
	"github.com/noah-isme/seb-admin-api/internal/middleware"
	"github.com/noah-isme/seb-admin-api/internal/models"
	"github.com/noah-isme/seb-admin-api/internal/service"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

type batchActionServiceMock struct {
	registered  *service.NewBatchActionRequest
	registerErr error
	action      *models.BatchAction
	running     []models.BatchAction
	finished    []models.BatchAction
	listedInst  string
	deleted     string
	deleteErr   error
}

func (m *batchActionServiceMock) DeleteFinishedAction(ctx context.Context, id string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = id
	return nil
}

func (m *batchActionServiceMock) RegisterNewBatchAction(ctx context.Context, req service.NewBatchActionRequest) (*models.BatchAction, error) {
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	m.registered = &req
	return &models.BatchAction{ID: "b1", ActionType: req.ActionType, SourceIDs: req.SourceIDs}, nil
}

func (m *batchActionServiceMock) GetRunningAction(ctx context.Context, id string) (*models.BatchAction, error) {
	if m.action == nil || m.action.ID != id {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "batch action not found")
	}
	return m.action, nil
}

func (m *batchActionServiceMock) GetRunningActions(ctx context.Context, institutionID string, entityType models.EntityType) ([]models.BatchAction, error) {
	m.listedInst = institutionID
	return m.running, nil
}

func (m *batchActionServiceMock) GetFinishedActions(ctx context.Context, institutionID string, entityType models.EntityType) ([]models.BatchAction, error) {
	m.listedInst = institutionID
	return m.finished, nil
}

func newJSONContext(t *testing.T, method, target string, payload interface{}) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var body []byte
	switch p := payload.(type) {
	case nil:
	case string:
		body = []byte(p)
	default:
		var err error
		body, err = json.Marshal(p)
		require.NoError(t, err)
	}
	req, _ := http.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	principal := models.Principal{UserID: "u1", InstitutionID: "inst-1", Role: models.RoleExamAdmin}
	c.Request = req.WithContext(service.WithPrincipal(req.Context(), principal))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "u1", InstitutionID: "inst-1", Role: models.RoleExamAdmin})
	return c, w
}

func TestBatchActionHandlerCreate(t *testing.T) {
	svc := &batchActionServiceMock{}
	h := NewBatchActionHandler(svc, nil)
	c, w := newJSONContext(t, http.MethodPost, "/batch-actions", dto.CreateBatchActionRequest{
		ActionType: "EXAM_CONFIG_STATE_CHANGE",
		Attributes: map[string]string{models.AttrTargetState: "READY_TO_USE"},
		SourceIDs:  []string{"c1", "c2"},
	})

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
	require.NotNil(t, svc.registered)
	require.Equal(t, models.BatchActionExamConfigStateChange, svc.registered.ActionType)
	require.Equal(t, "READY_TO_USE", svc.registered.Attributes[models.AttrTargetState])

	var envelope struct {
		Data dto.BatchActionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, "b1", envelope.Data.ID)
	require.Equal(t, models.BatchActionStatePending, envelope.Data.State)
}

func TestBatchActionHandlerCreateValidation(t *testing.T) {
	cases := map[string]interface{}{
		"malformed":    `{"action_type":`,
		"unknown type": dto.CreateBatchActionRequest{ActionType: "FORMAT_DISK", SourceIDs: []string{"x"}},
		"no sources":   dto.CreateBatchActionRequest{ActionType: "DELETE_EXAM"},
		"blank source": dto.CreateBatchActionRequest{ActionType: "DELETE_EXAM", SourceIDs: []string{""}},
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			svc := &batchActionServiceMock{}
			c, w := newJSONContext(t, http.MethodPost, "/batch-actions", payload)
			NewBatchActionHandler(svc, nil).Create(c)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Nil(t, svc.registered)
		})
	}
}

func TestBatchActionHandlerCreateMapsServiceErrors(t *testing.T) {
	svc := &batchActionServiceMock{registerErr: appErrors.Clone(appErrors.ErrValidation, "missing attribute batchActionTargetState")}
	c, w := newJSONContext(t, http.MethodPost, "/batch-actions", dto.CreateBatchActionRequest{
		ActionType: "EXAM_CONFIG_STATE_CHANGE",
		SourceIDs:  []string{"c1"},
	})

	NewBatchActionHandler(svc, nil).Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "batchActionTargetState")
}

func TestBatchActionHandlerGet(t *testing.T) {
	finished := "tok" + models.BatchActionFinishedFlag
	svc := &batchActionServiceMock{action: &models.BatchAction{
		ID:          "b1",
		ActionType:  models.BatchActionDeleteExam,
		SourceIDs:   []string{"e1", "e2"},
		Successful:  []string{"e1"},
		Failures:    map[string]string{"e2": "PRECONDITION_FAILED: busy"},
		ProcessorID: &finished,
	}}
	h := NewBatchActionHandler(svc, nil)

	c, w := newJSONContext(t, http.MethodGet, "/batch-actions/b1", nil)
	c.Params = gin.Params{{Key: "id", Value: "b1"}}
	h.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotContains(t, w.Body.String(), "tok_FINISHED")

	var envelope struct {
		Data dto.BatchActionResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.Equal(t, 100, envelope.Data.Progress)
	require.Equal(t, models.BatchActionStateFinished, envelope.Data.State)

	c, w = newJSONContext(t, http.MethodGet, "/batch-actions/nope", nil)
	c.Params = gin.Params{{Key: "id", Value: "nope"}}
	h.Get(c)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchActionHandlerList(t *testing.T) {
	svc := &batchActionServiceMock{
		running:  []models.BatchAction{{ID: "r1", SourceIDs: []string{"a"}}},
		finished: []models.BatchAction{{ID: "f1", SourceIDs: []string{"b"}}},
	}
	h := NewBatchActionHandler(svc, nil)

	c, w := newJSONContext(t, http.MethodGet, "/batch-actions?state=running", nil)
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"r1"`)
	require.NotContains(t, w.Body.String(), `"f1"`)
	require.Equal(t, "inst-1", svc.listedInst)

	c, w = newJSONContext(t, http.MethodGet, "/batch-actions", nil)
	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"f1"`)
	require.Contains(t, w.Body.String(), `"count":2`)

	c, w = newJSONContext(t, http.MethodGet, "/batch-actions?state=paused", nil)
	h.List(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchActionHandlerDelete(t *testing.T) {
	svc := &batchActionServiceMock{}
	h := NewBatchActionHandler(svc, nil)

	c, w := newJSONContext(t, http.MethodDelete, "/batch-actions/b1", nil)
	c.Params = gin.Params{{Key: "id", Value: "b1"}}
	h.Delete(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "b1", svc.deleted)

	svc.deleteErr = appErrors.Clone(appErrors.ErrPreconditionFailed, "batch action has not finished yet")
	c, w = newJSONContext(t, http.MethodDelete, "/batch-actions/b2", nil)
	c.Params = gin.Params{{Key: "id", Value: "b2"}}
	h.Delete(c)
	require.Equal(t, http.StatusPreconditionFailed, w.Code)
}
