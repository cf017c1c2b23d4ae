package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/noah-isme/seb-admin-api/internal/models"
	"github.com/noah-isme/seb-admin-api/internal/repository"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

type activityStub struct {
	mu      sync.Mutex
	entries []*models.UserActivityLog
	err     error
}

func (a *activityStub) NewEntry(ctx context.Context, activity models.UserLogActivityType, key models.EntityKey, message string) (*models.UserActivityLog, error) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, appErrors.ErrUnauthorized
	}
	return &models.UserActivityLog{UserID: p.UserID, ActivityType: activity, EntityType: key.EntityType, EntityID: key.ModelID, Message: message}, nil
}

func (a *activityStub) Log(ctx context.Context, activity models.UserLogActivityType, key models.EntityKey, message string) error {
	if a.err != nil {
		return a.err
	}
	entry, err := a.NewEntry(ctx, activity, key, message)
	if err != nil {
		return err
	}
	a.record(entry)
	return nil
}

func (a *activityStub) LogDependency(ctx context.Context, activity models.UserLogActivityType, dep models.EntityDependency) error {
	return a.Log(ctx, activity, dep.Self, "Bulk Action - Dependency : "+dep.Self.String())
}

func (a *activityStub) record(entry *models.UserActivityLog) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *activityStub) snapshot() []*models.UserActivityLog {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.UserActivityLog(nil), a.entries...)
}

type authzStub struct {
	err error
}

func (a *authzStub) Check(ctx context.Context, privilege PrivilegeType, entityType models.EntityType, institutionID string) error {
	if _, ok := PrincipalFromContext(ctx); !ok {
		return appErrors.ErrUnauthorized
	}
	return a.err
}

func (a *authzStub) CheckRead(ctx context.Context, entity models.GrantEntity) error {
	return a.err
}

func (a *authzStub) CheckWrite(ctx context.Context, entity models.GrantEntity) error {
	if _, ok := PrincipalFromContext(ctx); !ok {
		return appErrors.ErrUnauthorized
	}
	return a.err
}

type examStoreStub struct {
	mu       sync.Mutex
	exams    map[string]*models.Exam
	active   map[string]bool
	deleted  []string
	archived []string
	logs     []*models.UserActivityLog

	// deleteErr is returned by DeleteCascade, as when the store's own
	// recheck inside the transaction fails.
	deleteErr error
}

func newExamStoreStub(ids ...string) *examStoreStub {
	s := &examStoreStub{exams: map[string]*models.Exam{}, active: map[string]bool{}}
	for _, id := range ids {
		s.exams[id] = &models.Exam{ID: id, InstitutionID: "inst-1", OwnerID: "owner-1", Status: models.ExamStatusFinished}
	}
	return s
}

func (s *examStoreStub) FindByID(ctx context.Context, id string) (*models.Exam, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exam, ok := s.exams[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *exam
	return &copy, nil
}

func (s *examStoreStub) HasActiveConnections(ctx context.Context, examID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[examID], nil
}

func (s *examStoreStub) Archive(ctx context.Context, exam *models.Exam, entry *models.UserActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exams[exam.ID].Status = models.ExamStatusArchived
	s.archived = append(s.archived, exam.ID)
	s.logs = append(s.logs, entry)
	return nil
}

func (s *examStoreStub) DeleteCascade(ctx context.Context, exam *models.Exam, entry *models.UserActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.exams, exam.ID)
	s.deleted = append(s.deleted, exam.ID)
	s.logs = append(s.logs, entry)
	return nil
}

type configStoreStub struct {
	nodes    map[string]*models.ConfigurationNode
	used     map[string]bool
	statuses map[string]models.ConfigurationStatus
	resets   []string
	deleted  []string
}

func newConfigStoreStub(nodes ...*models.ConfigurationNode) *configStoreStub {
	s := &configStoreStub{nodes: map[string]*models.ConfigurationNode{}, used: map[string]bool{}, statuses: map[string]models.ConfigurationStatus{}}
	for _, n := range nodes {
		s.nodes[n.ID] = n
	}
	return s
}

func (s *configStoreStub) FindByID(ctx context.Context, id string) (*models.ConfigurationNode, error) {
	n, ok := s.nodes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copy := *n
	return &copy, nil
}

func (s *configStoreStub) IsReferencedByActiveExam(ctx context.Context, nodeID string) (bool, error) {
	return s.used[nodeID], nil
}

func (s *configStoreStub) UpdateStatus(ctx context.Context, node *models.ConfigurationNode, status models.ConfigurationStatus, entry *models.UserActivityLog) error {
	s.statuses[node.ID] = status
	return nil
}

func (s *configStoreStub) ResetToTemplate(ctx context.Context, node *models.ConfigurationNode, entry *models.UserActivityLog) error {
	s.resets = append(s.resets, node.ID)
	return nil
}

func (s *configStoreStub) DeleteCascade(ctx context.Context, node *models.ConfigurationNode, entry *models.UserActivityLog) error {
	s.deleted = append(s.deleted, node.ID)
	return nil
}

// memoryBatchStore mirrors the persistence contract of the batch action
// repository in memory.
type memoryBatchStore struct {
	mu         sync.Mutex
	actions    map[string]*models.BatchAction
	order      []string
	claims     int
	successErr []error
}

func newMemoryBatchStore() *memoryBatchStore {
	return &memoryBatchStore{actions: map[string]*models.BatchAction{}}
}

func cloneAction(a *models.BatchAction) *models.BatchAction {
	if a == nil {
		return nil
	}
	c := *a
	c.SourceIDs = append(pq.StringArray(nil), a.SourceIDs...)
	c.Successful = append(pq.StringArray(nil), a.Successful...)
	c.Failures = make(map[string]string, len(a.Failures))
	for k, v := range a.Failures {
		c.Failures[k] = v
	}
	c.Attributes = models.ActionAttributes{}
	for k, v := range a.Attributes {
		c.Attributes[k] = v
	}
	if a.ProcessorID != nil {
		p := *a.ProcessorID
		c.ProcessorID = &p
	}
	if a.LastUpdate != nil {
		t := *a.LastUpdate
		c.LastUpdate = &t
	}
	return &c
}

func (s *memoryBatchStore) put(a *models.BatchAction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Failures == nil {
		a.Failures = map[string]string{}
	}
	s.actions[a.ID] = cloneAction(a)
	s.order = append(s.order, a.ID)
}

func (s *memoryBatchStore) get(id string) *models.BatchAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneAction(s.actions[id])
}

func (s *memoryBatchStore) Create(ctx context.Context, action *models.BatchAction) error {
	action.ProcessorID = nil
	action.Successful = pq.StringArray{}
	action.Failures = map[string]string{}
	s.put(action)
	return nil
}

func (s *memoryBatchStore) ByModelID(ctx context.Context, modelID string) (*models.BatchAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[modelID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return cloneAction(a), nil
}

func (s *memoryBatchStore) AllMatching(ctx context.Context, filter models.BatchActionFilter, predicate func(*models.BatchAction) bool) ([]models.BatchAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BatchAction
	for _, id := range s.order {
		a := cloneAction(s.actions[id])
		if filter.InstitutionID != "" && a.InstitutionID != filter.InstitutionID {
			continue
		}
		if filter.Finished != nil && a.Finished() != *filter.Finished {
			continue
		}
		if len(filter.ActionTypes) > 0 && !containsActionType(filter.ActionTypes, a.ActionType) {
			continue
		}
		if predicate == nil || predicate(a) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func containsActionType(types []models.BatchActionType, t models.BatchActionType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func (s *memoryBatchStore) GetAndReserveNext(ctx context.Context, token string, now time.Time, abandonedAfter time.Duration) (*models.BatchAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims++
	for _, id := range s.order {
		a := s.actions[id]
		eligible := a.ProcessorID == nil ||
			(!strings.HasSuffix(*a.ProcessorID, models.BatchActionFinishedFlag) &&
				(a.LastUpdate == nil || a.LastUpdate.Before(now.Add(-abandonedAfter))))
		if !eligible {
			continue
		}
		a.ProcessorID = &token
		ts := now
		a.LastUpdate = &ts
		return cloneAction(a), nil
	}
	return nil, sql.ErrNoRows
}

func (s *memoryBatchStore) reserved(id, token, modelID string) (*models.BatchAction, error) {
	a, ok := s.actions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if a.ProcessorID == nil || *a.ProcessorID != token {
		return nil, appErrors.ErrReservationLost
	}
	for _, src := range a.SourceIDs {
		if src == modelID {
			return a, nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrValidation, "not a source id")
}

func (s *memoryBatchStore) SetSuccessful(ctx context.Context, id, token, modelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.successErr) > 0 {
		err := s.successErr[0]
		s.successErr = s.successErr[1:]
		if err != nil {
			return err
		}
	}
	a, err := s.reserved(id, token, modelID)
	if err != nil {
		return err
	}
	delete(a.Failures, modelID)
	for _, done := range a.Successful {
		if done == modelID {
			return nil
		}
	}
	a.Successful = append(a.Successful, modelID)
	return nil
}

func (s *memoryBatchStore) SetFailure(ctx context.Context, id, token, modelID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.reserved(id, token, modelID)
	if err != nil {
		return err
	}
	kept := a.Successful[:0]
	for _, done := range a.Successful {
		if done != modelID {
			kept = append(kept, done)
		}
	}
	a.Successful = kept
	a.Failures[modelID] = summary
	return nil
}

func (s *memoryBatchStore) FinishUp(ctx context.Context, id, token string, force bool) (*models.BatchAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	if a.ProcessorID == nil || *a.ProcessorID != token {
		return nil, appErrors.ErrReservationLost
	}
	if !force && !a.Complete() {
		return nil, repository.ErrBatchActionIncomplete
	}
	finished := token + models.BatchActionFinishedFlag
	a.ProcessorID = &finished
	return cloneAction(a), nil
}

func (s *memoryBatchStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.actions[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.actions, id)
	kept := s.order[:0]
	for _, existing := range s.order {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	s.order = kept
	return nil
}

var errTransient = errors.New("connection reset by peer")

type userLookupStub struct {
	users map[string]*models.User
}

func (u *userLookupStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if user, ok := u.users[id]; ok {
		return user, nil
	}
	return nil, sql.ErrNoRows
}
