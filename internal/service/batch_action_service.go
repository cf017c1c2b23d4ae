package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
	"github.com/noah-isme/seb-admin-api/pkg/jobs"
)

type batchActionStore interface {
	Create(ctx context.Context, action *models.BatchAction) error
	ByModelID(ctx context.Context, modelID string) (*models.BatchAction, error)
	AllMatching(ctx context.Context, filter models.BatchActionFilter, predicate func(*models.BatchAction) bool) ([]models.BatchAction, error)
	GetAndReserveNext(ctx context.Context, token string, now time.Time, abandonedAfter time.Duration) (*models.BatchAction, error)
	SetSuccessful(ctx context.Context, id, token, modelID string) error
	SetFailure(ctx context.Context, id, token, modelID, summary string) error
	FinishUp(ctx context.Context, id, token string, force bool) (*models.BatchAction, error)
	Delete(ctx context.Context, id string) error
}

type ownerLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type batchAuthorizer interface {
	Check(ctx context.Context, privilege PrivilegeType, entityType models.EntityType, institutionID string) error
	CheckRead(ctx context.Context, entity models.GrantEntity) error
	CheckWrite(ctx context.Context, entity models.GrantEntity) error
}

type batchActivityLogger interface {
	Log(ctx context.Context, activity models.UserLogActivityType, key models.EntityKey, message string) error
}

type batchMetrics interface {
	RecordBatchItem(actionType string, success bool)
	RecordBatchClaim(result string)
	ObserveBatchRun(result string, duration time.Duration)
}

type taskScheduler interface {
	Schedule(name string, task jobs.Task) (*jobs.Future, error)
	ScheduleWithFixedDelay(name string, initialDelay, delay time.Duration, task jobs.Task) (*jobs.Periodic, error)
}

// BatchActionConfig tunes the background processor.
type BatchActionConfig struct {
	Enabled         bool
	UpdateInterval  time.Duration
	InitialDelay    time.Duration
	AbandonedAfter  time.Duration
	PersistRetries  int
	PersistBackoff  time.Duration
	// SystemPrincipal is the user that runs jobs whose owner is inactive.
	// Empty disables the fallback. Activity entries of such runs name this user.
	SystemPrincipal string
}

// NewBatchActionRequest describes a job submission.
type NewBatchActionRequest struct {
	InstitutionID string
	ActionType    models.BatchActionType
	Attributes    models.ActionAttributes
	SourceIDs     []string
}

// BatchActionService accepts batch action jobs and processes them one item
// at a time in the background. At most one job runs per instance.
type BatchActionService struct {
	store     batchActionStore
	executors *ExecutorRegistry
	users     ownerLookup
	authz     batchAuthorizer
	activity  batchActivityLogger
	scheduler taskScheduler
	metrics   batchMetrics
	logger    *zap.Logger
	cfg       BatchActionConfig

	guard    *semaphore.Weighted
	periodic *jobs.Periodic
	now      func() time.Time
	newToken func() string
}

// BatchActionServiceOption configures the service.
type BatchActionServiceOption func(*BatchActionService)

// WithBatchActionMetrics sets the metrics sink.
func WithBatchActionMetrics(metrics batchMetrics) BatchActionServiceOption {
	return func(s *BatchActionService) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithBatchActionClock overrides the clock.
func WithBatchActionClock(now func() time.Time) BatchActionServiceOption {
	return func(s *BatchActionService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewBatchActionService constructs the service.
func NewBatchActionService(
	store batchActionStore,
	executors *ExecutorRegistry,
	users ownerLookup,
	authz batchAuthorizer,
	activity batchActivityLogger,
	scheduler taskScheduler,
	logger *zap.Logger,
	cfg BatchActionConfig,
	opts ...BatchActionServiceOption,
) *BatchActionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = time.Minute
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.AbandonedAfter <= 0 {
		cfg.AbandonedAfter = 10 * time.Minute
	}
	if cfg.PersistRetries < 0 {
		cfg.PersistRetries = 0
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = 250 * time.Millisecond
	}
	svc := &BatchActionService{
		store:     store,
		executors: executors,
		users:     users,
		authz:     authz,
		activity:  activity,
		scheduler: scheduler,
		metrics:   (*MetricsService)(nil),
		logger:    logger,
		cfg:       cfg,
		guard:     semaphore.NewWeighted(1),
		now:       func() time.Time { return time.Now().UTC() },
		newToken:  uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Start registers the periodic processing tick.
func (s *BatchActionService) Start() error {
	if !s.cfg.Enabled {
		s.logger.Info("batch action processing disabled")
		return nil
	}
	periodic, err := s.scheduler.ScheduleWithFixedDelay("batch-action-processor", s.cfg.InitialDelay, s.cfg.UpdateInterval, func(ctx context.Context) {
		s.ProcessNext(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule batch action processor: %w", err)
	}
	s.periodic = periodic
	s.logger.Sugar().Infow("batch action processor scheduled",
		"initial_delay", s.cfg.InitialDelay.String(),
		"interval", s.cfg.UpdateInterval.String(),
	)
	return nil
}

// RegisterNewBatchAction validates and stores a new job and triggers
// processing. It returns immediately with the stored job.
func (s *BatchActionService) RegisterNewBatchAction(ctx context.Context, req NewBatchActionRequest) (*models.BatchAction, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return nil, appErrors.ErrUnauthorized
	}
	executor, err := s.executors.Get(req.ActionType)
	if err != nil {
		return nil, err
	}

	sourceIDs := make([]string, 0, len(req.SourceIDs))
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, id := range req.SourceIDs {
		if id != "" && seen.Add(id) {
			sourceIDs = append(sourceIDs, id)
		}
	}
	if len(sourceIDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "at least one source id is required")
	}

	institutionID := req.InstitutionID
	if institutionID == "" {
		institutionID = principal.InstitutionID
	}
	if err := s.authz.Check(ctx, PrivilegeWrite, req.ActionType.EntityType(), institutionID); err != nil {
		return nil, err
	}
	if err := executor.CheckConsistency(req.Attributes); err != nil {
		return nil, err
	}

	attributes := models.ActionAttributes{}
	for k, v := range req.Attributes {
		attributes[k] = v
	}
	action := &models.BatchAction{
		InstitutionID: institutionID,
		OwnerID:       principal.UserID,
		ActionType:    req.ActionType,
		Attributes:    attributes,
		SourceIDs:     sourceIDs,
	}
	if err := s.store.Create(ctx, action); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create batch action")
	}
	if err := s.activity.Log(ctx, models.ActivityCreate, action.Key(), fmt.Sprintf("batch action %s created for %d entities", action.ActionType, len(sourceIDs))); err != nil {
		s.logger.Sugar().Warnw("batch action creation log failed", "batch_action_id", action.ID, "error", err)
	}
	s.logger.Sugar().Infow("batch action registered",
		"batch_action_id", action.ID,
		"action_type", action.ActionType,
		"sources", len(sourceIDs),
		"owner_id", action.OwnerID,
	)
	s.periodic.Trigger()
	return action, nil
}

// GetRunningAction returns a job with its current progress.
func (s *BatchActionService) GetRunningAction(ctx context.Context, id string) (*models.BatchAction, error) {
	action, err := s.store.ByModelID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "batch action not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch action")
	}
	if err := s.authz.CheckRead(ctx, action); err != nil {
		return nil, err
	}
	return action, nil
}

// DeleteFinishedAction removes a finished job. Jobs still pending or running
// are kept so their processor can account for every source id.
func (s *BatchActionService) DeleteFinishedAction(ctx context.Context, id string) error {
	action, err := s.store.ByModelID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "batch action not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load batch action")
	}
	if err := s.authz.CheckWrite(ctx, action); err != nil {
		return err
	}
	if !action.Finished() {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "batch action has not finished yet")
	}
	if err := s.store.Delete(ctx, action.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "batch action not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete batch action")
	}
	if err := s.activity.Log(ctx, models.ActivityDelete, action.Key(), "batch action deleted"); err != nil {
		s.logger.Sugar().Warnw("batch action delete not audited", "batch_action_id", action.ID, "error", err)
	}
	return nil
}

// GetRunningActions lists unfinished jobs of an institution, optionally only
// those targeting entityType.
func (s *BatchActionService) GetRunningActions(ctx context.Context, institutionID string, entityType models.EntityType) ([]models.BatchAction, error) {
	return s.list(ctx, institutionID, entityType, false)
}

// GetFinishedActions lists finished jobs of an institution, optionally only
// those targeting entityType.
func (s *BatchActionService) GetFinishedActions(ctx context.Context, institutionID string, entityType models.EntityType) ([]models.BatchAction, error) {
	return s.list(ctx, institutionID, entityType, true)
}

func (s *BatchActionService) list(ctx context.Context, institutionID string, entityType models.EntityType, finished bool) ([]models.BatchAction, error) {
	if err := s.authz.Check(ctx, PrivilegeRead, models.EntityTypeBatchAction, institutionID); err != nil {
		return nil, err
	}
	filter := models.BatchActionFilter{InstitutionID: institutionID, Finished: &finished}
	if entityType != "" {
		filter.ActionTypes = models.BatchActionTypesOf(entityType)
		if len(filter.ActionTypes) == 0 {
			return []models.BatchAction{}, nil
		}
	}
	actions, err := s.store.AllMatching(ctx, filter, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list batch actions")
	}
	return actions, nil
}

// ProcessNext is one scheduler tick: when no job runs on this instance it
// claims the next pending job and schedules its run. The returned future is
// nil when nothing was scheduled.
func (s *BatchActionService) ProcessNext(ctx context.Context) *jobs.Future {
	if !s.guard.TryAcquire(1) {
		s.metrics.RecordBatchClaim("busy")
		s.logger.Debug("batch action still running, skipping tick")
		return nil
	}
	handedOver := false
	defer func() {
		if !handedOver {
			s.guard.Release(1)
		}
	}()

	token := s.newToken()
	action, err := s.store.GetAndReserveNext(ctx, token, s.now(), s.cfg.AbandonedAfter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.RecordBatchClaim("idle")
			return nil
		}
		s.metrics.RecordBatchClaim("error")
		s.logger.Sugar().Warnw("failed to reserve batch action", "processor_id", token, "error", err)
		return nil
	}
	log := s.logger.Sugar().With("batch_action_id", action.ID, "processor_id", token)

	principal, err := s.resolvePrincipal(ctx, action)
	if err != nil {
		s.metrics.RecordBatchClaim("error")
		log.Errorw("no identity to run batch action, leaving it reserved", "owner_id", action.OwnerID, "error", err)
		return nil
	}

	future, err := s.scheduler.Schedule("batch-action-"+action.ID, func(runCtx context.Context) {
		defer s.guard.Release(1)
		s.run(WithPrincipal(runCtx, principal), action, token)
	})
	if err != nil {
		s.metrics.RecordBatchClaim("error")
		log.Errorw("failed to schedule batch action run", "error", err)
		return nil
	}
	handedOver = true
	s.metrics.RecordBatchClaim("claimed")
	log.Infow("batch action reserved", "remaining", len(action.Remaining()), "progress", action.Progress())
	return future
}

func (s *BatchActionService) resolvePrincipal(ctx context.Context, action *models.BatchAction) (models.Principal, error) {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p, nil
	}
	owner, ownerErr := s.users.FindByID(ctx, action.OwnerID)
	if ownerErr == nil && owner.Active {
		return models.PrincipalFromUser(owner), nil
	}
	if s.cfg.SystemPrincipal != "" {
		system, err := s.users.FindByID(ctx, s.cfg.SystemPrincipal)
		if err == nil {
			return models.PrincipalFromUser(system), nil
		}
		return models.Principal{}, fmt.Errorf("load system principal %s: %w", s.cfg.SystemPrincipal, err)
	}
	if ownerErr == nil {
		return models.Principal{}, fmt.Errorf("owner %s is inactive", action.OwnerID)
	}
	return models.Principal{}, fmt.Errorf("load owner %s: %w", action.OwnerID, ownerErr)
}

func (s *BatchActionService) run(ctx context.Context, action *models.BatchAction, token string) {
	start := s.now()
	result := "finished"
	log := s.logger.Sugar().With("batch_action_id", action.ID, "processor_id", token, "action_type", action.ActionType)
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			log.Errorw("batch action run panicked, job stays resumable", "panic", r)
		}
		s.metrics.ObserveBatchRun(result, s.now().Sub(start))
	}()

	executor, execErr := s.executors.Get(action.ActionType)
	for _, modelID := range action.Remaining() {
		if ctx.Err() != nil {
			result = "interrupted"
			log.Infow("batch action run interrupted, job stays resumable")
			return
		}
		var err error
		if execErr != nil {
			err = execErr
		} else {
			_, err = executor.DoSingleAction(ctx, modelID, action)
		}
		if perr := s.persistOutcome(ctx, action, token, modelID, err); perr != nil {
			result = "persist_error"
			if errors.Is(perr, appErrors.ErrReservationLost) {
				result = "reservation_lost"
			}
			log.Errorw("failed to persist batch item outcome, stopping run", "model_id", modelID, "error", perr)
			return
		}
		s.metrics.RecordBatchItem(string(action.ActionType), err == nil)
		if err != nil {
			log.Debugw("batch item failed", "model_id", modelID, "error", err)
		}
	}

	finished, err := s.store.FinishUp(ctx, action.ID, token, false)
	if err != nil {
		result = "finish_error"
		log.Errorw("failed to finish batch action", "error", err)
		return
	}
	if err := s.activity.Log(ctx, models.ActivityFinished, finished.Key(), "batch action finished"); err != nil {
		log.Warnw("batch action finished log failed", "error", err)
	}
	log.Infow("batch action finished",
		"successful", len(finished.Successful),
		"failed", len(finished.Failures),
		"progress", finished.Progress(),
	)
}

// persistOutcome stores one item outcome, retrying transient failures.
func (s *BatchActionService) persistOutcome(ctx context.Context, action *models.BatchAction, token, modelID string, outcome error) error {
	op := func() error {
		var err error
		if outcome == nil {
			err = s.store.SetSuccessful(ctx, action.ID, token, modelID)
		} else {
			err = s.store.SetFailure(ctx, action.ID, token, modelID, appErrors.Summary(outcome))
		}
		if err == nil {
			return nil
		}
		if errors.Is(err, appErrors.ErrReservationLost) || errors.Is(err, appErrors.ErrValidation) || errors.Is(err, sql.ErrNoRows) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.PersistBackoff
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.PersistRetries)), ctx)
	return backoff.Retry(op, retry)
}
