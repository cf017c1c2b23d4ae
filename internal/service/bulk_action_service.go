package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/seb-admin-api/internal/models"
	appErrors "github.com/noah-isme/seb-admin-api/pkg/errors"
)

type bulkActivityLogger interface {
	Log(ctx context.Context, activity models.UserLogActivityType, key models.EntityKey, message string) error
	LogDependency(ctx context.Context, activity models.UserLogActivityType, dep models.EntityDependency) error
}

type bulkAuthorizer interface {
	CheckWrite(ctx context.Context, entity models.GrantEntity) error
}

type bulkMetrics interface {
	RecordBulkResult(actionType string, success bool)
}

// BulkActionService executes synchronous cascading bulk actions.
type BulkActionService struct {
	registry *BulkSupportRegistry
	resolver *DependencyResolver
	authz    bulkAuthorizer
	activity bulkActivityLogger
	events   BulkActionEventPublisher
	metrics  bulkMetrics
	logger   *zap.Logger
}

// BulkActionServiceOption configures the service.
type BulkActionServiceOption func(*BulkActionService)

// WithBulkActionEvents sets the completion event publisher.
func WithBulkActionEvents(events BulkActionEventPublisher) BulkActionServiceOption {
	return func(s *BulkActionService) {
		if events != nil {
			s.events = events
		}
	}
}

// WithBulkActionMetrics sets the metrics sink.
func WithBulkActionMetrics(metrics bulkMetrics) BulkActionServiceOption {
	return func(s *BulkActionService) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// NewBulkActionService constructs the service.
func NewBulkActionService(registry *BulkSupportRegistry, resolver *DependencyResolver, authz bulkAuthorizer, activity bulkActivityLogger, logger *zap.Logger, opts ...BulkActionServiceOption) *BulkActionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &BulkActionService{
		registry: registry,
		resolver: resolver,
		authz:    authz,
		activity: activity,
		events:   NopBulkActionEventPublisher{},
		metrics:  (*MetricsService)(nil),
		logger:   logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// CollectDependencies returns the dependents the bulk action would touch.
func (s *BulkActionService) CollectDependencies(ctx context.Context, bulk *models.BulkAction) ([]models.EntityDependency, error) {
	if bulk.AlreadyProcessed() {
		return nil, appErrors.ErrBulkActionProcessed
	}
	support, ok := s.registry.Get(bulk.SourceType)
	if !ok {
		return nil, unsupportedSource(bulk)
	}
	if err := s.checkSources(ctx, bulk, support); err != nil {
		return nil, err
	}
	return s.resolver.CollectDependencies(ctx, bulk)
}

// DoBulkAction executes the bulk action against dependents, then sources,
// and reports the per entity outcomes. A bulk action runs at most once.
func (s *BulkActionService) DoBulkAction(ctx context.Context, bulk *models.BulkAction) (*models.EntityProcessingReport, error) {
	if bulk.AlreadyProcessed() {
		return nil, appErrors.ErrBulkActionProcessed
	}
	sourceSupport, ok := s.registry.Get(bulk.SourceType)
	if !ok {
		s.abort(ctx, bulk)
		return nil, unsupportedSource(bulk)
	}
	activity, err := activityFor(bulk.Type)
	if err != nil {
		s.abort(ctx, bulk)
		return nil, err
	}
	if err := s.checkSources(ctx, bulk, sourceSupport); err != nil {
		s.abort(ctx, bulk)
		return nil, err
	}

	if _, err := s.resolver.CollectDependencies(ctx, bulk); err != nil {
		return nil, err
	}

	for _, t := range s.resolver.ExecutionOrder(bulk) {
		support, ok := s.registry.Get(t)
		if !ok {
			continue
		}
		results, err := support.ProcessBulkAction(ctx, bulk)
		if err != nil {
			s.abort(ctx, bulk)
			return nil, err
		}
		bulk.AddResults(results...)
		s.logDependencies(ctx, bulk, activity, results)
	}
	if err := bulk.Fire(ctx, models.BulkEventProcessDependent); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "bulk action state")
	}

	results, err := sourceSupport.ProcessBulkAction(ctx, bulk)
	if err != nil {
		s.abort(ctx, bulk)
		return nil, err
	}
	bulk.AddResults(results...)
	s.logSources(ctx, bulk, activity, results)
	if err := bulk.Fire(ctx, models.BulkEventProcessSources); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "bulk action state")
	}

	report := CreateReport(bulk)
	if err := bulk.Fire(ctx, models.BulkEventReport); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "bulk action state")
	}
	s.publish(ctx, bulk, report)
	return report, nil
}

// checkSources requires write access on every source before anything of the
// cascade is touched.
func (s *BulkActionService) checkSources(ctx context.Context, bulk *models.BulkAction, support BulkActionSupport) error {
	entities, err := support.GrantEntities(ctx, bulk.Sources)
	if err != nil {
		return appErrors.FromError(err)
	}
	for _, entity := range entities {
		if err := s.authz.CheckWrite(ctx, entity); err != nil {
			s.logger.Sugar().Infow("bulk action denied",
				"type", bulk.Type,
				"entity", entity.Key().String(),
				"error", err,
			)
			return err
		}
	}
	return nil
}

// CreateReport summarises the outcomes of a bulk action.
func CreateReport(bulk *models.BulkAction) *models.EntityProcessingReport {
	report := &models.EntityProcessingReport{
		Type:    bulk.Type,
		Source:  append([]models.EntityKey(nil), bulk.Sources...),
		Results: []models.EntityKey{},
		Errors:  []models.ReportError{},
	}
	for _, r := range bulk.Results() {
		if r.Err != nil {
			report.Errors = append(report.Errors, models.ReportError{Key: r.Key, Message: appErrors.Summary(r.Err)})
			continue
		}
		report.Results = append(report.Results, r.Key)
	}
	return report
}

func (s *BulkActionService) logDependencies(ctx context.Context, bulk *models.BulkAction, activity models.UserLogActivityType, results []models.BulkActionResult) {
	deps := make(map[models.EntityKey]models.EntityDependency)
	for _, dep := range bulk.Dependencies() {
		deps[dep.Self] = dep
	}
	for _, r := range results {
		s.metrics.RecordBulkResult(string(bulk.Type), r.Err == nil)
		if r.Err != nil {
			continue
		}
		dep, ok := deps[r.Key]
		if !ok {
			dep = models.EntityDependency{Self: r.Key}
		}
		if err := s.activity.LogDependency(ctx, activity, dep); err != nil {
			s.logger.Sugar().Warnw("bulk action dependency log failed", "entity", r.Key.String(), "error", err)
		}
	}
}

func (s *BulkActionService) logSources(ctx context.Context, bulk *models.BulkAction, activity models.UserLogActivityType, results []models.BulkActionResult) {
	for _, r := range results {
		s.metrics.RecordBulkResult(string(bulk.Type), r.Err == nil)
		if r.Err != nil {
			continue
		}
		if err := s.activity.Log(ctx, activity, r.Key, fmt.Sprintf("Bulk Action - Source : %s", r.Key)); err != nil {
			s.logger.Sugar().Warnw("bulk action source log failed", "entity", r.Key.String(), "error", err)
		}
	}
}

func (s *BulkActionService) abort(ctx context.Context, bulk *models.BulkAction) {
	if err := bulk.Fire(ctx, models.BulkEventAbort); err != nil {
		s.logger.Sugar().Warnw("bulk action abort failed", "state", bulk.State(), "error", err)
	}
}

func (s *BulkActionService) publish(ctx context.Context, bulk *models.BulkAction, report *models.EntityProcessingReport) {
	event := BulkActionCompletedEvent{
		Type:        bulk.Type,
		SourceType:  bulk.SourceType,
		Sources:     report.Source,
		Processed:   len(report.Results),
		Failed:      len(report.Errors),
		CompletedAt: time.Now().UTC(),
	}
	if p, ok := PrincipalFromContext(ctx); ok {
		event.PrincipalID = p.UserID
	}
	if err := s.events.PublishBulkActionCompleted(ctx, event); err != nil {
		s.logger.Sugar().Warnw("bulk action event publish failed", "type", bulk.Type, "error", err)
	}
}

func activityFor(t models.BulkActionType) (models.UserLogActivityType, error) {
	switch t {
	case models.BulkActionActivate:
		return models.ActivityActivate, nil
	case models.BulkActionDeactivate:
		return models.ActivityDeactivate, nil
	case models.BulkActionHardDelete:
		return models.ActivityDelete, nil
	default:
		return "", appErrors.Clone(appErrors.ErrActionTypeUnsupported, fmt.Sprintf("bulk action type %s not supported", t))
	}
}

func unsupportedSource(bulk *models.BulkAction) error {
	return appErrors.Clone(appErrors.ErrActionTypeUnsupported, fmt.Sprintf("no bulk support for %s", bulk.SourceType))
}
