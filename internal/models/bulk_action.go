package models

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/looplab/fsm"
)

// BulkActionType identifies a synchronous cascading action.
type BulkActionType string

const (
	BulkActionActivate   BulkActionType = "ACTIVATE"
	BulkActionDeactivate BulkActionType = "DEACTIVATE"
	BulkActionHardDelete BulkActionType = "HARD_DELETE"
)

// Valid reports whether the type is known.
func (t BulkActionType) Valid() bool {
	switch t {
	case BulkActionActivate, BulkActionDeactivate, BulkActionHardDelete:
		return true
	default:
		return false
	}
}

// BulkActionState is a lifecycle state of a bulk action.
type BulkActionState string

const (
	BulkStateNew                   BulkActionState = "new"
	BulkStateDependenciesCollected BulkActionState = "dependencies_collected"
	BulkStateDependentsProcessed   BulkActionState = "dependents_processed"
	BulkStateSourcesProcessed      BulkActionState = "sources_processed"
	BulkStateReported              BulkActionState = "reported"
	BulkStateAborted               BulkActionState = "aborted"
)

// BulkActionEvent drives lifecycle transitions.
type BulkActionEvent string

const (
	BulkEventCollect          BulkActionEvent = "collect"
	BulkEventProcessDependent BulkActionEvent = "process_dependents"
	BulkEventProcessSources   BulkActionEvent = "process_sources"
	BulkEventReport           BulkActionEvent = "report"
	BulkEventAbort            BulkActionEvent = "abort"
)

var (
	// ErrNoBulkSources is returned when a bulk action names no source.
	ErrNoBulkSources = errors.New("bulk action requires at least one source")
	// ErrMixedSourceTypes is returned when sources do not share one entity type.
	ErrMixedSourceTypes = errors.New("bulk action sources must share one entity type")
)

// BulkActionResult is the outcome for one processed entity.
type BulkActionResult struct {
	Key EntityKey
	Err error
}

// BulkAction is a transient, single use cascading action request.
type BulkAction struct {
	Type       BulkActionType
	SourceType EntityType
	Sources    []EntityKey

	include      mapset.Set[EntityType]
	dependencies []EntityDependency
	seen         mapset.Set[EntityKey]
	results      []BulkActionResult
	machine      *fsm.FSM
}

// NewBulkAction validates the sources and builds a bulk action in state new.
// A nil include slice selects every dependent type, an empty one selects none.
func NewBulkAction(actionType BulkActionType, sources []EntityKey, include []EntityType) (*BulkAction, error) {
	if !actionType.Valid() {
		return nil, fmt.Errorf("unknown bulk action type %q", actionType)
	}
	if len(sources) == 0 {
		return nil, ErrNoBulkSources
	}
	sourceType := sources[0].EntityType
	for _, src := range sources[1:] {
		if src.EntityType != sourceType {
			return nil, fmt.Errorf("%w: %s and %s", ErrMixedSourceTypes, sourceType, src.EntityType)
		}
	}

	action := &BulkAction{
		Type:       actionType,
		SourceType: sourceType,
		Sources:    append([]EntityKey(nil), sources...),
		seen:       mapset.NewThreadUnsafeSet[EntityKey](sources...),
	}
	if include != nil {
		action.include = mapset.NewThreadUnsafeSet[EntityType](include...)
	}
	action.machine = fsm.NewFSM(
		string(BulkStateNew),
		fsm.Events{
			{Name: string(BulkEventCollect), Src: []string{string(BulkStateNew)}, Dst: string(BulkStateDependenciesCollected)},
			{Name: string(BulkEventProcessDependent), Src: []string{string(BulkStateDependenciesCollected)}, Dst: string(BulkStateDependentsProcessed)},
			{Name: string(BulkEventProcessSources), Src: []string{string(BulkStateDependentsProcessed)}, Dst: string(BulkStateSourcesProcessed)},
			{Name: string(BulkEventReport), Src: []string{string(BulkStateSourcesProcessed)}, Dst: string(BulkStateReported)},
			{Name: string(BulkEventAbort), Src: []string{
				string(BulkStateNew),
				string(BulkStateDependenciesCollected),
				string(BulkStateDependentsProcessed),
				string(BulkStateSourcesProcessed),
			}, Dst: string(BulkStateAborted)},
		},
		fsm.Callbacks{},
	)
	return action, nil
}

// State returns the current lifecycle state.
func (b *BulkAction) State() BulkActionState {
	return BulkActionState(b.machine.Current())
}

// Fire applies a lifecycle event.
func (b *BulkAction) Fire(ctx context.Context, event BulkActionEvent) error {
	if err := b.machine.Event(ctx, string(event)); err != nil {
		return fmt.Errorf("bulk action %s in state %s: %w", event, b.State(), err)
	}
	return nil
}

// Can reports whether the event is allowed in the current state.
func (b *BulkAction) Can(event BulkActionEvent) bool {
	return b.machine.Can(string(event))
}

// DependenciesCollected reports whether collection already happened.
func (b *BulkAction) DependenciesCollected() bool {
	return b.State() != BulkStateNew
}

// AlreadyProcessed reports whether execution started or the action aborted.
func (b *BulkAction) AlreadyProcessed() bool {
	switch b.State() {
	case BulkStateNew, BulkStateDependenciesCollected:
		return false
	default:
		return true
	}
}

// Includes reports whether dependents of the type take part in the action.
func (b *BulkAction) Includes(t EntityType) bool {
	if b.include == nil {
		return true
	}
	return b.include.Contains(t)
}

// IncludeFilter returns the explicit include set, nil meaning all types.
func (b *BulkAction) IncludeFilter() []EntityType {
	if b.include == nil {
		return nil
	}
	return b.include.ToSlice()
}

// AddDependencies records dependents, ignoring sources and entities already
// known.
func (b *BulkAction) AddDependencies(deps ...EntityDependency) {
	for _, dep := range deps {
		if b.seen.Add(dep.Self) {
			b.dependencies = append(b.dependencies, dep)
		}
	}
}

// Dependencies returns the collected dependents in discovery order.
func (b *BulkAction) Dependencies() []EntityDependency {
	return append([]EntityDependency(nil), b.dependencies...)
}

// DependantsOfType returns the collected dependents of one entity type.
func (b *BulkAction) DependantsOfType(t EntityType) []EntityDependency {
	var out []EntityDependency
	for _, dep := range b.dependencies {
		if dep.Self.EntityType == t {
			out = append(out, dep)
		}
	}
	return out
}

// SourcesAndDependencyKeys returns every key known so far, sources first.
func (b *BulkAction) SourcesAndDependencyKeys() []EntityKey {
	keys := append([]EntityKey(nil), b.Sources...)
	for _, dep := range b.dependencies {
		keys = append(keys, dep.Self)
	}
	return keys
}

// AddResults appends processing outcomes.
func (b *BulkAction) AddResults(results ...BulkActionResult) {
	b.results = append(b.results, results...)
}

// Results returns the outcomes recorded so far.
func (b *BulkAction) Results() []BulkActionResult {
	return append([]BulkActionResult(nil), b.results...)
}

// ReportError is a failed entity in a processing report.
type ReportError struct {
	Key     EntityKey `json:"key"`
	Message string    `json:"message"`
}

// EntityProcessingReport summarises an executed bulk action.
type EntityProcessingReport struct {
	Type    BulkActionType `json:"type"`
	Source  []EntityKey    `json:"source"`
	Results []EntityKey    `json:"results"`
	Errors  []ReportError  `json:"errors"`
}
