// Package reconcile implements the three-way compare and reconciliation
// strategies of spec §4.6, grounded on the teacher's escalation engine tier
// advancement (a per-resource decision made under a per-key lock, with a
// forced override path when conflicting signals arrive simultaneously).
package reconcile

import (
	"context"
	"fmt"
	"sync"

	"github.com/wisbric/scimgateway/internal/errorsx"
)

// Strategy is the configured sync strategy for a (tenant, provider) pair.
type Strategy string

const (
	StrategyAutoApply     Strategy = "AUTO_APPLY"
	StrategyManualReview  Strategy = "MANUAL_REVIEW"
	StrategyIgnore        Strategy = "IGNORE"
)

// Direction is the configured sync direction for a (tenant, provider) pair.
type Direction string

const (
	DirectionUpstreamToProvider Direction = "UpstreamToProvider"
	DirectionProviderToUpstream Direction = "ProviderToUpstream"
	DirectionBidirectional      Direction = "Bidirectional"
)

// ConflictType classifies a ConflictLogEntry (spec §3).
type ConflictType string

const (
	ConflictDualModification   ConflictType = "DualModification"
	ConflictDeleteModify       ConflictType = "DeleteModifyConflict"
	ConflictUniquenessViolation ConflictType = "UniquenessViolation"
	ConflictTransformation     ConflictType = "TransformationConflict"
)

// ResolutionAction is how a MANUAL_REVIEW conflict was (or will be)
// resolved.
type ResolutionAction string

const (
	ActionApplyUpstream ResolutionAction = "APPLY_UPSTREAM"
	ActionApplyProvider ResolutionAction = "APPLY_PROVIDER"
	ActionIgnore        ResolutionAction = "IGNORE"
)

// CustomAction builds a "CUSTOM:<payload>" resolution action (spec §4.6).
func CustomAction(payload string) ResolutionAction {
	return ResolutionAction(fmt.Sprintf("CUSTOM:%s", payload))
}

// ConflictLogEntry is a single ConflictLogEntry (spec §3).
type ConflictLogEntry struct {
	ConflictID        string
	ResourceID        string
	ConflictType      ConflictType
	EntraChange       string // upstream-side change description
	ProviderChange    string
	SuggestedResolution Strategy
	Resolved          bool
	ResolvedBy        string
	Resolution        ResolutionAction
}

// ThreeWayState is one resource's state from all three observation points
// at the start of a reconciliation tick.
type ThreeWayState struct {
	ResourceID    string
	LastKnown     string // "" means the resource did not exist last sync
	Upstream      string // "" means no upstream value; deletion is UpstreamDeleted
	Provider      string
	UpstreamDeleted bool
	UniqueKeyCollision bool
}

// Classification is the outcome of the three-way compare.
type Classification struct {
	ConflictType  ConflictType // "" when no conflict
	ForceManual   bool
	UpstreamChanged bool
	ProviderChanged bool
}

// Classify performs the §4.6 three-way compare precedence table.
func Classify(s ThreeWayState) Classification {
	if s.UniqueKeyCollision {
		return Classification{ConflictType: ConflictUniquenessViolation, ForceManual: true}
	}

	upstreamChanged := s.LastKnown != s.Upstream
	providerChanged := s.LastKnown != s.Provider

	if s.UpstreamDeleted && providerChanged {
		return Classification{ConflictType: ConflictDeleteModify, ForceManual: true, UpstreamChanged: true, ProviderChanged: true}
	}

	if upstreamChanged && providerChanged {
		return Classification{ConflictType: ConflictDualModification, ForceManual: true, UpstreamChanged: true, ProviderChanged: true}
	}

	return Classification{UpstreamChanged: upstreamChanged, ProviderChanged: providerChanged}
}

// Applier performs the adapter-facing side effect of AUTO_APPLY. It is the
// seam through which the reconciler reaches an Adapter without importing
// pkg/adapter directly, so pkg/reconcile stays testable without a live
// registry.
type Applier interface {
	ApplyUpstreamToProvider(ctx context.Context, resourceID, upstreamValue string) error
	ApplyProviderToUpstream(ctx context.Context, resourceID, providerValue string) error
}

// Outcome is the per-resource result of a single reconciliation attempt.
type Outcome struct {
	ResourceID           string
	Reconciled           bool
	ReconciliationAction string
	Conflict             *ConflictLogEntry
	Err                  error
}

// Reconciler applies per-(tenant, provider) strategy to a set of three-way
// states, serializing per-resource work behind a per-key lock (spec §5
// "the reconciler serializes conflicting actions").
type Reconciler struct {
	keyLocks sync.Map // resourceID -> *sync.Mutex
}

// New creates a Reconciler.
func New() *Reconciler {
	return &Reconciler{}
}

func (r *Reconciler) lockFor(resourceID string) *sync.Mutex {
	v, _ := r.keyLocks.LoadOrStore(resourceID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Reconcile applies strategy/direction to state under resourceID's
// per-key lock. blocked reports that a prior unresolved MANUAL_REVIEW
// conflict for this resourceID should suppress further auto-sync (spec
// §4.6 "blocks further auto-sync for that resourceId until resolved").
func (r *Reconciler) Reconcile(ctx context.Context, state ThreeWayState, strategy Strategy, direction Direction, blocked bool, applier Applier) Outcome {
	lock := r.lockFor(state.ResourceID)
	lock.Lock()
	defer lock.Unlock()

	classification := Classify(state)

	if classification.ConflictType != "" {
		return Outcome{
			ResourceID: state.ResourceID,
			Conflict: &ConflictLogEntry{
				ResourceID:          state.ResourceID,
				ConflictType:        classification.ConflictType,
				EntraChange:         state.Upstream,
				ProviderChange:      state.Provider,
				SuggestedResolution: StrategyManualReview,
			},
		}
	}

	if !classification.UpstreamChanged && !classification.ProviderChanged {
		return Outcome{ResourceID: state.ResourceID}
	}

	if blocked {
		return Outcome{ResourceID: state.ResourceID}
	}

	switch strategy {
	case StrategyIgnore:
		return Outcome{ResourceID: state.ResourceID}

	case StrategyManualReview:
		return Outcome{
			ResourceID: state.ResourceID,
			Conflict: &ConflictLogEntry{
				ResourceID:          state.ResourceID,
				ConflictType:        ConflictTransformation,
				EntraChange:         state.Upstream,
				ProviderChange:      state.Provider,
				SuggestedResolution: StrategyManualReview,
			},
		}

	case StrategyAutoApply:
		return r.autoApply(ctx, state, direction, applier)

	default:
		return Outcome{ResourceID: state.ResourceID, Err: errorsx.New("", "", "reconcile", errorsx.KindInvalidSyntax,
			fmt.Errorf("unknown reconciliation strategy %q", strategy))}
	}
}

func (r *Reconciler) autoApply(ctx context.Context, state ThreeWayState, direction Direction, applier Applier) Outcome {
	var err error
	switch direction {
	case DirectionUpstreamToProvider, DirectionBidirectional:
		err = applier.ApplyUpstreamToProvider(ctx, state.ResourceID, state.Upstream)
	case DirectionProviderToUpstream:
		err = applier.ApplyProviderToUpstream(ctx, state.ResourceID, state.Provider)
	default:
		err = errorsx.New("", "", "reconcile", errorsx.KindInvalidSyntax, fmt.Errorf("unknown sync direction %q", direction))
	}

	if err != nil {
		return Outcome{ResourceID: state.ResourceID, Err: err}
	}
	return Outcome{ResourceID: state.ResourceID, Reconciled: true, ReconciliationAction: string(StrategyAutoApply)}
}

// ResolveConflict executes action against a pending conflict (except
// IGNORE, which only marks it resolved) and returns the updated entry
// (spec §4.6 "on resolution, the action is executed (except IGNORE) and
// the conflict is marked resolved").
func ResolveConflict(ctx context.Context, entry ConflictLogEntry, action ResolutionAction, resolvedBy string, applier Applier) (ConflictLogEntry, error) {
	switch {
	case action == ActionIgnore:
		// no side effect.
	case action == ActionApplyUpstream:
		if err := applier.ApplyUpstreamToProvider(ctx, entry.ResourceID, entry.EntraChange); err != nil {
			return entry, err
		}
	case action == ActionApplyProvider:
		if err := applier.ApplyProviderToUpstream(ctx, entry.ResourceID, entry.ProviderChange); err != nil {
			return entry, err
		}
	case isCustomAction(action):
		payload := string(action)[len("CUSTOM:"):]
		if err := applier.ApplyUpstreamToProvider(ctx, entry.ResourceID, payload); err != nil {
			return entry, err
		}
	default:
		return entry, errorsx.New("", "", "resolveConflict", errorsx.KindInvalidSyntax,
			fmt.Errorf("unknown resolution action %q", action))
	}

	entry.Resolved = true
	entry.ResolvedBy = resolvedBy
	entry.Resolution = action
	return entry, nil
}

func isCustomAction(action ResolutionAction) bool {
	return len(action) > len("CUSTOM:") && string(action)[:len("CUSTOM:")] == "CUSTOM:"
}
