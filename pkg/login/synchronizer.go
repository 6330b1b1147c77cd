package login

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/geyslein/tsm-helmholtz-aai/pkg/accounts"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/auth"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/claims"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/events"
	"github.com/geyslein/tsm-helmholtz-aai/pkg/observability"
)

// ConsistencyError reports a membership referencing a virtual organization
// that no longer exists. This is an internal fault, never shown to the end
// user in detail.
type ConsistencyError struct {
	Entitlement string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("membership references unknown virtual organization %q", e.Entitlement)
}

// Synchronizer aligns a user's VO memberships with the group entitlements of
// the current login.
type Synchronizer struct {
	store   Store
	events  Emitter
	metrics *observability.Metrics
}

// NewSynchronizer creates a synchronizer. metrics may be nil.
func NewSynchronizer(store Store, em Emitter, metrics *observability.Metrics) *Synchronizer {
	return &Synchronizer{store: store, events: em, metrics: metrics}
}

// Synchronize diffs the user's stored memberships against the group-type
// entitlements in the claims and applies the delta: all removals first, then
// all additions. Virtual organizations are created lazily on first
// observation. Re-running with identical claims changes nothing and emits no
// events.
func (s *Synchronizer) Synchronize(ctx context.Context, user *auth.User, c *claims.Claims, info events.RequestInfo) error {
	desired := make(map[string]bool)
	for _, entitlement := range c.GroupEntitlements() {
		desired[entitlement] = true
	}

	currentVOs, err := s.store.UserVOs(ctx, user.ID)
	if err != nil {
		return err
	}
	current := make(map[string]bool, len(currentVOs))
	for _, vo := range currentVOs {
		current[vo.Entitlement] = true
	}

	for _, entitlement := range sortedDiff(current, desired) {
		if err := s.leave(ctx, user, entitlement, c, info); err != nil {
			return err
		}
	}
	for _, entitlement := range sortedDiff(desired, current) {
		if err := s.enter(ctx, user, entitlement, c, info); err != nil {
			return err
		}
	}
	return nil
}

// leave removes the membership for an entitlement the claims no longer
// carry. The VO must exist: a membership implies its prior creation.
func (s *Synchronizer) leave(ctx context.Context, user *auth.User, entitlement string, c *claims.Claims, info events.RequestInfo) error {
	vo, err := s.store.VOByEntitlement(ctx, entitlement)
	if errors.Is(err, accounts.ErrNotFound) {
		return &ConsistencyError{Entitlement: entitlement}
	}
	if err != nil {
		return err
	}

	if err := s.store.RemoveMembership(ctx, user.ID, vo.GroupID); err != nil {
		return err
	}
	s.metrics.MembershipChanged(observability.MembershipRemoved)
	return emit(ctx, s.events, events.EventVOLeft, user, vo, c, info)
}

// enter adds the membership for a newly claimed entitlement, creating the
// virtual organization on first observation.
func (s *Synchronizer) enter(ctx context.Context, user *auth.User, entitlement string, c *claims.Claims, info events.RequestInfo) error {
	vo, err := s.store.VOByEntitlement(ctx, entitlement)
	if errors.Is(err, accounts.ErrNotFound) {
		vo, err = s.createVO(ctx, entitlement, c, info)
	}
	if err != nil {
		return err
	}

	if err := s.store.AddMembership(ctx, user.ID, vo.GroupID); err != nil {
		return err
	}
	s.metrics.MembershipChanged(observability.MembershipAdded)
	return emit(ctx, s.events, events.EventVOEntered, user, vo, c, info)
}

func (s *Synchronizer) createVO(ctx context.Context, entitlement string, c *claims.Claims, info events.RequestInfo) (*auth.VirtualOrganization, error) {
	vo, err := s.store.CreateVO(ctx, entitlement)
	if errors.Is(err, accounts.ErrUniqueViolation) {
		// Another callback created it first; use theirs and skip the
		// vo.created event.
		return s.store.VOByEntitlement(ctx, entitlement)
	}
	if err != nil {
		return nil, err
	}

	s.metrics.VOCreated()
	if err := emit(ctx, s.events, events.EventVOCreated, nil, vo, c, info); err != nil {
		return nil, err
	}
	return vo, nil
}

// sortedDiff returns the keys of a not present in b, in lexical order. The
// order is not part of the contract; sorting just keeps runs reproducible.
func sortedDiff(a, b map[string]bool) []string {
	var diff []string
	for k := range a {
		if !b[k] {
			diff = append(diff, k)
		}
	}
	sort.Strings(diff)
	return diff
}
