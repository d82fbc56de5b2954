package approval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// DELEGATION
// =============================================================================

// Delegation lets DelegateID act for DelegatorID on every step assigned to
// the delegator while the delegation covers the action date.
//
// INVARIANTS:
//   - DelegatorID != DelegateID
//   - ActiveFrom <= ActiveTo (both inclusive)
//   - No two live delegations of the same delegator overlap
type Delegation struct {
	ID          string
	DelegatorID string
	DelegateID  string
	ActiveFrom  generic.Day
	ActiveTo    generic.Day
	Ended       bool
	EndedAt     *time.Time
	CreatedBy   string
	CreatedAt   time.Time
	Version     int
}

// Covers reports whether the delegation is in force on day.
func (d Delegation) Covers(day generic.Day) bool {
	return !d.Ended && !day.Before(d.ActiveFrom) && !day.After(d.ActiveTo)
}

// Overlaps reports whether two live delegations share at least one day.
func (d Delegation) Overlaps(other Delegation) bool {
	if d.Ended || other.Ended {
		return false
	}
	return !d.ActiveTo.Before(other.ActiveFrom) && !other.ActiveTo.Before(d.ActiveFrom)
}

func (d Delegation) validate() error {
	switch {
	case d.DelegatorID == "" || d.DelegateID == "":
		return fmt.Errorf("%w: delegator and delegate are required", generic.ErrInvalidInput)
	case d.DelegatorID == d.DelegateID:
		return fmt.Errorf("%w: an approver cannot delegate to themselves", generic.ErrInvalidInput)
	case d.ActiveFrom.IsZero() || d.ActiveTo.IsZero():
		return fmt.Errorf("%w: delegation window is required", generic.ErrInvalidInput)
	case d.ActiveTo.Before(d.ActiveFrom):
		return fmt.Errorf("%w: delegation ends before it starts", generic.ErrInvalidInput)
	}
	return nil
}

// =============================================================================
// RESOLVER
// =============================================================================

// DelegationResolver maps an assigned approver to whoever acts for them on a date.
type DelegationResolver struct {
	Store DelegationStore
}

// ResolveApprover returns the delegate of originalID on onDate, or
// originalID itself. Resolution is one hop: a delegate's own delegation is
// not followed. The matching delegation is returned for provenance.
func (r DelegationResolver) ResolveApprover(ctx context.Context, originalID string, onDate generic.Day) (string, *Delegation, error) {
	delegations, err := r.Store.ListDelegations(ctx, originalID)
	if err != nil {
		return "", nil, err
	}
	for i := range delegations {
		if delegations[i].Covers(onDate) {
			return delegations[i].DelegateID, &delegations[i], nil
		}
	}
	return originalID, nil, nil
}

// checkOverlap fails with ErrOverlappingDelegation if d collides with a
// live delegation of the same delegator.
func checkOverlap(ctx context.Context, store DelegationStore, d Delegation) error {
	existing, err := store.ListDelegations(ctx, d.DelegatorID)
	if err != nil {
		return err
	}
	sort.Slice(existing, func(i, j int) bool { return existing[i].ActiveFrom.Before(existing[j].ActiveFrom) })
	for _, e := range existing {
		if e.ID != d.ID && e.Overlaps(d) {
			return fmt.Errorf("%w: %s already delegates to %s from %s to %s",
				generic.ErrOverlappingDelegation, e.DelegatorID, e.DelegateID, e.ActiveFrom, e.ActiveTo)
		}
	}
	return nil
}
