package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// ADJUSTMENTS - Employee allowances and deductions
// =============================================================================

type AdjustmentKind string

const (
	KindAllowance AdjustmentKind = "allowance"
	KindDeduction AdjustmentKind = "deduction"
)

type AdjustmentStatus string

const (
	AdjustmentActive  AdjustmentStatus = "active"
	AdjustmentStopped AdjustmentStatus = "stopped"
)

// Adjustment is an allowance or a custom deduction (disciplinary penalties
// are one-time deductions).
//
// Month applicability:
//   - one-time:  applies only in StartMonth
//   - recurring: applies to every month in [StartMonth, EndMonth], EndMonth nil = open
type Adjustment struct {
	ID              string
	EmployeeID      string
	Kind            AdjustmentKind
	Category        string
	Amount          decimal.Decimal
	IsRecurring     bool
	StartMonth      generic.MonthKey
	EndMonth        *generic.MonthKey
	Status          AdjustmentStatus
	SourceRequestID string
	CreatedAt       time.Time
	StoppedAt       *time.Time
	Version         int
}

// AppliesTo reports whether the adjustment is charged in month.
func (a Adjustment) AppliesTo(month generic.MonthKey) bool {
	if a.Status != AdjustmentActive {
		return false
	}
	if !a.IsRecurring {
		return month == a.StartMonth
	}
	return month.InRange(a.StartMonth, a.EndMonth)
}

func (a Adjustment) validate() error {
	switch {
	case a.Kind != KindAllowance && a.Kind != KindDeduction:
		return fmt.Errorf("%w: unknown adjustment kind %q", generic.ErrInvalidInput, a.Kind)
	case a.EmployeeID == "":
		return fmt.Errorf("%w: employee is required", generic.ErrInvalidInput)
	case strings.TrimSpace(a.Category) == "":
		return fmt.Errorf("%w: category is required", generic.ErrInvalidInput)
	case !a.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", generic.ErrInvalidInput)
	case a.StartMonth.IsZero():
		return fmt.Errorf("%w: start month is required", generic.ErrInvalidInput)
	case !a.IsRecurring && a.EndMonth != nil:
		return fmt.Errorf("%w: one-time adjustments have no end month", generic.ErrInvalidInput)
	case a.EndMonth != nil && a.EndMonth.Before(a.StartMonth):
		return fmt.Errorf("%w: end month before start month", generic.ErrInvalidInput)
	}
	return nil
}

// =============================================================================
// ADJUSTMENT BOOK
// =============================================================================

// AdjustmentBook adds, stops and selects allowances/deductions.
type AdjustmentBook struct{}

// Add stores a new active adjustment. A second active one-time entry of the
// same kind and category for the same employee and month is rejected with
// ErrDuplicateAdjustment.
func (AdjustmentBook) Add(ctx context.Context, store AdjustmentStore, a *Adjustment) error {
	if a.Status == "" {
		a.Status = AdjustmentActive
	}
	if err := a.validate(); err != nil {
		return err
	}

	if !a.IsRecurring {
		existing, err := store.ListAdjustments(ctx, AdjustmentFilter{
			EmployeeID: a.EmployeeID,
			Kind:       a.Kind,
			Status:     AdjustmentActive,
		})
		if err != nil {
			return err
		}
		for _, e := range existing {
			if !e.IsRecurring && e.StartMonth == a.StartMonth && strings.EqualFold(e.Category, a.Category) {
				return fmt.Errorf("%w: %s %q already exists for %s in %s (id %s)",
					generic.ErrDuplicateAdjustment, a.Kind, a.Category, a.EmployeeID, a.StartMonth, e.ID)
			}
		}
	}

	return store.SaveAdjustment(ctx, a)
}

// Stop deactivates an adjustment. Stopping twice is a no-op.
func (AdjustmentBook) Stop(ctx context.Context, store AdjustmentStore, id string, at time.Time) (*Adjustment, error) {
	a, err := store.GetAdjustment(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == AdjustmentStopped {
		return a, nil
	}
	a.Status = AdjustmentStopped
	a.StoppedAt = &at
	if err := store.SaveAdjustment(ctx, a); err != nil {
		return nil, fmt.Errorf("stop adjustment %s: %w", id, err)
	}
	return a, nil
}

// Effective returns the employee's adjustments of kind charged in month.
func (AdjustmentBook) Effective(ctx context.Context, store AdjustmentStore, employeeID string, kind AdjustmentKind, month generic.MonthKey) ([]Adjustment, error) {
	all, err := store.ListAdjustments(ctx, AdjustmentFilter{
		EmployeeID: employeeID,
		Kind:       kind,
		Status:     AdjustmentActive,
	})
	if err != nil {
		return nil, err
	}
	var out []Adjustment
	for _, a := range all {
		if a.AppliesTo(month) {
			out = append(out, a)
		}
	}
	return out, nil
}
