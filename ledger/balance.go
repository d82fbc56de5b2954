package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// LEAVE TYPES
// =============================================================================

type LeaveType string

const (
	LeaveAnnual    LeaveType = "annual"
	LeaveSick      LeaveType = "sick"
	LeaveEmergency LeaveType = "emergency"
	LeaveUnpaid    LeaveType = "unpaid"
)

// Valid reports whether t is a known leave type.
func (t LeaveType) Valid() bool {
	switch t {
	case LeaveAnnual, LeaveSick, LeaveEmergency, LeaveUnpaid:
		return true
	}
	return false
}

// =============================================================================
// LEAVE BALANCE
// =============================================================================

// LeaveBalance holds an employee's leave buckets.
//
// INVARIANTS:
//   - Annual, Sick, Emergency >= 0 at all times
//   - UnpaidTaken only grows, except when an approved unpaid leave is cancelled
type LeaveBalance struct {
	EmployeeID  string
	Annual      decimal.Decimal
	Sick        decimal.Decimal
	Emergency   decimal.Decimal
	UnpaidTaken decimal.Decimal
	Version     int
}

// Available returns the remaining days of a bucket. Unpaid leave has no cap.
func (b LeaveBalance) Available(t LeaveType) (decimal.Decimal, error) {
	switch t {
	case LeaveAnnual:
		return b.Annual, nil
	case LeaveSick:
		return b.Sick, nil
	case LeaveEmergency:
		return b.Emergency, nil
	case LeaveUnpaid:
		return decimal.Zero, nil
	}
	return decimal.Zero, fmt.Errorf("%w: unknown leave type %q", generic.ErrInvalidInput, t)
}

// Deduct returns the balance after taking days from bucket t. The receiver
// is never modified; on error the caller keeps the old balance.
func (b LeaveBalance) Deduct(t LeaveType, days decimal.Decimal) (LeaveBalance, error) {
	if !days.IsPositive() {
		return b, fmt.Errorf("%w: days must be positive, got %s", generic.ErrInvalidInput, days)
	}

	if t == LeaveUnpaid {
		b.UnpaidTaken = b.UnpaidTaken.Add(days)
		return b, nil
	}

	available, err := b.Available(t)
	if err != nil {
		return b, err
	}
	if available.LessThan(days) {
		return b, &generic.InsufficientBalanceError{
			EmployeeID: b.EmployeeID,
			LeaveType:  string(t),
			Available:  available,
			Requested:  days,
		}
	}

	b.setBucket(t, available.Sub(days))
	return b, nil
}

// Restore is the exact inverse of Deduct.
func (b LeaveBalance) Restore(t LeaveType, days decimal.Decimal) (LeaveBalance, error) {
	if !days.IsPositive() {
		return b, fmt.Errorf("%w: days must be positive, got %s", generic.ErrInvalidInput, days)
	}

	if t == LeaveUnpaid {
		b.UnpaidTaken = decimal.Max(decimal.Zero, b.UnpaidTaken.Sub(days))
		return b, nil
	}

	available, err := b.Available(t)
	if err != nil {
		return b, err
	}
	b.setBucket(t, available.Add(days))
	return b, nil
}

func (b *LeaveBalance) setBucket(t LeaveType, v decimal.Decimal) {
	switch t {
	case LeaveAnnual:
		b.Annual = v
	case LeaveSick:
		b.Sick = v
	case LeaveEmergency:
		b.Emergency = v
	}
}

// Validate checks the non-negativity invariant.
func (b LeaveBalance) Validate() error {
	for _, v := range []decimal.Decimal{b.Annual, b.Sick, b.Emergency, b.UnpaidTaken} {
		if v.IsNegative() {
			return fmt.Errorf("%w: leave buckets must be non-negative", generic.ErrInvalidInput)
		}
	}
	return nil
}

// =============================================================================
// BALANCE LEDGER
// =============================================================================

// BalanceLedger applies deductions and restorations against a BalanceStore.
// Double-application is prevented by the caller's per-request effect flag
// (approval.Request.Effect); the ledger itself is a plain
// read-modify-write.
type BalanceLedger struct{}

// Get returns the employee's balance, or an empty one if none is stored yet.
func (BalanceLedger) Get(ctx context.Context, store BalanceStore, employeeID string) (*LeaveBalance, error) {
	b, err := store.GetBalance(ctx, employeeID)
	if errors.Is(err, generic.ErrNotFound) {
		return &LeaveBalance{EmployeeID: employeeID}, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Deduct takes days from bucket t. It fails with InsufficientBalanceError
// and writes nothing when the bucket is short.
func (l BalanceLedger) Deduct(ctx context.Context, store BalanceStore, employeeID string, t LeaveType, days decimal.Decimal) (*LeaveBalance, error) {
	current, err := l.Get(ctx, store, employeeID)
	if err != nil {
		return nil, err
	}
	next, err := current.Deduct(t, days)
	if err != nil {
		return nil, err
	}
	if err := store.SaveBalance(ctx, &next); err != nil {
		return nil, fmt.Errorf("save balance of %s: %w", employeeID, err)
	}
	return &next, nil
}

// Restore gives days back to bucket t.
func (l BalanceLedger) Restore(ctx context.Context, store BalanceStore, employeeID string, t LeaveType, days decimal.Decimal) (*LeaveBalance, error) {
	current, err := l.Get(ctx, store, employeeID)
	if err != nil {
		return nil, err
	}
	next, err := current.Restore(t, days)
	if err != nil {
		return nil, err
	}
	if err := store.SaveBalance(ctx, &next); err != nil {
		return nil, fmt.Errorf("save balance of %s: %w", employeeID, err)
	}
	return &next, nil
}

// Set overwrites the buckets (administrative seeding, yearly entitlement).
func (l BalanceLedger) Set(ctx context.Context, store BalanceStore, b LeaveBalance) (*LeaveBalance, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	current, err := l.Get(ctx, store, b.EmployeeID)
	if err != nil {
		return nil, err
	}
	b.Version = current.Version
	if err := store.SaveBalance(ctx, &b); err != nil {
		return nil, fmt.Errorf("save balance of %s: %w", b.EmployeeID, err)
	}
	return &b, nil
}
