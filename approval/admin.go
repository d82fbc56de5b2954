package approval

import (
	"context"
	"time"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
	"go.uber.org/zap"
)

// =============================================================================
// LEDGER MAINTENANCE - Administrative writes outside the request flow
// =============================================================================

// Balance returns the employee's leave balance (zero buckets if none is stored).
func (e *Engine) Balance(ctx context.Context, employeeID string) (*ledger.LeaveBalance, error) {
	if _, err := e.Directory.GetEmployee(ctx, employeeID); err != nil {
		return nil, err
	}
	return e.balances.Get(ctx, e.Store, employeeID)
}

// SetBalance overwrites an employee's leave buckets.
func (e *Engine) SetBalance(ctx context.Context, b ledger.LeaveBalance, adminID string) (*ledger.LeaveBalance, error) {
	if _, err := e.Directory.GetEmployee(ctx, b.EmployeeID); err != nil {
		return nil, err
	}

	var out *ledger.LeaveBalance
	err := e.mutate(ctx, func(tx Tx, now time.Time) error {
		saved, err := e.balances.Set(ctx, tx, b)
		if err != nil {
			return err
		}
		out = saved
		return generic.Audit(ctx, tx, now, generic.AuditEntry{
			EntityType: generic.EntityBalance,
			EntityID:   b.EmployeeID,
			Action:     generic.AuditBalanceSet,
			ActorID:    adminID,
			Metadata: map[string]string{
				"annual":    saved.Annual.String(),
				"sick":      saved.Sick.String(),
				"emergency": saved.Emergency.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddAdjustment books an allowance or deduction directly (payroll staff
// entering a one-off bonus or fine without a request).
func (e *Engine) AddAdjustment(ctx context.Context, a ledger.Adjustment, adminID string) (*ledger.Adjustment, error) {
	if _, err := e.Directory.GetEmployee(ctx, a.EmployeeID); err != nil {
		return nil, err
	}

	var out *ledger.Adjustment
	err := e.mutate(ctx, func(tx Tx, now time.Time) error {
		adj := a
		adj.ID = generic.NewID("adj")
		adj.CreatedAt = now
		adj.Version = 0
		if err := e.adjustments.Add(ctx, tx, &adj); err != nil {
			return err
		}
		out = &adj
		return generic.Audit(ctx, tx, now, generic.AuditEntry{
			EntityType: generic.EntityAdjustment,
			EntityID:   adj.ID,
			Action:     generic.AuditAdjustmentAdded,
			ActorID:    adminID,
			AfterState: string(adj.Status),
			Metadata: map[string]string{
				"employee_id": adj.EmployeeID,
				"kind":        string(adj.Kind),
				"category":    adj.Category,
				"amount":      adj.Amount.String(),
				"start_month": adj.StartMonth.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	e.Logger.Info("adjustment added",
		zap.String("adjustment_id", out.ID),
		zap.String("employee_id", out.EmployeeID),
		zap.String("kind", string(out.Kind)))
	return out, nil
}

// StopAdjustment deactivates an adjustment from now on.
func (e *Engine) StopAdjustment(ctx context.Context, id, adminID string) (*ledger.Adjustment, error) {
	var out *ledger.Adjustment
	err := e.mutate(ctx, func(tx Tx, now time.Time) error {
		current, err := tx.GetAdjustment(ctx, id)
		if err != nil {
			return err
		}
		if current.Status == ledger.AdjustmentStopped {
			out = current
			return nil
		}
		stopped, err := e.adjustments.Stop(ctx, tx, id, now)
		if err != nil {
			return err
		}
		out = stopped
		return generic.Audit(ctx, tx, now, generic.AuditEntry{
			EntityType:  generic.EntityAdjustment,
			EntityID:    id,
			Action:      generic.AuditAdjustmentStopped,
			ActorID:     adminID,
			BeforeState: string(ledger.AdjustmentActive),
			AfterState:  string(ledger.AdjustmentStopped),
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Loans lists loans matching filter.
func (e *Engine) Loans(ctx context.Context, filter ledger.LoanFilter) ([]ledger.Loan, error) {
	return e.Store.ListLoans(ctx, filter)
}

// Adjustments lists adjustments matching filter.
func (e *Engine) Adjustments(ctx context.Context, filter ledger.AdjustmentFilter) ([]ledger.Adjustment, error) {
	return e.Store.ListAdjustments(ctx, filter)
}

// AuditTrail returns audit entries matching filter, oldest first.
func (e *Engine) AuditTrail(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	return e.Store.QueryAudit(ctx, filter)
}
