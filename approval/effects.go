package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// EFFECT DISPATCH
// =============================================================================
//
//   type        apply (approved)                 reverse (cancel/override)
//   ─────────   ──────────────────────────────   ─────────────────────────
//   leave       BalanceLedger.Deduct             BalanceLedger.Restore
//   loan        LoanLedger.Activate              LoanLedger.Cancel
//   allowance   AdjustmentBook.Add (allowance)   AdjustmentBook.Stop
//   penalty     AdjustmentBook.Add (deduction)   AdjustmentBook.Stop
//   other       -                                -
//
// Request.Effect is checked and updated in the same transaction as the
// ledger write, so an effect is applied or reversed at most once per
// transition.

// prepareEffect runs at submission. Leave requests are checked against the
// current balance; loan requests get a pending loan record.
func (e *Engine) prepareEffect(ctx context.Context, tx Tx, r *Request, now time.Time) error {
	switch p := r.Payload.(type) {
	case LeavePayload:
		if p.LeaveType == ledger.LeaveUnpaid {
			return nil
		}
		balance, err := e.balances.Get(ctx, tx, r.RequesterID)
		if err != nil {
			return err
		}
		_, err = balance.Deduct(p.LeaveType, p.DayCount())
		return err
	case LoanPayload:
		loan, err := ledger.NewLoan(generic.NewID("loan"), r.RequesterID, r.ID, p.Amount, p.Installments, now)
		if err != nil {
			return err
		}
		if err := e.loans.Create(ctx, tx, &loan); err != nil {
			return fmt.Errorf("create loan for %s: %w", r.ID, err)
		}
		p.LoanID = loan.ID
		r.Payload = p
	}
	return nil
}

// applyEffect books the ledger effect of an approved request.
func (e *Engine) applyEffect(ctx context.Context, tx Tx, r *Request, actorID string, now time.Time) error {
	if r.Effect == EffectApplied {
		return nil
	}

	meta := map[string]string{"type": string(r.Type)}
	switch p := r.Payload.(type) {
	case LeavePayload:
		balance, err := e.balances.Deduct(ctx, tx, r.RequesterID, p.LeaveType, p.DayCount())
		if err != nil {
			return err
		}
		meta["leave_type"] = string(p.LeaveType)
		meta["days"] = p.DayCount().String()
		if remaining, err := balance.Available(p.LeaveType); err == nil && p.LeaveType != ledger.LeaveUnpaid {
			meta["remaining"] = remaining.String()
		}

	case LoanPayload:
		start := p.StartMonth
		if start.IsZero() {
			start = generic.MonthOf(now).Next()
		}
		loan, err := e.loans.Activate(ctx, tx, p.LoanID, start, now)
		if err != nil {
			return err
		}
		meta["loan_id"] = loan.ID
		meta["start_month"] = loan.StartMonth.String()
		meta["installment"] = loan.InstallmentAmount.String()

	case AllowancePayload:
		adj := &ledger.Adjustment{
			ID:              generic.NewID("adj"),
			EmployeeID:      r.RequesterID,
			Kind:            ledger.KindAllowance,
			Category:        p.Category,
			Amount:          p.Amount,
			IsRecurring:     p.IsRecurring,
			StartMonth:      p.StartMonth,
			EndMonth:        p.EndMonth,
			SourceRequestID: r.ID,
			CreatedAt:       now,
		}
		if err := e.adjustments.Add(ctx, tx, adj); err != nil {
			return err
		}
		p.AdjustmentID = adj.ID
		r.Payload = p
		meta["adjustment_id"] = adj.ID

	case PenaltyPayload:
		employeeID := p.EmployeeID
		if employeeID == "" {
			employeeID = r.RequesterID
		}
		adj := &ledger.Adjustment{
			ID:              generic.NewID("adj"),
			EmployeeID:      employeeID,
			Kind:            ledger.KindDeduction,
			Category:        p.Category,
			Amount:          p.Amount,
			StartMonth:      p.Month,
			SourceRequestID: r.ID,
			CreatedAt:       now,
		}
		if err := e.adjustments.Add(ctx, tx, adj); err != nil {
			return err
		}
		p.AdjustmentID = adj.ID
		r.Payload = p
		meta["adjustment_id"] = adj.ID

	case OtherPayload:
		// no ledger effect
	default:
		return fmt.Errorf("%w: request %s has no payload", generic.ErrInvalidInput, r.ID)
	}

	before := r.Effect
	r.Effect = EffectApplied
	return generic.Audit(ctx, tx, now, generic.AuditEntry{
		EntityType:  generic.EntityRequest,
		EntityID:    r.ID,
		Action:      generic.AuditEffectApplied,
		ActorID:     actorID,
		BeforeState: string(before),
		AfterState:  string(r.Effect),
		Metadata:    meta,
	})
}

// reverseEffect undoes an applied effect. A request whose effect is not in
// force is left alone.
func (e *Engine) reverseEffect(ctx context.Context, tx Tx, r *Request, actorID string, now time.Time, reason string) error {
	if r.Effect != EffectApplied {
		return nil
	}

	meta := map[string]string{"type": string(r.Type)}
	switch p := r.Payload.(type) {
	case LeavePayload:
		if _, err := e.balances.Restore(ctx, tx, r.RequesterID, p.LeaveType, p.DayCount()); err != nil {
			return err
		}
		meta["leave_type"] = string(p.LeaveType)
		meta["days"] = p.DayCount().String()
	case LoanPayload:
		if _, err := e.loans.Cancel(ctx, tx, p.LoanID); err != nil {
			return err
		}
		meta["loan_id"] = p.LoanID
	case AllowancePayload:
		if _, err := e.adjustments.Stop(ctx, tx, p.AdjustmentID, now); err != nil {
			return err
		}
		meta["adjustment_id"] = p.AdjustmentID
	case PenaltyPayload:
		if _, err := e.adjustments.Stop(ctx, tx, p.AdjustmentID, now); err != nil {
			return err
		}
		meta["adjustment_id"] = p.AdjustmentID
	}

	r.Effect = EffectReversed
	return generic.Audit(ctx, tx, now, generic.AuditEntry{
		EntityType:  generic.EntityRequest,
		EntityID:    r.ID,
		Action:      generic.AuditEffectReversed,
		ActorID:     actorID,
		BeforeState: string(EffectApplied),
		AfterState:  string(r.Effect),
		Reason:      reason,
		Metadata:    meta,
	})
}

// releaseEffect drops the pending loan of a request that closed without
// its effect in force.
func (e *Engine) releaseEffect(ctx context.Context, tx Tx, r *Request) error {
	p, ok := r.Payload.(LoanPayload)
	if !ok || p.LoanID == "" || r.Effect == EffectApplied {
		return nil
	}
	_, err := e.loans.Cancel(ctx, tx, p.LoanID)
	return err
}
