/*
store.go - Audit trail interface

PURPOSE:
  Every state transition in the approval engine, the escalation sweep, the
  ledgers and the payroll lifecycle appends one AuditEntry. The trail is
  append-only: no Update, no Delete.

ATOMICITY:
  Entries are appended through the same transaction that commits the
  transition. If the append fails, the transition is rolled back; an audit
  failure is never swallowed.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: audit_log table
  - generic/store/memory.go: in-memory slice for tests

SEE ALSO:
  - approval/machine.go, payroll/service.go: Producers
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// AUDIT LOG - Append-only, tracks who did what when
// =============================================================================

// AuditEntry records one state transition.
type AuditEntry struct {
	ID          string
	EntityType  string
	EntityID    string
	Action      AuditAction
	ActorID     string
	Timestamp   time.Time
	BeforeState string
	AfterState  string
	Reason      string
	Metadata    map[string]string
}

type AuditAction string

const (
	AuditRequestCreated      AuditAction = "request_created"
	AuditRequestAutoApproved AuditAction = "request_auto_approved"
	AuditStepApproved        AuditAction = "step_approved"
	AuditStepRejected        AuditAction = "step_rejected"
	AuditRequestCancelled    AuditAction = "request_cancelled"
	AuditRequestOverridden   AuditAction = "request_overridden"
	AuditRequestDeleted      AuditAction = "request_hard_deleted"
	AuditRequestEscalated    AuditAction = "request_escalated"
	AuditEscalationCleared   AuditAction = "request_escalation_cleared"
	AuditEffectApplied       AuditAction = "effect_applied"
	AuditEffectReversed      AuditAction = "effect_reversed"
	AuditDelegationCreated   AuditAction = "delegation_created"
	AuditDelegationEnded     AuditAction = "delegation_ended"
	AuditSettingsChanged     AuditAction = "settings_changed"
	AuditBalanceSet          AuditAction = "balance_set"
	AuditAdjustmentAdded     AuditAction = "adjustment_added"
	AuditAdjustmentStopped   AuditAction = "adjustment_stopped"
	AuditInstallmentConsumed AuditAction = "installment_consumed"
	AuditPayrollGenerated    AuditAction = "payroll_generated"
	AuditPayrollFinalized    AuditAction = "payroll_finalized"
	AuditPayrollLocked       AuditAction = "payroll_locked"
	AuditPayrollReopened     AuditAction = "payroll_reopened"
)

// Entity types recorded in AuditEntry.EntityType.
const (
	EntityRequest    = "approval_request"
	EntityDelegation = "delegation"
	EntitySettings   = "approval_settings"
	EntityBalance    = "leave_balance"
	EntityLoan       = "loan"
	EntityAdjustment = "adjustment"
	EntityPayroll    = "payroll_month"
)

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

type AuditFilter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Actions    []AuditAction
	From       *time.Time
	To         *time.Time
}

// Matches reports whether e passes the filter. Stores without a query
// language (memory) use it directly.
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.EntityType != "" && e.EntityType != f.EntityType {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// Audit fills in ID and Timestamp and appends the entry. Callers pass the
// transactional log so the entry commits or rolls back with the transition.
func Audit(ctx context.Context, log AuditLog, now time.Time, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = NewID("aud")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}
	return log.AppendAudit(ctx, entry)
}
