/*
machine.go - Approval state machine

PURPOSE:
  Engine is the only writer of approval requests. Every operation is one
  read-modify-write inside a store transaction:

    1. Re-read the request (and whatever else it needs) through the Tx
    2. Check authorization and state
    3. Mutate, recompute FinalStatus, apply or reverse the ledger effect
    4. Save with the version read in step 1, append audit entries
    5. Commit

  A version mismatch in step 4 aborts the transaction with
  ErrConcurrentModification; the engine replays the whole operation a
  bounded number of times (generic.RetryOnConflict) before surfacing it.
  Every other failure aborts with no partial effect.

AUTHORIZATION:
  Step actions: the actor must be the effective approver of the level on
  the action date (the assigned approver, or their delegate while a
  delegation is in force). Levels are sequential: a level is actionable
  only once every lower level is approved.

  Cancellation: the requester only.
  Override / hard delete: administrators, with a mandatory reason. Role
  checks happen at the HTTP layer; the engine records the admin id.

SEE ALSO:
  - effects.go: Ledger dispatch on approval/reversal
  - escalation.go: Overdue sweep (the only other writer of Escalated)
*/
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
	"go.uber.org/zap"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs request lifecycles against a Store.
type Engine struct {
	Store     Store
	Directory directory.Directory
	Notifier  Notifier
	Logger    *zap.Logger
	Clock     generic.Clock
	Retry     generic.RetryPolicy

	balances    ledger.BalanceLedger
	loans       ledger.LoanLedger
	adjustments ledger.AdjustmentBook
}

// NewEngine wires an engine with the system clock, the default retry
// policy and no notifications.
func NewEngine(store Store, dir directory.Directory, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		Store:     store,
		Directory: dir,
		Notifier:  NopNotifier{},
		Logger:    logger,
		Clock:     generic.SystemClock,
		Retry:     generic.DefaultRetryPolicy,
	}
}

func (e *Engine) now() time.Time {
	if e.Clock == nil {
		return generic.SystemClock()
	}
	return e.Clock()
}

// mutate runs fn in a transaction, replaying it on version conflicts.
func (e *Engine) mutate(ctx context.Context, fn func(tx Tx, now time.Time) error) error {
	return generic.RetryOnConflict(ctx, e.Retry, func() error {
		return e.Store.WithApprovalTx(ctx, func(tx Tx) error {
			return fn(tx, e.now())
		})
	})
}

// notifyClosed tells the notifier about a terminal outcome. Runs after
// commit; failures are logged and never undo the transition.
func (e *Engine) notifyClosed(ctx context.Context, r *Request) {
	if e.Notifier == nil || r == nil || r.FinalStatus == StatusPending {
		return
	}
	if err := e.Notifier.RequestClosed(ctx, r.Clone()); err != nil {
		e.Logger.Warn("request notification failed",
			zap.String("request_id", r.ID),
			zap.String("status", string(r.FinalStatus)),
			zap.Error(err))
	}
}

// =============================================================================
// QUERIES
// =============================================================================

// GetRequest returns a request by id.
func (e *Engine) GetRequest(ctx context.Context, id string) (*Request, error) {
	return e.Store.GetRequest(ctx, id)
}

// ListRequests returns requests matching filter, oldest first.
func (e *Engine) ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error) {
	return e.Store.ListRequests(ctx, filter)
}

// PendingFor lists the pending requests whose active level the approver can
// act on today, directly or as a delegate.
func (e *Engine) PendingFor(ctx context.Context, approverID string) ([]Request, error) {
	pending, err := e.Store.ListRequests(ctx, RequestFilter{Status: StatusPending})
	if err != nil {
		return nil, err
	}
	resolver := DelegationResolver{Store: e.Store}
	today := generic.DayOf(e.now())

	var out []Request
	for _, r := range pending {
		step, ok := r.Chain.Step(r.Chain.ActiveLevel())
		if !ok {
			continue
		}
		effective, _, err := resolver.ResolveApprover(ctx, step.ApproverID, today)
		if err != nil {
			return nil, err
		}
		if effective == approverID {
			out = append(out, r)
		}
	}
	return out, nil
}

// =============================================================================
// SUBMIT
// =============================================================================

// SubmitInput is a new request.
type SubmitInput struct {
	Type        RequestType
	RequesterID string
	Payload     Payload
}

// Submit creates a request: builds its chain under the current settings,
// auto-approves it when the payload is under threshold (or the chain is
// empty), and applies the effect of an immediately approved request in the
// same transaction.
func (e *Engine) Submit(ctx context.Context, in SubmitInput) (*Request, error) {
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown request type %q", generic.ErrInvalidInput, in.Type)
	}
	if in.Payload == nil || in.Payload.Type() != in.Type {
		return nil, fmt.Errorf("%w: payload does not match request type %s", generic.ErrInvalidInput, in.Type)
	}
	if err := in.Payload.Validate(); err != nil {
		return nil, err
	}

	requester, err := e.Directory.GetEmployee(ctx, in.RequesterID)
	if err != nil {
		return nil, err
	}
	if !requester.Active {
		return nil, fmt.Errorf("%w: employee %s is inactive", generic.ErrInvalidInput, requester.ID)
	}
	if p, ok := in.Payload.(PenaltyPayload); ok && p.EmployeeID != "" && p.EmployeeID != requester.ID {
		target, err := e.Directory.GetEmployee(ctx, p.EmployeeID)
		if err != nil {
			return nil, err
		}
		if !target.Active {
			return nil, fmt.Errorf("%w: penalized employee %s is inactive", generic.ErrInvalidInput, target.ID)
		}
	}

	// Directory reads stay outside the transaction; the chain is frozen here.
	settings, err := e.CurrentSettings(ctx)
	if err != nil {
		return nil, err
	}
	chain, err := ChainBuilder{Directory: e.Directory}.Build(ctx, in.Type, in.RequesterID, *settings)
	if err != nil {
		return nil, err
	}
	auto := TryAutoApprove(in.Type, in.Payload, *settings)

	var out *Request
	err = e.mutate(ctx, func(tx Tx, now time.Time) error {
		r := &Request{
			ID:              generic.NewID("req"),
			Type:            in.Type,
			RequesterID:     in.RequesterID,
			Payload:         in.Payload,
			Chain:           chain.Clone(),
			AutoApproved:    auto,
			Effect:          EffectNone,
			SettingsVersion: settings.Version,
			CreatedAt:       now,
		}
		r.refresh(now)

		if err := e.prepareEffect(ctx, tx, r, now); err != nil {
			return err
		}

		meta := map[string]string{
			"type":             string(r.Type),
			"levels":           strconv.Itoa(len(r.Chain)),
			"settings_version": strconv.Itoa(r.SettingsVersion),
		}
		if err := e.auditRequest(ctx, tx, now, r, generic.AuditRequestCreated, r.RequesterID, "", "", meta); err != nil {
			return err
		}
		if r.FinalStatus == StatusApproved {
			reason := "no approval levels required"
			if r.AutoApproved {
				reason = "under auto-approve threshold"
			}
			if err := e.auditRequest(ctx, tx, now, r, generic.AuditRequestAutoApproved, generic.ActorSystem,
				string(StatusPending), reason, meta); err != nil {
				return err
			}
			if err := e.applyEffect(ctx, tx, r, generic.ActorSystem, now); err != nil {
				return err
			}
		}
		if err := tx.SaveRequest(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.Info("request submitted",
		zap.String("request_id", out.ID),
		zap.String("type", string(out.Type)),
		zap.String("requester_id", out.RequesterID),
		zap.Int("levels", len(out.Chain)),
		zap.String("status", string(out.FinalStatus)))
	e.notifyClosed(ctx, out)
	return out, nil
}

// =============================================================================
// STEP ACTIONS
// =============================================================================

// ApproveStep records the actor's approval of level. When it is the last
// pending level the request becomes approved and its effect is applied;
// an effect failure (e.g. insufficient balance) aborts the approval.
func (e *Engine) ApproveStep(ctx context.Context, requestID, actorID string, level int, comment string) (*Request, error) {
	return e.decideStep(ctx, requestID, actorID, level, StepApproved, comment)
}

// RejectStep records the actor's rejection of level. The request becomes
// rejected immediately.
func (e *Engine) RejectStep(ctx context.Context, requestID, actorID string, level int, comment string) (*Request, error) {
	return e.decideStep(ctx, requestID, actorID, level, StepRejected, comment)
}

func (e *Engine) decideStep(ctx context.Context, requestID, actorID string, level int, decision StepStatus, comment string) (*Request, error) {
	op := "approve_step"
	action := generic.AuditStepApproved
	if decision == StepRejected {
		op = "reject_step"
		action = generic.AuditStepRejected
	}

	var out *Request
	err := e.mutate(ctx, func(tx Tx, now time.Time) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		before := r.FinalStatus
		if r.IsTerminal() {
			return generic.NewStateError(generic.ErrRequestAlreadyClosed, op, generic.EntityRequest, r.ID, string(before))
		}
		step, ok := r.Chain.Step(level)
		if !ok {
			return fmt.Errorf("%w: request %s has no level %d", generic.ErrInvalidInput, r.ID, level)
		}

		effective, delegation, err := DelegationResolver{Store: tx}.ResolveApprover(ctx, step.ApproverID, generic.DayOf(now))
		if err != nil {
			return err
		}
		if effective != actorID {
			return generic.NewStateError(generic.ErrNotAuthorized, op, generic.EntityRequest, r.ID, string(before)).
				WithDetail("level %d is assigned to %s", level, effective)
		}
		if step.Status != StepPending {
			return generic.NewStateError(generic.ErrAlreadyDecided, op, generic.EntityRequest, r.ID, string(step.Status)).
				WithDetail("level %d", level)
		}
		if active := r.Chain.ActiveLevel(); active != level {
			return generic.NewStateError(generic.ErrNotAuthorized, op, generic.EntityRequest, r.ID, string(before)).
				WithDetail("level %d is not actionable before level %d", level, active)
		}

		decidedAt := now
		step.Status = decision
		step.DecidedBy = actorID
		step.DecidedAt = &decidedAt
		step.Comment = comment
		if delegation != nil {
			step.DelegationID = delegation.ID
		}
		r.refresh(now)

		meta := map[string]string{
			"level":    strconv.Itoa(level),
			"approver": step.ApproverID,
		}
		if delegation != nil {
			meta["delegation_id"] = delegation.ID
			meta["on_behalf_of"] = delegation.DelegatorID
		}
		if err := e.auditRequest(ctx, tx, now, r, action, actorID, string(before), comment, meta); err != nil {
			return err
		}
		if r.FinalStatus == StatusPending {
			if err := clearEscalation(ctx, tx, r, level, now); err != nil {
				return err
			}
		}

		switch r.FinalStatus {
		case StatusApproved:
			if err := e.applyEffect(ctx, tx, r, actorID, now); err != nil {
				return err
			}
		case StatusRejected:
			if err := e.releaseEffect(ctx, tx, r); err != nil {
				return err
			}
		}
		if err := tx.SaveRequest(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.Info("step decided",
		zap.String("request_id", out.ID),
		zap.Int("level", level),
		zap.String("decision", string(decision)),
		zap.String("actor_id", actorID),
		zap.String("status", string(out.FinalStatus)))
	e.notifyClosed(ctx, out)
	return out, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// CancelRequest withdraws a request on behalf of its requester. Pending
// requests of any type can be cancelled. An approved leave can be cancelled
// until its first day, which gives the days back to the balance.
func (e *Engine) CancelRequest(ctx context.Context, requestID, actorID string) (*Request, error) {
	var out *Request
	err := e.mutate(ctx, func(tx Tx, now time.Time) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		before := r.FinalStatus
		if actorID != r.RequesterID {
			return generic.NewStateError(generic.ErrNotAuthorized, "cancel_request", generic.EntityRequest, r.ID, string(before)).
				WithDetail("only the requester can cancel")
		}

		switch {
		case before == StatusPending:
			if err := e.releaseEffect(ctx, tx, r); err != nil {
				return err
			}
		case before == StatusApproved && cancellableLeave(r, now):
			if err := e.reverseEffect(ctx, tx, r, actorID, now, "cancelled before leave start"); err != nil {
				return err
			}
		default:
			return generic.NewStateError(generic.ErrTooLateToCancel, "cancel_request", generic.EntityRequest, r.ID, string(before))
		}

		r.Cancellation = &Cancellation{ActorID: actorID, At: now}
		r.refresh(now)
		if err := tx.SaveRequest(ctx, r); err != nil {
			return err
		}
		if err := e.auditRequest(ctx, tx, now, r, generic.AuditRequestCancelled, actorID, string(before), "", nil); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.Info("request cancelled", zap.String("request_id", out.ID), zap.String("actor_id", actorID))
	return out, nil
}

// cancellableLeave reports whether an approved leave has not started yet.
func cancellableLeave(r *Request, now time.Time) bool {
	p, ok := r.Payload.(LeavePayload)
	if !ok {
		return false
	}
	return generic.DayOf(now).Before(p.StartDate)
}

// =============================================================================
// ADMIN
// =============================================================================

// AdminOverride forces the final status to approved or rejected, bypassing
// the chain. Overriding to approved applies the effect if it is not in
// force; overriding to rejected reverses it if it is.
func (e *Engine) AdminOverride(ctx context.Context, requestID string, target Status, reason, adminID string) (*Request, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("override of %s: %w", requestID, generic.ErrMissingReason)
	}
	if target != StatusApproved && target != StatusRejected {
		return nil, fmt.Errorf("%w: override target must be approved or rejected, got %q", generic.ErrInvalidInput, target)
	}

	var out *Request
	err := e.mutate(ctx, func(tx Tx, now time.Time) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		before := r.FinalStatus
		if before == StatusCancelled {
			return generic.NewStateError(generic.ErrRequestAlreadyClosed, "admin_override", generic.EntityRequest, r.ID, string(before))
		}

		r.Override = &Override{Status: target, Reason: reason, AdminID: adminID, At: now}
		r.refresh(now)

		if target == StatusApproved {
			err = e.applyEffect(ctx, tx, r, adminID, now)
		} else {
			if err = e.reverseEffect(ctx, tx, r, adminID, now, reason); err == nil {
				err = e.releaseEffect(ctx, tx, r)
			}
		}
		if err != nil {
			return err
		}
		if err := tx.SaveRequest(ctx, r); err != nil {
			return err
		}
		if err := e.auditRequest(ctx, tx, now, r, generic.AuditRequestOverridden, adminID, string(before), reason, nil); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.Warn("request overridden",
		zap.String("request_id", out.ID),
		zap.String("status", string(target)),
		zap.String("admin_id", adminID),
		zap.String("reason", reason))
	e.notifyClosed(ctx, out)
	return out, nil
}

// HardDelete removes a request outright. An applied ledger effect is left
// as is; a loan still waiting on the request is cancelled. The audit trail
// keeps the record of the deletion.
func (e *Engine) HardDelete(ctx context.Context, requestID, adminID, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("delete of %s: %w", requestID, generic.ErrMissingReason)
	}
	err := e.mutate(ctx, func(tx Tx, now time.Time) error {
		r, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if err := e.releaseEffect(ctx, tx, r); err != nil {
			return err
		}
		if err := tx.DeleteRequest(ctx, r.ID); err != nil {
			return err
		}
		meta := map[string]string{
			"type":         string(r.Type),
			"requester_id": r.RequesterID,
			"effect":       string(r.Effect),
		}
		return generic.Audit(ctx, tx, now, generic.AuditEntry{
			EntityType:  generic.EntityRequest,
			EntityID:    r.ID,
			Action:      generic.AuditRequestDeleted,
			ActorID:     adminID,
			BeforeState: string(r.FinalStatus),
			AfterState:  "deleted",
			Reason:      reason,
			Metadata:    meta,
		})
	})
	if err != nil {
		return err
	}
	e.Logger.Warn("request hard-deleted",
		zap.String("request_id", requestID),
		zap.String("admin_id", adminID),
		zap.String("reason", reason))
	return nil
}

// =============================================================================
// DELEGATIONS
// =============================================================================

// DelegationInput is a new delegation window.
type DelegationInput struct {
	DelegatorID string
	DelegateID  string
	ActiveFrom  generic.Day
	ActiveTo    generic.Day
}

// CreateDelegation stores a delegation after checking both employees exist
// and the window does not overlap a live delegation of the same delegator.
func (e *Engine) CreateDelegation(ctx context.Context, in DelegationInput, adminID string) (*Delegation, error) {
	d := Delegation{
		DelegatorID: in.DelegatorID,
		DelegateID:  in.DelegateID,
		ActiveFrom:  in.ActiveFrom,
		ActiveTo:    in.ActiveTo,
		CreatedBy:   adminID,
	}
	if err := d.validate(); err != nil {
		return nil, err
	}
	for _, id := range []string{d.DelegatorID, d.DelegateID} {
		if _, err := e.Directory.GetEmployee(ctx, id); err != nil {
			return nil, err
		}
	}

	var out *Delegation
	err := e.mutate(ctx, func(tx Tx, now time.Time) error {
		created := d
		created.ID = generic.NewID("dlg")
		created.CreatedAt = now
		if err := checkOverlap(ctx, tx, created); err != nil {
			return err
		}
		if err := tx.SaveDelegation(ctx, &created); err != nil {
			return err
		}
		out = &created
		return generic.Audit(ctx, tx, now, generic.AuditEntry{
			EntityType: generic.EntityDelegation,
			EntityID:   created.ID,
			Action:     generic.AuditDelegationCreated,
			ActorID:    adminID,
			AfterState: "active",
			Metadata: map[string]string{
				"delegator_id": created.DelegatorID,
				"delegate_id":  created.DelegateID,
				"active_from":  created.ActiveFrom.String(),
				"active_to":    created.ActiveTo.String(),
			},
		})
	})
	if err != nil {
		return nil, err
	}
	e.Logger.Info("delegation created",
		zap.String("delegation_id", out.ID),
		zap.String("delegator_id", out.DelegatorID),
		zap.String("delegate_id", out.DelegateID))
	return out, nil
}

// EndDelegation takes a delegation out of force. Ending twice is a no-op.
func (e *Engine) EndDelegation(ctx context.Context, id, adminID string) (*Delegation, error) {
	var out *Delegation
	err := e.mutate(ctx, func(tx Tx, now time.Time) error {
		d, err := tx.GetDelegation(ctx, id)
		if err != nil {
			return err
		}
		out = d
		if d.Ended {
			return nil
		}
		d.Ended = true
		d.EndedAt = &now
		if err := tx.SaveDelegation(ctx, d); err != nil {
			return err
		}
		return generic.Audit(ctx, tx, now, generic.AuditEntry{
			EntityType:  generic.EntityDelegation,
			EntityID:    d.ID,
			Action:      generic.AuditDelegationEnded,
			ActorID:     adminID,
			BeforeState: "active",
			AfterState:  "ended",
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListDelegations returns delegations of delegatorID (all when empty),
// ordered by start date.
func (e *Engine) ListDelegations(ctx context.Context, delegatorID string) ([]Delegation, error) {
	out, err := e.Store.ListDelegations(ctx, delegatorID)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActiveFrom.Before(out[j].ActiveFrom) })
	return out, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

// CurrentSettings returns the latest settings version, or DefaultSettings
// (version 0) before any version has been stored.
func (e *Engine) CurrentSettings(ctx context.Context) (*Settings, error) {
	s, err := e.Store.CurrentSettings(ctx)
	if errors.Is(err, generic.ErrNotFound) {
		d := DefaultSettings()
		return &d, nil
	}
	return s, err
}

// UpdateSettings stores s as the next settings version. Requests already
// created keep the chain they were built with.
func (e *Engine) UpdateSettings(ctx context.Context, s Settings, adminID string) (*Settings, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var out *Settings
	err := e.mutate(ctx, func(tx Tx, now time.Time) error {
		prev := 0
		current, err := tx.CurrentSettings(ctx)
		switch {
		case err == nil:
			prev = current.Version
		case !errors.Is(err, generic.ErrNotFound):
			return err
		}

		next := s.Clone()
		next.Version = prev + 1
		next.UpdatedBy = adminID
		next.UpdatedAt = now
		if err := tx.SaveSettings(ctx, &next); err != nil {
			return err
		}
		out = &next
		return generic.Audit(ctx, tx, now, generic.AuditEntry{
			EntityType:  generic.EntitySettings,
			EntityID:    "approval",
			Action:      generic.AuditSettingsChanged,
			ActorID:     adminID,
			BeforeState: strconv.Itoa(prev),
			AfterState:  strconv.Itoa(next.Version),
		})
	})
	if err != nil {
		return nil, err
	}
	e.Logger.Info("approval settings updated", zap.Int("version", out.Version), zap.String("admin_id", adminID))
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (e *Engine) auditRequest(ctx context.Context, tx Tx, now time.Time, r *Request, action generic.AuditAction, actorID, before, reason string, meta map[string]string) error {
	return generic.Audit(ctx, tx, now, generic.AuditEntry{
		EntityType:  generic.EntityRequest,
		EntityID:    r.ID,
		Action:      action,
		ActorID:     actorID,
		BeforeState: before,
		AfterState:  string(r.FinalStatus),
		Reason:      reason,
		Metadata:    meta,
	})
}
