/*
Package approval implements the dynamic approval-chain engine.

PURPOSE:
  A request (leave, loan, allowance, penalty, other) gets an approval chain
  derived from the requester's manager hierarchy, frozen at creation time.
  Approvers act on their level (possibly through a delegate) until the
  request reaches a terminal state. Terminal approval fires the request's
  ledger effect exactly once.

REQUEST FLOW:
  ┌──────────────────────────────────────────────────────────────────────┐
  │                                                                      │
  │  Submit ──▶ ChainBuilder ──▶ TryAutoApprove ──yes──▶ approved ──▶ effect
  │                                   │                                  │
  │                                   no                                 │
  │                                   ▼                                  │
  │                    ┌────────── pending ──────────┐                   │
  │     ApproveStep (all levels)    RejectStep    CancelRequest          │
  │                    ▼               ▼               ▼                 │
  │                 approved        rejected       cancelled             │
  │                    │                                                 │
  │                    └──▶ effect (BalanceLedger / LoanLedger / ...)    │
  │                                                                      │
  │  AdminOverride may force approved/rejected at any non-cancelled point │
  └──────────────────────────────────────────────────────────────────────┘

FINAL STATUS:
  FinalStatus is never set directly. DeriveStatus recomputes it from the
  chain plus the cancellation/override/auto-approval flags on every
  mutation; the stored value is only a mirror for queries.

KEY COMPONENTS:
  Request / Chain / Step: this file
  Payload variants:       payload.go
  ChainBuilder:           chain.go
  TryAutoApprove:         autoapprove.go
  DelegationResolver:     delegation.go
  Engine:                 machine.go (state machine) + effects.go (ledger dispatch)
  EscalationScanner:      escalation.go

SEE ALSO:
  - ledger: Effects applied on terminal approval
  - directory: Hierarchy source
*/
package approval

import (
	"time"
)

// =============================================================================
// REQUEST TYPES AND STATUSES
// =============================================================================

type RequestType string

const (
	TypeLeave     RequestType = "leave"
	TypeLoan      RequestType = "loan"
	TypeAllowance RequestType = "allowance"
	TypePenalty   RequestType = "penalty"
	TypeOther     RequestType = "other"
)

// AllRequestTypes lists the request types in a stable order.
var AllRequestTypes = []RequestType{TypeLeave, TypeLoan, TypeAllowance, TypePenalty, TypeOther}

// Valid reports whether t is a known request type.
func (t RequestType) Valid() bool {
	for _, known := range AllRequestTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Status is the request-level final status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// StepStatus is the per-level status. approved/rejected are terminal.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
)

// EffectState tracks the ledger effect of a request. It is the
// idempotency guard: an effect is applied only from none/reversed and
// reversed only from applied.
type EffectState string

const (
	EffectNone     EffectState = "none"
	EffectApplied  EffectState = "applied"
	EffectReversed EffectState = "reversed"
)

// =============================================================================
// CHAIN - Frozen approval steps
// =============================================================================

// Step is one level of an approval chain.
type Step struct {
	Level        int // 1-based
	ApproverID   string
	Status       StepStatus
	DecidedBy    string // effective approver who acted
	DelegationID string // delegation used by DecidedBy, if any
	DecidedAt    *time.Time
	Comment      string
}

// Chain is the ordered, immutable list of steps of one request.
type Chain []Step

// Clone deep-copies the chain.
func (c Chain) Clone() Chain {
	if c == nil {
		return nil
	}
	out := make(Chain, len(c))
	for i, s := range c {
		if s.DecidedAt != nil {
			at := *s.DecidedAt
			s.DecidedAt = &at
		}
		out[i] = s
	}
	return out
}

// Step returns the step at level (1-based).
func (c Chain) Step(level int) (*Step, bool) {
	if level < 1 || level > len(c) {
		return nil, false
	}
	return &c[level-1], true
}

// ActiveLevel returns the lowest pending level if every level below it is
// approved, or 0 when no level is actionable.
func (c Chain) ActiveLevel() int {
	for _, s := range c {
		switch s.Status {
		case StepApproved:
			continue
		case StepPending:
			return s.Level
		default:
			return 0
		}
	}
	return 0
}

// =============================================================================
// REQUEST
// =============================================================================

// Override records an administrative override of the final status.
type Override struct {
	Status  Status
	Reason  string
	AdminID string
	At      time.Time
}

// Cancellation records who cancelled a request and when.
type Cancellation struct {
	ActorID string
	At      time.Time
}

// Request is an approval request.
type Request struct {
	ID          string
	Type        RequestType
	RequesterID string
	Payload     Payload
	Chain       Chain
	FinalStatus Status

	AutoApproved bool
	Cancellation *Cancellation
	Override     *Override
	Effect       EffectState

	Escalated   bool
	EscalatedAt *time.Time

	SettingsVersion int
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Version         int
}

// DeriveStatus computes the final status from the chain and flags.
// Precedence: cancellation, override, auto-approval, any rejected step,
// all steps approved (vacuously true for an empty chain), pending.
func DeriveStatus(r Request) Status {
	if r.Cancellation != nil {
		return StatusCancelled
	}
	if r.Override != nil {
		return r.Override.Status
	}
	if r.AutoApproved {
		return StatusApproved
	}
	allApproved := true
	for _, s := range r.Chain {
		if s.Status == StepRejected {
			return StatusRejected
		}
		if s.Status != StepApproved {
			allApproved = false
		}
	}
	if allApproved {
		return StatusApproved
	}
	return StatusPending
}

// refresh recomputes FinalStatus. Called after every mutation.
func (r *Request) refresh(now time.Time) {
	r.FinalStatus = DeriveStatus(*r)
	r.UpdatedAt = now
}

// IsTerminal reports whether the request no longer accepts step actions.
func (r Request) IsTerminal() bool {
	return DeriveStatus(r) != StatusPending
}

// Clone deep-copies the request (stores hand out copies).
func (r Request) Clone() Request {
	r.Chain = r.Chain.Clone()
	if r.Cancellation != nil {
		c := *r.Cancellation
		r.Cancellation = &c
	}
	if r.Override != nil {
		o := *r.Override
		r.Override = &o
	}
	if r.EscalatedAt != nil {
		at := *r.EscalatedAt
		r.EscalatedAt = &at
	}
	r.Payload = clonePayload(r.Payload)
	return r
}

// RequestFilter selects requests in ListRequests.
type RequestFilter struct {
	RequesterID string
	Type        RequestType
	Status      Status
	Escalated   *bool
}

// Matches reports whether r passes the filter.
func (f RequestFilter) Matches(r Request) bool {
	if f.RequesterID != "" && r.RequesterID != f.RequesterID {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Status != "" && r.FinalStatus != f.Status {
		return false
	}
	if f.Escalated != nil && r.Escalated != *f.Escalated {
		return false
	}
	return true
}
