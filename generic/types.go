/*
Package generic provides the domain-agnostic primitives shared by the
settlement engine: identifiers, calendar days and payroll months, the error
taxonomy, the append-only audit trail and the optimistic-concurrency retry
helper.

PURPOSE:
  The approval, ledger and payroll packages all describe state machines that
  must be atomic, audited and retried on version conflicts. The pieces they
  have in common live here so that every package speaks the same language
  about "who did what, when, from which state to which state".

KEY CONCEPTS IN THIS FILE (types.go):
  - Clock: injectable source of "now" (tests pin it)
  - Actor constants: identities used when the engine acts on its own
  - NewID: random identifiers for records created by the engine

DESIGN PRINCIPLES:
  1. Precision: money and day counts are decimal.Decimal, never float64
  2. Explicit time: every decision that depends on "today" takes a Clock
  3. Auditability: every transition produces an AuditEntry (see store.go)

SEE ALSO:
  - time.go: Day and MonthKey calendar types
  - errors.go: Error taxonomy
  - store.go: Audit trail interface
  - retry.go: Bounded retry on ErrConcurrentModification
*/
package generic

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// CLOCK
// =============================================================================

// Clock returns the current time. Services hold one so tests can pin "now".
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// =============================================================================
// ACTORS
// =============================================================================

const (
	// ActorSystem is recorded when the engine itself performs a transition
	// (auto-approval, escalation sweep).
	ActorSystem = "system"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// NewID returns a random identifier with a readable prefix, e.g. "req-<uuid>".
func NewID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

// =============================================================================
// DECIMAL HELPERS
// =============================================================================

// MustParseDecimal parses s, returning zero on malformed input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SumDecimals adds all values.
func SumDecimals(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
