package approval

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// SETTINGS - Versioned per-type approval configuration
// =============================================================================

// TypeSettings configures one request type.
type TypeSettings struct {
	// RequiredLevels is how many manager levels must approve. Clamped to the
	// number of managers actually above the requester.
	RequiredLevels int

	// AutoApproveThreshold: a payload whose magnitude is at or below it is
	// approved on submission. Zero disables auto-approval.
	AutoApproveThreshold decimal.Decimal

	// EscalationOverdueDays overrides Settings.DefaultOverdueDays when positive.
	EscalationOverdueDays int
}

// Settings is one immutable version of the approval configuration. Every
// change produces a new Version; requests record the version they were
// built under.
type Settings struct {
	Version            int
	Types              map[RequestType]TypeSettings
	DefaultOverdueDays int // 0 disables escalation for types without an override
	UpdatedBy          string
	UpdatedAt          time.Time
}

// DefaultSettings is used until an administrator stores a first version.
func DefaultSettings() Settings {
	return Settings{
		Types: map[RequestType]TypeSettings{
			TypeLeave:     {RequiredLevels: 1},
			TypeLoan:      {RequiredLevels: 2},
			TypeAllowance: {RequiredLevels: 1},
			TypePenalty:   {RequiredLevels: 1},
			TypeOther:     {RequiredLevels: 1},
		},
		DefaultOverdueDays: 3,
	}
}

// For returns the configuration of t. Unconfigured types require no
// approval levels and never auto-approve.
func (s Settings) For(t RequestType) TypeSettings {
	return s.Types[t]
}

// OverdueDays returns the escalation threshold for t in days.
func (s Settings) OverdueDays(t RequestType) int {
	if d := s.For(t).EscalationOverdueDays; d > 0 {
		return d
	}
	return s.DefaultOverdueDays
}

// Validate checks ranges. Unknown request types are rejected.
func (s Settings) Validate() error {
	if s.DefaultOverdueDays < 0 {
		return fmt.Errorf("%w: default overdue days must not be negative", generic.ErrInvalidInput)
	}
	for t, ts := range s.Types {
		if !t.Valid() {
			return fmt.Errorf("%w: unknown request type %q", generic.ErrInvalidInput, t)
		}
		if ts.RequiredLevels < 0 {
			return fmt.Errorf("%w: %s: required levels must not be negative", generic.ErrInvalidInput, t)
		}
		if ts.AutoApproveThreshold.IsNegative() {
			return fmt.Errorf("%w: %s: auto-approve threshold must not be negative", generic.ErrInvalidInput, t)
		}
		if ts.EscalationOverdueDays < 0 {
			return fmt.Errorf("%w: %s: overdue days must not be negative", generic.ErrInvalidInput, t)
		}
	}
	return nil
}

// Clone copies the per-type map.
func (s Settings) Clone() Settings {
	types := make(map[RequestType]TypeSettings, len(s.Types))
	for t, ts := range s.Types {
		types[t] = ts
	}
	s.Types = types
	return s
}
