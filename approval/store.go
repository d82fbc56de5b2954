package approval

import (
	"context"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// STORAGE INTERFACES
// =============================================================================
//
// Save methods follow the optimistic-locking contract used across the
// module: the record's Version is the expected stored version (0 = insert).
// A mismatch fails with generic.ErrConcurrentModification; success bumps
// Version in place.

// RequestStore persists approval requests.
type RequestStore interface {
	GetRequest(ctx context.Context, id string) (*Request, error)
	SaveRequest(ctx context.Context, r *Request) error
	DeleteRequest(ctx context.Context, id string) error
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)
}

// DelegationStore persists delegations.
type DelegationStore interface {
	GetDelegation(ctx context.Context, id string) (*Delegation, error)
	SaveDelegation(ctx context.Context, d *Delegation) error
	// ListDelegations returns the delegations of delegatorID, or all when empty.
	ListDelegations(ctx context.Context, delegatorID string) ([]Delegation, error)
}

// SettingsStore keeps every settings version.
type SettingsStore interface {
	// CurrentSettings returns the highest version, or ErrNotFound if none exists.
	CurrentSettings(ctx context.Context) (*Settings, error)
	// SaveSettings inserts s as a new version; an existing version number
	// fails with ErrConcurrentModification.
	SaveSettings(ctx context.Context, s *Settings) error
}

// Tx is the transactional view used by the engine. Everything read or
// written through it commits or rolls back together, audit entries included.
type Tx interface {
	RequestStore
	DelegationStore
	SettingsStore
	ledger.Store
	generic.AuditLog
}

// Store is a Tx for reads outside a transaction plus a transaction runner.
type Store interface {
	Tx
	// WithApprovalTx runs fn in a transaction. A non-nil error from fn
	// rolls everything back.
	WithApprovalTx(ctx context.Context, fn func(tx Tx) error) error
}
