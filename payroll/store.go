package payroll

import (
	"context"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
)

// MonthStore persists month lifecycle records. SaveMonth follows the
// module's optimistic-locking contract (Version 0 = insert).
type MonthStore interface {
	GetMonth(ctx context.Context, key generic.MonthKey) (*Month, error)
	SaveMonth(ctx context.Context, m *Month) error
	ListMonths(ctx context.Context) ([]Month, error)
}

// RecordStore persists per-employee records.
type RecordStore interface {
	// ListRecords returns the month's records ordered by employee id.
	ListRecords(ctx context.Context, key generic.MonthKey) ([]Record, error)
	// ReplaceRecords deletes every record of the month and inserts records.
	ReplaceRecords(ctx context.Context, key generic.MonthKey, records []Record) error
}

// Tx is the transactional view used by the payroll service.
type Tx interface {
	MonthStore
	RecordStore
	ledger.Store
	generic.AuditLog
}

// Store is a Tx for plain reads plus a transaction runner.
type Store interface {
	Tx
	WithPayrollTx(ctx context.Context, fn func(tx Tx) error) error
}
