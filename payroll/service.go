package payroll

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
	"go.uber.org/zap"
)

// =============================================================================
// SERVICE - Month lifecycle
// =============================================================================

// Service generates, finalizes, locks and reopens payroll months.
type Service struct {
	Store      Store
	Directory  directory.Directory
	Attendance AttendanceSource
	Logger     *zap.Logger
	Clock      generic.Clock
	Retry      generic.RetryPolicy

	aggregator Aggregator
	loans      ledger.LoanLedger
}

// NewService wires a payroll service. A nil attendance source reports zero hours.
func NewService(store Store, dir directory.Directory, attendance AttendanceSource, logger *zap.Logger) *Service {
	if attendance == nil {
		attendance = NoAttendance{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		Store:      store,
		Directory:  dir,
		Attendance: attendance,
		Logger:     logger,
		Clock:      generic.SystemClock,
		Retry:      generic.DefaultRetryPolicy,
	}
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return generic.SystemClock()
	}
	return s.Clock()
}

func (s *Service) mutate(ctx context.Context, fn func(tx Tx, now time.Time) error) error {
	return generic.RetryOnConflict(ctx, s.Retry, func() error {
		return s.Store.WithPayrollTx(ctx, func(tx Tx) error {
			return fn(tx, s.now())
		})
	})
}

// =============================================================================
// READS
// =============================================================================

// GetMonth returns the month's lifecycle record.
func (s *Service) GetMonth(ctx context.Context, key generic.MonthKey) (*Month, error) {
	return s.Store.GetMonth(ctx, key)
}

// ListMonths returns every known month, oldest first.
func (s *Service) ListMonths(ctx context.Context) ([]Month, error) {
	return s.Store.ListMonths(ctx)
}

// ListRecords returns the month's records ordered by employee.
func (s *Service) ListRecords(ctx context.Context, key generic.MonthKey) ([]Record, error) {
	return s.Store.ListRecords(ctx, key)
}

// =============================================================================
// GENERATE
// =============================================================================

// Generate recomputes every record of a draft month from current ledger
// state, creating the month on first use. Running it twice without ledger
// changes in between yields the same records.
func (s *Service) Generate(ctx context.Context, key generic.MonthKey, actorID string) (*Month, []Record, error) {
	if _, err := generic.ParseMonthKey(string(key)); err != nil {
		return nil, nil, err
	}

	// Collaborator reads happen before the transaction opens.
	employees, err := directory.ActiveEmployees(ctx, s.Directory)
	if err != nil {
		return nil, nil, err
	}
	hours := make(map[string]decimal.Decimal, len(employees))
	for _, emp := range employees {
		h, err := s.Attendance.HoursWorked(ctx, emp.ID, key)
		if err != nil {
			return nil, nil, fmt.Errorf("attendance of %s for %s: %w", emp.ID, key, err)
		}
		hours[emp.ID] = h
	}

	var (
		month   *Month
		records []Record
	)
	err = s.mutate(ctx, func(tx Tx, now time.Time) error {
		m, err := tx.GetMonth(ctx, key)
		switch {
		case errors.Is(err, generic.ErrNotFound):
			m = &Month{Key: key, Status: StatusDraft}
		case err != nil:
			return err
		}
		if m.Status != StatusDraft {
			return generic.NewStateError(generic.ErrMonthNotEditable, "generate", generic.EntityPayroll, string(key), string(m.Status))
		}

		out := make([]Record, 0, len(employees))
		net := decimal.Zero
		for _, emp := range employees {
			rec, err := s.aggregator.Aggregate(ctx, tx, key, emp, hours[emp.ID], now)
			if err != nil {
				return fmt.Errorf("aggregate %s for %s: %w", emp.ID, key, err)
			}
			net = net.Add(rec.EstimatedNet)
			out = append(out, rec)
		}
		if err := tx.ReplaceRecords(ctx, key, out); err != nil {
			return err
		}

		m.GeneratedAt = &now
		m.GeneratedBy = actorID
		if err := tx.SaveMonth(ctx, m); err != nil {
			return err
		}
		month, records = m, out
		return generic.Audit(ctx, tx, now, generic.AuditEntry{
			EntityType:  generic.EntityPayroll,
			EntityID:    string(key),
			Action:      generic.AuditPayrollGenerated,
			ActorID:     actorID,
			BeforeState: string(StatusDraft),
			AfterState:  string(StatusDraft),
			Metadata: map[string]string{
				"employees":     strconv.Itoa(len(out)),
				"estimated_net": net.String(),
			},
		})
	})
	if err != nil {
		return nil, nil, err
	}

	s.Logger.Info("payroll generated",
		zap.String("month", string(key)),
		zap.Int("employees", len(records)),
		zap.String("actor_id", actorID))
	return month, records, nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Finalize moves a draft month to finalized and consumes one installment of
// every loan its records charge.
func (s *Service) Finalize(ctx context.Context, key generic.MonthKey, actorID string) (*Month, error) {
	var consumed int
	month, err := s.transition(ctx, key, actorID, "finalize", StatusDraft, StatusFinalized, "", generic.AuditPayrollFinalized,
		func(tx Tx, m *Month, now time.Time) error {
			consumed = 0
			records, err := tx.ListRecords(ctx, key)
			if err != nil {
				return err
			}
			for _, rec := range records {
				for _, loanID := range rec.LoanIDs() {
					loan, didConsume, err := s.loans.ConsumeInstallment(ctx, tx, loanID, key)
					if err != nil {
						return fmt.Errorf("records of %s are stale, regenerate before finalizing: %w", key, err)
					}
					if !didConsume {
						continue
					}
					consumed++
					if err := generic.Audit(ctx, tx, now, generic.AuditEntry{
						EntityType: generic.EntityLoan,
						EntityID:   loan.ID,
						Action:     generic.AuditInstallmentConsumed,
						ActorID:    actorID,
						AfterState: string(loan.Status),
						Metadata: map[string]string{
							"month":     string(key),
							"remaining": strconv.Itoa(loan.RemainingInstallments),
						},
					}); err != nil {
						return err
					}
				}
			}
			m.FinalizedAt = &now
			m.FinalizedBy = actorID
			return nil
		})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("payroll finalized",
		zap.String("month", string(key)),
		zap.Int("installments_consumed", consumed),
		zap.String("actor_id", actorID))
	return month, nil
}

// Lock freezes a finalized month.
func (s *Service) Lock(ctx context.Context, key generic.MonthKey, actorID string) (*Month, error) {
	month, err := s.transition(ctx, key, actorID, "lock", StatusFinalized, StatusLocked, "", generic.AuditPayrollLocked,
		func(_ Tx, m *Month, now time.Time) error {
			m.LockedAt = &now
			m.LockedBy = actorID
			return nil
		})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("payroll locked", zap.String("month", string(key)), zap.String("actor_id", actorID))
	return month, nil
}

// Reopen steps a month back one state: locked to finalized, finalized to
// draft. Installments consumed by the earlier finalization stay consumed.
func (s *Service) Reopen(ctx context.Context, key generic.MonthKey, actorID, reason string) (*Month, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, fmt.Errorf("reopen %s: %w", key, generic.ErrMissingReason)
	}

	current, err := s.Store.GetMonth(ctx, key)
	if err != nil {
		return nil, err
	}
	var from, to MonthStatus
	switch current.Status {
	case StatusLocked:
		from, to = StatusLocked, StatusFinalized
	case StatusFinalized:
		from, to = StatusFinalized, StatusDraft
	default:
		return nil, generic.NewStateError(generic.ErrMonthNotEditable, "reopen", generic.EntityPayroll, string(key), string(current.Status))
	}

	month, err := s.transition(ctx, key, actorID, "reopen", from, to, reason, generic.AuditPayrollReopened,
		func(_ Tx, m *Month, _ time.Time) error {
			if to == StatusFinalized {
				m.LockedAt, m.LockedBy = nil, ""
			} else {
				m.FinalizedAt, m.FinalizedBy = nil, ""
			}
			return nil
		})
	if err != nil {
		return nil, err
	}
	s.Logger.Warn("payroll reopened",
		zap.String("month", string(key)),
		zap.String("status", string(to)),
		zap.String("actor_id", actorID),
		zap.String("reason", reason))
	return month, nil
}

// transition moves key from one status to another, running apply on the
// month inside the same transaction.
func (s *Service) transition(ctx context.Context, key generic.MonthKey, actorID, op string, from, to MonthStatus, reason string, action generic.AuditAction, apply func(tx Tx, m *Month, now time.Time) error) (*Month, error) {
	var out *Month
	err := s.mutate(ctx, func(tx Tx, now time.Time) error {
		m, err := tx.GetMonth(ctx, key)
		if err != nil {
			return err
		}
		if m.Status != from {
			return generic.NewStateError(generic.ErrMonthNotEditable, op, generic.EntityPayroll, string(key), string(m.Status)).
				WithDetail("expected %s", from)
		}
		if err := apply(tx, m, now); err != nil {
			return err
		}
		m.Status = to
		if err := tx.SaveMonth(ctx, m); err != nil {
			return err
		}
		out = m
		return generic.Audit(ctx, tx, now, generic.AuditEntry{
			EntityType:  generic.EntityPayroll,
			EntityID:    string(key),
			Action:      action,
			ActorID:     actorID,
			BeforeState: string(from),
			AfterState:  string(to),
			Reason:      reason,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
