package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// LEAVE BALANCES (ledger.BalanceStore interface)
// =============================================================================

func (q *queries) GetBalance(ctx context.Context, employeeID string) (*ledger.LeaveBalance, error) {
	var (
		b                                    ledger.LeaveBalance
		annual, sick, emergency, unpaidTaken string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT employee_id, annual, sick, emergency, unpaid_taken, version
		FROM leave_balances WHERE employee_id = ?
	`, employeeID).Scan(&b.EmployeeID, &annual, &sick, &emergency, &unpaidTaken, &b.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound(generic.EntityBalance, employeeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}

	b.Annual = generic.MustParseDecimal(annual)
	b.Sick = generic.MustParseDecimal(sick)
	b.Emergency = generic.MustParseDecimal(emergency)
	b.UnpaidTaken = generic.MustParseDecimal(unpaidTaken)
	return &b, nil
}

func (q *queries) SaveBalance(ctx context.Context, b *ledger.LeaveBalance) error {
	insert := `
		INSERT INTO leave_balances (employee_id, annual, sick, emergency, unpaid_taken, version)
		VALUES (?, ?, ?, ?, ?, 1)
	`
	update := `
		UPDATE leave_balances SET
			employee_id = ?, annual = ?, sick = ?, emergency = ?, unpaid_taken = ?,
			version = version + 1
		WHERE employee_id = ? AND version = ?
	`
	err := q.save(ctx, generic.EntityBalance, b.EmployeeID, b.Version, insert, update,
		b.EmployeeID, b.Annual.String(), b.Sick.String(), b.Emergency.String(), b.UnpaidTaken.String(),
	)
	if err != nil {
		return err
	}
	b.Version++
	return nil
}

// =============================================================================
// LOANS (ledger.LoanStore interface)
// =============================================================================

const loanColumns = `id, employee_id, request_id, loan_amount, installment_amount, total_installments,
	remaining_installments, disbursed, disbursed_at, start_month, consumed_months_json, status,
	created_at, version`

func (q *queries) GetLoan(ctx context.Context, id string) (*ledger.Loan, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+loanColumns+" FROM loans WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	loans, err := scanLoans(rows)
	if err != nil {
		return nil, err
	}
	if len(loans) == 0 {
		return nil, generic.NewNotFound(generic.EntityLoan, id)
	}
	return &loans[0], nil
}

func (q *queries) SaveLoan(ctx context.Context, l *ledger.Loan) error {
	consumed := l.ConsumedMonths
	if consumed == nil {
		consumed = []generic.MonthKey{}
	}
	consumedJSON, err := json.Marshal(consumed)
	if err != nil {
		return fmt.Errorf("encode consumed months of %s: %w", l.ID, err)
	}

	insert := `
		INSERT INTO loans (` + loanColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`
	update := `
		UPDATE loans SET
			id = ?, employee_id = ?, request_id = ?, loan_amount = ?, installment_amount = ?,
			total_installments = ?, remaining_installments = ?, disbursed = ?, disbursed_at = ?,
			start_month = ?, consumed_months_json = ?, status = ?, created_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`
	err = q.save(ctx, generic.EntityLoan, l.ID, l.Version, insert, update,
		l.ID, l.EmployeeID, l.RequestID, l.LoanAmount.String(), l.InstallmentAmount.String(),
		l.TotalInstallments, l.RemainingInstallments, l.Disbursed, nullTime(l.DisbursedAt),
		string(l.StartMonth), string(consumedJSON), string(l.Status), formatTime(l.CreatedAt),
	)
	if err != nil {
		return err
	}
	l.Version++
	return nil
}

func (q *queries) ListLoans(ctx context.Context, filter ledger.LoanFilter) ([]ledger.Loan, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := "SELECT " + loanColumns + " FROM loans"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list loans: %w", err)
	}
	return scanLoans(rows)
}

func scanLoans(rows *sql.Rows) ([]ledger.Loan, error) {
	defer rows.Close()

	var loans []ledger.Loan
	for rows.Next() {
		var (
			l                               ledger.Loan
			amount, installment, startMonth string
			consumedJSON, status, createdAt string
			disbursedAt                     sql.NullString
		)
		err := rows.Scan(&l.ID, &l.EmployeeID, &l.RequestID, &amount, &installment,
			&l.TotalInstallments, &l.RemainingInstallments, &l.Disbursed, &disbursedAt,
			&startMonth, &consumedJSON, &status, &createdAt, &l.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan: %w", err)
		}

		l.LoanAmount = generic.MustParseDecimal(amount)
		l.InstallmentAmount = generic.MustParseDecimal(installment)
		l.DisbursedAt = parseNullTime(disbursedAt)
		l.StartMonth = generic.MonthKey(startMonth)
		l.Status = ledger.LoanStatus(status)
		l.CreatedAt = parseTime(createdAt)
		if err := json.Unmarshal([]byte(consumedJSON), &l.ConsumedMonths); err != nil {
			return nil, fmt.Errorf("decode consumed months of %s: %w", l.ID, err)
		}
		if len(l.ConsumedMonths) == 0 {
			l.ConsumedMonths = nil
		}
		loans = append(loans, l)
	}
	return loans, rows.Err()
}

// =============================================================================
// ADJUSTMENTS (ledger.AdjustmentStore interface)
// =============================================================================

const adjustmentColumns = `id, employee_id, kind, category, amount, is_recurring, start_month,
	end_month, status, source_request_id, created_at, stopped_at, version`

func (q *queries) GetAdjustment(ctx context.Context, id string) (*ledger.Adjustment, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+adjustmentColumns+" FROM adjustments WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get adjustment: %w", err)
	}
	adjs, err := scanAdjustments(rows)
	if err != nil {
		return nil, err
	}
	if len(adjs) == 0 {
		return nil, generic.NewNotFound(generic.EntityAdjustment, id)
	}
	return &adjs[0], nil
}

func (q *queries) SaveAdjustment(ctx context.Context, a *ledger.Adjustment) error {
	var endMonth sql.NullString
	if a.EndMonth != nil {
		endMonth = sql.NullString{String: string(*a.EndMonth), Valid: true}
	}

	insert := `
		INSERT INTO adjustments (` + adjustmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`
	update := `
		UPDATE adjustments SET
			id = ?, employee_id = ?, kind = ?, category = ?, amount = ?, is_recurring = ?,
			start_month = ?, end_month = ?, status = ?, source_request_id = ?, created_at = ?,
			stopped_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	err := q.save(ctx, generic.EntityAdjustment, a.ID, a.Version, insert, update,
		a.ID, a.EmployeeID, string(a.Kind), a.Category, a.Amount.String(), a.IsRecurring,
		string(a.StartMonth), endMonth, string(a.Status), a.SourceRequestID,
		formatTime(a.CreatedAt), nullTime(a.StoppedAt),
	)
	if err != nil {
		return err
	}
	a.Version++
	return nil
}

func (q *queries) ListAdjustments(ctx context.Context, filter ledger.AdjustmentFilter) ([]ledger.Adjustment, error) {
	var (
		where []string
		args  []any
	)
	if filter.EmployeeID != "" {
		where = append(where, "employee_id = ?")
		args = append(args, filter.EmployeeID)
	}
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, string(filter.Kind))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := "SELECT " + adjustmentColumns + " FROM adjustments"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list adjustments: %w", err)
	}
	return scanAdjustments(rows)
}

func scanAdjustments(rows *sql.Rows) ([]ledger.Adjustment, error) {
	defer rows.Close()

	var out []ledger.Adjustment
	for rows.Next() {
		var (
			a                                ledger.Adjustment
			kind, amount, startMonth, status string
			createdAt                        string
			endMonth, stoppedAt              sql.NullString
		)
		err := rows.Scan(&a.ID, &a.EmployeeID, &kind, &a.Category, &amount, &a.IsRecurring,
			&startMonth, &endMonth, &status, &a.SourceRequestID, &createdAt, &stoppedAt, &a.Version)
		if err != nil {
			return nil, fmt.Errorf("failed to scan adjustment: %w", err)
		}

		a.Kind = ledger.AdjustmentKind(kind)
		a.Amount = generic.MustParseDecimal(amount)
		a.StartMonth = generic.MonthKey(startMonth)
		if endMonth.Valid {
			end := generic.MonthKey(endMonth.String)
			a.EndMonth = &end
		}
		a.Status = ledger.AdjustmentStatus(status)
		a.CreatedAt = parseTime(createdAt)
		a.StoppedAt = parseNullTime(stoppedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
