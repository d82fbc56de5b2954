package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/payroll"
)

// =============================================================================
// PAYROLL MONTHS (payroll.MonthStore interface)
// =============================================================================

const monthColumns = `month, status, generated_at, generated_by, finalized_at, finalized_by,
	locked_at, locked_by, version`

func (q *queries) GetMonth(ctx context.Context, key generic.MonthKey) (*payroll.Month, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+monthColumns+" FROM payroll_months WHERE month = ?", string(key))
	if err != nil {
		return nil, fmt.Errorf("failed to get payroll month: %w", err)
	}
	months, err := scanMonths(rows)
	if err != nil {
		return nil, err
	}
	if len(months) == 0 {
		return nil, generic.NewNotFound(generic.EntityPayroll, string(key))
	}
	return &months[0], nil
}

func (q *queries) SaveMonth(ctx context.Context, m *payroll.Month) error {
	insert := `
		INSERT INTO payroll_months (` + monthColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
	`
	update := `
		UPDATE payroll_months SET
			month = ?, status = ?, generated_at = ?, generated_by = ?, finalized_at = ?,
			finalized_by = ?, locked_at = ?, locked_by = ?, version = version + 1
		WHERE month = ? AND version = ?
	`
	err := q.save(ctx, generic.EntityPayroll, string(m.Key), m.Version, insert, update,
		string(m.Key), string(m.Status), nullTime(m.GeneratedAt), m.GeneratedBy,
		nullTime(m.FinalizedAt), m.FinalizedBy, nullTime(m.LockedAt), m.LockedBy,
	)
	if err != nil {
		return err
	}
	m.Version++
	return nil
}

func (q *queries) ListMonths(ctx context.Context) ([]payroll.Month, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+monthColumns+" FROM payroll_months ORDER BY month ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to list payroll months: %w", err)
	}
	months, err := scanMonths(rows)
	if err != nil {
		return nil, err
	}
	if months == nil {
		months = []payroll.Month{}
	}
	return months, nil
}

func scanMonths(rows *sql.Rows) ([]payroll.Month, error) {
	defer rows.Close()

	var months []payroll.Month
	for rows.Next() {
		var (
			m                                  payroll.Month
			key, status                        string
			generatedAt, finalizedAt, lockedAt sql.NullString
		)
		if err := rows.Scan(&key, &status, &generatedAt, &m.GeneratedBy, &finalizedAt, &m.FinalizedBy,
			&lockedAt, &m.LockedBy, &m.Version); err != nil {
			return nil, fmt.Errorf("failed to scan payroll month: %w", err)
		}
		m.Key = generic.MonthKey(key)
		m.Status = payroll.MonthStatus(status)
		m.GeneratedAt = parseNullTime(generatedAt)
		m.FinalizedAt = parseNullTime(finalizedAt)
		m.LockedAt = parseNullTime(lockedAt)
		months = append(months, m)
	}
	return months, rows.Err()
}

// =============================================================================
// PAYROLL RECORDS (payroll.RecordStore interface)
// =============================================================================

// lineJSON is the stored shape of one record line.
type lineJSON struct {
	Kind     string `json:"kind"`
	SourceID string `json:"source_id"`
	Category string `json:"category,omitempty"`
	Amount   string `json:"amount"`
}

func (q *queries) ListRecords(ctx context.Context, key generic.MonthKey) ([]payroll.Record, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT month, employee_id, base_salary, total_hours, total_allowances, custom_deductions,
		       loan_installments, total_deductions, estimated_net, lines_json, generated_at
		FROM payroll_records
		WHERE month = ?
		ORDER BY employee_id ASC
	`, string(key))
	if err != nil {
		return nil, fmt.Errorf("failed to list payroll records: %w", err)
	}
	defer rows.Close()

	records := []payroll.Record{}
	for rows.Next() {
		var (
			r                                                    payroll.Record
			month, base, hours, allowances, custom, loans, total string
			net, linesJSON, generatedAt                          string
		)
		if err := rows.Scan(&month, &r.EmployeeID, &base, &hours, &allowances, &custom,
			&loans, &total, &net, &linesJSON, &generatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payroll record: %w", err)
		}
		r.Month = generic.MonthKey(month)
		r.BaseSalary = generic.MustParseDecimal(base)
		r.TotalHours = generic.MustParseDecimal(hours)
		r.TotalAllowances = generic.MustParseDecimal(allowances)
		r.CustomDeductions = generic.MustParseDecimal(custom)
		r.LoanInstallments = generic.MustParseDecimal(loans)
		r.TotalDeductions = generic.MustParseDecimal(total)
		r.EstimatedNet = generic.MustParseDecimal(net)
		r.GeneratedAt = parseTime(generatedAt)

		var lines []lineJSON
		if err := json.Unmarshal([]byte(linesJSON), &lines); err != nil {
			return nil, fmt.Errorf("decode lines of %s/%s: %w", month, r.EmployeeID, err)
		}
		for _, l := range lines {
			r.Lines = append(r.Lines, payroll.Line{
				Kind:     payroll.LineKind(l.Kind),
				SourceID: l.SourceID,
				Category: l.Category,
				Amount:   generic.MustParseDecimal(l.Amount),
			})
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// ReplaceRecords deletes the month's records and inserts the new set. A
// month that left draft is refused here and, as a backstop, by the
// payroll_records triggers.
func (q *queries) ReplaceRecords(ctx context.Context, key generic.MonthKey, records []payroll.Record) error {
	var status string
	err := q.db.QueryRowContext(ctx, "SELECT status FROM payroll_months WHERE month = ?", string(key)).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read payroll month: %w", err)
	case payroll.MonthStatus(status) != payroll.StatusDraft:
		return frozen(key, status)
	}

	if _, err := q.db.ExecContext(ctx, "DELETE FROM payroll_records WHERE month = ?", string(key)); err != nil {
		if isFrozenMonthError(err) {
			return frozen(key, status)
		}
		return fmt.Errorf("failed to clear payroll records: %w", err)
	}

	for _, r := range records {
		lines := make([]lineJSON, len(r.Lines))
		for i, l := range r.Lines {
			lines[i] = lineJSON{Kind: string(l.Kind), SourceID: l.SourceID, Category: l.Category, Amount: l.Amount.String()}
		}
		linesJSON, err := json.Marshal(lines)
		if err != nil {
			return fmt.Errorf("encode lines of %s: %w", r.EmployeeID, err)
		}

		_, err = q.db.ExecContext(ctx, `
			INSERT INTO payroll_records
			(month, employee_id, base_salary, total_hours, total_allowances, custom_deductions,
			 loan_installments, total_deductions, estimated_net, lines_json, generated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			string(key), r.EmployeeID, r.BaseSalary.String(), r.TotalHours.String(),
			r.TotalAllowances.String(), r.CustomDeductions.String(), r.LoanInstallments.String(),
			r.TotalDeductions.String(), r.EstimatedNet.String(), string(linesJSON), formatTime(r.GeneratedAt),
		)
		if isFrozenMonthError(err) {
			return frozen(key, status)
		}
		if err != nil {
			return fmt.Errorf("failed to insert payroll record %s: %w", r.EmployeeID, err)
		}
	}
	return nil
}

func frozen(key generic.MonthKey, status string) error {
	return generic.NewStateError(generic.ErrMonthNotEditable, "replace_records", generic.EntityPayroll, string(key), status)
}
