package payroll

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
)

// Aggregator computes payroll records from committed ledger state. It
// never writes.
type Aggregator struct {
	loans       ledger.LoanLedger
	adjustments ledger.AdjustmentBook
}

// Aggregate builds the record of one employee for month.
func (a Aggregator) Aggregate(ctx context.Context, store ledger.Store, month generic.MonthKey, employee directory.Employee, hours decimal.Decimal, now time.Time) (Record, error) {
	rec := Record{
		Month:       month,
		EmployeeID:  employee.ID,
		BaseSalary:  employee.BaseSalary,
		TotalHours:  hours,
		GeneratedAt: now,
	}

	allowances, err := a.adjustments.Effective(ctx, store, employee.ID, ledger.KindAllowance, month)
	if err != nil {
		return Record{}, err
	}
	deductions, err := a.adjustments.Effective(ctx, store, employee.ID, ledger.KindDeduction, month)
	if err != nil {
		return Record{}, err
	}
	loans, err := a.loans.DueLoans(ctx, store, employee.ID, month)
	if err != nil {
		return Record{}, err
	}

	rec.TotalAllowances = decimal.Zero
	for _, adj := range sortAdjustments(allowances) {
		rec.TotalAllowances = rec.TotalAllowances.Add(adj.Amount)
		rec.Lines = append(rec.Lines, Line{Kind: LineAllowance, SourceID: adj.ID, Category: adj.Category, Amount: adj.Amount})
	}

	rec.CustomDeductions = decimal.Zero
	for _, adj := range sortAdjustments(deductions) {
		rec.CustomDeductions = rec.CustomDeductions.Add(adj.Amount)
		rec.Lines = append(rec.Lines, Line{Kind: LineDeduction, SourceID: adj.ID, Category: adj.Category, Amount: adj.Amount})
	}

	sort.Slice(loans, func(i, j int) bool { return loans[i].ID < loans[j].ID })
	rec.LoanInstallments = decimal.Zero
	for _, loan := range loans {
		rec.LoanInstallments = rec.LoanInstallments.Add(loan.InstallmentAmount)
		rec.Lines = append(rec.Lines, Line{Kind: LineLoan, SourceID: loan.ID, Category: "loan", Amount: loan.InstallmentAmount})
	}

	rec.TotalDeductions = generic.SumDecimals(rec.CustomDeductions, rec.LoanInstallments)
	rec.EstimatedNet = generic.SumDecimals(rec.BaseSalary, rec.TotalAllowances).Sub(rec.TotalDeductions)
	return rec, nil
}

func sortAdjustments(adjs []ledger.Adjustment) []ledger.Adjustment {
	sort.Slice(adjs, func(i, j int) bool {
		ci, cj := strings.ToLower(adjs[i].Category), strings.ToLower(adjs[j].Category)
		if ci != cj {
			return ci < cj
		}
		return adjs[i].ID < adjs[j].ID
	})
	return adjs
}
