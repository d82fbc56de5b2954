/*
Package directory is the read-only view of the employee directory used by
the settlement engine.

PURPOSE:
  The directory is owned by a collaborator (HR master data). The engine only
  reads it for two things:
  1. Hierarchy traversal when building approval chains (ManagerChain)
  2. Monetary inputs when aggregating payroll (BaseSalary)

HIERARCHY:
  Each employee points at its manager (ManagerID). The organization root has
  an empty ManagerID. ManagerChain walks the pointers nearest-first:

    emp-7 -> team-lead-2 -> director-1 -> ceo        => [team-lead-2, director-1, ceo]

  A pointer loop is a data-integrity failure and halts the operation with a
  CycleError. The resolver never truncates or guesses a fallback hierarchy.

SEE ALSO:
  - approval/chain.go: Consumes ManagerChain
  - payroll/aggregator.go: Consumes ListEmployees
*/
package directory

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// Employee is the directory record. Lifecycle is owned by a collaborator.
type Employee struct {
	ID         string
	Name       string
	Email      string
	ManagerID  string // empty at the organization root
	BaseSalary decimal.Decimal
	Active     bool
}

// IsRoot reports whether the employee has no manager.
func (e Employee) IsRoot() bool { return e.ManagerID == "" }

// Directory supplies employee records.
type Directory interface {
	// GetEmployee returns generic.ErrNotFound (wrapped) for unknown ids.
	GetEmployee(ctx context.Context, id string) (*Employee, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

// ManagerChain returns the ordered manager identifiers of employeeID,
// nearest-first, up to the organization root.
func ManagerChain(ctx context.Context, dir Directory, employeeID string) ([]string, error) {
	emp, err := dir.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, fmt.Errorf("resolve hierarchy of %s: %w", employeeID, err)
	}

	visited := map[string]bool{emp.ID: true}
	path := []string{emp.ID}
	var chain []string

	for current := emp; !current.IsRoot(); {
		managerID := current.ManagerID
		path = append(path, managerID)
		if visited[managerID] {
			return nil, &generic.CycleError{EmployeeID: employeeID, Path: path}
		}
		visited[managerID] = true

		manager, err := dir.GetEmployee(ctx, managerID)
		if err != nil {
			return nil, fmt.Errorf("resolve manager %s of %s: %w", managerID, current.ID, err)
		}
		chain = append(chain, manager.ID)
		current = manager
	}

	return chain, nil
}

// ActiveEmployees filters the directory down to active employees.
func ActiveEmployees(ctx context.Context, dir Directory) ([]Employee, error) {
	all, err := dir.ListEmployees(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]Employee, 0, len(all))
	for _, e := range all {
		if e.Active {
			active = append(active, e)
		}
	}
	return active, nil
}
