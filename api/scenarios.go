/*
scenarios.go - Seed scenarios for development and demonstrations

PURPOSE:
  Provides pre-built organizations that populate an empty database with
  realistic data: a hierarchy, leave balances, approval settings and
  attendance.

AVAILABLE SCENARIOS:
  small-team:     CEO, two leads and four employees, standard settings
  payroll-cycle:  small-team plus attendance and a recurring allowance,
                  ready for POST /api/payroll/{month}/generate

HOW SCENARIOS WORK:
  1. Store a settings version from factory.StandardSettingsJSON
  2. Upsert employees
  3. Set leave balances
  4. Optionally record attendance and adjustments

  Loading is additive: nothing is deleted, employees and balances are
  overwritten, settings get a new version.

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "small-team"}
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "small-team",
		Name:        "Small Team",
		Description: "Three-level hierarchy with leave balances and standard approval settings",
	},
	{
		ID:          "payroll-cycle",
		Name:        "Payroll Cycle",
		Description: "Small team with attendance and a recurring allowance for the current month",
	},
}

const scenarioActor = "scenario-loader"

var smallTeam = []directory.Employee{
	{ID: "ceo", Name: "Dana Root", Email: "dana@example.com", BaseSalary: generic.MustParseDecimal("12000"), Active: true},
	{ID: "lead-eng", Name: "Avery Lead", Email: "avery@example.com", ManagerID: "ceo", BaseSalary: generic.MustParseDecimal("7000"), Active: true},
	{ID: "lead-ops", Name: "Sam Lead", Email: "sam@example.com", ManagerID: "ceo", BaseSalary: generic.MustParseDecimal("6500"), Active: true},
	{ID: "eng-1", Name: "Robin Engineer", Email: "robin@example.com", ManagerID: "lead-eng", BaseSalary: generic.MustParseDecimal("4200"), Active: true},
	{ID: "eng-2", Name: "Kai Engineer", Email: "kai@example.com", ManagerID: "lead-eng", BaseSalary: generic.MustParseDecimal("4000"), Active: true},
	{ID: "ops-1", Name: "Jules Operator", Email: "jules@example.com", ManagerID: "lead-ops", BaseSalary: generic.MustParseDecimal("3500"), Active: true},
	{ID: "ops-2", Name: "Noa Operator", Email: "noa@example.com", ManagerID: "lead-ops", BaseSalary: generic.MustParseDecimal("3400"), Active: true},
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	var err error
	switch req.ScenarioID {
	case "small-team":
		err = h.loadSmallTeamScenario(r.Context())
	case "payroll-cycle":
		err = h.loadPayrollCycleScenario(r.Context())
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}
	if err != nil {
		h.fail(w, "Failed to load scenario", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "loaded",
		"scenario_id": req.ScenarioID,
		"employees":   len(smallTeam),
	})
}

func (h *Handler) loadSmallTeamScenario(ctx context.Context) error {
	settings, err := h.Settings.ParseSettings(factory.StandardSettingsJSON(3))
	if err != nil {
		return err
	}
	if _, err := h.Engine.UpdateSettings(ctx, *settings, scenarioActor); err != nil {
		return err
	}

	for _, e := range smallTeam {
		if err := h.Employees.PutEmployee(ctx, e); err != nil {
			return fmt.Errorf("seed employee %s: %w", e.ID, err)
		}
	}
	for _, e := range smallTeam {
		_, err := h.Engine.SetBalance(ctx, ledger.LeaveBalance{
			EmployeeID: e.ID,
			Annual:     generic.MustParseDecimal("21"),
			Sick:       generic.MustParseDecimal("10"),
			Emergency:  generic.MustParseDecimal("3"),
		}, scenarioActor)
		if err != nil {
			return fmt.Errorf("seed balance of %s: %w", e.ID, err)
		}
	}
	return nil
}

func (h *Handler) loadPayrollCycleScenario(ctx context.Context) error {
	if err := h.loadSmallTeamScenario(ctx); err != nil {
		return err
	}

	month := generic.MonthOf(h.now())
	for _, e := range smallTeam {
		if err := h.Employees.SetHours(ctx, e.ID, month, generic.MustParseDecimal("160")); err != nil {
			return fmt.Errorf("seed attendance of %s: %w", e.ID, err)
		}
	}

	// Skip the allowance if an earlier load already booked it.
	existing, err := h.Engine.Adjustments(ctx, ledger.AdjustmentFilter{
		EmployeeID: "eng-1",
		Kind:       ledger.KindAllowance,
		Status:     ledger.AdjustmentActive,
	})
	if err != nil {
		return err
	}
	for _, a := range existing {
		if a.Category == "transport" {
			return nil
		}
	}
	_, err = h.Engine.AddAdjustment(ctx, ledger.Adjustment{
		EmployeeID:  "eng-1",
		Kind:        ledger.KindAllowance,
		Category:    "transport",
		Amount:      generic.MustParseDecimal("150"),
		IsRecurring: true,
		StartMonth:  month,
	}, scenarioActor)
	return err
}
