/*
Package factory provides JSON to Go approval-settings conversion.

PURPOSE:
  Converts JSON settings documents into approval.Settings. HR administrators
  keep the approval configuration in a file or send it over the API; the
  factory validates it and produces the Go struct the engine threads through
  chain building, auto-approval and escalation.

JSON SCHEMA:
  {
    "default_overdue_days": 3,
    "types": {
      "leave": {"required_levels": 2, "auto_approve_threshold": "1"},
      "loan":  {"required_levels": 2},
      "other": {"required_levels": 1, "escalation_overdue_days": 7}
    }
  }

  Thresholds accept a JSON string or number ("1.5" or 1.5); they are parsed
  as decimals, never floats. Omitted types require no approval levels.

USAGE:
  f := factory.NewSettingsFactory()
  settings, err := f.ParseSettings(jsonString)
  engine.UpdateSettings(ctx, *settings, adminID)

SEE ALSO:
  - approval/settings.go: Settings type definition
  - store/sqlite/sqlite.go: Stores every version as a settings document
  - config/config.go: approval.settings_file seeds the first version
*/
package factory

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/approval"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SettingsJSON is the JSON representation of a settings version.
type SettingsJSON struct {
	Version            int                         `json:"version,omitempty"`
	DefaultOverdueDays *int                        `json:"default_overdue_days,omitempty"` // nil = 3
	Types              map[string]TypeSettingsJSON `json:"types"`
	UpdatedBy          string                      `json:"updated_by,omitempty"`
	UpdatedAt          *time.Time                  `json:"updated_at,omitempty"`
}

// TypeSettingsJSON configures one request type.
type TypeSettingsJSON struct {
	RequiredLevels        int              `json:"required_levels"`
	AutoApproveThreshold  *decimal.Decimal `json:"auto_approve_threshold,omitempty"`
	EscalationOverdueDays int              `json:"escalation_overdue_days,omitempty"`
}

// =============================================================================
// SETTINGS FACTORY
// =============================================================================

// SettingsFactory converts JSON settings to Go structs.
type SettingsFactory struct{}

// NewSettingsFactory creates a new settings factory.
func NewSettingsFactory() *SettingsFactory {
	return &SettingsFactory{}
}

// ParseSettings parses and validates a JSON settings document.
func (f *SettingsFactory) ParseSettings(jsonStr string) (*approval.Settings, error) {
	var sj SettingsJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return nil, fmt.Errorf("%w: failed to parse settings JSON: %v", generic.ErrInvalidInput, err)
	}
	return f.FromJSON(sj)
}

// LoadFile reads a settings document from disk.
func (f *SettingsFactory) LoadFile(path string) (*approval.Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	return f.ParseSettings(string(data))
}

// FromJSON converts SettingsJSON to approval.Settings.
func (f *SettingsFactory) FromJSON(sj SettingsJSON) (*approval.Settings, error) {
	s := &approval.Settings{
		Version:            sj.Version,
		Types:              make(map[approval.RequestType]approval.TypeSettings, len(sj.Types)),
		DefaultOverdueDays: approval.DefaultSettings().DefaultOverdueDays,
		UpdatedBy:          sj.UpdatedBy,
	}
	if sj.DefaultOverdueDays != nil {
		s.DefaultOverdueDays = *sj.DefaultOverdueDays
	}
	if sj.UpdatedAt != nil {
		s.UpdatedAt = sj.UpdatedAt.UTC()
	}

	for name, tj := range sj.Types {
		ts := approval.TypeSettings{
			RequiredLevels:        tj.RequiredLevels,
			EscalationOverdueDays: tj.EscalationOverdueDays,
		}
		if tj.AutoApproveThreshold != nil {
			ts.AutoApproveThreshold = *tj.AutoApproveThreshold
		}
		s.Types[approval.RequestType(name)] = ts
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ToJSON converts approval.Settings to SettingsJSON.
func (f *SettingsFactory) ToJSON(s approval.Settings) SettingsJSON {
	overdue := s.DefaultOverdueDays
	sj := SettingsJSON{
		Version:            s.Version,
		DefaultOverdueDays: &overdue,
		Types:              make(map[string]TypeSettingsJSON, len(s.Types)),
		UpdatedBy:          s.UpdatedBy,
	}
	if !s.UpdatedAt.IsZero() {
		at := s.UpdatedAt
		sj.UpdatedAt = &at
	}

	for _, t := range sortedTypes(s.Types) {
		ts := s.Types[t]
		tj := TypeSettingsJSON{
			RequiredLevels:        ts.RequiredLevels,
			EscalationOverdueDays: ts.EscalationOverdueDays,
		}
		if ts.AutoApproveThreshold.IsPositive() {
			threshold := ts.AutoApproveThreshold
			tj.AutoApproveThreshold = &threshold
		}
		sj.Types[string(t)] = tj
	}
	return sj
}

// Marshal encodes settings as a JSON document.
func (f *SettingsFactory) Marshal(s approval.Settings) ([]byte, error) {
	return json.Marshal(f.ToJSON(s))
}

func sortedTypes(types map[approval.RequestType]approval.TypeSettings) []approval.RequestType {
	out := make([]approval.RequestType, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// =============================================================================
// PRESETS
// =============================================================================

// StandardSettingsJSON is a starting configuration: one-day leaves approve
// themselves, loans need two levels, everything else one. Requests waiting
// more than overdueDays on a level are escalated.
func StandardSettingsJSON(overdueDays int) string {
	return fmt.Sprintf(`{
  "default_overdue_days": %d,
  "types": {
    "leave":     {"required_levels": 1, "auto_approve_threshold": "1"},
    "loan":      {"required_levels": 2},
    "allowance": {"required_levels": 1},
    "penalty":   {"required_levels": 1},
    "other":     {"required_levels": 1}
  }
}`, overdueDays)
}
