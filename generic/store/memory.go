// Package store provides an in-memory implementation of every store
// interface in the module, for tests and local development.
package store

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/approval"
	"github.com/warp/settlement-engine/directory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/ledger"
	"github.com/warp/settlement-engine/payroll"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements approval.Store, payroll.Store, directory.Directory and
// payroll.AttendanceSource. Records are copied on the way in and out, so
// callers never share state with the store.
type Memory struct {
	*directory.Static

	mu sync.RWMutex
	st *state
}

var (
	_ approval.Store           = (*Memory)(nil)
	_ payroll.Store            = (*Memory)(nil)
	_ directory.Directory      = (*Memory)(nil)
	_ payroll.AttendanceSource = (*Memory)(nil)
)

type attendanceKey struct {
	employeeID string
	month      generic.MonthKey
}

// state holds every table. Its methods assume the caller holds the lock.
type state struct {
	requests    map[string]approval.Request
	delegations map[string]approval.Delegation
	settings    map[int]approval.Settings
	balances    map[string]ledger.LeaveBalance
	loans       map[string]ledger.Loan
	adjustments map[string]ledger.Adjustment
	months      map[generic.MonthKey]payroll.Month
	records     map[generic.MonthKey][]payroll.Record
	attendance  map[attendanceKey]decimal.Decimal
	audit       []generic.AuditEntry
}

func newState() *state {
	return &state{
		requests:    make(map[string]approval.Request),
		delegations: make(map[string]approval.Delegation),
		settings:    make(map[int]approval.Settings),
		balances:    make(map[string]ledger.LeaveBalance),
		loans:       make(map[string]ledger.Loan),
		adjustments: make(map[string]ledger.Adjustment),
		months:      make(map[generic.MonthKey]payroll.Month),
		records:     make(map[generic.MonthKey][]payroll.Record),
		attendance:  make(map[attendanceKey]decimal.Decimal),
	}
}

// NewMemory returns an empty store seeded with the given employees.
func NewMemory(employees ...directory.Employee) *Memory {
	return &Memory{
		Static: directory.NewStatic(employees...),
		st:     newState(),
	}
}

// SetHours records attendance for HoursWorked.
func (m *Memory) SetHours(employeeID string, month generic.MonthKey, hours decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.attendance[attendanceKey{employeeID, month}] = hours
}

// HoursWorked implements payroll.AttendanceSource.
func (m *Memory) HoursWorked(_ context.Context, employeeID string, month generic.MonthKey) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.attendance[attendanceKey{employeeID, month}], nil
}

// =============================================================================
// TRANSACTIONS - Snapshot + rollback on error
// =============================================================================

// WithApprovalTx implements approval.Store.
func (m *Memory) WithApprovalTx(ctx context.Context, fn func(approval.Tx) error) error {
	return m.withTx(func(s *state) error { return fn(s) })
}

// WithPayrollTx implements payroll.Store.
func (m *Memory) WithPayrollTx(ctx context.Context, fn func(payroll.Tx) error) error {
	return m.withTx(func(s *state) error { return fn(s) })
}

func (m *Memory) withTx(fn func(*state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.snapshot()
	if err := fn(m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// snapshot copies the tables. Stored values are never mutated in place,
// so copying the maps is enough.
func (s *state) snapshot() *state {
	c := newState()
	for k, v := range s.requests {
		c.requests[k] = v
	}
	for k, v := range s.delegations {
		c.delegations[k] = v
	}
	for k, v := range s.settings {
		c.settings[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.loans {
		c.loans[k] = v
	}
	for k, v := range s.adjustments {
		c.adjustments[k] = v
	}
	for k, v := range s.months {
		c.months[k] = v
	}
	for k, v := range s.records {
		c.records[k] = v
	}
	for k, v := range s.attendance {
		c.attendance[k] = v
	}
	c.audit = append([]generic.AuditEntry(nil), s.audit...)
	return c
}

func read[T any](m *Memory, fn func(*state) (T, error)) (T, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(m.st)
}

func (m *Memory) write(fn func(*state) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m.st)
}

// checkVersion enforces the optimistic-locking contract: expected 0 means
// insert, otherwise the stored version must match.
func checkVersion(entity, id string, exists bool, stored, expected int) error {
	if expected == 0 && !exists {
		return nil
	}
	if exists && stored == expected {
		return nil
	}
	return generic.NewStateError(generic.ErrConcurrentModification, "save", entity, id, "version "+strconv.Itoa(stored)).
		WithDetail("expected version %d", expected)
}

// =============================================================================
// REQUESTS
// =============================================================================

func (s *state) GetRequest(_ context.Context, id string) (*approval.Request, error) {
	r, ok := s.requests[id]
	if !ok {
		return nil, generic.NewNotFound(generic.EntityRequest, id)
	}
	c := r.Clone()
	return &c, nil
}

func (s *state) SaveRequest(_ context.Context, r *approval.Request) error {
	stored, exists := s.requests[r.ID]
	if err := checkVersion(generic.EntityRequest, r.ID, exists, stored.Version, r.Version); err != nil {
		return err
	}
	r.Version++
	s.requests[r.ID] = r.Clone()
	return nil
}

func (s *state) DeleteRequest(_ context.Context, id string) error {
	if _, ok := s.requests[id]; !ok {
		return generic.NewNotFound(generic.EntityRequest, id)
	}
	delete(s.requests, id)
	return nil
}

func (s *state) ListRequests(_ context.Context, filter approval.RequestFilter) ([]approval.Request, error) {
	var out []approval.Request
	for _, r := range s.requests {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// DELEGATIONS AND SETTINGS
// =============================================================================

func (s *state) GetDelegation(_ context.Context, id string) (*approval.Delegation, error) {
	d, ok := s.delegations[id]
	if !ok {
		return nil, generic.NewNotFound(generic.EntityDelegation, id)
	}
	d.EndedAt = cloneTime(d.EndedAt)
	return &d, nil
}

func (s *state) SaveDelegation(_ context.Context, d *approval.Delegation) error {
	stored, exists := s.delegations[d.ID]
	if err := checkVersion(generic.EntityDelegation, d.ID, exists, stored.Version, d.Version); err != nil {
		return err
	}
	d.Version++
	c := *d
	c.EndedAt = cloneTime(d.EndedAt)
	s.delegations[d.ID] = c
	return nil
}

func (s *state) ListDelegations(_ context.Context, delegatorID string) ([]approval.Delegation, error) {
	var out []approval.Delegation
	for _, d := range s.delegations {
		if delegatorID == "" || d.DelegatorID == delegatorID {
			d.EndedAt = cloneTime(d.EndedAt)
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ActiveFrom.Equal(out[j].ActiveFrom) {
			return out[i].ActiveFrom.Before(out[j].ActiveFrom)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) CurrentSettings(_ context.Context) (*approval.Settings, error) {
	latest := -1
	for v := range s.settings {
		if v > latest {
			latest = v
		}
	}
	if latest < 0 {
		return nil, generic.NewNotFound(generic.EntitySettings, "current")
	}
	c := s.settings[latest].Clone()
	return &c, nil
}

func (s *state) SaveSettings(_ context.Context, cfg *approval.Settings) error {
	if _, exists := s.settings[cfg.Version]; exists {
		return generic.NewStateError(generic.ErrConcurrentModification, "save", generic.EntitySettings,
			strconv.Itoa(cfg.Version), "exists")
	}
	s.settings[cfg.Version] = cfg.Clone()
	return nil
}

// =============================================================================
// LEDGERS
// =============================================================================

func (s *state) GetBalance(_ context.Context, employeeID string) (*ledger.LeaveBalance, error) {
	b, ok := s.balances[employeeID]
	if !ok {
		return nil, generic.NewNotFound(generic.EntityBalance, employeeID)
	}
	return &b, nil
}

func (s *state) SaveBalance(_ context.Context, b *ledger.LeaveBalance) error {
	stored, exists := s.balances[b.EmployeeID]
	if err := checkVersion(generic.EntityBalance, b.EmployeeID, exists, stored.Version, b.Version); err != nil {
		return err
	}
	b.Version++
	s.balances[b.EmployeeID] = *b
	return nil
}

func (s *state) GetLoan(_ context.Context, id string) (*ledger.Loan, error) {
	l, ok := s.loans[id]
	if !ok {
		return nil, generic.NewNotFound(generic.EntityLoan, id)
	}
	c := cloneLoan(l)
	return &c, nil
}

func (s *state) SaveLoan(_ context.Context, l *ledger.Loan) error {
	stored, exists := s.loans[l.ID]
	if err := checkVersion(generic.EntityLoan, l.ID, exists, stored.Version, l.Version); err != nil {
		return err
	}
	l.Version++
	s.loans[l.ID] = cloneLoan(*l)
	return nil
}

func (s *state) ListLoans(_ context.Context, filter ledger.LoanFilter) ([]ledger.Loan, error) {
	var out []ledger.Loan
	for _, l := range s.loans {
		if filter.Matches(l) {
			out = append(out, cloneLoan(l))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) GetAdjustment(_ context.Context, id string) (*ledger.Adjustment, error) {
	a, ok := s.adjustments[id]
	if !ok {
		return nil, generic.NewNotFound(generic.EntityAdjustment, id)
	}
	c := cloneAdjustment(a)
	return &c, nil
}

func (s *state) SaveAdjustment(_ context.Context, a *ledger.Adjustment) error {
	stored, exists := s.adjustments[a.ID]
	if err := checkVersion(generic.EntityAdjustment, a.ID, exists, stored.Version, a.Version); err != nil {
		return err
	}
	a.Version++
	s.adjustments[a.ID] = cloneAdjustment(*a)
	return nil
}

func (s *state) ListAdjustments(_ context.Context, filter ledger.AdjustmentFilter) ([]ledger.Adjustment, error) {
	var out []ledger.Adjustment
	for _, a := range s.adjustments {
		if filter.Matches(a) {
			out = append(out, cloneAdjustment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// =============================================================================
// PAYROLL
// =============================================================================

func (s *state) GetMonth(_ context.Context, key generic.MonthKey) (*payroll.Month, error) {
	mo, ok := s.months[key]
	if !ok {
		return nil, generic.NewNotFound(generic.EntityPayroll, string(key))
	}
	c := mo.Clone()
	return &c, nil
}

func (s *state) SaveMonth(_ context.Context, mo *payroll.Month) error {
	stored, exists := s.months[mo.Key]
	if err := checkVersion(generic.EntityPayroll, string(mo.Key), exists, stored.Version, mo.Version); err != nil {
		return err
	}
	mo.Version++
	s.months[mo.Key] = mo.Clone()
	return nil
}

func (s *state) ListMonths(_ context.Context) ([]payroll.Month, error) {
	out := make([]payroll.Month, 0, len(s.months))
	for _, mo := range s.months {
		out = append(out, mo.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *state) ListRecords(_ context.Context, key generic.MonthKey) ([]payroll.Record, error) {
	stored := s.records[key]
	out := make([]payroll.Record, 0, len(stored))
	for _, r := range stored {
		out = append(out, r.Clone())
	}
	return out, nil
}

// ReplaceRecords refuses to touch a month that exists and is not draft,
// mirroring the sqlite trigger.
func (s *state) ReplaceRecords(_ context.Context, key generic.MonthKey, records []payroll.Record) error {
	if mo, ok := s.months[key]; ok && mo.Status != payroll.StatusDraft {
		return generic.NewStateError(generic.ErrMonthNotEditable, "replace_records", generic.EntityPayroll, string(key), string(mo.Status))
	}
	out := make([]payroll.Record, 0, len(records))
	for _, r := range records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EmployeeID < out[j].EmployeeID })
	s.records[key] = out
	return nil
}

// =============================================================================
// AUDIT
// =============================================================================

func (s *state) AppendAudit(_ context.Context, e generic.AuditEntry) error {
	e.Metadata = cloneMetadata(e.Metadata)
	s.audit = append(s.audit, e)
	return nil
}

func (s *state) QueryAudit(_ context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	var out []generic.AuditEntry
	for _, e := range s.audit {
		if filter.Matches(e) {
			e.Metadata = cloneMetadata(e.Metadata)
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// LOCKED ACCESSORS - Reads and single writes outside a transaction
// =============================================================================

func (m *Memory) GetRequest(ctx context.Context, id string) (*approval.Request, error) {
	return read(m, func(s *state) (*approval.Request, error) { return s.GetRequest(ctx, id) })
}

func (m *Memory) SaveRequest(ctx context.Context, r *approval.Request) error {
	return m.write(func(s *state) error { return s.SaveRequest(ctx, r) })
}

func (m *Memory) DeleteRequest(ctx context.Context, id string) error {
	return m.write(func(s *state) error { return s.DeleteRequest(ctx, id) })
}

func (m *Memory) ListRequests(ctx context.Context, filter approval.RequestFilter) ([]approval.Request, error) {
	return read(m, func(s *state) ([]approval.Request, error) { return s.ListRequests(ctx, filter) })
}

func (m *Memory) GetDelegation(ctx context.Context, id string) (*approval.Delegation, error) {
	return read(m, func(s *state) (*approval.Delegation, error) { return s.GetDelegation(ctx, id) })
}

func (m *Memory) SaveDelegation(ctx context.Context, d *approval.Delegation) error {
	return m.write(func(s *state) error { return s.SaveDelegation(ctx, d) })
}

func (m *Memory) ListDelegations(ctx context.Context, delegatorID string) ([]approval.Delegation, error) {
	return read(m, func(s *state) ([]approval.Delegation, error) { return s.ListDelegations(ctx, delegatorID) })
}

func (m *Memory) CurrentSettings(ctx context.Context) (*approval.Settings, error) {
	return read(m, func(s *state) (*approval.Settings, error) { return s.CurrentSettings(ctx) })
}

func (m *Memory) SaveSettings(ctx context.Context, cfg *approval.Settings) error {
	return m.write(func(s *state) error { return s.SaveSettings(ctx, cfg) })
}

func (m *Memory) GetBalance(ctx context.Context, employeeID string) (*ledger.LeaveBalance, error) {
	return read(m, func(s *state) (*ledger.LeaveBalance, error) { return s.GetBalance(ctx, employeeID) })
}

func (m *Memory) SaveBalance(ctx context.Context, b *ledger.LeaveBalance) error {
	return m.write(func(s *state) error { return s.SaveBalance(ctx, b) })
}

func (m *Memory) GetLoan(ctx context.Context, id string) (*ledger.Loan, error) {
	return read(m, func(s *state) (*ledger.Loan, error) { return s.GetLoan(ctx, id) })
}

func (m *Memory) SaveLoan(ctx context.Context, l *ledger.Loan) error {
	return m.write(func(s *state) error { return s.SaveLoan(ctx, l) })
}

func (m *Memory) ListLoans(ctx context.Context, filter ledger.LoanFilter) ([]ledger.Loan, error) {
	return read(m, func(s *state) ([]ledger.Loan, error) { return s.ListLoans(ctx, filter) })
}

func (m *Memory) GetAdjustment(ctx context.Context, id string) (*ledger.Adjustment, error) {
	return read(m, func(s *state) (*ledger.Adjustment, error) { return s.GetAdjustment(ctx, id) })
}

func (m *Memory) SaveAdjustment(ctx context.Context, a *ledger.Adjustment) error {
	return m.write(func(s *state) error { return s.SaveAdjustment(ctx, a) })
}

func (m *Memory) ListAdjustments(ctx context.Context, filter ledger.AdjustmentFilter) ([]ledger.Adjustment, error) {
	return read(m, func(s *state) ([]ledger.Adjustment, error) { return s.ListAdjustments(ctx, filter) })
}

func (m *Memory) GetMonth(ctx context.Context, key generic.MonthKey) (*payroll.Month, error) {
	return read(m, func(s *state) (*payroll.Month, error) { return s.GetMonth(ctx, key) })
}

func (m *Memory) SaveMonth(ctx context.Context, mo *payroll.Month) error {
	return m.write(func(s *state) error { return s.SaveMonth(ctx, mo) })
}

func (m *Memory) ListMonths(ctx context.Context) ([]payroll.Month, error) {
	return read(m, func(s *state) ([]payroll.Month, error) { return s.ListMonths(ctx) })
}

func (m *Memory) ListRecords(ctx context.Context, key generic.MonthKey) ([]payroll.Record, error) {
	return read(m, func(s *state) ([]payroll.Record, error) { return s.ListRecords(ctx, key) })
}

func (m *Memory) ReplaceRecords(ctx context.Context, key generic.MonthKey, records []payroll.Record) error {
	return m.write(func(s *state) error { return s.ReplaceRecords(ctx, key, records) })
}

func (m *Memory) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	return m.write(func(s *state) error { return s.AppendAudit(ctx, e) })
}

func (m *Memory) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	return read(m, func(s *state) ([]generic.AuditEntry, error) { return s.QueryAudit(ctx, filter) })
}

// =============================================================================
// COPY HELPERS
// =============================================================================

func cloneLoan(l ledger.Loan) ledger.Loan {
	l.DisbursedAt = cloneTime(l.DisbursedAt)
	if l.ConsumedMonths != nil {
		l.ConsumedMonths = append([]generic.MonthKey(nil), l.ConsumedMonths...)
	}
	return l
}

func cloneAdjustment(a ledger.Adjustment) ledger.Adjustment {
	if a.EndMonth != nil {
		end := *a.EndMonth
		a.EndMonth = &end
	}
	a.StoppedAt = cloneTime(a.StoppedAt)
	return a
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneMetadata(md map[string]string) map[string]string {
	if md == nil {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
