package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/settlement-engine/approval"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// APPROVAL REQUESTS (approval.RequestStore interface)
// =============================================================================

// stepJSON is the stored shape of one chain step.
type stepJSON struct {
	Level        int        `json:"level"`
	ApproverID   string     `json:"approver_id"`
	Status       string     `json:"status"`
	DecidedBy    string     `json:"decided_by,omitempty"`
	DelegationID string     `json:"delegation_id,omitempty"`
	DecidedAt    *time.Time `json:"decided_at,omitempty"`
	Comment      string     `json:"comment,omitempty"`
}

func encodeChain(c approval.Chain) (string, error) {
	steps := make([]stepJSON, len(c))
	for i, s := range c {
		steps[i] = stepJSON{
			Level:        s.Level,
			ApproverID:   s.ApproverID,
			Status:       string(s.Status),
			DecidedBy:    s.DecidedBy,
			DelegationID: s.DelegationID,
			DecidedAt:    s.DecidedAt,
			Comment:      s.Comment,
		}
	}
	data, err := json.Marshal(steps)
	return string(data), err
}

func decodeChain(data string) (approval.Chain, error) {
	var steps []stepJSON
	if err := json.Unmarshal([]byte(data), &steps); err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, nil
	}
	chain := make(approval.Chain, len(steps))
	for i, s := range steps {
		var decidedAt *time.Time
		if s.DecidedAt != nil {
			at := s.DecidedAt.UTC()
			decidedAt = &at
		}
		chain[i] = approval.Step{
			Level:        s.Level,
			ApproverID:   s.ApproverID,
			Status:       approval.StepStatus(s.Status),
			DecidedBy:    s.DecidedBy,
			DelegationID: s.DelegationID,
			DecidedAt:    decidedAt,
			Comment:      s.Comment,
		}
	}
	return chain, nil
}

const requestColumns = `id, type, requester_id, payload_json, chain_json, final_status, auto_approved,
	cancelled_by, cancelled_at, override_status, override_reason, override_admin_id, override_at,
	effect, escalated, escalated_at, settings_version, created_at, updated_at, version`

func (q *queries) GetRequest(ctx context.Context, id string) (*approval.Request, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+requestColumns+" FROM approval_requests WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	requests, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}
	if len(requests) == 0 {
		return nil, generic.NewNotFound(generic.EntityRequest, id)
	}
	return &requests[0], nil
}

func (q *queries) SaveRequest(ctx context.Context, r *approval.Request) error {
	payload, err := approval.EncodePayload(r.Payload)
	if err != nil {
		return err
	}
	chain, err := encodeChain(r.Chain)
	if err != nil {
		return fmt.Errorf("encode chain of %s: %w", r.ID, err)
	}

	var (
		cancelledBy, overrideStatus, overrideReason, overrideAdmin sql.NullString
		cancelledAt, overrideAt                                    sql.NullString
	)
	if c := r.Cancellation; c != nil {
		cancelledBy = sql.NullString{String: c.ActorID, Valid: true}
		cancelledAt = nullTime(&c.At)
	}
	if o := r.Override; o != nil {
		overrideStatus = sql.NullString{String: string(o.Status), Valid: true}
		overrideReason = sql.NullString{String: o.Reason, Valid: true}
		overrideAdmin = sql.NullString{String: o.AdminID, Valid: true}
		overrideAt = nullTime(&o.At)
	}
	effect := r.Effect
	if effect == "" {
		effect = approval.EffectNone
	}

	insert := `
		INSERT INTO approval_requests (` + requestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`
	update := `
		UPDATE approval_requests SET
			id = ?, type = ?, requester_id = ?, payload_json = ?, chain_json = ?, final_status = ?,
			auto_approved = ?, cancelled_by = ?, cancelled_at = ?, override_status = ?,
			override_reason = ?, override_admin_id = ?, override_at = ?, effect = ?, escalated = ?,
			escalated_at = ?, settings_version = ?, created_at = ?, updated_at = ?,
			version = version + 1
		WHERE id = ? AND version = ?
	`
	err = q.save(ctx, generic.EntityRequest, r.ID, r.Version, insert, update,
		r.ID, string(r.Type), r.RequesterID, string(payload), chain, string(r.FinalStatus),
		r.AutoApproved, cancelledBy, cancelledAt, overrideStatus, overrideReason, overrideAdmin,
		overrideAt, string(effect), r.Escalated, nullTime(r.EscalatedAt), r.SettingsVersion,
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return err
	}
	r.Version++
	return nil
}

func (q *queries) DeleteRequest(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, "DELETE FROM approval_requests WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return generic.NewNotFound(generic.EntityRequest, id)
	}
	return nil
}

// ListRequests narrows by indexed columns in SQL and applies the full
// filter on the decoded rows.
func (q *queries) ListRequests(ctx context.Context, filter approval.RequestFilter) ([]approval.Request, error) {
	var (
		where []string
		args  []any
	)
	if filter.RequesterID != "" {
		where = append(where, "requester_id = ?")
		args = append(args, filter.RequesterID)
	}
	if filter.Type != "" {
		where = append(where, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		where = append(where, "final_status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Escalated != nil {
		where = append(where, "escalated = ?")
		args = append(args, *filter.Escalated)
	}

	query := "SELECT " + requestColumns + " FROM approval_requests"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	all, err := scanRequests(rows)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if filter.Matches(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func scanRequests(rows *sql.Rows) ([]approval.Request, error) {
	defer rows.Close()

	var requests []approval.Request
	for rows.Next() {
		var (
			r                                                        approval.Request
			reqType, payload, chain, finalStatus, effect             string
			cancelledBy, cancelledAt, overrideStatus, overrideReason sql.NullString
			overrideAdmin, overrideAt, escalatedAt                   sql.NullString
			createdAt, updatedAt                                     string
		)
		err := rows.Scan(
			&r.ID, &reqType, &r.RequesterID, &payload, &chain, &finalStatus, &r.AutoApproved,
			&cancelledBy, &cancelledAt, &overrideStatus, &overrideReason, &overrideAdmin, &overrideAt,
			&effect, &r.Escalated, &escalatedAt, &r.SettingsVersion, &createdAt, &updatedAt, &r.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}

		r.Type = approval.RequestType(reqType)
		r.Payload, err = approval.DecodePayload(r.Type, []byte(payload))
		if err != nil {
			return nil, fmt.Errorf("decode payload of %s: %w", r.ID, err)
		}
		r.Chain, err = decodeChain(chain)
		if err != nil {
			return nil, fmt.Errorf("decode chain of %s: %w", r.ID, err)
		}
		r.FinalStatus = approval.Status(finalStatus)
		r.Effect = approval.EffectState(effect)
		if cancelledBy.Valid {
			r.Cancellation = &approval.Cancellation{ActorID: cancelledBy.String, At: parseTime(cancelledAt.String)}
		}
		if overrideStatus.Valid {
			r.Override = &approval.Override{
				Status:  approval.Status(overrideStatus.String),
				Reason:  overrideReason.String,
				AdminID: overrideAdmin.String,
				At:      parseTime(overrideAt.String),
			}
		}
		r.EscalatedAt = parseNullTime(escalatedAt)
		r.CreatedAt = parseTime(createdAt)
		r.UpdatedAt = parseTime(updatedAt)
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// =============================================================================
// DELEGATIONS (approval.DelegationStore interface)
// =============================================================================

const delegationColumns = `id, delegator_id, delegate_id, active_from, active_to, ended, ended_at,
	created_by, created_at, version`

func (q *queries) GetDelegation(ctx context.Context, id string) (*approval.Delegation, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT "+delegationColumns+" FROM delegations WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to get delegation: %w", err)
	}
	delegations, err := scanDelegations(rows)
	if err != nil {
		return nil, err
	}
	if len(delegations) == 0 {
		return nil, generic.NewNotFound(generic.EntityDelegation, id)
	}
	return &delegations[0], nil
}

func (q *queries) SaveDelegation(ctx context.Context, d *approval.Delegation) error {
	insert := `
		INSERT INTO delegations (` + delegationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`
	update := `
		UPDATE delegations SET
			id = ?, delegator_id = ?, delegate_id = ?, active_from = ?, active_to = ?, ended = ?,
			ended_at = ?, created_by = ?, created_at = ?, version = version + 1
		WHERE id = ? AND version = ?
	`
	err := q.save(ctx, generic.EntityDelegation, d.ID, d.Version, insert, update,
		d.ID, d.DelegatorID, d.DelegateID, d.ActiveFrom.String(), d.ActiveTo.String(), d.Ended,
		nullTime(d.EndedAt), d.CreatedBy, formatTime(d.CreatedAt),
	)
	if err != nil {
		return err
	}
	d.Version++
	return nil
}

func (q *queries) ListDelegations(ctx context.Context, delegatorID string) ([]approval.Delegation, error) {
	query := "SELECT " + delegationColumns + " FROM delegations"
	var args []any
	if delegatorID != "" {
		query += " WHERE delegator_id = ?"
		args = append(args, delegatorID)
	}
	query += " ORDER BY active_from ASC, id ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list delegations: %w", err)
	}
	return scanDelegations(rows)
}

func scanDelegations(rows *sql.Rows) ([]approval.Delegation, error) {
	defer rows.Close()

	var out []approval.Delegation
	for rows.Next() {
		var (
			d                   approval.Delegation
			from, to, createdAt string
			endedAt             sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.DelegatorID, &d.DelegateID, &from, &to, &d.Ended, &endedAt,
			&d.CreatedBy, &createdAt, &d.Version); err != nil {
			return nil, fmt.Errorf("failed to scan delegation: %w", err)
		}
		var err error
		if d.ActiveFrom, err = generic.ParseDay(from); err != nil {
			return nil, err
		}
		if d.ActiveTo, err = generic.ParseDay(to); err != nil {
			return nil, err
		}
		d.EndedAt = parseNullTime(endedAt)
		d.CreatedAt = parseTime(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

// =============================================================================
// SETTINGS (approval.SettingsStore interface)
// =============================================================================

func (q *queries) CurrentSettings(ctx context.Context) (*approval.Settings, error) {
	var (
		version   int
		document  string
		updatedBy string
		updatedAt string
	)
	err := q.db.QueryRowContext(ctx, `
		SELECT version, document_json, updated_by, updated_at
		FROM approval_settings ORDER BY version DESC LIMIT 1
	`).Scan(&version, &document, &updatedBy, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, generic.NewNotFound(generic.EntitySettings, "current")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	s, err := q.settings.ParseSettings(document)
	if err != nil {
		return nil, fmt.Errorf("stored settings version %d: %w", version, err)
	}
	s.Version = version
	s.UpdatedBy = updatedBy
	s.UpdatedAt = parseTime(updatedAt)
	return s, nil
}

// SaveSettings inserts a new version row; versions are never updated.
func (q *queries) SaveSettings(ctx context.Context, s *approval.Settings) error {
	document, err := q.settings.Marshal(*s)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO approval_settings (version, document_json, updated_by, updated_at)
		VALUES (?, ?, ?, ?)
	`, s.Version, string(document), s.UpdatedBy, formatTime(s.UpdatedAt))
	if isUniqueConstraintError(err) {
		return generic.NewStateError(generic.ErrConcurrentModification, "save", generic.EntitySettings,
			strconv.Itoa(s.Version), "exists")
	}
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
