package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// AUDIT LOG (generic.AuditLog interface)
// =============================================================================

// AppendAudit inserts one entry. The table refuses updates and deletes.
func (q *queries) AppendAudit(ctx context.Context, e generic.AuditEntry) error {
	var metadata any
	if len(e.Metadata) > 0 {
		data, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = string(data)
	}

	_, err := q.db.ExecContext(ctx, `
		INSERT INTO audit_log
		(id, entity_type, entity_id, action, actor_id, timestamp, before_state, after_state, reason, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.EntityType, e.EntityID, string(e.Action), e.ActorID, formatTime(e.Timestamp),
		e.BeforeState, e.AfterState, e.Reason, metadata,
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// QueryAudit returns matching entries in insertion order.
func (q *queries) QueryAudit(ctx context.Context, filter generic.AuditFilter) ([]generic.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if filter.EntityType != "" {
		where = append(where, "entity_type = ?")
		args = append(args, filter.EntityType)
	}
	if filter.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if len(filter.Actions) > 0 {
		marks := make([]string, len(filter.Actions))
		for i, a := range filter.Actions {
			marks[i] = "?"
			args = append(args, string(a))
		}
		where = append(where, "action IN ("+strings.Join(marks, ", ")+")")
	}
	if filter.From != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "timestamp <= ?")
		args = append(args, formatTime(*filter.To))
	}

	query := `
		SELECT id, entity_type, entity_id, action, actor_id, timestamp, before_state, after_state,
		       reason, metadata_json
		FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	var entries []generic.AuditEntry
	for rows.Next() {
		var (
			e         generic.AuditEntry
			action    string
			timestamp string
			metadata  *string
		)
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &action, &e.ActorID, &timestamp,
			&e.BeforeState, &e.AfterState, &e.Reason, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Action = generic.AuditAction(action)
		e.Timestamp = parseTime(timestamp)
		if metadata != nil && *metadata != "" {
			if err := json.Unmarshal([]byte(*metadata), &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata of %s: %w", e.ID, err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
