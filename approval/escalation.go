package approval

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/warp/settlement-engine/generic"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// =============================================================================
// ESCALATION - Overdue sweep
// =============================================================================

// StepStartedAt returns when the active level became actionable: request
// creation for level 1, otherwise the decision time of the level below.
func StepStartedAt(r Request) (time.Time, bool) {
	level := r.Chain.ActiveLevel()
	if level == 0 {
		return time.Time{}, false
	}
	if level == 1 {
		return r.CreatedAt, true
	}
	prev, _ := r.Chain.Step(level - 1)
	if prev.DecidedAt == nil {
		return r.CreatedAt, true
	}
	return *prev.DecidedAt, true
}

// IsOverdue reports whether a pending request has waited on its active
// level longer than the configured overdue days. A threshold of 0 disables
// escalation.
func IsOverdue(r Request, settings Settings, now time.Time) bool {
	if DeriveStatus(r) != StatusPending {
		return false
	}
	days := settings.OverdueDays(r.Type)
	if days <= 0 {
		return false
	}
	started, ok := StepStartedAt(r)
	if !ok {
		return false
	}
	return now.Sub(started) > time.Duration(days)*24*time.Hour
}

// EscalationScanner flags overdue pending requests. Flagging never changes
// a request's decision state; escalated requests stay pending and
// actionable.
type EscalationScanner struct {
	Engine *Engine

	group singleflight.Group
}

// NewEscalationScanner builds a scanner over the engine's store and settings.
func NewEscalationScanner(engine *Engine) *EscalationScanner {
	return &EscalationScanner{Engine: engine}
}

// ScanOverdue flags every overdue, not yet escalated, pending request and
// returns their ids in ascending order. Concurrent calls share one sweep.
// Re-scanning flags nothing new.
func (s *EscalationScanner) ScanOverdue(ctx context.Context, now time.Time) ([]string, error) {
	v, err, shared := s.group.Do("scan", func() (any, error) {
		return s.scan(ctx, now)
	})
	if shared {
		s.Engine.Logger.Debug("escalation sweep already running, joined it")
	}
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

func (s *EscalationScanner) scan(ctx context.Context, now time.Time) ([]string, error) {
	e := s.Engine
	settings, err := e.CurrentSettings(ctx)
	if err != nil {
		return nil, err
	}

	notEscalated := false
	candidates, err := e.Store.ListRequests(ctx, RequestFilter{Status: StatusPending, Escalated: &notEscalated})
	if err != nil {
		return nil, err
	}

	escalated := []string{}
	for _, candidate := range candidates {
		if !IsOverdue(candidate, *settings, now) {
			continue
		}
		flagged, err := s.flag(ctx, candidate.ID, *settings, now)
		if err != nil {
			e.Logger.Error("escalation failed", zap.String("request_id", candidate.ID), zap.Error(err))
			return escalated, err
		}
		if flagged {
			escalated = append(escalated, candidate.ID)
		}
	}
	sort.Strings(escalated)

	if len(escalated) > 0 {
		e.Logger.Info("escalation sweep flagged requests",
			zap.Int("count", len(escalated)),
			zap.Strings("request_ids", escalated))
	}
	return escalated, nil
}

// flag re-checks the request inside a transaction and marks it escalated.
func (s *EscalationScanner) flag(ctx context.Context, requestID string, settings Settings, now time.Time) (bool, error) {
	e := s.Engine
	flagged := false
	err := generic.RetryOnConflict(ctx, e.Retry, func() error {
		flagged = false
		return e.Store.WithApprovalTx(ctx, func(tx Tx) error {
			r, err := tx.GetRequest(ctx, requestID)
			if errors.Is(err, generic.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if r.Escalated || !IsOverdue(*r, settings, now) {
				return nil
			}

			level := r.Chain.ActiveLevel()
			step, _ := r.Chain.Step(level)
			started, _ := StepStartedAt(*r)
			escalatedAt := now
			r.Escalated = true
			r.EscalatedAt = &escalatedAt
			r.UpdatedAt = now
			if err := tx.SaveRequest(ctx, r); err != nil {
				return err
			}
			flagged = true
			return generic.Audit(ctx, tx, now, generic.AuditEntry{
				EntityType:  generic.EntityRequest,
				EntityID:    r.ID,
				Action:      generic.AuditRequestEscalated,
				ActorID:     generic.ActorSystem,
				BeforeState: string(r.FinalStatus),
				AfterState:  string(r.FinalStatus),
				Metadata: map[string]string{
					"level":            strconv.Itoa(level),
					"approver":         step.ApproverID,
					"waiting_since":    started.UTC().Format(time.RFC3339),
					"overdue_days":     strconv.Itoa(settings.OverdueDays(r.Type)),
					"settings_version": strconv.Itoa(settings.Version),
				},
			})
		})
	})
	return flagged, err
}

// clearEscalation drops the flag of a request whose escalated level has
// been decided. The next level waits from this decision and is swept on
// its own.
func clearEscalation(ctx context.Context, tx Tx, r *Request, decidedLevel int, now time.Time) error {
	if !r.Escalated {
		return nil
	}
	meta := map[string]string{
		"decided_level": strconv.Itoa(decidedLevel),
		"active_level":  strconv.Itoa(r.Chain.ActiveLevel()),
	}
	if r.EscalatedAt != nil {
		meta["escalated_at"] = r.EscalatedAt.UTC().Format(time.RFC3339)
	}
	r.Escalated = false
	r.EscalatedAt = nil
	return generic.Audit(ctx, tx, now, generic.AuditEntry{
		EntityType:  generic.EntityRequest,
		EntityID:    r.ID,
		Action:      generic.AuditEscalationCleared,
		ActorID:     generic.ActorSystem,
		BeforeState: string(r.FinalStatus),
		AfterState:  string(r.FinalStatus),
		Metadata:    meta,
	})
}
