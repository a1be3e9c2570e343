package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pilot-net/alert-relay/internal/types"
)

// =============================================================================
// AUDIT LOG
// =============================================================================

// AppendAudit inserts one append-only audit row. Audit failures are never
// supposed to fail the processor pipeline; the caller is responsible for
// logging and swallowing the returned error where spec.md requires that.
func (s *Store) AppendAudit(ctx context.Context, ev types.AuditEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO alert_events
			(alert_id, resource, status, message_id, channel_id, severity, rule_name, source, acknowledged_by, resolved_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		ev.AlertID, ev.Resource, string(ev.Status), ev.MessageID, ev.ChannelID,
		string(ev.Severity), ev.RuleName, ev.Source, ev.AcknowledgedBy, ev.ResolvedBy, ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: append audit event: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit events, newest first, bounded by
// limit.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]types.AuditEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT alert_id, resource, status, message_id, channel_id, severity, rule_name, source, acknowledged_by, resolved_by, created_at
		FROM alert_events
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list audit events: %w", err)
	}
	defer rows.Close()

	var out []types.AuditEvent
	for rows.Next() {
		var ev types.AuditEvent
		var status, severity string
		if err := rows.Scan(&ev.AlertID, &ev.Resource, &status, &ev.MessageID, &ev.ChannelID,
			&severity, &ev.RuleName, &ev.Source, &ev.AcknowledgedBy, &ev.ResolvedBy, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan audit event: %w", err)
		}
		ev.Status = types.Status(status)
		ev.Severity = types.Severity(severity)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// DeleteAuditOlderThan removes audit events created before cutoff and
// returns the number of rows deleted. Used by the hourly retention sweep.
func (s *Store) DeleteAuditOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM alert_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("store: delete expired audit events: %w", err)
	}
	return tag.RowsAffected(), nil
}
