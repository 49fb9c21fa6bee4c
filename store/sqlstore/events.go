package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/warp/unit-ledger/inventory"
)

// =============================================================================
// AGGREGATE DEDUP
// =============================================================================

// MarkApplied records (entityID, eventID) and reports whether it was new.
func (c *conn) MarkApplied(ctx context.Context, entityID, eventID string) (bool, error) {
	res, err := c.exec(ctx, `
		INSERT INTO aggregate_applied (entity_id, event_id) VALUES (?, ?)
		ON CONFLICT (entity_id, event_id) DO NOTHING`, entityID, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to record applied event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	return n > 0, nil
}

// =============================================================================
// OUTBOX
// =============================================================================

func (c *conn) AppendEvents(ctx context.Context, events []inventory.Event) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
		}
		_, err = c.exec(ctx, `
			INSERT INTO outbox_events (id, event_type, payload_json, occurred_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			ev.ID, string(ev.Type), string(payload), inventory.FormatTime(ev.OccurredAt))
		if err != nil {
			return fmt.Errorf("failed to append event: %w", err)
		}
	}
	return nil
}

// PendingEvents returns undelivered events oldest first. limit <= 0 means all.
func (c *conn) PendingEvents(ctx context.Context, limit int) ([]inventory.Event, error) {
	query := `SELECT payload_json, attempts, last_error FROM outbox_events
		WHERE delivered_at IS NULL ORDER BY occurred_at, id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []inventory.Event
	for rows.Next() {
		var (
			ev       inventory.Event
			payload  string
			attempts int
			lastErr  string
		)
		if err := rows.Scan(&payload, &attempts, &lastErr); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		ev.Attempts = attempts
		ev.LastError = lastErr
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (c *conn) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	return c.touchEvent(ctx, `UPDATE outbox_events SET attempts = attempts + 1, delivered_at = ? WHERE id = ?`,
		inventory.FormatTime(at), id)
}

func (c *conn) MarkFailed(ctx context.Context, id, reason string) error {
	return c.touchEvent(ctx, `UPDATE outbox_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		reason, id)
}

func (c *conn) touchEvent(ctx context.Context, query, value, id string) error {
	res, err := c.exec(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &inventory.NotFoundError{Entity: "event", ID: id}
	}
	return nil
}
