package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var (
	_ DedupRepo = (*SQLiteStore)(nil)
	_ DedupRepo = (*PostgresStore)(nil)
)

func (b *sqlBackend) IsDuplicate(ctx context.Context, messageID string) (bool, error) {
	var id string
	err := b.queryRow(ctx, `SELECT message_id FROM inbound_dedup WHERE message_id = ?`, messageID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return true, nil
}

// RecordInbound relies on ON CONFLICT DO NOTHING, which both SQLite and
// PostgreSQL accept, so the rows affected tell a first delivery from a retry.
func (b *sqlBackend) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	res, err := b.exec(ctx, `INSERT INTO inbound_dedup (message_id, user_id, received_at) VALUES (?, ?, ?)
		ON CONFLICT (message_id) DO NOTHING`, messageID, userID, b.now())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound rows affected check failed: %w", err)
	}
	if n == 0 {
		slog.Debug(b.name+" RecordInbound: redelivery", "messageID", messageID, "userID", userID)
	}
	return n > 0, nil
}

func (b *sqlBackend) MarkProcessed(ctx context.Context, messageID string) error {
	if _, err := b.exec(ctx, `UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, b.now(), messageID); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

func (b *sqlBackend) PruneInbound(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := b.exec(ctx, `DELETE FROM inbound_dedup WHERE received_at < ?`, olderThan.UTC())
	if err != nil {
		slog.Error(b.name+" PruneInbound failed", "error", err)
		return 0, fmt.Errorf("failed to prune inbound dedup records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune inbound rows affected check failed: %w", err)
	}
	return int(n), nil
}
