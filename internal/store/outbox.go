package store

import (
	"context"
	"time"
)

// QueueOutbox stores a payload to publish once the transport is connected.
// messageID names the conversation message the payload carries; it may be
// empty.
func (db *DB) QueueOutbox(ctx context.Context, clientMsgID, key, messageID, topic string, payload []byte) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO outbox (client_msg_id, cache_key, message_id, topic, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'queued', ?, ?)`,
		clientMsgID, key, messageID, topic, payload, now, now)
	return err
}

// MarkOutboxSent marks an entry as handed to the transport.
func (db *DB) MarkOutboxSent(ctx context.Context, clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `UPDATE outbox SET status = 'sent', updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxFailed marks an entry as failed with an error message.
func (db *DB) MarkOutboxFailed(ctx context.Context, clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// PendingOutbox returns queued entries of one conversation in queue order.
func (db *DB) PendingOutbox(ctx context.Context, key string) ([]OutboxEntry, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, client_msg_id, cache_key, message_id, topic, payload, status, error_message
		FROM outbox WHERE cache_key = ? AND status = 'queued' ORDER BY id ASC`, key)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.CacheKey, &e.MessageID, &e.Topic, &e.Payload, &e.Status, &e.ErrorMessage); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CancelOutbox removes the queued entries carrying messageID in the
// conversation key. Entries already sent or failed are kept. It reports how
// many entries were removed.
func (db *DB) CancelOutbox(ctx context.Context, key, messageID string) (int, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM outbox WHERE cache_key = ? AND message_id = ? AND status = 'queued'`,
		key, messageID)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
