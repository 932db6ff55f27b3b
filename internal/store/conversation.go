package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrUnsupportedVersion is returned for records written by a newer layout.
var ErrUnsupportedVersion = errors.New("unsupported record version")

type record struct {
	Version  int       `json:"version"`
	Messages []Message `json:"messages"`
}

// legacyMessage is one entry of the unversioned layout: a bare array of
// screen-level message objects.
type legacyMessage struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Text      string `json:"text"`
	Image     string `json:"image"`
	CreatedAt string `json:"createdAt"`
	Status    string `json:"status"`
	User      struct {
		ID string `json:"id"`
	} `json:"user"`
}

// LoadMessages returns the stored message list of a conversation. A missing
// record yields an empty list and no error.
func (db *DB) LoadMessages(ctx context.Context, key string) ([]Message, error) {
	var raw string
	err := db.QueryRowContext(ctx, `SELECT record FROM conversations WHERE cache_key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", key, err)
	}
	msgs, err := decodeRecord([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", key, err)
	}
	return msgs, nil
}

// SaveMessages replaces the stored message list of a conversation.
// Last writer wins.
func (db *DB) SaveMessages(ctx context.Context, key string, msgs []Message) error {
	if msgs == nil {
		msgs = []Message{}
	}
	raw, err := json.Marshal(record{Version: RecordVersion, Messages: msgs})
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	now := time.Now().UnixMilli()
	_, err = db.ExecContext(ctx, `
		INSERT INTO conversations (cache_key, record, message_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			record = excluded.record,
			message_count = excluded.message_count,
			updated_at = excluded.updated_at`,
		key, string(raw), len(msgs), now, now)
	if err != nil {
		return fmt.Errorf("save %q: %w", key, err)
	}
	return nil
}

// DeleteConversation removes a conversation record and its outbox entries.
func (db *DB) DeleteConversation(ctx context.Context, key string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("delete conversation %q: %w", key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM outbox WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("delete outbox %q: %w", key, err)
	}
	return tx.Commit()
}

// ListConversations returns stored conversations, most recently updated first.
func (db *DB) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT cache_key, message_count, updated_at
		FROM conversations
		ORDER BY updated_at DESC, cache_key ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.Key, &c.MessageCount, &c.UpdatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// ConversationCount returns the number of stored conversations.
func (db *DB) ConversationCount(ctx context.Context) (int64, error) {
	var count int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}

func decodeRecord(raw []byte) ([]Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return decodeLegacy(trimmed)
	}
	var rec record
	if err := json.Unmarshal(trimmed, &rec); err != nil {
		return nil, err
	}
	if rec.Version > RecordVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.Version)
	}
	return rec.Messages, nil
}

func decodeLegacy(raw []byte) ([]Message, error) {
	var items []legacyMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(items))
	for _, it := range items {
		m := Message{
			ID:            it.ID,
			Kind:          it.Type,
			Text:          it.Text,
			AttachmentRef: it.Image,
			SenderID:      it.User.ID,
			Status:        "sent",
		}
		if it.Status == "read" || it.Status == "delivered" {
			m.Status = "delivered"
		}
		if ts, err := time.Parse(time.RFC3339Nano, it.CreatedAt); err == nil {
			m.CreatedAt = ts.UnixMilli()
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
