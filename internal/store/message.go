package store

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/matheus3301/pairchat/internal/chat"
)

// ReplaceMessages swaps the stored timeline of chatID for msgs.
func (db *DB) ReplaceMessages(chatID string, msgs []chat.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if m.ChatID != chatID {
			continue
		}
		media, err := encodeMedia(m.Media)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (chat_id, msg_id, sender_id, receiver_id, content, message_type, media, status, timestamp, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id, msg_id) DO UPDATE SET
				content = excluded.content,
				media = excluded.media,
				status = excluded.status`,
			m.ChatID, m.ID, m.SenderID, m.ReceiverID, m.Content, string(m.Type), media, string(m.Status), m.Timestamp, now); err != nil {
			return fmt.Errorf("insert message %q: %w", m.ID, err)
		}
	}
	return tx.Commit()
}

// ListMessages returns up to limit messages of chatID older than beforeTs,
// oldest first.
func (db *DB) ListMessages(chatID string, beforeTs int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT chat_id, msg_id, sender_id, receiver_id, content, message_type, media, status, timestamp
		FROM messages
		WHERE chat_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, chatID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	chat.SortMessages(msgs)
	return msgs, nil
}

type rowScanner interface {
	Next() bool
	Scan(...any) error
	Err() error
	Close() error
}

func scanMessages(rows rowScanner) ([]chat.Message, error) {
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m                  chat.Message
			typ, media, status string
		)
		if err := rows.Scan(&m.ChatID, &m.ID, &m.SenderID, &m.ReceiverID, &m.Content, &typ, &media, &status, &m.Timestamp); err != nil {
			return nil, err
		}
		m.Type = chat.ParseMessageType(typ)
		m.Status = chat.Status(status)
		if media != "" {
			m.Media = new(chat.Media)
			if err := json.Unmarshal([]byte(media), m.Media); err != nil {
				return nil, fmt.Errorf("decode media of %q: %w", m.ID, err)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func encodeMedia(m *chat.Media) (string, error) {
	if m == nil {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encode media: %w", err)
	}
	return string(b), nil
}
