package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/pairchat/internal/chat"
)

// ReplaceConversations swaps the stored conversation list for convs.
func (db *DB) ReplaceConversations(convs []chat.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, c := range convs {
		if _, err := tx.Exec(`
			INSERT INTO conversations (chat_id, counterpart_id, counterpart_name, counterpart_avatar,
				last_message_id, last_message_preview, last_message_at, unread_count, pinned, muted, local_only, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(chat_id) DO NOTHING`,
			c.ChatID, c.CounterpartID, c.CounterpartName, c.CounterpartAvatar,
			c.LastMessageID, c.LastMessagePreview, c.LastMessageAt, c.UnreadCount, c.Pinned, c.Muted, c.LocalOnly, now); err != nil {
			return fmt.Errorf("insert conversation %q: %w", c.ChatID, err)
		}
	}
	return tx.Commit()
}

const conversationColumns = `chat_id, counterpart_id, counterpart_name, counterpart_avatar,
	last_message_id, last_message_preview, last_message_at, unread_count, pinned, muted, local_only`

func scanConversation(s interface{ Scan(...any) error }) (chat.Conversation, error) {
	var c chat.Conversation
	err := s.Scan(&c.ChatID, &c.CounterpartID, &c.CounterpartName, &c.CounterpartAvatar,
		&c.LastMessageID, &c.LastMessagePreview, &c.LastMessageAt, &c.UnreadCount, &c.Pinned, &c.Muted, &c.LocalOnly)
	return c, err
}

// ListConversations returns stored conversations, newest first.
func (db *DB) ListConversations(limit int) ([]chat.Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`SELECT `+conversationColumns+`
		FROM conversations
		ORDER BY last_message_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []chat.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns one conversation, or nil if it is not stored.
func (db *DB) GetConversation(chatID string) (*chat.Conversation, error) {
	c, err := scanConversation(db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE chat_id = ?`, chatID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
