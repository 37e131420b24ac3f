package store

import (
	"strings"

	"github.com/matheus3301/pairchat/internal/chat"
)

// SearchMessages finds stored messages whose content contains query,
// newest first. An empty chatID searches every conversation.
func (db *DB) SearchMessages(query string, chatID string, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + likeEscaper.Replace(query) + "%"

	q := `
		SELECT chat_id, msg_id, sender_id, receiver_id, content, message_type, media, status, timestamp
		FROM messages
		WHERE content LIKE ? ESCAPE '\'`
	args := []any{pattern}
	if chatID != "" {
		q += " AND chat_id = ?"
		args = append(args, chatID)
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	return scanMessages(rows)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
