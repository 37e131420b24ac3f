package store

import (
	"database/sql"
	"errors"
	"time"
)

// SaveCredentials replaces the stored login.
func (db *DB) SaveCredentials(c *Credentials) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO credentials (id, token, user_id, expires_at, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			token = excluded.token,
			user_id = excluded.user_id,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`,
		c.Token, c.UserID, c.ExpiresAt, now)
	return err
}

// LoadCredentials returns the stored login, or nil if there is none.
func (db *DB) LoadCredentials() (*Credentials, error) {
	var c Credentials
	err := db.QueryRow(`SELECT token, user_id, expires_at, updated_at FROM credentials WHERE id = 1`).
		Scan(&c.Token, &c.UserID, &c.ExpiresAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ClearCredentials forgets the stored login.
func (db *DB) ClearCredentials() error {
	_, err := db.Exec(`DELETE FROM credentials`)
	return err
}
