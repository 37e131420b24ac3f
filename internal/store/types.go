package store

// Credentials is the persisted login of a session.
type Credentials struct {
	Token     string
	UserID    string
	ExpiresAt int64 // unix millis, 0 when the token carries no expiry
	UpdatedAt int64
}

// Sync state keys.
const (
	KeyUserID     = "user_id"
	KeyOpenChatID = "open_chat_id"
	KeyLastResync = "last_resync_at"
)
