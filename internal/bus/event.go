package bus

import "time"

// Event kinds published by the realtime client. Subscribers filter by the
// namespace prefix before the dot.
const (
	KindConversationsChanged = "conversation.list_changed"
	KindMessagesChanged      = "message.list_changed"
	KindMessageStatus        = "message.status_changed"
	KindMessageReceived      = "message.received"
	KindPresenceChanged      = "presence.changed"
	KindAuthRequired         = "session.auth_required"
	KindLoggedIn             = "session.logged_in"
	KindResyncDone           = "sync.resync_done"
	KindResyncFailed         = "sync.resync_failed"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
