package wire

import "github.com/matheus3301/pairchat/internal/chat"

// Type is the discriminator carried in every frame's "type" field.
type Type string

const (
	TypeConnected          Type = "CONNECTED"
	TypeDisconnected       Type = "DISCONNECTED"
	TypeConnectionReplaced Type = "CONNECTION_REPLACED"
	TypeHeartbeat          Type = "HEARTBEAT"
	TypeHeartbeatAck       Type = "HEARTBEAT_ACK"
	TypeChatMessage        Type = "CHAT_MESSAGE"
	TypeMessageAck         Type = "MESSAGE_ACK"
	TypeReadReceipt        Type = "READ_RECEIPT"
	TypeTyping             Type = "TYPING"
	TypeOnlineStatus       Type = "ONLINE_STATUS"
	TypeError              Type = "ERROR"
	TypeSystemNotification Type = "SYSTEM_NOTIFICATION"
)

// Frame is one decoded WebSocket message. The set of implementations is closed;
// switch on the concrete type to handle each variant.
type Frame interface {
	Type() Type
	isFrame()
}

// Connected is the server greeting sent after the upgrade.
type Connected struct {
	Content   string
	Timestamp int64
}

// Disconnected is sent by the server before it closes the session.
type Disconnected struct {
	Content   string
	Timestamp int64
}

// ConnectionReplaced tells this client that a newer session for the same user took over.
type ConnectionReplaced struct {
	Content   string
	Timestamp int64
}

// Heartbeat is the client liveness probe.
type Heartbeat struct {
	Timestamp int64
}

// HeartbeatAck answers a Heartbeat.
type HeartbeatAck struct {
	Timestamp int64
}

// ChatMessage carries one chat message in either direction.
type ChatMessage struct {
	ChatID        string
	SenderID      string
	ReceiverID    string
	MessageID     string
	TempMessageID string
	Content       string
	MessageType   chat.MessageType
	Media         *chat.Media
	Status        string
	Timestamp     int64
}

// MessageAck confirms a ChatMessage was persisted and assigns its permanent id.
type MessageAck struct {
	TempMessageID string
	MessageID     string
	ChatID        string
	SenderID      string
	ReceiverID    string
	Timestamp     int64
}

// ReadReceipt reports that MessageID was read. SenderID is the reader.
type ReadReceipt struct {
	ChatID     string
	SenderID   string
	ReceiverID string
	MessageID  string
	Timestamp  int64
}

// Typing is a relayed typing indicator.
type Typing struct {
	ChatID     string
	SenderID   string
	ReceiverID string
	Active     bool
	Timestamp  int64
}

// OnlineStatus reports a user's presence.
type OnlineStatus struct {
	UserID    string
	Online    bool
	Timestamp int64
}

// Error is a server-side failure, optionally tied to a pending send.
type Error struct {
	TempMessageID string
	Content       string
	Reason        string
	Timestamp     int64
}

// SystemNotification is an informational server push.
type SystemNotification struct {
	Content   string
	Extra     map[string]any
	Timestamp int64
}

// Unknown is a frame whose type this client does not understand.
type Unknown struct {
	Kind Type
	Raw  []byte
}

func (*Connected) Type() Type          { return TypeConnected }
func (*Disconnected) Type() Type       { return TypeDisconnected }
func (*ConnectionReplaced) Type() Type { return TypeConnectionReplaced }
func (*Heartbeat) Type() Type          { return TypeHeartbeat }
func (*HeartbeatAck) Type() Type       { return TypeHeartbeatAck }
func (*ChatMessage) Type() Type        { return TypeChatMessage }
func (*MessageAck) Type() Type         { return TypeMessageAck }
func (*ReadReceipt) Type() Type        { return TypeReadReceipt }
func (*Typing) Type() Type             { return TypeTyping }
func (*OnlineStatus) Type() Type       { return TypeOnlineStatus }
func (*Error) Type() Type              { return TypeError }
func (*SystemNotification) Type() Type { return TypeSystemNotification }
func (u *Unknown) Type() Type          { return u.Kind }

func (*Connected) isFrame()          {}
func (*Disconnected) isFrame()       {}
func (*ConnectionReplaced) isFrame() {}
func (*Heartbeat) isFrame()          {}
func (*HeartbeatAck) isFrame()       {}
func (*ChatMessage) isFrame()        {}
func (*MessageAck) isFrame()         {}
func (*ReadReceipt) isFrame()        {}
func (*Typing) isFrame()             {}
func (*OnlineStatus) isFrame()       {}
func (*Error) isFrame()              {}
func (*SystemNotification) isFrame() {}
func (*Unknown) isFrame()            {}

// Auth failure reasons carried in an ERROR frame's extraData.reason.
const (
	ReasonNotAuthenticated = "not_authenticated"
	ReasonAuthFailed       = "auth_failed"
)

// IsAuthFailure reports whether the error frame rejects the session's credentials.
func (e *Error) IsAuthFailure() bool {
	return e.Reason == ReasonNotAuthenticated || e.Reason == ReasonAuthFailed
}
