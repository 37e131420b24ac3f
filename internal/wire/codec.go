package wire

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/matheus3301/pairchat/internal/chat"
)

var (
	// ErrMissingType is returned for frames without a "type" discriminator.
	ErrMissingType = errors.New("frame has no type")
	// ErrNotEncodable is returned when encoding a frame the client never sends.
	ErrNotEncodable = errors.New("frame type is not sent by clients")
)

// envelope is the flat JSON shape shared by every inbound frame.
type envelope struct {
	Type            Type           `json:"type"`
	ChatID          string         `json:"chatId"`
	SenderID        string         `json:"senderId"`
	ReceiverID      string         `json:"receiverId"`
	MessageID       string         `json:"messageId"`
	TempMessageID   string         `json:"tempMessageId"`
	Content         string         `json:"content"`
	ChatMessageType string         `json:"chatMessageType"`
	Media           *chat.Media    `json:"mediaMetadata"`
	Status          string         `json:"status"`
	Timestamp       int64          `json:"timestamp"`
	ExtraData       map[string]any `json:"extraData"`
}

// Decode parses one frame. Frames with an unrecognized type decode to *Unknown
// without error; malformed JSON and missing types are errors.
func Decode(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch env.Type {
	case TypeConnected:
		return &Connected{Content: env.Content, Timestamp: env.Timestamp}, nil
	case TypeDisconnected:
		return &Disconnected{Content: env.Content, Timestamp: env.Timestamp}, nil
	case TypeConnectionReplaced:
		return &ConnectionReplaced{Content: env.Content, Timestamp: env.Timestamp}, nil
	case TypeHeartbeat:
		return &Heartbeat{Timestamp: env.Timestamp}, nil
	case TypeHeartbeatAck:
		return &HeartbeatAck{Timestamp: env.Timestamp}, nil
	case TypeChatMessage:
		return &ChatMessage{
			ChatID:        env.ChatID,
			SenderID:      env.SenderID,
			ReceiverID:    env.ReceiverID,
			MessageID:     env.MessageID,
			TempMessageID: env.TempMessageID,
			Content:       env.Content,
			MessageType:   chat.ParseMessageType(env.ChatMessageType),
			Media:         env.Media,
			Status:        env.Status,
			Timestamp:     env.Timestamp,
		}, nil
	case TypeMessageAck:
		return &MessageAck{
			TempMessageID: env.TempMessageID,
			MessageID:     env.MessageID,
			ChatID:        env.ChatID,
			SenderID:      env.SenderID,
			ReceiverID:    env.ReceiverID,
			Timestamp:     env.Timestamp,
		}, nil
	case TypeReadReceipt:
		msgID := extraString(env.ExtraData, "messageId")
		if msgID == "" {
			msgID = env.MessageID
		}
		return &ReadReceipt{
			ChatID:     env.ChatID,
			SenderID:   env.SenderID,
			ReceiverID: env.ReceiverID,
			MessageID:  msgID,
			Timestamp:  env.Timestamp,
		}, nil
	case TypeTyping:
		active, ok := extraBool(env.ExtraData, "typing")
		if !ok {
			active = env.Content != "stop"
		}
		return &Typing{
			ChatID:     env.ChatID,
			SenderID:   env.SenderID,
			ReceiverID: env.ReceiverID,
			Active:     active,
			Timestamp:  env.Timestamp,
		}, nil
	case TypeOnlineStatus:
		online, ok := extraBool(env.ExtraData, "online")
		if !ok {
			online = env.Content == "online"
		}
		userID := extraString(env.ExtraData, "userId")
		if userID == "" {
			userID = env.SenderID
		}
		return &OnlineStatus{UserID: userID, Online: online, Timestamp: env.Timestamp}, nil
	case TypeError:
		return &Error{
			TempMessageID: env.TempMessageID,
			Content:       env.Content,
			Reason:        extraString(env.ExtraData, "reason"),
			Timestamp:     env.Timestamp,
		}, nil
	case TypeSystemNotification:
		return &SystemNotification{Content: env.Content, Extra: env.ExtraData, Timestamp: env.Timestamp}, nil
	default:
		return &Unknown{Kind: env.Type, Raw: data}, nil
	}
}

type outboundChat struct {
	Type            Type        `json:"type"`
	ChatID          string      `json:"chatId"`
	ReceiverID      string      `json:"receiverId"`
	Content         string      `json:"content"`
	ChatMessageType string      `json:"chatMessageType"`
	Media           *chat.Media `json:"mediaMetadata"`
	TempMessageID   string      `json:"tempMessageId"`
	Timestamp       int64       `json:"timestamp"`
}

type outboundReceipt struct {
	Type          Type              `json:"type"`
	ChatID        string            `json:"chatId"`
	ReceiverID    string            `json:"receiverId"`
	SenderID      string            `json:"senderId"`
	Content       *string           `json:"content"`
	MessageID     *string           `json:"messageId"`
	TempMessageID *string           `json:"tempMessageId"`
	ExtraData     map[string]string `json:"extraData"`
	Timestamp     int64             `json:"timestamp"`
}

type outboundHeartbeat struct {
	Type      Type   `json:"type"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Encode serializes a client-originated frame.
func Encode(f Frame) ([]byte, error) {
	switch f := f.(type) {
	case *ChatMessage:
		return json.Marshal(outboundChat{
			Type:            TypeChatMessage,
			ChatID:          f.ChatID,
			ReceiverID:      f.ReceiverID,
			Content:         f.Content,
			ChatMessageType: string(f.MessageType),
			Media:           f.Media,
			TempMessageID:   f.TempMessageID,
			Timestamp:       f.Timestamp,
		})
	case *ReadReceipt:
		return json.Marshal(outboundReceipt{
			Type:       TypeReadReceipt,
			ChatID:     f.ChatID,
			ReceiverID: f.ReceiverID,
			SenderID:   f.SenderID,
			ExtraData:  map[string]string{"messageId": f.MessageID},
			Timestamp:  f.Timestamp,
		})
	case *Heartbeat:
		return json.Marshal(outboundHeartbeat{Type: TypeHeartbeat, Content: "ping", Timestamp: f.Timestamp})
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotEncodable, f.Type())
	}
}

func extraString(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func extraBool(m map[string]any, key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}
