package chat

import (
	"slices"
	"strings"
)

// MessageType is the content kind of a chat message.
type MessageType string

const (
	TypeText  MessageType = "TEXT"
	TypeImage MessageType = "IMAGE"
	TypeVideo MessageType = "VIDEO"
	TypeVoice MessageType = "VOICE"
	TypeFile  MessageType = "FILE"
	TypeEmoji MessageType = "EMOJI"
)

// ParseMessageType maps a wire value to a MessageType. Unknown values are TEXT.
func ParseMessageType(s string) MessageType {
	switch t := MessageType(strings.ToUpper(s)); t {
	case TypeText, TypeImage, TypeVideo, TypeVoice, TypeFile, TypeEmoji:
		return t
	default:
		return TypeText
	}
}

// TypeForContentType infers the message type of an uploaded file from its MIME type.
func TypeForContentType(contentType string) MessageType {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return TypeImage
	case strings.HasPrefix(contentType, "video/"):
		return TypeVideo
	case strings.HasPrefix(contentType, "audio/"):
		return TypeVoice
	default:
		return TypeFile
	}
}

// Media describes an uploaded attachment.
type Media struct {
	URL      string `json:"url,omitempty"`
	FileName string `json:"fileName,omitempty"`
	FileSize int64  `json:"fileSize,omitempty"`
	Duration int    `json:"duration,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

// Message is one chat event in a conversation timeline.
type Message struct {
	ID         string      `json:"messageId"`
	ChatID     string      `json:"chatId"`
	SenderID   string      `json:"senderId"`
	ReceiverID string      `json:"receiverId"`
	Content    string      `json:"content,omitempty"`
	Type       MessageType `json:"messageType"`
	Media      *Media      `json:"mediaMetadata,omitempty"`
	Timestamp  int64       `json:"timestamp"`
	Status     Status      `json:"status"`
}

// Conversation is the list entry for one counterpart.
type Conversation struct {
	ChatID             string `json:"chatId"`
	CounterpartID      string `json:"otherUserId"`
	CounterpartName    string `json:"otherUserNickname,omitempty"`
	CounterpartAvatar  string `json:"otherUserAvatar,omitempty"`
	LastMessageID      string `json:"lastMessageId,omitempty"`
	LastMessagePreview string `json:"lastMessageContent,omitempty"`
	LastMessageAt      int64  `json:"lastMessageTimestamp"`
	UnreadCount        int    `json:"unreadCount"`
	Pinned             bool   `json:"pinned,omitempty"`
	Muted              bool   `json:"muted,omitempty"`
	// LocalOnly marks a conversation started locally that the server has not confirmed yet.
	LocalOnly bool `json:"localOnly,omitempty"`
}

// ID derives the chat identifier for two participants. The result does not
// depend on argument order.
func ID(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "chat_" + a + "_" + b
}

// Preview returns the conversation list text for a message.
func Preview(t MessageType, content string, media *Media) string {
	switch t {
	case TypeImage:
		return "📷 Image"
	case TypeVideo:
		return "🎬 Video"
	case TypeVoice:
		return "🎵 Voice"
	case TypeFile:
		if media != nil && media.FileName != "" {
			return "📎 " + media.FileName
		}
		return "📎 File"
	case TypeEmoji:
		return "😀 Emoji"
	}
	if content == "" {
		return "Message"
	}
	return content
}

// SortMessages orders messages by timestamp ascending, keeping arrival order for ties.
func SortMessages(msgs []Message) {
	slices.SortStableFunc(msgs, func(a, b Message) int {
		switch {
		case a.Timestamp < b.Timestamp:
			return -1
		case a.Timestamp > b.Timestamp:
			return 1
		}
		return 0
	})
}

// SortConversations orders conversations by last message time, newest first.
func SortConversations(convs []Conversation) {
	slices.SortStableFunc(convs, func(a, b Conversation) int {
		switch {
		case a.LastMessageAt > b.LastMessageAt:
			return -1
		case a.LastMessageAt < b.LastMessageAt:
			return 1
		}
		return 0
	})
}
