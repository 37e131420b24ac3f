package api

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/restapi"
	"github.com/matheus3301/pairchat/internal/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Empty is the request or response of calls that carry no data.
type Empty struct{}

// StatusResponse describes the daemon's session.
type StatusResponse struct {
	Session        string       `json:"session"`
	UserID         string       `json:"userId,omitempty"`
	LoggedIn       bool         `json:"loggedIn"`
	TokenExpiresAt int64        `json:"tokenExpiresAt,omitempty"`
	State          status.State `json:"state"`
	Attempts       int          `json:"attempts"`
	ResyncAttempts int          `json:"resyncAttempts"`
	OpenChatID     string       `json:"openChatId,omitempty"`
	Conversations  int          `json:"conversations"`
	UptimeMs       int64        `json:"uptimeMs"`
	MessageService bool         `json:"messageService"`
	RealtimeHTTP   bool         `json:"realtimeService"`
}

type LoginRequest struct {
	Token  string `json:"token"`
	UserID string `json:"userId,omitempty"`
}

type LoginResponse struct {
	UserID    string `json:"userId"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

type ListConversationsRequest struct {
	// Refresh fetches the list from the server before answering.
	Refresh bool `json:"refresh,omitempty"`
}

type ConversationsResponse struct {
	Conversations []chat.Conversation `json:"conversations"`
}

type StartConversationRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

type ConversationResponse struct {
	Conversation chat.Conversation `json:"conversation"`
}

type OpenConversationRequest struct {
	ChatID string `json:"chatId"`
}

// MessagesResponse is the open conversation's timeline, oldest first.
type MessagesResponse struct {
	ChatID   string         `json:"chatId"`
	Messages []chat.Message `json:"messages"`
	HasMore  bool           `json:"hasMore"`
}

type SendMessageRequest struct {
	Content string           `json:"content"`
	Type    chat.MessageType `json:"messageType,omitempty"`
	Media   *chat.Media      `json:"mediaMetadata,omitempty"`
}

type MessageResponse struct {
	Message chat.Message `json:"message"`
}

// UploadMediaRequest uploads a local file. The daemon reads Path itself.
type UploadMediaRequest struct {
	Path string `json:"path"`
	// Send posts the uploaded file to the open conversation.
	Send    bool   `json:"send,omitempty"`
	Caption string `json:"caption,omitempty"`
}

type UploadMediaResponse struct {
	Upload  restapi.Upload `json:"upload"`
	Message *chat.Message  `json:"message,omitempty"`
}

type SearchRequest struct {
	Keyword string `json:"keyword"`
	ChatID  string `json:"chatId,omitempty"`
	Page    int    `json:"page,omitempty"`
	Size    int    `json:"size,omitempty"`
	// Local searches the mirrored messages only.
	Local bool `json:"local,omitempty"`
}

type SearchResponse struct {
	Messages []chat.Message `json:"messages"`
	Total    int64          `json:"total"`
	HasNext  bool           `json:"hasNext"`
	Local    bool           `json:"local"`
}

type OnlineStatusRequest struct {
	UserID string `json:"userId"`
}

type OnlineStatusResponse struct {
	Status restapi.OnlineStatus `json:"status"`
}

type WatchRequest struct {
	// Namespaces filters events by kind prefix, e.g. "message.". Empty means all.
	Namespaces []string `json:"namespaces,omitempty"`
}

// Event is one bus event streamed to a watcher.
type Event struct {
	ID           string          `json:"eventId"`
	Session      string          `json:"session"`
	Kind         string          `json:"kind"`
	OccurredAtMs int64           `json:"occurredAtMs"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

func encode(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", v, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(b, s); err != nil {
		return nil, fmt.Errorf("convert %T: %w", v, err)
	}
	return s, nil
}

func decode(s *structpb.Struct, v any) error {
	if s == nil {
		return nil
	}
	b, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("convert %T: %w", v, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("unmarshal %T: %w", v, err)
	}
	return nil
}
