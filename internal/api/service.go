package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/matheus3301/pairchat/internal/auth"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/reconcile"
	"github.com/matheus3301/pairchat/internal/restapi"
	"github.com/matheus3301/pairchat/internal/status"
	"github.com/matheus3301/pairchat/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

const defaultSearchSize = 20

var _ ChatServer = (*Service)(nil)

// Account is the session's login and realtime connection.
type Account interface {
	Login(ctx context.Context, token, userID string) (store.Credentials, error)
	Logout(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect()
	Current() (store.Credentials, bool)
	State() status.State
	Attempts() int
}

// Chats is the reconciled conversation state.
type Chats interface {
	LoadConversations(ctx context.Context) error
	StartConversation(counterpartID, displayName string) (chat.Conversation, error)
	OpenConversation(ctx context.Context, chatID string) error
	LoadMore(ctx context.Context) error
	Send(content string, t chat.MessageType, media *chat.Media) (chat.Message, error)
	Conversations() []chat.Conversation
	Conversation(chatID string) (chat.Conversation, bool)
	Messages() []chat.Message
	OpenChatID() string
	HasMore() bool
	ResyncAttempts() int
}

// Backend is the REST surface the service calls directly.
type Backend interface {
	Search(ctx context.Context, req restapi.SearchRequest) (*restapi.Page[chat.Message], error)
	UploadMedia(ctx context.Context, fileName string, r io.Reader, senderID, receiverID string) (*restapi.Upload, error)
	OnlineStatus(ctx context.Context, userID string) (*restapi.OnlineStatus, error)
	Health(ctx context.Context) restapi.Health
}

// LocalSearcher searches mirrored messages.
type LocalSearcher interface {
	SearchMessages(query, chatID string, limit int) ([]chat.Message, error)
}

// Service implements ChatServer on top of the daemon's components.
type Service struct {
	sessionName string
	startedAt   time.Time
	account     Account
	chats       Chats
	backend     Backend
	local       LocalSearcher
	bus         *bus.Bus
	logger      *zap.Logger
}

// NewService creates the chat service. local may be nil.
func NewService(sessionName string, account Account, chats Chats, backend Backend, local LocalSearcher, b *bus.Bus, logger *zap.Logger) *Service {
	return &Service{
		sessionName: sessionName,
		startedAt:   time.Now(),
		account:     account,
		chats:       chats,
		backend:     backend,
		local:       local,
		bus:         b,
		logger:      logger.Named("api"),
	}
}

func (s *Service) GetStatus(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	resp := &StatusResponse{
		Session:        s.sessionName,
		State:          s.account.State(),
		Attempts:       s.account.Attempts(),
		ResyncAttempts: s.chats.ResyncAttempts(),
		OpenChatID:     s.chats.OpenChatID(),
		Conversations:  len(s.chats.Conversations()),
		UptimeMs:       time.Since(s.startedAt).Milliseconds(),
	}
	if c, ok := s.account.Current(); ok {
		resp.LoggedIn = true
		resp.UserID = c.UserID
		resp.TokenExpiresAt = c.ExpiresAt
	}
	h := s.backend.Health(ctx)
	resp.MessageService = h.MessageService
	resp.RealtimeHTTP = h.RealtimeService
	return resp, nil
}

func (s *Service) Login(ctx context.Context, req *LoginRequest) (*LoginResponse, error) {
	if strings.TrimSpace(req.Token) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "token is required")
	}
	c, err := s.account.Login(ctx, req.Token, req.UserID)
	if err != nil {
		return nil, toStatus("login", err)
	}
	return &LoginResponse{UserID: c.UserID, ExpiresAt: c.ExpiresAt}, nil
}

func (s *Service) Logout(ctx context.Context, _ *Empty) (*Empty, error) {
	if err := s.account.Logout(ctx); err != nil {
		return nil, toStatus("logout", err)
	}
	return &Empty{}, nil
}

func (s *Service) Connect(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	if err := s.account.Connect(ctx); err != nil {
		return nil, toStatus("connect", err)
	}
	return s.GetStatus(ctx, &Empty{})
}

func (s *Service) Disconnect(ctx context.Context, _ *Empty) (*StatusResponse, error) {
	s.account.Disconnect()
	return s.GetStatus(ctx, &Empty{})
}

func (s *Service) ListConversations(ctx context.Context, req *ListConversationsRequest) (*ConversationsResponse, error) {
	if req.Refresh {
		if err := s.chats.LoadConversations(ctx); err != nil {
			return nil, toStatus("load conversations", err)
		}
	}
	return &ConversationsResponse{Conversations: s.chats.Conversations()}, nil
}

func (s *Service) StartConversation(ctx context.Context, req *StartConversationRequest) (*ConversationResponse, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user id is required")
	}
	c, err := s.chats.StartConversation(req.UserID, req.Name)
	if err != nil {
		return nil, toStatus("start conversation", err)
	}
	if err := s.chats.OpenConversation(ctx, c.ChatID); err != nil && !c.LocalOnly {
		return nil, toStatus("open conversation", err)
	}
	return &ConversationResponse{Conversation: c}, nil
}

func (s *Service) OpenConversation(ctx context.Context, req *OpenConversationRequest) (*MessagesResponse, error) {
	if req.ChatID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "chat id is required")
	}
	if err := s.chats.OpenConversation(ctx, req.ChatID); err != nil {
		return nil, toStatus("open conversation", err)
	}
	return s.timeline(), nil
}

func (s *Service) LoadMore(ctx context.Context, _ *Empty) (*MessagesResponse, error) {
	if err := s.chats.LoadMore(ctx); err != nil {
		return nil, toStatus("load more", err)
	}
	return s.timeline(), nil
}

func (s *Service) ListMessages(_ context.Context, _ *Empty) (*MessagesResponse, error) {
	if s.chats.OpenChatID() == "" {
		return nil, toStatus("list messages", reconcile.ErrNoOpenConversation)
	}
	return s.timeline(), nil
}

func (s *Service) SendMessage(_ context.Context, req *SendMessageRequest) (*MessageResponse, error) {
	msg, err := s.chats.Send(req.Content, req.Type, req.Media)
	if err != nil {
		return nil, toStatus("send", err)
	}
	return &MessageResponse{Message: msg}, nil
}

func (s *Service) UploadMedia(ctx context.Context, req *UploadMediaRequest) (*UploadMediaResponse, error) {
	if req.Path == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "path is required")
	}
	c, ok := s.account.Current()
	if !ok {
		return nil, toStatus("upload", auth.ErrNoCredentials)
	}
	chatID := s.chats.OpenChatID()
	conv, open := s.chats.Conversation(chatID)
	if !open {
		return nil, toStatus("upload", reconcile.ErrNoOpenConversation)
	}

	f, err := os.Open(req.Path)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "open %s: %v", req.Path, err)
	}
	defer func() { _ = f.Close() }()

	up, err := s.backend.UploadMedia(ctx, filepath.Base(req.Path), f, c.UserID, conv.CounterpartID)
	if err != nil {
		return nil, toStatus("upload", err)
	}
	resp := &UploadMediaResponse{Upload: *up}
	if !req.Send {
		return resp, nil
	}
	msg, err := s.chats.Send(req.Caption, chat.TypeForContentType(up.ContentType), up.Media())
	if err != nil {
		return nil, toStatus("send", err)
	}
	resp.Message = &msg
	return resp, nil
}

// Search queries the message service. When it cannot answer, or Local is
// set, the mirrored messages are searched instead.
func (s *Service) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	keyword := strings.TrimSpace(req.Keyword)
	if keyword == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "keyword is required")
	}
	size := req.Size
	if size <= 0 {
		size = defaultSearchSize
	}

	if !req.Local {
		c, _ := s.account.Current()
		page, err := s.backend.Search(ctx, restapi.SearchRequest{
			UserID:  c.UserID,
			Keyword: keyword,
			ChatID:  req.ChatID,
			Page:    max(req.Page, 1),
			Size:    size,
		})
		switch {
		case err == nil:
			return &SearchResponse{Messages: page.Records, Total: page.Total, HasNext: page.HasNext}, nil
		case auth.IsAuthFailure(err) || s.local == nil:
			return nil, toStatus("search", err)
		}
		s.logger.Warn("remote search failed, searching local messages", zap.Error(err))
	}

	if s.local == nil {
		return nil, grpcstatus.Error(codes.Unavailable, "local search unavailable")
	}
	msgs, err := s.local.SearchMessages(keyword, req.ChatID, size)
	if err != nil {
		return nil, toStatus("local search", err)
	}
	return &SearchResponse{Messages: msgs, Total: int64(len(msgs)), Local: true}, nil
}

func (s *Service) OnlineStatus(ctx context.Context, req *OnlineStatusRequest) (*OnlineStatusResponse, error) {
	if req.UserID == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "user id is required")
	}
	st, err := s.backend.OnlineStatus(ctx, req.UserID)
	if err != nil {
		return nil, toStatus("online status", err)
	}
	return &OnlineStatusResponse{Status: *st}, nil
}

func (s *Service) WatchEvents(req *WatchRequest, stream EventStream) error {
	ch, unsub := s.bus.Subscribe("", 256)
	defer unsub()

	for {
		select {
		case evt := <-ch:
			if !matches(evt.Kind, req.Namespaces) {
				continue
			}
			out := &Event{
				ID:           uuid.New().String(),
				Session:      s.sessionName,
				Kind:         evt.Kind,
				OccurredAtMs: evt.Timestamp.UnixMilli(),
			}
			if evt.Payload != nil {
				b, err := json.Marshal(evt.Payload)
				if err != nil {
					s.logger.Warn("event payload not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				} else {
					out.Payload = b
				}
			}
			if err := stream.Send(out); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func (s *Service) timeline() *MessagesResponse {
	return &MessagesResponse{
		ChatID:   s.chats.OpenChatID(),
		Messages: s.chats.Messages(),
		HasMore:  s.chats.HasMore(),
	}
}

func matches(kind string, namespaces []string) bool {
	if len(namespaces) == 0 {
		return true
	}
	for _, ns := range namespaces {
		if strings.HasPrefix(kind, ns) {
			return true
		}
	}
	return false
}

// toStatus maps a component error to a gRPC status.
func toStatus(op string, err error) error {
	var code codes.Code
	switch {
	case auth.IsAuthFailure(err), errors.Is(err, auth.ErrNoUserID):
		code = codes.Unauthenticated
	case errors.Is(err, reconcile.ErrNoOpenConversation), errors.Is(err, reconcile.ErrNoUser):
		code = codes.FailedPrecondition
	case errors.Is(err, reconcile.ErrSelfConversation), errors.Is(err, reconcile.ErrEmptyMessage):
		code = codes.InvalidArgument
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		code = codes.Internal
	}
	return grpcstatus.Error(code, fmt.Sprintf("%s: %v", op, err))
}
