package model

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/goccy/go-json"
	"github.com/matheus3301/pairchat/internal/api"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/status"
)

// Client is the part of the daemon API the TUI drives.
type Client interface {
	GetStatus(ctx context.Context) (*api.StatusResponse, error)
	Login(ctx context.Context, token, userID string) (*api.LoginResponse, error)
	Logout(ctx context.Context) error
	Connect(ctx context.Context) (*api.StatusResponse, error)
	Disconnect(ctx context.Context) (*api.StatusResponse, error)
	ListConversations(ctx context.Context, refresh bool) (*api.ConversationsResponse, error)
	StartConversation(ctx context.Context, userID, name string) (*api.ConversationResponse, error)
	OpenConversation(ctx context.Context, chatID string) (*api.MessagesResponse, error)
	LoadMore(ctx context.Context) (*api.MessagesResponse, error)
	ListMessages(ctx context.Context) (*api.MessagesResponse, error)
	SendMessage(ctx context.Context, req *api.SendMessageRequest) (*api.MessageResponse, error)
	UploadMedia(ctx context.Context, req *api.UploadMediaRequest) (*api.UploadMediaResponse, error)
	Search(ctx context.Context, req *api.SearchRequest) (*api.SearchResponse, error)
}

// Change tells the app which parts of the screen an event invalidated.
type Change uint8

const (
	ChangeStatus Change = 1 << iota
	ChangeConversations
	ChangeMessages
	ChangePresence
	// ChangeAuth means the daemon logged in or out.
	ChangeAuth
)

// Has reports whether c includes all bits of o.
func (c Change) Has(o Change) bool { return c&o == o }

// Presence is what the TUI knows about a counterpart.
type Presence struct {
	Online bool
	Typing bool
}

// event payloads as the daemon encodes them.
type (
	statusPayload struct {
		From status.State
		To   status.State
	}
	messageStatusPayload struct {
		ChatID    string
		MessageID string
		Status    chat.Status
	}
	presencePayload struct {
		UserID string
		ChatID string
		Online bool
		Typing bool
	}
)

// ViewModel caches daemon state for the views.
type ViewModel struct {
	mu sync.RWMutex

	client        Client
	status        *api.StatusResponse
	conversations []chat.Conversation
	openChatID    string
	messages      []chat.Message
	hasMore       bool
	presence      map[string]Presence
	lastError     string
}

// NewViewModel creates a view model backed by the daemon client.
func NewViewModel(c Client) *ViewModel {
	return &ViewModel{
		client:   c,
		presence: make(map[string]Presence),
	}
}

// LoadStatus fetches the session status.
func (vm *ViewModel) LoadStatus(ctx context.Context) error {
	resp, err := vm.client.GetStatus(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	if resp.OpenChatID != "" && vm.openChatID == "" {
		vm.openChatID = resp.OpenChatID
	}
	vm.mu.Unlock()
	return nil
}

// LoadConversations fetches the conversation list. With refresh the daemon
// asks the server first.
func (vm *ViewModel) LoadConversations(ctx context.Context, refresh bool) error {
	resp, err := vm.client.ListConversations(ctx, refresh)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = resp.Conversations
	vm.mu.Unlock()
	return nil
}

// Open makes chatID the open conversation and loads its timeline.
func (vm *ViewModel) Open(ctx context.Context, chatID string) error {
	resp, err := vm.client.OpenConversation(ctx, chatID)
	if err != nil {
		return err
	}
	vm.setTimeline(resp)
	return nil
}

// Start opens a conversation with userID, creating it when needed.
func (vm *ViewModel) Start(ctx context.Context, userID, name string) (chat.Conversation, error) {
	resp, err := vm.client.StartConversation(ctx, userID, name)
	if err != nil {
		return chat.Conversation{}, err
	}
	msgs, err := vm.client.ListMessages(ctx)
	if err != nil {
		return resp.Conversation, err
	}
	vm.setTimeline(msgs)
	vm.mu.Lock()
	if !slices.ContainsFunc(vm.conversations, func(c chat.Conversation) bool { return c.ChatID == resp.Conversation.ChatID }) {
		vm.conversations = append([]chat.Conversation{resp.Conversation}, vm.conversations...)
	}
	vm.mu.Unlock()
	return resp.Conversation, nil
}

// LoadMore prepends the previous page of the open conversation.
func (vm *ViewModel) LoadMore(ctx context.Context) error {
	resp, err := vm.client.LoadMore(ctx)
	if err != nil {
		return err
	}
	vm.setTimeline(resp)
	return nil
}

// ReloadMessages refetches the open conversation's timeline.
func (vm *ViewModel) ReloadMessages(ctx context.Context) error {
	resp, err := vm.client.ListMessages(ctx)
	if err != nil {
		return err
	}
	vm.setTimeline(resp)
	return nil
}

func (vm *ViewModel) setTimeline(resp *api.MessagesResponse) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	vm.openChatID = resp.ChatID
	vm.messages = resp.Messages
	vm.hasMore = resp.HasMore
}

// Send posts a text message to the open conversation. The optimistic copy
// the daemon returns is shown until the timeline is refetched.
func (vm *ViewModel) Send(ctx context.Context, text string) error {
	resp, err := vm.client.SendMessage(ctx, &api.SendMessageRequest{Content: text})
	if err != nil {
		return err
	}
	vm.upsert(resp.Message)
	return nil
}

// Attach uploads a file and sends it to the open conversation.
func (vm *ViewModel) Attach(ctx context.Context, path, caption string) (*api.UploadMediaResponse, error) {
	resp, err := vm.client.UploadMedia(ctx, &api.UploadMediaRequest{Path: path, Send: true, Caption: caption})
	if err != nil {
		return nil, err
	}
	if resp.Message != nil {
		vm.upsert(*resp.Message)
	}
	return resp, nil
}

func (vm *ViewModel) upsert(m chat.Message) {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if m.ChatID != vm.openChatID {
		return
	}
	for i := range vm.messages {
		if vm.messages[i].ID == m.ID {
			vm.messages[i] = m
			return
		}
	}
	vm.messages = append(vm.messages, m)
}

// Search queries the daemon. The daemon falls back to stored messages when
// the server is unreachable.
func (vm *ViewModel) Search(ctx context.Context, keyword string) (*api.SearchResponse, error) {
	return vm.client.Search(ctx, &api.SearchRequest{Keyword: keyword})
}

// Login stores a token in the daemon.
func (vm *ViewModel) Login(ctx context.Context, token, userID string) (*api.LoginResponse, error) {
	resp, err := vm.client.Login(ctx, token, userID)
	if err != nil {
		return nil, err
	}
	return resp, vm.LoadStatus(ctx)
}

// Logout drops the daemon's credentials and the cached state.
func (vm *ViewModel) Logout(ctx context.Context) error {
	if err := vm.client.Logout(ctx); err != nil {
		return err
	}
	vm.mu.Lock()
	vm.conversations = nil
	vm.messages = nil
	vm.openChatID = ""
	vm.hasMore = false
	clear(vm.presence)
	vm.mu.Unlock()
	return vm.LoadStatus(ctx)
}

// Connect asks the daemon to open the realtime connection.
func (vm *ViewModel) Connect(ctx context.Context) error {
	resp, err := vm.client.Connect(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	return nil
}

// Disconnect closes the realtime connection.
func (vm *ViewModel) Disconnect(ctx context.Context) error {
	resp, err := vm.client.Disconnect(ctx)
	if err != nil {
		return err
	}
	vm.mu.Lock()
	vm.status = resp
	vm.mu.Unlock()
	return nil
}

// Apply folds a daemon event into the cached state, refetching what the
// event invalidated, and reports what changed.
func (vm *ViewModel) Apply(ctx context.Context, evt *api.Event) (Change, error) {
	switch evt.Kind {
	case status.EventStatusChanged:
		var p statusPayload
		if err := decodePayload(evt, &p); err != nil {
			return 0, err
		}
		vm.mu.Lock()
		if vm.status != nil {
			vm.status.State = p.To
		}
		vm.mu.Unlock()
		return ChangeStatus, nil

	case bus.KindConversationsChanged:
		return ChangeConversations, vm.LoadConversations(ctx, false)

	case bus.KindMessageReceived:
		var m chat.Message
		if err := decodePayload(evt, &m); err != nil {
			return 0, err
		}
		if err := vm.LoadConversations(ctx, false); err != nil {
			return 0, err
		}
		if m.ChatID != vm.OpenChatID() {
			return ChangeConversations, nil
		}
		vm.upsert(m)
		return ChangeConversations | ChangeMessages, nil

	case bus.KindMessagesChanged:
		var chatID string
		if err := decodePayload(evt, &chatID); err != nil {
			return 0, err
		}
		if chatID == "" || chatID != vm.OpenChatID() {
			return 0, nil
		}
		return ChangeMessages, vm.ReloadMessages(ctx)

	case bus.KindMessageStatus:
		var p messageStatusPayload
		if err := decodePayload(evt, &p); err != nil {
			return 0, err
		}
		vm.mu.Lock()
		defer vm.mu.Unlock()
		if p.ChatID != vm.openChatID {
			return 0, nil
		}
		for i := range vm.messages {
			if vm.messages[i].ID == p.MessageID {
				vm.messages[i].Status = p.Status
				return ChangeMessages, nil
			}
		}
		return 0, nil

	case bus.KindPresenceChanged:
		var p presencePayload
		if err := decodePayload(evt, &p); err != nil {
			return 0, err
		}
		vm.mu.Lock()
		cur := vm.presence[p.UserID]
		if p.ChatID != "" {
			cur.Typing = p.Typing
		} else {
			cur.Online = p.Online
		}
		vm.presence[p.UserID] = cur
		vm.mu.Unlock()
		return ChangePresence, nil

	case bus.KindLoggedIn, bus.KindAuthRequired:
		if evt.Kind == bus.KindAuthRequired {
			var p struct{ Reason string }
			_ = decodePayload(evt, &p)
			vm.mu.Lock()
			vm.lastError = p.Reason
			vm.mu.Unlock()
		}
		return ChangeAuth | ChangeStatus, vm.LoadStatus(ctx)

	case bus.KindResyncDone:
		if err := vm.LoadConversations(ctx, false); err != nil {
			return 0, err
		}
		if vm.OpenChatID() == "" {
			return ChangeConversations, nil
		}
		return ChangeConversations | ChangeMessages, vm.ReloadMessages(ctx)

	case bus.KindResyncFailed:
		var reason string
		_ = decodePayload(evt, &reason)
		vm.mu.Lock()
		vm.lastError = reason
		vm.mu.Unlock()
		return ChangeStatus, vm.LoadStatus(ctx)
	}
	return 0, nil
}

func decodePayload(evt *api.Event, v any) error {
	if len(evt.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(evt.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", evt.Kind, err)
	}
	return nil
}

// Status returns the last fetched session status, or nil.
func (vm *ViewModel) Status() *api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return nil
	}
	s := *vm.status
	return &s
}

// LoggedIn reports whether the daemon holds credentials.
func (vm *ViewModel) LoggedIn() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status != nil && vm.status.LoggedIn
}

// Conversations returns a snapshot of the conversation list.
func (vm *ViewModel) Conversations() []chat.Conversation {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.conversations)
}

// Conversation returns the cached list entry for chatID.
func (vm *ViewModel) Conversation(chatID string) (chat.Conversation, bool) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	for _, c := range vm.conversations {
		if c.ChatID == chatID {
			return c, true
		}
	}
	return chat.Conversation{}, false
}

// Messages returns the open conversation's timeline, oldest first.
func (vm *ViewModel) Messages() []chat.Message {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return slices.Clone(vm.messages)
}

// OpenChatID returns the open conversation, or "".
func (vm *ViewModel) OpenChatID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.openChatID
}

// HasMore reports whether older messages can be loaded.
func (vm *ViewModel) HasMore() bool {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.hasMore
}

// Presence returns what is known about userID.
func (vm *ViewModel) Presence(userID string) Presence {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.presence[userID]
}

// LastError returns the latest failure reason reported by the daemon.
func (vm *ViewModel) LastError() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.lastError
}

// SelfID returns the logged in user, or "".
func (vm *ViewModel) SelfID() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	if vm.status == nil {
		return ""
	}
	return vm.status.UserID
}
