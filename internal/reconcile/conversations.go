package reconcile

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/matheus3301/pairchat/internal/chat"
	"go.uber.org/zap"
)

// LoadConversations fetches the first page of conversations and merges it
// with the conversations that only exist locally.
func (r *Reconciler) LoadConversations(ctx context.Context) error {
	user := r.UserID()
	if user == "" {
		return ErrNoUser
	}
	page, err := r.api.Conversations(ctx, user, 1, r.cfg.ConversationPageSize)
	if err != nil {
		r.authFailed(err)
		return fmt.Errorf("load conversations: %w", err)
	}
	r.applyConversations(user, page.Records)
	return nil
}

func (r *Reconciler) applyConversations(user string, server []chat.Conversation) {
	r.mu.Lock()
	if r.userID != user {
		r.mu.Unlock()
		return
	}
	r.conversations = mergeConversations(r.conversations, server)
	if i := r.convIndexLocked(r.openChatID); i >= 0 {
		r.conversations[i].UnreadCount = 0
	}
	n := len(r.conversations)
	r.mu.Unlock()

	r.logger.Debug("conversations merged", zap.Int("server", len(server)), zap.Int("total", n))
	r.emitConversations()
}

// mergeConversations returns the server list, first record per chat id or
// counterpart, plus every local conversation the server does not know yet. A local entry survives only if no server
// entry matches its chat id or counterpart, and it is either still flagged
// local-only or has never carried a message.
func mergeConversations(local, server []chat.Conversation) []chat.Conversation {
	out := make([]chat.Conversation, 0, len(server)+len(local))
	for _, s := range server {
		dup := slices.ContainsFunc(out, func(c chat.Conversation) bool {
			return c.ChatID == s.ChatID || (s.CounterpartID != "" && c.CounterpartID == s.CounterpartID)
		})
		if dup {
			continue
		}
		s.LocalOnly = false
		out = append(out, s)
	}
	for _, l := range local {
		onServer := slices.ContainsFunc(server, func(s chat.Conversation) bool {
			return s.ChatID == l.ChatID || (l.CounterpartID != "" && s.CounterpartID == l.CounterpartID)
		})
		if onServer {
			continue
		}
		if !l.LocalOnly && l.LastMessagePreview != "" {
			continue
		}
		l.LocalOnly = false
		out = append(out, l)
	}
	chat.SortConversations(out)
	return out
}

// StartConversation returns the conversation with counterpartID, creating a
// local-only entry when none exists. It does not open it.
func (r *Reconciler) StartConversation(counterpartID, displayName string) (chat.Conversation, error) {
	counterpartID = strings.TrimSpace(counterpartID)
	r.mu.Lock()
	self := r.userID
	switch {
	case self == "":
		r.mu.Unlock()
		return chat.Conversation{}, ErrNoUser
	case counterpartID == "":
		r.mu.Unlock()
		return chat.Conversation{}, fmt.Errorf("counterpart id is required")
	case counterpartID == self:
		r.mu.Unlock()
		return chat.Conversation{}, ErrSelfConversation
	}
	if i := slices.IndexFunc(r.conversations, func(c chat.Conversation) bool { return c.CounterpartID == counterpartID }); i >= 0 {
		c := r.conversations[i]
		r.mu.Unlock()
		return c, nil
	}

	if displayName == "" {
		displayName = counterpartID
	}
	c := chat.Conversation{
		ChatID:          chat.ID(self, counterpartID),
		CounterpartID:   counterpartID,
		CounterpartName: displayName,
		LastMessageAt:   r.sched.Now().UnixMilli(),
		LocalOnly:       true,
	}
	r.conversations = append([]chat.Conversation{c}, r.conversations...)
	chat.SortConversations(r.conversations)
	r.mu.Unlock()

	r.logger.Info("conversation started locally", zap.String("chat_id", c.ChatID))
	r.emitConversations()
	return c, nil
}

// OpenConversation makes chatID the open conversation, clears its unread
// count and loads the newest page of history.
func (r *Reconciler) OpenConversation(ctx context.Context, chatID string) error {
	r.mu.Lock()
	if r.userID == "" {
		r.mu.Unlock()
		return ErrNoUser
	}
	r.resetOpenLocked(chatID)
	gen := r.gen
	if i := r.convIndexLocked(chatID); i >= 0 {
		r.conversations[i].UnreadCount = 0
	}
	r.mu.Unlock()

	r.emitConversations()
	r.emitMessages(chatID)
	return r.loadFirstPage(ctx, chatID, gen, false)
}

// CloseConversation clears the open conversation.
func (r *Reconciler) CloseConversation() {
	r.mu.Lock()
	r.resetOpenLocked("")
	r.mu.Unlock()
	r.emitMessages("")
}

// loadFirstPage replaces the timeline with page 1, keeping local messages the
// page does not contain. The result is dropped if the open conversation
// changed while the request was in flight.
func (r *Reconciler) loadFirstPage(ctx context.Context, chatID string, gen uint64, force bool) error {
	user := r.UserID()
	page, err := r.api.History(ctx, chatID, user, 1, r.cfg.HistoryPageSize, force)
	if err != nil {
		r.authFailed(err)
		return fmt.Errorf("load history: %w", err)
	}

	r.mu.Lock()
	if r.gen != gen || r.openChatID != chatID {
		r.mu.Unlock()
		r.logger.Debug("dropping stale history page", zap.String("chat_id", chatID))
		return nil
	}
	merged := mergeTimeline(page.Records, r.messages)
	r.messages = merged
	r.index = make(map[string]chat.Status, len(merged))
	for _, m := range merged {
		r.index[m.ID] = m.Status
	}
	r.hasMore = page.HasNext

	var unread []chat.Message
	for _, m := range page.Records {
		if m.SenderID != user && m.Status != chat.StatusRead {
			unread = append(unread, m)
		}
	}
	receipts := r.receipts
	r.mu.Unlock()

	if receipts != nil {
		for _, m := range unread {
			receipts.Schedule(m)
		}
	}
	r.emitMessages(chatID)
	return nil
}

// mergeTimeline returns the page plus every local message the page lacks,
// sorted. A local status that is ahead of the page copy wins.
func mergeTimeline(page, local []chat.Message) []chat.Message {
	merged := slices.Clone(page)
	for i, p := range merged {
		j := slices.IndexFunc(local, func(m chat.Message) bool { return m.ID == p.ID })
		if j >= 0 && p.Status.CanTransition(local[j].Status) {
			merged[i].Status = local[j].Status
		}
	}
	for _, m := range local {
		if !slices.ContainsFunc(page, func(p chat.Message) bool { return p.ID == m.ID }) {
			merged = append(merged, m)
		}
	}
	chat.SortMessages(merged)
	return merged
}

// LoadMore prepends the next page of older messages.
func (r *Reconciler) LoadMore(ctx context.Context) error {
	r.mu.Lock()
	chatID, gen, user := r.openChatID, r.gen, r.userID
	if chatID == "" {
		r.mu.Unlock()
		return ErrNoOpenConversation
	}
	if !r.hasMore {
		r.mu.Unlock()
		return nil
	}
	loaded := 0
	for _, m := range r.messages {
		if !strings.HasPrefix(m.ID, "temp_") {
			loaded++
		}
	}
	pageNo := loaded/r.cfg.HistoryPageSize + 1
	r.mu.Unlock()

	page, err := r.api.History(ctx, chatID, user, pageNo, r.cfg.HistoryPageSize, false)
	if err != nil {
		r.authFailed(err)
		return fmt.Errorf("load page %d: %w", pageNo, err)
	}

	r.mu.Lock()
	if r.gen != gen || r.openChatID != chatID {
		r.mu.Unlock()
		return nil
	}
	older := slices.Clone(page.Records)
	chat.SortMessages(older)
	combined := make([]chat.Message, 0, len(older)+len(r.messages))
	for _, m := range older {
		if r.msgIndexLocked(m.ID) >= 0 {
			continue
		}
		combined = append(combined, m)
		r.index[m.ID] = m.Status
	}
	combined = append(combined, r.messages...)
	chat.SortMessages(combined)
	r.messages = combined
	r.hasMore = page.HasNext
	r.mu.Unlock()

	r.emitMessages(chatID)
	return nil
}
