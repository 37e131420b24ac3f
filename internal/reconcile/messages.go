package reconcile

import (
	"slices"
	"strings"

	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/dispatch"
	"github.com/matheus3301/pairchat/internal/outbound"
	"github.com/matheus3301/pairchat/internal/status"
	"github.com/matheus3301/pairchat/internal/wire"
	"go.uber.org/zap"
)

// Send appends an optimistic PENDING message to the open conversation and
// hands it to the connection. A synchronous send failure marks it FAILED.
func (r *Reconciler) Send(content string, t chat.MessageType, media *chat.Media) (chat.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" && media == nil {
		return chat.Message{}, ErrEmptyMessage
	}
	if t == "" {
		t = chat.TypeText
	}

	r.mu.Lock()
	self, chatID := r.userID, r.openChatID
	if self == "" {
		r.mu.Unlock()
		return chat.Message{}, ErrNoUser
	}
	if chatID == "" {
		r.mu.Unlock()
		return chat.Message{}, ErrNoOpenConversation
	}
	receiver := r.counterpartLocked(chatID, self)
	now := r.sched.Now()
	msg := chat.Message{
		ID:         outbound.NewTempID(now),
		ChatID:     chatID,
		SenderID:   self,
		ReceiverID: receiver,
		Content:    content,
		Type:       t,
		Media:      media,
		Timestamp:  now.UnixMilli(),
		Status:     chat.StatusPending,
	}
	r.messages = append(r.messages, msg)
	chat.SortMessages(r.messages)
	r.index[msg.ID] = chat.StatusPending
	r.touchConversationLocked(msg, receiver, false)
	r.mu.Unlock()

	r.emitMessages(chatID)
	r.emitConversations()

	frame := &wire.ChatMessage{
		ChatID:        chatID,
		SenderID:      self,
		ReceiverID:    receiver,
		TempMessageID: msg.ID,
		Content:       content,
		MessageType:   t,
		Media:         media,
		Timestamp:     msg.Timestamp,
	}
	if !r.sender.SendChat(frame) {
		r.logger.Warn("send failed, message marked failed", zap.String("temp_id", msg.ID))
		r.mu.Lock()
		changed := r.setStatusLocked(msg.ID, chat.StatusFailed)
		r.mu.Unlock()
		if changed {
			r.emitStatus(chatID, msg.ID, chat.StatusFailed)
		}
		msg.Status = chat.StatusFailed
	}
	return msg, nil
}

// HandleChatMessage applies an inbound chat message.
func (r *Reconciler) HandleChatMessage(f *wire.ChatMessage) {
	msg := chat.Message{
		ID:         f.MessageID,
		ChatID:     f.ChatID,
		SenderID:   f.SenderID,
		ReceiverID: f.ReceiverID,
		Content:    f.Content,
		Type:       f.MessageType,
		Media:      f.Media,
		Timestamp:  f.Timestamp,
		Status:     chat.ParseStatus(f.Status),
	}
	if msg.Type == "" {
		msg.Type = chat.TypeText
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = r.sched.Now().UnixMilli()
	}
	if msg.ChatID == "" && msg.SenderID != "" && msg.ReceiverID != "" {
		msg.ChatID = chat.ID(msg.SenderID, msg.ReceiverID)
	}
	if msg.ID == "" || msg.ChatID == "" {
		r.logger.Warn("dropping chat message without ids", zap.String("chat_id", msg.ChatID))
		return
	}

	r.mu.Lock()
	self := r.userID
	open := msg.ChatID == r.openChatID
	appended := false
	if open {
		switch {
		case r.msgIndexLocked(msg.ID) >= 0:
		case f.TempMessageID != "" && r.msgIndexLocked(f.TempMessageID) >= 0:
			r.replaceIDLocked(f.TempMessageID, msg.ID, true)
		default:
			r.messages = append(r.messages, msg)
			chat.SortMessages(r.messages)
			r.index[msg.ID] = msg.Status
			appended = true
		}
	}
	counterpart := msg.SenderID
	if counterpart == self {
		counterpart = msg.ReceiverID
	}
	r.touchConversationLocked(msg, counterpart, !open && msg.SenderID != self)
	receipts := r.receipts
	r.mu.Unlock()

	if appended && msg.SenderID != self && receipts != nil {
		receipts.Schedule(msg)
	}
	r.bus.Emit(bus.KindMessageReceived, msg)
	if open {
		r.emitMessages(msg.ChatID)
	}
	r.emitConversations()
}

// HandleAck swaps a temporary id for the permanent one and marks the message
// DELIVERED. An ack arriving after the send was failed locally still wins;
// a READ message is never moved back.
func (r *Reconciler) HandleAck(ack outbound.Ack) {
	if ack.TempID == "" || ack.MessageID == "" {
		return
	}
	r.mu.Lock()
	chatID := r.openChatID
	found := r.replaceIDLocked(ack.TempID, ack.MessageID, true)
	st := r.index[ack.MessageID]
	for i := range r.conversations {
		if r.conversations[i].LastMessageID == ack.TempID {
			r.conversations[i].LastMessageID = ack.MessageID
		}
	}
	r.mu.Unlock()

	if !found {
		r.logger.Debug("ack for message not in the open timeline", zap.String("temp_id", ack.TempID))
		return
	}
	if ack.Late {
		r.logger.Info("late ack applied", zap.String("message_id", ack.MessageID), zap.String("status", string(st)))
	}
	r.emitStatus(chatID, ack.MessageID, st)
	r.emitMessages(chatID)
}

// HandleTimeout fails a send that was never acknowledged.
func (r *Reconciler) HandleTimeout(tempID string) {
	r.failPending(tempID, "ack timeout")
}

// HandleError fails a send the server rejected.
func (r *Reconciler) HandleError(e outbound.SendError) {
	r.failPending(e.TempID, e.Reason)
}

func (r *Reconciler) failPending(id, reason string) {
	r.mu.Lock()
	chatID := r.openChatID
	changed := r.setStatusLocked(id, chat.StatusFailed)
	r.mu.Unlock()
	if changed {
		r.logger.Warn("message failed", zap.String("temp_id", id), zap.String("reason", reason))
		r.emitStatus(chatID, id, chat.StatusFailed)
	}
}

// HandleReadReceipt marks the referenced message READ.
func (r *Reconciler) HandleReadReceipt(f *wire.ReadReceipt) {
	if f.MessageID == "" {
		return
	}
	r.mu.Lock()
	chatID := r.openChatID
	changed := r.setStatusLocked(f.MessageID, chat.StatusRead)
	r.mu.Unlock()
	if changed {
		r.emitStatus(chatID, f.MessageID, chat.StatusRead)
	}
}

// HandleConnection reacts to connection transitions: a disconnect fails
// every pending send, a reconnect triggers a resync, and a credential
// rejection is reported to the auth failure callback.
func (r *Reconciler) HandleConnection(s status.State, info dispatch.Info) {
	switch s {
	case status.Disconnected:
		r.sweepPending()
	case status.Connected:
		if info.WasReconnecting {
			r.requestResync()
		}
	case status.Error:
		if info.Reason == wire.ReasonAuthFailed {
			r.mu.Lock()
			fn := r.onAuthFailure
			r.mu.Unlock()
			if fn != nil {
				fn(info.Err)
			}
		}
	}
}

func (r *Reconciler) sweepPending() {
	r.mu.Lock()
	chatID := r.openChatID
	var failed []string
	for i := range r.messages {
		if r.messages[i].Status == chat.StatusPending {
			r.messages[i].Status = chat.StatusFailed
			r.index[r.messages[i].ID] = chat.StatusFailed
			failed = append(failed, r.messages[i].ID)
		}
	}
	for id, st := range r.index {
		if st == chat.StatusPending {
			r.index[id] = chat.StatusFailed
		}
	}
	r.mu.Unlock()

	if len(failed) > 0 {
		r.logger.Info("disconnected, pending messages failed", zap.Int("count", len(failed)))
		for _, id := range failed {
			r.emitStatus(chatID, id, chat.StatusFailed)
		}
		r.emitMessages(chatID)
	}
}

func (r *Reconciler) handleTyping(f *wire.Typing) {
	chatID := f.ChatID
	if chatID == "" && f.SenderID != "" && f.ReceiverID != "" {
		chatID = chat.ID(f.SenderID, f.ReceiverID)
	}
	if chatID == "" {
		return
	}
	r.mu.Lock()
	if t, ok := r.typing[chatID]; ok {
		t.Stop()
		delete(r.typing, chatID)
	}
	if f.Active {
		var timer clock.Timer
		timer = r.sched.AfterFunc(r.cfg.TypingTTL, func() {
			r.mu.Lock()
			if r.typing[chatID] != timer {
				r.mu.Unlock()
				return
			}
			delete(r.typing, chatID)
			r.mu.Unlock()
			r.bus.Emit(bus.KindPresenceChanged, Presence{UserID: f.SenderID, ChatID: chatID})
		})
		r.typing[chatID] = timer
	}
	r.mu.Unlock()
	r.bus.Emit(bus.KindPresenceChanged, Presence{UserID: f.SenderID, ChatID: chatID, Typing: f.Active})
}

func (r *Reconciler) handleOnline(f *wire.OnlineStatus) {
	if f.UserID == "" {
		return
	}
	r.mu.Lock()
	r.online[f.UserID] = f.Online
	r.mu.Unlock()
	r.bus.Emit(bus.KindPresenceChanged, Presence{UserID: f.UserID, Online: f.Online})
}

// setStatusLocked moves a message forward along the status rules in both the
// timeline and the index.
func (r *Reconciler) setStatusLocked(id string, to chat.Status) bool {
	changed := false
	if i := r.msgIndexLocked(id); i >= 0 {
		if !r.messages[i].Status.CanTransition(to) {
			return false
		}
		r.messages[i].Status = to
		changed = true
	}
	if cur, ok := r.index[id]; ok && cur.CanTransition(to) {
		r.index[id] = to
		changed = true
	}
	return changed
}

// replaceIDLocked renames a temporary id. When deliver is set and the
// message accepts an ack, its status becomes DELIVERED. If the permanent id
// is already in the timeline the temporary copy is dropped.
func (r *Reconciler) replaceIDLocked(tempID, permID string, deliver bool) bool {
	i := r.msgIndexLocked(tempID)
	if i < 0 {
		if st, ok := r.index[tempID]; ok {
			delete(r.index, tempID)
			if deliver && st.AcceptsAck() {
				st = chat.StatusDelivered
			}
			r.index[permID] = st
			return true
		}
		return false
	}
	st := r.messages[i].Status
	if deliver && st.AcceptsAck() {
		st = chat.StatusDelivered
	}
	delete(r.index, tempID)
	if r.msgIndexLocked(permID) >= 0 {
		r.messages = slices.Delete(r.messages, i, i+1)
		j := r.msgIndexLocked(permID)
		if r.messages[j].Status.CanTransition(st) {
			r.messages[j].Status = st
		}
		r.index[permID] = r.messages[j].Status
		return true
	}
	r.messages[i].ID = permID
	r.messages[i].Status = st
	r.index[permID] = st
	chat.SortMessages(r.messages)
	return true
}

// touchConversationLocked records msg as the newest activity of its
// conversation, creating the entry if needed.
func (r *Reconciler) touchConversationLocked(msg chat.Message, counterpart string, bumpUnread bool) {
	preview := chat.Preview(msg.Type, msg.Content, msg.Media)
	i := r.convIndexLocked(msg.ChatID)
	if i < 0 {
		c := chat.Conversation{
			ChatID:          msg.ChatID,
			CounterpartID:   counterpart,
			CounterpartName: counterpart,
		}
		r.conversations = append([]chat.Conversation{c}, r.conversations...)
		i = 0
	}
	c := &r.conversations[i]
	if msg.Timestamp >= c.LastMessageAt || c.LastMessageID == "" {
		c.LastMessagePreview = preview
		c.LastMessageAt = msg.Timestamp
		c.LastMessageID = msg.ID
	}
	c.LocalOnly = false
	switch {
	case msg.ChatID == r.openChatID:
		c.UnreadCount = 0
	case bumpUnread:
		c.UnreadCount++
	}
	chat.SortConversations(r.conversations)
}

// counterpartLocked finds the other participant of chatID.
func (r *Reconciler) counterpartLocked(chatID, self string) string {
	if i := r.convIndexLocked(chatID); i >= 0 && r.conversations[i].CounterpartID != "" {
		return r.conversations[i].CounterpartID
	}
	rest := strings.TrimPrefix(chatID, "chat_")
	switch {
	case strings.HasPrefix(rest, self+"_"):
		return rest[len(self)+1:]
	case strings.HasSuffix(rest, "_"+self):
		return rest[:len(rest)-len(self)-1]
	}
	return ""
}
