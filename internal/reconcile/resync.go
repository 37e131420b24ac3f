package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/restapi"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ResyncResult is the payload of a finished resync.
type ResyncResult struct {
	Conversations int
	ChatID        string
	Messages      int
}

// Resync discards cached responses and refetches the conversation list and,
// if a conversation is open, its newest page. Runs never overlap: a call made
// while one is in flight is folded into a single follow-up run and returns
// nil immediately. A failed run is retried with backoff until it succeeds,
// the credentials are rejected, or the reconciler stops.
func (r *Reconciler) Resync(ctx context.Context) error {
	r.rmu.Lock()
	if r.resyncRunning {
		r.resyncPending = true
		r.rmu.Unlock()
		return nil
	}
	r.resyncRunning = true
	if r.resyncTimer != nil {
		r.resyncTimer.Stop()
		r.resyncTimer = nil
	}
	r.rmu.Unlock()

	for {
		res, err := r.resyncOnce(ctx)

		r.rmu.Lock()
		if err != nil {
			r.resyncRunning = false
			r.resyncPending = false
			auth := isAuthError(err)
			retry := !auth && ctx.Err() == nil && r.baseCtx.Err() == nil
			var delay time.Duration
			if retry {
				delay = r.resyncBackoff.Duration()
				r.resyncTimer = r.sched.AfterFunc(delay, func() {
					r.rmu.Lock()
					r.resyncTimer = nil
					if r.baseCtx.Err() != nil {
						r.rmu.Unlock()
						return
					}
					r.wg.Add(1)
					r.rmu.Unlock()
					defer r.wg.Done()
					_ = r.Resync(r.baseCtx)
				})
			} else {
				r.resyncBackoff.Reset()
			}
			r.rmu.Unlock()

			if auth {
				r.authFailed(err)
			}
			r.logger.Warn("resync failed", zap.Error(err), zap.Bool("retry", retry), zap.Duration("delay", delay))
			r.bus.Emit(bus.KindResyncFailed, err.Error())
			return err
		}
		r.resyncBackoff.Reset()
		if !r.resyncPending {
			r.resyncRunning = false
			r.rmu.Unlock()
			r.logger.Info("resync complete", zap.Int("conversations", res.Conversations), zap.String("chat_id", res.ChatID))
			r.bus.Emit(bus.KindResyncDone, res)
			return nil
		}
		r.resyncPending = false
		r.rmu.Unlock()
	}
}

// ResyncAttempts returns how many consecutive resync runs have failed.
func (r *Reconciler) ResyncAttempts() int {
	r.rmu.Lock()
	defer r.rmu.Unlock()
	return int(r.resyncBackoff.Attempt())
}

// requestResync starts a background resync unless the reconciler stopped.
// The Add happens under rmu so it cannot race the Wait in Stop.
func (r *Reconciler) requestResync() {
	r.rmu.Lock()
	defer r.rmu.Unlock()
	if r.baseCtx.Err() != nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = r.Resync(r.baseCtx)
	}()
}

func (r *Reconciler) resyncOnce(ctx context.Context) (ResyncResult, error) {
	r.mu.Lock()
	user, chatID := r.userID, r.openChatID
	var gen uint64
	if chatID != "" {
		r.gen++
		gen = r.gen
	}
	r.mu.Unlock()
	if user == "" {
		return ResyncResult{}, ErrNoUser
	}

	r.api.ClearCache()

	var (
		convs *restapi.Page[chat.Conversation]
		hist  *restapi.Page[chat.Message]
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := r.api.Conversations(gctx, user, 1, r.cfg.ConversationPageSize)
		if err != nil {
			return fmt.Errorf("load conversations: %w", err)
		}
		convs = p
		return nil
	})
	if chatID != "" {
		g.Go(func() error {
			p, err := r.api.History(gctx, chatID, user, 1, r.cfg.HistoryPageSize, true)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
			hist = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ResyncResult{}, err
	}

	r.applyConversations(user, convs.Records)
	res := ResyncResult{Conversations: len(convs.Records)}
	if hist == nil {
		return res, nil
	}

	r.mu.Lock()
	if r.userID != user || r.openChatID != chatID || r.gen != gen {
		r.mu.Unlock()
		r.logger.Debug("open conversation changed during resync", zap.String("chat_id", chatID))
		return res, nil
	}
	msgs := mergeTimeline(hist.Records, r.messages)
	r.messages = msgs
	r.index = make(map[string]chat.Status, len(msgs))
	for _, m := range msgs {
		r.index[m.ID] = m.Status
	}
	r.hasMore = hist.HasNext
	var unread []chat.Message
	for _, m := range hist.Records {
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
	res.ChatID = chatID
	res.Messages = len(msgs)
	return res, nil
}

// isAuthError reports whether err carries a REST credential rejection.
func isAuthError(err error) bool {
	return errors.Is(err, restapi.ErrUnauthorized)
}
