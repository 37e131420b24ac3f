package daemon

import (
	"context"
	"sync"

	"github.com/matheus3301/pairchat/internal/auth"
	"github.com/matheus3301/pairchat/internal/chat"
	"github.com/matheus3301/pairchat/internal/mirror"
	"github.com/matheus3301/pairchat/internal/status"
	"github.com/matheus3301/pairchat/internal/store"
	"go.uber.org/zap"
)

// Connection is the realtime link as seen by the account.
type Connection interface {
	Connect(ctx context.Context, userID string) error
	Disconnect()
	StopReconnecting()
	Status() status.State
	Attempts() int
}

// Timeline is the reconciled state the account switches between users.
type Timeline interface {
	SetUser(userID string)
	Seed(convs []chat.Conversation, openChatID string, msgs []chat.Message)
	Resync(ctx context.Context) error
	OnAuthFailure(fn func(error))
}

// Snapshots loads persisted state for a user.
type Snapshots interface {
	Load(userID string) (mirror.Snapshot, error)
}

// Account ties the session credentials to the realtime connection and the
// reconciled conversation state.
type Account struct {
	auth      *auth.Manager
	conn      Connection
	timeline  Timeline
	snapshots Snapshots
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAccount creates an account and routes authentication failures reported
// by the timeline to the credentials manager.
func NewAccount(m *auth.Manager, c Connection, t Timeline, s Snapshots, logger *zap.Logger) *Account {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Account{
		auth:      m,
		conn:      c,
		timeline:  t,
		snapshots: s,
		logger:    logger.Named("account"),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.OnFailure(a.handleAuthFailure)
	t.OnAuthFailure(func(err error) { m.HandleFailure(err) })
	return a
}

// Restore activates persisted credentials.
func (a *Account) Restore() error {
	c, err := a.auth.Restore()
	if err != nil {
		return err
	}
	if c == nil {
		a.logger.Info("no credentials found, login required")
		return nil
	}
	a.activate(c.UserID)
	return nil
}

// Login stores the credentials and activates the user.
func (a *Account) Login(_ context.Context, token, userID string) (store.Credentials, error) {
	c, err := a.auth.Login(token, userID)
	if err != nil {
		return store.Credentials{}, err
	}
	a.activate(c.UserID)
	return c, nil
}

// Logout drops the connection, the credentials and the user's state.
func (a *Account) Logout(_ context.Context) error {
	a.conn.StopReconnecting()
	a.conn.Disconnect()
	a.timeline.SetUser("")
	return a.auth.Logout()
}

// Connect opens the realtime connection for the logged in user.
func (a *Account) Connect(ctx context.Context) error {
	c, ok := a.auth.Current()
	if !ok {
		return auth.ErrNoCredentials
	}
	if err := a.conn.Connect(ctx, c.UserID); err != nil {
		a.auth.HandleFailure(err)
		return err
	}
	return nil
}

// Disconnect closes the realtime connection. It does not reconnect.
func (a *Account) Disconnect() {
	a.conn.Disconnect()
}

func (a *Account) Current() (store.Credentials, bool) { return a.auth.Current() }
func (a *Account) State() status.State                { return a.conn.Status() }
func (a *Account) Attempts() int                      { return a.conn.Attempts() }

// Stop cancels background activation and waits for it.
func (a *Account) Stop() {
	a.cancel()
	a.wg.Wait()
}

// activate seeds the timeline from the snapshot, then connects and
// refetches server state in the background.
func (a *Account) activate(userID string) {
	snap, err := a.snapshots.Load(userID)
	if err != nil {
		a.logger.Warn("snapshot unavailable", zap.Error(err))
	}
	a.timeline.SetUser(userID)
	a.timeline.Seed(snap.Conversations, snap.OpenChatID, snap.Messages)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sync(a.ctx, userID)
	}()
}

func (a *Account) sync(ctx context.Context, userID string) {
	if err := a.conn.Connect(ctx, userID); err != nil {
		if a.auth.HandleFailure(err) {
			return
		}
		a.logger.Warn("connect failed", zap.String("user_id", userID), zap.Error(err))
	}
	if err := a.timeline.Resync(ctx); err != nil {
		a.logger.Warn("initial sync failed", zap.Error(err))
	}
}

func (a *Account) handleAuthFailure(err error) {
	a.logger.Warn("credentials rejected, stopping connection", zap.Error(err))
	a.conn.StopReconnecting()
	a.conn.Disconnect()
}
