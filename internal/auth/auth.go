package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/conn"
	"github.com/matheus3301/pairchat/internal/restapi"
	"github.com/matheus3301/pairchat/internal/store"
	"github.com/matheus3301/pairchat/internal/transport"
	"go.uber.org/zap"
)

var (
	// ErrNoCredentials is returned when the session is not logged in.
	ErrNoCredentials = errors.New("not logged in")
	// ErrTokenExpired is returned for a bearer token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrNoUserID is returned when neither the caller nor the token names a user.
	ErrNoUserID = errors.New("user id is required: token carries no user claim")
)

// ExpiryWarning is how long before expiry a token is reported as expiring soon.
const ExpiryWarning = 30 * time.Minute

// IsAuthFailure reports whether err means the backend rejected the session's
// credentials. Such failures are never retried.
func IsAuthFailure(err error) bool {
	return errors.Is(err, transport.ErrUnauthorized) ||
		errors.Is(err, restapi.ErrUnauthorized) ||
		errors.Is(err, conn.ErrCredentialsRejected) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrNoCredentials)
}

// Claims is the subset of bearer token claims the client reads.
type Claims struct {
	UserID    string
	ExpiresAt time.Time
}

// ParseClaims decodes a JWT without verifying its signature; the servers do
// that. Tokens that are not JWTs return an error.
func ParseClaims(token string) (Claims, error) {
	mc := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mc); err != nil {
		return Claims{}, fmt.Errorf("parse token: %w", err)
	}
	var c Claims
	for _, key := range []string{"sub", "userId", "user_id"} {
		if v, ok := mc[key]; ok {
			switch v := v.(type) {
			case string:
				c.UserID = v
			case float64:
				c.UserID = fmt.Sprintf("%.0f", v)
			}
			if c.UserID != "" {
				break
			}
		}
	}
	exp, err := mc.GetExpirationTime()
	if err != nil {
		return Claims{}, fmt.Errorf("token expiry: %w", err)
	}
	if exp != nil {
		c.ExpiresAt = exp.Time
	}
	return c, nil
}

// CredentialStore persists the session login.
type CredentialStore interface {
	SaveCredentials(c *store.Credentials) error
	LoadCredentials() (*store.Credentials, error)
	ClearCredentials() error
}

// AuthRequired is the payload of a session.auth_required event.
type AuthRequired struct {
	Reason string
}

// Manager owns the session credentials.
type Manager struct {
	store  CredentialStore
	sched  clock.Scheduler
	bus    *bus.Bus
	logger *zap.Logger

	mu        sync.RWMutex
	creds     *store.Credentials
	onFailure []func(error)
}

// NewManager creates a credentials manager.
func NewManager(st CredentialStore, sched clock.Scheduler, b *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{store: st, sched: sched, bus: b, logger: logger}
}

// Restore loads persisted credentials. Expired credentials are discarded.
func (m *Manager) Restore() (*store.Credentials, error) {
	c, err := m.store.LoadCredentials()
	if err != nil {
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	if c == nil {
		return nil, nil
	}
	if m.expired(c) {
		m.logger.Warn("stored token expired, login required", zap.String("user_id", c.UserID))
		if err := m.store.ClearCredentials(); err != nil {
			return nil, fmt.Errorf("clear credentials: %w", err)
		}
		m.bus.Emit(bus.KindAuthRequired, AuthRequired{Reason: ErrTokenExpired.Error()})
		return nil, nil
	}
	m.mu.Lock()
	m.creds = c
	m.mu.Unlock()
	m.logger.Info("credentials restored", zap.String("user_id", c.UserID))
	return c, nil
}

// Login stores token for userID. An empty userID is taken from the token's
// claims.
func (m *Manager) Login(token, userID string) (store.Credentials, error) {
	token = strings.TrimSpace(token)
	userID = strings.TrimSpace(userID)
	if token == "" {
		return store.Credentials{}, errors.New("token is required")
	}

	c := store.Credentials{Token: token, UserID: userID}
	claims, err := ParseClaims(token)
	switch {
	case err == nil:
		if c.UserID == "" {
			c.UserID = claims.UserID
		}
		if !claims.ExpiresAt.IsZero() {
			c.ExpiresAt = claims.ExpiresAt.UnixMilli()
		}
	default:
		m.logger.Debug("token is not a JWT", zap.Error(err))
	}
	if c.UserID == "" {
		return store.Credentials{}, ErrNoUserID
	}
	if m.expired(&c) {
		return store.Credentials{}, ErrTokenExpired
	}
	if err := m.store.SaveCredentials(&c); err != nil {
		return store.Credentials{}, fmt.Errorf("save credentials: %w", err)
	}
	m.mu.Lock()
	m.creds = &c
	m.mu.Unlock()

	m.logger.Info("logged in", zap.String("user_id", c.UserID))
	m.bus.Emit(bus.KindLoggedIn, c.UserID)
	return c, nil
}

// Logout forgets the credentials.
func (m *Manager) Logout() error {
	m.mu.Lock()
	m.creds = nil
	m.mu.Unlock()
	if err := m.store.ClearCredentials(); err != nil {
		return fmt.Errorf("clear credentials: %w", err)
	}
	m.logger.Info("logged out")
	m.bus.Emit(bus.KindAuthRequired, AuthRequired{Reason: "logged out"})
	return nil
}

// Current returns the active credentials.
func (m *Manager) Current() (store.Credentials, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.creds == nil {
		return store.Credentials{}, false
	}
	return *m.creds, true
}

// Token returns the bearer token, or "" when logged out.
func (m *Manager) Token() string {
	c, _ := m.Current()
	return c.Token
}

// UserID returns the logged in user, or "".
func (m *Manager) UserID() string {
	c, _ := m.Current()
	return c.UserID
}

// OnFailure registers fn to run after an authentication failure cleared the
// credentials.
func (m *Manager) OnFailure(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFailure = append(m.onFailure, fn)
}

// HandleFailure clears the credentials if err is an authentication failure
// and reports whether it was one.
func (m *Manager) HandleFailure(err error) bool {
	if !IsAuthFailure(err) {
		return false
	}
	m.mu.Lock()
	had := m.creds != nil
	m.creds = nil
	hooks := append([]func(error){}, m.onFailure...)
	m.mu.Unlock()

	if !had {
		return true
	}
	m.logger.Error("authentication failed, credentials cleared", zap.Error(err))
	if cerr := m.store.ClearCredentials(); cerr != nil {
		m.logger.Warn("clear credentials", zap.Error(cerr))
	}
	for _, fn := range hooks {
		fn(err)
	}
	m.bus.Emit(bus.KindAuthRequired, AuthRequired{Reason: err.Error()})
	return true
}

// CheckExpiry warns about a token expiring soon and fails an expired one.
func (m *Manager) CheckExpiry() {
	c, ok := m.Current()
	if !ok || c.ExpiresAt == 0 {
		return
	}
	left := time.UnixMilli(c.ExpiresAt).Sub(m.sched.Now())
	switch {
	case left <= 0:
		m.HandleFailure(ErrTokenExpired)
	case left <= ExpiryWarning:
		m.logger.Warn("token expires soon", zap.String("user_id", c.UserID), zap.Duration("left", left.Round(time.Second)))
	}
}

func (m *Manager) expired(c *store.Credentials) bool {
	return c.ExpiresAt != 0 && !m.sched.Now().Before(time.UnixMilli(c.ExpiresAt))
}
