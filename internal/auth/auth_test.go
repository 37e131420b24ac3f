package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/conn"
	"github.com/matheus3301/pairchat/internal/restapi"
	"github.com/matheus3301/pairchat/internal/store"
	"github.com/matheus3301/pairchat/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memStore struct {
	mu    sync.Mutex
	creds *store.Credentials
	saves int
}

func (s *memStore) SaveCredentials(c *store.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.creds = &cp
	s.saves++
	return nil
}

func (s *memStore) LoadCredentials() (*store.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creds == nil {
		return nil, nil
	}
	cp := *s.creds
	return &cp, nil
}

func (s *memStore) ClearCredentials() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds = nil
	return nil
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signed(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func newManager(t *testing.T) (*Manager, *memStore, *clock.Fake, *bus.Bus) {
	t.Helper()
	st := &memStore{}
	fc := clock.NewFake(epoch)
	b := bus.New()
	return NewManager(st, fc, b, zaptest.NewLogger(t)), st, fc, b
}

func TestParseClaims(t *testing.T) {
	exp := epoch.Add(time.Hour)
	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"sub", jwt.MapClaims{"sub": "alice", "exp": exp.Unix()}, "alice"},
		{"userId", jwt.MapClaims{"userId": "bob"}, "bob"},
		{"numeric user_id", jwt.MapClaims{"user_id": float64(1042)}, "1042"},
		{"sub wins", jwt.MapClaims{"sub": "carol", "userId": "other"}, "carol"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseClaims(signed(t, tt.claims))
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.UserID)
		})
	}

	c, err := ParseClaims(signed(t, jwt.MapClaims{"sub": "a", "exp": exp.Unix()}))
	require.NoError(t, err)
	assert.True(t, c.ExpiresAt.Equal(exp))

	_, err = ParseClaims("opaque-token")
	assert.Error(t, err)
}

func TestLoginTakesUserFromClaims(t *testing.T) {
	m, st, _, b := newManager(t)
	events, unsub := b.Subscribe("session.", 4)
	defer unsub()

	exp := epoch.Add(2 * time.Hour)
	c, err := m.Login(signed(t, jwt.MapClaims{"sub": "alice", "exp": exp.Unix()}), "")
	require.NoError(t, err)
	assert.Equal(t, "alice", c.UserID)
	assert.Equal(t, exp.UnixMilli(), c.ExpiresAt)
	assert.Equal(t, "alice", m.UserID())
	assert.Equal(t, 1, st.saves)

	evt := <-events
	assert.Equal(t, bus.KindLoggedIn, evt.Kind)
	assert.Equal(t, "alice", evt.Payload)
}

func TestLoginOpaqueToken(t *testing.T) {
	m, _, _, _ := newManager(t)

	_, err := m.Login("opaque", "")
	assert.ErrorIs(t, err, ErrNoUserID)

	c, err := m.Login("opaque", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", c.UserID)
	assert.Zero(t, c.ExpiresAt)
	assert.Equal(t, "opaque", m.Token())
}

func TestLoginRejectsExpiredToken(t *testing.T) {
	m, st, _, _ := newManager(t)
	_, err := m.Login(signed(t, jwt.MapClaims{"sub": "a", "exp": epoch.Add(-time.Minute).Unix()}), "")
	assert.ErrorIs(t, err, ErrTokenExpired)
	assert.Nil(t, st.creds)
	_, err = m.Login("  ", "a")
	assert.Error(t, err)
}

func TestRestore(t *testing.T) {
	m, st, fc, b := newManager(t)
	st.creds = &store.Credentials{Token: "t", UserID: "alice", ExpiresAt: epoch.Add(time.Hour).UnixMilli()}

	c, err := m.Restore()
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "t", m.Token())

	events, unsub := b.Subscribe("session.", 4)
	defer unsub()
	fc.Advance(2 * time.Hour)
	m2 := NewManager(st, fc, b, zaptest.NewLogger(t))
	c, err = m2.Restore()
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.Nil(t, st.creds, "expired credentials are discarded")
	assert.Equal(t, bus.KindAuthRequired, (<-events).Kind)
}

func TestHandleFailure(t *testing.T) {
	m, st, _, b := newManager(t)
	_, err := m.Login("tok", "alice")
	require.NoError(t, err)
	events, unsub := b.Subscribe("session.", 4)
	defer unsub()

	var hooked error
	m.OnFailure(func(err error) { hooked = err })

	assert.False(t, m.HandleFailure(errors.New("connection reset")))
	assert.Equal(t, "tok", m.Token())

	cause := fmt.Errorf("load history: %w", restapi.ErrUnauthorized)
	assert.True(t, m.HandleFailure(cause))
	assert.Empty(t, m.Token())
	assert.Nil(t, st.creds)
	assert.Equal(t, cause, hooked)
	evt := <-events
	assert.Equal(t, bus.KindAuthRequired, evt.Kind)
	assert.Equal(t, AuthRequired{Reason: cause.Error()}, evt.Payload)

	hooked = nil
	assert.True(t, m.HandleFailure(cause), "still classified after logout")
	assert.Nil(t, hooked, "hooks run once per login")
}

func TestIsAuthFailure(t *testing.T) {
	assert.True(t, IsAuthFailure(fmt.Errorf("dial: %w", transport.ErrUnauthorized)))
	assert.True(t, IsAuthFailure(fmt.Errorf("%w: expired", conn.ErrCredentialsRejected)))
	assert.True(t, IsAuthFailure(ErrTokenExpired))
	assert.False(t, IsAuthFailure(conn.ErrOpenTimeout))
	assert.False(t, IsAuthFailure(nil))
}

func TestCheckExpiry(t *testing.T) {
	m, _, fc, _ := newManager(t)
	_, err := m.Login(signed(t, jwt.MapClaims{"sub": "alice", "exp": epoch.Add(time.Hour).Unix()}), "")
	require.NoError(t, err)

	m.CheckExpiry()
	assert.Equal(t, "alice", m.UserID())

	fc.Advance(45 * time.Minute)
	m.CheckExpiry()
	assert.Equal(t, "alice", m.UserID(), "expiring soon only warns")

	fc.Advance(15 * time.Minute)
	m.CheckExpiry()
	assert.Empty(t, m.UserID())
}

func TestMonitorSchedule(t *testing.T) {
	m, _, _, _ := newManager(t)
	_, err := NewMonitor(m, "every now and then", zaptest.NewLogger(t))
	assert.Error(t, err)

	mon, err := NewMonitor(m, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	mon.Start()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, mon.Stop(ctx))
}
