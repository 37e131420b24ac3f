package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/pairchat/internal/api"
	"github.com/matheus3301/pairchat/internal/config"
	"github.com/matheus3301/pairchat/internal/lock"
	"github.com/matheus3301/pairchat/internal/status"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

// testParams points every backend URL at a server that answers 503, so the
// daemon runs without a real backend.
func testParams(t *testing.T) Params {
	t.Helper()
	// Use /tmp for short socket paths (macOS 104-char limit).
	dir, err := os.MkdirTemp("/tmp", "pairchat-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(backend.Close)

	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Server.RealtimeURL = "ws" + strings.TrimPrefix(backend.URL, "http") + "/ws/chat"
	cfg.Server.MessageServiceURL = backend.URL + "/api/v1/messages"
	cfg.Server.RealtimeServiceURL = backend.URL + "/api/chat"
	cfg.Server.RequestTimeout = config.Duration(2 * time.Second)
	return Params{SessionName: "test", Config: cfg, Dir: dir}
}

func dial(t *testing.T, p Params) *api.Client {
	t.Helper()
	c, err := api.Dial(p.socketPath())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
func TestFxModuleWiring(t *testing.T) {
	if err := fx.ValidateApp(Module(testParams(t))); err != nil {
		t.Fatalf("ValidateApp() error = %v", err)
	}
}

func TestDaemonLifecycle(t *testing.T) {
	p := testParams(t)
	app := fxtest.New(t, Module(p))
	app.RequireStart()

	if _, err := os.Stat(p.socketPath()); err != nil {
		t.Fatalf("socket not created at %s: %v", p.socketPath(), err)
	}

	c := dial(t, p)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := c.GetStatus(ctx)
	if err != nil {
		t.Fatalf("GetStatus error = %v", err)
	}
	if st.Session != "test" {
		t.Errorf("session = %q, want %q", st.Session, "test")
	}
	if st.LoggedIn {
		t.Error("expected a fresh session to be logged out")
	}
	if st.State != status.Disconnected {
		t.Errorf("state = %s, want DISCONNECTED", st.State)
	}
	if st.MessageService {
		t.Error("message service reported healthy behind a 503 backend")
	}

	if _, err := c.Connect(ctx); err == nil {
		t.Error("Connect() without credentials should fail")
	}

	login, err := c.Login(ctx, "opaque-token", "alice")
	if err != nil {
		t.Fatalf("Login error = %v", err)
	}
	if login.UserID != "alice" {
		t.Errorf("login user = %q, want alice", login.UserID)
	}

	st, err = c.GetStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.LoggedIn || st.UserID != "alice" {
		t.Errorf("status after login = %+v", st)
	}

	if _, err := c.StartConversation(ctx, "bob", "Bob"); err != nil {
		t.Fatalf("StartConversation error = %v", err)
	}
	convs, err := c.ListConversations(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs.Conversations) != 1 || convs.Conversations[0].CounterpartID != "bob" {
		t.Errorf("conversations = %+v, want the local chat with bob", convs.Conversations)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout error = %v", err)
	}
	st, err = c.GetStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.LoggedIn {
		t.Error("still logged in after Logout")
	}

	app.RequireStop()
	if _, err := os.Stat(p.socketPath()); !os.IsNotExist(err) {
		t.Errorf("socket not removed on stop: %v", err)
	}
}

func TestCredentialsSurviveRestart(t *testing.T) {
	p := testParams(t)

	first := fxtest.New(t, Module(p))
	first.RequireStart()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := dial(t, p)
	if _, err := c.Login(ctx, "opaque-token", "alice"); err != nil {
		t.Fatal(err)
	}
	first.RequireStop()

	second := fxtest.New(t, Module(p))
	second.RequireStart()
	defer second.RequireStop()

	c = dial(t, p)
	st, err := c.GetStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !st.LoggedIn || st.UserID != "alice" {
		t.Errorf("status after restart = %+v, want alice logged in", st)
	}
}

func TestSecondDaemonIsRejected(t *testing.T) {
	p := testParams(t)
	first := fxtest.New(t, Module(p))
	first.RequireStart()
	defer first.RequireStop()

	second := fx.New(Module(p), fx.NopLogger)
	var held *lock.LockHeldError
	if !errors.As(second.Err(), &held) {
		t.Fatalf("second daemon error = %v, want LockHeldError", second.Err())
	}
	if held.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", held.PID, os.Getpid())
	}

	// The running daemon keeps its socket.
	if _, err := os.Stat(p.socketPath()); err != nil {
		t.Errorf("socket of the running daemon is gone: %v", err)
	}
}
