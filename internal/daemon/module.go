package daemon

import (
	"context"
	"os"
	"path/filepath"

	"github.com/matheus3301/pairchat/internal/api"
	"github.com/matheus3301/pairchat/internal/auth"
	"github.com/matheus3301/pairchat/internal/bus"
	"github.com/matheus3301/pairchat/internal/clock"
	"github.com/matheus3301/pairchat/internal/config"
	"github.com/matheus3301/pairchat/internal/lock"
	"github.com/matheus3301/pairchat/internal/logging"
	"github.com/matheus3301/pairchat/internal/mirror"
	"github.com/matheus3301/pairchat/internal/realtime"
	"github.com/matheus3301/pairchat/internal/receipts"
	"github.com/matheus3301/pairchat/internal/reconcile"
	"github.com/matheus3301/pairchat/internal/restapi"
	"github.com/matheus3301/pairchat/internal/session"
	"github.com/matheus3301/pairchat/internal/store"
	"github.com/matheus3301/pairchat/internal/transport"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      *config.Config
	Dir         string // optional override for testing; empty = ~/.pairchat/sessions/<name>
	SocketPath  string // optional override for testing; empty = <dir>/daemon.sock
	LogStderr   bool   // also log to stderr; off when started by the TUI
}

func (p Params) dir() string {
	if p.Dir != "" {
		return p.Dir
	}
	return session.Dir(p.SessionName)
}

func (p Params) socketPath() string {
	if p.SocketPath != "" {
		return p.SocketPath
	}
	if p.Dir != "" {
		return filepath.Join(p.Dir, "daemon.sock")
	}
	return session.SocketPath(p.SessionName)
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideScheduler,
			provideLock,
			provideStore,
			provideAuth,
			provideMonitor,
			provideREST,
			provideRealtime,
			provideReconciler,
			provideReceipts,
			provideMirror,
			provideAccount,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) *config.Config {
	if p.Config != nil {
		return p.Config
	}
	return config.Default()
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	opts := logging.Options{
		Path:    filepath.Join(p.dir(), "logs", "pairchatd.log"),
		Session: p.SessionName,
		Level:   cfg.Log.Level,
	}
	if p.LogStderr {
		opts.Console = os.Stderr
	}
	return logging.New(opts)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideScheduler() clock.Scheduler {
	return clock.Real()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(p.dir())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore takes the lock first so two daemons never migrate the same file.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := filepath.Join(p.dir(), "pairchat.db")
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Recovered {
		logger.Warn("rolled back an interrupted migration", zap.Uint("version", result.From))
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func provideAuth(db *store.DB, sched clock.Scheduler, b *bus.Bus, logger *zap.Logger) *auth.Manager {
	return auth.NewManager(db, sched, b, logger.Named("auth"))
}

func provideMonitor(m *auth.Manager, logger *zap.Logger) (*auth.Monitor, error) {
	return auth.NewMonitor(m, auth.DefaultSchedule, logger.Named("auth"))
}

func provideREST(cfg *config.Config, m *auth.Manager, logger *zap.Logger) *restapi.Client {
	return restapi.New(cfg.RESTConfig(), m.Token, logger.Named("rest"))
}

func provideRealtime(cfg *config.Config, sched clock.Scheduler, b *bus.Bus, m *auth.Manager, logger *zap.Logger) *realtime.Service {
	dialer := &transport.WebSocketDialer{
		HandshakeTimeout: cfg.Realtime.OpenTimeout.Std(),
		WriteTimeout:     cfg.Server.RequestTimeout.Std(),
	}
	return realtime.New(cfg.RealtimeConfig(), dialer, sched, b, m.Token, logger.Named("realtime"))
}

func provideReconciler(cfg *config.Config, rest *restapi.Client, rt *realtime.Service, sched clock.Scheduler, b *bus.Bus, logger *zap.Logger) *reconcile.Reconciler {
	r := reconcile.New(cfg.ReconcileConfig(), rest, rt, sched, b, logger.Named("reconcile"))
	r.Register(rt.Registry(), rt.Tracker())
	return r
}

func provideReceipts(cfg *config.Config, r *reconcile.Reconciler, rt *realtime.Service, rest *restapi.Client, sched clock.Scheduler, logger *zap.Logger) *receipts.Coordinator {
	c := receipts.New(r, rt, rest, sched, logger.Named("receipts"))
	c.SetDelay(cfg.Realtime.ReceiptDelay.Std())
	r.SetReceipts(c)
	return c
}

func provideMirror(r *reconcile.Reconciler, db *store.DB, b *bus.Bus, sched clock.Scheduler, logger *zap.Logger) *mirror.Mirror {
	return mirror.New(r, db, b, sched, logger.Named("mirror"))
}

func provideAccount(m *auth.Manager, rt *realtime.Service, r *reconcile.Reconciler, mr *mirror.Mirror, logger *zap.Logger) *Account {
	return NewAccount(m, rt, r, mr, logger)
}

func provideService(p Params, a *Account, r *reconcile.Reconciler, rest *restapi.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.SessionName, a, r, rest, db, b, logger)
}

type lifecycleParams struct {
	fx.In

	Server    *Server
	Lock      *lock.Lock
	DB        *store.DB
	Realtime  *realtime.Service
	Reconcile *reconcile.Reconciler
	Receipts  *receipts.Coordinator
	Mirror    *mirror.Mirror
	Monitor   *auth.Monitor
	Account   *Account
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleParams) {
	logger := d.Logger
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := d.Realtime.Start(context.Background()); err != nil {
				return err
			}

			// Persist reconciler snapshots before anything can change them.
			d.Mirror.Start(context.Background())
			d.Monitor.Start()

			// Start gRPC server in background.
			go func() {
				if err := d.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := d.Account.Restore(); err != nil {
				logger.Error("restore credentials failed", zap.Error(err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Server.Stop(ctx)
			d.Account.Stop()
			if err := d.Monitor.Stop(ctx); err != nil {
				logger.Warn("expiry monitor did not stop", zap.Error(err))
			}
			d.Realtime.Stop()
			d.Reconcile.Stop()
			d.Receipts.Wait()
			d.Mirror.Stop()
			if err := d.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := d.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
