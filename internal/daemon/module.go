package daemon

import (
	"context"
	"sync"

	"github.com/matheus3301/wppsync/internal/bus"
	"github.com/matheus3301/wppsync/internal/config"
	"github.com/matheus3301/wppsync/internal/dedupe"
	"github.com/matheus3301/wppsync/internal/ingest"
	"github.com/matheus3301/wppsync/internal/lock"
	"github.com/matheus3301/wppsync/internal/logging"
	"github.com/matheus3301/wppsync/internal/reconcile"
	"github.com/matheus3301/wppsync/internal/session"
	"github.com/matheus3301/wppsync/internal/status"
	"github.com/matheus3301/wppsync/internal/store"
	"github.com/matheus3301/wppsync/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	Config      *config.Config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideReconcilers,
			provideFilter,
			provideConsumer,
			provideAdapter,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName, p.Config.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// StorePath returns the configured database path of a session.
func StorePath(sessionName string, cfg *config.Config) string {
	if cfg != nil && cfg.Store.Path != "" {
		return cfg.Store.Path
	}
	return session.AppDBPath(sessionName)
}

// The lock parameter orders the store after the session lock.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := StorePath(p.SessionName, p.Config)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideReconcilers(p Params, b *bus.Bus, db *store.DB, logger *zap.Logger) *reconcile.Set {
	return reconcile.New(p.SessionName, b, db, logger, p.Config.Sync.Options())
}

// NewFilter returns the Redis filter when Redis is configured and the
// in-memory one otherwise.
func NewFilter(sessionName string, cfg config.RedisConfig) ingest.Filter {
	if cfg.Addr == "" {
		return dedupe.NewMemory(cfg.DedupeTTL())
	}
	return dedupe.NewRedis(dedupe.NewRedisClient(cfg.Addr, cfg.Password, cfg.DB), sessionName, cfg.DedupeTTL())
}

func provideFilter(p Params) ingest.Filter {
	return NewFilter(p.SessionName, p.Config.Redis)
}

// provideConsumer returns nil when no broker is configured.
func provideConsumer(p Params, b *bus.Bus, filter ingest.Filter, logger *zap.Logger) *ingest.Consumer {
	a := p.Config.AMQP
	if !a.Enabled() {
		return nil
	}
	return ingest.NewConsumer(p.SessionName, b, filter, ingest.Config{
		URL:        a.URL,
		Exchange:   a.Exchange,
		Queue:      a.Queue,
		BindingKey: a.BindingKey,
		Prefetch:   a.Prefetch,
	}, logger)
}

// provideAdapter returns nil when the WhatsApp source is disabled.
func provideAdapter(p Params, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*wa.Adapter, error) {
	if !p.Config.WhatsApp.Enabled {
		return nil, nil
	}
	return wa.NewAdapter(context.Background(), session.SessionDBPath(p.SessionName), b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	set *reconcile.Set,
	adapter *wa.Adapter,
	consumer *ingest.Consumer,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) {
	runCtx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			set.Listen()
			srv.SetServing("", set.Listening())
			srv.SetServing(ServiceReconcile, set.Listening())

			if adapter != nil {
				changes, unsub := b.Subscribe(status.EventStatusChanged, 16)
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer unsub()
					watchStatus(runCtx, changes, srv)
				}()
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if consumer != nil {
				srv.SetServing(ServiceAMQP, true)
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := consumer.Run(runCtx); err != nil && runCtx.Err() == nil {
						logger.Error("amqp consumer stopped", zap.Error(err))
					}
					srv.SetServing(ServiceAMQP, false)
				}()
			}

			if adapter == nil {
				logger.Info("whatsapp source disabled")
				return machine.Transition(status.Ready)
			}
			handler := wa.NewEventHandler(b, machine, adapter, logger)
			go func() {
				if err := adapter.Attach(handler); err != nil {
					logger.Error("whatsapp connect failed", zap.Error(err))
					_ = machine.Transition(status.Error)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Stopping)
			cancel()
			if adapter != nil {
				adapter.Disconnect()
			}
			wg.Wait()
			set.Unlisten()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// watchStatus mirrors the state machine into the WhatsApp health service.
func watchStatus(ctx context.Context, ch <-chan bus.Event, srv *Server) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-ch:
			if change, ok := evt.Payload.(status.StatusChange); ok {
				srv.SetServing(ServiceWhatsApp, change.To.Serving())
			}
		}
	}
}
