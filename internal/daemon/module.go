package daemon

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/call"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/router"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/view"
)

const checkpointInterval = 5 * time.Second

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	DBPath      string // optional override for testing
	LogPath     string // optional override for testing
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
			provideRegistry,
			provideCollector,
			provideView,
			provideTransport,
			provideSender,
			provideEngine,
			provideCallMachine,
			provideRouter,
			provideSessionService,
			provideCallService,
			provideMessageService,
			NewServer,
			provideMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	logPath := p.LogPath
	if logPath == "" {
		logPath = session.LogPath(p.SessionName)
	}
	return logging.New(logPath, p.SessionName, p.Config.LogLevel)
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
	logger.Info("acquiring profile lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore takes the lock so the database is never opened by a second
// daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.DBPath
	if dbPath == "" {
		dbPath = session.DBPath(p.SessionName)
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	mig, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if mig.Applied() {
		logger.Info("schema migrated", zap.Uint("from", mig.From), zap.Uint("to", mig.To))
	} else {
		logger.Debug("schema up to date", zap.Uint("version", mig.To))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

func provideCollector(reg *prometheus.Registry) metrics.Collector {
	return metrics.NewPrometheusCollector(reg)
}

func provideView(b *bus.Bus) *view.Store {
	return view.New(b)
}

// provideTransport builds the socket client. Its event handlers are bound
// in registerLifecycle, since they write back through it.
func provideTransport(p Params, machine *status.Machine, m metrics.Collector, logger *zap.Logger) *transport.Client {
	cfg := p.Config
	return transport.New(transport.Config{
		URL:       cfg.ServerURL,
		UserID:    cfg.UserID,
		Token:     cfg.Token,
		BaseDelay: cfg.ReconnectBaseDelay,
		MaxDelay:  cfg.ReconnectMaxDelay,
		SendRate:  cfg.SendRate,
		SendBurst: cfg.SendBurst,
	}, transport.Options{
		Status:  machine,
		Metrics: m,
		Logger:  logger.Named("transport"),
	})
}

func provideSender(p Params, db *store.DB, tx *transport.Client, b *bus.Bus, m metrics.Collector, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, tx, p.Config.AckTimeout, b, m, logger.Named("outbox"))
}

func provideEngine(p Params, v *view.Store, sender *outbox.Sender, tx *transport.Client, db *store.DB, b *bus.Bus, m metrics.Collector, logger *zap.Logger) *cache.Engine {
	return cache.NewEngine(cache.New(p.Config.PageSize), cache.Deps{
		Self:        p.Config.UserID,
		View:        v,
		Outbox:      sender,
		Signaler:    tx,
		Checkpoints: db,
		Bus:         b,
		Metrics:     m,
		Logger:      logger.Named("cache"),
	})
}

func provideCallMachine(p Params, tx *transport.Client, db *store.DB, b *bus.Bus, m metrics.Collector, logger *zap.Logger) *call.Machine {
	servers := make([]call.ICEServer, 0, len(p.Config.ICEServers))
	for _, s := range p.Config.ICEServers {
		servers = append(servers, call.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return call.NewMachine(call.NewPionFactory(servers), &call.SampleSource{}, tx, db, b, m, logger.Named("call"))
}

func provideRouter(machine *call.Machine, logger *zap.Logger) *router.Router {
	return router.New(machine, logger.Named("router"))
}

func provideSessionService(p Params, machine *status.Machine, engine *cache.Engine, db *store.DB, b *bus.Bus) *api.SessionService {
	return api.NewSessionService(p.SessionName, p.Config.UserID, machine, engine, db, b)
}

func provideCallService(machine *call.Machine, db *store.DB) *api.CallService {
	return api.NewCallService(machine, db)
}

func provideMessageService(engine *cache.Engine, v *view.Store) *api.MessageService {
	return api.NewMessageService(engine, v)
}

// provideMetricsServer returns nil when no metrics address is configured.
func provideMetricsServer(p Params, reg *prometheus.Registry, machine *status.Machine, logger *zap.Logger) *metrics.Server {
	if p.Config.MetricsAddr == "" {
		return nil
	}
	health := func() (string, bool) {
		st := machine.Current()
		return string(st), st == status.Online
	}
	return metrics.NewServer(p.Config.MetricsAddr, metrics.NewRouter(reg, health), logger.Named("metrics"))
}

type lifecycleParams struct {
	fx.In

	Server    *Server
	Metrics   *metrics.Server
	Lock      *lock.Lock
	DB        *store.DB
	Transport *transport.Client
	Sender    *outbox.Sender
	Engine    *cache.Engine
	Calls     *call.Machine
	Router    *router.Router
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, lp lifecycleParams) {
	logger := lp.Logger
	var stopRun context.CancelFunc
	runDone := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			lp.Transport.Bind(lp.Router, lp.Engine, lp.Engine.Since, lp.Sender.Wake)
			lp.Sender.OnFailure(lp.Engine.Expire)

			if err := lp.Engine.LoadCheckpoint(ctx); err != nil {
				logger.Warn("replay checkpoint unreadable", zap.Error(err))
			}
			if err := lp.Engine.Restore(ctx); err != nil {
				return err
			}

			lp.Sender.Start(context.Background())

			var runCtx context.Context
			runCtx, stopRun = context.WithCancel(context.Background())
			go func() {
				defer close(runDone)
				lp.Engine.Run(runCtx, checkpointInterval)
			}()

			lp.Transport.Start()

			// Start gRPC server in background.
			go func() {
				if err := lp.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if lp.Metrics != nil {
				if err := lp.Metrics.Start(); err != nil {
					return err
				}
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := lp.Calls.Close(ctx); err != nil {
				logger.Warn("error closing call session", zap.Error(err))
			}
			lp.Transport.Stop()
			lp.Sender.Stop()
			if stopRun != nil {
				stopRun()
				<-runDone
			}
			lp.Server.Stop(ctx)
			if lp.Metrics != nil {
				if err := lp.Metrics.Stop(ctx); err != nil {
					logger.Warn("error stopping metrics server", zap.Error(err))
				}
			}
			if err := lp.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lp.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
