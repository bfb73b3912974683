package daemon

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/vpolkhovsky/chatx/internal/appdir"
	"github.com/vpolkhovsky/chatx/internal/bus"
	"github.com/vpolkhovsky/chatx/internal/config"
	"github.com/vpolkhovsky/chatx/internal/gateway"
	"github.com/vpolkhovsky/chatx/internal/lock"
	"github.com/vpolkhovsky/chatx/internal/logging"
	"github.com/vpolkhovsky/chatx/internal/notify"
	"github.com/vpolkhovsky/chatx/internal/outbox"
	"github.com/vpolkhovsky/chatx/internal/profile"
	"github.com/vpolkhovsky/chatx/internal/reconcile"
	"github.com/vpolkhovsky/chatx/internal/status"
	"github.com/vpolkhovsky/chatx/internal/store"
)

// DefaultServerURL is used when neither the config file nor the -server flag
// name a gateway.
const DefaultServerURL = "http://localhost:8080"

// Params holds the daemon configuration resolved from flags.
type Params struct {
	ServerURL string // optional override of config.toml
	DataDir   string // optional override for testing; empty = ~/.chatx
}

func (p Params) dataDir() string {
	if p.DataDir != "" {
		return p.DataDir
	}
	return appdir.Base()
}

func (p Params) dbPath() string {
	if p.DataDir != "" {
		return filepath.Join(p.DataDir, "chatx.db")
	}
	return appdir.DBPath()
}

func (p Params) logPath() string {
	if p.DataDir != "" {
		return filepath.Join(p.DataDir, "logs", "chatxd.log")
	}
	return appdir.LogPath()
}

func (p Params) configPath() string {
	if p.DataDir != "" {
		return filepath.Join(p.DataDir, "config.toml")
	}
	return appdir.ConfigPath()
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideNotifyCenter,
			provideGateway,
			provideMessages,
			provideOfflineChats,
			provideOnlineChats,
			provideProfileService,
			provideSender,
			NewRunner,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.configPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		cfg = &config.Config{}
	}
	if p.ServerURL != "" {
		cfg.ServerURL = p.ServerURL
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = DefaultServerURL
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(p.logPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := os.MkdirAll(p.dataDir(), 0700); err != nil {
		return nil, err
	}
	logger.Info("acquiring daemon lock", zap.String("dir", p.dataDir()))
	l, err := lock.Acquire(p.dataDir())
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.dbPath()
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

func provideNotifyCenter(cfg *config.Config, logger *zap.Logger) *notify.Center {
	return notify.NewCenter(cfg.PollInterval(), logger)
}

func provideGateway(cfg *config.Config, center *notify.Center, logger *zap.Logger) *gateway.Provider {
	return gateway.NewProvider(cfg.ServerURL, center, logger, cfg.PollInterval())
}

func provideMessages(db *store.DB, gw *gateway.Provider, center *notify.Center, logger *zap.Logger) *reconcile.Messages {
	return reconcile.NewMessages(db, reconcile.GatewayProvider{Provider: gw}, center, logger)
}

func provideOfflineChats(db *store.DB) *reconcile.OfflineChats {
	return reconcile.NewOfflineChats(db)
}

func provideOnlineChats(db *store.DB, offline *reconcile.OfflineChats, messages *reconcile.Messages, gw *gateway.Provider, center *notify.Center, logger *zap.Logger) *reconcile.OnlineChats {
	return reconcile.NewOnlineChats(db, offline, messages, reconcile.GatewayProvider{Provider: gw}, center, logger)
}

func provideProfileService(db *store.DB, gw *gateway.Provider, center *notify.Center, b *bus.Bus, logger *zap.Logger) *profile.Service {
	return profile.NewService(db, gw, center, b, logger)
}

func provideSender(db *store.DB, messages *reconcile.Messages, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, messages, b, logger, cfg.PollInterval())
}

func registerLifecycle(lc fx.Lifecycle, runner *Runner, sender *outbox.Sender, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			runner.Start(context.Background())
			sender.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			sender.Stop()
			runner.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
