// Package daemon composes the engine with fx: configuration, logging,
// storage, the transport factory, and the lifecycle hooks that start
// persisted instances on boot and drain them on shutdown.
package daemon

import (
	"context"

	"github.com/matheus3301/wahub/internal/bus"
	"github.com/matheus3301/wahub/internal/config"
	"github.com/matheus3301/wahub/internal/engine"
	"github.com/matheus3301/wahub/internal/lock"
	"github.com/matheus3301/wahub/internal/logging"
	"github.com/matheus3301/wahub/internal/paths"
	"github.com/matheus3301/wahub/internal/store"
	"github.com/matheus3301/wahub/internal/transport"
	"github.com/matheus3301/wahub/internal/wa"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved startup options passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLayout,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideTransportFactory,
			provideManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = paths.ConfigPath()
	}
	return config.Load(path)
}

func provideLayout(cfg *config.Config) (paths.Layout, error) {
	layout := cfg.Layout()
	return layout, layout.EnsureBase()
}

func provideLogger(cfg *config.Config, layout paths.Layout) (*zap.Logger, error) {
	return logging.New(layout.LogPath(), cfg.Debug)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(layout paths.Layout, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data dir lock", zap.String("dir", layout.Base))
	l, err := lock.Acquire(layout.Base)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

func provideStore(layout paths.Layout, logger *zap.Logger) (*store.DB, error) {
	dbPath := layout.DBPath()
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

func provideTransportFactory(logger *zap.Logger) transport.Factory {
	return func(ctx context.Context, instanceID int64, authDir string) (transport.Transport, error) {
		return wa.NewAdapter(ctx, instanceID, authDir, logger)
	}
}

func provideManager(db *store.DB, b *bus.Bus, factory transport.Factory, layout paths.Layout, logger *zap.Logger) *engine.Manager {
	return engine.NewManager(db, b, factory, layout, logger)
}

func registerLifecycle(lc fx.Lifecycle, mgr *engine.Manager, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Instance startup can block on pairing; do it off the fx
			// start path.
			go func() {
				if err := mgr.StartAll(context.Background()); err != nil {
					logger.Error("instance startup failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			mgr.StopAll()
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
