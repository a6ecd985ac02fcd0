// Package daemon composes the wesim daemon out of its parts and manages
// their lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"wesim/internal/api"
	"wesim/internal/bridge"
	"wesim/internal/bus"
	"wesim/internal/config"
	"wesim/internal/home"
	"wesim/internal/lock"
	"wesim/internal/logging"
	"wesim/internal/registry"
	"wesim/internal/responder"
	"wesim/internal/session"
	"wesim/internal/snapshot"
	"wesim/internal/status"
	"wesim/internal/tts"
)

// Params holds the resolved daemon configuration passed to the fx module.
type Params struct {
	DataDir    string
	ListenAddr string // optional override for testing; empty = use config
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
			provideRegistry,
			provideBridge,
			provideWorker,
			provideManager,
			provideHandler,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := home.EnsureDirs(p.DataDir); err != nil {
		return nil, err
	}
	return config.Load(home.ConfigPath(p.DataDir))
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(home.LogPath(p.DataDir))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data-dir lock", zap.String("dir", p.DataDir))
	l, err := lock.Acquire(p.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data-dir lock acquired")
	return l, nil
}

func provideStore(p Params, cfg *config.Config, logger *zap.Logger) (*snapshot.Store, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		dbPath := home.DBPath(p.DataDir)
		store, err := snapshot.OpenSQLite(dbPath)
		if err != nil {
			return nil, err
		}
		logger.Info("snapshot store ready", zap.String("backend", "sqlite"), zap.String("path", dbPath))
		return store, nil
	case config.StorageMemory:
		logger.Warn("memory storage selected, nothing will survive a restart")
		return snapshot.NewMemory(), nil
	case config.StorageRedis:
		store, err := snapshot.OpenRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		logger.Info("snapshot store ready", zap.String("backend", "redis"))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage)
	}
}

func provideRegistry(store *snapshot.Store) *registry.Registry {
	return registry.New(store)
}

func provideBridge(store *snapshot.Store, b *bus.Bus, logger *zap.Logger) *bridge.Bridge {
	return bridge.New(store, b, logger)
}

func provideWorker(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *responder.Worker {
	var gw responder.Gateway
	llm, err := responder.NewLLM(responder.Options{
		Model:   cfg.Responder.Model,
		Token:   cfg.Responder.Token,
		BaseURL: cfg.Responder.BaseURL,
	})
	if err != nil {
		logger.Info("responder gateway disabled, automated chats reply with fallback text",
			zap.Error(err))
	} else {
		gw = llm
	}
	return responder.NewWorker(gw, b, logger)
}

func provideManager(
	store *snapshot.Store,
	reg *registry.Registry,
	br *bridge.Bridge,
	worker *responder.Worker,
	machine *status.Machine,
	b *bus.Bus,
	logger *zap.Logger,
) *session.Manager {
	return session.NewManager(store, reg, br, worker, machine, b, logger)
}

func provideHandler(cfg *config.Config, sessions *session.Manager, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *api.Handler {
	var synth tts.Synthesizer
	s, err := tts.NewOpenAI(cfg.Responder.Token, cfg.Responder.BaseURL)
	if err != nil {
		logger.Info("speech synthesis disabled", zap.Error(err))
	} else {
		synth = s
	}
	return api.New(sessions, machine, synth, cfg.TTS.Voice, b, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	store *snapshot.Store,
	worker *responder.Worker,
	manager *session.Manager,
	machine *status.Machine,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			worker.Start(context.Background())
			manager.Start(context.Background())

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()

			// Silent resume of the last active user, if any.
			if err := manager.Resume(context.Background()); err != nil {
				if errors.Is(err, session.ErrNoSession) {
					logger.Info("no previous session, login required")
					_ = machine.Transition(status.LoggedOut)
				} else {
					logger.Error("resume failed", zap.Error(err))
					_ = machine.Transition(status.Error)
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			manager.Stop()
			worker.Stop()
			srv.Stop(ctx)
			if err := store.Close(); err != nil {
				logger.Warn("error closing snapshot store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
