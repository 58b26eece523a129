// Package daemon wires one profile's messaging core behind the local
// control socket.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hireme/chatsync/internal/api"
	"github.com/hireme/chatsync/internal/bus"
	"github.com/hireme/chatsync/internal/clock"
	"github.com/hireme/chatsync/internal/config"
	"github.com/hireme/chatsync/internal/identity"
	"github.com/hireme/chatsync/internal/lock"
	"github.com/hireme/chatsync/internal/logging"
	"github.com/hireme/chatsync/internal/messenger"
	"github.com/hireme/chatsync/internal/pushdb"
	"github.com/hireme/chatsync/internal/realtime"
	"github.com/hireme/chatsync/internal/rest"
	"github.com/hireme/chatsync/internal/session"
	"github.com/hireme/chatsync/internal/status"
	"github.com/hireme/chatsync/internal/store"
	intsync "github.com/hireme/chatsync/internal/sync"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string          // optional override for testing; empty = use default
	Profile     *config.Profile // optional; nil = load from the profile directory
	LogLevel    zapcore.Level
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideProfile,
			provideLogger,
			provideClock,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			providePushStore,
			provideIdentity,
			provideREST,
			provideRealtime,
			provideMessenger,
			provideSyncEngine,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideProfile(p Params) (*config.Profile, error) {
	if p.Profile != nil {
		return p.Profile, p.Profile.Validate()
	}
	return session.LoadProfile(p.ProfileName)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.ProfileName), p.ProfileName, p.LogLevel)
}

func provideClock() clock.Clock {
	return clock.Real()
}

func provideBus(clk clock.Clock) *bus.Bus {
	return bus.New(bus.WithClock(clk))
}

func provideStateMachine(b *bus.Bus, clk clock.Clock) *status.Machine {
	return status.NewMachine(b, status.WithClock(clk))
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(session.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so only the owning daemon opens the cache.
func provideStore(p Params, _ *lock.Lock, clk clock.Clock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CachePath(p.ProfileName)
	db, err := store.Open(dbPath, store.WithClock(clk))
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("cache schema migrated", zap.Uint("from", result.From), zap.Uint("to", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath), zap.Uint("schema", result.Version))
	return db, nil
}

func providePushStore(prof *config.Profile, logger *zap.Logger) (pushdb.Store, error) {
	switch prof.Push.Backend {
	case "memory":
		logger.Warn("using in-process push store; updates are not shared with other processes")
		return pushdb.NewMemory(), nil
	default:
		ctx, cancel := context.WithTimeout(context.Background(), prof.API.Timeout.Duration)
		defer cancel()
		r, err := pushdb.DialRedis(ctx, &redis.Options{
			Addr:     prof.Push.RedisAddr,
			Password: prof.Push.RedisPassword,
			DB:       prof.Push.RedisDB,
		}, prof.Push.KeyPrefix, logger.Named("pushdb"))
		if err != nil {
			return nil, fmt.Errorf("push store: %w", err)
		}
		logger.Info("push store connected", zap.String("addr", prof.Push.RedisAddr))
		return r, nil
	}
}

// provideIdentity prefers a pre-issued token; otherwise a configured
// secret mints tokens for the profile's user. Neither leaves the daemon
// signed out.
func provideIdentity(prof *config.Profile, clk clock.Clock, logger *zap.Logger) (identity.Source, error) {
	id := prof.Identity
	if id.Token != "" {
		return identity.NewStaticSource(id.Token, clk)
	}
	sess := identity.NewSession(identity.NewIssuer(id.Secret, id.TokenTTL.Duration, clk), clk)
	if id.Secret != "" && id.UserID != "" {
		sess.SignIn(identity.Principal{UserID: id.UserID, DisplayName: id.DisplayName})
	} else {
		logger.Warn("no identity configured; sign-in required")
	}
	return sess, nil
}

func provideREST(prof *config.Profile, src identity.Source, logger *zap.Logger) *rest.Client {
	return rest.New(prof.API.BaseURL, prof.API.Timeout.Duration, src, logger.Named("rest"))
}

func provideRealtime(prof *config.Profile, src identity.Source, m *status.Machine, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *realtime.Manager {
	dialer := &realtime.WSDialer{
		URL:               prof.Realtime.URL,
		Logger:            logger.Named("ws"),
		ReconnectAttempts: 3,
	}
	return realtime.NewManager(dialer, src, m, b, clk, logger.Named("realtime"), realtime.Options{
		ConnectTimeout: prof.Realtime.ConnectTimeout.Duration,
		WaitTimeout:    prof.Realtime.WaitTimeout.Duration,
		MaxFailures:    prof.Realtime.MaxFailures,
	})
}

func provideMessenger(prof *config.Profile, client *rest.Client, push pushdb.Store, src identity.Source, mgr *realtime.Manager, db *store.DB, b *bus.Bus, clk clock.Clock, logger *zap.Logger) *messenger.Messenger {
	deps := messenger.Deps{
		API:      client,
		Store:    push,
		Identity: src,
		Cache:    db,
		Journal:  db,
		Bus:      b,
		Clock:    clk,
		Logger:   logger.Named("messenger"),
		Timing: messenger.Timing{
			TypingIdle:    prof.Messaging.TypingIdle.Duration,
			TypingStale:   prof.Messaging.TypingStale.Duration,
			ScrollDelay:   prof.Messaging.ScrollDelay.Duration,
			BeaconTimeout: prof.Messaging.BeaconTimeout.Duration,
		},
	}
	if prof.Realtime.Enabled {
		deps.Sockets = mgr
	}
	return messenger.New(deps)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, logger.Named("sync"))
}

func provideService(p Params, m *messenger.Messenger, db *store.DB, mgr *realtime.Manager, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.ProfileName, m, db, mgr, machine, b, logger.Named("api"))
}

type lifecycleParams struct {
	fx.In

	Server    *Server
	Lock      *lock.Lock
	DB        *store.DB
	Push      pushdb.Store
	Messenger *messenger.Messenger
	Realtime  *realtime.Manager
	Engine    *intsync.Engine
	Machine   *status.Machine
	Logger    *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, p lifecycleParams) {
	logger := p.Logger
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Start sync engine before mounting so the first projections are cached.
			p.Engine.Start(context.Background())

			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if err := p.Messenger.Mount(ctx); err != nil {
				if !errors.Is(err, identity.ErrNotAuthenticated) {
					return err
				}
				logger.Info("no principal, auth required")
				_ = p.Machine.Transition(status.AuthRequired)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Messenger.Close()
			p.Realtime.Release()
			p.Engine.Stop()
			p.Server.Stop(ctx)
			if err := p.Push.Close(); err != nil {
				logger.Warn("error closing push store", zap.Error(err))
			}
			if err := p.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
