// Package app wires configuration, storage, the provider and the Telegram
// surface into a runnable bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/m3rciful/receiverbot/core/bootstrap"
	"github.com/m3rciful/receiverbot/core/cmd"
	coreconfig "github.com/m3rciful/receiverbot/core/config"
	"github.com/m3rciful/receiverbot/core/logger"
	tg "github.com/m3rciful/receiverbot/core/telegram"
	"github.com/m3rciful/receiverbot/core/telegram/middleware"
	"github.com/m3rciful/receiverbot/core/telegram/router"
	"github.com/m3rciful/receiverbot/internal/artifact"
	"github.com/m3rciful/receiverbot/internal/bot"
	"github.com/m3rciful/receiverbot/internal/device"
	"github.com/m3rciful/receiverbot/internal/onboarding"
	"github.com/m3rciful/receiverbot/internal/provider/mtproto"
	"github.com/m3rciful/receiverbot/internal/proxy"
	"github.com/m3rciful/receiverbot/internal/session"
	"github.com/m3rciful/receiverbot/internal/storage"
	"github.com/m3rciful/receiverbot/internal/storage/memstore"
	"github.com/m3rciful/receiverbot/internal/sweeper"
)

const component = "app"

// App holds the wired services for one bot process.
type App struct {
	cfg *Config

	db       *sqlx.DB
	redis    *redis.Client
	stores   storage.Stores
	sessions *session.Cache
	proxies  *proxy.Pool

	machine  *onboarding.Machine
	bot      *bot.Bot
	registry *tg.Registry
	locker   sweeper.Locker
	sweeper  *sweeper.Sweeper
}

// Bootstrap is the cmd.Options hook: it initializes logging, the database and
// every service.
func Bootstrap(ctx context.Context, carrier cmd.ConfigCarrier) (cmd.TelegramApp, error) {
	cfg, ok := carrier.(*Config)
	if !ok {
		return nil, fmt.Errorf("app: unexpected config type %T", carrier)
	}
	return build(ctx, cfg, nil)
}

func build(ctx context.Context, cfg *Config, loggerInit func(*coreconfig.Config) error) (*App, error) {
	a := &App{cfg: cfg, sessions: session.NewCache()}

	seed := bootstrap.SeederFunc(func(ctx context.Context, db *sqlx.DB) error {
		if db != nil {
			a.stores = storage.NewPostgres(db)
		} else {
			a.stores = memstore.New()
		}
		return a.stores.Settings.Seed(ctx, cfg.Onboarding.Defaults.Policy())
	})
	res, err := bootstrap.Run(ctx, bootstrap.Options{
		Config:     &cfg.Config,
		Database:   cfg.Database,
		Seeders:    []bootstrap.Seeder{seed},
		LoggerInit: loggerInit,
	})
	if err != nil {
		return nil, err
	}
	a.db = res.DB

	if err := a.wire(ctx); err != nil {
		a.closeInfra()
		return nil, err
	}
	return a, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg := a.cfg

	artifacts, err := artifact.NewStore(cfg.Provider.SessionsDir)
	if err != nil {
		return err
	}
	devices, err := device.LoadFile(cfg.Onboarding.DevicesFile)
	if err != nil {
		return err
	}

	a.proxies = proxy.NewPool(cfg.Onboarding.ProbeAddr, cfg.Onboarding.ProbeTimeout())
	a.loadProxies(ctx)

	factory := mtproto.NewFactory(mtproto.Config{
		AppID:       cfg.Provider.AppID,
		AppHash:     cfg.Provider.AppHash,
		DialTimeout: time.Duration(cfg.Provider.DialTimeoutSeconds) * time.Second,
		ReportWait:  time.Duration(cfg.Provider.ReportWaitSeconds) * time.Second,
		ProtocolLogger: func(label string) *zap.Logger {
			return logger.ProtocolLogger(&cfg.Config, label)
		},
	})

	a.machine, err = onboarding.New(onboarding.Deps{
		Steps:     a.stores.Steps,
		Accounts:  a.stores.Accounts,
		Sessions:  a.sessions,
		Proxies:   a.proxies,
		Devices:   devices,
		Policy:    a.stores.Settings,
		Artifacts: artifacts,
		Factory:   factory,
	}, onboarding.Options{
		StepTTL:      cfg.Onboarding.StepTTL(),
		Password2FA:  cfg.Onboarding.Password2FA,
		PasswordHint: cfg.Onboarding.PasswordHint,
		Bio:          cfg.Onboarding.Bio,
	})
	if err != nil {
		return err
	}

	a.bot, err = bot.New(bot.Deps{
		Machine:   a.machine,
		Stores:    a.stores,
		Sessions:  a.sessions,
		Proxies:   a.proxies,
		Devices:   devices,
		Artifacts: artifacts,
	}, bot.Options{
		IsAdmin:         cfg.Telegram.IsAdmin,
		RequireApproval: cfg.Access.RequireApproval,
		ProxiesFile:     cfg.Onboarding.ProxiesFile,
		ForceJoin:       cfg.Access.ForceJoin,
	})
	if err != nil {
		return err
	}
	a.registry = tg.NewRegistry()
	if err := a.bot.Register(a.registry); err != nil {
		return fmt.Errorf("app: register handlers: %w", err)
	}

	a.locker = &sweeper.LocalLocker{}
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := time.Duration(cfg.Redis.LockTTLSeconds) * time.Second
		a.locker = sweeper.Chain{a.locker, sweeper.NewRedisLocker(a.redis, cfg.Redis.LockKey, ttl)}
	}

	logger.Info(ctx, component, "wired",
		slog.Int("devices", devices.Len()),
		slog.Int("proxies", a.proxies.Count()),
		slog.Bool("database", a.db != nil),
		slog.Bool("redis", a.redis != nil),
	)
	return nil
}

// loadProxies fills the pool when the stored policy already enables proxies.
// A broken proxy file leaves the pool empty and flows connect directly.
func (a *App) loadProxies(ctx context.Context) {
	policy, err := a.stores.Settings.Policy(ctx)
	if err != nil {
		logger.Warn(ctx, component, "policy.read_failed", logger.Err(err))
		return
	}
	if !policy.UseProxy || a.cfg.Onboarding.ProxiesFile == "" {
		return
	}
	list, err := proxy.LoadFile(a.cfg.Onboarding.ProxiesFile)
	if err != nil {
		logger.Warn(ctx, component, "proxies.load_failed",
			slog.String("path", a.cfg.Onboarding.ProxiesFile),
			logger.Err(err),
		)
		return
	}
	a.proxies.Set(list)
}

// TelegramRunOptions builds the middleware chain and routes.
func (a *App) TelegramRunOptions() (tg.RunOptions, error) {
	if a.bot == nil || a.registry == nil {
		return tg.RunOptions{}, errors.New("app: not bootstrapped")
	}
	cfg := &a.cfg.Config

	mws := tg.DefaultMiddlewares(cfg, a.bot.OnRateLimited)
	mws = append(mws, tg.Middleware{
		Name: "access",
		Use: middleware.AccessMiddleware(middleware.AccessOptions{
			Allowed:  a.bot.Allowed,
			OnReject: a.bot.OnDenied,
		}),
	}, tg.Middleware{Name: "force_join", Use: a.bot.RequireJoin})

	routes := router.CommandRoutes(a.registry, router.CommandRouteOptions{
		IsAdmin:       cfg.Telegram.IsAdmin,
		OnAdminReject: a.bot.OnAdminReject,
	})
	routes = append(routes, router.CallbackRoute(a.registry))
	routes = append(routes, router.TextRoutes(a.registry, router.TextOptions{Flow: a.bot.Flow})...)

	return tg.RunOptions{
		Config:      cfg,
		Registry:    a.registry,
		Middlewares: mws,
		Routes:      routes,
		OnStart:     a.onStart,
		OnStop:      a.onStop,
	}, nil
}

func (a *App) onStart(ctx context.Context, rt tg.Runtime) error {
	if rt.Bot == nil {
		return errors.New("app: runtime has no bot")
	}
	sw, err := sweeper.New(a.stores.Steps, a.machine, bot.NewNotifier(rt.Bot), sweeper.Options{
		Interval: time.Duration(a.cfg.Sweeper.IntervalSeconds) * time.Second,
		Workers:  a.cfg.Sweeper.Workers,
		Locker:   a.locker,
	})
	if err != nil {
		return err
	}
	if err := sw.Start(ctx); err != nil {
		sw.Stop(ctx)
		return err
	}
	a.sweeper = sw
	return nil
}

func (a *App) onStop(ctx context.Context, _ tg.Runtime) error {
	if a.sweeper != nil {
		a.sweeper.Stop(ctx)
	}
	err := closeSessions(ctx, a.sessions)
	a.closeInfra()
	return err
}

func (a *App) closeInfra() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Warn(context.Background(), component, "redis.close_failed", logger.Err(err))
		}
		a.redis = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.DB.Warn("db close failed", slog.String("event", "db.close"), logger.Err(err))
		}
		a.db = nil
	}
}
