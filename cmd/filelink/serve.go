package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/access"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/backend/telegram"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/bot"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/config"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/db"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/flood"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/handlers"
	poolchecker "github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/healthcheck/checkers/pool"
	storechecker "github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/healthcheck/checkers/store"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/ingest"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/keepalive"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/links"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/logger"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/pool"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/records"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/server"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/stream"
	"github.com/UHD-Official/UHD-FiletoLinks-Bot/internal/workers"
)

func serve(cfgPath string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}

	primaryOnly := fx.Options()
	if cfg.IsPrimary() {
		primaryOnly = fx.Options(
			fx.Provide(provideServerHandler(handlers.NewUploadHandler)),
			fx.Invoke(startBot),
		)
	}

	app := fx.New(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideStore,
			provideTelegramClients,
			provideScheduler,
			providePool,
			providePolicy,
			access.NewGate,
			provideEngine,
			providePipeline,
			provideLinks,
			provideServerHandler(providePingHandler),
			provideServerHandler(handlers.NewStreamHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServer,
			provideKeepalive,
		),
		primaryOnly,
		fx.Invoke(
			startServer,
			startKeepalive,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	_ = tgbotapi.SetLogger(logger.Printer{Log: logger.L.With(slog.String("component", "tgbotapi"))})
	return logger.L
}

// provideStore opens the record store selected by store.driver. The checker
// reports the database, or nothing to ping for the in-memory store.
func provideStore(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (records.Store, *storechecker.Checker, error) {
	var (
		store  records.Store
		pinger storechecker.Pinger
	)
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		log.Warn("using in-memory record store; links will not survive a restart")
		store = records.NewMemoryStore()
	default:
		if err := db.Migrate(log, cfg.Postgres.DSN()); err != nil {
			return nil, nil, err
		}
		conn, err := db.Open(context.Background(), cfg.Postgres)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
		store = records.NewPostgresStore(conn)
		pinger = pgPinger{conn}
	}
	if cfg.Store.CacheTTL > 0 {
		store = records.NewCachedStore(store, cfg.Store.CacheTTL)
	}
	return store, storechecker.NewChecker(log, cfg.Store.Driver, pinger), nil
}

type pgPinger struct{ pool *pgxpool.Pool }

func (p pgPinger) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

// provideTelegramClients builds one client per configured token. The first
// is the primary session that also receives bot updates.
func provideTelegramClients(log *slog.Logger, cfg config.Config) []*telegram.Client {
	tokens := cfg.Telegram.Tokens()
	clients := make([]*telegram.Client, 0, len(tokens))
	for i, token := range tokens {
		name := "primary"
		if i > 0 {
			name = fmt.Sprintf("extra-%d", i)
		}
		clients = append(clients, telegram.NewClient(log, telegram.Options{
			Name:         name,
			Token:        token,
			APIEndpoint:  cfg.Telegram.APIEndpoint,
			FileEndpoint: cfg.Telegram.FileEndpoint,
			ScratchChat:  cfg.Telegram.CacheChannel,
		}))
	}
	return clients
}

func provideScheduler(log *slog.Logger, cfg config.Config) *flood.Scheduler {
	return flood.NewScheduler(log, cfg.Flood)
}

func providePool(lc fx.Lifecycle, log *slog.Logger, sched *flood.Scheduler, cfg config.Config, clients []*telegram.Client) (*pool.Pool, error) {
	members := make([]pool.Member, 0, len(clients))
	for i, c := range clients {
		role := pool.RoleSecondary
		if i == 0 {
			role = pool.RolePrimary
		}
		members = append(members, pool.Member{Role: role, Client: c})
	}
	p, err := pool.New(log, sched, cfg.Pool, members)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{OnStart: p.Start})
	return p, nil
}

func providePolicy(cfg config.Config) access.Policy {
	return access.NewPolicy(cfg.Telegram)
}

func provideEngine(log *slog.Logger, p *pool.Pool, sched *flood.Scheduler, cfg config.Config) *stream.Engine {
	return stream.NewEngine(log, p, sched, cfg.Stream)
}

func providePipeline(log *slog.Logger, p *pool.Pool, store records.Store, sched *flood.Scheduler, cfg config.Config) *ingest.Pipeline {
	return ingest.NewPipeline(log, p, store, sched, ingest.Options{
		LogChannel: cfg.Telegram.LogChannel,
		MaxBytes:   cfg.Server.MaxUploadBytes,
	})
}

func provideLinks(cfg config.Config, policy access.Policy) *links.Builder {
	return links.NewBuilder(cfg.Server.PublicURL(), cfg.Auth.JWTSecret, cfg.Auth.LinkTTL, policy.NeedsIdentity())
}

func providePingHandler(log *slog.Logger, p *pool.Pool, store *storechecker.Checker) *handlers.PingHandler {
	return handlers.NewPingHandler(log, poolchecker.NewChecker(log, p), store)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	limiter := workers.NewLimiter(params.Config.Server.MaxConcurrent)
	return server.NewServer(params.Logger, params.Config.Server.Addr(), limiter, params.ServerHandlers...)
}

func provideKeepalive(log *slog.Logger, cfg config.Config) *keepalive.Pinger {
	return keepalive.New(log, cfg.Server.PublicURL(), cfg.Server.PingInterval, nil)
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting file link server",
				slog.String("mode", cfg.Mode),
				slog.String("addr", cfg.Server.Addr()),
				slog.String("public_url", cfg.Server.PublicURL()),
			)
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

// startBot runs after the pool has authenticated, so the primary client
// already holds its API handle.
func startBot(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, clients []*telegram.Client, pipeline *ingest.Pipeline, gate *access.Gate, builder *links.Builder) {
	var b *bot.Bot
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			api := clients[0].Bot()
			if api == nil {
				return errors.New("primary bot session is not authenticated")
			}
			b = bot.New(log, api, pipeline, gate, builder, workers.NewLimiter(cfg.Pool.Workers))
			return b.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			if b == nil {
				return nil
			}
			return b.Stop(ctx)
		},
	})
}

func startKeepalive(lc fx.Lifecycle, p *keepalive.Pinger) {
	lc.Append(fx.Hook{OnStart: p.Start, OnStop: p.Stop})
}
