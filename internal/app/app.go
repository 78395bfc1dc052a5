package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"pricehub/internal/alerting"
	"pricehub/internal/cache"
	"pricehub/internal/config"
	"pricehub/internal/fetcher"
	"pricehub/internal/httpapi"
	"pricehub/internal/ratelimit"
	"pricehub/internal/scheduler"
	"pricehub/internal/service"
	"pricehub/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

func (a *App) newProviders() service.Providers {
	p := a.Config.Providers
	client := fetcher.NewClient(fetcher.ClientOptions{
		UserAgent:  p.UserAgent,
		Timeout:    p.Timeout,
		Retries:    p.Retries,
		RetryDelay: p.RetryDelay,
	}, a.Logger)

	binance := fetcher.NewBinance(client, fetcher.BinanceOptions{BaseURL: p.Binance.BaseURL, HistoryLongTimeout: p.HistoryLongTimeout}, a.Logger)
	coingecko := fetcher.NewCoinGecko(client, fetcher.CoinGeckoOptions{BaseURL: p.CoinGecko.BaseURL, HistoryLongTimeout: p.HistoryLongTimeout}, a.Logger)

	providers := service.Providers{
		CryptoPrice:   []fetcher.CryptoPriceFetcher{binance, coingecko},
		CryptoHistory: []fetcher.CryptoHistoryFetcher{coingecko, binance},
		Forex:         fetcher.NewFrankfurter(client, fetcher.FrankfurterOptions{BaseURL: p.Forex.BaseURL, HistoryLongTimeout: p.HistoryLongTimeout}, a.Logger),
		VES:           fetcher.NewDolarAPI(client, fetcher.DolarAPIOptions{BaseURL: p.VES.BaseURL, HistoryLongTimeout: p.HistoryLongTimeout}, a.Logger),
	}

	chainlink := fetcher.NewChainlink(fetcher.ChainlinkOptions{RPCURL: p.Chainlink.RPCURL, Timeout: p.Chainlink.Timeout}, a.Logger)
	if chainlink.Enabled() {
		providers.CryptoPrice = append(providers.CryptoPrice, chainlink)
	}
	return providers
}

// openRedis returns nil when no Redis endpoint is configured.
func (a *App) openRedis(ctx context.Context) (*redis.Client, error) {
	cfg := a.Config.Redis
	if !cfg.Enabled() {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func (a *App) newCache(rdb *redis.Client) cache.Cache {
	if rdb != nil {
		return cache.NewRedis(rdb, a.Config.Redis.KeyPrefix+"cache:", a.Logger)
	}
	return cache.NewMemory()
}

func (a *App) newLimiter(rdb *redis.Client) ratelimit.Limiter {
	cfg := a.Config.RateLimit
	if !cfg.Enabled {
		return nil
	}
	if rdb != nil {
		return ratelimit.NewRedis(rdb, a.Config.Redis.KeyPrefix, cfg.Limit, cfg.Window, a.Logger)
	}
	return ratelimit.NewMemory(cfg.Limit, cfg.Window)
}

func (a *App) newService(c cache.Cache) *service.Service {
	return service.New(a.newProviders(), c, service.Options{
		PriceTTL:        a.Config.Cache.PriceTTL,
		HistoryShortTTL: a.Config.Cache.HistoryShortTTL,
		HistoryLongTTL:  a.Config.Cache.HistoryLongTTL,
		Location:        a.Config.App.Location(),
	}, a.Logger)
}

func (a *App) newPusher() alerting.Pusher {
	cfg := a.Config.Alerting.Expo
	return alerting.NewExpoPusher(cfg.BaseURL, cfg.AccessToken, cfg.Timeout, a.Logger)
}

func (a *App) newEvaluator(store *storage.Store, prices alerting.PriceSource) *alerting.Evaluator {
	return alerting.NewEvaluator(store, store, prices, a.newPusher(), store, alerting.Options{
		Cooldown:    a.Config.Alerting.Cooldown,
		Concurrency: a.Config.Alerting.Concurrency,
		LockKey:     a.Config.Scheduler.AdvisoryLockKey,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	if a.Config.Database.MigrateOnStart {
		if err := storage.Migrate(a.Config.Database.DSN, false, a.Logger); err != nil {
			return nil, nil, err
		}
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

// Run serves the HTTP API and, when persistence is configured, the alert scheduler until
// SIGINT/SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rdb, err := a.openRedis(ctx)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		a.Logger.Info().Str("addr", a.Config.Redis.Addr).Msg("using redis for cache and rate limiting")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	svc := a.newService(a.newCache(rdb))

	var evaluator *alerting.Evaluator
	if store != nil && a.Config.Alerting.Enabled {
		evaluator = a.newEvaluator(store, svc)
	}

	var handlerEval httpapi.Evaluator
	if evaluator != nil {
		handlerEval = evaluator
	}
	handler := httpapi.NewHandler(svc, handlerEval, a.Config.Alerting.CronSecret, a.Logger)
	server := httpapi.NewServer(a.Config.Server, httpapi.NewRouter(handler, a.newLimiter(rdb), a.Config.RateLimit.TrustProxy, a.Logger), a.Logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		return server.Shutdown(context.Background())
	})

	if evaluator != nil {
		sched := scheduler.New(scheduler.Options{
			Interval:     a.Config.Scheduler.Interval,
			AlignToStart: a.Config.Scheduler.AlignToBucket,
			StartupDelay: a.Config.Scheduler.StartupDelay,
		}, a.Logger)
		g.Go(func() error {
			err := sched.Run(gctx, func(ctx context.Context, _ time.Time) error {
				_, err := evaluator.Tick(ctx)
				return err
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	a.Logger.Info().Bool("alerting", evaluator != nil).Msg("starting pricehub")
	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("pricehub stopped")
	return nil
}

// Evaluate runs a single alert evaluation tick.
func (a *App) Evaluate(ctx context.Context) (alerting.Result, error) {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return alerting.Result{}, err
	}
	if store == nil {
		return alerting.Result{}, fmt.Errorf("database.dsn not configured: %w", storage.ErrNotConfigured)
	}
	defer closeStore()

	return a.newEvaluator(store, a.newService(cache.NewMemory())).Tick(ctx)
}

// Migrate applies (or with down rolls back) the embedded schema migrations.
func (a *App) Migrate(down bool) error {
	if err := storage.Migrate(a.Config.Database.DSN, down, a.Logger); err != nil {
		if errors.Is(err, storage.ErrNotConfigured) {
			return fmt.Errorf("database.dsn not configured: %w", err)
		}
		return err
	}
	return nil
}
