// Package app wires the ingestion service together for both binaries.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"jobwatch/common/cache"
	"jobwatch/common/cache/memory"
	rediscache "jobwatch/common/cache/redis"
	"jobwatch/common/telemetry"
	"jobwatch/services/ingestion/internal/config"
	domainerrors "jobwatch/services/ingestion/internal/errors"
	"jobwatch/services/ingestion/internal/fetch"
	"jobwatch/services/ingestion/internal/httpapi"
	"jobwatch/services/ingestion/internal/ingest"
	"jobwatch/services/ingestion/internal/ledger"
	"jobwatch/services/ingestion/internal/ledger/csvstore"
	"jobwatch/services/ingestion/internal/ledger/pgstore"
	"jobwatch/services/ingestion/internal/ledger/redisstore"
	"jobwatch/services/ingestion/internal/ledger/sqlitestore"
	"jobwatch/services/ingestion/internal/logbuf"
	"jobwatch/services/ingestion/internal/messaging"
	"jobwatch/services/ingestion/internal/notify"
	"jobwatch/services/ingestion/internal/scheduler"
	"jobwatch/services/ingestion/internal/source"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "jobwatch-ingestion"

// Module provides every component of the pipeline. Binaries add their own
// fx.Invoke calls on top.
var Module = fx.Options(
	fx.Provide(
		config.LoadConfig,
		NewLifetime,
		NewLogBuffer,
		NewLogger,
		NewDocumentStore,
		NewCache,
		NewLedgerStore,
		NewLedger,
		NewSource,
		NewRetrier,
		NewNotifier,
		NewCycle,
		NewScheduler,
	),
	fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: logger.Named("fx")}
	}),
	fx.Invoke(InitTracing),
)

// Lifetime is cancelled when the application stops. Work started outside a
// request (scheduled loops, triggered cycles) runs under it.
type Lifetime struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func NewLifetime(lc fx.Lifecycle) *Lifetime {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		cancel()
		return nil
	}})
	return &Lifetime{ctx: ctx, cancel: cancel}
}

func (l *Lifetime) Context() context.Context { return l.ctx }

func NewLogBuffer(cfg *config.Config) *logbuf.Buffer {
	return logbuf.New(cfg.LogBufferLines)
}

func NewLogger(cfg *config.Config, buf *logbuf.Buffer) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.LogDevelopment {
		level = zapcore.DebugLevel
		return zap.NewDevelopment(buf.Tee(level))
	}
	return zap.NewProduction(buf.Tee(level))
}

func InitTracing(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) error {
	shutdown, err := telemetry.InitTracer(context.Background(), serviceName, cfg.OTELCollectorURL)
	if err != nil {
		return err
	}
	if cfg.OTELCollectorURL != "" {
		logger.Info("tracing enabled", zap.String("collector", cfg.OTELCollectorURL))
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		shutdown()
		return nil
	}})
	return nil
}

func NewDocumentStore(cfg *config.Config) *config.Store {
	return config.NewStore(cfg.DocumentPath)
}

// NewCache returns the Redis cache when REDIS_ADDR is set and an in-process
// cache otherwise.
func NewCache(lc fx.Lifecycle, cfg *config.Config) cache.Cache {
	opts := cache.DefaultOptions()
	opts.RedisAddr = cfg.RedisAddr
	opts.RedisPassword = cfg.RedisPassword
	opts.RedisDB = cfg.RedisDB
	if cfg.FetchCacheTTL > 0 {
		opts.TTL = cfg.FetchCacheTTL
	}

	var c cache.Cache
	if cfg.RedisAddr != "" {
		c = rediscache.New(opts)
	} else {
		c = memory.New(opts)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return c.Close() }})
	return c
}

func NewLedgerStore(cfg *config.Config, logger *zap.Logger, c cache.Cache) (ledger.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cfg.LedgerBackend {
	case config.LedgerSQLite:
		return sqlitestore.Open(cfg.LedgerPath, logger.Named("ledger"))
	case config.LedgerPostgres:
		return pgstore.Open(ctx, cfg.LedgerDSN)
	case config.LedgerRedis:
		if rc, ok := c.(*rediscache.Cache); ok {
			return redisstore.New(rc.Client(), redisstore.DefaultKey), nil
		}
		return redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return csvstore.Open(cfg.LedgerPath, logger.Named("ledger"))
	}
}

func NewLedger(lc fx.Lifecycle, logger *zap.Logger, store ledger.Store) *ledger.Ledger {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	l := ledger.Open(ctx, logger.Named("ledger"), store)
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return l.Close() }})
	return l
}

func NewSource(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, c cache.Cache) (source.Fetcher, error) {
	var fetchers []source.Fetcher
	if cfg.ScraperURL != "" {
		fetchers = append(fetchers, source.NewHTTPClient(logger.Named("scraper"), source.HTTPClientOptions{
			URL:      cfg.ScraperURL,
			Timeout:  cfg.ScraperTimeout,
			RPS:      cfg.ScraperRPS,
			ViaProxy: cfg.ScraperProxied,
			Cache:    c,
			CacheTTL: cfg.FetchCacheTTL,
		}))
	}
	if len(cfg.FeedURLs) > 0 {
		fetchers = append(fetchers, source.NewFeedClient(logger.Named("feeds"), cfg.FeedURLs, cfg.ScraperTimeout, cfg.ScraperRPS))
	}

	var src source.Fetcher
	switch len(fetchers) {
	case 0:
		return nil, domainerrors.Config("no listing source configured: set SCRAPER_URL or FEED_URLS", nil)
	case 1:
		src = fetchers[0]
	default:
		src = source.NewMulti(logger.Named("sources"), fetchers...)
	}
	if ic, ok := src.(source.IdleCloser); ok {
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			ic.CloseIdleConnections()
			return nil
		}})
	}
	return src, nil
}

func NewRetrier(cfg *config.Config, logger *zap.Logger, src source.Fetcher) *fetch.Retrier {
	return fetch.NewRetrier(logger.Named("fetch"), src, fetch.Options{
		MaxAttempts:   cfg.MaxAttempts,
		Cooldown:      cfg.RetryDelay,
		Sites:         cfg.Sites,
		ResultsWanted: cfg.ResultsWanted,
		HoursOld:      cfg.HoursOld,
		Country:       cfg.Country,
	})
}

// NewNotifier fans out to every configured channel, falling back to the log
// when none is configured.
func NewNotifier(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (notify.Notifier, error) {
	var channels notify.Multi

	if cfg.SenderEmail != "" && cfg.RecipientEmail != "" {
		email, err := notify.NewEmail(logger.Named("email"), notify.EmailConfig{
			Host:           cfg.SMTPHost,
			Port:           cfg.SMTPPort,
			Sender:         cfg.SenderEmail,
			Password:       cfg.SenderPassword,
			Recipient:      cfg.RecipientEmail,
			KeyringAccount: cfg.KeyringAccount,
			Timeout:        cfg.SMTPTimeout,
		})
		if err != nil {
			return nil, err
		}
		channels = append(channels, email)
	}

	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegram(logger.Named("telegram"), cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		channels = append(channels, tg)
	}

	if cfg.NATSURL != "" {
		publisher, err := messaging.NewPublisher(logger.Named("nats"), cfg)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{OnStop: func(context.Context) error {
			publisher.Close()
			return nil
		}})
		channels = append(channels, notify.NewEvents(publisher))
	}

	if len(channels) == 0 {
		logger.Warn("no notification channel configured, new listings will only be logged")
		return notify.Log{Logger: logger.Named("notify")}, nil
	}
	return channels, nil
}

func NewCycle(logger *zap.Logger, retrier *fetch.Retrier, l *ledger.Ledger, n notify.Notifier) *ingest.Cycle {
	return ingest.NewCycle(logger.Named("cycle"), retrier, l, n)
}

func NewScheduler(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, cycle *ingest.Cycle, docs *config.Store, life *Lifetime) *scheduler.Scheduler {
	s := scheduler.NewScheduler(logger.Named("scheduler"), cycle, docs, scheduler.Options{
		CrashCooldown: cfg.CrashCooldown,
	})
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		s.Stop()
		life.cancel()
		return s.Wait(ctx)
	}})
	return s
}

// StartScheduler starts the recurring loop when the app starts.
func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler, life *Lifetime) {
	lc.Append(fx.Hook{OnStart: func(context.Context) error {
		return s.Start(life.Context())
	}})
}

// AutoStartScheduler starts the loop only when SCHEDULER_AUTOSTART is set.
func AutoStartScheduler(lc fx.Lifecycle, cfg *config.Config, s *scheduler.Scheduler, life *Lifetime) {
	if cfg.AutoStart {
		StartScheduler(lc, s, life)
	}
}

func RegisterHTTPServer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, s *scheduler.Scheduler,
	docs *config.Store, l *ledger.Ledger, buf *logbuf.Buffer, life *Lifetime, shutdowner fx.Shutdowner) {
	api := httpapi.NewServer(logger.Named("http"), httpapi.Deps{
		Scheduler:   s,
		Config:      docs,
		Ledger:      l,
		Logs:        buf,
		BaseContext: life.Context(),
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.HTTPAddr)
			if err != nil {
				return err
			}
			logger.Info("control API listening", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("control API failed", zap.Error(err))
					if serr := shutdowner.Shutdown(fx.ExitCode(1)); serr != nil {
						logger.Error("failed to request shutdown", zap.Error(serr))
					}
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
