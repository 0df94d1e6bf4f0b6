package main

import (
	"context"
	"log"

	"jobwatch/common/database"
	"jobwatch/common/database/schema"
	"jobwatch/common/database/schema/migrations"
	"jobwatch/common/telemetry"
	"jobwatch/services/processing/internal/config"
	"jobwatch/services/processing/internal/events"
	"jobwatch/services/processing/internal/processor"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.LogDevelopment {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func newNATSConnection(lc fx.Lifecycle, cfg *config.Config) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Timeout(cfg.NATSConnTimeout),
		nats.Name("processing-service"),
		nats.RetryOnFailedConnect(true),
	}
	nc, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			nc.Close()
			return nil
		},
	})
	return nc, nil
}

func newClickHouseConnection(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (clickhouse.Conn, error) {
	db, err := database.New(context.Background(), database.Options{
		DSN:             cfg.ClickHouseDSN,
		MaxOpenConns:    cfg.ClickHouseMaxOpenConns,
		MaxIdleConns:    cfg.ClickHouseMaxIdleConns,
		ConnMaxLifetime: cfg.ClickHouseConnMaxLife,
		Username:        cfg.ClickHouseUsername,
		Password:        cfg.ClickHousePassword,
		Database:        cfg.ClickHouseDatabase,
	}, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return db.Close()
		},
	})
	return db.Conn(), nil
}

func newTracer() trace.Tracer {
	return telemetry.GetTracer("jobwatch/processing")
}

func initTracing(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) error {
	if cfg.OTELCollectorURL == "" {
		return nil
	}
	shutdown, err := telemetry.InitTracer(context.Background(), "processing-service", cfg.OTELCollectorURL)
	if err != nil {
		return err
	}
	logger.Info("Tracing enabled", zap.String("collector", cfg.OTELCollectorURL))
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			shutdown()
			return nil
		},
	})
	return nil
}

func migrate(lc fx.Lifecycle, conn clickhouse.Conn, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			applied, err := schema.NewMigrator(conn, logger).Migrate(ctx, migrations.All)
			if err != nil {
				return err
			}
			logger.Info("Schema up to date", zap.Int("applied", applied))
			return nil
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,
			newLogger,
			newNATSConnection,
			newClickHouseConnection,
			fx.Annotate(processor.NewClickHouseStore, fx.As(new(processor.ListingStore))),
			fx.Annotate(processor.NewListingArchiver, fx.As(new(events.Archiver))),
			events.NewHandler,
			newTracer,
		),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
		fx.Invoke(
			initTracing,
			migrate,
			func(handler *events.Handler, lc fx.Lifecycle) error {
				return handler.RegisterSubscriptions(lc)
			},
		),
	)

	if err := app.Start(context.Background()); err != nil {
		log.Fatal(err)
	}

	<-app.Done()

	if err := app.Stop(context.Background()); err != nil {
		log.Fatal(err)
	}
}
