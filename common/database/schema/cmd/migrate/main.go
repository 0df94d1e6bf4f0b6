package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"jobwatch/common/database"
	"jobwatch/common/database/schema"
	"jobwatch/common/database/schema/migrations"

	"go.uber.org/zap"
)

func main() {
	dsn := flag.String("dsn", envOr("CLICKHOUSE_DSN", "127.0.0.1:9000"), "ClickHouse host:port")
	db := flag.String("database", envOr("CLICKHOUSE_DATABASE", "jobwatch"), "ClickHouse database")
	user := flag.String("user", envOr("CLICKHOUSE_USERNAME", "default"), "ClickHouse user")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := database.New(ctx, database.Options{
		DSN:      *dsn,
		Database: *db,
		Username: *user,
		Password: os.Getenv("CLICKHOUSE_PASSWORD"),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to ClickHouse", zap.Error(err))
	}
	defer conn.Close()

	migrator := schema.NewMigrator(conn.Conn(), logger)

	applied, err := migrator.Migrate(ctx, migrations.All)
	if err != nil {
		logger.Fatal("Failed to apply migrations", zap.Error(err))
	}

	logger.Info("All migrations completed successfully", zap.Int("applied", applied))
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
