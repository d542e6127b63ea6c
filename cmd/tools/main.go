package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	sugar := logger.Sugar()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: tools <init-db|seed-schema> [args]")
		os.Exit(2)
	}

	config := gridbase.DefaultConfig()
	config.Database.DSN = getEnv("DATABASE_URL", "postgres://postgres@localhost:5432/gridbase?sslmode=disable")
	config.Database.TableNames.Records = getEnv("RECORDS_TABLE", config.Database.TableNames.Records)
	config.Database.TableNames.Links = getEnv("LINKS_TABLE", config.Database.TableNames.Links)
	config.Database.TableNames.Schemas = getEnv("SCHEMAS_TABLE", config.Database.TableNames.Schemas)
	if err := config.Validate(); err != nil {
		sugar.Fatalw("invalid configuration", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := pgxpool.New(ctx, config.Database.DSN)
	if err != nil {
		sugar.Fatalw("failed to create connection pool", "error", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		sugar.Fatalw("failed to reach database", "error", err)
	}

	switch os.Args[1] {
	case "init-db":
		err = initDB(ctx, pool, config)
	case "seed-schema":
		if len(os.Args) < 5 {
			fmt.Fprintln(os.Stderr, "usage: tools seed-schema <domain> <entity-id> <schema.json>")
			os.Exit(2)
		}
		err = seedSchema(ctx, pool, config, os.Args[2], os.Args[3], os.Args[4])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		sugar.Fatalw("command failed", "command", os.Args[1], "error", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
