package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
)

// initDB creates the three physical tables and their indexes. Statements are
// idempotent so the command can run against an initialized database.
func initDB(ctx context.Context, pool *pgxpool.Pool, config *gridbase.Config) error {
	names := config.Database.TableNames
	records := gridbase.QuoteIdent(names.Records)
	links := gridbase.QuoteIdent(names.Links)
	schemas := gridbase.QuoteIdent(names.Schemas)

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          varchar(26) PRIMARY KEY,
			table_id    varchar(64) NOT NULL,
			data        jsonb NOT NULL DEFAULT '{}'::jsonb,
			created_at  timestamptz NOT NULL DEFAULT now(),
			updated_at  timestamptz NOT NULL DEFAULT now(),
			created_by  varchar(128),
			updated_by  varchar(128)
		)`, records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (table_id, created_at)`,
			gridbase.QuoteIdent(names.Records+"_table_created_idx"), records),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING gin (data)`,
			gridbase.QuoteIdent(names.Records+"_data_idx"), records),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id                varchar(26) PRIMARY KEY,
			source_record_id  varchar(26) NOT NULL,
			target_record_id  varchar(26) NOT NULL,
			link_field_id     varchar(64) NOT NULL,
			inverse_field_id  varchar(64),
			created_at        timestamptz NOT NULL DEFAULT now(),
			UNIQUE (link_field_id, source_record_id, target_record_id)
		)`, links),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (source_record_id)`,
			gridbase.QuoteIdent(names.Links+"_source_idx"), links),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (target_record_id)`,
			gridbase.QuoteIdent(names.Links+"_target_idx"), links),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          uuid PRIMARY KEY,
			domain      varchar(128) NOT NULL,
			entity_id   varchar(128) NOT NULL,
			env         varchar(16) NOT NULL,
			version     integer NOT NULL,
			payload     jsonb NOT NULL,
			created_at  timestamptz NOT NULL DEFAULT now(),
			updated_at  timestamptz NOT NULL DEFAULT now(),
			UNIQUE (domain, entity_id, env, version)
		)`, schemas),
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init-db statement failed: %w", err)
		}
	}
	zap.S().Infow("database initialized",
		"records", names.Records, "links", names.Links, "schemas", names.Schemas)
	return nil
}
