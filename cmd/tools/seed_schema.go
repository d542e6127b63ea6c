package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
	"github.com/lychee-technology/gridbase/factory"
)

// seedSchema imports a schema document from disk and stores it as version 1
// for the given (domain, entity) key in the dev environment.
func seedSchema(ctx context.Context, pool *pgxpool.Pool, config *gridbase.Config, domain, entityID, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	doc := &gridbase.SchemaDocument{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return fmt.Errorf("parse schema file: %w", err)
	}
	schema := &gridbase.Schema{}
	if err := schema.ImportSchema(doc, false); err != nil {
		return err
	}

	store, err := factory.NewSchemaStore(config, pool)
	if err != nil {
		return err
	}
	snap, err := store.Create(ctx, domain, entityID, schema)
	if err != nil {
		return err
	}
	zap.S().Infow("schema seeded",
		"domain", domain, "entity", entityID, "version", snap.Version, "tables", len(schema.Tables))
	return nil
}
