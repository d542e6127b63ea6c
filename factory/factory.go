package factory

import (
	"context"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
	"github.com/lychee-technology/gridbase/internal"
)

// NewTableModel builds a model over one logical table. It verifies the
// physical tables exist, loads the latest published schema for the key and
// binds the model to the requested capability bundle.
//
// Usage:
//
//	config := gridbase.DefaultConfig()
//	model, err := factory.NewTableModel(ctx, config, pool,
//	    "crm", "workspace-1", "tbl_orders", gridbase.BundleFull)
func NewTableModel(ctx context.Context, config *gridbase.Config, pool *pgxpool.Pool, domain, entityID, tableID string, bundle gridbase.Bundle) (gridbase.TableModel, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := verifyTables(ctx, config, pool); err != nil {
		return nil, err
	}

	store := internal.NewSchemaStore(pool, config)
	snap, err := store.Latest(ctx, domain, entityID, internal.EnvPro)
	if err != nil {
		if !gridbase.IsNotFound(err) {
			return nil, err
		}
		// nothing published yet, fall back to the dev snapshot
		snap, err = store.Latest(ctx, domain, entityID, internal.EnvDev)
		if err != nil {
			return nil, err
		}
	}
	schema, err := snap.Schema()
	if err != nil {
		return nil, err
	}
	return NewTableModelWithSchema(config, pool, schema, tableID, bundle)
}

// NewTableModelWithSchema builds a model from an already-materialized schema
// snapshot, skipping the schema store round trip. Callers that cache schemas
// per request scope use this entry point.
func NewTableModelWithSchema(config *gridbase.Config, db internal.DB, schema *gridbase.Schema, tableID string, bundle gridbase.Bundle) (gridbase.TableModel, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	table := schema.TableByID(tableID)
	if table == nil {
		return nil, gridbase.NewTableNotFoundError(tableID)
	}
	if table.Deleted {
		return nil, gridbase.NewTableNotFoundError(tableID)
	}
	model := internal.NewModel(db, config, schema, table, bundle)
	zap.S().Debugw("table model built",
		"table", tableID, "bundle", model.Bundle(), "columns", len(table.Columns))
	return model, nil
}

// NewSchemaStore exposes the schema snapshot store for callers managing
// schema lifecycle (create, patch, publish) outside of a table model.
func NewSchemaStore(config *gridbase.Config, pool *pgxpool.Pool) (*internal.SchemaStore, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return internal.NewSchemaStore(pool, config), nil
}

func verifyTables(ctx context.Context, config *gridbase.Config, pool *pgxpool.Pool) error {
	rows, err := pool.Query(ctx, `SELECT table_name FROM information_schema.tables
		WHERE table_schema = 'public' AND table_type = 'BASE TABLE';`)
	if err != nil {
		return fmt.Errorf("failed to verify database connection: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var tableName string
		if err := rows.Scan(&tableName); err != nil {
			return fmt.Errorf("failed to scan table name: %w", err)
		}
		tables = append(tables, tableName)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}

	names := config.Database.TableNames
	for _, required := range []string{names.Records, names.Links, names.Schemas} {
		if !slices.Contains(tables, required) {
			return fmt.Errorf("required table %q is missing in the database", required)
		}
	}
	return nil
}
