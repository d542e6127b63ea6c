package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
)

// Deployment environments for schema snapshots.
const (
	EnvDev = "dev"
	EnvPro = "pro"
)

// SchemaSnapshot is one immutable versioned row of the schemas table.
type SchemaSnapshot struct {
	ID        uuid.UUID
	Domain    string
	EntityID  string
	Env       string
	Version   int
	Document  *gridbase.SchemaDocument
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schema materializes the snapshot's document.
func (s *SchemaSnapshot) Schema() (*gridbase.Schema, error) {
	schema := &gridbase.Schema{}
	if err := schema.ImportSchema(s.Document, false); err != nil {
		return nil, err
	}
	return schema, nil
}

// SchemaStore persists versioned schema snapshots keyed by
// (domain, entity, environment). Snapshots are append-only: every change
// lands as a new version, publishing copies the latest dev version into pro.
type SchemaStore struct {
	db      DB
	cfg     *gridbase.Config
	tables  Tables
	nowFunc func() time.Time
}

// NewSchemaStore binds a store to the schemas table.
func NewSchemaStore(db DB, cfg *gridbase.Config) *SchemaStore {
	return &SchemaStore{
		db:      db,
		cfg:     cfg,
		tables:  Tables(cfg.Database.TableNames),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

func (s *SchemaStore) snapshotColumns() string {
	return fmt.Sprintf("%s, %s, %s, %s, %s, %s, %s, %s",
		gridbase.QuoteIdent("id"),
		gridbase.QuoteIdent("domain"),
		gridbase.QuoteIdent("entity_id"),
		gridbase.QuoteIdent("env"),
		gridbase.QuoteIdent("version"),
		gridbase.QuoteIdent("payload"),
		gridbase.QuoteIdent("created_at"),
		gridbase.QuoteIdent("updated_at"))
}

func (s *SchemaStore) scanSnapshot(row pgx.Row) (*SchemaSnapshot, error) {
	var snap SchemaSnapshot
	var payload []byte
	if err := row.Scan(&snap.ID, &snap.Domain, &snap.EntityID, &snap.Env,
		&snap.Version, &payload, &snap.CreatedAt, &snap.UpdatedAt); err != nil {
		return nil, err
	}
	doc := &gridbase.SchemaDocument{}
	if err := json.Unmarshal(payload, doc); err != nil {
		return nil, gridbase.NewInternalError("schema payload is corrupt", err)
	}
	snap.Document = doc
	return &snap, nil
}

// Latest returns the newest snapshot for the key, or a not-found error.
func (s *SchemaStore) Latest(ctx context.Context, domain, entityID, env string) (*SchemaSnapshot, error) {
	return s.latest(ctx, s.db, domain, entityID, env)
}

func (s *SchemaStore) latest(ctx context.Context, q Querier, domain, entityID, env string) (*SchemaSnapshot, error) {
	sql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = $1 AND %s = $2 AND %s = $3 ORDER BY %s DESC LIMIT 1",
		s.snapshotColumns(),
		gridbase.QuoteIdent(s.tables.Schemas),
		gridbase.QuoteIdent("domain"),
		gridbase.QuoteIdent("entity_id"),
		gridbase.QuoteIdent("env"),
		gridbase.QuoteIdent("version"))
	snap, err := s.scanSnapshot(q.QueryRow(ctx, sql, domain, entityID, env))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, gridbase.NewSchemaNotFoundError(domain, entityID)
		}
		return nil, gridbase.NewQueryError("load latest schema", err)
	}
	return snap, nil
}

// Get returns one specific version.
func (s *SchemaStore) Get(ctx context.Context, domain, entityID, env string, version int) (*SchemaSnapshot, error) {
	sql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = $1 AND %s = $2 AND %s = $3 AND %s = $4",
		s.snapshotColumns(),
		gridbase.QuoteIdent(s.tables.Schemas),
		gridbase.QuoteIdent("domain"),
		gridbase.QuoteIdent("entity_id"),
		gridbase.QuoteIdent("env"),
		gridbase.QuoteIdent("version"))
	snap, err := s.scanSnapshot(s.db.QueryRow(ctx, sql, domain, entityID, env, version))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, gridbase.NewSchemaNotFoundError(domain, entityID)
		}
		return nil, gridbase.NewQueryError("load schema version", err)
	}
	return snap, nil
}

// History lists all versions for a key, newest first.
func (s *SchemaStore) History(ctx context.Context, domain, entityID, env string) ([]*SchemaSnapshot, error) {
	sql := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = $1 AND %s = $2 AND %s = $3 ORDER BY %s DESC",
		s.snapshotColumns(),
		gridbase.QuoteIdent(s.tables.Schemas),
		gridbase.QuoteIdent("domain"),
		gridbase.QuoteIdent("entity_id"),
		gridbase.QuoteIdent("env"),
		gridbase.QuoteIdent("version"))
	rows, err := s.db.Query(ctx, sql, domain, entityID, env)
	if err != nil {
		return nil, gridbase.NewQueryError("load schema history", err)
	}
	defer rows.Close()

	var out []*SchemaSnapshot
	for rows.Next() {
		snap, err := s.scanSnapshot(rows)
		if err != nil {
			return nil, gridbase.NewQueryError("scan schema snapshot", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, gridbase.NewQueryError("iterate schema snapshots", err)
	}
	return out, nil
}

func (s *SchemaStore) insert(ctx context.Context, q Querier, domain, entityID, env string, version int, doc *gridbase.SchemaDocument) (*SchemaSnapshot, error) {
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, gridbase.NewInternalError("marshal schema document", err)
	}
	now := s.nowFunc()
	snap := &SchemaSnapshot{
		ID:        uuid.New(),
		Domain:    domain,
		EntityID:  entityID,
		Env:       env,
		Version:   version,
		Document:  doc,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sql := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)",
		gridbase.QuoteIdent(s.tables.Schemas),
		s.snapshotColumns())
	if _, err := q.Exec(ctx, sql, snap.ID, domain, entityID, env, version,
		payload, now, now); err != nil {
		return nil, gridbase.NewQueryError("insert schema snapshot", err)
	}
	return snap, nil
}

// Create stores version 1 of a schema in the dev environment. An existing
// key is a conflict.
func (s *SchemaStore) Create(ctx context.Context, domain, entityID string, schema *gridbase.Schema) (*SchemaSnapshot, error) {
	if domain == "" || entityID == "" {
		return nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidIdentifier,
			"schema domain and entity id are required")
	}
	var snap *SchemaSnapshot
	err := withTx(ctx, s.db, nil, func(q Querier) error {
		if _, err := s.latest(ctx, q, domain, entityID, EnvDev); err == nil {
			return gridbase.NewConflictError(gridbase.ErrCodeSchemaInvalid,
				fmt.Sprintf("schema '%s/%s' already exists", domain, entityID))
		} else if !gridbase.IsNotFound(err) {
			return err
		}
		var err error
		snap, err = s.insert(ctx, q, domain, entityID, EnvDev, 1, schema.ExportSchema())
		return err
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infow("schema created", "domain", domain, "entity", entityID, "version", snap.Version)
	return snap, nil
}

// ApplyPatch applies a JSON Patch to the latest dev document and stores the
// result as the next version. A failing op stops the patch but keeps the
// operations applied before it: the prefix document is persisted with a
// bumped version and returned alongside the failure and the applied list.
// The stored document must re-import cleanly before anything is written.
func (s *SchemaStore) ApplyPatch(ctx context.Context, domain, entityID string, ops []gridbase.PatchOp) (*SchemaSnapshot, []gridbase.PatchOp, error) {
	var snap *SchemaSnapshot
	var applied []gridbase.PatchOp
	var patchErr error
	err := withTx(ctx, s.db, nil, func(q Querier) error {
		current, err := s.latest(ctx, q, domain, entityID, EnvDev)
		if err != nil {
			return err
		}

		// round-trip through plain JSON so patch paths address the
		// serialized shape clients see
		raw, err := json.Marshal(current.Document)
		if err != nil {
			return gridbase.NewInternalError("marshal schema document", err)
		}
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			return gridbase.NewInternalError("unmarshal schema document", err)
		}
		var patched any
		patched, applied, err = gridbase.ApplyPatch(doc, ops)
		if err != nil {
			patchErr = gridbase.NewBadRequestError(gridbase.ErrCodePatchFailed,
				fmt.Sprintf("patch failed after %d operations", len(applied))).WithCause(err)
			if len(applied) == 0 {
				return patchErr
			}
			// fall through: the prefix is still stored as the next version
		}

		patchedRaw, err := json.Marshal(patched)
		if err != nil {
			return gridbase.NewInternalError("marshal patched document", err)
		}
		next := &gridbase.SchemaDocument{}
		if err := json.Unmarshal(patchedRaw, next); err != nil {
			return gridbase.NewBadRequestError(gridbase.ErrCodeSchemaInvalid,
				"patched document does not parse as a schema").WithCause(err)
		}
		validated := &gridbase.Schema{}
		if err := validated.ImportSchema(next, false); err != nil {
			return err
		}

		snap, err = s.insert(ctx, q, domain, entityID, EnvDev, current.Version+1, next)
		return err
	})
	if err != nil {
		return nil, applied, err
	}
	zap.S().Infow("schema patched",
		"domain", domain, "entity", entityID, "version", snap.Version,
		"applied", len(applied), "ops", len(ops))
	return snap, applied, patchErr
}

// Publish copies the latest dev snapshot into the pro environment as its
// next version.
func (s *SchemaStore) Publish(ctx context.Context, domain, entityID string) (*SchemaSnapshot, error) {
	var snap *SchemaSnapshot
	err := withTx(ctx, s.db, nil, func(q Querier) error {
		dev, err := s.latest(ctx, q, domain, entityID, EnvDev)
		if err != nil {
			return err
		}
		version := 1
		if pro, err := s.latest(ctx, q, domain, entityID, EnvPro); err == nil {
			version = pro.Version + 1
		} else if !gridbase.IsNotFound(err) {
			return err
		}
		snap, err = s.insert(ctx, q, domain, entityID, EnvPro, version, dev.Document)
		return err
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infow("schema published", "domain", domain, "entity", entityID, "version", snap.Version)
	return snap, nil
}
