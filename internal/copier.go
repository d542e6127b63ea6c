package internal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
)

// Copier duplicates records, optionally cloning their relation graph.
type Copier struct {
	db       DB
	cfg      *gridbase.Config
	tables   Tables
	compiler *Compiler
	table    *gridbase.Table
	records  *RecordRepo
}

// NewCopier binds a copier to one logical table.
func NewCopier(db DB, cfg *gridbase.Config, compiler *Compiler, table *gridbase.Table, records *RecordRepo) *Copier {
	return &Copier{
		db:       db,
		cfg:      cfg,
		tables:   Tables(cfg.Database.TableNames),
		compiler: compiler,
		table:    table,
		records:  records,
	}
}

func (c *Copier) repoFor(table *gridbase.Table) *RecordRepo {
	if table.ID == c.table.ID {
		return c.records
	}
	repo := NewRecordRepo(c.db, c.cfg, c.compiler, table)
	repo.nowFunc = c.records.nowFunc
	repo.newID = c.records.newID
	return repo
}

func (c *Copier) maxDepth(opts *gridbase.CopyOptions) int {
	if opts != nil && opts.MaxDepth > 0 {
		return opts.MaxDepth
	}
	return c.cfg.Copy.MaxDepth
}

// copyPayload builds the clone's payload from the source record: user-stored
// columns only, system and excluded fields stripped. A cell that fails
// coercion is dropped with a warning rather than failing the copy.
func copyPayload(table *gridbase.Table, src gridbase.Record, exclude []string) gridbase.Record {
	excluded := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		excluded[name] = true
	}
	payload := make(gridbase.Record)
	for _, col := range table.Columns {
		if col.PK || col.IsVirtual() || col.IsSystem() || col.Type == gridbase.ColTypeLink {
			continue
		}
		if excluded[col.ID] || excluded[col.Name] || excluded[col.Title] {
			continue
		}
		val, ok := src[col.Name]
		if !ok || val == nil {
			continue
		}
		if _, err := CoerceValue(col, val); err != nil {
			zap.S().Warnw("dropping uncopyable cell",
				"table", table.ID, "column", col.Name, "error", err)
			continue
		}
		payload[col.Name] = val
	}
	return payload
}

// CopyRecord clones one record. With CopyRelations the clone is linked to
// the same targets as the source; the targets themselves are not cloned.
func (c *Copier) CopyRecord(ctx context.Context, id string, opts *gridbase.CopyOptions) (gridbase.Record, error) {
	if opts == nil {
		opts = &gridbase.CopyOptions{}
	}
	var clone gridbase.Record
	err := withTx(ctx, c.db, opts.Tx, func(q Querier) error {
		var err error
		clone, err = c.copyOne(ctx, q, c.table, id, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infow("record copied", "table", c.table.ID, "source", id, "copy", clone.ID())
	return clone, nil
}

func (c *Copier) copyOne(ctx context.Context, q Querier, table *gridbase.Table, id string, opts *gridbase.CopyOptions) (gridbase.Record, error) {
	repo := c.repoFor(table)
	src, err := repo.readByPK(ctx, q, id, nil)
	if err != nil {
		return nil, err
	}
	clone, err := repo.insert(ctx, q, copyPayload(table, src, opts.ExcludeFields))
	if err != nil {
		return nil, err
	}
	if opts.CopyRelations {
		if err := c.relinkEdges(ctx, q, table, id, clone.ID(), nil); err != nil {
			return nil, err
		}
	}
	return clone, nil
}

// relinkEdges re-creates the source record's outgoing link edges on the
// clone. When idMap is non-nil, targets already cloned are substituted.
func (c *Copier) relinkEdges(ctx context.Context, q Querier, table *gridbase.Table, srcID, cloneID string, idMap map[string]string) error {
	edgeSQL := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s = $1",
		gridbase.QuoteIdent("target_record_id"),
		gridbase.QuoteIdent("link_field_id"),
		gridbase.QuoteIdent("inverse_field_id"),
		gridbase.QuoteIdent(c.tables.Links),
		gridbase.QuoteIdent("source_record_id"))
	rows, err := q.Query(ctx, edgeSQL, srcID)
	if err != nil {
		return gridbase.NewQueryError("load edges for copy", err)
	}
	defer rows.Close()

	type edge struct{ target, fieldID, inverseID string }
	var edges []edge
	for rows.Next() {
		var e edge
		if err := rows.Scan(&e.target, &e.fieldID, &e.inverseID); err != nil {
			return gridbase.NewQueryError("scan edge for copy", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return gridbase.NewQueryError("iterate edges for copy", err)
	}

	now := c.records.nowFunc()
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING",
		gridbase.QuoteIdent(c.tables.Links),
		gridbase.QuoteIdent("id"),
		gridbase.QuoteIdent("source_record_id"),
		gridbase.QuoteIdent("target_record_id"),
		gridbase.QuoteIdent("link_field_id"),
		gridbase.QuoteIdent("inverse_field_id"),
		gridbase.QuoteIdent("created_at"))
	for _, e := range edges {
		target := e.target
		if idMap != nil {
			if mapped, ok := idMap[target]; ok {
				target = mapped
			}
		}
		if _, err := q.Exec(ctx, insertSQL, c.records.newID(), cloneID, target, e.fieldID, e.inverseID, now); err != nil {
			return gridbase.NewQueryError("copy link edge", err)
		}
		if e.inverseID != "" {
			if _, err := q.Exec(ctx, insertSQL, c.records.newID(), target, cloneID, e.inverseID, e.fieldID, now); err != nil {
				return gridbase.NewQueryError("copy mirrored link edge", err)
			}
		}
	}
	return nil
}

// DeepCopy clones a record and, depth permitting, its whole relation graph.
// A record reached twice is cloned once; past the depth cutoff the clone is
// linked to the original target instead of a fresh clone.
func (c *Copier) DeepCopy(ctx context.Context, id string, opts *gridbase.CopyOptions) (gridbase.Record, error) {
	if opts == nil {
		opts = &gridbase.CopyOptions{}
	}
	var clone gridbase.Record
	err := withTx(ctx, c.db, opts.Tx, func(q Querier) error {
		visited := make(map[string]string)
		var err error
		clone, err = c.deepCopy(ctx, q, c.table, id, opts, visited, 0)
		return err
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infow("record deep-copied", "table", c.table.ID, "source", id, "copy", clone.ID())
	return clone, nil
}

func (c *Copier) deepCopy(ctx context.Context, q Querier, table *gridbase.Table, id string, opts *gridbase.CopyOptions, visited map[string]string, depth int) (gridbase.Record, error) {
	if cloneID, ok := visited[id]; ok {
		return c.repoFor(table).readByPK(ctx, q, cloneID, nil)
	}
	repo := c.repoFor(table)
	src, err := repo.readByPK(ctx, q, id, nil)
	if err != nil {
		return nil, err
	}
	clone, err := repo.insert(ctx, q, copyPayload(table, src, opts.ExcludeFields))
	if err != nil {
		return nil, err
	}
	visited[id] = clone.ID()

	for _, linkCol := range table.LinkColumns() {
		lo := linkCol.LinkOptions()
		if lo == nil || lo.Kind != gridbase.LinkMM {
			continue
		}
		related := c.compiler.schema.TableByID(lo.RelatedTableID)
		if related == nil {
			zap.S().Warnw("skipping link with missing related table",
				"table", table.ID, "column", linkCol.ID, "related", lo.RelatedTableID)
			continue
		}
		targets, err := c.edgeTargets(ctx, q, linkCol.ID, id)
		if err != nil {
			return nil, err
		}
		idMap := make(map[string]string, len(targets))
		for _, target := range targets {
			if depth+1 > c.maxDepth(opts) {
				// cutoff: the clone links back to the original target
				continue
			}
			targetClone, err := c.deepCopy(ctx, q, related, target, opts, visited, depth+1)
			if err != nil {
				return nil, err
			}
			idMap[target] = targetClone.ID()
		}
		if err := c.relinkColumn(ctx, q, linkCol, lo, clone.ID(), targets, idMap); err != nil {
			return nil, err
		}
	}
	return clone, nil
}

func (c *Copier) edgeTargets(ctx context.Context, q Querier, linkColID, sourceID string) ([]string, error) {
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 AND %s = $2 ORDER BY %s ASC",
		gridbase.QuoteIdent("target_record_id"),
		gridbase.QuoteIdent(c.tables.Links),
		gridbase.QuoteIdent("link_field_id"),
		gridbase.QuoteIdent("source_record_id"),
		gridbase.QuoteIdent("created_at"))
	rows, err := q.Query(ctx, sql, linkColID, sourceID)
	if err != nil {
		return nil, gridbase.NewQueryError("load edge targets", err)
	}
	defer rows.Close()
	var targets []string
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, gridbase.NewQueryError("scan edge target", err)
		}
		targets = append(targets, target)
	}
	if err := rows.Err(); err != nil {
		return nil, gridbase.NewQueryError("iterate edge targets", err)
	}
	return targets, nil
}

func (c *Copier) relinkColumn(ctx context.Context, q Querier, linkCol *gridbase.Column, lo *gridbase.LinkOptions, cloneID string, targets []string, idMap map[string]string) error {
	now := c.records.nowFunc()
	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s) VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT DO NOTHING",
		gridbase.QuoteIdent(c.tables.Links),
		gridbase.QuoteIdent("id"),
		gridbase.QuoteIdent("source_record_id"),
		gridbase.QuoteIdent("target_record_id"),
		gridbase.QuoteIdent("link_field_id"),
		gridbase.QuoteIdent("inverse_field_id"),
		gridbase.QuoteIdent("created_at"))
	// a one-directional link stores NULL in the inverse column
	var inverse any
	if lo.SymmetricColumnID != "" {
		inverse = lo.SymmetricColumnID
	}
	for _, target := range targets {
		linkTo := target
		if mapped, ok := idMap[target]; ok {
			linkTo = mapped
		}
		if _, err := q.Exec(ctx, insertSQL, c.records.newID(), cloneID, linkTo, linkCol.ID, inverse, now); err != nil {
			return gridbase.NewQueryError("relink copied record", err)
		}
		if lo.SymmetricColumnID != "" {
			if _, err := q.Exec(ctx, insertSQL, c.records.newID(), linkTo, cloneID, lo.SymmetricColumnID, linkCol.ID, now); err != nil {
				return gridbase.NewQueryError("relink mirrored edge", err)
			}
		}
	}
	return nil
}

// CopyTable clones every record of one logical table into another, matching
// columns by storage name, and returns the source-to-clone id map.
func (c *Copier) CopyTable(ctx context.Context, srcTableID, tgtTableID string, opts *gridbase.CopyOptions) (map[string]string, error) {
	if opts == nil {
		opts = &gridbase.CopyOptions{}
	}
	src := c.compiler.schema.TableByID(srcTableID)
	if src == nil {
		return nil, gridbase.NewTableNotFoundError(srcTableID)
	}
	tgt := c.compiler.schema.TableByID(tgtTableID)
	if tgt == nil {
		return nil, gridbase.NewTableNotFoundError(tgtTableID)
	}

	idMap := make(map[string]string)
	err := withTx(ctx, c.db, opts.Tx, func(q Querier) error {
		srcRepo := c.repoFor(src)
		tgtRepo := c.repoFor(tgt)

		offset := 0
		limit := c.cfg.Query.LimitMax
		for {
			qb, _, err := srcRepo.baseQuery(nil)
			if err != nil {
				return err
			}
			qb.OrderBy(fmt.Sprintf("%s ASC", gridbase.QuoteIdent(recordAlias, gridbase.FieldCreatedAt)))
			qb.OrderBy(fmt.Sprintf("%s ASC", gridbase.QuoteIdent(recordAlias, gridbase.FieldID)))
			qb.Limit(limit, offset)
			sql, args := qb.Build()
			batch, err := srcRepo.scanRecords(ctx, q, sql, args)
			if err != nil {
				return err
			}
			if len(batch) == 0 {
				break
			}
			for _, rec := range batch {
				clone, err := tgtRepo.insert(ctx, q, copyPayload(tgt, rec, opts.ExcludeFields))
				if err != nil {
					return err
				}
				idMap[rec.ID()] = clone.ID()
			}
			offset += len(batch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infow("table copied", "source", srcTableID, "target", tgtTableID, "rows", len(idMap))
	return idMap, nil
}
