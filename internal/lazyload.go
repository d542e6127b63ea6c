package internal

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
)

// LazyLoader batches relation loading: a page of N parents costs one edge
// query plus one child query per relation column instead of N. Loaded sets
// are cached per loader instance; a loader is scoped to one request, so the
// cache never outlives the schema snapshot it was built from.
type LazyLoader struct {
	db       DB
	cfg      *gridbase.Config
	tables   Tables
	compiler *Compiler
	table    *gridbase.Table
	records  *RecordRepo

	mu    sync.Mutex
	cache map[string]map[string][]gridbase.Record
}

// NewLazyLoader binds a loader to one logical table.
func NewLazyLoader(db DB, cfg *gridbase.Config, compiler *Compiler, table *gridbase.Table, records *RecordRepo) *LazyLoader {
	return &LazyLoader{
		db:       db,
		cfg:      cfg,
		tables:   Tables(cfg.Database.TableNames),
		compiler: compiler,
		table:    table,
		records:  records,
		cache:    make(map[string]map[string][]gridbase.Record),
	}
}

// ClearCache drops cached relation sets for the named columns, or all of
// them when none are named.
func (l *LazyLoader) ClearCache(columnIDs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(columnIDs) == 0 {
		l.cache = make(map[string]map[string][]gridbase.Record)
		return
	}
	for _, id := range columnIDs {
		delete(l.cache, id)
	}
}

func (l *LazyLoader) cached(columnID string, parentIDs []string) (map[string][]gridbase.Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.cache[columnID]
	if !ok {
		return nil, false
	}
	out := make(map[string][]gridbase.Record, len(parentIDs))
	for _, id := range parentIDs {
		children, ok := set[id]
		if !ok {
			return nil, false
		}
		out[id] = children
	}
	return out, true
}

func (l *LazyLoader) store(columnID string, loaded map[string][]gridbase.Record) {
	l.mu.Lock()
	defer l.mu.Unlock()
	set, ok := l.cache[columnID]
	if !ok {
		set = make(map[string][]gridbase.Record)
		l.cache[columnID] = set
	}
	for parentID, children := range loaded {
		set[parentID] = children
	}
}

// BatchLoadRelated loads the related records for every parent in one pass
// and returns them keyed by parent id. Parents without children map to an
// empty slice.
func (l *LazyLoader) BatchLoadRelated(ctx context.Context, records []gridbase.Record, columnID string) (map[string][]gridbase.Record, error) {
	col := l.table.ColumnByRef(columnID)
	if col == nil {
		return nil, gridbase.NewColumnNotFoundError(columnID)
	}
	lo := col.LinkOptions()
	if lo == nil {
		return nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidLink,
			fmt.Sprintf("column '%s' is not a link column", columnID))
	}
	related := l.compiler.schema.TableByID(lo.RelatedTableID)
	if related == nil {
		return nil, gridbase.NewTableNotFoundError(lo.RelatedTableID)
	}

	parentIDs := make([]string, 0, len(records))
	seen := make(map[string]bool, len(records))
	for _, rec := range records {
		id := rec.ID()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		parentIDs = append(parentIDs, id)
	}
	if len(parentIDs) == 0 {
		return map[string][]gridbase.Record{}, nil
	}

	if hit, ok := l.cached(col.ID, parentIDs); ok {
		return hit, nil
	}

	var (
		loaded map[string][]gridbase.Record
		err    error
	)
	switch lo.Kind {
	case gridbase.LinkMM:
		loaded, err = l.loadMM(ctx, col, related, parentIDs)
	case gridbase.LinkHM:
		loaded, err = l.loadHM(ctx, lo, related, parentIDs)
	case gridbase.LinkBT:
		loaded, err = l.loadBT(ctx, lo, related, records, parentIDs)
	default:
		err = gridbase.NewBadRequestError(gridbase.ErrCodeInvalidLink,
			fmt.Sprintf("unsupported link kind '%s'", lo.Kind))
	}
	if err != nil {
		return nil, err
	}
	for _, id := range parentIDs {
		if _, ok := loaded[id]; !ok {
			loaded[id] = []gridbase.Record{}
		}
	}
	l.store(col.ID, loaded)
	zap.S().Debugw("relations batch loaded",
		"table", l.table.ID, "column", col.ID, "parents", len(parentIDs))
	return loaded, nil
}

func (l *LazyLoader) childRepo(related *gridbase.Table) *RecordRepo {
	repo := NewRecordRepo(l.db, l.cfg, l.compiler, related)
	repo.nowFunc = l.records.nowFunc
	repo.newID = l.records.newID
	return repo
}

// loadMM walks the edge list once, then fetches all distinct children.
func (l *LazyLoader) loadMM(ctx context.Context, col *gridbase.Column, related *gridbase.Table, parentIDs []string) (map[string][]gridbase.Record, error) {
	edgeSQL := fmt.Sprintf("SELECT %s, %s FROM %s WHERE %s = $1 AND %s = ANY($2) ORDER BY %s ASC",
		gridbase.QuoteIdent("source_record_id"),
		gridbase.QuoteIdent("target_record_id"),
		gridbase.QuoteIdent(l.tables.Links),
		gridbase.QuoteIdent("link_field_id"),
		gridbase.QuoteIdent("source_record_id"),
		gridbase.QuoteIdent("created_at"))

	ctx, cancel := l.records.queryCtx(ctx)
	defer cancel()
	rows, err := l.db.Query(ctx, edgeSQL, col.ID, parentIDs)
	if err != nil {
		return nil, gridbase.NewQueryError("load link edges", err)
	}
	defer rows.Close()

	edges := make(map[string][]string)
	childSet := make(map[string]bool)
	for rows.Next() {
		var source, target string
		if err := rows.Scan(&source, &target); err != nil {
			return nil, gridbase.NewQueryError("scan link edge", err)
		}
		edges[source] = append(edges[source], target)
		childSet[target] = true
	}
	if err := rows.Err(); err != nil {
		return nil, gridbase.NewQueryError("iterate link edges", err)
	}
	if len(childSet) == 0 {
		return map[string][]gridbase.Record{}, nil
	}

	childIDs := make([]string, 0, len(childSet))
	for id := range childSet {
		childIDs = append(childIDs, id)
	}
	children, err := l.childRepo(related).rehydrate(ctx, l.db, childIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]gridbase.Record, len(children))
	for _, child := range children {
		byID[child.ID()] = child
	}

	out := make(map[string][]gridbase.Record, len(edges))
	for parentID, targets := range edges {
		for _, target := range targets {
			if child, ok := byID[target]; ok {
				out[parentID] = append(out[parentID], child)
			}
		}
	}
	return out, nil
}

// loadHM fetches every child whose JSON foreign key points at one of the
// parents and groups them by that key.
func (l *LazyLoader) loadHM(ctx context.Context, lo *gridbase.LinkOptions, related *gridbase.Table, parentIDs []string) (map[string][]gridbase.Record, error) {
	if err := gridbase.EnsureStorageName(lo.ForeignKeyName); err != nil {
		return nil, err
	}
	child := l.childRepo(related)
	qb, _, err := child.baseQuery(nil)
	if err != nil {
		return nil, err
	}
	fk := fmt.Sprintf("%s ->> '%s'", gridbase.QuoteIdent(recordAlias, gridbase.FieldData), lo.ForeignKeyName)
	qb.Where(fmt.Sprintf("%s = ANY(%s)", fk, qb.NextParam()), parentIDs)
	qb.OrderBy(fmt.Sprintf("%s ASC", gridbase.QuoteIdent(recordAlias, gridbase.FieldCreatedAt)))
	sql, args := qb.Build()

	ctx, cancel := child.queryCtx(ctx)
	defer cancel()
	children, err := child.scanRecords(ctx, l.db, sql, args)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]gridbase.Record)
	for _, rec := range children {
		parentID, _ := rec[lo.ForeignKeyName].(string)
		if parentID == "" {
			continue
		}
		out[parentID] = append(out[parentID], rec)
	}
	return out, nil
}

// loadBT resolves each parent's own foreign key to its single target.
func (l *LazyLoader) loadBT(ctx context.Context, lo *gridbase.LinkOptions, related *gridbase.Table, records []gridbase.Record, parentIDs []string) (map[string][]gridbase.Record, error) {
	fkByParent := make(map[string]string, len(records))
	targetSet := make(map[string]bool)
	for _, rec := range records {
		target, _ := rec[lo.ForeignKeyName].(string)
		if target == "" {
			continue
		}
		fkByParent[rec.ID()] = target
		targetSet[target] = true
	}
	if len(targetSet) == 0 {
		return map[string][]gridbase.Record{}, nil
	}

	targetIDs := make([]string, 0, len(targetSet))
	for id := range targetSet {
		targetIDs = append(targetIDs, id)
	}
	ctx, cancel := l.records.queryCtx(ctx)
	defer cancel()
	targets, err := l.childRepo(related).rehydrate(ctx, l.db, targetIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]gridbase.Record, len(targets))
	for _, rec := range targets {
		byID[rec.ID()] = rec
	}

	out := make(map[string][]gridbase.Record, len(fkByParent))
	for parentID, target := range fkByParent {
		if rec, ok := byID[target]; ok {
			out[parentID] = []gridbase.Record{rec}
		}
	}
	return out, nil
}

// attach resolves link columns by ref and nests their loaded sets into the
// parent records under the column storage name.
func (l *LazyLoader) attach(ctx context.Context, records []gridbase.Record, relations []string) error {
	for _, ref := range relations {
		col := l.table.ColumnByRef(ref)
		if col == nil {
			return gridbase.NewColumnNotFoundError(ref)
		}
		loaded, err := l.BatchLoadRelated(ctx, records, col.ID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			children := loaded[rec.ID()]
			if col.LinkOptions() != nil && col.LinkOptions().Kind == gridbase.LinkBT {
				if len(children) > 0 {
					rec[col.Name] = children[0]
				} else {
					rec[col.Name] = nil
				}
				continue
			}
			rec[col.Name] = children
		}
	}
	return nil
}

// ListWithRelations lists a page and preloads the named relation columns
// onto every record.
func (l *LazyLoader) ListWithRelations(ctx context.Context, args gridbase.ListArgs, preloadRelations []string) ([]gridbase.Record, error) {
	records, err := l.records.List(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := l.attach(ctx, records, preloadRelations); err != nil {
		return nil, err
	}
	return records, nil
}

// ReadByPKWithRelations reads one record and preloads the named relation
// columns onto it.
func (l *LazyLoader) ReadByPKWithRelations(ctx context.Context, id string, loadRelations []string) (gridbase.Record, error) {
	rec, err := l.records.ReadByPK(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.attach(ctx, []gridbase.Record{rec}, loadRelations); err != nil {
		return nil, err
	}
	return rec, nil
}
