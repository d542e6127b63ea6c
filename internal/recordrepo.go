package internal

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
)

// recordAlias anchors every logical-table query; fragment compilers
// correlate their subqueries against it.
const recordAlias = "r"

// RecordRepo executes the CRUD and query surface of one logical table
// against the shared records table.
type RecordRepo struct {
	db       DB
	cfg      *gridbase.Config
	tables   Tables
	compiler *Compiler
	table    *gridbase.Table

	// nowFunc and newID are swappable for deterministic tests.
	nowFunc func() time.Time
	newID   func() string
}

// NewRecordRepo binds a repository to one logical table.
func NewRecordRepo(db DB, cfg *gridbase.Config, compiler *Compiler, table *gridbase.Table) *RecordRepo {
	return &RecordRepo{
		db:       db,
		cfg:      cfg,
		tables:   Tables(cfg.Database.TableNames),
		compiler: compiler,
		table:    table,
		nowFunc:  func() time.Time { return time.Now().UTC() },
		newID:    gridbase.NewID,
	}
}

// Table returns the bound logical table.
func (r *RecordRepo) Table() *gridbase.Table { return r.table }

// Compiler returns the bound query compiler.
func (r *RecordRepo) Compiler() *Compiler { return r.compiler }

func (r *RecordRepo) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.Query.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.cfg.Query.Timeout)
}

// systemProjection lists the physical columns every record read selects.
func systemProjection(alias string) []string {
	return []string{
		gridbase.QuoteIdent(alias, gridbase.FieldID),
		gridbase.QuoteIdent(alias, gridbase.FieldData),
		gridbase.QuoteIdent(alias, gridbase.FieldCreatedAt),
		gridbase.QuoteIdent(alias, gridbase.FieldUpdatedAt),
		gridbase.QuoteIdent(alias, gridbase.FieldCreatedBy),
		gridbase.QuoteIdent(alias, gridbase.FieldUpdatedBy),
	}
}

// wantField reports whether a projection restriction includes a column.
func wantField(fields []string, col *gridbase.Column) bool {
	if len(fields) == 0 {
		return true
	}
	for _, f := range fields {
		if f == col.ID || f == col.Name || f == col.Title {
			return true
		}
	}
	return false
}

// baseQuery starts a record SELECT with system projection, virtual column
// projections and the tenancy predicate in place.
func (r *RecordRepo) baseQuery(fields []string) (*SelectBuilder, *compileEnv, error) {
	idx := 0
	qb, err := NewRecordQuery(r.tables, r.table, recordAlias, &idx)
	if err != nil {
		return nil, nil, err
	}
	env := r.compiler.NewEnv(r.table, recordAlias, qb.ParamIndex())
	qb.Select(systemProjection(recordAlias)...)

	if r.compiler.VirtualEnabled() {
		for _, col := range r.table.Columns {
			if !col.IsVirtual() || col.Type == gridbase.ColTypeLink {
				continue
			}
			if !wantField(fields, col) {
				continue
			}
			expr, args, err := r.compiler.ColumnSQLLenient(env, col)
			if err != nil {
				return nil, nil, err
			}
			qb.Select(fmt.Sprintf("%s AS %s", expr, gridbase.QuoteIdent(col.Name)))
			qb.AddArgs(args...)
		}
	}
	return qb, env, nil
}

// applyFilters compiles the structured tree and the legacy where string into
// the builder's predicate stack.
func (r *RecordRepo) applyFilters(qb *SelectBuilder, env *compileEnv, args gridbase.ListArgs) error {
	nodes := make([]*gridbase.FilterNode, 0, len(args.FilterArr)+1)
	nodes = append(nodes, args.FilterArr...)
	nodes = append(nodes, gridbase.ParseWhereString(args.Where)...)
	sql, filterArgs, err := r.compiler.CompileFilter(env, nodes)
	if err != nil {
		return err
	}
	qb.Where(sql, filterArgs...)
	return nil
}

// applySort compiles the sort list; without one the listing falls back to
// insertion order with the primary key as tiebreaker so pages are stable.
func (r *RecordRepo) applySort(qb *SelectBuilder, env *compileEnv, args gridbase.ListArgs) error {
	specs := args.SortArr
	if len(specs) == 0 {
		specs = gridbase.ParseSortString(args.Sort)
	}
	if len(specs) == 0 {
		qb.OrderBy(fmt.Sprintf("%s ASC", gridbase.QuoteIdent(recordAlias, gridbase.FieldCreatedAt)))
		qb.OrderBy(fmt.Sprintf("%s ASC", gridbase.QuoteIdent(recordAlias, gridbase.FieldID)))
		return nil
	}
	terms, err := r.compiler.CompileSort(env, specs)
	if err != nil {
		return err
	}
	for _, t := range terms {
		qb.OrderBy(t.Expr, t.Args...)
	}
	qb.OrderBy(fmt.Sprintf("%s ASC", gridbase.QuoteIdent(recordAlias, gridbase.FieldID)))
	return nil
}

// scanRecords hydrates all rows of a record query into logical records.
func (r *RecordRepo) scanRecords(ctx context.Context, q Querier, sql string, args []any) ([]gridbase.Record, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, gridbase.NewQueryError("list records", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, fd := range fields {
		names[i] = string(fd.Name)
	}

	var out []gridbase.Record
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, gridbase.NewQueryError("scan record row", err)
		}
		out = append(out, LogicalRecord(names, values))
	}
	if err := rows.Err(); err != nil {
		return nil, gridbase.NewQueryError("iterate record rows", err)
	}
	return out, nil
}

// restrictFields drops logical keys outside the requested projection. The
// primary key always survives.
func (r *RecordRepo) restrictFields(rec gridbase.Record, fields []string) gridbase.Record {
	if len(fields) == 0 || rec == nil {
		return rec
	}
	keep := map[string]bool{gridbase.FieldID: true}
	for _, f := range fields {
		if col := r.table.ColumnByRef(f); col != nil {
			if sys, ok := col.SystemField(); ok {
				keep[sys] = true
				continue
			}
			keep[col.Name] = true
			continue
		}
		keep[f] = true
	}
	out := make(gridbase.Record, len(keep))
	for k, v := range rec {
		if keep[k] {
			out[k] = v
		}
	}
	return out
}

// ReadByPK fetches one record by primary key.
func (r *RecordRepo) ReadByPK(ctx context.Context, id string, fields ...string) (gridbase.Record, error) {
	return r.readByPK(ctx, r.db, id, fields)
}

func (r *RecordRepo) readByPK(ctx context.Context, q Querier, id string, fields []string) (gridbase.Record, error) {
	if id == "" {
		return nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidIdentifier, "record id is required")
	}
	qb, _, err := r.baseQuery(fields)
	if err != nil {
		return nil, err
	}
	qb.Where(fmt.Sprintf("%s = %s", gridbase.QuoteIdent(recordAlias, gridbase.FieldID), qb.NextParam()), id)
	sql, args := qb.Build()

	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	records, err := r.scanRecords(ctx, q, sql, args)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, gridbase.NewRecordNotFoundError(id)
	}
	return r.restrictFields(records[0], fields), nil
}

// Exists reports whether a record with the given id lives in this table.
func (r *RecordRepo) Exists(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	sql := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s = $2)",
		gridbase.QuoteIdent(r.tables.PhysicalTable(r.table)),
		gridbase.QuoteIdent(gridbase.FieldTableID),
		gridbase.QuoteIdent(gridbase.FieldID))

	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	var exists bool
	if err := r.db.QueryRow(ctx, sql, r.table.ID, id).Scan(&exists); err != nil {
		return false, gridbase.NewQueryError("check record existence", err)
	}
	return exists, nil
}

// Insert creates one record and returns its hydrated logical form.
func (r *RecordRepo) Insert(ctx context.Context, data gridbase.Record) (gridbase.Record, error) {
	return r.insert(ctx, r.db, data)
}

func (r *RecordRepo) insert(ctx context.Context, q Querier, data gridbase.Record) (gridbase.Record, error) {
	doc, err := CoerceRecord(r.table, data)
	if err != nil {
		return nil, err
	}
	id := data.ID()
	if id == "" {
		id = r.newID()
	} else if !gridbase.ValidID(id) {
		return nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidIdentifier,
			fmt.Sprintf("'%s' is not a valid record id", id))
	}
	now := r.nowFunc()
	actor, _ := data[gridbase.FieldCreatedBy].(string)

	sql := fmt.Sprintf(
		"INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		gridbase.QuoteIdent(r.tables.PhysicalTable(r.table)),
		gridbase.QuoteIdent(gridbase.FieldID),
		gridbase.QuoteIdent(gridbase.FieldTableID),
		gridbase.QuoteIdent(gridbase.FieldData),
		gridbase.QuoteIdent(gridbase.FieldCreatedAt),
		gridbase.QuoteIdent(gridbase.FieldUpdatedAt),
		gridbase.QuoteIdent(gridbase.FieldCreatedBy),
		gridbase.QuoteIdent(gridbase.FieldUpdatedBy))

	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	if _, err := q.Exec(ctx, sql, id, r.table.ID, doc, now, now, actor, actor); err != nil {
		return nil, gridbase.NewQueryError("insert record", err)
	}
	zap.S().Debugw("record inserted", "table", r.table.ID, "record", id)
	return r.readByPK(ctx, q, id, nil)
}

// UpdateByPK merges a partial payload into an existing record. Keys absent
// from the payload survive untouched.
func (r *RecordRepo) UpdateByPK(ctx context.Context, id string, data gridbase.Record) (gridbase.Record, error) {
	return r.updateByPK(ctx, r.db, id, data)
}

func (r *RecordRepo) updateByPK(ctx context.Context, q Querier, id string, data gridbase.Record) (gridbase.Record, error) {
	if id == "" {
		return nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidIdentifier, "record id is required")
	}
	doc, err := CoerceRecord(r.table, data)
	if err != nil {
		return nil, err
	}
	now := r.nowFunc()
	actor, _ := data[gridbase.FieldUpdatedBy].(string)

	// jsonb || merges top-level keys, leaving unmentioned cells intact
	sql := fmt.Sprintf(
		"UPDATE %s SET %s = %s || $1, %s = $2, %s = $3 WHERE %s = $4 AND %s = $5",
		gridbase.QuoteIdent(r.tables.PhysicalTable(r.table)),
		gridbase.QuoteIdent(gridbase.FieldData),
		gridbase.QuoteIdent(gridbase.FieldData),
		gridbase.QuoteIdent(gridbase.FieldUpdatedAt),
		gridbase.QuoteIdent(gridbase.FieldUpdatedBy),
		gridbase.QuoteIdent(gridbase.FieldTableID),
		gridbase.QuoteIdent(gridbase.FieldID))

	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	tag, err := q.Exec(ctx, sql, doc, now, actor, r.table.ID, id)
	if err != nil {
		return nil, gridbase.NewQueryError("update record", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, gridbase.NewRecordNotFoundError(id)
	}
	return r.readByPK(ctx, q, id, nil)
}

// DeleteByPK removes one record and its link edges on both sides.
func (r *RecordRepo) DeleteByPK(ctx context.Context, id string) (int64, error) {
	if id == "" {
		return 0, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidIdentifier, "record id is required")
	}
	var affected int64
	err := withTx(ctx, r.db, nil, func(q Querier) error {
		linkSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 OR %s = $2",
			gridbase.QuoteIdent(r.tables.Links),
			gridbase.QuoteIdent("source_record_id"),
			gridbase.QuoteIdent("target_record_id"))
		if _, err := q.Exec(ctx, linkSQL, id, id); err != nil {
			return gridbase.NewQueryError("delete record links", err)
		}

		recSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s = $2",
			gridbase.QuoteIdent(r.tables.PhysicalTable(r.table)),
			gridbase.QuoteIdent(gridbase.FieldTableID),
			gridbase.QuoteIdent(gridbase.FieldID))
		tag, err := q.Exec(ctx, recSQL, r.table.ID, id)
		if err != nil {
			return gridbase.NewQueryError("delete record", err)
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	if affected == 0 {
		return 0, gridbase.NewRecordNotFoundError(id)
	}
	zap.S().Debugw("record deleted", "table", r.table.ID, "record", id)
	return affected, nil
}

// listQuery assembles the full SELECT for a list request.
func (r *RecordRepo) listQuery(args gridbase.ListArgs, paged bool) (string, []any, error) {
	qb, env, err := r.baseQuery(args.Fields)
	if err != nil {
		return "", nil, err
	}
	if err := r.applyFilters(qb, env, args); err != nil {
		return "", nil, err
	}
	if err := r.applySort(qb, env, args); err != nil {
		return "", nil, err
	}
	if paged {
		offset := args.Offset
		if offset < 0 {
			offset = 0
		}
		qb.Limit(r.cfg.Query.ClampLimit(args.Limit), offset)
	}
	sql, sqlArgs := qb.Build()
	return sql, sqlArgs, nil
}

// List returns one page of records.
func (r *RecordRepo) List(ctx context.Context, args gridbase.ListArgs) ([]gridbase.Record, error) {
	sql, sqlArgs, err := r.listQuery(args, true)
	if err != nil {
		return nil, err
	}
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	records, err := r.scanRecords(ctx, r.db, sql, sqlArgs)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i] = r.restrictFields(records[i], args.Fields)
	}
	return records, nil
}

// Count returns the number of records matching the filters.
func (r *RecordRepo) Count(ctx context.Context, args gridbase.ListArgs) (int64, error) {
	idx := 0
	qb, err := NewRecordQuery(r.tables, r.table, recordAlias, &idx)
	if err != nil {
		return 0, err
	}
	env := r.compiler.NewEnv(r.table, recordAlias, qb.ParamIndex())
	if err := r.applyFilters(qb, env, args); err != nil {
		return 0, err
	}
	sql, sqlArgs := qb.BuildCount()

	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	var total int64
	if err := r.db.QueryRow(ctx, sql, sqlArgs...).Scan(&total); err != nil {
		return 0, gridbase.NewQueryError("count records", err)
	}
	return total, nil
}

// ListPage returns a page plus pagination totals.
func (r *RecordRepo) ListPage(ctx context.Context, args gridbase.ListArgs) (*gridbase.Page, error) {
	total, err := r.Count(ctx, args)
	if err != nil {
		return nil, err
	}
	records, err := r.List(ctx, args)
	if err != nil {
		return nil, err
	}
	limit := r.cfg.Query.ClampLimit(args.Limit)
	offset := args.Offset
	if offset < 0 {
		offset = 0
	}
	return &gridbase.Page{
		Records:      records,
		TotalRecords: total,
		TotalPages:   int(math.Ceil(float64(total) / float64(limit))),
		CurrentPage:  offset/limit + 1,
	}, nil
}

// FindOne returns the first record matching the filters, or nil.
func (r *RecordRepo) FindOne(ctx context.Context, args gridbase.ListArgs) (gridbase.Record, error) {
	args.Limit = 1
	args.Offset = 0
	records, err := r.List(ctx, args)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// GroupBy aggregates records by one column.
func (r *RecordRepo) GroupBy(ctx context.Context, args gridbase.GroupByArgs) ([]gridbase.GroupRow, error) {
	keyCol := r.table.ColumnByRef(args.ColumnID)
	if keyCol == nil {
		return nil, gridbase.NewColumnNotFoundError(args.ColumnID)
	}

	idx := 0
	qb, err := NewRecordQuery(r.tables, r.table, recordAlias, &idx)
	if err != nil {
		return nil, err
	}
	env := r.compiler.NewEnv(r.table, recordAlias, qb.ParamIndex())

	keyExpr, keyArgs, err := r.compiler.ColumnSQL(env, keyCol)
	if err != nil {
		return nil, err
	}
	qb.Select(fmt.Sprintf("%s AS %s", keyExpr, gridbase.QuoteIdent("group_key")))
	qb.AddArgs(keyArgs...)

	aggExpr, aggArgs, err := r.groupAggExpr(env, args)
	if err != nil {
		return nil, err
	}
	qb.Select(fmt.Sprintf("%s AS %s", aggExpr, gridbase.QuoteIdent("group_value")))
	qb.AddArgs(aggArgs...)

	if err := r.applyFilters(qb, env, args.ListArgs); err != nil {
		return nil, err
	}
	qb.GroupBy(keyExpr)
	qb.OrderBy(fmt.Sprintf("%s ASC NULLS LAST", keyExpr))
	sql, sqlArgs := qb.Build()

	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	rows, err := r.db.Query(ctx, sql, sqlArgs...)
	if err != nil {
		return nil, gridbase.NewQueryError("group records", err)
	}
	defer rows.Close()

	var out []gridbase.GroupRow
	for rows.Next() {
		var row gridbase.GroupRow
		if err := rows.Scan(&row.Key, &row.Value); err != nil {
			return nil, gridbase.NewQueryError("scan group row", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, gridbase.NewQueryError("iterate group rows", err)
	}
	return out, nil
}

func (r *RecordRepo) groupAggExpr(env *compileEnv, args gridbase.GroupByArgs) (string, []any, error) {
	if args.Agg == gridbase.AggCount || args.Agg == "" {
		if args.AggColumnID == "" {
			return "COUNT(*)", nil, nil
		}
	}
	aggCol := r.table.ColumnByRef(args.AggColumnID)
	if aggCol == nil {
		return "", nil, gridbase.NewColumnNotFoundError(args.AggColumnID)
	}
	expr, exprArgs, err := r.compiler.ColumnSQL(env, aggCol)
	if err != nil {
		return "", nil, err
	}
	if !aggCol.IsVirtual() {
		num, err := numericExpr(aggCol, r.table, env.alias)
		if err != nil {
			return "", nil, err
		}
		if args.Agg != gridbase.AggCount {
			expr = num
		}
	}
	switch args.Agg {
	case gridbase.AggCount:
		return fmt.Sprintf("COUNT(%s)", expr), exprArgs, nil
	case gridbase.AggSum:
		return fmt.Sprintf("COALESCE(SUM(%s), 0)", expr), exprArgs, nil
	case gridbase.AggAvg:
		return fmt.Sprintf("COALESCE(AVG(%s), 0)", expr), exprArgs, nil
	case gridbase.AggMin:
		return fmt.Sprintf("COALESCE(MIN(%s), 0)", expr), exprArgs, nil
	case gridbase.AggMax:
		return fmt.Sprintf("COALESCE(MAX(%s), 0)", expr), exprArgs, nil
	default:
		return "", nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidFilter,
			fmt.Sprintf("unknown aggregation '%s'", args.Agg))
	}
}
