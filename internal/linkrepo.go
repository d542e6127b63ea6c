package internal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
)

// LinkRepo executes the many-to-many surface of one logical table against
// the shared links table. Edges are stored mirrored: one row per direction,
// so membership queries never need to consult the inverse column.
type LinkRepo struct {
	db       DB
	cfg      *gridbase.Config
	tables   Tables
	compiler *Compiler
	table    *gridbase.Table

	nowFunc func() time.Time
	newID   func() string
}

// NewLinkRepo binds a link repository to one logical table.
func NewLinkRepo(db DB, cfg *gridbase.Config, compiler *Compiler, table *gridbase.Table) *LinkRepo {
	return &LinkRepo{
		db:       db,
		cfg:      cfg,
		tables:   Tables(cfg.Database.TableNames),
		compiler: compiler,
		table:    table,
		nowFunc:  func() time.Time { return time.Now().UTC() },
		newID:    gridbase.NewID,
	}
}

// resolve validates the link column and returns it with its options and the
// related table.
func (l *LinkRepo) resolve(columnID string) (*gridbase.Column, *gridbase.LinkOptions, *gridbase.Table, error) {
	col := l.table.ColumnByRef(columnID)
	if col == nil {
		return nil, nil, nil, gridbase.NewColumnNotFoundError(columnID)
	}
	lo := col.LinkOptions()
	if lo == nil {
		return nil, nil, nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidLink,
			fmt.Sprintf("column '%s' is not a link column", columnID))
	}
	if lo.Kind != gridbase.LinkMM {
		return nil, nil, nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidLink,
			fmt.Sprintf("column '%s' is not a many-to-many link", columnID))
	}
	related := l.compiler.schema.TableByID(lo.RelatedTableID)
	if related == nil {
		return nil, nil, nil, gridbase.NewTableNotFoundError(lo.RelatedTableID)
	}
	return col, lo, related, nil
}

func (l *LinkRepo) childRepo(related *gridbase.Table) *RecordRepo {
	repo := NewRecordRepo(l.db, l.cfg, l.compiler, related)
	repo.nowFunc = l.nowFunc
	repo.newID = l.newID
	return repo
}

// memberPredicate renders the membership subquery for a parent's children.
func (l *LinkRepo) memberPredicate(qb *SelectBuilder, linkColID, parentID string, excluded bool) {
	op := "IN"
	if excluded {
		op = "NOT IN"
	}
	clause := fmt.Sprintf("%s %s (SELECT %s FROM %s %s WHERE %s = %s AND %s = %s)",
		gridbase.QuoteIdent(recordAlias, gridbase.FieldID), op,
		gridbase.QuoteIdent("l", "target_record_id"),
		gridbase.QuoteIdent(l.tables.Links), gridbase.QuoteIdent("l"),
		gridbase.QuoteIdent("l", "link_field_id"), qb.NextParam(),
		gridbase.QuoteIdent("l", "source_record_id"), qb.NextParam())
	qb.Where(clause, linkColID, parentID)
}

func (l *LinkRepo) mmQuery(columnID string, args gridbase.MMListArgs, excluded, count bool) (string, []any, error) {
	col, _, related, err := l.resolve(columnID)
	if err != nil {
		return "", nil, err
	}
	if args.ParentID == "" {
		return "", nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidIdentifier, "parent record id is required")
	}
	child := l.childRepo(related)

	if count {
		idx := 0
		qb, err := NewRecordQuery(l.tables, related, recordAlias, &idx)
		if err != nil {
			return "", nil, err
		}
		env := l.compiler.NewEnv(related, recordAlias, qb.ParamIndex())
		l.memberPredicate(qb, col.ID, args.ParentID, excluded)
		if err := child.applyFilters(qb, env, args.ListArgs); err != nil {
			return "", nil, err
		}
		sql, sqlArgs := qb.BuildCount()
		return sql, sqlArgs, nil
	}

	qb, env, err := child.baseQuery(args.Fields)
	if err != nil {
		return "", nil, err
	}
	l.memberPredicate(qb, col.ID, args.ParentID, excluded)
	if err := child.applyFilters(qb, env, args.ListArgs); err != nil {
		return "", nil, err
	}
	if err := child.applySort(qb, env, args.ListArgs); err != nil {
		return "", nil, err
	}
	offset := args.Offset
	if offset < 0 {
		offset = 0
	}
	qb.Limit(l.cfg.Query.ClampLimit(args.Limit), offset)
	sql, sqlArgs := qb.Build()
	return sql, sqlArgs, nil
}

func (l *LinkRepo) mmList(ctx context.Context, columnID string, args gridbase.MMListArgs, excluded bool) ([]gridbase.Record, error) {
	sql, sqlArgs, err := l.mmQuery(columnID, args, excluded, false)
	if err != nil {
		return nil, err
	}
	_, _, related, err := l.resolve(columnID)
	if err != nil {
		return nil, err
	}
	child := l.childRepo(related)

	ctx, cancel := child.queryCtx(ctx)
	defer cancel()
	records, err := child.scanRecords(ctx, l.db, sql, sqlArgs)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i] = child.restrictFields(records[i], args.Fields)
	}
	return records, nil
}

func (l *LinkRepo) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.cfg.Query.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, l.cfg.Query.Timeout)
}

func (l *LinkRepo) mmCount(ctx context.Context, columnID string, args gridbase.MMListArgs, excluded bool) (int64, error) {
	sql, sqlArgs, err := l.mmQuery(columnID, args, excluded, true)
	if err != nil {
		return 0, err
	}
	ctx, cancel := l.queryCtx(ctx)
	defer cancel()
	var total int64
	if err := l.db.QueryRow(ctx, sql, sqlArgs...).Scan(&total); err != nil {
		return 0, gridbase.NewQueryError("count linked records", err)
	}
	return total, nil
}

// MMList returns the child records linked to a parent through a link column.
func (l *LinkRepo) MMList(ctx context.Context, columnID string, args gridbase.MMListArgs) ([]gridbase.Record, error) {
	return l.mmList(ctx, columnID, args, false)
}

// MMListCount counts the children linked to a parent.
func (l *LinkRepo) MMListCount(ctx context.Context, columnID string, args gridbase.MMListArgs) (int64, error) {
	return l.mmCount(ctx, columnID, args, false)
}

// MMExcludedList returns the related-table records NOT yet linked to a
// parent, the candidate set for a link picker.
func (l *LinkRepo) MMExcludedList(ctx context.Context, columnID string, args gridbase.MMListArgs) ([]gridbase.Record, error) {
	return l.mmList(ctx, columnID, args, true)
}

// MMExcludedListCount counts the not-yet-linked candidates.
func (l *LinkRepo) MMExcludedListCount(ctx context.Context, columnID string, args gridbase.MMListArgs) (int64, error) {
	return l.mmCount(ctx, columnID, args, true)
}

// verifyMembers checks that every id exists in the given table.
func (l *LinkRepo) verifyMembers(ctx context.Context, q Querier, table *gridbase.Table, ids []string) error {
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = $1 AND %s = ANY($2)",
		gridbase.QuoteIdent(l.tables.PhysicalTable(table)),
		gridbase.QuoteIdent(gridbase.FieldTableID),
		gridbase.QuoteIdent(gridbase.FieldID))
	var found int64
	if err := q.QueryRow(ctx, sql, table.ID, ids).Scan(&found); err != nil {
		return gridbase.NewQueryError("verify link members", err)
	}
	if found != int64(len(ids)) {
		return gridbase.NewBadRequestError(gridbase.ErrCodeInvalidLink,
			fmt.Sprintf("%d of %d records not found in table '%s'",
				int64(len(ids))-found, len(ids), table.ID))
	}
	return nil
}

// MMLink connects children to a parent. Existing edges are skipped, and the
// mirrored edge is written when the link has a symmetric column.
func (l *LinkRepo) MMLink(ctx context.Context, columnID string, childIDs []string, parentID string) error {
	if len(childIDs) == 0 {
		return nil
	}
	col, lo, related, err := l.resolve(columnID)
	if err != nil {
		return err
	}
	if parentID == "" {
		return gridbase.NewBadRequestError(gridbase.ErrCodeInvalidIdentifier, "parent record id is required")
	}
	now := l.nowFunc()

	err = withTx(ctx, l.db, nil, func(q Querier) error {
		if err := l.verifyMembers(ctx, q, l.table, []string{parentID}); err != nil {
			return err
		}
		if err := l.verifyMembers(ctx, q, related, childIDs); err != nil {
			return err
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "INSERT INTO %s (%s, %s, %s, %s, %s, %s) VALUES ",
			gridbase.QuoteIdent(l.tables.Links),
			gridbase.QuoteIdent("id"),
			gridbase.QuoteIdent("source_record_id"),
			gridbase.QuoteIdent("target_record_id"),
			gridbase.QuoteIdent("link_field_id"),
			gridbase.QuoteIdent("inverse_field_id"),
			gridbase.QuoteIdent("created_at"))

		var args []any
		n := 0
		addEdge := func(source, target, fieldID, inverseID string) {
			if n > 0 {
				sb.WriteString(", ")
			}
			base := n * 6
			fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)",
				base+1, base+2, base+3, base+4, base+5, base+6)
			// one-directional links store NULL in the inverse column
			var inverse any
			if inverseID != "" {
				inverse = inverseID
			}
			args = append(args, l.newID(), source, target, fieldID, inverse, now)
			n++
		}
		for _, childID := range childIDs {
			addEdge(parentID, childID, col.ID, lo.SymmetricColumnID)
			if lo.SymmetricColumnID != "" {
				addEdge(childID, parentID, lo.SymmetricColumnID, col.ID)
			}
		}
		sb.WriteString(" ON CONFLICT DO NOTHING")

		if _, err := q.Exec(ctx, sb.String(), args...); err != nil {
			return gridbase.NewQueryError("insert link edges", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	zap.S().Debugw("records linked",
		"table", l.table.ID, "column", col.ID, "parent", parentID, "children", len(childIDs))
	return nil
}

// MMUnlink disconnects children from a parent, removing both directions of
// each edge. Unknown edges are ignored.
func (l *LinkRepo) MMUnlink(ctx context.Context, columnID string, childIDs []string, parentID string) error {
	if len(childIDs) == 0 {
		return nil
	}
	col, lo, _, err := l.resolve(columnID)
	if err != nil {
		return err
	}
	if parentID == "" {
		return gridbase.NewBadRequestError(gridbase.ErrCodeInvalidIdentifier, "parent record id is required")
	}

	err = withTx(ctx, l.db, nil, func(q Querier) error {
		sql := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s = $2 AND %s = ANY($3)",
			gridbase.QuoteIdent(l.tables.Links),
			gridbase.QuoteIdent("link_field_id"),
			gridbase.QuoteIdent("source_record_id"),
			gridbase.QuoteIdent("target_record_id"))
		if _, err := q.Exec(ctx, sql, col.ID, parentID, childIDs); err != nil {
			return gridbase.NewQueryError("delete link edges", err)
		}
		if lo.SymmetricColumnID != "" {
			mirror := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s = ANY($2) AND %s = $3",
				gridbase.QuoteIdent(l.tables.Links),
				gridbase.QuoteIdent("link_field_id"),
				gridbase.QuoteIdent("source_record_id"),
				gridbase.QuoteIdent("target_record_id"))
			if _, err := q.Exec(ctx, mirror, lo.SymmetricColumnID, childIDs, parentID); err != nil {
				return gridbase.NewQueryError("delete mirrored link edges", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	zap.S().Debugw("records unlinked",
		"table", l.table.ID, "column", col.ID, "parent", parentID, "children", len(childIDs))
	return nil
}

// HasChild reports whether a specific edge exists.
func (l *LinkRepo) HasChild(ctx context.Context, columnID, parentID, childID string) (bool, error) {
	col, _, _, err := l.resolve(columnID)
	if err != nil {
		return false, err
	}
	sql := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1 AND %s = $2 AND %s = $3)",
		gridbase.QuoteIdent(l.tables.Links),
		gridbase.QuoteIdent("link_field_id"),
		gridbase.QuoteIdent("source_record_id"),
		gridbase.QuoteIdent("target_record_id"))
	var exists bool
	if err := l.db.QueryRow(ctx, sql, col.ID, parentID, childID).Scan(&exists); err != nil {
		return false, gridbase.NewQueryError("check link edge", err)
	}
	return exists, nil
}
