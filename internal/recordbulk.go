package internal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
)

func (r *RecordRepo) chunkSize(opts *gridbase.BulkOptions) int {
	if opts != nil && opts.ChunkSize > 0 {
		return opts.ChunkSize
	}
	return r.cfg.Bulk.ChunkSize
}

func callerTx(opts *gridbase.BulkOptions) pgx.Tx {
	if opts == nil {
		return nil
	}
	return opts.Tx
}

// preparedRow is one coerced row awaiting insertion.
type preparedRow struct {
	id  string
	doc map[string]any
}

// prepareRows coerces and ids every payload before anything is written, so
// a validation fault aborts the batch with zero side effects.
func (r *RecordRepo) prepareRows(rows []gridbase.Record) ([]preparedRow, error) {
	prepared := make([]preparedRow, 0, len(rows))
	for i, row := range rows {
		doc, err := CoerceRecord(r.table, row)
		if err != nil {
			return nil, gridbase.NewValidationError(fmt.Sprintf("rows[%d]", i), err.Error())
		}
		id := row.ID()
		if id == "" {
			id = r.newID()
		} else if !gridbase.ValidID(id) {
			return nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidIdentifier,
				fmt.Sprintf("rows[%d]: '%s' is not a valid record id", i, id))
		}
		prepared = append(prepared, preparedRow{id: id, doc: doc})
	}
	return prepared, nil
}

// BulkInsert creates many records atomically. Each chunk becomes one
// multi-row INSERT; one bad row rolls back the whole batch.
func (r *RecordRepo) BulkInsert(ctx context.Context, rows []gridbase.Record, opts *gridbase.BulkOptions) ([]gridbase.Record, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	prepared, err := r.prepareRows(rows)
	if err != nil {
		return nil, err
	}
	now := r.nowFunc()
	chunk := r.chunkSize(opts)

	ids := make([]string, len(prepared))
	for i, p := range prepared {
		ids[i] = p.id
	}

	var out []gridbase.Record
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	err = withTx(ctx, r.db, callerTx(opts), func(q Querier) error {
		for start := 0; start < len(prepared); start += chunk {
			end := start + chunk
			if end > len(prepared) {
				end = len(prepared)
			}
			if err := r.insertChunk(ctx, q, prepared[start:end], now); err != nil {
				return err
			}
		}
		// read back on the same handle so a caller-owned transaction
		// sees its own uncommitted rows
		var err error
		out, err = r.rehydrate(ctx, q, ids)
		return err
	})
	if err != nil {
		return nil, err
	}
	zap.S().Infow("bulk insert complete", "table", r.table.ID, "rows", len(prepared))
	return out, nil
}

func (r *RecordRepo) insertChunk(ctx context.Context, q Querier, chunk []preparedRow, now time.Time) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %s (%s, %s, %s, %s, %s) VALUES ",
		gridbase.QuoteIdent(r.tables.PhysicalTable(r.table)),
		gridbase.QuoteIdent(gridbase.FieldID),
		gridbase.QuoteIdent(gridbase.FieldTableID),
		gridbase.QuoteIdent(gridbase.FieldData),
		gridbase.QuoteIdent(gridbase.FieldCreatedAt),
		gridbase.QuoteIdent(gridbase.FieldUpdatedAt))

	args := make([]any, 0, len(chunk)*5)
	for i, row := range chunk {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * 5
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d)", base+1, base+2, base+3, base+4, base+5)
		args = append(args, row.id, r.table.ID, row.doc, now, now)
	}
	if _, err := q.Exec(ctx, sb.String(), args...); err != nil {
		return gridbase.NewQueryError("bulk insert chunk", err)
	}
	return nil
}

// rehydrate reads back a set of records preserving the input id order.
func (r *RecordRepo) rehydrate(ctx context.Context, q Querier, ids []string) ([]gridbase.Record, error) {
	qb, _, err := r.baseQuery(nil)
	if err != nil {
		return nil, err
	}
	qb.Where(fmt.Sprintf("%s = ANY(%s)", gridbase.QuoteIdent(recordAlias, gridbase.FieldID), qb.NextParam()), ids)
	sql, args := qb.Build()

	records, err := r.scanRecords(ctx, q, sql, args)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]gridbase.Record, len(records))
	for _, rec := range records {
		byID[rec.ID()] = rec
	}
	out := make([]gridbase.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// BulkUpdate merges partial payloads into many records. Rows whose id does
// not exist in this table are skipped with a warning; the rest commit
// together.
func (r *RecordRepo) BulkUpdate(ctx context.Context, rows []gridbase.Record, opts *gridbase.BulkOptions) ([]gridbase.Record, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	now := r.nowFunc()

	sql := fmt.Sprintf(
		"UPDATE %s SET %s = %s || $1, %s = $2 WHERE %s = $3 AND %s = $4",
		gridbase.QuoteIdent(r.tables.PhysicalTable(r.table)),
		gridbase.QuoteIdent(gridbase.FieldData),
		gridbase.QuoteIdent(gridbase.FieldData),
		gridbase.QuoteIdent(gridbase.FieldUpdatedAt),
		gridbase.QuoteIdent(gridbase.FieldTableID),
		gridbase.QuoteIdent(gridbase.FieldID))

	var out []gridbase.Record
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	err := withTx(ctx, r.db, callerTx(opts), func(q Querier) error {
		var updated []string
		for i, row := range rows {
			id := row.ID()
			if id == "" {
				return gridbase.NewBadRequestError(gridbase.ErrCodeInvalidIdentifier,
					fmt.Sprintf("rows[%d] is missing a record id", i))
			}
			doc, err := CoerceRecord(r.table, row)
			if err != nil {
				return gridbase.NewValidationError(fmt.Sprintf("rows[%d]", i), err.Error())
			}
			tag, err := q.Exec(ctx, sql, doc, now, r.table.ID, id)
			if err != nil {
				return gridbase.NewQueryError("bulk update row", err)
			}
			if tag.RowsAffected() == 0 {
				zap.S().Warnw("bulk update skipping unknown record", "table", r.table.ID, "record", id)
				continue
			}
			updated = append(updated, id)
		}
		if len(updated) == 0 {
			return nil
		}
		// same handle as the writes, for caller-owned transactions
		var err error
		out, err = r.rehydrate(ctx, q, updated)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// idSubquery builds a SELECT of matching record ids for mass update/delete.
func (r *RecordRepo) idSubquery(args gridbase.ListArgs, paramIndex *int) (string, []any, error) {
	qb, err := NewRecordQuery(r.tables, r.table, recordAlias, paramIndex)
	if err != nil {
		return "", nil, err
	}
	env := r.compiler.NewEnv(r.table, recordAlias, qb.ParamIndex())
	qb.Select(gridbase.QuoteIdent(recordAlias, gridbase.FieldID))
	if err := r.applyFilters(qb, env, args); err != nil {
		return "", nil, err
	}
	sql, sqlArgs := qb.Build()
	return sql, sqlArgs, nil
}

// BulkUpdateAll merges one patch into every record matching the filters and
// returns the number of rows touched.
func (r *RecordRepo) BulkUpdateAll(ctx context.Context, args gridbase.ListArgs, patch gridbase.Record, opts *gridbase.BulkOptions) (int64, error) {
	doc, err := CoerceRecord(r.table, patch)
	if err != nil {
		return 0, err
	}
	idx := 2 // $1 and $2 are reserved for the patch and the timestamp
	sub, subArgs, err := r.idSubquery(args, &idx)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf(
		"UPDATE %s SET %s = %s || $1, %s = $2 WHERE %s IN (%s)",
		gridbase.QuoteIdent(r.tables.PhysicalTable(r.table)),
		gridbase.QuoteIdent(gridbase.FieldData),
		gridbase.QuoteIdent(gridbase.FieldData),
		gridbase.QuoteIdent(gridbase.FieldUpdatedAt),
		gridbase.QuoteIdent(gridbase.FieldID),
		sub)
	sqlArgs := append([]any{doc, r.nowFunc()}, subArgs...)

	var affected int64
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	err = withTx(ctx, r.db, callerTx(opts), func(q Querier) error {
		tag, err := q.Exec(ctx, sql, sqlArgs...)
		if err != nil {
			return gridbase.NewQueryError("bulk update all", err)
		}
		affected = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, err
	}
	zap.S().Infow("bulk update all complete", "table", r.table.ID, "rows", affected)
	return affected, nil
}

// BulkDelete removes records by id in chunks, link edges first, all inside
// one transaction.
func (r *RecordRepo) BulkDelete(ctx context.Context, ids []string, opts *gridbase.BulkOptions) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	chunk := r.chunkSize(opts)

	linkSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = ANY($1) OR %s = ANY($2)",
		gridbase.QuoteIdent(r.tables.Links),
		gridbase.QuoteIdent("source_record_id"),
		gridbase.QuoteIdent("target_record_id"))
	recSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = $1 AND %s = ANY($2)",
		gridbase.QuoteIdent(r.tables.PhysicalTable(r.table)),
		gridbase.QuoteIdent(gridbase.FieldTableID),
		gridbase.QuoteIdent(gridbase.FieldID))

	var affected int64
	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	err := withTx(ctx, r.db, callerTx(opts), func(q Querier) error {
		for start := 0; start < len(ids); start += chunk {
			end := start + chunk
			if end > len(ids) {
				end = len(ids)
			}
			batch := ids[start:end]
			if _, err := q.Exec(ctx, linkSQL, batch, batch); err != nil {
				return gridbase.NewQueryError("bulk delete links", err)
			}
			tag, err := q.Exec(ctx, recSQL, r.table.ID, batch)
			if err != nil {
				return gridbase.NewQueryError("bulk delete records", err)
			}
			affected += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	zap.S().Infow("bulk delete complete", "table", r.table.ID, "rows", affected)
	return affected, nil
}

// BulkDeleteAll removes every record matching the filters. The matching ids
// are collected first so link edges can be cleared by chunk.
func (r *RecordRepo) BulkDeleteAll(ctx context.Context, args gridbase.ListArgs, opts *gridbase.BulkOptions) (int64, error) {
	idx := 0
	sub, subArgs, err := r.idSubquery(args, &idx)
	if err != nil {
		return 0, err
	}

	ctx, cancel := r.queryCtx(ctx)
	defer cancel()
	rows, err := r.db.Query(ctx, sub, subArgs...)
	if err != nil {
		return 0, gridbase.NewQueryError("select records for delete", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, gridbase.NewQueryError("scan record id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, gridbase.NewQueryError("iterate record ids", err)
	}
	return r.BulkDelete(ctx, ids, opts)
}
