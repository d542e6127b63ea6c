package internal

import (
	"context"

	"github.com/lychee-technology/gridbase"
)

// Model is the composed façade over one logical table. Capabilities beyond
// the requested bundle stay nil and answer with OPERATION_NOT_ENABLED.
type Model struct {
	bundle gridbase.Bundle
	schema *gridbase.Schema
	table  *gridbase.Table

	records *RecordRepo
	links   *LinkRepo
	lazy    *LazyLoader
	copier  *Copier
}

// NewModel assembles a table model for the given bundle.
func NewModel(db DB, cfg *gridbase.Config, schema *gridbase.Schema, table *gridbase.Table, bundle gridbase.Bundle) *Model {
	if bundle == "" {
		bundle = gridbase.BundleDefault
	}
	compiler := NewCompiler(schema, Tables(cfg.Database.TableNames), cfg, nil)
	if bundle == gridbase.BundleMinimal {
		compiler.SetVirtualEnabled(false)
	}

	m := &Model{
		bundle:  bundle,
		schema:  schema,
		table:   table,
		records: NewRecordRepo(db, cfg, compiler, table),
	}
	if bundle != gridbase.BundleMinimal {
		m.links = NewLinkRepo(db, cfg, compiler, table)
	}
	if bundle == gridbase.BundleLazy || bundle == gridbase.BundleFull {
		m.lazy = NewLazyLoader(db, cfg, compiler, table, m.records)
	}
	if bundle == gridbase.BundleCopy || bundle == gridbase.BundleFull {
		m.copier = NewCopier(db, cfg, compiler, table, m.records)
	}
	return m
}

// Records exposes the record repository for tests and tooling.
func (m *Model) Records() *RecordRepo { return m.records }

// Table returns the logical table this model serves.
func (m *Model) Table() *gridbase.Table { return m.table }

// Schema returns the bound schema snapshot.
func (m *Model) Schema() *gridbase.Schema { return m.schema }

// Bundle returns the capability bundle the model was built with.
func (m *Model) Bundle() gridbase.Bundle { return m.bundle }

func (m *Model) ReadByPK(ctx context.Context, id string, fields ...string) (gridbase.Record, error) {
	return m.records.ReadByPK(ctx, id, fields...)
}

func (m *Model) Exists(ctx context.Context, id string) (bool, error) {
	return m.records.Exists(ctx, id)
}

func (m *Model) Insert(ctx context.Context, data gridbase.Record) (gridbase.Record, error) {
	return m.records.Insert(ctx, data)
}

func (m *Model) UpdateByPK(ctx context.Context, id string, data gridbase.Record) (gridbase.Record, error) {
	return m.records.UpdateByPK(ctx, id, data)
}

func (m *Model) DeleteByPK(ctx context.Context, id string) (int64, error) {
	return m.records.DeleteByPK(ctx, id)
}

func (m *Model) List(ctx context.Context, args gridbase.ListArgs) ([]gridbase.Record, error) {
	return m.records.List(ctx, args)
}

func (m *Model) ListPage(ctx context.Context, args gridbase.ListArgs) (*gridbase.Page, error) {
	return m.records.ListPage(ctx, args)
}

func (m *Model) Count(ctx context.Context, args gridbase.ListArgs) (int64, error) {
	return m.records.Count(ctx, args)
}

func (m *Model) FindOne(ctx context.Context, args gridbase.ListArgs) (gridbase.Record, error) {
	return m.records.FindOne(ctx, args)
}

func (m *Model) GroupBy(ctx context.Context, args gridbase.GroupByArgs) ([]gridbase.GroupRow, error) {
	return m.records.GroupBy(ctx, args)
}

func (m *Model) BulkInsert(ctx context.Context, rows []gridbase.Record, opts *gridbase.BulkOptions) ([]gridbase.Record, error) {
	return m.records.BulkInsert(ctx, rows, opts)
}

func (m *Model) BulkUpdate(ctx context.Context, rows []gridbase.Record, opts *gridbase.BulkOptions) ([]gridbase.Record, error) {
	return m.records.BulkUpdate(ctx, rows, opts)
}

func (m *Model) BulkUpdateAll(ctx context.Context, args gridbase.ListArgs, patch gridbase.Record, opts *gridbase.BulkOptions) (int64, error) {
	return m.records.BulkUpdateAll(ctx, args, patch, opts)
}

func (m *Model) BulkDelete(ctx context.Context, ids []string, opts *gridbase.BulkOptions) (int64, error) {
	return m.records.BulkDelete(ctx, ids, opts)
}

func (m *Model) BulkDeleteAll(ctx context.Context, args gridbase.ListArgs, opts *gridbase.BulkOptions) (int64, error) {
	return m.records.BulkDeleteAll(ctx, args, opts)
}

func (m *Model) MMList(ctx context.Context, columnID string, args gridbase.MMListArgs) ([]gridbase.Record, error) {
	if m.links == nil {
		return nil, gridbase.NewNotEnabledError("MMList")
	}
	return m.links.MMList(ctx, columnID, args)
}

func (m *Model) MMListCount(ctx context.Context, columnID string, args gridbase.MMListArgs) (int64, error) {
	if m.links == nil {
		return 0, gridbase.NewNotEnabledError("MMListCount")
	}
	return m.links.MMListCount(ctx, columnID, args)
}

func (m *Model) MMExcludedList(ctx context.Context, columnID string, args gridbase.MMListArgs) ([]gridbase.Record, error) {
	if m.links == nil {
		return nil, gridbase.NewNotEnabledError("MMExcludedList")
	}
	return m.links.MMExcludedList(ctx, columnID, args)
}

func (m *Model) MMExcludedListCount(ctx context.Context, columnID string, args gridbase.MMListArgs) (int64, error) {
	if m.links == nil {
		return 0, gridbase.NewNotEnabledError("MMExcludedListCount")
	}
	return m.links.MMExcludedListCount(ctx, columnID, args)
}

func (m *Model) MMLink(ctx context.Context, columnID string, childIDs []string, parentID string) error {
	if m.links == nil {
		return gridbase.NewNotEnabledError("MMLink")
	}
	return m.links.MMLink(ctx, columnID, childIDs, parentID)
}

func (m *Model) MMUnlink(ctx context.Context, columnID string, childIDs []string, parentID string) error {
	if m.links == nil {
		return gridbase.NewNotEnabledError("MMUnlink")
	}
	return m.links.MMUnlink(ctx, columnID, childIDs, parentID)
}

func (m *Model) HasChild(ctx context.Context, columnID, parentID, childID string) (bool, error) {
	if m.links == nil {
		return false, gridbase.NewNotEnabledError("HasChild")
	}
	return m.links.HasChild(ctx, columnID, parentID, childID)
}

func (m *Model) BatchLoadRelated(ctx context.Context, records []gridbase.Record, columnID string) (map[string][]gridbase.Record, error) {
	if m.lazy == nil {
		return nil, gridbase.NewNotEnabledError("BatchLoadRelated")
	}
	return m.lazy.BatchLoadRelated(ctx, records, columnID)
}

func (m *Model) ListWithRelations(ctx context.Context, args gridbase.ListArgs, preloadRelations []string) ([]gridbase.Record, error) {
	if m.lazy == nil {
		return nil, gridbase.NewNotEnabledError("ListWithRelations")
	}
	return m.lazy.ListWithRelations(ctx, args, preloadRelations)
}

func (m *Model) ReadByPKWithRelations(ctx context.Context, id string, loadRelations []string) (gridbase.Record, error) {
	if m.lazy == nil {
		return nil, gridbase.NewNotEnabledError("ReadByPKWithRelations")
	}
	return m.lazy.ReadByPKWithRelations(ctx, id, loadRelations)
}

func (m *Model) ClearCache(columnIDs ...string) {
	if m.lazy != nil {
		m.lazy.ClearCache(columnIDs...)
	}
}

func (m *Model) CopyRecord(ctx context.Context, id string, opts *gridbase.CopyOptions) (gridbase.Record, error) {
	if m.copier == nil {
		return nil, gridbase.NewNotEnabledError("CopyRecord")
	}
	return m.copier.CopyRecord(ctx, id, opts)
}

func (m *Model) DeepCopy(ctx context.Context, id string, opts *gridbase.CopyOptions) (gridbase.Record, error) {
	if m.copier == nil {
		return nil, gridbase.NewNotEnabledError("DeepCopy")
	}
	return m.copier.DeepCopy(ctx, id, opts)
}

func (m *Model) CopyTable(ctx context.Context, srcTableID, tgtTableID string, opts *gridbase.CopyOptions) (map[string]string, error) {
	if m.copier == nil {
		return nil, gridbase.NewNotEnabledError("CopyTable")
	}
	return m.copier.CopyTable(ctx, srcTableID, tgtTableID, opts)
}
