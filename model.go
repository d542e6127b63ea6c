package gridbase

import (
	"context"
)

// Bundle selects which capabilities a table model carries.
type Bundle string

const (
	// BundleMinimal: CRUD, list, count, bulk. Virtual columns are not
	// compiled; virtual filter or sort leaves fail as bad requests.
	BundleMinimal Bundle = "minimal"
	// BundleDefault: minimal plus link operations and virtual columns.
	BundleDefault Bundle = "default"
	// BundleLazy: default plus the batched relation loader.
	BundleLazy Bundle = "lazy"
	// BundleCopy: default plus copy operations.
	BundleCopy Bundle = "copy"
	// BundleFull: everything.
	BundleFull Bundle = "full"
)

// RecordOps is the core CRUD and query surface of one logical table.
type RecordOps interface {
	ReadByPK(ctx context.Context, id string, fields ...string) (Record, error)
	Exists(ctx context.Context, id string) (bool, error)
	Insert(ctx context.Context, data Record) (Record, error)
	UpdateByPK(ctx context.Context, id string, data Record) (Record, error)
	DeleteByPK(ctx context.Context, id string) (int64, error)

	List(ctx context.Context, args ListArgs) ([]Record, error)
	ListPage(ctx context.Context, args ListArgs) (*Page, error)
	Count(ctx context.Context, args ListArgs) (int64, error)
	FindOne(ctx context.Context, args ListArgs) (Record, error)
	GroupBy(ctx context.Context, args GroupByArgs) ([]GroupRow, error)

	BulkInsert(ctx context.Context, rows []Record, opts *BulkOptions) ([]Record, error)
	BulkUpdate(ctx context.Context, rows []Record, opts *BulkOptions) ([]Record, error)
	BulkUpdateAll(ctx context.Context, args ListArgs, patch Record, opts *BulkOptions) (int64, error)
	BulkDelete(ctx context.Context, ids []string, opts *BulkOptions) (int64, error)
	BulkDeleteAll(ctx context.Context, args ListArgs, opts *BulkOptions) (int64, error)
}

// LinkOps is the many-to-many link surface of one logical table.
type LinkOps interface {
	MMList(ctx context.Context, columnID string, args MMListArgs) ([]Record, error)
	MMListCount(ctx context.Context, columnID string, args MMListArgs) (int64, error)
	MMExcludedList(ctx context.Context, columnID string, args MMListArgs) ([]Record, error)
	MMExcludedListCount(ctx context.Context, columnID string, args MMListArgs) (int64, error)
	MMLink(ctx context.Context, columnID string, childIDs []string, parentID string) error
	MMUnlink(ctx context.Context, columnID string, childIDs []string, parentID string) error
	HasChild(ctx context.Context, columnID, parentID, childID string) (bool, error)
}

// LazyOps batches relation loading across sets of parent records so a page
// of N parents costs O(1) queries per relation column instead of O(N).
type LazyOps interface {
	BatchLoadRelated(ctx context.Context, records []Record, columnID string) (map[string][]Record, error)
	ListWithRelations(ctx context.Context, args ListArgs, preloadRelations []string) ([]Record, error)
	ReadByPKWithRelations(ctx context.Context, id string, loadRelations []string) (Record, error)
	ClearCache(columnIDs ...string)
}

// CopyOps duplicates records, optionally cloning their relation graph.
type CopyOps interface {
	CopyRecord(ctx context.Context, id string, opts *CopyOptions) (Record, error)
	DeepCopy(ctx context.Context, id string, opts *CopyOptions) (Record, error)
	CopyTable(ctx context.Context, srcTableID, tgtTableID string, opts *CopyOptions) (map[string]string, error)
}

// TableModel is the composed façade over one logical table. Bundles beyond
// the requested one return OPERATION_NOT_ENABLED errors; the model itself
// binds an immutable schema snapshot and a database handle for the duration
// of one request scope.
type TableModel interface {
	RecordOps
	LinkOps
	LazyOps
	CopyOps

	// Table returns the logical table this model serves.
	Table() *Table
	// Schema returns the bound schema snapshot.
	Schema() *Schema
}
