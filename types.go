package gridbase

import (
	"github.com/jackc/pgx/v5"
)

// Record is a logical record: the merged view of the physical system
// columns and the user-data JSON blob. Keys are column storage names plus
// the system field names below.
type Record map[string]any

// System field names as they appear in logical records and in the physical
// records table.
const (
	FieldID        = "id"
	FieldTableID   = "table_id"
	FieldData      = "data"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
	FieldCreatedBy = "created_by"
	FieldUpdatedBy = "updated_by"
)

// ID returns the record's primary key, if present.
func (r Record) ID() string {
	if v, ok := r[FieldID].(string); ok {
		return v
	}
	return ""
}

// LogicOp joins the children of a filter group.
type LogicOp string

const (
	LogicAnd LogicOp = "and"
	LogicOr  LogicOp = "or"
)

// CompareOp is a filter leaf comparison operator.
type CompareOp string

const (
	OpEq         CompareOp = "eq"
	OpNeq        CompareOp = "neq"
	OpLt         CompareOp = "lt"
	OpLte        CompareOp = "lte"
	OpGt         CompareOp = "gt"
	OpGte        CompareOp = "gte"
	OpLike       CompareOp = "like"
	OpNotLike    CompareOp = "nlike"
	OpNull       CompareOp = "null"
	OpIs         CompareOp = "is"
	OpNotNull    CompareOp = "notnull"
	OpIsNot      CompareOp = "isnot"
	OpEmpty      CompareOp = "empty"
	OpNotEmpty   CompareOp = "notempty"
	OpIn         CompareOp = "in"
	OpNotIn      CompareOp = "notin"
	OpBetween    CompareOp = "between"
	OpNotBetween CompareOp = "notbetween"
	OpAllOf      CompareOp = "allof"
	OpAnyOf      CompareOp = "anyof"
	OpNotAllOf   CompareOp = "nallof"
	OpNotAnyOf   CompareOp = "nanyof"
)

// FilterNode is one node of a filter tree: either a group (IsGroup with a
// logical operator and children) or a leaf (column, comparison, value).
// Tree depth is unbounded.
type FilterNode struct {
	IsGroup  bool          `json:"is_group,omitempty"`
	Logic    LogicOp       `json:"logical_op,omitempty"`
	Children []*FilterNode `json:"children,omitempty"`

	ColumnID string    `json:"fk_column_id,omitempty"`
	Op       CompareOp `json:"comparison_op,omitempty"`
	Value    any       `json:"value,omitempty"`
}

// Group builds a filter group node.
func Group(logic LogicOp, children ...*FilterNode) *FilterNode {
	return &FilterNode{IsGroup: true, Logic: logic, Children: children}
}

// Leaf builds a filter leaf node.
func Leaf(columnID string, op CompareOp, value any) *FilterNode {
	return &FilterNode{ColumnID: columnID, Op: op, Value: value}
}

// SortDirection is a sort order.
type SortDirection string

const (
	SortAsc  SortDirection = "asc"
	SortDesc SortDirection = "desc"
)

// SortSpec is one entry of an ordered sort list.
type SortSpec struct {
	ColumnID  string        `json:"fk_column_id"`
	Direction SortDirection `json:"direction"`
}

// ListArgs describes a logical list/count request.
type ListArgs struct {
	// FilterArr is the structured filter tree (roots are AND-joined).
	FilterArr []*FilterNode `json:"filter_arr,omitempty"`
	// SortArr is the structured sort list.
	SortArr []SortSpec `json:"sort_arr,omitempty"`
	// Where is the legacy "(field,op,value)~and(...)" filter string.
	Where string `json:"where,omitempty"`
	// Sort is the legacy "+f,-f,f:asc" sort string.
	Sort string `json:"sort,omitempty"`
	// Fields restricts the projection to the named columns; empty means all.
	Fields []string `json:"fields,omitempty"`
	Limit  int      `json:"limit,omitempty"`
	Offset int      `json:"offset,omitempty"`
}

// AggFn is a group-by aggregation function.
type AggFn string

const (
	AggCount AggFn = "count"
	AggSum   AggFn = "sum"
	AggAvg   AggFn = "avg"
	AggMin   AggFn = "min"
	AggMax   AggFn = "max"
)

// GroupByArgs describes a group-by aggregation request.
type GroupByArgs struct {
	ColumnID string `json:"fk_column_id"`
	// AggColumnID is the column the aggregate runs over; empty with
	// AggCount means COUNT(*).
	AggColumnID string `json:"agg_column_id,omitempty"`
	Agg         AggFn  `json:"agg"`
	ListArgs
}

// GroupRow is one row of a group-by result.
type GroupRow struct {
	Key   any     `json:"key"`
	Value float64 `json:"value"`
}

// Page wraps a record page with pagination totals.
type Page struct {
	Records      []Record `json:"records"`
	TotalRecords int64    `json:"total_records"`
	TotalPages   int      `json:"total_pages"`
	CurrentPage  int      `json:"current_page"`
}

// MMListArgs describes a many-to-many child listing request.
type MMListArgs struct {
	ParentID string `json:"parent_id"`
	ListArgs
}

// BulkOptions tunes bulk record operations.
type BulkOptions struct {
	ChunkSize int `json:"chunk_size,omitempty"`
	// Tx runs the operation inside a caller-owned transaction; the engine
	// neither commits nor rolls it back.
	Tx pgx.Tx `json:"-"`
}

// CopyOptions tunes record copy operations.
type CopyOptions struct {
	// DeepCopy clones related records instead of re-linking them.
	DeepCopy bool `json:"deep_copy,omitempty"`
	// MaxDepth bounds relation recursion; zero means the configured default.
	MaxDepth int `json:"max_depth,omitempty"`
	// CopyRelations re-creates link edges on the copy.
	CopyRelations bool `json:"copy_relations,omitempty"`
	// ExcludeFields are column names dropped from the copied payload in
	// addition to the system fields.
	ExcludeFields []string `json:"exclude_fields,omitempty"`
	// Tx runs the whole copy inside a caller-owned transaction.
	Tx pgx.Tx `json:"-"`
}
