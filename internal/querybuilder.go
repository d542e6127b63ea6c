package internal

import (
	"fmt"
	"strings"

	"github.com/lychee-technology/gridbase"
)

// SelectBuilder assembles a parameterized SELECT against one physical table.
// Placeholders are allocated through a shared counter so fragments built by
// the compilers splice in without renumbering.
type SelectBuilder struct {
	projection []string
	table      string
	alias      string
	wheres     []string
	orderBys   []string
	groupBys   []string
	args       []any
	paramIndex *int
	limit      int
	offset     int
	hasLimit   bool
}

// NewSelectBuilder starts a SELECT on table under alias. paramIndex holds
// the last placeholder number handed out; it may be shared with fragment
// compilers.
func NewSelectBuilder(table, alias string, paramIndex *int) *SelectBuilder {
	if paramIndex == nil {
		idx := 0
		paramIndex = &idx
	}
	return &SelectBuilder{
		table:      table,
		alias:      alias,
		paramIndex: paramIndex,
	}
}

// NewRecordQuery starts a SELECT on the records table with the mandatory
// data-isolation predicate `table_id = $n` already applied. Every read and
// every update/delete subquery for a logical table goes through here.
func NewRecordQuery(tables Tables, table *gridbase.Table, alias string, paramIndex *int) (*SelectBuilder, error) {
	if err := gridbase.EnsureAlias(alias); err != nil {
		return nil, err
	}
	b := NewSelectBuilder(tables.PhysicalTable(table), alias, paramIndex)
	b.Where(fmt.Sprintf("%s = %s", gridbase.QuoteIdent(alias, gridbase.FieldTableID), b.NextParam()), table.ID)
	return b, nil
}

// NextParam allocates the next placeholder.
func (b *SelectBuilder) NextParam() string {
	*b.paramIndex++
	return fmt.Sprintf("$%d", *b.paramIndex)
}

// ParamIndex exposes the shared placeholder counter for fragment compilers.
func (b *SelectBuilder) ParamIndex() *int {
	return b.paramIndex
}

// Select appends projection expressions.
func (b *SelectBuilder) Select(exprs ...string) *SelectBuilder {
	b.projection = append(b.projection, exprs...)
	return b
}

// Where appends a predicate ANDed with the existing ones.
func (b *SelectBuilder) Where(clause string, args ...any) *SelectBuilder {
	if clause == "" {
		return b
	}
	b.wheres = append(b.wheres, clause)
	b.args = append(b.args, args...)
	return b
}

// OrderBy appends an ORDER BY expression.
func (b *SelectBuilder) OrderBy(expr string, args ...any) *SelectBuilder {
	if expr == "" {
		return b
	}
	b.orderBys = append(b.orderBys, expr)
	b.args = append(b.args, args...)
	return b
}

// GroupBy appends a GROUP BY expression.
func (b *SelectBuilder) GroupBy(expr string) *SelectBuilder {
	if expr == "" {
		return b
	}
	b.groupBys = append(b.groupBys, expr)
	return b
}

// Limit sets LIMIT/OFFSET.
func (b *SelectBuilder) Limit(limit, offset int) *SelectBuilder {
	b.limit = limit
	b.offset = offset
	b.hasLimit = true
	return b
}

// AddArgs appends bound arguments for placeholders allocated outside the
// builder (e.g. inside projection fragments).
func (b *SelectBuilder) AddArgs(args ...any) *SelectBuilder {
	b.args = append(b.args, args...)
	return b
}

// Build renders the SELECT and its argument list.
func (b *SelectBuilder) Build() (string, []any) {
	projection := "*"
	if len(b.projection) > 0 {
		projection = strings.Join(b.projection, ", ")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s %s",
		projection, gridbase.QuoteIdent(b.table), gridbase.QuoteIdent(b.alias))
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.wheres, " AND "))
	}
	if len(b.groupBys) > 0 {
		sb.WriteString(" GROUP BY ")
		sb.WriteString(strings.Join(b.groupBys, ", "))
	}
	if len(b.orderBys) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(b.orderBys, ", "))
	}
	if b.hasLimit {
		fmt.Fprintf(&sb, " LIMIT %d OFFSET %d", b.limit, b.offset)
	}
	return sb.String(), b.args
}

// BuildCount renders a COUNT(*) over the same predicate stack.
func (b *SelectBuilder) BuildCount() (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT COUNT(*) FROM %s %s",
		gridbase.QuoteIdent(b.table), gridbase.QuoteIdent(b.alias))
	if len(b.wheres) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.wheres, " AND "))
	}
	return sb.String(), b.args
}
