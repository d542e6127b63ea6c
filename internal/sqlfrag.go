package internal

import (
	"fmt"

	"github.com/lychee-technology/gridbase"
)

// The SQL-fragment layer is pure: it maps logical columns onto physical SQL
// expressions and never touches the database.

// Tables carries the physical table names a compiler run is bound to.
type Tables struct {
	Records string
	Links   string
	Schemas string
}

// PhysicalTable returns the physical table a logical table's rows live in:
// the records table for normal tables, the links table for junction tables.
func (t Tables) PhysicalTable(table *gridbase.Table) string {
	if table != nil && table.IsJunction {
		return t.Links
	}
	return t.Records
}

// castTypeFor returns the SQL type a user column casts to for comparisons
// and arithmetic, or "" when the raw text extraction is used as-is.
func castTypeFor(col *gridbase.Column) string {
	switch col.Type {
	case gridbase.ColTypeNumber, gridbase.ColTypeRating, gridbase.ColTypeDuration,
		gridbase.ColTypePercent, gridbase.ColTypeAutoNumber:
		return "numeric"
	case gridbase.ColTypeDecimal, gridbase.ColTypeCurrency:
		return "decimal"
	case gridbase.ColTypeCheckbox:
		return "boolean"
	case gridbase.ColTypeDate:
		return "date"
	case gridbase.ColTypeDateTime:
		return "timestamptz"
	case gridbase.ColTypeTime:
		return "time"
	default:
		return ""
	}
}

// ColumnExpr yields the qualified SQL expression reading a column under the
// given alias: system and junction-table columns read their physical column,
// user columns extract from the JSON data blob as text.
func ColumnExpr(col *gridbase.Column, table *gridbase.Table, alias string) (string, error) {
	if err := gridbase.EnsureAlias(alias); err != nil {
		return "", err
	}
	if field, ok := col.SystemField(); ok {
		return gridbase.QuoteIdent(alias, field), nil
	}
	if table != nil && table.IsJunction {
		return gridbase.QuoteIdent(alias, col.Name), nil
	}
	if err := gridbase.EnsureStorageName(col.Name); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s ->> '%s'", gridbase.QuoteIdent(alias, gridbase.FieldData), col.Name), nil
}

// JSONColumnExpr yields the jsonb-valued extraction (`->` instead of `->>`),
// used for multi-select containment predicates.
func JSONColumnExpr(col *gridbase.Column, alias string) (string, error) {
	if err := gridbase.EnsureAlias(alias); err != nil {
		return "", err
	}
	if err := gridbase.EnsureStorageName(col.Name); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s -> '%s'", gridbase.QuoteIdent(alias, gridbase.FieldData), col.Name), nil
}

// ColumnExprCast wraps the JSON extraction in CAST(NULLIF(expr, '') AS t)
// for typed columns. Empty strings map to SQL NULL before the cast so that
// arithmetic over blank cells stays NULL instead of erroring. System and
// junction columns are returned uncast.
func ColumnExprCast(col *gridbase.Column, table *gridbase.Table, alias string) (string, error) {
	expr, err := ColumnExpr(col, table, alias)
	if err != nil {
		return "", err
	}
	if _, ok := col.SystemField(); ok {
		return expr, nil
	}
	if table != nil && table.IsJunction {
		return expr, nil
	}
	castType := castTypeFor(col)
	if castType == "" {
		return expr, nil
	}
	return fmt.Sprintf("CAST(NULLIF(%s, '') AS %s)", expr, castType), nil
}
