package internal

import (
	"fmt"

	"github.com/lychee-technology/gridbase"
)

// CompileSort lowers a sort list into ORDER BY terms. Ascending sorts push
// NULLs last, descending sorts push them first, so empty cells always trail
// the visible window.
func (c *Compiler) CompileSort(env *compileEnv, sorts []gridbase.SortSpec) ([]SortTerm, error) {
	terms := make([]SortTerm, 0, len(sorts))
	for _, s := range sorts {
		col := env.table.ColumnByRef(s.ColumnID)
		if col == nil {
			return nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidFilter,
				fmt.Sprintf("sort references unknown column '%s'", s.ColumnID)).
				WithField(s.ColumnID)
		}
		expr, args, err := c.ColumnSQLLenient(env, col)
		if err != nil {
			return nil, err
		}
		dir := "ASC NULLS LAST"
		if s.Direction == gridbase.SortDesc {
			dir = "DESC NULLS FIRST"
		}
		terms = append(terms, SortTerm{Expr: fmt.Sprintf("%s %s", expr, dir), Args: args})
	}
	return terms, nil
}

// SortTerm is one compiled ORDER BY entry with its bound parameters.
type SortTerm struct {
	Expr string
	Args []any
}
