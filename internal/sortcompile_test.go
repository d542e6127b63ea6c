package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/gridbase"
)

func TestCompileSortNullPlacement(t *testing.T) {
	schema := testSchema()
	c := testCompiler(schema)
	orders := schema.TableByID("tbl_orders")
	idx := 0
	env := c.NewEnv(orders, "r", &idx)

	terms, err := c.CompileSort(env, []gridbase.SortSpec{
		{ColumnID: "col_amount", Direction: gridbase.SortAsc},
		{ColumnID: "col_title", Direction: gridbase.SortDesc},
	})
	require.NoError(t, err)
	require.Len(t, terms, 2)
	assert.Equal(t, `CAST(NULLIF("r"."data" ->> 'amount', '') AS numeric) ASC NULLS LAST`, terms[0].Expr)
	assert.Equal(t, `"r"."data" ->> 'title' DESC NULLS FIRST`, terms[1].Expr)
}

func TestCompileSortVirtualColumn(t *testing.T) {
	schema := testSchema()
	c := testCompiler(schema)
	customers := schema.TableByID("tbl_customers")
	idx := 0
	env := c.NewEnv(customers, "r", &idx)

	terms, err := c.CompileSort(env, []gridbase.SortSpec{
		{ColumnID: "col_order_count", Direction: gridbase.SortDesc},
	})
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.Contains(t, terms[0].Expr, `FROM "grid_links"`)
	assert.Contains(t, terms[0].Expr, "DESC NULLS FIRST")
	assert.Equal(t, []any{"col_orders"}, terms[0].Args)
}

func TestCompileSortUnknownColumn(t *testing.T) {
	schema := testSchema()
	c := testCompiler(schema)
	orders := schema.TableByID("tbl_orders")
	idx := 0
	env := c.NewEnv(orders, "r", &idx)

	_, err := c.CompileSort(env, []gridbase.SortSpec{{ColumnID: "nope"}})
	require.Error(t, err)
	assert.True(t, gridbase.IsBadRequest(err))
}
