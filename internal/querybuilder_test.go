package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordQuerySeedsTenancyPredicate(t *testing.T) {
	schema := testSchema()
	orders := schema.TableByID("tbl_orders")

	idx := 0
	qb, err := NewRecordQuery(testTables(), orders, "r", &idx)
	require.NoError(t, err)

	sql, args := qb.Build()
	assert.Equal(t, `SELECT * FROM "grid_records" "r" WHERE "r"."table_id" = $1`, sql)
	assert.Equal(t, []any{"tbl_orders"}, args)
}

func TestSelectBuilderComposesClauses(t *testing.T) {
	schema := testSchema()
	orders := schema.TableByID("tbl_orders")

	idx := 0
	qb, err := NewRecordQuery(testTables(), orders, "r", &idx)
	require.NoError(t, err)
	qb.Select(`"r"."id"`).
		Where(`"r"."data" ->> 'title' = `+qb.NextParam(), "x").
		OrderBy(`"r"."created_at" ASC`).
		Limit(25, 50)

	sql, args := qb.Build()
	assert.Equal(t,
		`SELECT "r"."id" FROM "grid_records" "r" `+
			`WHERE "r"."table_id" = $1 AND "r"."data" ->> 'title' = $2 `+
			`ORDER BY "r"."created_at" ASC LIMIT 25 OFFSET 50`,
		sql)
	assert.Equal(t, []any{"tbl_orders", "x"}, args)
}

func TestSelectBuilderCountDropsOrderAndLimit(t *testing.T) {
	schema := testSchema()
	orders := schema.TableByID("tbl_orders")

	idx := 0
	qb, err := NewRecordQuery(testTables(), orders, "r", &idx)
	require.NoError(t, err)
	qb.OrderBy(`"r"."created_at" ASC`).Limit(10, 0)

	sql, _ := qb.BuildCount()
	assert.Equal(t, `SELECT COUNT(*) FROM "grid_records" "r" WHERE "r"."table_id" = $1`, sql)
}

func TestRecordQueryRejectsBadAlias(t *testing.T) {
	schema := testSchema()
	orders := schema.TableByID("tbl_orders")

	idx := 0
	_, err := NewRecordQuery(testTables(), orders, `r"; DROP TABLE x; --`, &idx)
	require.Error(t, err)
}
