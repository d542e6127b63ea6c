package internal

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/gridbase"
)

func plainLazy(db DB, table *gridbase.Table, schema *gridbase.Schema) *LazyLoader {
	records := plainRepo(db, table, schema)
	return NewLazyLoader(db, testConfig(), records.compiler, table, records)
}

func custRow(id, name string) []any {
	return []any{id, map[string]any{"name": name}, fixedNow, fixedNow, "", ""}
}

func TestBatchLoadRelatedGroupsByParent(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	lazy := plainLazy(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT "source_record_id", "target_record_id" FROM "grid_links" WHERE "link_field_id" = \$1 AND "source_record_id" = ANY\(\$2\) ORDER BY "created_at" ASC`).
		WithArgs("col_customers", []string{"p1", "p2"}).
		WillReturnRows(pgxmock.NewRows([]string{"source_record_id", "target_record_id"}).
			AddRow("p1", "c2").
			AddRow("p1", "c1"))
	// child ids come out of a set, so the slice order is not fixed
	mock.ExpectQuery(`SELECT .+ FROM "grid_records" "r" WHERE "r"\."table_id" = \$1 AND "r"\."id" = ANY\(\$2\)`).
		WithArgs("tbl_customers", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(systemColumns()).
			AddRow(custRow("c1", "Ada")...).
			AddRow(custRow("c2", "Grace")...))

	parents := []gridbase.Record{{"id": "p1"}, {"id": "p2"}}
	loaded, err := lazy.BatchLoadRelated(ctx, parents, "col_customers")
	require.NoError(t, err)

	require.Len(t, loaded["p1"], 2)
	// children follow edge creation order
	assert.Equal(t, "c2", loaded["p1"][0].ID())
	assert.Equal(t, "c1", loaded["p1"][1].ID())
	assert.Empty(t, loaded["p2"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchLoadRelatedServesRepeatsFromCache(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	lazy := plainLazy(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT "source_record_id", "target_record_id" FROM "grid_links"`).
		WithArgs("col_customers", []string{"p1"}).
		WillReturnRows(pgxmock.NewRows([]string{"source_record_id", "target_record_id"}).
			AddRow("p1", "c1"))
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_customers", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(systemColumns()).AddRow(custRow("c1", "Ada")...))

	parents := []gridbase.Record{{"id": "p1"}}
	first, err := lazy.BatchLoadRelated(ctx, parents, "col_customers")
	require.NoError(t, err)
	require.Len(t, first["p1"], 1)

	second, err := lazy.BatchLoadRelated(ctx, parents, "col_customers")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClearCacheForcesReload(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	lazy := plainLazy(mock, schema.TableByID("tbl_orders"), schema)

	for i := 0; i < 2; i++ {
		mock.ExpectQuery(`SELECT "source_record_id", "target_record_id" FROM "grid_links"`).
			WithArgs("col_customers", []string{"p1"}).
			WillReturnRows(pgxmock.NewRows([]string{"source_record_id", "target_record_id"}))
	}

	parents := []gridbase.Record{{"id": "p1"}}
	_, err = lazy.BatchLoadRelated(ctx, parents, "col_customers")
	require.NoError(t, err)

	lazy.ClearCache("col_customers")

	_, err = lazy.BatchLoadRelated(ctx, parents, "col_customers")
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBatchLoadRelatedRejectsNonLinkColumn(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	lazy := plainLazy(mock, schema.TableByID("tbl_orders"), schema)

	_, err = lazy.BatchLoadRelated(ctx, []gridbase.Record{{"id": "p1"}}, "col_amount")
	require.Error(t, err)
	assert.True(t, gridbase.IsBadRequest(err))
}

func TestReadByPKWithRelationsNestsChildren(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	lazy := plainLazy(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT .+ FROM "grid_records" "r" WHERE "r"\."table_id" = \$1 AND "r"\."id" = \$2`).
		WithArgs("tbl_orders", "p1").
		WillReturnRows(orderRow("p1", "Invoice 1", 10))
	mock.ExpectQuery(`SELECT "source_record_id", "target_record_id" FROM "grid_links"`).
		WithArgs("col_customers", []string{"p1"}).
		WillReturnRows(pgxmock.NewRows([]string{"source_record_id", "target_record_id"}).
			AddRow("p1", "c1"))
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_customers", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(systemColumns()).AddRow(custRow("c1", "Ada")...))

	rec, err := lazy.ReadByPKWithRelations(ctx, "p1", []string{"col_customers"})
	require.NoError(t, err)

	children, ok := rec["customers"].([]gridbase.Record)
	require.True(t, ok)
	require.Len(t, children, 1)
	assert.Equal(t, "Ada", children[0]["name"])

	require.NoError(t, mock.ExpectationsWereMet())
}
