package internal

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/gridbase"
)

func systemColumns() []string {
	return []string{"id", "data", "created_at", "updated_at", "created_by", "updated_by"}
}

func orderRow(id, title string, amount float64) *pgxmock.Rows {
	return pgxmock.NewRows(systemColumns()).AddRow(
		id, map[string]any{"title": title, "amount": amount}, fixedNow, fixedNow, "", "")
}

func TestReadByPK(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT .+ FROM "grid_records" "r" WHERE "r"\."table_id" = \$1 AND "r"\."id" = \$2`).
		WithArgs("tbl_orders", "rec1").
		WillReturnRows(orderRow("rec1", "Invoice 1", 12.5))

	rec, err := repo.ReadByPK(ctx, "rec1")
	require.NoError(t, err)
	assert.Equal(t, "rec1", rec.ID())
	assert.Equal(t, "Invoice 1", rec["title"])
	assert.Equal(t, 12.5, rec["amount"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadByPKNotFound(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_orders", "missing").
		WillReturnRows(pgxmock.NewRows(systemColumns()))

	_, err = repo.ReadByPK(ctx, "missing")
	require.Error(t, err)
	assert.True(t, gridbase.IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertStampsSystemFields(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectExec(`INSERT INTO "grid_records" \("id", "table_id", "data", "created_at", "updated_at", "created_by", "updated_by"\)`).
		WithArgs(fixedID, "tbl_orders", map[string]any{"title": "Invoice 1"}, fixedNow, fixedNow, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_orders", fixedID).
		WillReturnRows(orderRow(fixedID, "Invoice 1", 0))

	rec, err := repo.Insert(ctx, gridbase.Record{"title": "Invoice 1"})
	require.NoError(t, err)
	assert.Equal(t, fixedID, rec.ID())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRejectsMalformedID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	_, err = repo.Insert(ctx, gridbase.Record{"id": "not-a-valid-id", "title": "x"})
	require.Error(t, err)
	assert.True(t, gridbase.IsBadRequest(err))
}

func TestUpdateByPKMergesPayload(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectExec(`UPDATE "grid_records" SET "data" = "data" \|\| \$1, "updated_at" = \$2, "updated_by" = \$3`).
		WithArgs(map[string]any{"amount": 20.0}, fixedNow, "", "tbl_orders", "rec1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_orders", "rec1").
		WillReturnRows(orderRow("rec1", "Invoice 1", 20))

	rec, err := repo.UpdateByPK(ctx, "rec1", gridbase.Record{"amount": 20.0})
	require.NoError(t, err)
	assert.Equal(t, 20.0, rec["amount"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateByPKNotFound(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectExec(`UPDATE "grid_records"`).
		WithArgs(map[string]any{"amount": 1.0}, fixedNow, "", "tbl_orders", "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err = repo.UpdateByPK(ctx, "missing", gridbase.Record{"amount": 1.0})
	require.Error(t, err)
	assert.True(t, gridbase.IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByPKClearsEdgesFirst(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "grid_links" WHERE "source_record_id" = \$1 OR "target_record_id" = \$2`).
		WithArgs("rec1", "rec1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM "grid_records" WHERE "table_id" = \$1 AND "id" = \$2`).
		WithArgs("tbl_orders", "rec1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	affected, err := repo.DeleteByPK(ctx, "rec1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByPKNotFound(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "grid_links"`).
		WithArgs("ghost", "ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`DELETE FROM "grid_records"`).
		WithArgs("tbl_orders", "ghost").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectCommit()
	mock.ExpectRollback()

	_, err = repo.DeleteByPK(ctx, "ghost")
	require.Error(t, err)
	assert.True(t, gridbase.IsNotFound(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountAppliesFilters(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "grid_records" "r" WHERE "r"\."table_id" = \$1 AND "r"\."data" ->> 'title' = \$2`).
		WithArgs("tbl_orders", "Invoice 1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	total, err := repo.Count(ctx, gridbase.ListArgs{
		FilterArr: []*gridbase.FilterNode{gridbase.Leaf("col_title", gridbase.OpEq, "Invoice 1")},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), total)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDefaultsOrderAndClampsLimit(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT .+ ORDER BY "r"\."created_at" ASC, "r"\."id" ASC LIMIT 25 OFFSET 0`).
		WithArgs("tbl_orders").
		WillReturnRows(orderRow("rec1", "a", 1).AddRow(
			"rec2", map[string]any{"title": "b", "amount": float64(2)}, fixedNow, fixedNow, "", ""))

	records, err := repo.List(ctx, gridbase.ListArgs{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec1", records[0].ID())
	assert.Equal(t, "rec2", records[1].ID())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRestrictsFields(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_orders").
		WillReturnRows(orderRow("rec1", "a", 1))

	records, err := repo.List(ctx, gridbase.ListArgs{Fields: []string{"title"}})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, gridbase.Record{"id": "rec1", "title": "a"}, records[0])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListPageComputesTotals(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "grid_records"`).
		WithArgs("tbl_orders").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(51)))
	mock.ExpectQuery(`SELECT .+ LIMIT 25 OFFSET 25`).
		WithArgs("tbl_orders").
		WillReturnRows(orderRow("rec26", "x", 1))

	page, err := repo.ListPage(ctx, gridbase.ListArgs{Offset: 25})
	require.NoError(t, err)
	assert.Equal(t, int64(51), page.TotalRecords)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 2, page.CurrentPage)
	assert.Len(t, page.Records, 1)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGroupByBuildsAggregate(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	repo := plainRepo(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT "r"\."data" ->> 'title' AS "group_key", COUNT\(\*\) AS "group_value" FROM "grid_records"`).
		WithArgs("tbl_orders").
		WillReturnRows(pgxmock.NewRows([]string{"group_key", "group_value"}).
			AddRow("a", float64(2)).
			AddRow("b", float64(1)))

	rowsOut, err := repo.GroupBy(ctx, gridbase.GroupByArgs{ColumnID: "col_title", Agg: gridbase.AggCount})
	require.NoError(t, err)
	require.Len(t, rowsOut, 2)
	assert.Equal(t, "a", rowsOut[0].Key)
	assert.Equal(t, float64(2), rowsOut[0].Value)

	require.NoError(t, mock.ExpectationsWereMet())
}
