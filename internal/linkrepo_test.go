package internal

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/gridbase"
)

func plainLinks(db DB, table *gridbase.Table, schema *gridbase.Schema) *LinkRepo {
	compiler := testCompiler(schema)
	compiler.SetVirtualEnabled(false)
	repo := NewLinkRepo(db, testConfig(), compiler, table)
	repo.nowFunc = func() time.Time { return fixedNow }
	repo.newID = func() string { return fixedID }
	return repo
}

func TestMMListQueriesMembership(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	links := plainLinks(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT .+ FROM "grid_records" "r" WHERE "r"\."table_id" = \$1 AND "r"\."id" IN \(SELECT "l"\."target_record_id" FROM "grid_links" "l" WHERE "l"\."link_field_id" = \$2 AND "l"\."source_record_id" = \$3\) ORDER BY "r"\."created_at" ASC, "r"\."id" ASC LIMIT 25 OFFSET 0`).
		WithArgs("tbl_customers", "col_customers", "parent1").
		WillReturnRows(pgxmock.NewRows(systemColumns()).
			AddRow("cust1", map[string]any{"name": "Ada"}, fixedNow, fixedNow, "", ""))

	records, err := links.MMList(ctx, "col_customers", gridbase.MMListArgs{ParentID: "parent1"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Ada", records[0]["name"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMMExcludedListCountUsesNotIn(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	links := plainLinks(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "grid_records" "r" WHERE "r"\."table_id" = \$1 AND "r"\."id" NOT IN \(SELECT "l"\."target_record_id"`).
		WithArgs("tbl_customers", "col_customers", "parent1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(7)))

	total, err := links.MMExcludedListCount(ctx, "col_customers", gridbase.MMListArgs{ParentID: "parent1"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), total)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMMLinkOneDirectionalStoresNullInverse(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	orders := schema.TableByID("tbl_orders")
	orders.ColumnByRef("col_customers").Options.Link.SymmetricColumnID = ""
	links := plainLinks(mock, orders, schema)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "grid_records"`).
		WithArgs("tbl_orders", []string{"parent1"}).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "grid_records"`).
		WithArgs("tbl_customers", []string{"cust1"}).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	// no mirrored edge, and the inverse column is NULL rather than ''
	mock.ExpectExec(`INSERT INTO "grid_links" .+ VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\) ON CONFLICT DO NOTHING`).
		WithArgs(fixedID, "parent1", "cust1", "col_customers", nil, fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err = links.MMLink(ctx, "col_customers", []string{"cust1"}, "parent1")
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMMListCountWithoutTimeout(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	compiler := testCompiler(schema)
	compiler.SetVirtualEnabled(false)
	cfg := testConfig()
	cfg.Query.Timeout = 0
	links := NewLinkRepo(mock, cfg, compiler, schema.TableByID("tbl_orders"))

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "grid_records"`).
		WithArgs("tbl_customers", "col_customers", "parent1").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))

	total, err := links.MMListCount(ctx, "col_customers", gridbase.MMListArgs{ParentID: "parent1"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMMListRequiresParentID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	links := plainLinks(mock, schema.TableByID("tbl_orders"), schema)

	_, err = links.MMList(ctx, "col_customers", gridbase.MMListArgs{})
	require.Error(t, err)
	assert.True(t, gridbase.IsBadRequest(err))
}

func TestMMListRejectsNonLinkColumn(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	links := plainLinks(mock, schema.TableByID("tbl_orders"), schema)

	_, err = links.MMList(ctx, "col_title", gridbase.MMListArgs{ParentID: "parent1"})
	require.Error(t, err)
	assert.True(t, gridbase.IsBadRequest(err))
}

func TestMMLinkWritesMirroredEdges(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	links := plainLinks(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "grid_records" WHERE "table_id" = \$1 AND "id" = ANY\(\$2\)`).
		WithArgs("tbl_orders", []string{"parent1"}).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "grid_records" WHERE "table_id" = \$1 AND "id" = ANY\(\$2\)`).
		WithArgs("tbl_customers", []string{"cust1", "cust2"}).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(2)))
	mock.ExpectExec(`INSERT INTO "grid_links" \("id", "source_record_id", "target_record_id", "link_field_id", "inverse_field_id", "created_at"\) VALUES .+ ON CONFLICT DO NOTHING`).
		WithArgs(
			fixedID, "parent1", "cust1", "col_customers", "col_orders", fixedNow,
			fixedID, "cust1", "parent1", "col_orders", "col_customers", fixedNow,
			fixedID, "parent1", "cust2", "col_customers", "col_orders", fixedNow,
			fixedID, "cust2", "parent1", "col_orders", "col_customers", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 4))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err = links.MMLink(ctx, "col_customers", []string{"cust1", "cust2"}, "parent1")
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMMLinkRejectsUnknownChildren(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	links := plainLinks(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "grid_records"`).
		WithArgs("tbl_orders", []string{"parent1"}).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "grid_records"`).
		WithArgs("tbl_customers", []string{"cust1", "ghost"}).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectRollback()

	err = links.MMLink(ctx, "col_customers", []string{"cust1", "ghost"}, "parent1")
	require.Error(t, err)
	assert.True(t, gridbase.IsBadRequest(err))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMMUnlinkRemovesBothDirections(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	links := plainLinks(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM "grid_links" WHERE "link_field_id" = \$1 AND "source_record_id" = \$2 AND "target_record_id" = ANY\(\$3\)`).
		WithArgs("col_customers", "parent1", []string{"cust1"}).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM "grid_links" WHERE "link_field_id" = \$1 AND "source_record_id" = ANY\(\$2\) AND "target_record_id" = \$3`).
		WithArgs("col_orders", []string{"cust1"}, "parent1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	err = links.MMUnlink(ctx, "col_customers", []string{"cust1"}, "parent1")
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHasChild(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	links := plainLinks(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM "grid_links" WHERE "link_field_id" = \$1 AND "source_record_id" = \$2 AND "target_record_id" = \$3\)`).
		WithArgs("col_customers", "parent1", "cust1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := links.HasChild(ctx, "col_customers", "parent1", "cust1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, mock.ExpectationsWereMet())
}
