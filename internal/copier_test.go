package internal

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/gridbase"
)

func plainCopier(db DB, table *gridbase.Table, schema *gridbase.Schema) *Copier {
	records := plainRepo(db, table, schema)
	return NewCopier(db, testConfig(), records.compiler, table, records)
}

func TestCopyPayloadStripsSystemAndExcluded(t *testing.T) {
	schema := testSchema()
	table := schema.TableByID("tbl_orders")

	src := gridbase.Record{
		"id":         "src1",
		"title":      "Invoice 1",
		"amount":     12.5,
		"paid":       true,
		"total":      25.0,
		"created_at": "2026-03-04T05:06:07Z",
	}
	payload := copyPayload(table, src, []string{"paid"})

	assert.Equal(t, gridbase.Record{"title": "Invoice 1", "amount": 12.5}, payload)
}

func TestCopyRecordClonesWithFreshID(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	copier := plainCopier(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM "grid_records" "r" WHERE "r"\."table_id" = \$1 AND "r"\."id" = \$2`).
		WithArgs("tbl_orders", "src1").
		WillReturnRows(orderRow("src1", "Invoice 1", 12.5))
	mock.ExpectExec(`INSERT INTO "grid_records"`).
		WithArgs(fixedID, "tbl_orders", map[string]any{"title": "Invoice 1", "amount": 12.5}, fixedNow, fixedNow, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_orders", fixedID).
		WillReturnRows(orderRow(fixedID, "Invoice 1", 12.5))
	mock.ExpectCommit()
	mock.ExpectRollback()

	clone, err := copier.CopyRecord(ctx, "src1", nil)
	require.NoError(t, err)
	assert.Equal(t, fixedID, clone.ID())
	assert.Equal(t, "Invoice 1", clone["title"])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyRecordWithRelationsRelinksEdges(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	copier := plainCopier(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_orders", "src1").
		WillReturnRows(orderRow("src1", "Invoice 1", 12.5))
	mock.ExpectExec(`INSERT INTO "grid_records"`).
		WithArgs(fixedID, "tbl_orders", map[string]any{"title": "Invoice 1", "amount": 12.5}, fixedNow, fixedNow, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_orders", fixedID).
		WillReturnRows(orderRow(fixedID, "Invoice 1", 12.5))
	mock.ExpectQuery(`SELECT "target_record_id", "link_field_id", "inverse_field_id" FROM "grid_links" WHERE "source_record_id" = \$1`).
		WithArgs("src1").
		WillReturnRows(pgxmock.NewRows([]string{"target_record_id", "link_field_id", "inverse_field_id"}).
			AddRow("cust1", "col_customers", "col_orders"))
	// the clone links to the same target, both directions
	mock.ExpectExec(`INSERT INTO "grid_links" .+ ON CONFLICT DO NOTHING`).
		WithArgs(fixedID, fixedID, "cust1", "col_customers", "col_orders", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO "grid_links" .+ ON CONFLICT DO NOTHING`).
		WithArgs(fixedID, "cust1", fixedID, "col_orders", "col_customers", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	clone, err := copier.CopyRecord(ctx, "src1", &gridbase.CopyOptions{CopyRelations: true})
	require.NoError(t, err)
	assert.Equal(t, fixedID, clone.ID())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeepCopyClonesChainThroughMaxDepth(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	copier := plainCopier(mock, schema.TableByID("tbl_orders"), schema)

	// chain src1 -> cust1 -> ord2 -> cust9 with MaxDepth 2: src1, cust1 and
	// ord2 are all cloned; ord2's relations hit the cutoff, so its clone
	// links back to the original cust9
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_orders", "src1").
		WillReturnRows(orderRow("src1", "Invoice 1", 12.5))
	mock.ExpectExec(`INSERT INTO "grid_records"`).
		WithArgs(fixedID, "tbl_orders", map[string]any{"title": "Invoice 1", "amount": 12.5}, fixedNow, fixedNow, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_orders", fixedID).
		WillReturnRows(orderRow(fixedID, "Invoice 1", 12.5))
	mock.ExpectQuery(`SELECT "target_record_id" FROM "grid_links" WHERE "link_field_id" = \$1 AND "source_record_id" = \$2 ORDER BY "created_at" ASC`).
		WithArgs("col_customers", "src1").
		WillReturnRows(pgxmock.NewRows([]string{"target_record_id"}).AddRow("cust1"))

	// depth 1: cust1 is cloned
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_customers", "cust1").
		WillReturnRows(pgxmock.NewRows(systemColumns()).AddRow(custRow("cust1", "Ada")...))
	mock.ExpectExec(`INSERT INTO "grid_records"`).
		WithArgs(fixedID, "tbl_customers", map[string]any{"name": "Ada"}, fixedNow, fixedNow, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_customers", fixedID).
		WillReturnRows(pgxmock.NewRows(systemColumns()).AddRow(custRow(fixedID, "Ada")...))
	mock.ExpectQuery(`SELECT "target_record_id" FROM "grid_links"`).
		WithArgs("col_orders", "cust1").
		WillReturnRows(pgxmock.NewRows([]string{"target_record_id"}).AddRow("ord2"))

	// depth 2: ord2 is still cloned
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_orders", "ord2").
		WillReturnRows(orderRow("ord2", "Invoice 2", 5))
	mock.ExpectExec(`INSERT INTO "grid_records"`).
		WithArgs(fixedID, "tbl_orders", map[string]any{"title": "Invoice 2", "amount": 5.0}, fixedNow, fixedNow, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_orders", fixedID).
		WillReturnRows(orderRow(fixedID, "Invoice 2", 5))
	mock.ExpectQuery(`SELECT "target_record_id" FROM "grid_links"`).
		WithArgs("col_customers", "ord2").
		WillReturnRows(pgxmock.NewRows([]string{"target_record_id"}).AddRow("cust9"))
	// depth 3 exceeds MaxDepth: ord2's clone keeps the original cust9
	mock.ExpectExec(`INSERT INTO "grid_links" .+ ON CONFLICT DO NOTHING`).
		WithArgs(fixedID, fixedID, "cust9", "col_customers", "col_orders", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO "grid_links" .+ ON CONFLICT DO NOTHING`).
		WithArgs(fixedID, "cust9", fixedID, "col_orders", "col_customers", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// cust1's clone links to ord2's clone
	mock.ExpectExec(`INSERT INTO "grid_links" .+ ON CONFLICT DO NOTHING`).
		WithArgs(fixedID, fixedID, fixedID, "col_orders", "col_customers", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO "grid_links" .+ ON CONFLICT DO NOTHING`).
		WithArgs(fixedID, fixedID, fixedID, "col_customers", "col_orders", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	// src1's clone links to cust1's clone
	mock.ExpectExec(`INSERT INTO "grid_links" .+ ON CONFLICT DO NOTHING`).
		WithArgs(fixedID, fixedID, fixedID, "col_customers", "col_orders", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO "grid_links" .+ ON CONFLICT DO NOTHING`).
		WithArgs(fixedID, fixedID, fixedID, "col_orders", "col_customers", fixedNow).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	mock.ExpectRollback()

	clone, err := copier.DeepCopy(ctx, "src1", &gridbase.CopyOptions{MaxDepth: 2})
	require.NoError(t, err)
	assert.Equal(t, fixedID, clone.ID())

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyTableMapsSourceToClone(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	copier := plainCopier(mock, schema.TableByID("tbl_orders"), schema)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT .+ FROM "grid_records" "r" WHERE "r"\."table_id" = \$1 ORDER BY "r"\."created_at" ASC, "r"\."id" ASC LIMIT 1000 OFFSET 0`).
		WithArgs("tbl_orders").
		WillReturnRows(orderRow("src1", "Invoice 1", 12.5))
	mock.ExpectExec(`INSERT INTO "grid_records"`).
		WithArgs(fixedID, "tbl_customers", map[string]any{}, fixedNow, fixedNow, "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT .+ FROM "grid_records"`).
		WithArgs("tbl_customers", fixedID).
		WillReturnRows(pgxmock.NewRows(systemColumns()).AddRow(fixedID, map[string]any{}, fixedNow, fixedNow, "", ""))
	mock.ExpectQuery(`SELECT .+ LIMIT 1000 OFFSET 1`).
		WithArgs("tbl_orders").
		WillReturnRows(pgxmock.NewRows(systemColumns()))
	mock.ExpectCommit()
	mock.ExpectRollback()

	idMap, err := copier.CopyTable(ctx, "tbl_orders", "tbl_customers", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"src1": fixedID}, idMap)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyTableRejectsUnknownTable(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	schema := testSchema()
	copier := plainCopier(mock, schema.TableByID("tbl_orders"), schema)

	_, err = copier.CopyTable(ctx, "tbl_orders", "tbl_missing", nil)
	require.Error(t, err)
	assert.True(t, gridbase.IsNotFound(err))
}
