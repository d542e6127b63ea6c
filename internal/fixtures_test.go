package internal

import (
	"time"

	"github.com/lychee-technology/gridbase"
)

// fixedNow pins the clock for repository tests.
var fixedNow = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

// fixedID is a valid 26-character record id handed out by the pinned id
// generator.
const fixedID = "01ARZ3NDEKTSV4RRFFQ69G5FAV"

func testTables() Tables {
	return Tables{Records: "grid_records", Links: "grid_links", Schemas: "grid_schemas"}
}

func testConfig() *gridbase.Config {
	return gridbase.DefaultConfig()
}

// testSchema builds the two-table fixture used across compiler and
// repository tests: orders with a formula column, customers with rollup,
// lookup and links-count columns over a bidirectional mm link.
func testSchema() *gridbase.Schema {
	orders := &gridbase.Table{
		ID:    "tbl_orders",
		Title: "Orders",
		Columns: []*gridbase.Column{
			{ID: "col_order_pk", Title: "Id", Name: "id", Type: gridbase.ColTypeText, PK: true},
			{ID: "col_title", Title: "Title", Name: "title", Type: gridbase.ColTypeText},
			{ID: "col_amount", Title: "Amount", Name: "amount", Type: gridbase.ColTypeNumber},
			{ID: "col_paid", Title: "Paid", Name: "paid", Type: gridbase.ColTypeCheckbox},
			{ID: "col_tags", Title: "Tags", Name: "tags", Type: gridbase.ColTypeMultiSelect},
			{ID: "col_placed_at", Title: "Placed At", Name: "placed_at", Type: gridbase.ColTypeDateTime},
			{
				ID: "col_customers", Title: "Customers", Name: "customers", Type: gridbase.ColTypeLink,
				Options: &gridbase.ColumnOptions{Link: &gridbase.LinkOptions{
					Kind: gridbase.LinkMM, RelatedTableID: "tbl_customers", SymmetricColumnID: "col_orders",
				}},
			},
			{
				ID: "col_total", Title: "Total", Name: "total", Type: gridbase.ColTypeFormula,
				Options: &gridbase.ColumnOptions{Formula: "{amount} * 2"},
			},
		},
	}
	customers := &gridbase.Table{
		ID:    "tbl_customers",
		Title: "Customers",
		Columns: []*gridbase.Column{
			{ID: "col_cust_pk", Title: "Id", Name: "id", Type: gridbase.ColTypeText, PK: true},
			{ID: "col_name", Title: "Name", Name: "name", Type: gridbase.ColTypeText},
			{
				ID: "col_orders", Title: "Orders", Name: "orders", Type: gridbase.ColTypeLink,
				Options: &gridbase.ColumnOptions{Link: &gridbase.LinkOptions{
					Kind: gridbase.LinkMM, RelatedTableID: "tbl_orders", SymmetricColumnID: "col_customers",
				}},
			},
			{
				ID: "col_order_total", Title: "Order Total", Name: "order_total", Type: gridbase.ColTypeRollup,
				Options: &gridbase.ColumnOptions{Rollup: &gridbase.RollupOptions{
					LinkColumnID: "col_orders", TargetColumnID: "col_amount", Fn: gridbase.RollupSum,
				}},
			},
			{
				ID: "col_order_count", Title: "Order Count", Name: "order_count", Type: gridbase.ColTypeLinksCount,
				Options: &gridbase.ColumnOptions{LinksCount: &gridbase.LinksCountOptions{
					LinkColumnID: "col_orders",
				}},
			},
			{
				ID: "col_first_order", Title: "First Order", Name: "first_order", Type: gridbase.ColTypeLookup,
				Options: &gridbase.ColumnOptions{Lookup: &gridbase.LookupOptions{
					LinkColumnID: "col_orders", TargetColumnID: "col_title",
				}},
			},
		},
	}
	return &gridbase.Schema{Tables: []*gridbase.Table{orders, customers}}
}

func testCompiler(schema *gridbase.Schema) *Compiler {
	return NewCompiler(schema, testTables(), testConfig(), nil)
}

// plainRepo builds a record repo with virtual columns off and deterministic
// clock and ids, so CRUD SQL stays exactly predictable.
func plainRepo(db DB, table *gridbase.Table, schema *gridbase.Schema) *RecordRepo {
	compiler := testCompiler(schema)
	compiler.SetVirtualEnabled(false)
	repo := NewRecordRepo(db, testConfig(), compiler, table)
	repo.nowFunc = func() time.Time { return fixedNow }
	repo.newID = func() string { return fixedID }
	return repo
}
