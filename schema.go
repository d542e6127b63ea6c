package gridbase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// ColumnType is the logical type tag of a column.
type ColumnType string

const (
	ColTypeText             ColumnType = "text"
	ColTypeLongText         ColumnType = "long_text"
	ColTypeNumber           ColumnType = "number"
	ColTypeDecimal          ColumnType = "decimal"
	ColTypeCurrency         ColumnType = "currency"
	ColTypePercent          ColumnType = "percent"
	ColTypeRating           ColumnType = "rating"
	ColTypeCheckbox         ColumnType = "checkbox"
	ColTypeDate             ColumnType = "date"
	ColTypeDateTime         ColumnType = "datetime"
	ColTypeTime             ColumnType = "time"
	ColTypeDuration         ColumnType = "duration"
	ColTypeEmail            ColumnType = "email"
	ColTypePhone            ColumnType = "phone"
	ColTypeURL              ColumnType = "url"
	ColTypeSingleSelect     ColumnType = "single_select"
	ColTypeMultiSelect      ColumnType = "multi_select"
	ColTypeAttachment       ColumnType = "attachment"
	ColTypeJSON             ColumnType = "json"
	ColTypeFormula          ColumnType = "formula"
	ColTypeRollup           ColumnType = "rollup"
	ColTypeLookup           ColumnType = "lookup"
	ColTypeLink             ColumnType = "link_to_record"
	ColTypeLinksCount       ColumnType = "links_count"
	ColTypeUser             ColumnType = "user"
	ColTypeCreatedBy        ColumnType = "created_by"
	ColTypeLastModifiedBy   ColumnType = "last_modified_by"
	ColTypeCreatedTime      ColumnType = "created_time"
	ColTypeLastModifiedTime ColumnType = "last_modified_time"
	ColTypeAutoNumber       ColumnType = "auto_number"
	ColTypeBarcode          ColumnType = "barcode"
	ColTypeQRCode           ColumnType = "qr_code"
	ColTypeGeo              ColumnType = "geo"
	ColTypeGeometry         ColumnType = "geometry"
)

// ColumnClass describes where a column's value materializes.
type ColumnClass string

const (
	// ClassSystem columns live in fixed physical columns of the records table.
	ClassSystem ColumnClass = "system"
	// ClassVirtual columns never materialize; they compile to SQL at query time.
	ClassVirtual ColumnClass = "virtual"
	// ClassUser columns live inside the record's JSON data blob.
	ClassUser ColumnClass = "user"
)

// LinkKind is the relation kind of a link column.
type LinkKind string

const (
	LinkMM LinkKind = "mm"
	LinkHM LinkKind = "hm"
	LinkBT LinkKind = "bt"
)

// RollupFn is an aggregation applied by a rollup column.
type RollupFn string

const (
	RollupCount         RollupFn = "count"
	RollupSum           RollupFn = "sum"
	RollupAvg           RollupFn = "avg"
	RollupMin           RollupFn = "min"
	RollupMax           RollupFn = "max"
	RollupCountEmpty    RollupFn = "count_empty"
	RollupCountNotEmpty RollupFn = "count_not_empty"
	RollupCountDistinct RollupFn = "count_distinct"
	RollupSumDistinct   RollupFn = "sum_distinct"
	RollupAvgDistinct   RollupFn = "avg_distinct"
)

// SelectChoice is one option of a single/multi select column.
type SelectChoice struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Color string `json:"color,omitempty"`
}

// LinkOptions configures a link-to-record column.
type LinkOptions struct {
	Kind           LinkKind `json:"kind"`
	RelatedTableID string   `json:"fk_related_model_id"`
	// SymmetricColumnID cross-references the inverse column on the related
	// table for bidirectional links.
	SymmetricColumnID string `json:"symmetric_column_id,omitempty"`
	// ForeignKeyName is the JSON-stored FK column name for hm/bt links.
	ForeignKeyName string `json:"fk_column_name,omitempty"`
}

// RollupOptions configures a rollup column.
type RollupOptions struct {
	LinkColumnID   string   `json:"fk_relation_column_id"`
	TargetColumnID string   `json:"fk_rollup_column_id"`
	Fn             RollupFn `json:"rollup_function"`
}

// LookupOptions configures a lookup column.
type LookupOptions struct {
	LinkColumnID   string `json:"fk_relation_column_id"`
	TargetColumnID string `json:"fk_lookup_column_id"`
}

// LinksCountOptions configures a links-count column.
type LinksCountOptions struct {
	LinkColumnID string `json:"fk_relation_column_id"`
}

// ColumnOptions carries type-specific settings.
type ColumnOptions struct {
	Formula    string             `json:"formula,omitempty"`
	Rollup     *RollupOptions     `json:"rollup,omitempty"`
	Lookup     *LookupOptions     `json:"lookup,omitempty"`
	Link       *LinkOptions       `json:"link,omitempty"`
	LinksCount *LinksCountOptions `json:"links_count,omitempty"`
	Choices    []SelectChoice     `json:"choices,omitempty"`
	Precision  int                `json:"precision,omitempty"`
}

// ColumnConstraints holds optional validation constraints.
type ColumnConstraints struct {
	Required bool     `json:"required,omitempty"`
	Unique   bool     `json:"unique,omitempty"`
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
}

// Column is a user-defined logical column.
type Column struct {
	ID    string     `json:"id"`
	Title string     `json:"title"`
	Name  string     `json:"name"` // canonical storage name
	Type  ColumnType `json:"uidt"`
	PK    bool       `json:"pk,omitempty"`

	Options     *ColumnOptions     `json:"options,omitempty"`
	Constraints *ColumnConstraints `json:"constraints,omitempty"`
}

// Class returns where this column's value materializes.
func (c *Column) Class() ColumnClass {
	switch c.Type {
	case ColTypeFormula, ColTypeRollup, ColTypeLookup, ColTypeLink, ColTypeLinksCount:
		return ClassVirtual
	case ColTypeCreatedTime, ColTypeLastModifiedTime, ColTypeCreatedBy, ColTypeLastModifiedBy:
		return ClassSystem
	default:
		return ClassUser
	}
}

// IsVirtual reports whether the column is computed at query time.
func (c *Column) IsVirtual() bool { return c.Class() == ClassVirtual }

// IsSystem reports whether the column maps to a fixed physical field.
func (c *Column) IsSystem() bool { return c.Class() == ClassSystem }

// SystemField returns the physical records-table column a system-class (or
// pk) column maps to.
func (c *Column) SystemField() (string, bool) {
	if c.PK {
		return FieldID, true
	}
	switch c.Type {
	case ColTypeCreatedTime:
		return FieldCreatedAt, true
	case ColTypeLastModifiedTime:
		return FieldUpdatedAt, true
	case ColTypeCreatedBy:
		return FieldCreatedBy, true
	case ColTypeLastModifiedBy:
		return FieldUpdatedBy, true
	default:
		return "", false
	}
}

// LinkOptions returns the column's link configuration, or nil.
func (c *Column) LinkOptions() *LinkOptions {
	if c.Options == nil {
		return nil
	}
	return c.Options.Link
}

// Table is a user-defined logical table.
type Table struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	// Prefix is the storage-name prefix used when deriving column names.
	Prefix  string    `json:"prefix,omitempty"`
	Columns []*Column `json:"columns"`
	// IsJunction marks pure-association tables (reserved).
	IsJunction bool `json:"is_junction,omitempty"`
	Deleted    bool `json:"deleted,omitempty"`
}

// ColumnByID finds a column by id.
func (t *Table) ColumnByID(id string) *Column {
	for _, c := range t.Columns {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// ColumnByName finds a column by storage name.
func (t *Table) ColumnByName(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ColumnByTitle finds a column by title.
func (t *Table) ColumnByTitle(title string) *Column {
	for _, c := range t.Columns {
		if c.Title == title {
			return c
		}
	}
	return nil
}

// ColumnByRef resolves a column by id, storage name or title, in that order.
func (t *Table) ColumnByRef(ref string) *Column {
	if c := t.ColumnByID(ref); c != nil {
		return c
	}
	if c := t.ColumnByName(ref); c != nil {
		return c
	}
	return t.ColumnByTitle(ref)
}

// PrimaryKey returns the pk-flagged column, or nil when the physical id
// column acts as primary key.
func (t *Table) PrimaryKey() *Column {
	for _, c := range t.Columns {
		if c.PK {
			return c
		}
	}
	return nil
}

// LinkColumns returns every link-to-record column of the table.
func (t *Table) LinkColumns() []*Column {
	var out []*Column
	for _, c := range t.Columns {
		if c.Type == ColTypeLink {
			out = append(out, c)
		}
	}
	return out
}

// Schema is an in-memory snapshot of all logical tables. Operations treat
// a snapshot bound to a model as immutable; the schema editor mutates its
// own working copy and the store persists a new version.
type Schema struct {
	Tables []*Table `json:"tables"`
}

// TableByID finds a table by id.
func (s *Schema) TableByID(id string) *Table {
	for _, t := range s.Tables {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// TableByTitle finds a table by title.
func (s *Schema) TableByTitle(title string) *Table {
	for _, t := range s.Tables {
		if t.Title == title {
			return t
		}
	}
	return nil
}

// TableDef is the input of CreateTable.
type TableDef struct {
	ID         string    `json:"id,omitempty"`
	Title      string    `json:"title"`
	Prefix     string    `json:"prefix,omitempty"`
	Columns    []*Column `json:"columns,omitempty"`
	IsJunction bool      `json:"is_junction,omitempty"`
}

// StorageNameFromTitle derives a canonical storage name from a display
// title: lowercased, runs of non-identifier characters collapsed to single
// underscores, prefixed with an underscore when the first rune is not a
// letter.
func StorageNameFromTitle(title string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	name := strings.TrimSuffix(b.String(), "_")
	if name == "" {
		name = "field"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

func (s *Schema) normalizeColumn(table *Table, col *Column) error {
	if col.Title == "" && col.Name == "" {
		return NewValidationError("title", "column title cannot be empty")
	}
	if col.ID == "" {
		col.ID = NewID()
	}
	if col.Name == "" {
		name := StorageNameFromTitle(col.Title)
		if table.Prefix != "" {
			name = table.Prefix + "_" + name
		}
		col.Name = name
	}
	if err := EnsureStorageName(col.Name); err != nil {
		return err
	}
	if table.ColumnByID(col.ID) != nil {
		return NewConflictError(ErrCodeColumnAlreadyExists,
			fmt.Sprintf("column id '%s' already exists on table '%s'", col.ID, table.ID))
	}
	if table.ColumnByName(col.Name) != nil {
		return NewConflictError(ErrCodeColumnAlreadyExists,
			fmt.Sprintf("column name '%s' already exists on table '%s'", col.Name, table.ID))
	}
	return nil
}

// CreateTable allocates a new logical table. The id derives from the title
// unless supplied; creating an existing id is a conflict.
func (s *Schema) CreateTable(def TableDef) (*Table, error) {
	if def.Title == "" {
		return nil, NewValidationError("title", "table title cannot be empty")
	}
	id := def.ID
	if id == "" {
		id = StorageNameFromTitle(def.Title)
	}
	if s.TableByID(id) != nil {
		return nil, NewConflictError(ErrCodeTableAlreadyExists,
			fmt.Sprintf("table id '%s' already exists", id))
	}
	table := &Table{
		ID:         id,
		Title:      def.Title,
		Prefix:     def.Prefix,
		IsJunction: def.IsJunction,
	}
	for _, col := range def.Columns {
		if err := s.normalizeColumn(table, col); err != nil {
			return nil, err
		}
		table.Columns = append(table.Columns, col)
	}
	s.Tables = append(s.Tables, table)
	return table, nil
}

// AddColumn appends a normalized column to a table.
func (s *Schema) AddColumn(tableID string, col *Column) (*Column, error) {
	table := s.TableByID(tableID)
	if table == nil {
		return nil, NewTableNotFoundError(tableID)
	}
	if err := s.normalizeColumn(table, col); err != nil {
		return nil, err
	}
	table.Columns = append(table.Columns, col)
	return col, nil
}

// TableUpdate is a field-wise patch for UpdateTable; nil fields keep the
// current value.
type TableUpdate struct {
	Title  *string `json:"title,omitempty"`
	Prefix *string `json:"prefix,omitempty"`
}

// UpdateTable replaces only the provided fields of a table.
func (s *Schema) UpdateTable(tableID string, upd TableUpdate) (*Table, error) {
	table := s.TableByID(tableID)
	if table == nil {
		return nil, NewTableNotFoundError(tableID)
	}
	if upd.Title != nil {
		table.Title = *upd.Title
	}
	if upd.Prefix != nil {
		table.Prefix = *upd.Prefix
	}
	return table, nil
}

// ColumnUpdate is a field-wise patch for UpdateColumn.
type ColumnUpdate struct {
	Title       *string            `json:"title,omitempty"`
	Type        *ColumnType        `json:"uidt,omitempty"`
	Options     *ColumnOptions     `json:"options,omitempty"`
	Constraints *ColumnConstraints `json:"constraints,omitempty"`
}

// UpdateColumn replaces only the provided fields of a column.
func (s *Schema) UpdateColumn(tableID, columnID string, upd ColumnUpdate) (*Column, error) {
	table := s.TableByID(tableID)
	if table == nil {
		return nil, NewTableNotFoundError(tableID)
	}
	col := table.ColumnByID(columnID)
	if col == nil {
		return nil, NewColumnNotFoundError(columnID)
	}
	if upd.Title != nil {
		col.Title = *upd.Title
	}
	if upd.Type != nil {
		col.Type = *upd.Type
	}
	if upd.Options != nil {
		col.Options = upd.Options
	}
	if upd.Constraints != nil {
		col.Constraints = upd.Constraints
	}
	return col, nil
}

// DropTable removes a table and strips any link columns on other tables
// whose related model is the dropped table, keeping the schema itself
// referentially intact.
func (s *Schema) DropTable(tableID string) error {
	idx := -1
	for i, t := range s.Tables {
		if t.ID == tableID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return NewTableNotFoundError(tableID)
	}
	s.Tables = append(s.Tables[:idx], s.Tables[idx+1:]...)
	for _, t := range s.Tables {
		kept := t.Columns[:0]
		for _, c := range t.Columns {
			if lo := c.LinkOptions(); lo != nil && lo.RelatedTableID == tableID {
				continue
			}
			kept = append(kept, c)
		}
		t.Columns = kept
	}
	return nil
}

// DropColumn removes a column; for a bidirectional link column the
// symmetric partner on the related table is removed too.
func (s *Schema) DropColumn(tableID, columnID string) error {
	table := s.TableByID(tableID)
	if table == nil {
		return NewTableNotFoundError(tableID)
	}
	col := table.ColumnByID(columnID)
	if col == nil {
		return NewColumnNotFoundError(columnID)
	}
	if lo := col.LinkOptions(); lo != nil && lo.SymmetricColumnID != "" {
		if related := s.TableByID(lo.RelatedTableID); related != nil {
			related.removeColumn(lo.SymmetricColumnID)
		}
	}
	table.removeColumn(columnID)
	return nil
}

func (t *Table) removeColumn(columnID string) {
	for i, c := range t.Columns {
		if c.ID == columnID {
			t.Columns = append(t.Columns[:i], t.Columns[i+1:]...)
			return
		}
	}
}

// LinkArgs is the input of CreateLink.
type LinkArgs struct {
	SourceTableID string   `json:"source_table_id"`
	TargetTableID string   `json:"target_table_id"`
	Title         string   `json:"title"`
	Kind          LinkKind `json:"kind"`
	Bidirectional bool     `json:"bidirectional,omitempty"`
	InverseTitle  string   `json:"inverse_title,omitempty"`
}

// CreateLink creates a link column on the source table; when bidirectional,
// an inverse column on the target table is created and the two columns
// cross-reference each other's ids.
func (s *Schema) CreateLink(args LinkArgs) (*Column, error) {
	src := s.TableByID(args.SourceTableID)
	if src == nil {
		return nil, NewTableNotFoundError(args.SourceTableID)
	}
	tgt := s.TableByID(args.TargetTableID)
	if tgt == nil {
		return nil, NewTableNotFoundError(args.TargetTableID)
	}
	switch args.Kind {
	case LinkMM, LinkHM, LinkBT:
	default:
		return nil, NewBadRequestError(ErrCodeInvalidLink,
			fmt.Sprintf("unknown link kind '%s'", args.Kind))
	}

	col := &Column{
		Title: args.Title,
		Type:  ColTypeLink,
		Options: &ColumnOptions{
			Link: &LinkOptions{
				Kind:           args.Kind,
				RelatedTableID: args.TargetTableID,
			},
		},
	}
	if args.Kind == LinkHM || args.Kind == LinkBT {
		col.Options.Link.ForeignKeyName = StorageNameFromTitle(args.Title) + "_id"
	}
	if _, err := s.AddColumn(src.ID, col); err != nil {
		return nil, err
	}

	if args.Bidirectional {
		inverseTitle := args.InverseTitle
		if inverseTitle == "" {
			inverseTitle = src.Title
		}
		inverse := &Column{
			Title: inverseTitle,
			Type:  ColTypeLink,
			Options: &ColumnOptions{
				Link: &LinkOptions{
					Kind:              inverseKind(args.Kind),
					RelatedTableID:    src.ID,
					SymmetricColumnID: col.ID,
					ForeignKeyName:    col.Options.Link.ForeignKeyName,
				},
			},
		}
		if _, err := s.AddColumn(tgt.ID, inverse); err != nil {
			// roll back the forward column to keep the schema consistent
			src.removeColumn(col.ID)
			return nil, err
		}
		col.Options.Link.SymmetricColumnID = inverse.ID
	}
	return col, nil
}

func inverseKind(k LinkKind) LinkKind {
	switch k {
	case LinkHM:
		return LinkBT
	case LinkBT:
		return LinkHM
	default:
		return LinkMM
	}
}

// SchemaDocument is the JSON-serializable export form of a schema.
type SchemaDocument struct {
	Tables []*Table `json:"tables"`
}

// ExportSchema serializes the schema into a round-trippable document.
func (s *Schema) ExportSchema() *SchemaDocument {
	doc := &SchemaDocument{}
	raw, err := json.Marshal(s.Tables)
	if err != nil {
		return doc
	}
	_ = json.Unmarshal(raw, &doc.Tables)
	return doc
}

// schemaDocumentMeta validates imported documents before they touch the
// in-memory model.
const schemaDocumentMeta = `{
	"type": "object",
	"required": ["tables"],
	"properties": {
		"tables": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["id", "title", "columns"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"title": {"type": "string", "minLength": 1},
					"prefix": {"type": "string"},
					"is_junction": {"type": "boolean"},
					"deleted": {"type": "boolean"},
					"columns": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["id", "name", "uidt"],
							"properties": {
								"id": {"type": "string", "minLength": 1},
								"title": {"type": "string"},
								"name": {"type": "string", "minLength": 1},
								"uidt": {"type": "string", "minLength": 1},
								"pk": {"type": "boolean"}
							}
						}
					}
				}
			}
		}
	}
}`

func validateSchemaDocument(doc *SchemaDocument) error {
	var schema jsonschema.Schema
	if err := json.Unmarshal([]byte(schemaDocumentMeta), &schema); err != nil {
		return fmt.Errorf("failed to unmarshal into jsonschema.Schema: %w", err)
	}
	resolved, err := schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return fmt.Errorf("failed to resolve JSON schema: %w", err)
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal schema document: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("failed to unmarshal schema document: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return NewBadRequestError(ErrCodeSchemaInvalid, "schema document validation failed").WithCause(err)
	}
	return nil
}

// ImportSchema loads a document. With merge=true tables are upserted by id;
// with merge=false the current tables are replaced wholesale.
func (s *Schema) ImportSchema(doc *SchemaDocument, merge bool) error {
	if doc == nil {
		return NewBadRequestError(ErrCodeSchemaInvalid, "schema document cannot be nil")
	}
	if err := validateSchemaDocument(doc); err != nil {
		return err
	}
	for _, t := range doc.Tables {
		for _, c := range t.Columns {
			if err := EnsureStorageName(c.Name); err != nil {
				return err
			}
		}
	}
	if !merge {
		s.Tables = nil
	}
	for _, t := range doc.Tables {
		if existing := s.TableByID(t.ID); existing != nil {
			*existing = *t
			continue
		}
		s.Tables = append(s.Tables, t)
	}
	return nil
}

// Clone deep-copies the schema via its JSON form.
func (s *Schema) Clone() *Schema {
	out := &Schema{}
	raw, err := json.Marshal(s)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, out)
	return out
}
