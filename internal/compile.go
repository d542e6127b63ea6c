package internal

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
	"github.com/lychee-technology/gridbase/internal/formula"
)

// Compiler lowers logical column references, filter trees and sort lists
// into SQL fragments against the physical layout. One compiler binds one
// immutable schema snapshot; it holds no per-query state.
type Compiler struct {
	schema   *gridbase.Schema
	tables   Tables
	cfg      *gridbase.Config
	registry *formula.Registry

	virtualEnabled bool
}

// NewCompiler builds a compiler over a schema snapshot.
func NewCompiler(schema *gridbase.Schema, tables Tables, cfg *gridbase.Config, registry *formula.Registry) *Compiler {
	if registry == nil {
		registry = formula.NewRegistry()
	}
	return &Compiler{schema: schema, tables: tables, cfg: cfg, registry: registry, virtualEnabled: true}
}

// SetVirtualEnabled toggles virtual column compilation. With virtuals off
// any reference to a formula, rollup, lookup or links-count column fails,
// which the minimal model bundle relies on.
func (c *Compiler) SetVirtualEnabled(enabled bool) {
	c.virtualEnabled = enabled
}

// VirtualEnabled reports whether virtual columns compile.
func (c *Compiler) VirtualEnabled() bool {
	return c.virtualEnabled
}

// Registry exposes the formula function registry for callers that want to
// plug in additional functions before first use.
func (c *Compiler) Registry() *formula.Registry {
	return c.registry
}

func (c *Compiler) strict() bool {
	return c.cfg.Formula.Mode == gridbase.FormulaModeStrict
}

// compileEnv is the per-statement compile context: the anchor table and
// alias, the shared placeholder counter, a child-alias sequence, and the
// recursion depth for virtual-in-virtual resolution.
type compileEnv struct {
	table      *gridbase.Table
	alias      string
	paramIndex *int
	aliasSeq   *int
	depth      int
}

// NewEnv starts a compile context anchored at table under alias.
func (c *Compiler) NewEnv(table *gridbase.Table, alias string, paramIndex *int) *compileEnv {
	seq := 0
	return &compileEnv{table: table, alias: alias, paramIndex: paramIndex, aliasSeq: &seq}
}

func (e *compileEnv) nextParam() string {
	*e.paramIndex++
	return fmt.Sprintf("$%d", *e.paramIndex)
}

// childEnv allocates a fresh alias for a correlated subquery while sharing
// the placeholder counter.
func (e *compileEnv) childEnv(table *gridbase.Table) *compileEnv {
	*e.aliasSeq++
	return &compileEnv{
		table:      table,
		alias:      fmt.Sprintf("t%d", *e.aliasSeq),
		paramIndex: e.paramIndex,
		aliasSeq:   e.aliasSeq,
		depth:      e.depth + 1,
	}
}

// ColumnSQL lowers a column into the expression used by filters, sorts and
// projections: virtual columns compile to their fragment, stored columns to
// the cast extraction.
func (c *Compiler) ColumnSQL(env *compileEnv, col *gridbase.Column) (string, []any, error) {
	if col.IsVirtual() {
		return c.VirtualSQL(env, col)
	}
	expr, err := ColumnExprCast(col, env.table, env.alias)
	return expr, nil, err
}

// ColumnSQLLenient applies the configured fault policy: in permissive mode
// a compile fault degrades to NULL with a warning instead of failing the
// request.
func (c *Compiler) ColumnSQLLenient(env *compileEnv, col *gridbase.Column) (string, []any, error) {
	sql, args, err := c.ColumnSQL(env, col)
	if err == nil {
		return sql, args, nil
	}
	if c.strict() || (col.IsVirtual() && !c.virtualEnabled) {
		return "", nil, err
	}
	zap.S().Warnw("virtual column degraded to NULL",
		"table", env.table.ID, "column", col.ID, "error", err)
	return "NULL", nil, nil
}

// VirtualSQL dispatches a virtual column to its compiler.
func (c *Compiler) VirtualSQL(env *compileEnv, col *gridbase.Column) (string, []any, error) {
	if !c.virtualEnabled {
		return "", nil, gridbase.NewBadRequestError(gridbase.ErrCodeNotEnabled,
			fmt.Sprintf("virtual column '%s' is not available in this model", col.ID))
	}
	if env.depth > c.cfg.Formula.MaxDepth {
		return "", nil, fmt.Errorf("virtual column recursion exceeds depth %d at '%s'",
			c.cfg.Formula.MaxDepth, col.ID)
	}
	switch col.Type {
	case gridbase.ColTypeFormula:
		return c.formulaSQL(env, col)
	case gridbase.ColTypeRollup:
		return c.rollupSQL(env, col)
	case gridbase.ColTypeLookup:
		return c.lookupSQL(env, col)
	case gridbase.ColTypeLinksCount:
		return c.linkCountSQL(env, col, nil)
	case gridbase.ColTypeLink:
		// a link column referenced as a scalar reads as its cardinality
		return c.linkCountSQL(env, col, col.LinkOptions())
	default:
		return "", nil, fmt.Errorf("column '%s' is not virtual", col.ID)
	}
}

// formulaResolver adapts the compiler to the formula package's resolver.
type formulaResolver struct {
	c   *Compiler
	env *compileEnv
}

func (r formulaResolver) ResolveColumn(ref string) (string, []any, error) {
	col := r.env.table.ColumnByRef(ref)
	if col == nil {
		return "", nil, fmt.Errorf("unknown column '%s' in formula", ref)
	}
	if col.IsVirtual() {
		nested := *r.env
		nested.depth++
		return r.c.VirtualSQL(&nested, col)
	}
	expr, err := ColumnExprCast(col, r.env.table, r.env.alias)
	return expr, nil, err
}

func (c *Compiler) formulaSQL(env *compileEnv, col *gridbase.Column) (string, []any, error) {
	if col.Options == nil || col.Options.Formula == "" {
		return "NULL", nil, nil
	}
	node, err := formula.Parse(col.Options.Formula)
	if err != nil {
		// parsing is intentionally lenient: an unrecognized token compiles
		// to NULL rather than aborting the caller's request
		if c.strict() {
			return "", nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidFormula,
				fmt.Sprintf("formula on column '%s' failed to parse", col.ID)).WithCause(err)
		}
		zap.S().Warnw("formula parse fault, compiling to NULL",
			"column", col.ID, "formula", col.Options.Formula, "error", err)
		return "NULL", nil, nil
	}
	return formula.Lower(node, formulaResolver{c: c, env: env}, c.registry, c.strict())
}

// relation resolves a link column id on the env table.
func (c *Compiler) relation(env *compileEnv, linkColumnID string) (*gridbase.Column, *gridbase.LinkOptions, *gridbase.Table, error) {
	linkCol := env.table.ColumnByID(linkColumnID)
	if linkCol == nil {
		return nil, nil, nil, fmt.Errorf("relation column '%s' not found on table '%s'",
			linkColumnID, env.table.ID)
	}
	lo := linkCol.LinkOptions()
	if lo == nil {
		return nil, nil, nil, fmt.Errorf("column '%s' is not a link column", linkColumnID)
	}
	related := c.schema.TableByID(lo.RelatedTableID)
	if related == nil {
		return nil, nil, nil, fmt.Errorf("related table '%s' not found", lo.RelatedTableID)
	}
	return linkCol, lo, related, nil
}

// mmMembership renders the correlated membership subquery selecting a
// parent's target ids from the links table.
func (c *Compiler) mmMembership(env *compileEnv, linkCol *gridbase.Column, linkAlias string) (string, []any) {
	sql := fmt.Sprintf(
		"SELECT %s FROM %s %s WHERE %s = %s AND %s = %s",
		gridbase.QuoteIdent(linkAlias, "target_record_id"),
		gridbase.QuoteIdent(c.tables.Links), gridbase.QuoteIdent(linkAlias),
		gridbase.QuoteIdent(linkAlias, "link_field_id"), env.nextParam(),
		gridbase.QuoteIdent(linkAlias, "source_record_id"), gridbase.QuoteIdent(env.alias, gridbase.FieldID),
	)
	return sql, []any{linkCol.ID}
}

// fkExpr renders the JSON-stored foreign key extraction for hm/bt links.
func fkExpr(alias, fkName string) (string, error) {
	if err := gridbase.EnsureStorageName(fkName); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s ->> '%s'", gridbase.QuoteIdent(alias, gridbase.FieldData), fkName), nil
}

// numericExpr coerces a column to numeric for sum/avg aggregation.
func numericExpr(col *gridbase.Column, table *gridbase.Table, alias string) (string, error) {
	expr, err := ColumnExpr(col, table, alias)
	if err != nil {
		return "", err
	}
	if _, ok := col.SystemField(); ok {
		return expr, nil
	}
	return fmt.Sprintf("CAST(NULLIF(%s, '') AS numeric)", expr), nil
}

// aggExpr renders the aggregate call for a rollup function over the target
// column under the child alias.
func (c *Compiler) aggExpr(fn gridbase.RollupFn, target *gridbase.Column, related *gridbase.Table, alias string) (string, error) {
	raw, err := ColumnExpr(target, related, alias)
	if err != nil {
		return "", err
	}
	switch fn {
	case gridbase.RollupCount, "":
		return "COUNT(*)", nil
	case gridbase.RollupSum:
		num, err := numericExpr(target, related, alias)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("SUM(%s)", num), nil
	case gridbase.RollupAvg:
		num, err := numericExpr(target, related, alias)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("AVG(%s)", num), nil
	case gridbase.RollupMin:
		cast, err := ColumnExprCast(target, related, alias)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("MIN(%s)", cast), nil
	case gridbase.RollupMax:
		cast, err := ColumnExprCast(target, related, alias)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("MAX(%s)", cast), nil
	case gridbase.RollupCountEmpty:
		return fmt.Sprintf("COUNT(*) FILTER (WHERE %s IS NULL OR %s = '')", raw, raw), nil
	case gridbase.RollupCountNotEmpty:
		return fmt.Sprintf("COUNT(*) FILTER (WHERE %s IS NOT NULL AND %s <> '')", raw, raw), nil
	case gridbase.RollupCountDistinct:
		return fmt.Sprintf("COUNT(DISTINCT %s)", raw), nil
	case gridbase.RollupSumDistinct:
		num, err := numericExpr(target, related, alias)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("SUM(DISTINCT %s)", num), nil
	case gridbase.RollupAvgDistinct:
		num, err := numericExpr(target, related, alias)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("AVG(DISTINCT %s)", num), nil
	default:
		return "", fmt.Errorf("unsupported rollup function '%s'", fn)
	}
}

// rollupSQL compiles an aggregate-over-relation column into a correlated
// scalar subquery against the parent row's id.
func (c *Compiler) rollupSQL(env *compileEnv, col *gridbase.Column) (string, []any, error) {
	if col.Options == nil || col.Options.Rollup == nil {
		return "", nil, fmt.Errorf("rollup column '%s' has no rollup options", col.ID)
	}
	ro := col.Options.Rollup
	linkCol, lo, related, err := c.relation(env, ro.LinkColumnID)
	if err != nil {
		return "", nil, err
	}
	target := related.ColumnByID(ro.TargetColumnID)
	if target == nil && ro.Fn != gridbase.RollupCount && ro.Fn != "" {
		return "", nil, fmt.Errorf("rollup target column '%s' not found", ro.TargetColumnID)
	}
	if target == nil {
		target = &gridbase.Column{ID: gridbase.FieldID, Name: gridbase.FieldID, Type: gridbase.ColTypeText, PK: true}
	}

	child := env.childEnv(related)
	agg, err := c.aggExpr(ro.Fn, target, related, child.alias)
	if err != nil {
		return "", nil, err
	}

	switch lo.Kind {
	case gridbase.LinkMM:
		*env.aliasSeq++
		linkAlias := fmt.Sprintf("l%d", *env.aliasSeq)
		member, memberArgs := c.mmMembership(env, linkCol, linkAlias)
		sql := fmt.Sprintf(
			"(SELECT %s FROM %s %s WHERE %s = %s AND %s IN (%s))",
			agg,
			gridbase.QuoteIdent(c.tables.Records), gridbase.QuoteIdent(child.alias),
			gridbase.QuoteIdent(child.alias, gridbase.FieldTableID), env.nextParam(),
			gridbase.QuoteIdent(child.alias, gridbase.FieldID), member,
		)
		// membership params were allocated first; keep arg order aligned
		return sql, append(memberArgs, related.ID), nil
	case gridbase.LinkHM:
		fk, err := fkExpr(child.alias, lo.ForeignKeyName)
		if err != nil {
			return "", nil, err
		}
		sql := fmt.Sprintf(
			"(SELECT %s FROM %s %s WHERE %s = %s AND %s = %s)",
			agg,
			gridbase.QuoteIdent(c.tables.Records), gridbase.QuoteIdent(child.alias),
			gridbase.QuoteIdent(child.alias, gridbase.FieldTableID), env.nextParam(),
			fk, gridbase.QuoteIdent(env.alias, gridbase.FieldID),
		)
		return sql, []any{related.ID}, nil
	case gridbase.LinkBT:
		parentFK, err := fkExpr(env.alias, lo.ForeignKeyName)
		if err != nil {
			return "", nil, err
		}
		sql := fmt.Sprintf(
			"(SELECT %s FROM %s %s WHERE %s = %s AND %s = %s)",
			agg,
			gridbase.QuoteIdent(c.tables.Records), gridbase.QuoteIdent(child.alias),
			gridbase.QuoteIdent(child.alias, gridbase.FieldTableID), env.nextParam(),
			gridbase.QuoteIdent(child.alias, gridbase.FieldID), parentFK,
		)
		return sql, []any{related.ID}, nil
	default:
		return "", nil, fmt.Errorf("unsupported link kind '%s'", lo.Kind)
	}
}

// lookupSQL compiles a scalar-from-related column: a one-row subquery
// joining the related table on the relation predicate.
func (c *Compiler) lookupSQL(env *compileEnv, col *gridbase.Column) (string, []any, error) {
	if col.Options == nil || col.Options.Lookup == nil {
		return "", nil, fmt.Errorf("lookup column '%s' has no lookup options", col.ID)
	}
	lu := col.Options.Lookup
	linkCol, lo, related, err := c.relation(env, lu.LinkColumnID)
	if err != nil {
		return "", nil, err
	}
	target := related.ColumnByID(lu.TargetColumnID)
	if target == nil {
		return "", nil, fmt.Errorf("lookup target column '%s' not found", lu.TargetColumnID)
	}

	child := env.childEnv(related)
	proj, err := ColumnExprCast(target, related, child.alias)
	if err != nil {
		return "", nil, err
	}

	switch lo.Kind {
	case gridbase.LinkMM:
		*env.aliasSeq++
		linkAlias := fmt.Sprintf("l%d", *env.aliasSeq)
		member, memberArgs := c.mmMembership(env, linkCol, linkAlias)
		sql := fmt.Sprintf(
			"(SELECT %s FROM %s %s WHERE %s = %s AND %s IN (%s) LIMIT 1)",
			proj,
			gridbase.QuoteIdent(c.tables.Records), gridbase.QuoteIdent(child.alias),
			gridbase.QuoteIdent(child.alias, gridbase.FieldTableID), env.nextParam(),
			gridbase.QuoteIdent(child.alias, gridbase.FieldID), member,
		)
		return sql, append(memberArgs, related.ID), nil
	case gridbase.LinkHM:
		fk, err := fkExpr(child.alias, lo.ForeignKeyName)
		if err != nil {
			return "", nil, err
		}
		sql := fmt.Sprintf(
			"(SELECT %s FROM %s %s WHERE %s = %s AND %s = %s LIMIT 1)",
			proj,
			gridbase.QuoteIdent(c.tables.Records), gridbase.QuoteIdent(child.alias),
			gridbase.QuoteIdent(child.alias, gridbase.FieldTableID), env.nextParam(),
			fk, gridbase.QuoteIdent(env.alias, gridbase.FieldID),
		)
		return sql, []any{related.ID}, nil
	case gridbase.LinkBT:
		parentFK, err := fkExpr(env.alias, lo.ForeignKeyName)
		if err != nil {
			return "", nil, err
		}
		sql := fmt.Sprintf(
			"(SELECT %s FROM %s %s WHERE %s = %s AND %s = %s LIMIT 1)",
			proj,
			gridbase.QuoteIdent(c.tables.Records), gridbase.QuoteIdent(child.alias),
			gridbase.QuoteIdent(child.alias, gridbase.FieldTableID), env.nextParam(),
			gridbase.QuoteIdent(child.alias, gridbase.FieldID), parentFK,
		)
		return sql, []any{related.ID}, nil
	default:
		return "", nil, fmt.Errorf("unsupported link kind '%s'", lo.Kind)
	}
}

// linkCountSQL compiles a cardinality column. For a links-count column the
// relation comes from its options; for a link column referenced directly,
// the caller passes the column's own options.
func (c *Compiler) linkCountSQL(env *compileEnv, col *gridbase.Column, lo *gridbase.LinkOptions) (string, []any, error) {
	var linkCol *gridbase.Column
	if lo == nil {
		if col.Options == nil || col.Options.LinksCount == nil {
			return "", nil, fmt.Errorf("links-count column '%s' has no relation options", col.ID)
		}
		var err error
		linkCol, lo, _, err = c.relation(env, col.Options.LinksCount.LinkColumnID)
		if err != nil {
			return "", nil, err
		}
	} else {
		linkCol = col
	}

	switch lo.Kind {
	case gridbase.LinkMM:
		*env.aliasSeq++
		linkAlias := fmt.Sprintf("l%d", *env.aliasSeq)
		sql := fmt.Sprintf(
			"(SELECT COUNT(*) FROM %s %s WHERE %s = %s AND %s = %s)",
			gridbase.QuoteIdent(c.tables.Links), gridbase.QuoteIdent(linkAlias),
			gridbase.QuoteIdent(linkAlias, "link_field_id"), env.nextParam(),
			gridbase.QuoteIdent(linkAlias, "source_record_id"), gridbase.QuoteIdent(env.alias, gridbase.FieldID),
		)
		return sql, []any{linkCol.ID}, nil
	case gridbase.LinkHM:
		related := c.schema.TableByID(lo.RelatedTableID)
		if related == nil {
			return "", nil, fmt.Errorf("related table '%s' not found", lo.RelatedTableID)
		}
		child := env.childEnv(related)
		fk, err := fkExpr(child.alias, lo.ForeignKeyName)
		if err != nil {
			return "", nil, err
		}
		sql := fmt.Sprintf(
			"(SELECT COUNT(*) FROM %s %s WHERE %s = %s AND %s = %s)",
			gridbase.QuoteIdent(c.tables.Records), gridbase.QuoteIdent(child.alias),
			gridbase.QuoteIdent(child.alias, gridbase.FieldTableID), env.nextParam(),
			fk, gridbase.QuoteIdent(env.alias, gridbase.FieldID),
		)
		return sql, []any{related.ID}, nil
	case gridbase.LinkBT:
		parentFK, err := fkExpr(env.alias, lo.ForeignKeyName)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("(CASE WHEN %s IS NOT NULL THEN 1 ELSE 0 END)", parentFK), nil, nil
	default:
		return "", nil, fmt.Errorf("unsupported link kind '%s'", lo.Kind)
	}
}
