package internal

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lychee-technology/gridbase"
)

// CompileFilter lowers a filter tree into a parameterized WHERE fragment.
// An empty or nil tree compiles to the empty string.
func (c *Compiler) CompileFilter(env *compileEnv, nodes []*gridbase.FilterNode) (string, []any, error) {
	if len(nodes) == 0 {
		return "", nil, nil
	}
	var parts []string
	var args []any
	for _, n := range nodes {
		sql, nodeArgs, err := c.compileNode(env, n)
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		args = append(args, nodeArgs...)
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	return strings.Join(parts, " AND "), args, nil
}

func (c *Compiler) compileNode(env *compileEnv, node *gridbase.FilterNode) (string, []any, error) {
	if node == nil {
		return "", nil, nil
	}
	if node.IsGroup {
		return c.compileGroup(env, node)
	}
	return c.compileLeaf(env, node)
}

func (c *Compiler) compileGroup(env *compileEnv, node *gridbase.FilterNode) (string, []any, error) {
	joiner := " AND "
	if node.Logic == gridbase.LogicOr {
		joiner = " OR "
	} else if node.Logic != gridbase.LogicAnd && node.Logic != "" {
		return "", nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidFilter,
			fmt.Sprintf("unknown logical operator '%s'", node.Logic))
	}
	var parts []string
	var args []any
	for _, child := range node.Children {
		sql, childArgs, err := c.compileNode(env, child)
		if err != nil {
			return "", nil, err
		}
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		args = append(args, childArgs...)
	}
	if len(parts) == 0 {
		return "", nil, nil
	}
	return "(" + strings.Join(parts, joiner) + ")", args, nil
}

func (c *Compiler) compileLeaf(env *compileEnv, node *gridbase.FilterNode) (string, []any, error) {
	col := env.table.ColumnByRef(node.ColumnID)
	if col == nil {
		return "", nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidFilter,
			fmt.Sprintf("filter references unknown column '%s'", node.ColumnID)).
			WithField(node.ColumnID)
	}

	expr, exprArgs, err := c.ColumnSQL(env, col)
	if err != nil {
		return "", nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidFilter,
			fmt.Sprintf("filter column '%s' failed to compile", node.ColumnID)).
			WithField(node.ColumnID).WithCause(err)
	}
	// raw (uncast) extraction for emptiness and JSON membership checks
	raw := expr
	if !col.IsVirtual() {
		raw, err = ColumnExpr(col, env.table, env.alias)
		if err != nil {
			return "", nil, err
		}
	}

	switch node.Op {
	case gridbase.OpEq:
		if node.Value == nil {
			return fmt.Sprintf("%s IS NULL", expr), exprArgs, nil
		}
		return fmt.Sprintf("%s = %s", expr, env.nextParam()),
			append(exprArgs, node.Value), nil
	case gridbase.OpNeq:
		if node.Value == nil {
			return fmt.Sprintf("%s IS NOT NULL", expr), exprArgs, nil
		}
		// a NULL cell also counts as "not equal"
		return fmt.Sprintf("(%s <> %s OR %s IS NULL)", expr, env.nextParam(), expr),
			append(duplicate(exprArgs), node.Value), nil
	case gridbase.OpLt:
		return c.binary(env, expr, exprArgs, "<", node.Value)
	case gridbase.OpLte:
		return c.binary(env, expr, exprArgs, "<=", node.Value)
	case gridbase.OpGt:
		return c.binary(env, expr, exprArgs, ">", node.Value)
	case gridbase.OpGte:
		return c.binary(env, expr, exprArgs, ">=", node.Value)
	case gridbase.OpLike:
		return fmt.Sprintf("%s ILIKE %s", raw, env.nextParam()),
			append(exprArgs, likePattern(node.Value)), nil
	case gridbase.OpNotLike:
		return fmt.Sprintf("(%s NOT ILIKE %s OR %s IS NULL)", raw, env.nextParam(), raw),
			append(duplicate(exprArgs), likePattern(node.Value)), nil
	case gridbase.OpNull, gridbase.OpIs:
		return fmt.Sprintf("%s IS NULL", expr), exprArgs, nil
	case gridbase.OpNotNull, gridbase.OpIsNot:
		return fmt.Sprintf("%s IS NOT NULL", expr), exprArgs, nil
	case gridbase.OpEmpty:
		return fmt.Sprintf("(%s IS NULL OR %s = '')", raw, raw), duplicate(exprArgs), nil
	case gridbase.OpNotEmpty:
		return fmt.Sprintf("(%s IS NOT NULL AND %s <> '')", raw, raw), duplicate(exprArgs), nil
	case gridbase.OpIn:
		return fmt.Sprintf("%s = ANY(%s)", expr, env.nextParam()),
			append(exprArgs, toStringSlice(node.Value)), nil
	case gridbase.OpNotIn:
		return fmt.Sprintf("(NOT (%s = ANY(%s)) OR %s IS NULL)", expr, env.nextParam(), expr),
			append(duplicate(exprArgs), toStringSlice(node.Value)), nil
	case gridbase.OpBetween:
		lo, hi, err := betweenBounds(node.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", expr, env.nextParam(), env.nextParam()),
			append(exprArgs, lo, hi), nil
	case gridbase.OpNotBetween:
		lo, hi, err := betweenBounds(node.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s NOT BETWEEN %s AND %s", expr, env.nextParam(), env.nextParam()),
			append(exprArgs, lo, hi), nil
	case gridbase.OpAllOf:
		jsonExpr, err := c.jsonExpr(env, col, expr)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s @> %s::jsonb", jsonExpr, env.nextParam()),
			append(exprArgs, jsonArrayLiteral(node.Value)), nil
	case gridbase.OpAnyOf:
		jsonExpr, err := c.jsonExpr(env, col, expr)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s ?| %s", jsonExpr, env.nextParam()),
			append(exprArgs, toStringSlice(node.Value)), nil
	case gridbase.OpNotAllOf:
		jsonExpr, err := c.jsonExpr(env, col, expr)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("(NOT (%s @> %s::jsonb) OR %s IS NULL)", jsonExpr, env.nextParam(), jsonExpr),
			append(duplicate(exprArgs), jsonArrayLiteral(node.Value)), nil
	case gridbase.OpNotAnyOf:
		jsonExpr, err := c.jsonExpr(env, col, expr)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("(NOT (%s ?| %s) OR %s IS NULL)", jsonExpr, env.nextParam(), jsonExpr),
			append(duplicate(exprArgs), toStringSlice(node.Value)), nil
	default:
		// unknown operators degrade to equality
		zap.S().Debugw("unknown comparison operator, using equality",
			"column", col.ID, "op", node.Op)
		if node.Value == nil {
			return fmt.Sprintf("%s IS NULL", expr), exprArgs, nil
		}
		return fmt.Sprintf("%s = %s", expr, env.nextParam()),
			append(exprArgs, node.Value), nil
	}
}

func (c *Compiler) binary(env *compileEnv, expr string, exprArgs []any, op string, value any) (string, []any, error) {
	return fmt.Sprintf("%s %s %s", expr, op, env.nextParam()),
		append(exprArgs, value), nil
}

// jsonExpr returns the jsonb extraction for multi-value membership checks;
// virtual columns keep their compiled expression.
func (c *Compiler) jsonExpr(env *compileEnv, col *gridbase.Column, compiled string) (string, error) {
	if col.IsVirtual() {
		return compiled, nil
	}
	return JSONColumnExpr(col, env.alias)
}

// duplicate returns a copy of args for clauses that render a subquery
// expression twice; correlated fragments carry no repeated placeholders so
// the original args suffice, but the copy guards future append aliasing.
func duplicate(args []any) []any {
	out := make([]any, len(args))
	copy(out, args)
	return out
}

func likePattern(v any) string {
	s := fmt.Sprintf("%v", v)
	if !strings.Contains(s, "%") {
		s = "%" + s + "%"
	}
	return s
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	case string:
		if vv == "" {
			return nil
		}
		return strings.Split(vv, ",")
	case nil:
		return nil
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

func jsonArrayLiteral(v any) string {
	items := toStringSlice(v)
	quoted := make([]string, 0, len(items))
	for _, item := range items {
		quoted = append(quoted, `"`+strings.ReplaceAll(item, `"`, `\"`)+`"`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func betweenBounds(v any) (any, any, error) {
	switch vv := v.(type) {
	case []any:
		if len(vv) == 2 {
			return vv[0], vv[1], nil
		}
	case []string:
		if len(vv) == 2 {
			return vv[0], vv[1], nil
		}
	case string:
		parts := strings.SplitN(vv, ",", 2)
		if len(parts) == 2 {
			return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), nil
		}
	}
	return nil, nil, gridbase.NewBadRequestError(gridbase.ErrCodeInvalidFilter,
		"between requires exactly two bounds")
}
