package formula

import (
	"fmt"
	"strings"
)

// ColumnResolver resolves a column reference (title or storage name) into a
// SQL expression plus bound arguments. Virtual targets resolve recursively
// on the caller's side.
type ColumnResolver interface {
	ResolveColumn(ref string) (string, []any, error)
}

// Lower compiles a parsed formula to a SQL expression. Unknown function
// names pass through as NAME(args...) when strict is false, letting the SQL
// engine resolve them; strict mode rejects them.
func Lower(node *Node, resolver ColumnResolver, registry *Registry, strict bool) (string, []any, error) {
	if node == nil {
		return "NULL", nil, nil
	}
	switch node.Kind {
	case NodeNull:
		return "NULL", nil, nil
	case NodeBool:
		if node.Bool {
			return "TRUE", nil, nil
		}
		return "FALSE", nil, nil
	case NodeNumber:
		return node.Text, nil, nil
	case NodeString:
		return quoteLiteral(node.Text), nil, nil
	case NodeColumnRef:
		return resolver.ResolveColumn(node.Ref)
	case NodeCall:
		return lowerCall(node, resolver, registry, strict)
	case NodeBinary:
		left, leftArgs, err := Lower(node.Left, resolver, registry, strict)
		if err != nil {
			return "", nil, err
		}
		right, rightArgs, err := Lower(node.Right, resolver, registry, strict)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("(%s %s %s)", left, node.Op, right),
			append(leftArgs, rightArgs...), nil
	default:
		return "", nil, fmt.Errorf("unknown formula node kind %d", node.Kind)
	}
}

func lowerCall(node *Node, resolver ColumnResolver, registry *Registry, strict bool) (string, []any, error) {
	loweredArgs := make([]string, len(node.Args))
	var args []any
	for i, argNode := range node.Args {
		sql, argVals, err := Lower(argNode, resolver, registry, strict)
		if err != nil {
			return "", nil, err
		}
		loweredArgs[i] = sql
		args = append(args, argVals...)
	}

	fn, ok := registry.Lookup(node.Func)
	if !ok {
		if strict {
			return "", nil, fmt.Errorf("unknown function '%s'", node.Func)
		}
		return fmt.Sprintf("%s(%s)", node.Func, strings.Join(loweredArgs, ", ")), args, nil
	}
	sql, err := fn(loweredArgs)
	if err != nil {
		return "", nil, err
	}
	return sql, args, nil
}

// quoteLiteral renders a SQL string literal with embedded quotes doubled.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
