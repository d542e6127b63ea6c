package formula

import (
	"fmt"
	"strings"
)

// LowerFn lowers already-lowered argument SQL fragments to one SQL
// expression. Implementations must be pure.
type LowerFn func(args []string) (string, error)

// Registry maps uppercased function names to their SQL lowering. The
// registry is open: callers may register additional functions before
// binding it to a compiler.
type Registry struct {
	fns map[string]LowerFn
}

// Register adds or replaces a function lowering.
func (r *Registry) Register(name string, fn LowerFn) {
	r.fns[strings.ToUpper(name)] = fn
}

// Lookup returns the lowering for name, if registered.
func (r *Registry) Lookup(name string) (LowerFn, bool) {
	fn, ok := r.fns[strings.ToUpper(name)]
	return fn, ok
}

func exactly(n int, name string, fn func(args []string) string) LowerFn {
	return func(args []string) (string, error) {
		if len(args) != n {
			return "", fmt.Errorf("%s expects %d argument(s), got %d", name, n, len(args))
		}
		return fn(args), nil
	}
}

func atLeast(n int, name string, fn func(args []string) string) LowerFn {
	return func(args []string) (string, error) {
		if len(args) < n {
			return "", fmt.Errorf("%s expects at least %d argument(s), got %d", name, n, len(args))
		}
		return fn(args), nil
	}
}

func joinOp(op string) func(args []string) string {
	return func(args []string) string {
		return "(" + strings.Join(args, " "+op+" ") + ")"
	}
}

func numeric(expr string) string {
	return "(" + expr + ")::numeric"
}

func timestamp(expr string) string {
	return "(" + expr + ")::timestamp"
}

func extractPart(part string) LowerFn {
	return exactly(1, part, func(args []string) string {
		return fmt.Sprintf("EXTRACT(%s FROM %s)", part, timestamp(args[0]))
	})
}

// NewRegistry builds the default registry covering the engine's function
// set. Every registered name lowers to a defined PostgreSQL expression.
func NewRegistry() *Registry {
	r := &Registry{fns: make(map[string]LowerFn)}

	// numeric
	r.Register("ADD", atLeast(2, "ADD", joinOp("+")))
	r.Register("SUB", atLeast(2, "SUB", joinOp("-")))
	r.Register("MUL", atLeast(2, "MUL", joinOp("*")))
	r.Register("DIV", atLeast(2, "DIV", joinOp("/")))
	r.Register("MOD", exactly(2, "MOD", func(args []string) string {
		return fmt.Sprintf("MOD(%s, %s)", numeric(args[0]), numeric(args[1]))
	}))
	r.Register("NEG", exactly(1, "NEG", func(args []string) string {
		return fmt.Sprintf("(-1 * %s)", numeric(args[0]))
	}))
	r.Register("ABS", exactly(1, "ABS", func(args []string) string {
		return fmt.Sprintf("ABS(%s)", numeric(args[0]))
	}))
	r.Register("ROUND", func(args []string) (string, error) {
		switch len(args) {
		case 1:
			return fmt.Sprintf("ROUND(%s)", numeric(args[0])), nil
		case 2:
			return fmt.Sprintf("ROUND(%s, (%s)::int)", numeric(args[0]), args[1]), nil
		default:
			return "", fmt.Errorf("ROUND expects 1 or 2 arguments, got %d", len(args))
		}
	})
	r.Register("CEIL", exactly(1, "CEIL", func(args []string) string {
		return fmt.Sprintf("CEILING(%s)", numeric(args[0]))
	}))
	r.Register("FLOOR", exactly(1, "FLOOR", func(args []string) string {
		return fmt.Sprintf("FLOOR(%s)", numeric(args[0]))
	}))
	r.Register("MIN", atLeast(1, "MIN", func(args []string) string {
		return fmt.Sprintf("LEAST(%s)", strings.Join(args, ", "))
	}))
	r.Register("MAX", atLeast(1, "MAX", func(args []string) string {
		return fmt.Sprintf("GREATEST(%s)", strings.Join(args, ", "))
	}))
	r.Register("SUM", atLeast(1, "SUM", func(args []string) string {
		casted := make([]string, len(args))
		for i, a := range args {
			casted[i] = fmt.Sprintf("COALESCE(%s, 0)", numeric(a))
		}
		return "(" + strings.Join(casted, " + ") + ")"
	}))
	r.Register("AVG", atLeast(1, "AVG", func(args []string) string {
		casted := make([]string, len(args))
		for i, a := range args {
			casted[i] = fmt.Sprintf("COALESCE(%s, 0)", numeric(a))
		}
		return fmt.Sprintf("((%s) / %d)", strings.Join(casted, " + "), len(args))
	}))
	r.Register("COUNT", atLeast(1, "COUNT", func(args []string) string {
		counted := make([]string, len(args))
		for i, a := range args {
			counted[i] = fmt.Sprintf("(CASE WHEN (%s) IS NULL THEN 0 ELSE 1 END)", a)
		}
		return "(" + strings.Join(counted, " + ") + ")"
	}))

	// text
	r.Register("LEN", exactly(1, "LEN", func(args []string) string {
		return fmt.Sprintf("LENGTH((%s)::text)", args[0])
	}))
	r.Register("LOWER", exactly(1, "LOWER", func(args []string) string {
		return fmt.Sprintf("LOWER((%s)::text)", args[0])
	}))
	r.Register("UPPER", exactly(1, "UPPER", func(args []string) string {
		return fmt.Sprintf("UPPER((%s)::text)", args[0])
	}))
	r.Register("CONCAT", atLeast(1, "CONCAT", func(args []string) string {
		return fmt.Sprintf("CONCAT(%s)", strings.Join(args, ", "))
	}))
	r.Register("TRIM", exactly(1, "TRIM", func(args []string) string {
		return fmt.Sprintf("TRIM((%s)::text)", args[0])
	}))
	r.Register("REPLACE", exactly(3, "REPLACE", func(args []string) string {
		return fmt.Sprintf("REPLACE((%s)::text, (%s)::text, (%s)::text)", args[0], args[1], args[2])
	}))
	r.Register("SEARCH", exactly(2, "SEARCH", func(args []string) string {
		return fmt.Sprintf("STRPOS((%s)::text, (%s)::text)", args[0], args[1])
	}))
	r.Register("LEFT", exactly(2, "LEFT", func(args []string) string {
		return fmt.Sprintf("LEFT((%s)::text, (%s)::int)", args[0], args[1])
	}))
	r.Register("RIGHT", exactly(2, "RIGHT", func(args []string) string {
		return fmt.Sprintf("RIGHT((%s)::text, (%s)::int)", args[0], args[1])
	}))
	r.Register("MID", exactly(3, "MID", func(args []string) string {
		return fmt.Sprintf("SUBSTR((%s)::text, (%s)::int, (%s)::int)", args[0], args[1], args[2])
	}))

	// logic
	r.Register("IF", exactly(3, "IF", func(args []string) string {
		return fmt.Sprintf("(CASE WHEN %s THEN %s ELSE %s END)", args[0], args[1], args[2])
	}))
	r.Register("SWITCH", func(args []string) (string, error) {
		if len(args) < 3 {
			return "", fmt.Errorf("SWITCH expects at least 3 arguments, got %d", len(args))
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "(CASE %s", args[0])
		rest := args[1:]
		for len(rest) >= 2 {
			fmt.Fprintf(&sb, " WHEN %s THEN %s", rest[0], rest[1])
			rest = rest[2:]
		}
		if len(rest) == 1 {
			fmt.Fprintf(&sb, " ELSE %s", rest[0])
		}
		sb.WriteString(" END)")
		return sb.String(), nil
	})
	r.Register("AND", atLeast(2, "AND", joinOp("AND")))
	r.Register("OR", atLeast(2, "OR", joinOp("OR")))
	r.Register("NOT", exactly(1, "NOT", func(args []string) string {
		return fmt.Sprintf("(NOT (%s))", args[0])
	}))
	r.Register("ISBLANK", exactly(1, "ISBLANK", func(args []string) string {
		return fmt.Sprintf("((%s) IS NULL OR (%s)::text = '')", args[0], args[0])
	}))
	r.Register("COALESCE", atLeast(1, "COALESCE", func(args []string) string {
		return fmt.Sprintf("COALESCE(%s)", strings.Join(args, ", "))
	}))

	// date/time
	r.Register("NOW", exactly(0, "NOW", func([]string) string { return "NOW()" }))
	r.Register("TODAY", exactly(0, "TODAY", func([]string) string { return "CURRENT_DATE" }))
	r.Register("YEAR", extractPart("YEAR"))
	r.Register("MONTH", extractPart("MONTH"))
	r.Register("DAY", extractPart("DAY"))
	r.Register("HOUR", extractPart("HOUR"))
	r.Register("MINUTE", extractPart("MINUTE"))
	r.Register("SECOND", extractPart("SECOND"))
	r.Register("DATEADD", exactly(3, "DATEADD", func(args []string) string {
		return fmt.Sprintf("(%s + (%s * ('1 ' || (%s)::text)::interval))",
			timestamp(args[0]), numeric(args[1]), args[2])
	}))
	r.Register("DATESUB", exactly(3, "DATESUB", func(args []string) string {
		return fmt.Sprintf("(%s - (%s * ('1 ' || (%s)::text)::interval))",
			timestamp(args[0]), numeric(args[1]), args[2])
	}))
	r.Register("DATEDIFF", exactly(2, "DATEDIFF", func(args []string) string {
		return fmt.Sprintf("FLOOR(EXTRACT(EPOCH FROM (%s - %s)) / 86400)",
			timestamp(args[0]), timestamp(args[1]))
	}))
	r.Register("DATESTR", exactly(1, "DATESTR", func(args []string) string {
		return fmt.Sprintf("TO_CHAR(%s, 'YYYY-MM-DD')", timestamp(args[0]))
	}))
	r.Register("FORMAT", exactly(2, "FORMAT", func(args []string) string {
		return fmt.Sprintf("TO_CHAR(%s, (%s)::text)", args[0], args[1])
	}))

	// misc
	r.Register("TYPE", exactly(1, "TYPE", func(args []string) string {
		return fmt.Sprintf("PG_TYPEOF(%s)::text", args[0])
	}))
	r.Register("REGEX_MATCH", exactly(2, "REGEX_MATCH", func(args []string) string {
		return fmt.Sprintf("((%s)::text ~ (%s)::text)", args[0], args[1])
	}))
	r.Register("REGEX_EXTRACT", exactly(2, "REGEX_EXTRACT", func(args []string) string {
		return fmt.Sprintf("SUBSTRING((%s)::text FROM (%s)::text)", args[0], args[1])
	}))
	r.Register("REGEX_REPLACE", exactly(3, "REGEX_REPLACE", func(args []string) string {
		return fmt.Sprintf("REGEXP_REPLACE((%s)::text, (%s)::text, (%s)::text, 'g')",
			args[0], args[1], args[2])
	}))

	return r
}
