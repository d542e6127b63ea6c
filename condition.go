package gridbase

import (
	"strings"

	"go.uber.org/zap"
)

// ParseWhereString tokenizes the legacy "(field,op,value)~and(field,op,value)"
// filter grammar into filter leaves. The grammar is positional and flat:
// nested groups are not recognized. A malformed fragment is dropped with a
// debug log rather than failing the request; this parser is a compatibility
// shim, not a design primitive.
func ParseWhereString(where string) []*FilterNode {
	where = strings.TrimSpace(where)
	if where == "" {
		return nil
	}

	var nodes []*FilterNode
	logic := LogicAnd
	rest := where
	for rest != "" {
		open := strings.IndexByte(rest, '(')
		if open < 0 {
			break
		}
		connector := strings.TrimSpace(rest[:open])
		closing := strings.IndexByte(rest[open:], ')')
		if closing < 0 {
			zap.S().Debugw("dropping malformed where fragment", "fragment", rest)
			break
		}
		body := rest[open+1 : open+closing]
		rest = rest[open+closing+1:]

		switch strings.TrimPrefix(strings.ToLower(connector), "~") {
		case "or":
			logic = LogicOr
		case "", "and":
			// keep current
		default:
			zap.S().Debugw("dropping unknown where connector", "connector", connector)
		}

		parts := strings.SplitN(body, ",", 3)
		if len(parts) != 3 {
			zap.S().Debugw("dropping malformed where fragment", "fragment", body)
			continue
		}
		field := strings.TrimSpace(parts[0])
		op := CompareOp(strings.TrimSpace(parts[1]))
		value := strings.TrimSpace(parts[2])
		if field == "" {
			zap.S().Debugw("dropping where fragment with empty field", "fragment", body)
			continue
		}
		nodes = append(nodes, &FilterNode{ColumnID: field, Op: op, Value: value})
	}

	if len(nodes) > 1 && logic == LogicOr {
		return []*FilterNode{Group(LogicOr, nodes...)}
	}
	return nodes
}

// ParseSortString parses the legacy "+f,-f,f:asc,f:desc" sort grammar.
func ParseSortString(sortStr string) []SortSpec {
	sortStr = strings.TrimSpace(sortStr)
	if sortStr == "" {
		return nil
	}
	var specs []SortSpec
	for _, piece := range strings.Split(sortStr, ",") {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		spec := SortSpec{Direction: SortAsc}
		switch {
		case strings.HasPrefix(piece, "-"):
			spec.ColumnID = piece[1:]
			spec.Direction = SortDesc
		case strings.HasPrefix(piece, "+"):
			spec.ColumnID = piece[1:]
		case strings.Contains(piece, ":"):
			parts := strings.SplitN(piece, ":", 2)
			spec.ColumnID = strings.TrimSpace(parts[0])
			if strings.EqualFold(strings.TrimSpace(parts[1]), "desc") {
				spec.Direction = SortDesc
			}
		default:
			spec.ColumnID = piece
		}
		if spec.ColumnID == "" {
			continue
		}
		specs = append(specs, spec)
	}
	return specs
}
