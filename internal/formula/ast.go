// Package formula compiles spreadsheet-style formula strings into SQL
// expressions: lexer, recursive-descent parser, and a lowering pass that
// resolves column references through the caller.
package formula

// NodeKind discriminates AST nodes.
type NodeKind int

const (
	NodeNumber NodeKind = iota
	NodeString
	NodeBool
	NodeNull
	NodeColumnRef
	NodeCall
	NodeBinary
)

// Node is one node of a parsed formula.
type Node struct {
	Kind NodeKind

	// NodeNumber / NodeString / NodeBool
	Text string
	Bool bool

	// NodeColumnRef: the brace-delimited or bareword reference
	Ref string

	// NodeCall: uppercased function name + arguments
	Func string
	Args []*Node

	// NodeBinary
	Op    string
	Left  *Node
	Right *Node
}
