package formula

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrecedence(t *testing.T) {
	node, err := Parse("1 + 2 * 3")
	require.NoError(t, err)
	require.Equal(t, NodeBinary, node.Kind)
	assert.Equal(t, "+", node.Op)
	assert.Equal(t, "1", node.Left.Text)
	require.Equal(t, NodeBinary, node.Right.Kind)
	assert.Equal(t, "*", node.Right.Op)
}

func TestParseParensOverridePrecedence(t *testing.T) {
	node, err := Parse("(1 + 2) * 3")
	require.NoError(t, err)
	require.Equal(t, NodeBinary, node.Kind)
	assert.Equal(t, "*", node.Op)
	assert.Equal(t, "+", node.Left.Op)
	assert.Equal(t, "3", node.Right.Text)
}

func TestParseUnaryMinusDesugars(t *testing.T) {
	node, err := Parse("-{amount}")
	require.NoError(t, err)
	require.Equal(t, NodeBinary, node.Kind)
	assert.Equal(t, "*", node.Op)
	assert.Equal(t, "-1", node.Left.Text)
	require.Equal(t, NodeColumnRef, node.Right.Kind)
	assert.Equal(t, "amount", node.Right.Ref)
}

func TestParseColumnRefForms(t *testing.T) {
	node, err := Parse("{ Unit Price } + tax")
	require.NoError(t, err)
	assert.Equal(t, "Unit Price", node.Left.Ref)
	assert.Equal(t, "tax", node.Right.Ref)
}

func TestParseCallUppercasesName(t *testing.T) {
	node, err := Parse("if({paid}, 'yes', 'no')")
	require.NoError(t, err)
	require.Equal(t, NodeCall, node.Kind)
	assert.Equal(t, "IF", node.Func)
	require.Len(t, node.Args, 3)
	assert.Equal(t, NodeColumnRef, node.Args[0].Kind)
	assert.Equal(t, "yes", node.Args[1].Text)
}

func TestParseKeywordLiterals(t *testing.T) {
	node, err := Parse("COALESCE(NULL, TRUE, false)")
	require.NoError(t, err)
	require.Len(t, node.Args, 3)
	assert.Equal(t, NodeNull, node.Args[0].Kind)
	assert.Equal(t, NodeBool, node.Args[1].Kind)
	assert.True(t, node.Args[1].Bool)
	assert.False(t, node.Args[2].Bool)
}

func TestParseStringEscapes(t *testing.T) {
	node, err := Parse(`CONCAT("a\"b", 'c')`)
	require.NoError(t, err)
	assert.Equal(t, `a"b`, node.Args[0].Text)
	assert.Equal(t, "c", node.Args[1].Text)
}

func TestParseRejectsGarbage(t *testing.T) {
	cases := []string{
		"1 +",
		"{amount",
		"'unterminated",
		"LEN(1",
		"1 2",
		"@",
	}
	for _, input := range cases {
		_, err := Parse(input)
		assert.Error(t, err, input)
	}
}
