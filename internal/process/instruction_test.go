package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgramBasic(t *testing.T) {
	ins, err := ParseProgram(`DECLARE x 5; ADD x x 1; PRINT("x=" + x)`)
	require.NoError(t, err)
	require.Len(t, ins, 3)

	assert.Equal(t, OpDeclare, ins[0].Op)
	assert.Equal(t, "x", ins[0].DeclareName)
	assert.True(t, ins[0].DeclareValue.IsLiteral)
	assert.Equal(t, uint16(5), ins[0].DeclareValue.Literal)

	assert.Equal(t, OpAdd, ins[1].Op)
	assert.Equal(t, "x", ins[1].Dst)

	assert.Equal(t, OpPrint, ins[2].Op)
	require.Len(t, ins[2].Parts, 2)
	assert.True(t, ins[2].Parts[0].IsLiteral)
	assert.Equal(t, "x=", ins[2].Parts[0].Literal)
	assert.Equal(t, "x", ins[2].Parts[1].Var)
}

func TestParseProgramPrintQuotedPlusSurvives(t *testing.T) {
	ins, err := ParseProgram(`PRINT("a + b")`)
	require.NoError(t, err)
	require.Len(t, ins, 1)
	require.Len(t, ins[0].Parts, 1)
	assert.Equal(t, "a + b", ins[0].Parts[0].Literal)
}

func TestParseProgramSemicolonInsideQuotesSurvives(t *testing.T) {
	ins, err := ParseProgram(`PRINT("a;b")`)
	require.NoError(t, err)
	require.Len(t, ins, 1)
	assert.Equal(t, "a;b", ins[0].Parts[0].Literal)
}

func TestParseProgramEnforcesCountBounds(t *testing.T) {
	_, err := ParseProgram("")
	assert.Error(t, err)

	var stmts string
	for i := 0; i < 51; i++ {
		stmts += "DECLARE v 0;"
	}
	_, err = ParseProgram(stmts)
	assert.Error(t, err)
}

func TestParseInstructionForClampsRepeats(t *testing.T) {
	ins, err := ParseInstruction("FOR 5000")
	require.NoError(t, err)
	assert.Equal(t, 1000, ins.N)
}

func TestParseInstructionUnknownOpcode(t *testing.T) {
	_, err := ParseInstruction("JUMP 0")
	assert.Error(t, err)
}

func TestParseInstructionReadWrite(t *testing.T) {
	ins, err := ParseInstruction("READ v 0x10")
	require.NoError(t, err)
	assert.Equal(t, OpRead, ins.Op)
	assert.Equal(t, "v", ins.ReadVar)
	assert.Equal(t, "0x10", ins.ReadAddr)

	ins, err = ParseInstruction("WRITE 0x10 5")
	require.NoError(t, err)
	assert.Equal(t, OpWrite, ins.Op)
	assert.Equal(t, "0x10", ins.WriteAddr)
	assert.True(t, ins.WriteExpr.IsLiteral)
}

func TestClampWord(t *testing.T) {
	assert.Equal(t, uint16(0), clampWord(-5))
	assert.Equal(t, uint16(65535), clampWord(100000))
	assert.Equal(t, uint16(42), clampWord(42))
}
