package core

import (
	"fmt"
	"math/rand"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/process"
)

// GenerateRandomProgram builds a random instruction list of between
// ranges.Min and ranges.Max instructions (spec §4.6/§6), using only
// variables the program itself declares first so every generated
// program is guaranteed runnable within its process's symbol-table
// budget (at most 32 variables, spec §3).
func GenerateRandomProgram(rng *rand.Rand, p *process.Process, ranges RandomInstructionRange) []process.Instruction {
	lo, hi := ranges.Min, ranges.Max
	if lo < 1 {
		lo = 1
	}
	if hi < lo {
		hi = lo
	}
	count := lo
	if hi > lo {
		count = lo + rng.Intn(hi-lo+1)
	}

	var out []process.Instruction
	var vars []string
	declare := func() string {
		name := fmt.Sprintf("v%d", len(vars))
		vars = append(vars, name)
		out = append(out, process.Instruction{
			Op:           process.OpDeclare,
			DeclareName:  name,
			DeclareValue: process.Operand{IsLiteral: true, Literal: uint16(rng.Intn(32))},
		})
		return name
	}
	// Every program starts with at least one variable so ADD/SUB/PRINT
	// generation below always has something to reference.
	declare()

	openLoop := false
	for len(out) < count {
		remaining := count - len(out)
		choice := rng.Intn(6)
		if remaining == 1 && openLoop {
			out = append(out, process.Instruction{Op: process.OpEnd})
			openLoop = false
			continue
		}
		switch {
		case choice == 0 && len(vars) < 30:
			declare()
		case choice == 1:
			dst := vars[rng.Intn(len(vars))]
			out = append(out, process.Instruction{
				Op:  process.OpAdd,
				Dst: dst,
				A:   randomOperand(rng, vars),
				B:   randomOperand(rng, vars),
			})
		case choice == 2:
			dst := vars[rng.Intn(len(vars))]
			out = append(out, process.Instruction{
				Op:  process.OpSub,
				Dst: dst,
				A:   randomOperand(rng, vars),
				B:   randomOperand(rng, vars),
			})
		case choice == 3:
			name := vars[rng.Intn(len(vars))]
			out = append(out, process.Instruction{
				Op: process.OpPrint,
				Parts: []process.PrintPart{
					{IsLiteral: true, Literal: name + "="},
					{Var: name},
				},
			})
		case choice == 4 && !openLoop && remaining >= 3:
			out = append(out, process.Instruction{Op: process.OpFor, N: 1 + rng.Intn(4)})
			openLoop = true
		default:
			name := vars[rng.Intn(len(vars))]
			out = append(out, process.Instruction{
				Op: process.OpPrint,
				Parts: []process.PrintPart{
					{IsLiteral: true, Literal: "tick"},
					{Var: name},
				},
			})
		}
	}
	if openLoop {
		out = append(out, process.Instruction{Op: process.OpEnd})
	}
	return out
}

func randomOperand(rng *rand.Rand, vars []string) process.Operand {
	if rng.Intn(2) == 0 {
		return process.Operand{IsLiteral: true, Literal: uint16(rng.Intn(16))}
	}
	return process.Operand{Var: vars[rng.Intn(len(vars))]}
}
