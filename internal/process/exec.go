package process

import (
	"fmt"
	"strings"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/memory"
)

// RunOne executes exactly one instruction (spec §4.5's "per-step
// rule"): it records pc before execution, runs the instruction, and
// advances pc iff the instruction did not itself jump. It returns
// false when the process is finished or has just gone to sleep — the
// signal the core uses to know it must drop the process this step.
func (p *Process) RunOne(coreID int, mgr *memory.Manager, nowTick uint64) bool {
	p.mu.Lock()
	if p.termination != Running {
		p.mu.Unlock()
		return false
	}
	if p.sleepUntilTick != 0 {
		// Still sleeping; the scheduler hasn't cleared this yet, so
		// treat it like "nothing ran" from the core's point of view.
		p.mu.Unlock()
		return false
	}
	if p.pc >= len(p.instructions) {
		p.finish()
		p.mu.Unlock()
		return false
	}

	pcBefore := p.pc
	ins := p.instructions[p.pc]
	p.mu.Unlock()

	jumped := p.execute(ins, mgr, nowTick)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.termination != Running {
		return false
	}
	if p.sleepUntilTick != 0 {
		// SLEEP just ran: per spec §4.5 it does not advance pc this
		// step: the core drops the process here, the scheduler moves
		// it to the sleeping set, and pc only moves past SLEEP when
		// the deadline passes and the scheduler calls ClearSleep.
		return false
	}
	if !jumped && p.pc == pcBefore {
		p.pc++
	}
	if p.pc >= len(p.instructions) && p.sleepUntilTick == 0 {
		p.finish()
		return false
	}
	return true
}

// execute runs ins against the process's own state (pc, symbol table,
// loop stack) and through mgr for anything touching memory. It returns
// true if the instruction itself repositioned pc (FOR/END), so RunOne
// knows not to also increment it.
func (p *Process) execute(ins Instruction, mgr *memory.Manager, nowTick uint64) bool {
	switch ins.Op {
	case OpDeclare:
		p.opDeclare(ins, mgr)
	case OpAdd:
		p.opAddSub(ins, mgr, true)
	case OpSub:
		p.opAddSub(ins, mgr, false)
	case OpPrint:
		p.opPrint(ins, mgr)
	case OpSleep:
		p.opSleep(ins, nowTick)
	case OpFor:
		p.opFor(ins)
	case OpEnd:
		return p.opEnd()
	case OpRead:
		p.opRead(ins, mgr)
	case OpWrite:
		p.opWrite(ins, mgr)
	default:
		p.mu.Lock()
		p.appendLog(fmt.Sprintf("unknown opcode %v, skipped", ins.Op))
		p.mu.Unlock()
	}
	return false
}

// resolveOperand implements spec §4.5's resolve(token): a literal is
// already clamped at parse time; a variable reference reads its
// current value through the regular (fault-through) translate path.
func (p *Process) resolveOperand(op Operand, mgr *memory.Manager) uint16 {
	if op.IsLiteral {
		return op.Literal
	}
	addr, ok := p.variableAddr(op.Var)
	if !ok {
		return 0
	}
	v, err := mgr.ReadWordAt(addr, p)
	if err != nil {
		return 0
	}
	return v
}

func (p *Process) variableAddr(name string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr, ok := p.symbols[name]
	return addr, ok
}

// declare allocates name in the symbol table if there's room (spec
// §4.4 "Variable allocation"): |symbols|*2 < min(64, allocated_bytes).
// It returns the assigned address, or ok=false if the table is full.
func (p *Process) declare(name string) (addr int, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, exists := p.symbols[name]; exists {
		return existing, true
	}
	cap := symbolTableBytes
	if p.allocatedBytes < cap {
		cap = p.allocatedBytes
	}
	if len(p.symbolOrder)*2 >= cap {
		return 0, false
	}
	addr = len(p.symbolOrder) * 2
	p.symbols[name] = addr
	p.symbolOrder = append(p.symbolOrder, name)
	return addr, true
}

// ensureVariable is READ's "ensure v exists" (spec §4.5): allocate it
// if there's room, otherwise leave it missing.
func (p *Process) ensureVariable(name string) (addr int, ok bool) {
	p.mu.Lock()
	if addr, exists := p.symbols[name]; exists {
		p.mu.Unlock()
		return addr, true
	}
	p.mu.Unlock()
	return p.declare(name)
}

func (p *Process) opDeclare(ins Instruction, mgr *memory.Manager) {
	value := p.resolveOperand(ins.DeclareValue, mgr)
	addr, ok := p.declare(ins.DeclareName)
	if !ok {
		p.mu.Lock()
		p.appendLog(fmt.Sprintf("DECLARE %s: symbol table full, skipped", ins.DeclareName))
		p.mu.Unlock()
		return
	}
	if err := mgr.WriteWordAt(addr, value, p); err != nil {
		return // MarkViolation already ran inside translate
	}
}

func (p *Process) opAddSub(ins Instruction, mgr *memory.Manager, add bool) {
	addr, ok := p.variableAddr(ins.Dst)
	if !ok {
		p.mu.Lock()
		p.appendLog(fmt.Sprintf("%s: destination %q does not exist, skipped", ins.Op, ins.Dst))
		p.mu.Unlock()
		return
	}
	a := int64(p.resolveOperand(ins.A, mgr))
	b := int64(p.resolveOperand(ins.B, mgr))
	var result int64
	if add {
		result = a + b
	} else {
		result = a - b
	}
	_ = mgr.WriteWordAt(addr, clampWord(result), p)
}

func (p *Process) opPrint(ins Instruction, mgr *memory.Manager) {
	var sb strings.Builder
	for _, part := range ins.Parts {
		if part.IsLiteral {
			sb.WriteString(part.Literal)
			continue
		}
		v := p.resolveOperand(Operand{Var: part.Var}, mgr)
		fmt.Fprintf(&sb, "%d", v)
	}
	p.mu.Lock()
	p.appendLog(sb.String())
	p.mu.Unlock()
}

// opSleep sets sleep_until_tick without advancing pc (spec §4.5,
// §9 Open Questions: non-consuming SLEEP). pc stays on this SLEEP while
// the process sleeps; once the clock reaches the deadline the scheduler
// calls ClearSleep, which clears sleepUntilTick and moves pc past SLEEP
// exactly once, so the next dispatch resumes at the following
// instruction.
func (p *Process) opSleep(ins Instruction, nowTick uint64) {
	n := ins.N
	if n < 0 {
		n = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sleepUntilTick = nowTick + uint64(n)
}

// opFor is entered twice per iteration of its own loop: once on first
// arrival, and once per backward jump END takes back to this same pc.
// Only the first arrival pushes a frame; re-entries fall through with
// the existing frame's Remaining counter untouched, or FOR would reset
// its own repeat count every iteration.
func (p *Process) opFor(ins Instruction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if top := len(p.loopStack) - 1; top >= 0 && p.loopStack[top].StartIndex == p.pc {
		return
	}
	if len(p.loopStack) >= maxLoopDepth {
		p.appendLog("FOR: loop stack full (max depth 3), skipped")
		return
	}
	repeats := ins.N
	if repeats > 1000 {
		repeats = 1000
	}
	if repeats < 0 {
		repeats = 0
	}
	p.loopStack = append(p.loopStack, loopFrame{StartIndex: p.pc, Remaining: repeats})
}

func (p *Process) opEnd() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loopStack) == 0 {
		p.appendLog("END without matching FOR, skipped")
		return false
	}
	top := len(p.loopStack) - 1
	p.loopStack[top].Remaining--
	if p.loopStack[top].Remaining > 0 {
		p.pc = p.loopStack[top].StartIndex
		return true
	}
	p.loopStack = p.loopStack[:top]
	return false
}

func (p *Process) opRead(ins Instruction, mgr *memory.Manager) {
	addr, ok := p.ensureVariable(ins.ReadVar)
	if !ok {
		p.mu.Lock()
		p.appendLog(fmt.Sprintf("READ %s: symbol table full, skipped", ins.ReadVar))
		p.mu.Unlock()
		return
	}
	v, err := mgr.ReadWord(ins.ReadAddr, p)
	if err != nil {
		return
	}
	_ = mgr.WriteWordAt(addr, v, p)
}

func (p *Process) opWrite(ins Instruction, mgr *memory.Manager) {
	value := p.resolveOperand(ins.WriteExpr, mgr)
	_ = mgr.WriteWord(ins.WriteAddr, value, p)
}
