// Package process implements the process-execution engine: the
// Process type, its tiny instruction set, and the per-instruction
// interpreter (spec §3, §4.5).
package process

import (
	"fmt"
	"sync"
	"time"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/memory"
)

// Termination is the closed set of terminal states a process can end
// in (spec §3, §9: "a single sum type"). It is process state, not a Go
// error — the shell inspects it via screen -r, nothing returns it.
type Termination int

const (
	Running Termination = iota
	FinishedNormally
	MemoryViolation
)

func (t Termination) String() string {
	switch t {
	case Running:
		return "RUNNING"
	case FinishedNormally:
		return "FINISHED"
	case MemoryViolation:
		return "MEMORY VIOLATION"
	default:
		return "UNKNOWN"
	}
}

// Violation records what went wrong and when, for screen -r (spec §6).
type Violation struct {
	Addr string
	At   time.Time
}

// LogEntry is one append-only PRINT (or warning) line (spec §3).
type LogEntry struct {
	At   time.Time
	Text string
}

// loopFrame is one entry of the bounded FOR/END loop stack (spec §3).
type loopFrame struct {
	StartIndex int
	Remaining  int
}

const maxLoopDepth = 3
const symbolTableBytes = 64 // [0, 64): 32 variables * 2 bytes each

// Process is one emulated user program (spec §3).
type Process struct {
	pid  int
	name string

	mu sync.Mutex // guards everything below except the page table

	instructions []Instruction
	pc           int
	loopStack    []loopFrame

	symbols     map[string]int // variable name -> logical address
	symbolOrder []string       // insertion order, for the symbol-table eviction snapshot

	allocatedBytes int
	frameSize      int
	pageCount      int

	sleepUntilTick uint64

	termination Termination
	violation   *Violation

	hasBeenScheduled bool
	lastCoreID       int
	finishTime       time.Time
	creationTime     time.Time

	logs []LogEntry

	ptMu       sync.Mutex // page-table lock (spec §5)
	pageTable  map[int]int
	validBits  map[int]bool
}

// New builds a process admitted with allocatedBytes of address space,
// split into pages of frameSize bytes. Its instruction list may be
// empty (auto-generated lazily on first dispatch, spec §4.6) or
// pre-parsed (screen -c, spec §6).
func New(pid int, name string, allocatedBytes, frameSize int, instructions []Instruction) *Process {
	pageCount := (allocatedBytes + frameSize - 1) / frameSize
	return &Process{
		pid:            pid,
		name:           name,
		instructions:   instructions,
		symbols:        make(map[string]int),
		allocatedBytes: allocatedBytes,
		frameSize:      frameSize,
		pageCount:      pageCount,
		creationTime:   time.Now(),
		pageTable:      make(map[int]int),
		validBits:      make(map[int]bool),
	}
}

// --- identity & snapshot accessors -----------------------------------------

func (p *Process) PID() int  { return p.pid }
func (p *Process) Name() string { return p.name }

func (p *Process) AllocatedBytes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocatedBytes
}

func (p *Process) PageCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageCount
}

func (p *Process) HasBeenScheduled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hasBeenScheduled
}

// MarkScheduled flips the lazy-admission flag; the core calls this
// exactly once, on a process's first-ever dispatch (spec §4.6).
func (p *Process) MarkScheduled(coreID int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hasBeenScheduled = true
	p.lastCoreID = coreID
}

func (p *Process) SetInstructions(ins []Instruction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instructions = ins
}

func (p *Process) InstructionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.instructions)
}

func (p *Process) PC() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pc
}

func (p *Process) Termination() Termination {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.termination
}

func (p *Process) Violation() *Violation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.violation
}

func (p *Process) IsFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.termination != Running
}

func (p *Process) IsSleeping(nowTick uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sleepUntilTick > nowTick
}

func (p *Process) SleepUntil() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sleepUntilTick
}

// ClearSleep is called by the scheduler once a sleeping process's
// deadline has passed, to move it back to ready (spec §4.7). SLEEP
// itself never advances pc (spec §4.5); pc is still pointing at the
// SLEEP instruction, so waking is also where it finally skips past it
// — "the next dispatch ... will ... skip past SLEEP once the deadline
// passes" (spec §4.5) is implemented here rather than by re-executing
// SLEEP a second time.
func (p *Process) ClearSleep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sleepUntilTick = 0
	if p.pc < len(p.instructions) && p.instructions[p.pc].Op == OpSleep {
		p.pc++
	}
}

func (p *Process) CreationTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creationTime
}

func (p *Process) FinishTime() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finishTime
}

func (p *Process) LastCoreID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastCoreID
}

// Logs returns a copy of the process's append-only log buffer.
func (p *Process) Logs() []LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]LogEntry, len(p.logs))
	copy(out, p.logs)
	return out
}

func (p *Process) appendLog(text string) {
	p.logs = append(p.logs, LogEntry{At: time.Now(), Text: text})
}

// finish transitions Running -> FinishedNormally. Per spec §3/§9,
// terminal states are permanent; calling this twice is a no-op.
func (p *Process) finish() {
	if p.termination != Running {
		return
	}
	p.termination = FinishedNormally
	p.finishTime = time.Now()
}

// MarkViolation transitions Running -> MemoryViolation (spec §7). It
// satisfies memory.PageOwner, so the manager can call it directly from
// inside Translate without reaching back into the scheduler.
func (p *Process) MarkViolation(logical string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.termination != Running {
		return
	}
	p.termination = MemoryViolation
	p.violation = &Violation{Addr: logical, At: time.Now()}
	p.finishTime = time.Now()
	p.appendLog(fmt.Sprintf("memory violation at %s", logical))
}

// --- memory.PageOwner: page-table side --------------------------------------

func (p *Process) LockPageTable()   { p.ptMu.Lock() }
func (p *Process) UnlockPageTable() { p.ptMu.Unlock() }

func (p *Process) IsValid(page int) bool { return p.validBits[page] }

func (p *Process) FrameOf(page int) (int, bool) {
	f, ok := p.pageTable[page]
	return f, ok
}

func (p *Process) SetMapping(page, frame int, valid bool) {
	p.pageTable[page] = frame
	p.validBits[page] = valid
}

func (p *Process) SetValid(page int, valid bool) {
	p.validBits[page] = valid
}

// SymbolSnapshot returns the current variable table for the backing
// store's page-0 eviction log block (spec §6). It does not itself read
// memory through the manager — the manager calls this only while
// evicting, with the frame's just-dumped words already in hand, and
// resolves values by offset out of those words.
func (p *Process) SymbolSnapshot() []memory.EvictionSymbol {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]memory.EvictionSymbol, 0, len(p.symbolOrder))
	for _, name := range p.symbolOrder {
		out = append(out, memory.EvictionSymbol{Name: name, Addr: p.symbols[name]})
	}
	return out
}

var _ memory.PageOwner = (*Process)(nil)
