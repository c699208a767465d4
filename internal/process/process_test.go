package process

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/memory"
)

// newTestManager builds a tiny real memory.Manager (64 bytes, 2 frames
// of 32 bytes each) backed by a temp-dir swap log, wired to look up
// processes out of procs by pid.
func newTestManager(t *testing.T, procs map[int]*Process) *memory.Manager {
	t.Helper()
	mem, err := memory.NewPhysical(64, 32)
	require.NoError(t, err)
	store, err := memory.NewBackingStore(filepath.Join(t.TempDir(), "swap.txt"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return memory.NewManager(mem, store, func(pid int) (memory.PageOwner, bool) {
		p, ok := procs[pid]
		return p, ok
	})
}

func admit(t *testing.T, mgr *memory.Manager, p *Process) {
	t.Helper()
	require.NoError(t, mgr.AllocateMemory(p, p.AllocatedBytes()))
}

func TestDeclareAddPrintRunsSequentially(t *testing.T) {
	ins, err := ParseProgram(`DECLARE x 3; ADD x x 4; PRINT("x=" + x)`)
	require.NoError(t, err)

	p := New(1, "proc1", 64, 32, ins)
	procs := map[int]*Process{1: p}
	mgr := newTestManager(t, procs)
	admit(t, mgr, p)

	var tick uint64
	for !p.IsFinished() {
		p.RunOne(0, mgr, tick)
		tick++
	}

	assert.Equal(t, FinishedNormally, p.Termination())
	logs := p.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "x=7", logs[0].Text)
}

func TestSleepDoesNotAdvancePCAndClearSleepSkipsPast(t *testing.T) {
	ins, err := ParseProgram(`DECLARE x 1; SLEEP 3; ADD x x 1`)
	require.NoError(t, err)

	p := New(1, "proc1", 64, 32, ins)
	mgr := newTestManager(t, map[int]*Process{1: p})
	admit(t, mgr, p)

	p.RunOne(0, mgr, 0) // DECLARE
	assert.Equal(t, 1, p.PC())

	ran := p.RunOne(0, mgr, 10) // SLEEP 3 -> sleep_until_tick = 13
	assert.False(t, ran)
	assert.Equal(t, 1, p.PC(), "SLEEP must not advance pc on its own step")
	assert.Equal(t, uint64(13), p.SleepUntil())

	// Still sleeping: RunOne is a no-op.
	ran = p.RunOne(0, mgr, 12)
	assert.False(t, ran)
	assert.Equal(t, 1, p.PC())

	p.ClearSleep()
	assert.Equal(t, uint64(0), p.SleepUntil())
	assert.Equal(t, 2, p.PC(), "ClearSleep must skip past the SLEEP instruction")
}

func TestForEndLoopsBody(t *testing.T) {
	ins, err := ParseProgram(`DECLARE x 0; FOR 3; ADD x x 1; END`)
	require.NoError(t, err)

	p := New(1, "proc1", 64, 32, ins)
	mgr := newTestManager(t, map[int]*Process{1: p})
	admit(t, mgr, p)

	var tick uint64
	for !p.IsFinished() {
		p.RunOne(0, mgr, tick)
		tick++
		if tick > 1000 {
			t.Fatal("loop did not terminate")
		}
	}

	addr, ok := p.variableAddr("x")
	require.True(t, ok)
	v, err := mgr.ReadWordAt(addr, p)
	require.NoError(t, err)
	assert.Equal(t, uint16(3), v)
}

func TestOutOfBoundsAddressMarksViolation(t *testing.T) {
	ins, err := ParseProgram(`READ v 0xFF`)
	require.NoError(t, err)

	p := New(1, "proc1", 64, 32, ins)
	mgr := newTestManager(t, map[int]*Process{1: p})
	admit(t, mgr, p)

	p.RunOne(0, mgr, 0)
	assert.Equal(t, MemoryViolation, p.Termination())
	require.NotNil(t, p.Violation())
	assert.Equal(t, "0xff", p.Violation().Addr)
}

func TestFullSymbolTableSkipsDeclareInsteadOfCrashing(t *testing.T) {
	// 64-byte process, symbol table capped at min(64, allocated) == 64
	// bytes == 32 variables; declare one more than that and the 33rd
	// must be silently skipped, not violate memory.
	var src string
	for i := 0; i < 33; i++ {
		src += "DECLARE v" + itoa(i) + " 1;"
	}
	ins, err := ParseProgram(src[:len(src)-1])
	require.NoError(t, err)

	p := New(1, "proc1", 64, 32, ins)
	mgr := newTestManager(t, map[int]*Process{1: p})
	admit(t, mgr, p)

	var tick uint64
	for !p.IsFinished() {
		p.RunOne(0, mgr, tick)
		tick++
	}
	assert.Equal(t, FinishedNormally, p.Termination())
	logs := p.Logs()
	require.NotEmpty(t, logs)
	assert.Contains(t, logs[len(logs)-1].Text, "symbol table full")
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := ""
	for i > 0 {
		digits = string(rune('0'+i%10)) + digits
		i /= 10
	}
	return digits
}
