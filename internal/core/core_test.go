package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/clock"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/memory"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/process"
)

func newTestSetup(t *testing.T) (*memory.Manager, *clock.Clock, map[int]*process.Process) {
	t.Helper()
	mem, err := memory.NewPhysical(256, 32)
	require.NoError(t, err)
	store, err := memory.NewBackingStore(filepath.Join(t.TempDir(), "swap.txt"), 16)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	procs := make(map[int]*process.Process)
	mgr := memory.NewManager(mem, store, func(pid int) (memory.PageOwner, bool) {
		p, ok := procs[pid]
		return p, ok
	})
	return mgr, clock.New(time.Microsecond), procs
}

func TestAssignRunsToCompletionUnderFCFS(t *testing.T) {
	mgr, cl, procs := newTestSetup(t)
	ins, err := process.ParseProgram(`DECLARE x 1; ADD x x 1; ADD x x 1`)
	require.NoError(t, err)
	p := process.New(1, "p1", 64, 32, ins)
	procs[1] = p

	c := New(0, mgr, cl, 0)
	running := true
	outcome := c.Assign(context.Background(), p, 100, RandomInstructionRange{Min: 1, Max: 1}, func() bool { return running })

	assert.Equal(t, OutcomeFinished, outcome)
	assert.True(t, p.HasBeenScheduled())
}

func TestAssignPreemptsAtQuantumBoundary(t *testing.T) {
	mgr, cl, procs := newTestSetup(t)
	ins, err := process.ParseProgram(`DECLARE x 1; ADD x x 1; ADD x x 1; ADD x x 1`)
	require.NoError(t, err)
	p := process.New(1, "p1", 64, 32, ins)
	procs[1] = p

	c := New(0, mgr, cl, 0)
	running := true
	outcome := c.Assign(context.Background(), p, 2, RandomInstructionRange{Min: 1, Max: 1}, func() bool { return running })

	assert.Equal(t, OutcomeQuantumExpired, outcome)
	assert.Equal(t, 2, p.PC())
	assert.False(t, p.IsFinished())
}

func TestAssignStopsOnSleep(t *testing.T) {
	mgr, cl, procs := newTestSetup(t)
	ins, err := process.ParseProgram(`DECLARE x 1; SLEEP 5; ADD x x 1`)
	require.NoError(t, err)
	p := process.New(1, "p1", 64, 32, ins)
	procs[1] = p

	c := New(0, mgr, cl, 0)
	running := true
	outcome := c.Assign(context.Background(), p, 100, RandomInstructionRange{Min: 1, Max: 1}, func() bool { return running })

	assert.Equal(t, OutcomeSleeping, outcome)
	assert.NotZero(t, p.SleepUntil())
}

func TestAssignLazilyGeneratesInstructionsOnFirstDispatch(t *testing.T) {
	mgr, cl, procs := newTestSetup(t)
	p := process.New(1, "p1", 64, 32, nil) // no pre-parsed program
	procs[1] = p

	c := New(0, mgr, cl, 0)
	running := true
	c.Assign(context.Background(), p, 1, RandomInstructionRange{Min: 3, Max: 6}, func() bool { return running })

	assert.Greater(t, p.InstructionCount(), 0)
}

func TestAssignExecutesNothingWhenRunningFlagAlreadyClear(t *testing.T) {
	mgr, cl, procs := newTestSetup(t)
	ins, err := process.ParseProgram(`DECLARE x 1; ADD x x 1; ADD x x 1`)
	require.NoError(t, err)
	p := process.New(1, "p1", 64, 32, ins)
	procs[1] = p

	c := New(0, mgr, cl, 0)
	running := false // already stopped
	outcome := c.Assign(context.Background(), p, 100, RandomInstructionRange{Min: 1, Max: 1}, func() bool { return running })

	assert.Equal(t, OutcomeQuantumExpired, outcome)
	assert.Equal(t, 0, p.PC())
}
