package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/clock"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/config"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/memory"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/process"
)

func newTestScheduler(t *testing.T, cfg *config.Config) *Scheduler {
	t.Helper()
	mem, err := memory.NewPhysical(cfg.MaxOverallMem, cfg.MemPerFrame)
	require.NoError(t, err)
	store, err := memory.NewBackingStore(filepath.Join(t.TempDir(), "swap.txt"), cfg.MemPerFrame/2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	var s *Scheduler
	mgr := memory.NewManager(mem, store, func(pid int) (memory.PageOwner, bool) {
		return s.LookupOwner(pid)
	})
	cl := clock.New(time.Microsecond)
	s = New(cfg, mgr, cl)
	return s
}

func rrConfig() *config.Config {
	return &config.Config{
		NumCPU: 2, SchedulerPolicy: config.RR, QuantumCycles: 3,
		BatchProcessFreq: 1000, MinIns: 1, MaxIns: 1, DelayPerExec: 0,
		MaxOverallMem: 256, MemPerFrame: 32, MinMemPerProc: 64, MaxMemPerProc: 64,
	}
}

func TestSubmitRejectsNonPowerOfTwoSize(t *testing.T) {
	s := newTestScheduler(t, rrConfig())
	_, err := s.Submit("p1", 100, nil)
	assert.Error(t, err)
}

func TestSubmitRejectsDuplicateName(t *testing.T) {
	s := newTestScheduler(t, rrConfig())
	_, err := s.Submit("p1", 64, nil)
	require.NoError(t, err)
	_, err = s.Submit("p1", 64, nil)
	assert.Error(t, err)
}

func TestSubmitPlacesProcessOnReadyQueue(t *testing.T) {
	s := newTestScheduler(t, rrConfig())
	p, err := s.Submit("p1", 64, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, s.ready.size())

	found, ok := s.FindByPid(p.PID())
	assert.True(t, ok)
	assert.Equal(t, p, found)
}

func TestDispatcherRunsSubmittedProcessToCompletion(t *testing.T) {
	s := newTestScheduler(t, rrConfig())
	ins, err := process.ParseProgram(`DECLARE x 1; ADD x x 1`)
	require.NoError(t, err)
	p, err := s.Submit("p1", 64, ins)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go s.clock.Run(ctx)
	go s.Run(ctx)

	deadline := time.After(1500 * time.Millisecond)
	for {
		if p.IsFinished() {
			break
		}
		select {
		case <-deadline:
			t.Fatal("process did not finish in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.Equal(t, process.FinishedNormally, p.Termination())
}

func TestFindByNameNotFound(t *testing.T) {
	s := newTestScheduler(t, rrConfig())
	_, ok := s.FindByName("nope")
	assert.False(t, ok)
}

func TestUtilizationReflectsCoreCount(t *testing.T) {
	s := newTestScheduler(t, rrConfig())
	fraction, used, total := s.Utilization()
	assert.Equal(t, 0.0, fraction)
	assert.Equal(t, 0, used)
	assert.Equal(t, 2, total)
}

func TestStartStopTogglesEnabled(t *testing.T) {
	s := newTestScheduler(t, rrConfig())
	assert.False(t, s.Enabled())
	s.Start()
	assert.True(t, s.Enabled())
	s.Stop()
	assert.False(t, s.Enabled())
}
