// Package bootstrap wires the config, memory manager, scheduler, and
// cores into the single running System the shell drives, and handles
// orderly shutdown. It never loads config.txt itself: cmd/csopesy
// loads and validates it and hands Build the resulting *config.Config.
package bootstrap

import (
	"context"
	"fmt"
	"sync"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/clock"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/config"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/memory"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/process"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/scheduler"
)

// BackingStorePath is the one file a running System owns outright
// (spec §6 persisted state); csopesy-vmstat.txt is
// scheduler.VMStatPath and csopesy-log.txt is written on demand by the
// shell's report-util, not here.
const BackingStorePath = "csopesy-backing-store.txt"

// System is the fully wired emulator: everything the shell needs is
// reached through this one value (spec §6 "interface the core exposes
// to the shell").
type System struct {
	Config *config.Config

	mem   *memory.Physical
	store *memory.BackingStore
	mgr   *memory.Manager
	clock *clock.Clock
	sched *scheduler.Scheduler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Build constructs a System from a validated config, ready to Run.
func Build(cfg *config.Config) (*System, error) {
	mem, err := memory.NewPhysical(cfg.MaxOverallMem, cfg.MemPerFrame)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	store, err := memory.NewBackingStore(BackingStorePath, cfg.MemPerFrame/2)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	s := &System{Config: cfg, mem: mem, store: store, clock: clock.New(clock.DefaultCadence)}

	// The manager needs a pid->owner lookup before the scheduler that
	// owns that lookup exists; the scheduler needs the manager to run
	// cores. Break the cycle with a closure that forwards to s.sched,
	// which is filled in one line below.
	s.mgr = memory.NewManager(mem, store, func(pid int) (memory.PageOwner, bool) {
		return s.sched.LookupOwner(pid)
	})
	s.sched = scheduler.New(cfg, s.mgr, s.clock)

	return s, nil
}

// Run starts the clock, the scheduler's dispatcher and auto-generator
// loops, in background goroutines, and returns immediately (spec §6:
// `initialize` "construct core graph, start scheduler and tick
// source"). Call Shutdown to stop them.
func (s *System) Run() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.clock.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.sched.Run(ctx)
	}()
	return ctx
}

// Shutdown implements spec §5's cancellation: flips running=false,
// waits for every goroutine (cores included) to exit, then blocks until
// every submitted process has reached a terminal state and been reaped,
// or until ctx is done, before closing the backing-store log. Cores
// stop before that wait begins, so a process still unfinished at that
// point stays unfinished and the wait ends when ctx is done.
func (s *System) Shutdown(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.sched.WaitAllDone(ctx)
	return s.store.Close()
}

// --- shell-facing interface (spec §6) ---------------------------------------

func (s *System) Submit(name string, allocatedBytes int, instructions []process.Instruction) (*process.Process, error) {
	return s.sched.Submit(name, allocatedBytes, instructions)
}

func (s *System) FindByPid(pid int) (*process.Process, bool) { return s.sched.FindByPid(pid) }
func (s *System) FindByName(name string) (*process.Process, bool) { return s.sched.FindByName(name) }

func (s *System) ListRunning() []*process.Process  { return s.sched.ListRunning() }
func (s *System) ListFinished() []*process.Process { return s.sched.ListFinished() }
func (s *System) ListSleeping() []*process.Process { return s.sched.ListSleeping() }

func (s *System) Utilization() (fraction float64, used, total int) { return s.sched.Utilization() }
func (s *System) Ticks() (busy, idle uint64)                       { return s.sched.Ticks() }
func (s *System) MemoryCounters() (pagedIn, pagedOut uint64)       { return s.sched.MemoryCounters() }
func (s *System) FrameUsage() (used, total int)                    { return s.mgr.FrameUsage() }
func (s *System) TotalBytes() int                                  { return s.mgr.TotalBytes() }
func (s *System) FrameSize() int                                   { return s.mgr.FrameSize() }

func (s *System) VMStatReport() string { return s.sched.VMStatReport() }

func (s *System) SchedulerStart() { s.sched.Start() }
func (s *System) SchedulerStop()  { s.sched.Stop() }
