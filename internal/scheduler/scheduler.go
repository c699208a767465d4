// Package scheduler implements the system's ready queue, sleeping and
// finished sets, dispatcher loop, and auto-generator loop (spec §4.7,
// §4.8). It is the one package that ties cores, memory, and processes
// together into the interface the shell drives.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/clock"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/config"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/core"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/memory"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/process"
)

// dispatchCadence is how often the dispatcher loop wakes to scan
// sleepers and assign idle cores (spec §4.7: "every few ms").
const dispatchCadence = 2 * time.Millisecond

// Scheduler holds the cores, the single ready queue, the sleeping and
// finished sets, and the pid-dedup set, and runs the dispatcher and
// (optionally) auto-generator background loops.
type Scheduler struct {
	cfg   *config.Config
	mgr   *memory.Manager
	clock *clock.Clock
	cores []*core.Core
	log   *slog.Logger

	ready *readyQueue

	mu        sync.Mutex
	processes map[int]*process.Process // every admitted process, by pid
	sleeping  map[int]*process.Process
	finished  map[int]bool // pid -> terminal (spec §4.7's "finished pid set for dedup")
	reaped    map[int]bool // pid -> already deallocated
	nextCore  int

	running bool // set by scheduler-start/-stop; gates the auto-generator only
	active  int  // count of processes not yet finished, for wait_all_done

	systemUp atomic.Bool // false once shutdown begins; cores exit their quantum loop on the next step

	pidMu  sync.Mutex
	nextPID int

	wg sync.WaitGroup
}

// New builds a Scheduler over cfg and mgr, with one core.Core per
// cfg.NumCPU. It does not start any goroutines; call Run.
func New(cfg *config.Config, mgr *memory.Manager, c *clock.Clock) *Scheduler {
	s := &Scheduler{
		cfg:       cfg,
		mgr:       mgr,
		clock:     c,
		ready:     newReadyQueue(),
		processes: make(map[int]*process.Process),
		sleeping:  make(map[int]*process.Process),
		finished:  make(map[int]bool),
		reaped:    make(map[int]bool),
		log:       slog.Default().With("component", "scheduler"),
	}
	for i := 0; i < cfg.NumCPU; i++ {
		s.cores = append(s.cores, core.New(i, mgr, c, cfg.DelayPerExec))
	}
	return s
}

// LookupOwner adapts FindByPid to memory.Manager's lookup callback
// (spec §4.4 step 2: "the scheduler provides lookup by pid").
func (s *Scheduler) LookupOwner(pid int) (memory.PageOwner, bool) {
	p, ok := s.FindByPid(pid)
	if !ok {
		return nil, false
	}
	return p, true
}

// Run starts the dispatcher loop and blocks until ctx is canceled
// (spec §5: dispatcher and auto-generator are their own goroutines).
// Callers run this in its own goroutine; the auto-generator only runs
// while scheduler-start has been issued.
func (s *Scheduler) Run(ctx context.Context) {
	s.systemUp.Store(true)

	s.wg.Add(2)
	go s.dispatchLoop(ctx)
	go s.generateLoop(ctx)
	<-ctx.Done()

	s.systemUp.Store(false)
	s.ready.wake()
	s.wg.Wait()

	// dispatchLoop may have exited on ctx.Done() while a core goroutine
	// was still mid-quantum; that goroutine's outcome (and any resulting
	// finished pid) lands after dispatchLoop's last reapFinished call.
	// Run one more pass now that every core goroutine above has drained,
	// so wait_all_done's active count reaches zero before Shutdown
	// closes the backing store out from under a straggling page fault.
	s.reapFinished()
}

// Submit admits a new process: allocates it a pid, registers it, and
// pushes it to the ready queue (spec §4.7's "tie-break on concurrent
// arrivals: FIFO by submission order" — pid assignment order is push
// order). instructions may be nil, in which case the core generates a
// random program on first dispatch.
func (s *Scheduler) Submit(name string, allocatedBytes int, instructions []process.Instruction) (*process.Process, error) {
	if allocatedBytes < 64 || allocatedBytes > 65536 || allocatedBytes&(allocatedBytes-1) != 0 {
		return nil, fmt.Errorf("scheduler: memory size %d is not a power of two in [64, 65536]", allocatedBytes)
	}
	if _, exists := s.FindByName(name); exists {
		return nil, fmt.Errorf("scheduler: process %q already exists", name)
	}

	s.pidMu.Lock()
	pid := s.nextPID
	s.nextPID++
	s.pidMu.Unlock()

	p := process.New(pid, name, allocatedBytes, s.cfg.MemPerFrame, instructions)

	s.mu.Lock()
	s.processes[pid] = p
	s.active++
	s.mu.Unlock()

	s.ready.push(p)
	s.log.Info("process submitted", "pid", pid, "name", name, "bytes", allocatedBytes)
	return p, nil
}

// dispatchLoop implements spec §4.7's four dispatcher steps.
func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(dispatchCadence)
	defer ticker.Stop()

	var sinceSnapshot uint64
	lastTick := s.clock.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := s.clock.Now()
		sinceSnapshot += now - lastTick
		lastTick = now

		s.wakeSleepers(now)
		s.assignIdleCores(ctx)
		s.reapFinished()

		if s.cfg.QuantumCycles > 0 && sinceSnapshot >= uint64(s.cfg.QuantumCycles) {
			sinceSnapshot = 0
			s.writeVMStatSnapshot()
		}
	}
}

// wakeSleepers is dispatcher step 1.
func (s *Scheduler) wakeSleepers(now uint64) {
	s.mu.Lock()
	var woken []*process.Process
	for pid, p := range s.sleeping {
		if p.SleepUntil() <= now {
			woken = append(woken, p)
			delete(s.sleeping, pid)
		}
	}
	s.mu.Unlock()

	for _, p := range woken {
		p.ClearSleep()
		s.ready.push(p)
	}
}

// assignIdleCores is dispatcher step 2: round-robin starting at
// next_core, try-pop and assign any idle core.
func (s *Scheduler) assignIdleCores(ctx context.Context) {
	s.mu.Lock()
	n := len(s.cores)
	start := s.nextCore
	s.mu.Unlock()

	for i := 0; i < n; i++ {
		idx := (start + i) % n
		c := s.cores[idx]
		if c.State() != core.Idle {
			continue
		}
		p, ok := s.ready.tryPop()
		if !ok {
			break
		}

		quantum := s.cfg.QuantumCycles
		if s.cfg.SchedulerPolicy == config.FCFS {
			quantum = int(^uint(0) >> 1) // effectively infinite, per spec's fcfs quantum
		}
		ranges := core.RandomInstructionRange{Min: s.cfg.MinIns, Max: s.cfg.MaxIns}

		s.wg.Add(1)
		go s.runOnCore(ctx, c, p, quantum, ranges)

		s.mu.Lock()
		s.nextCore = (idx + 1) % n
		s.mu.Unlock()
	}
}

// runOnCore runs one assign() cycle on c and routes p back to the
// sleeping set or ready queue per the outcome (spec §4.6 "on exit").
// c.Assign's quantum loop is gated on s.systemUp, not on whether the
// auto-generator is enabled: scheduler-stop only pauses new-process
// creation, it never preempts in-flight work (spec §6).
func (s *Scheduler) runOnCore(ctx context.Context, c *core.Core, p *process.Process, quantum int, ranges core.RandomInstructionRange) {
	defer s.wg.Done()
	outcome := c.Assign(ctx, p, quantum, ranges, s.systemUp.Load)
	switch outcome {
	case core.OutcomeSleeping:
		s.mu.Lock()
		s.sleeping[p.PID()] = p
		s.mu.Unlock()
	case core.OutcomeQuantumExpired:
		s.ready.push(p)
	case core.OutcomeFinished, core.OutcomeViolation:
		s.mu.Lock()
		s.finished[p.PID()] = true
		s.mu.Unlock()
	}
}

// reapFinished is dispatcher step 3: deallocate memory for any process
// whose finished flag is set but hasn't been reaped yet. Idempotent on
// pid, per spec §4.4/§8 Laws.
func (s *Scheduler) reapFinished() {
	s.mu.Lock()
	var toReap []*process.Process
	for pid := range s.finished {
		if s.reaped[pid] {
			continue
		}
		if p, ok := s.processes[pid]; ok {
			toReap = append(toReap, p)
			s.reaped[pid] = true
		}
	}
	s.mu.Unlock()

	for _, p := range toReap {
		s.mgr.Deallocate(p.PID(), p.PageCount())
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}
}

// generateLoop implements the auto-generator (spec §4.7): every
// batch_process_freq global ticks, while enabled, submit a new process
// with a random power-of-two memory size.
func (s *Scheduler) generateLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(dispatchCadence)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(1))
	var sinceLast uint64
	lastTick := s.clock.Now()
	var seq int

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := s.clock.Now()
		sinceLast += now - lastTick
		lastTick = now

		if !s.Enabled() {
			sinceLast = 0
			continue
		}
		if sinceLast < uint64(s.cfg.BatchProcessFreq) {
			continue
		}
		sinceLast = 0

		size := randomPowerOfTwo(rng, s.cfg.MinMemPerProc, s.cfg.MaxMemPerProc)
		seq++
		name := fmt.Sprintf("p%d", seq)
		if _, err := s.Submit(name, size, nil); err != nil {
			s.log.Error("auto-generator submit failed", "name", name, "error", err)
		}
	}
}

// randomPowerOfTwo picks a power of two uniformly among those in
// [lo, hi], per spec §4.7's auto-generator sizing rule.
func randomPowerOfTwo(rng *rand.Rand, lo, hi int) int {
	var options []int
	for v := lo; v <= hi; v *= 2 {
		options = append(options, v)
	}
	if len(options) == 0 {
		return lo
	}
	return options[rng.Intn(len(options))]
}

// Start/Stop enable or disable the auto-generator (scheduler-start /
// scheduler-stop, spec §6). They do not affect the dispatcher or cores.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// FindByPid/FindByName back screen -r and scripted lookups (spec §6).
func (s *Scheduler) FindByPid(pid int) (*process.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.processes[pid]
	return p, ok
}

func (s *Scheduler) FindByName(name string) (*process.Process, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.processes {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// ListRunning/ListFinished/ListSleeping back screen -ls and
// process-smi (spec §6).
func (s *Scheduler) ListRunning() []*process.Process {
	return s.listWhere(func(p *process.Process) bool {
		return !p.IsFinished() && p.SleepUntil() == 0
	})
}

func (s *Scheduler) ListFinished() []*process.Process {
	return s.listWhere(func(p *process.Process) bool { return p.IsFinished() })
}

func (s *Scheduler) ListSleeping() []*process.Process {
	return s.listWhere(func(p *process.Process) bool {
		return !p.IsFinished() && p.SleepUntil() != 0
	})
}

func (s *Scheduler) listWhere(pred func(*process.Process) bool) []*process.Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*process.Process, 0, len(s.processes))
	for _, p := range s.processes {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out
}

// Utilization returns the fraction of cores currently Running, and the
// (used, total) core counts, for screen -ls/process-smi (spec §6).
func (s *Scheduler) Utilization() (fraction float64, used, total int) {
	total = len(s.cores)
	for _, c := range s.cores {
		if c.State() == core.Running {
			used++
		}
	}
	if total == 0 {
		return 0, 0, 0
	}
	return float64(used) / float64(total), used, total
}

// Ticks sums busy ticks across every core and derives idle ticks as
// the shared clock's total minus that sum, for vmstat (spec §6).
func (s *Scheduler) Ticks() (busy, idle uint64) {
	for _, c := range s.cores {
		busy += c.BusyTicks()
	}
	total := s.clock.Now()
	if total < busy {
		return busy, 0
	}
	return busy, total - busy
}

// MemoryCounters returns (pagedIn, pagedOut) from the memory manager,
// for vmstat (spec §6, §8 invariant 4).
func (s *Scheduler) MemoryCounters() (pagedIn, pagedOut uint64) {
	return s.mgr.Counters()
}

// WaitAllDone blocks until every submitted process has reached a
// terminal state and been reaped, per spec §5's `wait_all_done`, or
// until ctx is done, whichever comes first.
func (s *Scheduler) WaitAllDone(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.mu.Lock()
		done := s.active == 0
		s.mu.Unlock()
		if done {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
