// Package core implements the per-CPU worker described in spec §4.6:
// a goroutine that runs one assigned process for up to quantum
// instructions, applying a per-instruction delay and handing the
// process back to the scheduler when it blocks, is preempted, or
// finishes.
package core

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/clock"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/memory"
	"github.com/sisoputnfrba/tp-2025-2c-csopesy/internal/process"
)

// State is a Core's coarse lifecycle state (spec §4.6).
type State int

const (
	Idle State = iota
	Running
)

// Outcome tells the scheduler why a core gave a process back.
type Outcome int

const (
	OutcomeFinished Outcome = iota
	OutcomeSleeping
	OutcomeQuantumExpired
	OutcomeViolation
)

// RandomInstructionRange parameterizes lazy instruction generation on
// first dispatch (spec §4.6).
type RandomInstructionRange struct {
	Min, Max int
}

// Core is one emulated CPU.
type Core struct {
	ID int

	mu        sync.Mutex
	state     State
	busyTicks uint64

	mgr   *memory.Manager
	clock *clock.Clock
	log   *slog.Logger

	delayPerExec int
	rng          *rand.Rand
}

// New builds a Core that services page faults through mgr and reads
// the shared clock for SLEEP deadlines and per-instruction delay.
func New(id int, mgr *memory.Manager, c *clock.Clock, delayPerExec int) *Core {
	return &Core{
		ID:           id,
		mgr:          mgr,
		clock:        c,
		delayPerExec: delayPerExec,
		log:          slog.Default().With("component", "core", "core_id", id),
		rng:          rand.New(rand.NewSource(int64(id) + 1)),
	}
}

func (c *Core) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BusyTicks returns how many clock ticks this core has spent executing
// instructions since startup. The scheduler derives idle ticks from
// the shared clock's total minus the sum of every core's busy ticks,
// the same way the original computes idleTicks as totalTicks minus
// activeTicks, since nothing increments an idle counter directly.
func (c *Core) BusyTicks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busyTicks
}

// Assign runs p for up to quantum instructions (∞ is modeled as
// math.MaxInt for FCFS). On first-ever assignment of p this is the
// canonical lazy-admission point (spec §4.6): the process's address
// space is allocated and, if it arrived with no pre-parsed
// instructions (i.e. it came from `screen -s` or the auto-generator),
// a random program is generated for it.
func (c *Core) Assign(ctx context.Context, p *process.Process, quantum int, ranges RandomInstructionRange, running func() bool) Outcome {
	c.mu.Lock()
	c.state = Running
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.state = Idle
		c.mu.Unlock()
	}()

	if !p.HasBeenScheduled() {
		if err := c.mgr.AllocateMemory(p, p.AllocatedBytes()); err != nil {
			c.log.Error("admission failed", "pid", p.PID(), "error", err)
		}
		if p.InstructionCount() == 0 {
			p.SetInstructions(GenerateRandomProgram(c.rng, p, ranges))
		}
		p.MarkScheduled(c.ID)
	}

	executed := 0
	for running() && !p.IsFinished() && executed < quantum {
		now := c.clock.Now()
		if p.IsSleeping(now) {
			return OutcomeSleeping
		}
		ran := p.RunOne(c.ID, c.mgr, now)
		if p.Termination() == process.MemoryViolation {
			return OutcomeViolation
		}
		if !ran {
			break
		}
		executed++
		c.clock.Advance()
		c.mu.Lock()
		c.busyTicks++
		c.mu.Unlock()
		c.applyDelay(ctx)
	}

	if p.IsFinished() {
		return OutcomeFinished
	}
	if p.SleepUntil() != 0 {
		return OutcomeSleeping
	}
	return OutcomeQuantumExpired
}

// applyDelay implements spec §4.6's per-instruction delay: a fixed
// ~1ms sleep when delay_per_exec is 0, otherwise a busy-wait until the
// shared clock has advanced by delay_per_exec ticks.
func (c *Core) applyDelay(ctx context.Context) {
	if c.delayPerExec == 0 {
		time.Sleep(time.Millisecond)
		return
	}
	target := c.clock.Now() + uint64(c.delayPerExec)
	c.clock.WaitUntil(ctx, target)
}
