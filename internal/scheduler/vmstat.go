package scheduler

import (
	"fmt"
	"os"
	"time"
)

// VMStatPath is the file the periodic snapshot overwrites (spec §6
// persisted state). The shell's vmstat command does not read it; it
// prints VMStatReport directly.
const VMStatPath = "csopesy-vmstat.txt"

// writeVMStatSnapshot is dispatcher step 4: every quantum_cycles global
// ticks, overwrite csopesy-vmstat.txt with the same figures vmstat
// prints on demand (spec §6).
func (s *Scheduler) writeVMStatSnapshot() {
	if err := os.WriteFile(VMStatPath, []byte(s.VMStatReport()), 0o644); err != nil {
		s.log.Error("writing vmstat snapshot failed", "error", err)
	}
}

// VMStatReport renders the figures backing both the vmstat command and
// the periodic snapshot: memory bytes (total/used/free), CPU ticks
// (idle/active/total), and paged-in/paged-out counts (spec §6).
func (s *Scheduler) VMStatReport() string {
	used, total := s.mgr.FrameUsage()
	frameSize := s.mgr.FrameSize()
	totalBytes := total * frameSize
	usedBytes := used * frameSize
	freeBytes := totalBytes - usedBytes

	busy, idle := s.Ticks()
	pagedIn, pagedOut := s.MemoryCounters()

	return fmt.Sprintf(
		"timestamp: %s\n"+
			"total memory: %d\n"+
			"used memory: %d\n"+
			"free memory: %d\n"+
			"idle cpu ticks: %d\n"+
			"active cpu ticks: %d\n"+
			"total cpu ticks: %d\n"+
			"num paged in: %d\n"+
			"num paged out: %d\n",
		time.Now().Format("2006-01-02 15:04:05"),
		totalBytes, usedBytes, freeBytes,
		idle, busy, busy+idle,
		pagedIn, pagedOut,
	)
}
