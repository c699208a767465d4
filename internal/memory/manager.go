// Package memory implements the virtual-memory subsystem: physical
// frames, the backing store, FIFO page replacement, and address
// translation with page-fault handling (spec §4.2–§4.4).
package memory

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// PageOwner is the subset of process state the memory manager needs
// to translate addresses and service faults, without importing the
// process package — process.Process implements this, avoiding an
// import cycle (process needs the manager to resolve addresses;
// memory must not need process in return). See spec.md §9 "Cyclic
// references": the manager gets a narrow, pass-through view instead of
// owning the process.
type PageOwner interface {
	PID() int
	Name() string
	AllocatedBytes() int
	PageCount() int

	LockPageTable()
	UnlockPageTable()

	// IsValid/FrameOf/SetMapping/SetValid must only be called while
	// the page-table lock above is held by the caller.
	IsValid(page int) bool
	FrameOf(page int) (int, bool)
	SetMapping(page, frame int, valid bool)
	SetValid(page int, valid bool)

	SymbolSnapshot() []EvictionSymbol

	MarkViolation(logical string)
}

// Manager is the shared memory manager (spec §4.4): per-process page
// tables live on each PageOwner, but admission, translation, fault
// handling, and deallocation are centralized here behind one
// manager-wide fault lock, per spec §5's fixed lock order.
type Manager struct {
	mem       *Physical
	store     *BackingStore
	fifo      *fifoQueue
	frameSize int

	// faultMu serializes the entire fault-handling path (spec §4.4
	// step 5 / §5 "Manager-wide fault lock"), so concurrent faults
	// from different cores never race on frame allocation or the
	// FIFO queue.
	faultMu sync.Mutex

	lookup func(pid int) (owner PageOwner, ok bool)

	pagedIn  atomic.Uint64
	pagedOut atomic.Uint64

	log *slog.Logger
}

// NewManager builds a Manager over mem and store. lookup resolves a
// pid to its owning PageOwner for eviction (spec §4.4 step 2: "the
// scheduler provides lookup by pid"); it may return ok=false for an
// already-deallocated (orphaned) process, in which case eviction just
// drops the frame without touching a page table.
func NewManager(mem *Physical, store *BackingStore, lookup func(pid int) (PageOwner, bool)) *Manager {
	return &Manager{
		mem:       mem,
		store:     store,
		fifo:      newFIFOQueue(),
		frameSize: mem.FrameSize(),
		lookup:    lookup,
		log:       slog.Default().With("component", "memory"),
	}
}

// Counters returns (pagedIn, pagedOut) since startup (spec §8 invariant 4).
func (m *Manager) Counters() (uint64, uint64) {
	return m.pagedIn.Load(), m.pagedOut.Load()
}

// FrameUsage returns (usedFrames, totalFrames) for process-smi/vmstat's
// byte-utilization figures (spec §6). A frame is "used" while it is
// occupied, regardless of its valid bit.
func (m *Manager) FrameUsage() (used, total int) {
	total = m.mem.TotalFrames()
	for f := 0; f < total; f++ {
		if _, occupied := m.mem.OwnerOf(f); occupied {
			used++
		}
	}
	return used, total
}

// TotalBytes and FrameSize expose the physical memory's static shape.
func (m *Manager) TotalBytes() int { return m.mem.TotalFrames() * m.frameSize }
func (m *Manager) FrameSize() int  { return m.frameSize }

// AllocateMemory admits a new process's address space (spec §4.4):
// requestedBytes must be a power of two in [64, 65536]; this installs
// empty page-table entries and zero-filled backing-store pages, and
// never fails on physical pressure — pressure is resolved lazily at
// fault time.
func (m *Manager) AllocateMemory(owner PageOwner, requestedBytes int) error {
	if requestedBytes < 64 || requestedBytes > 65536 || requestedBytes&(requestedBytes-1) != 0 {
		return fmt.Errorf("memory: requested size %d is not a power of two in [64, 65536]", requestedBytes)
	}
	pages := (requestedBytes + m.frameSize - 1) / m.frameSize

	owner.LockPageTable()
	for p := 0; p < pages; p++ {
		owner.SetMapping(p, 0, false)
		owner.SetValid(p, false)
	}
	owner.UnlockPageTable()

	for p := 0; p < pages; p++ {
		m.store.CreatePage(PageID{PID: owner.PID(), Page: p})
	}

	m.log.Info("admitted process", "pid", owner.PID(), "name", owner.Name(), "pages", pages)
	return nil
}

// ParseLogical parses a logical address given as a hex string
// (optionally "0x"-prefixed), per spec §4.4 translate step 1.
func ParseLogical(logical string) (int, error) {
	s := strings.TrimPrefix(strings.TrimSpace(logical), "0x")
	v, err := strconv.ParseInt(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// Translate resolves a logical hex address for owner into a physical
// (frame, offset) pair, faulting the page in if necessary (spec §4.4
// translate steps 1-5).
func (m *Manager) Translate(logical string, owner PageOwner) (frame, offset int, err error) {
	addr, perr := ParseLogical(logical)
	if perr != nil {
		owner.MarkViolation(logical)
		return 0, 0, fmt.Errorf("memory: malformed address %q: %w", logical, perr)
	}
	return m.TranslateAddr(addr, owner)
}

// TranslateAddr is Translate's steps 2-5, for callers that already
// have an integer logical address (symbol-table slots computed by
// allocation, not parsed from instruction text) and so skip the
// hex-string parsing step — there is no "malformed format" case for
// an address the manager itself computed.
func (m *Manager) TranslateAddr(addr int, owner PageOwner) (frame, offset int, err error) {
	if addr < 0 || addr+1 >= owner.AllocatedBytes() {
		owner.MarkViolation(fmt.Sprintf("%#x", addr))
		return 0, 0, fmt.Errorf("memory: address %#x out of bounds for pid %d", addr, owner.PID())
	}

	page := addr / m.frameSize
	offset = addr % m.frameSize

	owner.LockPageTable()
	if !owner.IsValid(page) {
		owner.UnlockPageTable()
		if err := m.handlePageFault(owner, page); err != nil {
			return 0, 0, err
		}
		owner.LockPageTable()
	}
	frame, _ = owner.FrameOf(page)
	owner.UnlockPageTable()
	return frame, offset, nil
}

// ReadWord resolves logical for owner and reads the resident word.
func (m *Manager) ReadWord(logical string, owner PageOwner) (uint16, error) {
	frame, offset, err := m.Translate(logical, owner)
	if err != nil {
		return 0, err
	}
	return m.mem.ReadWord(frame*m.frameSize + offset)
}

// WriteWord resolves logical for owner and writes value to the
// resident word.
func (m *Manager) WriteWord(logical string, value uint16, owner PageOwner) error {
	frame, offset, err := m.Translate(logical, owner)
	if err != nil {
		return err
	}
	return m.mem.WriteWord(frame*m.frameSize+offset, value)
}

// ReadWordAt/WriteWordAt are the integer-address counterparts of
// ReadWord/WriteWord, used for symbol-table slots.
func (m *Manager) ReadWordAt(addr int, owner PageOwner) (uint16, error) {
	frame, offset, err := m.TranslateAddr(addr, owner)
	if err != nil {
		return 0, err
	}
	return m.mem.ReadWord(frame*m.frameSize + offset)
}

func (m *Manager) WriteWordAt(addr int, value uint16, owner PageOwner) error {
	frame, offset, err := m.TranslateAddr(addr, owner)
	if err != nil {
		return err
	}
	return m.mem.WriteWord(frame*m.frameSize+offset, value)
}

// handlePageFault brings page of owner into a free frame, evicting the
// FIFO victim if none is free (spec §4.4).
func (m *Manager) handlePageFault(owner PageOwner, page int) error {
	m.faultMu.Lock()
	defer m.faultMu.Unlock()

	// Another goroutine may have raced us and already serviced this
	// exact fault while we waited for faultMu.
	owner.LockPageTable()
	if owner.IsValid(page) {
		owner.UnlockPageTable()
		return nil
	}
	owner.UnlockPageTable()

	frame, free := m.mem.FreeFrameIndex()
	if !free {
		victim, ok := m.fifo.popHead()
		if !ok {
			return fmt.Errorf("memory: out of memory, no frame and no victim available")
		}
		if err := m.evict(victim); err != nil {
			return err
		}
		frame = victim
	}

	id := PageID{PID: owner.PID(), Page: page}
	words := m.store.Load(id)
	m.mem.Load(frame, words)
	m.mem.Assign(frame, id)

	owner.LockPageTable()
	owner.SetMapping(page, frame, true)
	owner.UnlockPageTable()

	m.fifo.pushTail(frame)
	m.pagedIn.Add(1)
	m.log.Info("page fault serviced", "pid", owner.PID(), "page", page, "frame", frame)
	return nil
}

// evict writes frame's victim page back to the backing store and
// frees the slot (spec §4.4).
func (m *Manager) evict(frame int) error {
	id, occupied := m.mem.OwnerOf(frame)
	if !occupied {
		return nil
	}

	var ownerName string
	var symbols []EvictionSymbol
	if owner, ok := m.lookup(id.PID); ok {
		ownerName = owner.Name()
		owner.LockPageTable()
		owner.SetValid(id.Page, false)
		owner.UnlockPageTable()
		if id.Page == 0 {
			symbols = owner.SymbolSnapshot()
		}
	}
	// An orphaned owner (already deallocated) is treated per spec §4.4
	// step 2 as a frame with no page table to update — just flush it.

	words := m.mem.Dump(frame)
	for i := range symbols {
		wordIdx := symbols[i].Addr / 2
		if wordIdx >= 0 && wordIdx < len(words) {
			symbols[i].Value = words[wordIdx]
		}
	}
	m.store.Store(id, words)
	m.mem.Clear(frame)

	if err := m.store.AppendEvictionRecord(id, ownerName, frame, words, symbols); err != nil {
		m.log.Error("writing eviction record failed", "error", err)
	}
	m.pagedOut.Add(1)
	m.log.Info("page evicted", "pid", id.PID, "page", id.Page, "frame", frame)
	return nil
}

// Deallocate frees every frame, backing-store page, and FIFO entry
// belonging to pid (spec §4.4). It is idempotent: calling it twice for
// the same pid has the same effect as calling it once (spec §8 Laws).
func (m *Manager) Deallocate(pid int, pageCount int) {
	freed := m.mem.FreeAllWithPrefix(pid)
	m.fifo.removeAll(freed)
	m.store.DeletePages(pid, pageCount)
	m.log.Info("deallocated process", "pid", pid, "frames_freed", len(freed))
}
