package memory

import (
	"fmt"
	"sync"
)

// PageID identifies a page uniquely across the whole system: the
// process that owns it and that process's logical page number.
type PageID struct {
	PID  int
	Page int
}

// Physical is the fixed-size array of frames described in spec §4.2:
// a frame table (slot -> owning page, or empty) plus a word-addressable
// byte store. Every operation here is internally serialized by one
// lock so that, from any other goroutine's point of view, a frame
// access is atomic — no caller ever observes a torn frame.
type Physical struct {
	mu         sync.Mutex
	frameSize  int // bytes per frame; a power of two
	totalBytes int
	words      []uint16  // len == totalBytes/2, indexed by word address
	owner      []PageID  // len == totalFrames; meaningful only where occupied[i] is true
	occupied   []bool    // parallel to owner: is this frame slot in use
	valid      []bool    // parallel to owner: frame table's "mark valid/invalid"
}

// NewPhysical builds a physical memory of totalBytes split into frames
// of frameSize bytes each. frameSize must be a power of two that
// divides totalBytes evenly, per spec §3 Frame table invariants;
// NewPhysical does not check that totalBytes is itself a power of two.
func NewPhysical(totalBytes, frameSize int) (*Physical, error) {
	if frameSize <= 0 || frameSize&(frameSize-1) != 0 {
		return nil, fmt.Errorf("memory: frame size %d is not a power of two", frameSize)
	}
	if totalBytes <= 0 || totalBytes%frameSize != 0 {
		return nil, fmt.Errorf("memory: total bytes %d is not a multiple of frame size %d", totalBytes, frameSize)
	}
	totalFrames := totalBytes / frameSize
	return &Physical{
		frameSize:  frameSize,
		totalBytes: totalBytes,
		words:      make([]uint16, totalBytes/2),
		owner:      make([]PageID, totalFrames),
		occupied:   make([]bool, totalFrames),
		valid:      make([]bool, totalFrames),
	}, nil
}

// FrameSize returns the configured bytes-per-frame.
func (p *Physical) FrameSize() int { return p.frameSize }

// TotalFrames returns the number of frame slots.
func (p *Physical) TotalFrames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.owner)
}

// FreeFrameIndex returns the first empty slot, or (-1, false) if the
// frame table is full.
func (p *Physical) FreeFrameIndex() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, occ := range p.occupied {
		if !occ {
			return i, true
		}
	}
	return -1, false
}

// Assign marks frame as holding id and resident.
func (p *Physical) Assign(frame int, id PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owner[frame] = id
	p.occupied[frame] = true
	p.valid[frame] = true
}

// Clear empties a frame slot (does not zero its words; the backing
// store already holds the authoritative copy by the time a caller
// clears a frame during eviction or deallocation).
func (p *Physical) Clear(frame int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owner[frame] = PageID{}
	p.occupied[frame] = false
	p.valid[frame] = false
}

// MarkValid/MarkInvalid flip the frame table's residency flag without
// touching occupancy — used when a frame is evicted but its owner
// process still points at it conceptually (not needed by this spec's
// eviction path, kept for symmetry with spec §4.2's operation list).
func (p *Physical) MarkValid(frame int)   { p.mu.Lock(); p.valid[frame] = true; p.mu.Unlock() }
func (p *Physical) MarkInvalid(frame int) { p.mu.Lock(); p.valid[frame] = false; p.mu.Unlock() }

// OwnerOf returns the page id owning frame, and whether the slot is
// occupied at all.
func (p *Physical) OwnerOf(frame int) (PageID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.owner[frame], p.occupied[frame]
}

// ReadWord reads the 16-bit word starting at physical byte address addr.
func (p *Physical) ReadWord(addr int) (uint16, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := addr / 2
	if addr < 0 || idx >= len(p.words) {
		return 0, fmt.Errorf("memory: physical address %#x out of range", addr)
	}
	return p.words[idx], nil
}

// WriteWord writes a 16-bit word starting at physical byte address addr.
func (p *Physical) WriteWord(addr int, v uint16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := addr / 2
	if addr < 0 || idx >= len(p.words) {
		return fmt.Errorf("memory: physical address %#x out of range", addr)
	}
	p.words[idx] = v
	return nil
}

// Dump returns a copy of every word in frame, frameSize/2 entries long.
func (p *Physical) Dump(frame int) []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	wordsPerFrame := p.frameSize / 2
	start := frame * wordsPerFrame
	out := make([]uint16, wordsPerFrame)
	copy(out, p.words[start:start+wordsPerFrame])
	return out
}

// Load copies words into frame's physical byte range, per spec §4.2:
// frame*frameSize + 2*i for each word i.
func (p *Physical) Load(frame int, data []uint16) {
	p.mu.Lock()
	defer p.mu.Unlock()
	wordsPerFrame := p.frameSize / 2
	start := frame * wordsPerFrame
	for i := 0; i < wordsPerFrame && i < len(data); i++ {
		p.words[start+i] = data[i]
	}
}

// FreeAllWithPrefix atomically frees every frame owned by pid, in one
// lock acquisition, and returns the indices that were freed.
func (p *Physical) FreeAllWithPrefix(pid int) []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	var freed []int
	for i, occ := range p.occupied {
		if occ && p.owner[i].PID == pid {
			p.owner[i] = PageID{}
			p.occupied[i] = false
			p.valid[i] = false
			freed = append(freed, i)
		}
	}
	return freed
}
