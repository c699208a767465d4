package memory

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeOwner is a minimal PageOwner for exercising Manager in isolation
// from the process package (which is what implements PageOwner for
// real, but importing it here would create a cycle).
type fakeOwner struct {
	pid       int
	name      string
	allocated int
	pages     int

	pageTable map[int]int
	valid     map[int]bool

	violated bool
	violAddr string
}

func newFakeOwner(pid int, allocated, frameSize int) *fakeOwner {
	return &fakeOwner{
		pid: pid, name: "p", allocated: allocated,
		pages:     (allocated + frameSize - 1) / frameSize,
		pageTable: make(map[int]int),
		valid:     make(map[int]bool),
	}
}

func (f *fakeOwner) PID() int             { return f.pid }
func (f *fakeOwner) Name() string         { return f.name }
func (f *fakeOwner) AllocatedBytes() int  { return f.allocated }
func (f *fakeOwner) PageCount() int       { return f.pages }
func (f *fakeOwner) LockPageTable()       {}
func (f *fakeOwner) UnlockPageTable()     {}
func (f *fakeOwner) IsValid(page int) bool { return f.valid[page] }
func (f *fakeOwner) FrameOf(page int) (int, bool) {
	fr, ok := f.pageTable[page]
	return fr, ok
}
func (f *fakeOwner) SetMapping(page, frame int, valid bool) {
	f.pageTable[page] = frame
	f.valid[page] = valid
}
func (f *fakeOwner) SetValid(page int, valid bool)      { f.valid[page] = valid }
func (f *fakeOwner) SymbolSnapshot() []EvictionSymbol   { return nil }
func (f *fakeOwner) MarkViolation(logical string) {
	f.violated = true
	f.violAddr = logical
}

func newTestManagerWithOwners(t *testing.T, totalBytes, frameSize int, owners map[int]*fakeOwner) *Manager {
	t.Helper()
	mem, err := NewPhysical(totalBytes, frameSize)
	require.NoError(t, err)
	store, err := NewBackingStore(filepath.Join(t.TempDir(), "swap.txt"), frameSize/2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(mem, store, func(pid int) (PageOwner, bool) {
		o, ok := owners[pid]
		return o, ok
	})
}

func TestTranslateFaultsInAFreshPage(t *testing.T) {
	owners := map[int]*fakeOwner{1: newFakeOwner(1, 64, 32)}
	mgr := newTestManagerWithOwners(t, 64, 32, owners)
	require.NoError(t, mgr.AllocateMemory(owners[1], 64))

	frame, offset, err := mgr.Translate("0x0", owners[1])
	require.NoError(t, err)
	assert.Equal(t, 0, offset)
	assert.GreaterOrEqual(t, frame, 0)

	pagedIn, pagedOut := mgr.Counters()
	assert.Equal(t, uint64(1), pagedIn)
	assert.Equal(t, uint64(0), pagedOut)
}

func TestTranslateOutOfBoundsMarksViolation(t *testing.T) {
	owners := map[int]*fakeOwner{1: newFakeOwner(1, 64, 32)}
	mgr := newTestManagerWithOwners(t, 64, 32, owners)
	require.NoError(t, mgr.AllocateMemory(owners[1], 64))

	_, _, err := mgr.Translate("0x40", owners[1]) // == allocated_bytes, out of range
	assert.Error(t, err)
	assert.True(t, owners[1].violated)
}

func TestFIFOEvictionWhenFramesExhausted(t *testing.T) {
	// 2 frames total; two 1-page owners exhaust it, a third forces FIFO
	// eviction of the first page ever brought in.
	owners := map[int]*fakeOwner{
		1: newFakeOwner(1, 64, 64),
		2: newFakeOwner(2, 64, 64),
		3: newFakeOwner(3, 64, 64),
	}
	mgr := newTestManagerWithOwners(t, 128, 64, owners)
	for _, o := range owners {
		require.NoError(t, mgr.AllocateMemory(o, 64))
	}

	_, _, err := mgr.Translate("0x0", owners[1])
	require.NoError(t, err)
	_, _, err = mgr.Translate("0x0", owners[2])
	require.NoError(t, err)

	// Both frames now resident; owner 3's fault must evict owner 1's
	// page, since it was the first pushed to the FIFO queue.
	_, _, err = mgr.Translate("0x0", owners[3])
	require.NoError(t, err)

	assert.False(t, owners[1].IsValid(0), "owner 1's page must have been evicted")
	assert.True(t, owners[2].IsValid(0))
	assert.True(t, owners[3].IsValid(0))

	_, pagedOut := mgr.Counters()
	assert.Equal(t, uint64(1), pagedOut)
}

func TestWriteReadWordRoundTripsThroughFault(t *testing.T) {
	owners := map[int]*fakeOwner{1: newFakeOwner(1, 64, 32)}
	mgr := newTestManagerWithOwners(t, 64, 32, owners)
	require.NoError(t, mgr.AllocateMemory(owners[1], 64))

	require.NoError(t, mgr.WriteWord("0x0", 1234, owners[1]))
	v, err := mgr.ReadWord("0x0", owners[1])
	require.NoError(t, err)
	assert.Equal(t, uint16(1234), v)
}

func TestDeallocateIsIdempotent(t *testing.T) {
	owners := map[int]*fakeOwner{1: newFakeOwner(1, 64, 32)}
	mgr := newTestManagerWithOwners(t, 64, 32, owners)
	require.NoError(t, mgr.AllocateMemory(owners[1], 64))
	_, _, err := mgr.Translate("0x0", owners[1])
	require.NoError(t, err)

	mgr.Deallocate(1, owners[1].PageCount())
	mgr.Deallocate(1, owners[1].PageCount()) // must not panic or double-free

	used, _ := mgr.FrameUsage()
	assert.Equal(t, 0, used)
}
