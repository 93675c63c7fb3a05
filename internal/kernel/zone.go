package kernel

import (
	"sync"
	"sync/atomic"

	"github.com/vireo-os/vireo/internal/kcollections"
)

// PageSize is the base x86_64 page size; MaxOrder bounds the buddy
// allocator's block sizes at 2^(MaxOrder-1) pages, matching the 4 MiB cap
// conventional kernels use to keep free-list scans bounded.
const (
	PageSize = 4096
	MaxOrder = 11
)

// ZoneType tags a zone with the DMA/DMA32/NORMAL classification used by
// the fallback zonelist: an allocation request honors its zone ceiling
// and falls back to a more restrictive zone only when necessary.
type ZoneType int

const (
	ZoneDMA ZoneType = iota
	ZoneDMA32
	ZoneNormal
)

func (z ZoneType) String() string {
	switch z {
	case ZoneDMA:
		return "DMA"
	case ZoneDMA32:
		return "DMA32"
	default:
		return "NORMAL"
	}
}

// MigrateType groups frames by how freely they may be reclaimed/moved;
// the allocator keeps separate free lists per migrate type to avoid
// fragmenting movable allocations against unmovable ones. Only
// MigrateUnmovable is exercised by the page-table and task paths this
// core implements.
type MigrateType int

const (
	MigrateUnmovable MigrateType = iota
	MigrateMovable
	MigrateReclaimable
)

// Frame is the per-physical-page descriptor. When the frame backs a
// page-table, Lock doubles as that table's split page-table lock — the
// same mutex, not a second one, so "acquire the table lock" and "acquire
// the frame lock" are the same operation throughout internal/kernel.
//
// Invariant: a frame is on exactly one free list iff refcount == 0 and
// it is not Reserved; a frame with refcount >= 1 is never on a free list.
type Frame struct {
	Lock sync.Mutex

	PFN      uintptr
	Refcount atomic.Int64
	Zone     *Zone
	Node     int
	Order    int // buddy order while free; -1 while allocated
	Migrate  MigrateType
	Reserved bool

	// Free-list linkage, intrusive so coalescing never allocates.
	next *Frame
	prev *Frame
}

// freeArea is one order's buddy free list.
type freeArea struct {
	head   *Frame
	nrFree int
}

// Watermarks gates direct allocation and triggers reclaim.
type Watermarks struct {
	Min  uint64
	Low  uint64
	High uint64
}

// Zone is a contiguous PFN range tagged DMA/DMA32/NORMAL within one NUMA
// node. Invariant: sum over k of (freeArea[k].nrFree * 2^k) <=
// PresentPages.
type Zone struct {
	mu sync.Mutex

	Type          ZoneType
	Node          int
	PFNStart      uintptr
	PFNEnd        uintptr
	PresentPages  uint64
	FreePagesN    uint64
	Watermarks    Watermarks
	HighAtomicRes uint64 // reserve kept for the wake-up fast path

	area [MaxOrder]freeArea

	// recentFree tracks the most recently freed order-0 frames as reclaim
	// candidates: maybeReclaim consults its size as a cheap pressure signal
	// before triggering the (out-of-core) reclaim policy hook.
	recentFree *kcollections.LRU[uintptr, *Frame]
}

// newZone builds a Zone with its recent-free reclaim cache sized to a
// few watermark's worth of order-0 frames.
func newZone(zoneType ZoneType, node int, watermarks Watermarks, highAtomicRes uint64) *Zone {
	return &Zone{
		Type:          zoneType,
		Node:          node,
		Watermarks:    watermarks,
		HighAtomicRes: highAtomicRes,
		recentFree:    kcollections.NewLRU[uintptr, *Frame](256),
	}
}

// belowWatermark reports whether the zone's free pages have fallen below
// the given mark, accounting for the high-atomic reserve.
func (z *Zone) belowWatermark(mark uint64) bool {
	return z.FreePagesN < mark+z.HighAtomicRes
}

func (z *Zone) pushFree(order int, f *Frame) {
	f.Order = order
	f.next = z.area[order].head
	f.prev = nil
	if z.area[order].head != nil {
		z.area[order].head.prev = f
	}
	z.area[order].head = f
	z.area[order].nrFree++
}

func (z *Zone) popFree(order int) *Frame {
	f := z.area[order].head
	if f == nil {
		return nil
	}
	z.unlinkFree(order, f)
	return f
}

func (z *Zone) unlinkFree(order int, f *Frame) {
	if f.prev != nil {
		f.prev.next = f.next
	} else {
		z.area[order].head = f.next
	}
	if f.next != nil {
		f.next.prev = f.prev
	}
	f.next, f.prev = nil, nil
	z.area[order].nrFree--
}
