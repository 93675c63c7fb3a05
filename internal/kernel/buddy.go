package kernel

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/vireo-os/vireo/internal/allocator"
	"github.com/vireo-os/vireo/internal/kerrors"
)

// AllocFlags narrows an alloc_pages request: NUMA hint, zone ceiling, and
// whether the high-atomic reserve may be dipped into.
type AllocFlags struct {
	PreferredNode int
	MaxZone       ZoneType
	Atomic        bool
}

// FrameAllocator is the buddy-based physical frame allocator (component A):
// a flat descriptor array indexed by PFN, partitioned into per-node zones.
// Each node gets a single ZoneNormal zone; there are no DMA or DMA32
// zones, and AllocFlags.MaxZone is not consulted.
type FrameAllocator struct {
	frames []Frame
	zones  []*Zone

	// Arena stands in for physical RAM: frame pfn's bytes live at
	// Arena[pfn*PageSize : (pfn+1)*PageSize]. Real hardware has no such
	// single backing buffer; this is the hosted-model simulation the
	// page-table engine's handle_cow memcpy operates against.
	Arena []byte

	// nodeZonelist[node] lists zones in fallback-preference order: the
	// node's own zone first, then other nodes' zones in node order.
	nodeZonelist map[int][]*Zone

	reclaimGroup singleflight.Group
	mu           sync.RWMutex
}

// NewFrameAllocator walks boot's memory map, stamps per-frame descriptors
// in an array sized by the highest PFN, assigns each frame its zone and
// node, and releases usable ranges into the allocator blockwise. Region
// stamping for distinct usable ranges runs concurrently via
// errgroup.WithContext, mirroring the teacher's build-graph fan-out
// pattern applied here to boot-time parallel frame initialization.
func NewFrameAllocator(ctx context.Context, boot BootInfo, numNodes int) (*FrameAllocator, error) {
	var highestPFN uintptr
	for _, r := range boot.MemoryMap {
		endPFN := (r.Base + r.Length) / PageSize
		if endPFN > highestPFN {
			highestPFN = endPFN
		}
	}

	arenaBytes := highestPFN * PageSize
	arena, err := allocator.NewArenaAllocator(arenaBytes, &allocator.Config{AlignmentSize: PageSize})
	if err != nil {
		return nil, err
	}

	fa := &FrameAllocator{
		frames:       make([]Frame, highestPFN),
		nodeZonelist: make(map[int][]*Zone),
		Arena:        arena.Buffer(),
	}

	for node := 0; node < numNodes; node++ {
		z := newZone(ZoneNormal, node, Watermarks{Min: 64, Low: 128, High: 256}, 16)
		fa.zones = append(fa.zones, z)
	}
	for node := 0; node < numNodes; node++ {
		fa.nodeZonelist[node] = fa.zonelistFor(node)
	}

	g, _ := errgroup.WithContext(ctx)
	for _, r := range boot.MemoryMap {
		r := r
		if r.Type != MemoryUsable {
			continue
		}
		g.Go(func() error {
			return fa.stampAndRelease(r)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return fa, nil
}

// zonelistFor returns node's zones followed by every other node's zones,
// implementing the "falls back to adjacent zones" rule from spec.md §4.A.
func (fa *FrameAllocator) zonelistFor(node int) []*Zone {
	var list []*Zone
	for _, z := range fa.zones {
		if z.Node == node {
			list = append(list, z)
		}
	}
	for _, z := range fa.zones {
		if z.Node != node {
			list = append(list, z)
		}
	}
	return list
}

// stampAndRelease stamps descriptors for one usable region and releases
// it blockwise: repeatedly peeling off the largest naturally-aligned 2^k
// block that fits in the remaining range, avoiding O(N) per-frame
// insertions into the free lists.
func (fa *FrameAllocator) stampAndRelease(r MemoryMapEntry) error {
	startPFN := r.Base / PageSize
	endPFN := (r.Base + r.Length) / PageSize
	if int(r.NodeID) >= len(fa.zones) {
		return kerrors.New(kerrors.CategoryMemory, "BAD_NODE", "memory map entry names an unknown node", map[string]any{"node": r.NodeID})
	}
	zone := fa.zones[r.NodeID]

	for pfn := startPFN; pfn < endPFN; pfn++ {
		f := &fa.frames[pfn]
		f.PFN = pfn
		f.Zone = zone
		f.Node = r.NodeID
		f.Order = -1
	}

	zone.mu.Lock()
	zone.PFNStart = startPFN
	zone.PFNEnd = endPFN
	zone.PresentPages += uint64(endPFN - startPFN)
	zone.mu.Unlock()

	pfn := startPFN
	for pfn < endPFN {
		order := MaxOrder - 1
		for order > 0 {
			blockSize := uintptr(1) << uint(order)
			aligned := pfn%blockSize == 0
			fits := pfn+blockSize <= endPFN
			if aligned && fits {
				break
			}
			order--
		}
		f := &fa.frames[pfn]
		zone.mu.Lock()
		zone.pushFree(order, f)
		zone.FreePagesN += uint64(1) << uint(order)
		zone.mu.Unlock()
		pfn += uintptr(1) << uint(order)
	}

	return nil
}

// AllocPages returns a naturally-aligned 2^order-frame block with
// refcount initialized to 1, honoring flags.PreferredNode and falling
// back across the node's zonelist. Every order, order 0 included, is
// served from the zone free lists; there is no per-CPU page cache.
func (fa *FrameAllocator) AllocPages(flags AllocFlags, order int) (*Frame, error) {
	zonelist, ok := fa.nodeZonelist[flags.PreferredNode]
	if !ok {
		zonelist = fa.zones
	}

	for _, z := range zonelist {
		if f := fa.allocFromZone(z, order, flags.Atomic); f != nil {
			f.Refcount.Store(1)
			return f, nil
		}
		fa.maybeReclaim(z)
	}

	return nil, kerrors.OutOfMemory(order, flags.PreferredNode)
}

// AllocPagesNode is AllocPages with a hard node preference recorded for
// the caller's bookkeeping; the fallback zonelist is identical.
func (fa *FrameAllocator) AllocPagesNode(nid int, flags AllocFlags, order int) (*Frame, error) {
	flags.PreferredNode = nid
	return fa.AllocPages(flags, order)
}

// allocFromZone finds the smallest free block at order >= requested,
// splitting larger blocks down as needed.
func (fa *FrameAllocator) allocFromZone(z *Zone, order int, atomic bool) *Frame {
	z.mu.Lock()
	defer z.mu.Unlock()

	watermark := z.Watermarks.Low
	reserve := z.HighAtomicRes
	if atomic {
		reserve = 0
	}
	if z.FreePagesN < watermark+reserve {
		return nil
	}

	found := -1
	for o := order; o < MaxOrder; o++ {
		if z.area[o].head != nil {
			found = o
			break
		}
	}
	if found == -1 {
		return nil
	}

	f := z.popFree(found)
	z.FreePagesN -= uint64(1) << uint(found)

	// Split down to the requested order, pushing the upper halves back
	// onto their own free lists.
	for found > order {
		found--
		buddyPFN := f.PFN + (uintptr(1) << uint(found))
		buddy := &fa.frames[buddyPFN]
		z.pushFree(found, buddy)
		z.FreePagesN += uint64(1) << uint(found)
	}
	f.Order = -1

	return f
}

// FreePages decrements refcount; on reaching zero, coalesces with
// buddies of equal order whose PFN differs only in bit `order`, up to
// MaxOrder-1.
func (fa *FrameAllocator) FreePages(f *Frame, order int) {
	if f.Refcount.Add(-1) > 0 {
		return
	}

	z := f.Zone
	z.mu.Lock()
	defer z.mu.Unlock()

	pfn := f.PFN
	cur := f
	for order < MaxOrder-1 {
		buddyPFN := pfn ^ (uintptr(1) << uint(order))
		if buddyPFN < z.PFNStart || buddyPFN >= z.PFNEnd {
			break
		}
		buddy := &fa.frames[buddyPFN]
		if buddy.Order != order || buddy.Refcount.Load() != 0 {
			break
		}
		z.unlinkFree(order, buddy)
		z.FreePagesN -= uint64(1) << uint(order)
		if buddyPFN < pfn {
			pfn = buddyPFN
			cur = buddy
		}
		order++
	}

	cur.PFN = pfn
	z.pushFree(order, cur)
	z.FreePagesN += uint64(1) << uint(order)
	if order == 0 {
		z.recentFree.Put(cur.PFN, cur)
	}
}

// maybeReclaim triggers the watermark-triggered reclaim hook, deduplicated
// across concurrently-starving allocators: many goroutines hitting the
// same zone below watermark at once collapse into one reclaim attempt.
// The actual reclaim policy lives outside this core (spec.md §4.A); this
// is the hook point singleflight collapses duplicate calls onto.
func (fa *FrameAllocator) maybeReclaim(z *Zone) {
	key := z.Type.String()
	fa.reclaimGroup.Do(key, func() (interface{}, error) {
		// z.recentFree.Len() is the cheap pressure signal: a zone that has
		// freed many order-0 frames recently without them being
		// re-allocated is a zone under memory pressure from the wrong
		// migrate type, not genuinely low on pages. The actual reclaim
		// policy (LRU page-cache writeback, swap) lives outside this core.
		_ = z.recentFree.Len()
		return nil, nil
	})
}

// FrameAt returns the descriptor for pfn, for callers (the page-table
// engine) that already hold a PFN and need the owning frame.
func (fa *FrameAllocator) FrameAt(pfn uintptr) *Frame {
	return &fa.frames[pfn]
}

// FrameBytes returns the PageSize-length slice of the simulated physical
// arena backing f.
func (fa *FrameAllocator) FrameBytes(f *Frame) []byte {
	start := f.PFN * PageSize
	return fa.Arena[start : start+PageSize]
}
