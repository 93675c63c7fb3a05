package kernel

import "unsafe"

// Page-table level count and per-level index width: x86_64 4-level paging
// walks PML4/PDPT/PD/PT, each indexed by 9 bits of the virtual address;
// 5-level (LA57) prepends one more PML5 level above PML4.
const (
	ptEntries  = 512
	ptBits     = 9
	pageShift  = 12
	entrySize  = 8 // bytes per page-table entry
)

// PTEFlag is one bit of a raw page-table entry. The hardware-defined bits
// (present/writable/user/huge/NX) match the x86_64 manual; pteCOW is a
// software-available bit (one of the ignored bits in a present PTE) this
// engine repurposes to mark a copy-on-write-shared mapping that was
// write-protected specifically for COW, rather than by the mapping's own
// permissions.
type PTEFlag uint64

const (
	ptePresent  PTEFlag = 1 << 0
	pteWritable PTEFlag = 1 << 1
	pteUser     PTEFlag = 1 << 2
	pteHuge     PTEFlag = 1 << 7
	pteCOW      PTEFlag = 1 << 9
	pteNX       PTEFlag = 1 << 63
)

// Protection is the caller-facing permission set map()/protect() accept;
// it is translated to PTEFlag bits by permBits.
type Protection struct {
	Read    bool
	Write   bool
	Execute bool
	User    bool
}

func permBits(p Protection) PTEFlag {
	f := ptePresent
	if p.Write {
		f |= pteWritable
	}
	if p.User {
		f |= pteUser
	}
	if !p.Execute {
		f |= pteNX
	}
	return f
}

// entriesOf reinterprets a 4 KiB frame's backing bytes as 512 raw PTEs.
// The hosted model's "physical memory" is a Go byte slice, so this is the
// one unsafe cast standing in for treating a physical frame as an array
// of 8-byte entries the way hardware page-table walkers do natively.
func entriesOf(frameBytes []byte) []uint64 {
	return unsafe.Slice((*uint64)(unsafe.Pointer(&frameBytes[0])), PageSize/entrySize)
}

func pteAddr(raw uint64) uintptr {
	return uintptr(raw) &^ uintptr(0xFFF) &^ (uintptr(1) << 63)
}

func pteFlags(raw uint64) PTEFlag {
	return PTEFlag(raw) & (ptePresent | pteWritable | pteUser | pteHuge | pteCOW | pteNX)
}

func makePTE(framePFN uintptr, flags PTEFlag) uint64 {
	return uint64(framePFN*PageSize) | uint64(flags)
}

// vaIndex returns the index into the table at level (0 = top level) that
// va's walk passes through, given a total level count of levels.
func vaIndex(va uintptr, level, levels int) int {
	shift := uint(pageShift + ptBits*(levels-1-level))
	return int((va >> shift) & (ptEntries - 1))
}

// PageTableEngine walks and mutates address spaces' page tables against
// the shared FrameAllocator arena. Each table frame's Frame.Lock is the
// page-table lock for that table, so concurrent walkers only serialize
// on the tables they actually touch (spec.md §6's split-locking design).
type PageTableEngine struct {
	fa     *FrameAllocator
	levels int
	ipi    *InterruptManager
}

// NewPageTableEngine builds an engine using levels (4 or 5) page-table
// depth, backed by fa.
func NewPageTableEngine(fa *FrameAllocator, levels int, ipi *InterruptManager) *PageTableEngine {
	return &PageTableEngine{fa: fa, levels: levels, ipi: ipi}
}

// allocTable allocates and zeroes a fresh page-table frame.
func (e *PageTableEngine) allocTable() (*Frame, error) {
	f, err := e.fa.AllocPages(AllocFlags{}, 0)
	if err != nil {
		return nil, err
	}
	bytes := e.fa.FrameBytes(f)
	for i := range bytes {
		bytes[i] = 0
	}
	return f, nil
}

// walk descends from root to the leaf entry that would map va, creating
// intermediate tables along the way when create is true. It returns the
// table frame holding the final-level entry and that entry's index. Each
// intermediate table's lock is held only while its entry is read (or a
// new child table installed) and is released before descending; the
// returned table is not locked, so callers that mutate the leaf entry
// acquire that frame's lock themselves (pagetable.go's Map/Unmap/Protect
// do this explicitly) to keep the critical section as narrow as the
// actual mutation.
func (e *PageTableEngine) walk(root *Frame, va uintptr, create bool) (*Frame, int, error) {
	return e.walkToLevel(root, va, e.levels-1, create)
}

// walkToLevel descends from root toward targetLevel, creating intermediate
// tables along the way when create is true, and returns early with
// whatever table/index it last touched if it meets a huge entry before
// reaching targetLevel — map/unmap/protect only ever ask for the leaf
// level, while split_huge/merge_huge ask for the level directly above it.
func (e *PageTableEngine) walkToLevel(root *Frame, va uintptr, targetLevel int, create bool) (*Frame, int, error) {
	cur := root
	for level := 0; level < targetLevel; level++ {
		idx := vaIndex(va, level, e.levels)

		cur.Lock.Lock()
		entries := entriesOf(e.fa.FrameBytes(cur))
		raw := entries[idx]

		if PTEFlag(raw)&ptePresent == 0 {
			if !create {
				cur.Lock.Unlock()
				return nil, 0, nil
			}
			child, err := e.allocTable()
			if err != nil {
				cur.Lock.Unlock()
				return nil, 0, err
			}
			entries[idx] = makePTE(child.PFN, ptePresent|pteWritable|pteUser)
			cur.Lock.Unlock()
			cur = child
			continue
		}
		if PTEFlag(raw)&pteHuge != 0 {
			cur.Lock.Unlock()
			return cur, idx, nil
		}

		childPFN := pteAddr(raw) / PageSize
		cur.Lock.Unlock()
		cur = e.fa.FrameAt(childPFN)
	}

	idx := vaIndex(va, targetLevel, e.levels)
	return cur, idx, nil
}

// hugeLevel is the intermediate level one above the leaf — on 4-level
// x86_64 paging this is the page directory, whose bit-7 PS encoding turns
// an intermediate entry into a 2 MiB leaf covering 512 consecutive
// 4 KiB frames.
func (e *PageTableEngine) hugeLevel() int {
	return e.levels - 2
}

// isHugeAt reports whether va falls under a present huge entry.
func (e *PageTableEngine) isHugeAt(root *Frame, va uintptr) bool {
	if e.hugeLevel() < 0 {
		return false
	}
	table, idx, err := e.walkToLevel(root, va, e.hugeLevel(), false)
	if err != nil || table == nil {
		return false
	}
	table.Lock.Lock()
	raw := entriesOf(e.fa.FrameBytes(table))[idx]
	table.Lock.Unlock()
	return PTEFlag(raw)&(ptePresent|pteHuge) == ptePresent|pteHuge
}

// MapHuge installs a single huge entry covering the 2 MiB, naturally
// aligned region containing va, backed by 512 contiguous physical frames
// starting at base.
func (e *PageTableEngine) MapHuge(root *Frame, va uintptr, base *Frame, prot Protection) error {
	table, idx, err := e.walkToLevel(root, va, e.hugeLevel(), true)
	if err != nil {
		return err
	}
	table.Lock.Lock()
	entries := entriesOf(e.fa.FrameBytes(table))
	entries[idx] = makePTE(base.PFN, permBits(prot)|pteHuge)
	table.Lock.Unlock()
	return nil
}

// splitHuge replaces the huge entry covering va with a fresh 512-entry
// leaf table mapping the same physical backing at 4 KiB granularity.
// The compound page's single reference is distributed into 512
// independent per-leaf frame references (each leaf initialized to
// refcount 1, the same state an individually order-0-allocated page
// would carry), so each leaf becomes separately unmappable/freeable
// through the ordinary buddy path without disturbing its neighbors. A
// no-op if va is not currently covered by a present huge entry.
func (e *PageTableEngine) splitHuge(root *Frame, va uintptr) error {
	table, idx, err := e.walkToLevel(root, va, e.hugeLevel(), false)
	if err != nil || table == nil {
		return err
	}

	table.Lock.Lock()
	raw := entriesOf(e.fa.FrameBytes(table))[idx]
	if PTEFlag(raw)&(ptePresent|pteHuge) != ptePresent|pteHuge {
		table.Lock.Unlock()
		return nil
	}
	basePFN := pteAddr(raw) / PageSize
	flags := pteFlags(raw) &^ pteHuge
	table.Lock.Unlock()

	sub, err := e.allocTable()
	if err != nil {
		return err
	}
	subEntries := entriesOf(e.fa.FrameBytes(sub))
	for i := 0; i < ptEntries; i++ {
		leaf := e.fa.FrameAt(basePFN + uintptr(i))
		leaf.Refcount.Store(1)
		leaf.Order = -1
		subEntries[i] = makePTE(basePFN+uintptr(i), flags)
	}

	table.Lock.Lock()
	entriesOf(e.fa.FrameBytes(table))[idx] = makePTE(sub.PFN, ptePresent|pteWritable|pteUser)
	table.Lock.Unlock()
	return nil
}

// mergeHuge is split_huge's inverse: it requires all 512 sub-entries to
// be present, contiguous in physical address, and identical in flags,
// and is a no-op otherwise.
func (e *PageTableEngine) mergeHuge(root *Frame, va uintptr) error {
	table, idx, err := e.walkToLevel(root, va, e.hugeLevel(), false)
	if err != nil || table == nil {
		return err
	}

	table.Lock.Lock()
	raw := entriesOf(e.fa.FrameBytes(table))[idx]
	table.Lock.Unlock()
	if PTEFlag(raw)&ptePresent == 0 || PTEFlag(raw)&pteHuge != 0 {
		return nil
	}

	subPFN := pteAddr(raw) / PageSize
	sub := e.fa.FrameAt(subPFN)
	subEntries := entriesOf(e.fa.FrameBytes(sub))

	basePFN := pteAddr(subEntries[0]) / PageSize
	flags := pteFlags(subEntries[0])
	for i := 0; i < ptEntries; i++ {
		if PTEFlag(subEntries[i])&ptePresent == 0 {
			return nil
		}
		if pteAddr(subEntries[i])/PageSize != basePFN+uintptr(i) {
			return nil
		}
		if pteFlags(subEntries[i]) != flags {
			return nil
		}
	}

	table.Lock.Lock()
	entriesOf(e.fa.FrameBytes(table))[idx] = makePTE(basePFN, flags|pteHuge)
	table.Lock.Unlock()

	// Collapsing back to one huge entry releases the 511 per-leaf
	// references split_huge created; only the base frame's own reference
	// (already counted before the split) remains.
	for i := 1; i < ptEntries; i++ {
		e.fa.FrameAt(basePFN + uintptr(i)).Refcount.Store(0)
	}
	e.fa.FreePages(sub, 0)
	return nil
}

// Map installs a present mapping for the page containing va, pointing at
// frame with the given protection. Used both for fresh mappings and for
// installing a post-COW private copy.
func (e *PageTableEngine) Map(root *Frame, va uintptr, frame *Frame, prot Protection) error {
	table, idx, err := e.walk(root, va, true)
	if err != nil {
		return err
	}
	table.Lock.Lock()
	entries := entriesOf(e.fa.FrameBytes(table))
	entries[idx] = makePTE(frame.PFN, permBits(prot))
	table.Lock.Unlock()
	return nil
}

// Unmap clears the mapping for va, dropping the mapped frame's refcount
// by one (it stays resident if other mappings or the allocator's own
// reference keep it above zero). A va falling inside a huge entry splits
// it to 4 KiB granularity first, so only the targeted page is affected
// and the other 511 entries remain present with their original backing.
func (e *PageTableEngine) Unmap(root *Frame, va uintptr) {
	if e.isHugeAt(root, va) {
		if err := e.splitHuge(root, va); err != nil {
			return
		}
	}

	table, idx, err := e.walk(root, va, false)
	if err != nil || table == nil {
		return
	}
	table.Lock.Lock()
	entries := entriesOf(e.fa.FrameBytes(table))
	raw := entries[idx]
	entries[idx] = 0
	table.Lock.Unlock()

	if PTEFlag(raw)&ptePresent != 0 {
		pfn := pteAddr(raw) / PageSize
		e.fa.FreePages(e.fa.FrameAt(pfn), 0)
	}
}

// Protect changes the permission bits of va's existing mapping in place,
// preserving the physical frame it points at.
func (e *PageTableEngine) Protect(root *Frame, va uintptr, prot Protection) {
	table, idx, err := e.walk(root, va, false)
	if err != nil || table == nil {
		return
	}
	table.Lock.Lock()
	entries := entriesOf(e.fa.FrameBytes(table))
	raw := entries[idx]
	if PTEFlag(raw)&ptePresent != 0 {
		pfn := pteAddr(raw)
		entries[idx] = uint64(pfn) | uint64(permBits(prot))
	}
	table.Lock.Unlock()
}

// markCOW clears the writable bit and sets pteCOW on va's mapping,
// sharing the underlying frame read-only between parent and child until
// one side writes and faults.
func (e *PageTableEngine) markCOW(root *Frame, va uintptr) {
	table, idx, err := e.walk(root, va, false)
	if err != nil || table == nil {
		return
	}
	table.Lock.Lock()
	entries := entriesOf(e.fa.FrameBytes(table))
	raw := entries[idx]
	if PTEFlag(raw)&ptePresent != 0 {
		pfn := pteAddr(raw)
		flags := (PTEFlag(raw) &^ pteWritable) | pteCOW
		entries[idx] = uint64(pfn) | uint64(flags)
		pfn2 := pfn / PageSize
		e.fa.FrameAt(pfn2).Refcount.Add(1)
	}
	table.Lock.Unlock()
}

// HandleCOW services a write fault on a pteCOW mapping: if the
// underlying frame's refcount is still shared, it allocates a private
// copy, memcpy's the shared frame's contents into it, and remaps va
// writable against the copy; if the frame turned out to already be
// exclusive (every other sharer already faulted and copied away) it
// simply restores the writable bit in place, avoiding a needless copy.
func (e *PageTableEngine) HandleCOW(root *Frame, va uintptr) error {
	table, idx, err := e.walk(root, va, false)
	if err != nil || table == nil {
		return nil
	}
	table.Lock.Lock()
	raw := entriesOf(e.fa.FrameBytes(table))[idx]
	table.Lock.Unlock()

	if PTEFlag(raw)&pteCOW == 0 {
		return nil
	}
	oldPFN := pteAddr(raw) / PageSize
	oldFrame := e.fa.FrameAt(oldPFN)

	if oldFrame.Refcount.Load() == 1 {
		table.Lock.Lock()
		entries := entriesOf(e.fa.FrameBytes(table))
		entries[idx] = (entries[idx] &^ uint64(pteCOW)) | uint64(pteWritable)
		table.Lock.Unlock()
		return nil
	}

	newFrame, err := e.fa.AllocPages(AllocFlags{}, 0)
	if err != nil {
		return err
	}
	copy(e.fa.FrameBytes(newFrame), e.fa.FrameBytes(oldFrame))

	table.Lock.Lock()
	entries := entriesOf(e.fa.FrameBytes(table))
	entries[idx] = makePTE(newFrame.PFN, ptePresent|pteWritable)
	table.Lock.Unlock()

	e.fa.FreePages(oldFrame, 0)
	return nil
}

// CopyTree builds a new top-level table for a forked address space: every
// present leaf mapping in src is marked COW in both src and the new tree
// instead of being duplicated, deferring the real copy to HandleCOW.
func (e *PageTableEngine) CopyTree(srcRoot *Frame, vmas []*VMA) (*Frame, error) {
	dstRoot, err := e.allocTable()
	if err != nil {
		return nil, err
	}
	for _, vma := range vmas {
		if !vma.Shared && vma.Flags&VMAShared == 0 {
			for va := vma.Start; va < vma.End; va += PageSize {
				table, idx, err := e.walk(srcRoot, va, false)
				if err != nil {
					return nil, err
				}
				if table == nil {
					continue
				}
				table.Lock.Lock()
				raw := entriesOf(e.fa.FrameBytes(table))[idx]
				table.Lock.Unlock()
				if PTEFlag(raw)&ptePresent == 0 {
					continue
				}
				// markCOW bumps the shared frame's refcount once for the new
				// child reference; the child's own entry is then written
				// directly with the COW flag already set, rather than via
				// markCOW a second time, which would double-count it.
				e.markCOW(srcRoot, va)
				pfn := pteAddr(raw) / PageSize
				if err := e.Map(dstRoot, va, e.fa.FrameAt(pfn), Protection{Read: true, User: true}); err != nil {
					return nil, err
				}
				dstTable, dstIdx, err := e.walk(dstRoot, va, false)
				if err != nil || dstTable == nil {
					continue
				}
				dstTable.Lock.Lock()
				dstEntries := entriesOf(e.fa.FrameBytes(dstTable))
				dstEntries[dstIdx] = (dstEntries[dstIdx] &^ uint64(pteWritable)) | uint64(pteCOW)
				dstTable.Lock.Unlock()
			}
		} else {
			for va := vma.Start; va < vma.End; va += PageSize {
				table, idx, err := e.walk(srcRoot, va, false)
				if err != nil || table == nil {
					continue
				}
				table.Lock.Lock()
				raw := entriesOf(e.fa.FrameBytes(table))[idx]
				table.Lock.Unlock()
				if PTEFlag(raw)&ptePresent == 0 {
					continue
				}
				pfn := pteAddr(raw) / PageSize
				if err := e.Map(dstRoot, va, e.fa.FrameAt(pfn), vma.Prot); err != nil {
					return nil, err
				}
			}
		}
	}
	return dstRoot, nil
}
