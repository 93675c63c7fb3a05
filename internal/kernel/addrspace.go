package kernel

import (
	"sync"
	"sync/atomic"

	"github.com/vireo-os/vireo/internal/kcollections"
)

// VMAFlags marks what a virtual memory area is for, beyond raw
// permissions: whether writes are copy-on-write duplicated or shared
// across a fork, and whether it backs the higher-half kernel mapping
// every address space carries.
type VMAFlags uint32

const (
	VMAShared VMAFlags = 1 << iota
	VMAKernel
)

// VMA is one mapped region of an address space's virtual layout.
type VMA struct {
	Start, End uintptr
	Prot       Protection
	Shared     bool
	Flags      VMAFlags
}

// AddrSpace is mm_struct: a root page-table frame, the VMA list it was
// built from, and the set of CPUs that currently have it loaded (for
// targeted TLB shootdown rather than a global flush).
type AddrSpace struct {
	mu sync.Mutex

	root   *Frame
	engine *PageTableEngine
	vmas   []*VMA

	loadedOn *kcollections.Set[int] // CPUs with this address space currently loaded
	refcount atomic.Int32
}

// NewAddrSpace creates an empty address space with a fresh, zeroed root
// table and the kernel's higher-half mapping already populated.
func NewAddrSpace(engine *PageTableEngine, kernelMap []*VMA, kernelFrameOf func(va uintptr) *Frame) (*AddrSpace, error) {
	root, err := engine.allocTable()
	if err != nil {
		return nil, err
	}
	as := &AddrSpace{
		root:     root,
		engine:   engine,
		loadedOn: kcollections.NewSet[int](4),
	}
	as.refcount.Store(1)

	for _, vma := range kernelMap {
		as.vmas = append(as.vmas, vma)
		for va := vma.Start; va < vma.End; va += PageSize {
			if err := engine.Map(root, va, kernelFrameOf(va), vma.Prot); err != nil {
				return nil, err
			}
		}
	}
	return as, nil
}

// Fork builds a child address space sharing every non-shared VMA's
// physical pages copy-on-write, and genuinely sharing VMAShared regions
// (e.g. a mapped device or shared-memory segment) — mm_struct's
// dup_mmap/copy_page_range pairing from spec.md §6.
func (as *AddrSpace) Fork() (*AddrSpace, error) {
	as.mu.Lock()
	vmasCopy := append([]*VMA(nil), as.vmas...)
	srcRoot := as.root
	as.mu.Unlock()

	newVMAEntities := make([]*VMA, len(vmasCopy))
	for i, v := range vmasCopy {
		cp := *v
		newVMAEntities[i] = &cp
	}

	dstRoot, err := as.engine.CopyTree(srcRoot, vmasCopy)
	if err != nil {
		return nil, err
	}

	child := &AddrSpace{
		root:     dstRoot,
		engine:   as.engine,
		vmas:     newVMAEntities,
		loadedOn: kcollections.NewSet[int](4),
	}
	child.refcount.Store(1)
	return child, nil
}

// MarkLoaded records that cpuID now has as active (switch_mm), and
// MarkUnloaded records the reverse — the set TLB shootdown targets when
// invalidating a range in this address space.
func (as *AddrSpace) MarkLoaded(cpuID int) {
	as.mu.Lock()
	as.loadedOn.Add(cpuID)
	as.mu.Unlock()
}

func (as *AddrSpace) MarkUnloaded(cpuID int) {
	as.mu.Lock()
	as.loadedOn.Remove(cpuID)
	as.mu.Unlock()
}

// AddVMA appends a new mapped region and installs its initial mappings.
func (as *AddrSpace) AddVMA(vma *VMA, frameOf func(va uintptr) (*Frame, error)) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	for va := vma.Start; va < vma.End; va += PageSize {
		f, err := frameOf(va)
		if err != nil {
			return err
		}
		if err := as.engine.Map(as.root, va, f, vma.Prot); err != nil {
			return err
		}
	}
	as.vmas = append(as.vmas, vma)
	return nil
}

// RemoveVMA unmaps [start,end) and drops the VMA from the list, batching
// the resulting TLB invalidations through a single Gather.
func (as *AddrSpace) RemoveVMA(start, end uintptr, im *InterruptManager, localCPU int) {
	as.mu.Lock()
	root := as.root
	for i, v := range as.vmas {
		if v.Start == start && v.End == end {
			as.vmas = append(as.vmas[:i], as.vmas[i+1:]...)
			break
		}
	}
	as.mu.Unlock()

	g := NewGather(as)
	for va := start; va < end; va += PageSize {
		as.engine.Unmap(root, va)
		g.AddPage(va)
	}
	g.Flush(im, localCPU)
}

// Release drops a reference, freeing the root table's frame once the
// last holder (the task itself, plus any CloneVM sharers) lets go.
func (as *AddrSpace) Release(fa *FrameAllocator) {
	if as.refcount.Add(-1) == 0 {
		fa.FreePages(as.root, 0)
	}
}

// Retain adds a reference, used when CloneVM shares an address space
// between parent and child rather than forking.
func (as *AddrSpace) Retain() {
	as.refcount.Add(1)
}

// RootFrame exposes the top-level page-table frame, for the dispatcher's
// context switch to program into the hardware's page-table base register
// (CR3 on x86_64) — simulated here as simply recording which AddrSpace is
// active, since there is no real CR3 to write.
func (as *AddrSpace) RootFrame() *Frame {
	return as.root
}
