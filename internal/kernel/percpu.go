package kernel

import (
	"sync"
	"sync/atomic"

	"github.com/vireo-os/vireo/internal/kcollections"
)

// SwitchEvent is one entry in a CPU's scheduling trace: which task left
// rq->curr, which replaced it, and at what runqueue clock tick.
type SwitchEvent struct {
	Tick     uint64
	FromPID  uint32
	ToPID    uint32
	FromComm string
	ToComm   string
}

// zeroedCacheDepth is the size of each CPU's pre-zeroed page-table frame
// LIFO.
const zeroedCacheDepth = 8

// PerCPU is the arena slot for one logical CPU id: no singletons, as
// spec.md §9's "Global mutable state" design note requires — every piece
// of cross-CPU-visible state lives indexed by CPU id in PerCPUArena,
// reached through atomics or the owning runqueue's lock rather than a
// package-level global.
type PerCPU struct {
	ID int

	IRQDepth     atomic.Int32
	PreemptDepth atomic.Int32

	// ZeroedCache is a LIFO of already-zeroed frames. RefillZeroed fills it
	// once at boot (InitializeCompleteKernel) and nothing refills it later;
	// popZeroed can take a frame from it, but allocTable does not draw on
	// this cache and zeroes each new table inline.
	ZeroedCache kcollections.Deque[*Frame]

	// trace is a bounded, overwrite-oldest log of this CPU's last context
	// switches, the debugging equivalent of perf sched's trace buffer.
	traceMu sync.Mutex
	trace   *kcollections.RingBuffer[SwitchEvent]
}

// PerCPUArena is the per-CPU arena indexed by logical CPU id.
type PerCPUArena struct {
	Slots []*PerCPU
}

// NewPerCPUArena builds n slots, one per logical CPU.
func NewPerCPUArena(n int) *PerCPUArena {
	arena := &PerCPUArena{Slots: make([]*PerCPU, n)}
	for i := range arena.Slots {
		arena.Slots[i] = &PerCPU{ID: i, trace: kcollections.NewRingBuffer[SwitchEvent](128)}
	}
	return arena
}

// RecordSwitch appends a switch event to this CPU's trace buffer.
func (p *PerCPU) RecordSwitch(ev SwitchEvent) {
	p.traceMu.Lock()
	p.trace.Push(ev)
	p.traceMu.Unlock()
}

// RecentSwitches returns a copy of the buffered switch events (at most
// the last 128), oldest first, leaving the buffer unchanged.
func (p *PerCPU) RecentSwitches() []SwitchEvent {
	p.traceMu.Lock()
	defer p.traceMu.Unlock()
	out := make([]SwitchEvent, 0, p.trace.Len())
	for {
		ev, ok := p.trace.Peek()
		if !ok {
			break
		}
		p.trace.Pop()
		out = append(out, ev)
	}
	for _, ev := range out {
		p.trace.Push(ev)
	}
	return out
}

// PreemptDisable increments the per-CPU preemption counter; schedule()
// early-returns while it is non-zero.
func (p *PerCPU) PreemptDisable() {
	p.PreemptDepth.Add(1)
}

// PreemptEnable decrements the counter.
func (p *PerCPU) PreemptEnable() {
	p.PreemptDepth.Add(-1)
}

// Preemptible reports whether preempt_disable's counter is currently zero.
func (p *PerCPU) Preemptible() bool {
	return p.PreemptDepth.Load() == 0
}

// IRQSave models cli: increments the IRQ-disable depth and reports
// whether this call is the one that actually disabled interrupts (depth
// was zero beforehand), mirroring local_irq_save's semantics without a
// real interrupt flag to save.
func (p *PerCPU) IRQSave() bool {
	return p.IRQDepth.Add(1) == 1
}

// IRQRestore models sti, undoing one IRQSave.
func (p *PerCPU) IRQRestore() {
	p.IRQDepth.Add(-1)
}

// popZeroed pops a pre-zeroed frame from the cache, or returns nil if
// empty (the caller falls back to zeroing a fresh allocation inline).
func (p *PerCPU) popZeroed() *Frame {
	f, ok := p.ZeroedCache.PopBack()
	if !ok {
		return nil
	}
	return f
}

// RefillZeroed tops up p's pre-zeroed cache from fa up to
// zeroedCacheDepth, zeroing each frame's backing bytes in the arena.
func (p *PerCPU) RefillZeroed(fa *FrameAllocator, flags AllocFlags) {
	for p.ZeroedCache.Len() < zeroedCacheDepth {
		f, err := fa.AllocPages(flags, 0)
		if err != nil {
			return
		}
		bytes := fa.FrameBytes(f)
		for i := range bytes {
			bytes[i] = 0
		}
		p.ZeroedCache.PushBack(f)
	}
}
