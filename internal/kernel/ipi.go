package kernel

import (
	"sync"

	"github.com/vireo-os/vireo/internal/kcollections"
)

// InterruptManager is a narrow stand-in for the vector table the teacher's
// deleted interrupt.go used to model: this core only needs the reschedule
// IPI (to pull a remote CPU out of idle or preempt it) and TLB shootdown
// (ipi.go / tlb.go), not a full 256-entry handler table.
type InterruptManager struct {
	reschedule *kcollections.Map[int, func()]

	mu         sync.Mutex
	pendingTLB map[int][]func()
}

// NewInterruptManager builds an empty handler table.
func NewInterruptManager() *InterruptManager {
	return &InterruptManager{
		reschedule: kcollections.NewMap[int, func()](0),
		pendingTLB: make(map[int][]func()),
	}
}

// RegisterReschedule installs cpuID's reschedule-vector handler.
func (im *InterruptManager) RegisterReschedule(cpuID int, handler func()) {
	im.reschedule.Put(cpuID, handler)
}

// SendReschedule delivers the reschedule IPI to cpuID synchronously. Real
// hardware would post the vector and return immediately, relying on the
// remote CPU's own interrupt epilogue to call schedule(); the hosted model
// has no independent execution context per CPU to interrupt, so the
// handler runs inline on the sender.
func (im *InterruptManager) SendReschedule(cpuID int) {
	if h, ok := im.reschedule.Get(cpuID); ok && h != nil {
		h()
	}
}

// rescheduleHandler returns the closure installed for cpuID: mark
// need_resched and run schedule() on that runqueue.
func (d *Dispatcher) rescheduleHandler(cpuID int) func() {
	return func() {
		rq := d.RunQueues[cpuID]
		rq.Lock.Lock()
		rq.NeedResched = true
		rq.Lock.Unlock()
		d.Schedule(cpuID)
	}
}

// QueueTLBShootdown records a pending TLB invalidation callback for
// cpuID, to be run by the next FlushTLBShootdowns(cpuID) call. tlb.go's
// Gather queues one per target CPU and then flushes them itself.
func (im *InterruptManager) QueueTLBShootdown(cpuID int, invalidate func()) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.pendingTLB[cpuID] = append(im.pendingTLB[cpuID], invalidate)
}

// FlushTLBShootdowns runs and clears cpuID's queued invalidations;
// Gather.Flush calls it for each target CPU right after queueing.
func (im *InterruptManager) FlushTLBShootdowns(cpuID int) {
	im.mu.Lock()
	fns := im.pendingTLB[cpuID]
	im.pendingTLB[cpuID] = nil
	im.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
