package kernel

import (
	"context"
	"testing"
)

// newTestFrameAllocator builds a single-node FrameAllocator with enough
// usable memory for page-table and COW tests: 4096 pages (16 MiB),
// comfortably more than the handful of tables and leaf frames any one
// test allocates.
func newTestFrameAllocator(t *testing.T) *FrameAllocator {
	t.Helper()

	const pages = 4096
	boot := BootInfo{
		MemoryMap: []MemoryMapEntry{
			{Base: 0, Length: pages * PageSize, Type: MemoryUsable, NodeID: 0},
		},
	}
	fa, err := NewFrameAllocator(context.Background(), boot, 1)
	if err != nil {
		t.Fatalf("NewFrameAllocator: %v", err)
	}
	return fa
}

// newTestDispatcher builds a Dispatcher over numCPUs runqueues, backed by
// a small real frame allocator and PID space, with sink as the panic
// collaborator.
func newTestDispatcher(t *testing.T, numCPUs int, sink PanicSink) *Dispatcher {
	t.Helper()
	fa := newTestFrameAllocator(t)
	pids := NewPIDAllocator(4096)
	return NewDispatcher(numCPUs, fa, pids, sink)
}

// spawnFairTask builds a runnable fair-policy task with the given nice
// value and places it on cpuID's runqueue via normal wake-up-new-task.
func spawnFairTask(t *testing.T, d *Dispatcher, pid uint32, nice int8, cpuID int) *Task {
	t.Helper()
	tsk := newTaskHeader(pid, "t", PolicyFair, nice)
	tsk.Fair = &FairEntity{Weight: niceToWeightOf(nice)}
	tsk.CPU = cpuID
	tsk.AffinityMask = ^uint64(0)
	d.WakeUpNewTask(tsk)
	return tsk
}

// newTestPageTableEngine returns a 4-level engine, its backing frame
// allocator, and a freshly allocated, zeroed root table frame.
func newTestPageTableEngine(t *testing.T) (*PageTableEngine, *FrameAllocator, *Frame) {
	t.Helper()
	fa := newTestFrameAllocator(t)
	engine := NewPageTableEngine(fa, 4, NewInterruptManager())
	root, err := engine.allocTable()
	if err != nil {
		t.Fatalf("allocTable: %v", err)
	}
	return engine, fa, root
}
