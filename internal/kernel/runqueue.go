package kernel

import "sync"

// RunQueue is the per-CPU container for runnable tasks (spec.md §3): a
// spinlock, the three policy sub-runqueues, the class chain, and the
// bookkeeping the dispatcher and load balancer consult.
type RunQueue struct {
	Lock sync.Mutex

	CPUID    int
	Capacity int // relative CPU capacity, for hybrid big.LITTLE asymmetry

	Current  *Task
	IdleTask *Task

	Classes *SchedClass // head of the dl -> rt -> fair -> idle chain

	Fair *CFSRunQueue
	RT   *RTRunQueue
	DL   *DLRunQueue

	NrRunning     int
	NrSwitches    uint64
	NrMigrations  uint64
	NrLoadBalance uint64

	Clock uint64 // monotonic tick counter, advanced by the timer tick

	Domain *SchedDomain // bottom-level scheduling domain this CPU belongs to

	NeedResched bool
}

// NewRunQueue builds an empty per-CPU runqueue with its own class chain
// instance — every CPU gets independent CFS/RT/DL sub-runqueues, but the
// SchedClass function tables themselves hold no per-CPU state so they
// could in principle be shared; a fresh chain per CPU keeps the ownership
// story simple and matches the teacher's "no singletons, arena indexed by
// logical CPU id" design note.
func NewRunQueue(cpuID, capacity int) *RunQueue {
	return &RunQueue{
		CPUID:    cpuID,
		Capacity: capacity,
		Classes:  ClassChain(),
		Fair:     newCFSRunQueue(),
		RT:       newRTRunQueue(),
		DL:       newDLRunQueue(),
	}
}

// enqueue adds t to the class-appropriate sub-runqueue and updates
// nr_running, resolving t.Policy to its class with classFor.
func (rq *RunQueue) enqueue(t *Task) {
	c := rq.classFor(t)
	t.Class = c
	c.EnqueueTask(rq, t)
	t.OnRQ = true
	rq.NrRunning++
}

func (rq *RunQueue) dequeue(t *Task) {
	if t.Class != nil {
		t.Class.DequeueTask(rq, t)
	}
	t.OnRQ = false
	rq.NrRunning--
}

// classFor resolves t's policy to the matching link in this runqueue's
// class chain.
func (rq *RunQueue) classFor(t *Task) *SchedClass {
	for c := rq.Classes; c != nil; c = c.Next {
		switch {
		case c.Name == "deadline" && t.Policy == PolicyDeadline:
			return c
		case c.Name == "rt" && (t.Policy == PolicyFIFO || t.Policy == PolicyRR):
			return c
		case c.Name == "fair" && t.Policy == PolicyFair:
			return c
		case c.Name == "idle" && t.Policy == PolicyIdle:
			return c
		}
	}
	return rq.Classes // unreachable in practice; dl is always first
}
