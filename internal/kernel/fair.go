package kernel

import (
	"math/bits"

	"github.com/vireo-os/vireo/internal/kcollections"
)

// niceToWeight is the 40-entry nice-to-weight table (nice -20..19 at
// indices 0..39); nice 0 sits at index 20 and carries weight 1024 (W0).
// Each step is roughly a 1.25x multiplier, the same table every CFS-style
// scheduler ships.
var niceToWeight = [40]uint64{
	/* -20 */ 88761, 71755, 56483, 46273, 36291,
	/* -15 */ 29154, 23254, 18705, 14949, 11916,
	/* -10 */ 9548, 7620, 6100, 4904, 3906,
	/* -5 */ 3121, 2501, 1991, 1586, 1277,
	/*   0 */ 1024, 820, 655, 526, 423,
	/*   5 */ 335, 272, 215, 172, 137,
	/*  10 */ 110, 87, 70, 56, 45,
	/*  15 */ 36, 29, 23, 18, 15,
}

// W0 is the load weight of a nice-0 task.
const W0 uint64 = 1024

func niceToWeightOf(nice int8) uint64 {
	idx := int(nice) + 20
	if idx < 0 {
		idx = 0
	}
	if idx > 39 {
		idx = 39
	}
	return niceToWeight[idx]
}

// calcDeltaFair computes Δvruntime = Δexec * W0 / weight using a 128-bit
// intermediate product so large Δexec values never overflow before the
// division, per spec.md §4.E.
func calcDeltaFair(execDelta uint64, weight uint64) uint64 {
	if weight == 0 {
		weight = 1
	}
	hi, lo := bits.Mul64(execDelta, W0)
	if hi >= weight {
		// Deltas this large never occur in practice (would mean a single
		// tick recorded more nanoseconds than the weight could divide
		// without overflow); clamp rather than let Div64 panic.
		return ^uint64(0)
	}
	q, _ := bits.Div64(hi, lo, weight)
	return q
}

// FairEntity is the CFS-style scheduler-entity substate (spec.md §3).
type FairEntity struct {
	Vruntime  uint64
	ExecStart uint64
	Weight    uint64
	OnRQ      bool
	seq       uint64
}

type fairKey struct {
	vruntime uint64
	seq      uint64
}

func compareFairKey(a, b fairKey) int {
	if a.vruntime != b.vruntime {
		if a.vruntime < b.vruntime {
			return -1
		}
		return 1
	}
	if a.seq != b.seq {
		if a.seq < b.seq {
			return -1
		}
		return 1
	}
	return 0
}

// CFSRunQueue is the fair sub-runqueue: a red-black tree keyed by
// vruntime, a cached leftmost, and a monotonic min_vruntime.
type CFSRunQueue struct {
	tree        *kcollections.RedBlackTree[fairKey, *Task]
	minVruntime uint64
	nrRunning   int
	nextSeq     uint64
}

func newCFSRunQueue() *CFSRunQueue {
	return &CFSRunQueue{
		tree: kcollections.NewRedBlackTree[fairKey, *Task](compareFairKey),
	}
}

// enqueue places t at max(t.Fair.Vruntime, min_vruntime) to prevent both
// starvation (an old, low-vruntime task monopolizing the CPU) and
// monopolization after a long sleep.
func (cfs *CFSRunQueue) enqueue(t *Task) {
	fe := t.Fair
	if fe.Vruntime < cfs.minVruntime {
		fe.Vruntime = cfs.minVruntime
	}
	fe.seq = cfs.nextSeq
	cfs.nextSeq++
	cfs.tree.Insert(fairKey{fe.Vruntime, fe.seq}, t)
	fe.OnRQ = true
	cfs.nrRunning++
	cfs.updateMinVruntime()
}

// dequeue removes t and, if it carries vruntime, normalizes it relative
// to min_vruntime so a subsequent enqueue elsewhere can de-normalize
// against the target runqueue's own min_vruntime.
func (cfs *CFSRunQueue) dequeue(t *Task) {
	fe := t.Fair
	cfs.tree.Delete(fairKey{fe.Vruntime, fe.seq})
	fe.OnRQ = false
	cfs.nrRunning--
	fe.Vruntime -= cfs.minVruntime // normalize
	cfs.updateMinVruntime()
}

// denormalize adds the target runqueue's min_vruntime back, the
// counterpart to dequeue's normalization, used when migrating a task
// between CPUs.
func (cfs *CFSRunQueue) denormalize(t *Task) {
	t.Fair.Vruntime += cfs.minVruntime
}

// pickLeftmost returns the task with the smallest vruntime without
// removing it — the cached-leftmost pick of spec.md §4.E.
func (cfs *CFSRunQueue) pickLeftmost() *Task {
	_, v, ok := cfs.tree.Min()
	if !ok {
		return nil
	}
	return v
}

// updateMinVruntime enforces invariant 1: min_vruntime is
// monotonic-non-decreasing. It is raised to the smallest key in the tree
// when that key is larger; the running task's live vruntime, which can
// have advanced past its tree key, is not consulted.
func (cfs *CFSRunQueue) updateMinVruntime() {
	k, _, ok := cfs.tree.Min()
	if !ok {
		return
	}
	if k.vruntime > cfs.minVruntime {
		cfs.minVruntime = k.vruntime
	}
}

func newFairClass() *SchedClass {
	return &SchedClass{
		Name: "fair",

		EnqueueTask: func(rq *RunQueue, t *Task) {
			rq.Fair.enqueue(t)
		},
		DequeueTask: func(rq *RunQueue, t *Task) {
			rq.Fair.dequeue(t)
		},
		YieldTask: func(rq *RunQueue) {
			if rq.Current != nil && rq.Current.Fair != nil {
				// Voluntary yield: push vruntime to the current max so
				// some other task is picked next.
				if k, _, ok := rq.Fair.tree.Min(); ok {
					rq.Current.Fair.Vruntime = k.vruntime + 1
				}
			}
		},
		CheckPreemptCurr: func(rq *RunQueue, t *Task) {
			if rq.Current == nil || rq.Current.Fair == nil {
				rq.NeedResched = true
				return
			}
			if t.Fair != nil && t.Fair.Vruntime < rq.Current.Fair.Vruntime {
				rq.NeedResched = true
			}
		},
		PickNextTask: func(rq *RunQueue) *Task {
			return rq.Fair.pickLeftmost()
		},
		PutPrevTask: func(rq *RunQueue, t *Task) {},
		SetNextTask: func(rq *RunQueue, t *Task) {
			if t.Fair != nil {
				t.Fair.ExecStart = rq.Clock
			}
		},
		TaskTick: func(rq *RunQueue, t *Task) {
			updateCurrFair(rq, t)
			// Re-insert the current task if its vruntime has advanced
			// past the leftmost sibling.
			if leftmost := rq.Fair.pickLeftmost(); leftmost != nil && leftmost != t {
				if t.Fair.Vruntime > leftmost.Fair.Vruntime {
					rq.NeedResched = true
				}
			}
		},
		TaskFork: func(t *Task) {},
		TaskDead: func(t *Task) {},
		SwitchedFrom: func(rq *RunQueue, t *Task) {},
		SwitchedTo: func(rq *RunQueue, t *Task) {
			if t.Fair == nil {
				t.Fair = &FairEntity{Weight: niceToWeightOf(t.Nice)}
			}
		},
		PrioChanged: func(rq *RunQueue, t *Task, oldPrio int) {
			t.Fair.Weight = niceToWeightOf(t.Nice)
		},
		SelectTaskRQ: func(t *Task) int {
			return t.CPU
		},
		MigrateTaskRQ: func(t *Task) {},
		UpdateCurr: func(rq *RunQueue) {
			if rq.Current != nil {
				updateCurrFair(rq, rq.Current)
			}
		},
	}
}

// updateCurrFair advances the current task's vruntime accounting by the
// elapsed exec time scaled by its load weight.
func updateCurrFair(rq *RunQueue, t *Task) {
	if t.Fair == nil {
		return
	}
	delta := rq.Clock - t.Fair.ExecStart
	if delta == 0 {
		return
	}
	t.Fair.ExecStart = rq.Clock
	t.Fair.Vruntime += calcDeltaFair(delta, t.Fair.Weight)
}
