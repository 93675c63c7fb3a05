package kernel

import (
	"github.com/vireo-os/vireo/internal/kcollections"
	"github.com/vireo-os/vireo/internal/kerrors"
)

// DLEntity is the deadline scheduler-entity substate (SCHED_DEADLINE):
// a runtime budget replenished every period, and an absolute deadline
// the EDF tree orders on.
type DLEntity struct {
	Runtime         uint64 // budget per period, in ticks
	Period          uint64
	AbsoluteDeadline uint64
	BudgetRemaining int64
	seq             uint64
}

type dlKey struct {
	deadline uint64
	seq      uint64
}

func compareDLKey(a, b dlKey) int {
	if a.deadline != b.deadline {
		if a.deadline < b.deadline {
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

// DLRunQueue is the deadline sub-runqueue: an EDF tree plus the running
// utilization sum admission control checks against.
type DLRunQueue struct {
	tree           *kcollections.RedBlackTree[dlKey, *Task]
	nrRunning      int
	nextSeq        uint64
	utilizationSum float64
}

func newDLRunQueue() *DLRunQueue {
	return &DLRunQueue{tree: kcollections.NewRedBlackTree[dlKey, *Task](compareDLKey)}
}

// Admit accepts a new deadline task onto this runqueue only if adding
// runtime/period keeps the summed utilization at or below 1, per spec.md
// §4.E and invariant 6.
func (dl *DLRunQueue) Admit(cpu int, runtime, period uint64) error {
	util := float64(runtime) / float64(period)
	if dl.utilizationSum+util > 1.0 {
		return kerrors.AdmissionRejected(cpu, dl.utilizationSum+util)
	}
	dl.utilizationSum += util
	return nil
}

// Release gives back the utilization a task held, called from task_dead
// or a policy switch away from deadline.
func (dl *DLRunQueue) Release(runtime, period uint64) {
	dl.utilizationSum -= float64(runtime) / float64(period)
	if dl.utilizationSum < 0 {
		dl.utilizationSum = 0
	}
}

func (dl *DLRunQueue) enqueue(t *Task) {
	e := t.DL
	e.seq = dl.nextSeq
	dl.nextSeq++
	dl.tree.Insert(dlKey{e.AbsoluteDeadline, e.seq}, t)
	dl.nrRunning++
}

func (dl *DLRunQueue) dequeue(t *Task) {
	dl.tree.Delete(dlKey{t.DL.AbsoluteDeadline, t.DL.seq})
	dl.nrRunning--
}

func (dl *DLRunQueue) pickEarliest() *Task {
	_, v, ok := dl.tree.Min()
	if !ok {
		return nil
	}
	return v
}

func newDeadlineClass() *SchedClass {
	return &SchedClass{
		Name: "deadline",

		EnqueueTask: func(rq *RunQueue, t *Task) {
			rq.DL.enqueue(t)
		},
		DequeueTask: func(rq *RunQueue, t *Task) {
			rq.DL.dequeue(t)
		},
		YieldTask: func(rq *RunQueue) {},
		CheckPreemptCurr: func(rq *RunQueue, t *Task) {
			if rq.Current == nil || rq.Current.DL == nil {
				rq.NeedResched = true
				return
			}
			if t.DL != nil && t.DL.AbsoluteDeadline < rq.Current.DL.AbsoluteDeadline {
				rq.NeedResched = true
			}
		},
		PickNextTask: func(rq *RunQueue) *Task {
			return rq.DL.pickEarliest()
		},
		PutPrevTask: func(rq *RunQueue, t *Task) {},
		SetNextTask: func(rq *RunQueue, t *Task) {},
		TaskTick: func(rq *RunQueue, t *Task) {
			if t.DL == nil {
				return
			}
			t.DL.BudgetRemaining--
			if t.DL.BudgetRemaining <= 0 {
				// Budget exhausted: the task is not throttled. Its
				// deadline moves forward one period, its budget is
				// refilled at once, and it is re-sorted in the tree.
				rq.DL.dequeue(t)
				t.DL.AbsoluteDeadline += t.DL.Period
				t.DL.BudgetRemaining = int64(t.DL.Runtime)
				rq.DL.enqueue(t)
				rq.NeedResched = true
			}
		},
		TaskFork: func(t *Task) {},
		TaskDead: func(t *Task) {
			if t.DL != nil {
				// task_dead only clears class-private state; the task's
				// admitted utilization is not released by this hook or
				// by any caller in this package.
				t.DL = nil
			}
		},
		SwitchedFrom: func(rq *RunQueue, t *Task) {},
		SwitchedTo:   func(rq *RunQueue, t *Task) {},
		PrioChanged:  func(rq *RunQueue, t *Task, oldPrio int) {},
		SelectTaskRQ: func(t *Task) int {
			return t.CPU
		},
		MigrateTaskRQ: func(t *Task) {},
		UpdateCurr:    func(rq *RunQueue) {},
	}
}
