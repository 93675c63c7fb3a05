package kernel

import "github.com/vireo-os/vireo/internal/kcollections"

const (
	rtPriorityLevels = 100
	rtTimeSlice      = 4 // ticks per round-robin quantum
	rtPeriodTicks    = 1000
	rtRuntimeCap     = 950 // rt_runtime: RT may consume at most 95% of a period
)

// RTEntity is the real-time scheduler-entity substate: a priority level
// and, for round-robin, a time-slice remainder. List linkage is intrusive
// (prev/next embedded here) rather than a general-purpose deque, because
// a task can be dequeued from the middle of its priority level (blocking
// on a mutex while not at the head) and an intrusive doubly-linked list
// gives that O(1) without the deque's lack of arbitrary-position removal.
type RTEntity struct {
	PrioLevel          int
	TimeSliceRemaining int
	prev, next         *Task
}

type rtList struct {
	head, tail *Task
}

func (l *rtList) pushBack(t *Task) {
	t.RT.prev, t.RT.next = l.tail, nil
	if l.tail != nil {
		l.tail.RT.next = t
	} else {
		l.head = t
	}
	l.tail = t
}

func (l *rtList) remove(t *Task) {
	if t.RT.prev != nil {
		t.RT.prev.RT.next = t.RT.next
	} else {
		l.head = t.RT.next
	}
	if t.RT.next != nil {
		t.RT.next.RT.prev = t.RT.prev
	} else {
		l.tail = t.RT.prev
	}
	t.RT.prev, t.RT.next = nil, nil
}

// RTRunQueue is the real-time sub-runqueue: 100 FIFO lists indexed by
// priority, accelerated by a bitmap for O(1) highest-priority lookup, and
// a per-period runtime cap that leaves CPU headroom for fair tasks.
type RTRunQueue struct {
	lists     [rtPriorityLevels]rtList
	bitmap    *kcollections.Bitmap
	nrRunning int

	periodStart uint64
	runtimeUsed int64
	throttled   bool
}

func newRTRunQueue() *RTRunQueue {
	return &RTRunQueue{bitmap: kcollections.NewBitmap(rtPriorityLevels)}
}

func (rt *RTRunQueue) enqueue(t *Task) {
	lvl := t.RT.PrioLevel
	rt.lists[lvl].pushBack(t)
	rt.bitmap.Set(lvl)
	rt.nrRunning++
}

func (rt *RTRunQueue) dequeue(t *Task) {
	lvl := t.RT.PrioLevel
	rt.lists[lvl].remove(t)
	if rt.lists[lvl].head == nil {
		rt.bitmap.Clear(lvl)
	}
	rt.nrRunning--
}

// pickHighest returns the head of the lowest occupied priority level
// (numerically smaller RT priorities preempt larger ones) without
// removing it, or nil if the class is throttled or empty.
func (rt *RTRunQueue) pickHighest() *Task {
	if rt.throttled {
		return nil
	}
	lvl, ok := rt.bitmap.Lowest()
	if !ok {
		return nil
	}
	return rt.lists[lvl].head
}

func newRTClass() *SchedClass {
	return &SchedClass{
		Name: "rt",

		EnqueueTask: func(rq *RunQueue, t *Task) {
			rq.RT.enqueue(t)
		},
		DequeueTask: func(rq *RunQueue, t *Task) {
			rq.RT.dequeue(t)
		},
		YieldTask: func(rq *RunQueue) {
			if rq.Current != nil && rq.Current.RT != nil {
				lvl := rq.Current.RT.PrioLevel
				rq.RT.lists[lvl].remove(rq.Current)
				rq.RT.lists[lvl].pushBack(rq.Current)
			}
		},
		CheckPreemptCurr: func(rq *RunQueue, t *Task) {
			if t.RT == nil {
				return
			}
			if rq.Current == nil || rq.Current.RT == nil {
				rq.NeedResched = true
				return
			}
			if t.RT.PrioLevel < rq.Current.RT.PrioLevel {
				rq.NeedResched = true
			}
		},
		PickNextTask: func(rq *RunQueue) *Task {
			return rq.RT.pickHighest()
		},
		PutPrevTask: func(rq *RunQueue, t *Task) {},
		SetNextTask: func(rq *RunQueue, t *Task) {
			if t.RT != nil && t.RT.TimeSliceRemaining == 0 {
				t.RT.TimeSliceRemaining = rtTimeSlice
			}
		},
		TaskTick: func(rq *RunQueue, t *Task) {
			if t.RT == nil {
				return
			}
			rq.RT.runtimeUsed++
			if rq.Clock-rq.RT.periodStart >= rtPeriodTicks {
				rq.RT.periodStart = rq.Clock
				rq.RT.runtimeUsed = 0
				rq.RT.throttled = false
			}
			if rq.RT.runtimeUsed >= rtRuntimeCap {
				rq.RT.throttled = true
				rq.NeedResched = true
			}
			if t.Policy != PolicyRR {
				return
			}
			t.RT.TimeSliceRemaining--
			if t.RT.TimeSliceRemaining <= 0 {
				t.RT.TimeSliceRemaining = rtTimeSlice
				lvl := t.RT.PrioLevel
				rq.RT.lists[lvl].remove(t)
				rq.RT.lists[lvl].pushBack(t)
				rq.NeedResched = true
			}
		},
		TaskFork: func(t *Task) {},
		TaskDead: func(t *Task) {},
		SwitchedFrom: func(rq *RunQueue, t *Task) {},
		SwitchedTo: func(rq *RunQueue, t *Task) {
			if t.RT == nil {
				t.RT = &RTEntity{PrioLevel: 50, TimeSliceRemaining: rtTimeSlice}
			}
		},
		PrioChanged: func(rq *RunQueue, t *Task, oldPrio int) {
			if t.RT == nil || oldPrio == t.RT.PrioLevel {
				return
			}
			rq.RT.dequeue(t)
			t.RT.PrioLevel = t.Prio
			rq.RT.enqueue(t)
		},
		SelectTaskRQ: func(t *Task) int {
			return t.CPU
		},
		MigrateTaskRQ: func(t *Task) {},
		UpdateCurr:    func(rq *RunQueue) {},
	}
}
