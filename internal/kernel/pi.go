package kernel

import "sync"

// Mutex is a priority-inheritance-capable kernel lock (spec.md §5): a
// contended acquire registers the waiter on the owner's PIWaiters list
// and boosts the owner's effective priority, propagating transitively
// through any lock the owner is itself blocked on.
type Mutex struct {
	gate  sync.Mutex // guards owner/wait-list fields below
	owner *Task
}

// NewMutex returns an unlocked PI mutex.
func NewMutex() *Mutex {
	return &Mutex{}
}

// Lock acquires m for t, boosting along the ownership chain if m is
// already held. d is needed because a boost that pushes t's priority
// into the RT range requires a full dequeue/reclassify/re-enqueue of the
// current owner under its runqueue's lock.
func (m *Mutex) Lock(d *Dispatcher, t *Task) {
	m.gate.Lock()
	if m.owner == nil {
		m.owner = t
		m.gate.Unlock()
		return
	}
	owner := m.owner
	m.gate.Unlock()

	t.piMu.Lock()
	t.BlockedOn = m
	t.piMu.Unlock()

	addWaiter(owner, t)
	propagateBoost(d, owner)

	for {
		m.gate.Lock()
		if m.owner == nil {
			m.owner = t
			m.gate.Unlock()
			break
		}
		m.gate.Unlock()
		d.TaskSleep(t)
	}

	t.piMu.Lock()
	t.BlockedOn = nil
	t.piMu.Unlock()
	removeWaiter(owner, t)
	propagateRestore(d, owner)
}

// Unlock releases m and wakes every task on t's PI-waiter list, highest
// priority first, through the wake queue. t's priority is recomputed
// here, but the boost holds while those waiters are still on its list;
// it drops as each waiter removes itself after acquiring m.
func (m *Mutex) Unlock(d *Dispatcher, t *Task) {
	m.gate.Lock()
	m.owner = nil
	m.gate.Unlock()

	propagateRestore(d, t)

	t.piMu.Lock()
	waiters := append([]*Task(nil), t.PIWaiters...)
	t.piMu.Unlock()
	for _, w := range waiters {
		d.QueueWake(w)
	}
	d.FlushWakeQueue()
}

// addWaiter inserts w into owner's PIWaiters, kept sorted highest
// effective-priority first (invariant: PIWaiters[0] is always the
// current top waiter).
func addWaiter(owner, w *Task) {
	owner.piMu.Lock()
	defer owner.piMu.Unlock()

	prio := w.EffectivePrio()
	i := 0
	for ; i < len(owner.PIWaiters); i++ {
		if owner.PIWaiters[i].EffectivePrio() > prio {
			break
		}
	}
	owner.PIWaiters = append(owner.PIWaiters, nil)
	copy(owner.PIWaiters[i+1:], owner.PIWaiters[i:])
	owner.PIWaiters[i] = w
}

// removeWaiter deletes w from owner's PIWaiters, preserving order.
func removeWaiter(owner, w *Task) {
	owner.piMu.Lock()
	defer owner.piMu.Unlock()
	for i, cand := range owner.PIWaiters {
		if cand == w {
			owner.PIWaiters = append(owner.PIWaiters[:i], owner.PIWaiters[i+1:]...)
			return
		}
	}
}

// propagateBoost recomputes owner's effective priority and, if it
// changed, applies it and follows owner.BlockedOn to re-sort that lock's
// waiter list and recurse — the transitive chain of spec.md §5's PI
// description. Each task is visited at most once per call because the
// chain can only get shorter (BlockedOn forms a simple chain, never a
// cycle, since a task cannot block on a lock it itself holds).
func propagateBoost(d *Dispatcher, owner *Task) {
	for owner != nil {
		owner.piMu.Lock()
		newPrio := owner.effectivePrioLocked()
		changed := newPrio != owner.Prio
		owner.Prio = newPrio
		blockedOn := owner.BlockedOn
		owner.piMu.Unlock()

		if !changed {
			return
		}

		applyBoostClassSwitch(d, owner)

		if blockedOn == nil {
			return
		}
		blockedOn.gate.Lock()
		nextOwner := blockedOn.owner
		blockedOn.gate.Unlock()
		if nextOwner == nil || nextOwner == owner {
			return
		}
		resortWaiter(nextOwner, owner)
		owner = nextOwner
	}
}

// propagateRestore recomputes t's effective priority after it stops
// waiting on something or releases a lock, reversing a boost if t no
// longer has a waiter pushing it above its normal priority.
func propagateRestore(d *Dispatcher, t *Task) {
	t.piMu.Lock()
	newPrio := t.effectivePrioLocked()
	changed := newPrio != t.Prio
	t.Prio = newPrio
	t.piMu.Unlock()

	if changed {
		applyBoostClassSwitch(d, t)
	}
}

// resortWaiter re-inserts w into owner.PIWaiters at its (possibly new)
// priority position after w's own priority changed.
func resortWaiter(owner, w *Task) {
	removeWaiter(owner, w)
	addWaiter(owner, w)
}

// applyBoostClassSwitch implements the genuine class switch a boost into
// the RT priority range requires: a normally-fair task whose Prio has
// crossed below 100 (spec.md's RT range is 0-99, fair is 100-139 via
// StaticPrio = 120+nice) is dequeued from the fair class, reclassified
// PolicyFIFO with a fresh RTEntity at its boosted level, and re-enqueued
// — without discarding its FairEntity, which restore reverses by
// re-arming the original policy and re-enqueuing into fair.
func applyBoostClassSwitch(d *Dispatcher, t *Task) {
	rq := d.rqFor(t)
	rq.Lock.Lock()
	defer rq.Lock.Unlock()

	wasOnRQ := t.OnRQ
	boostedNow := t.Prio < 100 && t.Policy == PolicyFair

	switch {
	case boostedNow && !t.boosted:
		if wasOnRQ {
			rq.dequeue(t)
		}
		t.boosted = true
		t.savedPolicy = t.Policy
		t.Policy = PolicyFIFO
		t.RT = &RTEntity{PrioLevel: t.Prio, TimeSliceRemaining: rtTimeSlice}
		if wasOnRQ {
			rq.enqueue(t)
		}
	case !boostedNow && t.boosted:
		if wasOnRQ {
			rq.dequeue(t)
		}
		t.boosted = false
		t.Policy = t.savedPolicy
		t.RT = nil
		if wasOnRQ {
			rq.enqueue(t)
		}
	case t.boosted:
		// still boosted, but the RT level itself shifted (e.g. a second,
		// higher-priority waiter arrived): update PrioLevel in place.
		if t.RT != nil {
			t.RT.PrioLevel = t.Prio
		}
	}
}
