package kernel

import (
	"github.com/vireo-os/vireo/internal/concurrency"
	"github.com/vireo-os/vireo/internal/kerrors"
)

// Dispatcher owns the per-CPU runqueue arena and drives schedule(),
// wake-up, and tick handling — the core dispatcher of spec.md §4.F.
type Dispatcher struct {
	RunQueues []*RunQueue
	PerCPU    *PerCPUArena
	Frames    *FrameAllocator
	PIDs      *PIDAllocator
	Interrupt *InterruptManager
	Sink      PanicSink

	// wakeQueue batches tasks to wake after a lock is dropped, the same
	// deferred-wake trick Linux's wake_q uses to avoid taking a second
	// runqueue lock while still holding the one that produced the wakeup.
	wakeQueue *concurrency.MPMCQueue[*Task]
}

// NewDispatcher builds a Dispatcher with one runqueue per CPU, each
// carrying its own idle task.
func NewDispatcher(numCPUs int, frames *FrameAllocator, pids *PIDAllocator, sink PanicSink) *Dispatcher {
	d := &Dispatcher{
		RunQueues: make([]*RunQueue, numCPUs),
		PerCPU:    NewPerCPUArena(numCPUs),
		Frames:    frames,
		PIDs:      pids,
		Interrupt: NewInterruptManager(),
		Sink:      sink,
		wakeQueue: concurrency.NewMPMCQueue[*Task](256),
	}
	for i := 0; i < numCPUs; i++ {
		rq := NewRunQueue(i, 1)
		idle := newTaskHeader(0, "idle", PolicyIdle, 0)
		idle.CPU = i
		idle.State = TaskRunning
		rq.IdleTask = idle
		rq.Current = idle
		d.RunQueues[i] = rq
		d.Interrupt.RegisterReschedule(i, d.rescheduleHandler(i))
	}
	return d
}

// rqFor returns the runqueue owning t's current CPU assignment.
func (d *Dispatcher) rqFor(t *Task) *RunQueue {
	return d.RunQueues[t.CPU]
}

// lockTwo acquires two runqueue locks in ascending CPU-id order, the
// hosted-model stand-in for "ascending address order" since Go runqueues
// have no stable pointer ordering guarantee worth relying on. Always
// acquiring the lower id first prevents the classic two-rq deadlock.
func lockTwo(a, b *RunQueue) {
	if a.CPUID == b.CPUID {
		a.Lock.Lock()
		return
	}
	if a.CPUID < b.CPUID {
		a.Lock.Lock()
		b.Lock.Lock()
	} else {
		b.Lock.Lock()
		a.Lock.Lock()
	}
}

func unlockTwo(a, b *RunQueue) {
	if a.CPUID == b.CPUID {
		a.Lock.Unlock()
		return
	}
	a.Lock.Unlock()
	b.Lock.Unlock()
}

// Schedule implements the schedule() algorithm of spec.md §4.F. It
// returns without switching while cpuID's preemption-disable counter is
// non-zero.
func (d *Dispatcher) Schedule(cpuID int) {
	if !d.PerCPU.Slots[cpuID].Preemptible() {
		return
	}
	rq := d.RunQueues[cpuID]
	rq.Lock.Lock()

	prev := rq.Current
	if prev != nil && prev.Class != nil {
		prev.Class.UpdateCurr(rq)
		prev.Class.PutPrevTask(rq, prev)
	}

	var next *Task
	if prev != nil && prev.DirectSuccessor != nil &&
		prev.DirectSuccessor.CPU == cpuID && prev.DirectSuccessor.State == TaskRunning {
		next = prev.DirectSuccessor
		prev.DirectSuccessor = nil
	} else {
		next = pickNextTask(rq)
	}

	if next == rq.IdleTask && rq.NrRunning == 0 {
		rq.Lock.Unlock()
		d.idleBalance(cpuID)
		rq.Lock.Lock()
		if alt := pickNextTask(rq); alt != nil {
			next = alt
		}
	}

	if next == nil {
		rq.Lock.Unlock()
		d.noRunnableTaskInvariant(cpuID)
		return
	}

	if next != prev {
		d.contextSwitch(rq, prev, next)
	}

	rq.NeedResched = false
	rq.Lock.Unlock()

	if prev != nil && (prev.State == TaskZombie || prev.State == TaskDead) {
		d.reap(prev)
	}
}

// contextSwitch performs the visible effects of switching rq->curr from
// prev to next: address-space switch, FPU save, and class bookkeeping.
// The register switch and TSS update have no hosted-model equivalent
// (there is no real stack or instruction pointer to save); NrSwitches
// still counts every switch so the rest of the core can observe it.
func (d *Dispatcher) contextSwitch(rq *RunQueue, prev, next *Task) {
	if prev != nil && prev.FPUUsed && prev.FPU != nil {
		_ = prev.FPU.Save()
	}

	if next.AddrSpace != nil && (prev == nil || next.AddrSpace != prev.ActiveAddrSpace) {
		next.ActiveAddrSpace = next.AddrSpace
	} else if prev != nil {
		next.ActiveAddrSpace = prev.ActiveAddrSpace
	}

	rq.Current = next
	if next.Class != nil {
		next.Class.SetNextTask(rq, next)
	}
	rq.NrSwitches++

	ev := SwitchEvent{Tick: rq.Clock, ToPID: next.PID, ToComm: next.Comm}
	if prev != nil {
		ev.FromPID = prev.PID
		ev.FromComm = prev.Comm
	}
	d.PerCPU.Slots[rq.CPUID].RecordSwitch(ev)
}

// reap frees a ZOMBIE/DEAD task's PID. Spec.md §9's "Manual memory
// management" note: a task never frees itself, because its kernel stack
// is still in use at exit; only the successor that displaced it may do
// so, which in this synchronous hosted model is simply "after the switch
// that displaced it returns".
func (d *Dispatcher) reap(t *Task) {
	d.PIDs.Release(t.PID)
	t.State = TaskDead
}

// WakeUp implements task_wake_up (spec.md §4.F): selects a CPU via the
// task's class, enqueues it there under lock ordering, and raises a
// reschedule IPI if the target is remote.
func (d *Dispatcher) WakeUp(t *Task, fromCPU int) {
	t.piMu.Lock()
	alreadyRunning := t.State == TaskRunning && t.OnRQ
	t.piMu.Unlock()
	if alreadyRunning {
		return
	}

	targetCPU := fromCPU
	if t.Class != nil {
		targetCPU = t.Class.SelectTaskRQ(t)
	}
	rq := d.RunQueues[targetCPU]

	rq.Lock.Lock()
	t.CPU = targetCPU
	t.State = TaskRunning
	rq.enqueue(t)
	if t.Class != nil {
		t.Class.CheckPreemptCurr(rq, t)
	}
	needIPI := targetCPU != fromCPU
	rq.Lock.Unlock()

	if needIPI {
		d.Interrupt.SendReschedule(targetCPU)
	}
}

// QueueWake enqueues t to be woken by the next FlushWakeQueue call,
// rather than waking it immediately — used by pi.go's mutex unlock so
// the waiter list can be walked and released before any wakeup takes a
// second runqueue lock.
func (d *Dispatcher) QueueWake(t *Task) {
	if !d.wakeQueue.Enqueue(t) {
		// Queue momentarily full: waking inline is still correct, just
		// loses the batching benefit for this one task.
		d.WakeUp(t, t.CPU)
	}
}

// FlushWakeQueue wakes every task queued since the last flush.
func (d *Dispatcher) FlushWakeQueue() {
	var t *Task
	for d.wakeQueue.Dequeue(&t) {
		d.WakeUp(t, t.CPU)
	}
}

// WakeUpNewTask implements wake_up_new_task: selects an initial CPU
// through the class hook and enqueues for the first time.
func (d *Dispatcher) WakeUpNewTask(t *Task) {
	if t.Class == nil {
		rq := d.RunQueues[t.CPU]
		t.Class = rq.classFor(t)
	}
	targetCPU := t.Class.SelectTaskRQ(t)
	rq := d.RunQueues[targetCPU]

	rq.Lock.Lock()
	t.CPU = targetCPU
	t.State = TaskRunning
	rq.enqueue(t)
	rq.Lock.Unlock()
}

// Yield implements the voluntary yield_task hook for the current task on
// cpuID.
func (d *Dispatcher) Yield(cpuID int) {
	rq := d.RunQueues[cpuID]
	rq.Lock.Lock()
	if rq.Current != nil && rq.Current.Class != nil {
		rq.Current.Class.YieldTask(rq)
	}
	rq.Lock.Unlock()
}

// Tick drives the periodic task_tick hook for the currently running task
// on cpuID, advancing rq.Clock by one unit.
func (d *Dispatcher) Tick(cpuID int) {
	rq := d.RunQueues[cpuID]
	rq.Lock.Lock()
	rq.Clock++
	if rq.Current != nil && rq.Current.Class != nil {
		rq.Current.Class.TaskTick(rq, rq.Current)
	}
	resched := rq.NeedResched
	rq.Lock.Unlock()

	if resched {
		d.Schedule(cpuID)
	}
}

// TaskSleep atomically changes state to INTERRUPTIBLE, dequeues, and
// schedules away — task_sleep of spec.md §5.
func (d *Dispatcher) TaskSleep(t *Task) {
	rq := d.rqFor(t)
	rq.Lock.Lock()
	t.State = TaskInterruptible
	if t.OnRQ {
		rq.dequeue(t)
	}
	rq.Lock.Unlock()
	d.Schedule(t.CPU)
}

// SetTaskNice implements set_task_nice: updates static/normal priority
// and, for a fair task, its load weight, going through prio_changed.
func (d *Dispatcher) SetTaskNice(t *Task, nice int8) {
	rq := d.rqFor(t)
	rq.Lock.Lock()
	defer rq.Lock.Unlock()

	old := t.Prio
	t.Nice = nice
	t.StaticPrio = 120 + int(nice)
	t.NormalPrio = t.StaticPrio
	t.Prio = t.effectivePrioLocked_nolockTask()
	if t.Class != nil {
		t.Class.PrioChanged(rq, t, old)
	}
}

// effectivePrioLocked_nolockTask recomputes Prio without taking t's PI
// lock; callers that already hold the owning runqueue's lock and are not
// racing with a concurrent PI operation use this instead of
// EffectivePrio to avoid a second lock acquisition under the rq lock.
func (t *Task) effectivePrioLocked_nolockTask() int {
	if len(t.PIWaiters) == 0 {
		return t.NormalPrio
	}
	top := t.PIWaiters[0].Prio
	if top < t.NormalPrio {
		return top
	}
	return t.NormalPrio
}

// SetAffinity implements set_affinity: updates the mask and, if the
// current CPU is no longer permitted, sets need_resched on that CPU's
// runqueue. Neither SetAffinity nor Schedule moves the task to a
// permitted CPU.
func (d *Dispatcher) SetAffinity(t *Task, mask uint64) error {
	if mask == 0 {
		return kerrors.NoEligibleCPU(mask)
	}
	rq := d.rqFor(t)
	rq.Lock.Lock()
	t.AffinityMask = mask
	if mask&(1<<uint(t.CPU)) == 0 {
		rq.NeedResched = true
	}
	rq.Lock.Unlock()
	return nil
}

// noRunnableTaskInvariant is called by Schedule when pick_next_task returns nil even
// after walking the full class chain including idle — a fatal invariant
// violation per spec.md §7, since the idle class never refuses.
func (d *Dispatcher) noRunnableTaskInvariant(cpuID int) {
	fatal(d.Sink, kerrors.NoRunnableTask(cpuID))
}
