package kernel

import (
	"sync"
	"sync/atomic"
)

// SchedPolicy names a task's scheduling policy; it selects which
// substate (FairEntity/RTEntity/DLEntity) is populated and which
// SchedClass owns the task.
type SchedPolicy int

const (
	PolicyFair SchedPolicy = iota
	PolicyFIFO
	PolicyRR
	PolicyDeadline
	PolicyIdle
)

func (p SchedPolicy) String() string {
	switch p {
	case PolicyFair:
		return "FAIR"
	case PolicyFIFO:
		return "FIFO"
	case PolicyRR:
		return "RR"
	case PolicyDeadline:
		return "DEADLINE"
	default:
		return "IDLE"
	}
}

// TaskState is a task's lifecycle state.
type TaskState int

const (
	TaskRunning TaskState = iota
	TaskInterruptible
	TaskUninterruptible
	TaskZombie
	TaskDead
)

// CloneFlags controls what copy_process shares versus duplicates.
type CloneFlags uint32

const (
	CloneVM     CloneFlags = 1 << iota // share mm instead of copy-on-write duplicating it
	CloneFiles                         // share file-descriptor table; no-op here, VFS is out of scope
	CloneThread                        // not consulted; CopyProcess always allocates a fresh PID
)

// Task is the schedulable entity: a tagged union over {fair, rt, dl, idle}
// substates behind a shared header, matching spec.md §4.D. Exactly one of
// Fair/RT/DL is non-nil except for the idle task, which carries none, and
// a PI-boosted fair task, which keeps its FairEntity alongside the
// temporary RTEntity.
type Task struct {
	PID       uint32
	ParentPID uint32
	Comm      string

	Policy     SchedPolicy
	Nice       int8
	StaticPrio int
	NormalPrio int
	Prio       int // effective priority: min(NormalPrio, top PI waiter's prio)

	Class *SchedClass

	Fair *FairEntity
	RT   *RTEntity
	DL   *DLEntity

	State TaskState
	CPU   int

	AffinityMask uint64
	Domain       int // resource-domain / cgroup id, moved by Task.MoveDomain

	AddrSpace       *AddrSpace // mm; nil for kernel threads
	ActiveAddrSpace *AddrSpace // active_mm; never nil once running

	FPU     FPUState
	FPUUsed bool

	Children []*Task
	Parent   *Task

	PreemptDepth atomic.Int32

	// PI state: guarded by piMu, the "task PI lock" of spec.md §5.
	piMu      sync.Mutex
	PIWaiters []*Task // sorted by effective priority, highest first
	BlockedOn *Mutex  // non-owning; nil if runnable

	// DirectSuccessor is the successor this task deposits for the
	// dispatcher's direct-handoff shortcut (spec.md §4.F step 4).
	DirectSuccessor *Task

	OnRQ bool

	// boosted and savedPolicy back a priority-inheritance class switch: a
	// fair task whose effective priority is pushed into the RT range gets
	// temporarily reclassified as PolicyFIFO (pi.go) without losing its
	// FairEntity, which is restored once the boost is dropped.
	boosted     bool
	savedPolicy SchedPolicy
}

// EffectivePrio recomputes Prio from NormalPrio and the current PI-waiter
// list under the task's PI lock, enforcing invariant 2: Prio equals
// NormalPrio when PIWaiters is empty, else min(NormalPrio, top waiter).
func (t *Task) EffectivePrio() int {
	t.piMu.Lock()
	defer t.piMu.Unlock()
	return t.effectivePrioLocked()
}

func (t *Task) effectivePrioLocked() int {
	if len(t.PIWaiters) == 0 {
		return t.NormalPrio
	}
	top := t.PIWaiters[0].Prio
	if top < t.NormalPrio {
		return top
	}
	return t.NormalPrio
}

// newTaskHeader builds the shared Task header common to every creation
// path; callers attach the policy-specific substate afterward.
func newTaskHeader(pid uint32, comm string, policy SchedPolicy, nice int8) *Task {
	t := &Task{
		PID:          pid,
		Comm:         comm,
		Policy:       policy,
		Nice:         nice,
		State:        TaskInterruptible,
		AffinityMask: ^uint64(0),
	}
	t.StaticPrio = 120 + int(nice)
	t.NormalPrio = t.StaticPrio
	t.Prio = t.StaticPrio
	return t
}

// CopyProcess implements spec.md §3's copy_process: it shares the address
// space when CloneVM is set (or the parent has none), otherwise forks it
// copy-on-write, and always copies the scheduling parameters; CloneFiles
// and CloneThread are not consulted. It does not place the new task on
// any runqueue; callers invoke WakeUpNewTask for that.
func CopyProcess(parent *Task, pids *PIDAllocator, flags CloneFlags) (*Task, error) {
	pid, err := pids.Alloc()
	if err != nil {
		return nil, err
	}

	child := newTaskHeader(pid, parent.Comm, parent.Policy, parent.Nice)
	child.ParentPID = parent.PID
	child.Parent = parent
	child.AffinityMask = parent.AffinityMask
	child.Domain = parent.Domain

	if flags&CloneVM != 0 || parent.AddrSpace == nil {
		child.AddrSpace = parent.AddrSpace
		if child.AddrSpace != nil {
			child.AddrSpace.Retain()
		}
	} else {
		as, err := parent.AddrSpace.Fork()
		if err != nil {
			pids.Release(pid)
			return nil, err
		}
		child.AddrSpace = as
	}
	child.ActiveAddrSpace = child.AddrSpace

	switch parent.Policy {
	case PolicyFair:
		child.Fair = &FairEntity{Vruntime: parent.Fair.Vruntime, Weight: niceToWeightOf(child.Nice)}
	case PolicyFIFO, PolicyRR:
		child.RT = &RTEntity{PrioLevel: parent.RT.PrioLevel, TimeSliceRemaining: rtTimeSlice}
	case PolicyDeadline:
		dl := *parent.DL
		child.DL = &dl
	}

	parent.Children = append(parent.Children, child)
	return child, nil
}

// MoveDomain reassigns the task's resource-domain/cgroup id; this is the
// sched_move_task hook named as an Open Question in spec.md §9. It does
// not itself migrate the task between runqueues — callers combine it with
// a dequeue/enqueue cycle when the domain change should also move the CPU.
func (t *Task) MoveDomain(domain int) {
	t.Domain = domain
}
