package kernel

// newIdleClass builds the idle class: it returns the per-CPU idle task
// unconditionally and declines every other operation, matching spec.md
// §4.E. It is always last in the class chain, so pick_next_task never
// returns nil once a runqueue has an idle task installed.
func newIdleClass() *SchedClass {
	noop := func(*RunQueue, *Task) {}
	return &SchedClass{
		Name:             "idle",
		EnqueueTask:      noop,
		DequeueTask:      noop,
		YieldTask:        func(rq *RunQueue) {},
		CheckPreemptCurr: noop,
		PickNextTask: func(rq *RunQueue) *Task {
			return rq.IdleTask
		},
		PutPrevTask:  noop,
		SetNextTask:  noop,
		TaskTick:     noop,
		TaskFork:     func(t *Task) {},
		TaskDead:     func(t *Task) {},
		SwitchedFrom: noop,
		SwitchedTo:   noop,
		PrioChanged:  func(rq *RunQueue, t *Task, oldPrio int) {},
		SelectTaskRQ: func(t *Task) int {
			return t.CPU
		},
		MigrateTaskRQ: func(t *Task) {},
		UpdateCurr:    func(rq *RunQueue) {},
	}
}
