package kernel

import "testing"

// TestRTRunQueue_PicksLowestPriorityLevel checks the bitmap-accelerated
// pick: numerically smaller RT priority levels always preempt larger ones,
// regardless of enqueue order.
func TestRTRunQueue_PicksLowestPriorityLevel(t *testing.T) {
	rq := newRTRunQueue()

	low := newRTTask(1, "low", 80)
	mid := newRTTask(2, "mid", 40)
	high := newRTTask(3, "high", 5)

	rq.enqueue(low)
	rq.enqueue(mid)
	rq.enqueue(high)

	if got := rq.pickHighest(); got != high {
		t.Fatalf("expected highest-priority (lowest level) task picked, got pid %d", got.PID)
	}
}

// TestRTRunQueue_RoundRobinRequeuesOnQuantumExpiry checks that a PolicyRR
// task whose time slice expires is moved to the tail of its own priority
// level, letting an equal-priority sibling run next.
func TestRTRunQueue_RoundRobinRequeuesOnQuantumExpiry(t *testing.T) {
	rq := NewRunQueue(0, 1)

	a := newRTTask(1, "a", 20)
	a.Policy = PolicyRR
	b := newRTTask(2, "b", 20)
	b.Policy = PolicyRR

	rq.enqueue(a)
	rq.enqueue(b)

	rq.Current = a
	a.RT.TimeSliceRemaining = 1
	a.Class.TaskTick(rq, a)

	if !rq.NeedResched {
		t.Fatal("expected quantum expiry to set need_resched")
	}
	if got := rq.RT.lists[20].head; got != b {
		t.Fatalf("expected b to be the new head of level 20 after a's requeue, got pid %d", got.PID)
	}
	if got := rq.RT.lists[20].tail; got != a {
		t.Fatalf("expected a requeued to the tail of level 20, got pid %d", got.PID)
	}
}

// TestRTRunQueue_ThrottlesAtRuntimeCap checks that once a CPU's RT class
// has consumed rtRuntimeCap ticks within the current period, pickHighest
// refuses to return a task until the period rolls over, leaving headroom
// for fair tasks per spec.md's bandwidth-limiting invariant.
func TestRTRunQueue_ThrottlesAtRuntimeCap(t *testing.T) {
	rq := NewRunQueue(0, 1)

	a := newRTTask(1, "a", 20)
	rq.enqueue(a)
	rq.Current = a

	for i := 0; i < rtRuntimeCap; i++ {
		rq.Clock++
		a.Class.TaskTick(rq, a)
	}

	if rq.RT.pickHighest() != nil {
		t.Fatal("expected RT class to be throttled at the runtime cap")
	}

	rq.Clock = rq.RT.periodStart + rtPeriodTicks
	a.Class.TaskTick(rq, a)

	if rq.RT.pickHighest() == nil {
		t.Fatal("expected throttle to clear once the period rolled over")
	}
}
