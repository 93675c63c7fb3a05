package kernel

import (
	"testing"

	"github.com/vireo-os/vireo/internal/numa"
)

// TestBalancer_PullsTasksFromBusiestCPU builds a two-CPU domain by hand
// (rather than through numa.NewTopology, whose node count scales with
// runtime.NumCPU and would make this test's imbalance non-deterministic
// across machines) with CPU1 heavily loaded and CPU0 idle, and checks
// that a single balance pass moves half the imbalance across.
func TestBalancer_PullsTasksFromBusiestCPU(t *testing.T) {
	d := newTestDispatcher(t, 2, nil)

	for pid := uint32(1); pid <= 4; pid++ {
		task := newFairTask(pid, 0)
		task.CPU = 1
		task.AffinityMask = ^uint64(0)
		d.RunQueues[1].enqueue(task)
	}

	sd := &SchedDomain{
		SchedDomain: &numa.SchedDomain{ImbalancePct: 100},
		Groups: []*SchedGroup{
			{CPUs: []int{0}},
			{CPUs: []int{1}},
		},
	}

	b := NewBalancer(d)
	b.balanceDomain(0, sd)

	if got := d.RunQueues[0].NrRunning; got != 2 {
		t.Fatalf("expected 2 tasks pulled onto CPU0, got %d", got)
	}
	if got := d.RunQueues[1].NrRunning; got != 2 {
		t.Fatalf("expected CPU1 left with 2 tasks, got %d", got)
	}
}

// TestBalancer_SkipsBalancedDomain checks that a domain already under its
// ImbalancePct threshold is left untouched.
func TestBalancer_SkipsBalancedDomain(t *testing.T) {
	d := newTestDispatcher(t, 2, nil)

	for cpu := 0; cpu < 2; cpu++ {
		task := newFairTask(uint32(cpu)+1, 0)
		task.CPU = cpu
		task.AffinityMask = ^uint64(0)
		d.RunQueues[cpu].enqueue(task)
	}

	sd := &SchedDomain{
		SchedDomain: &numa.SchedDomain{ImbalancePct: 125},
		Groups: []*SchedGroup{
			{CPUs: []int{0}},
			{CPUs: []int{1}},
		},
	}

	b := NewBalancer(d)
	b.balanceDomain(0, sd)

	if got := d.RunQueues[0].NrRunning; got != 1 {
		t.Fatalf("expected CPU0 untouched at 1 task, got %d", got)
	}
	if got := d.RunQueues[1].NrRunning; got != 1 {
		t.Fatalf("expected CPU1 untouched at 1 task, got %d", got)
	}
}

// TestBalancer_DoesNotMigrateCurrentOrPinnedTask checks canMigrate's two
// guards: the running task never migrates, and neither does a task whose
// affinity mask excludes the destination CPU.
func TestBalancer_DoesNotMigrateCurrentOrPinnedTask(t *testing.T) {
	d := newTestDispatcher(t, 2, nil)
	rq1 := d.RunQueues[1]

	current := newFairTask(1, 0)
	current.CPU = 1
	current.AffinityMask = ^uint64(0)
	rq1.enqueue(current)
	rq1.Current = current

	pinned := newFairTask(2, 0)
	pinned.CPU = 1
	pinned.AffinityMask = 1 << 1 // CPU1 only
	rq1.enqueue(pinned)

	b := NewBalancer(d)
	b.pullTasks(0, 1, 2)

	if d.RunQueues[0].NrRunning != 0 {
		t.Fatalf("expected neither current nor pinned task to migrate, CPU0 has %d", d.RunQueues[0].NrRunning)
	}
}
