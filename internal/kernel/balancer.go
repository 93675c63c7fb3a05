package kernel

import "github.com/vireo-os/vireo/internal/kcollections"

// Balancer drives the periodic and idle-path load-balancing walks over
// the dispatcher's runqueues (spec.md §4.G). Each walk balances only the
// CPU's leaf SchedDomain (rq.Domain): wrapParent returns nil, so the
// wider core, package and NUMA levels are not visited.
type Balancer struct {
	d *Dispatcher
}

// NewBalancer builds a Balancer bound to d.
func NewBalancer(d *Dispatcher) *Balancer {
	return &Balancer{d: d}
}

// PeriodicBalance runs the staggered per-domain balance walk for cpuID,
// called from the timer tick: each domain level is only considered once
// rq.Clock has advanced past its BalanceInterval since LastBalance.
func (b *Balancer) PeriodicBalance(cpuID int) {
	rq := b.d.RunQueues[cpuID]
	rq.Lock.Lock()
	clock := rq.Clock
	sd := rq.Domain
	rq.Lock.Unlock()

	for sd != nil {
		if clock-sd.LastBalance >= sd.BalanceInterval {
			sd.LastBalance = clock
			b.balanceDomain(cpuID, sd)
		}
		sd = wrapParent(sd)
	}
}

// wrapParent returns the kernel.SchedDomain above sd. BuildSchedDomains
// wraps only each CPU's leaf and records no parent link on the wrapped
// domain, so wrapParent always returns nil and PeriodicBalance stops
// after the leaf.
func wrapParent(sd *SchedDomain) *SchedDomain {
	return nil
}

// balanceDomain implements the seven-step algorithm of spec.md §4.G for
// a single domain level: find the busiest group, compare against the
// local group, and pull tasks if the imbalance clears the domain's
// threshold.
func (b *Balancer) balanceDomain(cpuID int, sd *SchedDomain) {
	if len(sd.Groups) < 2 {
		return
	}

	localGroup, busiestGroup := b.findGroups(cpuID, sd)
	if busiestGroup == nil || busiestGroup == localGroup {
		return
	}

	localLoad := b.groupLoad(localGroup)
	busiestLoad := b.groupLoad(busiestGroup)
	if busiestLoad == 0 {
		return
	}

	imbalancePct := (busiestLoad - localLoad) * 100 / busiestLoad
	if imbalancePct < sd.ImbalancePct-100 {
		return
	}

	busiestCPU := b.busiestCPUIn(busiestGroup)
	if busiestCPU < 0 || busiestCPU == cpuID {
		return
	}

	b.pullTasks(cpuID, busiestCPU, (busiestLoad-localLoad)/2)
}

// findGroups returns the group containing cpuID and the group with the
// highest summed NrRunning among sd's children. Groups are ranked through
// a max-priority queue rather than a running maximum, since NUMA-width
// domains can carry enough package-level groups that picking the busiest
// is worth doing as a real selection rather than an inline scan.
type groupLoadEntry struct {
	group *SchedGroup
	load  int
}

func (b *Balancer) findGroups(cpuID int, sd *SchedDomain) (local, busiest *SchedGroup) {
	pq := kcollections.NewPriorityQueue(func(a, b groupLoadEntry) bool {
		return a.load > b.load // max-heap: higher load sorts first
	})

	for _, g := range sd.Groups {
		load := b.groupLoad(g)
		for _, c := range g.CPUs {
			if c == cpuID {
				local = g
			}
		}
		pq.Push(groupLoadEntry{group: g, load: load})
	}

	if top, ok := pq.Pop(); ok && top.load > 0 {
		busiest = top.group
	}
	return local, busiest
}

// groupLoad sums nr_running across a group's CPUs.
func (b *Balancer) groupLoad(g *SchedGroup) int {
	total := 0
	for _, cpu := range g.CPUs {
		if cpu >= len(b.d.RunQueues) || b.d.RunQueues[cpu] == nil {
			continue
		}
		rq := b.d.RunQueues[cpu]
		rq.Lock.Lock()
		total += rq.NrRunning
		rq.Lock.Unlock()
	}
	return total
}

// busiestCPUIn returns the single most-loaded CPU within g.
func (b *Balancer) busiestCPUIn(g *SchedGroup) int {
	best, bestLoad := -1, -1
	for _, cpu := range g.CPUs {
		if cpu >= len(b.d.RunQueues) || b.d.RunQueues[cpu] == nil {
			continue
		}
		rq := b.d.RunQueues[cpu]
		rq.Lock.Lock()
		load := rq.NrRunning
		rq.Lock.Unlock()
		if load > bestLoad {
			bestLoad = load
			best = cpu
		}
	}
	return best
}

// pullTasks migrates up to n runnable, non-pinned, non-current tasks from
// src to dst, taking both runqueue locks in ascending-CPU-id order to
// avoid deadlocking against a concurrent balance in the other direction.
func (b *Balancer) pullTasks(dst, src int, n int) {
	if n <= 0 {
		return
	}
	dstRQ, srcRQ := b.d.RunQueues[dst], b.d.RunQueues[src]
	lockTwo(dstRQ, srcRQ)
	defer unlockTwo(dstRQ, srcRQ)

	// Real balancers walk a per-CPU "cfs_tasks" list that supports
	// skip-and-continue; this core only tracks the CFS red-black tree,
	// which offers no "next after this key" query. An unmigratable
	// candidate is therefore dequeued same as a migrated one, just parked
	// in skipped instead of moved to dst, so pickLeftmost always advances
	// to a fresh candidate instead of reporting the same one forever.
	var skipped []*Task
	moved := 0
	for moved < n {
		candidate := srcRQ.Fair.pickLeftmost()
		if candidate == nil {
			break
		}
		srcRQ.dequeue(candidate)
		if b.canMigrate(candidate, srcRQ, dst) {
			candidate.CPU = dst
			dstRQ.Fair.denormalize(candidate)
			dstRQ.enqueue(candidate)
			srcRQ.NrMigrations++
			dstRQ.NrMigrations++
			moved++
		} else {
			skipped = append(skipped, candidate)
		}
	}
	for _, t := range skipped {
		srcRQ.Fair.denormalize(t)
		srcRQ.enqueue(t)
	}
	srcRQ.NrLoadBalance++
	dstRQ.NrLoadBalance++
}

// canMigrate reports whether t may move off src onto dst: not currently
// running, not pinned away from dst by affinity, and not mid-boost (a PI
// boosted task stays where its waiter chain put it until the boost
// clears, avoiding a migration that would strand the waiter relationship
// across CPUs mid-resolution).
func (b *Balancer) canMigrate(t *Task, src *RunQueue, dst int) bool {
	if t == src.Current {
		return false
	}
	if t.AffinityMask&(1<<uint(dst)) == 0 {
		return false
	}
	if t.boosted {
		return false
	}
	return true
}

// idleBalance is invoked from Schedule when a CPU is about to fall back
// to its idle task. It runs one balanceDomain pass over the CPU's leaf
// domain, so the domain's ImbalancePct threshold applies and it pulls
// (busiest-local)/2 tasks, which is none when the busiest CPU holds a
// single task; wider domains are not scanned.
func (d *Dispatcher) idleBalance(cpuID int) {
	rq := d.RunQueues[cpuID]
	if rq.Domain == nil {
		return
	}
	b := NewBalancer(d)
	b.balanceDomain(cpuID, rq.Domain)
}
