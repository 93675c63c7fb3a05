package kernel

import "github.com/vireo-os/vireo/internal/numa"

// SchedDomain wraps a numa.SchedDomain with the load-balancing state the
// dispatcher's balancer needs at each level: which groups to compare, and
// when this domain was last balanced.
type SchedDomain struct {
	*numa.SchedDomain

	Groups          []*SchedGroup
	LastBalance     uint64
	BalanceInterval uint64 // in rq.Clock ticks; wider domains balance less often
}

// SchedGroup is one child domain viewed as a balancing unit: the set of
// CPUs the balancer sums load across when deciding whether this group is
// "busiest".
type SchedGroup struct {
	CPUs     []int
	Capacity int
}

// BuildSchedDomains wraps each CPU's leaf numa.SchedDomain (and,
// recursively, its children) in a kernel.SchedDomain whose Groups are
// that domain's children, and wires each runqueue's Domain pointer to its
// leaf. The leaf's ancestors are not wrapped. rqs must be indexed by CPU
// id.
func BuildSchedDomains(topo *numa.Topology, smtPerCore, coresPerPackage int, rqs []*RunQueue) {
	leaves := numa.BuildDomains(topo, smtPerCore, coresPerPackage)

	wrapped := make(map[*numa.SchedDomain]*SchedDomain)
	var wrap func(nd *numa.SchedDomain) *SchedDomain
	wrap = func(nd *numa.SchedDomain) *SchedDomain {
		if nd == nil {
			return nil
		}
		if w, ok := wrapped[nd]; ok {
			return w
		}
		w := &SchedDomain{SchedDomain: nd, BalanceInterval: balanceIntervalFor(nd.Level)}
		wrapped[nd] = w
		for _, child := range nd.Children {
			cw := wrap(child)
			w.Groups = append(w.Groups, &SchedGroup{CPUs: append([]int{}, child.CPUs...), Capacity: len(child.CPUs)})
			_ = cw
		}
		return w
	}

	for cpu, leaf := range leaves {
		if leaf == nil || cpu >= len(rqs) || rqs[cpu] == nil {
			continue
		}
		rqs[cpu].Domain = wrap(leaf)
	}
}

// balanceIntervalFor assigns each domain level a staggered rebalance
// period: SMT siblings rebalance almost every tick, NUMA-wide groups
// rebalance rarely, matching spec.md §4.G's staggered-interval rule.
func balanceIntervalFor(level numa.DomainLevel) uint64 {
	switch level {
	case numa.DomainSMT:
		return 1
	case numa.DomainCore:
		return 4
	case numa.DomainPackage:
		return 16
	default:
		return 64
	}
}
