package numa

// SchedDomain is one level of the hierarchical scheduling-domain tree
// built over a Topology: SMT siblings at the leaf, then cores sharing a
// package, then packages sharing a NUMA node, generalizing the flat
// Topology/distance model above into the nested groups a hierarchical
// load balancer walks bottom-up.
type SchedDomain struct {
	Level    DomainLevel
	CPUs     []int
	Children []*SchedDomain
	Parent   *SchedDomain

	// ImbalancePct is the minimum percentage load difference between the
	// busiest and local group before this domain's balancer will act;
	// wider domains (NUMA) tolerate more imbalance than narrow ones (SMT)
	// since migrating across them costs more.
	ImbalancePct int
}

// DomainLevel names a level of the scheduling-domain hierarchy, narrowest
// first.
type DomainLevel int

const (
	DomainSMT DomainLevel = iota
	DomainCore
	DomainPackage
	DomainNUMA
)

func (l DomainLevel) String() string {
	switch l {
	case DomainSMT:
		return "smt"
	case DomainCore:
		return "core"
	case DomainPackage:
		return "package"
	default:
		return "numa"
	}
}

// BuildDomains constructs one leaf SchedDomain per CPU plus the chain of
// ancestor domains above it (core -> package -> NUMA node), returned
// indexed by CPU id so callers can look up cpu's bottom-level domain
// directly. smtPerCore and coresPerPackage describe the topology below
// the NUMA-node granularity Topology itself already tracks.
func BuildDomains(topo *Topology, smtPerCore, coresPerPackage int) []*SchedDomain {
	topo.mutex.RLock()
	defer topo.mutex.RUnlock()

	byCPU := make(map[int]*SchedDomain)
	for _, node := range topo.nodes {
		numaDomain := &SchedDomain{Level: DomainNUMA, CPUs: append([]int{}, node.CPUs...), ImbalancePct: 125}

		packages := groupBy(node.CPUs, smtPerCore*coresPerPackage)
		for _, pkgCPUs := range packages {
			pkgDomain := &SchedDomain{Level: DomainPackage, CPUs: pkgCPUs, Parent: numaDomain, ImbalancePct: 117}
			numaDomain.Children = append(numaDomain.Children, pkgDomain)

			cores := groupBy(pkgCPUs, smtPerCore)
			for _, coreCPUs := range cores {
				coreDomain := &SchedDomain{Level: DomainCore, CPUs: coreCPUs, Parent: pkgDomain, ImbalancePct: 110}
				pkgDomain.Children = append(pkgDomain.Children, coreDomain)

				smtDomain := &SchedDomain{Level: DomainSMT, CPUs: coreCPUs, Parent: coreDomain, ImbalancePct: 100}
				coreDomain.Children = append(coreDomain.Children, smtDomain)

				for _, cpu := range coreCPUs {
					byCPU[cpu] = leafFor(cpu, smtDomain)
				}
			}
		}
	}

	maxCPU := 0
	for cpu := range byCPU {
		if cpu > maxCPU {
			maxCPU = cpu
		}
	}
	result := make([]*SchedDomain, maxCPU+1)
	for cpu, d := range byCPU {
		result[cpu] = d
	}
	return result
}

// leafFor returns the SMT-level domain itself as the per-CPU leaf: the
// narrowest domain a single CPU belongs to is the SMT group it shares
// with its hyperthread siblings (or itself alone, if smtPerCore is 1).
func leafFor(cpu int, smt *SchedDomain) *SchedDomain {
	return smt
}

// groupBy splits ids into consecutive chunks of size n (the last chunk
// may be shorter), the grouping BuildDomains uses to carve a node's flat
// CPU list into packages, then cores, then SMT siblings.
func groupBy(ids []int, n int) [][]int {
	if n <= 0 {
		n = 1
	}
	var groups [][]int
	for i := 0; i < len(ids); i += n {
		end := i + n
		if end > len(ids) {
			end = len(ids)
		}
		groups = append(groups, ids[i:end])
	}
	return groups
}
