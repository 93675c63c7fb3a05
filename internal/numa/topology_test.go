package numa

import "testing"

func TestTopology_Discovery(t *testing.T) {
	topology := NewTopology()

	if topology.nodeCount <= 0 {
		t.Fatal("should discover at least one NUMA node")
	}

	if len(topology.nodes) != topology.nodeCount {
		t.Error("node count mismatch")
	}

	for i, node := range topology.nodes {
		if node.ID != i {
			t.Errorf("node ID mismatch: expected %d, got %d", i, node.ID)
		}

		if len(node.CPUs) != topology.coresPerNode {
			t.Errorf("node %d CPU count mismatch: expected %d, got %d",
				i, topology.coresPerNode, len(node.CPUs))
		}

		if node.Memory == nil {
			t.Errorf("node %d memory not initialized", i)
		}

		if !node.IsOnline {
			t.Errorf("node %d should be online", i)
		}
	}
}

func TestTopology_Distances(t *testing.T) {
	topology := NewTopology()

	if len(topology.distances) != topology.nodeCount {
		t.Fatal("distance matrix size mismatch")
	}

	for i := 0; i < topology.nodeCount; i++ {
		if len(topology.distances[i]) != topology.nodeCount {
			t.Errorf("distance matrix row %d size mismatch", i)
		}

		if topology.distances[i][i] != 10 {
			t.Errorf("local access cost should be 10, got %d", topology.distances[i][i])
		}

		for j := 0; j < topology.nodeCount; j++ {
			if topology.distances[i][j] != topology.distances[j][i] {
				t.Errorf("distance matrix not symmetric at [%d][%d]", i, j)
			}
		}
	}
}

func TestTopology_GetDistance_RejectsOutOfRangeNodes(t *testing.T) {
	topology := NewTopology()

	if d := topology.GetDistance(-1, 0); d != -1 {
		t.Errorf("expected -1 for negative node, got %d", d)
	}
	if d := topology.GetDistance(0, topology.nodeCount); d != -1 {
		t.Errorf("expected -1 for out-of-range node, got %d", d)
	}
}

func TestBuildDomains_OneLeafPerCPUWithAscendingImbalanceUpward(t *testing.T) {
	topo := NewTopology()

	domains := BuildDomains(topo, 2, 4)

	lastCPU := topo.nodes[len(topo.nodes)-1].CPUs
	maxCPU := lastCPU[len(lastCPU)-1]
	if len(domains) != maxCPU+1 {
		t.Fatalf("expected %d leaf domains, got %d", maxCPU+1, len(domains))
	}

	leaf := domains[0]
	if leaf == nil {
		t.Fatal("expected a leaf domain for CPU 0")
	}
	if leaf.Level != DomainSMT {
		t.Errorf("expected leaf at DomainSMT, got %v", leaf.Level)
	}

	// Walking up from an SMT leaf, ImbalancePct should grow at each wider
	// level: NUMA tolerates more imbalance than SMT before balancing.
	core := leaf.Parent
	if core == nil || core.Level != DomainCore {
		t.Fatal("expected a core-level parent")
	}
	pkg := core.Parent
	if pkg == nil || pkg.Level != DomainPackage {
		t.Fatal("expected a package-level grandparent")
	}
	if pkg.ImbalancePct <= core.ImbalancePct {
		t.Errorf("expected package ImbalancePct (%d) > core (%d)", pkg.ImbalancePct, core.ImbalancePct)
	}
	numaDomain := pkg.Parent
	if numaDomain == nil || numaDomain.Level != DomainNUMA {
		t.Fatal("expected a NUMA-level top domain")
	}
	if numaDomain.ImbalancePct <= pkg.ImbalancePct {
		t.Errorf("expected NUMA ImbalancePct (%d) > package (%d)", numaDomain.ImbalancePct, pkg.ImbalancePct)
	}
}
