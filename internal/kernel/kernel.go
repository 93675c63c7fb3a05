package kernel

import (
	"context"
	"fmt"

	"github.com/vireo-os/vireo/internal/cpu"
	"github.com/vireo-os/vireo/internal/numa"
)

// KernelConfig collects the boot-time parameters InitializeCompleteKernel
// needs: memory layout, CPU count/topology, and paging depth.
type KernelConfig struct {
	Boot            BootInfo
	NumNodes        int
	SMTPerCore      int
	CoresPerPackage int
	Features        cpu.Features
}

// DefaultKernelConfig returns a single-node, 4-level-paging configuration
// sized for a small hosted instance: 256 MiB of usable memory starting at
// 1 MiB, 4 logical CPUs.
func DefaultKernelConfig() KernelConfig {
	const oneMiB = 1 << 20
	return KernelConfig{
		Boot: BootInfo{
			MemoryMap: []MemoryMapEntry{
				{Base: oneMiB, Length: 256 * oneMiB, Type: MemoryUsable, NodeID: 0},
			},
			HHDMOffset:   0xFFFF800000000000,
			PagingLevels: 4,
			NumCPUs:      4,
		},
		NumNodes:        1,
		SMTPerCore:      1,
		CoresPerPackage: 4,
		Features:        cpu.Detect(4),
	}
}

// Kernel is the fully wired runtime: frame allocator, PID space, page
// table engine, per-CPU runqueues, dispatcher, and balancer.
type Kernel struct {
	Config     KernelConfig
	Frames     *FrameAllocator
	PIDs       *PIDAllocator
	PageTables *PageTableEngine
	Dispatcher *Dispatcher
	Balancer   *Balancer
	Konsole    *Konsole
	Sink       PanicSink
}

// InitializeCompleteKernel wires every subsystem in dependency order:
// frame allocator first (everything else allocates physical pages from
// it), then PID space, page tables, runqueues/dispatcher, and finally the
// scheduling-domain tree the balancer walks.
func InitializeCompleteKernel(ctx context.Context, cfg KernelConfig, sink PanicSink, konsole *Konsole) (*Kernel, error) {
	konsole.Printf("initializing frame allocator (%d node(s))\n", cfg.NumNodes)
	frames, err := NewFrameAllocator(ctx, cfg.Boot, cfg.NumNodes)
	if err != nil {
		return nil, fmt.Errorf("frame allocator: %w", err)
	}

	pids := NewPIDAllocator(1 << 22)

	konsole.Printf("building %d-level page table engine\n", cfg.Boot.PagingLevels)
	ipi := NewInterruptManager()
	pageTables := NewPageTableEngine(frames, cfg.Boot.PagingLevels, ipi)

	konsole.Printf("bringing up %d logical CPU(s)\n", cfg.Boot.NumCPUs)
	dispatcher := NewDispatcher(cfg.Boot.NumCPUs, frames, pids, sink)
	dispatcher.Interrupt = ipi

	topo := numa.NewTopology()
	BuildSchedDomains(topo, cfg.SMTPerCore, cfg.CoresPerPackage, dispatcher.RunQueues)
	balancer := NewBalancer(dispatcher)

	for _, pc := range dispatcher.PerCPU.Slots {
		pc.RefillZeroed(frames, AllocFlags{})
	}

	return &Kernel{
		Config:     cfg,
		Frames:     frames,
		PIDs:       pids,
		PageTables: pageTables,
		Dispatcher: dispatcher,
		Balancer:   balancer,
		Konsole:    konsole,
		Sink:       sink,
	}, nil
}

// SpawnTask creates and wakes a new task on behalf of init/a shell:
// allocates a PID, builds a Task header with the given policy-specific
// parameters, and places it on the runqueue its class selects.
func (k *Kernel) SpawnTask(comm string, policy SchedPolicy, nice int8) (*Task, error) {
	t := newTaskHeader(0, comm, policy, nice)
	pid, err := k.PIDs.Alloc()
	if err != nil {
		return nil, err
	}
	t.PID = pid

	switch policy {
	case PolicyFair:
		t.Fair = &FairEntity{Weight: niceToWeightOf(nice)}
	case PolicyFIFO, PolicyRR:
		t.RT = &RTEntity{PrioLevel: 50, TimeSliceRemaining: rtTimeSlice}
		t.StaticPrio = 50
		t.NormalPrio = 50
		t.Prio = 50
	case PolicyDeadline:
		t.DL = &DLEntity{}
	}

	t.CPU = 0
	k.Dispatcher.WakeUpNewTask(t)
	return t, nil
}

// Tick advances every CPU's timer by one unit, running task_tick and the
// staggered load-balance walk on each.
func (k *Kernel) Tick() {
	for i := range k.Dispatcher.RunQueues {
		k.Dispatcher.Tick(i)
		k.Balancer.PeriodicBalance(i)
	}
}
