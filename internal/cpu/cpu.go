// Package cpu abstracts the CPUID-derived feature gates the page-table
// engine and dispatcher need: paging depth (4 vs 5 level), huge-page
// support, and topology leaves. There is no real ring-0 CPUID instruction
// available in the hosted model, so the real signal comes from
// golang.org/x/sys/cpu where a matching flag exists; everything else is a
// config override so tests can force a paging depth deterministically.
package cpu

import "golang.org/x/sys/cpu"

// Features describes the subset of CPUID leaves 1, 7, 0x80000001 the
// page-table engine and dispatcher consult.
type Features struct {
	// PagingLevels is 4 or 5 (LA57). Real LA57 detection is CPUID 7.ECX[16];
	// x/sys/cpu does not expose that bit, so this is set from BootInfo or a
	// config override (see Detect), never inferred from the host CPU.
	PagingLevels int

	// HugePage1G and HugePage2M gate 1 GiB and 2 MiB leaf promotion in the
	// page-table engine's map() opportunistic-promotion path.
	HugePage1G bool
	HugePage2M bool

	// NX reports support for the no-execute bit (EFER.NXE gate, CPUID
	// 0x80000001.EDX[20]).
	NX bool

	// HasAVX512F stands in for the real PDPE1GB/GBPAGES CPUID bit, which
	// x/sys/cpu does not expose; documented approximation (DESIGN.md).
	HasAVX512F bool
}

// Detect builds a Features set for the given paging-level override. 2 MiB
// huge pages are universal on x86_64 and always on; 1 GiB pages are gated
// on an AVX-512F proxy since the real GBPAGES/PDPE1GB bit isn't
// exposed by x/sys/cpu on this platform.
func Detect(pagingLevelOverride int) Features {
	levels := pagingLevelOverride
	if levels != 4 && levels != 5 {
		levels = 4
	}

	return Features{
		PagingLevels: levels,
		HugePage2M:   true,
		HugePage1G:   cpu.X86.HasAVX512F,
		NX:           true,
		HasAVX512F:   cpu.X86.HasAVX512F,
	}
}

// Topology reports the logical CPU count and SMT/core grouping the load
// balancer's scheduling-domain tree is built from. Real hardware derives
// this from CPUID leaf 0x0B; the hosted model takes it from boot
// configuration instead.
type Topology struct {
	NumCPUs         int
	SMTPerCore      int
	CoresPerPackage int
	NumPackages     int
}

// DefaultTopology returns a single-package, no-SMT topology sized to n
// logical CPUs — the common case for a test harness or a small VM.
func DefaultTopology(numCPUs int) Topology {
	if numCPUs < 1 {
		numCPUs = 1
	}
	return Topology{
		NumCPUs:         numCPUs,
		SMTPerCore:      1,
		CoresPerPackage: numCPUs,
		NumPackages:     1,
	}
}
