// Package allocator provides the arena allocator used to back the
// kernel's simulated physical RAM: a single large byte buffer the buddy
// allocator in internal/kernel addresses directly by page-frame offset,
// plus the bump/sub-arena/state-snapshot operations built on top of it.
package allocator

import "unsafe"

// AllocatorStats reports allocation activity for an arena.
type AllocatorStats struct {
	TotalAllocated    uintptr
	TotalFreed        uintptr
	ActiveAllocations int
	PeakAllocations   int
	AllocationCount   uint64
	FreeCount         uint64
	BytesInUse        uintptr
	SystemMemory      uintptr
}

// Config holds the tunables an arena is built with.
type Config struct {
	ArenaSize     uintptr
	AlignmentSize uintptr
}

func defaultConfig() *Config {
	return &Config{
		ArenaSize:     64 * 1024 * 1024, // 64MB default arena
		AlignmentSize: 8,                // 8-byte alignment
	}
}

// alignUp aligns a size up to the nearest multiple of alignment.
func alignUp(size, alignment uintptr) uintptr {
	return (size + alignment - 1) &^ (alignment - 1)
}

// copyMemory copies memory from src to dst.
func copyMemory(dst, src unsafe.Pointer, size uintptr) {
	dstSlice := (*[1 << 30]byte)(dst)[:size:size]
	srcSlice := (*[1 << 30]byte)(src)[:size:size]
	copy(dstSlice, srcSlice)
}
