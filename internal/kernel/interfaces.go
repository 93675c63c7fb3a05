package kernel

import (
	"fmt"
	"io"
)

// BootInfo is the Limine-like collaborator consumed at boot: a memory map,
// the higher-half direct-map offset, an RSDP pointer for NUMA discovery via
// ACPI SRAT/SLIT (opaque here — topology construction is the caller's
// responsibility), and the paging level the loader selected.
type BootInfo struct {
	MemoryMap    []MemoryMapEntry
	HHDMOffset   uintptr
	RSDPPointer  uintptr
	PagingLevels int
	NumCPUs      int
}

// MemoryMapEntryType classifies a BootInfo memory-map range.
type MemoryMapEntryType int

const (
	MemoryUsable MemoryMapEntryType = iota
	MemoryReserved
	MemoryACPIReclaimable
	MemoryBadMemory
)

// MemoryMapEntry is one typed range from the bootloader-provided map.
type MemoryMapEntry struct {
	Base   uintptr
	Length uintptr
	Type   MemoryMapEntryType
	NodeID int
}

// PanicSink is the panic collaborator: graphical render, falling back to
// serial, falling back to halting all CPUs — the core never calls Go's
// builtin panic for a fatal invariant violation, so tests can observe the
// call instead of crashing the test binary.
type PanicSink interface {
	Fatal(reason string, context map[string]any)
}

// writerPanicSink is the real PanicSink: it has no framebuffer in the
// hosted model, so it goes straight to the serial fallback — a plain
// io.Writer, matching the teacher's KernelPrint console texture.
type writerPanicSink struct {
	w io.Writer
}

// NewSerialPanicSink wraps an io.Writer as the serial-fallback panic path.
func NewSerialPanicSink(w io.Writer) PanicSink {
	return &writerPanicSink{w: w}
}

func (s *writerPanicSink) Fatal(reason string, context map[string]any) {
	fmt.Fprintf(s.w, "*** KERNEL PANIC *** %s\n", reason)
	for k, v := range context {
		fmt.Fprintf(s.w, "  %s = %v\n", k, v)
	}
}

// FPUState is the save/restore collaborator. Real hardware executes
// xsave/xrstor against the CPU's extended state; the hosted model copies a
// byte slice standing in for the register file.
type FPUState interface {
	Save() []byte
	Restore(state []byte)
}

// hostedFPUState is a trivial FPUState: a fixed-size register file copied
// by value on save/restore.
type hostedFPUState struct {
	regs [512]byte
}

// NewHostedFPUState returns a zeroed hosted FPU register file.
func NewHostedFPUState() FPUState {
	return &hostedFPUState{}
}

func (f *hostedFPUState) Save() []byte {
	out := make([]byte, len(f.regs))
	copy(out, f.regs[:])
	return out
}

func (f *hostedFPUState) Restore(state []byte) {
	copy(f.regs[:], state)
}

// Konsole is the boot-console writer: plain fmt-based output, matching the
// teacher's KernelPrint texture rather than a structured-logging library
// (there is no field sink for a kernel boot console to write to).
type Konsole struct {
	w io.Writer
}

// NewKonsole wraps an io.Writer as the boot console.
func NewKonsole(w io.Writer) *Konsole {
	return &Konsole{w: w}
}

func (k *Konsole) Printf(format string, args ...any) {
	fmt.Fprintf(k.w, format, args...)
}
