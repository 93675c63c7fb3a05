package kernel

import "github.com/vireo-os/vireo/internal/kerrors"

// fatal routes a fatal invariant violation through the configured
// PanicSink rather than Go's builtin panic, per spec.md §7: the panic
// path attempts a graphical render, falls back to serial, and halts all
// CPUs. The hosted model has no framebuffer, so the sink goes straight to
// its serial/mock implementation; this function never returns control to
// its caller in a real boot, but a mock PanicSink used in tests does
// return, which is why every call site still follows it with a return.
func fatal(sink PanicSink, err *kerrors.KernelError) {
	if sink == nil {
		panic(err.Error())
	}
	sink.Fatal(err.Error(), err.Context)
}
