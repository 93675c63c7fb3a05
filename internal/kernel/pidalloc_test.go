package kernel

import "testing"

func TestPIDAllocator_AllocIsUniqueAndLive(t *testing.T) {
	a := NewPIDAllocator(10)

	first, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	second, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct PIDs, got %d twice", first)
	}
	if !a.IsLive(first) || !a.IsLive(second) {
		t.Fatal("expected both allocated PIDs to be live")
	}
}

// TestPIDAllocator_ReleasePrefersFreeListReuse checks that a released PID
// is handed back out before the allocator grows its high-water mark.
func TestPIDAllocator_ReleasePrefersFreeListReuse(t *testing.T) {
	a := NewPIDAllocator(10)

	first, _ := a.Alloc()
	second, _ := a.Alloc()
	a.Release(first)

	third, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if third != first {
		t.Fatalf("expected released PID %d reused, got %d", first, third)
	}
	if !a.IsLive(second) {
		t.Fatal("expected second to remain live; it was never released")
	}
}

// TestPIDAllocator_ReleaseIsIdempotent checks that releasing a PID not
// currently held is a harmless no-op rather than corrupting the free list.
func TestPIDAllocator_ReleaseIsIdempotent(t *testing.T) {
	a := NewPIDAllocator(10)

	a.Release(42) // never allocated
	pid, err := a.Alloc()
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if pid == 42 {
		t.Fatal("releasing a never-held PID should not seed the free list")
	}
}

func TestPIDAllocator_OutOfPIDs(t *testing.T) {
	a := NewPIDAllocator(2)

	if _, err := a.Alloc(); err != nil {
		t.Fatalf("Alloc 1: %v", err)
	}
	if _, err := a.Alloc(); err != nil {
		t.Fatalf("Alloc 2: %v", err)
	}
	if _, err := a.Alloc(); err == nil {
		t.Fatal("expected OUT_OF_PIDS once maxPID is exhausted")
	}
}
