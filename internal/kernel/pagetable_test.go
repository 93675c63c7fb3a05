package kernel

import "testing"

func TestPageTable_MapUnmapRoundTrip(t *testing.T) {
	engine, fa, root := newTestPageTableEngine(t)

	frame, err := fa.AllocPages(AllocFlags{}, 0)
	if err != nil {
		t.Fatalf("AllocPages: %v", err)
	}

	const va = 0x1000
	if err := engine.Map(root, va, frame, Protection{Read: true, Write: true, User: true}); err != nil {
		t.Fatalf("Map: %v", err)
	}

	table, idx, err := engine.walk(root, va, false)
	if err != nil || table == nil {
		t.Fatalf("walk after Map: table=%v err=%v", table, err)
	}
	raw := entriesOf(fa.FrameBytes(table))[idx]
	if PTEFlag(raw)&ptePresent == 0 {
		t.Fatal("expected mapped entry to be present")
	}

	engine.Unmap(root, va)

	table, idx, err = engine.walk(root, va, false)
	if err != nil {
		t.Fatalf("walk after Unmap: %v", err)
	}
	if table != nil {
		raw = entriesOf(fa.FrameBytes(table))[idx]
		if PTEFlag(raw)&ptePresent != 0 {
			t.Fatal("expected entry to be absent after Unmap")
		}
	}
}

// TestAddrSpace_ForkThenWriteIsCOW exercises the parent-writes-after-fork
// scenario: a 4 KiB page filled with 0xAA is shared copy-on-write with a
// forked child; the parent's subsequent write must not be visible to the
// child, and the shared frame's refcount must rise then fall back to 1
// on each side once the parent has faulted its own private copy in.
func TestAddrSpace_ForkThenWriteIsCOW(t *testing.T) {
	engine, fa, parentRoot := newTestPageTableEngine(t)

	shared, err := fa.AllocPages(AllocFlags{}, 0)
	if err != nil {
		t.Fatalf("AllocPages: %v", err)
	}
	bytes := fa.FrameBytes(shared)
	for i := range bytes {
		bytes[i] = 0xAA
	}

	const va = 0x2000
	if err := engine.Map(parentRoot, va, shared, Protection{Read: true, Write: true, User: true}); err != nil {
		t.Fatalf("Map: %v", err)
	}

	vmas := []*VMA{{Start: va, End: va + PageSize, Prot: Protection{Read: true, Write: true, User: true}}}
	childRoot, err := engine.CopyTree(parentRoot, vmas)
	if err != nil {
		t.Fatalf("CopyTree: %v", err)
	}

	if got := shared.Refcount.Load(); got != 2 {
		t.Fatalf("expected shared frame refcount 2 after fork, got %d", got)
	}

	// Parent writes: handle_cow allocates a private copy for the parent's
	// mapping, since the frame is still shared with the child.
	if err := engine.HandleCOW(parentRoot, va); err != nil {
		t.Fatalf("HandleCOW: %v", err)
	}

	parentTable, parentIdx, err := engine.walk(parentRoot, va, false)
	if err != nil || parentTable == nil {
		t.Fatalf("walk parent after COW: %v", err)
	}
	parentRaw := entriesOf(fa.FrameBytes(parentTable))[parentIdx]
	parentPFN := pteAddr(parentRaw) / PageSize
	parentFrame := fa.FrameAt(parentPFN)
	if parentFrame == shared {
		t.Fatal("parent should hold a private copy after COW, not the shared frame")
	}

	parentBytes := fa.FrameBytes(parentFrame)
	for i := range parentBytes {
		parentBytes[i] = 0xBB
	}

	childTable, childIdx, err := engine.walk(childRoot, va, false)
	if err != nil || childTable == nil {
		t.Fatalf("walk child: %v", err)
	}
	childRaw := entriesOf(fa.FrameBytes(childTable))[childIdx]
	childPFN := pteAddr(childRaw) / PageSize
	childFrame := fa.FrameAt(childPFN)
	if childFrame != shared {
		t.Fatal("child should still reference the original shared frame")
	}
	for _, b := range fa.FrameBytes(childFrame) {
		if b != 0xAA {
			t.Fatalf("child's page was mutated by parent's COW write, got byte %#x", b)
		}
	}

	if got := shared.Refcount.Load(); got != 1 {
		t.Fatalf("expected shared frame refcount 1 after parent's COW split, got %d", got)
	}
	if got := parentFrame.Refcount.Load(); got != 1 {
		t.Fatalf("expected parent's new private frame refcount 1, got %d", got)
	}
}

// TestPageTable_SplitHugeOnPartialUnmap maps a single 2 MiB huge entry and
// unmaps one 4 KiB page in the middle of it; the huge entry must split
// into 512 4 KiB entries, the targeted one absent, the rest present with
// their original contiguous physical backing.
func TestPageTable_SplitHugeOnPartialUnmap(t *testing.T) {
	engine, fa, root := newTestPageTableEngine(t)

	base, err := fa.AllocPages(AllocFlags{}, 9) // order 9 = 512 frames = 2 MiB
	if err != nil {
		t.Fatalf("AllocPages(order=9): %v", err)
	}

	const regionStart = uintptr(0) // 2 MiB aligned by construction
	if err := engine.MapHuge(root, regionStart, base, Protection{Read: true, Write: true, User: true}); err != nil {
		t.Fatalf("MapHuge: %v", err)
	}
	if !engine.isHugeAt(root, regionStart) {
		t.Fatal("expected region to be mapped huge before unmap")
	}

	targetVA := regionStart + 128*PageSize
	engine.Unmap(root, targetVA)

	if engine.isHugeAt(root, regionStart) {
		t.Fatal("expected huge entry to have been split by partial unmap")
	}

	table, idx, err := engine.walk(root, targetVA, false)
	if err != nil {
		t.Fatalf("walk targeted page: %v", err)
	}
	if table != nil {
		raw := entriesOf(fa.FrameBytes(table))[idx]
		if PTEFlag(raw)&ptePresent != 0 {
			t.Fatal("targeted 4 KiB page should be absent after unmap")
		}
	}

	for i := 0; i < 512; i++ {
		if i == 128 {
			continue
		}
		va := regionStart + uintptr(i)*PageSize
		table, idx, err := engine.walk(root, va, false)
		if err != nil || table == nil {
			t.Fatalf("walk leaf %d: table=%v err=%v", i, table, err)
		}
		raw := entriesOf(fa.FrameBytes(table))[idx]
		if PTEFlag(raw)&ptePresent == 0 {
			t.Fatalf("leaf %d should remain present after split", i)
		}
		gotPFN := pteAddr(raw) / PageSize
		wantPFN := base.PFN + uintptr(i)
		if gotPFN != wantPFN {
			t.Fatalf("leaf %d backing PFN = %d, want %d", i, gotPFN, wantPFN)
		}
	}

	for i := 0; i < 512; i++ {
		if i == 128 {
			continue // unmapped: freed back to the buddy allocator, refcount 0
		}
		frame := fa.FrameAt(base.PFN + uintptr(i))
		if got := frame.Refcount.Load(); got != 1 {
			t.Fatalf("leaf %d refcount = %d, want 1 (independently referenced after split)", i, got)
		}
	}
}

func TestPageTable_MergeHugeInverse(t *testing.T) {
	engine, fa, root := newTestPageTableEngine(t)

	base, err := fa.AllocPages(AllocFlags{}, 9)
	if err != nil {
		t.Fatalf("AllocPages(order=9): %v", err)
	}
	if err := engine.MapHuge(root, 0, base, Protection{Read: true, Write: true, User: true}); err != nil {
		t.Fatalf("MapHuge: %v", err)
	}
	if err := engine.splitHuge(root, 0); err != nil {
		t.Fatalf("splitHuge: %v", err)
	}
	if engine.isHugeAt(root, 0) {
		t.Fatal("expected split region to no longer be huge")
	}

	if err := engine.mergeHuge(root, 0); err != nil {
		t.Fatalf("mergeHuge: %v", err)
	}
	if !engine.isHugeAt(root, 0) {
		t.Fatal("expected mergeHuge to restore a single huge entry")
	}
	if got := base.Refcount.Load(); got != 1 {
		t.Fatalf("expected base frame refcount 1 after merge, got %d", got)
	}
	if got := fa.FrameAt(base.PFN + 1).Refcount.Load(); got != 0 {
		t.Fatalf("expected non-base leaf refcount released to 0 after merge, got %d", got)
	}
}
