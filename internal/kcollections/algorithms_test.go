package kcollections

import "testing"

func compareIntKeys(a, b int) int { return a - b }

func TestRedBlackTreeInsertSearchMin(t *testing.T) {
	tree := NewRedBlackTree[int, string](compareIntKeys)

	tree.Insert(5, "five")
	tree.Insert(3, "three")
	tree.Insert(8, "eight")
	tree.Insert(1, "one")

	if tree.Size() != 4 {
		t.Fatalf("expected size 4, got %d", tree.Size())
	}

	v, ok := tree.Search(3)
	if !ok || v != "three" {
		t.Fatalf("expected to find 3->three, got %q ok=%v", v, ok)
	}

	k, v, ok := tree.Min()
	if !ok || k != 1 || v != "one" {
		t.Fatalf("expected min 1->one, got %d->%q ok=%v", k, v, ok)
	}
}

func TestRedBlackTreeDelete(t *testing.T) {
	tree := NewRedBlackTree[int, string](compareIntKeys)
	for _, k := range []int{10, 20, 30, 40, 50, 25} {
		tree.Insert(k, "v")
	}

	if !tree.Delete(30) {
		t.Fatal("expected delete of present key to succeed")
	}
	if _, ok := tree.Search(30); ok {
		t.Fatal("deleted key should no longer be found")
	}
	if tree.Delete(999) {
		t.Fatal("deleting an absent key should report false")
	}

	k, _, ok := tree.Min()
	if !ok || k != 10 {
		t.Fatalf("expected min 10 after deletions, got %d", k)
	}
}

func TestRedBlackTreeUpdateExisting(t *testing.T) {
	tree := NewRedBlackTree[int, string](compareIntKeys)
	tree.Insert(1, "a")
	tree.Insert(1, "b")

	if tree.Size() != 1 {
		t.Fatalf("re-inserting an existing key should not grow size, got %d", tree.Size())
	}
	v, _ := tree.Search(1)
	if v != "b" {
		t.Fatalf("expected updated value \"b\", got %q", v)
	}
}
