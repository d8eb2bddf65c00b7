package ring

import "testing"

func TestPushBackEvictsOldestWhenFull(t *testing.T) {
	b := New[int](3)
	for _, v := range []int{1, 2, 3} {
		if _, evicted := b.PushBack(v); evicted {
			t.Fatalf("unexpected eviction pushing %d into non-full buffer", v)
		}
	}
	if !b.Full() {
		t.Fatal("expected buffer to be full")
	}

	evicted, didEvict := b.PushBack(4)
	if !didEvict || evicted != 1 {
		t.Fatalf("want evict 1, got evicted=%d didEvict=%v", evicted, didEvict)
	}
	if got := b.Snapshot(); len(got) != 3 || got[0] != 2 || got[1] != 3 || got[2] != 4 {
		t.Fatalf("unexpected snapshot after eviction: %v", got)
	}
}

func TestPopFrontOrder(t *testing.T) {
	b := New[string](4)
	b.PushBack("a")
	b.PushBack("b")
	b.PushBack("c")

	v, ok := b.PopFront()
	if !ok || v != "a" {
		t.Fatalf("want a, got %q ok=%v", v, ok)
	}
	if b.Len() != 2 {
		t.Fatalf("want len 2, got %d", b.Len())
	}
}

func TestPopFrontEmpty(t *testing.T) {
	b := New[int](2)
	if _, ok := b.PopFront(); ok {
		t.Fatal("want ok=false on empty buffer")
	}
}

func TestWrapAroundKeepsOrder(t *testing.T) {
	b := New[int](3)
	b.PushBack(1)
	b.PushBack(2)
	b.PopFront()
	b.PushBack(3)
	b.PushBack(4)

	got := b.Snapshot()
	want := []int{2, 3, 4}
	for i, v := range want {
		if got[i] != v {
			t.Fatalf("index %d: want %d, got %d (full snapshot %v)", i, v, got[i], got)
		}
	}
}

func TestDropWhile(t *testing.T) {
	b := New[int](5)
	for _, v := range []int{1, 2, 3, 4, 5} {
		b.PushBack(v)
	}

	removed := b.DropWhile(func(v int) bool { return v < 3 })
	if removed != 2 {
		t.Fatalf("want 2 removed, got %d", removed)
	}
	if front, _ := b.Front(); front != 3 {
		t.Fatalf("want front 3, got %d", front)
	}
}

func TestDropWhileNothingMatches(t *testing.T) {
	b := New[int](3)
	b.PushBack(10)
	b.PushBack(20)

	removed := b.DropWhile(func(v int) bool { return v > 100 })
	if removed != 0 || b.Len() != 2 {
		t.Fatalf("want no-op, got removed=%d len=%d", removed, b.Len())
	}
}

func TestNewClampsNonPositiveCapacity(t *testing.T) {
	b := New[int](0)
	if b.Cap() != 1 {
		t.Fatalf("want capacity clamped to 1, got %d", b.Cap())
	}
}
