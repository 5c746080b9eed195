package runtime

import "testing"

func internAll(t *testing.T, h *Heap, names ...string) []*ObjString {
	t.Helper()
	out := make([]*ObjString, len(names))
	for i, n := range names {
		out[i] = h.CopyString(n)
	}
	return out
}

func TestTableSetGet(t *testing.T) {
	h := NewHeap()
	keys := internAll(t, h, "a", "b", "c")

	var table Table
	if !table.Set(keys[0], Number(1)) {
		t.Fatalf("first insert should be new")
	}
	table.Set(keys[1], Number(2))
	table.Set(keys[2], Number(3))

	if table.Set(keys[1], Number(20)) {
		t.Fatalf("overwrite should not report new")
	}

	v, ok := table.Get(keys[1])
	if !ok || v.Num != 20 {
		t.Fatalf("expected 20, got %v (ok=%v)", v, ok)
	}
	if _, ok := table.Get(h.CopyString("missing")); ok {
		t.Fatalf("missing key should not be found")
	}
}

func TestTableDeleteTombstone(t *testing.T) {
	h := NewHeap()
	keys := internAll(t, h, "x", "y", "z")

	var table Table
	for i, k := range keys {
		table.Set(k, Number(float64(i)))
	}

	if !table.Delete(keys[1]) {
		t.Fatalf("delete should find the key")
	}
	if table.Delete(keys[1]) {
		t.Fatalf("second delete should miss")
	}
	if _, ok := table.Get(keys[1]); ok {
		t.Fatalf("deleted key still present")
	}

	// entries past the tombstone stay reachable
	if v, ok := table.Get(keys[2]); !ok || v.Num != 2 {
		t.Fatalf("probe chain broken by tombstone: %v (ok=%v)", v, ok)
	}

	// reinserting reuses the tombstone slot
	table.Set(keys[1], Number(42))
	if v, ok := table.Get(keys[1]); !ok || v.Num != 42 {
		t.Fatalf("tombstone reuse failed: %v (ok=%v)", v, ok)
	}
}

func TestTableGrowthKeepsEntries(t *testing.T) {
	h := NewHeap()
	var table Table
	var keys []*ObjString
	for _, n := range []string{"one", "two", "three", "four", "five", "six",
		"seven", "eight", "nine", "ten", "eleven", "twelve"} {
		k := h.CopyString(n)
		keys = append(keys, k)
		table.Set(k, ObjVal(k))
	}
	for _, k := range keys {
		v, ok := table.Get(k)
		if !ok {
			t.Fatalf("lost key %q across growth", k.Chars)
		}
		if s, _ := AsString(v); s != k {
			t.Fatalf("value for %q changed across growth", k.Chars)
		}
	}
}

func TestTableAddAll(t *testing.T) {
	h := NewHeap()
	keys := internAll(t, h, "p", "q")

	var src, dst Table
	src.Set(keys[0], Number(1))
	src.Set(keys[1], Number(2))
	src.Delete(keys[1])

	dst.AddAll(&src)
	if _, ok := dst.Get(keys[1]); ok {
		t.Fatalf("AddAll copied a tombstone")
	}
	if v, ok := dst.Get(keys[0]); !ok || v.Num != 1 {
		t.Fatalf("AddAll missed a live entry")
	}
}

func TestTableFindString(t *testing.T) {
	h := NewHeap()
	s := h.CopyString("needle")

	found := h.strings.FindString("needle", HashString("needle"))
	if found != s {
		t.Fatalf("FindString did not return the canonical object")
	}
	if h.strings.FindString("straw", HashString("straw")) != nil {
		t.Fatalf("FindString found a string never interned")
	}
}
