package hashtable

import (
	"sync"
	"testing"
)

func TestSetGetDelete(t *testing.T) {
	tbl := New[int, string](4)

	if existed := tbl.Set(1, "one"); existed {
		t.Fatal("expected first Set to report not-existed")
	}
	if v, ok := tbl.Get(1); !ok || v != "one" {
		t.Fatalf("Get(1) = (%q, %v), want (one, true)", v, ok)
	}
	if existed := tbl.Set(1, "uno"); !existed {
		t.Fatal("expected overwrite to report existed")
	}
	if v, _ := tbl.Get(1); v != "uno" {
		t.Fatalf("Get(1) after overwrite = %q, want uno", v)
	}

	if !tbl.Delete(1) {
		t.Fatal("expected Delete to report present")
	}
	if _, ok := tbl.Get(1); ok {
		t.Fatal("expected Get to miss after Delete")
	}
	if tbl.Delete(1) {
		t.Fatal("expected second Delete to report absent")
	}
}

func TestLenTracksEntries(t *testing.T) {
	tbl := New[int, int](2)
	for i := 0; i < 10; i++ {
		tbl.Set(i, i*i)
	}
	if got := tbl.Len(); got != 10 {
		t.Fatalf("Len() = %d, want 10", got)
	}
	for i := 0; i < 5; i++ {
		tbl.Delete(i)
	}
	if got := tbl.Len(); got != 5 {
		t.Fatalf("Len() = %d, want 5", got)
	}
}

func TestRangeVisitsEveryEntry(t *testing.T) {
	tbl := New[int, int](3)
	want := map[int]int{}
	for i := 0; i < 20; i++ {
		tbl.Set(i, i)
		want[i] = i
	}
	got := map[int]int{}
	tbl.Range(func(k, v int) bool {
		got[k] = v
		return true
	})
	if len(got) != len(want) {
		t.Fatalf("Range visited %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("entry %d = %d, want %d", k, got[k], v)
		}
	}
}

func TestConcurrentAccessAcrossBuckets(t *testing.T) {
	tbl := New[int, int](16)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tbl.Set(i, i)
		}(i)
	}
	wg.Wait()
	if got := tbl.Len(); got != 100 {
		t.Fatalf("Len() = %d, want 100", got)
	}
}
