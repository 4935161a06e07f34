package arena

import "testing"

func TestAllocAdvancesOffsetAndZeroes(t *testing.T) {
	a := New(64)
	off, err := a.Alloc(8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if off != 0 {
		t.Fatalf("first alloc offset = %d, want 0", off)
	}
	buf := a.At(off, 8)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d not zeroed: %x", i, b)
		}
	}

	off2, err := a.Alloc(3)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if off2 != 8 {
		t.Fatalf("second alloc offset = %d, want 8 (word aligned)", off2)
	}
}

func TestAllocOutOfMemory(t *testing.T) {
	a := New(8)
	if _, err := a.Alloc(9); err != ErrOutOfMemory {
		t.Fatalf("Alloc(9) err = %v, want ErrOutOfMemory", err)
	}
}

func TestResetRewindsOffset(t *testing.T) {
	a := New(16)
	if _, err := a.Alloc(16); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if _, err := a.Alloc(1); err != ErrOutOfMemory {
		t.Fatalf("expected OOM before reset")
	}
	a.Reset()
	if _, err := a.Alloc(16); err != nil {
		t.Fatalf("Alloc after reset: %v", err)
	}
}

func TestCurrentOffsetMatchesNextAlloc(t *testing.T) {
	a := New(32)
	if _, err := a.Alloc(5); err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	want := a.CurrentOffset()
	got, err := a.Alloc(1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if got != want {
		t.Fatalf("CurrentOffset() = %d, next Alloc returned %d", want, got)
	}
}
