package store

import (
	"fmt"
	"testing"
)

func TestDedupWindow_Seen(t *testing.T) {
	w := NewDedupWindow(3)

	if w.Seen("k1") {
		t.Error("DedupWindow.Seen() first occurrence reported as seen")
	}
	if !w.Seen("k1") {
		t.Error("DedupWindow.Seen() second occurrence not reported as seen")
	}
	if w.Seen("") {
		t.Error("DedupWindow.Seen() empty key should never dedup")
	}
	if w.Seen("") {
		t.Error("DedupWindow.Seen() empty key should never dedup, even repeated")
	}
}

func TestDedupWindow_Eviction(t *testing.T) {
	w := NewDedupWindow(3)

	for _, key := range []string{"k1", "k2", "k3", "k4"} {
		w.Seen(key)
	}

	if w.Len() != 3 {
		t.Errorf("DedupWindow.Len() = %v, want 3", w.Len())
	}
	// k1 aged out, so a redelivery is treated as new again.
	if w.Seen("k1") {
		t.Error("DedupWindow.Seen() evicted key still reported as seen")
	}
	if !w.Seen("k4") {
		t.Error("DedupWindow.Seen() recent key lost")
	}
}

func TestDedupWindow_DefaultCapacity(t *testing.T) {
	w := NewDedupWindow(0)

	for i := 0; i < DefaultDedupCapacity+1; i++ {
		w.Seen(fmt.Sprintf("key-%d", i))
	}

	if w.Len() != DefaultDedupCapacity {
		t.Errorf("DedupWindow.Len() = %v, want %v", w.Len(), DefaultDedupCapacity)
	}
	if w.Seen("key-0") {
		t.Error("DedupWindow.Seen() oldest key should have been evicted")
	}
	if !w.Seen(fmt.Sprintf("key-%d", DefaultDedupCapacity)) {
		t.Error("DedupWindow.Seen() newest key lost")
	}
}
