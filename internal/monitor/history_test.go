package monitor

import (
	"reflect"
	"testing"
)

func TestHistoryEvictsOldest(t *testing.T) {
	h, err := NewHistory[int](3)
	if err != nil {
		t.Fatalf("new history: %v", err)
	}
	for v := 1; v <= 4; v++ {
		h.Append(v)
	}
	if h.Len() != 3 || h.Cap() != 3 {
		t.Fatalf("unexpected size: len=%d cap=%d", h.Len(), h.Cap())
	}
	if got := h.Values(); !reflect.DeepEqual(got, []int{2, 3, 4}) {
		t.Fatalf("values: got=%v want=[2 3 4]", got)
	}
	if last, ok := h.Last(); !ok || last != 4 {
		t.Fatalf("last: got=%d ok=%t", last, ok)
	}
	if best, ok := h.Max(); !ok || best != 4 {
		t.Fatalf("max: got=%d ok=%t", best, ok)
	}
}

func TestHistoryPartialAndEmpty(t *testing.T) {
	h, err := NewHistory[float64](4)
	if err != nil {
		t.Fatalf("new history: %v", err)
	}
	if _, ok := h.Last(); ok {
		t.Fatal("empty history has no last value")
	}
	if _, ok := h.Max(); ok {
		t.Fatal("empty history has no max")
	}
	h.Append(2.5)
	h.Append(-1)
	if got := h.Values(); !reflect.DeepEqual(got, []float64{2.5, -1}) {
		t.Fatalf("values: got=%v", got)
	}
	values := h.Values()
	values[0] = 99
	if got := h.Values()[0]; got != 2.5 {
		t.Fatalf("values must be a copy: got=%v", got)
	}
}

func TestHistoryWrapsManyTimes(t *testing.T) {
	h, err := NewHistory[uint16](5)
	if err != nil {
		t.Fatalf("new history: %v", err)
	}
	for v := uint16(0); v < 23; v++ {
		h.Append(v)
	}
	if got := h.Values(); !reflect.DeepEqual(got, []uint16{18, 19, 20, 21, 22}) {
		t.Fatalf("values: got=%v", got)
	}
}

func TestHistoryRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := NewHistory[int](0); err == nil {
		t.Fatal("expected error for zero capacity")
	}
}
