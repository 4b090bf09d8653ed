package adqcore

import "testing"

func TestMovingAverageTruncatesOnLengthChange(t *testing.T) {
	avg := NewMovingAverage(4)
	long := make([]float64, 8192)
	for i := range long {
		long[i] = 1
	}
	for i := 0; i < 4; i++ {
		avg.Push(long)
	}

	short := make([]float64, 4096)
	for i := range short {
		short[i] = 3
	}
	got := avg.Push(short)
	if len(got) != len(short) {
		t.Fatalf("len(got)=%d, want %d", len(got), len(short))
	}
	for i, v := range got {
		if v != 3 {
			t.Fatalf("got[%d]=%v, want 3 (no mixing with stale 8192-long entries)", i, v)
			break
		}
	}
}

func TestMovingAverageAveragesMatchingLengths(t *testing.T) {
	avg := NewMovingAverage(2)
	avg.Push([]float64{2, 4})
	got := avg.Push([]float64{4, 8})
	want := []float64{3, 6}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d]=%v, want %v", i, got[i], want[i])
		}
	}
}

func TestMaxHoldTracksPeak(t *testing.T) {
	var h MaxHold
	h.Push([]float64{1, 5, 2})
	got := h.Push([]float64{3, 1, 9})
	want := []float64{3, 5, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d]=%v, want %v", i, got[i], want[i])
		}
	}
}
