package adqcore

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestWaterfallMaterializeEmptyUntilFirstRows(t *testing.T) {
	var h waterfallHistory
	if w := h.materialize(); !w.Empty() {
		t.Fatalf("materialize on empty history: want Empty, got %+v", w)
	}

	h.push([]float64{1, 2, 3})
	h.push([]float64{4, 5, 6})
	w := h.materialize()
	if w.Empty() {
		t.Fatalf("materialize after two matching-length rows: want non-empty")
	}
	rows, cols := w.Dims()
	if rows != 2 || cols != 3 {
		t.Fatalf("Dims()=(%d,%d), want (2,3)", rows, cols)
	}
	if got := w.Matrix.At(1, 2); got != 6 {
		t.Errorf("Matrix.At(1,2)=%v, want 6", got)
	}
}

func TestWaterfallMaterializeEmptyOnLengthMismatch(t *testing.T) {
	var h waterfallHistory
	h.push([]float64{1, 2, 3})
	h.push([]float64{1, 2})
	if w := h.materialize(); !w.Empty() {
		t.Fatalf("materialize after a length change: want Empty, got %+v", w)
	}
}

func TestWaterfallMaterializeCapsAtDepth(t *testing.T) {
	var h waterfallHistory
	for i := 0; i < waterfallDepth+5; i++ {
		h.push([]float64{float64(i)})
	}
	w := h.materialize()
	rows, _ := w.Dims()
	if rows != waterfallDepth {
		t.Fatalf("rows=%d, want %d (capped depth)", rows, waterfallDepth)
	}
	if got := w.Matrix.At(0, 0); got != float64(5) {
		t.Errorf("oldest surviving row value=%v, want %v", got, float64(5))
	}
}

// The waterfall's *mat.Dense round-trips through MarshalBinary/UnmarshalBinary
// the same way the teacher's own row-major basis matrices do when shipped
// across its RPC surface (rpc_server.go's ConfigureProjectorsBasis).
func TestWaterfallMatrixRoundTripsThroughBinary(t *testing.T) {
	var h waterfallHistory
	h.push([]float64{1, 2})
	h.push([]float64{3, 4})
	w := h.materialize()

	data, err := w.Matrix.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var restored mat.Dense
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if !mat.Equal(w.Matrix, &restored) {
		t.Errorf("restored matrix does not equal original: got %v, want %v", restored, w.Matrix)
	}
}
