package adqcore

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// waterfallHistory is the capped deque of the last W=20 frequency-domain
// power vectors (§4.4.7, §9 "plain ring buffers sized at construction").
type waterfallHistory struct {
	rows [][]float64
}

const waterfallDepth = 20

func (h *waterfallHistory) push(row []float64) {
	cur := make([]float64, len(row))
	copy(cur, row)
	h.rows = append(h.rows, cur)
	if len(h.rows) > waterfallDepth {
		h.rows = h.rows[len(h.rows)-waterfallDepth:]
	}
}

// materialize builds a row-major Waterfall from the buffered rows,
// yielding an empty Waterfall if rows have mismatched length (§3, §4.4.7).
func (h *waterfallHistory) materialize() Waterfall {
	if len(h.rows) == 0 {
		return Waterfall{}
	}
	cols := len(h.rows[0])
	if cols == 0 {
		return Waterfall{}
	}
	for _, row := range h.rows {
		if len(row) != cols {
			return Waterfall{}
		}
	}
	data := make([]float64, 0, len(h.rows)*cols)
	for _, row := range h.rows {
		data = append(data, row...)
	}
	return Waterfall{Matrix: mat.NewDense(len(h.rows), cols, data)}
}

// computeTimeDomainStatistics returns min, max, mean, and sample standard
// deviation over y (§4.4.7).
func computeTimeDomainStatistics(y []float64) TimeDomainStatistics {
	if len(y) == 0 {
		return TimeDomainStatistics{}
	}
	min, max := y[0], y[0]
	for _, v := range y {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean, sdev := stat.MeanStdDev(y, nil)
	return TimeDomainStatistics{Min: min, Max: max, Mean: mean, StdDev: sdev}
}
