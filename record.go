// Package adqcore implements the per-channel DSP pipeline and digitizer
// controller state machine built on top of the queue/window/vendorapi/
// sysmgr packages: the processing core that turns raw digitizer records
// into time-domain, frequency-domain, and waterfall views plus a battery
// of signal-quality metrics.
package adqcore

import (
	"time"

	"github.com/sthenic/adqcore/vendorapi"
	"github.com/sthenic/adqcore/window"
	"gonum.org/v1/gonum/mat"
)

// AnalogFrontEnd carries the calibration a channel's time-domain
// conversion needs: input range and DC offset, both in millivolts.
type AnalogFrontEnd struct {
	InputRangeMillivolts float64
	DCOffset             float64
	CodeNormalization    float64 // N_code: full-scale code span, e.g. 65536 for 16-bit
}

// TimeDomainRecord is the x/y pair derived from one raw record (§3).
type TimeDomainRecord struct {
	Header vendorapi.RecordHeader
	X      []float64
	Y      []float64 // Volts if converted, raw codes otherwise
}

// Tone is one identified spectral feature: a power, a center frequency, an
// integer bin with fractional offset, and the (possibly partially zeroed)
// per-bin skirt values summing to Power.
type Tone struct {
	Label      string
	Power      float64
	Frequency  float64
	Bin        int
	BinOffset  float64
	IdxLow     int
	IdxHigh    int
	Values     []float64 // len == IdxHigh-IdxLow+1, energy-accurate linear power
}

// recompute sets Power to the sum of Values, per §8 property 2 and the
// post-overlap-resolution recomputation rule in §4.4.5.
func (t *Tone) recompute() {
	var sum float64
	for _, v := range t.Values {
		sum += v
	}
	t.Power = sum
}

// overlaps reports whether t and other's bin ranges intersect.
func (t *Tone) overlaps(other *Tone) bool {
	return t.IdxLow <= other.IdxHigh && other.IdxLow <= t.IdxHigh
}

// zeroOverlapWith zeros the entries of t.Values that fall within other's
// range, per §4.4.5 ("zero out the overlapping entries of tone.values, not
// of other").
func (t *Tone) zeroOverlapWith(other *Tone) {
	lo := max(t.IdxLow, other.IdxLow)
	hi := min(t.IdxHigh, other.IdxHigh)
	for idx := lo; idx <= hi; idx++ {
		t.Values[idx-t.IdxLow] = 0
	}
}

// FrequencyDomainRecord is the real spectrum of one raw record (§3).
type FrequencyDomainRecord struct {
	N          int
	Bin        float64 // fs/N
	PowerDBFS  []float64 // len N/2+1, in dBFS
	AmplitudeScale float64
	EnergyScale    float64

	Fundamental      Tone
	DC               Tone
	WorstSpur        Tone
	Harmonics        []Tone // HD2..HD5
	InterleavingGain Tone
	InterleavingOffset Tone

	Overlap bool

	SNR, THD, SINAD, ENOB       float64
	SFDRdBFS, SFDRdBc           float64
	NoiseAverage, NPSD          float64
	NoiseFloor                  float64 // rolling, FIFO-smoothed
}

// Waterfall is a capped, row-major history of frequency records (§3),
// backed by a *mat.Dense the same way the teacher's own row-major
// projector/basis matrices are (`mat.Dense` in `data_source.go`). Rows of
// mismatched length make it empty (nil Matrix) rather than corrupt.
type Waterfall struct {
	Matrix *mat.Dense
}

// Empty reports whether the waterfall has no usable data (no rows yet,
// rows of zero length, or a length mismatch).
func (w *Waterfall) Empty() bool { return w.Matrix == nil }

// Dims returns (rows, cols), or (0, 0) if empty.
func (w *Waterfall) Dims() (int, int) {
	if w.Matrix == nil {
		return 0, 0
	}
	return w.Matrix.Dims()
}

// TimeDomainStatistics holds scalar summaries of a time-domain record's y-axis.
type TimeDomainStatistics struct {
	Min, Max, Mean, StdDev float64
}

// ProcessedRecord is the bundle emitted on the pipeline's outbound queue (§3).
type ProcessedRecord struct {
	Label                    string
	TimeDomain               TimeDomainRecord
	TimeDomainStatistics     TimeDomainStatistics
	FrequencyDomain          FrequencyDomainRecord
	Waterfall                Waterfall
	EstimatedTriggerFrequency float64
	EstimatedThroughput       float64
}

// SensorSeriesPoint is one (t, value) sample of a sensor's history.
type SensorSeriesPoint struct {
	T     time.Time
	Value float64
}

const sensorSeriesCap = 36000

// SensorRecord is the per-sensor state the controller tracks (§3).
type SensorRecord struct {
	ID      uint32
	GroupID uint32
	Unit    string
	Series  []SensorSeriesPoint
	Status  error
	Note    string
}

// Append adds a new sample, evicting the oldest once the series exceeds
// sensorSeriesCap (§8 property 9: length <= 36000, strictly increasing x).
func (s *SensorRecord) Append(t time.Time, value float64) {
	s.Series = append(s.Series, SensorSeriesPoint{T: t, Value: value})
	if len(s.Series) > sensorSeriesCap {
		s.Series = s.Series[len(s.Series)-sensorSeriesCap:]
	}
}

// DigitizerConstants are the identity and capability fields fetched once
// per device at initialization (§3); immutable thereafter.
type DigitizerConstants struct {
	ProductName      string
	SerialNumber     string
	NofChannels      int
	NofTransferChannels int
	SamplingFrequency float64
	CodeNormalization float64
	IsATDFirmware     bool
}

// ProcessingParameters controls one channel's DSP pipeline (§4.4.8).
type ProcessingParameters struct {
	Window              window.Kind
	ConvertHorizontal   bool
	ConvertVertical     bool
	SkirtHalfWidth      int
	AverageCount        int
	FundamentalFrequency float64 // > 0 and <= Nyquist pins the fundamental
	FullscaleENOB       bool
	FFTMaxHold          bool
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
