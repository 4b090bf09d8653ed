package adqcore

import (
	"math"

	"github.com/sthenic/adqcore/window"
	"gonum.org/v1/gonum/dsp/fourier"
)

// largestPowerOfTwoAtMost returns the largest power of two <= n (§4.4.2,
// §8 property 1). n must be positive.
func largestPowerOfTwoAtMost(n int) int {
	if n <= 0 {
		return 0
	}
	p := 1
	for p*2 <= n {
		p *= 2
	}
	return p
}

// spectrum is the intermediate result of FFT setup (§4.4.2): per-bin linear
// power (energy-accurate, unscaled) plus the scale factors presentation
// layers apply on top.
type spectrum struct {
	n              int
	bin            float64
	power          []float64 // len n/2+1
	amplitudeScale float64
	energyScale    float64
}

// computeSpectrum windows and FFTs codes (raw ADC codes, not Volts),
// returning per-bin energy-accurate power. The FFT plan for length n is
// built on every call; windowCache supplies the window samples and scale
// factors.
func computeSpectrum(codes []float64, fs, nCode float64, kind window.Kind, windowCache *window.Cache) (spectrum, error) {
	n := largestPowerOfTwoAtMost(len(codes))
	if n < 2 {
		return spectrum{}, errInternal("record too short for FFT: %d samples", len(codes))
	}

	w, err := windowCache.Get(kind, n)
	if err != nil {
		return spectrum{}, errInternal("%v", err)
	}

	seq := make([]float64, n)
	half := nCode / 2
	for i := 0; i < n; i++ {
		v := codes[i] / half
		seq[i] = v * w.Samples[i]
	}

	plan := fourier.NewFFT(n)
	coeff := plan.Coefficients(nil, seq)

	power := make([]float64, len(coeff))
	for i, c := range coeff {
		mag := math.Hypot(real(c), imag(c))
		amp := 2 * mag / float64(n)
		power[i] = amp * amp
	}

	return spectrum{
		n:              n,
		bin:            fs / float64(n),
		power:          power,
		amplitudeScale: w.AmplitudeFactor,
		energyScale:    w.EnergyFactor,
	}, nil
}
