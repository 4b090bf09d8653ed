package adqcore

import "math"

// dB is 10*log10(x), returning -inf rather than NaN for x<=0 so a silent
// zero-power tone reads as "infinitely quiet" rather than poisoning a
// downstream comparison with NaN.
func dB(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	return 10 * math.Log10(x)
}

// derivedMetricsInput carries the resolved tone powers, the total power and
// the bin count from which computeDerivedMetrics derives every figure of
// merit in §4.4.6.
type derivedMetricsInput struct {
	fundamentalPower float64
	dcPower          float64
	harmonicsPower   float64 // sum of HD2..HD5 power
	interleavingPower float64 // gain + offset power
	totalPower       float64
	worstSpurPower   float64
	nofBins          int // N/2+1
	bin              float64
	fullscaleENOB    bool
}

func computeDerivedMetrics(in derivedMetricsInput, noise *noiseFIFO) (snr, thd, sinad, enob, sfdrFS, sfdrC, noiseAvg, npsd, noiseFloor float64) {
	pNoise := in.totalPower - in.fundamentalPower - in.dcPower - in.harmonicsPower - in.interleavingPower
	if pNoise < 0 {
		pNoise = 0
	}

	snr = dB(in.fundamentalPower / guard(pNoise))
	thd = dB(in.fundamentalPower / guard(in.harmonicsPower))
	sinad = dB(in.fundamentalPower / guard(pNoise+in.harmonicsPower+in.interleavingPower))

	sinadForENOB := sinad
	if in.fullscaleENOB {
		sinadForENOB = dB(1 / guard(pNoise+in.harmonicsPower+in.interleavingPower))
	}
	enob = (sinadForENOB - 1.76) / 6.02

	spurDB := dB(in.worstSpurPower)
	sfdrFS = -spurDB
	sfdrC = dB(in.fundamentalPower) - spurDB

	if in.nofBins > 0 {
		noiseAvg = dB(pNoise / float64(in.nofBins))
	} else {
		noiseAvg = math.Inf(-1)
	}
	npsd = noiseAvg - dB(in.bin)
	noiseFloor = noise.Push(noiseAvg)
	return
}

// guard avoids a zero denominator producing +Inf instead of the intended
// "maximally good" ratio collapsing to a very large but finite dB value;
// callers already route through dB's own <=0 handling, so this just keeps
// division well-defined.
func guard(x float64) float64 {
	if x == 0 {
		return 1e-300
	}
	return x
}
