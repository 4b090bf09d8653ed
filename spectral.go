package adqcore

import "math"

// analysisMemory is the per-pipeline state that persists across records:
// the FFT moving average and the noise-floor smoothing FIFO (§9 "plain
// ring buffers sized at construction"; §4.4.8 ClearProcessingMemory empties
// both).
type analysisMemory struct {
	average *MovingAverage
	maxHold MaxHold
	noise   noiseFIFO
}

func newAnalysisMemory(averageCount int) *analysisMemory {
	return &analysisMemory{average: NewMovingAverage(averageCount)}
}

func (m *analysisMemory) clear() {
	m.average.Clear()
	m.maxHold.Clear()
	m.noise.Clear()
}

// toneWindow builds a Tone centered on a fractional bin, covering
// [bin-skirt, bin+skirt] clamped to the valid range, with Values copied
// from power.
func toneWindow(label string, bin int, binOffset float64, skirt int, binHz, fsOverN float64, power []float64) Tone {
	lo := bin - skirt
	hi := bin + skirt
	if lo < 0 {
		lo = 0
	}
	if hi > len(power)-1 {
		hi = len(power) - 1
	}
	values := make([]float64, hi-lo+1)
	copy(values, power[lo:hi+1])
	t := Tone{
		Label:     label,
		Frequency: (float64(bin) + binOffset) * binHz,
		Bin:       bin,
		BinOffset: binOffset,
		IdxLow:    lo,
		IdxHigh:   hi,
		Values:    values,
	}
	t.recompute()
	return t
}

// centerOfMass computes the fractional bin offset of a tone's energy
// within [lo, hi] relative to its integer peak bin (§4.4.3).
func centerOfMass(power []float64, lo, hi, peak int) float64 {
	var num, den float64
	for i := lo; i <= hi; i++ {
		num += float64(i-peak) * power[i]
		den += power[i]
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// spectralResult bundles everything the single analysis pass over bins
// 0..N/2 produces (§4.4.3).
type spectralResult struct {
	averaged  []float64
	totalPower float64
	dc        Tone
	fundamental Tone
	worstSpur Tone
}

// analyzeSpectrum performs the moving-average, DC-tone, and rolling-max
// cursor pass described in §4.4.3, including the pinned-fundamental mode.
func analyzeSpectrum(mem *analysisMemory, raw []float64, skirt int, bin float64, pinnedFrequency float64, nyquist float64) spectralResult {
	averaged := mem.average.Push(raw)

	var total float64
	for _, p := range averaged {
		total += p
	}

	dcHi := skirt
	if dcHi > len(averaged)-1 {
		dcHi = len(averaged) - 1
	}
	dc := toneWindow("DC", 0, 0, 0, bin, bin, averaged)
	dc.IdxLow, dc.IdxHigh = 0, dcHi
	dc.Values = append([]float64(nil), averaged[0:dcHi+1]...)
	dc.recompute()

	var fundamental Tone
	havePinned := pinnedFrequency > 0 && pinnedFrequency <= nyquist
	if havePinned {
		peak := int(math.Round(pinnedFrequency / bin))
		offset := centerOfMass(averaged, max(peak-skirt, 0), min(peak+skirt, len(averaged)-1), peak)
		fundamental = toneWindow("Fundamental", peak, offset, skirt, bin, bin, averaged)
	}

	worstSpur := Tone{Label: "WorstSpur"}
	exclusion := 2 * skirt

	bestFundamentalPower := -1.0
	if havePinned {
		bestFundamentalPower = fundamental.Power
	}
	bestSpurPower := -1.0

	for center := skirt; center <= len(averaged)-1-skirt; center++ {
		lo := center - skirt
		hi := center + skirt
		var sum float64
		for i := lo; i <= hi; i++ {
			sum += averaged[i]
		}

		outsideFundamentalExclusion := fundamental.Values == nil || math.Abs(float64(center-fundamental.Bin)) > float64(exclusion)

		if !havePinned && sum > bestFundamentalPower && outsideFundamentalExclusion {
			bestFundamentalPower = sum
			offset := centerOfMass(averaged, lo, hi, center)
			fundamental = toneWindow("Fundamental", center, offset, skirt, bin, bin, averaged)
			continue
		}

		if outsideFundamentalExclusion && sum > bestSpurPower {
			bestSpurPower = sum
			offset := centerOfMass(averaged, lo, hi, center)
			worstSpur = toneWindow("WorstSpur", center, offset, skirt, bin, bin, averaged)
		}
	}

	return spectralResult{
		averaged:    averaged,
		totalPower:  total,
		dc:          dc,
		fundamental: fundamental,
		worstSpur:   worstSpur,
	}
}

// buildHarmonicsAndSpurs places HD2..HD5 and the two interleaving spurs at
// their folded frequencies (§4.4.4).
func buildHarmonicsAndSpurs(f0, fs, bin float64, skirt int, power []float64) (harmonics []Tone, gain, offset Tone) {
	labels := []string{"HD2", "HD3", "HD4", "HD5"}
	for k, label := range labels {
		folded := fold(float64(k+2)*f0, fs)
		peak := int(math.Round(folded / bin))
		peak = max(0, min(peak, len(power)-1))
		off := centerOfMass(power, max(peak-skirt, 0), min(peak+skirt, len(power)-1), peak)
		harmonics = append(harmonics, toneWindow(label, peak, off, skirt, bin, bin, power))
	}

	gFolded := fold(f0+fs/2, fs)
	gPeak := int(math.Round(gFolded / bin))
	gPeak = max(0, min(gPeak, len(power)-1))
	gOff := centerOfMass(power, max(gPeak-skirt, 0), min(gPeak+skirt, len(power)-1), gPeak)
	gain = toneWindow("InterleavingGain", gPeak, gOff, skirt, bin, bin, power)

	oFolded := fs / 2
	oPeak := int(math.Round(oFolded / bin))
	oPeak = max(0, min(oPeak, len(power)-1))
	oOff := centerOfMass(power, max(oPeak-skirt, 0), min(oPeak+skirt, len(power)-1), oPeak)
	offset = toneWindow("InterleavingOffset", oPeak, oOff, skirt, bin, bin, power)
	return
}

// resolveOverlaps applies the exact precedence ordering from §4.4.5:
// harmonics vs. fundamental, harmonics vs. DC, harmonic_j vs. harmonic_i
// for j>i, interleaving-gain vs. fundamental, interleaving-offset vs.
// fundamental, interleaving-gain/offset vs. DC, then vs. each harmonic.
// Returns whether any overlap was found.
func resolveOverlaps(fundamental, dc *Tone, harmonics []Tone, gain, offset *Tone) bool {
	overlap := false
	clash := func(lower, higher *Tone) {
		if lower.overlaps(higher) {
			lower.zeroOverlapWith(higher)
			lower.recompute()
			overlap = true
		}
	}

	for i := range harmonics {
		clash(&harmonics[i], fundamental)
	}
	for i := range harmonics {
		clash(&harmonics[i], dc)
	}
	for j := 1; j < len(harmonics); j++ {
		for i := 0; i < j; i++ {
			clash(&harmonics[j], &harmonics[i])
		}
	}
	clash(gain, fundamental)
	clash(offset, fundamental)
	clash(gain, dc)
	clash(offset, dc)
	for i := range harmonics {
		clash(gain, &harmonics[i])
		clash(offset, &harmonics[i])
	}

	return overlap
}
