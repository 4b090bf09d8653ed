package adqcore

import "math"

// fold reflects a frequency into the first Nyquist zone [0, fs/2] by
// triangle-wave aliasing around the sampling frequency, the same folding a
// real ADC performs on any input above Nyquist (§4.4.4, §8 property 4).
func fold(f, fs float64) float64 {
	if fs <= 0 {
		return 0
	}
	nyquist := fs / 2
	f = math.Mod(f, fs)
	if f < 0 {
		f += fs
	}
	if f > nyquist {
		f = fs - f
	}
	return f
}
