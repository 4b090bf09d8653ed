// Package window implements the memoized window-function cache shared by
// every DSP pipeline: Hamming, Blackman-Harris, Hanning, and flat-top
// windows keyed by (kind, length), each carrying precomputed
// amplitude/energy scale factors. Entries are write-once-per-key and
// immutable once inserted, so lookups never copy or mutate a window's
// sample slice.
package window

import (
	"fmt"
	"sync"

	gonumwindow "gonum.org/v1/gonum/dsp/window"
)

// Kind identifies a window function. The zero value, KindNone, is the
// unit window (no shaping).
type Kind int

const (
	KindNone Kind = iota
	KindHamming
	KindBlackmanHarris
	KindHanning
	KindFlatTop
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "None"
	case KindHamming:
		return "Hamming"
	case KindBlackmanHarris:
		return "BlackmanHarris"
	case KindHanning:
		return "Hanning"
	case KindFlatTop:
		return "FlatTop"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Window is an immutable, shared window instance. AmplitudeFactor is
// (L/sum(w))^2 and EnergyFactor is L/sum(w^2); both matter only for
// amplitude/energy-scaled presentation, never for the energy-accurate
// values spectral analysis itself uses.
type Window struct {
	Kind            Kind
	Length          int
	Samples         []float64
	AmplitudeFactor float64
	EnergyFactor    float64
}

type key struct {
	kind   Kind
	length int
}

// Cache is a write-once-per-key, lookup-many store of Windows. The zero
// value is not usable; construct with NewCache. A short critical section
// guards lookup/insert; the windows handed out are never mutated
// afterward, so callers may share a *Window across goroutines freely.
type Cache struct {
	mu      sync.Mutex
	windows map[key]*Window
}

// NewCache returns an empty Cache.
func NewCache() *Cache {
	return &Cache{windows: make(map[key]*Window)}
}

// Get returns the Window for (kind, length), building and memoizing it on
// first use. Repeated calls with the same key return the identical
// *Window instance.
func (c *Cache) Get(kind Kind, length int) (*Window, error) {
	if length <= 0 {
		return nil, fmt.Errorf("window: length must be positive, got %d", length)
	}
	k := key{kind, length}

	c.mu.Lock()
	defer c.mu.Unlock()
	if w, ok := c.windows[k]; ok {
		return w, nil
	}
	w, err := build(kind, length)
	if err != nil {
		return nil, err
	}
	c.windows[k] = w
	return w, nil
}

func build(kind Kind, length int) (*Window, error) {
	samples := make([]float64, length)
	for i := range samples {
		samples[i] = 1
	}
	switch kind {
	case KindNone:
		// unit window: leave samples as all ones.
	case KindHamming:
		samples = gonumwindow.Hamming(samples)
	case KindBlackmanHarris:
		samples = gonumwindow.BlackmanHarris(samples)
	case KindHanning:
		samples = gonumwindow.Hann(samples)
	case KindFlatTop:
		samples = gonumwindow.FlatTop(samples)
	default:
		return nil, fmt.Errorf("window: unknown kind %v", kind)
	}

	var sum, sumSquares float64
	for _, s := range samples {
		sum += s
		sumSquares += s * s
	}
	L := float64(length)
	ratio := L / sum
	return &Window{
		Kind:            kind,
		Length:          length,
		Samples:         samples,
		AmplitudeFactor: ratio * ratio,
		EnergyFactor:    L / sumSquares,
	}, nil
}

// defaultCache is the process-wide window cache (§5: "the window cache is
// the only process-wide mutable structure; it is write-once-per-key").
var defaultCache = NewCache()

// Default returns the process-wide Cache shared by all pipelines.
func Default() *Cache { return defaultCache }
