package curve

import "fmt"

// Curve maps successive magnitude spectra to scalar detection-function
// values. Implementations are stateful: each Process call may compare
// against the previous frame.
type Curve interface {
	// Process consumes one magnitude spectrum (windowSize/2+1 bins) and
	// the input hop that produced it, returning the DF value.
	Process(mag []float64, increment int) float64
	// Reset clears inter-frame state.
	Reset()
	// SetWindowSize resizes internal state for a new analysis size.
	SetWindowSize(size int)
}

// percussiveRiseRatio is the per-bin magnitude rise treated as
// percussive energy, about 3 dB.
const percussiveRiseRatio = 1.4125375446227544

// Percussive measures the fraction of bins whose magnitude rose sharply
// since the previous frame. Transients light up broad bin ranges at
// once, so values near 1 indicate a percussive onset.
type Percussive struct {
	sampleRate int
	prev       []float64
	haveFrame  bool
}

// NewPercussive returns a percussive onset curve for the given analysis
// window size.
func NewPercussive(sampleRate, windowSize int) (*Percussive, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("curve sample rate must be > 0: %d", sampleRate)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("curve window size must be > 0: %d", windowSize)
	}

	p := &Percussive{sampleRate: sampleRate}
	p.SetWindowSize(windowSize)

	return p, nil
}

// Process returns the fraction of bins rising by at least 3 dB.
func (p *Percussive) Process(mag []float64, _ int) float64 {
	n := len(mag)
	if n > len(p.prev) {
		n = len(p.prev)
	}

	count := 0
	for i := 1; i < n; i++ {
		rising := mag[i] > p.prev[i]*percussiveRiseRatio
		if p.haveFrame && rising {
			count++
		}
		p.prev[i] = mag[i]
	}
	p.haveFrame = true

	if n <= 1 {
		return 0
	}

	return float64(count) / float64(n-1)
}

// Reset clears the previous-frame state.
func (p *Percussive) Reset() {
	for i := range p.prev {
		p.prev[i] = 0
	}
	p.haveFrame = false
}

// SetWindowSize resizes the previous-frame buffer and resets. Existing
// capacity is reused, so shrinking never allocates.
func (p *Percussive) SetWindowSize(size int) {
	n := size/2 + 1
	if cap(p.prev) >= n {
		p.prev = p.prev[:n]
	} else {
		p.prev = make([]float64, n)
	}

	p.Reset()
}

// HighFrequency weights each bin's magnitude by its bin index, tracking
// spectral novelty that concentrates in the upper bands.
type HighFrequency struct {
	sampleRate int
	bins       int
}

// NewHighFrequency returns a high-frequency content curve.
func NewHighFrequency(sampleRate, windowSize int) (*HighFrequency, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("curve sample rate must be > 0: %d", sampleRate)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("curve window size must be > 0: %d", windowSize)
	}

	return &HighFrequency{sampleRate: sampleRate, bins: windowSize/2 + 1}, nil
}

// Process returns the index-weighted magnitude sum, normalised by the
// bin count so values stay comparable across window sizes.
func (h *HighFrequency) Process(mag []float64, _ int) float64 {
	n := len(mag)
	if n > h.bins {
		n = h.bins
	}

	sum := 0.0
	for i := 0; i < n; i++ {
		sum += mag[i] * float64(i)
	}

	if n == 0 {
		return 0
	}

	return sum / float64(n)
}

// Reset is a no-op; the curve carries no inter-frame state.
func (h *HighFrequency) Reset() {}

// SetWindowSize updates the bin count for a new analysis size.
func (h *HighFrequency) SetWindowSize(size int) {
	h.bins = size/2 + 1
}

// Constant returns the same DF value for every frame. Used as the
// stretch curve when precise (evenly distributed) stretching is
// requested: with no novelty signal, the calculator spreads the stretch
// uniformly.
type Constant struct {
	value float64
}

// NewConstant returns a curve that always yields 1.
func NewConstant(sampleRate, windowSize int) (*Constant, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("curve sample rate must be > 0: %d", sampleRate)
	}
	if windowSize <= 0 {
		return nil, fmt.Errorf("curve window size must be > 0: %d", windowSize)
	}

	return &Constant{value: 1}, nil
}

// Process returns the constant value.
func (c *Constant) Process(_ []float64, _ int) float64 { return c.value }

// Reset is a no-op.
func (c *Constant) Reset() {}

// SetWindowSize is a no-op.
func (c *Constant) SetWindowSize(_ int) {}
