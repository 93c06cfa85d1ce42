package calculator

import (
	"fmt"
	"math"
)

// Peak marks an analysis chunk chosen as a transient. Hard peaks force
// a phase reset and receive no stretching of their own.
type Peak struct {
	Chunk int
	Hard  bool
}

// Calculator converts detection-function curves plus a target ratio
// into per-chunk output increments.
//
// A negative value in the returned schedule flags a phase-reset chunk;
// its magnitude is the output increment to use. This sign convention is
// shared with the synthesis stage.
type Calculator struct {
	sampleRate   int
	increment    int
	useHardPeaks bool
	debugLevel   int

	peaks []Peak

	// Realtime state: short DF history for the adaptive transient
	// threshold, fractional-increment carry, and a hold-off counter so
	// a single transient is not reset twice.
	rtHistory []float64
	rtCarry   float64
	rtHoldOff int
}

// rtHistoryLen frames of DF history back the realtime threshold.
const rtHistoryLen = 16

// minHoldOffChunks spaces consecutive realtime phase resets.
const minHoldOffChunks = 2

// New returns a calculator for the given input hop.
func New(sampleRate, increment int, useHardPeaks bool) (*Calculator, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("calculator sample rate must be > 0: %d", sampleRate)
	}
	if increment <= 0 {
		return nil, fmt.Errorf("calculator increment must be > 0: %d", increment)
	}

	return &Calculator{
		sampleRate:   sampleRate,
		increment:    increment,
		useHardPeaks: useHardPeaks,
		rtHistory:    make([]float64, 0, rtHistoryLen),
	}, nil
}

// SetUseHardPeaks switches between hard (phase-resetting) and soft
// transient handling.
func (c *Calculator) SetUseHardPeaks(use bool) {
	c.useHardPeaks = use
}

// SetDebugLevel stores the diagnostic verbosity. The calculator itself
// logs nothing; the level is retained for parity with the orchestrator.
func (c *Calculator) SetDebugLevel(level int) {
	c.debugLevel = level
}

// Increment returns the input hop the calculator was built for.
func (c *Calculator) Increment() int { return c.increment }

// LastCalculatedPeaks returns the peaks identified by the most recent
// Calculate call.
func (c *Calculator) LastCalculatedPeaks() []Peak {
	return c.peaks
}

// Calculate produces one output increment per analysis chunk such that
// the total output equals round(inputDuration * ratio). Every chunk gets
// at least one sample, so a target too small for that is exceeded.
// Stretching is
// steered away from high-novelty chunks: quiet regions absorb the
// stretch, transients keep close to the natural increment.
func (c *Calculator) Calculate(ratio float64, inputDuration int, phaseResetDf, stretchDf []float64) []int {
	n := len(phaseResetDf)
	c.peaks = nil

	if n == 0 || inputDuration <= 0 || ratio <= 0 {
		return nil
	}

	totalOutput := int(math.Round(float64(inputDuration) * ratio))
	if totalOutput < n {
		totalOutput = n
	}

	c.peaks = c.findPeaks(phaseResetDf)

	hard := make([]bool, n)
	for _, p := range c.peaks {
		if p.Hard && p.Chunk < n {
			hard[p.Chunk] = true
		}
	}

	weights := stretchWeights(stretchDf, n, ratio)

	// Hard-peak chunks advance by the plain increment (no stretch),
	// clamped so squashing still converges.
	increments := make([]int, n)
	fixed := 0
	hardCount := 0
	for i := range increments {
		if !hard[i] {
			continue
		}

		v := c.increment
		if ratio < 1 {
			v = int(math.Max(1, math.Floor(float64(c.increment)*ratio)))
		}
		increments[i] = v
		fixed += v
		hardCount++
	}

	remaining := totalOutput - fixed
	free := n - hardCount
	if free > 0 && remaining < free {
		// The schedule must stay positive everywhere: if squashing left
		// too little, each free chunk still gets one sample and the
		// total then exceeds the target. Hard chunks keep their value.
		remaining = free
	}

	if free > 0 {
		weightSum := 0.0
		for i := range weights {
			if !hard[i] {
				weightSum += weights[i]
			}
		}
		if weightSum <= 0 {
			weightSum = float64(free)
			for i := range weights {
				weights[i] = 1
			}
		}

		// Integer rounding with running error carry keeps the exact
		// total without a second normalisation pass.
		carry := 0.0
		assigned := 0
		seen := 0
		for i := range increments {
			if hard[i] {
				continue
			}
			seen++

			share := float64(remaining) * weights[i] / weightSum
			v := int(math.Floor(share + carry + 0.5))
			if v < 1 {
				v = 1
			}
			if seen == free {
				v = remaining - assigned
				if v < 1 {
					v = 1
				}
			}
			carry += share - float64(v)
			assigned += v
			increments[i] = v
		}
	}

	// Flag phase resets by sign.
	for i := range increments {
		if hard[i] {
			increments[i] = -increments[i]
		}
	}

	return increments
}

// CalculateSingle produces the next realtime output increment from a
// single live DF value. A negative return flags a phase reset.
func (c *Calculator) CalculateSingle(ratio float64, df float64) int {
	transient := false
	if c.useHardPeaks && c.rtHoldOff == 0 && c.isRtTransient(df) {
		transient = true
		c.rtHoldOff = minHoldOffChunks
	} else if c.rtHoldOff > 0 {
		c.rtHoldOff--
	}

	c.pushRtHistory(df)

	target := float64(c.increment)*ratio + c.rtCarry
	out := int(math.Floor(target + 0.5))
	if out < 1 {
		out = 1
	}
	c.rtCarry = target - float64(out)

	if transient {
		return -out
	}

	return out
}

// Reset clears realtime state and the recorded peaks.
func (c *Calculator) Reset() {
	c.peaks = nil
	c.rtHistory = c.rtHistory[:0]
	c.rtCarry = 0
	c.rtHoldOff = 0
}

// findPeaks scans the phase-reset DF for local maxima that stand well
// above the level of the whole curve (its mean plus two standard
// deviations, at least 0.1).
func (c *Calculator) findPeaks(df []float64) []Peak {
	n := len(df)
	if n < 3 {
		return nil
	}

	mean := 0.0
	for _, v := range df {
		mean += v
	}
	mean /= float64(n)

	variance := 0.0
	for _, v := range df {
		d := v - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / float64(n))

	threshold := mean + 2*stddev
	if threshold < 0.1 {
		threshold = 0.1
	}

	var peaks []Peak
	lastChunk := -minHoldOffChunks - 1
	for i := 1; i < n-1; i++ {
		if df[i] < threshold || df[i] < df[i-1] || df[i] <= df[i+1] {
			continue
		}
		if i-lastChunk <= minHoldOffChunks {
			continue
		}
		peaks = append(peaks, Peak{Chunk: i, Hard: c.useHardPeaks})
		lastChunk = i
	}

	return peaks
}

func (c *Calculator) isRtTransient(df float64) bool {
	if len(c.rtHistory) < 3 {
		return false
	}

	mean := 0.0
	for _, v := range c.rtHistory {
		mean += v
	}
	mean /= float64(len(c.rtHistory))

	threshold := mean*3 + 0.1

	return df > threshold
}

func (c *Calculator) pushRtHistory(df float64) {
	if len(c.rtHistory) == rtHistoryLen {
		copy(c.rtHistory, c.rtHistory[1:])
		c.rtHistory = c.rtHistory[:rtHistoryLen-1]
	}
	c.rtHistory = append(c.rtHistory, df)
}

// stretchWeights converts the stretch DF into per-chunk distribution
// weights. When stretching, low-novelty chunks take more of the
// stretch; when squashing, high-novelty chunks are squashed less.
func stretchWeights(stretchDf []float64, n int, ratio float64) []float64 {
	weights := make([]float64, n)

	maxDf := 0.0
	for i := 0; i < n && i < len(stretchDf); i++ {
		if stretchDf[i] > maxDf {
			maxDf = stretchDf[i]
		}
	}

	for i := range weights {
		df := 0.0
		if i < len(stretchDf) && maxDf > 0 {
			df = stretchDf[i] / maxDf
		}

		if ratio >= 1 {
			weights[i] = 1.25 - df
		} else {
			weights[i] = 0.25 + df
		}
		if weights[i] < 0.25 {
			weights[i] = 0.25
		}
	}

	return weights
}
