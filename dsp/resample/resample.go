package resample

import (
	"errors"
	"fmt"

	"github.com/DavidCaelum/rubberband/dsp/interp"
)

var (
	// ErrInvalidRatio indicates a non-positive resampling ratio.
	ErrInvalidRatio = errors.New("resample: invalid ratio")
)

// Quality selects the interpolation kernel.
type Quality int

const (
	// QualityFast uses 2-point linear interpolation.
	QualityFast Quality = iota
	// QualityBalanced uses 4-point cubic Hermite interpolation.
	QualityBalanced
	// QualityBest currently aliases QualityBalanced. It is a distinct
	// hint so callers can opt in when a longer kernel lands.
	QualityBest
)

// historyLen is the number of trailing input samples carried between
// Process calls for interpolation continuity.
const historyLen = 3

// Stream is a single-channel streaming resampler. The conversion ratio
// (output samples per input sample) is passed per block and may change
// smoothly between blocks, which is how a pitch scale change mid-stream
// is realised.
//
// Stream is not safe for concurrent use; each channel owns one.
type Stream struct {
	quality  Quality
	maxBlock int

	// work holds history + current block; pos is the fractional read
	// position within work.
	work []float64
	pos  float64

	out []float64
}

// NewStream returns a streaming resampler. maxBlock bounds the input
// block length a single Process call will accept and sizes the internal
// buffers up front so steady-state processing does not allocate.
func NewStream(quality Quality, maxBlock int) (*Stream, error) {
	if maxBlock <= 0 {
		return nil, fmt.Errorf("resample: max block size must be > 0: %d", maxBlock)
	}

	return &Stream{
		quality:  quality,
		maxBlock: maxBlock,
		work:     make([]float64, historyLen, historyLen+maxBlock+historyLen),
		pos:      historyLen - 1,
		out:      make([]float64, 0, maxBlock*4),
	}, nil
}

// Quality returns the configured kernel quality.
func (s *Stream) Quality() Quality { return s.quality }

// MaxBlock returns the largest input block a Process call accepts.
func (s *Stream) MaxBlock() int { return s.maxBlock }

// Process converts one block at the given ratio and returns the
// produced samples. The returned slice is owned by the Stream and is
// valid until the next call. final flushes the interpolation tail.
func (s *Stream) Process(in []float64, ratio float64, final bool) ([]float64, error) {
	if ratio <= 0 {
		return nil, ErrInvalidRatio
	}
	if len(in) > s.maxBlock {
		return nil, fmt.Errorf("resample: block of %d exceeds maximum %d", len(in), s.maxBlock)
	}

	s.work = append(s.work, in...)
	if final {
		// Pad so the kernel can read past the last real sample.
		s.work = append(s.work, 0, 0, 0)
	}

	step := 1 / ratio
	s.out = s.out[:0]

	// The kernel needs samples floor(pos)-1 .. floor(pos)+2.
	for int(s.pos)+2 < len(s.work) {
		s.out = append(s.out, s.interpolate(s.pos))
		s.pos += step
	}

	// Retain the interpolation tail and rebase the position.
	keep := int(s.pos) - 1
	if keep < 0 {
		keep = 0
	}
	if keep > len(s.work)-historyLen {
		keep = len(s.work) - historyLen
	}
	if keep > 0 {
		n := copy(s.work, s.work[keep:])
		s.work = s.work[:n]
		s.pos -= float64(keep)
	}

	if final {
		s.work = s.work[:historyLen]
		for i := range s.work {
			s.work[i] = 0
		}
		s.pos = historyLen - 1
	}

	return s.out, nil
}

// Reset clears all carried state.
func (s *Stream) Reset() {
	s.work = s.work[:historyLen]
	for i := range s.work {
		s.work[i] = 0
	}
	s.pos = historyLen - 1
	s.out = s.out[:0]
}

func (s *Stream) interpolate(pos float64) float64 {
	idx := int(pos)
	frac := pos - float64(idx)

	if s.quality == QualityFast {
		return s.work[idx] + frac*(s.work[idx+1]-s.work[idx])
	}

	xm1 := 0.0
	if idx > 0 {
		xm1 = s.work[idx-1]
	}

	return interp.Hermite4(frac, xm1, s.work[idx], s.work[idx+1], s.work[idx+2])
}
