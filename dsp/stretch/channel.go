package stretch

import (
	"fmt"
	"sync/atomic"

	"github.com/DavidCaelum/rubberband/dsp/buffer"
	"github.com/DavidCaelum/rubberband/dsp/core"
	"github.com/DavidCaelum/rubberband/dsp/resample"
	"github.com/DavidCaelum/rubberband/dsp/spectrum"
)

// inputSizeUnknown is the sentinel meaning "final input length not yet
// known" for channelData.inputSize.
const inputSizeUnknown = -1

// channelData carries all per-channel processing state. In threaded
// mode each instance is owned by exactly one worker goroutine; the
// rings are the only structures shared with the orchestrator thread.
type channelData struct {
	inbuf  *buffer.Ring
	outbuf *buffer.Ring

	// One plan per candidate window size, so a realtime size switch
	// never builds a plan on the hot path.
	ffts map[int]*spectrum.FFT
	fft  *spectrum.FFT

	windowSize int

	timeBuf           []float64
	spec              []complex128
	mag               []float64
	phase             []float64
	prevPhase         []float64
	sumPhase          []float64
	accumulator       []float64
	windowAccumulator []float64
	emitBuf           []float64
	peakBins          []int

	resampler *resample.Stream

	inCount     int
	internalOut int
	outCount    int
	chunkIndex  int

	// startSkip discards the synthesis of the centring prefill so the
	// first emitted sample lines up with the first input sample.
	startSkip int

	prevPhaseValid bool

	// inputSize is written by the orchestrator thread on the final
	// process call and read by the channel worker.
	inputSize atomic.Int64
	draining  atomic.Bool
	drained   atomic.Bool
}

// newChannelData sizes every buffer for the largest of the candidate
// window sizes, so later size switches reuse the same memory.
func newChannelData(windowSizes []int, windowSize, outbufSize int) (*channelData, error) {
	maxSize := windowSize
	for _, ws := range windowSizes {
		if ws > maxSize {
			maxSize = ws
		}
	}

	cd := &channelData{
		inbuf:  buffer.NewRing(maxSize * 2),
		outbuf: buffer.NewRing(outbufSize),
		ffts:   make(map[int]*spectrum.FFT),
	}

	for _, ws := range windowSizes {
		if _, ok := cd.ffts[ws]; ok {
			continue
		}

		fft, err := spectrum.NewFFT(ws)
		if err != nil {
			return nil, fmt.Errorf("channel data: %w", err)
		}
		cd.ffts[ws] = fft
	}

	maxBins := maxSize/2 + 1

	cd.timeBuf = make([]float64, maxSize)
	cd.spec = make([]complex128, maxSize)
	cd.mag = make([]float64, maxBins)
	cd.phase = make([]float64, maxBins)
	cd.prevPhase = make([]float64, maxBins)
	cd.sumPhase = make([]float64, maxBins)
	cd.accumulator = make([]float64, maxSize)
	cd.windowAccumulator = make([]float64, maxSize)
	cd.emitBuf = make([]float64, maxSize)
	cd.peakBins = make([]int, 0, maxBins)

	if err := cd.setWindowSize(windowSize); err != nil {
		return nil, err
	}

	cd.inputSize.Store(inputSizeUnknown)

	return cd, nil
}

// setWindowSize switches the active analysis size. A plan missing from
// the up-front set is created here; realtime callers check
// hasWindowSize first to warn about that allocation.
func (cd *channelData) setWindowSize(size int) error {
	fft, ok := cd.ffts[size]
	if !ok {
		created, err := spectrum.NewFFT(size)
		if err != nil {
			return fmt.Errorf("channel data: %w", err)
		}
		cd.ffts[size] = created
		fft = created
	}

	if size > len(cd.timeBuf) {
		return fmt.Errorf("channel data: window size %d exceeds allocated %d", size, len(cd.timeBuf))
	}

	cd.fft = fft
	cd.windowSize = size
	cd.prevPhaseValid = false

	return nil
}

// hasWindowSize reports whether a plan for size already exists.
func (cd *channelData) hasWindowSize(size int) bool {
	_, ok := cd.ffts[size]
	return ok
}

// setOutbufSize grows the output ring, preserving unread samples.
// Shrinking is ignored.
func (cd *channelData) setOutbufSize(size int) {
	if size <= cd.outbuf.Cap() {
		return
	}

	grown := buffer.NewRing(size)
	scratch := make([]float64, cd.outbuf.ReadSpace())
	n := cd.outbuf.Read(scratch)
	grown.Write(scratch[:n])
	cd.outbuf = grown
}

// reset returns the channel to its just-created state, keeping all
// allocations.
func (cd *channelData) reset() {
	cd.inbuf.Reset()
	cd.outbuf.Reset()

	core.Zero(cd.accumulator)
	core.Zero(cd.windowAccumulator)
	core.Zero(cd.prevPhase)
	core.Zero(cd.sumPhase)

	cd.inCount = 0
	cd.internalOut = 0
	cd.startSkip = 0
	cd.outCount = 0
	cd.chunkIndex = 0
	cd.prevPhaseValid = false
	cd.inputSize.Store(inputSizeUnknown)
	cd.draining.Store(false)
	cd.drained.Store(false)

	if cd.resampler != nil {
		cd.resampler.Reset()
	}
}
