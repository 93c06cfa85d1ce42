package stretch

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync"

	"github.com/DavidCaelum/rubberband/dsp/buffer"
	"github.com/DavidCaelum/rubberband/dsp/calculator"
	"github.com/DavidCaelum/rubberband/dsp/core"
	"github.com/DavidCaelum/rubberband/dsp/curve"
	"github.com/DavidCaelum/rubberband/dsp/spectrum"
	"github.com/DavidCaelum/rubberband/dsp/window"
)

const (
	defaultIncrement  = 256
	defaultWindowSize = 2048

	// rtLogSize bounds the realtime introspection rings.
	rtLogSize = 16
)

type mode int

const (
	modeJustCreated mode = iota
	modeStudying
	modeProcessing
	modeFinished
)

// Stretcher is the stretch orchestrator. It owns the per-channel STFT
// pipelines, the detection curves and the stretch calculator, and
// coordinates them under the offline (study/process) or realtime
// protocol.
//
// All public methods must be called from a single goroutine; in
// threaded mode the Stretcher manages its own per-channel workers.
type Stretcher struct {
	sampleRate int
	channels   int
	options    Options

	timeRatio  float64
	pitchScale float64

	logger     *slog.Logger
	debugLevel int

	realtime bool
	threaded bool

	rateMultiple          float64
	baseWindowSize        int
	windowSize            int
	increment             int
	outbufSize            int
	maxProcessSize        int
	expectedInputDuration int

	mode mode

	windows *window.Cache
	win     *window.Window

	studyFFT     *spectrum.FFT
	studyScratch []float64
	studyMag     []float64
	mixdown      *buffer.Buffer

	channelData []*channelData

	// consumed is the per-channel progress scratch for Process,
	// allocated once so the realtime path stays allocation-free.
	consumed []int

	inputDuration int

	phaseResetDf     []float64
	stretchDf        []float64
	outputIncrements []int
	// internalTarget is the schedule's total internal output; emission
	// is capped against it so offline durations land on the ratio.
	internalTarget int

	lastProcessOutputIncrements *buffer.Ring
	lastProcessPhaseResetDf     *buffer.Ring

	phaseResetCurve curve.Curve
	stretchCurve    curve.Curve
	calc            *calculator.Calculator

	// rtMag holds the cross-channel mean magnitude feeding the live
	// detection curve.
	rtMag []float64

	freq0, freq1, freq2 float64

	// Worker coordination, threaded offline mode only.
	threadSetMu    sync.Mutex
	workerWakes    []chan struct{}
	spaceAvailable chan struct{}
	quit           chan struct{}
	workerWG       sync.WaitGroup
	workersRunning bool
}

// Option configures a Stretcher beyond the fixed flag set.
type Option func(*Stretcher)

// WithLogger routes diagnostics to the given structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Stretcher) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDebugLevel sets the initial diagnostic verbosity.
func WithDebugLevel(level int) Option {
	return func(s *Stretcher) {
		s.debugLevel = level
	}
}

// New constructs a stretcher for the given stream layout.
//
// timeRatio is output duration over input duration; pitchScale is
// output frequency over input frequency. Both must be positive.
func New(sampleRate, channels int, options Options, timeRatio, pitchScale float64, opts ...Option) (*Stretcher, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("stretch: sample rate must be > 0: %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("stretch: channel count must be > 0: %d", channels)
	}
	if timeRatio <= 0 || math.IsNaN(timeRatio) || math.IsInf(timeRatio, 0) {
		return nil, fmt.Errorf("stretch: time ratio must be positive and finite: %f", timeRatio)
	}
	if pitchScale <= 0 || math.IsNaN(pitchScale) || math.IsInf(pitchScale, 0) {
		return nil, fmt.Errorf("stretch: pitch scale must be positive and finite: %f", pitchScale)
	}

	s := &Stretcher{
		sampleRate: sampleRate,
		channels:   channels,
		options:    options,
		timeRatio:  timeRatio,
		pitchScale: pitchScale,
		logger:     slog.Default(),
		mode:       modeJustCreated,
		windows:    window.NewCache(window.TypeHann),
		freq0:      600,
		freq1:      1200,
		freq2:      12000,

		lastProcessOutputIncrements: buffer.NewRing(rtLogSize),
		lastProcessPhaseResetDf:     buffer.NewRing(rtLogSize),

		consumed: make([]int, channels),
		mixdown:  buffer.New(0),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	// The window scales with the sample rate but never drops below the
	// 48k default.
	s.rateMultiple = float64(sampleRate) / 48000
	if s.rateMultiple < 1 {
		s.rateMultiple = 1
	}
	s.baseWindowSize = core.RoundUpPow2(int(defaultWindowSize * s.rateMultiple))

	if options.has(OptionWindowShort) || options.has(OptionWindowLong) {
		switch {
		case options.has(OptionWindowShort) && options.has(OptionWindowLong):
			s.logger.Warn("stretch: cannot use short and long window together; using standard window")
			s.options &^= OptionWindowShort | OptionWindowLong
		case options.has(OptionWindowShort):
			s.baseWindowSize /= 2
		default:
			s.baseWindowSize *= 2
		}
	}

	s.windowSize = s.baseWindowSize
	s.increment = defaultIncrement
	s.outbufSize = s.baseWindowSize * 2
	s.maxProcessSize = s.baseWindowSize

	if s.options.has(OptionProcessRealTime) {
		s.realtime = true

		if !s.options.has(OptionStretchPrecise) {
			s.logger.Info("stretch: realtime mode enables precise stretching")
			s.options |= OptionStretchPrecise
		}
	}

	if channels > 1 && !s.realtime &&
		!s.options.has(OptionThreadingNone) &&
		runtime.NumCPU() > 1 {
		s.threaded = true

		if s.debugLevel > 0 {
			s.logger.Debug("stretch: using per-channel workers", "channels", channels)
		}
	}

	if err := s.configure(); err != nil {
		return nil, err
	}

	return s, nil
}

// Close joins any workers and releases them. The stretcher must not be
// used afterwards.
func (s *Stretcher) Close() {
	s.stopWorkers()
}

// Reset returns the stretcher to its just-created state, preserving
// ratios, options and allocations. Workers are joined first, so unlike
// a mid-stream reset this is safe in threaded mode.
func (s *Stretcher) Reset() {
	s.stopWorkers()

	s.threadSetMu.Lock()
	defer s.threadSetMu.Unlock()

	for _, cd := range s.channelData {
		cd.reset()
		if !s.realtime {
			cd.inbuf.Zero(s.windowSize / 2)
			cd.startSkip = s.windowSize / 2
		}
	}

	s.mode = modeJustCreated
	if s.phaseResetCurve != nil {
		s.phaseResetCurve.Reset()
	}
	if s.stretchCurve != nil {
		s.stretchCurve.Reset()
	}
	if s.calc != nil {
		s.calc.Reset()
	}

	s.inputDuration = 0
	s.phaseResetDf = s.phaseResetDf[:0]
	s.stretchDf = s.stretchDf[:0]
	s.outputIncrements = s.outputIncrements[:0]
	s.internalTarget = 0
	s.lastProcessOutputIncrements.Reset()
	s.lastProcessPhaseResetDf.Reset()
}

// SetTimeRatio updates the time ratio. In offline mode this is only
// permitted before studying or processing begins.
func (s *Stretcher) SetTimeRatio(ratio float64) {
	if ratio <= 0 || math.IsNaN(ratio) || math.IsInf(ratio, 0) {
		s.logger.Warn("stretch: ignoring invalid time ratio", "ratio", ratio)
		return
	}

	if !s.realtime && (s.mode == modeStudying || s.mode == modeProcessing) {
		s.logger.Warn("stretch: cannot set time ratio while studying or processing in offline mode")
		return
	}

	if ratio == s.timeRatio {
		return
	}
	s.timeRatio = ratio

	s.reconfigure()
}

// SetPitchScale updates the pitch scale. In offline mode this is only
// permitted before studying or processing begins.
func (s *Stretcher) SetPitchScale(scale float64) {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		s.logger.Warn("stretch: ignoring invalid pitch scale", "scale", scale)
		return
	}

	if !s.realtime && (s.mode == modeStudying || s.mode == modeProcessing) {
		s.logger.Warn("stretch: cannot set pitch scale while studying or processing in offline mode")
		return
	}

	if scale == s.pitchScale {
		return
	}
	s.pitchScale = scale

	s.reconfigure()
}

// TimeRatio returns the caller's time ratio, never the effective one.
func (s *Stretcher) TimeRatio() float64 { return s.timeRatio }

// PitchScale returns the current pitch scale.
func (s *Stretcher) PitchScale() float64 { return s.pitchScale }

// EffectiveRatio returns the ratio the internal stretcher works to.
//
// A pitch shift is achieved by an additional time stretch followed by
// resampling back, so the internal ratio carries the pitchScale factor
// that the resampler later removes.
func (s *Stretcher) EffectiveRatio() float64 {
	return s.timeRatio * s.pitchScale
}

// SampleRate returns the construction sample rate.
func (s *Stretcher) SampleRate() int { return s.sampleRate }

// Channels returns the construction channel count.
func (s *Stretcher) Channels() int { return s.channels }

// Latency returns the output delay in samples: zero offline, half a
// window corrected for the pitch resampler in realtime mode.
func (s *Stretcher) Latency() int {
	if !s.realtime {
		return 0
	}

	return int(float64(s.windowSize/2)/s.pitchScale) + 1
}

// SetExpectedInputDuration hints the total input length in samples.
// Only meaningful in offline mode before studying; it keeps the
// analysis hop small enough for very short inputs.
func (s *Stretcher) SetExpectedInputDuration(samples int) {
	if samples < 0 || samples == s.expectedInputDuration {
		return
	}
	s.expectedInputDuration = samples

	s.reconfigure()
}

// SetMaxProcessSize grows the largest block a single Process call may
// carry. Shrinking is a no-op.
func (s *Stretcher) SetMaxProcessSize(samples int) {
	if samples <= s.maxProcessSize {
		return
	}
	s.maxProcessSize = samples

	s.reconfigure()
}

// SetDebugLevel adjusts diagnostic verbosity, including the
// calculator's.
func (s *Stretcher) SetDebugLevel(level int) {
	s.debugLevel = level
	if s.calc != nil {
		s.calc.SetDebugLevel(level)
	}
}

// SetTransientsOption switches transient handling mid-stream. Only
// permitted in realtime mode.
func (s *Stretcher) SetTransientsOption(options Options) {
	if !s.realtime {
		s.logger.Warn("stretch: transients option can only be changed in realtime mode")
		return
	}

	s.options &^= transientsMask
	s.options |= options & transientsMask

	s.calc.SetUseHardPeaks(!s.options.has(OptionTransientsSmooth))
}

// SetPhaseOption switches the phase-locking policy consumed by the
// synthesis stage. Safe to change mid-stream in any mode.
func (s *Stretcher) SetPhaseOption(options Options) {
	s.options &^= phaseMask
	s.options |= options & phaseMask
}

// SetFrequencyCutoff updates one of the three named cutoffs used by
// the adaptive phase-locking bands.
func (s *Stretcher) SetFrequencyCutoff(n int, f float64) {
	switch n {
	case 0:
		s.freq0 = f
	case 1:
		s.freq1 = f
	case 2:
		s.freq2 = f
	default:
		s.logger.Warn("stretch: unknown frequency cutoff index", "index", n)
	}
}

// FrequencyCutoff returns the named cutoff in Hz, or 0 for an unknown
// index.
func (s *Stretcher) FrequencyCutoff(n int) float64 {
	switch n {
	case 0:
		return s.freq0
	case 1:
		return s.freq1
	case 2:
		return s.freq2
	}
	return 0
}

// SamplesRequired returns how many samples the caller should feed to
// the next Process call so every channel can form a full analysis
// chunk. It never grows as the rings fill.
func (s *Stretcher) SamplesRequired() int {
	required := 0

	for _, cd := range s.channelData {
		rs := cd.inbuf.ReadSpace()

		if rs >= s.windowSize || cd.draining.Load() {
			continue
		}

		if cd.inputSize.Load() == inputSizeUnknown {
			if need := s.windowSize - rs; need > required {
				required = need
			}
			continue
		}

		if rs == 0 && s.windowSize > required {
			required = s.windowSize
		}
	}

	return required
}

// OutputIncrements returns the materialised offline schedule, or
// drains the recent realtime increments.
func (s *Stretcher) OutputIncrements() []int {
	if !s.realtime {
		out := make([]int, len(s.outputIncrements))
		copy(out, s.outputIncrements)
		return out
	}

	var out []int
	for {
		v, ok := s.lastProcessOutputIncrements.ReadOne()
		if !ok {
			break
		}
		out = append(out, int(v))
	}
	return out
}

// PhaseResetCurve returns the studied phase-reset DF sequence, or
// drains the recent realtime values.
func (s *Stretcher) PhaseResetCurve() []float64 {
	if !s.realtime {
		out := make([]float64, len(s.phaseResetDf))
		copy(out, s.phaseResetDf)
		return out
	}

	var out []float64
	for {
		v, ok := s.lastProcessPhaseResetDf.ReadOne()
		if !ok {
			break
		}
		out = append(out, v)
	}
	return out
}

// ExactTimePoints returns the chunk indices of every peak the calculator
// identified, hard or soft. Offline only; empty in realtime mode.
func (s *Stretcher) ExactTimePoints() []int {
	var points []int
	if s.realtime {
		return points
	}

	for _, p := range s.calc.LastCalculatedPeaks() {
		points = append(points, p.Chunk)
	}
	return points
}

// calculateStretch runs the calculator over the studied curves and
// appends the result to the schedule.
func (s *Stretcher) calculateStretch() {
	increments := s.calc.Calculate(s.EffectiveRatio(), s.inputDuration, s.phaseResetDf, s.stretchDf)

	s.outputIncrements = append(s.outputIncrements, increments...)

	s.internalTarget = 0
	for _, v := range s.outputIncrements {
		if v < 0 {
			v = -v
		}
		s.internalTarget += v
	}
}
