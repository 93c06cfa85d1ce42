package stretch

import (
	"fmt"
	"math"

	"github.com/DavidCaelum/rubberband/dsp/calculator"
	"github.com/DavidCaelum/rubberband/dsp/core"
	"github.com/DavidCaelum/rubberband/dsp/curve"
	"github.com/DavidCaelum/rubberband/dsp/resample"
	"github.com/DavidCaelum/rubberband/dsp/spectrum"
)

// resamplerMaxBlock bounds a single resampler input block. Generous so
// a pitch-scale change mid-stream never forces reallocation.
const resamplerMaxBlock = 4096 * 16

// calculateSizes derives windowSize, increment and outbufSize from the
// current ratios.
func (s *Stretcher) calculateSizes() {
	inputIncrement := defaultIncrement
	windowSize := s.baseWindowSize
	var outputIncrement int

	r := s.EffectiveRatio()

	if s.realtime {
		// Realtime mode uses a fixed input increment.
		inputIncrement = core.RoundUpPow2(int(float64(defaultIncrement) * s.rateMultiple))

		if r < 1 {
			outputIncrement = int(math.Floor(float64(inputIncrement) * r))
			if outputIncrement < 1 {
				outputIncrement = 1
				inputIncrement = core.RoundUpPow2(int(math.Ceil(1 / r)))
				windowSize = inputIncrement * 4
			}
		} else {
			outputIncrement = int(math.Ceil(float64(inputIncrement) * r))
			for outputIncrement > 1024 && inputIncrement > 1 {
				inputIncrement /= 2
				outputIncrement = int(math.Ceil(float64(inputIncrement) * r))
			}

			if rounded := core.RoundUpPow2(outputIncrement * 6); rounded > windowSize {
				windowSize = rounded
			}
			if r > 5 {
				for windowSize < 8192 {
					windowSize *= 2
				}
			}
		}
	} else {
		// Offline mode varies the increment with the ratio.
		if r < 1 {
			inputIncrement = windowSize / 4
			for inputIncrement >= 512 {
				inputIncrement /= 2
			}
			outputIncrement = int(math.Floor(float64(inputIncrement) * r))
			if outputIncrement < 1 {
				outputIncrement = 1
				inputIncrement = core.RoundUpPow2(int(math.Ceil(1 / r)))
				windowSize = inputIncrement * 4
			}
		} else {
			outputIncrement = windowSize / 6
			inputIncrement = int(float64(outputIncrement) / r)
			for outputIncrement > 1024 && inputIncrement > 1 {
				outputIncrement /= 2
				inputIncrement = int(float64(outputIncrement) / r)
			}
			if inputIncrement < 1 {
				inputIncrement = 1
			}

			if rounded := core.RoundUpPow2(outputIncrement * 6); rounded > windowSize {
				windowSize = rounded
			}
			if r > 5 {
				for windowSize < 8192 {
					windowSize *= 2
				}
			}
		}
	}

	if s.expectedInputDuration > 0 {
		for inputIncrement*4 > s.expectedInputDuration && inputIncrement > 1 {
			inputIncrement /= 2
		}
	}

	s.windowSize = windowSize
	s.increment = inputIncrement

	if s.debugLevel > 0 {
		s.logger.Debug("stretch: sizes",
			"effectiveRatio", r,
			"windowSize", s.windowSize,
			"increment", s.increment,
			"outputIncrement", outputIncrement)
	}

	if s.windowSize > s.maxProcessSize {
		s.maxProcessSize = s.windowSize
	}

	stretchFactor := s.timeRatio
	if stretchFactor < 1 {
		stretchFactor = 1
	}
	s.outbufSize = int(math.Ceil(math.Max(
		float64(s.maxProcessSize)/s.pitchScale,
		float64(s.windowSize)*2*stretchFactor)))

	if s.realtime || s.threaded {
		// Headroom: avoids reallocation on pitch changes in realtime
		// mode, and lets workers run ahead of output drainage when
		// threaded.
		s.outbufSize *= 16
	}
}

// configure performs a full (re)build of windows, channel state, curves
// and calculator. Allocation is unrestricted here; in realtime mode it
// runs only at construction, with reconfigure doing later adjustments.
func (s *Stretcher) configure() error {
	prevWindowSize := s.windowSize
	prevOutbufSize := s.outbufSize
	firstConfigure := s.channelData == nil

	s.calculateSizes()

	windowSizeChanged := firstConfigure || prevWindowSize != s.windowSize
	outbufSizeChanged := firstConfigure || prevOutbufSize != s.outbufSize

	windowSizes := []int{s.windowSize}
	if s.realtime {
		// Pre-populate every size a live ratio change can switch to,
		// so the steady state stays allocation-free.
		windowSizes = append(windowSizes,
			s.baseWindowSize, s.baseWindowSize*2, s.baseWindowSize*4)
	}

	if windowSizeChanged {
		for _, size := range windowSizes {
			if _, err := s.windows.Get(size); err != nil {
				return fmt.Errorf("stretch: window setup: %w", err)
			}
		}

		win, err := s.windows.Get(s.windowSize)
		if err != nil {
			return fmt.Errorf("stretch: window setup: %w", err)
		}
		s.win = win

		if s.debugLevel > 0 {
			s.logger.Debug("stretch: window", "size", s.windowSize, "area", s.win.Area())
		}
	}

	if windowSizeChanged || outbufSizeChanged {
		s.channelData = s.channelData[:0]
		for c := 0; c < s.channels; c++ {
			cd, err := newChannelData(windowSizes, s.windowSize, s.outbufSize)
			if err != nil {
				return fmt.Errorf("stretch: channel setup: %w", err)
			}
			s.channelData = append(s.channelData, cd)
		}
	}

	if !s.realtime && windowSizeChanged {
		fft, err := spectrum.NewFFT(s.windowSize)
		if err != nil {
			return fmt.Errorf("stretch: study FFT: %w", err)
		}
		s.studyFFT = fft
		s.studyScratch = make([]float64, s.windowSize)
		s.studyMag = make([]float64, s.windowSize/2+1)
	}

	maxCandidate := s.windowSize
	for _, size := range windowSizes {
		if size > maxCandidate {
			maxCandidate = size
		}
	}
	s.rtMag = make([]float64, maxCandidate/2+1)

	if s.pitchScale != 1 || s.realtime {
		for _, cd := range s.channelData {
			if cd.resampler != nil {
				continue
			}

			rs, err := resample.NewStream(resample.QualityFast, resamplerMaxBlock)
			if err != nil {
				return fmt.Errorf("stretch: resampler setup: %w", err)
			}
			cd.resampler = rs
		}
	}

	// Built at the largest candidate size so a realtime window switch
	// shrinks within existing capacity.
	phaseReset, err := curve.NewPercussive(s.sampleRate, maxCandidate)
	if err != nil {
		return fmt.Errorf("stretch: phase-reset curve: %w", err)
	}
	phaseReset.SetWindowSize(s.windowSize)
	s.phaseResetCurve = phaseReset

	// The stretch curve is only consulted offline; realtime scheduling
	// derives everything from the live phase-reset DF.
	if !s.realtime {
		if s.options.has(OptionStretchPrecise) {
			s.stretchCurve, err = curve.NewConstant(s.sampleRate, s.windowSize)
		} else {
			s.stretchCurve, err = curve.NewHighFrequency(s.sampleRate, s.windowSize)
		}
		if err != nil {
			return fmt.Errorf("stretch: stretch curve: %w", err)
		}
	}

	calc, err := calculator.New(s.sampleRate, s.increment, !s.options.has(OptionTransientsSmooth))
	if err != nil {
		return fmt.Errorf("stretch: calculator: %w", err)
	}
	calc.SetDebugLevel(s.debugLevel)
	s.calc = calc

	s.inputDuration = 0

	// Prefill half a window of silence so the first analysis chunk is
	// centred on the first input sample. Study and process both rely
	// on this to line their chunks up; realtime mode skips it to keep
	// latency down.
	if !s.realtime {
		for _, cd := range s.channelData {
			cd.reset()
			cd.inbuf.Zero(s.windowSize / 2)
			cd.startSkip = s.windowSize / 2
		}
	}

	return nil
}

// reconfigure adjusts to a ratio or limit change. In offline mode it
// defers to configure; in realtime mode it avoids allocation wherever
// the needed state already exists, warning when it does not.
func (s *Stretcher) reconfigure() {
	if !s.realtime {
		if s.mode == modeStudying {
			// Lock in the stretch computed so far, then restart the
			// curves for the remainder.
			s.calculateStretch()
			s.phaseResetDf = s.phaseResetDf[:0]
			s.stretchDf = s.stretchDf[:0]
			s.inputDuration = 0
		}
		if err := s.configure(); err != nil {
			s.logger.Warn("stretch: reconfigure failed", "error", err)
		}
		return
	}

	prevWindowSize := s.windowSize
	prevOutbufSize := s.outbufSize
	prevIncrement := s.increment

	s.calculateSizes()

	// Allocations below salvage missing state; they are not expected
	// in normal realtime use and are flagged when they happen.

	if s.increment != prevIncrement {
		s.logger.Warn("stretch: calculator rebuild required in realtime mode",
			"increment", s.increment)

		calc, err := calculator.New(s.sampleRate, s.increment, !s.options.has(OptionTransientsSmooth))
		if err != nil {
			s.logger.Warn("stretch: calculator rebuild failed", "error", err)
			s.increment = prevIncrement
		} else {
			calc.SetDebugLevel(s.debugLevel)
			s.calc = calc
		}
	}

	if s.windowSize != prevWindowSize {
		if _, ok := s.windows.Lookup(s.windowSize); !ok {
			s.logger.Warn("stretch: window allocation required in realtime mode", "size", s.windowSize)
		}

		win, err := s.windows.Get(s.windowSize)
		if err != nil {
			s.logger.Warn("stretch: window switch failed", "size", s.windowSize, "error", err)
			s.windowSize = prevWindowSize
			return
		}
		s.win = win

		for _, cd := range s.channelData {
			if !cd.hasWindowSize(s.windowSize) {
				s.logger.Warn("stretch: FFT allocation required in realtime mode", "size", s.windowSize)
			}
			if err := cd.setWindowSize(s.windowSize); err != nil {
				s.logger.Warn("stretch: channel window switch failed", "error", err)
			}
		}

		s.phaseResetCurve.SetWindowSize(s.windowSize)

		if len(s.rtMag) < s.windowSize/2+1 {
			s.logger.Warn("stretch: live DF buffer allocation required in realtime mode", "size", s.windowSize)
			s.rtMag = make([]float64, s.windowSize/2+1)
		}
	}

	if s.outbufSize != prevOutbufSize {
		for _, cd := range s.channelData {
			cd.setOutbufSize(s.outbufSize)
		}
	}

	if s.pitchScale != 1 {
		for _, cd := range s.channelData {
			if cd.resampler != nil {
				continue
			}

			s.logger.Warn("stretch: resampler construction required in realtime mode")

			rs, err := resample.NewStream(resample.QualityFast, resamplerMaxBlock)
			if err != nil {
				s.logger.Warn("stretch: resampler construction failed", "error", err)
				continue
			}
			cd.resampler = rs
		}
	}
}
