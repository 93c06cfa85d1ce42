package stretch

import "math"

// normFloor guards the overlap-add normalisation against division by
// vanishing window energy at frame edges.
const normFloor = 1e-12

// analyseChunk peeks one analysis frame from the input ring, windows
// it and fills the channel's magnitude and phase spectra. Short frames
// near the end of input are zero-padded.
func (s *Stretcher) analyseChunk(cd *channelData) bool {
	ws := cd.windowSize
	frame := cd.timeBuf[:ws]

	got := cd.inbuf.Peek(frame)
	for i := got; i < ws; i++ {
		frame[i] = 0
	}

	if err := s.win.Cut(frame); err != nil {
		s.logger.Warn("stretch: analysis window mismatch", "error", err)
		return false
	}

	if err := cd.fft.Forward(cd.spec, frame); err != nil {
		s.logger.Warn("stretch: analysis FFT failed", "error", err)
		return false
	}

	bins := ws/2 + 1
	for k := 0; k < bins; k++ {
		re := real(cd.spec[k])
		im := imag(cd.spec[k])
		cd.mag[k] = math.Hypot(re, im)
		cd.phase[k] = math.Atan2(im, re)
	}

	return true
}

// synthesiseChunk advances the phase-vocoder state by one chunk and
// overlap-adds the synthesised frame into the channel accumulator.
// A phase reset snaps the synthesis phase to the analysis phase,
// reproducing the transient frame exactly.
func (s *Stretcher) synthesiseChunk(cd *channelData, outIncrement int, phaseReset bool) {
	ws := cd.windowSize
	bins := ws/2 + 1

	if phaseReset || !cd.prevPhaseValid {
		copy(cd.sumPhase[:bins], cd.phase[:bins])
	} else {
		s.advancePhase(cd, outIncrement)

		for k := 0; k < bins; k++ {
			sin, cos := math.Sincos(cd.sumPhase[k])
			cd.spec[k] = complex(cd.mag[k]*cos, cd.mag[k]*sin)
		}

		// Mirror for a real-valued inverse transform.
		cd.spec[0] = complex(real(cd.spec[0]), 0)
		cd.spec[ws/2] = complex(real(cd.spec[ws/2]), 0)
		for k := 1; k < ws/2; k++ {
			v := cd.spec[k]
			cd.spec[ws-k] = complex(real(v), -imag(v))
		}
	}

	copy(cd.prevPhase[:bins], cd.phase[:bins])
	cd.prevPhaseValid = true

	frame := cd.timeBuf[:ws]
	if err := cd.fft.Inverse(frame, cd.spec); err != nil {
		s.logger.Warn("stretch: synthesis FFT failed", "error", err)
		return
	}

	for i := 0; i < ws; i++ {
		w := s.win.Value(i)
		cd.accumulator[i] += frame[i] * w
		cd.windowAccumulator[i] += w * w
	}
}

// advancePhase applies the configured phase-locking policy for one
// chunk of outIncrement synthesis samples.
func (s *Stretcher) advancePhase(cd *channelData, outIncrement int) {
	ws := cd.windowSize
	bins := ws/2 + 1
	inc := float64(s.increment)
	outInc := float64(outIncrement)

	switch {
	case s.options.has(OptionPhaseIndependent):
		for k := 0; k < bins; k++ {
			cd.sumPhase[k] += s.binAdvance(cd, k, inc, outInc)
		}

	case s.options.has(OptionPhaseAdaptive):
		// Lock the mid band to its peaks; the extremes track their
		// own bins, where locking audibly smears bass and air.
		lowBin := s.cutoffBin(s.freq0, ws)
		highBin := s.cutoffBin(s.freq2, ws)
		s.lockToPeaks(cd, lowBin, highBin, inc, outInc)

		for k := 0; k < lowBin && k < bins; k++ {
			cd.sumPhase[k] += s.binAdvance(cd, k, inc, outInc)
		}
		for k := highBin; k < bins; k++ {
			cd.sumPhase[k] += s.binAdvance(cd, k, inc, outInc)
		}

	default:
		// Peak-locked across the whole spectrum.
		s.lockToPeaks(cd, 0, bins, inc, outInc)
	}
}

// binAdvance returns the synthesis phase advance for one bin from its
// measured instantaneous frequency.
func (s *Stretcher) binAdvance(cd *channelData, k int, inc, outInc float64) float64 {
	omega := 2 * math.Pi * float64(k) / float64(cd.windowSize)

	delta := cd.phase[k] - cd.prevPhase[k] - omega*inc
	delta = wrapPhase(delta)

	instFreq := omega + delta/inc

	return instFreq * outInc
}

// lockToPeaks advances the phase of spectral peaks in [from, to) by
// their instantaneous frequencies and locks every other bin in the
// range to its nearest peak, preserving the analysed phase offsets.
func (s *Stretcher) lockToPeaks(cd *channelData, from, to int, inc, outInc float64) {
	bins := cd.windowSize/2 + 1
	if to > bins {
		to = bins
	}
	if from < 0 {
		from = 0
	}
	if from >= to {
		return
	}

	cd.peakBins = cd.peakBins[:0]
	for k := from + 1; k < to-1; k++ {
		if cd.mag[k] >= cd.mag[k-1] && cd.mag[k] > cd.mag[k+1] {
			cd.peakBins = append(cd.peakBins, k)
		}
	}

	if len(cd.peakBins) == 0 {
		for k := from; k < to; k++ {
			cd.sumPhase[k] += s.binAdvance(cd, k, inc, outInc)
		}
		return
	}

	for _, pk := range cd.peakBins {
		cd.sumPhase[pk] += s.binAdvance(cd, pk, inc, outInc)
	}

	peakIdx := 0
	for k := from; k < to; k++ {
		for peakIdx+1 < len(cd.peakBins) {
			curr := cd.peakBins[peakIdx]
			next := cd.peakBins[peakIdx+1]
			if absInt(next-k) < absInt(curr-k) {
				peakIdx++
			} else {
				break
			}
		}

		pk := cd.peakBins[peakIdx]
		if k != pk {
			cd.sumPhase[k] = cd.sumPhase[pk] + (cd.phase[k] - cd.phase[pk])
		}
	}
}

// emitChunk normalises the ready head of the accumulator, resamples it
// for the pitch scale, writes it to the output ring and advances the
// overlap-add position by outIncrement.
func (s *Stretcher) emitChunk(cd *channelData, outIncrement int, flush bool) {
	ws := cd.windowSize

	n := outIncrement
	if n > ws {
		n = ws
	}

	skip := 0
	if cd.startSkip > 0 {
		skip = cd.startSkip
		if skip > n {
			skip = n
		}
		cd.startSkip -= skip
	}

	// Offline runs stop emitting at the target total so the output
	// duration lands on the requested ratio.
	if target := s.internalCap(cd); target >= 0 {
		if remaining := target - cd.internalOut; n-skip > remaining {
			n = remaining + skip
			if n < skip {
				n = skip
			}
		}
	}

	for i := skip; i < n; i++ {
		denom := cd.windowAccumulator[i]
		if denom > normFloor {
			cd.emitBuf[i] = cd.accumulator[i] / denom
		} else {
			cd.emitBuf[i] = 0
		}
	}
	cd.internalOut += n - skip

	s.writeOutput(cd, cd.emitBuf[skip:n], flush)

	// Slide the overlap-add position by the full increment even when
	// the emission was clipped by the schedule.
	shift := outIncrement
	if shift > ws {
		shift = ws
	}
	copy(cd.accumulator, cd.accumulator[shift:ws])
	copy(cd.windowAccumulator, cd.windowAccumulator[shift:ws])
	for i := ws - shift; i < ws; i++ {
		cd.accumulator[i] = 0
		cd.windowAccumulator[i] = 0
	}
}

// writeOutput routes finished samples through the pitch resampler when
// one is active and into the channel's output ring.
func (s *Stretcher) writeOutput(cd *channelData, samples []float64, flush bool) {
	out := samples

	if cd.resampler != nil && s.pitchScale != 1 {
		converted, err := cd.resampler.Process(samples, 1/s.pitchScale, flush)
		if err != nil {
			s.logger.Warn("stretch: output resampling failed", "error", err)
			return
		}
		out = converted
	}

	if len(out) == 0 {
		return
	}

	written := cd.outbuf.Write(out)
	if written < len(out) {
		s.logger.Warn("stretch: output ring overflow, dropping samples",
			"dropped", len(out)-written)
	}
	cd.outCount += written
}

// flushChannel emits whatever tail the accumulator still holds after
// the last chunk, closes the resampler stream and marks the channel
// drained.
func (s *Stretcher) flushChannel(cd *channelData) {
	if cd.drained.Load() {
		return
	}

	ws := cd.windowSize

	// Wait for the consumer if the tail might not fit; the flush is
	// retried from Available or the worker loop.
	if cd.outbuf.WriteSpace() < s.outputSpaceNeeded(ws) {
		return
	}

	tail := 0
	for tail < ws && cd.windowAccumulator[tail] > normFloor {
		tail++
	}

	skip := 0
	if cd.startSkip > 0 {
		skip = cd.startSkip
		if skip > tail {
			skip = tail
		}
		cd.startSkip -= skip
	}

	if target := s.internalCap(cd); target >= 0 {
		if remaining := target - cd.internalOut; tail-skip > remaining {
			tail = remaining + skip
			if tail < skip {
				tail = skip
			}
		}
	}

	for i := skip; i < tail; i++ {
		cd.emitBuf[i] = cd.accumulator[i] / cd.windowAccumulator[i]
	}
	cd.internalOut += tail - skip

	s.writeOutput(cd, cd.emitBuf[skip:tail], true)

	cd.draining.Store(true)
	cd.drained.Store(true)
}

// chunkReady reports whether the channel can form another analysis
// chunk, zero-padding once the final input length is known.
func (s *Stretcher) chunkReady(cd *channelData) bool {
	rs := cd.inbuf.ReadSpace()
	if rs >= cd.windowSize {
		return true
	}

	return cd.inputSize.Load() != inputSizeUnknown && rs > 0
}

// nextIncrement fetches the channel's next scheduled output increment.
// Past the end of the schedule it falls back to the nominal increment
// for the effective ratio.
func (s *Stretcher) nextIncrement(cd *channelData) (int, bool) {
	if cd.chunkIndex < len(s.outputIncrements) {
		v := s.outputIncrements[cd.chunkIndex]
		if v < 0 {
			return -v, true
		}
		return v, false
	}

	v := int(math.Round(float64(s.increment) * s.EffectiveRatio()))
	if v < 1 {
		v = 1
	}
	return v, false
}

// processChunks drains every ready chunk for one channel, stopping
// when the output ring lacks room for another chunk. Used by the
// offline paths; the channel must be owned by the calling goroutine.
func (s *Stretcher) processChunks(cd *channelData) {
	for s.chunkReady(cd) {
		outIncrement, phaseReset := s.nextIncrement(cd)

		// Backpressure: hold the chunk until the consumer drains the
		// output ring rather than dropping synthesised samples.
		if cd.outbuf.WriteSpace() < s.outputSpaceNeeded(outIncrement) {
			return
		}

		if !s.analyseChunk(cd) {
			return
		}
		s.synthesiseChunk(cd, outIncrement, phaseReset)
		s.emitChunk(cd, outIncrement, false)

		skip := s.increment
		if rs := cd.inbuf.ReadSpace(); skip > rs {
			skip = rs
		}
		cd.inbuf.Skip(skip)
		cd.chunkIndex++
	}

	if cd.inputSize.Load() != inputSizeUnknown && cd.inbuf.ReadSpace() == 0 {
		s.flushChannel(cd)
	}
}

// rtChunkReady reports whether every channel can advance one chunk in
// lockstep.
func (s *Stretcher) rtChunkReady() bool {
	for _, cd := range s.channelData {
		rs := cd.inbuf.ReadSpace()
		if rs >= cd.windowSize {
			continue
		}
		if cd.inputSize.Load() != inputSizeUnknown && rs > 0 {
			continue
		}
		return false
	}
	return true
}

// processOneChunk advances all channels together, deriving the live
// transient decision from the channel-averaged spectrum so every
// channel resets phase at the same instant.
func (s *Stretcher) processOneChunk() {
	for s.rtChunkReady() {
		for _, cd := range s.channelData {
			if !s.analyseChunk(cd) {
				return
			}
		}

		bins := s.windowSize/2 + 1
		mag := s.rtMag[:bins]
		scale := 1 / float64(s.channels)
		for k := 0; k < bins; k++ {
			sum := 0.0
			for _, cd := range s.channelData {
				sum += cd.mag[k]
			}
			mag[k] = sum * scale
		}

		df := s.phaseResetCurve.Process(mag, s.increment)
		outIncrement := s.calc.CalculateSingle(s.EffectiveRatio(), df)

		phaseReset := outIncrement < 0
		if phaseReset {
			outIncrement = -outIncrement
		}

		s.logRealtimeChunk(df, outIncrement)

		for _, cd := range s.channelData {
			s.synthesiseChunk(cd, outIncrement, phaseReset)
			s.emitChunk(cd, outIncrement, false)

			skip := s.increment
			if rs := cd.inbuf.ReadSpace(); skip > rs {
				skip = rs
			}
			cd.inbuf.Skip(skip)
			cd.chunkIndex++
		}
	}

	for _, cd := range s.channelData {
		if cd.inputSize.Load() != inputSizeUnknown && cd.inbuf.ReadSpace() == 0 {
			s.flushChannel(cd)
		}
	}
}

// logRealtimeChunk records the most recent DF value and increment in
// the bounded introspection rings, dropping the oldest entries.
func (s *Stretcher) logRealtimeChunk(df float64, outIncrement int) {
	if !s.lastProcessPhaseResetDf.WriteOne(df) {
		s.lastProcessPhaseResetDf.ReadOne()
		s.lastProcessPhaseResetDf.WriteOne(df)
	}
	if !s.lastProcessOutputIncrements.WriteOne(float64(outIncrement)) {
		s.lastProcessOutputIncrements.ReadOne()
		s.lastProcessOutputIncrements.WriteOne(float64(outIncrement))
	}
}

// internalCap returns the total internal (pre-resampling) output an
// offline run should emit, or -1 when unbounded. The studied schedule
// provides it directly; an unstudied run derives it from the final
// input length once known.
func (s *Stretcher) internalCap(cd *channelData) int {
	if s.realtime {
		return -1
	}

	if s.internalTarget > 0 {
		return s.internalTarget
	}

	if size := cd.inputSize.Load(); size != inputSizeUnknown {
		return int(math.Round(float64(size) * s.EffectiveRatio()))
	}

	return -1
}

// outputSpaceNeeded estimates the output ring space one chunk of
// outIncrement internal samples may occupy after pitch resampling.
func (s *Stretcher) outputSpaceNeeded(outIncrement int) int {
	needed := outIncrement
	if s.pitchScale != 1 {
		needed = int(math.Ceil(float64(outIncrement)/s.pitchScale)) + 8
	}

	return needed
}

// cutoffBin maps a cutoff frequency to a bin index for the given
// window size, clamped to the valid bin range.
func (s *Stretcher) cutoffBin(freq float64, ws int) int {
	bin := int(freq * float64(ws) / float64(s.sampleRate))
	if bin < 0 {
		bin = 0
	}
	if limit := ws/2 + 1; bin > limit {
		bin = limit
	}

	return bin
}

func wrapPhase(x float64) float64 {
	x = math.Mod(x+math.Pi, 2*math.Pi)
	if x < 0 {
		x += 2 * math.Pi
	}

	return x - math.Pi
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}

	return x
}
