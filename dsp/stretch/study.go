package stretch

// Study analyses one block of input ahead of offline processing,
// appending to the detection-function curves. inputs holds one planar
// slice per channel, each with at least samples entries. The final
// call must set final so the trailing partial chunk and the centring
// prefill are accounted for.
func (s *Stretcher) Study(inputs [][]float64, samples int, final bool) {
	if s.realtime {
		if s.debugLevel > 1 {
			s.logger.Debug("stretch: study is not meaningful in realtime mode")
		}
		return
	}

	if s.mode == modeProcessing || s.mode == modeFinished {
		s.logger.Warn("stretch: cannot study after processing has begun")
		return
	}
	s.mode = modeStudying

	if len(inputs) < s.channels || samples < 0 {
		s.logger.Warn("stretch: study input shape mismatch",
			"channels", len(inputs), "expected", s.channels)
		return
	}

	cd := s.channelData[0]
	inbuf := cd.inbuf

	// Multi-channel input is analysed as a mono mixdown. The same
	// happens on a final call so the partial-chunk handling only has
	// one code path.
	var mix []float64
	if s.channels > 1 || final {
		s.mixdown.Resize(samples)
		mix = s.mixdown.Samples()

		for i := 0; i < samples; i++ {
			mix[i] = inputs[0][i]
		}
		for c := 1; c < s.channels; c++ {
			for i := 0; i < samples; i++ {
				mix[i] += inputs[c][i]
			}
		}
		if s.channels > 1 {
			scale := 1 / float64(s.channels)
			for i := range mix {
				mix[i] *= scale
			}
		}
	} else {
		mix = inputs[0][:samples]
	}

	consumed := 0
	for consumed < samples {
		writable := inbuf.WriteSpace()
		if writable > samples-consumed {
			writable = samples - consumed
		}

		if writable == 0 {
			s.logger.Warn("stretch: study input ring full",
				"consumed", consumed, "samples", samples)
		} else {
			inbuf.Write(mix[consumed : consumed+writable])
			consumed += writable
		}

		s.studyChunks(cd, final)
	}

	if final {
		// A final call may arrive with no samples at all; drain any
		// half-window chunks before closing the books.
		s.studyChunks(cd, true)

		// The curves have seen everything; whatever remains readable
		// is real input that never fit a whole chunk.
		s.inputDuration += inbuf.ReadSpace()

		// Deduct the centring prefill, which was counted as if it
		// were input.
		if s.inputDuration > s.windowSize/2 {
			s.inputDuration -= s.windowSize / 2
		}
	}
}

// studyChunks drains every available analysis chunk from the channel-0
// ring into the DF curves.
func (s *Stretcher) studyChunks(cd *channelData, final bool) {
	inbuf := cd.inbuf

	for {
		rs := inbuf.ReadSpace()
		if rs < s.windowSize && !(final && rs >= s.windowSize/2) {
			return
		}

		got := inbuf.Peek(s.studyScratch)
		for i := got; i < s.windowSize; i++ {
			s.studyScratch[i] = 0
		}

		s.win.Cut(s.studyScratch)

		// No fftshift needed here; only the magnitudes matter.
		if err := s.studyFFT.ForwardMagnitude(s.studyScratch, s.studyMag); err != nil {
			s.logger.Warn("stretch: study FFT failed", "error", err)
			return
		}

		df := s.phaseResetCurve.Process(s.studyMag, s.increment)
		s.phaseResetDf = append(s.phaseResetDf, df)

		df = s.stretchCurve.Process(s.studyMag, s.increment)
		s.stretchDf = append(s.stretchDf, df)

		// The input was augmented by half a window so the first chunk
		// is centred on the first sample; the increments summed here
		// include that extra, deducted once at finalisation.
		s.inputDuration += s.increment
		inbuf.Skip(s.increment)
	}
}
