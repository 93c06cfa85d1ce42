package stretch

import "time"

// spaceWait bounds the orchestrator's wait for worker progress. It is
// a liveness safeguard, not a failure signal.
const spaceWait = 500 * time.Millisecond

// workerIdleTick is the worker's fallback poll interval while waiting
// for a wake signal.
const workerIdleTick = 50 * time.Millisecond

// Process feeds one block of planar input and advances synthesis.
// inputs holds one slice per channel with at least samples entries.
// The last block must set final; no further Process calls are then
// accepted. Output accumulates in the per-channel rings and is fetched
// with Retrieve.
func (s *Stretcher) Process(inputs [][]float64, samples int, final bool) {
	if s.mode == modeFinished {
		s.logger.Warn("stretch: cannot process again after the final block")
		return
	}

	if len(inputs) < s.channels || samples < 0 {
		s.logger.Warn("stretch: process input shape mismatch",
			"channels", len(inputs), "expected", s.channels)
		return
	}

	if s.mode == modeJustCreated || s.mode == modeStudying {
		if s.mode == modeStudying {
			s.calculateStretch()
		}

		// The same half-window prefill as study, so synthesis chunk k
		// sees the samples study chunk k analysed.
		for _, cd := range s.channelData {
			cd.reset()
			if !s.realtime {
				cd.inbuf.Zero(s.windowSize / 2)
				cd.startSkip = s.windowSize / 2
			}
		}

		if s.threaded {
			s.startWorkers()
		}

		s.mode = modeProcessing
	}

	for c := range s.consumed {
		s.consumed[c] = 0
	}

	for {
		// "consumed" counts samples handed to the input rings in every
		// mode; the single-threaded offline path then processes them.
		allConsumed := true
		progressed := false

		for c, cd := range s.channelData {
			n := s.consumeChannel(cd, inputs[c], s.consumed[c], samples)
			s.consumed[c] += n
			if n > 0 {
				progressed = true
			}

			if s.consumed[c] < samples {
				allConsumed = false
			} else if final {
				cd.inputSize.Store(int64(cd.inCount))
			}

			if !s.threaded && !s.realtime {
				s.processChunks(cd)
			}
		}

		if s.realtime {
			// All channels advance in step so the channel-averaged
			// spectrum can drive a single transient decision.
			s.processOneChunk()
		}

		if s.threaded {
			s.wakeWorkers()
			if !allConsumed {
				s.waitForSpace()
			}
		}

		if allConsumed {
			break
		}

		// Single-threaded modes cannot free space while the caller
		// holds the output unread; bail out rather than spin.
		if !s.threaded && !progressed {
			s.logger.Warn("stretch: too much data for one process call; pace input with SamplesRequired and drain with Retrieve")
			break
		}
	}

	if final {
		s.mode = modeFinished
	}
}

// consumeChannel writes as much input as the channel ring accepts and
// returns the count written. A short return signals backpressure; the
// caller paces itself with SamplesRequired.
func (s *Stretcher) consumeChannel(cd *channelData, input []float64, offset, samples int) int {
	consumed := offset

	for consumed < samples {
		writable := cd.inbuf.WriteSpace()
		if writable > samples-consumed {
			writable = samples - consumed
		}

		if writable == 0 {
			return consumed - offset
		}

		cd.inbuf.Write(input[consumed : consumed+writable])
		consumed += writable
		cd.inCount += writable
	}

	return consumed - offset
}

// Available returns the number of output samples ready on every
// channel, or -1 once processing has finished and all output has been
// retrieved.
func (s *Stretcher) Available() int {
	// After the final block, single-threaded channels can only make
	// progress here as the caller drains the rings.
	if s.mode == modeFinished {
		switch {
		case s.realtime:
			s.processOneChunk()
		case !s.threaded:
			for _, cd := range s.channelData {
				if !cd.drained.Load() {
					s.processChunks(cd)
				}
			}
		}
	}

	avail := -1
	for _, cd := range s.channelData {
		rs := cd.outbuf.ReadSpace()
		if avail == -1 || rs < avail {
			avail = rs
		}
	}

	if avail > 0 || s.mode != modeFinished {
		if avail < 0 {
			avail = 0
		}
		return avail
	}

	for _, cd := range s.channelData {
		if !cd.drained.Load() {
			return 0
		}
	}

	return -1
}

// Retrieve reads up to samples output frames into the planar outputs,
// keeping all channels in step. It returns the count actually read.
func (s *Stretcher) Retrieve(outputs [][]float64, samples int) int {
	if len(outputs) < s.channels || samples <= 0 {
		return 0
	}

	n := samples
	for _, cd := range s.channelData {
		if rs := cd.outbuf.ReadSpace(); rs < n {
			n = rs
		}
	}

	if n <= 0 {
		return 0
	}

	for c, cd := range s.channelData {
		cd.outbuf.Read(outputs[c][:n])
	}

	return n
}

// startWorkers launches one goroutine per channel. Each worker owns
// its channel data; the rings are the only shared state.
func (s *Stretcher) startWorkers() {
	s.threadSetMu.Lock()
	defer s.threadSetMu.Unlock()

	if s.workersRunning {
		return
	}

	s.quit = make(chan struct{})
	s.spaceAvailable = make(chan struct{}, 1)
	s.workerWakes = make([]chan struct{}, len(s.channelData))

	for c := range s.channelData {
		wake := make(chan struct{}, 1)
		s.workerWakes[c] = wake

		s.workerWG.Add(1)
		go s.runWorker(s.channelData[c], wake)
	}

	s.workersRunning = true

	if s.debugLevel > 0 {
		s.logger.Debug("stretch: workers started", "count", len(s.channelData))
	}
}

func (s *Stretcher) runWorker(cd *channelData, wake chan struct{}) {
	defer s.workerWG.Done()

	for {
		s.processChunks(cd)
		s.signalSpace()

		if cd.drained.Load() {
			return
		}

		select {
		case <-wake:
		case <-s.quit:
			s.processChunks(cd)
			s.signalSpace()
			return
		case <-time.After(workerIdleTick):
		}
	}
}

// stopWorkers joins all workers. Safe to call when none are running.
func (s *Stretcher) stopWorkers() {
	s.threadSetMu.Lock()
	defer s.threadSetMu.Unlock()

	if !s.workersRunning {
		return
	}

	close(s.quit)
	s.workerWG.Wait()

	s.workersRunning = false
	s.workerWakes = nil
}

func (s *Stretcher) wakeWorkers() {
	for _, wake := range s.workerWakes {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
}

func (s *Stretcher) signalSpace() {
	select {
	case s.spaceAvailable <- struct{}{}:
	default:
	}
}

func (s *Stretcher) waitForSpace() {
	select {
	case <-s.spaceAvailable:
	case <-time.After(spaceWait):
	}
}
