// Package stretch implements a real-time-capable audio time-stretching
// and pitch-shifting engine.
//
// The Stretcher consumes multi-channel planar PCM and produces output
// of altered duration (time ratio) and/or altered pitch (pitch scale).
// Internally it stretches by timeRatio*pitchScale using a phase-vocoder
// STFT pipeline, then resamples each channel's output by 1/pitchScale
// so the requested pitch change lands on the requested duration.
//
// Two protocols are supported. Offline: feed the whole input to Study,
// then the same samples to Process; the studied detection curves let
// the stretch be placed in low-interest regions. Realtime
// (OptionProcessRealTime): skip Study and call Process block by block;
// analysis, scheduling and synthesis happen on the fly under a
// no-allocation steady-state discipline.
package stretch
