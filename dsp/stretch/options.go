package stretch

// Options is a bit set controlling engine behaviour. Flags are fixed at
// construction except where a setter explicitly allows changing them.
type Options uint32

const (
	// OptionProcessRealTime selects the one-pass block protocol with
	// bounded latency. Implies OptionStretchPrecise.
	OptionProcessRealTime Options = 1 << iota
	// OptionStretchPrecise distributes the stretch uniformly instead
	// of following the high-frequency novelty curve.
	OptionStretchPrecise
	// OptionWindowShort halves the base analysis window.
	OptionWindowShort
	// OptionWindowLong doubles the base analysis window.
	OptionWindowLong
	// OptionThreadingNone disables per-channel worker threads.
	OptionThreadingNone
	// OptionThreadingAlways is informational; multi-channel offline
	// processing already threads whenever it can.
	OptionThreadingAlways
	// OptionTransientsCrisp is the default transient handling.
	OptionTransientsCrisp
	// OptionTransientsMixed is accepted and treated as crisp.
	OptionTransientsMixed
	// OptionTransientsSmooth disables hard phase-reset peaks.
	OptionTransientsSmooth
	// OptionPhaseAdaptive locks phase within cutoff-delimited bands.
	OptionPhaseAdaptive
	// OptionPhasePeakLocked locks phase to spectral peaks (default).
	OptionPhasePeakLocked
	// OptionPhaseIndependent advances every bin independently.
	OptionPhaseIndependent
)

const transientsMask = OptionTransientsCrisp | OptionTransientsMixed | OptionTransientsSmooth

const phaseMask = OptionPhaseAdaptive | OptionPhasePeakLocked | OptionPhaseIndependent

func (o Options) has(flag Options) bool {
	return o&flag != 0
}
