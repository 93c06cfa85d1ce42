// Package spectrum provides the FFT plan wrapper and spectrum-domain
// helpers used by the analysis and synthesis stages: real-input
// magnitude transforms, complex forward/inverse transforms, and a
// Goertzel analyzer for single-frequency probing.
package spectrum
