// Package resample provides single-channel streaming sample-rate
// conversion with a per-block, smoothly variable ratio.
//
// Quality modes:
//   - QualityFast: 2-point linear interpolation
//   - QualityBalanced: 4-point cubic Hermite (default choice)
//   - QualityBest: reserved hint, currently equals QualityBalanced
//
// The Stream type carries interpolation history across blocks so a
// long signal can be fed in arbitrary block sizes, and the ratio may
// differ between blocks without discontinuities.
package resample
