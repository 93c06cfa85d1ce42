// Package interp provides fractional-sample interpolation primitives
// used by the streaming resampler.
//
// Available methods, from cheapest to highest quality:
//
//   - [LagrangeInterpolator] with order 1: 2-point linear interpolation
//   - [Hermite4]: 4-point cubic Hermite (good default)
package interp
