package window

import (
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// Type identifies a window function.
type Type int

const (
	TypeRectangular Type = iota
	TypeHann
	TypeHamming
	TypeBlackman
)

var cosineCoeffsByType = map[Type][]float64{
	TypeHann:     {0.5, -0.5},
	TypeHamming:  {0.54, -0.46},
	TypeBlackman: {0.42, -0.5, 0.08},
}

// Generate returns window coefficients of the given length in periodic
// (FFT framing) form.
func Generate(t Type, length int) []float64 {
	if length <= 0 {
		return nil
	}

	out := make([]float64, length)
	coeffs, ok := cosineCoeffsByType[t]

	for i := range out {
		if !ok {
			out[i] = 1
			continue
		}

		x := float64(i) / float64(length)
		out[i] = cosineFromCoeffs(x, coeffs)
	}

	return out
}

// Window holds precomputed coefficients for one window size, ready for
// repeated in-place application on analysis and synthesis frames.
type Window struct {
	typ    Type
	coeffs []float64
	area   float64
}

// New precomputes a window of the given type and size.
func New(t Type, size int) (*Window, error) {
	if err := validateLength(size); err != nil {
		return nil, err
	}

	coeffs := Generate(t, size)

	area := 0.0
	for _, c := range coeffs {
		area += c
	}

	return &Window{typ: t, coeffs: coeffs, area: area}, nil
}

// Type returns the window type.
func (w *Window) Type() Type { return w.typ }

// Size returns the window length in samples.
func (w *Window) Size() int { return len(w.coeffs) }

// Area returns the sum of the coefficients.
func (w *Window) Area() float64 { return w.area }

// Coeffs exposes the coefficient slice. Callers must not modify it.
func (w *Window) Coeffs() []float64 { return w.coeffs }

// Cut multiplies buf in place by the window coefficients. buf must have
// exactly the window size.
func (w *Window) Cut(buf []float64) error {
	if len(buf) != len(w.coeffs) {
		return errMismatchedLength
	}

	vecmath.MulBlockInPlace(buf, w.coeffs)

	return nil
}

// Value returns the coefficient at index i, or 0 out of range.
func (w *Window) Value(i int) float64 {
	if i < 0 || i >= len(w.coeffs) {
		return 0
	}

	return w.coeffs[i]
}

func cosineFromCoeffs(x float64, coeffs []float64) float64 {
	phase := 2 * math.Pi * x

	sum := 0.0
	for k, c := range coeffs {
		sum += c * math.Cos(float64(k)*phase)
	}

	return sum
}
