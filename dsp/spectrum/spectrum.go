package spectrum

import (
	"sync"

	"github.com/cwbudde/algo-vecmath"
)

// scratchBuf holds pooled scratch memory for complex-to-real unpacking.
type scratchBuf struct {
	data []float64
}

var scratchPool = sync.Pool{
	New: func() any { return &scratchBuf{} },
}

func getScratch(n int) (re, im []float64, buf *scratchBuf) {
	buf = scratchPool.Get().(*scratchBuf)
	need := 2 * n
	if cap(buf.data) < need {
		buf.data = make([]float64, need)
	} else {
		buf.data = buf.data[:need]
	}
	return buf.data[:n], buf.data[n:need], buf
}

func putScratch(buf *scratchBuf) {
	scratchPool.Put(buf)
}

// Magnitude returns |X[k]| for each complex spectrum bin.
//
// Scratch buffers are pooled internally, so in steady state this
// allocates only the output slice.
func Magnitude(in []complex128) []float64 {
	if len(in) == 0 {
		return nil
	}

	out := make([]float64, len(in))
	MagnitudeInto(out, in)
	return out
}

// MagnitudeInto computes |X[k]| for the first len(dst) bins of in.
// This is the zero-allocation path for hot loops.
func MagnitudeInto(dst []float64, in []complex128) {
	n := len(dst)
	if n > len(in) {
		n = len(in)
		dst = dst[:n]
	}

	re, im, buf := getScratch(n)
	for i := 0; i < n; i++ {
		re[i] = real(in[i])
		im[i] = imag(in[i])
	}

	vecmath.Magnitude(dst, re, im)
	putScratch(buf)
}
