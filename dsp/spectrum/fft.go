package spectrum

import (
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// FFT wraps a cached transform plan for one frame size, with real-input
// helpers for STFT analysis and synthesis. It is not safe for
// concurrent use; each channel worker owns its own instance.
type FFT struct {
	size int
	plan *algofft.Plan[complex128]
	work []complex128
}

// NewFFT creates a plan for the given power-of-two frame size.
func NewFFT(size int) (*FFT, error) {
	if size <= 0 || size&(size-1) != 0 {
		return nil, fmt.Errorf("fft size must be a positive power of two: %d", size)
	}

	plan, err := algofft.NewPlan64(size)
	if err != nil {
		return nil, fmt.Errorf("fft plan creation failed for size %d: %w", size, err)
	}

	return &FFT{
		size: size,
		plan: plan,
		work: make([]complex128, size),
	}, nil
}

// Size returns the frame size the plan was built for.
func (f *FFT) Size() int { return f.size }

// Bins returns the number of non-redundant bins, size/2 + 1.
func (f *FFT) Bins() int { return f.size/2 + 1 }

// Forward transforms a real time-domain frame into dst. timeDomain must
// have the plan size; dst must have at least the plan size.
func (f *FFT) Forward(dst []complex128, timeDomain []float64) error {
	if len(timeDomain) != f.size || len(dst) < f.size {
		return fmt.Errorf("fft forward: frame length %d, dst length %d, plan size %d",
			len(timeDomain), len(dst), f.size)
	}

	for i, x := range timeDomain {
		f.work[i] = complex(x, 0)
	}

	if err := f.plan.Forward(dst[:f.size], f.work); err != nil {
		return fmt.Errorf("fft forward transform failed: %w", err)
	}

	return nil
}

// ForwardMagnitude transforms a real frame and writes the magnitude of
// the first size/2+1 bins into mag.
func (f *FFT) ForwardMagnitude(timeDomain []float64, mag []float64) error {
	if len(mag) < f.Bins() {
		return fmt.Errorf("fft magnitude output length %d, need %d", len(mag), f.Bins())
	}

	if err := f.Forward(f.work, timeDomain); err != nil {
		return err
	}

	MagnitudeInto(mag[:f.Bins()], f.work)

	return nil
}

// Inverse transforms src back to the time domain, writing the real part
// into dstTime. src must hold a conjugate-symmetric spectrum of the plan
// size; dstTime must have the plan size.
func (f *FFT) Inverse(dstTime []float64, src []complex128) error {
	if len(src) < f.size || len(dstTime) != f.size {
		return fmt.Errorf("fft inverse: src length %d, dst length %d, plan size %d",
			len(src), len(dstTime), f.size)
	}

	if err := f.plan.Inverse(f.work, src[:f.size]); err != nil {
		return fmt.Errorf("fft inverse transform failed: %w", err)
	}

	for i := range dstTime {
		dstTime[i] = real(f.work[i])
	}

	return nil
}
