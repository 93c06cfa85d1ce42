package resample

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidCaelum/rubberband/internal/testutil"
)

func TestNewStreamValidation(t *testing.T) {
	_, err := NewStream(QualityBalanced, 0)
	require.Error(t, err)

	s, err := NewStream(QualityBalanced, 1024)
	require.NoError(t, err)
	assert.Equal(t, 1024, s.MaxBlock())
	assert.Equal(t, QualityBalanced, s.Quality())
}

func TestProcessRejectsBadInput(t *testing.T) {
	s, err := NewStream(QualityBalanced, 16)
	require.NoError(t, err)

	_, err = s.Process(make([]float64, 4), 0, false)
	assert.ErrorIs(t, err, ErrInvalidRatio)

	_, err = s.Process(make([]float64, 32), 1, false)
	assert.Error(t, err)
}

func TestUnityRatioPreservesLength(t *testing.T) {
	s, err := NewStream(QualityBalanced, 4096)
	require.NoError(t, err)

	in := testutil.DeterministicSine(440, 48000, 1.0, 4096)

	out, err := s.Process(in, 1.0, true)
	require.NoError(t, err)
	assert.InDelta(t, len(in), len(out), 4)
}

func TestHalfRatioHalvesLength(t *testing.T) {
	s, err := NewStream(QualityBalanced, 4096)
	require.NoError(t, err)

	total := 0
	for block := 0; block < 8; block++ {
		in := testutil.DeterministicSine(440, 48000, 1.0, 1024)
		out, err := s.Process(in, 0.5, block == 7)
		require.NoError(t, err)
		total += len(out)
	}

	assert.InDelta(t, 4096, total, 8)
}

func TestDoubleRatioDoublesLength(t *testing.T) {
	s, err := NewStream(QualityBalanced, 4096)
	require.NoError(t, err)

	in := testutil.DeterministicNoise(3, 0.5, 2000)
	out, err := s.Process(in, 2.0, true)
	require.NoError(t, err)
	assert.InDelta(t, 4000, len(out), 8)
}

func TestBlockSizeInvariance(t *testing.T) {
	const ratio = 0.75

	sig := testutil.DeterministicSine(1000, 48000, 1.0, 4800)

	oneShot, err := NewStream(QualityBalanced, 8192)
	require.NoError(t, err)
	whole, err := oneShot.Process(sig, ratio, true)
	require.NoError(t, err)
	wholeCopy := append([]float64(nil), whole...)

	chunked, err := NewStream(QualityBalanced, 8192)
	require.NoError(t, err)

	var pieces []float64
	for start := 0; start < len(sig); start += 320 {
		end := start + 320
		if end > len(sig) {
			end = len(sig)
		}
		out, err := chunked.Process(sig[start:end], ratio, end == len(sig))
		require.NoError(t, err)
		pieces = append(pieces, out...)
	}

	require.InDelta(t, len(wholeCopy), len(pieces), 1)

	n := len(wholeCopy)
	if len(pieces) < n {
		n = len(pieces)
	}
	for i := 0; i < n; i++ {
		require.InDelta(t, wholeCopy[i], pieces[i], 1e-9, "sample %d", i)
	}
}

func TestSineToneSurvivesResampling(t *testing.T) {
	const (
		sampleRate = 48000.0
		freq       = 440.0
		ratio      = 2.0
	)

	s, err := NewStream(QualityBalanced, 48000)
	require.NoError(t, err)

	in := testutil.DeterministicSine(freq, sampleRate, 1.0, 48000)
	out, err := s.Process(in, ratio, true)
	require.NoError(t, err)

	// Doubling the rate halves the normalised frequency: compare
	// against a 440 Hz sine at 96 kHz, skipping the kernel lead-in.
	want := testutil.DeterministicSine(freq, sampleRate*ratio, 1.0, len(out)+16)

	bestErr := math.Inf(1)
	for lag := -8; lag <= 8; lag++ {
		sum := 0.0
		count := 0
		for i := 64; i < len(out)-64; i++ {
			d := out[i] - want[i+lag]
			sum += d * d
			count++
		}
		rms := math.Sqrt(sum / float64(count))
		if rms < bestErr {
			bestErr = rms
		}
	}

	assert.Less(t, bestErr, 0.02, "aligned RMS error")
}

func TestResetClearsHistory(t *testing.T) {
	s, err := NewStream(QualityBalanced, 1024)
	require.NoError(t, err)

	first, err := s.Process(testutil.DeterministicNoise(9, 1.0, 512), 1.0, false)
	require.NoError(t, err)
	firstCopy := append([]float64(nil), first...)

	s.Reset()

	again, err := s.Process(testutil.DeterministicNoise(9, 1.0, 512), 1.0, false)
	require.NoError(t, err)

	require.Equal(t, len(firstCopy), len(again))
	for i := range firstCopy {
		require.Equal(t, firstCopy[i], again[i], "sample %d", i)
	}
}

func TestQualityFastRuns(t *testing.T) {
	s, err := NewStream(QualityFast, 1024)
	require.NoError(t, err)

	out, err := s.Process(testutil.DeterministicSine(440, 48000, 1.0, 1024), 1.25, true)
	require.NoError(t, err)
	assert.InDelta(t, 1280, len(out), 8)
	testutil.RequireFinite(t, out)
}
