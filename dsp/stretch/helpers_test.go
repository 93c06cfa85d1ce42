package stretch

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

// quietLogger keeps diagnostics out of test output.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// planar wraps one slice per channel in the planar layout the engine
// expects.
func planar(chans ...[]float64) [][]float64 {
	return chans
}

// drainAvailable moves everything currently ready into out and
// returns the new slices.
func drainAvailable(t *testing.T, s *Stretcher, out [][]float64) [][]float64 {
	t.Helper()

	scratch := make([][]float64, s.Channels())
	for c := range scratch {
		scratch[c] = make([]float64, 4096)
	}

	for {
		avail := s.Available()
		if avail <= 0 {
			return out
		}

		want := avail
		if want > 4096 {
			want = 4096
		}

		got := s.Retrieve(scratch, want)
		if got == 0 {
			return out
		}
		for c := range out {
			out[c] = append(out[c], scratch[c][:got]...)
		}
	}
}

// collectRemaining drains until the stretcher reports completion.
func collectRemaining(t *testing.T, s *Stretcher, out [][]float64) [][]float64 {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for {
		avail := s.Available()
		if avail < 0 {
			return out
		}
		if avail == 0 {
			if time.Now().After(deadline) {
				t.Fatal("stretcher did not finish draining")
			}
			time.Sleep(time.Millisecond)
			continue
		}
		out = drainAvailable(t, s, out)
	}
}

// runOffline drives the full offline protocol with block pacing and
// returns the collected output channels.
func runOffline(t *testing.T, s *Stretcher, inputs [][]float64, block int, study bool) [][]float64 {
	t.Helper()

	n := len(inputs[0])

	if study {
		for pos := 0; pos < n; pos += block {
			sz := block
			if sz > n-pos {
				sz = n - pos
			}
			views := make([][]float64, len(inputs))
			for c := range inputs {
				views[c] = inputs[c][pos : pos+sz]
			}
			s.Study(views, sz, pos+sz == n)
		}
	}

	out := make([][]float64, s.Channels())

	for pos := 0; pos < n; pos += block {
		sz := block
		if sz > n-pos {
			sz = n - pos
		}
		views := make([][]float64, len(inputs))
		for c := range inputs {
			views[c] = inputs[c][pos : pos+sz]
		}
		s.Process(views, sz, pos+sz == n)
		out = drainAvailable(t, s, out)
	}

	return collectRemaining(t, s, out)
}
