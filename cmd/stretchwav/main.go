// Command stretchwav time-stretches and pitch-shifts WAV files.
//
// Usage:
//
//	stretchwav -time 2.0 input.wav output.wav
//	stretchwav -semitones 3 input.wav output.wav
//	stretchwav -time 0.8 -pitch 1.5 -realtime input.wav output.wav
//
// -time is the duration ratio (2.0 doubles the length), -pitch the
// frequency ratio (2.0 is an octave up). -semitones is a convenience
// alternative to -pitch. -realtime exercises the one-pass streaming
// engine instead of the two-pass studied mode.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/DavidCaelum/rubberband/dsp/core"
	"github.com/DavidCaelum/rubberband/dsp/stretch"
)

const blockSize = 1024

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "stretchwav:", err)
		os.Exit(1)
	}
}

func run() error {
	timeRatio := flag.Float64("time", 1.0, "duration ratio (output/input)")
	pitchRatio := flag.Float64("pitch", 1.0, "pitch ratio (output/input)")
	semitones := flag.Float64("semitones", 0, "pitch shift in semitones (overrides -pitch)")
	realtime := flag.Bool("realtime", false, "use the one-pass realtime engine")
	verbose := flag.Int("v", 0, "debug level")
	flag.Parse()

	if flag.NArg() != 2 {
		flag.Usage()
		return fmt.Errorf("need input and output file arguments")
	}

	pitch := *pitchRatio
	if *semitones != 0 {
		pitch = math.Pow(2, *semitones/12)
	}

	channels, sampleRate, bitDepth, input, err := readWav(flag.Arg(0))
	if err != nil {
		return err
	}

	options := stretch.Options(0)
	if *realtime {
		options |= stretch.OptionProcessRealTime
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	s, err := stretch.New(sampleRate, channels, options, *timeRatio, pitch,
		stretch.WithLogger(logger), stretch.WithDebugLevel(*verbose))
	if err != nil {
		return err
	}
	defer s.Close()

	n := len(input[0])

	if !*realtime {
		s.SetExpectedInputDuration(n)

		for pos := 0; pos < n; pos += blockSize {
			sz := blockSize
			if sz > n-pos {
				sz = n - pos
			}
			s.Study(views(input, pos, sz), sz, pos+sz == n)
		}
	}

	output := make([][]float64, channels)
	scratch := make([][]float64, channels)
	for c := range scratch {
		scratch[c] = make([]float64, 4096)
	}

	for pos := 0; pos < n; pos += blockSize {
		sz := blockSize
		if sz > n-pos {
			sz = n - pos
		}
		s.Process(views(input, pos, sz), sz, pos+sz == n)
		output = drain(s, scratch, output)
	}

	for {
		avail := s.Available()
		if avail < 0 {
			break
		}
		if avail == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		output = drain(s, scratch, output)
	}

	if err := writeWav(flag.Arg(1), output, sampleRate, bitDepth); err != nil {
		return err
	}

	if *verbose > 0 {
		fmt.Fprintf(os.Stderr, "%d -> %d samples per channel\n", n, len(output[0]))
	}

	return nil
}

func views(input [][]float64, pos, n int) [][]float64 {
	out := make([][]float64, len(input))
	for c := range input {
		out[c] = input[c][pos : pos+n]
	}
	return out
}

func drain(s *stretch.Stretcher, scratch, output [][]float64) [][]float64 {
	for {
		avail := s.Available()
		if avail <= 0 {
			return output
		}

		want := avail
		if want > len(scratch[0]) {
			want = len(scratch[0])
		}

		got := s.Retrieve(scratch, want)
		if got == 0 {
			return output
		}
		for c := range output {
			output[c] = append(output[c], scratch[c][:got]...)
		}
	}
}

// readWav decodes the whole file to planar float64 channels.
func readWav(path string) (channels, sampleRate, bitDepth int, data [][]float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return 0, 0, 0, nil, fmt.Errorf("decoding %s: %w", path, err)
	}

	channels = buf.Format.NumChannels
	sampleRate = buf.Format.SampleRate
	bitDepth = int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}
	if channels <= 0 || sampleRate <= 0 {
		return 0, 0, 0, nil, fmt.Errorf("unsupported format in %s", path)
	}

	frames := len(buf.Data) / channels
	scale := 1.0 / float64(int(1)<<(bitDepth-1))

	data = make([][]float64, channels)
	for c := range data {
		data[c] = make([]float64, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			data[c][i] = float64(buf.Data[i*channels+c]) * scale
		}
	}

	return channels, sampleRate, bitDepth, data, nil
}

// writeWav encodes planar float64 channels as interleaved PCM.
func writeWav(path string, data [][]float64, sampleRate, bitDepth int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	channels := len(data)
	frames := 0
	if channels > 0 {
		frames = len(data[0])
	}

	full := (int(1) << (bitDepth - 1)) - 1

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: bitDepth,
		Data:           make([]int, frames*channels),
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			v := core.Clamp(data[c][i], -1, 1)
			buf.Data[i*channels+c] = int(math.Round(v * float64(full)))
		}
	}

	enc := wav.NewEncoder(f, sampleRate, bitDepth, channels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}

	return enc.Close()
}
