// Package buffer provides the sample-transport primitives of the
// engine: a reusable float64 Buffer for scratch memory, and a
// lock-free single-producer single-consumer Ring that carries samples
// between the caller and each channel's processing loop.
package buffer
