// SPDX-License-Identifier: MPL-2.0

// Package logstream splits the multiplexed stdout/stderr stream produced by a
// container engine into tagged chunks.
//
// All engines in this module emit the Docker stdcopy frame format, so the same
// reader serves exec sessions and container logs.
package logstream

import (
	"bytes"
	"errors"
	"io"
	"iter"

	"github.com/docker/docker/pkg/stdcopy"
)

// Origin identifies the stream a chunk was written to.
type Origin int

const (
	// Stdout marks bytes written to standard output.
	Stdout Origin = iota + 1
	// Stderr marks bytes written to standard error.
	Stderr
)

// errStopped aborts stdcopy when the consumer stops iterating.
var errStopped = errors.New("logstream: consumer stopped")

// Chunk is one piece of output and its origin.
type Chunk struct {
	Origin Origin
	Data   []byte
}

// Output accumulates a stream partitioned by origin.
type Output struct {
	Stdout bytes.Buffer
	Stderr bytes.Buffer
}

type yieldWriter struct {
	origin Origin
	yield  func(Chunk, error) bool
	done   *bool
}

// String returns the origin name.
func (o Origin) String() string {
	switch o {
	case Stdout:
		return "stdout"
	case Stderr:
		return "stderr"
	default:
		return "unknown"
	}
}

// Stream returns a lazy sequence of chunks read from r. The sequence ends at
// EOF, on the first read or framing error (yielded once with a zero Chunk), or
// when the consumer stops iterating. Stream does not close r.
func Stream(r io.Reader) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		done := false
		stdout := &yieldWriter{origin: Stdout, yield: yield, done: &done}
		stderr := &yieldWriter{origin: Stderr, yield: yield, done: &done}

		_, err := stdcopy.StdCopy(stdout, stderr, r)
		if err == nil || done || errors.Is(err, errStopped) {
			return
		}
		yield(Chunk{}, err)
	}
}

func (w *yieldWriter) Write(p []byte) (int, error) {
	if *w.done {
		return 0, errStopped
	}
	if len(p) == 0 {
		return 0, nil
	}
	if !w.yield(Chunk{Origin: w.origin, Data: bytes.Clone(p)}, nil) {
		*w.done = true
		return 0, errStopped
	}
	return len(p), nil
}

// Collect drains seq into an Output. The first error stops consumption and is
// returned together with whatever was collected before it.
func Collect(seq iter.Seq2[Chunk, error]) (*Output, error) {
	out := &Output{}
	for chunk, err := range seq {
		if err != nil {
			return out, err
		}
		out.Write(chunk)
	}
	return out, nil
}

// Write appends a chunk to the buffer matching its origin.
func (o *Output) Write(c Chunk) {
	switch c.Origin {
	case Stdout:
		o.Stdout.Write(c.Data)
	case Stderr:
		o.Stderr.Write(c.Data)
	}
}

// Tee returns a sequence that forwards every chunk to fn before yielding it.
func Tee(seq iter.Seq2[Chunk, error], fn func(Chunk)) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		for chunk, err := range seq {
			if err == nil {
				fn(chunk)
			}
			if !yield(chunk, err) {
				return
			}
		}
	}
}
