// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pbtest/pbtest/internal/runner"
)

// liveOutput echoes step output line by line, each line prefixed with the
// container and step that produced it.
type liveOutput struct {
	w       io.Writer
	source  string
	midLine bool
}

func newLiveOutput(w io.Writer) *liveOutput {
	return &liveOutput{w: w}
}

func (l *liveOutput) write(out runner.StepOutput) {
	source := out.Container + " " + out.Step.String()
	if source != l.source && l.midLine {
		fmt.Fprintln(l.w)
		l.midLine = false
	}
	l.source = source

	prefix := VerboseStyle.Render(source + " |")
	data := out.Chunk.Data
	for len(data) > 0 {
		if !l.midLine {
			fmt.Fprint(l.w, prefix+" ")
		}
		line, rest, found := bytes.Cut(data, []byte{'\n'})
		_, _ = l.w.Write(line)
		if found {
			fmt.Fprintln(l.w)
		}
		l.midLine = !found
		data = rest
	}
}
