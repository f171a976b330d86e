package proc

import (
	"fmt"
	"os"
)

// PipeSet holds the pipes connecting the stages of one pipeline: pipe i
// joins the stdout of stage i to the stdin of stage i+1.
//
// The shell owns every end until all stages are started and must Close the
// set afterwards, otherwise readers never see EOF.
type PipeSet struct {
	readers []*os.File
	writers []*os.File
	closed  bool
}

// NewPipeSet allocates the pipes for a pipeline of the given number of
// stages. If any allocation fails the ones already made are closed.
func NewPipeSet(stages int) (*PipeSet, error) {
	ps := &PipeSet{}
	for i := 0; i < stages-1; i++ {
		r, w, err := os.Pipe()
		if err != nil {
			ps.Close()
			return nil, fmt.Errorf("pipe %d of %d: %w", i+1, stages-1, err)
		}
		ps.readers = append(ps.readers, r)
		ps.writers = append(ps.writers, w)
	}
	return ps, nil
}

// Len returns the number of pipes in the set.
func (ps *PipeSet) Len() int {
	return len(ps.readers)
}

// Wire returns the descriptors stage i starts with before its own
// redirections: the previous pipe's read end and the next pipe's write end,
// falling back to base at either edge of the pipeline.
func (ps *PipeSet) Wire(i int, base Stdio) Stdio {
	out := base
	if i > 0 && i-1 < len(ps.readers) {
		out.Stdin = ps.readers[i-1]
	}
	if i >= 0 && i < len(ps.writers) {
		out.Stdout = ps.writers[i]
	}
	return out
}

// Close closes both ends of every pipe. Calling it again is a no-op.
func (ps *PipeSet) Close() error {
	if ps.closed {
		return nil
	}
	ps.closed = true

	var lastErr error
	for i := range ps.readers {
		if err := ps.readers[i].Close(); err != nil {
			lastErr = err
		}
		if err := ps.writers[i].Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
