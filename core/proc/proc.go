// Package proc runs pipelines of programs under POSIX job control.
//
// Every pipeline becomes one process group. A foreground group owns the
// controlling terminal while it runs and the shell reclaims it afterwards;
// background and stopped groups live in a Table until they finish.
package proc

import (
	"io"
	"os"
)

const (
	// StatusNotFound is the status of a stage whose program could not be
	// found or executed.
	StatusNotFound = 127

	// StatusSignalBase is added to a signal number to form the status of a
	// process killed or stopped by that signal.
	StatusSignalBase = 128

	shellName = "jobsh"
)

// Stdio holds the three descriptors a stage starts with.
type Stdio struct {
	Stdin  *os.File
	Stdout *os.File
	Stderr *os.File
}

// OSStdio returns the shell's own standard descriptors.
func OSStdio() Stdio {
	return Stdio{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// fds returns the descriptor table handed to a child: index 0, 1 and 2
// become the child's stdin, stdout and stderr.
func (s Stdio) fds() []uintptr {
	return []uintptr{s.Stdin.Fd(), s.Stdout.Fd(), s.Stderr.Fd()}
}

type listCloser []io.Closer

var _ io.Closer = (listCloser)(nil)

func (lc listCloser) Close() error {
	var lastErr error
	for _, v := range lc {
		if err := v.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
