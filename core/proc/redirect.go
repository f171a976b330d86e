package proc

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// RedirOp is a file redirection operator.
type RedirOp string

const (
	RedirOut       RedirOp = ">"
	RedirAppend    RedirOp = ">>"
	RedirIn        RedirOp = "<"
	RedirErr       RedirOp = "2>"
	RedirErrAppend RedirOp = "2>>"
	// RedirErrToOut points stderr at whatever stdout is at that point.
	RedirErrToOut RedirOp = "2>&1"
)

// ErrUnknownRedirection is returned for operators outside the supported set.
var ErrUnknownRedirection = errors.New("unknown redirection operator")

// ParseRedirOp converts an operator's text form.
func ParseRedirOp(op string) (RedirOp, error) {
	switch r := RedirOp(op); r {
	case RedirOut, RedirAppend, RedirIn, RedirErr, RedirErrAppend, RedirErrToOut:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRedirection, op)
}

func (op RedirOp) openFlags() int {
	switch op {
	case RedirIn:
		return os.O_RDONLY
	case RedirAppend, RedirErrAppend:
		return os.O_WRONLY | os.O_CREATE | os.O_APPEND
	default:
		return os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
}

// Redirection is one operator and its target path. RedirErrToOut has no
// target.
type Redirection struct {
	Op     RedirOp
	Target string
}

func (r Redirection) String() string {
	if r.Op == RedirErrToOut {
		return string(r.Op)
	}
	return string(r.Op) + r.Target
}

// ApplyRedirections applies redirs to base strictly left to right and
// returns the resulting descriptors along with a Closer for the files it
// opened. Nothing stays open when an error is returned.
//
// "> f 2>&1" sends both streams to f while "2>&1 > f" leaves stderr on the
// original stdout.
func ApplyRedirections(base Stdio, redirs []Redirection) (Stdio, io.Closer, error) {
	out := base
	var opened listCloser
	fail := func(err error) (Stdio, io.Closer, error) {
		opened.Close()
		return base, nil, err
	}

	for _, r := range redirs {
		switch r.Op {
		case RedirErrToOut:
			out.Stderr = out.Stdout
			continue
		case RedirOut, RedirAppend, RedirIn, RedirErr, RedirErrAppend:
		default:
			return fail(fmt.Errorf("%w: %q", ErrUnknownRedirection, r.Op))
		}

		if r.Target == "" {
			return fail(fmt.Errorf("%s: missing target", r.Op))
		}
		f, err := os.OpenFile(r.Target, r.Op.openFlags(), 0666)
		if err != nil {
			return fail(err)
		}
		opened = append(opened, f)

		switch r.Op {
		case RedirIn:
			out.Stdin = f
		case RedirOut, RedirAppend:
			out.Stdout = f
		default:
			out.Stderr = f
		}
	}
	return out, opened, nil
}

// RedirectsStdin reports whether any redirection replaces stdin.
func RedirectsStdin(redirs []Redirection) bool {
	for _, r := range redirs {
		if r.Op == RedirIn {
			return true
		}
	}
	return false
}
