package proc

import "fmt"

// DispatchKind says how a command name is carried out.
type DispatchKind int

const (
	NotFound DispatchKind = iota
	External
	Builtin
	Function
)

func (k DispatchKind) String() string {
	switch k {
	case NotFound:
		return "not found"
	case External:
		return "external"
	case Builtin:
		return "builtin"
	case Function:
		return "function"
	default:
		return fmt.Sprintf("DispatchKind(%d)", int(k))
	}
}

// RunFunc runs a builtin or shell function inside the shell process with
// the given descriptors. args[0] is the command name.
type RunFunc func(stdio Stdio, args []string) int

// Dispatch is the resolved form of a command name.
type Dispatch struct {
	Kind DispatchKind

	// Path is the executable for External. For a Builtin it is the program
	// of the same name on PATH, if any, used when the stage has to run as
	// a child process.
	Path string

	// Run is set for Builtin and Function.
	Run RunFunc
}

// InProcess reports whether the command runs inside the shell.
func (d Dispatch) InProcess() bool {
	return (d.Kind == Builtin || d.Kind == Function) && d.Run != nil
}

// forked returns how d runs as one stage of a multi-stage pipeline, where
// every stage is a child process.
func (d Dispatch) forked() Dispatch {
	if d.Kind == Builtin && d.Path != "" {
		return Dispatch{Kind: External, Path: d.Path}
	}
	return d
}

// Resolver maps command names to what runs them.
type Resolver interface {
	Resolve(name string) Dispatch
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(name string) Dispatch

func (f ResolverFunc) Resolve(name string) Dispatch {
	return f(name)
}

// PathResolver resolves every name against the search path returned by
// path.
func PathResolver(path func() string) Resolver {
	return ResolverFunc(func(name string) Dispatch {
		exe, err := LookPath(path(), name)
		if err != nil {
			return Dispatch{Kind: NotFound}
		}
		return Dispatch{Kind: External, Path: exe}
	})
}
