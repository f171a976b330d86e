package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"syscall"

	"github.com/josephlewis42/jobsh/core/proc"
	"golang.org/x/sys/unix"
)

const maxSignal = 64

var errNoSignal = errors.New("invalid signal specification")

// parseSignal accepts a signal number or a name with or without the SIG
// prefix, in any case.
func parseSignal(spec string) (syscall.Signal, error) {
	if n, err := strconv.Atoi(spec); err == nil {
		if n < 0 || n > maxSignal {
			return 0, fmt.Errorf("%s: %w", spec, errNoSignal)
		}
		return syscall.Signal(n), nil
	}

	name := strings.ToUpper(spec)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	if sig := unix.SignalNum(name); sig != 0 {
		return sig, nil
	}
	return 0, fmt.Errorf("%s: %w", spec, errNoSignal)
}

// signalName returns the name of sig without the SIG prefix.
func signalName(sig syscall.Signal) string {
	return strings.TrimPrefix(unix.SignalName(sig), "SIG")
}

// Kill sends signals to jobs and processes.
func Kill(s *Shell, args []string) int {
	cmd := &SimpleCommand{
		Use:   "kill [-s sigspec | -n signum | -sigspec] pid | jobspec ... or kill -l [sigspec]",
		Short: "Send a signal to a job.",

		// Signals look like flags, so arguments are parsed here.
		NeverBail: true,
		ShowHelp:  new(bool),
	}

	return cmd.Run(s, args, func() int {
		if len(args) < 2 {
			fmt.Fprintf(s.Stderr(), "usage: %s\n", cmd.Use)
			return statusUsage
		}

		sig := unix.SIGTERM
		targets := args[1:]
		switch first := targets[0]; {
		case first == "-l" || first == "-L":
			return s.listSignals(targets[1:])
		case first == "--help":
			cmd.PrintHelp(s.Stdout())
			return 0
		case first == "-s" || first == "-n":
			if len(targets) < 2 {
				fmt.Fprintf(s.Stderr(), "%s: %s: option requires an argument\n", args[0], first)
				return statusUsage
			}
			parsed, err := parseSignal(targets[1])
			if err != nil {
				fmt.Fprintf(s.Stderr(), "%s: %v\n", args[0], err)
				return 1
			}
			sig, targets = parsed, targets[2:]
		case first == "--":
			targets = targets[1:]
		case strings.HasPrefix(first, "-") && len(first) > 1:
			parsed, err := parseSignal(first[1:])
			if err != nil {
				fmt.Fprintf(s.Stderr(), "%s: %v\n", args[0], err)
				return 1
			}
			sig, targets = parsed, targets[1:]
		}

		if len(targets) == 0 {
			fmt.Fprintf(s.Stderr(), "usage: %s\n", cmd.Use)
			return statusUsage
		}

		ret := 0
		for _, target := range targets {
			if err := s.signal(target, sig); err != nil {
				fmt.Fprintf(s.Stderr(), "%s: %v\n", args[0], err)
				ret = 1
			}
		}
		return ret
	})
}

func (s *Shell) signal(target string, sig syscall.Signal) error {
	if strings.HasPrefix(target, "%") {
		j, err := s.findJob(target, nil)
		if err != nil {
			return err
		}
		if err := unix.Kill(-j.Pgid, sig); err != nil {
			return fmt.Errorf("%s: %w", target, err)
		}
		// A stopped job can't act on these until it runs again.
		if j.Status == proc.Stopped && (sig == unix.SIGTERM || sig == unix.SIGHUP) {
			return s.Executor.Background(j)
		}
		return nil
	}

	pid, err := strconv.Atoi(target)
	if err != nil {
		return fmt.Errorf("%s: arguments must be process or job IDs", target)
	}
	if err := unix.Kill(pid, sig); err != nil {
		return fmt.Errorf("(%d) - %w", pid, err)
	}
	return nil
}

// listSignals prints signal names, or translates each argument between a
// signal number (or exit status) and its name.
func (s *Shell) listSignals(specs []string) int {
	w := s.Stdout()
	if len(specs) == 0 {
		var names []string
		for i := 1; i <= maxSignal; i++ {
			if name := signalName(syscall.Signal(i)); name != "" {
				names = append(names, fmt.Sprintf("%2d) %s", i, name))
			}
		}
		for i, name := range names {
			sep := "\t"
			if i%5 == 4 || i == len(names)-1 {
				sep = "\n"
			}
			fmt.Fprint(w, name, sep)
		}
		return 0
	}

	ret := 0
	for _, spec := range specs {
		if n, err := strconv.Atoi(spec); err == nil {
			if n > proc.StatusSignalBase {
				n -= proc.StatusSignalBase
			}
			if name := signalName(syscall.Signal(n)); name != "" {
				fmt.Fprintln(w, name)
				continue
			}
		} else if sig, err := parseSignal(spec); err == nil {
			fmt.Fprintln(w, int(sig))
			continue
		}
		fmt.Fprintf(s.Stderr(), "kill: %s: %v\n", spec, errNoSignal)
		ret = 1
	}
	return ret
}

func init() {
	addBuiltin("kill", Kill)
}
