package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/josephlewis42/jobsh/core/proc"
)

// findJob resolves a job spec: %n, %%, %+, %, %-, %prefix or a bare job
// number. An empty spec uses fallback.
func (s *Shell) findJob(spec string, fallback func() (*proc.Job, bool)) (*proc.Job, error) {
	var (
		j  *proc.Job
		ok bool
	)

	switch spec {
	case "":
		if fallback == nil {
			fallback = s.Jobs.Current
		}
		j, ok = fallback()
		spec = "current"
	case "%", "%%", "%+":
		j, ok = s.Jobs.Current()
	case "%-":
		j, ok = s.Jobs.Previous()
	default:
		trimmed := strings.TrimPrefix(spec, "%")
		if id, err := strconv.Atoi(trimmed); err == nil {
			j, ok = s.Jobs.Get(id)
			break
		}
		if trimmed == spec {
			return nil, fmt.Errorf("%s: %w", spec, proc.ErrNoJob)
		}
		return s.Jobs.FindPrefix(trimmed)
	}

	if !ok {
		return nil, fmt.Errorf("%s: %w", spec, proc.ErrNoJob)
	}
	return j, nil
}

func statusColor(status proc.Status) *color.Color {
	switch status {
	case proc.Running:
		return ColorBoldGreen
	case proc.Stopped:
		return ColorBoldYellow
	default:
		return ColorBoldBlue
	}
}

// Jobs lists the job table.
func Jobs(s *Shell, args []string) int {
	cmd := &SimpleCommand{
		Use:   "jobs [-lp] [JOBSPEC...]",
		Short: "Display status of jobs.",
	}
	opts := cmd.Flags()
	long := opts.Bool('l', "list process IDs in addition to the normal information")
	pidsOnly := opts.Bool('p', "list process group IDs only")

	var cp ColorPrinter
	cp.Init(opts, s)

	return cmd.Run(s, args, func() int {
		s.Jobs.UpdateStatuses()

		jobs := s.Jobs.List()
		ret := 0
		if specs := opts.Args(); len(specs) > 0 {
			jobs = nil
			for _, spec := range specs {
				j, err := s.findJob(spec, nil)
				if err != nil {
					fmt.Fprintf(s.Stderr(), "%s: %v\n", args[0], err)
					ret = 1
					continue
				}
				jobs = append(jobs, j)
			}
		}

		w := s.Stdout()
		for _, j := range jobs {
			switch {
			case *pidsOnly:
				fmt.Fprintln(w, j.Pgid)
			case *long:
				fmt.Fprintln(w, s.jobLine(j, &cp, true))
			default:
				fmt.Fprintln(w, s.jobLine(j, &cp, false))
			}
		}

		for _, j := range jobs {
			if j.Status == proc.Done {
				j.MarkNotified()
			}
		}
		s.Jobs.Cleanup()
		return ret
	})
}

// jobLine matches proc.FormatJob, optionally with color and process IDs.
func (s *Shell) jobLine(j *proc.Job, cp *ColorPrinter, long bool) string {
	if !long && !cp.ShouldColor() {
		return proc.FormatJob(j, s.Jobs.Mark(j))
	}

	command := j.Command
	if j.Background && j.Status == proc.Running {
		command += " &"
	}
	status := cp.Sprintf(statusColor(j.Status), "%-24s", j.StatusText())

	if long {
		return fmt.Sprintf("[%d]%c  %-7d %s%s", j.ID, s.Jobs.Mark(j), j.Pgid, status, command)
	}
	return fmt.Sprintf("[%d]%c  %s%s", j.ID, s.Jobs.Mark(j), status, command)
}

// Fg resumes a job in the foreground.
func Fg(s *Shell, args []string) int {
	cmd := &SimpleCommand{
		Use:   "fg [JOBSPEC]",
		Short: "Move job to the foreground.",
	}

	return cmd.Run(s, args, func() int {
		s.Jobs.UpdateStatuses()

		j, err := s.findJob(jobArg(cmd), func() (*proc.Job, bool) {
			return s.Jobs.MostRecent(proc.Running, proc.Stopped)
		})
		if err != nil {
			fmt.Fprintf(s.Stderr(), "%s: %v\n", args[0], err)
			return 1
		}
		if j.Status == proc.Done {
			fmt.Fprintf(s.Stderr(), "%s: job has terminated\n", args[0])
			return 1
		}

		fmt.Fprintln(s.Stdout(), j.Command)
		status, err := s.Executor.Foreground(j)
		if err != nil {
			fmt.Fprintf(s.Stderr(), "%s: %v\n", args[0], err)
			return 1
		}
		s.Jobs.Cleanup()
		return status
	})
}

// Bg resumes stopped jobs in the background.
func Bg(s *Shell, args []string) int {
	cmd := &SimpleCommand{
		Use:   "bg [JOBSPEC...]",
		Short: "Move jobs to the background.",
	}

	return cmd.Run(s, args, func() int {
		s.Jobs.UpdateStatuses()

		specs := cmd.Flags().Args()
		if len(specs) == 0 {
			specs = []string{""}
		}

		ret := 0
		for _, spec := range specs {
			j, err := s.findJob(spec, func() (*proc.Job, bool) {
				return s.Jobs.MostRecent(proc.Stopped)
			})
			if err != nil {
				fmt.Fprintf(s.Stderr(), "%s: %v\n", args[0], err)
				ret = 1
				continue
			}

			switch j.Status {
			case proc.Running:
				fmt.Fprintf(s.Stderr(), "%s: job %d already in background\n", args[0], j.ID)
				continue
			case proc.Done:
				fmt.Fprintf(s.Stderr(), "%s: job has terminated\n", args[0])
				ret = 1
				continue
			}

			if err := s.Executor.Background(j); err != nil {
				fmt.Fprintf(s.Stderr(), "%s: %v\n", args[0], err)
				ret = 1
				continue
			}
			fmt.Fprintf(s.Stdout(), "[%d]%c %s &\n", j.ID, s.Jobs.Mark(j), j.Command)
		}
		return ret
	})
}

// Wait blocks until the given jobs or processes finish, or every running
// job when called without arguments.
func Wait(s *Shell, args []string) int {
	cmd := &SimpleCommand{
		Use:   "wait [ID...]",
		Short: "Wait for job completion and return exit status.",
	}

	return cmd.Run(s, args, func() int {
		s.Jobs.UpdateStatuses()
		defer s.Jobs.Cleanup()

		specs := cmd.Flags().Args()
		if len(specs) == 0 {
			s.Executor.WaitAll()
			return 0
		}

		ret := 0
		for _, spec := range specs {
			j, err := s.waitTarget(spec)
			if err != nil {
				fmt.Fprintf(s.Stderr(), "%s: %v\n", args[0], err)
				ret = proc.StatusNotFound
				continue
			}
			ret = s.Executor.WaitJob(j)
		}
		return ret
	})
}

func (s *Shell) waitTarget(spec string) (*proc.Job, error) {
	if strings.HasPrefix(spec, "%") {
		return s.findJob(spec, nil)
	}

	pid, err := strconv.Atoi(spec)
	if err != nil {
		return nil, fmt.Errorf("%s: not a pid or valid job spec", spec)
	}
	for _, j := range s.Jobs.List() {
		for _, p := range j.Pids() {
			if p == pid {
				return j, nil
			}
		}
	}
	return nil, fmt.Errorf("pid %d is not a child of this shell", pid)
}

func jobArg(cmd *SimpleCommand) string {
	if args := cmd.Flags().Args(); len(args) > 0 {
		return args[0]
	}
	return ""
}

func init() {
	addBuiltin("jobs", Jobs)
	addBuiltin("fg", Fg)
	addBuiltin("bg", Bg)
	addBuiltin("wait", Wait)
}
