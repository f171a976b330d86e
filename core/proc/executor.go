package proc

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"syscall"

	"github.com/josephlewis42/jobsh/core/logger"
	"golang.org/x/sys/unix"
)

// Stage is one command of a pipeline after expansion.
type Stage struct {
	// Name is looked up by the Resolver; it is normally Args[0].
	Name string
	Args []string
	// Env holds NAME=value assignments added to this stage's environment.
	Env    []string
	Redirs []Redirection
}

// Pipeline is a sequence of stages connected stdout to stdin.
type Pipeline struct {
	Stages     []Stage
	Background bool
	// Command is the text shown in job listings.
	Command string
}

// Executor starts pipelines as process groups and waits on the foreground
// ones.
type Executor struct {
	Jobs     *Table
	Terminal *Terminal
	Resolver Resolver

	// Environ returns the environment for new processes.
	Environ func() []string
	// Stdio is inherited by the outer edges of every pipeline.
	Stdio Stdio
	// Notices receives job control messages like "[1] 4242".
	Notices io.Writer
	Events  EventRecorder

	forkExec       func(argv0 string, argv []string, attr *syscall.ProcAttr) (int, error)
	wait4          wait4Func
	lastBackground int
}

// NewExecutor returns an Executor using the shell's own descriptors.
func NewExecutor(jobs *Table, terminal *Terminal, resolver Resolver) *Executor {
	return &Executor{
		Jobs:     jobs,
		Terminal: terminal,
		Resolver: resolver,
		Environ:  os.Environ,
		Stdio:    OSStdio(),
		Notices:  os.Stderr,
		Events:   nopRecorder{},
		forkExec: syscall.ForkExec,
		wait4:    unix.Wait4,
	}
}

// LastBackground returns the pid of the final stage of the most recent
// background pipeline, or 0.
func (e *Executor) LastBackground() int {
	return e.lastBackground
}

func (e *Executor) monitor() *Monitor {
	m := NewMonitor(e.Jobs, e.Notices, e.Events)
	m.wait4 = e.wait4
	return m
}

func (e *Executor) events() EventRecorder {
	if e.Events == nil {
		return nopRecorder{}
	}
	return e.Events
}

// Run executes p and returns the status of its final stage. Background
// pipelines return 0 once started. A non-nil error means the pipeline could
// not be set up for lack of resources; anything wrong with a single stage
// is reported on that stage's stderr and reflected in its status instead.
func (e *Executor) Run(p Pipeline) (int, error) {
	if len(p.Stages) == 0 {
		return 0, nil
	}

	if len(p.Stages) == 1 && !p.Background {
		st := p.Stages[0]
		if d := e.Resolver.Resolve(st.Name); d.InProcess() {
			return e.runInProcess(d, st), nil
		}
	}
	return e.spawn(p)
}

func (e *Executor) runInProcess(d Dispatch, st Stage) int {
	stdio, files, err := ApplyRedirections(e.Stdio, st.Redirs)
	if err != nil {
		fmt.Fprintf(e.Stdio.Stderr, "%s: %v\n", shellName, err)
		return 1
	}
	defer files.Close()
	return d.Run(stdio, stageArgs(st))
}

func stageArgs(st Stage) []string {
	if len(st.Args) == 0 {
		return []string{st.Name}
	}
	return st.Args
}

func (e *Executor) spawn(p Pipeline) (int, error) {
	n := len(p.Stages)
	plans := make([]Dispatch, n)
	for i, st := range p.Stages {
		plans[i] = e.Resolver.Resolve(st.Name)
		if n > 1 || p.Background {
			plans[i] = plans[i].forked()
		}
	}

	pipes, err := NewPipeSet(n)
	if err != nil {
		return 1, err
	}
	defer pipes.Close()

	var extra listCloser
	defer func() { extra.Close() }()

	environ := e.Environ()
	foreground := !p.Background
	var (
		pgid       int
		pids       []int
		lastPid    int
		lastStatus int
	)
	for i, st := range p.Stages {
		stdio := pipes.Wire(i, e.Stdio)
		if i == 0 && p.Background && !e.Terminal.Interactive() && !RedirectsStdin(st.Redirs) {
			devNull, err := os.Open(os.DevNull)
			if err != nil {
				e.abort(pgid, pids)
				return 1, err
			}
			extra = append(extra, devNull)
			stdio.Stdin = devNull
		}

		pid, status, err := e.startStage(plans[i], st, stdio, environ, pgid, foreground)
		if err != nil {
			e.abort(pgid, pids)
			return 1, err
		}
		if pid == 0 {
			if i == n-1 {
				lastStatus = status
			}
			continue
		}

		if pgid == 0 {
			pgid = pid
		}
		joinGroup(pid, pgid)
		if pgid == pid && foreground {
			e.Terminal.SetForeground(pgid)
		}
		pids = append(pids, pid)
		if i == n-1 {
			lastPid = pid
		}
	}
	pipes.Close()
	extra.Close()
	extra = nil

	if len(pids) == 0 {
		return lastStatus, nil
	}

	j := newJob(p.Command, pgid, pids, p.Background)
	j.lastPid = lastPid
	if lastPid == 0 {
		j.exitStatus = lastStatus
	}
	_ = e.events().Record(&logger.RunPipeline{
		Command:    p.Command,
		Pgid:       pgid,
		Pids:       pids,
		Background: p.Background,
	})

	if p.Background {
		e.Jobs.register(j)
		e.lastBackground = pids[len(pids)-1]
		fmt.Fprintf(e.Notices, "[%d] %d\n", j.ID, pgid)
		return 0, nil
	}

	status := e.monitor().Wait(j)
	e.Terminal.Reclaim()
	return status, nil
}

// startStage forks one stage into group pgid (0 to lead a new group). A
// zero pid with a nil error means the stage failed on its own and status
// says how.
func (e *Executor) startStage(d Dispatch, st Stage, base Stdio, environ []string, pgid int, foreground bool) (pid, status int, err error) {
	switch d.Kind {
	case NotFound:
		fmt.Fprintf(base.Stderr, "%s: command not found\n", st.Name)
		return 0, StatusNotFound, nil
	case Builtin, Function:
		fmt.Fprintf(base.Stderr, "%s: %s: %s cannot run in a pipeline\n", shellName, st.Name, d.Kind)
		return 0, 1, nil
	}

	stdio, files, rerr := ApplyRedirections(base, st.Redirs)
	if rerr != nil {
		fmt.Fprintf(base.Stderr, "%s: %v\n", shellName, rerr)
		return 0, 1, nil
	}
	defer files.Close()

	attr := &syscall.ProcAttr{
		Env:   mergeEnv(environ, st.Env),
		Files: stdio.fds(),
		Sys:   e.Terminal.ChildAttr(pgid, foreground),
	}
	argv := stageArgs(st)
	pid, err = e.forkExec(d.Path, argv, attr)
	if err == nil {
		return pid, 0, nil
	}
	if isExecError(err) {
		fmt.Fprintf(stdio.Stderr, "%s: %s: %v\n", shellName, st.Name, err)
		_ = e.events().Record(&logger.ExecFailure{
			Command: argv,
			Error:   err.Error(),
			Status:  StatusNotFound,
		})
		return 0, StatusNotFound, nil
	}
	return 0, 0, fmt.Errorf("starting %s: %w", st.Name, err)
}

// isExecError reports whether a fork/exec error belongs to the program
// rather than the system, so only that stage fails.
func isExecError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case unix.ENOENT, unix.EACCES, unix.EPERM, unix.ENOEXEC, unix.ENOTDIR,
		unix.EISDIR, unix.ELOOP, unix.ENAMETOOLONG, unix.ETXTBSY, unix.E2BIG:
		return true
	}
	return false
}

// joinGroup repeats the child's own setpgid from the parent so the group
// exists by the time the next stage or a signal needs it, whichever side
// runs first. Losing the race to exec or exit is harmless.
func joinGroup(pid, pgid int) {
	err := unix.Setpgid(pid, pgid)
	if err != nil && !ignoreRace(err) {
		log.Printf("setpgid(%d, %d): %v", pid, pgid, err)
	}
}

func ignoreRace(err error) bool {
	return errors.Is(err, unix.ESRCH) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM)
}

// abort kills and reaps the part of a pipeline already started.
func (e *Executor) abort(pgid int, pids []int) {
	if pgid > 0 {
		_ = unix.Kill(-pgid, unix.SIGKILL)
	}
	for _, pid := range pids {
		var ws unix.WaitStatus
		for {
			if _, err := e.wait4(pid, &ws, 0, nil); !errors.Is(err, unix.EINTR) {
				break
			}
		}
	}
	e.Terminal.Reclaim()
}

// mergeEnv returns base with the assignments in extra applied.
func mergeEnv(base, extra []string) []string {
	if len(extra) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(extra))
	overridden := make(map[string]bool)
	for _, kv := range extra {
		overridden[envKey(kv)] = true
	}
	for _, kv := range base {
		if !overridden[envKey(kv)] {
			out = append(out, kv)
		}
	}
	return append(out, extra...)
}

func envKey(kv string) string {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i]
		}
	}
	return kv
}

// Foreground continues j in the foreground and waits for it as if it had
// just been started there.
func (e *Executor) Foreground(j *Job) (int, error) {
	j.Background = false
	e.Terminal.SetForeground(j.Pgid)
	if err := e.cont(j); err != nil {
		e.Terminal.Reclaim()
		return 1, err
	}
	status := e.monitor().Wait(j)
	e.Terminal.Reclaim()
	if j.Status == Done {
		j.notified = true
	}
	return status, nil
}

// Background continues a stopped job without waiting for it.
func (e *Executor) Background(j *Job) error {
	j.Background = true
	return e.cont(j)
}

func (e *Executor) cont(j *Job) error {
	j.continued()
	if err := unix.Kill(-j.Pgid, unix.SIGCONT); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("continue job %d: %w", j.ID, err)
	}
	_ = e.events().Record(&logger.JobUpdate{
		JobID:   j.ID,
		Pgid:    j.Pgid,
		Command: j.Command,
		State:   j.Status.String(),
	})
	return nil
}

// WaitJob blocks until j finishes. Stopped jobs return immediately with
// their stop reflected in the table.
func (e *Executor) WaitJob(j *Job) int {
	if j.Status == Stopped {
		return StatusSignalBase + int(unix.SIGTSTP)
	}
	status := e.monitor().Wait(j)
	if j.Status == Done {
		j.notified = true
	}
	return status
}

// WaitAll waits for every running job and returns the status of the last
// one waited on.
func (e *Executor) WaitAll() int {
	status := 0
	for _, j := range e.Jobs.List() {
		if j.Status != Running {
			continue
		}
		status = e.WaitJob(j)
	}
	return status
}
