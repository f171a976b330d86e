package commands

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/user"
	"strings"

	"github.com/abiosoft/readline"
	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/env"
	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/josephlewis42/jobsh/core/proc"
	"mvdan.cc/sh/v3/syntax"
)

const (
	ShellName = "jobsh"

	EnvHome   = "HOME"
	EnvPWD    = "PWD"
	EnvOldPWD = "OLDPWD"
	EnvPath   = "PATH"
	EnvPrompt = "PS1"
	EnvUser   = "USER"

	// statusUsage is returned for input the shell can't parse or run.
	statusUsage = 2
)

type Shell struct {
	Env      *env.MapEnv
	Jobs     *proc.Table
	Terminal *proc.Terminal
	Executor *proc.Executor
	Config   *config.Configuration
	Events   *logger.SessionLogger
	Readline *readline.Instance

	stdio     proc.Stdio
	functions map[string]*syntax.Stmt
	params    []string
	lastRet   int
	history   []string
	depth     int

	// warnedStopped is set once the user has been told stopped jobs exist,
	// so a second exit goes through.
	warnedStopped bool

	// Set to true to quit the shell
	Quit bool
}

// NewShell creates a shell reading and writing stdio. Events may be nil.
func NewShell(cfg *config.Configuration, events *logger.SessionLogger, stdio proc.Stdio) *Shell {
	if events == nil {
		events = logger.NewNopLogger().Sessionless()
	}

	s := &Shell{
		Env:       env.NewMapEnvFromOS(),
		Jobs:      proc.NewTable(),
		Terminal:  proc.NewTerminal(stdio.Stdin),
		Config:    cfg,
		Events:    events,
		functions: make(map[string]*syntax.Stmt),
	}
	s.Executor = proc.NewExecutor(s.Jobs, s.Terminal, s)
	s.Executor.Environ = s.Env.Environ
	s.Executor.Events = events
	s.setStdio(stdio)
	s.Init()

	return s
}

// Init sets up the environment similar to a login shell.
func (s *Shell) Init() {
	if _, ok := s.Env.LookupEnv(EnvPath); !ok {
		s.Env.Setenv(EnvPath, s.Config.DefaultPath)
	}
	if _, ok := s.Env.LookupEnv(EnvHome); !ok {
		if home, err := os.UserHomeDir(); err == nil {
			s.Env.Setenv(EnvHome, home)
		}
	}
	if _, ok := s.Env.LookupEnv(EnvUser); !ok {
		if u, err := user.Current(); err == nil {
			s.Env.Setenv(EnvUser, u.Username)
		}
	}
	if wd, err := os.Getwd(); err == nil {
		s.Env.Setenv(EnvPWD, wd)
	}
	if _, ok := s.Env.LookupEnv(EnvPrompt); !ok {
		s.Env.SetLocal(EnvPrompt, s.Config.Prompt)
	}
}

// Close releases the terminal and signal handling.
func (s *Shell) Close() {
	s.Terminal.Reclaim()
	s.Terminal.Close()
}

func (s *Shell) setStdio(stdio proc.Stdio) {
	s.stdio = stdio
	s.Executor.Stdio = stdio
	s.Executor.Notices = stdio.Stderr
}

// withStdio runs fn with the shell's descriptors swapped for stdio.
func (s *Shell) withStdio(stdio proc.Stdio, fn func() int) int {
	prev := s.stdio
	s.setStdio(stdio)
	defer s.setStdio(prev)
	return fn()
}

func (s *Shell) Stdin() io.Reader {
	return s.stdio.Stdin
}

func (s *Shell) Stdout() io.Writer {
	return s.stdio.Stdout
}

func (s *Shell) Stderr() io.Writer {
	return s.stdio.Stderr
}

// LastStatus returns $?.
func (s *Shell) LastStatus() int {
	return s.lastRet
}

func (s *Shell) colorEnabled() bool {
	switch s.Config.Color {
	case colorAlways:
		return true
	case colorNever:
		return false
	default:
		return s.Terminal.Interactive()
	}
}

func (s *Shell) prompt() string {
	prompt := s.Env.Getenv(EnvPrompt)
	if prompt == "" {
		prompt = s.Config.Prompt
	}

	host, _ := os.Hostname()
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}

	pwd := s.Env.Getenv(EnvPWD)
	if wd, err := os.Getwd(); err == nil {
		pwd = wd
	}
	home := s.Env.Getenv(EnvHome)
	if home != "" && home != "/" && strings.HasPrefix(pwd, home) {
		pwd = "~" + strings.TrimPrefix(pwd, home)
	}

	userHost := s.Env.Getenv(EnvUser) + "@" + host
	if s.colorEnabled() {
		userHost = forceColor(ColorBoldGreen).Sprint(userHost)
		pwd = forceColor(ColorBoldBlue).Sprint(pwd)
	}

	prompt = strings.ReplaceAll(prompt, `\u@\h`, userHost)
	prompt = strings.ReplaceAll(prompt, `\u`, s.Env.Getenv(EnvUser))
	prompt = strings.ReplaceAll(prompt, `\h`, host)
	prompt = strings.ReplaceAll(prompt, `\w`, pwd)

	if os.Geteuid() == 0 {
		prompt = strings.ReplaceAll(prompt, `\$`, "#")
	} else {
		prompt = strings.ReplaceAll(prompt, `\$`, "$")
	}

	return unescape(prompt)
}

func (s *Shell) newReadline() (*readline.Instance, error) {
	cfg := &readline.Config{
		Stdin:           readline.NewCancelableStdin(s.stdio.Stdin),
		Stdout:          s.stdio.Stdout,
		Stderr:          s.stdio.Stderr,
		HistoryFile:     s.Config.HistoryPath(),
		HistoryLimit:    s.Config.HistoryLimit,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	}

	if err := cfg.Init(); err != nil {
		return nil, err
	}

	return readline.NewEx(cfg)
}

// RunInteractive reads commands from the terminal until exit or EOF.
func (s *Shell) RunInteractive() int {
	s.start("interactive")

	rl, err := s.newReadline()
	if err != nil {
		fmt.Fprintf(s.Stderr(), "%s: %v\n", ShellName, err)
		return 1
	}
	s.Readline = rl
	defer rl.Close()

	for !s.Quit {
		s.notifyJobs()
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()

		switch {
		case err == io.EOF:
			if s.exitBlocked() {
				continue
			}
			return s.lastRet

		case err == readline.ErrInterrupt:
			// Interrupt clears line.
			continue

		case err != nil:
			log.Printf("Error readline: %v", err)
			return 1

		case strings.TrimSpace(line) == "":
			continue // empty line

		default:
			s.history = append(s.history, line)
			s.RunCommand(line)
		}
	}
	return s.lastRet
}

// RunString runs a command string as given to -c. args become $1 and on.
func (s *Shell) RunString(command string, args []string) int {
	s.start("command")
	s.params = args
	s.RunCommand(command)
	return s.lastRet
}

// RunScript runs commands from r one statement at a time, so an exit stops
// reading. args become $1 and on.
func (s *Shell) RunScript(r io.Reader, name string, args []string) int {
	s.start("script")
	s.params = args

	err := syntax.NewParser().Stmts(r, func(stmt *syntax.Stmt) bool {
		if err := s.executeStatement(stmt); err != nil {
			s.reportError(err)
		}
		return !s.Quit
	})
	if err != nil {
		s.syntaxError(name, err)
	}
	return s.lastRet
}

// RunCommand parses and runs a single line of input.
func (s *Shell) RunCommand(line string) {
	prog, err := syntax.NewParser().Parse(strings.NewReader(line), "")
	if err != nil {
		s.syntaxError(line, err)
		return
	}
	if err := s.executeFile(prog); err != nil {
		s.reportError(err)
	}
}

func (s *Shell) syntaxError(line string, err error) {
	fmt.Fprintf(s.Stderr(), "%s: syntax error: %v\n", ShellName, err)
	_ = s.Events.Record(&logger.SyntaxError{Line: line, Error: err.Error()})
	s.lastRet = statusUsage
}

func (s *Shell) reportError(err error) {
	fmt.Fprintf(s.Stderr(), "%s: %v\n", ShellName, err)
	if errors.Is(err, ErrUnsupported) {
		_ = s.Events.Record(&logger.SyntaxError{Error: err.Error()})
		s.lastRet = statusUsage
		return
	}
	s.lastRet = 1
}

// start installs the shell's signal handling, in every mode, and records
// the session.
func (s *Shell) start(mode string) {
	if err := s.Terminal.ShellPosture(); err != nil {
		fmt.Fprintf(s.Stderr(), "%s: %v\n", ShellName, err)
	}
	_ = s.Events.Record(&logger.SessionStart{
		Pid:         os.Getpid(),
		Interactive: s.Terminal.Interactive(),
		Mode:        mode,
	})
}

// notifyJobs reports background jobs that finished since the last prompt
// and drops them from the table.
func (s *Shell) notifyJobs() {
	s.Jobs.UpdateStatuses()
	for _, j := range s.Jobs.List() {
		if j.Status != proc.Done || j.Notified() {
			continue
		}
		if s.Config.NotifyDone {
			fmt.Fprintln(s.Stderr(), proc.FormatJob(j, s.Jobs.Mark(j)))
		}
		j.MarkNotified()
		_ = s.Events.Record(&logger.JobUpdate{
			JobID:      j.ID,
			Pgid:       j.Pgid,
			Command:    j.Command,
			State:      j.Status.String(),
			ExitStatus: j.ExitStatus(),
		})
	}
	s.Jobs.Cleanup()
}

// exitBlocked warns once about stopped jobs before letting the shell exit.
func (s *Shell) exitBlocked() bool {
	if s.warnedStopped || !s.Terminal.Interactive() {
		return false
	}
	s.Jobs.UpdateStatuses()
	if _, ok := s.Jobs.MostRecent(proc.Stopped); !ok {
		return false
	}
	s.warnedStopped = true
	fmt.Fprintln(s.Stderr(), "There are stopped jobs.")
	return true
}

// lookPath resolves name against $PATH.
func (s *Shell) lookPath(name string) (string, error) {
	path, ok := s.Env.LookupEnv(EnvPath)
	if !ok {
		path = s.Config.DefaultPath
	}
	return proc.LookPath(path, name)
}
