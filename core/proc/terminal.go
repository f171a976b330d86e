package proc

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// jobControlSignals are caught, not ignored, while the shell waits at its
// prompt. Caught signals revert to their defaults in a child at exec, so
// jobs are interruptible and stoppable while the shell is not.
var jobControlSignals = []os.Signal{
	unix.SIGINT,
	unix.SIGQUIT,
	unix.SIGTSTP,
	unix.SIGTTIN,
	unix.SIGTTOU,
}

// Terminal tracks the controlling terminal and which process group is in
// the foreground.
//
// A Terminal built on something other than a tty is non-interactive: it
// never changes terminal ownership but still records the foreground group
// so keyboard signals delivered to the shell are forwarded to it.
type Terminal struct {
	fd        int
	shellPgid int

	mu     sync.Mutex
	fgPgid int

	sigs chan os.Signal
	done chan struct{}
}

// NewTerminal returns a Terminal for f, normally the shell's stdin.
func NewTerminal(f *os.File) *Terminal {
	t := &Terminal{fd: -1, shellPgid: unix.Getpgrp()}
	if f != nil && term.IsTerminal(int(f.Fd())) {
		t.fd = int(f.Fd())
	}
	return t
}

// Interactive reports whether the shell controls a terminal.
func (t *Terminal) Interactive() bool {
	return t.fd >= 0
}

// ShellPgid returns the shell's own process group.
func (t *Terminal) ShellPgid() int {
	return t.shellPgid
}

// Foreground returns the process group currently running in the
// foreground, or 0 if the shell itself is.
func (t *Terminal) Foreground() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fgPgid
}

// ShellPosture installs the shell's signal handling and, when interactive,
// waits until the shell is in the foreground, puts it in its own process
// group and takes the terminal.
func (t *Terminal) ShellPosture() error {
	if t.sigs != nil {
		return nil
	}

	if t.Interactive() {
		// Stop ourselves until whoever started us puts us in the foreground.
		for {
			fg, err := unix.IoctlGetInt(t.fd, unix.TIOCGPGRP)
			if err != nil || fg == unix.Getpgrp() {
				break
			}
			_ = unix.Kill(-unix.Getpgrp(), unix.SIGTTIN)
		}
	}

	t.sigs = make(chan os.Signal, 8)
	t.done = make(chan struct{})
	signal.Notify(t.sigs, jobControlSignals...)
	go t.forward(t.sigs, t.done)

	if !t.Interactive() {
		return nil
	}

	// Session leaders already lead their group and get EPERM here.
	pid := unix.Getpid()
	if err := unix.Setpgid(pid, pid); err != nil && !errors.Is(err, unix.EPERM) {
		return &os.SyscallError{Syscall: "setpgid", Err: err}
	}
	t.shellPgid = unix.Getpgrp()
	return t.tcsetpgrp(t.shellPgid)
}

// Close undoes ShellPosture's signal handling.
func (t *Terminal) Close() {
	if t.sigs == nil {
		return
	}
	signal.Stop(t.sigs)
	close(t.done)
	t.sigs = nil
}

func (t *Terminal) forward(sigs <-chan os.Signal, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case sig := <-sigs:
			s, ok := sig.(syscall.Signal)
			if !ok || (s != unix.SIGINT && s != unix.SIGQUIT) {
				continue
			}
			if pgid := t.Foreground(); pgid > 0 {
				_ = unix.Kill(-pgid, s)
			}
		}
	}
}

// SetForeground records pgid as the foreground group and hands it the
// terminal.
func (t *Terminal) SetForeground(pgid int) {
	t.mu.Lock()
	t.fgPgid = pgid
	t.mu.Unlock()

	if t.Interactive() {
		_ = t.tcsetpgrp(pgid)
	}
}

// Reclaim gives the terminal back to the shell.
func (t *Terminal) Reclaim() {
	t.mu.Lock()
	t.fgPgid = 0
	t.mu.Unlock()

	if t.Interactive() {
		_ = t.tcsetpgrp(t.shellPgid)
	}
}

// tcsetpgrp changes the terminal's foreground group. The kernel sends
// SIGTTOU to callers outside the foreground group unless it is ignored, and
// a caught SIGTTOU would restart the ioctl forever.
func (t *Terminal) tcsetpgrp(pgid int) error {
	signal.Ignore(unix.SIGTTOU)
	defer t.restoreTTOU()
	return unix.IoctlSetPointerInt(t.fd, unix.TIOCSPGRP, pgid)
}

func (t *Terminal) restoreTTOU() {
	if t.sigs != nil {
		signal.Notify(t.sigs, unix.SIGTTOU)
		return
	}
	signal.Reset(unix.SIGTTOU)
}

// ChildAttr returns the attributes for a stage joining group pgid; 0 makes
// the stage the leader of a new group. A foreground leader also takes the
// terminal before exec so it cannot read from the tty while still in the
// background.
func (t *Terminal) ChildAttr(pgid int, foreground bool) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{Setpgid: true, Pgid: pgid}
	if foreground && pgid == 0 && t.Interactive() {
		attr.Foreground = true
		attr.Ctty = t.fd
	}
	return attr
}
