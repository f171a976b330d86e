package proc

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Status is the state of a job as a whole.
type Status int

const (
	Running Status = iota
	Stopped
	Done
)

func (s Status) String() string {
	switch s {
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Done:
		return "Done"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Process is one started stage of a job.
type Process struct {
	Pid       int
	Stopped   bool
	Completed bool
	// ExitStatus is the exit code, or StatusSignalBase plus the signal that
	// killed the process.
	ExitStatus int
}

// Job is a pipeline running in its own process group.
//
// Job fields are owned by the goroutine running the shell; the Table lock
// only guards membership.
type Job struct {
	// ID is 0 until the job is registered in a Table.
	ID         int
	Pgid       int
	Command    string
	Status     Status
	Background bool
	Processes  []*Process

	// lastPid runs the final stage; it is 0 if that stage never started.
	lastPid    int
	exitStatus int
	termSignal syscall.Signal
	notified   bool
}

func newJob(command string, pgid int, pids []int, background bool) *Job {
	j := &Job{
		Pgid:       pgid,
		Command:    command,
		Status:     Running,
		Background: background,
	}
	for _, pid := range pids {
		j.Processes = append(j.Processes, &Process{Pid: pid})
	}
	if len(pids) > 0 {
		j.lastPid = pids[len(pids)-1]
	}
	return j
}

// ExitStatus returns the status of the pipeline's final stage.
func (j *Job) ExitStatus() int {
	return j.exitStatus
}

// Pids returns the pids of the job's processes in stage order.
func (j *Job) Pids() []int {
	var out []int
	for _, p := range j.Processes {
		out = append(out, p.Pid)
	}
	return out
}

// Notified reports whether the user has been told the job finished.
func (j *Job) Notified() bool {
	return j.notified
}

// MarkNotified records that the user has been told the job finished.
func (j *Job) MarkNotified() {
	j.notified = true
}

// StatusText is the state column shown by the jobs builtin.
func (j *Job) StatusText() string {
	if j.Status != Done {
		return j.Status.String()
	}
	switch {
	case j.termSignal != 0:
		name := j.termSignal.String()
		return strings.ToUpper(name[:1]) + name[1:]
	case j.exitStatus != 0:
		return fmt.Sprintf("Exit %d", j.exitStatus)
	default:
		return "Done"
	}
}

func (j *Job) process(pid int) *Process {
	for _, p := range j.Processes {
		if p.Pid == pid {
			return p
		}
	}
	return nil
}

func (j *Job) completed() bool {
	for _, p := range j.Processes {
		if !p.Completed {
			return false
		}
	}
	return true
}

// record applies a wait status to the matching process, if any.
func (j *Job) record(pid int, ws unix.WaitStatus) *Process {
	p := j.process(pid)
	if p == nil {
		return nil
	}

	switch {
	case ws.Stopped():
		p.Stopped = true
	case ws.Continued():
		p.Stopped = false
	case ws.Exited():
		p.Completed, p.Stopped = true, false
		p.ExitStatus = ws.ExitStatus()
	case ws.Signaled():
		p.Completed, p.Stopped = true, false
		p.ExitStatus = StatusSignalBase + int(ws.Signal())
	}

	if p.Completed && pid == j.lastPid {
		j.exitStatus = p.ExitStatus
		j.termSignal = 0
		if ws.Signaled() {
			j.termSignal = ws.Signal()
		}
	}
	return p
}

// finish marks every process complete. It is used once the kernel has no
// more children to report for the group.
func (j *Job) finish() {
	for _, p := range j.Processes {
		p.Completed, p.Stopped = true, false
	}
	j.Status = Done
}

// continued marks the job and all its processes as running again.
func (j *Job) continued() {
	for _, p := range j.Processes {
		p.Stopped = false
	}
	j.Status = Running
}

// refresh derives the job status from its processes, treating processes
// that alive reports gone as completed.
func (j *Job) refresh(alive func(pid int) bool) {
	live, stopped := 0, 0
	for _, p := range j.Processes {
		if p.Completed {
			continue
		}
		if !alive(p.Pid) {
			p.Completed, p.Stopped = true, false
			continue
		}
		live++
		if p.Stopped {
			stopped++
		}
	}

	switch {
	case live == 0:
		j.Status = Done
	case stopped == live:
		j.Status = Stopped
	default:
		j.Status = Running
	}
}

// ErrNoJob is returned when a job specification matches nothing.
var ErrNoJob = errors.New("no such job")

type wait4Func func(pid int, wstatus *unix.WaitStatus, options int, rusage *unix.Rusage) (int, error)

// Table holds the shell's background and stopped jobs.
type Table struct {
	mu   sync.Mutex
	jobs []*Job

	wait4 wait4Func
	alive func(pid int) bool
}

// NewTable returns an empty job table.
func NewTable() *Table {
	return &Table{
		wait4: unix.Wait4,
		alive: processAlive,
	}
}

// processAlive probes pid with signal 0. A recycled pid reads as alive.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Add registers a new running job and returns it with its ID assigned.
// pids[0] must be the group leader.
func (t *Table) Add(command string, pgid int, pids []int, background bool) *Job {
	j := newJob(command, pgid, pids, background)
	t.register(j)
	return j
}

// register gives j the next ID: one past the highest live ID, so the most
// recent job always has the highest.
func (t *Table) register(j *Job) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := 1
	for _, existing := range t.jobs {
		if existing.ID >= id {
			id = existing.ID + 1
		}
	}
	j.ID = id
	t.jobs = append(t.jobs, j)
}

// Get looks up a job by ID.
func (t *Table) Get(id int) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, j := range t.jobs {
		if j.ID == id {
			return j, true
		}
	}
	return nil, false
}

// List returns the jobs in ID order.
func (t *Table) List() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]*Job(nil), t.jobs...)
}

// Len returns the number of jobs in the table.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.jobs)
}

// MostRecent returns the newest job in any of the given states.
func (t *Table) MostRecent(states ...Status) (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := len(t.jobs) - 1; i >= 0; i-- {
		for _, s := range states {
			if t.jobs[i].Status == s {
				return t.jobs[i], true
			}
		}
	}
	return nil, false
}

// Current returns the job "%+" refers to: the newest unfinished job.
func (t *Table) Current() (*Job, bool) {
	return t.MostRecent(Running, Stopped)
}

// Previous returns the job "%-" refers to: the unfinished job before the
// current one.
func (t *Table) Previous() (*Job, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	seen := 0
	for i := len(t.jobs) - 1; i >= 0; i-- {
		if t.jobs[i].Status == Done {
			continue
		}
		if seen++; seen == 2 {
			return t.jobs[i], true
		}
	}
	return nil, false
}

// Mark returns '+' for the current job, '-' for the previous one and a
// space otherwise.
func (t *Table) Mark(j *Job) byte {
	if cur, ok := t.Current(); ok && cur == j {
		return '+'
	}
	if prev, ok := t.Previous(); ok && prev == j {
		return '-'
	}
	return ' '
}

// FindPrefix returns the single job whose command starts with prefix.
func (t *Table) FindPrefix(prefix string) (*Job, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var found *Job
	for _, j := range t.jobs {
		if !strings.HasPrefix(j.Command, prefix) {
			continue
		}
		if found != nil {
			return nil, fmt.Errorf("%s: ambiguous job spec", prefix)
		}
		found = j
	}
	if found == nil {
		return nil, fmt.Errorf("%s: %w", prefix, ErrNoJob)
	}
	return found, nil
}

// UpdateStatuses polls every unfinished job without blocking and updates
// its status. Processes that can no longer be waited on are probed for
// liveness instead.
func (t *Table) UpdateStatuses() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, j := range t.jobs {
		if j.Status == Done {
			continue
		}
		t.reap(j)
		j.refresh(t.alive)
	}
}

func (t *Table) reap(j *Job) {
	for {
		var ws unix.WaitStatus
		pid, err := t.wait4(-j.Pgid, &ws, unix.WNOHANG|unix.WUNTRACED|unix.WCONTINUED, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil || pid <= 0 {
			return
		}
		j.record(pid, ws)
	}
}

// Cleanup removes finished jobs and returns them. Call UpdateStatuses
// first so jobs that have just ended are seen as finished.
func (t *Table) Cleanup() []*Job {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed, kept []*Job
	for _, j := range t.jobs {
		if j.Status == Done {
			removed = append(removed, j)
		} else {
			kept = append(kept, j)
		}
	}
	t.jobs = kept
	return removed
}

// FormatJob renders a job the way the jobs builtin lists it.
func FormatJob(j *Job, mark byte) string {
	command := j.Command
	if j.Background && j.Status == Running {
		command += " &"
	}
	return fmt.Sprintf("[%d]%c  %-24s%s", j.ID, mark, j.StatusText(), command)
}
