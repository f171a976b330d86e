package proc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type waitResult struct {
	pid int
	ws  unix.WaitStatus
}

// fakeWaiter replays queued wait results, then reports either nothing to
// collect or no children left.
type fakeWaiter struct {
	queue []waitResult
	err   error
}

func (f *fakeWaiter) wait4(pid int, ws *unix.WaitStatus, options int, rusage *unix.Rusage) (int, error) {
	if len(f.queue) == 0 {
		if f.err != nil {
			return -1, f.err
		}
		return 0, nil
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	*ws = next.ws
	return next.pid, nil
}

func exited(code int) unix.WaitStatus          { return unix.WaitStatus(code << 8) }
func signaled(sig unix.Signal) unix.WaitStatus { return unix.WaitStatus(sig) }
func stoppedBy(sig unix.Signal) unix.WaitStatus {
	return unix.WaitStatus(int(sig)<<8 | 0x7f)
}
func continuedStatus() unix.WaitStatus { return unix.WaitStatus(0xffff) }

func newFakeTable(waiter *fakeWaiter, alive func(int) bool) *Table {
	table := NewTable()
	table.wait4 = waiter.wait4
	table.alive = alive
	return table
}

func allAlive(int) bool { return true }

func TestTable_IDs(t *testing.T) {
	table := NewTable()

	first := table.Add("sleep 1", 100, []int{100}, true)
	second := table.Add("sleep 2", 200, []int{200}, true)
	third := table.Add("sleep 3", 300, []int{300}, true)
	assert.Equal(t, []int{1, 2, 3}, []int{first.ID, second.ID, third.ID})

	second.Status = Done
	assert.Equal(t, []*Job{second}, table.Cleanup())
	assert.Equal(t, 4, table.Add("sleep 4", 400, []int{400}, true).ID)

	for _, j := range table.List() {
		if j.ID != 1 {
			j.Status = Done
		}
	}
	table.Cleanup()
	assert.Equal(t, 2, table.Add("sleep 5", 500, []int{500}, true).ID)

	got, ok := table.Get(2)
	require.True(t, ok)
	assert.Equal(t, "sleep 5", got.Command)
	_, ok = table.Get(3)
	assert.False(t, ok)
}

func TestTable_CurrentAndPrevious(t *testing.T) {
	table := NewTable()
	_, ok := table.Current()
	assert.False(t, ok)

	a := table.Add("a", 1, []int{1}, true)
	b := table.Add("b", 2, []int{2}, true)
	c := table.Add("c", 3, []int{3}, true)

	assert.Equal(t, byte('+'), table.Mark(c))
	assert.Equal(t, byte('-'), table.Mark(b))
	assert.Equal(t, byte(' '), table.Mark(a))

	c.Status = Done
	cur, _ := table.Current()
	prev, _ := table.Previous()
	assert.Equal(t, b, cur)
	assert.Equal(t, a, prev)

	b.Status = Stopped
	stopped, ok := table.MostRecent(Stopped)
	require.True(t, ok)
	assert.Equal(t, b, stopped)
}

func TestTable_FindPrefix(t *testing.T) {
	table := NewTable()
	table.Add("vim notes.txt", 1, []int{1}, false)
	table.Add("sleep 100", 2, []int{2}, true)
	table.Add("sleep 200", 3, []int{3}, true)

	j, err := table.FindPrefix("vim")
	require.NoError(t, err)
	assert.Equal(t, 1, j.ID)

	_, err = table.FindPrefix("sleep")
	assert.EqualError(t, err, "sleep: ambiguous job spec")

	_, err = table.FindPrefix("make")
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestTable_UpdateStatuses(t *testing.T) {
	cases := map[string]struct {
		queue      []waitResult
		err        error
		alive      func(int) bool
		wantStatus Status
		wantExit   int
		wantText   string
	}{
		"still running": {
			alive:      allAlive,
			wantStatus: Running,
			wantText:   "Running",
		},
		"all stopped": {
			queue: []waitResult{
				{10, stoppedBy(unix.SIGTSTP)},
				{11, stoppedBy(unix.SIGTSTP)},
			},
			alive:      allAlive,
			wantStatus: Stopped,
			wantText:   "Stopped",
		},
		"partly stopped": {
			queue:      []waitResult{{10, stoppedBy(unix.SIGTSTP)}},
			alive:      allAlive,
			wantStatus: Running,
			wantText:   "Running",
		},
		"stopped then continued": {
			queue: []waitResult{
				{10, stoppedBy(unix.SIGTSTP)},
				{11, stoppedBy(unix.SIGTSTP)},
				{10, continuedStatus()},
				{11, continuedStatus()},
			},
			alive:      allAlive,
			wantStatus: Running,
			wantText:   "Running",
		},
		"finished": {
			queue: []waitResult{
				{10, exited(0)},
				{11, exited(3)},
			},
			alive:      allAlive,
			wantStatus: Done,
			wantExit:   3,
			wantText:   "Exit 3",
		},
		"final stage decides": {
			queue: []waitResult{
				{10, exited(1)},
				{11, exited(0)},
			},
			alive:      allAlive,
			wantStatus: Done,
			wantText:   "Done",
		},
		"killed": {
			queue: []waitResult{
				{10, signaled(unix.SIGTERM)},
				{11, signaled(unix.SIGTERM)},
			},
			alive:      allAlive,
			wantStatus: Done,
			wantExit:   StatusSignalBase + int(unix.SIGTERM),
			wantText:   "Terminated",
		},
		"not our children": {
			err:        unix.ECHILD,
			alive:      func(int) bool { return false },
			wantStatus: Done,
			wantText:   "Done",
		},
		"not our children but alive": {
			err:        unix.ECHILD,
			alive:      allAlive,
			wantStatus: Running,
			wantText:   "Running",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			table := newFakeTable(&fakeWaiter{queue: tc.queue, err: tc.err}, tc.alive)
			j := table.Add("a | b", 10, []int{10, 11}, true)

			table.UpdateStatuses()

			assert.Equal(t, tc.wantStatus, j.Status)
			assert.Equal(t, tc.wantExit, j.ExitStatus())
			assert.Equal(t, tc.wantText, j.StatusText())
		})
	}
}

func TestTable_UpdateStatusesSkipsDone(t *testing.T) {
	waiter := &fakeWaiter{queue: []waitResult{{10, exited(0)}}}
	table := newFakeTable(waiter, allAlive)
	j := table.Add("true", 10, []int{10}, true)
	j.Status = Done

	table.UpdateStatuses()
	assert.Len(t, waiter.queue, 1)
}

func TestFormatJob(t *testing.T) {
	j := newJob("sleep 100", 10, []int{10}, true)
	j.ID = 1
	assert.Equal(t, "[1]+  Running                 sleep 100 &", FormatJob(j, '+'))

	j.Status = Stopped
	assert.Equal(t, "[1]-  Stopped                 sleep 100", FormatJob(j, '-'))

	j.Status = Done
	assert.Equal(t, "[1]   Done                    sleep 100", FormatJob(j, ' '))
}
