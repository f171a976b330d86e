package commands

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/josephlewis42/jobsh/core/proc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startJobs starts each command in the background and kills whatever is
// left of them when the test ends.
func startJobs(t *testing.T, s *Shell, commands ...string) {
	t.Helper()
	for _, c := range commands {
		s.RunString(c+" &", nil)
	}
	t.Cleanup(func() {
		s.RunString("kill %1 %2 %3 2>/dev/null; wait", nil)
	})
}

func waitForStatus(t *testing.T, s *Shell, j *proc.Job, status proc.Status) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.Jobs.UpdateStatuses()
		return j.Status == status
	}, 5*time.Second, 10*time.Millisecond)
}

func TestFindJob(t *testing.T) {
	s, _ := newTestShell(t)
	startJobs(t, s, "sleep 30", "sleep 31", "sh -c 'sleep 32'")

	cases := map[string]struct {
		spec    string
		wantID  int
		wantErr string
	}{
		"number":       {spec: "%1", wantID: 1},
		"bare number":  {spec: "2", wantID: 2},
		"current":      {spec: "%+", wantID: 3},
		"current %%":   {spec: "%%", wantID: 3},
		"current %":    {spec: "%", wantID: 3},
		"previous":     {spec: "%-", wantID: 2},
		"prefix":       {spec: "%sh", wantID: 3},
		"fallback":     {spec: "", wantID: 3},
		"ambiguous":    {spec: "%sleep", wantErr: "sleep: ambiguous job spec"},
		"missing":      {spec: "%9", wantErr: "%9: no such job"},
		"not a spec":   {spec: "abc", wantErr: "abc: no such job"},
		"no prefix ok": {spec: "%zzz", wantErr: "zzz: no such job"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			j, err := s.findJob(tc.spec, nil)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Equal(t, tc.wantErr, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantID, j.ID)
		})
	}

	_, err := s.findJob("%9", nil)
	assert.True(t, errors.Is(err, proc.ErrNoJob))
}

func TestJobs(t *testing.T) {
	s, out := newTestShell(t)
	startJobs(t, s, "sleep 30", "sleep 31")

	assert.Equal(t, 0, Jobs(s, []string{"jobs"}))
	lines := strings.Split(out(), "\n")
	assert.Contains(t, lines, "[1]-  Running                 sleep 30 &")
	assert.Contains(t, lines, "[2]+  Running                 sleep 31 &")
}

func TestJobs_pids(t *testing.T) {
	s, out := newTestShell(t)
	startJobs(t, s, "sleep 30")
	j, ok := s.Jobs.Get(1)
	require.True(t, ok)

	before := len(out())
	assert.Equal(t, 0, Jobs(s, []string{"jobs", "-p"}))
	assert.Equal(t, strconv.Itoa(j.Pgid)+"\n", out()[before:])
}

func TestJobs_doneRemoved(t *testing.T) {
	s, out := newTestShell(t)
	startJobs(t, s, "true")
	j, ok := s.Jobs.Get(1)
	require.True(t, ok)
	waitForStatus(t, s, j, proc.Done)

	before := len(out())
	assert.Equal(t, 0, Jobs(s, []string{"jobs"}))
	assert.Equal(t, "[1]   Done                    true\n", out()[before:])
	assert.Equal(t, 0, s.Jobs.Len())
}

func TestJobs_unknownSpec(t *testing.T) {
	s, out := newTestShell(t)
	assert.Equal(t, 1, Jobs(s, []string{"jobs", "%4"}))
	assert.Equal(t, "jobs: %4: no such job\n", out())
}

func TestStopAndContinue(t *testing.T) {
	s, out := newTestShell(t)
	startJobs(t, s, "sleep 30")
	j, ok := s.Jobs.Get(1)
	require.True(t, ok)

	assert.Equal(t, 0, s.RunString("kill -STOP %1", nil))
	waitForStatus(t, s, j, proc.Stopped)

	before := len(out())
	assert.Equal(t, 0, Jobs(s, []string{"jobs"}))
	assert.Equal(t, "[1]+  Stopped                 sleep 30\n", out()[before:])

	before = len(out())
	assert.Equal(t, 0, Bg(s, []string{"bg"}))
	assert.Equal(t, "[1]+ sleep 30 &\n", out()[before:])
	assert.Equal(t, proc.Running, j.Status)

	before = len(out())
	status := s.RunString("kill %1; wait %1", nil)
	assert.Equal(t, 143, status)
	assert.Equal(t, "", out()[before:])
}

func TestKill_stoppedJobTerminates(t *testing.T) {
	s, _ := newTestShell(t)
	startJobs(t, s, "sleep 30")
	j, ok := s.Jobs.Get(1)
	require.True(t, ok)

	s.RunString("kill -s STOP %1", nil)
	waitForStatus(t, s, j, proc.Stopped)

	assert.Equal(t, 0, s.RunString("kill %1", nil))
	waitForStatus(t, s, j, proc.Done)
	assert.Equal(t, "Terminated", j.StatusText())
}

func TestBg_alreadyRunning(t *testing.T) {
	s, out := newTestShell(t)
	startJobs(t, s, "sleep 30")

	before := len(out())
	assert.Equal(t, 0, Bg(s, []string{"bg", "%1"}))
	assert.Equal(t, "bg: job 1 already in background\n", out()[before:])
}

func TestBg_noStoppedJob(t *testing.T) {
	s, out := newTestShell(t)
	assert.Equal(t, 1, Bg(s, []string{"bg"}))
	assert.Equal(t, "bg: current: no such job\n", out())
}

func TestFg(t *testing.T) {
	s, out := newTestShell(t)
	startJobs(t, s, "sh -c 'sleep 1; exit 5'")

	before := len(out())
	assert.Equal(t, 5, s.RunString("fg", nil))
	assert.Equal(t, "sh -c 'sleep 1; exit 5'\n", out()[before:])
	assert.Equal(t, 0, s.Jobs.Len())
}

func TestFg_noJob(t *testing.T) {
	s, out := newTestShell(t)
	assert.Equal(t, 1, Fg(s, []string{"fg"}))
	assert.Equal(t, "fg: current: no such job\n", out())
}

func TestWait(t *testing.T) {
	s, out := newTestShell(t)

	status := s.RunString(`sh -c 'exit 3' & sh -c 'exit 4' & wait %1; echo $?; wait; echo $?`, nil)
	assert.Equal(t, 0, status)
	assert.True(t, strings.HasSuffix(out(), "\n3\n0\n"), out())
	assert.Equal(t, 0, s.Jobs.Len())
}

func TestWait_notAChild(t *testing.T) {
	out, status := run(t, `wait 1`)
	assert.Equal(t, proc.StatusNotFound, status)
	assert.Equal(t, "wait: pid 1 is not a child of this shell\n", out)
}

func TestKill_list(t *testing.T) {
	cases := map[string]struct {
		args []string
		want string
	}{
		"number":      {[]string{"kill", "-l", "15"}, "TERM\n"},
		"name":        {[]string{"kill", "-l", "TERM"}, "15\n"},
		"sig prefix":  {[]string{"kill", "-l", "SIGKILL"}, "9\n"},
		"exit status": {[]string{"kill", "-l", "143"}, "TERM\n"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s, out := newTestShell(t)
			assert.Equal(t, 0, Kill(s, tc.args))
			assert.Equal(t, tc.want, out())
		})
	}

	t.Run("all", func(t *testing.T) {
		s, out := newTestShell(t)
		assert.Equal(t, 0, Kill(s, []string{"kill", "-l"}))
		assert.Contains(t, out(), " 9) KILL")
		assert.Contains(t, out(), "15) TERM")
	})
}

func TestKill_errors(t *testing.T) {
	cases := map[string]struct {
		args   []string
		status int
		want   string
	}{
		"no args":     {[]string{"kill"}, statusUsage, "usage: "},
		"bad signal":  {[]string{"kill", "-NOPE", "1"}, 1, "kill: NOPE: invalid signal specification\n"},
		"bad target":  {[]string{"kill", "abc"}, 1, "kill: abc: arguments must be process or job IDs\n"},
		"missing job": {[]string{"kill", "%3"}, 1, "kill: %3: no such job\n"},
		"missing arg": {[]string{"kill", "-s"}, statusUsage, "kill: -s: option requires an argument\n"},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			s, out := newTestShell(t)
			assert.Equal(t, tc.status, Kill(s, tc.args))
			assert.Contains(t, out(), tc.want)
		})
	}
}

func TestParseSignal(t *testing.T) {
	for _, spec := range []string{"9", "KILL", "kill", "SIGKILL", "sigkill"} {
		sig, err := parseSignal(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, 9, int(sig), spec)
	}

	_, err := parseSignal("65")
	assert.Error(t, err)
}
