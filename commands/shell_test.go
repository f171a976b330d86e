package commands

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/proc"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const testPath = "/usr/local/bin:/usr/bin:/bin"

// newTestShell returns a non-interactive shell reading /dev/null and
// writing both stdout and stderr to one temporary file, along with a
// function returning everything written so far.
func newTestShell(t *testing.T) (*Shell, func() string) {
	t.Helper()

	out, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	devNull, err := os.Open(os.DevNull)
	require.NoError(t, err)

	s := NewShell(config.Default(), nil, proc.Stdio{Stdin: devNull, Stdout: out, Stderr: out})
	s.Env.Setenv(EnvPath, testPath)
	t.Cleanup(func() {
		s.Close()
		out.Close()
		devNull.Close()
	})

	return s, func() string {
		contents, err := os.ReadFile(out.Name())
		require.NoError(t, err)
		return string(contents)
	}
}

// run executes script in a fresh shell and returns its output and status.
func run(t *testing.T, script string) (string, int) {
	t.Helper()
	s, out := newTestShell(t)
	status := s.RunString(script, nil)
	return out(), status
}

type goldenTestSuite map[string]string

func (gts goldenTestSuite) Run(t *testing.T, prefix string, setup func(s *Shell)) {
	t.Helper()

	g := goldie.New(
		t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithDiffEngine(goldie.ColoredDiff),
	)

	for tn, script := range gts {
		t.Run(tn, func(t *testing.T) {
			s, out := newTestShell(t)
			if setup != nil {
				setup(s)
			}
			status := s.RunString(script, nil)
			g.Assert(t, prefix+"-"+tn, []byte(fmt.Sprintf("%sstatus: %d\n", out(), status)))
		})
	}
}

func TestRunShell(t *testing.T) {
	cases := goldenTestSuite{
		"pipeline":  `echo hello world | tr a-z A-Z`,
		"status":    `false; echo $?; true; echo $?; ! false; echo $?`,
		"not-found": `no-such-command-jobsh; echo $?`,
		"and-or":    `true && echo yes; false && echo no; false || echo fallback; true || echo skipped`,
		"function":  `greet() { echo "hello $1"; }; greet world; echo $#`,
		"help":      `help`,

		// Assignments before a command only reach that command.
		"variables": `A=B AA=$A$A echo $AA; A=B AA=$A$A; echo $AA; X=1 sh -c 'echo $X'`,

		"redirects": `echo one > "$D/out"; echo two >> "$D/out"; cat < "$D/out"; ` +
			`sh -c 'echo oops >&2' 2> "$D/err"; cat "$D/err"; echo hidden 2>&1 >/dev/null`,
	}

	cases.Run(t, "shell", func(s *Shell) {
		s.Env.SetLocal("D", t.TempDir())
	})
}

func TestRunShell_redirectMissing(t *testing.T) {
	dir := t.TempDir()
	s, out := newTestShell(t)
	s.Env.SetLocal("D", dir)

	status := s.RunString(`cat < "$D/missing"; echo $?`, nil)
	assert.Equal(t, 0, status)
	assert.Contains(t, out(), "jobsh: open "+filepath.Join(dir, "missing")+": no such file or directory\n")
	assert.True(t, strings.HasSuffix(out(), "\n1\n"))
}

func TestRunShell_positional(t *testing.T) {
	s, out := newTestShell(t)
	status := s.RunString(`echo $# "$1" "$@"; shift_me() { echo "$2"; }; shift_me a b`, []string{"x", "y"})
	assert.Equal(t, 0, status)
	assert.Equal(t, "2 x x y\nb\n", out())
}

func TestRunShell_syntaxError(t *testing.T) {
	out, status := run(t, `echo (`)
	assert.Equal(t, statusUsage, status)
	assert.Contains(t, out, "syntax error")
}

func TestRunShell_unsupported(t *testing.T) {
	out, status := run(t, `for i in 1 2; do echo $i; done`)
	assert.Equal(t, statusUsage, status)
	assert.Contains(t, out, "unsupported syntax")
}

func TestRunShell_exit(t *testing.T) {
	out, status := run(t, `echo before; exit 3; echo after`)
	assert.Equal(t, 3, status)
	assert.Equal(t, "before\n", out)
}

func TestRunShell_lastStatus(t *testing.T) {
	_, status := run(t, `sh -c 'exit 7'`)
	assert.Equal(t, 7, status)
}

func TestRunShell_signalStatus(t *testing.T) {
	_, status := run(t, `sh -c 'kill -TERM $$'`)
	assert.Equal(t, 143, status)
}

func TestRunShell_background(t *testing.T) {
	s, out := newTestShell(t)
	status := s.RunString(`sleep 0 & wait $!; echo $?`, nil)
	assert.Equal(t, 0, status)

	lines := strings.Split(strings.TrimSpace(out()), "\n")
	require.Len(t, lines, 2)
	assert.Regexp(t, `^\[1\] \d+$`, lines[0])
	assert.Equal(t, "0", lines[1])
}

func TestRunScript(t *testing.T) {
	s, out := newTestShell(t)
	script := "echo one\nexit 4\necho two\n"
	status := s.RunScript(strings.NewReader(script), "test.sh", nil)
	assert.Equal(t, 4, status)
	assert.Equal(t, "one\n", out())
}

func TestResolve(t *testing.T) {
	s, _ := newTestShell(t)
	s.RunString(`myfunc() { true; }`, nil)

	assert.Equal(t, proc.Function, s.Resolve("myfunc").Kind)
	assert.Equal(t, proc.Builtin, s.Resolve("cd").Kind)
	assert.Equal(t, proc.External, s.Resolve("sh").Kind)
	assert.Equal(t, proc.NotFound, s.Resolve("no-such-command-jobsh").Kind)

	// Builtins remember the program of the same name for pipelines.
	assert.NotEmpty(t, s.Resolve("echo").Path)
	assert.Empty(t, s.Resolve("cd").Path)
}

func TestCommandText(t *testing.T) {
	s, _ := newTestShell(t)
	s.RunString(`sleep 5 | cat &`, nil)
	defer s.Executor.WaitAll()

	j, ok := s.Jobs.Current()
	require.True(t, ok)
	assert.Equal(t, "sleep 5 | cat", j.Command)
	s.RunString(`kill %1`, nil)
}

const interruptHelperEnv = "JOBSH_INTERRUPT_HELPER"

// TestRunString_interrupt runs a non-interactive shell in a child process
// and interrupts it while a foreground job is running. The job must die
// and the shell must carry on with the next command.
func TestRunString_interrupt(t *testing.T) {
	if os.Getenv(interruptHelperEnv) != "" {
		s := NewShell(config.Default(), nil, proc.OSStdio())
		s.Env.Setenv(EnvPath, testPath)
		status := s.RunString(`sh -c 'echo $$ > "$PIDFILE"; exec sleep 30'; echo after $?`, nil)
		s.Close()
		os.Exit(status)
	}

	pidFile := filepath.Join(t.TempDir(), "pid")
	var out bytes.Buffer
	cmd := exec.Command(os.Args[0], "-test.run=^TestRunString_interrupt$")
	cmd.Env = append(os.Environ(), interruptHelperEnv+"=1", "PIDFILE="+pidFile)
	cmd.Stdout = &out
	cmd.Stderr = &out
	require.NoError(t, cmd.Start())

	var pid int
	require.Eventually(t, func() bool {
		contents, err := os.ReadFile(pidFile)
		if err != nil {
			return false
		}
		pid, err = strconv.Atoi(strings.TrimSpace(string(contents)))
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { unix.Kill(pid, unix.SIGKILL) })

	require.NoError(t, cmd.Process.Signal(os.Interrupt))
	err := cmd.Wait()
	require.NoError(t, err, "shell output: %s", out.String())

	assert.Contains(t, out.String(), "after 130\n")
	assert.ErrorIs(t, unix.Kill(pid, 0), unix.ESRCH, "foreground job survived the interrupt")
}
