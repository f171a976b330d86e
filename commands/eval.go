package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"io/ioutil"
	"os"
	"strconv"
	"strings"

	"github.com/josephlewis42/jobsh/core/proc"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

// ErrUnsupported is returned for valid shell syntax the shell doesn't run.
var ErrUnsupported = errors.New("unsupported syntax")

const maxFunctionDepth = 1000

func unsupported(node syntax.Node, what string) error {
	return fmt.Errorf("%w: %s at %s", ErrUnsupported, what, node.Pos())
}

func (s *Shell) executeFile(file *syntax.File) error {
	for _, stmt := range file.Stmts {
		if s.Quit {
			return nil
		}
		if err := s.executeStatement(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Shell) executeStatement(stmt *syntax.Stmt) error {
	var err error
	switch cmd := stmt.Cmd.(type) {
	case nil, *syntax.CallExpr:
		err = s.runPipeline(stmt)

	case *syntax.FuncDecl:
		s.functions[cmd.Name.Value] = cmd.Body
		s.lastRet = 0

	case *syntax.Block:
		if stmt.Background || len(stmt.Redirs) > 0 {
			return unsupported(stmt, "redirected or background group")
		}
		for _, sub := range cmd.Stmts {
			if s.Quit {
				break
			}
			if err := s.executeStatement(sub); err != nil {
				return err
			}
		}

	case *syntax.BinaryCmd:
		switch cmd.Op {
		case syntax.Pipe:
			err = s.runPipeline(stmt)
		case syntax.AndStmt, syntax.OrStmt:
			if stmt.Background {
				return unsupported(stmt, "background list")
			}
			if err := s.executeStatement(cmd.X); err != nil {
				return err
			}
			if (cmd.Op == syntax.AndStmt) == (s.lastRet == 0) && !s.Quit {
				err = s.executeStatement(cmd.Y)
			}
		default:
			return unsupported(stmt, cmd.Op.String())
		}

	default:
		return unsupported(stmt, fmt.Sprintf("%T", cmd))
	}
	if err != nil {
		return err
	}

	if stmt.Negated {
		if s.lastRet == 0 {
			s.lastRet = 1
		} else {
			s.lastRet = 0
		}
	}
	return nil
}

// pipelineStmts flattens a tree of "|" operators into its stages, left to
// right.
func pipelineStmts(stmt *syntax.Stmt) ([]*syntax.Stmt, error) {
	bc, ok := stmt.Cmd.(*syntax.BinaryCmd)
	if !ok {
		return []*syntax.Stmt{stmt}, nil
	}
	if bc.Op != syntax.Pipe {
		return nil, unsupported(stmt, bc.Op.String())
	}

	for _, side := range []*syntax.Stmt{bc.X, bc.Y} {
		if side.Negated || side.Background {
			return nil, unsupported(side, "negated or background pipeline stage")
		}
	}

	left, err := pipelineStmts(bc.X)
	if err != nil {
		return nil, err
	}
	right, err := pipelineStmts(bc.Y)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

func (s *Shell) runPipeline(stmt *syntax.Stmt) error {
	stmts, err := pipelineStmts(stmt)
	if err != nil {
		return err
	}

	cfg := s.expandConfig()
	p := proc.Pipeline{
		Background: stmt.Background,
		Command:    commandText(stmt),
	}
	for _, st := range stmts {
		stage, err := s.buildStage(cfg, st)
		if err != nil {
			return err
		}
		p.Stages = append(p.Stages, stage)
	}

	if len(p.Stages) == 1 && p.Stages[0].Name == "" {
		s.lastRet = s.assignOnly(p.Stages[0])
		return nil
	}
	for _, stage := range p.Stages {
		if stage.Name == "" {
			return unsupported(stmt, "empty pipeline stage")
		}
	}

	status, err := s.Executor.Run(p)
	if err != nil {
		return err
	}
	s.lastRet = status
	return nil
}

// buildStage expands one simple command. A stage with no words only
// carries assignments and redirections.
func (s *Shell) buildStage(cfg *expand.Config, stmt *syntax.Stmt) (proc.Stage, error) {
	var stage proc.Stage

	if stmt.Cmd != nil {
		call, ok := stmt.Cmd.(*syntax.CallExpr)
		if !ok {
			return stage, unsupported(stmt, fmt.Sprintf("%T in a pipeline", stmt.Cmd))
		}

		// Each assignment sees the ones before it, the arguments see none.
		assigned := assignEnviron{shellEnviron: shellEnviron{s: s}, vars: make(map[string]string)}
		assignCfg := &expand.Config{Env: assigned, ReadDir: cfg.ReadDir}
		for _, as := range call.Assigns {
			if as.Append || as.Array != nil || as.Index != nil || as.Naked {
				return stage, unsupported(as, "array or append assignment")
			}
			value, err := expand.Literal(assignCfg, as.Value)
			if err != nil {
				return stage, err
			}
			assigned.vars[as.Name.Value] = value
			stage.Env = append(stage.Env, as.Name.Value+"="+value)
		}

		args, err := expand.Fields(cfg, call.Args...)
		if err != nil {
			return stage, err
		}
		if len(args) > 0 {
			stage.Name = args[0]
			stage.Args = args
		}
	}

	for _, r := range stmt.Redirs {
		redir, err := convertRedirect(cfg, r)
		if err != nil {
			return stage, err
		}
		stage.Redirs = append(stage.Redirs, redir)
	}
	return stage, nil
}

// assignOnly handles a command made only of assignments and redirections:
// the assignments become shell variables and redirected files are created.
func (s *Shell) assignOnly(stage proc.Stage) int {
	for _, kv := range stage.Env {
		name, value := splitAssignment(kv)
		if err := s.Env.SetLocal(name, value); err != nil {
			fmt.Fprintf(s.Stderr(), "%s: %v\n", ShellName, err)
			return 1
		}
	}

	_, files, err := proc.ApplyRedirections(s.stdio, stage.Redirs)
	if err != nil {
		fmt.Fprintf(s.Stderr(), "%s: %v\n", ShellName, err)
		return 1
	}
	files.Close()
	return 0
}

func splitAssignment(kv string) (string, string) {
	if i := strings.IndexByte(kv, '='); i >= 0 {
		return kv[:i], kv[i+1:]
	}
	return kv, ""
}

func convertRedirect(cfg *expand.Config, r *syntax.Redirect) (proc.Redirection, error) {
	fd := ""
	if r.N != nil {
		fd = r.N.Value
	}
	target, err := expand.Literal(cfg, r.Word)
	if err != nil {
		return proc.Redirection{}, err
	}

	var text string
	switch r.Op {
	case syntax.RdrOut, syntax.ClbOut:
		text = ">"
	case syntax.AppOut:
		text = ">>"
	case syntax.RdrIn:
		text = "<"
	case syntax.DplOut:
		text = ">&" + target
	default:
		return proc.Redirection{}, unsupported(r, "redirection "+fd+r.Op.String())
	}

	// Explicit standard descriptors are spelled without the number.
	if (fd == "1" && r.Op != syntax.RdrIn) || (fd == "0" && r.Op == syntax.RdrIn) {
		fd = ""
	}
	op, err := proc.ParseRedirOp(fd + text)
	if err != nil {
		return proc.Redirection{}, unsupported(r, "redirection "+fd+text)
	}
	if op == proc.RedirErrToOut {
		return proc.Redirection{Op: op}, nil
	}

	if target == "" {
		return proc.Redirection{}, fmt.Errorf("%s: ambiguous redirect", r.Op)
	}
	return proc.Redirection{Op: op, Target: target}, nil
}

// commandText renders stmt on one line for job listings.
func commandText(stmt *syntax.Stmt) string {
	cp := *stmt
	cp.Background = false
	cp.Comments = nil

	var buf strings.Builder
	if err := syntax.NewPrinter().Print(&buf, &cp); err != nil {
		return ""
	}
	return strings.Join(strings.Fields(buf.String()), " ")
}

func (s *Shell) expandConfig() *expand.Config {
	return &expand.Config{
		Env:     shellEnviron{s: s},
		ReadDir: ioutil.ReadDir,
	}
}

// shellEnviron layers the special parameters over the shell's variables.
type shellEnviron struct {
	s *Shell
}

var _ expand.WriteEnviron = shellEnviron{}

func strVar(value string) expand.Variable {
	return expand.Variable{Kind: expand.String, Str: value}
}

func (e shellEnviron) Get(name string) expand.Variable {
	s := e.s
	switch name {
	case "?":
		return strVar(strconv.Itoa(s.lastRet))
	case "$":
		return strVar(strconv.Itoa(os.Getpid()))
	case "!":
		if pid := s.Executor.LastBackground(); pid > 0 {
			return strVar(strconv.Itoa(pid))
		}
		return expand.Variable{}
	case "#":
		return strVar(strconv.Itoa(len(s.params)))
	case "@", "*":
		return expand.Variable{Kind: expand.Indexed, List: s.params}
	case "0":
		return strVar(ShellName)
	}

	if n, err := strconv.Atoi(name); err == nil && n > 0 {
		if n <= len(s.params) {
			return strVar(s.params[n-1])
		}
		return expand.Variable{}
	}
	return s.Env.Get(name)
}

func (e shellEnviron) Each(fn func(name string, vr expand.Variable) bool) {
	e.s.Env.Each(fn)
}

func (e shellEnviron) Set(name string, vr expand.Variable) error {
	return e.s.Env.Set(name, vr)
}

// assignEnviron shows the assignments made so far by one command.
type assignEnviron struct {
	shellEnviron
	vars map[string]string
}

func (e assignEnviron) Get(name string) expand.Variable {
	if value, ok := e.vars[name]; ok {
		return strVar(value)
	}
	return e.shellEnviron.Get(name)
}

// Resolve implements proc.Resolver: functions shadow builtins, which shadow
// programs on PATH.
func (s *Shell) Resolve(name string) proc.Dispatch {
	if body, ok := s.functions[name]; ok {
		return proc.Dispatch{Kind: proc.Function, Run: s.runFunction(name, body)}
	}

	path, err := s.lookPath(name)
	if builtin, ok := AllBuiltins[name]; ok {
		if err != nil {
			path = ""
		}
		return proc.Dispatch{Kind: proc.Builtin, Path: path, Run: s.runBuiltin(builtin)}
	}

	switch {
	case err == nil:
		return proc.Dispatch{Kind: proc.External, Path: path}
	case errors.Is(err, fs.ErrPermission) && strings.Contains(name, "/"):
		// exec reports why it can't be run.
		return proc.Dispatch{Kind: proc.External, Path: name}
	default:
		return proc.Dispatch{Kind: proc.NotFound}
	}
}

func (s *Shell) runBuiltin(builtin ShellBuiltin) proc.RunFunc {
	return func(stdio proc.Stdio, args []string) int {
		return s.withStdio(stdio, func() int {
			return builtin.Main(s, args)
		})
	}
}

func (s *Shell) runFunction(name string, body *syntax.Stmt) proc.RunFunc {
	return func(stdio proc.Stdio, args []string) int {
		if s.depth >= maxFunctionDepth {
			fmt.Fprintf(stdio.Stderr, "%s: %s: maximum function nesting level exceeded\n", ShellName, name)
			return 1
		}

		return s.withStdio(stdio, func() int {
			prevParams := s.params
			s.params = args[1:]
			s.depth++
			defer func() {
				s.params = prevParams
				s.depth--
			}()

			if err := s.executeStatement(body); err != nil {
				s.reportError(err)
			}
			return s.lastRet
		})
	}
}
