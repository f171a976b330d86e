package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/josephlewis42/jobsh/core/proc"
)

// Cd is the cd shell builtin
func Cd(s *Shell, args []string) int {
	var dir string
	switch len(args) {
	case 1:
		dir = s.Env.Getenv(EnvHome)
		if dir == "" {
			fmt.Fprintf(s.Stderr(), "%s: HOME not set\n", args[0])
			return 1
		}
	case 2:
		dir = args[1]
		if dir == "-" {
			dir = s.Env.Getenv(EnvOldPWD)
			if dir == "" {
				fmt.Fprintf(s.Stderr(), "%s: OLDPWD not set\n", args[0])
				return 1
			}
			fmt.Fprintln(s.Stdout(), dir)
		}
	default:
		fmt.Fprintf(s.Stderr(), "%s: too many arguments\n", args[0])
		return 1
	}

	prev, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			err = pathErr.Err
		}
		fmt.Fprintf(s.Stderr(), "%s: %s: %v\n", args[0], dir, err)
		return 1
	}

	if wd, err := os.Getwd(); err == nil {
		s.Env.Setenv(EnvPWD, wd)
	}
	if prev != "" {
		s.Env.Setenv(EnvOldPWD, prev)
	}
	return 0
}

// Pwd prints the working directory.
func Pwd(s *Shell, args []string) int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(s.Stderr(), "%s: %v\n", args[0], err)
		return 1
	}
	fmt.Fprintln(s.Stdout(), wd)
	return 0
}

// Exit quits the shell
func Exit(s *Shell, args []string) int {
	status := s.lastRet
	switch len(args) {
	case 1:
	case 2:
		n, err := strconv.Atoi(args[1])
		if err != nil {
			fmt.Fprintf(s.Stderr(), "%s: %s: numeric argument required\n", args[0], args[1])
			n = statusUsage
		}
		status = n & 0xff
	default:
		fmt.Fprintf(s.Stderr(), "%s: too many arguments\n", args[0])
		return 1
	}

	if s.exitBlocked() {
		return 1
	}
	s.Quit = true
	return status
}

func History(s *Shell, args []string) int {
	cmd := &SimpleCommand{
		Use:   "history [-c]",
		Short: "Display the history list with line numbers.",
	}
	clear := cmd.Flags().Bool('c', "clear the history by deleting all entries")

	return cmd.Run(s, args, func() int {
		if *clear {
			if s.Readline != nil {
				s.Readline.Operation.ResetHistory()
			}
			s.history = nil
			return 0
		}

		for i, line := range s.history {
			fmt.Fprintf(s.Stdout(), "% 5d  %s\n", i+1, line)
		}
		return 0
	})
}

func Help(s *Shell, args []string) int {
	w := s.Stdout()
	fmt.Fprintf(w, "%s, a job control shell\n", ShellName)
	fmt.Fprintln(w, "These shell commands are defined internally.  Type `help' to see this list.")
	fmt.Fprintln(w, "Type `name --help' to find out more about the command `name'.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Builtins:")
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Join(ListBuiltins(), "\n"))
	return 0
}

func True(s *Shell, args []string) int {
	return 0
}

func False(s *Shell, args []string) int {
	return 1
}

// Export marks variables for the environment of later commands.
func Export(s *Shell, args []string) int {
	cmd := &SimpleCommand{
		Use:   "export [-p] [NAME[=VALUE] ...]",
		Short: "Set export attribute for shell variables.",
	}
	printAll := cmd.Flags().Bool('p', "list all exported variables")

	return cmd.Run(s, args, func() int {
		names := cmd.Flags().Args()
		if *printAll || len(names) == 0 {
			for _, kv := range s.Env.Environ() {
				name, value := splitAssignment(kv)
				fmt.Fprintf(s.Stdout(), "export %s=%s\n", name, strconv.Quote(value))
			}
			return 0
		}

		ret := 0
		for _, arg := range names {
			if name, value, ok := strings.Cut(arg, "="); ok {
				if err := s.Env.Setenv(name, value); err != nil {
					fmt.Fprintf(s.Stderr(), "%s: %v\n", args[0], err)
					ret = 1
				}
				continue
			}
			if arg == "" {
				fmt.Fprintf(s.Stderr(), "%s: %q: not a valid identifier\n", args[0], arg)
				ret = 1
				continue
			}
			s.Env.Export(arg)
		}
		return ret
	})
}

// Unset removes variables or functions.
func Unset(s *Shell, args []string) int {
	cmd := &SimpleCommand{
		Use:   "unset [-fv] [NAME...]",
		Short: "Unset shell values and functions.",
	}
	funcs := cmd.Flags().Bool('f', "treat NAME as a function")
	vars := cmd.Flags().Bool('v', "treat NAME as a variable")

	return cmd.Run(s, args, func() int {
		for _, name := range cmd.Flags().Args() {
			if *funcs {
				delete(s.functions, name)
				continue
			}

			_, isVar := s.Env.LookupEnv(name)
			s.Env.Unsetenv(name)
			if !isVar && !*vars {
				delete(s.functions, name)
			}
		}
		return 0
	})
}

// Type describes how each name would be run.
func Type(s *Shell, args []string) int {
	cmd := &SimpleCommand{
		Use:   "type [-t] NAME...",
		Short: "Display information about command type.",
	}
	terse := cmd.Flags().Bool('t', "print a single word describing the type")

	return cmd.Run(s, args, func() int {
		ret := 0
		for _, name := range cmd.Flags().Args() {
			d := s.Resolve(name)

			var word, long string
			switch d.Kind {
			case proc.Function:
				word, long = "function", "a shell function"
			case proc.Builtin:
				word, long = "builtin", "a shell builtin"
			case proc.External:
				word, long = "file", d.Path
			default:
				fmt.Fprintf(s.Stderr(), "%s: %s: not found\n", args[0], name)
				ret = 1
				continue
			}

			if *terse {
				fmt.Fprintln(s.Stdout(), word)
			} else {
				fmt.Fprintf(s.Stdout(), "%s is %s\n", name, long)
			}
		}
		return ret
	})
}

func init() {
	addBuiltin("cd", Cd)
	addBuiltin("pwd", Pwd)
	addBuiltin("exit", Exit)
	addBuiltin("history", History)
	addBuiltin("help", Help)
	addBuiltin("true", True)
	addBuiltin("false", False)
	addBuiltin("export", Export)
	addBuiltin("unset", Unset)
	addBuiltin("type", Type)
}
