package cmd

import (
	"errors"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/josephlewis42/jobsh/commands"
	"github.com/josephlewis42/jobsh/core/config"
	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/josephlewis42/jobsh/core/proc"
	"github.com/spf13/cobra"
)

var (
	cfgPath    string
	command    string
	colorMode  string
	exitStatus int
)

func defaultConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, commands.ShellName)
}

func loadConfig() (*config.Configuration, error) {
	configuration, err := config.Load(cfgPath)

	if errors.Is(err, fs.ErrNotExist) {
		log.Println("Couldn't load config: did you run init?")
	}

	return configuration, err
}

// shellConfig loads the configuration, falling back to the built-in
// defaults when none has been written yet.
func shellConfig() (*config.Configuration, error) {
	configuration, err := config.Load(cfgPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		configuration = config.Default()
	case err != nil:
		return nil, err
	}

	if colorMode != "" {
		configuration.Color = colorMode
		if err := configuration.Validate(); err != nil {
			return nil, err
		}
	}
	return configuration, nil
}

// openEvents starts a session in the configured event log. Failing to open
// it only disables recording.
func openEvents(configuration *config.Configuration) (*logger.SessionLogger, func()) {
	fd, err := configuration.OpenEventLog()
	if err != nil {
		if !errors.Is(err, config.ErrNoEventLog) {
			log.Printf("Couldn't open event log: %v", err)
		}
		return logger.NewNopLogger().Sessionless(), func() {}
	}

	return logger.NewJsonLinesLogRecorder(fd).NewSession(), func() { fd.Close() }
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jobsh [flags] [SCRIPT [ARG...]]",
	Short: "A POSIX-style shell with job control",
	Long: `A POSIX-style shell with pipelines, redirections and job control.

Without arguments the shell reads commands from the terminal, or from
standard input when it isn't one.`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		configuration, err := shellConfig()
		if err != nil {
			exitStatus = 2
			return err
		}

		events, closeEvents := openEvents(configuration)
		defer closeEvents()

		sh := commands.NewShell(configuration, events, proc.OSStdio())
		defer sh.Close()

		switch {
		case cmd.Flags().Changed("command"):
			exitStatus = sh.RunString(command, args)

		case len(args) > 0:
			fd, err := os.Open(args[0])
			if err != nil {
				exitStatus = proc.StatusNotFound
				return err
			}
			defer fd.Close()
			exitStatus = sh.RunScript(fd, args[0], args[1:])

		case sh.Terminal.Interactive():
			exitStatus = sh.RunInteractive()

		default:
			exitStatus = sh.RunScript(os.Stdin, "stdin", nil)
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil && exitStatus == 0 {
		exitStatus = 1
	}
	os.Exit(exitStatus)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", defaultConfigDir(), "config path")
	rootCmd.Flags().StringVarP(&command, "command", "c", "", "run the given command string and exit")
	rootCmd.Flags().StringVar(&colorMode, "color", "", "override the configured color mode (always|auto|never)")

	// Everything after the script name belongs to the script.
	rootCmd.Flags().SetInterspersed(false)
}
