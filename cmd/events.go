package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/josephlewis42/jobsh/core/logger"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var sessionFilter string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Explore the shell event log.",
}

var reportCommand = &cobra.Command{
	Use:   "report",
	Short: "Show a report of events.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		config, err := loadConfig()
		if err != nil {
			return err
		}

		fd, err := config.ReadEventLog()
		if err != nil {
			return err
		}
		defer fd.Close()

		var report logger.Report
		if err := logger.ReadJSONLinesLog(fd, report.Update); err != nil {
			return err
		}

		out, err := yaml.Marshal(report)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), string(out))

		return nil
	},
}

// catCommand prints events one per line.
var catCommand = &cobra.Command{
	Use:   "cat",
	Short: "Print the events in the log, oldest first.",
	Args:  cobra.ExactArgs(0),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		config, err := loadConfig()
		if err != nil {
			return err
		}

		fd, err := config.ReadEventLog()
		if err != nil {
			return err
		}
		defer fd.Close()

		var writeErr error
		err = logger.ReadJSONLinesLog(fd, func(le *logger.LogEntry) {
			if writeErr != nil || (sessionFilter != "" && !strings.HasPrefix(le.SessionID, sessionFilter)) {
				return
			}
			_, writeErr = fmt.Fprintln(cmd.OutOrStdout(), formatEvent(le))
		})
		if err != nil {
			return err
		}
		return writeErr
	},
}

func formatEvent(le *logger.LogEntry) string {
	when := time.UnixMicro(le.TimestampMicros).Format(time.RFC3339)

	var what string
	switch e := le.GetLogType().(type) {
	case *logger.SessionStart:
		what = fmt.Sprintf("session start pid=%d mode=%s interactive=%t", e.Pid, e.Mode, e.Interactive)
	case *logger.RunPipeline:
		what = fmt.Sprintf("run pgid=%d background=%t %s", e.Pgid, e.Background, e.Command)
	case *logger.JobUpdate:
		what = fmt.Sprintf("job [%d] pgid=%d %s status=%d %s", e.JobID, e.Pgid, e.State, e.ExitStatus, e.Command)
	case *logger.ExecFailure:
		what = fmt.Sprintf("exec failed status=%d %s: %s", e.Status, strings.Join(e.Command, " "), e.Error)
	case *logger.SyntaxError:
		what = fmt.Sprintf("syntax error %q: %s", e.Line, e.Error)
	default:
		what = "unknown event"
	}

	session := le.SessionID
	if len(session) > 8 {
		session = session[:8]
	}
	return fmt.Sprintf("%s %s %s", when, session, what)
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.AddCommand(reportCommand)
	eventsCmd.AddCommand(catCommand)

	catCommand.Flags().StringVar(&sessionFilter, "session", "", "only show events from sessions with this ID prefix")
}
