package logger

// LogEntry is a single line of the event log. Exactly one event field is
// set.
type LogEntry struct {
	TimestampMicros int64  `json:"timestamp_micros"`
	SessionID       string `json:"session_id,omitempty"`

	SessionStart *SessionStart `json:"session_start,omitempty"`
	RunPipeline  *RunPipeline  `json:"run_pipeline,omitempty"`
	JobUpdate    *JobUpdate    `json:"job_update,omitempty"`
	ExecFailure  *ExecFailure  `json:"exec_failure,omitempty"`
	SyntaxError  *SyntaxError  `json:"syntax_error,omitempty"`
}

// LogType is implemented by every event that can be stored in a LogEntry.
type LogType interface {
	setOn(le *LogEntry)
}

// GetLogType returns the event held by the entry, or nil.
func (le *LogEntry) GetLogType() LogType {
	switch {
	case le.SessionStart != nil:
		return le.SessionStart
	case le.RunPipeline != nil:
		return le.RunPipeline
	case le.JobUpdate != nil:
		return le.JobUpdate
	case le.ExecFailure != nil:
		return le.ExecFailure
	case le.SyntaxError != nil:
		return le.SyntaxError
	}
	return nil
}

// SessionStart is logged once when a shell starts.
type SessionStart struct {
	Pid         int    `json:"pid"`
	Interactive bool   `json:"interactive"`
	Mode        string `json:"mode"`
}

func (e *SessionStart) setOn(le *LogEntry) { le.SessionStart = e }

// RunPipeline is logged when the processes of a pipeline have started.
type RunPipeline struct {
	Command    string `json:"command"`
	Pgid       int    `json:"pgid"`
	Pids       []int  `json:"pids"`
	Background bool   `json:"background,omitempty"`
}

func (e *RunPipeline) setOn(le *LogEntry) { le.RunPipeline = e }

// JobUpdate is logged when a job changes state.
type JobUpdate struct {
	JobID      int    `json:"job_id,omitempty"`
	Pgid       int    `json:"pgid"`
	Command    string `json:"command"`
	State      string `json:"state"`
	ExitStatus int    `json:"exit_status"`
}

func (e *JobUpdate) setOn(le *LogEntry) { le.JobUpdate = e }

// ExecFailure is logged when a program was found but could not be run.
type ExecFailure struct {
	Command []string `json:"command"`
	Error   string   `json:"error"`
	Status  int      `json:"status"`
}

func (e *ExecFailure) setOn(le *LogEntry) { le.ExecFailure = e }

// SyntaxError is logged when input can't be parsed or run.
type SyntaxError struct {
	Line  string `json:"line"`
	Error string `json:"error"`
}

func (e *SyntaxError) setOn(le *LogEntry) { le.SyntaxError = e }
