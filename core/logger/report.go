package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
)

// ReadJSONLinesLog parses a newline delimited JSON log.
func ReadJSONLinesLog(r io.Reader, handler func(le *LogEntry)) error {
	decoder := json.NewDecoder(r)
	for decoder.More() {
		var logEntry LogEntry
		if err := decoder.Decode(&logEntry); err != nil {
			return err
		}

		handler(&logEntry)
	}
	return nil
}

// Report holds statistics about the logged events.
type Report struct {
	LogEntries     int        `json:"log_entries"`
	InvalidEntries StrCounter `json:"unknown_log_entries,omitempty"`

	Sessions    SessionReport     `json:"session_report"`
	Pipelines   PipelineReport    `json:"pipeline_report"`
	Jobs        JobReport         `json:"job_report"`
	ExecFailure ExecFailureReport `json:"exec_failure_report"`
	Syntax      SyntaxReport      `json:"syntax_error_report"`
}

func (r *Report) Update(le *LogEntry) {
	r.LogEntries++

	switch event := le.GetLogType().(type) {
	case *SessionStart:
		r.Sessions.update(event)
	case *RunPipeline:
		r.Pipelines.update(event)
	case *JobUpdate:
		r.Jobs.update(event)
	case *ExecFailure:
		r.ExecFailure.update(event)
	case *SyntaxError:
		r.Syntax.update(event)
	default:
		r.InvalidEntries.Increment(fmt.Sprintf("%T", event))
	}
}

type SessionReport struct {
	Count int        `json:"count"`
	Modes StrCounter `json:"modes"`
}

func (r *SessionReport) update(e *SessionStart) {
	r.Count++
	r.Modes.Increment(e.Mode)
}

type PipelineReport struct {
	Count      int `json:"count"`
	Background int `json:"background"`
	// Name of the first program in each pipeline.
	CommandNames StrCounter `json:"command_names"`
	// Number of processes started per pipeline.
	Stages StrCounter `json:"stages"`
}

func (r *PipelineReport) update(e *RunPipeline) {
	r.Count++
	if e.Background {
		r.Background++
	}
	if fields := strings.Fields(e.Command); len(fields) > 0 {
		r.CommandNames.Increment(fields[0])
	}
	r.Stages.Increment(strconv.Itoa(len(e.Pids)))
}

type JobReport struct {
	States       StrCounter `json:"states"`
	ExitStatuses StrCounter `json:"exit_statuses"`
}

func (r *JobReport) update(e *JobUpdate) {
	r.States.Increment(e.State)
	if e.State == "Done" {
		r.ExitStatuses.Increment(strconv.Itoa(e.ExitStatus))
	}
}

type ExecFailureReport struct {
	Failures *PathCounter `json:"failures"`
}

func (r *ExecFailureReport) update(e *ExecFailure) {
	if r.Failures == nil {
		r.Failures = NewPathCounter("command", "error")
	}
	name := ""
	if len(e.Command) > 0 {
		name = e.Command[0]
	}
	r.Failures.Increment(name, e.Error)
}

type SyntaxReport struct {
	Count  int        `json:"count"`
	Errors StrCounter `json:"errors"`
}

func (r *SyntaxReport) update(e *SyntaxError) {
	r.Count++
	r.Errors.Increment(e.Error)
}

// StrCounter counts the number of strings seen.
type StrCounter struct {
	internal map[string]int
}

// Increment adds one to the given key.
func (s *StrCounter) Increment(toAdd string) {
	if s.internal == nil {
		s.internal = make(map[string]int)
	}

	s.internal[toAdd]++
}

// Count returns how many times key was seen.
func (s *StrCounter) Count(key string) int {
	return s.internal[key]
}

// MarshalJSON implements a custom JSON marshaler.
func (s StrCounter) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.internal)
}

func NewPathCounter(cols ...string) *PathCounter {
	return &PathCounter{
		cols:     cols,
		internal: make(map[string]int),
	}
}

// PathCounter counts tuples of strings.
type PathCounter struct {
	cols     []string
	internal map[string]int
}

// Increment adds one to the given key.
func (ctr *PathCounter) Increment(toAdd ...string) {
	if len(toAdd) != len(ctr.cols) {
		panic("wrong number of columns to add")
	}

	ctr.internal[toKey(toAdd...)]++
}

// MarshalJSON implements a custom JSON marshaler.
func (ctr *PathCounter) MarshalJSON() ([]byte, error) {
	type Count struct {
		Count  int               `json:"count"`
		Fields map[string]string `json:"event"`
		Path   string            `json:"-"`
	}

	var out []Count
	for k, v := range ctr.internal {
		count := Count{
			Count:  v,
			Path:   k,
			Fields: make(map[string]string),
		}

		splitPath := fromKey(k)
		for colNum, colVal := range ctr.cols {
			count.Fields[colVal] = splitPath[colNum]
		}

		out = append(out, count)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Path < out[j].Path
		}
		return out[i].Count > out[j].Count
	})

	return json.Marshal(out)
}

func toKey(vals ...string) string {
	key, _ := json.Marshal(vals)
	return string(key)
}

func fromKey(key string) (out []string) {
	json.Unmarshal([]byte(key), &out)
	return
}
