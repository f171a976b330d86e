package proc

import (
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/josephlewis42/jobsh/core/logger"
	"golang.org/x/sys/unix"
)

// EventRecorder receives job lifecycle events.
type EventRecorder interface {
	Record(event logger.LogType) error
}

type nopRecorder struct{}

func (nopRecorder) Record(logger.LogType) error { return nil }

// Monitor waits on a foreground job until it finishes or stops.
type Monitor struct {
	table   *Table
	notices io.Writer
	events  EventRecorder
	wait4   wait4Func
}

// NewMonitor returns a Monitor registering stopped jobs in table and
// writing stop notices to notices.
func NewMonitor(table *Table, notices io.Writer, events EventRecorder) *Monitor {
	if events == nil {
		events = nopRecorder{}
	}
	return &Monitor{
		table:   table,
		notices: notices,
		events:  events,
		wait4:   unix.Wait4,
	}
}

// Wait blocks until every process of j has terminated, or until one of
// them stops. A stopped job is added to the table if it is not already in
// it and the stop is reported as StatusSignalBase plus the stop signal.
// Otherwise the status of the pipeline's final stage is returned.
func (m *Monitor) Wait(j *Job) int {
	for !j.completed() {
		var ws unix.WaitStatus
		pid, err := m.wait4(-j.Pgid, &ws, unix.WUNTRACED, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if !errors.Is(err, unix.ECHILD) {
				log.Printf("wait4(%d): %v", -j.Pgid, err)
			}
			j.finish()
			break
		}

		if j.record(pid, ws) == nil {
			continue
		}
		if ws.Stopped() {
			return m.stopped(j, ws.StopSignal())
		}
	}

	j.Status = Done
	m.record(j)
	return j.exitStatus
}

func (m *Monitor) stopped(j *Job, sig unix.Signal) int {
	j.Status = Stopped
	j.Background = false
	if j.ID == 0 {
		m.table.register(j)
	}
	fmt.Fprintf(m.notices, "\n%s\n", FormatJob(j, m.table.Mark(j)))
	m.record(j)
	return StatusSignalBase + int(sig)
}

func (m *Monitor) record(j *Job) {
	_ = m.events.Record(&logger.JobUpdate{
		JobID:      j.ID,
		Pgid:       j.Pgid,
		Command:    j.Command,
		State:      j.Status.String(),
		ExitStatus: j.exitStatus,
	})
}
