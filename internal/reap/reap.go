//go:build unix

// Package reap waits for terminated child processes and decodes their
// wait status.
package reap

import (
	"errors"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// Status is the decoded termination status of one reaped child.
type Status struct {
	PID int

	// Exited is WIFEXITED: the child called exit or returned from main.
	Exited bool
	// Code is WEXITSTATUS, meaningful only when Exited.
	Code int

	// Signaled is WIFSIGNALED: the child was killed by a signal.
	Signaled bool
	Signal   syscall.Signal
}

// Normal reports whether the child terminated normally. The exit code
// is not considered.
func (s Status) Normal() bool { return s.Exited }

func (s Status) String() string {
	switch {
	case s.Exited:
		return fmt.Sprintf("exited %d", s.Code)
	case s.Signaled:
		return fmt.Sprintf("killed by %v", s.Signal)
	default:
		return "unknown"
	}
}

// FromWaitStatus decodes a raw wait4 status for pid.
func FromWaitStatus(pid int, ws unix.WaitStatus) Status {
	st := Status{PID: pid}
	switch {
	case ws.Exited():
		st.Exited = true
		st.Code = ws.ExitStatus()
	case ws.Signaled():
		st.Signaled = true
		st.Signal = syscall.Signal(ws.Signal())
	}
	return st
}

// FromProcessState decodes the state returned by os.Process.Wait.
func FromProcessState(ps *os.ProcessState) Status {
	st := Status{PID: ps.Pid()}
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok {
		st.Exited = ps.Exited()
		st.Code = ps.ExitCode()
		return st
	}
	switch {
	case ws.Exited():
		st.Exited = true
		st.Code = ws.ExitStatus()
	case ws.Signaled():
		st.Signaled = true
		st.Signal = ws.Signal()
	}
	return st
}

// Any blocks until some child of the calling process terminates and
// reaps it. Which child is reaped is up to the kernel.
func Any() (Status, error) {
	return wait(-1)
}

// PID blocks until the given child terminates and reaps it.
func PID(pid int) (Status, error) {
	if pid <= 0 {
		return Status{}, fmt.Errorf("reap: invalid pid %d", pid)
	}
	return wait(pid)
}

func wait(pid int) (Status, error) {
	var ws unix.WaitStatus
	for {
		got, err := unix.Wait4(pid, &ws, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			return Status{}, fmt.Errorf("wait4(%d): %w", pid, err)
		}
		// Stopped or continued children are not terminations.
		if ws.Stopped() || ws.Continued() {
			continue
		}
		return FromWaitStatus(got, ws), nil
	}
}
