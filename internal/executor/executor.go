// Package executor starts one child process and reports how it terminated.
package executor

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/mbrock/proctree/internal/reap"
)

// ErrEmptyCommand is returned when there is no command to start.
var ErrEmptyCommand = errors.New("empty command")

// Process represents a running process.
type Process interface {
	PID() int
	// Wait blocks until the process terminates and reaps it. A non-zero
	// exit or a fatal signal is reported in the Status, not as an error.
	Wait() (reap.Status, error)
	// Kill sends SIGKILL to the process.
	Kill() error
}

// Executor starts processes.
type Executor interface {
	// Start starts a command with the given I/O configuration.
	Start(cmd []string, stdin io.Reader, stdout, stderr io.Writer) (Process, error)

	// StartPTY starts a command connected to a PTY slave.
	// The slave file is used for stdin/stdout/stderr and the process
	// becomes the session leader with the PTY as its controlling terminal.
	StartPTY(cmd []string, slave *os.File) (Process, error)
}

// ExecExecutor is the default Executor that uses os/exec.
type ExecExecutor struct{}

// execProcess wraps exec.Cmd to implement Process.
type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) Wait() (reap.Status, error) {
	err := p.cmd.Wait()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		return reap.Status{}, err
	}
	return reap.FromProcessState(p.cmd.ProcessState), nil
}

func (p *execProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

// Start implements Executor.Start using os/exec.
func (e *ExecExecutor) Start(cmdArgs []string, stdin io.Reader, stdout, stderr io.Writer) (Process, error) {
	if len(cmdArgs) == 0 {
		return nil, ErrEmptyCommand
	}
	cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &execProcess{cmd: cmd}, nil
}

// StartPTY implements Executor.StartPTY using os/exec with PTY setup.
func (e *ExecExecutor) StartPTY(cmdArgs []string, slave *os.File) (Process, error) {
	if len(cmdArgs) == 0 {
		return nil, ErrEmptyCommand
	}
	cmd := exec.Command(cmdArgs[0], cmdArgs[1:]...)
	cmd.Stdin = slave
	cmd.Stdout = slave
	cmd.Stderr = slave
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid:  true,
		Setctty: true,
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &execProcess{cmd: cmd}, nil
}

// Default returns the default ExecExecutor.
func Default() Executor {
	return &ExecExecutor{}
}
