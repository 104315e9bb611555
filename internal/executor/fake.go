package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/mbrock/proctree/internal/reap"
)

// FakeCommand is a function that simulates a command execution.
// It receives the command arguments, stdin, stdout, stderr and returns an
// exit code. A negative return -n means the process was killed by signal n.
// The context is cancelled when the process should be killed.
type FakeCommand func(ctx context.Context, stdin io.Reader, stdout, stderr io.Writer, args []string) int

// FakeExecutor is a test implementation of Executor that runs registered fake commands.
type FakeExecutor struct {
	mu       sync.RWMutex
	commands map[string]FakeCommand
	nextPID  int
	started  [][]string
}

// NewFakeExecutor creates a new FakeExecutor.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		commands: make(map[string]FakeCommand),
		nextPID:  1000,
	}
}

// RegisterCommand registers a fake command implementation.
// The name should match the first element of the command slice.
func (e *FakeExecutor) RegisterCommand(name string, handler FakeCommand) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands[name] = handler
}

// Started returns the argument vectors of every started command.
func (e *FakeExecutor) Started() [][]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([][]string(nil), e.started...)
}

// fakeProcess implements Process for FakeExecutor.
type fakeProcess struct {
	pid    int
	cancel context.CancelFunc
	done   chan struct{}
	status reap.Status
}

func (p *fakeProcess) PID() int { return p.pid }

func (p *fakeProcess) Wait() (reap.Status, error) {
	<-p.done
	return p.status, nil
}

func (p *fakeProcess) Kill() error {
	p.cancel()
	return nil
}

func (e *FakeExecutor) lookup(cmdArgs []string) (FakeCommand, int, error) {
	if len(cmdArgs) == 0 {
		return nil, 0, ErrEmptyCommand
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	handler, ok := e.commands[cmdArgs[0]]
	if !ok {
		return nil, 0, fmt.Errorf("executable %q not found", cmdArgs[0])
	}
	e.nextPID++
	e.started = append(e.started, append([]string(nil), cmdArgs...))
	return handler, e.nextPID, nil
}

func (e *FakeExecutor) run(pid int, handler FakeCommand, stdin io.Reader, stdout, stderr io.Writer, args []string, cleanup func()) *fakeProcess {
	ctx, cancel := context.WithCancel(context.Background())
	proc := &fakeProcess{
		pid:    pid,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer cancel()
		defer cleanup()

		code := handler(ctx, stdin, stdout, stderr, args)
		proc.status = reap.Status{PID: pid}
		if code < 0 {
			proc.status.Signaled = true
			proc.status.Signal = syscall.Signal(-code)
		} else {
			proc.status.Exited = true
			proc.status.Code = code
		}
		close(proc.done)
	}()
	return proc
}

// Start implements Executor.Start for FakeExecutor.
func (e *FakeExecutor) Start(cmdArgs []string, stdin io.Reader, stdout, stderr io.Writer) (Process, error) {
	handler, pid, err := e.lookup(cmdArgs)
	if err != nil {
		return nil, err
	}
	return e.run(pid, handler, stdin, stdout, stderr, cmdArgs, func() {}), nil
}

// StartPTY implements Executor.StartPTY for FakeExecutor.
// The slave file is used directly for all I/O.
func (e *FakeExecutor) StartPTY(cmdArgs []string, slave *os.File) (Process, error) {
	handler, pid, err := e.lookup(cmdArgs)
	if err != nil {
		return nil, err
	}

	// Dup the slave fd since the caller will close it after Start returns
	newFd, err := syscall.Dup(int(slave.Fd()))
	if err != nil {
		return nil, fmt.Errorf("dup slave: %w", err)
	}
	slaveFile := os.NewFile(uintptr(newFd), "slave")

	return e.run(pid, handler, slaveFile, slaveFile, slaveFile, cmdArgs, func() { slaveFile.Close() }), nil
}
