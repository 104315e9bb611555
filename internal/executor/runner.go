package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	osexec "os/exec"
	"slices"

	"golang.org/x/sys/unix"

	"github.com/mbrock/proctree/internal/reap"
)

// ExecCommand is the internal subcommand a re-executed binary dispatches
// on to become the child: <self> __exec <command> [args...].
const ExecCommand = "__exec"

// Runner runs one command as a child process and reports its termination.
//
// The child is the running binary re-executed with ExecCommand; it prints
// its PID and then replaces its image with the command, so the PID it
// reports is the command's PID.
type Runner struct {
	Executor Executor
	// Self is the argv prefix that re-executes this binary as the child,
	// typically {os.Executable(), ExecCommand}.
	Self []string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// TTY runs the child on a pseudo-terminal.
	TTY bool

	Logger *slog.Logger
}

// Run spawns the child for argv, waits for it and prints whether it
// terminated normally. The child's exit code does not make Run fail; an
// error is returned only when the child could not be created or reaped,
// and that error has already been reported on Stderr.
func (r *Runner) Run(ctx context.Context, argv []string) (reap.Status, error) {
	if len(argv) == 0 {
		return reap.Status{}, ErrEmptyCommand
	}
	child := append(slices.Clone(r.Self), argv...)

	if r.TTY {
		return r.runPTY(ctx, child)
	}

	proc, err := r.Executor.Start(child, r.Stdin, r.Stdout, r.Stderr)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error creating child process: %v\n", err)
		return reap.Status{}, fmt.Errorf("starting child: %w", err)
	}
	fmt.Fprintf(r.Stdout, "Parent process (PID: %d) waiting for child to finish...\n\n", os.Getpid())

	return r.wait(ctx, proc, func() {})
}

// wait reaps proc, killing it if ctx ends first. restore runs after the
// child is gone and before the result is printed.
func (r *Runner) wait(ctx context.Context, proc Process, restore func()) (reap.Status, error) {
	log := r.logger().With("child", proc.PID())

	stop := context.AfterFunc(ctx, func() {
		log.Debug("context done, killing child")
		_ = proc.Kill()
	})
	st, err := proc.Wait()
	stop()
	restore()

	if err != nil {
		fmt.Fprintf(r.Stderr, "error waiting for child process: %v\n", err)
		return st, fmt.Errorf("waiting for child %d: %w", proc.PID(), err)
	}
	log.Debug("child reaped", "status", st)

	if st.Normal() {
		fmt.Fprintf(r.Stdout, "\nCommand process finished.\n")
	} else {
		fmt.Fprintf(r.Stdout, "\nChild process terminated abnormally\n")
	}
	return st, nil
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// ExecChild is the child side of Runner. It announces itself on stdout and
// replaces the process image with argv, resolving argv[0] on PATH. It only
// returns on failure.
func ExecChild(stdout io.Writer, argv []string) error {
	if len(argv) == 0 {
		return ErrEmptyCommand
	}
	fmt.Fprintf(stdout, "Child process (PID: %d) executing command...\n", os.Getpid())

	path, err := osexec.LookPath(argv[0])
	if err != nil {
		return err
	}
	if err := unix.Exec(path, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", path, err)
	}
	return nil
}

// ChildMain runs ExecChild and converts a failure into a diagnostic on
// stderr and exit status 1.
func ChildMain(stdout, stderr io.Writer, argv []string) int {
	if err := ExecChild(stdout, argv); err != nil {
		fmt.Fprintf(stderr, "error executing command: %v\n", err)
		return 1
	}
	return 0
}
