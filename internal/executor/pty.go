package executor

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/creack/pty"
	"golang.org/x/term"

	"github.com/mbrock/proctree/internal/reap"
)

// runPTY runs child on a fresh pseudo-terminal and relays it to the
// runner's stdio until the child exits.
func (r *Runner) runPTY(ctx context.Context, child []string) (reap.Status, error) {
	master, slave, err := pty.Open()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error creating child process: %v\n", err)
		return reap.Status{}, fmt.Errorf("opening pty: %w", err)
	}
	defer master.Close()

	stdinFd := -1
	if f, ok := r.Stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		stdinFd = int(f.Fd())
		if cols, rows, err := term.GetSize(stdinFd); err == nil {
			_ = pty.Setsize(master, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
		}
	}

	proc, err := r.Executor.StartPTY(child, slave)
	slave.Close()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error creating child process: %v\n", err)
		return reap.Status{}, fmt.Errorf("starting child: %w", err)
	}
	fmt.Fprintf(r.Stdout, "Parent process (PID: %d) waiting for child to finish...\n\n", os.Getpid())

	var oldState *term.State
	if stdinFd >= 0 {
		if oldState, err = term.MakeRaw(stdinFd); err != nil {
			r.logger().Debug("raw mode unavailable", "error", err)
		}
	}
	restore := func() {
		if oldState != nil {
			_ = term.Restore(stdinFd, oldState)
		}
	}

	if r.Stdin != nil {
		go func() { _, _ = io.Copy(master, r.Stdin) }()
	}
	// Reading the master fails with EIO once the last slave fd is closed.
	stop := context.AfterFunc(ctx, func() { _ = proc.Kill() })
	_, _ = io.Copy(r.Stdout, master)
	stop()

	return r.wait(ctx, proc, restore)
}
