package tree

import (
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"strconv"
	"sync"
	"syscall"

	"github.com/mbrock/proctree/internal/reap"
)

// Forker creates and reaps the children of one node.
type Forker interface {
	// Spawn starts a child process that builds the subtree at depth.
	Spawn(ctx context.Context, depth, maxDepth int) (pid int, err error)
	// WaitAny reaps whichever child terminates next.
	WaitAny(ctx context.Context) (reap.Status, error)
	// Wait reaps the child with the given pid.
	Wait(ctx context.Context, pid int) (reap.Status, error)
}

// Interrupter is implemented by forkers that can tell their live children
// to wind down. Builder calls Interrupt when its context ends; the children
// must still be reaped afterwards.
type Interrupter interface {
	Interrupt()
}

// NodeCommand is the subcommand a re-executed binary dispatches on to run
// as a tree node: <self> node <depth> <maxDepth>.
const NodeCommand = "node"

// NodeArgs returns the arguments after the executable for a node at depth.
func NodeArgs(depth, maxDepth int) []string {
	return []string{NodeCommand, strconv.Itoa(depth), strconv.Itoa(maxDepth)}
}

// ParseNodeArgs is the inverse of NodeArgs, minus the subcommand itself.
func ParseNodeArgs(args []string) (depth, maxDepth int, err error) {
	if len(args) != 2 {
		return 0, 0, fmt.Errorf("usage: %s <depth> <max>", NodeCommand)
	}
	if depth, err = strconv.Atoi(args[0]); err != nil {
		return 0, 0, fmt.Errorf("bad depth %q: %w", args[0], err)
	}
	if maxDepth, err = strconv.Atoi(args[1]); err != nil {
		return 0, 0, fmt.Errorf("bad max depth %q: %w", args[1], err)
	}
	if err := ValidateDepth(maxDepth); err != nil {
		return 0, 0, err
	}
	if depth < RootDepth || depth > maxDepth {
		return 0, 0, fmt.Errorf("depth %d outside tree of %d levels", depth, maxDepth)
	}
	return depth, maxDepth, nil
}

// ExecForker spawns children by re-executing a binary that dispatches
// NodeCommand to Builder.Build. Children are never exec'd into anything
// else; they run the same program as the parent.
type ExecForker struct {
	// Path is the executable to run, usually os.Executable().
	Path string
	// Args produces the arguments after Path. Defaults to NodeArgs.
	Args func(depth, maxDepth int) []string
	// Env is the child environment. Nil inherits the parent's.
	Env []string

	// Stdout and Stderr become the child's descriptors directly. Children
	// are reaped with wait4, never exec.Cmd.Wait, so no copying is possible.
	Stdout *os.File
	Stderr *os.File

	mu          sync.Mutex
	procs       map[int]*os.Process
	interrupted bool
}

var (
	_ Forker      = (*ExecForker)(nil)
	_ Interrupter = (*ExecForker)(nil)
)

// NewExecForker returns a forker that re-executes path with NodeArgs and
// the parent's stdout/stderr.
func NewExecForker(path string, env []string) *ExecForker {
	return &ExecForker{
		Path:   path,
		Env:    env,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

func (f *ExecForker) Spawn(ctx context.Context, depth, maxDepth int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	args := NodeArgs
	if f.Args != nil {
		args = f.Args
	}
	// Not CommandContext: cancellation is forwarded by Interrupt as SIGTERM
	// so the child can unwind its own subtree, and the parent reaps it.
	cmd := osexec.Command(f.Path, args(depth, maxDepth)...)
	cmd.Env = f.Env
	if f.Stdout != nil {
		cmd.Stdout = f.Stdout
	}
	if f.Stderr != nil {
		cmd.Stderr = f.Stderr
	}
	if err := cmd.Start(); err != nil {
		return 0, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.procs == nil {
		f.procs = make(map[int]*os.Process)
	}
	f.procs[cmd.Process.Pid] = cmd.Process
	if f.interrupted {
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
	return cmd.Process.Pid, nil
}

// Interrupt sends SIGTERM to every child not yet reaped, and to any child
// spawned later.
func (f *ExecForker) Interrupt() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupted = true
	for _, p := range f.procs {
		_ = p.Signal(syscall.SIGTERM)
	}
}

// WaitAny reaps the next child to terminate. It does not return early when
// ctx ends: the child exists and must be reaped.
func (f *ExecForker) WaitAny(_ context.Context) (reap.Status, error) {
	st, err := reap.Any()
	if err != nil {
		return st, err
	}
	f.forget(st.PID)
	return st, nil
}

// Wait reaps the child pid, ignoring ctx like WaitAny.
func (f *ExecForker) Wait(_ context.Context, pid int) (reap.Status, error) {
	f.mu.Lock()
	p := f.procs[pid]
	f.mu.Unlock()
	if p == nil {
		return reap.Status{}, fmt.Errorf("no child with pid %d", pid)
	}
	ps, err := p.Wait()
	if err != nil {
		return reap.Status{}, err
	}
	f.forget(pid)
	return reap.FromProcessState(ps), nil
}

// forget drops a reaped child and releases its handle.
func (f *ExecForker) forget(pid int) {
	f.mu.Lock()
	p := f.procs[pid]
	delete(f.procs, pid)
	f.mu.Unlock()
	if p != nil {
		_ = p.Release()
	}
}
