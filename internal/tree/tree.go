// Package tree builds a complete binary tree of OS processes.
//
// Every internal node spawns exactly two children one level down and then
// reaps exactly the children it spawned. Nodes at the last level are leaves:
// they spawn nothing and hold still for a fixed interval so the tree can be
// inspected from outside (pstree, ps --forest).
//
// Levels are numbered from 1 at the root, so a tree of depth d contains
// TotalNodes(d) = 2^d - 1 processes including the root.
package tree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mbrock/proctree/internal/reap"
)

const (
	// MinDepth and MaxDepth bound the number of levels. 5 levels is 31
	// processes; anything beyond grows the process table exponentially.
	MinDepth = 1
	MaxDepth = 5

	// RootDepth is the level of the process that starts the tree.
	RootDepth = 1

	// FanOut is the number of children of every internal node.
	FanOut = 2

	DefaultLeafSleep = 30 * time.Second
)

// ErrDepthRange is returned by ValidateDepth for depths outside [MinDepth, MaxDepth].
var ErrDepthRange = fmt.Errorf("depth must be between %d and %d", MinDepth, MaxDepth)

// ValidateDepth checks that d is an allowed number of levels.
func ValidateDepth(d int) error {
	if d < MinDepth || d > MaxDepth {
		return fmt.Errorf("%w (got %d)", ErrDepthRange, d)
	}
	return nil
}

// TotalNodes returns the number of processes in a tree with d levels,
// root included.
func TotalNodes(d int) int {
	if d <= 0 {
		return 0
	}
	return 1<<d - 1
}

// WaitOrder selects how a node reaps its children.
type WaitOrder string

const (
	// WaitAny reaps whichever child terminates first, twice.
	WaitAny WaitOrder = "any"
	// WaitSpawn reaps children by PID in the order they were spawned.
	WaitSpawn WaitOrder = "spawn"
)

// ParseWaitOrder parses "any" or "spawn". The empty string means WaitAny.
func ParseWaitOrder(s string) (WaitOrder, error) {
	switch WaitOrder(s) {
	case "", WaitAny:
		return WaitAny, nil
	case WaitSpawn:
		return WaitSpawn, nil
	}
	return "", fmt.Errorf("unknown wait order %q (want %s or %s)", s, WaitAny, WaitSpawn)
}

// SpawnError records a child that could not be created. The branch it
// would have rooted is absent from the tree.
type SpawnError struct {
	Depth  int // level the child would have had
	Branch int // 1 or 2
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn child %d at depth %d: %v", e.Branch, e.Depth, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Report describes what one node did.
type Report struct {
	Depth   int
	Leaf    bool
	Slept   time.Duration
	Spawned []int         // child PIDs in spawn order
	Reaped  []reap.Status // in reap order
	Skipped []*SpawnError
}

// Spawns is the number of children successfully created.
func (r Report) Spawns() int { return len(r.Spawned) }

// Reaps is the number of children reaped.
func (r Report) Reaps() int { return len(r.Reaped) }

// Builder builds the subtree rooted at the calling process.
type Builder struct {
	Forker    Forker
	LeafSleep time.Duration
	Order     WaitOrder
	Logger    *slog.Logger

	// Sleep blocks a leaf. Defaults to a context-aware time.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Build runs one node of the tree at level depth. A node at or beyond
// maxDepth is a leaf. Internal nodes return only after every spawned
// child has been reaped.
//
// Spawn failures are not errors: they are logged and listed in
// Report.Skipped. Build returns an error only when reaping fails, or when
// a leaf's sleep is interrupted by ctx. When ctx ends on an internal node
// and the Forker is an Interrupter, its children are interrupted and then
// reaped as usual.
func (b *Builder) Build(ctx context.Context, depth, maxDepth int) (Report, error) {
	log := b.logger().With("pid", os.Getpid(), "depth", depth)
	rep := Report{Depth: depth}

	if depth >= maxDepth {
		rep.Leaf = true
		log.Debug("leaf sleeping", "interval", b.LeafSleep)
		start := time.Now()
		err := b.sleep(ctx, b.LeafSleep)
		rep.Slept = time.Since(start)
		return rep, err
	}

	if in, ok := b.Forker.(Interrupter); ok {
		stop := context.AfterFunc(ctx, func() {
			log.Debug("context done, interrupting children")
			in.Interrupt()
		})
		defer stop()
	}

	for branch := 1; branch <= FanOut; branch++ {
		pid, err := b.Forker.Spawn(ctx, depth+1, maxDepth)
		if err != nil {
			se := &SpawnError{Depth: depth + 1, Branch: branch, Err: err}
			log.Warn("spawn failed, branch skipped", "branch", branch, "error", err)
			rep.Skipped = append(rep.Skipped, se)
			continue
		}
		log.Debug("spawned child", "branch", branch, "child", pid)
		rep.Spawned = append(rep.Spawned, pid)
	}

	for i := range rep.Spawned {
		var (
			st  reap.Status
			err error
		)
		if b.Order == WaitSpawn {
			st, err = b.Forker.Wait(ctx, rep.Spawned[i])
		} else {
			st, err = b.Forker.WaitAny(ctx)
		}
		if err != nil {
			return rep, fmt.Errorf("reaping child %d of %d: %w", i+1, len(rep.Spawned), err)
		}
		rep.Reaped = append(rep.Reaped, st)
		if st.Normal() && st.Code == 0 {
			log.Debug("reaped child", "child", st.PID, "status", st)
		} else {
			log.Warn("child terminated abnormally", "child", st.PID, "status", st)
		}
	}
	return rep, nil
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func (b *Builder) sleep(ctx context.Context, d time.Duration) error {
	if b.Sleep != nil {
		return b.Sleep(ctx, d)
	}
	return SleepContext(ctx, d)
}

// SleepContext sleeps for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsSpawnError reports whether err is or wraps a *SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}
