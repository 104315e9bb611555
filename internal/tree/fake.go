package tree

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/mbrock/proctree/internal/reap"
)

// ErrNoChildren is returned by a fake wait when the node has no child
// left to reap, the in-process analogue of ECHILD.
var ErrNoChildren = errors.New("no child processes")

// FakeTree simulates a process tree in-process. Each fake node is a
// goroutine with its own FakeForker, so every node only sees and reaps
// its own children, as with real processes.
type FakeTree struct {
	// Template configures the Builder each fake node runs. Its Forker is
	// replaced per node.
	Template Builder

	// FailSpawn, when set, is consulted before every spawn. A non-nil
	// error makes that spawn fail.
	FailSpawn func(parent, depth, branch int) error

	mu      sync.Mutex
	nextPID int
	nodes   map[int]*FakeNode
}

// FakeNode is the record of one simulated process.
type FakeNode struct {
	PID    int
	Parent int // 0 for the root
	Depth  int
	Report Report
	Err    error
	Done   bool
}

// NewFakeTree returns a simulation whose nodes run with the given builder
// settings.
func NewFakeTree(template Builder) *FakeTree {
	return &FakeTree{
		Template: template,
		nextPID:  100,
		nodes:    make(map[int]*FakeNode),
	}
}

// Run builds a tree of maxDepth levels from a fake root and returns the
// root's report once all nodes have been reaped.
func (t *FakeTree) Run(ctx context.Context, maxDepth int) (Report, error) {
	root := t.register(0, RootDepth)
	rep, err := t.builder(root.PID).Build(ctx, RootDepth, maxDepth)
	t.finish(root.PID, rep, err)
	return rep, err
}

// Nodes returns a copy of every node record, ordered by PID.
func (t *FakeTree) Nodes() []FakeNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]FakeNode, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, *n)
	}
	slices.SortFunc(out, func(a, b FakeNode) int { return a.PID - b.PID })
	return out
}

func (t *FakeTree) builder(pid int) *Builder {
	b := t.Template
	b.Forker = &FakeForker{tree: t, pid: pid}
	return &b
}

func (t *FakeTree) register(parent, depth int) *FakeNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextPID++
	n := &FakeNode{PID: t.nextPID, Parent: parent, Depth: depth}
	t.nodes[n.PID] = n
	return n
}

func (t *FakeTree) finish(pid int, rep Report, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.nodes[pid]
	n.Report = rep
	n.Err = err
	n.Done = true
}

// FakeForker is the Forker of one fake node.
type FakeForker struct {
	tree *FakeTree
	pid  int

	mu     sync.Mutex
	cond   *sync.Cond
	spawns int
	live   map[int]bool
	exited []reap.Status // terminated, not yet reaped, in termination order
}

var _ Forker = (*FakeForker)(nil)

func (f *FakeForker) init() {
	if f.cond == nil {
		f.cond = sync.NewCond(&f.mu)
		f.live = make(map[int]bool)
	}
}

func (f *FakeForker) Spawn(ctx context.Context, depth, maxDepth int) (int, error) {
	f.mu.Lock()
	f.init()
	f.spawns++
	branch := f.spawns
	f.mu.Unlock()

	if f.tree.FailSpawn != nil {
		if err := f.tree.FailSpawn(f.pid, depth, branch); err != nil {
			return 0, err
		}
	}

	child := f.tree.register(f.pid, depth)
	f.mu.Lock()
	f.live[child.PID] = true
	f.mu.Unlock()

	go func() {
		rep, err := f.tree.builder(child.PID).Build(ctx, depth, maxDepth)
		f.tree.finish(child.PID, rep, err)
		f.exit(reap.Status{PID: child.PID, Exited: true, Code: 0})
	}()
	return child.PID, nil
}

func (f *FakeForker) exit(st reap.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.live, st.PID)
	f.exited = append(f.exited, st)
	f.cond.Broadcast()
}

func (f *FakeForker) WaitAny(ctx context.Context) (reap.Status, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	for len(f.exited) == 0 {
		if len(f.live) == 0 {
			return reap.Status{}, ErrNoChildren
		}
		f.cond.Wait()
	}
	st := f.exited[0]
	f.exited = f.exited[1:]
	return st, nil
}

func (f *FakeForker) Wait(ctx context.Context, pid int) (reap.Status, error) {
	_ = ctx
	f.mu.Lock()
	defer f.mu.Unlock()
	f.init()
	for {
		for i, st := range f.exited {
			if st.PID == pid {
				f.exited = slices.Delete(f.exited, i, i+1)
				return st, nil
			}
		}
		if !f.live[pid] {
			return reap.Status{}, fmt.Errorf("pid %d: %w", pid, ErrNoChildren)
		}
		f.cond.Wait()
	}
}
