// Package inspect reads the live process tree below a PID, the same view
// pstree gives, so a running tree can be shown without leaving the program.
package inspect

import (
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/process"
)

// Node is one live process and its descendants.
type Node struct {
	PID      int32
	PPID     int32
	Name     string
	Children []*Node
}

// Count returns the number of processes in the subtree, n included.
func (n *Node) Count() int {
	c := 1
	for _, ch := range n.Children {
		c += ch.Count()
	}
	return c
}

// Depth returns the number of levels in the subtree; a lone node has depth 1.
func (n *Node) Depth() int {
	d := 0
	for _, ch := range n.Children {
		d = max(d, ch.Depth())
	}
	return d + 1
}

// Find returns the node with the given PID, or nil.
func (n *Node) Find(pid int32) *Node {
	if n.PID == pid {
		return n
	}
	for _, ch := range n.Children {
		if f := ch.Find(pid); f != nil {
			return f
		}
	}
	return nil
}

// entry is the part of a process we need to link the tree.
type entry struct {
	pid, ppid int32
	name      string
}

// Snapshot returns the subtree rooted at root as it exists now. Processes
// that exit while the table is being read are left out.
func Snapshot(ctx context.Context, root int32) (*Node, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	entries := make([]entry, 0, len(pids))
	for _, pid := range pids {
		p, err := process.NewProcess(pid)
		if err != nil {
			continue
		}
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			continue
		}
		name, _ := p.NameWithContext(ctx)
		entries = append(entries, entry{pid: pid, ppid: ppid, name: name})
	}
	return build(root, entries)
}

func build(root int32, entries []entry) (*Node, error) {
	nodes := make(map[int32]*Node, len(entries))
	for _, e := range entries {
		nodes[e.pid] = &Node{PID: e.pid, PPID: e.ppid, Name: e.name}
	}
	top, ok := nodes[root]
	if !ok {
		return nil, fmt.Errorf("process %d not found", root)
	}
	for _, e := range entries {
		if e.pid == e.ppid {
			continue
		}
		if parent, ok := nodes[e.ppid]; ok {
			parent.Children = append(parent.Children, nodes[e.pid])
		}
	}
	for _, n := range nodes {
		slices.SortFunc(n.Children, func(a, b *Node) int { return int(a.PID - b.PID) })
	}
	return top, nil
}

// Render writes the tree in pstree -p style:
//
//	proctree(100)
//	├─proctree(101)
//	│ └─proctree(103)
//	└─proctree(102)
func Render(w io.Writer, n *Node) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%d)\n", n.Name, n.PID)
	render(&b, n, "")
	_, err := io.WriteString(w, b.String())
	return err
}

func render(b *strings.Builder, n *Node, prefix string) {
	for i, ch := range n.Children {
		branch, indent := "├─", "│ "
		if i == len(n.Children)-1 {
			branch, indent = "└─", "  "
		}
		fmt.Fprintf(b, "%s%s%s(%d)\n", prefix, branch, ch.Name, ch.PID)
		render(b, ch, prefix+indent)
	}
}
