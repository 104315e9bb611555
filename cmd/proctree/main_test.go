package main

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/mbrock/proctree/internal/tree"
)

const envRootHelper = "PROCTREE_TEST_ROOT"

// TestMain lets run() re-execute the test binary as tree nodes, and lets a
// test start the binary as a standalone root.
func TestMain(m *testing.M) {
	if len(os.Args) >= 2 && os.Args[1] == tree.NodeCommand {
		cmdNode(os.Args[2:])
		os.Exit(0)
	}
	if os.Getenv(envRootHelper) != "" {
		os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
	}
	os.Exit(m.Run())
}

func TestParseArgs_Invalid(t *testing.T) {
	for _, args := range [][]string{
		{"0"},
		{"6"},
		{"-1"},
		{"abc"},
		{"3x"},
		{"2", "3"},
		{"--bogus"},
	} {
		var stderr bytes.Buffer
		_, err := parseArgs(args, &stderr)
		if !errors.Is(err, errUsage) {
			t.Errorf("parseArgs(%q) = %v, want usage error", args, err)
			continue
		}
		if !strings.Contains(stderr.String(), "Usage:") {
			t.Errorf("parseArgs(%q): no usage printed, got %q", args, stderr.String())
		}
	}
}

func TestParseArgs_Valid(t *testing.T) {
	tests := []struct {
		args      []string
		depth     int
		order     tree.WaitOrder
		leafSleep time.Duration
		showTree  time.Duration
	}{
		{nil, 3, tree.WaitAny, 30 * time.Second, 0},
		{[]string{"1"}, 1, tree.WaitAny, 30 * time.Second, 0},
		{[]string{"5"}, 5, tree.WaitAny, 30 * time.Second, 0},
		{[]string{"--wait", "spawn", "--leaf-sleep", "2s", "4"}, 4, tree.WaitSpawn, 2 * time.Second, 0},
		{[]string{"--show-tree", "2"}, 2, tree.WaitAny, 30 * time.Second, time.Second},
		{[]string{"--show-tree=5s", "2"}, 2, tree.WaitAny, 30 * time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		opts, err := parseArgs(tt.args, io.Discard)
		if err != nil {
			t.Errorf("parseArgs(%q): %v", tt.args, err)
			continue
		}
		c := opts.cfg
		if c.Depth != tt.depth || c.Order() != tt.order || c.LeafSleep != tt.leafSleep || opts.showTree != tt.showTree {
			t.Errorf("parseArgs(%q) = %+v, show-tree %v", tt.args, c, opts.showTree)
		}
	}
}

func TestParseArgs_DepthFromEnvironment(t *testing.T) {
	t.Setenv("PROCTREE_DEPTH", "2")
	opts, err := parseArgs(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if opts.cfg.Depth != 2 {
		t.Errorf("depth = %d, want 2", opts.cfg.Depth)
	}

	t.Setenv("PROCTREE_DEPTH", "9")
	if _, err := parseArgs(nil, io.Discard); !errors.Is(err, errUsage) {
		t.Errorf("out-of-range environment depth: %v", err)
	}
}

func TestRun_InvalidDepthExitsOne(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"0"}, &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if stdout.Len() != 0 {
		t.Errorf("nothing should be printed on stdout, got %q", stdout.String())
	}
}

func TestRun_DepthOne(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--leaf-sleep", "10ms", "1"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, s := range []string{
		"with 1 levels",
		"Total processes created: 1\n",
		"pstree -p ",
		"Process hierarchy finished",
	} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
}

func TestRun_DepthThree(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--leaf-sleep", "10ms", "3"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	out := stdout.String()
	if !strings.Contains(out, "Total processes created: 7\n") || !strings.Contains(out, "Process hierarchy finished") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestRun_ShowTree(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--leaf-sleep", "1s", "--show-tree=200ms", "2"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "Live tree (3 processes)") {
		t.Errorf("expected a live tree of 3 processes:\n%s", stdout.String())
	}
}

func TestRun_SIGTERMToRootUnwindsTree(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	cmd := exec.CommandContext(ctx, os.Args[0], "--leaf-sleep", "30s", "--log-level", "debug", "3")
	cmd.Env = append(os.Environ(), envRootHelper+"=1")
	// A file, not a buffer: every node writes to it directly.
	stderr, err := os.Create(filepath.Join(t.TempDir(), "stderr"))
	if err != nil {
		t.Fatal(err)
	}
	defer stderr.Close()
	cmd.Stderr = stderr
	out, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	start := time.Now()

	var stdout strings.Builder
	banner := make(chan struct{})
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		sc := bufio.NewScanner(out)
		seen := false
		for sc.Scan() {
			stdout.WriteString(sc.Text() + "\n")
			if !seen && strings.HasPrefix(sc.Text(), "Processes will stay alive") {
				seen = true
				close(banner)
			}
		}
	}()

	select {
	case <-banner:
	case <-time.After(10 * time.Second):
		t.Fatal("no banner from root")
	}
	// Let the nodes install their signal handlers and the leaves start sleeping.
	waitForLeaves(t, stderr.Name(), 4)
	time.Sleep(200 * time.Millisecond)

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		t.Fatal(err)
	}
	<-drained
	err = cmd.Wait()
	elapsed := time.Since(start)
	logs := readFile(t, stderr.Name())
	if err != nil {
		t.Fatalf("root: %v\nstderr:\n%s", err, logs)
	}
	if elapsed > 15*time.Second {
		t.Errorf("root exited after %v, want well under the 30s leaf interval", elapsed)
	}
	if !strings.Contains(stdout.String(), "Process hierarchy finished") {
		t.Errorf("stdout:\n%s", stdout.String())
	}
	if !strings.Contains(logs, "interrupted") {
		t.Errorf("no interrupt logged, stderr:\n%s", logs)
	}
	if strings.Contains(logs, "child terminated abnormally") {
		t.Errorf("a node did not unwind cleanly, stderr:\n%s", logs)
	}
}

// waitForLeaves polls the tree's debug log until n leaves report sleeping.
func waitForLeaves(t *testing.T, path string, n int) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Count(readFile(t, path), "leaf sleeping") >= n {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("leaves never started, stderr:\n%s", readFile(t, path))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
