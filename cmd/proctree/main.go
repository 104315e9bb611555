// proctree - Build a binary tree of processes and hold it for inspection
//
// Usage:
//
//	proctree [flags] [depth]           Build a tree of depth levels (1-5, default 3)
//	proctree node <depth> <max>        (internal) Run as a tree node
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/mbrock/proctree/internal/config"
	"github.com/mbrock/proctree/internal/inspect"
	"github.com/mbrock/proctree/internal/logging"
	"github.com/mbrock/proctree/internal/tree"
)

func main() {
	// Handle "node" before flag parsing; nodes are configured through the
	// environment the root hands down.
	if len(os.Args) >= 2 && os.Args[1] == tree.NodeCommand {
		cmdNode(os.Args[2:])
		return
	}
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options is the parsed command line of the root process.
type options struct {
	cfg      *config.Config
	showTree time.Duration
}

// parseArgs parses flags and the optional depth. Any invalid argument
// prints usage and returns errUsage.
func parseArgs(args []string, stderr io.Writer) (*options, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	opts := &options{cfg: cfg}

	fs := flag.NewFlagSet("proctree", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.DurationVar(&cfg.LeafSleep, "leaf-sleep", cfg.LeafSleep, "How long leaves stay alive (PROCTREE_LEAF_SLEEP)")
	fs.StringVar(&cfg.WaitOrder, "wait", cfg.WaitOrder, "Reap order: any, spawn (PROCTREE_WAIT_ORDER)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error (PROCTREE_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text, json, journal (PROCTREE_LOG_FORMAT)")
	fs.DurationVar(&opts.showTree, "show-tree", 0, "Print the live tree after this delay (0 = never)")
	fs.Lookup("show-tree").NoOptDefVal = "1s"
	fs.Usage = func() {
		fmt.Fprintf(stderr, `proctree - Build a binary tree of processes

Usage:
  proctree [flags] [depth]

The number of levels must be between %d and %d (default %d).

Flags:
`, tree.MinDepth, tree.MaxDepth, cfg.Depth)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, errUsage
	}

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		if cfg.Depth, err = strconv.Atoi(rest[0]); err != nil {
			fs.Usage()
			return nil, errUsage
		}
	default:
		fs.Usage()
		return nil, errUsage
	}
	if err := tree.ValidateDepth(cfg.Depth); err != nil {
		fs.Usage()
		return nil, errUsage
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

var errUsage = errors.New("usage")

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	switch {
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, errUsage):
		return 1
	case err != nil:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	cfg := opts.cfg

	if err := logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Writer: stderr}); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(stderr, "error: cannot find own executable: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printBanner(stdout, cfg, os.Getpid())

	treeCtx, treeDone := context.WithCancel(ctx)
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		if opts.showTree > 0 {
			printTree(treeCtx, stdout, opts.showTree)
		}
	}()

	b := newBuilder(cfg, tree.NewExecForker(self, append(os.Environ(), cfg.Environ()...)))
	_, err = b.Build(ctx, tree.RootDepth, cfg.Depth)
	treeDone()
	<-printed
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if ctx.Err() != nil {
		slog.Info("interrupted, tree torn down")
	}

	fmt.Fprintf(stdout, "Process hierarchy finished\n")
	return 0
}

func printBanner(w io.Writer, cfg *config.Config, root int) {
	fmt.Fprintf(w, "Creating process hierarchy with %d levels\n", cfg.Depth)
	fmt.Fprintf(w, "Total processes created: %d\n", tree.TotalNodes(cfg.Depth))
	fmt.Fprintf(w, "Root process PID: %d\n", root)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Run in another terminal to view the hierarchy:\n")
	fmt.Fprintf(w, "pstree -p %d\n", root)
	fmt.Fprintf(w, "or\n")
	fmt.Fprintf(w, "ps f -o pid,ppid,comm --forest --ppid %d\n", root)
	fmt.Fprintf(w, "\n")
	fmt.Fprintf(w, "Processes will stay alive for %v for inspection...\n", cfg.LeafSleep)
}

func newBuilder(cfg *config.Config, forker tree.Forker) *tree.Builder {
	return &tree.Builder{
		Forker:    forker,
		LeafSleep: cfg.LeafSleep,
		Order:     cfg.Order(),
		Logger:    slog.Default(),
	}
}

// printTree prints the live tree once after delay, unless the tree has
// already been torn down.
func printTree(ctx context.Context, w io.Writer, delay time.Duration) {
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	}
	n, err := inspect.Snapshot(ctx, int32(os.Getpid()))
	if err != nil {
		slog.Warn("reading process tree", "error", err)
		return
	}
	fmt.Fprintf(w, "\nLive tree (%d processes):\n", n.Count())
	_ = inspect.Render(w, n)
	fmt.Fprintln(w)
}
