package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mbrock/proctree/internal/config"
	"github.com/mbrock/proctree/internal/logging"
	"github.com/mbrock/proctree/internal/tree"
)

// cmdNode runs one non-root node. It is launched by the parent node, not
// by users directly, and exits 0 once its subtree is done.
func cmdNode(args []string) {
	cfg, err := config.Load()
	if err != nil {
		fatal("%v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("%v", err)
	}
	if err := logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		fatal("%v", err)
	}
	depth, maxDepth, err := tree.ParseNodeArgs(args)
	if err != nil {
		fatal("%v", err)
	}

	self, err := os.Executable()
	if err != nil {
		fatal("cannot find own executable: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Debug("node started", "pid", os.Getpid(), "ppid", os.Getppid(), "depth", depth)
	b := newBuilder(cfg, tree.NewExecForker(self, nil))
	if _, err := b.Build(ctx, depth, maxDepth); err != nil {
		slog.Debug("node finished early", "pid", os.Getpid(), "depth", depth, "error", err)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
