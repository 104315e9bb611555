// runcmd - Run a system command as a child process and wait for it
//
// Usage:
//
//	runcmd [--tty] <command> [args...]   Run command in a child process
//	runcmd __exec <command> [args...]    (internal) Become the command
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kelseyhightower/envconfig"
	flag "github.com/spf13/pflag"

	"github.com/mbrock/proctree/internal/executor"
	"github.com/mbrock/proctree/internal/logging"
)

func main() {
	// The child side replaces itself with the command; it must not parse
	// the command's flags.
	if len(os.Args) >= 2 && os.Args[1] == executor.ExecCommand {
		os.Exit(executor.ChildMain(os.Stdout, os.Stderr, os.Args[2:]))
	}
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// suggestions is the categorized menu shown when no command is given.
var suggestions = []struct {
	category string
	commands []string
}{
	{"System", []string{"uname -a", "lsb_release -a", "uptime", "hostname", "lscpu", "lspci", "lsusb", "cat /proc/interrupts", "ulimit -a"}},
	{"Processes", []string{"ps aux", "top -n 1"}},
	{"Network", []string{"ping 8.8.8.8 -c 3", "ifconfig"}},
	{"Files", []string{"ls -l", "df -h"}},
}

func usage(w io.Writer, fs *flag.FlagSet) {
	fmt.Fprintf(w, "Usage: %s [flags] <command> [args...]\n", fs.Name())
	fmt.Fprintf(w, "\nSuggested system commands:\n")
	for i, s := range suggestions {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "  %s:\n", s.category)
		for _, c := range s.commands {
			fmt.Fprintf(w, "  %s %s\n", fs.Name(), c)
		}
	}
	fmt.Fprintf(w, "\nFlags:\n")
	fs.PrintDefaults()
}

// runConfig holds the defaults read from RUNCMD_* environment variables.
type runConfig struct {
	TTY       bool   `envconfig:"TTY" default:"false"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var cfg runConfig
	if err := envconfig.Process("runcmd", &cfg); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	fs := flag.NewFlagSet("runcmd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	// Everything after the command name belongs to the command.
	fs.SetInterspersed(false)
	fs.BoolVar(&cfg.TTY, "tty", cfg.TTY, "Run the command on a pseudo-terminal (RUNCMD_TTY)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error (RUNCMD_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text, json, journal (RUNCMD_LOG_FORMAT)")
	fs.Usage = func() { usage(stdout, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	argv := fs.Args()
	if len(argv) == 0 {
		fs.Usage()
		return 1
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Writer: stderr})
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	self, err := os.Executable()
	if err != nil {
		fmt.Fprintf(stderr, "error: cannot find own executable: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "Executing: %s \n", strings.Join(argv, " "))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := &executor.Runner{
		Executor: executor.Default(),
		Self:     []string{self, executor.ExecCommand},
		Stdin:    stdin,
		Stdout:   stdout,
		Stderr:   stderr,
		TTY:      cfg.TTY,
		Logger:   log,
	}
	st, err := r.Run(ctx, argv)
	if err != nil {
		// Already reported by the runner; not a failure of runcmd itself.
		log.Debug("run failed", "error", err)
		return 0
	}
	log.Debug("child finished", "child", st.PID, "status", st.String())
	return 0
}

