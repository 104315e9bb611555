package main

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/mbrock/proctree/internal/executor"
)

// TestMain lets run() re-execute the test binary as the exec child.
func TestMain(m *testing.M) {
	if len(os.Args) >= 2 && os.Args[1] == executor.ExecCommand {
		os.Exit(executor.ChildMain(os.Stdout, os.Stderr, os.Args[2:]))
	}
	os.Exit(m.Run())
}

func TestRun_NoCommandPrintsMenu(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run(nil, strings.NewReader(""), &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	out := stdout.String()
	for _, s := range []string{"Usage:", "System:", "Processes:", "Network:", "Files:", "runcmd ls -l"} {
		if !strings.Contains(out, s) {
			t.Errorf("menu missing %q:\n%s", s, out)
		}
	}
}

func TestRun_CommandFlagsAreNotParsed(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"sh", "-c", "echo hi from $0", "-l"}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	out := stdout.String()
	for _, s := range []string{
		"Executing: sh -c echo hi from $0 -l \n",
		"executing command...",
		"hi from -l",
		"Command process finished.",
	} {
		if !strings.Contains(out, s) {
			t.Errorf("output missing %q:\n%s", s, out)
		}
	}
}

func TestRun_NonexistentCommandStillExitsZero(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"/nonexistent"}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stderr.String(), "error executing command") {
		t.Errorf("stderr = %q", stderr.String())
	}
	if !strings.Contains(stdout.String(), "Command process finished.") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRun_ChildKilledIsAbnormal(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"sh", "-c", "kill -9 $$"}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(stdout.String(), "terminated abnormally") {
		t.Errorf("stdout = %q", stdout.String())
	}
}

func TestRun_BadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--nope", "ls"}, strings.NewReader(""), &stdout, &stderr); code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
}
