package stage

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// commandRunner is the signature of runCommand, indirected so stage tests
// can substitute canned transcripts.
type commandRunner func(ctx context.Context, workdir string, timeout time.Duration, name string, args ...string) (bool, string)

// runCommand executes a command in workdir under a timeout and returns
// whether it exited zero plus a transcript of the invocation and its
// combined output.
func runCommand(ctx context.Context, workdir string, timeout time.Duration, name string, args ...string) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	display := name
	if len(args) > 0 {
		display += " " + strings.Join(args, " ")
	}

	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workdir
	out, err := cmd.CombinedOutput()
	duration := time.Since(start).Milliseconds()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return false, fmt.Sprintf("$ %s\n-- timeout after %s\n%s", display, timeout, out)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, fmt.Sprintf("$ %s\n-- duration_ms=%d\n%s", display, duration, out)
		}
		return false, fmt.Sprintf("$ %s\n-- error: %v\n%s", display, err, out)
	}
	return true, fmt.Sprintf("$ %s\n-- duration_ms=%d\n%s", display, duration, out)
}

// lookPath reports whether a binary is on PATH. Indirection for tests.
var lookPath = func(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
