// Package qualitygate runs the project-configured check command (tests,
// lint, build) and classifies the outcome. The command is arbitrary shell
// configured by the operator; sandboxing it is not this package's job.
package qualitygate

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/relgate/cli/redact"
)

// DefaultTimeout bounds a gate run. A hanging gate would leave the whole
// agent unresponsive, so exceeding it is a distinct outcome rather than a
// plain failure: a timeout usually means an infinite loop in the code under
// test, not a failing assertion.
const DefaultTimeout = 5 * time.Minute

// TailLines is how many trailing output lines are kept for feedback.
const TailLines = 50

// Outcome classifies a gate run.
type Outcome int

const (
	// Passed means the command exited 0.
	Passed Outcome = iota

	// Failed means the command exited nonzero.
	Failed

	// TimedOut means the command was killed at the deadline.
	TimedOut

	// ExecError means the command could not be run at all (shell missing,
	// permission denied). Callers must block on this rather than allow:
	// an unevaluated gate is not a passed gate.
	ExecError
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed_out"
	default:
		return "error"
	}
}

// Result is the outcome of one gate run.
type Result struct {
	Outcome  Outcome
	ExitCode int

	// OutputTail is the last TailLines lines of combined output, with
	// secrets redacted, for embedding in block feedback.
	OutputTail string

	RanAt time.Time
	Err   error
}

// Runner executes quality gate commands.
type Runner struct {
	// Dir is the working directory for the command.
	Dir string

	// Timeout overrides DefaultTimeout when positive.
	Timeout time.Duration
}

// Run executes command via `sh -c` and classifies the result.
// The subprocess is killed when the timeout elapses.
func (r *Runner) Run(ctx context.Context, command string) Result {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := Result{RanAt: time.Now().UTC()}

	var buf bytes.Buffer
	var err error

	// Retry on ETXTBSY: the gate command may invoke a script another
	// process just finished writing.
	for attempt := 0; attempt < 3; attempt++ {
		buf.Reset()
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = r.Dir
		cmd.Stdout = &buf
		cmd.Stderr = &buf
		err = cmd.Run()
		if !errors.Is(err, syscall.ETXTBSY) {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	result.OutputTail = Tail(buf.String(), TailLines)

	if ctx.Err() == context.DeadlineExceeded {
		result.Outcome = TimedOut
		result.Err = ctx.Err()
		return result
	}

	if err == nil {
		result.Outcome = Passed
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.Outcome = Failed
		result.ExitCode = exitErr.ExitCode()
		return result
	}

	result.Outcome = ExecError
	result.Err = err
	return result
}

// Tail returns the last n lines of s with secrets redacted per line,
// preserving the line structure of the output.
func Tail(s string, n int) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}

	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
		lines = append([]string{"[... earlier output truncated ...]"}, lines...)
	}

	return redact.Lines(strings.Join(lines, "\n"))
}
