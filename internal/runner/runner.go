// Package runner executes external commands synchronously.
//
// Commands never change the process working directory or environment: the
// directory and the environment overlay are applied to the child process only,
// so they are restored on every exit path by construction.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"

	"github.com/cochaviz/depfetch/internal/logging"
)

// Command describes one process invocation.
type Command struct {
	Args []string
	// Dir is the working directory of the child; empty means the runner's
	// default directory.
	Dir string
	Env Overlay
	// Stdout and Stderr override the runner's writers when set.
	Stdout io.Writer
	Stderr io.Writer
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Runner runs a command to completion and fails on a non-zero exit.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// CommandError reports a command that could not be started or exited with a
// non-zero status.
type CommandError struct {
	Args     []string
	Dir      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command %q", strings.Join(e.Args, " "))
	if e.ExitCode > 0 {
		msg += fmt.Sprintf(" exited with status %d", e.ExitCode)
	} else if e.Err != nil {
		msg += " failed: " + e.Err.Error()
	}
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		msg += ": " + tail
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Overlay holds environment variables set for a single command.
type Overlay map[string]string

// Environ returns base with the overlay applied. Existing variables are
// replaced in place; new ones are appended in key order.
func (o Overlay) Environ(base []string) []string {
	out := make([]string, 0, len(base)+len(o))
	seen := make(map[string]bool, len(o))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if value, ok := o[key]; ok {
			out = append(out, key+"="+value)
			seen[key] = true
			continue
		}
		out = append(out, entry)
	}

	keys := make([]string, 0, len(o))
	for key := range o {
		if !seen[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, key+"="+o[key])
	}
	return out
}

// Merge returns a new overlay with other applied on top of o.
func (o Overlay) Merge(other Overlay) Overlay {
	out := make(Overlay, len(o)+len(other))
	for key, value := range o {
		out[key] = value
	}
	for key, value := range other {
		out[key] = value
	}
	return out
}

// Exec runs commands with os/exec.
type Exec struct {
	Logger *slog.Logger
	// Dir is used for commands that do not set their own directory.
	Dir string
	// Env is applied to every command below the command's own overlay.
	Env    Overlay
	Stdout io.Writer
	Stderr io.Writer
}

var _ Runner = (*Exec)(nil)

// Run executes cmd and waits for it to exit.
func (r *Exec) Run(ctx context.Context, cmd Command) error {
	if len(cmd.Args) == 0 {
		return &CommandError{Err: errors.New("no command provided")}
	}

	dir := cmd.Dir
	if dir == "" {
		dir = r.Dir
	}
	logging.Ensure(r.Logger).Info("run command", "command", cmd.String(), "dir", dir)

	child := exec.CommandContext(ctx, cmd.Args[0], cmd.Args[1:]...)
	child.Dir = dir
	if overlay := r.Env.Merge(cmd.Env); len(overlay) > 0 {
		child.Env = overlay.Environ(os.Environ())
	}

	stderrTail := &tailBuffer{limit: 2048}
	child.Stdout = firstWriter(cmd.Stdout, r.Stdout, os.Stdout)
	child.Stderr = io.MultiWriter(firstWriter(cmd.Stderr, r.Stderr, os.Stderr), stderrTail)

	if err := child.Run(); err != nil {
		cmdErr := &CommandError{
			Args:   append([]string(nil), cmd.Args...),
			Dir:    dir,
			Stderr: stderrTail.String(),
			Err:    err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cmdErr.ExitCode = exitErr.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			cmdErr.Err = errors.Join(ctxErr, err)
		}
		return cmdErr
	}
	return nil
}

func firstWriter(writers ...io.Writer) io.Writer {
	for _, w := range writers {
		if w != nil {
			return w
		}
	}
	return io.Discard
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	data  []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	if over := len(b.data) - b.limit; over > 0 {
		b.data = append([]byte(nil), b.data[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.data)
}
