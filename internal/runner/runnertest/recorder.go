// Package runnertest provides a recording runner for tests.
package runnertest

import (
	"context"
	"sync"

	"github.com/cochaviz/depfetch/internal/runner"
)

// Recorder records every command and delegates to Handle when set.
type Recorder struct {
	Handle func(ctx context.Context, cmd runner.Command) error

	mu       sync.Mutex
	commands []runner.Command
}

var _ runner.Runner = (*Recorder)(nil)

func (r *Recorder) Run(ctx context.Context, cmd runner.Command) error {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if r.Handle != nil {
		return r.Handle(ctx, cmd)
	}
	return nil
}

// Commands returns the recorded commands in order.
func (r *Recorder) Commands() []runner.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runner.Command(nil), r.commands...)
}

// Reset forgets every recorded command.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
