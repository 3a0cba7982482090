package deps

import (
	"time"

	"github.com/cochaviz/depfetch/internal/manifest"
	"github.com/cochaviz/depfetch/internal/toolchain"
	"github.com/cochaviz/depfetch/internal/workspace"
	"github.com/cochaviz/depfetch/platform"
)

// Request selects what a run builds.
type Request struct {
	Platform  platform.Platform
	Toolchain int
	Debug     bool
	SharedCRT bool
	NDKPath   string
	EMSDKPath string

	// Dependency limits the run to a single dependency when set.
	Dependency string
	// Extra also processes dependencies of type extra.
	Extra     bool
	ToolsOnly bool
	LibsOnly  bool
}

// ExecutionContext is passed to every stage of one dependency. Platform is
// the host platform for tool dependencies.
type ExecutionContext struct {
	Platform  platform.Platform
	Host      platform.Platform
	Toolchain int
	Debug     bool
	SharedCRT bool
	NDKPath   string
	EMSDKPath string
	CMake     string
	Layout    workspace.Layout
}

// BuildToolParams returns the resolver parameters for the context.
func (c ExecutionContext) BuildToolParams() toolchain.Params {
	return toolchain.Params{
		Platform:     c.Platform,
		Host:         c.Host,
		Toolchain:    c.Toolchain,
		Debug:        c.Debug,
		SharedCRT:    c.SharedCRT,
		NDKPath:      c.NDKPath,
		EMSDKPath:    c.EMSDKPath,
		ToolchainDir: c.Layout.ToolchainDir(),
	}
}

// Plan is a dependency with every placeholder expanded, bound to the context
// it runs in. It is not modified once created.
type Plan struct {
	Spec    manifest.DependencySpec
	Context ExecutionContext
}

func (p Plan) Name() string { return p.Spec.Name }

// SourceDir is deps-build/<name>/src.
func (p Plan) SourceDir() string { return p.Context.Layout.Src(p.Spec.Name) }

// RepositoryDir is the clone location deps-build/<name>/src/<name>.
func (p Plan) RepositoryDir() string { return p.Context.Layout.SrcRepo(p.Spec.Name) }

// BuildDir is deps-build/<name>/build/<platform>.
func (p Plan) BuildDir() string { return p.Context.Layout.Build(p.Spec.Name, p.Context.Platform) }

// InstallDir is deps-build/<name>/install/<platform>.
func (p Plan) InstallDir() string { return p.Context.Layout.Install(p.Spec.Name, p.Context.Platform) }

// Failure records a dependency that did not complete.
type Failure struct {
	Dependency string
	Type       manifest.DependencyType
	Err        error
}

// Stage returns the stage the failure happened in, if known.
func (f Failure) Stage() Stage {
	if stageErr, ok := asStageError(f.Err); ok {
		return stageErr.Stage
	}
	return ""
}

// Summary describes the outcome of a run.
type Summary struct {
	RunID      string
	Platform   platform.Platform
	Host       platform.Platform
	StartedAt  time.Time
	FinishedAt time.Time

	States         map[string]State
	Succeeded      []string
	Satisfied      []string
	Skipped        []string
	FailedOptional []Failure
	FailedRequired []Failure
}

// Failed reports whether any dependency failed.
func (s Summary) Failed() bool {
	return len(s.FailedOptional)+len(s.FailedRequired) > 0
}

// Entry describes a dependency in the resolved order without running it.
type Entry struct {
	Name      string
	Type      manifest.DependencyType
	Tool      bool
	Platform  platform.Platform
	State     State
	Reason    string
	DependsOn []string
}
