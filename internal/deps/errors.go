package deps

import (
	"errors"
	"fmt"
	"strings"
)

// Stage names a pipeline stage.
type Stage string

const (
	StageCheck     Stage = "check"
	StageFetch     Stage = "fetch"
	StageConfigure Stage = "configure"
	StageBuild     Stage = "build"
	StageInstall   Stage = "install"
	StageCopy      Stage = "copy"
)

// Stage failure kinds, matched with errors.Is.
var (
	ErrCheck     = errors.New("check failed")
	ErrFetch     = errors.New("fetch failed")
	ErrConfigure = errors.New("configure failed")
	ErrBuild     = errors.New("build failed")
	ErrInstall   = errors.New("install failed")
	ErrCopy      = errors.New("copy failed")
)

var stageKinds = map[Stage]error{
	StageCheck:     ErrCheck,
	StageFetch:     ErrFetch,
	StageConfigure: ErrConfigure,
	StageBuild:     ErrBuild,
	StageInstall:   ErrInstall,
	StageCopy:      ErrCopy,
}

// ErrMissingNDK is returned for Android targets without an NDK path.
var ErrMissingNDK = errors.New("an Android NDK path is required for Android targets")

// StageError wraps the failure of one stage of one dependency.
type StageError struct {
	Stage      Stage
	Dependency string
	Err        error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Dependency, e.Stage, e.Err)
}

// Unwrap exposes both the stage kind and the underlying error.
func (e *StageError) Unwrap() []error {
	if kind, ok := stageKinds[e.Stage]; ok {
		return []error{kind, e.Err}
	}
	return []error{e.Err}
}

func stageError(stage Stage, name string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Dependency: name, Err: err}
}

func asStageError(err error) (*StageError, bool) {
	var stageErr *StageError
	ok := errors.As(err, &stageErr)
	return stageErr, ok
}

// UnsatisfiedRequiredDependencyError is returned at the end of a run in which
// required dependencies failed.
type UnsatisfiedRequiredDependencyError struct {
	Dependencies []string
}

func (e *UnsatisfiedRequiredDependencyError) Error() string {
	return "required dependencies failed: " + strings.Join(e.Dependencies, ", ")
}

// FailedOptionalDependenciesError is returned at the end of a run in which
// only optional dependencies failed.
type FailedOptionalDependenciesError struct {
	Dependencies []string
}

func (e *FailedOptionalDependenciesError) Error() string {
	return "optional dependencies failed: " + strings.Join(e.Dependencies, ", ")
}
