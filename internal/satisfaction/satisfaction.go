// Package satisfaction decides whether a dependency's outputs are already in
// place for a platform, so its pipeline can be skipped.
package satisfaction

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"

	"github.com/go-git/go-billy/v5"

	"github.com/cochaviz/depfetch/internal/logging"
	"github.com/cochaviz/depfetch/internal/manifest"
	"github.com/cochaviz/depfetch/internal/workspace"
	"github.com/cochaviz/depfetch/platform"
)

// StampReader compares recorded stamps with expected parameters.
type StampReader interface {
	IsSatisfied(name string, p platform.Platform, fetchParams, configureParams *[]string) (bool, error)
}

// Checker looks for declared artifacts below deps/ on a filesystem rooted at
// the workspace root.
type Checker struct {
	FS     billy.Filesystem
	Stamps StampReader
	Logger *slog.Logger
}

// NewChecker returns a checker.
func NewChecker(fsys billy.Filesystem, stamps StampReader, logger *slog.Logger) *Checker {
	return &Checker{FS: fsys, Stamps: stamps, Logger: logger}
}

// IsAlreadySatisfied reports whether every artifact listed in the
// dependency's check section exists and its stamps match. A dependency
// without a check section is never satisfied.
func (c *Checker) IsAlreadySatisfied(name string, spec manifest.DependencySpec, p platform.Platform, debug bool) (bool, error) {
	if spec.Check.IsEmpty() {
		return false, nil
	}
	logger := logging.Ensure(c.Logger).With(logging.DependencyKey, name)
	checkPlatform := spec.CheckPlatformName(p)
	config := "release"
	if debug {
		config = "debug"
	}

	for _, header := range spec.Check.Headers {
		found, err := c.find(logger, path.Join(workspace.OutputDirName, name, "include", header))
		if err != nil || !found {
			return false, err
		}
	}

	groups := []struct {
		dir    string
		names  [][]string
		format func(string, platform.Platform) string
	}{
		{"lib", spec.Check.StaticLibraries, StaticLibraryName},
		{"bin", spec.Check.SharedLibraries, SharedLibraryName},
		{"bin", spec.Check.Programs, ProgramName},
	}
	for _, group := range groups {
		for _, alternatives := range group.names {
			found, err := c.findAny(logger, name, group.dir, checkPlatform, config, alternatives, p, group.format)
			if err != nil || !found {
				return false, err
			}
		}
	}

	if _, fails := spec.Fetch.(manifest.FailSource); fails {
		return true, nil
	}
	if c.Stamps == nil {
		return false, errors.New("no stamp reader configured")
	}

	fetchParams := spec.FetchStampParams()
	var configureParams *[]string
	if params, ok := spec.ConfigureStampParams(p); ok {
		configureParams = &params
	}
	satisfied, err := c.Stamps.IsSatisfied(name, p, &fetchParams, configureParams)
	if err != nil {
		return false, fmt.Errorf("compare stamps: %w", err)
	}
	return satisfied, nil
}

// findAny reports whether one of the alternatives exists either directly in
// <dir>/<checkPlatform> or in its per-configuration subdirectory.
func (c *Checker) findAny(logger *slog.Logger, name, dir, checkPlatform, config string, alternatives []string, p platform.Platform, format func(string, platform.Platform) string) (bool, error) {
	base := path.Join(workspace.OutputDirName, name, dir, checkPlatform)
	for _, alternative := range alternatives {
		file := format(alternative, p)
		for _, candidate := range []string{path.Join(base, file), path.Join(base, config, file)} {
			found, err := c.find(logger, candidate)
			if err != nil {
				return false, err
			}
			if found {
				return true, nil
			}
		}
	}
	return false, nil
}

func (c *Checker) find(logger *slog.Logger, name string) (bool, error) {
	_, err := c.FS.Stat(name)
	switch {
	case err == nil:
		logger.Debug("found", "path", name)
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat %q: %w", name, err)
	}
}

// StaticLibraryName returns the file name of a static library on p.
func StaticLibraryName(name string, p platform.Platform) string {
	if p.IsWindows() {
		return name + ".lib"
	}
	return "lib" + name + ".a"
}

// SharedLibraryName returns the file name of a shared library on p.
func SharedLibraryName(name string, p platform.Platform) string {
	switch {
	case p.IsWindows():
		return name + ".dll"
	case p.IsApple():
		return "lib" + name + ".dylib"
	default:
		return "lib" + name + ".so"
	}
}

// ProgramName returns the file name of an executable on p.
func ProgramName(name string, p platform.Platform) string {
	if p.IsWindows() {
		return name + ".exe"
	}
	return name
}
