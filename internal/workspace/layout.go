// Package workspace names the directories a run reads and writes.
package workspace

import (
	"path/filepath"

	"github.com/cochaviz/depfetch/platform"
)

const (
	// BuildDirName holds sources, build trees and install trees.
	BuildDirName = "deps-build"
	// OutputDirName holds the copied artifacts consumed by the SDK build.
	OutputDirName = "deps"
	// StampDirName holds stamp records inside both trees.
	StampDirName = "stamp"

	FetchStampFile     = ".fetchinfo"
	ConfigureStampFile = ".configureinfo"

	reportsDirName = ".reports"
)

// Layout resolves absolute paths below a workspace root.
type Layout struct {
	Root string
}

// New returns the layout rooted at root.
func New(root string) Layout {
	return Layout{Root: filepath.Clean(root)}
}

// DepsBuild is deps-build/.
func (l Layout) DepsBuild() string { return filepath.Join(l.Root, BuildDirName) }

// Deps is deps/.
func (l Layout) Deps() string { return filepath.Join(l.Root, OutputDirName) }

// Work is deps-build/<name>.
func (l Layout) Work(name string) string { return filepath.Join(l.DepsBuild(), name) }

// Src is deps-build/<name>/src.
func (l Layout) Src(name string) string { return filepath.Join(l.Work(name), "src") }

// SrcRepo is the clone location deps-build/<name>/src/<name>.
func (l Layout) SrcRepo(name string) string { return filepath.Join(l.Src(name), name) }

// Build is deps-build/<name>/build/<platform>.
func (l Layout) Build(name string, p platform.Platform) string {
	return filepath.Join(l.Work(name), "build", string(p))
}

// Install is deps-build/<name>/install/<platform>.
func (l Layout) Install(name string, p platform.Platform) string {
	return filepath.Join(l.Work(name), "install", string(p))
}

// Output is deps/<name>.
func (l Layout) Output(name string) string { return filepath.Join(l.Deps(), name) }

// Patch returns the location of a patch file named in the manifest.
func (l Layout) Patch(patch string) string { return filepath.Join(l.Root, "build", patch) }

// Reports is deps-build/.reports.
func (l Layout) Reports() string { return filepath.Join(l.DepsBuild(), reportsDirName) }

// ToolchainDir holds the toolchain_<target>.cmake files.
func (l Layout) ToolchainDir() string { return filepath.Join(l.Root, "build") }

// Rel converts a layout path into a slash separated path relative to Root,
// suitable for a billy filesystem rooted there.
func (l Layout) Rel(path string) string {
	rel, err := filepath.Rel(l.Root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

// StampPaths returns the relative fetch and configure stamp locations of a
// dependency inside tree (BuildDirName or OutputDirName).
func StampPaths(tree, name string, p platform.Platform) (fetch, configure string) {
	dir := filepath.ToSlash(filepath.Join(tree, name, StampDirName))
	return dir + "/" + FetchStampFile, dir + "/" + string(p) + "/" + ConfigureStampFile
}
