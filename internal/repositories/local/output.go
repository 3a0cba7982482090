package local

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/cochaviz/depfetch/internal/logging"
	"github.com/cochaviz/depfetch/internal/manifest"
	"github.com/cochaviz/depfetch/internal/models"
	"github.com/cochaviz/depfetch/internal/workspace"
)

// LocalOutputTree copies build products into deps/ and removes workspace
// trees.
type LocalOutputTree struct {
	FS     billy.Filesystem
	Layout workspace.Layout
	Logger *slog.Logger
}

// NewLocalOutputTree returns an output tree over a filesystem rooted at the
// layout root.
func NewLocalOutputTree(fsys billy.Filesystem, layout workspace.Layout, logger *slog.Logger) *LocalOutputTree {
	return &LocalOutputTree{FS: fsys, Layout: layout, Logger: logger}
}

// Copy performs the copy items of a dependency in order. Sources are relative
// to deps-build/<name> and destinations to deps/<name>. A directory replaces
// the destination tree; a file is copied into the destination directory.
// Sources that do not exist are skipped, except that a missing install/.../lib
// is retried as install/.../lib64.
func (t *LocalOutputTree) Copy(name string, items []manifest.CopyItem) error {
	logger := logging.Ensure(t.Logger).With(logging.DependencyKey, name)

	for _, item := range items {
		src := t.resolve(path.Join(workspace.BuildDirName, name), item.Source)
		dst := t.resolve(path.Join(workspace.OutputDirName, name), item.Destination)

		found, err := exists(t.FS, src)
		if err != nil {
			return err
		}
		if !found && isInstallLib(item.Source) {
			src = strings.TrimSuffix(src, "/lib") + "/lib64"
			if found, err = exists(t.FS, src); err != nil {
				return err
			}
		}
		if !found {
			logger.Debug("copy source not found, skipping", "source", item.Source)
			continue
		}

		if err := t.copyItem(src, dst); err != nil {
			return fmt.Errorf("copy %s to %s: %w", item.Source, item.Destination, err)
		}
		logger.Debug("copied", "source", src, "destination", dst)
	}
	return nil
}

func (t *LocalOutputTree) copyItem(src, dst string) error {
	info, err := t.FS.Stat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyTree(t.FS, src, dst)
	}
	return copyFile(t.FS, src, path.Join(dst, path.Base(src)))
}

// resolve maps a manifest path onto the filesystem. Absolute paths (from
// expanded placeholders) are made relative to the workspace root.
func (t *LocalOutputTree) resolve(base, p string) string {
	if filepath.IsAbs(p) {
		return t.Layout.Rel(p)
	}
	return path.Join(base, filepath.ToSlash(p))
}

func isInstallLib(source string) bool {
	source = filepath.ToSlash(source)
	return strings.HasPrefix(source, "install/") && strings.HasSuffix(source, "/lib")
}

// Clean removes the trees selected by mode:
//
//	output  deps/<name> for every dependency carrying a fetch stamp
//	build   deps-build/<name>/{build,install,stamp}
//	src     deps-build/<name>/src
//	all     all of the above
func (t *LocalOutputTree) Clean(mode models.CleanMode) error {
	logger := logging.Ensure(t.Logger)

	if mode.Includes(models.CleanOutput) {
		names, err := subdirectories(t.FS, workspace.OutputDirName)
		if err != nil {
			return err
		}
		for _, name := range names {
			fetch, _ := workspace.StampPaths(workspace.OutputDirName, name, "")
			stamped, err := exists(t.FS, fetch)
			if err != nil {
				return err
			}
			if stamped {
				if err := t.remove(logger, path.Join(workspace.OutputDirName, name)); err != nil {
					return err
				}
			}
		}
	}

	var stages []string
	if mode.Includes(models.CleanBuild) {
		stages = append(stages, "build", "install", workspace.StampDirName)
	}
	if mode.Includes(models.CleanSource) {
		stages = append(stages, "src")
	}
	if len(stages) == 0 {
		return nil
	}

	names, err := subdirectories(t.FS, workspace.BuildDirName)
	if err != nil {
		return err
	}
	for _, name := range names {
		for _, stage := range stages {
			dir := path.Join(workspace.BuildDirName, name, stage)
			found, err := exists(t.FS, dir)
			if err != nil {
				return err
			}
			if found {
				if err := t.remove(logger, dir); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (t *LocalOutputTree) remove(logger *slog.Logger, dir string) error {
	logger.Info("removing", "path", dir)
	if err := util.RemoveAll(t.FS, dir); err != nil {
		return fmt.Errorf("remove %q: %w", dir, err)
	}
	return nil
}
