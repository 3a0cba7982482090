package local

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-git/go-billy/v5"

	"github.com/cochaviz/depfetch/internal/logging"
	"github.com/cochaviz/depfetch/internal/workspace"
	"github.com/cochaviz/depfetch/platform"
)

const stampSeparator = ";"

// LocalStampStore keeps stamp records below the workspace root. Stamps are
// written into deps-build/ and compared against the copies in deps/.
type LocalStampStore struct {
	FS     billy.Filesystem
	Logger *slog.Logger
}

// NewLocalStampStore returns a store over a filesystem rooted at the
// workspace root.
func NewLocalStampStore(fsys billy.Filesystem, logger *slog.Logger) *LocalStampStore {
	return &LocalStampStore{FS: fsys, Logger: logger}
}

// WriteFetchStamp records the fetch parameters of a dependency.
func (s *LocalStampStore) WriteFetchStamp(name string, params []string) error {
	fetch, _ := workspace.StampPaths(workspace.BuildDirName, name, "")
	return s.write(fetch, params)
}

// WriteConfigureStamp records the configure parameters of a dependency for p.
func (s *LocalStampStore) WriteConfigureStamp(name string, p platform.Platform, params []string) error {
	_, configure := workspace.StampPaths(workspace.BuildDirName, name, p)
	return s.write(configure, params)
}

// CopyStampsToOutput propagates the stamps of a dependency into deps/<name>.
// Stamps that were never written are ignored.
func (s *LocalStampStore) CopyStampsToOutput(name string, p platform.Platform) error {
	srcFetch, srcConfigure := workspace.StampPaths(workspace.BuildDirName, name, p)
	dstFetch, dstConfigure := workspace.StampPaths(workspace.OutputDirName, name, p)

	for _, pair := range [][2]string{{srcFetch, dstFetch}, {srcConfigure, dstConfigure}} {
		ok, err := exists(s.FS, pair[0])
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := copyFile(s.FS, pair[0], pair[1]); err != nil {
			return fmt.Errorf("copy stamp %q: %w", pair[0], err)
		}
	}
	return nil
}

// IsSatisfied compares the output stamps of a dependency with the expected
// parameters. A nil parameter list is not compared.
func (s *LocalStampStore) IsSatisfied(name string, p platform.Platform, fetchParams, configureParams *[]string) (bool, error) {
	fetch, configure := workspace.StampPaths(workspace.OutputDirName, name, p)
	logger := logging.Ensure(s.Logger).With(logging.DependencyKey, name)

	if fetchParams != nil {
		ok, err := s.matches(fetch, *fetchParams)
		if err != nil {
			return false, err
		}
		if !ok {
			logger.Debug("fetch stamp out of date", "stamp", fetch)
			return false, nil
		}
	}
	if configureParams != nil {
		ok, err := s.matches(configure, *configureParams)
		if err != nil {
			return false, err
		}
		if !ok {
			logger.Debug("configure stamp out of date", "stamp", configure)
			return false, nil
		}
	}
	return true, nil
}

func (s *LocalStampStore) write(name string, params []string) error {
	if err := writeFile(s.FS, name, []byte(strings.Join(params, stampSeparator))); err != nil {
		return fmt.Errorf("write stamp %q: %w", name, err)
	}
	return nil
}

func (s *LocalStampStore) matches(name string, params []string) (bool, error) {
	ok, err := exists(s.FS, name)
	if err != nil || !ok {
		return false, err
	}
	data, err := readFile(s.FS, name)
	if err != nil {
		return false, fmt.Errorf("read stamp %q: %w", name, err)
	}
	recorded, _, _ := strings.Cut(string(data), "\n")
	return recorded == strings.Join(params, stampSeparator), nil
}
