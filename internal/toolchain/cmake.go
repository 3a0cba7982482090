package toolchain

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/cochaviz/depfetch/platform"
)

// DefaultCMake is used when no bundled build tool is found.
const DefaultCMake = "cmake"

// minimumCMake is the oldest bundled version that supports --install.
var minimumCMake = semver.MustParse("3.15.0")

// FindCMake walks from dir towards the filesystem root looking for a bundled
// build tool under tools/cmake-<version>/<host>/. The highest version found in
// the nearest tools directory wins. DefaultCMake is returned when nothing is
// found.
func FindCMake(dir string, host platform.Platform) string {
	dir = filepath.Clean(dir)
	for {
		if path, ok := bundledCMake(filepath.Join(dir, "tools"), host); ok {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return DefaultCMake
		}
		dir = parent
	}
}

func bundledCMake(toolsDir string, host platform.Platform) (string, bool) {
	entries, err := os.ReadDir(toolsDir)
	if err != nil {
		return "", false
	}

	var (
		bestPath    string
		bestVersion *semver.Version
	)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		raw, ok := strings.CutPrefix(entry.Name(), "cmake-")
		if !ok {
			continue
		}
		version, err := semver.NewVersion(raw)
		if err != nil || version.LessThan(minimumCMake) {
			continue
		}

		path := filepath.Join(toolsDir, entry.Name(), string(host), cmakeBinDir(host), cmakeExecutable(host))
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if bestVersion == nil || version.GreaterThan(bestVersion) {
			bestVersion = version
			bestPath = path
		}
	}
	return bestPath, bestVersion != nil
}

func cmakeBinDir(host platform.Platform) string {
	if host == platform.OSX {
		return filepath.Join("CMake.app", "Contents", "bin")
	}
	return "bin"
}

func cmakeExecutable(host platform.Platform) string {
	if host.IsWindows() {
		return "cmake.exe"
	}
	return "cmake"
}
