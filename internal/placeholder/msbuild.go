package placeholder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/cochaviz/depfetch/internal/logging"
	"github.com/cochaviz/depfetch/internal/runner"
	"github.com/cochaviz/depfetch/internal/toolchain"
)

const makeProgramKey = "CMAKE_MAKE_PROGRAM"

// MSBuildProber asks the build tool for the MSBuild location of a Visual
// Studio generator. The tool output is cached in <CacheDir>/cmake_msbuild_<year>.txt
// and results are memoized per prober.
type MSBuildProber struct {
	Runner   runner.Runner
	CMake    string
	CacheDir string
	Logger   *slog.Logger

	mu    sync.Mutex
	paths map[int]string
}

var _ ToolProber = (*MSBuildProber)(nil)

// MSBuildPath returns the MSBuild executable for the Visual Studio year.
func (p *MSBuildProber) MSBuildPath(ctx context.Context, year int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if path, ok := p.paths[year]; ok {
		return path, nil
	}

	version := strconv.Itoa(year)
	generator, ok := toolchain.GeneratorName(year)
	if !ok {
		return "", &ToolResolutionError{Tool: "msbuild", Version: version, Err: &toolchain.UnsupportedToolchainError{Toolchain: "vs" + version}}
	}

	cacheFile := filepath.Join(p.CacheDir, "cmake_msbuild_"+version+".txt")
	if _, err := os.Stat(cacheFile); errors.Is(err, fs.ErrNotExist) {
		if err := p.writeSystemInformation(ctx, cacheFile, generator); err != nil {
			return "", &ToolResolutionError{Tool: "msbuild", Version: version, Err: err}
		}
	} else if err != nil {
		return "", &ToolResolutionError{Tool: "msbuild", Version: version, Err: err}
	}

	path, err := readMakeProgram(cacheFile)
	if err != nil {
		return "", &ToolResolutionError{Tool: "msbuild", Version: version, Err: err}
	}

	if p.paths == nil {
		p.paths = make(map[int]string)
	}
	p.paths[year] = path
	return path, nil
}

func (p *MSBuildProber) writeSystemInformation(ctx context.Context, cacheFile, generator string) (err error) {
	logging.Ensure(p.Logger).Info("probing build tool", "generator", generator, "cache", cacheFile)

	file, err := os.Create(cacheFile)
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer func() {
		err = errors.Join(err, file.Close())
		if err != nil {
			_ = os.Remove(cacheFile)
		}
	}()

	cmake := p.CMake
	if cmake == "" {
		cmake = toolchain.DefaultCMake
	}
	return p.Runner.Run(ctx, runner.Command{
		Args:   []string{cmake, "-G", generator, "--system-information"},
		Dir:    p.CacheDir,
		Stdout: file,
		Stderr: file,
	})
}

func readMakeProgram(cacheFile string) (string, error) {
	file, err := os.Open(cacheFile)
	if err != nil {
		return "", err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, makeProgramKey) {
			continue
		}
		value := strings.TrimSpace(strings.TrimPrefix(line, makeProgramKey))
		return strings.Trim(value, `"`), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%s not reported in %s", makeProgramKey, cacheFile)
}
