// Package simple wires the pipeline service to its local adapters.
package simple

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/cochaviz/depfetch/internal/deps"
	"github.com/cochaviz/depfetch/internal/deps/adapters/archive"
	"github.com/cochaviz/depfetch/internal/deps/adapters/cmake"
	"github.com/cochaviz/depfetch/internal/deps/adapters/git"
	"github.com/cochaviz/depfetch/internal/logging"
	"github.com/cochaviz/depfetch/internal/manifest"
	"github.com/cochaviz/depfetch/internal/models"
	"github.com/cochaviz/depfetch/internal/placeholder"
	"github.com/cochaviz/depfetch/internal/repositories/local"
	"github.com/cochaviz/depfetch/internal/runner"
	"github.com/cochaviz/depfetch/internal/satisfaction"
	"github.com/cochaviz/depfetch/internal/toolchain"
	"github.com/cochaviz/depfetch/internal/workspace"
	"github.com/cochaviz/depfetch/platform"
)

// DefaultDownloadTimeout bounds a single archive download.
var DefaultDownloadTimeout = 30 * time.Minute

// Options locate the workspace and the manifest. Relative manifest paths
// are resolved against Root.
type Options struct {
	Root     string
	Manifest string
	Logger   *slog.Logger
	// Stdout and Stderr receive the output of external commands.
	Stdout io.Writer
	Stderr io.Writer
}

// Run processes the dependencies selected by request.
func Run(ctx context.Context, opts Options, request deps.Request) (deps.Summary, error) {
	service, err := NewService(opts)
	if err != nil {
		return deps.Summary{}, err
	}
	return service.Run(ctx, request)
}

// List returns the resolved order and the state each dependency would start in.
func List(ctx context.Context, opts Options, request deps.Request) ([]deps.Entry, error) {
	service, err := NewService(opts)
	if err != nil {
		return nil, err
	}
	return service.List(ctx, request)
}

// Clean removes the workspace directories selected by mode.
func Clean(root string, mode models.CleanMode, logger *slog.Logger) error {
	layout := workspace.New(root)
	tree := local.NewLocalOutputTree(osfs.New(layout.Root), layout, logging.Ensure(logger).With("component", "clean"))
	return tree.Clean(mode)
}

// Reports returns the stored run reports, oldest first.
func Reports(root string) ([]models.RunReport, error) {
	return local.NewLocalReportStore(osfs.New(workspace.New(root).Root)).List()
}

// Report returns a single stored run report.
func Report(root, id string) (models.RunReport, error) {
	return local.NewLocalReportStore(osfs.New(workspace.New(root).Root)).Get(id)
}

// NewService builds a pipeline service for the workspace in opts.
func NewService(opts Options) (*deps.PipelineService, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("workspace root is required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	logger := logging.Ensure(opts.Logger).With("component", "config.simple")

	manifestPath := opts.Manifest
	if !filepath.IsAbs(manifestPath) {
		manifestPath = filepath.Join(root, manifestPath)
	}
	dependencies, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, err
	}

	layout := workspace.New(root)
	host := platform.Host()
	cmakePath := toolchain.FindCMake(root, host)
	logger.Debug("resolved build tool", "cmake", cmakePath, "host", string(host))

	fsys := osfs.New(layout.Root)
	stamps := local.NewLocalStampStore(fsys, logger.With("store", "stamps"))
	commands := &runner.Exec{
		Logger: logger.With("runner", "exec"),
		Dir:    root,
		Stdout: opts.Stdout,
		Stderr: opts.Stderr,
	}

	return &deps.PipelineService{
		Logger:       logger.With("service", "deps"),
		Dependencies: dependencies,
		Checker:      satisfaction.NewChecker(fsys, stamps, logger.With("checker", "satisfaction")),
		Stamps:       stamps,
		Output:       local.NewLocalOutputTree(fsys, layout, logger.With("store", "output")),
		Git: &git.Fetcher{
			Runner: commands,
			Logger: logger.With("fetcher", "git"),
		},
		Archive: &archive.Fetcher{
			HTTPClient: &http.Client{Timeout: DefaultDownloadTimeout},
			Logger:     logger.With("fetcher", "archive"),
		},
		Driver: &cmake.Driver{
			Runner: commands,
			Logger: logger.With("driver", "cmake"),
		},
		Prober: &placeholder.MSBuildProber{
			Runner:   commands,
			CMake:    cmakePath,
			CacheDir: root,
			Logger:   logger.With("prober", "msbuild"),
		},
		Reports: local.NewLocalReportStore(fsys),
		Layout:  layout,
		CMake:   cmakePath,
		Host:    host,
	}, nil
}

// DefaultRoot is the parent of the working directory, where the SDK
// checkout keeps its build directory.
func DefaultRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Dir(wd), nil
}
