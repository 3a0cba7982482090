package deps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/depfetch/internal/logging"
	"github.com/cochaviz/depfetch/internal/manifest"
	"github.com/cochaviz/depfetch/internal/models"
	"github.com/cochaviz/depfetch/internal/placeholder"
	"github.com/cochaviz/depfetch/internal/repositories/local"
	"github.com/cochaviz/depfetch/internal/satisfaction"
	"github.com/cochaviz/depfetch/internal/workspace"
	"github.com/cochaviz/depfetch/platform"
)

const workspaceRoot = "/work/sdk"

// fakeTools stands in for the fetch adapters and the build tool driver. It
// writes files into the in-memory workspace the way the real tools would.
type fakeTools struct {
	fs     billy.Filesystem
	layout workspace.Layout

	mu       sync.Mutex
	calls    []string
	failures map[string]error
	// installed lists files, relative to the install directory, produced by
	// the install stage of a dependency.
	installed map[string][]string
	plans     map[string]Plan
}

func newFakeTools(fsys billy.Filesystem) *fakeTools {
	return &fakeTools{
		fs:        fsys,
		layout:    workspace.New(workspaceRoot),
		failures:  map[string]error{},
		installed: map[string][]string{},
		plans:     map[string]Plan{},
	}
}

func (f *fakeTools) record(stage string, plan Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stage + ":" + plan.Name()
	f.calls = append(f.calls, key)
	f.plans[plan.Name()] = plan
	return f.failures[key]
}

func (f *fakeTools) write(abs, content string) error {
	return util.WriteFile(f.fs, f.layout.Rel(abs), []byte(content), 0o644)
}

func (f *fakeTools) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeTools) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

type fakeFetcher struct {
	tools *fakeTools
	kind  string
}

func (f fakeFetcher) Fetch(_ context.Context, plan Plan) error {
	if err := f.tools.record("fetch-"+f.kind, plan); err != nil {
		return err
	}
	return f.tools.write(path.Join(plan.SourceDir(), plan.Name(), "CMakeLists.txt"), "project()")
}

type fakeDriver struct{ tools *fakeTools }

func (d fakeDriver) Configure(_ context.Context, plan Plan) error {
	if err := d.tools.record("configure", plan); err != nil {
		return err
	}
	return d.tools.write(path.Join(plan.BuildDir(), "Makefile"), "all:")
}

func (d fakeDriver) Build(_ context.Context, plan Plan) error {
	return d.tools.record("build", plan)
}

func (d fakeDriver) Install(_ context.Context, plan Plan) error {
	if err := d.tools.record("install", plan); err != nil {
		return err
	}
	for _, file := range d.tools.installed[plan.Name()] {
		if err := d.tools.write(path.Join(plan.InstallDir(), file), file); err != nil {
			return err
		}
	}
	return nil
}

type failingProber struct{}

func (failingProber) MSBuildPath(context.Context, int) (string, error) {
	return "", errors.New("visual studio not installed")
}

type harness struct {
	fs      billy.Filesystem
	tools   *fakeTools
	reports *local.LocalReportStore
	service *PipelineService
}

func newHarness(t *testing.T, manifestText string) *harness {
	t.Helper()

	m, err := manifest.Parse([]byte(manifestText))
	require.NoError(t, err)

	fsys := memfs.New()
	layout := workspace.New(workspaceRoot)
	stamps := local.NewLocalStampStore(fsys, logging.Discard())
	tools := newFakeTools(fsys)
	reports := local.NewLocalReportStore(fsys)

	return &harness{
		fs:      fsys,
		tools:   tools,
		reports: reports,
		service: &PipelineService{
			Logger:       logging.Discard(),
			Dependencies: m,
			Checker:      satisfaction.NewChecker(fsys, stamps, logging.Discard()),
			Stamps:       stamps,
			Output:       local.NewLocalOutputTree(fsys, layout, logging.Discard()),
			Git:          fakeFetcher{tools: tools, kind: "git"},
			Archive:      fakeFetcher{tools: tools, kind: "archive"},
			Driver:       fakeDriver{tools: tools},
			Reports:      reports,
			Layout:       layout,
			CMake:        "cmake",
			Host:         platform.LinuxX64,
			Clock:        func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
		},
	}
}

func (h *harness) exists(t *testing.T, name string) bool {
	t.Helper()
	_, err := h.fs.Stat(name)
	return err == nil
}

func (h *harness) read(t *testing.T, name string) string {
	t.Helper()
	file, err := h.fs.Open(name)
	require.NoError(t, err, name)
	defer file.Close()
	data, err := io.ReadAll(file)
	require.NoError(t, err, name)
	return string(data)
}

func linuxRequest() Request {
	return Request{Platform: platform.LinuxX64, Toolchain: 2019}
}

const zlibManifest = `
zlib:
  type: required
  fetch:
    url: https://zlib.net/zlib-1.3.1.tar.gz
  configure:
    cmake:
      - flags: ["-DZLIB_BUILD_EXAMPLES=OFF"]
      - flags: ["-DCMAKE_VERBOSE_MAKEFILE=ON"]
        stamp: false
  build:
    cmake: {}
  install: true
  copy:
    - [install/$platform/include, include]
    - [install/$platform/lib, lib/$platform]
  check:
    headers: [zlib.h]
    static_libraries: [[z]]
`

func TestFreshRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, zlibManifest)
	h.tools.installed["zlib"] = []string{"include/zlib.h", "include/zconf.h", "lib/libz.a"}

	summary, err := h.service.Run(context.Background(), linuxRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{"zlib"}, summary.Succeeded)
	assert.False(t, summary.Failed())
	assert.Equal(t, StateDone, summary.States["zlib"])
	assert.Equal(t, []string{"fetch-archive:zlib", "configure:zlib", "build:zlib", "install:zlib"}, h.tools.callList())

	for _, name := range []string{
		"deps-build/zlib/src/zlib/CMakeLists.txt",
		"deps-build/zlib/build/linux-x64/Makefile",
		"deps-build/zlib/install/linux-x64/lib/libz.a",
		"deps-build/zlib/stamp/.fetchinfo",
		"deps-build/zlib/stamp/linux-x64/.configureinfo",
		"deps/zlib/include/zlib.h",
		"deps/zlib/include/zconf.h",
		"deps/zlib/lib/linux-x64/libz.a",
		"deps/zlib/stamp/.fetchinfo",
		"deps/zlib/stamp/linux-x64/.configureinfo",
	} {
		assert.True(t, h.exists(t, name), "%s should exist", name)
	}
	assert.Equal(t, "https://zlib.net/zlib-1.3.1.tar.gz", h.read(t, "deps/zlib/stamp/.fetchinfo"))
	assert.Equal(t, "-DZLIB_BUILD_EXAMPLES=OFF", h.read(t, "deps/zlib/stamp/linux-x64/.configureinfo"))

	report, err := h.reports.Get(summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusSucceeded, report.Status)
	assert.Equal(t, []string{"zlib"}, report.Succeeded)
}

func TestSecondRunIsIdempotent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, zlibManifest)
	h.tools.installed["zlib"] = []string{"include/zlib.h", "lib/libz.a"}

	_, err := h.service.Run(context.Background(), linuxRequest())
	require.NoError(t, err)
	h.tools.reset()

	summary, err := h.service.Run(context.Background(), linuxRequest())
	require.NoError(t, err)
	assert.Empty(t, h.tools.callList(), "no stage may run for a satisfied dependency")
	assert.Equal(t, []string{"zlib"}, summary.Satisfied)
	assert.Empty(t, summary.Succeeded)
	assert.Equal(t, StateSatisfied, summary.States["zlib"])
}

func TestStampSensitivity(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		from    string
		to      string
		rebuild bool
	}{
		{"stamped flag changes", "-DZLIB_BUILD_EXAMPLES=OFF", "-DZLIB_BUILD_EXAMPLES=ON", true},
		{"transient flag changes", "-DCMAKE_VERBOSE_MAKEFILE=ON", "-DCMAKE_VERBOSE_MAKEFILE=OFF", false},
		{"archive changes", "zlib-1.3.1.tar.gz", "zlib-1.3.2.tar.gz", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, zlibManifest)
			h.tools.installed["zlib"] = []string{"include/zlib.h", "lib/libz.a"}
			_, err := h.service.Run(context.Background(), linuxRequest())
			require.NoError(t, err)

			changed, err := manifest.Parse([]byte(strings.Replace(zlibManifest, tc.from, tc.to, 1)))
			require.NoError(t, err)
			h.service.Dependencies = changed
			h.tools.reset()

			summary, err := h.service.Run(context.Background(), linuxRequest())
			require.NoError(t, err)
			if tc.rebuild {
				assert.Equal(t, []string{"zlib"}, summary.Succeeded)
				assert.Contains(t, h.tools.callList(), "configure:zlib")
			} else {
				assert.Equal(t, []string{"zlib"}, summary.Satisfied)
				assert.Empty(t, h.tools.callList())
			}
		})
	}
}

const isolationManifest = `
alpha:
  type: optional
  fetch: {git: https://example.com/alpha.git, tag: v1}
  configure: {cmake: [{flags: []}]}
  build: {cmake: {target: alpha}}
beta:
  type: required
  fetch: {git: https://example.com/beta.git, tag: v2}
  configure: {cmake: [{flags: ["-DBETA=1"]}]}
  build: {cmake: {}}
  install: true
  copy: [[install/linux-x64/include, include]]
  check: {headers: [beta.h]}
`

func TestFailureIsolation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, isolationManifest)
	h.tools.failures["build:alpha"] = errors.New("compiler crashed")
	h.tools.installed["beta"] = []string{"include/beta.h"}

	summary, err := h.service.Run(context.Background(), linuxRequest())
	var optionalErr *FailedOptionalDependenciesError
	require.ErrorAs(t, err, &optionalErr)
	assert.Equal(t, []string{"alpha"}, optionalErr.Dependencies)
	var requiredErr *UnsatisfiedRequiredDependencyError
	assert.False(t, errors.As(err, &requiredErr))

	assert.True(t, summary.Failed())
	assert.Equal(t, []string{"beta"}, summary.Succeeded)
	require.Len(t, summary.FailedOptional, 1)
	assert.Equal(t, "alpha", summary.FailedOptional[0].Dependency)
	assert.ErrorIs(t, summary.FailedOptional[0].Err, ErrBuild)
	assert.Equal(t, StageBuild, summary.FailedOptional[0].Stage())
	assert.Equal(t, StateFailed, summary.States["alpha"])
	assert.Equal(t, StateDone, summary.States["beta"])
	assert.True(t, h.exists(t, "deps/beta/include/beta.h"))
}

func TestRequiredFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, isolationManifest)
	h.tools.failures["configure:beta"] = errors.New("exit status 1")

	summary, err := h.service.Run(context.Background(), linuxRequest())

	var unsatisfied *UnsatisfiedRequiredDependencyError
	require.ErrorAs(t, err, &unsatisfied)
	assert.Equal(t, []string{"beta"}, unsatisfied.Dependencies)
	require.Len(t, summary.FailedRequired, 1)
	assert.ErrorIs(t, summary.FailedRequired[0].Err, ErrConfigure)
	assert.False(t, h.exists(t, "deps-build/beta/stamp/linux-x64/.configureinfo"))
	assert.True(t, h.exists(t, "deps-build/beta/stamp/.fetchinfo"))

	report, err := h.reports.Get(summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, report.Status)
	require.Len(t, report.FailedRequired, 1)
	assert.Equal(t, "configure", report.FailedRequired[0].Stage)

	var out strings.Builder
	require.NoError(t, summary.Write(&out))
	assert.Contains(t, out.String(), "REQUIRED dependencies failed")
	assert.Contains(t, out.String(), "exit status 1")
}

func TestPlatformFiltering(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
coreaudio:
  platforms: [osx]
  fetch: {git: https://example.com/ca.git, tag: v1}
neon:
  platforms: [android-arm64]
  fetch: {git: https://example.com/neon.git, tag: v1}
`)

	summary, err := h.service.Run(context.Background(), linuxRequest())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"coreaudio", "neon"}, summary.Skipped)
	assert.Empty(t, h.tools.callList())
	assert.False(t, h.exists(t, "deps-build/coreaudio"))

	request := Request{Platform: platform.AndroidARMv8, NDKPath: "/opt/ndk"}
	summary, err = h.service.Run(context.Background(), request)
	require.NoError(t, err)
	assert.Equal(t, []string{"coreaudio"}, summary.Skipped)
	assert.Equal(t, []string{"neon"}, summary.Succeeded)
}

func TestRequestFilters(t *testing.T) {
	t.Parallel()

	const text = `
protoc: {tool: true, fetch: {git: https://example.com/protoc.git, tag: v1}}
zlib: {type: required, fetch: {git: https://example.com/zlib.git, tag: v1}}
ipp: {type: extra, fetch: {git: https://example.com/ipp.git, tag: v1}}
`
	cases := []struct {
		name      string
		request   Request
		processed []string
	}{
		{"defaults skip extra", Request{}, []string{"protoc", "zlib"}},
		{"extra", Request{Extra: true}, []string{"ipp", "protoc", "zlib"}},
		{"tools only", Request{ToolsOnly: true}, []string{"protoc"}},
		{"libs only", Request{LibsOnly: true}, []string{"zlib"}},
		{"single dependency", Request{Dependency: "ZLIB"}, []string{"zlib"}},
		{"single extra still needs flag", Request{Dependency: "ipp"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, text)
			tc.request.Platform = platform.LinuxX64
			summary, err := h.service.Run(context.Background(), tc.request)
			require.NoError(t, err)
			processed := append([]string(nil), summary.Succeeded...)
			slices.Sort(processed)
			assert.Equal(t, tc.processed, processed)
		})
	}
}

func TestInvalidRequests(t *testing.T) {
	t.Parallel()

	h := newHarness(t, zlibManifest)
	cases := map[string]Request{
		"unknown platform":    {Platform: "beos"},
		"android without ndk": {Platform: platform.AndroidARMv7},
		"conflicting filters": {Platform: platform.LinuxX64, ToolsOnly: true, LibsOnly: true},
		"unknown dependency":  {Platform: platform.LinuxX64, Dependency: "openssl"},
	}
	for name, request := range cases {
		_, err := h.service.Run(context.Background(), request)
		assert.Error(t, err, name)
	}

	_, err := h.service.Run(context.Background(), Request{Platform: platform.AndroidX64})
	assert.ErrorIs(t, err, ErrMissingNDK)
}

func TestToolDependenciesUseHostRelease(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
protoc:
  tool: true
  fetch: {git: https://example.com/protoc.git, tag: v1}
  build: {custom: {commands: [[make, "CONFIG=$config", "OUT=$build"]]}}
zlib:
  fetch: {git: https://example.com/zlib.git, tag: v1}
  build: {custom: {commands: [[make, "CONFIG=$config"]]}}
`)
	request := Request{Platform: platform.AndroidARMv7, NDKPath: "/opt/ndk", Debug: true}
	_, err := h.service.Run(context.Background(), request)
	require.NoError(t, err)

	protoc := h.tools.plans["protoc"]
	assert.Equal(t, platform.LinuxX64, protoc.Context.Platform)
	assert.False(t, protoc.Context.Debug)
	build := protoc.Spec.Build.(manifest.CustomBuild)
	assert.Equal(t, []string{"make", "CONFIG=release", "OUT=" + h.service.Layout.Build("protoc", platform.LinuxX64)}, build.Commands[0])

	zlib := h.tools.plans["zlib"]
	assert.Equal(t, platform.AndroidARMv7, zlib.Context.Platform)
	assert.True(t, zlib.Context.Debug)
	assert.Equal(t, "CONFIG=debug", zlib.Spec.Build.(manifest.CustomBuild).Commands[0][1])
}

func TestLib64Fallback(t *testing.T) {
	t.Parallel()

	h := newHarness(t, zlibManifest)
	h.tools.installed["zlib"] = []string{"include/zlib.h", "lib64/libz.a"}

	_, err := h.service.Run(context.Background(), linuxRequest())
	require.NoError(t, err)
	assert.Equal(t, "lib64/libz.a", h.read(t, "deps/zlib/lib/linux-x64/libz.a"))
}

func TestFailFetch(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
ipp:
  type: required
  fetch: {fail: "download Intel IPP from intel.com"}
  check: {headers: [ipp.h]}
`)
	summary, err := h.service.Run(context.Background(), linuxRequest())
	require.Error(t, err)
	require.Len(t, summary.FailedRequired, 1)
	assert.ErrorIs(t, summary.FailedRequired[0].Err, ErrFetch)
	assert.Contains(t, summary.FailedRequired[0].Err.Error(), "download Intel IPP from intel.com")

	// Placing the files manually satisfies it without stamps.
	require.NoError(t, util.WriteFile(h.fs, "deps/ipp/include/ipp.h", nil, 0o644))
	summary, err = h.service.Run(context.Background(), linuxRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"ipp"}, summary.Satisfied)
}

func TestArchiveWithoutPlatformEntry(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
mysofa:
  fetch:
    url: {windows-x64: "https://example.com/mysofa-win.zip"}
`)
	summary, err := h.service.Run(context.Background(), linuxRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"mysofa"}, summary.Succeeded)
	assert.Empty(t, h.tools.callList())
	assert.False(t, h.exists(t, "deps-build/mysofa/stamp/.fetchinfo"))
}

func TestToolResolutionAbortsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
a:
  fetch: {git: https://example.com/a.git, tag: v1}
  build: {custom: {commands: [["$msbuild:2019", a.sln]]}}
b:
  fetch: {git: https://example.com/b.git, tag: v1}
`)
	h.service.Prober = failingProber{}

	summary, err := h.service.Run(context.Background(), linuxRequest())
	var resolutionErr *placeholder.ToolResolutionError
	require.ErrorAs(t, err, &resolutionErr)
	assert.Empty(t, h.tools.callList())
	assert.Equal(t, StatePending, summary.States["b"])
}

func TestCancellationStopsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, isolationManifest)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := h.service.Run(ctx, linuxRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, summary.States["alpha"])
	assert.Equal(t, StatePending, summary.States["beta"])

	report, err := h.reports.Get(summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCancelled, report.Status)
}

func TestDependenciesRunInTopologicalOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, `
app: {depends: [b, a], fetch: {git: https://example.com/app.git, tag: v1}}
b: {depends: [a], fetch: {git: https://example.com/b.git, tag: v1}}
a: {fetch: {git: https://example.com/a.git, tag: v1}}
`)
	summary, err := h.service.Run(context.Background(), linuxRequest())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "app"}, summary.Succeeded)
	assert.Equal(t, []string{"fetch-git:a", "fetch-git:b", "fetch-git:app"}, h.tools.callList())
}

func TestList(t *testing.T) {
	t.Parallel()

	h := newHarness(t, zlibManifest+`
coreaudio:
  platforms: [osx]
  fetch: {git: https://example.com/ca.git, tag: v1}
`)
	h.tools.installed["zlib"] = []string{"include/zlib.h", "lib/libz.a"}

	entries, err := h.service.List(context.Background(), linuxRequest())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, StateSkipped, entries[0].State)
	assert.Equal(t, StatePending, entries[1].State)

	_, err = h.service.Run(context.Background(), linuxRequest())
	require.NoError(t, err)

	entries, err = h.service.List(context.Background(), linuxRequest())
	require.NoError(t, err)
	assert.Equal(t, StateSatisfied, entries[1].State)
	assert.Equal(t, manifest.Required, entries[1].Type)
}

func TestStageErrorMatchesKind(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("wrapped: %w", context.DeadlineExceeded)
	err := stageError(StageInstall, "zlib", cause)
	assert.ErrorIs(t, err, ErrInstall)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrBuild)
	assert.Equal(t, "zlib install: wrapped: context deadline exceeded", err.Error())
}
