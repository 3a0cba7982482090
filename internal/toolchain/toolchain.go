// Package toolchain maps a target platform and toolchain selection to build
// tool invocation parameters.
package toolchain

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/cochaviz/depfetch/platform"
)

// SupportedVisualStudioYears lists the accepted toolchain selections.
var SupportedVisualStudioYears = []int{2013, 2015, 2017, 2019, 2022}

// UnsupportedPlatformError is returned when a platform has no build tool
// parameters.
type UnsupportedPlatformError struct {
	Platform platform.Platform
}

func (e *UnsupportedPlatformError) Error() string {
	return fmt.Sprintf("unsupported platform %q", string(e.Platform))
}

// UnsupportedToolchainError is returned for an unknown Visual Studio year.
type UnsupportedToolchainError struct {
	Toolchain string
}

func (e *UnsupportedToolchainError) Error() string {
	return fmt.Sprintf("unsupported toolchain %q", e.Toolchain)
}

// ParseToolchain converts a selection such as "vs2019" into its year.
func ParseToolchain(value string) (int, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	year, err := strconv.Atoi(strings.TrimPrefix(normalized, "vs"))
	if err != nil || !slices.Contains(SupportedVisualStudioYears, year) {
		return 0, &UnsupportedToolchainError{Toolchain: value}
	}
	return year, nil
}

// GeneratorName returns the build tool generator for a Visual Studio year.
func GeneratorName(year int) (string, bool) {
	switch year {
	case 2013:
		return "Visual Studio 12 2013", true
	case 2015:
		return "Visual Studio 14 2015", true
	case 2017:
		return "Visual Studio 15 2017", true
	case 2019:
		return "Visual Studio 16 2019", true
	case 2022:
		return "Visual Studio 17 2022", true
	default:
		return "unknown", false
	}
}

// IsMultiConfig reports whether the generator used for p selects the build
// configuration at build time rather than at generation time.
func IsMultiConfig(p platform.Platform) bool {
	return p.IsWindows() || p.IsApple()
}

// ConfigName returns the build configuration name.
func ConfigName(debug bool) string {
	if debug {
		return "Debug"
	}
	return "Release"
}

// Params selects the target and the locations of external SDKs.
type Params struct {
	Platform  platform.Platform
	Host      platform.Platform
	Toolchain int
	Debug     bool
	SharedCRT bool
	NDKPath   string
	EMSDKPath string
	// ToolchainDir holds the toolchain_<target>.cmake files.
	ToolchainDir string
}

// ResolveBuildToolArgs returns the project generation arguments for the
// target. The result depends only on p.
func ResolveBuildToolArgs(p Params) ([]string, error) {
	buildType := "-DCMAKE_BUILD_TYPE=" + ConfigName(p.Debug)
	pic := "-DCMAKE_POSITION_INDEPENDENT_CODE=TRUE"

	switch p.Platform {
	case platform.WindowsX86, platform.WindowsX64, platform.WindowsARM64:
		generator, ok := GeneratorName(p.Toolchain)
		if !ok {
			return nil, &UnsupportedToolchainError{Toolchain: fmt.Sprintf("vs%d", p.Toolchain)}
		}
		args := []string{"-G", generator, "-A", windowsArchitecture(p.Platform)}
		return append(args, crtFlags(p.SharedCRT)...), nil

	case platform.LinuxX86:
		return []string{
			"-G", "Unix Makefiles",
			"-DCMAKE_C_FLAGS=-m32", "-DCMAKE_CXX_FLAGS=-m32",
			"-DCMAKE_SHARED_LINKER_FLAGS=-m32", "-DCMAKE_EXE_LINKER_FLAGS=-m32",
			buildType, pic,
		}, nil

	case platform.LinuxX64:
		return []string{"-G", "Unix Makefiles", buildType, pic}, nil

	case platform.LinuxARM64:
		return []string{
			"-G", "Unix Makefiles",
			"-DCMAKE_TOOLCHAIN_FILE=" + p.toolchainFile("linux_arm64"),
			buildType, pic,
		}, nil

	case platform.OSX:
		return []string{
			"-G", "Xcode",
			"-DCMAKE_OSX_ARCHITECTURES=x86_64;arm64",
			"-DCMAKE_POLICY_VERSION_MINIMUM=3.5",
		}, nil

	case platform.AndroidARMv7, platform.AndroidARMv8, platform.AndroidX86, platform.AndroidX64:
		args := []string{
			"-G", "Unix Makefiles",
			"-DCMAKE_TOOLCHAIN_FILE=" + p.toolchainFile(strings.ReplaceAll(string(p.Platform), "-", "_")),
			"-DCMAKE_ANDROID_NDK=" + p.NDKPath,
			"-DCMAKE_MAKE_PROGRAM=" + NDKMakeProgram(p.NDKPath, p.Host),
		}
		if p.Platform == platform.AndroidX64 {
			args = append(args, "-DCMAKE_FIND_LIBRARY_CUSTOM_LIB_SUFFIX=64")
		}
		return append(args, buildType, pic), nil

	case platform.IOS:
		return []string{
			"-G", "Xcode",
			"-DCMAKE_TOOLCHAIN_FILE=" + p.toolchainFile("ios"),
		}, nil

	case platform.WASM:
		return []string{
			"-G", "Unix Makefiles",
			"-DCMAKE_TOOLCHAIN_FILE=" + filepath.Join(p.EMSDKPath, "upstream", "emscripten", "cmake", "Modules", "Platform", "Emscripten.cmake"),
			buildType,
		}, nil

	default:
		return nil, &UnsupportedPlatformError{Platform: p.Platform}
	}
}

// NDKMakeProgram returns the make executable bundled with the Android NDK for
// the host.
func NDKMakeProgram(ndkPath string, host platform.Platform) string {
	switch host.OS() {
	case "windows":
		return filepath.Join(ndkPath, "prebuilt", "windows-x86_64", "bin", "make.exe")
	case "osx":
		return filepath.Join(ndkPath, "prebuilt", "darwin-x86_64", "bin", "make")
	default:
		return filepath.Join(ndkPath, "prebuilt", "linux-x86_64", "bin", "make")
	}
}

func (p Params) toolchainFile(suffix string) string {
	return filepath.Join(p.ToolchainDir, "toolchain_"+suffix+".cmake")
}

func windowsArchitecture(p platform.Platform) string {
	switch p {
	case platform.WindowsX86:
		return "Win32"
	case platform.WindowsARM64:
		return "ARM64"
	default:
		return "x64"
	}
}

func crtFlags(shared bool) []string {
	release, debug := "/MT", "/MTd"
	if shared {
		release, debug = "/MD", "/MDd"
	}
	return []string{
		"-DCMAKE_C_FLAGS_RELEASE=" + release, "-DCMAKE_CXX_FLAGS_RELEASE=" + release,
		"-DCMAKE_C_FLAGS_DEBUG=" + debug, "-DCMAKE_CXX_FLAGS_DEBUG=" + debug,
	}
}

// Environment returns the variables every build command of p runs with.
// pathList is the current PATH; the NDK's prebuilt tools are appended to it
// for Android targets.
func Environment(p Params, pathList string) map[string]string {
	switch {
	case p.Platform.IsAndroid():
		ndkBin := filepath.Dir(NDKMakeProgram(p.NDKPath, p.Host))
		if pathList != "" {
			ndkBin = pathList + string(filepath.ListSeparator) + ndkBin
		}
		return map[string]string{"ANDROID_NDK": p.NDKPath, "PATH": ndkBin}
	case p.Platform == platform.IOS:
		return map[string]string{"SDKROOT": ""}
	default:
		return nil
	}
}
