package platform

import (
	"fmt"
	"runtime"
	"slices"
	"sort"
	"strings"
)

// Platform identifies a build target as used in manifests and on-disk layouts.
type Platform string

const (
	WindowsX86   Platform = "windows-x86"
	WindowsX64   Platform = "windows-x64"
	WindowsARM64 Platform = "windows-arm64"
	LinuxX86     Platform = "linux-x86"
	LinuxX64     Platform = "linux-x64"
	LinuxARM64   Platform = "linux-arm64"
	OSX          Platform = "osx"
	AndroidARMv7 Platform = "android-armv7"
	AndroidARMv8 Platform = "android-armv8"
	AndroidX86   Platform = "android-x86"
	AndroidX64   Platform = "android-x64"
	IOS          Platform = "ios"
	WASM         Platform = "wasm"
)

// Operating systems accepted on the command line.
var OperatingSystems = []string{"windows", "osx", "linux", "android", "ios", "wasm"}

// Architectures accepted on the command line.
var Architectures = []string{"x86", "x64", "armv7", "arm64"}

// Supported returns the full list of supported platforms.
func Supported() []Platform {
	return []Platform{
		WindowsX86,
		WindowsX64,
		WindowsARM64,
		LinuxX86,
		LinuxX64,
		LinuxARM64,
		OSX,
		AndroidARMv7,
		AndroidARMv8,
		AndroidX86,
		AndroidX64,
		IOS,
		WASM,
	}
}

// IsValid reports whether p is a supported platform.
func (p Platform) IsValid() bool {
	return slices.Contains(Supported(), p)
}

func (p Platform) String() string {
	return string(p)
}

// OS returns the operating system part of the identifier.
func (p Platform) OS() string {
	os, _, _ := strings.Cut(string(p), "-")
	return os
}

func (p Platform) IsWindows() bool { return p.OS() == "windows" }

func (p Platform) IsAndroid() bool { return p.OS() == "android" }

// IsApple reports whether p targets osx or ios.
func (p Platform) IsApple() bool { return p == OSX || p == IOS }

// Aliases returns the names under which p may appear in a manifest
// platform list. android-armv8 is listed as android-arm64 by most manifests.
func (p Platform) Aliases() []string {
	if p == AndroidARMv8 {
		return []string{"android-arm64"}
	}
	return []string{string(p)}
}

// In reports whether p is present in a manifest platform list. An empty list
// matches every platform.
func (p Platform) In(platforms []string) bool {
	if len(platforms) == 0 {
		return true
	}
	for _, alias := range p.Aliases() {
		if slices.Contains(platforms, alias) {
			return true
		}
	}
	return false
}

// Parse returns the Platform for the provided identifier or an error if unsupported.
func Parse(value string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(value)))
	if p == "android-arm64" {
		p = AndroidARMv8
	}
	if !p.IsValid() {
		return "", fmt.Errorf("unsupported platform %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
	}
	return p, nil
}

// MustParse is like Parse but panics on error.
func MustParse(value string) Platform {
	p, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return p
}

// Target combines an operating system and an architecture selected on the
// command line into a platform identifier.
func Target(osName, architecture string) (Platform, error) {
	osName = strings.ToLower(strings.TrimSpace(osName))
	architecture = strings.ToLower(strings.TrimSpace(architecture))

	if !slices.Contains(OperatingSystems, osName) {
		return "", fmt.Errorf("unsupported operating system %q (supported: %s)", osName, strings.Join(OperatingSystems, ", "))
	}

	switch osName {
	case "osx", "ios", "wasm":
		return Platform(osName), nil
	}

	if !slices.Contains(Architectures, architecture) {
		return "", fmt.Errorf("unsupported architecture %q (supported: %s)", architecture, strings.Join(Architectures, ", "))
	}

	if osName == "android" && architecture == "arm64" {
		return AndroidARMv8, nil
	}
	return Parse(osName + "-" + architecture)
}

// HostOS returns the command-line operating system name of the running host.
func HostOS() string {
	switch runtime.GOOS {
	case "windows":
		return "windows"
	case "darwin":
		return "osx"
	default:
		return "linux"
	}
}

// Host returns the platform tool dependencies are built for.
func Host() Platform {
	switch HostOS() {
	case "windows":
		return WindowsX64
	case "osx":
		return OSX
	default:
		return LinuxX64
	}
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, p := range all {
		out = append(out, p.String())
	}
	sort.Strings(out)
	return out
}
