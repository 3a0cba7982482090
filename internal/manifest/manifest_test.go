package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cochaviz/depfetch/platform"
)

const sampleManifest = `{
  "zlib": {
    "type": "required",
    "fetch": {"url": "https://zlib.net/zlib-1.3.1.tar.gz", "prefix": {"linux-x64": "zlib-1.3.1"}},
    "configure": {"cmake": [
      {"flags": ["-DZLIB_BUILD_EXAMPLES=OFF"]},
      {"flags": ["-DCMAKE_VERBOSE_MAKEFILE=ON"], "stamp": false},
      {"flags": ["-DZ_SOLO=ON"], "platforms": ["osx"]}
    ]},
    "build": {"cmake": {"target": "zlibstatic"}},
    "install": true,
    "copy": [["install/$platform/include", "include"], ["install/$platform/lib", "lib/$platform"]],
    "check": {"headers": ["zlib.h"], "static_libraries": [["z", "zlibstatic"]]}
  },
  "flatbuffers": {
    "tool": true,
    "depends": ["zlib"],
    "fetch": {"git": "https://github.com/google/flatbuffers.git", "tag": "v23.5.26"},
    "configure": {"custom": {"commands": [["sh", "configure"]], "env": {"CC": "clang"}, "stamp": ["cc=clang"]}},
    "build": {"custom": {"commands": [["make", "-j8"]]}}
  },
  "ipp": {
    "type": "extra",
    "platforms": ["windows-x64", "linux-x64"],
    "fetch": {"fail": "install Intel IPP manually"}
  },
  "mysofa": {
    "fetch": {"url": {"windows-x64": "https://example.com/w.zip", "linux-x64": "https://example.com/l.tar.gz"}}
  }
}`

func TestParseSampleManifest(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)
	assert.Equal(t, []string{"flatbuffers", "ipp", "mysofa", "zlib"}, m.Names())

	zlib, ok := m.Get("zlib")
	require.True(t, ok)
	assert.Equal(t, Required, zlib.Type)
	assert.True(t, zlib.Install)
	assert.Equal(t, ArchiveSource{
		URL:    "https://zlib.net/zlib-1.3.1.tar.gz",
		Prefix: map[string]string{"linux-x64": "zlib-1.3.1"},
	}, zlib.Fetch)
	assert.Equal(t, CMakeBuild{Target: "zlibstatic"}, zlib.Build)
	require.Len(t, zlib.Copy, 2)
	assert.Equal(t, CopyItem{Source: "install/$platform/lib", Destination: "lib/$platform"}, zlib.Copy[1])
	assert.Equal(t, [][]string{{"z", "zlibstatic"}}, zlib.Check.StaticLibraries)

	configure, ok := zlib.Configure.(CMakeConfigure)
	require.True(t, ok)
	require.Len(t, configure.Layers, 3)
	assert.True(t, configure.Layers[0].Stamp, "stamp defaults to true")
	assert.False(t, configure.Layers[1].Stamp)

	flatbuffers, _ := m.Get("flatbuffers")
	assert.Equal(t, Optional, flatbuffers.Type, "type defaults to optional")
	assert.False(t, flatbuffers.Install, "install defaults to false")
	assert.True(t, flatbuffers.Tool)
	assert.Equal(t, GitSource{URL: "https://github.com/google/flatbuffers.git", Tag: "v23.5.26"}, flatbuffers.Fetch)

	ipp, _ := m.Get("ipp")
	assert.Equal(t, FailSource{Reason: "install Intel IPP manually"}, ipp.Fetch)
	assert.Nil(t, ipp.Configure)
	assert.Nil(t, ipp.Build)

	mysofa, _ := m.Get("mysofa")
	archive := mysofa.Fetch.(ArchiveSource)
	assert.Equal(t, "https://example.com/l.tar.gz", archive.URLFor(platform.LinuxX64))
	assert.Empty(t, archive.URLFor(platform.OSX))
}

func TestParseRejectsInvalidManifests(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"unparsable":        `{"zlib": [`,
		"empty":             ``,
		"unknown key":       `{"zlib": {"fetchh": {}}}`,
		"unknown type":      `{"zlib": {"type": "mandatory"}}`,
		"git without tag":   `{"zlib": {"fetch": {"git": "https://x"}}}`,
		"git and url":       `{"zlib": {"fetch": {"git": "https://x", "tag": "v1", "url": "https://y"}}}`,
		"patch on url":      `{"zlib": {"fetch": {"url": "https://y", "patch": "z.patch"}}}`,
		"cmake and custom":  `{"zlib": {"configure": {"cmake": [{"flags": ["-DX=1"]}], "custom": {"commands": [["a"]]}}}}`,
		"empty command":     `{"zlib": {"build": {"custom": {"commands": [[]]}}}}`,
		"bad copy pair":     `{"zlib": {"copy": [["only-source"]]}}`,
		"dangling depends":  `{"zlib": {"depends": ["nope"]}}`,
		"url is a sequence": `{"zlib": {"fetch": {"url": ["a", "b"]}}}`,
	}

	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := Parse([]byte(doc))
			require.Error(t, err)

			var manifestErr *ManifestError
			assert.True(t, errors.As(err, &manifestErr), "error %v is not a *ManifestError", err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dependencies.json")
	_, err := Load(path)
	require.Error(t, err)

	var manifestErr *ManifestError
	require.True(t, errors.As(err, &manifestErr))
	assert.Equal(t, path, manifestErr.Source)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadAcceptsYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dependencies.yaml")
	doc := strings.Join([]string{
		"zlib:",
		"  type: required",
		"  fetch:",
		"    git: https://github.com/madler/zlib.git",
		"    tag: v1.3.1",
		"  install: true",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, m.Source)
	assert.Equal(t, 1, m.Len())
}

func TestStampParams(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)

	zlib, _ := m.Get("zlib")
	assert.Equal(t, []string{"https://zlib.net/zlib-1.3.1.tar.gz"}, zlib.FetchStampParams())

	params, ok := zlib.ConfigureStampParams(platform.LinuxX64)
	require.True(t, ok)
	assert.Equal(t, []string{"-DZLIB_BUILD_EXAMPLES=OFF"}, params)

	params, _ = zlib.ConfigureStampParams(platform.OSX)
	assert.Equal(t, []string{"-DZLIB_BUILD_EXAMPLES=OFF", "-DZ_SOLO=ON"}, params)

	mysofa, _ := m.Get("mysofa")
	assert.Equal(t, []string{"https://example.com/l.tar.gz", "https://example.com/w.zip"}, mysofa.FetchStampParams(),
		"platform urls are ordered by platform name")
	_, ok = mysofa.ConfigureStampParams(platform.LinuxX64)
	assert.False(t, ok)

	flatbuffers, _ := m.Get("flatbuffers")
	assert.Equal(t, []string{"https://github.com/google/flatbuffers.git", "v23.5.26"}, flatbuffers.FetchStampParams())
	params, _ = flatbuffers.ConfigureStampParams(platform.LinuxX64)
	assert.Equal(t, []string{"cc=clang"}, params)
}

func TestMapStrings(t *testing.T) {
	t.Parallel()

	m, err := Parse([]byte(sampleManifest))
	require.NoError(t, err)
	zlib, _ := m.Get("zlib")

	mapped, err := zlib.MapStrings(func(s string) (string, error) {
		return strings.ReplaceAll(s, "$platform", "linux-x64"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "install/linux-x64/lib", mapped.Copy[1].Source)
	assert.Equal(t, "install/$platform/lib", zlib.Copy[1].Source, "original spec must not change")

	boom := errors.New("boom")
	_, err = zlib.MapStrings(func(string) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}
