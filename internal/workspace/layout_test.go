package workspace

import (
	"path/filepath"
	"testing"

	"github.com/cochaviz/depfetch/platform"
)

func TestLayoutPaths(t *testing.T) {
	t.Parallel()

	root := filepath.Join(string(filepath.Separator), "sdk")
	l := New(root)

	cases := map[string]string{
		l.Src("zlib"):                        filepath.Join(root, "deps-build", "zlib", "src"),
		l.SrcRepo("zlib"):                    filepath.Join(root, "deps-build", "zlib", "src", "zlib"),
		l.Build("zlib", platform.LinuxX64):   filepath.Join(root, "deps-build", "zlib", "build", "linux-x64"),
		l.Install("zlib", platform.LinuxX64): filepath.Join(root, "deps-build", "zlib", "install", "linux-x64"),
		l.Output("zlib"):                     filepath.Join(root, "deps", "zlib"),
		l.Patch("zlib.patch"):                filepath.Join(root, "build", "zlib.patch"),
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("path = %q, want %q", got, want)
		}
	}

	if got := l.Rel(l.Install("zlib", platform.OSX)); got != "deps-build/zlib/install/osx" {
		t.Fatalf("Rel() = %q", got)
	}
}

func TestStampPaths(t *testing.T) {
	t.Parallel()

	fetch, configure := StampPaths(OutputDirName, "zlib", platform.WindowsX64)
	if fetch != "deps/zlib/stamp/.fetchinfo" {
		t.Fatalf("fetch stamp = %q", fetch)
	}
	if configure != "deps/zlib/stamp/windows-x64/.configureinfo" {
		t.Fatalf("configure stamp = %q", configure)
	}
}
