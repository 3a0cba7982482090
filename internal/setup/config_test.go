package setup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

func TestApplyFileOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("toolchain: vs2022\nndk: /opt/ndk\nshared_crt: true\n"), 0o644))

	settings := Defaults()
	require.NoError(t, settings.ApplyFile(path))

	assert.Equal(t, "vs2022", settings.Toolchain)
	assert.Equal(t, "/opt/ndk", settings.NDK)
	assert.True(t, settings.SharedCRT)
	assert.Equal(t, Defaults().Manifest, settings.Manifest)
	assert.Equal(t, "info", settings.LogLevel)
}

func TestApplyFileMissingIsIgnored(t *testing.T) {
	t.Parallel()

	settings := Defaults()
	require.NoError(t, settings.ApplyFile(filepath.Join(t.TempDir(), "absent.yaml")))
	assert.Equal(t, Defaults(), settings)
}

func TestApplyFileRejectsUnknownKeys(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("toolchian: vs2022\n"), 0o644))

	settings := Defaults()
	require.Error(t, settings.ApplyFile(path))
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ndk: /from/file\nlog_level: debug\n"), 0o644))

	settings := Defaults()
	require.NoError(t, settings.ApplyFile(path))
	require.NoError(t, settings.ApplyEnv(lookupFrom(map[string]string{
		EnvNDK:       "/from/env",
		EnvEMSDK:     "/emsdk",
		EnvSharedCRT: "1",
		EnvLogLevel:  "",
	})))

	assert.Equal(t, "/from/env", settings.NDK)
	assert.Equal(t, "/emsdk", settings.EMSDK)
	assert.Equal(t, "debug", settings.LogLevel)
	assert.True(t, settings.SharedCRT)
}

func TestApplyEnvRejectsInvalidBool(t *testing.T) {
	t.Parallel()

	settings := Defaults()
	require.Error(t, settings.ApplyEnv(lookupFrom(map[string]string{EnvSharedCRT: "perhaps"})))
}

func TestConfigPathUsesApplicationDirectory(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "config.yaml", filepath.Base(ConfigPath()))
	assert.Equal(t, appName, filepath.Base(filepath.Dir(ConfigPath())))
}
