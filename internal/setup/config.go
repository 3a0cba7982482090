package setup

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const appName = "depfetch"

// Environment variables read by ApplyEnv.
const (
	EnvNDK       = "ANDROID_NDK"
	EnvEMSDK     = "EMSDK"
	EnvManifest  = "DEPFETCH_MANIFEST"
	EnvToolchain = "DEPFETCH_TOOLCHAIN"
	EnvSharedCRT = "DEPFETCH_SHARED_CRT"
	EnvLogLevel  = "DEPFETCH_LOG_LEVEL"
)

// Settings are the user adjustable defaults of the command line.
type Settings struct {
	Manifest  string `yaml:"manifest"`
	Toolchain string `yaml:"toolchain"`
	NDK       string `yaml:"ndk"`
	EMSDK     string `yaml:"emsdk"`
	SharedCRT bool   `yaml:"shared_crt"`
	LogLevel  string `yaml:"log_level"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Manifest:  filepath.Join("build", "dependencies.json"),
		Toolchain: "vs2019",
		LogLevel:  "info",
	}
}

// ConfigPath returns $XDG_CONFIG_HOME/depfetch/config.yaml.
func ConfigPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}

// Load returns the defaults overlaid with the settings file at path and the
// process environment. A missing file is not an error.
func Load(path string) (Settings, error) {
	settings := Defaults()
	if err := settings.ApplyFile(path); err != nil {
		return Settings{}, err
	}
	if err := settings.ApplyEnv(os.LookupEnv); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// ApplyFile overlays the non-empty values of a YAML settings file.
func (s *Settings) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		getLogger().Debug("no settings file", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read settings %s: %w", path, err)
	}

	var file Settings
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse settings %s: %w", path, err)
	}
	s.merge(file)
	getLogger().Debug("loaded settings", "path", path)
	return nil
}

// ApplyEnv overlays the variables found through lookup.
func (s *Settings) ApplyEnv(lookup func(string) (string, bool)) error {
	var env Settings
	env.Manifest, _ = lookup(EnvManifest)
	env.Toolchain, _ = lookup(EnvToolchain)
	env.NDK, _ = lookup(EnvNDK)
	env.EMSDK, _ = lookup(EnvEMSDK)
	env.LogLevel, _ = lookup(EnvLogLevel)
	if value, ok := lookup(EnvSharedCRT); ok && value != "" {
		shared, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSharedCRT, err)
		}
		env.SharedCRT = shared
	}
	s.merge(env)
	return nil
}

func (s *Settings) merge(other Settings) {
	set := func(dst *string, value string) {
		if value != "" {
			*dst = value
		}
	}
	set(&s.Manifest, other.Manifest)
	set(&s.Toolchain, other.Toolchain)
	set(&s.NDK, other.NDK)
	set(&s.EMSDK, other.EMSDK)
	set(&s.LogLevel, other.LogLevel)
	s.SharedCRT = s.SharedCRT || other.SharedCRT
}
