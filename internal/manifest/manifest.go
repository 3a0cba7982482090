// Package manifest loads the declarative dependency manifest.
//
// A manifest is a YAML (or JSON) document keyed by dependency name. Fetch,
// configure and build sections are tagged variants; combinations that do not
// describe exactly one variant are rejected when the manifest is loaded.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest is an immutable collection of dependency specifications.
type Manifest struct {
	Source       string
	dependencies map[string]DependencySpec
}

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &ManifestError{Source: path, Message: "file does not exist", Err: err}
		}
		return nil, &ManifestError{Source: path, Message: "read failed", Err: err}
	}

	m, err := Parse(data)
	if err != nil {
		var manifestErr *ManifestError
		if errors.As(err, &manifestErr) {
			manifestErr.Source = path
		}
		return nil, err
	}
	m.Source = path
	return m, nil
}

// Parse decodes and validates a manifest document.
func Parse(data []byte) (*Manifest, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	raw := map[string]rawDependency{}
	if err := decoder.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ManifestError{Message: "document is empty"}
		}
		return nil, &ManifestError{Message: "unparsable document", Err: err}
	}

	m := &Manifest{dependencies: make(map[string]DependencySpec, len(raw))}
	for name, entry := range raw {
		if strings.TrimSpace(name) == "" {
			return nil, &ManifestError{Message: "dependency name must not be empty"}
		}
		spec, err := entry.toSpec(name)
		if err != nil {
			return nil, err
		}
		m.dependencies[name] = spec
	}

	for _, name := range m.Names() {
		for _, dependency := range m.dependencies[name].Depends {
			if _, ok := m.dependencies[dependency]; !ok {
				return nil, invalidf(name, "depends on unknown dependency %q", dependency)
			}
		}
	}

	return m, nil
}

// Get returns the specification for name.
func (m *Manifest) Get(name string) (DependencySpec, bool) {
	spec, ok := m.dependencies[name]
	return spec, ok
}

// Names returns every dependency name in lexicographic order.
func (m *Manifest) Names() []string {
	names := make([]string, 0, len(m.dependencies))
	for name := range m.dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of dependencies.
func (m *Manifest) Len() int {
	return len(m.dependencies)
}

// Graph returns the depends edges of every dependency.
func (m *Manifest) Graph() map[string][]string {
	edges := make(map[string][]string, len(m.dependencies))
	for name, spec := range m.dependencies {
		edges[name] = append([]string(nil), spec.Depends...)
	}
	return edges
}

type rawDependency struct {
	Type             string            `yaml:"type"`
	Tool             bool              `yaml:"tool"`
	Platforms        []string          `yaml:"platforms"`
	Depends          []string          `yaml:"depends"`
	Fetch            *rawFetch         `yaml:"fetch"`
	Configure        *rawConfigure     `yaml:"configure"`
	Build            *rawBuild         `yaml:"build"`
	Install          bool              `yaml:"install"`
	Copy             [][]string        `yaml:"copy"`
	Check            *rawCheck         `yaml:"check"`
	AltPlatformNames map[string]string `yaml:"alt_platform_names"`
}

type rawFetch struct {
	Git    string            `yaml:"git"`
	Tag    string            `yaml:"tag"`
	Patch  string            `yaml:"patch"`
	URL    yaml.Node         `yaml:"url"`
	Prefix map[string]string `yaml:"prefix"`
	Fail   *string           `yaml:"fail"`
}

type rawConfigure struct {
	CMake  []rawLayer       `yaml:"cmake"`
	Custom *rawCustomConfig `yaml:"custom"`
}

type rawLayer struct {
	Flags     []string `yaml:"flags"`
	Platforms []string `yaml:"platforms"`
	Stamp     *bool    `yaml:"stamp"`
}

type rawCustomConfig struct {
	Commands         [][]string        `yaml:"commands"`
	Env              map[string]string `yaml:"env"`
	WorkingDirectory string            `yaml:"working_directory"`
	Stamp            []string          `yaml:"stamp"`
}

type rawBuild struct {
	CMake  *rawCMakeBuild  `yaml:"cmake"`
	Custom *rawCustomBuild `yaml:"custom"`
}

type rawCMakeBuild struct {
	Target string `yaml:"target"`
}

type rawCustomBuild struct {
	Commands         [][]string `yaml:"commands"`
	WorkingDirectory string     `yaml:"working_directory"`
}

type rawCheck struct {
	Headers         []string   `yaml:"headers"`
	StaticLibraries [][]string `yaml:"static_libraries"`
	SharedLibraries [][]string `yaml:"shared_libraries"`
	Programs        [][]string `yaml:"programs"`
}

func (r rawDependency) toSpec(name string) (DependencySpec, error) {
	spec := DependencySpec{
		Name:             name,
		Tool:             r.Tool,
		Platforms:        r.Platforms,
		Depends:          r.Depends,
		Install:          r.Install,
		AltPlatformNames: r.AltPlatformNames,
	}

	switch DependencyType(r.Type) {
	case "":
		spec.Type = Optional
	case Required, Optional, Extra:
		spec.Type = DependencyType(r.Type)
	default:
		return DependencySpec{}, invalidf(name, "unknown type %q", r.Type)
	}

	fetch, err := r.Fetch.toSource(name)
	if err != nil {
		return DependencySpec{}, err
	}
	spec.Fetch = fetch

	configure, err := r.Configure.toRecipe(name)
	if err != nil {
		return DependencySpec{}, err
	}
	spec.Configure = configure

	build, err := r.Build.toRecipe(name)
	if err != nil {
		return DependencySpec{}, err
	}
	spec.Build = build

	for i, item := range r.Copy {
		if len(item) != 2 {
			return DependencySpec{}, invalidf(name, "copy item %d must be a [source, destination] pair", i)
		}
		spec.Copy = append(spec.Copy, CopyItem{Source: item[0], Destination: item[1]})
	}

	if r.Check != nil {
		spec.Check = &Check{
			Headers:         r.Check.Headers,
			StaticLibraries: r.Check.StaticLibraries,
			SharedLibraries: r.Check.SharedLibraries,
			Programs:        r.Check.Programs,
		}
	}

	return spec, nil
}

func (r *rawFetch) toSource(name string) (FetchSource, error) {
	if r == nil {
		return nil, nil
	}

	hasURL := !r.URL.IsZero()
	hasGit := r.Git != "" || r.Tag != ""
	hasFail := r.Fail != nil

	variants := 0
	for _, present := range []bool{hasURL, hasGit, hasFail} {
		if present {
			variants++
		}
	}

	switch {
	case variants == 0:
		if r.Patch != "" || len(r.Prefix) > 0 {
			return nil, invalidf(name, "fetch declares options without a source")
		}
		return nil, nil
	case variants > 1:
		return nil, invalidf(name, "fetch must declare exactly one of git, url or fail")
	}

	if hasGit {
		if r.Git == "" || r.Tag == "" {
			return nil, invalidf(name, "git fetch requires both git and tag")
		}
		if len(r.Prefix) > 0 {
			return nil, invalidf(name, "prefix is only valid for url fetches")
		}
		return GitSource{URL: r.Git, Tag: r.Tag, Patch: r.Patch}, nil
	}

	if hasFail {
		if r.Patch != "" || len(r.Prefix) > 0 {
			return nil, invalidf(name, "fail fetch does not take options")
		}
		return FailSource{Reason: *r.Fail}, nil
	}

	if r.Patch != "" {
		return nil, invalidf(name, "patch is only valid for git fetches")
	}

	source := ArchiveSource{Prefix: r.Prefix}
	switch r.URL.Kind {
	case yaml.ScalarNode:
		if err := r.URL.Decode(&source.URL); err != nil {
			return nil, &ManifestError{Dependency: name, Message: "invalid url", Err: err}
		}
		if source.URL == "" {
			return nil, invalidf(name, "url must not be empty")
		}
	case yaml.MappingNode:
		if err := r.URL.Decode(&source.URLs); err != nil {
			return nil, &ManifestError{Dependency: name, Message: "invalid url map", Err: err}
		}
		if source.URLs == nil {
			source.URLs = map[string]string{}
		}
	default:
		return nil, invalidf(name, "url must be a string or a platform map")
	}
	return source, nil
}

func (r *rawConfigure) toRecipe(name string) (ConfigureRecipe, error) {
	if r == nil {
		return nil, nil
	}
	if r.CMake != nil && r.Custom != nil {
		return nil, invalidf(name, "configure must declare exactly one of cmake or custom")
	}

	if r.CMake != nil {
		recipe := CMakeConfigure{}
		for _, layer := range r.CMake {
			stamp := true
			if layer.Stamp != nil {
				stamp = *layer.Stamp
			}
			recipe.Layers = append(recipe.Layers, FlagLayer{
				Flags:     layer.Flags,
				Platforms: layer.Platforms,
				Stamp:     stamp,
			})
		}
		return recipe, nil
	}

	if r.Custom != nil {
		if err := validateCommands(name, "configure", r.Custom.Commands); err != nil {
			return nil, err
		}
		return CustomConfigure{
			Commands:         r.Custom.Commands,
			Env:              r.Custom.Env,
			WorkingDirectory: r.Custom.WorkingDirectory,
			Stamp:            r.Custom.Stamp,
		}, nil
	}

	return nil, nil
}

func (r *rawBuild) toRecipe(name string) (BuildRecipe, error) {
	if r == nil {
		return nil, nil
	}
	switch {
	case r.CMake != nil && r.Custom != nil:
		return nil, invalidf(name, "build must declare exactly one of cmake or custom")
	case r.CMake != nil:
		return CMakeBuild{Target: r.CMake.Target}, nil
	case r.Custom != nil:
		if err := validateCommands(name, "build", r.Custom.Commands); err != nil {
			return nil, err
		}
		return CustomBuild{
			Commands:         r.Custom.Commands,
			WorkingDirectory: r.Custom.WorkingDirectory,
		}, nil
	default:
		return nil, nil
	}
}

func validateCommands(name, stage string, commands [][]string) error {
	for i, command := range commands {
		if len(command) == 0 || command[0] == "" {
			return invalidf(name, "%s command %d is empty", stage, i)
		}
	}
	return nil
}

// String renders a short description used in listings.
func (t DependencyType) String() string {
	return string(t)
}

// Describe returns a one-line description of the fetch source.
func Describe(source FetchSource) string {
	switch s := source.(type) {
	case GitSource:
		return fmt.Sprintf("git %s@%s", s.URL, s.Tag)
	case ArchiveSource:
		if s.URLs != nil {
			return fmt.Sprintf("archive (%d platforms)", len(s.URLs))
		}
		return "archive " + s.URL
	case FailSource:
		return "manual"
	default:
		return "none"
	}
}
