package manifest

import (
	"sort"

	"github.com/cochaviz/depfetch/platform"
)

// DependencyType controls whether a failure blocks the run and whether the
// dependency is processed by default.
type DependencyType string

const (
	Required DependencyType = "required"
	Optional DependencyType = "optional"
	Extra    DependencyType = "extra"
)

// DependencySpec describes one external library or tool.
type DependencySpec struct {
	Name             string
	Type             DependencyType
	Tool             bool
	Platforms        []string
	Depends          []string
	Fetch            FetchSource
	Configure        ConfigureRecipe
	Build            BuildRecipe
	Install          bool
	Copy             []CopyItem
	Check            *Check
	AltPlatformNames map[string]string
}

// FetchSource is one of GitSource, ArchiveSource or FailSource. A nil value
// means the dependency has no fetch stage.
type FetchSource interface {
	fetchSource()
}

// GitSource clones a repository and checks out a pinned reference.
type GitSource struct {
	URL   string
	Tag   string
	Patch string
}

// ArchiveSource downloads and extracts an archive. URLs maps platforms to
// archive locations when the archive differs per platform; URL is used otherwise.
type ArchiveSource struct {
	URL    string
	URLs   map[string]string
	Prefix map[string]string
}

// FailSource marks a dependency that cannot be fetched automatically; Reason
// is reported as the failure.
type FailSource struct {
	Reason string
}

func (GitSource) fetchSource()     {}
func (ArchiveSource) fetchSource() {}
func (FailSource) fetchSource()    {}

// URLFor returns the archive location for the platform, or "" when the
// archive has no entry for it.
func (s ArchiveSource) URLFor(p platform.Platform) string {
	if s.URLs == nil {
		return s.URL
	}
	return s.URLs[string(p)]
}

// ConfigureRecipe is one of CMakeConfigure or CustomConfigure. A nil value
// means the dependency has no configure stage.
type ConfigureRecipe interface {
	configureRecipe()
}

// CMakeConfigure generates a build tree with layered extra flags.
type CMakeConfigure struct {
	Layers []FlagLayer
}

// FlagLayer is a group of build-tool flags, optionally limited to some
// platforms. Only stamped layers take part in the configure stamp.
type FlagLayer struct {
	Flags     []string
	Platforms []string
	Stamp     bool
}

// Applies reports whether the layer is used for the platform.
func (l FlagLayer) Applies(p platform.Platform) bool {
	if len(l.Platforms) == 0 {
		return true
	}
	for _, name := range l.Platforms {
		if name == string(p) {
			return true
		}
	}
	return false
}

// CustomConfigure runs arbitrary commands with a temporary environment overlay.
type CustomConfigure struct {
	Commands         [][]string
	Env              map[string]string
	WorkingDirectory string
	Stamp            []string
}

func (CMakeConfigure) configureRecipe()  {}
func (CustomConfigure) configureRecipe() {}

// BuildRecipe is one of CMakeBuild or CustomBuild. A nil value means the
// dependency has no build stage.
type BuildRecipe interface {
	buildRecipe()
}

// CMakeBuild builds the generated tree, optionally a single target.
type CMakeBuild struct {
	Target string
}

// CustomBuild runs arbitrary commands.
type CustomBuild struct {
	Commands         [][]string
	WorkingDirectory string
}

func (CMakeBuild) buildRecipe()  {}
func (CustomBuild) buildRecipe() {}

// CopyItem copies Source (relative to deps-build/<name>) to Destination
// (relative to deps/<name>).
type CopyItem struct {
	Source      string
	Destination string
}

// Check lists the artifacts whose presence makes a dependency satisfied.
// Each inner slice of the library and program groups holds alternative names.
type Check struct {
	Headers         []string
	StaticLibraries [][]string
	SharedLibraries [][]string
	Programs        [][]string
}

// IsEmpty reports whether the check declares nothing to look for.
func (c *Check) IsEmpty() bool {
	return c == nil || len(c.Headers)+len(c.StaticLibraries)+len(c.SharedLibraries)+len(c.Programs) == 0
}

// IsRequired reports whether a failure of this dependency blocks the run.
func (d DependencySpec) IsRequired() bool {
	return d.Type == Required
}

// SupportsPlatform reports whether the dependency should be processed for p.
func (d DependencySpec) SupportsPlatform(p platform.Platform) bool {
	return p.In(d.Platforms)
}

// CheckPlatformName returns the directory name used for p when checking
// artifacts.
func (d DependencySpec) CheckPlatformName(p platform.Platform) string {
	if name, ok := d.AltPlatformNames[string(p)]; ok && name != "" {
		return name
	}
	return string(p)
}

// FetchStampParams returns the fetch parameters recorded in the fetch stamp.
func (d DependencySpec) FetchStampParams() []string {
	switch source := d.Fetch.(type) {
	case GitSource:
		return []string{source.URL, source.Tag}
	case ArchiveSource:
		if source.URLs == nil {
			return []string{source.URL}
		}
		keys := make([]string, 0, len(source.URLs))
		for key := range source.URLs {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		params := make([]string, 0, len(keys))
		for _, key := range keys {
			params = append(params, source.URLs[key])
		}
		return params
	default:
		return []string{}
	}
}

// ConfigureStampParams returns the configure parameters recorded in the
// configure stamp for p. ok is false when the dependency has no configure
// stage, in which case no configure stamp is compared.
func (d DependencySpec) ConfigureStampParams(p platform.Platform) (params []string, ok bool) {
	switch recipe := d.Configure.(type) {
	case CMakeConfigure:
		params = []string{}
		for _, layer := range recipe.Layers {
			if layer.Stamp && layer.Applies(p) {
				params = append(params, layer.Flags...)
			}
		}
		return params, true
	case CustomConfigure:
		return append([]string{}, recipe.Stamp...), true
	default:
		return nil, false
	}
}
