package manifest

// MapStrings returns a deep copy of the specification with fn applied to every
// string value that may carry placeholders. Identity fields (name, type,
// platforms, depends) are copied unchanged.
func (d DependencySpec) MapStrings(fn func(string) (string, error)) (DependencySpec, error) {
	m := mapper{fn: fn}

	out := DependencySpec{
		Name:      d.Name,
		Type:      d.Type,
		Tool:      d.Tool,
		Platforms: append([]string(nil), d.Platforms...),
		Depends:   append([]string(nil), d.Depends...),
		Install:   d.Install,
	}

	switch source := d.Fetch.(type) {
	case GitSource:
		out.Fetch = GitSource{URL: m.str(source.URL), Tag: m.str(source.Tag), Patch: m.str(source.Patch)}
	case ArchiveSource:
		out.Fetch = ArchiveSource{URL: m.str(source.URL), URLs: m.values(source.URLs), Prefix: m.values(source.Prefix)}
	case FailSource:
		out.Fetch = FailSource{Reason: m.str(source.Reason)}
	}

	switch recipe := d.Configure.(type) {
	case CMakeConfigure:
		layers := make([]FlagLayer, 0, len(recipe.Layers))
		for _, layer := range recipe.Layers {
			layers = append(layers, FlagLayer{
				Flags:     m.list(layer.Flags),
				Platforms: append([]string(nil), layer.Platforms...),
				Stamp:     layer.Stamp,
			})
		}
		out.Configure = CMakeConfigure{Layers: layers}
	case CustomConfigure:
		out.Configure = CustomConfigure{
			Commands:         m.commands(recipe.Commands),
			Env:              m.values(recipe.Env),
			WorkingDirectory: m.str(recipe.WorkingDirectory),
			Stamp:            m.list(recipe.Stamp),
		}
	}

	switch recipe := d.Build.(type) {
	case CMakeBuild:
		out.Build = CMakeBuild{Target: m.str(recipe.Target)}
	case CustomBuild:
		out.Build = CustomBuild{
			Commands:         m.commands(recipe.Commands),
			WorkingDirectory: m.str(recipe.WorkingDirectory),
		}
	}

	for _, item := range d.Copy {
		out.Copy = append(out.Copy, CopyItem{Source: m.str(item.Source), Destination: m.str(item.Destination)})
	}

	if d.Check != nil {
		out.Check = &Check{
			Headers:         m.list(d.Check.Headers),
			StaticLibraries: m.commands(d.Check.StaticLibraries),
			SharedLibraries: m.commands(d.Check.SharedLibraries),
			Programs:        m.commands(d.Check.Programs),
		}
	}
	out.AltPlatformNames = m.values(d.AltPlatformNames)

	if m.err != nil {
		return DependencySpec{}, m.err
	}
	return out, nil
}

// mapper applies fn until the first error and keeps that error.
type mapper struct {
	fn  func(string) (string, error)
	err error
}

func (m *mapper) str(s string) string {
	if m.err != nil || s == "" {
		return s
	}
	out, err := m.fn(s)
	if err != nil {
		m.err = err
		return s
	}
	return out
}

func (m *mapper) list(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, len(values))
	for i, value := range values {
		out[i] = m.str(value)
	}
	return out
}

func (m *mapper) commands(commands [][]string) [][]string {
	if commands == nil {
		return nil
	}
	out := make([][]string, len(commands))
	for i, command := range commands {
		out[i] = m.list(command)
	}
	return out
}

func (m *mapper) values(values map[string]string) map[string]string {
	if values == nil {
		return nil
	}
	out := make(map[string]string, len(values))
	for key, value := range values {
		out[key] = m.str(value)
	}
	return out
}
