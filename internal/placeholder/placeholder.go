// Package placeholder expands the $-tokens used in manifest strings.
//
// Tokens:
//
//	$platform      target platform id
//	$src           deps-build/<name>/src
//	$build         deps-build/<name>/build/<platform>
//	$install       deps-build/<name>/install/<platform>
//	$deps          deps
//	$cmake         build tool executable
//	$vs            Visual Studio generator name
//	$config        debug | release
//	$Config        Debug | Release
//	$msbuild:YYYY  MSBuild executable of that Visual Studio year
//
// A dependency is expanded once, before any stage runs.
package placeholder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cochaviz/depfetch/internal/manifest"
	"github.com/cochaviz/depfetch/internal/toolchain"
	"github.com/cochaviz/depfetch/internal/workspace"
	"github.com/cochaviz/depfetch/platform"
)

var msbuildToken = regexp.MustCompile(`\$msbuild:(\d{4})`)

// ToolProber locates build tools that can only be discovered by running
// another tool.
type ToolProber interface {
	MSBuildPath(ctx context.Context, year int) (string, error)
}

// ToolResolutionError is returned when a tool token cannot be resolved. It
// halts the whole run.
type ToolResolutionError struct {
	Tool    string
	Version string
	Err     error
}

func (e *ToolResolutionError) Error() string {
	msg := fmt.Sprintf("unable to find %s for Visual Studio %s", e.Tool, e.Version)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ToolResolutionError) Unwrap() error { return e.Err }

// Vars holds the values tokens expand to for one dependency.
type Vars struct {
	Name      string
	Platform  platform.Platform
	Layout    workspace.Layout
	CMake     string
	Toolchain int
	Debug     bool
	Prober    ToolProber
}

func (v Vars) pairs() []string {
	generator, _ := toolchain.GeneratorName(v.Toolchain)
	config := toolchain.ConfigName(v.Debug)

	values := map[string]string{
		"$platform": string(v.Platform),
		"$src":      v.Layout.Src(v.Name),
		"$build":    v.Layout.Build(v.Name, v.Platform),
		"$install":  v.Layout.Install(v.Name, v.Platform),
		"$deps":     v.Layout.Deps(),
		"$cmake":    v.CMake,
		"$vs":       generator,
		"$config":   strings.ToLower(config),
		"$Config":   config,
	}

	tokens := make([]string, 0, len(values))
	for token := range values {
		tokens = append(tokens, token)
	}
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})

	pairs := make([]string, 0, 2*len(tokens))
	for _, token := range tokens {
		pairs = append(pairs, token, values[token])
	}
	return pairs
}

// Substitute expands every token in value.
func Substitute(ctx context.Context, value string, vars Vars) (string, error) {
	return newExpander(vars).expand(ctx, value)
}

// Expand returns a copy of spec with every placeholder-bearing string
// expanded.
func Expand(ctx context.Context, spec manifest.DependencySpec, vars Vars) (manifest.DependencySpec, error) {
	e := newExpander(vars)
	return spec.MapStrings(func(value string) (string, error) {
		return e.expand(ctx, value)
	})
}

type expander struct {
	vars     Vars
	replacer *strings.Replacer
}

func newExpander(vars Vars) *expander {
	return &expander{vars: vars, replacer: strings.NewReplacer(vars.pairs()...)}
}

func (e *expander) expand(ctx context.Context, value string) (string, error) {
	if !strings.Contains(value, "$") {
		return value, nil
	}
	result := e.replacer.Replace(value)

	matches := msbuildToken.FindAllStringSubmatchIndex(result, -1)
	if len(matches) == 0 {
		return result, nil
	}

	var b strings.Builder
	last := 0
	for _, match := range matches {
		version := result[match[2]:match[3]]
		path, err := e.msbuild(ctx, version)
		if err != nil {
			return "", err
		}
		b.WriteString(result[last:match[0]])
		b.WriteString(path)
		last = match[1]
	}
	b.WriteString(result[last:])
	return b.String(), nil
}

func (e *expander) msbuild(ctx context.Context, version string) (string, error) {
	if e.vars.Prober == nil {
		return "", &ToolResolutionError{Tool: "msbuild", Version: version, Err: fmt.Errorf("no tool prober configured")}
	}
	year, _ := strconv.Atoi(version)
	path, err := e.vars.Prober.MSBuildPath(ctx, year)
	if err != nil {
		var resolutionErr *ToolResolutionError
		if errors.As(err, &resolutionErr) {
			return "", resolutionErr
		}
		return "", &ToolResolutionError{Tool: "msbuild", Version: version, Err: err}
	}
	return path, nil
}
