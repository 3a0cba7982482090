// Package cmake drives the configure, build and install stages with CMake or
// with the custom commands declared in the manifest.
package cmake

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cochaviz/depfetch/internal/deps"
	"github.com/cochaviz/depfetch/internal/logging"
	"github.com/cochaviz/depfetch/internal/manifest"
	"github.com/cochaviz/depfetch/internal/runner"
	"github.com/cochaviz/depfetch/internal/toolchain"
)

// Driver runs every command through Runner. Commands get the toolchain
// environment of the plan's platform, Env on top of it and, for custom
// configure recipes, the recipe's own variables last.
type Driver struct {
	Runner runner.Runner
	Env    runner.Overlay
	Logger *slog.Logger
}

var _ deps.StageDriver = (*Driver)(nil)

// Configure generates the build tree or runs the custom configure commands.
func (d *Driver) Configure(ctx context.Context, plan deps.Plan) error {
	switch recipe := plan.Spec.Configure.(type) {
	case manifest.CMakeConfigure:
		args, err := toolchain.ResolveBuildToolArgs(plan.Context.BuildToolParams())
		if err != nil {
			return err
		}
		for _, layer := range recipe.Layers {
			if layer.Applies(plan.Context.Platform) {
				args = append(args, layer.Flags...)
			}
		}
		args = append(args,
			"-DCMAKE_SKIP_INSTALL_ALL_DEPENDENCY=TRUE",
			"-DCMAKE_INSTALL_PREFIX="+plan.InstallDir(),
			"-S", plan.RepositoryDir(),
			"-B", plan.BuildDir(),
		)
		for _, dir := range []string{plan.BuildDir(), plan.InstallDir()} {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		return d.cmake(ctx, plan, args...)
	case manifest.CustomConfigure:
		return d.custom(ctx, plan, recipe.Commands, recipe.WorkingDirectory, recipe.Env)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported configure recipe %T", recipe)
	}
}

// Build compiles the generated tree or runs the custom build commands. The
// configuration is passed only to multi-config generators.
func (d *Driver) Build(ctx context.Context, plan deps.Plan) error {
	switch recipe := plan.Spec.Build.(type) {
	case manifest.CMakeBuild:
		args := append([]string{"--build", plan.BuildDir()}, d.configArgs(plan)...)
		if recipe.Target != "" {
			args = append(args, "--target", recipe.Target)
		}
		return d.cmake(ctx, plan, args...)
	case manifest.CustomBuild:
		return d.custom(ctx, plan, recipe.Commands, recipe.WorkingDirectory, nil)
	case nil:
		return nil
	default:
		return fmt.Errorf("unsupported build recipe %T", recipe)
	}
}

// Install installs the build tree into the install prefix when the
// dependency asks for it.
func (d *Driver) Install(ctx context.Context, plan deps.Plan) error {
	if !plan.Spec.Install {
		return nil
	}
	args := append([]string{"--install", plan.BuildDir()}, d.configArgs(plan)...)
	return d.cmake(ctx, plan, args...)
}

func (d *Driver) configArgs(plan deps.Plan) []string {
	if !toolchain.IsMultiConfig(plan.Context.Platform) {
		return nil
	}
	return []string{"--config", toolchain.ConfigName(plan.Context.Debug)}
}

func (d *Driver) cmake(ctx context.Context, plan deps.Plan, args ...string) error {
	executable := plan.Context.CMake
	if executable == "" {
		executable = toolchain.DefaultCMake
	}
	return d.run(ctx, plan, runner.Command{
		Args: append([]string{executable}, args...),
		Dir:  plan.Context.Layout.Root,
		Env:  d.environment(plan),
	})
}

func (d *Driver) custom(ctx context.Context, plan deps.Plan, commands [][]string, workingDirectory string, env map[string]string) error {
	dir := plan.Context.Layout.Root
	if workingDirectory != "" {
		dir = workingDirectory
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(plan.Context.Layout.Root, dir)
		}
	}
	overlay := d.environment(plan).Merge(env)
	for _, args := range commands {
		if len(args) == 0 {
			continue
		}
		cmd := runner.Command{Args: append([]string(nil), args...), Dir: dir, Env: overlay}
		if err := d.run(ctx, plan, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) run(ctx context.Context, plan deps.Plan, cmd runner.Command) error {
	logging.Ensure(d.Logger).Debug("stage command", logging.DependencyKey, plan.Name(), "command", cmd.String())
	return d.Runner.Run(ctx, cmd)
}

func (d *Driver) environment(plan deps.Plan) runner.Overlay {
	env := runner.Overlay(toolchain.Environment(plan.Context.BuildToolParams(), os.Getenv("PATH")))
	return env.Merge(d.Env)
}
