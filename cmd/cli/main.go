package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	config "github.com/cochaviz/depfetch/config"
	"github.com/cochaviz/depfetch/internal/deps"
	"github.com/cochaviz/depfetch/internal/logging"
	"github.com/cochaviz/depfetch/internal/models"
	"github.com/cochaviz/depfetch/internal/setup"
	"github.com/cochaviz/depfetch/internal/toolchain"
	"github.com/cochaviz/depfetch/platform"
)

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	app := &application{
		levelVar: &levelVar,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	app.logger = logging.New(logging.ModeText, os.Stderr, &levelVar)
	slog.SetDefault(app.logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(app)
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			app.logger.Warn("command interrupted", "error", err)
			os.Exit(130)
		}
		app.logger.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// application carries what the subcommands share once the persistent flags
// have been parsed.
type application struct {
	logger   *slog.Logger
	levelVar *slog.LevelVar
	settings setup.Settings
	stdout   io.Writer
	stderr   io.Writer
}

func newRootCommand(app *application) *cobra.Command {
	var (
		logLevel  string
		logFormat string
		root      string
		manifest  string
	)

	cmd := &cobra.Command{
		Use:           "depfetch",
		Short:         "Fetch, build and stage the native dependencies of the SDK",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Set log verbosity (debug, info, warning, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log output format (text, json)")
	cmd.PersistentFlags().StringVar(&root, "root", "", "Workspace root (default: parent of the working directory)")
	cmd.PersistentFlags().StringVar(&manifest, "manifest", "", "Dependency manifest, relative to the workspace root")

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		settings, err := setup.Load(setup.ConfigPath())
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			settings.LogLevel = logLevel
		}
		if cmd.Flags().Changed("manifest") {
			settings.Manifest = manifest
		}

		level, err := logging.ParseLevel(settings.LogLevel)
		if err != nil {
			return err
		}
		mode, err := logging.ParseMode(logFormat)
		if err != nil {
			return err
		}
		app.levelVar.Set(level)
		app.logger = logging.New(mode, app.stderr, app.levelVar)
		slog.SetDefault(app.logger)
		setup.SetLogger(app.logger.With("component", "setup"))
		app.settings = settings
		return nil
	}

	options := func() (config.Options, error) {
		workspaceRoot := root
		if workspaceRoot == "" {
			var err error
			if workspaceRoot, err = config.DefaultRoot(); err != nil {
				return config.Options{}, err
			}
		}
		return config.Options{
			Root:     workspaceRoot,
			Manifest: app.settings.Manifest,
			Logger:   app.logger,
			Stdout:   app.stdout,
			Stderr:   app.stderr,
		}, nil
	}

	cmd.AddCommand(
		newRunCommand(app, options),
		newListCommand(app, options),
		newCleanCommand(app, options),
		newReportsCommand(app, options),
	)
	return cmd
}

// requestFlags are the flags shared by run and list.
type requestFlags struct {
	os           string
	architecture string
	toolchain    string
	ndk          string
	emsdk        string
	dependency   string
	extra        bool
	debug        bool
	toolsOnly    bool
	libsOnly     bool
	sharedCRT    bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.os, "platform", "p", platform.HostOS(), "Target platform ("+strings.Join(platform.OperatingSystems, ", ")+")")
	cmd.Flags().StringVarP(&f.architecture, "architecture", "a", "x64", "Target architecture ("+strings.Join(platform.Architectures, ", ")+")")
	cmd.Flags().StringVarP(&f.toolchain, "toolchain", "t", "", "Visual Studio toolchain (vs2013, vs2015, vs2017, vs2019, vs2022)")
	cmd.Flags().StringVar(&f.ndk, "ndk", "", "Android NDK path (default $"+setup.EnvNDK+")")
	cmd.Flags().StringVar(&f.emsdk, "emsdk", "", "Emscripten SDK path (default $"+setup.EnvEMSDK+")")
	cmd.Flags().StringVar(&f.dependency, "dependency", "", "Only process the named dependency")
	cmd.Flags().BoolVar(&f.extra, "extra", false, "Also process extra dependencies")
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Build the debug configuration")
	cmd.Flags().BoolVar(&f.toolsOnly, "toolsonly", false, "Only process tool dependencies")
	cmd.Flags().BoolVar(&f.libsOnly, "libsonly", false, "Only process library dependencies")
	cmd.Flags().BoolVar(&f.sharedCRT, "sharedcrt", false, "Link the shared C runtime on Windows")
}

// request combines the flags with the settings; flags win when set.
func (f *requestFlags) request(settings setup.Settings) (deps.Request, error) {
	target, err := platform.Target(f.os, f.architecture)
	if err != nil {
		return deps.Request{}, err
	}

	toolchainName := settings.Toolchain
	if f.toolchain != "" {
		toolchainName = f.toolchain
	}
	year, err := toolchain.ParseToolchain(toolchainName)
	if err != nil {
		return deps.Request{}, err
	}

	request := deps.Request{
		Platform:   target,
		Toolchain:  year,
		Debug:      f.debug,
		SharedCRT:  f.sharedCRT || settings.SharedCRT,
		NDKPath:    firstNonEmpty(f.ndk, settings.NDK),
		EMSDKPath:  firstNonEmpty(f.emsdk, settings.EMSDK),
		Dependency: f.dependency,
		Extra:      f.extra,
		ToolsOnly:  f.toolsOnly,
		LibsOnly:   f.libsOnly,
	}
	if request.Platform.IsAndroid() && request.NDKPath == "" {
		return deps.Request{}, fmt.Errorf("%w: pass --ndk or set %s", deps.ErrMissingNDK, setup.EnvNDK)
	}
	return request, nil
}

func newRunCommand(app *application, options func() (config.Options, error)) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "run",
		Args:  cobra.NoArgs,
		Short: "Fetch, configure, build, install and copy the selected dependencies",
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := flags.request(app.settings)
			if err != nil {
				return err
			}
			opts, err := options()
			if err != nil {
				return err
			}

			cmdLogger := app.logger.With("command", "run")
			cmdLogger.Info("starting run", "root", opts.Root, "platform", string(request.Platform))

			opts.Logger = cmdLogger
			summary, err := config.Run(cmd.Context(), opts, request)
			if !summary.StartedAt.IsZero() {
				if writeErr := summary.Write(app.stdout); writeErr != nil {
					cmdLogger.Warn("failed to print summary", "error", writeErr)
				}
			}
			return err
		},
	}
	flags.register(cmd)
	return cmd
}

func newListCommand(app *application, options func() (config.Options, error)) *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "list",
		Args:  cobra.NoArgs,
		Short: "Print the dependencies in processing order with their expected state",
		RunE: func(cmd *cobra.Command, args []string) error {
			request, err := flags.request(app.settings)
			if err != nil {
				return err
			}
			opts, err := options()
			if err != nil {
				return err
			}
			opts.Logger = app.logger.With("command", "list")

			entries, err := config.List(cmd.Context(), opts, request)
			if err != nil {
				return err
			}
			return writeEntries(app.stdout, entries)
		},
	}
	flags.register(cmd)
	return cmd
}

func writeEntries(w io.Writer, entries []deps.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tTOOL\tPLATFORM\tSTATE\tDEPENDS")
	for _, entry := range entries {
		state := string(entry.State)
		if entry.Reason != "" {
			state += " (" + entry.Reason + ")"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n",
			entry.Name, entry.Type, entry.Tool, entry.Platform, state, strings.Join(entry.DependsOn, ","))
	}
	return tw.Flush()
}

func newCleanCommand(app *application, options func() (config.Options, error)) *cobra.Command {
	modes := make([]string, 0, len(models.CleanModes))
	for _, mode := range models.CleanModes {
		modes = append(modes, string(mode))
	}

	return &cobra.Command{
		Use:       "clean <" + strings.Join(modes, "|") + ">",
		Args:      cobra.ExactArgs(1),
		ValidArgs: modes,
		Short:     "Remove copied outputs, build trees or sources",
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := models.ParseCleanMode(args[0])
			if err != nil {
				return err
			}
			opts, err := options()
			if err != nil {
				return err
			}

			cmdLogger := app.logger.With("command", "clean", "mode", string(mode))
			if err := config.Clean(opts.Root, mode, cmdLogger); err != nil {
				cmdLogger.Error("clean failed", "error", err)
				return err
			}
			cmdLogger.Info("clean completed")
			return nil
		},
	}
}

func newReportsCommand(app *application, options func() (config.Options, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "reports [run-id]",
		Args:  cobra.MaximumNArgs(1),
		Short: "List stored run reports or print one as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options()
			if err != nil {
				return err
			}

			if len(args) == 1 {
				report, err := config.Report(opts.Root, args[0])
				if err != nil {
					return err
				}
				encoder := json.NewEncoder(app.stdout)
				encoder.SetIndent("", "  ")
				return encoder.Encode(report)
			}

			reports, err := config.Reports(opts.Root)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(app.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPLATFORM\tSTARTED\tFAILED")
			for _, report := range reports {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n",
					report.ID, report.Status, report.Target.Platform,
					report.StartedAt.Format("2006-01-02 15:04:05"),
					len(report.FailedOptional)+len(report.FailedRequired))
			}
			return tw.Flush()
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
