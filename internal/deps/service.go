// Package deps runs the fetch, configure, build, install and copy pipeline
// for every dependency of a manifest.
package deps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cochaviz/depfetch/internal/graph"
	"github.com/cochaviz/depfetch/internal/logging"
	"github.com/cochaviz/depfetch/internal/manifest"
	"github.com/cochaviz/depfetch/internal/placeholder"
	"github.com/cochaviz/depfetch/internal/toolchain"
	"github.com/cochaviz/depfetch/internal/workspace"
	"github.com/cochaviz/depfetch/platform"
)

// PipelineService processes dependencies one at a time in topological order.
// A failing dependency is recorded and the run continues; only tool
// resolution failures and cancellation stop the run.
type PipelineService struct {
	Logger       *slog.Logger
	Dependencies DependencyRepository
	Checker      SatisfactionChecker
	Stamps       StampStore
	Output       OutputTree
	Git          SourceFetcher
	Archive      SourceFetcher
	Driver       StageDriver
	Prober       placeholder.ToolProber
	Reports      ReportStore

	Layout workspace.Layout
	CMake  string
	// Host is the platform tool dependencies are built for. Defaults to
	// platform.Host().
	Host  platform.Platform
	Clock func() time.Time
}

type pipelineStage struct {
	stage Stage
	next  State
	run   func(context.Context, Plan) error
}

// Run processes every dependency selected by request.
func (s *PipelineService) Run(ctx context.Context, request Request) (Summary, error) {
	if err := s.validate(request); err != nil {
		return Summary{}, err
	}
	order, err := graph.TopologicalOrder(s.Dependencies.Graph())
	if err != nil {
		return Summary{}, err
	}

	logger := s.logger().With("platform", string(request.Platform))
	summary := Summary{
		RunID:     uuid.NewString(),
		Platform:  request.Platform,
		Host:      s.host(),
		StartedAt: s.now(),
		States:    make(map[string]State, len(order)),
	}
	for _, name := range order {
		summary.States[name] = StatePending
	}
	logger.Info("processing dependencies", "count", len(order), "run_id", summary.RunID)

	var abortErr error
	for _, name := range order {
		spec, _ := s.Dependencies.Get(name)
		if reason := skipReason(spec, request); reason != "" {
			logger.Debug("skipping dependency", logging.DependencyKey, name, "reason", reason)
			if abortErr = Transition(summary.States, name, StatePending, StateSkipped); abortErr != nil {
				break
			}
			summary.Skipped = append(summary.Skipped, name)
			continue
		}
		if abortErr = s.process(ctx, &summary, spec, request); abortErr != nil {
			break
		}
	}
	summary.FinishedAt = s.now()

	s.saveReport(logger, summary, request, abortErr)
	logger.Info("run finished",
		"succeeded", len(summary.Succeeded),
		"satisfied", len(summary.Satisfied),
		"failed_optional", len(summary.FailedOptional),
		"failed_required", len(summary.FailedRequired),
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)

	if abortErr != nil {
		return summary, abortErr
	}
	if len(summary.FailedRequired) > 0 {
		return summary, &UnsatisfiedRequiredDependencyError{Dependencies: failureNames(summary.FailedRequired)}
	}
	if len(summary.FailedOptional) > 0 {
		return summary, &FailedOptionalDependenciesError{Dependencies: failureNames(summary.FailedOptional)}
	}
	return summary, nil
}

func failureNames(failures []Failure) []string {
	names := make([]string, 0, len(failures))
	for _, failure := range failures {
		names = append(names, failure.Dependency)
	}
	return names
}

// List resolves the order and reports, for every dependency, whether a run
// with request would skip it, consider it satisfied or process it.
func (s *PipelineService) List(ctx context.Context, request Request) ([]Entry, error) {
	if err := s.validate(request); err != nil {
		return nil, err
	}
	order, err := graph.TopologicalOrder(s.Dependencies.Graph())
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(order))
	for _, name := range order {
		spec, _ := s.Dependencies.Get(name)
		execCtx := s.executionContext(spec, request)
		entry := Entry{
			Name:      name,
			Type:      spec.Type,
			Tool:      spec.Tool,
			Platform:  execCtx.Platform,
			State:     StatePending,
			DependsOn: spec.Depends,
		}

		if reason := skipReason(spec, request); reason != "" {
			entry.State, entry.Reason = StateSkipped, reason
			entries = append(entries, entry)
			continue
		}

		plan, err := s.plan(ctx, spec, execCtx)
		if err != nil {
			return nil, err
		}
		satisfied, err := s.Checker.IsAlreadySatisfied(name, plan.Spec, execCtx.Platform, execCtx.Debug)
		if err != nil {
			return nil, stageError(StageCheck, name, err)
		}
		if satisfied {
			entry.State = StateSatisfied
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// process runs one dependency. The returned error aborts the run; stage
// failures are recorded in summary instead.
func (s *PipelineService) process(ctx context.Context, summary *Summary, spec manifest.DependencySpec, request Request) error {
	name := spec.Name
	execCtx := s.executionContext(spec, request)
	logger := s.logger().With(logging.DependencyKey, name)
	logger.Info("processing dependency", "platform", string(execCtx.Platform), "tool", spec.Tool, "type", string(spec.Type))

	plan, err := s.plan(ctx, spec, execCtx)
	if err != nil {
		return fmt.Errorf("expand %s: %w", name, err)
	}

	satisfied, err := s.Checker.IsAlreadySatisfied(name, plan.Spec, execCtx.Platform, execCtx.Debug)
	if err != nil {
		return s.fail(summary, logger, spec, StatePending, stageError(StageCheck, name, err))
	}
	if satisfied {
		logger.Info("already satisfied")
		summary.Satisfied = append(summary.Satisfied, name)
		return Transition(summary.States, name, StatePending, StateSatisfied)
	}

	state, err := s.runStages(ctx, summary.States, plan)
	if err != nil {
		var resolutionErr *placeholder.ToolResolutionError
		if errors.As(err, &resolutionErr) {
			return err
		}
		if failErr := s.fail(summary, logger, spec, state, err); failErr != nil {
			return failErr
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return nil
	}

	logger.Info("dependency added or updated")
	summary.Succeeded = append(summary.Succeeded, name)
	return nil
}

func (s *PipelineService) runStages(ctx context.Context, states map[string]State, plan Plan) (State, error) {
	name := plan.Name()
	stages := []pipelineStage{
		{StageFetch, StateFetched, s.fetch},
		{StageConfigure, StateConfigured, s.configure},
		{StageBuild, StateBuilt, s.build},
		{StageInstall, StateInstalled, s.install},
		{StageCopy, StateCopied, s.copy},
	}

	state := StatePending
	for _, stage := range stages {
		if err := ctx.Err(); err != nil {
			return state, stageError(stage.stage, name, err)
		}
		if err := stage.run(ctx, plan); err != nil {
			return state, stageError(stage.stage, name, err)
		}
		if err := Transition(states, name, state, stage.next); err != nil {
			return state, err
		}
		state = stage.next
	}

	if err := s.Stamps.CopyStampsToOutput(name, plan.Context.Platform); err != nil {
		return state, stageError(StageCopy, name, err)
	}
	if err := Transition(states, name, state, StateDone); err != nil {
		return state, err
	}
	return StateDone, nil
}

func (s *PipelineService) fetch(ctx context.Context, plan Plan) error {
	var fetcher SourceFetcher
	switch source := plan.Spec.Fetch.(type) {
	case nil:
		return nil
	case manifest.FailSource:
		if source.Reason == "" {
			return errors.New("dependency cannot be fetched automatically")
		}
		return errors.New(source.Reason)
	case manifest.GitSource:
		fetcher = s.Git
	case manifest.ArchiveSource:
		if source.URLFor(plan.Context.Platform) == "" {
			s.logger().Debug("no archive for platform", logging.DependencyKey, plan.Name(), "platform", string(plan.Context.Platform))
			return nil
		}
		fetcher = s.Archive
	}
	if fetcher == nil {
		return fmt.Errorf("no fetcher configured for %s", manifest.Describe(plan.Spec.Fetch))
	}

	if err := fetcher.Fetch(ctx, plan); err != nil {
		return err
	}
	return s.Stamps.WriteFetchStamp(plan.Name(), plan.Spec.FetchStampParams())
}

func (s *PipelineService) configure(ctx context.Context, plan Plan) error {
	params, ok := plan.Spec.ConfigureStampParams(plan.Context.Platform)
	if !ok {
		return nil
	}
	if err := s.Driver.Configure(ctx, plan); err != nil {
		return err
	}
	return s.Stamps.WriteConfigureStamp(plan.Name(), plan.Context.Platform, params)
}

func (s *PipelineService) build(ctx context.Context, plan Plan) error {
	if plan.Spec.Build == nil {
		return nil
	}
	return s.Driver.Build(ctx, plan)
}

func (s *PipelineService) install(ctx context.Context, plan Plan) error {
	if !plan.Spec.Install {
		return nil
	}
	return s.Driver.Install(ctx, plan)
}

func (s *PipelineService) copy(_ context.Context, plan Plan) error {
	return s.Output.Copy(plan.Name(), plan.Spec.Copy)
}

func (s *PipelineService) fail(summary *Summary, logger *slog.Logger, spec manifest.DependencySpec, from State, err error) error {
	logger.Error("dependency failed", "error", err, "required", spec.IsRequired())

	failure := Failure{Dependency: spec.Name, Type: spec.Type, Err: err}
	if spec.IsRequired() {
		summary.FailedRequired = append(summary.FailedRequired, failure)
	} else {
		summary.FailedOptional = append(summary.FailedOptional, failure)
	}
	return Transition(summary.States, spec.Name, from, StateFailed)
}

func (s *PipelineService) plan(ctx context.Context, spec manifest.DependencySpec, execCtx ExecutionContext) (Plan, error) {
	expanded, err := placeholder.Expand(ctx, spec, placeholder.Vars{
		Name:      spec.Name,
		Platform:  execCtx.Platform,
		Layout:    execCtx.Layout,
		CMake:     execCtx.CMake,
		Toolchain: execCtx.Toolchain,
		Debug:     execCtx.Debug,
		Prober:    s.Prober,
	})
	if err != nil {
		return Plan{}, err
	}
	return Plan{Spec: expanded, Context: execCtx}, nil
}

// executionContext binds a dependency to the platform it is built for. Tool
// dependencies are built for the host in the release configuration.
func (s *PipelineService) executionContext(spec manifest.DependencySpec, request Request) ExecutionContext {
	execCtx := ExecutionContext{
		Platform:  request.Platform,
		Host:      s.host(),
		Toolchain: request.Toolchain,
		Debug:     request.Debug,
		SharedCRT: request.SharedCRT,
		NDKPath:   request.NDKPath,
		EMSDKPath: request.EMSDKPath,
		CMake:     s.cmake(),
		Layout:    s.Layout,
	}
	if spec.Tool {
		execCtx.Platform = execCtx.Host
		execCtx.Debug = false
	}
	return execCtx
}

func (s *PipelineService) validate(request Request) error {
	if s.Dependencies == nil {
		return errors.New("dependency repository is not configured")
	}
	if !request.Platform.IsValid() {
		return &toolchain.UnsupportedPlatformError{Platform: request.Platform}
	}
	if request.Platform.IsAndroid() && request.NDKPath == "" {
		return ErrMissingNDK
	}
	if request.ToolsOnly && request.LibsOnly {
		return errors.New("tools-only and libs-only are mutually exclusive")
	}
	if request.Dependency != "" && !s.known(request.Dependency) {
		return fmt.Errorf("unknown dependency %q", request.Dependency)
	}
	return nil
}

func (s *PipelineService) known(name string) bool {
	for candidate := range s.Dependencies.Graph() {
		if strings.EqualFold(candidate, name) {
			return true
		}
	}
	return false
}

// skipReason returns why request excludes spec, or "" when it is processed.
// Platform support is always judged against the target platform.
func skipReason(spec manifest.DependencySpec, request Request) string {
	switch {
	case request.Dependency != "" && !strings.EqualFold(spec.Name, request.Dependency):
		return "not selected"
	case request.ToolsOnly && !spec.Tool:
		return "not a tool dependency"
	case request.LibsOnly && spec.Tool:
		return "tool dependency"
	case spec.Type == manifest.Extra && !request.Extra:
		return "extra dependency"
	case !spec.SupportsPlatform(request.Platform):
		return "not supported on " + string(request.Platform)
	default:
		return ""
	}
}

func (s *PipelineService) logger() *slog.Logger {
	return logging.Ensure(s.Logger)
}

func (s *PipelineService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *PipelineService) host() platform.Platform {
	if s.Host != "" {
		return s.Host
	}
	return platform.Host()
}

func (s *PipelineService) cmake() string {
	if s.CMake != "" {
		return s.CMake
	}
	return toolchain.DefaultCMake
}
