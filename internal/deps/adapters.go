package deps

import (
	"context"

	"github.com/cochaviz/depfetch/internal/manifest"
	"github.com/cochaviz/depfetch/internal/models"
	"github.com/cochaviz/depfetch/platform"
)

// DependencyRepository exposes the manifest entries.
type DependencyRepository interface {
	Get(name string) (manifest.DependencySpec, bool)
	Graph() map[string][]string
}

// SourceFetcher fetches the sources of a plan into its workspace directories.
type SourceFetcher interface {
	Fetch(ctx context.Context, plan Plan) error
}

// StageDriver runs the configure, build and install stages of a plan.
type StageDriver interface {
	Configure(ctx context.Context, plan Plan) error
	Build(ctx context.Context, plan Plan) error
	Install(ctx context.Context, plan Plan) error
}

// StampStore records and compares stage parameters.
type StampStore interface {
	WriteFetchStamp(name string, params []string) error
	WriteConfigureStamp(name string, p platform.Platform, params []string) error
	CopyStampsToOutput(name string, p platform.Platform) error
	IsSatisfied(name string, p platform.Platform, fetchParams, configureParams *[]string) (bool, error)
}

// OutputTree performs the copy stage.
type OutputTree interface {
	Copy(name string, items []manifest.CopyItem) error
}

// SatisfactionChecker decides whether a plan can be skipped.
type SatisfactionChecker interface {
	IsAlreadySatisfied(name string, spec manifest.DependencySpec, p platform.Platform, debug bool) (bool, error)
}

// ReportStore persists run reports.
type ReportStore interface {
	Save(report models.RunReport) (models.RunReport, error)
}
