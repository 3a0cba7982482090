package local

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"github.com/cochaviz/depfetch/internal/models"
	"github.com/cochaviz/depfetch/internal/workspace"
)

const reportsDir = workspace.BuildDirName + "/.reports"

// LocalReportStore persists run reports as JSON documents under
// deps-build/.reports.
type LocalReportStore struct {
	FS billy.Filesystem
}

// NewLocalReportStore returns a report store over a filesystem rooted at the
// workspace root.
func NewLocalReportStore(fsys billy.Filesystem) *LocalReportStore {
	return &LocalReportStore{FS: fsys}
}

// Save writes the report, assigning an id when it has none.
func (s *LocalReportStore) Save(report models.RunReport) (models.RunReport, error) {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if _, err := uuid.Parse(report.ID); err != nil {
		return models.RunReport{}, fmt.Errorf("invalid report id %q: %w", report.ID, err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return models.RunReport{}, err
	}
	if err := writeFile(s.FS, reportPath(report.ID), data); err != nil {
		return models.RunReport{}, fmt.Errorf("write report: %w", err)
	}
	return report, nil
}

// Get loads the report with the given id.
func (s *LocalReportStore) Get(id string) (models.RunReport, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.RunReport{}, fmt.Errorf("invalid report id %q: %w", id, err)
	}
	data, err := readFile(s.FS, reportPath(id))
	if err != nil {
		return models.RunReport{}, fmt.Errorf("read report %q: %w", id, err)
	}
	var report models.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return models.RunReport{}, fmt.Errorf("decode report %q: %w", id, err)
	}
	return report, nil
}

// List returns every stored report, oldest first.
func (s *LocalReportStore) List() ([]models.RunReport, error) {
	entries, err := s.FS.ReadDir(reportsDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var reports []models.RunReport
	var errs []error
	for _, entry := range entries {
		id, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok || entry.IsDir() {
			continue
		}
		report, err := s.Get(id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reports = append(reports, report)
	}

	sort.Slice(reports, func(i, j int) bool {
		return reports[i].StartedAt.Before(reports[j].StartedAt)
	})
	return reports, errors.Join(errs...)
}

func reportPath(id string) string {
	return path.Join(reportsDir, id+".json")
}
