package deps

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cochaviz/depfetch/internal/models"
)

// Write prints the end-of-run summary.
func (s Summary) Write(w io.Writer) error {
	var b strings.Builder
	b.WriteString("\nSUMMARY\n\n")

	b.WriteString("The following dependencies were successfully added or updated:\n\n")
	if len(s.Succeeded) > 0 {
		b.WriteString(strings.Join(s.Succeeded, " "))
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if len(s.Satisfied) > 0 {
		b.WriteString("The following dependencies were already up to date:\n\n")
		b.WriteString(strings.Join(s.Satisfied, " "))
		b.WriteString("\n\n")
	}

	if len(s.FailedOptional) > 0 {
		b.WriteString("The following OPTIONAL dependencies failed (and can be ignored; the SDK can still be built, but with reduced functionality or performance):\n\n")
		writeFailures(&b, s.FailedOptional)
	}
	if len(s.FailedRequired) > 0 {
		b.WriteString("The following REQUIRED dependencies failed (and must be fixed before the SDK can be built):\n\n")
		writeFailures(&b, s.FailedRequired)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeFailures(b *strings.Builder, failures []Failure) {
	for _, failure := range failures {
		fmt.Fprintf(b, "%s\n%v\n\n", failure.Dependency, failure.Err)
	}
}

func (s *PipelineService) saveReport(logger *slog.Logger, summary Summary, request Request, abortErr error) {
	if s.Reports == nil {
		return
	}
	report := summary.Report(request, abortErr)
	if _, err := s.Reports.Save(report); err != nil {
		logger.Warn("failed to save run report", "error", err)
		return
	}
	logger.Debug("run report saved", "run_id", report.ID)
}

// Report converts the summary into its persisted form.
func (s Summary) Report(request Request, abortErr error) models.RunReport {
	status := models.RunStatusSucceeded
	switch {
	case errors.Is(abortErr, context.Canceled):
		status = models.RunStatusCancelled
	case abortErr != nil || s.Failed():
		status = models.RunStatusFailed
	}

	toolchainName := ""
	if request.Toolchain != 0 {
		toolchainName = fmt.Sprintf("vs%d", request.Toolchain)
	}

	return models.RunReport{
		ID:     s.RunID,
		Status: status,
		Target: models.RunTarget{
			Platform:  string(request.Platform),
			Host:      string(s.Host),
			Toolchain: toolchainName,
			Debug:     request.Debug,
			SharedCRT: request.SharedCRT,
		},
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
		Succeeded:      append([]string{}, s.Succeeded...),
		Satisfied:      s.Satisfied,
		Skipped:        s.Skipped,
		FailedOptional: reportFailures(s.FailedOptional),
		FailedRequired: reportFailures(s.FailedRequired),
	}
}

func reportFailures(failures []Failure) []models.Failure {
	out := make([]models.Failure, 0, len(failures))
	for _, failure := range failures {
		out = append(out, models.Failure{
			Dependency: failure.Dependency,
			Stage:      string(failure.Stage()),
			Reason:     failure.Err.Error(),
		})
	}
	return out
}
