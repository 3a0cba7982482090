package models

import (
	"fmt"
	"time"
)

// RunStatus captures the overall outcome of a pipeline run.
type RunStatus string

// Supported run statuses.
const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// CleanMode selects which trees `clean` removes.
type CleanMode string

// Supported clean modes.
const (
	CleanOutput CleanMode = "output"
	CleanBuild  CleanMode = "build"
	CleanSource CleanMode = "src"
	CleanAll    CleanMode = "all"
)

// CleanModes lists every accepted clean mode.
var CleanModes = []CleanMode{CleanOutput, CleanBuild, CleanSource, CleanAll}

// ParseCleanMode validates a clean mode argument.
func ParseCleanMode(value string) (CleanMode, error) {
	for _, mode := range CleanModes {
		if string(mode) == value {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unknown clean mode %q (want one of output, build, src, all)", value)
}

// Includes reports whether cleaning with m removes the trees of other.
func (m CleanMode) Includes(other CleanMode) bool {
	return m == other || m == CleanAll
}

// Failure records why a dependency did not complete.
type Failure struct {
	Dependency string `json:"dependency"`
	Stage      string `json:"stage,omitempty"`
	Reason     string `json:"reason"`
}

// RunTarget describes what a run built for.
type RunTarget struct {
	Platform  string `json:"platform"`
	Host      string `json:"host"`
	Toolchain string `json:"toolchain,omitempty"`
	Debug     bool   `json:"debug"`
	SharedCRT bool   `json:"shared_crt"`
}

// RunReport is persisted after every run.
type RunReport struct {
	ID         string    `json:"id"`
	Status     RunStatus `json:"status"`
	Target     RunTarget `json:"target"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Succeeded      []string  `json:"succeeded"`
	Satisfied      []string  `json:"satisfied,omitempty"`
	Skipped        []string  `json:"skipped,omitempty"`
	FailedOptional []Failure `json:"failed_optional"`
	FailedRequired []Failure `json:"failed_required"`
}
