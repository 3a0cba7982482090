package manifest

import "fmt"

// ManifestError reports a manifest that is missing or malformed.
type ManifestError struct {
	Source     string
	Dependency string
	Message    string
	Err        error
}

func (e *ManifestError) Error() string {
	if e == nil {
		return ""
	}
	msg := "manifest"
	if e.Source != "" {
		msg += " " + e.Source
	}
	if e.Dependency != "" {
		msg += fmt.Sprintf(": dependency %q", e.Dependency)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ManifestError) Unwrap() error { return e.Err }

func invalidf(dependency, format string, args ...any) error {
	return &ManifestError{Dependency: dependency, Message: fmt.Sprintf(format, args...)}
}
