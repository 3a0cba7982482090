package setup

import (
	"log/slog"

	"github.com/cochaviz/depfetch/internal/logging"
)

var packageLogger = logging.Discard()

// SetLogger configures the logger used while loading settings. A nil logger
// silences it.
func SetLogger(logger *slog.Logger) {
	if logger == nil {
		packageLogger = logging.Discard()
		return
	}
	packageLogger = logger
}

func getLogger() *slog.Logger {
	return logging.Ensure(packageLogger)
}
