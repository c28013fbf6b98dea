// Package logging configures the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
	"strings"

	charmlog "github.com/charmbracelet/log"
	"golang.org/x/term"

	"github.com/codeready-toolchain/deepcite/internal/config"
)

// Setup installs the global slog logger, backed by charmbracelet/log. A
// terminal gets the colored, human-readable format; anything else (a file,
// a pipe, a container log collector) gets one JSON object per line.
func Setup(cfg config.LoggingConfig) {
	handler := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
	})
	handler.SetLevel(parseLevel(cfg.Level))

	if cfg.JSON || !isTerminal() {
		handler.SetFormatter(charmlog.JSONFormatter)
	}

	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) charmlog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return charmlog.DebugLevel
	case "warn", "warning":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// ForSession returns a logger pre-bound with the session_id field, so every
// call site inside a single run doesn't have to repeat it.
func ForSession(sessionID string) *slog.Logger {
	return slog.Default().With("session_id", sessionID)
}

// ForTask returns a logger pre-bound with session_id and task_id.
func ForTask(sessionID string, taskID int64) *slog.Logger {
	return slog.Default().With("session_id", sessionID, "task_id", taskID)
}
