// Package notify delivers transient user notifications.
package notify

import (
	"context"
	"log/slog"

	"github.com/couchcryptid/civicfix-service/internal/domain"
)

// LogNotifier writes notifications to the structured log. It stands in for a
// push channel; the HTTP layer returns the same text to the caller.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs n. Errors are logged at warn level, everything else at info.
func (n *LogNotifier) Notify(ctx context.Context, note domain.Notification) {
	level := slog.LevelInfo
	if note.Level == domain.NotifyError {
		level = slog.LevelWarn
	}
	n.logger.Log(ctx, level, "user notification",
		"level", string(note.Level),
		"user_id", note.UserID,
		"message", note.Message,
	)
}
