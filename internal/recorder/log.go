package recorder

import (
	"context"
	"log/slog"
)

// LogRecorder writes each event as an info-level log line.
type LogRecorder struct {
	logger *slog.Logger
}

var _ Recorder = (*LogRecorder)(nil)

// NewLogRecorder logs to l, or to slog.Default when l is nil.
func NewLogRecorder(l *slog.Logger) *LogRecorder {
	if l == nil {
		l = slog.Default()
	}
	return &LogRecorder{logger: l}
}

// Record implements [Recorder].
func (r *LogRecorder) Record(ctx context.Context, ev Event) error {
	r.logger.InfoContext(ctx, "recorder: transcript",
		"guild_id", ev.GuildID,
		"user_id", ev.UserID,
		"text", ev.Text,
		"triggers", ev.MatchedTriggers,
	)
	return nil
}
