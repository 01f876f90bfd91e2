package notifications

import (
	"context"
	"log/slog"
)

// LogSender writes notifications to the structured log. It is the development default.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger.With("module", "notifications")}
}

func (s *LogSender) Send(ctx context.Context, userID, template string, variables map[string]any, meta Meta) error {
	message, err := Render(template, variables, meta)
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Notification sent",
		"recipient", userID,
		"kind", meta.Kind,
		"instance_id", meta.InstanceID,
		"step_id", meta.StepID,
		"message", message,
	)

	return nil
}
