package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/procflow/pkg/notifications"
)

// DefaultNotificationStream is the redis stream notifications are appended to.
const DefaultNotificationStream = "procflow:notifications"

// NewNotifier selects the notification sender. The returned close function is never nil.
func NewNotifier(ctx context.Context, kind, redisURL string, logger *slog.Logger) (notifications.Sender, func() error, error) {
	noop := func() error { return nil }

	switch kind {
	case "log", "":
		return notifications.NewLogSender(logger), noop, nil
	case "redis":
		sender, err := notifications.NewRedisSenderFromURL(ctx, redisURL, DefaultNotificationStream, logger)
		if err != nil {
			return nil, noop, fmt.Errorf("failed to create redis notifier: %w", err)
		}

		return sender, sender.Close, nil
	default:
		return nil, noop, fmt.Errorf("unsupported notifier %q", kind)
	}
}
