package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream notifications are appended to.
const DefaultStream = "procflow:notifications"

// RedisSender appends rendered notifications to a Redis stream consumed by the delivery service.
type RedisSender struct {
	client redis.UniversalClient
	stream string
	logger *slog.Logger
}

// NewRedisSender creates a sender writing to stream. An empty stream uses DefaultStream.
func NewRedisSender(client redis.UniversalClient, stream string, logger *slog.Logger) *RedisSender {
	if stream == "" {
		stream = DefaultStream
	}

	return &RedisSender{
		client: client,
		stream: stream,
		logger: logger.With("module", "redis_notifications"),
	}
}

// NewRedisSenderFromURL connects to the Redis server at url and verifies the connection.
func NewRedisSenderFromURL(ctx context.Context, url, stream string, logger *slog.Logger) (*RedisSender, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewRedisSender(client, stream, logger), nil
}

func (s *RedisSender) Send(ctx context.Context, userID, template string, variables map[string]any, meta Meta) error {
	message, err := Render(template, variables, meta)
	if err != nil {
		return err
	}

	variablesJSON, err := json.Marshal(variables)
	if err != nil {
		return fmt.Errorf("failed to marshal notification variables: %w", err)
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]any{
			"recipient":     userID,
			"kind":          string(meta.Kind),
			"instance_id":   meta.InstanceID,
			"definition_id": meta.DefinitionID,
			"step_id":       meta.StepID,
			"step_name":     meta.StepName,
			"message":       message,
			"variables":     string(variablesJSON),
			"created_at":    time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("failed to append notification to %s: %w", s.stream, err)
	}

	s.logger.DebugContext(ctx, "Notification queued", "recipient", userID, "stream_id", id, "instance_id", meta.InstanceID)

	return nil
}

// Close releases the Redis connection.
func (s *RedisSender) Close() error {
	return s.client.Close()
}
