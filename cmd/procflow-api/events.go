package main

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/procflow/pkg/channels/kafka"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
)

// TailEventsCommand logs the lifecycle events relayed to Kafka.
func TailEventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tail-events",
		Usage: "Log workflow lifecycle events relayed to Kafka",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "kafka-brokers",
				Usage:    "Comma separated Kafka brokers",
				Required: true,
				Sources:  cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "topic",
				Usage:   "Topic the events are relayed to",
				Value:   events.Topic,
				Sources: cli.EnvVars("EVENTS_TOPIC"),
			},
			&cli.StringSliceFlag{
				Name:  "type",
				Usage: "Only log these event types (repeatable)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("event_tail")

			pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), kafka.ParseBrokers(command.String("kafka-brokers")), serviceName+"-tail")
			if err != nil {
				return fmt.Errorf("failed to create Kafka subscriber: %w", err)
			}

			// only the subscriber is used
			_ = pub.Close()

			consumer := eventbus.NewConsumer(sub, command.String("topic"), logger, otelhelper.NoopTracer())
			defer func() {
				if err := consumer.Close(); err != nil {
					logger.Error("Failed to close consumer", "error", err)
				}
			}()

			printEvent := func(ctx context.Context, event events.Event) error {
				logger.InfoContext(ctx, "Workflow event",
					"event_type", event.Type,
					"instance_id", event.InstanceID,
					"definition_id", event.DefinitionID,
					"step_id", event.StepID,
					"status", event.Status,
					"performed_by", event.PerformedBy,
				)

				return nil
			}

			types := command.StringSlice("type")
			if len(types) == 0 {
				consumer.HandleAll(printEvent)
			}

			for _, t := range types {
				if err := consumer.Handle(events.EventType(t), printEvent); err != nil {
					return err
				}
			}

			if err := consumer.Subscribe(ctx); err != nil {
				return err
			}

			<-ctx.Done()

			return nil
		},
	}
}
