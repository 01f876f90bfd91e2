package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/procflow/pkg/cmd"
	"github.com/dukex/procflow/pkg/eventbus"
	"github.com/dukex/procflow/pkg/events"
	"github.com/dukex/procflow/pkg/log"
	"github.com/dukex/procflow/pkg/otelhelper"
	"github.com/dukex/procflow/pkg/services"
	"github.com/dukex/procflow/pkg/timeouts"
	"github.com/dukex/procflow/pkg/workflow"
	"github.com/jonboulle/clockwork"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort  = 9091
	serviceName  = "procflow-api"
	shutdownWait = 10 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Run approval and automation workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Persistence URL (file://path, postgres://..., memory://), required to serve",
				Sources: cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event relay provider (gochannel, kafka, none)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "notifier",
				Usage:   "Notification sender (log, redis)",
				Value:   "log",
				Sources: cli.EnvVars("NOTIFIER"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL used by the redis notifier",
				Value:   "redis://localhost:6379/0",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "definitions-path",
				Usage:   "Directory of JSON workflow definitions registered at start-up",
				Sources: cli.EnvVars("DEFINITIONS_PATH"),
			},
			&cli.StringFlag{
				Name:    "timeout-reconcile-schedule",
				Usage:   "Cron schedule of the overdue timeout sweep",
				Value:   timeouts.DefaultReconcileSchedule,
				Sources: cli.EnvVars("TIMEOUT_RECONCILE_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "max-auto-advance",
				Usage:   "Maximum steps processed by a single call",
				Value:   workflow.DefaultMaxAutoAdvance,
				Sources: cli.EnvVars("MAX_AUTO_ADVANCE"),
			},
			&cli.DurationFlag{
				Name:    "action-timeout",
				Usage:   "Timeout of a single action handler invocation",
				Value:   workflow.DefaultActionTimeout,
				Sources: cli.EnvVars("ACTION_TIMEOUT"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			TailEventsCommand(),
			ValidateDefinitionsCommand(),
		},
		Action: runAPI,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAPI(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	if command.String("database-url") == "" {
		return errors.New("database-url is required")
	}

	logger := log.WithModule("api")
	logger.InfoContext(ctx, "Initializing procflow API")

	tracer := otelhelper.NoopTracer()

	if command.Bool("otel-enabled") {
		t, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("Failed to shut down tracer provider", "error", err)
			}
		}()

		tracer = t
	}

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := store.Close(context.Background()); err != nil {
			logger.Error("Failed to close persistence", "error", err)
		}
	}()

	notifier, closeNotifier, err := cmd.NewNotifier(ctx, command.String("notifier"), command.String("redis-url"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := closeNotifier(); err != nil {
			logger.Error("Failed to close notifier", "error", err)
		}
	}()

	clock := clockwork.NewRealClock()
	definitions := services.NewDefinitions(store, clock, logger)
	actions := cmd.NewRegistry(logger, &http.Client{Timeout: command.Duration("action-timeout")})

	engine, err := workflow.NewEngine(workflow.Dependencies{
		Definitions: definitions,
		Instances:   store.InstanceRepository(),
		Actions:     actions,
		Notifier:    notifier,
		Clock:       clock,
		Tracer:      tracer,
		Logger:      logger,
	}, workflow.Config{
		MaxAutoAdvance: int(command.Int("max-auto-advance")),
		ActionTimeout:  command.Duration("action-timeout"),
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	forwarder, subscriber, err := cmd.NewEventRelay(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
	if err != nil {
		return err
	}

	if forwarder != nil {
		engine.Subscribe(forwarder.Handle)

		defer func() {
			if err := forwarder.Close(); err != nil {
				logger.Error("Failed to close event relay", "error", err)
			}
		}()

		auditLogger := log.WithModule("event_audit")
		audit := eventbus.NewConsumer(subscriber, "", auditLogger, tracer)
		audit.HandleAll(func(ctx context.Context, event events.Event) error {
			auditLogger.DebugContext(ctx, "Relayed workflow event",
				"event_type", event.Type, "instance_id", event.InstanceID, "step_id", event.StepID)

			return nil
		})

		if err := audit.Subscribe(ctx); err != nil {
			return fmt.Errorf("failed to subscribe to relayed events: %w", err)
		}

		defer func() {
			if err := audit.Close(); err != nil {
				logger.Error("Failed to close event consumer", "error", err)
			}
		}()
	}

	if path := command.String("definitions-path"); path != "" {
		if _, err := cmd.LoadDefinitions(ctx, definitions, path, logger); err != nil {
			return err
		}
	}

	if _, err := engine.RestoreTimers(ctx); err != nil {
		return err
	}

	reconciler, err := timeouts.NewReconciler(engine, command.String("timeout-reconcile-schedule"), logger)
	if err != nil {
		return err
	}

	if err := reconciler.Start(ctx); err != nil {
		return err
	}

	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()

		reconciler.Stop(stopCtx)
	}()

	api := NewAPI(logger, store, definitions, engine, actions)

	if err := api.Start(ctx, int(command.Int("port"))); err != nil {
		logger.ErrorContext(ctx, "API server stopped", "error", err)

		return err
	}

	return nil
}
