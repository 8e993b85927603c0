package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/rentflow/pkg/cmd"
	"github.com/dukex/rentflow/pkg/dispatcher"
	"github.com/dukex/rentflow/pkg/engine"
	"github.com/dukex/rentflow/pkg/executor"
	"github.com/dukex/rentflow/pkg/log"
	"github.com/dukex/rentflow/pkg/otelhelper"
	"github.com/dukex/rentflow/pkg/recorder"
	"github.com/dukex/rentflow/pkg/services"
	"github.com/dukex/rentflow/pkg/triggers"
	"github.com/gofiber/fiber/v3"
	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 30 * time.Second

func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:    "serve",
		Aliases: []string{"s"},
		Usage:   "Start the API, the trigger evaluator and the event dispatcher",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (postgres://... or file://dir)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the distributed lock and the outbox (in-process lock when empty)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "How often time based triggers are evaluated",
				Value:   triggers.DefaultTick,
				Sources: cli.EnvVars("TICK_INTERVAL"),
			},
			&cli.DurationFlag{
				Name:    "schedule-grace",
				Usage:   "How late a schedule may be noticed and still fire (defaults to the tick interval)",
				Sources: cli.EnvVars("SCHEDULE_GRACE"),
			},
			&cli.IntFlag{
				Name:    "evaluator-concurrency",
				Usage:   "How many workflows one tick evaluates at once",
				Value:   triggers.DefaultConcurrency,
				Sources: cli.EnvVars("EVALUATOR_CONCURRENCY"),
			},
			&cli.IntFlag{
				Name:    "shard-index",
				Usage:   "Shard owned by this evaluator instance",
				Sources: cli.EnvVars("SHARD_INDEX"),
			},
			&cli.IntFlag{
				Name:    "shard-count",
				Usage:   "Number of evaluator instances",
				Value:   1,
				Sources: cli.EnvVars("SHARD_COUNT"),
			},
			&cli.StringFlag{
				Name:    "timezone",
				Usage:   "Timezone that defines the calendar day for date based triggers",
				Value:   "UTC",
				Sources: cli.EnvVars("TIMEZONE"),
			},
			&cli.DurationFlag{
				Name:    "execution-timeout",
				Usage:   "Maximum duration of one workflow execution",
				Value:   engine.DefaultTimeout,
				Sources: cli.EnvVars("EXECUTION_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "collaborators",
				Usage:   "Action collaborators (log, outbox)",
				Value:   "log",
				Sources: cli.EnvVars("COLLABORATORS"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("rentflow-serve")

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			return serve(ctx, command, logger)
		},
	}
}

func serve(ctx context.Context, command *cli.Command, logger *slog.Logger) error {
	logger.InfoContext(ctx, "Initializing Rentflow")

	shard := triggers.Shard{Index: command.Int("shard-index"), Count: command.Int("shard-count")}
	if err := shard.Validate(); err != nil {
		return err
	}

	location, err := time.LoadLocation(command.String("timezone"))
	if err != nil {
		return fmt.Errorf("invalid timezone: %w", err)
	}

	tracer, shutdownTracer, err := newTracer(ctx, command.Bool("otel-enabled"))
	if err != nil {
		return err
	}

	defer func() {
		if err := shutdownTracer(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer provider", "error", err)
		}
	}()

	persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		if err := persistence.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	redisClient, err := cmd.NewRedisClient(command.String("redis-url"))
	if err != nil {
		return err
	}

	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
			}
		}()
	}

	collaborators, err := cmd.NewCollaborators(command.String("collaborators"), redisClient, logger)
	if err != nil {
		return err
	}

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), logger)
	if err != nil {
		return err
	}

	defer func() {
		if err := eventBus.Close(); err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	actionExecutor := executor.New(collaborators, logger, executor.WithTracer(tracer))
	executionRecorder := recorder.New(persistence.ExecutionRepository(), persistence.WorkflowRepository(), logger)

	workflowEngine := engine.New(
		cmd.NewLocker(redisClient),
		executionRecorder,
		actionExecutor,
		logger,
		engine.WithTimeout(command.Duration("execution-timeout")),
		engine.WithPublisher(eventBus),
		engine.WithTracer(tracer),
	)

	eventDispatcher := dispatcher.New(persistence.WorkflowRepository(), workflowEngine, logger, dispatcher.WithTracer(tracer))
	if err := eventDispatcher.Subscribe(eventBus); err != nil {
		return fmt.Errorf("failed to register event handlers: %w", err)
	}

	if err := eventBus.Subscribe(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to the event bus: %w", err)
	}

	evaluator := triggers.NewEvaluator(
		persistence.WorkflowRepository(),
		persistence.EntityRepository(),
		persistence.LedgerRepository(),
		workflowEngine,
		logger,
		triggers.WithTick(command.Duration("tick-interval")),
		triggers.WithGrace(command.Duration("schedule-grace")),
		triggers.WithConcurrency(command.Int("evaluator-concurrency")),
		triggers.WithShard(shard),
		triggers.WithLocation(location),
	)

	if err := evaluator.Start(ctx); err != nil {
		return err
	}

	api := NewAPI(
		logger,
		services.NewWorkflow(persistence, logger),
		workflowEngine,
		executionRecorder,
		eventDispatcher,
	)

	err = api.Start(command.Int("port"), fiber.ListenConfig{
		GracefulContext:       ctx,
		DisableStartupMessage: true,
	})
	if err != nil {
		logger.ErrorContext(ctx, "API server stopped", "error", err)
	}

	logger.InfoContext(ctx, "Shutting down Rentflow")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	evaluator.Stop(shutdownCtx)
	eventDispatcher.Wait()
	workflowEngine.Wait()

	return err
}

// nolint:ireturn
func newTracer(ctx context.Context, enabled bool) (trace.Tracer, otelhelper.ShutdownFunc, error) {
	if !enabled {
		return otelhelper.NoopTracer(), func(context.Context) error { return nil }, nil
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, "rentflow")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	return tracer, shutdown, nil
}
